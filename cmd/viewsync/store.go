package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"viewsync/internal/infrastructure/metrics"
	"viewsync/internal/infrastructure/storage/postgres"
	"viewsync/internal/infrastructure/storage/sqldb"
	"viewsync/internal/update"
	"viewsync/internal/update/flush"
)

const driverPgx = "pgx"

// store bundles a session with the transaction runner and factory of one backend.
type store struct {
	session update.Session
	factory *flush.Factory
	run     func(ctx context.Context, fn func(ctx context.Context) error) error
	gauges  []prometheus.Collector
	close   func()
}

func openStore(ctx context.Context, driver, dsn string) (*store, error) {
	switch driver {
	case driverPgx:
		pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dsn))
		if err != nil {
			return nil, err
		}
		txm := postgres.NewTxManager(pool)
		return &store{
			session: metrics.Wrap(postgres.NewSession(txm)),
			factory: flush.NewFactory(postgres.Capabilities),
			run:     txm.RunInTransaction,
			gauges: metrics.PoolGauges(func() (int32, int32, int32) {
				s := pool.Stats()
				return s.TotalConns, s.AcquiredConns, s.IdleConns
			}),
			close: func() {
				pool.LogStats(ctx)
				pool.Close()
			},
		}, nil
	case sqldb.DriverPostgres, sqldb.DriverSQLite:
		db, err := sqldb.Open(ctx, sqldb.Config{Driver: driver, DSN: dsn})
		if err != nil {
			return nil, err
		}
		txm := sqldb.NewTxManager(db)
		return &store{
			session: metrics.Wrap(sqldb.NewSession(txm)),
			factory: flush.NewFactory(db.Capabilities()),
			run:     txm.RunInTransaction,
			close:   func() { _ = db.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}

// writeMetrics dumps engine and store collectors to path.
func writeMetrics(path string, st *store) error {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}
	for _, g := range st.gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return prometheus.WriteToTextfile(path, reg)
}
