// Package metrics exposes engine statement and operation counters.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"viewsync/internal/core/apperror"
	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
	"viewsync/internal/update"
)

// Keys for engine metrics.
const (
	StatementsTotalKey          = "viewsync_statements_total"
	StatementErrorsTotalKey     = "viewsync_statement_errors_total"
	StatementDurationSecondsKey = "viewsync_statement_duration_seconds"
	RowsAffectedTotalKey        = "viewsync_rows_affected_total"
	OperationsTotalKey          = "viewsync_operations_total"
)

// Collectors for engine metrics. Statement metrics are labeled by session
// call kind: exec, query, batch, merge or remove.
var (
	StatementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: StatementsTotalKey,
		Help: "Cumulative number of statements issued by the engine.",
	}, []string{"kind"})
	StatementErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: StatementErrorsTotalKey,
		Help: "Cumulative number of statements that failed.",
	}, []string{"kind"})
	StatementDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    StatementDurationSecondsKey,
		Help:    "Duration of engine statements.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"kind"})
	RowsAffectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: RowsAffectedTotalKey,
		Help: "Cumulative number of rows written, deleted or returned.",
	}, []string{"kind"})
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: OperationsTotalKey,
		Help: "Cumulative number of flush and remove operations by outcome.",
	}, []string{"operation", "outcome"})
)

// Collectors returns every engine collector.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		StatementsTotal,
		StatementErrorsTotal,
		StatementDurationSeconds,
		RowsAffectedTotal,
		OperationsTotal,
	}
}

// Register registers Collectors with reg, ignoring collectors already registered.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveOperation counts one finished operation. The outcome is "ok" or the
// error code, "error" for errors without one.
func ObserveOperation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if appErr, ok := apperror.AsAppError(err); ok {
			outcome = appErr.Code
		}
	}
	OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// Session instruments another session.
type Session struct {
	next update.Session
}

var _ update.BatchSession = (*Session)(nil)

// Wrap instruments next.
func Wrap(next update.Session) *Session {
	return &Session{next: next}
}

func observe(kind string, start time.Time, rows int64, err error) {
	StatementsTotal.WithLabelValues(kind).Inc()
	StatementDurationSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		StatementErrorsTotal.WithLabelValues(kind).Inc()
		return
	}
	RowsAffectedTotal.WithLabelValues(kind).Add(float64(rows))
}

func (s *Session) ExecuteUpdate(ctx context.Context, st update.Statement) (int64, error) {
	start := time.Now()
	n, err := s.next.ExecuteUpdate(ctx, st)
	observe("exec", start, n, err)
	return n, err
}

func (s *Session) Query(ctx context.Context, st update.Statement) ([]update.Row, error) {
	start := time.Now()
	rows, err := s.next.Query(ctx, st)
	observe("query", start, int64(len(rows)), err)
	return rows, err
}

// ExecuteBatch forwards to the wrapped session, running the statements one
// by one when it cannot batch.
func (s *Session) ExecuteBatch(ctx context.Context, sts []update.Statement) ([]int64, error) {
	start := time.Now()
	next, ok := s.next.(update.BatchSession)
	if !ok {
		counts := make([]int64, 0, len(sts))
		for _, st := range sts {
			n, err := s.ExecuteUpdate(ctx, st)
			if err != nil {
				return nil, err
			}
			counts = append(counts, n)
			if n != 1 {
				break
			}
		}
		return counts, nil
	}
	counts, err := next.ExecuteBatch(ctx, sts)
	var rows int64
	for _, n := range counts {
		rows += n
	}
	observe("batch", start, rows, err)
	return counts, err
}

func (s *Session) GetReferenceOrLoad(ctx context.Context, t *metamodel.ManagedType, id identity.Identity) (*update.EntityRef, error) {
	return s.next.GetReferenceOrLoad(ctx, t, id)
}

func (s *Session) Merge(ctx context.Context, e *update.EntityRef) error {
	start := time.Now()
	err := s.next.Merge(ctx, e)
	observe("merge", start, 1, err)
	return err
}

func (s *Session) RemoveEntity(ctx context.Context, e *update.EntityRef) error {
	start := time.Now()
	err := s.next.RemoveEntity(ctx, e)
	observe("remove", start, 1, err)
	return err
}

func (s *Session) Dialect() update.Dialect { return s.next.Dialect() }

// PoolGauges reports connection pool usage read from stats on every scrape.
func PoolGauges(stats func() (total, acquired, idle int32)) []prometheus.Collector {
	gauge := func(name, help string, pick func(total, acquired, idle int32) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(pick(stats()))
		})
	}
	return []prometheus.Collector{
		gauge("viewsync_pool_connections", "Open pool connections.",
			func(total, _, _ int32) int32 { return total }),
		gauge("viewsync_pool_acquired_connections", "Pool connections in use.",
			func(_, acquired, _ int32) int32 { return acquired }),
		gauge("viewsync_pool_idle_connections", "Idle pool connections.",
			func(_, _, idle int32) int32 { return idle }),
	}
}
