// Package sqldb is the database/sql store of the engine. It serves SQLite
// through mattn/go-sqlite3 and PostgreSQL through lib/pq.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"viewsync/internal/update"
	"viewsync/internal/update/flush"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config selects a driver and data source.
type Config struct {
	Driver string
	DSN    string
}

// DB is an open database together with its dialect.
type DB struct {
	*sql.DB
	driver      string
	placeholder squirrel.PlaceholderFormat
	dialect     update.Dialect
}

// Open opens and pings the database described by cfg.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	db := &DB{driver: cfg.Driver}
	switch cfg.Driver {
	case DriverSQLite:
		db.placeholder = squirrel.Question
		db.dialect = update.Dialect{Name: "sqlite"}
	case DriverPostgres:
		db.placeholder = squirrel.Dollar
		db.dialect = update.Dialect{Name: "postgres", ReturningColumns: true}
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	var err error
	if db.DB, err = sql.Open(cfg.Driver, cfg.DSN); err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		// An in-memory database exists per connection.
		db.DB.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.DB.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// Driver returns the driver name.
func (db *DB) Driver() string { return db.driver }

// Dialect returns the engine dialect of the database.
func (db *DB) Dialect() update.Dialect { return db.dialect }

// Capabilities reports cleanup the schema performs on its own. Neither
// SQLite without foreign_keys nor a plain PostgreSQL schema cleans join or
// collection tables, so the engine deletes their rows explicitly.
func (db *DB) Capabilities() flush.StoreCapabilities {
	return flush.StoreCapabilities{}
}
