// Package update holds the per-operation state shared by flushers, loaders and
// cascade deleters, and the store session contract they execute against.
package update

import (
	"context"

	"github.com/Masterminds/squirrel"

	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
)

// Row is one result row keyed by column name or alias.
type Row = map[string]any

// Statement is a rendered statement with '?' placeholders.
// Sessions rebind placeholders for their driver.
type Statement struct {
	SQL  string
	Args []any
}

// Dialect describes store capabilities the engine adapts to.
type Dialect struct {
	Name             string
	ReturningColumns bool
}

// SupportsReturningColumns reports whether DELETE ... RETURNING is available.
func (d Dialect) SupportsReturningColumns() bool { return d.ReturningColumns }

// Session is the store handle borrowed for one transaction.
// Implementations must not begin or commit transactions.
type Session interface {
	// ExecuteUpdate runs a statement and returns the affected row count.
	ExecuteUpdate(ctx context.Context, st Statement) (int64, error)
	// Query runs a statement returning rows, including DELETE ... RETURNING.
	Query(ctx context.Context, st Statement) ([]Row, error)
	// GetReferenceOrLoad returns a managed reference to the row identified by id.
	GetReferenceOrLoad(ctx context.Context, t *metamodel.ManagedType, id identity.Identity) (*EntityRef, error)
	// Merge persists the entity's set columns, inserting or updating by identifier.
	Merge(ctx context.Context, e *EntityRef) error
	// RemoveEntity deletes the entity as a whole, leaving dependents to the store's own cascade rules.
	RemoveEntity(ctx context.Context, e *EntityRef) error
	Dialect() Dialect
}

// BatchSession is a Session that can send several statements in one round trip.
type BatchSession interface {
	Session
	// ExecuteBatch runs sts in order and returns the affected row count of each.
	// A session sending statements one at a time stops after the first count
	// other than 1, returning the counts so far.
	ExecuteBatch(ctx context.Context, sts []Statement) ([]int64, error)
}

// Builder returns the statement builder used for every statement of the engine.
func Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
}

// Build renders a squirrel builder into a Statement.
func Build(b squirrel.Sqlizer) (Statement, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: sql, Args: args}, nil
}
