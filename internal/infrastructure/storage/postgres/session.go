package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"viewsync/internal/core/apperror"
	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
	"viewsync/internal/update"
	"viewsync/internal/update/flush"
)

// Capabilities describes what a PostgreSQL schema created for the engine
// cleans up on its own. Join and collection tables are not assumed to cascade.
var Capabilities = flush.StoreCapabilities{}

// Session executes engine statements on the transaction carried by the context.
type Session struct {
	txm *TxManager
}

var _ update.BatchSession = (*Session)(nil)

// NewSession creates a session over txm.
func NewSession(txm *TxManager) *Session {
	return &Session{txm: txm}
}

func (s *Session) Dialect() update.Dialect {
	return update.Dialect{Name: "postgres", ReturningColumns: true}
}

func (s *Session) ExecuteUpdate(ctx context.Context, st update.Statement) (int64, error) {
	sql, err := squirrel.Dollar.ReplacePlaceholders(st.SQL)
	if err != nil {
		return 0, fmt.Errorf("rebind: %w", err)
	}
	ctx, span := startSpan(ctx, "exec", sql)
	defer span.End()

	tag, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, st.Args...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, translate(err)
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

func (s *Session) Query(ctx context.Context, st update.Statement) ([]update.Row, error) {
	sql, err := squirrel.Dollar.ReplacePlaceholders(st.SQL)
	if err != nil {
		return nil, fmt.Errorf("rebind: %w", err)
	}
	ctx, span := startSpan(ctx, "query", sql)
	defer span.End()

	var rows []map[string]any
	if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &rows, sql, st.Args...); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, translate(err)
	}
	span.SetAttributes(attribute.Int("db.rows", len(rows)))
	return rows, nil
}

// GetReferenceOrLoad reads the row; a missing row is ENTITY_NOT_FOUND.
func (s *Session) GetReferenceOrLoad(ctx context.Context, t *metamodel.ManagedType, id identity.Identity) (*update.EntityRef, error) {
	return update.LoadReference(ctx, s, t, id)
}

// Merge inserts a transient entity or updates the changed columns of a persisted one.
func (s *Session) Merge(ctx context.Context, e *update.EntityRef) error {
	return update.ExecuteMerge(ctx, s, e)
}

func (s *Session) RemoveEntity(ctx context.Context, e *update.EntityRef) error {
	st, err := update.RemoveStatement(e)
	if err != nil {
		return err
	}
	n, err := s.ExecuteUpdate(ctx, st)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.NewEntityNotFound(e.Type.Name, e.ID.String())
	}
	return nil
}

func startSpan(ctx context.Context, name, sql string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", sql),
	))
}

// translate maps integrity violations to CONSTRAINT_VIOLATION.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503", "23505":
			return apperror.NewConstraintViolation(pgErr.ConstraintName, err).
				WithDetail("table", pgErr.TableName).
				WithDetail("sqlstate", pgErr.Code)
		}
	}
	return err
}
