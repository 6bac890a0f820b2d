package sqldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"viewsync/internal/core/apperror"
	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
	"viewsync/internal/update"
)

// Session executes engine statements on the transaction carried by the context.
type Session struct {
	txm *TxManager
}

var _ update.Session = (*Session)(nil)

// NewSession creates a session over txm.
func NewSession(txm *TxManager) *Session {
	return &Session{txm: txm}
}

func (s *Session) Dialect() update.Dialect { return s.txm.db.dialect }

func (s *Session) rebind(sql string) (string, error) {
	out, err := s.txm.db.placeholder.ReplacePlaceholders(sql)
	if err != nil {
		return "", fmt.Errorf("rebind: %w", err)
	}
	return out, nil
}

func (s *Session) ExecuteUpdate(ctx context.Context, st update.Statement) (int64, error) {
	sql, err := s.rebind(st.SQL)
	if err != nil {
		return 0, err
	}
	res, err := s.txm.GetQuerier(ctx).ExecContext(ctx, sql, st.Args...)
	if err != nil {
		return 0, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *Session) Query(ctx context.Context, st update.Statement) ([]update.Row, error) {
	sql, err := s.rebind(st.SQL)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := sqlscan.Select(ctx, s.txm.GetQuerier(ctx), &rows, sql, st.Args...); err != nil {
		return nil, translate(err)
	}
	for _, row := range rows {
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
	}
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

// translate maps integrity violations reported by either driver to CONSTRAINT_VIOLATION.
func translate(err error) error {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintForeignKey, sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return apperror.NewConstraintViolation(liteErr.ExtendedCode.Error(), err)
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503", "23505":
			return apperror.NewConstraintViolation(pqErr.Constraint, err).
				WithDetail("table", pqErr.Table)
		}
	}
	return err
}
