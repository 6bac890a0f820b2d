package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"viewsync/internal/core/apperror"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint bool
	}{
		{"foreign key", &pgconn.PgError{Code: "23503", ConstraintName: "fk_dependents_owner"}, true},
		{"unique", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"}), true},
		{"serialization", &pgconn.PgError{Code: "40001"}, false},
		{"plain", errors.New("conn reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.err)
			assert.Equal(t, tt.constraint, apperror.IsConstraintViolation(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestSession_Dialect(t *testing.T) {
	s := NewSession(&TxManager{})
	assert.True(t, s.Dialect().SupportsReturningColumns())
	assert.Equal(t, "postgres", s.Dialect().Name)
}
