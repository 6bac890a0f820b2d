// Package tx defines transaction demarcation for callers of the engine.
// The engine itself never begins or commits; it runs inside whatever
// transaction the caller's Manager placed in the context.
package tx

import (
	"context"
)

// Manager runs a function inside a store transaction.
// Implementations live in infrastructure/storage/postgres and infrastructure/storage/sqldb.
type Manager interface {
	// RunInTransaction executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
