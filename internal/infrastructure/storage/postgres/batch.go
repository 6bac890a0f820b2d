package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"viewsync/internal/update"
)

// ExecuteBatch sends every statement in one round trip and returns the
// affected row count of each, in order.
func (s *Session) ExecuteBatch(ctx context.Context, sts []update.Statement) ([]int64, error) {
	if len(sts) == 0 {
		return nil, nil
	}
	batch := &pgx.Batch{}
	for _, st := range sts {
		sql, err := squirrel.Dollar.ReplacePlaceholders(st.SQL)
		if err != nil {
			return nil, fmt.Errorf("rebind: %w", err)
		}
		batch.Queue(sql, st.Args...)
	}

	ctx, span := startSpan(ctx, "batch", sts[0].SQL)
	defer span.End()
	span.SetAttributes(attribute.Int("db.batch_size", len(sts)))

	results := s.txm.GetQuerier(ctx).SendBatch(ctx, batch)
	defer results.Close()

	counts := make([]int64, len(sts))
	for i := range sts {
		tag, err := results.Exec()
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("batch statement %d: %w", i, translate(err))
		}
		counts[i] = tag.RowsAffected()
	}
	return counts, nil
}
