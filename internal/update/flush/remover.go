package flush

import (
	"context"

	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
	"viewsync/internal/update"
	"viewsync/pkg/logger"
)

// Remover deletes rows of one managed type with every cascaded dependent.
type Remover struct {
	typ     *metamodel.ManagedType
	deleter *BasicDeleter
}

// NewRemover builds the deleter tree of t once.
func NewRemover(f *Factory, t *metamodel.ManagedType) (*Remover, error) {
	d, err := f.ForType(t)
	if err != nil {
		return nil, err
	}
	return &Remover{typ: t, deleter: d}, nil
}

// Deleter returns the root deleter.
func (r *Remover) Deleter() *BasicDeleter { return r.deleter }

// Remove deletes the row identified by id and runs the orphan removals it queued.
func (r *Remover) Remove(ctx context.Context, uc *update.Context, id any) error {
	resolved, err := identity.ResolveFor(r.typ, id)
	if err != nil {
		return err
	}
	mark := uc.Watermark()
	if err := r.deleter.RemoveByID(ctx, uc, resolved); err != nil {
		return err
	}
	if err := uc.RunOrphansFrom(ctx, mark); err != nil {
		return err
	}
	logger.Info(ctx, "entity removed with dependents", "type", r.typ.Name, "id", resolved.String())
	return nil
}
