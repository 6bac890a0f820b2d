package flush

import (
	"context"
	"fmt"
	"strings"

	"viewsync/internal/core/apperror"
	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
	"viewsync/internal/update"
	"viewsync/pkg/logger"
)

type basicSpec struct {
	attribute string
	element   *metamodel.ManagedType
	// ownerColumns: element row columns referencing the owner (pre-remove).
	ownerColumns []metamodel.JoinColumn
	// refColumns: owner row columns referencing the element (post-remove).
	refColumns  []metamodel.JoinColumn
	afterRemove bool
	asEntity    bool
}

// BasicDeleter removes rows of one element type by identifier or by owner.
// Its statements are rendered once at construction.
type BasicDeleter struct {
	spec basicSpec

	pre  []CascadeDeleter
	post []*BasicDeleter

	idColumns []metamodel.JoinColumn
	capture   []string

	deleteByID             template
	deleteByIDReturning    template
	selectByID             template
	deleteByOwner          template
	deleteByOwnerReturning template
	selectByOwner          template
}

var _ CascadeDeleter = (*BasicDeleter)(nil)

func (f *Factory) newBasic(spec basicSpec, path []*metamodel.ManagedType) (*BasicDeleter, error) {
	t := spec.element
	d := &BasicDeleter{spec: spec, idColumns: t.IdentifierJoinColumns()}

	if !spec.asEntity {
		childPath := append(append([]*metamodel.ManagedType(nil), path...), t)
		for _, a := range t.Attributes {
			child, err := f.child(a, childPath)
			if err != nil {
				return nil, err
			}
			if child == nil {
				continue
			}
			if child.RequiresDeleteCascadeAfterRemove() {
				post := child.(*BasicDeleter)
				d.post = append(d.post, post)
				d.capture = appendDistinct(d.capture, metamodel.JoinColumnsToColumns(post.spec.refColumns)...)
				continue
			}
			d.pre = append(d.pre, child)
		}
	}

	if err := d.render(); err != nil {
		return nil, fmt.Errorf("render deleter %s: %w", d, err)
	}
	return d, nil
}

func (d *BasicDeleter) render() error {
	t := d.spec.element
	idCols := metamodel.JoinColumnsToColumns(d.idColumns)
	returning := "RETURNING " + strings.Join(d.capture, ", ")
	var err error

	byID := update.Builder().Delete(t.Table).Where(update.ColumnsEqual(idCols))
	if d.deleteByID, err = newTemplate(byID, d.idColumns); err != nil {
		return err
	}
	if len(d.capture) > 0 {
		if d.deleteByIDReturning, err = newTemplate(byID.Suffix(returning), d.idColumns); err != nil {
			return err
		}
		sel := update.Builder().Select(d.capture...).From(t.Table).Where(update.ColumnsEqual(idCols))
		if d.selectByID, err = newTemplate(sel, d.idColumns); err != nil {
			return err
		}
	}

	if len(d.spec.ownerColumns) == 0 {
		return nil
	}
	ownerCols := metamodel.JoinColumnsToColumns(d.spec.ownerColumns)
	byOwner := update.Builder().Delete(t.Table).Where(update.ColumnsEqual(ownerCols))
	if d.deleteByOwner, err = newTemplate(byOwner, d.spec.ownerColumns); err != nil {
		return err
	}
	if len(d.capture) > 0 {
		if d.deleteByOwnerReturning, err = newTemplate(byOwner.Suffix(returning), d.spec.ownerColumns); err != nil {
			return err
		}
	}
	probe := update.Builder().
		Select(appendDistinct(append([]string(nil), idCols...), d.capture...)...).
		From(t.Table).
		Where(update.ColumnsEqual(ownerCols))
	d.selectByOwner, err = newTemplate(probe, d.spec.ownerColumns)
	return err
}

func (d *BasicDeleter) Attribute() string { return d.spec.attribute }

func (d *BasicDeleter) RequiresDeleteCascadeAfterRemove() bool { return d.spec.afterRemove }

// Element returns the type whose rows are removed.
func (d *BasicDeleter) Element() *metamodel.ManagedType { return d.spec.element }

// DeletesAsEntity reports whether elements are removed as whole entities
// because their cascade chain closes a cycle.
func (d *BasicDeleter) DeletesAsEntity() bool { return d.spec.asEntity }

// Pre returns the deleters run before the element row statement.
func (d *BasicDeleter) Pre() []CascadeDeleter { return append([]CascadeDeleter(nil), d.pre...) }

// Post returns the deleters run after the element row statement.
func (d *BasicDeleter) Post() []*BasicDeleter { return append([]*BasicDeleter(nil), d.post...) }

func (d *BasicDeleter) String() string {
	if d.spec.attribute == "" {
		return d.spec.element.Name
	}
	return d.spec.attribute + "(" + d.spec.element.Name + ")"
}

// RemoveByID removes one element row: pre-remove deleters first, then the
// row, then post-remove deleters addressed by the values the row held.
func (d *BasicDeleter) RemoveByID(ctx context.Context, uc *update.Context, id identity.Identity) error {
	t := d.spec.element
	if d.spec.asEntity {
		return d.removeEntity(ctx, uc, id)
	}

	for _, pre := range d.pre {
		if err := pre.RemoveByOwnerID(ctx, uc, id); err != nil {
			return err
		}
	}

	session := uc.Session()
	var captured []update.Row
	switch {
	case len(d.post) == 0:
		st, err := d.deleteByID.bind(t.Name, id)
		if err != nil {
			return err
		}
		n, err := session.ExecuteUpdate(ctx, st)
		if err != nil {
			return fmt.Errorf("delete %s: %w", t.Table, err)
		}
		if n != 1 {
			return apperror.NewOptimisticLockConflict(t.Name, id.String(), 1, n)
		}

	case session.Dialect().SupportsReturningColumns():
		st, err := d.deleteByIDReturning.bind(t.Name, id)
		if err != nil {
			return err
		}
		if captured, err = session.Query(ctx, st); err != nil {
			return fmt.Errorf("delete %s: %w", t.Table, err)
		}
		if len(captured) != 1 {
			return apperror.NewOptimisticLockConflict(t.Name, id.String(), 1, int64(len(captured)))
		}

	default:
		st, err := d.selectByID.bind(t.Name, id)
		if err != nil {
			return err
		}
		if captured, err = session.Query(ctx, st); err != nil {
			return fmt.Errorf("select %s: %w", t.Table, err)
		}
		if len(captured) != 1 {
			return apperror.NewOptimisticLockConflict(t.Name, id.String(), 1, int64(len(captured)))
		}
		if st, err = d.deleteByID.bind(t.Name, id); err != nil {
			return err
		}
		n, err := session.ExecuteUpdate(ctx, st)
		if err != nil {
			return fmt.Errorf("delete %s: %w", t.Table, err)
		}
		if n != 1 {
			return apperror.NewOptimisticLockConflict(t.Name, id.String(), 1, n)
		}
	}

	logger.Debug(ctx, "row removed", "type", t.Name, "id", id.String())
	return d.runPost(ctx, uc, captured)
}

// RemoveByOwnerID removes every element referencing the owner. Element
// identifiers are read first so pre-remove deleters can address each element
// and so an owner without elements costs no delete statement.
func (d *BasicDeleter) RemoveByOwnerID(ctx context.Context, uc *update.Context, ownerID identity.Identity) error {
	t := d.spec.element
	if d.spec.afterRemove || len(d.spec.ownerColumns) == 0 {
		return apperror.NewUnsupportedOperation("remove by owner id", d.String())
	}

	session := uc.Session()
	st, err := d.selectByOwner.bind(t.Name, ownerID)
	if err != nil {
		return err
	}
	rows, err := session.Query(ctx, st)
	if err != nil {
		return fmt.Errorf("select %s by owner: %w", t.Table, err)
	}
	if len(rows) == 0 {
		return nil
	}
	ids := distinctIdentities(rows, d.idColumns)

	if d.spec.asEntity {
		for _, id := range ids {
			if err := d.removeEntity(ctx, uc, id); err != nil {
				return err
			}
		}
		return nil
	}

	for _, id := range ids {
		for _, pre := range d.pre {
			if err := pre.RemoveByOwnerID(ctx, uc, id); err != nil {
				return err
			}
		}
	}

	captured := rows
	var n int64
	if len(d.post) > 0 && session.Dialect().SupportsReturningColumns() {
		if st, err = d.deleteByOwnerReturning.bind(t.Name, ownerID); err != nil {
			return err
		}
		if captured, err = session.Query(ctx, st); err != nil {
			return fmt.Errorf("delete %s by owner: %w", t.Table, err)
		}
		n = int64(len(captured))
	} else {
		if st, err = d.deleteByOwner.bind(t.Name, ownerID); err != nil {
			return err
		}
		if n, err = session.ExecuteUpdate(ctx, st); err != nil {
			return fmt.Errorf("delete %s by owner: %w", t.Table, err)
		}
	}
	if n != int64(len(rows)) {
		return apperror.NewOptimisticLockConflict(t.Name, ownerID.String(), int64(len(rows)), n)
	}

	logger.Debug(ctx, "rows removed by owner", "type", t.Name, "owner", ownerID.String(), "count", n)
	return d.runPost(ctx, uc, captured)
}

func (d *BasicDeleter) runPost(ctx context.Context, uc *update.Context, captured []update.Row) error {
	for _, post := range d.post {
		if err := post.RemoveAllByID(ctx, uc, distinctIdentities(captured, post.spec.refColumns)); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAllByID removes each identified row as RemoveByID does. Rows without
// dependents of their own go out in one batch when the session supports it.
func (d *BasicDeleter) RemoveAllByID(ctx context.Context, uc *update.Context, ids []identity.Identity) error {
	batch, ok := uc.Session().(update.BatchSession)
	if !ok || len(ids) < 2 || d.spec.asEntity || len(d.pre) > 0 || len(d.post) > 0 {
		for _, id := range ids {
			if err := d.RemoveByID(ctx, uc, id); err != nil {
				return err
			}
		}
		return nil
	}

	t := d.spec.element
	sts := make([]update.Statement, len(ids))
	for i, id := range ids {
		st, err := d.deleteByID.bind(t.Name, id)
		if err != nil {
			return err
		}
		sts[i] = st
	}
	counts, err := batch.ExecuteBatch(ctx, sts)
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.Table, err)
	}
	for i, n := range counts {
		if n != 1 {
			return apperror.NewOptimisticLockConflict(t.Name, ids[i].String(), 1, n)
		}
	}
	logger.Debug(ctx, "rows removed in batch", "type", t.Name, "count", len(ids))
	return nil
}

func (d *BasicDeleter) removeEntity(ctx context.Context, uc *update.Context, id identity.Identity) error {
	ref, err := uc.Session().GetReferenceOrLoad(ctx, d.spec.element, id)
	if err != nil {
		return err
	}
	if err := uc.Session().RemoveEntity(ctx, ref); err != nil {
		return fmt.Errorf("remove %s: %w", ref, err)
	}
	logger.Debug(ctx, "entity removed", "type", d.spec.element.Name, "id", id.String())
	return nil
}
