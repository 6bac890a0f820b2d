package flush

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"

	"viewsync/internal/core/apperror"
	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
	"viewsync/internal/update"
	"viewsync/internal/update/entity"
	"viewsync/pkg/logger"
)

// ElementShape is what an inverse attribute holds: SubviewElement or EntityElement.
type ElementShape interface {
	isElementShape()
}

// SubviewElement elements are views whose nested dirty attributes may be
// written together with the back-reference in one statement.
type SubviewElement struct{}

// EntityElement elements are plain managed entities; any nested change is
// written through the entity graph.
type EntityElement struct{}

func (SubviewElement) isElementShape() {}
func (EntityElement) isElementShape()  {}

// Element is one element of an inverse attribute being flushed.
type Element struct {
	// ID identifies a persisted element; nil for an element not persisted yet.
	ID    any
	Dirty []AttributeFlusher
}

// InverseFlusher writes the owning side of a relation for the elements of an
// inverse (mapped-by) attribute.
type InverseFlusher struct {
	attr     *metamodel.Attribute
	element  *metamodel.ManagedType
	back     *metamodel.Attribute
	backInID bool
	shape    ElementShape

	// deleter removes elements by identifier; cascade decides whether removing
	// the owner schedules it.
	deleter *BasicDeleter
	cascade bool
	loader  *entity.Loader

	selectByOwner template
	detach        template
}

// Inverse builds the flusher of the inverse attribute a.
func (f *Factory) Inverse(a *metamodel.Attribute, shape ElementShape) (*InverseFlusher, error) {
	return f.newInverse(a, shape, []*metamodel.ManagedType{a.Declaring()})
}

func (f *Factory) newInverse(a *metamodel.Attribute, shape ElementShape, path []*metamodel.ManagedType) (*InverseFlusher, error) {
	if !a.ForeignJoinColumn() || a.TargetType() == nil {
		return nil, apperror.NewUnsupportedOperation("inverse flush", a.Declaring().Name+"."+a.Name)
	}
	element := a.TargetType()
	back := element.Attribute(a.MappedBy)

	inv := &InverseFlusher{
		attr:     a,
		element:  element,
		back:     back,
		backInID: element.IsIdentifier(back.Name),
		shape:    shape,
		cascade:  a.DeleteCascade,
		loader:   entity.New(element),
	}

	deleter, err := f.newBasic(basicSpec{
		attribute: a.Name,
		element:   element,
		asEntity:  apperror.IsCascadeCycle(metamodel.CheckCascade(path, a)),
	}, path)
	if err != nil {
		return nil, err
	}
	inv.deleter = deleter

	backCols := metamodel.JoinColumnsToColumns(back.JoinColumns)
	probe := update.Builder().
		Select(element.IdentifierColumns()...).
		From(element.Table).
		Where(update.ColumnsEqual(backCols))
	if inv.selectByOwner, err = newTemplate(probe, back.JoinColumns); err != nil {
		return nil, err
	}
	if !inv.backInID {
		detach := update.Builder().Update(element.Table)
		for _, c := range backCols {
			detach = detach.Set(c, squirrel.Expr("NULL"))
		}
		detach = detach.Where(update.ColumnsEqual(backCols))
		if inv.detach, err = newTemplate(detach, back.JoinColumns); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// Attribute returns the inverse attribute name.
func (f *InverseFlusher) Attribute() string { return f.attr.Name }

// queryCapable reports whether el can be written with one statement.
func (f *InverseFlusher) queryCapable(el Element) bool {
	if el.ID == nil {
		return false
	}
	switch f.shape.(type) {
	case SubviewElement:
		for _, d := range el.Dirty {
			if !d.SupportsBulkWrite() {
				return false
			}
		}
		return true
	case EntityElement:
		return len(el.Dirty) == 0
	}
	return false
}

// FlushQuerySetElement points el at ownerID. A persisted element whose nested
// changes are all bulk-capable is written with one UPDATE that must affect
// exactly one row; otherwise orphans queued since the attempt began are
// discarded and the element goes through the entity graph.
func (f *InverseFlusher) FlushQuerySetElement(ctx context.Context, uc *update.Context, el Element, ownerID identity.Identity) error {
	mark := uc.Watermark()
	if f.queryCapable(el) {
		done, err := f.flushQuery(ctx, uc, el, ownerID)
		if err != nil {
			return err
		}
		if done {
			return uc.RunOrphansFrom(ctx, mark)
		}
	}
	uc.RollbackQueueTo(mark)
	if err := f.flushEntity(ctx, uc, el, ownerID); err != nil {
		return err
	}
	return uc.RunOrphansFrom(ctx, mark)
}

// FlushEntitySetElement loads or constructs every element, assigns the
// back-reference and nested changes and merges it.
func (f *InverseFlusher) FlushEntitySetElement(ctx context.Context, uc *update.Context, elements []Element, ownerID identity.Identity) error {
	mark := uc.Watermark()
	for _, el := range elements {
		if err := f.flushEntity(ctx, uc, el, ownerID); err != nil {
			return err
		}
	}
	return uc.RunOrphansFrom(ctx, mark)
}

func (f *InverseFlusher) flushQuery(ctx context.Context, uc *update.Context, el Element, ownerID identity.Identity) (bool, error) {
	id, err := identity.ResolveFor(f.element, el.ID)
	if err != nil {
		return false, err
	}

	stmt := NewBulkUpdate(f.element)
	if f.backInID {
		if !id.Sub(f.back.Name).SameAs(ownerID) {
			return false, apperror.NewUnsupportedOperation("move element between owners", f.element.Name+id.String())
		}
	} else {
		args, err := update.BindJoinColumns(f.attr.Declaring().Name, ownerID, f.back.JoinColumns)
		if err != nil {
			return false, err
		}
		for i, jc := range f.back.JoinColumns {
			stmt.Set(jc.Column, args[i])
		}
	}
	for _, d := range el.Dirty {
		if err := d.AppendBulkSetClause(stmt); err != nil {
			if errors.Is(err, ErrBulkUnsupported) {
				return false, nil
			}
			return false, err
		}
	}
	if stmt.Len() == 0 {
		return true, nil
	}

	jcs := f.element.IdentifierJoinColumns()
	args, err := update.BindJoinColumns(f.element.Name, id, jcs)
	if err != nil {
		return false, err
	}
	st, err := stmt.Statement(update.ColumnsEqual(metamodel.JoinColumnsToColumns(jcs), args...))
	if err != nil {
		return false, fmt.Errorf("build update %s: %w", f.element.Name, err)
	}
	n, err := uc.Session().ExecuteUpdate(ctx, st)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", f.element.Table, err)
	}
	if n != 1 {
		return false, apperror.NewOptimisticLockConflict(f.element.Name, id.String(), 1, n)
	}
	return true, nil
}

func (f *InverseFlusher) flushEntity(ctx context.Context, uc *update.Context, el Element, ownerID identity.Identity) error {
	ref, err := f.loader.Load(ctx, uc, el.ID)
	if err != nil {
		return err
	}
	if err := ref.SetReference(f.back, ownerID); err != nil {
		return err
	}
	for _, d := range el.Dirty {
		if _, err := d.ApplyToEntityGraph(ctx, uc, ref.ID, ref); err != nil {
			return err
		}
	}
	if err := uc.Session().Merge(ctx, ref); err != nil {
		return fmt.Errorf("merge %s: %w", ref, err)
	}
	return nil
}

// RemoveByOwnerID handles the elements of an owner being removed. Element
// identifiers are read first; an owner without elements issues nothing else.
// When the back-reference is part of the element identifier the elements are
// deleted immediately. Otherwise the back-reference is cleared in one
// statement and, for cascaded attributes, the returned tasks delete the
// captured elements once the owner is gone.
func (f *InverseFlusher) RemoveByOwnerID(ctx context.Context, uc *update.Context, ownerID identity.Identity) ([]update.DeferredDeleteTask, error) {
	session := uc.Session()
	st, err := f.selectByOwner.bind(f.attr.Declaring().Name, ownerID)
	if err != nil {
		return nil, err
	}
	rows, err := session.Query(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("select %s by owner: %w", f.element.Table, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := distinctIdentities(rows, f.element.IdentifierJoinColumns())

	if f.backInID {
		if err := f.removeAll(ctx, uc, ids); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if st, err = f.detach.bind(f.attr.Declaring().Name, ownerID); err != nil {
		return nil, err
	}
	n, err := session.ExecuteUpdate(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("detach %s: %w", f.element.Table, err)
	}
	if n != int64(len(rows)) {
		return nil, apperror.NewOptimisticLockConflict(f.element.Name, ownerID.String(), int64(len(rows)), n)
	}
	logger.Debug(ctx, "inverse elements detached", "attribute", f.attr.Name, "owner", ownerID.String(), "count", n)

	if !f.cascade {
		return nil, nil
	}
	task := update.DeferredDeleteFunc(func(ctx context.Context, uc *update.Context) error {
		return f.removeAll(ctx, uc, ids)
	})
	return []update.DeferredDeleteTask{task}, nil
}

// RemoveElements deletes the given elements with their dependents.
func (f *InverseFlusher) RemoveElements(ctx context.Context, uc *update.Context, ids []any) error {
	resolved := make([]identity.Identity, 0, len(ids))
	for _, v := range ids {
		id, err := identity.ResolveFor(f.element, v)
		if err != nil {
			return err
		}
		resolved = append(resolved, id)
	}
	return f.removeAll(ctx, uc, resolved)
}

func (f *InverseFlusher) removeAll(ctx context.Context, uc *update.Context, ids []identity.Identity) error {
	return f.deleter.RemoveAllByID(ctx, uc, ids)
}
