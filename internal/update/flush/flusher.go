// Package flush writes attribute changes and removes dependent rows.
//
// Writes prefer one bulk statement per row and fall back to loading and
// merging the entity graph when an attribute cannot be expressed as a SET
// clause. Removals walk cascade deleters derived from the metamodel, running
// pre-remove deleters before the parent statement and post-remove deleters
// after it with values captured from the parent row.
package flush

import (
	"context"
	"errors"

	"github.com/Masterminds/squirrel"

	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
	"viewsync/internal/update"
	"viewsync/internal/update/entity"
)

// ErrBulkUnsupported is returned by AppendBulkSetClause when the flusher
// cannot express its change for the current value; the caller switches to the
// entity-graph path.
var ErrBulkUnsupported = errors.New("bulk write not supported")

// AttributeFlusher writes the new value of one dirty attribute.
type AttributeFlusher interface {
	Attribute() string
	SupportsBulkWrite() bool
	AppendBulkSetClause(stmt *BulkUpdate) error
	// ApplyToEntityGraph assigns the value on target and returns the entity it
	// changed, or nil when nothing was applied.
	ApplyToEntityGraph(ctx context.Context, uc *update.Context, ownerID identity.Identity, target *update.EntityRef) (*update.EntityRef, error)
}

type setClause struct {
	column string
	value  any
}

// BulkUpdate collects SET clauses of one UPDATE statement.
type BulkUpdate struct {
	typ  *metamodel.ManagedType
	sets []setClause
}

// NewBulkUpdate starts an update of t's table.
func NewBulkUpdate(t *metamodel.ManagedType) *BulkUpdate {
	return &BulkUpdate{typ: t}
}

// Type returns the updated type.
func (b *BulkUpdate) Type() *metamodel.ManagedType { return b.typ }

// Set assigns a value or a squirrel expression to column. A later Set of the
// same column replaces the earlier one.
func (b *BulkUpdate) Set(column string, value any) {
	for i := range b.sets {
		if b.sets[i].column == column {
			b.sets[i].value = value
			return
		}
	}
	b.sets = append(b.sets, setClause{column: column, value: value})
}

// Len returns the number of SET clauses.
func (b *BulkUpdate) Len() int { return len(b.sets) }

// Statement renders the update restricted by where.
func (b *BulkUpdate) Statement(where ...squirrel.Sqlizer) (update.Statement, error) {
	q := update.Builder().Update(b.typ.Table)
	for _, s := range b.sets {
		q = q.Set(s.column, s.value)
	}
	for _, w := range where {
		q = q.Where(w)
	}
	return update.Build(q)
}

// ColumnFlusher writes a basic attribute.
type ColumnFlusher struct {
	attribute string
	column    string
	value     any
}

var _ AttributeFlusher = (*ColumnFlusher)(nil)

// NewColumnFlusher creates a flusher assigning value to the basic attribute name of t.
func NewColumnFlusher(t *metamodel.ManagedType, name string, value any) (*ColumnFlusher, error) {
	a := t.Attribute(name)
	if a == nil || a.Kind != metamodel.KindBasic {
		return nil, unknownAttribute(t, name, "basic")
	}
	return &ColumnFlusher{attribute: name, column: a.Column, value: value}, nil
}

func (f *ColumnFlusher) Attribute() string       { return f.attribute }
func (f *ColumnFlusher) SupportsBulkWrite() bool { return true }

func (f *ColumnFlusher) AppendBulkSetClause(stmt *BulkUpdate) error {
	stmt.Set(f.column, f.value)
	return nil
}

func (f *ColumnFlusher) ApplyToEntityGraph(ctx context.Context, uc *update.Context, ownerID identity.Identity, target *update.EntityRef) (*update.EntityRef, error) {
	target.Set(f.column, f.value)
	return target, nil
}

// ReferenceFlusher points an owning to-one attribute at another row.
type ReferenceFlusher struct {
	attr   *metamodel.Attribute
	target identity.Identity
}

var (
	_ AttributeFlusher   = (*ReferenceFlusher)(nil)
	_ entity.FetchJoiner = (*ReferenceFlusher)(nil)
)

// NewReferenceFlusher creates a flusher for the owning to-one attribute name.
// target may be an identifier value of the referenced type or nil to clear it.
func NewReferenceFlusher(t *metamodel.ManagedType, name string, target any) (*ReferenceFlusher, error) {
	a := t.Attribute(name)
	if a == nil || a.Kind != metamodel.KindToOne || a.ForeignJoinColumn() {
		return nil, unknownAttribute(t, name, "owning to-one")
	}
	f := &ReferenceFlusher{attr: a}
	if target != nil {
		id, err := identity.ResolveFor(a.TargetType(), target)
		if err != nil {
			return nil, err
		}
		f.target = id
	}
	return f, nil
}

func (f *ReferenceFlusher) Attribute() string       { return f.attr.Name }
func (f *ReferenceFlusher) SupportsBulkWrite() bool { return true }

func (f *ReferenceFlusher) AppendBulkSetClause(stmt *BulkUpdate) error {
	if f.target.IsZero() {
		for _, jc := range f.attr.JoinColumns {
			stmt.Set(jc.Column, nil)
		}
		return nil
	}
	args, err := update.BindJoinColumns(f.attr.TargetType().Name, f.target, f.attr.JoinColumns)
	if err != nil {
		return err
	}
	for i, jc := range f.attr.JoinColumns {
		stmt.Set(jc.Column, args[i])
	}
	return nil
}

func (f *ReferenceFlusher) ApplyToEntityGraph(ctx context.Context, uc *update.Context, ownerID identity.Identity, target *update.EntityRef) (*update.EntityRef, error) {
	if err := target.SetReference(f.attr, f.target); err != nil {
		return nil, err
	}
	return target, nil
}

// AppendFetchJoin loads the referenced row with the owner.
func (f *ReferenceFlusher) AppendFetchJoin(plan *entity.FetchPlan) error {
	return plan.JoinToOne(f.attr.Name)
}
