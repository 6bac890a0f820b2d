package update

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/Masterminds/squirrel"

	"viewsync/internal/core/apperror"
	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
)

// EntityRef is a managed entity handed between the engine and the session.
// Values are keyed by column of the type's table. Columns assigned with Set
// are changed; columns assigned with Fill hold what the store returned.
type EntityRef struct {
	Type      *metamodel.ManagedType
	ID        identity.Identity
	Transient bool
	Loaded    bool

	values       map[string]any
	order        []string
	changed      []string
	associations map[string]Row
}

// NewReference creates a reference to a persisted row with its identifier columns filled.
func NewReference(t *metamodel.ManagedType, id identity.Identity) *EntityRef {
	e := &EntityRef{Type: t, ID: id}
	for _, jc := range t.IdentifierJoinColumns() {
		if v, ok := id.Value(jc.Path); ok {
			e.Fill(jc.Column, v)
		}
	}
	return e
}

// NewTransient creates an instance that is not persisted yet.
func NewTransient(t *metamodel.ManagedType) *EntityRef {
	return &EntityRef{Type: t, Transient: true}
}

// Set assigns a column value and marks the column changed.
func (e *EntityRef) Set(column string, value any) {
	e.Fill(column, value)
	for _, c := range e.changed {
		if c == column {
			return
		}
	}
	e.changed = append(e.changed, column)
}

// Fill records a value read from the store without marking it changed.
func (e *EntityRef) Fill(column string, value any) {
	if e.values == nil {
		e.values = make(map[string]any)
	}
	if _, ok := e.values[column]; !ok {
		e.order = append(e.order, column)
	}
	e.values[column] = value
}

// Changed returns the columns assigned with Set, in assignment order.
func (e *EntityRef) Changed() []string {
	return append([]string(nil), e.changed...)
}

// Get returns a column value.
func (e *EntityRef) Get(column string) (any, bool) {
	v, ok := e.values[column]
	return v, ok
}

// Columns returns the assigned columns in assignment order.
func (e *EntityRef) Columns() []string {
	return append([]string(nil), e.order...)
}

// SetReference points the owning relation attr at target. A zero target clears it.
func (e *EntityRef) SetReference(attr *metamodel.Attribute, target identity.Identity) error {
	if attr.Kind != metamodel.KindToOne || attr.ForeignJoinColumn() {
		return apperror.NewUnsupportedOperation("set reference", e.Type.Name+"."+attr.Name)
	}
	if target.IsZero() {
		for _, jc := range attr.JoinColumns {
			e.Set(jc.Column, nil)
		}
		return nil
	}
	args, err := BindJoinColumns(attr.TargetType().Name, target, attr.JoinColumns)
	if err != nil {
		return err
	}
	for i, jc := range attr.JoinColumns {
		e.Set(jc.Column, args[i])
	}
	if e.Transient && e.Type.IsIdentifier(attr.Name) {
		e.refreshID()
	}
	return nil
}

// refreshID rebuilds ID from the identifier columns once all are assigned.
func (e *EntityRef) refreshID() {
	var pairs []identity.Pair
	for _, jc := range e.Type.IdentifierJoinColumns() {
		v, ok := e.values[jc.Column]
		if !ok {
			return
		}
		pairs = append(pairs, identity.Pair{Path: jc.Path, Value: v})
	}
	e.ID = identity.New(pairs...)
}

// SetAssociation stores the eagerly fetched row of a to-one association.
func (e *EntityRef) SetAssociation(name string, row Row) {
	if e.associations == nil {
		e.associations = make(map[string]Row)
	}
	e.associations[name] = row
}

// Association returns the eagerly fetched row of a to-one association.
func (e *EntityRef) Association(name string) (Row, bool) {
	r, ok := e.associations[name]
	return r, ok
}

func (e *EntityRef) String() string {
	if e.Transient && e.ID.IsZero() {
		return e.Type.Name + "(new)"
	}
	return e.Type.Name + e.ID.String()
}

// BindJoinColumns reads the value of every join column path from id.
func BindJoinColumns(typeName string, id identity.Identity, jcs []metamodel.JoinColumn) ([]any, error) {
	args := make([]any, len(jcs))
	for i, jc := range jcs {
		v, ok := id.Value(jc.Path)
		if !ok {
			return nil, apperror.NewAttributeCountMismatch(typeName, joinPaths(jcs), id.Paths())
		}
		args[i] = v
	}
	return args, nil
}

// IdentityFromRow builds the identity addressed by jcs from row.
// ok is false when every value is nil, meaning the row holds no reference.
func IdentityFromRow(row Row, jcs []metamodel.JoinColumn) (id identity.Identity, ok bool) {
	pairs := make([]identity.Pair, len(jcs))
	for i, jc := range jcs {
		v := row[jc.Column]
		if v != nil {
			ok = true
		}
		pairs[i] = identity.Pair{Path: jc.Path, Value: v}
	}
	return identity.New(pairs...), ok
}

func joinPaths(jcs []metamodel.JoinColumn) []string {
	out := make([]string, len(jcs))
	for i, jc := range jcs {
		out[i] = jc.Path
	}
	return out
}

// ColumnsEqual renders "c1 = ? AND c2 = ?". With nil args it renders a template.
func ColumnsEqual(columns []string, args ...any) squirrel.Sqlizer {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = c + " = ?"
	}
	return squirrel.Expr(strings.Join(parts, " AND "), args...)
}

// MergeStatement renders the write of e. A transient instance is inserted,
// upserting when its identifier is fully assigned. A persisted row is updated
// by identifier with its changed columns, bumping the version column and
// matching the version it was read with. ok is false when a persisted row has
// nothing to write.
func MergeStatement(e *EntityRef) (st Statement, ok bool, err error) {
	if e.Transient {
		st, err = insertStatement(e)
		return st, err == nil, err
	}
	return updateStatement(e)
}

func insertStatement(e *EntityRef) (Statement, error) {
	t := e.Type
	if len(e.order) == 0 {
		return Statement{}, fmt.Errorf("merge %s: no columns assigned", t.Name)
	}

	idCols := t.IdentifierColumns()
	hasID := true
	for _, c := range idCols {
		if _, ok := e.values[c]; !ok {
			hasID = false
			break
		}
	}

	columns := e.Columns()
	values := make([]any, 0, len(columns)+1)
	for _, c := range columns {
		values = append(values, e.values[c])
	}
	if t.VersionColumn != "" {
		if _, ok := e.values[t.VersionColumn]; !ok {
			columns = append(columns, t.VersionColumn)
			values = append(values, 1)
		}
	}

	q := Builder().Insert(t.Table).Columns(columns...).Values(values...)
	if hasID {
		isID := make(map[string]bool, len(idCols))
		for _, c := range idCols {
			isID[c] = true
		}
		var sets []string
		for _, c := range e.order {
			if !isID[c] && c != t.VersionColumn {
				sets = append(sets, c+" = EXCLUDED."+c)
			}
		}
		if t.VersionColumn != "" {
			sets = append(sets, fmt.Sprintf("%s = %s.%s + 1", t.VersionColumn, t.Table, t.VersionColumn))
		}
		conflict := "ON CONFLICT (" + strings.Join(idCols, ", ") + ")"
		if len(sets) == 0 {
			q = q.Suffix(conflict + " DO NOTHING")
		} else {
			q = q.Suffix(conflict + " DO UPDATE SET " + strings.Join(sets, ", "))
		}
	}
	return Build(q)
}

func updateStatement(e *EntityRef) (Statement, bool, error) {
	t := e.Type
	jcs := t.IdentifierJoinColumns()
	args, err := BindJoinColumns(t.Name, e.ID, jcs)
	if err != nil {
		return Statement{}, false, err
	}
	current := make(map[string]any, len(jcs))
	for i, jc := range jcs {
		current[jc.Column] = args[i]
	}

	q := Builder().Update(t.Table)
	sets := 0
	for _, c := range e.changed {
		if c == t.VersionColumn {
			continue
		}
		if was, isID := current[c]; isID {
			if !reflect.DeepEqual(was, e.values[c]) {
				return Statement{}, false, apperror.NewUnsupportedOperation("change identifier", e.String()+"."+c)
			}
			continue
		}
		q = q.Set(c, e.values[c])
		sets++
	}
	if sets == 0 {
		return Statement{}, false, nil
	}

	q = q.Where(ColumnsEqual(metamodel.JoinColumnsToColumns(jcs), args...))
	if vc := t.VersionColumn; vc != "" {
		q = q.Set(vc, squirrel.Expr(vc+" + 1"))
		if v, ok := e.values[vc]; ok && v != nil {
			q = q.Where(squirrel.Eq{vc: v})
		}
	}
	st, err := Build(q)
	return st, err == nil, err
}

// ExecuteMerge writes e through s. Updating a persisted row must affect
// exactly one row.
func ExecuteMerge(ctx context.Context, s Session, e *EntityRef) error {
	st, ok, err := MergeStatement(e)
	if err != nil || !ok {
		return err
	}
	n, err := s.ExecuteUpdate(ctx, st)
	if err != nil {
		return err
	}
	if !e.Transient && n != 1 {
		return apperror.NewOptimisticLockConflict(e.Type.Name, e.ID.String(), 1, n)
	}
	return nil
}

// LoadReference reads the row of t identified by id through s.
func LoadReference(ctx context.Context, s Session, t *metamodel.ManagedType, id identity.Identity) (*EntityRef, error) {
	jcs := t.IdentifierJoinColumns()
	args, err := BindJoinColumns(t.Name, id, jcs)
	if err != nil {
		return nil, err
	}
	st, err := Build(Builder().
		Select(t.Columns()...).
		From(t.Table).
		Where(ColumnsEqual(metamodel.JoinColumnsToColumns(jcs), args...)))
	if err != nil {
		return nil, err
	}
	rows, err := s.Query(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", t.Name, err)
	}
	if len(rows) == 0 {
		return nil, apperror.NewEntityNotFound(t.Name, id.String())
	}
	e := NewReference(t, id)
	e.Loaded = true
	for _, c := range t.Columns() {
		if v, ok := rows[0][c]; ok {
			e.Fill(c, v)
		}
	}
	return e, nil
}

// RemoveStatement renders the whole-row delete of the entity by identifier.
func RemoveStatement(e *EntityRef) (Statement, error) {
	jcs := e.Type.IdentifierJoinColumns()
	args, err := BindJoinColumns(e.Type.Name, e.ID, jcs)
	if err != nil {
		return Statement{}, err
	}
	return Build(Builder().
		Delete(e.Type.Table).
		Where(ColumnsEqual(metamodel.JoinColumnsToColumns(jcs), args...)))
}
