package flush

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"viewsync/internal/core/apperror"
	"viewsync/internal/identity"
	"viewsync/internal/metamodel"
	"viewsync/internal/update"
)

// CascadeDeleter removes rows reachable from an owner through one attribute.
type CascadeDeleter interface {
	Attribute() string
	// RemoveByID removes the element identified by id together with its dependents.
	RemoveByID(ctx context.Context, uc *update.Context, id identity.Identity) error
	// RemoveByOwnerID removes every element referencing the owner.
	RemoveByOwnerID(ctx context.Context, uc *update.Context, ownerID identity.Identity) error
	// RequiresDeleteCascadeAfterRemove reports whether the deleter runs after
	// the owner row is gone, addressed by values captured from that row.
	RequiresDeleteCascadeAfterRemove() bool
}

// StoreCapabilities describes cleanup the store performs on its own.
type StoreCapabilities struct {
	// CleansJoinTables: join table rows go away with the owner row.
	CleansJoinTables bool
	// CleansCollectionTables: collection table rows go away with the owner row.
	CleansCollectionTables bool
}

// Factory derives deleters and inverse flushers from the metamodel.
type Factory struct {
	caps StoreCapabilities
}

// NewFactory creates a factory for a store with caps.
func NewFactory(caps StoreCapabilities) *Factory {
	return &Factory{caps: caps}
}

// ForType builds the deleter removing rows of t by identifier with every dependent.
func (f *Factory) ForType(t *metamodel.ManagedType) (*BasicDeleter, error) {
	return f.newBasic(basicSpec{element: t}, nil)
}

// ForAttribute builds the deleter for attribute a of its declaring type.
// It returns nil when removing the owner needs no work for a.
func (f *Factory) ForAttribute(a *metamodel.Attribute) (CascadeDeleter, error) {
	return f.child(a, []*metamodel.ManagedType{a.Declaring()})
}

// child derives the deleter of attribute a; path lists the types being removed.
func (f *Factory) child(a *metamodel.Attribute, path []*metamodel.ManagedType) (CascadeDeleter, error) {
	asEntity := apperror.IsCascadeCycle(metamodel.CheckCascade(path, a))

	switch a.Kind {
	case metamodel.KindBasic:
		return nil, nil

	case metamodel.KindToOne:
		if a.ForeignJoinColumn() {
			if !a.DeleteCascade {
				return f.detacher(a, path)
			}
			back := a.TargetType().Attribute(a.MappedBy)
			return asDeleter(f.newBasic(basicSpec{
				attribute:    a.Name,
				element:      a.TargetType(),
				ownerColumns: back.JoinColumns,
				asEntity:     asEntity,
			}, path))
		}
		if !a.DeleteCascade {
			return nil, nil
		}
		return asDeleter(f.newBasic(basicSpec{
			attribute:   a.Name,
			element:     a.TargetType(),
			refColumns:  a.JoinColumns,
			afterRemove: true,
			asEntity:    asEntity,
		}, path))

	case metamodel.KindCollection, metamodel.KindMap:
		if a.ForeignJoinColumn() {
			if !a.DeleteCascade {
				return f.detacher(a, path)
			}
			back := a.TargetType().Attribute(a.MappedBy)
			mapped, err := f.newBasic(basicSpec{
				attribute:    a.Name,
				element:      a.TargetType(),
				ownerColumns: back.JoinColumns,
				asEntity:     asEntity,
			}, path)
			if err != nil {
				return nil, err
			}
			if a.Kind == metamodel.KindMap {
				return MapDeleter{attribute: a.Name, mapped: mapped}, nil
			}
			return CollectionDeleter{attribute: a.Name, mapped: mapped}, nil
		}

		table, err := f.newTable(a, asEntity, path)
		if err != nil {
			return nil, err
		}
		if a.Kind == metamodel.KindMap {
			return MapDeleter{attribute: a.Name, table: table}, nil
		}
		return CollectionDeleter{attribute: a.Name, table: table}, nil
	}
	return nil, apperror.NewInvalidModel(a.Declaring().Name, fmt.Sprintf("unknown attribute kind %q", a.Kind))
}

// asDeleter keeps a failed construction from yielding a non-nil interface.
func asDeleter(d *BasicDeleter, err error) (CascadeDeleter, error) {
	if err != nil {
		return nil, err
	}
	return d, nil
}

// detacher clears the back-reference of elements that are not cascaded.
func (f *Factory) detacher(a *metamodel.Attribute, path []*metamodel.ManagedType) (CascadeDeleter, error) {
	inv, err := f.newInverse(a, EntityElement{}, path)
	if err != nil {
		return nil, err
	}
	return detachDeleter{inverse: inv}, nil
}

func (f *Factory) newTable(a *metamodel.Attribute, asEntity bool, path []*metamodel.ManagedType) (tableDeleter, error) {
	jt := a.JoinTable
	d := tableDeleter{
		attribute:    a.Name,
		table:        jt.Name,
		ownerColumns: jt.OwnerColumns,
		keyColumn:    jt.KeyColumn,
	}
	if a.TargetType() == nil {
		d.element = valueElements{column: jt.ValueColumn}
		d.storeCleans = f.caps.CleansCollectionTables
		return d, nil
	}

	el := entityElements{columns: jt.ElementColumns}
	if a.DeleteCascade {
		deleter, err := f.newBasic(basicSpec{
			attribute: a.Name,
			element:   a.TargetType(),
			asEntity:  asEntity,
		}, path)
		if err != nil {
			return tableDeleter{}, err
		}
		el.deleter = deleter
	}
	d.element = el
	d.storeCleans = f.caps.CleansJoinTables
	return d, nil
}

// template is a statement rendered once whose arguments are bound per call
// from identifier paths.
type template struct {
	sql    string
	params []metamodel.JoinColumn
}

func newTemplate(b squirrel.Sqlizer, params []metamodel.JoinColumn) (template, error) {
	sql, _, err := b.ToSql()
	if err != nil {
		return template{}, err
	}
	return template{sql: sql, params: params}, nil
}

func (t template) bind(typeName string, id identity.Identity) (update.Statement, error) {
	args, err := update.BindJoinColumns(typeName, id, t.params)
	if err != nil {
		return update.Statement{}, err
	}
	return update.Statement{SQL: t.sql, Args: args}, nil
}

// distinctIdentities reads the identities addressed by jcs from rows, dropping
// rows without a reference and duplicates.
func distinctIdentities(rows []update.Row, jcs []metamodel.JoinColumn) []identity.Identity {
	seen := make(map[string]struct{}, len(rows))
	out := make([]identity.Identity, 0, len(rows))
	for _, row := range rows {
		id, ok := update.IdentityFromRow(row, jcs)
		if !ok {
			continue
		}
		key := id.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, id)
	}
	return out
}

func appendDistinct(dst []string, cols ...string) []string {
	for _, c := range cols {
		dup := false
		for _, d := range dst {
			if d == c {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, c)
		}
	}
	return dst
}

func unknownAttribute(t *metamodel.ManagedType, name, kind string) error {
	return apperror.NewInvalidModel(t.Name, fmt.Sprintf("%s has no %s attribute %s", t.Name, kind, name))
}
