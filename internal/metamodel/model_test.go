package metamodel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewsync/internal/core/apperror"
	"viewsync/internal/metamodel"
	"viewsync/internal/metamodel/metamodeltest"
)

func basic(name string) *metamodel.Attribute {
	return &metamodel.Attribute{Name: name, Kind: metamodel.KindBasic, Column: name}
}

func freeze(types ...*metamodel.ManagedType) error {
	m := metamodel.NewModel()
	for _, t := range types {
		if err := m.Register(t); err != nil {
			return err
		}
	}
	return m.Freeze()
}

func TestModel_IdentifierPaths(t *testing.T) {
	m := metamodeltest.Model()

	g := m.MustType("Grandchild")
	assert.Equal(t, []string{"dep.owner.id", "dep.code", "tag"}, g.IdentifierPaths())
	assert.Equal(t, []string{"dep_owner_id", "dep_code", "tag"}, g.IdentifierColumns())

	d := m.MustType("Dependent")
	assert.Equal(t, []string{"owner", "code"}, d.IdentifierNames())
	assert.Equal(t, m.MustType("Owner"), d.IdentifierTarget("owner"))
	assert.Nil(t, d.IdentifierTarget("code"))
	assert.Equal(t, []string{"owner_id", "code", "amount", "detail_owner_id", "detail_code", "detail_tag"}, d.Columns())
}

func TestModel_ColumnFor(t *testing.T) {
	m := metamodeltest.Model()
	owner := m.MustType("Owner")

	c, ok := owner.ColumnFor("profile.id")
	require.True(t, ok)
	assert.Equal(t, "profile_id", c)

	_, ok = owner.ColumnFor("dependents.id")
	assert.False(t, ok)
}

func TestModel_RegisterErrors(t *testing.T) {
	m := metamodel.NewModel()
	require.NoError(t, m.Register(&metamodel.ManagedType{Name: "T", Table: "t", ID: []*metamodel.Attribute{basic("id")}}))

	err := m.Register(&metamodel.ManagedType{Name: "T", Table: "t2"})
	assert.True(t, apperror.IsInvalidModel(err))

	err = m.Register(&metamodel.ManagedType{Name: "U"})
	assert.True(t, apperror.IsInvalidModel(err))

	require.NoError(t, m.Freeze())
	err = m.Register(&metamodel.ManagedType{Name: "V", Table: "v", ID: []*metamodel.Attribute{basic("id")}})
	assert.True(t, apperror.IsInvalidModel(err))
}

func TestModel_FreezeValidation(t *testing.T) {
	parent := func() *metamodel.ManagedType {
		return &metamodel.ManagedType{Name: "P", Table: "p", ID: []*metamodel.Attribute{basic("id")}}
	}

	tests := []struct {
		name  string
		types func() []*metamodel.ManagedType
	}{
		{
			name: "no identifier",
			types: func() []*metamodel.ManagedType {
				return []*metamodel.ManagedType{{Name: "X", Table: "x"}}
			},
		},
		{
			name: "unknown target",
			types: func() []*metamodel.ManagedType {
				p := parent()
				p.Attributes = []*metamodel.Attribute{{Name: "r", Kind: metamodel.KindToOne, Target: "Missing"}}
				return []*metamodel.ManagedType{p}
			},
		},
		{
			name: "join columns miss identifier path",
			types: func() []*metamodel.ManagedType {
				c := &metamodel.ManagedType{Name: "C", Table: "c", ID: []*metamodel.Attribute{basic("id")},
					Attributes: []*metamodel.Attribute{{Name: "p", Kind: metamodel.KindToOne, Target: "P",
						JoinColumns: []metamodel.JoinColumn{{Path: "key", Column: "p_key"}}}}}
				return []*metamodel.ManagedType{parent(), c}
			},
		},
		{
			name: "mapped by missing attribute",
			types: func() []*metamodel.ManagedType {
				p := parent()
				p.Attributes = []*metamodel.Attribute{{Name: "cs", Kind: metamodel.KindCollection, Target: "C", MappedBy: "p"}}
				c := &metamodel.ManagedType{Name: "C", Table: "c", ID: []*metamodel.Attribute{basic("id")}}
				return []*metamodel.ManagedType{p, c}
			},
		},
		{
			name: "mapped by inverse attribute",
			types: func() []*metamodel.ManagedType {
				p := parent()
				p.Attributes = []*metamodel.Attribute{{Name: "cs", Kind: metamodel.KindCollection, Target: "C", MappedBy: "p"}}
				c := &metamodel.ManagedType{Name: "C", Table: "c", ID: []*metamodel.Attribute{basic("id")},
					Attributes: []*metamodel.Attribute{{Name: "p", Kind: metamodel.KindToOne, Target: "P", MappedBy: "cs"}}}
				return []*metamodel.ManagedType{p, c}
			},
		},
		{
			name: "plural without mapping",
			types: func() []*metamodel.ManagedType {
				p := parent()
				p.Attributes = []*metamodel.Attribute{{Name: "notes", Kind: metamodel.KindCollection}}
				return []*metamodel.ManagedType{p}
			},
		},
		{
			name: "map without key column",
			types: func() []*metamodel.ManagedType {
				p := parent()
				p.Attributes = []*metamodel.Attribute{{Name: "labels", Kind: metamodel.KindMap, JoinTable: &metamodel.JoinTable{
					Name:         "p_labels",
					OwnerColumns: []metamodel.JoinColumn{{Path: "id", Column: "p_id"}},
					ValueColumn:  "label",
				}}}
				return []*metamodel.ManagedType{p}
			},
		},
		{
			name: "identifier cycle",
			types: func() []*metamodel.ManagedType {
				x := &metamodel.ManagedType{Name: "X", Table: "x", ID: []*metamodel.Attribute{
					{Name: "y", Kind: metamodel.KindToOne, Target: "Y", JoinColumns: []metamodel.JoinColumn{{Path: "x.y", Column: "c"}}},
				}}
				y := &metamodel.ManagedType{Name: "Y", Table: "y", ID: []*metamodel.Attribute{
					{Name: "x", Kind: metamodel.KindToOne, Target: "X", JoinColumns: []metamodel.JoinColumn{{Path: "y.x", Column: "c"}}},
				}}
				return []*metamodel.ManagedType{x, y}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := freeze(tt.types()...)
			require.Error(t, err)
			if !apperror.IsInvalidModel(err) {
				t.Errorf("expected INVALID_MODEL, got %v", err)
			}
		})
	}
}

func TestModel_CascadeCycle(t *testing.T) {
	m := metamodeltest.Model()
	a := m.MustType("A")
	b := m.MustType("B")

	err := metamodel.CheckCascade(nil, a.Attribute("bs"))
	assert.True(t, apperror.IsCascadeCycle(err))

	owner := m.MustType("Owner")
	dependents := owner.Attribute("dependents")
	assert.NoError(t, metamodel.CheckCascade([]*metamodel.ManagedType{owner}, dependents))
	assert.True(t, apperror.IsCascadeCycle(metamodel.CheckCascade([]*metamodel.ManagedType{owner, m.MustType("Dependent")}, dependents)))

	assert.True(t, b.Attribute("a").Cycle())
}
