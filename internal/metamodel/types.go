// Package metamodel describes managed types, their identifier attributes and
// the relations the flush and cascade-delete engine walks.
package metamodel

import (
	"viewsync/internal/identity"
)

// Kind is the shape of an attribute.
type Kind string

const (
	KindBasic      Kind = "basic"
	KindToOne      Kind = "to_one"
	KindCollection Kind = "collection"
	KindMap        Kind = "map"
)

// JoinColumn maps an identifier path of the referenced type to a column.
type JoinColumn struct {
	Path   string `yaml:"path"`   // identifier path on the referenced type, e.g. "id" or "owner.id"
	Column string `yaml:"column"` // column holding the value
}

// JoinTable describes a join table or collection table backing a plural attribute.
type JoinTable struct {
	Name           string       `yaml:"name"`
	OwnerColumns   []JoinColumn `yaml:"ownerColumns"`
	ElementColumns []JoinColumn `yaml:"elementColumns"` // entity elements only
	ValueColumn    string       `yaml:"valueColumn"`    // basic elements only
	KeyColumn      string       `yaml:"keyColumn"`      // maps only
}

// Attribute describes one attribute of a managed type.
type Attribute struct {
	Name   string
	Kind   Kind
	Column string // basic attributes

	// Target names the referenced type of relations and entity-valued plurals.
	Target string
	// JoinColumns are the foreign key columns on the declaring row (owning to-one).
	JoinColumns []JoinColumn
	// MappedBy names the attribute on Target that owns the relation.
	MappedBy  string
	JoinTable *JoinTable

	DeleteCascade bool

	declaring *ManagedType
	target    *ManagedType
	cycle     bool
}

// Declaring returns the type that declares the attribute.
func (a *Attribute) Declaring() *ManagedType { return a.declaring }

// TargetType returns the resolved referenced type, or nil for basic values.
func (a *Attribute) TargetType() *ManagedType { return a.target }

// ForeignJoinColumn reports whether the foreign key lives on the element's row.
func (a *Attribute) ForeignJoinColumn() bool { return a.MappedBy != "" }

// Plural reports whether the attribute is a collection or map.
func (a *Attribute) Plural() bool { return a.Kind == KindCollection || a.Kind == KindMap }

// Cycle reports whether cascading through this attribute returns to its declaring type.
func (a *Attribute) Cycle() bool { return a.cycle }

// JoinColumnsToColumns returns the column names of the join columns.
func JoinColumnsToColumns(jcs []JoinColumn) []string {
	out := make([]string, len(jcs))
	for i, jc := range jcs {
		out[i] = jc.Column
	}
	return out
}

// ManagedType is a persistent type stored in one table.
type ManagedType struct {
	Name          string
	Table         string
	ID            []*Attribute
	Attributes    []*Attribute
	VersionColumn string
}

var _ identity.Type = (*ManagedType)(nil)

// TypeName implements identity.Type.
func (t *ManagedType) TypeName() string { return t.Name }

// IdentifierNames implements identity.Type.
func (t *ManagedType) IdentifierNames() []string {
	out := make([]string, len(t.ID))
	for i, a := range t.ID {
		out[i] = a.Name
	}
	return out
}

// IdentifierTarget implements identity.Type.
func (t *ManagedType) IdentifierTarget(name string) identity.Type {
	a := t.IdentifierAttribute(name)
	if a == nil || a.target == nil {
		return nil
	}
	return a.target
}

// IdentifierAttribute returns the identifier attribute called name.
func (t *ManagedType) IdentifierAttribute(name string) *Attribute {
	for _, a := range t.ID {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Attribute returns the attribute called name, searching identifier attributes too.
func (t *ManagedType) Attribute(name string) *Attribute {
	for _, a := range t.Attributes {
		if a.Name == name {
			return a
		}
	}
	return t.IdentifierAttribute(name)
}

// IsIdentifier reports whether name is an identifier attribute.
func (t *ManagedType) IsIdentifier(name string) bool {
	return t.IdentifierAttribute(name) != nil
}

// IdentifierPaths returns the flattened dotted identifier paths in declaration order.
func (t *ManagedType) IdentifierPaths() []string {
	var out []string
	for _, a := range t.ID {
		if a.target == nil {
			out = append(out, a.Name)
			continue
		}
		for _, p := range a.target.IdentifierPaths() {
			out = append(out, a.Name+"."+p)
		}
	}
	return out
}

// IdentifierColumns returns the identifier columns aligned with IdentifierPaths.
func (t *ManagedType) IdentifierColumns() []string {
	paths := t.IdentifierPaths()
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i], _ = t.ColumnFor(p)
	}
	return out
}

// IdentifierJoinColumns pairs identifier paths with their columns.
func (t *ManagedType) IdentifierJoinColumns() []JoinColumn {
	paths := t.IdentifierPaths()
	cols := t.IdentifierColumns()
	out := make([]JoinColumn, len(paths))
	for i := range paths {
		out[i] = JoinColumn{Path: paths[i], Column: cols[i]}
	}
	return out
}

// ColumnFor resolves a dotted path to a column of this type's table.
// Basic attributes resolve by name, owning to-one attributes by
// "<attribute>.<target identifier path>".
func (t *ManagedType) ColumnFor(path string) (string, bool) {
	for _, a := range append(append([]*Attribute(nil), t.ID...), t.Attributes...) {
		switch a.Kind {
		case KindBasic:
			if a.Name == path {
				return a.Column, true
			}
		case KindToOne:
			prefix := a.Name + "."
			if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
				continue
			}
			for _, jc := range a.JoinColumns {
				if jc.Path == path[len(prefix):] {
					return jc.Column, true
				}
			}
		}
	}
	return "", false
}

// Columns returns every column stored on this type's row: identifier columns
// first, then basic columns and owning to-one join columns.
func (t *ManagedType) Columns() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(c string) {
		if c == "" {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	for _, c := range t.IdentifierColumns() {
		add(c)
	}
	for _, a := range t.Attributes {
		switch a.Kind {
		case KindBasic:
			add(a.Column)
		case KindToOne:
			if !a.ForeignJoinColumn() {
				for _, jc := range a.JoinColumns {
					add(jc.Column)
				}
			}
		}
	}
	if t.VersionColumn != "" {
		add(t.VersionColumn)
	}
	return out
}
