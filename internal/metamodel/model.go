package metamodel

import (
	"fmt"
	"sort"
	"sync"

	"viewsync/internal/core/apperror"
)

// Model is the registry of managed types. It is mutable until Freeze.
type Model struct {
	mu     sync.RWMutex
	types  map[string]*ManagedType
	order  []string
	frozen bool
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{types: make(map[string]*ManagedType)}
}

// Register adds a type. Registering after Freeze or twice under one name fails.
func (m *Model) Register(t *ManagedType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return apperror.NewInvalidModel(t.Name, "model is frozen")
	}
	if t.Name == "" || t.Table == "" {
		return apperror.NewInvalidModel(t.Name, "type requires a name and a table")
	}
	if _, dup := m.types[t.Name]; dup {
		return apperror.NewInvalidModel(t.Name, "type registered twice")
	}
	m.types[t.Name] = t
	m.order = append(m.order, t.Name)
	return nil
}

// Type returns the type registered under name.
func (m *Model) Type(name string) (*ManagedType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.types[name]
	return t, ok
}

// MustType returns the type registered under name and panics when absent.
// Use only for tests and static wiring.
func (m *Model) MustType(name string) *ManagedType {
	t, ok := m.Type(name)
	if !ok {
		panic(fmt.Sprintf("metamodel: type %q not registered", name))
	}
	return t
}

// Types returns all types in registration order.
func (m *Model) Types() []*ManagedType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ManagedType, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, m.types[n])
	}
	return out
}

// Freeze resolves references, validates every mapping against the declared
// identifier paths and marks cascade cycle attributes. The model must not be
// changed afterwards.
func (m *Model) Freeze() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return nil
	}

	for _, n := range m.order {
		if err := m.resolve(m.types[n]); err != nil {
			return err
		}
	}
	for _, n := range m.order {
		if err := checkIdentifierChain(m.types[n], nil); err != nil {
			return err
		}
	}
	for _, n := range m.order {
		if err := validate(m.types[n]); err != nil {
			return err
		}
	}
	for _, n := range m.order {
		t := m.types[n]
		for _, a := range t.Attributes {
			if a.DeleteCascade && a.target != nil {
				a.cycle = reaches(a.target, t, map[*ManagedType]bool{})
			}
		}
	}
	m.frozen = true
	return nil
}

func (m *Model) resolve(t *ManagedType) error {
	if len(t.ID) == 0 {
		return apperror.NewInvalidModel(t.Name, "type declares no identifier attributes")
	}
	for _, a := range append(append([]*Attribute(nil), t.ID...), t.Attributes...) {
		a.declaring = t
		if a.Target == "" {
			continue
		}
		target, ok := m.types[a.Target]
		if !ok {
			return apperror.NewInvalidModel(t.Name, fmt.Sprintf("attribute %s references unknown type %s", a.Name, a.Target))
		}
		a.target = target
	}
	return nil
}

// checkIdentifierChain rejects types whose identifier references lead back to themselves.
func checkIdentifierChain(t *ManagedType, visiting []*ManagedType) error {
	for _, v := range visiting {
		if v == t {
			return apperror.NewInvalidModel(t.Name, "identifier references form a cycle")
		}
	}
	for _, a := range t.ID {
		if a.target != nil {
			if err := checkIdentifierChain(a.target, append(visiting, t)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validate(t *ManagedType) error {
	for _, a := range t.ID {
		switch a.Kind {
		case KindBasic:
			if a.Column == "" {
				return invalidAttr(t, a, "identifier attribute requires a column")
			}
		case KindToOne:
			if a.target == nil || a.ForeignJoinColumn() {
				return invalidAttr(t, a, "identifier relation must own its join columns")
			}
			if err := coverPaths(t, a, a.JoinColumns, a.target.IdentifierPaths()); err != nil {
				return err
			}
		default:
			return invalidAttr(t, a, "identifier attribute must be basic or to-one")
		}
	}

	for _, a := range t.Attributes {
		switch a.Kind {
		case KindBasic:
			if a.Column == "" {
				return invalidAttr(t, a, "basic attribute requires a column")
			}
		case KindToOne:
			if a.target == nil {
				return invalidAttr(t, a, "to-one attribute requires a target")
			}
			if a.ForeignJoinColumn() {
				if err := checkMappedBy(t, a); err != nil {
					return err
				}
				continue
			}
			if err := coverPaths(t, a, a.JoinColumns, a.target.IdentifierPaths()); err != nil {
				return err
			}
		case KindCollection, KindMap:
			if a.ForeignJoinColumn() {
				if a.target == nil {
					return invalidAttr(t, a, "mapped-by plural requires an entity target")
				}
				if err := checkMappedBy(t, a); err != nil {
					return err
				}
				continue
			}
			jt := a.JoinTable
			if jt == nil || jt.Name == "" {
				return invalidAttr(t, a, "plural attribute requires mappedBy or a join table")
			}
			if err := coverPaths(t, a, jt.OwnerColumns, t.IdentifierPaths()); err != nil {
				return err
			}
			if a.target != nil {
				if err := coverPaths(t, a, jt.ElementColumns, a.target.IdentifierPaths()); err != nil {
					return err
				}
			} else if jt.ValueColumn == "" {
				return invalidAttr(t, a, "collection table of basic values requires a value column")
			}
			if a.Kind == KindMap && jt.KeyColumn == "" {
				return invalidAttr(t, a, "map attribute requires a key column")
			}
		default:
			return invalidAttr(t, a, fmt.Sprintf("unknown attribute kind %q", a.Kind))
		}
	}

	for _, p := range t.IdentifierPaths() {
		if _, ok := t.ColumnFor(p); !ok {
			return apperror.NewInvalidModel(t.Name, fmt.Sprintf("identifier path %s has no column", p))
		}
	}
	return nil
}

// checkMappedBy asserts that the inverse side names an owning to-one back to t.
func checkMappedBy(t *ManagedType, a *Attribute) error {
	back := a.target.Attribute(a.MappedBy)
	if back == nil {
		return invalidAttr(t, a, fmt.Sprintf("mappedBy %s.%s does not exist", a.target.Name, a.MappedBy))
	}
	if back.Kind != KindToOne || back.ForeignJoinColumn() || back.Target != t.Name {
		return invalidAttr(t, a, fmt.Sprintf("mappedBy %s.%s must be an owning to-one referencing %s", a.target.Name, a.MappedBy, t.Name))
	}
	return nil
}

// coverPaths asserts that jcs map every path in want exactly once.
func coverPaths(t *ManagedType, a *Attribute, jcs []JoinColumn, want []string) error {
	got := make([]string, 0, len(jcs))
	for _, jc := range jcs {
		if jc.Column == "" {
			return invalidAttr(t, a, fmt.Sprintf("join column for %s has no column name", jc.Path))
		}
		got = append(got, jc.Path)
	}
	sortedWant := append([]string(nil), want...)
	sort.Strings(sortedWant)
	sort.Strings(got)
	if len(got) != len(sortedWant) {
		return invalidAttr(t, a, fmt.Sprintf("join columns %v do not match identifier paths %v", got, sortedWant))
	}
	for i := range got {
		if got[i] != sortedWant[i] {
			return invalidAttr(t, a, fmt.Sprintf("join columns %v do not match identifier paths %v", got, sortedWant))
		}
	}
	return nil
}

func invalidAttr(t *ManagedType, a *Attribute, msg string) error {
	return apperror.NewInvalidModel(t.Name, fmt.Sprintf("%s.%s: %s", t.Name, a.Name, msg)).
		WithDetail("attribute", a.Name)
}

// reaches reports whether to is reachable from from by following cascade edges.
func reaches(from, to *ManagedType, seen map[*ManagedType]bool) bool {
	if from == to {
		return true
	}
	if seen[from] {
		return false
	}
	seen[from] = true
	for _, a := range from.Attributes {
		if a.DeleteCascade && a.target != nil && reaches(a.target, to, seen) {
			return true
		}
	}
	return false
}

// CheckCascade returns a CASCADE_CYCLE_DETECTED error when deleting through a
// would revisit a type already on the current deletion path.
func CheckCascade(path []*ManagedType, a *Attribute) error {
	if a.cycle {
		return apperror.NewCascadeCycle(a.declaring.Name, a.Name)
	}
	if a.target == nil {
		return nil
	}
	for _, t := range path {
		if t == a.target {
			return apperror.NewCascadeCycle(a.declaring.Name, a.Name)
		}
	}
	return nil
}
