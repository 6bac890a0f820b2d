package identity

import (
	"fmt"
	"sort"

	"viewsync/internal/core/apperror"
)

// Type is the view of a managed type the resolver needs.
type Type interface {
	TypeName() string
	// IdentifierNames returns the declared top-level identifier attribute names.
	IdentifierNames() []string
	// IdentifierTarget returns the referenced type when the named identifier
	// attribute is itself a relation, or nil for a scalar attribute.
	IdentifierTarget(name string) Type
}

// ResolveFor resolves value against the declared identifier attributes of owner.
func ResolveFor(owner Type, value any) (Identity, error) {
	return Resolve(owner, value, owner.IdentifierNames())
}

// Resolve turns an identifier value into a flattened identity.
//
// With exactly one declared name the value is taken as-is for that attribute.
// With several, value must be a composite carrier and must populate every
// declared name and nothing else.
func Resolve(owner Type, value any, declared []string) (Identity, error) {
	if len(declared) == 0 {
		return Identity{}, apperror.NewInvalidModel(owner.TypeName(), "type declares no identifier attributes")
	}
	if value == nil {
		return Identity{}, apperror.NewResolution(owner.TypeName(), apperror.ReasonNullIdentifier,
			fmt.Sprintf("identifier of %s is nil", owner.TypeName()))
	}

	if len(declared) == 1 {
		name := declared[0]
		if id, ok := value.(Identity); ok {
			names, fields := id.topLevel()
			if len(names) == 1 && names[0] == name {
				value = fields[name]
			}
		}
		return resolveAttribute(owner, name, value)
	}

	names, fields, ok := carrierFields(value)
	if !ok {
		return Identity{}, apperror.NewResolution(owner.TypeName(), apperror.ReasonNotComposite,
			fmt.Sprintf("identifier of %s requires a composite value, got %T", owner.TypeName(), value))
	}

	isDeclared := make(map[string]bool, len(declared))
	for _, n := range declared {
		isDeclared[n] = true
	}
	// an undeclared field counts even when nil; a nil declared field is unset
	populated := make([]string, 0, len(names))
	for _, n := range names {
		if !isDeclared[n] || fields[n] != nil {
			populated = append(populated, n)
		}
	}
	if !sameNames(declared, populated) {
		return Identity{}, apperror.NewAttributeCountMismatch(owner.TypeName(), sorted(declared), sorted(populated))
	}

	var pairs []Pair
	for _, name := range declared {
		sub, err := resolveAttribute(owner, name, fields[name])
		if err != nil {
			return Identity{}, err
		}
		pairs = append(pairs, sub.pairs...)
	}
	return Identity{pairs: pairs}, nil
}

// resolveAttribute resolves one identifier attribute, recursing into relations.
func resolveAttribute(owner Type, name string, value any) (Identity, error) {
	target := owner.IdentifierTarget(name)
	if target == nil {
		if _, nested := value.(Identity); nested {
			return Identity{}, apperror.NewResolution(owner.TypeName(), apperror.ReasonAttributeCountMismatch,
				fmt.Sprintf("identifier attribute %s.%s is scalar", owner.TypeName(), name))
		}
		return Of(name, value), nil
	}
	sub, err := ResolveFor(target, value)
	if err != nil {
		return Identity{}, err
	}
	return sub.Prefixed(name), nil
}

// carrierFields reads the fields of a composite carrier.
func carrierFields(value any) ([]string, map[string]any, bool) {
	switch v := value.(type) {
	case Identity:
		names, fields := v.topLevel()
		return names, fields, true
	case Carrier:
		return fromFields(v.IdentifierFields())
	case map[string]any:
		names := make([]string, 0, len(v))
		for k := range v {
			names = append(names, k)
		}
		sort.Strings(names)
		return names, v, true
	}
	if fn, ok := lookupShape(value); ok {
		return fromFields(fn(value))
	}
	return nil, nil, false
}

func fromFields(fields []Field) ([]string, map[string]any, bool) {
	names := make([]string, 0, len(fields))
	values := make(map[string]any, len(fields))
	for _, f := range fields {
		if _, dup := values[f.Name]; !dup {
			names = append(names, f.Name)
		}
		values[f.Name] = f.Value
	}
	return names, values, true
}

func sameNames(declared, got []string) bool {
	if len(declared) != len(got) {
		return false
	}
	set := make(map[string]struct{}, len(got))
	for _, n := range got {
		set[n] = struct{}{}
	}
	for _, n := range declared {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}

func sorted(names []string) []string {
	cp := append([]string(nil), names...)
	sort.Strings(cp)
	return cp
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(v)
}
