// Package identity resolves caller-supplied identifier values into flattened,
// ordered (path, value) pairs addressed by dotted paths such as "owner.id".
package identity

import (
	"reflect"
	"strings"
)

// Pair is one identifier attribute value. Path is dotted for nested identifiers.
type Pair struct {
	Path  string
	Value any
}

// Identity is an immutable ordered set of identifier pairs.
// The zero value is the empty identity.
type Identity struct {
	pairs []Pair
}

// New builds an identity from pairs in the given order.
func New(pairs ...Pair) Identity {
	if len(pairs) == 0 {
		return Identity{}
	}
	cp := make([]Pair, len(pairs))
	copy(cp, pairs)
	return Identity{pairs: cp}
}

// Of builds a single-pair identity.
func Of(path string, value any) Identity {
	return Identity{pairs: []Pair{{Path: path, Value: value}}}
}

// Len returns the number of pairs.
func (i Identity) Len() int { return len(i.pairs) }

// IsZero reports whether the identity has no pairs.
func (i Identity) IsZero() bool { return len(i.pairs) == 0 }

// Pairs returns a copy of the pairs.
func (i Identity) Pairs() []Pair {
	cp := make([]Pair, len(i.pairs))
	copy(cp, i.pairs)
	return cp
}

// Paths returns the dotted paths in order.
func (i Identity) Paths() []string {
	out := make([]string, len(i.pairs))
	for n, p := range i.pairs {
		out[n] = p.Path
	}
	return out
}

// Values returns the values in order.
func (i Identity) Values() []any {
	out := make([]any, len(i.pairs))
	for n, p := range i.pairs {
		out[n] = p.Value
	}
	return out
}

// Value returns the value stored under path.
func (i Identity) Value(path string) (any, bool) {
	for _, p := range i.pairs {
		if p.Path == path {
			return p.Value, true
		}
	}
	return nil, false
}

// Scalar returns the value of a single-pair identity.
func (i Identity) Scalar() (any, bool) {
	if len(i.pairs) != 1 {
		return nil, false
	}
	return i.pairs[0].Value, true
}

// Sub returns the nested identity stored under prefix with the prefix stripped.
// Sub("owner") of {owner.id: 1, code: "a"} is {id: 1}.
func (i Identity) Sub(prefix string) Identity {
	lead := prefix + "."
	var out []Pair
	for _, p := range i.pairs {
		if strings.HasPrefix(p.Path, lead) {
			out = append(out, Pair{Path: strings.TrimPrefix(p.Path, lead), Value: p.Value})
		}
	}
	return Identity{pairs: out}
}

// Prefixed returns a copy with every path placed under prefix.
func (i Identity) Prefixed(prefix string) Identity {
	out := make([]Pair, len(i.pairs))
	for n, p := range i.pairs {
		out[n] = Pair{Path: prefix + "." + p.Path, Value: p.Value}
	}
	return Identity{pairs: out}
}

// HasNil reports whether any value is nil.
func (i Identity) HasNil() bool {
	for _, p := range i.pairs {
		if p.Value == nil {
			return true
		}
	}
	return false
}

// Equal compares paths and values in order.
func (i Identity) Equal(o Identity) bool {
	if len(i.pairs) != len(o.pairs) {
		return false
	}
	for n := range i.pairs {
		if i.pairs[n].Path != o.pairs[n].Path {
			return false
		}
		if !reflect.DeepEqual(i.pairs[n].Value, o.pairs[n].Value) {
			return false
		}
	}
	return true
}

// SameAs compares values by path regardless of pair order.
func (i Identity) SameAs(o Identity) bool {
	if len(i.pairs) != len(o.pairs) {
		return false
	}
	for _, p := range i.pairs {
		v, ok := o.Value(p.Path)
		if !ok || !reflect.DeepEqual(p.Value, v) {
			return false
		}
	}
	return true
}

// topLevel groups pairs by their first path segment, preserving first-seen order.
// Nested groups are returned as identities.
func (i Identity) topLevel() ([]string, map[string]any) {
	var names []string
	values := make(map[string]any, len(i.pairs))
	for _, p := range i.pairs {
		head, rest, nested := strings.Cut(p.Path, ".")
		if _, seen := values[head]; !seen {
			names = append(names, head)
		}
		if !nested {
			values[head] = p.Value
			continue
		}
		sub, _ := values[head].(Identity)
		sub.pairs = append(sub.pairs, Pair{Path: rest, Value: p.Value})
		values[head] = sub
	}
	return names, values
}

// String renders the identity as {path=value, ...}.
func (i Identity) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for n, p := range i.pairs {
		if n > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Path)
		b.WriteByte('=')
		b.WriteString(formatValue(p.Value))
	}
	b.WriteByte('}')
	return b.String()
}
