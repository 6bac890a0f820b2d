package metamodel

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is the file format of a model description.
type Definition struct {
	Types []TypeDef `yaml:"types"`
}

// TypeDef describes one managed type.
type TypeDef struct {
	Name       string         `yaml:"name"`
	Table      string         `yaml:"table"`
	Version    string         `yaml:"version,omitempty"`
	ID         []AttributeDef `yaml:"id"`
	Attributes []AttributeDef `yaml:"attributes,omitempty"`
}

// AttributeDef describes one attribute. Kind defaults to basic.
type AttributeDef struct {
	Name          string       `yaml:"name"`
	Kind          Kind         `yaml:"kind,omitempty"`
	Column        string       `yaml:"column,omitempty"`
	Target        string       `yaml:"target,omitempty"`
	JoinColumns   []JoinColumn `yaml:"joinColumns,omitempty"`
	MappedBy      string       `yaml:"mappedBy,omitempty"`
	JoinTable     *JoinTable   `yaml:"joinTable,omitempty"`
	DeleteCascade bool         `yaml:"deleteCascade,omitempty"`
}

func (d AttributeDef) build() *Attribute {
	kind := d.Kind
	if kind == "" {
		kind = KindBasic
	}
	return &Attribute{
		Name:          d.Name,
		Kind:          kind,
		Column:        d.Column,
		Target:        d.Target,
		JoinColumns:   d.JoinColumns,
		MappedBy:      d.MappedBy,
		JoinTable:     d.JoinTable,
		DeleteCascade: d.DeleteCascade,
	}
}

// Build registers every type of the definition into a new model and freezes it.
func (d Definition) Build() (*Model, error) {
	m := NewModel()
	for _, td := range d.Types {
		t := &ManagedType{
			Name:          td.Name,
			Table:         td.Table,
			VersionColumn: td.Version,
		}
		for _, ad := range td.ID {
			t.ID = append(t.ID, ad.build())
		}
		for _, ad := range td.Attributes {
			t.Attributes = append(t.Attributes, ad.build())
		}
		if err := m.Register(t); err != nil {
			return nil, err
		}
	}
	if err := m.Freeze(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadYAML decodes a model definition and builds a frozen model.
func LoadYAML(r io.Reader) (*Model, error) {
	var def Definition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	return def.Build()
}

// LoadYAMLFile reads a model definition from path.
func LoadYAMLFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", path, err)
	}
	defer f.Close()
	return LoadYAML(f)
}
