// Package metamodeltest builds the models shared by engine tests.
package metamodeltest

import (
	"viewsync/internal/metamodel"
)

func basic(name, column string) *metamodel.Attribute {
	return &metamodel.Attribute{Name: name, Kind: metamodel.KindBasic, Column: column}
}

func jc(path, column string) metamodel.JoinColumn {
	return metamodel.JoinColumn{Path: path, Column: column}
}

// Model returns a frozen model with these types:
//
//	Owner      owners        id; title; version
//	  dependents -> Dependent (mapped by owner, cascade)
//	  items      -> Item      (mapped by owner, no cascade)
//	  tags       -> Tag       (join table owner_tags)
//	  notes      basic values (collection table owner_notes)
//	  labels     basic map    (collection table owner_labels keyed by lang)
//	  profile    -> Profile   (owner row holds profile_id, cascade)
//	Dependent  dependents    id {owner, code}; amount
//	  detail     -> Grandchild (dependent row holds detail_*, cascade)
//	Grandchild grandchildren id {dep {owner.id, code}, tag}; note
//	Profile    profiles      id; bio
//	Item       items         id; name; owner -> Owner (owner_id)
//	Tag        tags          id; name
//	A          a_rows        id; bs -> B (mapped by a, cascade)
//	B          b_rows        id; a -> A (a_id, cascade)
func Model() *metamodel.Model {
	m := metamodel.NewModel()

	owner := &metamodel.ManagedType{
		Name:          "Owner",
		Table:         "owners",
		VersionColumn: "version",
		ID:            []*metamodel.Attribute{basic("id", "id")},
		Attributes: []*metamodel.Attribute{
			basic("title", "title"),
			{Name: "dependents", Kind: metamodel.KindCollection, Target: "Dependent", MappedBy: "owner", DeleteCascade: true},
			{Name: "items", Kind: metamodel.KindCollection, Target: "Item", MappedBy: "owner"},
			{Name: "tags", Kind: metamodel.KindCollection, Target: "Tag", JoinTable: &metamodel.JoinTable{
				Name:           "owner_tags",
				OwnerColumns:   []metamodel.JoinColumn{jc("id", "owner_id")},
				ElementColumns: []metamodel.JoinColumn{jc("id", "tag_id")},
			}},
			{Name: "notes", Kind: metamodel.KindCollection, JoinTable: &metamodel.JoinTable{
				Name:         "owner_notes",
				OwnerColumns: []metamodel.JoinColumn{jc("id", "owner_id")},
				ValueColumn:  "note",
			}},
			{Name: "labels", Kind: metamodel.KindMap, JoinTable: &metamodel.JoinTable{
				Name:         "owner_labels",
				OwnerColumns: []metamodel.JoinColumn{jc("id", "owner_id")},
				KeyColumn:    "lang",
				ValueColumn:  "label",
			}},
			{Name: "profile", Kind: metamodel.KindToOne, Target: "Profile", JoinColumns: []metamodel.JoinColumn{jc("id", "profile_id")}, DeleteCascade: true},
		},
	}

	dependent := &metamodel.ManagedType{
		Name:  "Dependent",
		Table: "dependents",
		ID: []*metamodel.Attribute{
			{Name: "owner", Kind: metamodel.KindToOne, Target: "Owner", JoinColumns: []metamodel.JoinColumn{jc("id", "owner_id")}},
			basic("code", "code"),
		},
		Attributes: []*metamodel.Attribute{
			basic("amount", "amount"),
			{Name: "detail", Kind: metamodel.KindToOne, Target: "Grandchild", DeleteCascade: true, JoinColumns: []metamodel.JoinColumn{
				jc("dep.owner.id", "detail_owner_id"),
				jc("dep.code", "detail_code"),
				jc("tag", "detail_tag"),
			}},
		},
	}

	grandchild := &metamodel.ManagedType{
		Name:  "Grandchild",
		Table: "grandchildren",
		ID: []*metamodel.Attribute{
			{Name: "dep", Kind: metamodel.KindToOne, Target: "Dependent", JoinColumns: []metamodel.JoinColumn{
				jc("owner.id", "dep_owner_id"),
				jc("code", "dep_code"),
			}},
			basic("tag", "tag"),
		},
		Attributes: []*metamodel.Attribute{basic("note", "note")},
	}

	profile := &metamodel.ManagedType{
		Name:       "Profile",
		Table:      "profiles",
		ID:         []*metamodel.Attribute{basic("id", "id")},
		Attributes: []*metamodel.Attribute{basic("bio", "bio")},
	}

	item := &metamodel.ManagedType{
		Name:  "Item",
		Table: "items",
		ID:    []*metamodel.Attribute{basic("id", "id")},
		Attributes: []*metamodel.Attribute{
			basic("name", "name"),
			{Name: "owner", Kind: metamodel.KindToOne, Target: "Owner", JoinColumns: []metamodel.JoinColumn{jc("id", "owner_id")}},
		},
	}

	tag := &metamodel.ManagedType{
		Name:       "Tag",
		Table:      "tags",
		ID:         []*metamodel.Attribute{basic("id", "id")},
		Attributes: []*metamodel.Attribute{basic("name", "name")},
	}

	a := &metamodel.ManagedType{
		Name:  "A",
		Table: "a_rows",
		ID:    []*metamodel.Attribute{basic("id", "id")},
		Attributes: []*metamodel.Attribute{
			{Name: "bs", Kind: metamodel.KindCollection, Target: "B", MappedBy: "a", DeleteCascade: true},
		},
	}

	b := &metamodel.ManagedType{
		Name:  "B",
		Table: "b_rows",
		ID:    []*metamodel.Attribute{basic("id", "id")},
		Attributes: []*metamodel.Attribute{
			{Name: "a", Kind: metamodel.KindToOne, Target: "A", JoinColumns: []metamodel.JoinColumn{jc("id", "a_id")}, DeleteCascade: true},
		},
	}

	for _, t := range []*metamodel.ManagedType{owner, dependent, grandchild, profile, item, tag, a, b} {
		if err := m.Register(t); err != nil {
			panic(err)
		}
	}
	if err := m.Freeze(); err != nil {
		panic(err)
	}
	return m
}
