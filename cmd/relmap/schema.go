package main

import (
	"context"
	"encoding/json"
	"io"
	"sort"

	"relmap/internal/metadata"
	"relmap/internal/relation"
)

type schemaDoc struct {
	Checksum string      `json:"checksum"`
	Entities []entityDoc `json:"entities"`
}

type entityDoc struct {
	Name         string                  `json:"name"`
	Table        string                  `json:"table"`
	Kind         metadata.EntityKind     `json:"kind"`
	Fields       []fieldDoc              `json:"fields"`
	Collections  []string                `json:"collections,omitempty"`
	ReferencedBy metadata.ForeignKeyData `json:"referencedBy,omitempty"`
}

type fieldDoc struct {
	Name       string             `json:"name"`
	Column     string             `json:"column"`
	Type       metadata.FieldType `json:"type"`
	Nullable   bool               `json:"nullable"`
	References string             `json:"references,omitempty"`
}

func (a *app) schema(ctx context.Context, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(describeSchema(ctx, a.cache))
}

func describeSchema(ctx context.Context, c *metadata.Cache) schemaDoc {
	registry := c.Registry()
	doc := schemaDoc{Checksum: registry.Checksum()}

	for _, def := range registry.List() {
		ed := entityDoc{
			Name:  def.Name,
			Table: def.Table,
			Kind:  def.Kind,
		}
		for _, f := range def.Fields {
			ed.Fields = append(ed.Fields, fieldDoc{
				Name:       f.Name,
				Column:     f.Column,
				Type:       f.Type,
				Nullable:   f.Nullable,
				References: f.ReferenceType,
			})
		}

		fk := c.ForeignKeyData(ctx, def.Name)
		if len(fk) > 0 {
			ed.ReferencedBy = fk
			ed.Collections = collectionNames(def, fk)
		}
		doc.Entities = append(doc.Entities, ed)
	}
	return doc
}

// collectionNames lists every name the entity's collections answer to.
func collectionNames(def *metadata.EntityDef, fk metadata.ForeignKeyData) []string {
	var names []string
	for owner := range fk {
		plural := metadata.CollectionName(owner)
		props := fk.Properties(owner)
		if len(props) == 1 {
			names = append(names, plural)
		}
		for _, p := range props {
			names = append(names, plural+"By"+p)
		}
	}
	if def.Kind == metadata.KindSelfReferenced {
		if _, ok := fk[def.Name][relation.ParentProperty(def.Name)]; ok {
			names = append(names, relation.ChildrenCollection)
		}
	}
	sort.Strings(names)
	return names
}
