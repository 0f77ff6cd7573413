// Package entitygraph wires the normalized tables into the declared
// parent-child shape and applies the reference policy before derivation
// runs.
package entitygraph

import (
	"fmt"

	"github.com/rpattn/featuremart/internal/domain"
)

// Graph holds one normalized table per entity together with the schema that
// relates them.
type Graph struct {
	schema domain.PipelineSchema
	tables map[string]domain.Table
}

// Build validates the tables against the schema and assembles the graph.
// Under strict reference checking every child key must resolve to a parent
// row; under the default policy unmatched children pass through and later
// derive null ancestor features.
func Build(schema domain.PipelineSchema, tables map[string]domain.Table, strict bool) (*Graph, error) {
	for _, entity := range schema.Entities {
		table, ok := tables[entity.Name]
		if !ok {
			return nil, fmt.Errorf("no table for entity %q", entity.Name)
		}
		columns := make(map[string]struct{}, len(table.Columns))
		for _, column := range table.Columns {
			columns[column] = struct{}{}
		}
		for _, field := range entity.Fields {
			if _, ok := columns[field.Name]; !ok {
				return nil, fmt.Errorf("entity %q table is missing column %q", entity.Name, field.Name)
			}
		}
	}
	graph := &Graph{schema: schema, tables: tables}
	if strict {
		if err := graph.checkReferences(); err != nil {
			return nil, err
		}
	}
	return graph, nil
}

// Schema returns the pipeline schema the graph was built from.
func (g *Graph) Schema() domain.PipelineSchema {
	return g.schema
}

// Table returns the normalized table for an entity.
func (g *Graph) Table(name string) (domain.Table, bool) {
	table, ok := g.tables[name]
	return table, ok
}

// Relationships returns the declared edges in schema order.
func (g *Graph) Relationships() []domain.Relationship {
	return g.schema.Relationships
}

// ParentIndex maps each distinct parent key value to the first row carrying
// it. Later rows with the same key contribute no attributes of their own;
// grouping for aggregation is by key value, so their children still count.
func (g *Graph) ParentIndex(rel domain.Relationship) map[string]domain.Row {
	table := g.tables[rel.Parent]
	index := make(map[string]domain.Row, len(table.Rows))
	for _, row := range table.Rows {
		key := KeyString(row[rel.ParentKey])
		if _, ok := index[key]; !ok {
			index[key] = row
		}
	}
	return index
}

func (g *Graph) checkReferences() error {
	for _, rel := range g.schema.Relationships {
		index := g.ParentIndex(rel)
		child := g.tables[rel.Child]
		for _, row := range child.Rows {
			key := KeyString(row[rel.ChildKey])
			if _, ok := index[key]; !ok {
				return &domain.DanglingReferenceError{Relationship: rel.Name(), Key: rel.ChildKey, Value: key}
			}
		}
	}
	return nil
}

// KeyString renders a join key value for indexing.
func KeyString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
