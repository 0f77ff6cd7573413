// Package derive computes ancestor aggregates over the entity graph and
// folds the selected feature set back onto the target entity's rows.
package derive

import (
	"fmt"
	"time"

	"github.com/rpattn/featuremart/internal/domain"
	"github.com/rpattn/featuremart/internal/entitygraph"

	"golang.org/x/sync/errgroup"
)

// Aggregation names as they appear in derived column names.
const (
	aggCount = "COUNT"
	aggSum   = "SUM"
	aggMean  = "MEAN"
	aggMax   = "MAX"
	fnMonth  = "MONTH"
	fnYear   = "YEAR"
)

// Matrix holds the derived feature columns for every target row, keyed by
// the row's composite identity. Column order is fixed by the schema's
// relationship and field declaration order.
type Matrix struct {
	Columns []string
	Rows    map[domain.OrderDetailKey]domain.Row
}

// Engine derives one-hop ancestor features for the target entity: COUNT,
// SUM, MEAN and MAX over the target's numeric attributes grouped per
// ancestor, plus MONTH and YEAR of each ancestor timestamp, broadcast back
// to every target row of that ancestor. The graph can hold deeper ancestry
// but no multi-hop columns are generated; every consumed feature is one hop
// from the target.
type Engine struct {
	schema domain.PipelineSchema
}

// NewEngine creates an engine for the pipeline schema.
func NewEngine(schema domain.PipelineSchema) *Engine {
	return &Engine{schema: schema}
}

// Derive computes the feature matrix for the graph's target table.
// Relationships derive concurrently; parts merge in schema order keyed by
// row identity, so completion order cannot change the output.
func (e *Engine) Derive(graph *entitygraph.Graph) (Matrix, error) {
	target, ok := graph.Table(e.schema.Target)
	if !ok {
		return Matrix{}, fmt.Errorf("graph has no target table %q", e.schema.Target)
	}

	keys := make([]domain.OrderDetailKey, len(target.Rows))
	for i, row := range target.Rows {
		key, err := domain.DetailKey(row)
		if err != nil {
			return Matrix{}, fmt.Errorf("target row %d: %w", i, err)
		}
		keys[i] = key
	}

	rels := graph.Relationships()
	parts := make([]relationshipFeatures, len(rels))
	var group errgroup.Group
	for i, rel := range rels {
		group.Go(func() error {
			part, err := e.deriveRelationship(graph, rel, target)
			if err != nil {
				return fmt.Errorf("derive %s: %w", rel.Name(), err)
			}
			parts[i] = part
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Matrix{}, err
	}

	matrix := Matrix{Rows: make(map[domain.OrderDetailKey]domain.Row, len(target.Rows))}
	for i, key := range keys {
		row := make(domain.Row)
		for _, part := range parts {
			for _, column := range part.columns {
				row[column] = part.values[i][column]
			}
		}
		matrix.Rows[key] = row
	}
	for _, part := range parts {
		matrix.Columns = append(matrix.Columns, part.columns...)
	}
	return matrix, nil
}

// relationshipFeatures carries one relationship's derived columns with
// values aligned to the target table's row order.
type relationshipFeatures struct {
	columns []string
	values  []domain.Row
}

func (e *Engine) deriveRelationship(graph *entitygraph.Graph, rel domain.Relationship, target domain.Table) (relationshipFeatures, error) {
	parentSchema, ok := e.schema.Entity(rel.Parent)
	if !ok {
		return relationshipFeatures{}, fmt.Errorf("unknown parent entity %q", rel.Parent)
	}
	childSchema, ok := e.schema.Entity(rel.Child)
	if !ok {
		return relationshipFeatures{}, fmt.Errorf("unknown child entity %q", rel.Child)
	}

	var numericFields []domain.FieldDefinition
	for _, field := range childSchema.Fields {
		if field.Type.Numeric() {
			numericFields = append(numericFields, field)
		}
	}
	var timeFields []domain.FieldDefinition
	for _, field := range parentSchema.Fields {
		if field.Type == domain.FieldTypeTimestamp {
			timeFields = append(timeFields, field)
		}
	}

	countCol := countColumn(rel.Parent, rel.Child)
	columns := []string{countCol}
	for _, field := range numericFields {
		columns = append(columns,
			aggColumn(rel.Parent, aggSum, rel.Child, field.Name),
			aggColumn(rel.Parent, aggMean, rel.Child, field.Name),
			aggColumn(rel.Parent, aggMax, rel.Child, field.Name),
		)
	}
	for _, field := range timeFields {
		columns = append(columns,
			calendarColumn(rel.Parent, fnMonth, field.Name),
			calendarColumn(rel.Parent, fnYear, field.Name),
		)
	}

	parents := graph.ParentIndex(rel)

	// Every known ancestor gets a group so aggregation over an ancestor with
	// zero target rows stays defined: count 0, sum 0, null mean and max.
	groups := make(map[string]*groupAggregate, len(parents))
	for key := range parents {
		groups[key] = newGroupAggregate(numericFields)
	}
	for _, row := range target.Rows {
		key := entitygraph.KeyString(row[rel.ChildKey])
		if agg, ok := groups[key]; ok {
			agg.observe(row)
		}
	}

	values := make([]domain.Row, len(target.Rows))
	for i, row := range target.Rows {
		featureRow := make(domain.Row, len(columns))
		key := entitygraph.KeyString(row[rel.ChildKey])
		parent, ok := parents[key]
		if !ok {
			// No ancestor to join against: every derived value is null.
			for _, column := range columns {
				featureRow[column] = nil
			}
			values[i] = featureRow
			continue
		}
		agg := groups[key]
		featureRow[countCol] = agg.count
		for _, field := range numericFields {
			stats := agg.stats[field.Name]
			featureRow[aggColumn(rel.Parent, aggSum, rel.Child, field.Name)] = stats.sum()
			featureRow[aggColumn(rel.Parent, aggMean, rel.Child, field.Name)] = stats.mean()
			featureRow[aggColumn(rel.Parent, aggMax, rel.Child, field.Name)] = stats.max()
		}
		for _, field := range timeFields {
			monthCol := calendarColumn(rel.Parent, fnMonth, field.Name)
			yearCol := calendarColumn(rel.Parent, fnYear, field.Name)
			if ts, ok := parent[field.Name].(time.Time); ok {
				featureRow[monthCol] = int64(ts.Month())
				featureRow[yearCol] = int64(ts.Year())
			} else {
				featureRow[monthCol] = nil
				featureRow[yearCol] = nil
			}
		}
		values[i] = featureRow
	}
	return relationshipFeatures{columns: columns, values: values}, nil
}

func countColumn(parent, child string) string {
	return fmt.Sprintf("%s.%s(%s)", parent, aggCount, child)
}

func aggColumn(parent, agg, child, attr string) string {
	return fmt.Sprintf("%s.%s(%s.%s)", parent, agg, child, attr)
}

func calendarColumn(parent, fn, attr string) string {
	return fmt.Sprintf("%s.%s(%s)", parent, fn, attr)
}

// groupAggregate accumulates one ancestor's statistics over its target rows.
type groupAggregate struct {
	count int64
	stats map[string]*fieldStats
}

func newGroupAggregate(fields []domain.FieldDefinition) *groupAggregate {
	stats := make(map[string]*fieldStats, len(fields))
	for _, field := range fields {
		stats[field.Name] = &fieldStats{kind: field.Type}
	}
	return &groupAggregate{stats: stats}
}

func (g *groupAggregate) observe(row domain.Row) {
	g.count++
	for name, stats := range g.stats {
		stats.observe(row[name])
	}
}

// fieldStats accumulates SUM, MEAN and MAX for one numeric attribute. Null
// values count toward nothing; a group with no non-null observations keeps
// a typed zero sum and null mean and max.
type fieldStats struct {
	kind domain.FieldType
	n    int64
	sumI int64
	sumF float64
	maxI int64
	maxF float64
}

func (s *fieldStats) observe(value any) {
	switch v := value.(type) {
	case int64:
		if s.n == 0 || v > s.maxI {
			s.maxI = v
		}
		s.sumI += v
		s.n++
	case float64:
		if s.n == 0 || v > s.maxF {
			s.maxF = v
		}
		s.sumF += v
		s.n++
	}
}

func (s *fieldStats) sum() any {
	if s.kind == domain.FieldTypeInteger {
		return s.sumI
	}
	return s.sumF
}

func (s *fieldStats) mean() any {
	if s.n == 0 {
		return nil
	}
	return (s.sumF + float64(s.sumI)) / float64(s.n)
}

func (s *fieldStats) max() any {
	if s.n == 0 {
		return nil
	}
	if s.kind == domain.FieldTypeInteger {
		return s.maxI
	}
	return s.maxF
}
