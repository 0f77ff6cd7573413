package derive

import (
	"github.com/rpattn/featuremart/internal/domain"
)

// Selector projects the derived matrix down to the persisted feature set
// and renames each column to its warehouse-facing name.
type Selector struct {
	features []domain.FeatureSelection
}

// NewSelector creates a selector for the schema's feature list.
func NewSelector(schema domain.PipelineSchema) *Selector {
	return &Selector{features: schema.Features}
}

// Select returns a matrix holding only the selected features under their
// output names. A selection naming a column the derivation did not produce
// fails the run; it means the schema's relationships and feature list have
// drifted apart.
func (s *Selector) Select(matrix Matrix) (Matrix, error) {
	available := make(map[string]struct{}, len(matrix.Columns))
	for _, column := range matrix.Columns {
		available[column] = struct{}{}
	}
	for _, feature := range s.features {
		if _, ok := available[feature.Source]; !ok {
			return Matrix{}, &domain.MissingFeatureError{Feature: feature.Source}
		}
	}

	selected := Matrix{
		Columns: make([]string, 0, len(s.features)),
		Rows:    make(map[domain.OrderDetailKey]domain.Row, len(matrix.Rows)),
	}
	for _, feature := range s.features {
		selected.Columns = append(selected.Columns, feature.Output)
	}
	for key, row := range matrix.Rows {
		out := make(domain.Row, len(s.features))
		for _, feature := range s.features {
			out[feature.Output] = row[feature.Source]
		}
		selected.Rows[key] = out
	}
	return selected, nil
}
