package derive

import (
	"fmt"

	"github.com/rpattn/featuremart/internal/domain"
)

// Merge left joins the feature matrix onto the target table by composite
// row identity. Every target row survives exactly once and keeps its
// original attributes; rows without a matrix entry get nulls for every
// feature column. The join key itself never becomes a column.
func Merge(target domain.Table, features Matrix) (domain.Table, error) {
	enriched := domain.Table{
		Entity:  target.Entity,
		Columns: make([]string, 0, len(target.Columns)+len(features.Columns)),
		Rows:    make([]domain.Row, 0, len(target.Rows)),
	}
	enriched.Columns = append(enriched.Columns, target.Columns...)
	enriched.Columns = append(enriched.Columns, features.Columns...)

	for i, row := range target.Rows {
		key, err := domain.DetailKey(row)
		if err != nil {
			return domain.Table{}, fmt.Errorf("target row %d: %w", i, err)
		}
		out := row.Clone()
		featureRow, matched := features.Rows[key]
		for _, column := range features.Columns {
			if !matched {
				out[column] = nil
				continue
			}
			out[column] = featureRow[column]
		}
		enriched.Rows = append(enriched.Rows, out)
	}
	return enriched, nil
}
