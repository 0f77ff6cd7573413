// Package normalize decomposes flat transaction records into the schema's
// entity tables. Projection is all-or-nothing per batch: one bad record
// fails the batch before anything downstream runs.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/featuremart/internal/domain"
)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000000000",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
}

// Normalizer projects flat records onto each entity's attribute subset and
// deduplicates by the entity's identity.
type Normalizer struct {
	schema domain.PipelineSchema
}

// New creates a normalizer for the pipeline schema.
func New(schema domain.PipelineSchema) *Normalizer {
	return &Normalizer{schema: schema}
}

// Tables normalizes the batch into one table per entity, keyed by entity
// name. Row order follows first appearance in the input.
func (n *Normalizer) Tables(records []domain.RawRecord) (map[string]domain.Table, error) {
	tables := make(map[string]domain.Table, len(n.schema.Entities))
	for _, entity := range n.schema.Entities {
		table, err := n.project(entity, records)
		if err != nil {
			return nil, err
		}
		tables[entity.Name] = table
	}
	return tables, nil
}

func (n *Normalizer) project(entity domain.EntitySchema, records []domain.RawRecord) (domain.Table, error) {
	table := domain.NewTable(entity)
	seen := make(map[string]struct{}, len(records))
	for idx, record := range records {
		row := make(domain.Row, len(entity.Fields))
		for _, field := range entity.Fields {
			value, err := coerceField(field, record)
			if err != nil {
				return domain.Table{}, &domain.MalformedRecordError{Index: idx, Field: field.Name, Reason: err.Error()}
			}
			row[field.Name] = value
		}
		id := identity(entity, row)
		if _, dup := seen[id]; dup {
			// First occurrence wins.
			continue
		}
		seen[id] = struct{}{}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// identity encodes the row's dedup key. Parts are quoted before joining so
// values containing the separator cannot collide.
func identity(entity domain.EntitySchema, row domain.Row) string {
	names := entity.Key
	if entity.DedupeByRow {
		names = entity.AttributeNames()
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, strconv.Quote(formatValue(row[name])))
	}
	return strings.Join(parts, "|")
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// coerceField reads one attribute out of the record and coerces it to the
// field's type. Records arrive either JSON-decoded (strings, float64 numbers,
// bools) or as CSV cells (strings only); both shapes are accepted.
func coerceField(field domain.FieldDefinition, record domain.RawRecord) (any, error) {
	raw, present := record[field.Name]
	if !present || raw == nil {
		if field.Required {
			return nil, fmt.Errorf("missing value")
		}
		return nil, nil
	}
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		if field.Required {
			return nil, fmt.Errorf("empty value")
		}
		return nil, nil
	}
	switch field.Type {
	case domain.FieldTypeString:
		return coerceString(raw)
	case domain.FieldTypeInteger:
		return coerceInteger(raw)
	case domain.FieldTypeFloat:
		return coerceFloat(raw)
	case domain.FieldTypeTimestamp:
		return coerceTimestamp(raw)
	default:
		return nil, fmt.Errorf("unsupported field type %q", field.Type)
	}
}

func coerceString(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case float64:
		// Postal codes and similar identifiers arrive as JSON numbers.
		if math.Mod(v, 1) == 0 && !math.IsInf(v, 0) {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return nil, fmt.Errorf("unable to coerce %T to string", raw)
	}
}

func coerceInteger(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		if math.Mod(v, 1) != 0 {
			return nil, fmt.Errorf("unable to coerce %v to integer", v)
		}
		return int64(v), nil
	case string:
		value := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil && math.Mod(f, 1) == 0 {
			return int64(f), nil
		}
		return nil, fmt.Errorf("unable to coerce %q to integer", v)
	default:
		return nil, fmt.Errorf("unable to coerce %T to integer", raw)
	}
}

func coerceFloat(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("unable to coerce %q to float", v)
	default:
		return nil, fmt.Errorf("unable to coerce %T to float", raw)
	}
}

func coerceTimestamp(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("unable to coerce %T to timestamp", raw)
	}
	ts, err := parseTimestamp(s)
	if err != nil {
		return nil, fmt.Errorf("unable to coerce %q to timestamp: %w", s, err)
	}
	return ts, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
