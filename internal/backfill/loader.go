package backfill

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rpattn/featuremart/internal/domain"
	"github.com/rpattn/featuremart/internal/pipeline"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// ErrUnsupportedFormat is returned for file extensions the loader cannot
// parse.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Loader replays a historical sales export through the pipeline in batches.
// Each batch travels the same path as a push delivery, so batches are
// atomic and the sink stays idempotent per batch message ID.
type Loader struct {
	schema  domain.PipelineSchema
	service *pipeline.Service
	batch   int
	logger  *zap.Logger
}

func NewLoader(schema domain.PipelineSchema, service *pipeline.Service, batchSize int, logger *zap.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{schema: schema, service: service, batch: batchSize, logger: logger}
}

// Summary reports a whole backfill run.
type Summary struct {
	Batches      int   `json:"batches"`
	Records      int   `json:"records"`
	RowsAppended int64 `json:"rows_appended"`
	// Rejected counts poison batches that were logged and dropped.
	Rejected int `json:"rejected"`
}

// Run streams the file at path through the pipeline.
func (l *Loader) Run(ctx context.Context, path, runID string) (Summary, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return l.RunPayload(ctx, filepath.Base(path), payload, runID)
}

// RunPayload streams an in-memory export through the pipeline. Batch
// message IDs are backfill:<runID>:<index>, so re-running the same file
// with the same run ID appends nothing twice. Poison batches are dropped
// and counted; transient failures abort the run so it can be retried.
func (l *Loader) RunPayload(ctx context.Context, fileName string, payload []byte, runID string) (Summary, error) {
	records, err := l.parse(fileName, payload)
	if err != nil {
		return Summary{}, err
	}
	if runID == "" {
		runID = uuid.New().String()
	}
	source := "backfill:" + fileName

	var summary Summary
	for start := 0; start < len(records); start += l.batch {
		end := start + l.batch
		if end > len(records) {
			end = len(records)
		}
		index := start / l.batch
		messageID := fmt.Sprintf("backfill:%s:%d", runID, index)

		result, err := l.service.Process(ctx, messageID, source, records[start:end])
		if err != nil {
			if domain.Classify(err) == domain.FailurePoison {
				l.logger.Warn("batch rejected",
					zap.Int("batch", index),
					zap.String("message_id", messageID),
					zap.Error(err))
				summary.Rejected++
				continue
			}
			return summary, fmt.Errorf("batch %d failed: %w", index, err)
		}

		summary.Batches++
		summary.Records += result.Records
		summary.RowsAppended += result.Sink.TotalRows()
		l.logger.Info("batch loaded",
			zap.Int("batch", index),
			zap.String("message_id", messageID),
			zap.Int("records", result.Records),
			zap.Int64("rows_appended", result.Sink.TotalRows()),
			zap.Strings("skipped", result.Sink.Skipped))
	}
	return summary, nil
}

func (l *Loader) parse(fileName string, payload []byte) ([]domain.RawRecord, error) {
	var rows [][]string
	var err error
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".csv":
		rows, err = parseCSV(payload)
	case ".xlsx":
		rows, err = parseXLSX(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	return l.recordsFromRows(rows)
}

func parseCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	rows, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return rows, nil
}

func parseXLSX(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
}

// recordsFromRows maps the first non-empty row as the header and every
// later non-empty row to a raw record. Columns outside the schema, such as
// a Row ID counter, are ignored.
func (l *Loader) recordsFromRows(rows [][]string) ([]domain.RawRecord, error) {
	var headers []string
	var records []domain.RawRecord

	known := make(map[string]bool)
	for _, name := range l.inputFields() {
		known[name] = true
	}

	for _, row := range rows {
		if rowEmpty(row) {
			continue
		}
		if headers == nil {
			headers = make([]string, len(row))
			for i, cell := range row {
				headers[i] = strings.TrimSpace(cell)
			}
			if err := l.validateHeaders(headers); err != nil {
				return nil, err
			}
			continue
		}

		row = padRow(row, len(headers))
		record := make(domain.RawRecord, len(headers))
		for i, header := range headers {
			if !known[header] {
				continue
			}
			record[header] = row[i]
		}
		records = append(records, record)
	}

	if headers == nil {
		return nil, errors.New("no rows found in file")
	}
	return records, nil
}

// inputFields returns the distinct flat field names across all entities,
// in schema order.
func (l *Loader) inputFields() []string {
	var names []string
	seen := make(map[string]bool)
	for _, entity := range l.schema.Entities {
		for _, field := range entity.Fields {
			if seen[field.Name] {
				continue
			}
			seen[field.Name] = true
			names = append(names, field.Name)
		}
	}
	return names
}

func (l *Loader) validateHeaders(headers []string) error {
	present := make(map[string]bool, len(headers))
	for _, header := range headers {
		present[header] = true
	}

	var missing []string
	for _, name := range l.inputFields() {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("file is missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
