package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/rpattn/featuremart/internal/domain"
)

// MemoryWarehouse is an in-process WarehouseSink with the same per-message
// ledger semantics as the Postgres sink. Backfill dry runs and tests use
// it. Tables append sequentially, so a mid-request failure leaves earlier
// tables written and ledgered, exactly like a partial failure of the real
// sink.
type MemoryWarehouse struct {
	mu     sync.Mutex
	schema domain.PipelineSchema
	tables map[string][]domain.Row
	ledger map[string]map[string]struct{}
	failOn map[string]error
}

// NewMemoryWarehouse creates an empty in-memory sink for the schema.
func NewMemoryWarehouse(schema domain.PipelineSchema) *MemoryWarehouse {
	return &MemoryWarehouse{
		schema: schema,
		tables: make(map[string][]domain.Row),
		ledger: make(map[string]map[string]struct{}),
		failOn: make(map[string]error),
	}
}

// FailTable makes subsequent appends to the named warehouse table fail with
// err. Passing a nil error clears the injection.
func (m *MemoryWarehouse) FailTable(table string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failOn, table)
		return
	}
	m.failOn[table] = err
}

func (m *MemoryWarehouse) Append(ctx context.Context, req AppendRequest) (AppendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.MessageID == "" {
		return AppendResult{}, fmt.Errorf("append request has no message id")
	}

	claimed, ok := m.ledger[req.MessageID]
	if !ok {
		claimed = make(map[string]struct{})
		m.ledger[req.MessageID] = claimed
	}

	result := AppendResult{RowsWritten: make(map[string]int64, len(req.Tables))}
	for _, table := range req.Tables {
		entity, ok := m.schema.Entity(table.Entity)
		if !ok {
			return AppendResult{}, &domain.SinkWriteError{Table: table.Entity, Err: fmt.Errorf("unknown entity")}
		}
		if err := m.failOn[entity.Table]; err != nil {
			return AppendResult{}, &domain.SinkWriteError{Table: entity.Table, Err: err}
		}
		if _, dup := claimed[entity.Table]; dup {
			result.Skipped = append(result.Skipped, entity.Table)
			continue
		}
		claimed[entity.Table] = struct{}{}
		for _, row := range table.Rows {
			m.tables[entity.Table] = append(m.tables[entity.Table], row.Clone())
		}
		result.RowsWritten[entity.Table] = int64(len(table.Rows))
	}
	return result, nil
}

// Rows returns a copy of everything appended to one warehouse table.
func (m *MemoryWarehouse) Rows(table string) []domain.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]domain.Row, 0, len(m.tables[table]))
	for _, row := range m.tables[table] {
		rows = append(rows, row.Clone())
	}
	return rows
}

// RowCount returns the number of rows appended to one warehouse table.
func (m *MemoryWarehouse) RowCount(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}
