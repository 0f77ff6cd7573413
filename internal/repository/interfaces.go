package repository

import (
	"context"

	"github.com/rpattn/featuremart/internal/domain"
)

// AppendRequest carries one message's finished tables to the warehouse.
type AppendRequest struct {
	MessageID string
	Tables    []domain.Table
}

// AppendResult reports what one delivery actually wrote. Tables claimed by
// an earlier delivery of the same message are listed in Skipped.
type AppendResult struct {
	RowsWritten map[string]int64
	Skipped     []string
}

// TotalRows returns the number of rows written across all tables.
func (r AppendResult) TotalRows() int64 {
	var total int64
	for _, rows := range r.RowsWritten {
		total += rows
	}
	return total
}

// WarehouseSink defines the interface for append-only warehouse writes.
// Implementations must be idempotent per (message, table): redelivering a
// message appends only the tables that have not landed yet, never a second
// copy.
type WarehouseSink interface {
	Append(ctx context.Context, req AppendRequest) (AppendResult, error)
}

// IngestionJobRepository defines the interface for the pipeline audit log.
type IngestionJobRepository interface {
	Record(ctx context.Context, job domain.IngestionJob) error
	List(ctx context.Context, messageID string, limit int, offset int) ([]domain.IngestionJob, error)
}
