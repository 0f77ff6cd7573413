package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/featuremart/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

type postgresWarehouse struct {
	pool    *pgxpool.Pool
	schema  domain.PipelineSchema
	dataset string
}

// NewPostgresWarehouse wires the append-only warehouse sink backed by
// pgxpool. Each table write runs in its own transaction guarded by the
// sink_appends ledger, so a redelivered message completes only the tables
// a previous delivery did not land.
func NewPostgresWarehouse(pool *pgxpool.Pool, schema domain.PipelineSchema, dataset string) WarehouseSink {
	return &postgresWarehouse{pool: pool, schema: schema, dataset: dataset}
}

func (w *postgresWarehouse) Append(ctx context.Context, req AppendRequest) (AppendResult, error) {
	if w.pool == nil {
		return AppendResult{}, fmt.Errorf("warehouse sink not initialized")
	}
	if req.MessageID == "" {
		return AppendResult{}, fmt.Errorf("append request has no message id")
	}

	type outcome struct {
		table   string
		written int64
		skipped bool
	}
	outcomes := make([]outcome, len(req.Tables))

	// The four tables are schema-disjoint, so they write concurrently.
	group, ctx := errgroup.WithContext(ctx)
	for i, table := range req.Tables {
		group.Go(func() error {
			entity, ok := w.schema.Entity(table.Entity)
			if !ok {
				return &domain.SinkWriteError{Table: table.Entity, Err: fmt.Errorf("unknown entity")}
			}
			written, skipped, err := w.appendTable(ctx, req.MessageID, entity, table)
			if err != nil {
				return &domain.SinkWriteError{Table: entity.Table, Err: err}
			}
			outcomes[i] = outcome{table: entity.Table, written: written, skipped: skipped}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return AppendResult{}, err
	}

	result := AppendResult{RowsWritten: make(map[string]int64, len(outcomes))}
	for _, out := range outcomes {
		if out.skipped {
			result.Skipped = append(result.Skipped, out.table)
			continue
		}
		result.RowsWritten[out.table] = out.written
	}
	return result, nil
}

func (w *postgresWarehouse) appendTable(ctx context.Context, messageID string, entity domain.EntitySchema, table domain.Table) (int64, bool, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ledger := pgx.Identifier{w.dataset, "sink_appends"}.Sanitize()
	tag, err := tx.Exec(
		ctx,
		fmt.Sprintf(`INSERT INTO %s (message_id, table_name) VALUES ($1, $2) ON CONFLICT DO NOTHING`, ledger),
		messageID,
		entity.Table,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to claim append slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// An earlier delivery already appended this table.
		return 0, true, nil
	}

	columns, rows := copyPlan(entity, table, messageID, time.Now().UTC())
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{w.dataset, entity.Table}, columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, false, fmt.Errorf("failed to copy rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("failed to commit append: %w", err)
	}
	return int64(len(rows)), false, nil
}

// copyPlan maps a table's attribute names to warehouse columns and lays its
// rows out for CopyFrom, appending message_id and loaded_at provenance.
func copyPlan(entity domain.EntitySchema, table domain.Table, messageID string, loadedAt time.Time) ([]string, [][]any) {
	columns := make([]string, 0, len(table.Columns)+2)
	for _, name := range table.Columns {
		columns = append(columns, entity.ColumnFor(name))
	}
	columns = append(columns, "message_id", "loaded_at")

	rows := make([][]any, 0, len(table.Rows))
	for _, row := range table.Rows {
		values := make([]any, 0, len(columns))
		for _, name := range table.Columns {
			values = append(values, row[name])
		}
		values = append(values, messageID, loadedAt)
		rows = append(rows, values)
	}
	return columns, rows
}
