package backfill

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rpattn/featuremart/internal/domain"
	"github.com/rpattn/featuremart/internal/pipeline"
	"github.com/rpattn/featuremart/internal/repository"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// sampleHeader matches a raw sales export, including the Row ID counter
// column the pipeline ignores.
const sampleHeader = `Row ID,Order ID,Order Date,Ship Date,Ship Mode,Customer ID,Customer Name,Segment,Country,City,State,Postal Code,Region,Product ID,Category,Sub-Category,Product Name,Sales,Quantity,Discount,Profit`

func sampleLine(rowID, orderID, customerID, productID, profit string) string {
	return strings.Join([]string{
		rowID, orderID, "2016-11-08", "2016-11-11", "Second Class",
		customerID, "Customer " + customerID, "Consumer", "United States",
		"Henderson", "Kentucky", "42420", "South",
		productID, "Furniture", "Bookcases", "Bookcase " + productID,
		"261.96", "2", "0", profit,
	}, ",")
}

func writeCSV(t *testing.T, lines ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sales.csv")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}
	return path
}

func writeXLSX(t *testing.T, lines ...string) string {
	t.Helper()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	for i, line := range lines {
		fields := strings.Split(line, ",")
		cells := make([]any, len(fields))
		for j, field := range fields {
			cells[j] = field
		}
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("failed to build cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, axis, &cells); err != nil {
			t.Fatalf("failed to set sheet row: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "sales.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("failed to save xlsx: %v", err)
	}
	return path
}

func newTestLoader(t *testing.T, batchSize int) (*Loader, *repository.MemoryWarehouse) {
	t.Helper()

	schema := domain.DefaultSchema()
	sink := repository.NewMemoryWarehouse(schema)
	service := pipeline.NewService(schema, sink, nil, nil, zap.NewNop(), false)
	return NewLoader(schema, service, batchSize, zap.NewNop()), sink
}

func TestRunLoadsCSV(t *testing.T) {
	loader, sink := newTestLoader(t, 500)
	path := writeCSV(t,
		sampleHeader,
		sampleLine("1", "O-1", "C-1", "P-1", "41.91"),
		sampleLine("2", "O-1", "C-1", "P-2", "12.50"),
		sampleLine("3", "O-2", "C-2", "P-3", "-3.20"),
	)

	summary, err := loader.Run(context.Background(), path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Batches != 1 {
		t.Errorf("expected 1 batch, got %d", summary.Batches)
	}
	if summary.Records != 3 {
		t.Errorf("expected 3 records, got %d", summary.Records)
	}
	// 2 customers + 3 products + 2 orders + 3 details.
	if summary.RowsAppended != 10 {
		t.Errorf("expected 10 rows appended, got %d", summary.RowsAppended)
	}
	if got := sink.RowCount("customers"); got != 2 {
		t.Errorf("expected 2 customer rows, got %d", got)
	}
	if got := sink.RowCount("orders"); got != 2 {
		t.Errorf("expected 2 order rows, got %d", got)
	}
	if got := sink.RowCount("order_details"); got != 3 {
		t.Errorf("expected 3 detail rows, got %d", got)
	}
}

func TestRunLoadsXLSX(t *testing.T) {
	loader, sink := newTestLoader(t, 500)
	path := writeXLSX(t,
		sampleHeader,
		sampleLine("1", "O-1", "C-1", "P-1", "41.91"),
	)

	summary, err := loader.Run(context.Background(), path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Records != 1 {
		t.Errorf("expected 1 record, got %d", summary.Records)
	}
	if summary.RowsAppended != 4 {
		t.Errorf("expected 4 rows appended, got %d", summary.RowsAppended)
	}
	if got := sink.RowCount("order_details"); got != 1 {
		t.Errorf("expected 1 detail row, got %d", got)
	}
}

func TestRunSkipsByteOrderMark(t *testing.T) {
	loader, _ := newTestLoader(t, 500)
	path := filepath.Join(t.TempDir(), "sales.csv")
	content := append([]byte{0xEF, 0xBB, 0xBF}, []byte(sampleHeader+"\n"+sampleLine("1", "O-1", "C-1", "P-1", "1.00")+"\n")...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}

	summary, err := loader.Run(context.Background(), path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Records != 1 {
		t.Errorf("expected 1 record, got %d", summary.Records)
	}
}

func TestRunRerunWithSameRunIDIsIdempotent(t *testing.T) {
	loader, sink := newTestLoader(t, 2)
	path := writeCSV(t,
		sampleHeader,
		sampleLine("1", "O-1", "C-1", "P-1", "41.91"),
		sampleLine("2", "O-1", "C-1", "P-2", "12.50"),
		sampleLine("3", "O-2", "C-2", "P-3", "-3.20"),
	)

	first, err := loader.Run(context.Background(), path, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Batches != 2 {
		t.Errorf("expected 2 batches, got %d", first.Batches)
	}

	second, err := loader.Run(context.Background(), path, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.RowsAppended != 0 {
		t.Errorf("expected rerun to append nothing, got %d rows", second.RowsAppended)
	}
	if got := sink.RowCount("order_details"); got != 3 {
		t.Errorf("expected 3 detail rows after rerun, got %d", got)
	}
}

func TestRunDropsPoisonBatchAndContinues(t *testing.T) {
	loader, sink := newTestLoader(t, 1)
	path := writeCSV(t,
		sampleHeader,
		sampleLine("1", "O-1", "C-1", "P-1", "41.91"),
		sampleLine("2", "O-2", "C-2", "P-2", "not-a-number"),
		sampleLine("3", "O-3", "C-3", "P-3", "-3.20"),
	)

	summary, err := loader.Run(context.Background(), path, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Batches != 2 {
		t.Errorf("expected 2 loaded batches, got %d", summary.Batches)
	}
	if summary.Rejected != 1 {
		t.Errorf("expected 1 rejected batch, got %d", summary.Rejected)
	}
	if got := sink.RowCount("order_details"); got != 2 {
		t.Errorf("expected 2 detail rows, got %d", got)
	}
}

func TestRunAbortsOnTransientFailure(t *testing.T) {
	loader, sink := newTestLoader(t, 500)
	sink.FailTable("orders", errors.New("warehouse offline"))
	path := writeCSV(t,
		sampleHeader,
		sampleLine("1", "O-1", "C-1", "P-1", "41.91"),
	)

	summary, err := loader.Run(context.Background(), path, "run-1")
	if err == nil {
		t.Fatal("expected transient failure to abort the run")
	}
	if summary.Batches != 0 {
		t.Errorf("expected no completed batches, got %d", summary.Batches)
	}
}

func TestRunRejectsUnsupportedExtension(t *testing.T) {
	loader, _ := newTestLoader(t, 500)
	path := filepath.Join(t.TempDir(), "sales.txt")
	if err := os.WriteFile(path, []byte("whatever"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if _, err := loader.Run(context.Background(), path, ""); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestRunRejectsMissingColumns(t *testing.T) {
	loader, _ := newTestLoader(t, 500)
	header := strings.ReplaceAll(sampleHeader, ",Profit", "")
	path := writeCSV(t, header, sampleLine("1", "O-1", "C-1", "P-1", "41.91"))

	_, err := loader.Run(context.Background(), path, "")
	if err == nil {
		t.Fatal("expected error for missing Profit column")
	}
	if !strings.Contains(err.Error(), "Profit") {
		t.Errorf("expected error to name the missing column, got %v", err)
	}
}
