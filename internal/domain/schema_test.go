package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDefaultSchemaValidates(t *testing.T) {
	schema := DefaultSchema()
	if err := schema.Validate(); err != nil {
		t.Fatalf("default schema failed validation: %v", err)
	}
	if schema.Target != "OrderDetails" {
		t.Fatalf("unexpected target entity %q", schema.Target)
	}
	if len(schema.Relationships) != 3 {
		t.Fatalf("expected 3 relationships, got %d", len(schema.Relationships))
	}
	if len(schema.Features) != 12 {
		t.Fatalf("expected 12 feature selections, got %d", len(schema.Features))
	}
	fields := 0
	for _, entity := range schema.Entities {
		fields += len(entity.Fields)
	}
	if fields != 23 {
		t.Fatalf("expected 23 declared fields across entities, got %d", fields)
	}
}

func TestValidateRejectsUnknownTarget(t *testing.T) {
	schema := DefaultSchema()
	schema.Target = "Shipments"
	err := schema.Validate()
	if err == nil || !strings.Contains(err.Error(), "target entity") {
		t.Fatalf("expected target entity error, got %v", err)
	}
}

func TestValidateRejectsBadRelationshipField(t *testing.T) {
	schema := DefaultSchema()
	schema.Relationships[0].ChildKey = "Customer Email"
	err := schema.Validate()
	if err == nil || !strings.Contains(err.Error(), "child has no field") {
		t.Fatalf("expected child field error, got %v", err)
	}
}

func TestValidateRejectsDuplicateFeatureOutput(t *testing.T) {
	schema := DefaultSchema()
	schema.Features[1].Output = schema.Features[0].Output
	err := schema.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate feature output") {
		t.Fatalf("expected duplicate output error, got %v", err)
	}
}

func TestValidateRejectsKeyOutsideFields(t *testing.T) {
	schema := DefaultSchema()
	schema.Entities[0].Key = []string{"Account Number"}
	err := schema.Validate()
	if err == nil || !strings.Contains(err.Error(), "is not a declared field") {
		t.Fatalf("expected key field error, got %v", err)
	}
}

func TestSanitizeColumn(t *testing.T) {
	cases := map[string]string{
		"Customer ID":  "customer_id",
		"Sub-Category": "sub_category",
		"Order Date":   "order_date",
		" Ship Mode ":  "ship_mode",
		"Profit":       "profit",
	}
	for input, expected := range cases {
		if got := SanitizeColumn(input); got != expected {
			t.Errorf("SanitizeColumn(%q) = %q, expected %q", input, got, expected)
		}
	}
}

func TestColumnForPrefersDeclaredColumn(t *testing.T) {
	entity, ok := DefaultSchema().Entity("Products")
	if !ok {
		t.Fatalf("Products entity missing")
	}
	if got := entity.ColumnFor("Sub-Category"); got != "sub_category" {
		t.Errorf("declared column mismatch: %q", got)
	}
	if got := entity.ColumnFor("Product_Total_Sales"); got != "product_total_sales" {
		t.Errorf("derived column mismatch: %q", got)
	}
}

func TestDetailKey(t *testing.T) {
	row := Row{"Order ID": "US-2024-1", "Product ID": "FUR-BO-10001798"}
	key, err := DetailKey(row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.OrderID != "US-2024-1" || key.ProductID != "FUR-BO-10001798" {
		t.Fatalf("unexpected key: %+v", key)
	}

	if _, err := DetailKey(Row{"Order ID": "US-2024-1"}); err == nil {
		t.Fatalf("expected error for missing product id")
	}
}

func TestDetailKeyDistinguishesSeparatorCollisions(t *testing.T) {
	a, err := DetailKey(Row{"Order ID": "A_B", "Product ID": "C"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := DetailKey(Row{"Order ID": "A", "Product ID": "B_C"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Fatalf("keys %+v and %+v must differ", a, b)
	}
}

func TestClassify(t *testing.T) {
	poison := []error{
		&MalformedRecordError{Index: 0, Field: "Profit", Reason: "missing"},
		&DanglingReferenceError{Relationship: "Customers.Customer ID -> OrderDetails.Customer ID", Key: "Customer ID", Value: "CG-1"},
		&MissingFeatureError{Feature: "Orders.MONTH(Order Date)"},
	}
	for _, err := range poison {
		if got := Classify(err); got != FailurePoison {
			t.Errorf("Classify(%T) = %q, expected poison", err, got)
		}
	}

	wrapped := &SinkWriteError{Table: "orders", Err: errors.New("connection refused")}
	if got := Classify(wrapped); got != FailureTransient {
		t.Errorf("Classify(SinkWriteError) = %q, expected transient", got)
	}
	if got := Classify(errors.New("boom")); got != FailureTransient {
		t.Errorf("Classify(unknown) = %q, expected transient", got)
	}
}

func TestClassifySeesWrappedErrors(t *testing.T) {
	err := &MalformedRecordError{Index: 3, Field: "Quantity", Reason: "not an integer"}
	wrapped := fmt.Errorf("failed to normalize batch: %w", err)
	if got := Classify(wrapped); got != FailurePoison {
		t.Errorf("Classify(wrapped) = %q, expected poison", got)
	}
}
