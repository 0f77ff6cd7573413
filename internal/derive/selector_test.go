package derive

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rpattn/featuremart/internal/domain"
)

func TestSelectRenamesFeatures(t *testing.T) {
	schema := domain.DefaultSchema()
	engine := NewEngine(schema)
	matrix, err := engine.Derive(buildGraph(t, fixtureTables()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	selected, err := NewSelector(schema).Select(matrix)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{
		"Customer_Order_Count",
		"Product_Order_Count",
		"Product_Max_Profit",
		"Product_Mean_Discount",
		"Product_Total_Quantity",
		"Product_Total_Sales",
		"Order_Item_Count",
		"Order_Max_Quantity",
		"Order_Mean_Profit",
		"Order_Total_Sales",
		"Order_Month",
		"Order_Year",
	}
	if !reflect.DeepEqual(selected.Columns, expected) {
		t.Fatalf("unexpected column order:\n%v", selected.Columns)
	}

	row := selected.Rows[domain.OrderDetailKey{OrderID: "O1", ProductID: "P1"}]
	if got := row["Customer_Order_Count"]; got != int64(2) {
		t.Errorf("Customer_Order_Count = %v", got)
	}
	if got := row["Product_Total_Sales"]; got != 40.0 {
		t.Errorf("Product_Total_Sales = %v", got)
	}
	if got := row["Order_Month"]; got != int64(3) {
		t.Errorf("Order_Month = %v", got)
	}
	if got := row["Order_Year"]; got != int64(2024) {
		t.Errorf("Order_Year = %v", got)
	}
	if _, leaked := row["Orders.MONTH(Order Date)"]; leaked {
		t.Errorf("source column leaked into selected row")
	}
	if len(row) != len(expected) {
		t.Errorf("selected row has %d columns, expected %d", len(row), len(expected))
	}
}

func TestSelectFailsOnUnderivedFeature(t *testing.T) {
	schema := domain.DefaultSchema()
	engine := NewEngine(schema)
	matrix, err := engine.Derive(buildGraph(t, fixtureTables()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	schema.Features = append(schema.Features, domain.FeatureSelection{
		Source: "Products.MEDIAN(OrderDetails.Sales)",
		Output: "Product_Median_Sales",
	})
	_, err = NewSelector(schema).Select(matrix)
	var missing *domain.MissingFeatureError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFeatureError, got %v", err)
	}
	if missing.Feature != "Products.MEDIAN(OrderDetails.Sales)" {
		t.Fatalf("unexpected feature name: %q", missing.Feature)
	}
}
