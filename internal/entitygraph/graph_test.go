package entitygraph

import (
	"errors"
	"strings"
	"testing"

	"github.com/rpattn/featuremart/internal/domain"
)

func tablesWithDetail(customerID string) map[string]domain.Table {
	schema := domain.DefaultSchema()
	tables := make(map[string]domain.Table, len(schema.Entities))
	for _, entity := range schema.Entities {
		tables[entity.Name] = domain.NewTable(entity)
	}

	customers := tables["Customers"]
	customers.Rows = append(customers.Rows, domain.Row{
		"Customer ID": "CG-12520", "Customer Name": "Claire Gute", "Segment": "Consumer",
		"Country": "United States", "City": "Henderson", "State": "Kentucky",
		"Postal Code": "42420", "Region": "South",
	})
	tables["Customers"] = customers

	products := tables["Products"]
	products.Rows = append(products.Rows, domain.Row{
		"Product ID": "FUR-BO-10001798", "Category": "Furniture",
		"Sub-Category": "Bookcases", "Product Name": "Bush Somerset Collection Bookcase",
	})
	tables["Products"] = products

	orders := tables["Orders"]
	orders.Rows = append(orders.Rows, domain.Row{
		"Order ID": "CA-2016-152156", "Order Date": nil, "Ship Date": nil, "Ship Mode": "Second Class",
	})
	tables["Orders"] = orders

	details := tables["OrderDetails"]
	details.Rows = append(details.Rows, domain.Row{
		"Order ID": "CA-2016-152156", "Product ID": "FUR-BO-10001798", "Customer ID": customerID,
		"Sales": 261.96, "Quantity": int64(2), "Discount": 0.0, "Profit": 41.9136,
	})
	tables["OrderDetails"] = details

	return tables
}

func TestBuildAcceptsResolvedReferences(t *testing.T) {
	graph, err := Build(domain.DefaultSchema(), tablesWithDetail("CG-12520"), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(graph.Relationships()); got != 3 {
		t.Fatalf("expected 3 relationships, got %d", got)
	}
}

func TestStrictBuildRejectsDanglingReference(t *testing.T) {
	_, err := Build(domain.DefaultSchema(), tablesWithDetail("ZZ-00000"), true)
	var dangling *domain.DanglingReferenceError
	if !errors.As(err, &dangling) {
		t.Fatalf("expected DanglingReferenceError, got %v", err)
	}
	if dangling.Key != "Customer ID" || dangling.Value != "ZZ-00000" {
		t.Fatalf("unexpected error detail: %+v", dangling)
	}
}

func TestLenientBuildKeepsDanglingReference(t *testing.T) {
	graph, err := Build(domain.DefaultSchema(), tablesWithDetail("ZZ-00000"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	details, ok := graph.Table("OrderDetails")
	if !ok || len(details.Rows) != 1 {
		t.Fatalf("detail row must survive lenient build: %+v", details)
	}
}

func TestBuildRejectsMissingTable(t *testing.T) {
	tables := tablesWithDetail("CG-12520")
	delete(tables, "Products")
	_, err := Build(domain.DefaultSchema(), tables, false)
	if err == nil || !strings.Contains(err.Error(), "no table for entity") {
		t.Fatalf("expected missing table error, got %v", err)
	}
}

func TestParentIndexKeepsFirstRow(t *testing.T) {
	schema := domain.DefaultSchema()
	tables := tablesWithDetail("CG-12520")
	orders := tables["Orders"]
	orders.Rows = append(orders.Rows, domain.Row{
		"Order ID": "CA-2016-152156", "Order Date": nil, "Ship Date": nil, "Ship Mode": "Standard Class",
	})
	tables["Orders"] = orders

	graph, err := Build(schema, tables, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var orderRel domain.Relationship
	for _, rel := range graph.Relationships() {
		if rel.Parent == "Orders" {
			orderRel = rel
		}
	}
	index := graph.ParentIndex(orderRel)
	row, ok := index["CA-2016-152156"]
	if !ok {
		t.Fatalf("order key missing from index")
	}
	if row["Ship Mode"] != "Second Class" {
		t.Errorf("expected first order row to define attributes, got %+v", row["Ship Mode"])
	}
}
