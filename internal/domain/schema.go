package domain

import (
	"fmt"
	"strings"
)

// FieldType represents the coerced type of a record attribute
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeFloat     FieldType = "float"
	FieldTypeTimestamp FieldType = "timestamp"
)

// Numeric reports whether values of this type participate in SUM, MEAN and
// MAX aggregation.
func (t FieldType) Numeric() bool {
	return t == FieldTypeInteger || t == FieldTypeFloat
}

// FieldDefinition represents one attribute of a pipeline entity: the record
// field it is read from and the warehouse column it lands in.
type FieldDefinition struct {
	Name     string    `json:"name"`
	Column   string    `json:"column"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// EntitySchema represents one normalized entity: the attribute subset it
// projects from the flat record and the warehouse table its rows land in.
type EntitySchema struct {
	Name  string   `json:"name"`
	Table string   `json:"table"`
	Key   []string `json:"key"`
	// DedupeByRow makes the full attribute tuple the identity instead of Key.
	// Key still names the attribute other entities join against.
	DedupeByRow bool              `json:"dedupe_by_row,omitempty"`
	Fields      []FieldDefinition `json:"fields"`
}

// Field returns the definition of the named attribute.
func (s EntitySchema) Field(name string) (FieldDefinition, bool) {
	for _, field := range s.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FieldDefinition{}, false
}

// AttributeNames returns the attribute names in declaration order.
func (s EntitySchema) AttributeNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, field := range s.Fields {
		names = append(names, field.Name)
	}
	return names
}

// ColumnFor maps an attribute or derived feature name to its warehouse
// column. Declared fields use their configured column; anything else is
// sanitized the same way headers are.
func (s EntitySchema) ColumnFor(name string) string {
	if field, ok := s.Field(name); ok && field.Column != "" {
		return field.Column
	}
	return SanitizeColumn(name)
}

// SanitizeColumn lowercases a name and folds spaces, dots and hyphens into
// underscores so it is usable as a SQL identifier.
func SanitizeColumn(name string) string {
	replacer := strings.NewReplacer(" ", "_", ".", "_", "-", "_")
	return strings.ToLower(replacer.Replace(strings.TrimSpace(name)))
}

// Relationship declares a one-to-many edge: every Child row carries a
// Parent key value in its ChildKey attribute.
type Relationship struct {
	Parent    string `json:"parent"`
	ParentKey string `json:"parent_key"`
	Child     string `json:"child"`
	ChildKey  string `json:"child_key"`
}

// Name returns the stable identifier used in logs and error messages.
func (r Relationship) Name() string {
	return fmt.Sprintf("%s.%s -> %s.%s", r.Parent, r.ParentKey, r.Child, r.ChildKey)
}

// FeatureSelection maps one derived column to the name it is persisted
// under.
type FeatureSelection struct {
	Source string `json:"source"`
	Output string `json:"output"`
}

// PipelineSchema is the single description of the pipeline's shape. The
// normalizer, graph builder, derivation engine and selector all read this
// one structure; none of them carries its own copy of the field lists.
type PipelineSchema struct {
	Entities      []EntitySchema     `json:"entities"`
	Relationships []Relationship     `json:"relationships"`
	Target        string             `json:"target"`
	Features      []FeatureSelection `json:"features"`
}

// Entity returns the named entity schema.
func (p PipelineSchema) Entity(name string) (EntitySchema, bool) {
	for _, entity := range p.Entities {
		if entity.Name == name {
			return entity, true
		}
	}
	return EntitySchema{}, false
}

// TargetEntity returns the schema of the fact entity features are derived
// for.
func (p PipelineSchema) TargetEntity() (EntitySchema, bool) {
	return p.Entity(p.Target)
}

// Validate checks the schema for internal consistency. A schema that fails
// validation must not reach the pipeline.
func (p PipelineSchema) Validate() error {
	if len(p.Entities) == 0 {
		return fmt.Errorf("schema declares no entities")
	}
	seen := make(map[string]struct{}, len(p.Entities))
	for _, entity := range p.Entities {
		if entity.Name == "" {
			return fmt.Errorf("entity with empty name")
		}
		if _, dup := seen[entity.Name]; dup {
			return fmt.Errorf("duplicate entity %q", entity.Name)
		}
		seen[entity.Name] = struct{}{}
		if entity.Table == "" {
			return fmt.Errorf("entity %q has no table", entity.Name)
		}
		if len(entity.Fields) == 0 {
			return fmt.Errorf("entity %q has no fields", entity.Name)
		}
		fieldNames := make(map[string]struct{}, len(entity.Fields))
		for _, field := range entity.Fields {
			if field.Name == "" {
				return fmt.Errorf("entity %q has a field with empty name", entity.Name)
			}
			if _, dup := fieldNames[field.Name]; dup {
				return fmt.Errorf("entity %q declares field %q twice", entity.Name, field.Name)
			}
			fieldNames[field.Name] = struct{}{}
		}
		if len(entity.Key) == 0 {
			return fmt.Errorf("entity %q has no key", entity.Name)
		}
		for _, key := range entity.Key {
			if _, ok := fieldNames[key]; !ok {
				return fmt.Errorf("entity %q key %q is not a declared field", entity.Name, key)
			}
		}
	}
	target, ok := p.Entity(p.Target)
	if !ok {
		return fmt.Errorf("target entity %q is not declared", p.Target)
	}
	for _, rel := range p.Relationships {
		parent, ok := p.Entity(rel.Parent)
		if !ok {
			return fmt.Errorf("relationship %q: unknown parent entity", rel.Name())
		}
		child, ok := p.Entity(rel.Child)
		if !ok {
			return fmt.Errorf("relationship %q: unknown child entity", rel.Name())
		}
		if _, ok := parent.Field(rel.ParentKey); !ok {
			return fmt.Errorf("relationship %q: parent has no field %q", rel.Name(), rel.ParentKey)
		}
		if _, ok := child.Field(rel.ChildKey); !ok {
			return fmt.Errorf("relationship %q: child has no field %q", rel.Name(), rel.ChildKey)
		}
	}
	outputs := make(map[string]struct{}, len(p.Features))
	for _, feature := range p.Features {
		if feature.Source == "" || feature.Output == "" {
			return fmt.Errorf("feature selection with empty source or output")
		}
		if _, dup := outputs[feature.Output]; dup {
			return fmt.Errorf("duplicate feature output %q", feature.Output)
		}
		outputs[feature.Output] = struct{}{}
	}
	if len(target.Key) != 2 || target.Key[0] != detailKeyOrder || target.Key[1] != detailKeyProduct {
		return fmt.Errorf("target entity %q must be keyed by (%s, %s)", p.Target, detailKeyOrder, detailKeyProduct)
	}
	return nil
}

// DefaultSchema returns the fixed sales-domain pipeline: flat Superstore
// transaction records decomposed into Customers, Products, Orders and the
// OrderDetails fact.
func DefaultSchema() PipelineSchema {
	return PipelineSchema{
		Entities: []EntitySchema{
			{
				Name:  "Customers",
				Table: "customers",
				Key:   []string{"Customer ID"},
				Fields: []FieldDefinition{
					{Name: "Customer ID", Column: "customer_id", Type: FieldTypeString, Required: true},
					{Name: "Customer Name", Column: "customer_name", Type: FieldTypeString, Required: true},
					{Name: "Segment", Column: "segment", Type: FieldTypeString, Required: true},
					{Name: "Country", Column: "country", Type: FieldTypeString, Required: true},
					{Name: "City", Column: "city", Type: FieldTypeString, Required: true},
					{Name: "State", Column: "state", Type: FieldTypeString, Required: true},
					{Name: "Postal Code", Column: "postal_code", Type: FieldTypeString, Required: true},
					{Name: "Region", Column: "region", Type: FieldTypeString, Required: true},
				},
			},
			{
				Name:  "Products",
				Table: "products",
				Key:   []string{"Product ID"},
				Fields: []FieldDefinition{
					{Name: "Product ID", Column: "product_id", Type: FieldTypeString, Required: true},
					{Name: "Category", Column: "category", Type: FieldTypeString, Required: true},
					{Name: "Sub-Category", Column: "sub_category", Type: FieldTypeString, Required: true},
					{Name: "Product Name", Column: "product_name", Type: FieldTypeString, Required: true},
				},
			},
			{
				Name:        "Orders",
				Table:       "orders",
				Key:         []string{"Order ID"},
				DedupeByRow: true,
				Fields: []FieldDefinition{
					{Name: "Order ID", Column: "order_id", Type: FieldTypeString, Required: true},
					{Name: "Order Date", Column: "order_date", Type: FieldTypeTimestamp, Required: true},
					{Name: "Ship Date", Column: "ship_date", Type: FieldTypeTimestamp, Required: true},
					{Name: "Ship Mode", Column: "ship_mode", Type: FieldTypeString, Required: true},
				},
			},
			{
				Name:  "OrderDetails",
				Table: "order_details",
				Key:   []string{"Order ID", "Product ID"},
				Fields: []FieldDefinition{
					{Name: "Order ID", Column: "order_id", Type: FieldTypeString, Required: true},
					{Name: "Product ID", Column: "product_id", Type: FieldTypeString, Required: true},
					{Name: "Customer ID", Column: "customer_id", Type: FieldTypeString, Required: true},
					{Name: "Sales", Column: "sales", Type: FieldTypeFloat, Required: true},
					{Name: "Quantity", Column: "quantity", Type: FieldTypeInteger, Required: true},
					{Name: "Discount", Column: "discount", Type: FieldTypeFloat, Required: true},
					{Name: "Profit", Column: "profit", Type: FieldTypeFloat, Required: true},
				},
			},
		},
		Relationships: []Relationship{
			{Parent: "Customers", ParentKey: "Customer ID", Child: "OrderDetails", ChildKey: "Customer ID"},
			{Parent: "Products", ParentKey: "Product ID", Child: "OrderDetails", ChildKey: "Product ID"},
			{Parent: "Orders", ParentKey: "Order ID", Child: "OrderDetails", ChildKey: "Order ID"},
		},
		Target: "OrderDetails",
		Features: []FeatureSelection{
			{Source: "Customers.COUNT(OrderDetails)", Output: "Customer_Order_Count"},
			{Source: "Products.COUNT(OrderDetails)", Output: "Product_Order_Count"},
			{Source: "Products.MAX(OrderDetails.Profit)", Output: "Product_Max_Profit"},
			{Source: "Products.MEAN(OrderDetails.Discount)", Output: "Product_Mean_Discount"},
			{Source: "Products.SUM(OrderDetails.Quantity)", Output: "Product_Total_Quantity"},
			{Source: "Products.SUM(OrderDetails.Sales)", Output: "Product_Total_Sales"},
			{Source: "Orders.COUNT(OrderDetails)", Output: "Order_Item_Count"},
			{Source: "Orders.MAX(OrderDetails.Quantity)", Output: "Order_Max_Quantity"},
			{Source: "Orders.MEAN(OrderDetails.Profit)", Output: "Order_Mean_Profit"},
			{Source: "Orders.SUM(OrderDetails.Sales)", Output: "Order_Total_Sales"},
			{Source: "Orders.MONTH(Order Date)", Output: "Order_Month"},
			{Source: "Orders.YEAR(Order Date)", Output: "Order_Year"},
		},
	}
}
