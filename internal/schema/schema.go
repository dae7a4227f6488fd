// Package schema models the extended database schema: tables, columns with
// configuration/status/statistics/reference categories, table relationships,
// resource indexes and dynamic category rules.
package schema

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"
)

// Category classifies a column for REST visibility.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryStatus        Category = "status"
	CategoryStatistics    Category = "statistics"
	CategoryReference     Category = "reference"
)

// Relation is the relationship a reference column declares between its table
// and the referenced table.
type Relation string

const (
	RelationChild     Relation = "child"
	RelationParent    Relation = "parent"
	RelationReference Relation = "reference"
)

// BaseType is a column's scalar base type.
type BaseType string

const (
	TypeInteger BaseType = "integer"
	TypeReal    BaseType = "real"
	TypeBoolean BaseType = "boolean"
	TypeString  BaseType = "string"
	TypeUUID    BaseType = "uuid"
)

// FetchKind declares how much of an on-demand table is replicated.
type FetchKind int

const (
	FetchNone FetchKind = iota
	FetchPartial
	FetchFull
)

// onDemandTables lists tables whose non-index state is fetched on demand.
var onDemandTables = map[string]FetchKind{
	"BGP_Route":   FetchPartial,
	"BGP_Nexthop": FetchPartial,
	"Route":       FetchPartial,
	"Nexthop":     FetchPartial,
}

// SchemaError reports a malformed extended schema.
type SchemaError struct {
	Context string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("schema: %s", e.Message)
	}
	return fmt.Sprintf("schema: %s: %s", e.Context, e.Message)
}

func schemaErrorf(context, format string, args ...any) *SchemaError {
	return &SchemaError{Context: context, Message: fmt.Sprintf(format, args...)}
}

// ColumnCategory is a column's category, either static or computed per row.
// Dynamic categories carry a per-value map keyed by the source column's value
// and fall back to configuration when no rule matches.
type ColumnCategory struct {
	Value    Category
	Dynamic  bool
	PerValue map[string]Category
	Follows  string
}

// Is reports whether the declared (pre-dynamic) category equals cat.
func (c ColumnCategory) Is(cat Category) bool {
	return c.Value == cat
}

// KVSchema holds the value type information of one key of a map column.
type KVSchema struct {
	Type     BaseType
	RangeMin float64
	RangeMax float64
	Enum     []any
	Optional bool
}

// Column describes one non-reference column of a table.
type Column struct {
	Name       string
	Category   ColumnCategory
	Optional   bool
	Mutable    bool
	EmptyValue any
	Enum       []any
	Keyname    string

	Type     BaseType
	RangeMin float64
	RangeMax float64

	// Map columns carry a value type; KVs optionally constrains
	// individual keys.
	ValueType     BaseType
	ValueRangeMin float64
	ValueRangeMax float64
	IsMap         bool
	IsList        bool
	NMin          int
	NMax          int
	KVs           map[string]*KVSchema
}

// Reference describes a column holding references to another table.
type Reference struct {
	Column
	RefTable  string
	Relation  Relation
	KVType    bool
	KVKeyType BaseType
	IsPlural  bool
}

// Table describes one table of the extended schema.
type Table struct {
	Name       string
	PluralName string
	IsRoot     bool
	IsMany     bool
	MaxRows    int

	// Columns lists every handled column name; ReadonlyColumns the
	// on-demand subset excluded from the replica until fetched.
	Columns         []string
	ReadonlyColumns []string

	Config     map[string]*Column
	Status     map[string]*Column
	Stats      map[string]*Column
	Dynamic    map[string]ColumnCategory
	References map[string]*Reference

	// Parent is the parent table name; Children mixes forward reference
	// column names and back-referencing child table names.
	Parent   string
	Children []string

	// IndexColumns are the database indexes; Indexes the resource-URI
	// index, which drops parent references and falls back to "uuid".
	IndexColumns []string
	Indexes      []string

	// Mutable reports whether REST may insert or delete rows.
	Mutable bool

	FetchKind FetchKind
}

// Schema is the parsed extended schema, immutable after load.
type Schema struct {
	Name    string
	Version string
	Tables  map[string]*Table

	// ReferencedBy maps a table to the (table, columns) pairs holding
	// references to it. Used by delete to scrub dangling references.
	ReferencedBy map[string]map[string][]string

	// PluralNames maps a plural table name back to the table name.
	PluralNames map[string]string
}

// Table returns a table by name, or nil.
func (s *Schema) Table(name string) *Table {
	return s.Tables[name]
}

// TableByPlural returns the table registered under a plural name, or nil.
func (s *Schema) TableByPlural(plural string) *Table {
	if name, ok := s.PluralNames[plural]; ok {
		return s.Tables[name]
	}
	return nil
}

// Column returns a non-reference column by name, or nil.
func (t *Table) Column(name string) *Column {
	if col, ok := t.Config[name]; ok {
		return col
	}
	if col, ok := t.Status[name]; ok {
		return col
	}
	if col, ok := t.Stats[name]; ok {
		return col
	}
	return nil
}

// CategoryOf returns the declared category of a column, reference columns
// included. The second result is false for unknown columns.
func (t *Table) CategoryOf(name string) (Category, bool) {
	if _, ok := t.Config[name]; ok {
		return CategoryConfiguration, true
	}
	if _, ok := t.Status[name]; ok {
		return CategoryStatus, true
	}
	if _, ok := t.Stats[name]; ok {
		return CategoryStatistics, true
	}
	if _, ok := t.References[name]; ok {
		return CategoryReference, true
	}
	return "", false
}

// EffectiveCategory computes the category of a column for one row. A dynamic
// column resolves against the per-value map of its source column: itself for
// per-value rules, the followed column for follows rules. No match falls back
// to configuration.
func (t *Table) EffectiveCategory(name string, get func(column string) any) Category {
	cat, ok := t.dynamicOrStatic(name)
	if !ok {
		return ""
	}
	if !cat.Dynamic {
		return cat.Value
	}
	source := name
	if cat.Follows != "" {
		source = cat.Follows
	}
	sourceCat, ok := t.dynamicOrStatic(source)
	if !ok {
		return CategoryConfiguration
	}
	value := get(source)
	if value != nil {
		if mapped, ok := sourceCat.PerValue[canonicalKey(value)]; ok {
			return mapped
		}
	}
	return CategoryConfiguration
}

func (t *Table) dynamicOrStatic(name string) (ColumnCategory, bool) {
	if cat, ok := t.Dynamic[name]; ok {
		return cat, true
	}
	if col := t.Column(name); col != nil {
		return col.Category, true
	}
	if ref, ok := t.References[name]; ok {
		return ref.Column.Category, true
	}
	return ColumnCategory{}, false
}

// IsIndexColumn reports whether name participates in the resource-URI index.
func (t *Table) IsIndexColumn(name string) bool {
	for _, idx := range t.Indexes {
		if idx == name {
			return true
		}
	}
	return false
}

// ChildColumn returns the forward child reference named column, or nil.
func (t *Table) ChildColumn(name string) *Reference {
	if ref, ok := t.References[name]; ok && ref.Relation == RelationChild {
		return ref
	}
	return nil
}

// ParentColumn returns the column referencing this table's parent, or "".
func (t *Table) ParentColumn() string {
	for name, ref := range t.References {
		if ref.Relation == RelationParent {
			return name
		}
	}
	return ""
}

// normalizeName lowercases a table name and pluralizes (or singularizes) the
// last underscore-separated word.
func normalizeName(name string, toPlural bool) string {
	words := strings.Split(strings.ToLower(name), "_")
	last := words[len(words)-1]
	if toPlural {
		words[len(words)-1] = inflection.Plural(last)
	} else {
		words[len(words)-1] = inflection.Singular(last)
	}
	return strings.Join(words, "_")
}
