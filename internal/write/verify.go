package write

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/resolver"
	"github.com/openswitch/restd/internal/schema"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

const (
	keyConfiguration = "configuration"
	keyReferencedBy  = "referenced_by"
	keyURI           = "uri"
	keyAttributes    = "attributes"
)

// referencedBy is one resolved entry of a top-level POST's referenced_by
// list: the holder row and the reference columns to extend.
type referencedBy struct {
	table   string
	row     *ovsdb.Row
	columns []string
	ref     map[string]*schema.Reference
}

// verified is the outcome of body verification: coerced configuration
// columns, resolved reference columns, the map key for key/value children
// and the raw configuration document for index derivation.
type verified struct {
	columns    map[string]any
	references map[string]any
	kvKey      string
	raw        map[string]any
	refBy      []referencedBy
}

// verifyBody validates a request body against the table. childRef is the
// parent's child column when creating under a key/value child collection;
// topLevel permits the referenced_by section.
func (e *Engine) verifyBody(r ovsdb.Reader, table *schema.Table, childRef *schema.Reference, body []byte, isNew, topLevel bool) (*verified, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperrors.NewDataValidationFailed("Malformed JSON in request body")
	}
	for key := range doc {
		switch key {
		case keyConfiguration:
		case keyReferencedBy:
			if !isNew || !topLevel {
				return nil, apperrors.NewDataValidationFailed(
					"referenced_by is only accepted when creating top-level resources")
			}
		default:
			return nil, apperrors.NewDataValidationFailed(fmt.Sprintf("Unknown attribute: %s", key))
		}
	}
	config, ok := doc[keyConfiguration].(map[string]any)
	if !ok {
		return nil, apperrors.NewDataValidationFailed("Missing configuration data")
	}

	v := &verified{
		columns:    map[string]any{},
		references: map[string]any{},
		raw:        config,
	}

	// Key/value children carry their map key as the keyname attribute,
	// which is not a column of the child table.
	if isNew && childRef != nil && childRef.KVType && table.Column(childRef.Keyname) == nil {
		raw, ok := config[childRef.Keyname]
		if !ok {
			return nil, apperrors.NewDataValidationFailed(
				fmt.Sprintf("Attribute is missing from request: %s", childRef.Keyname))
		}
		key, err := coerceScalar(&childRef.Column, raw)
		if err != nil {
			return nil, apperrors.NewDataValidationFailed(
				fmt.Sprintf("Invalid value for attribute %s", childRef.Keyname))
		}
		v.kvKey = schema.CanonicalKey(key)
	}

	for name, raw := range config {
		if childRef != nil && name == childRef.Keyname && table.Column(name) == nil {
			continue
		}
		if col, ok := table.Config[name]; ok {
			if !isNew && !col.Mutable {
				continue
			}
			value, err := verifyColumnValue(col, raw)
			if err != nil {
				return nil, err
			}
			v.columns[name] = value
			continue
		}
		if ref, ok := table.References[name]; ok {
			// Child and parent links are managed through their own URIs.
			if ref.Relation != schema.RelationReference {
				continue
			}
			if !ref.Column.Category.Is(schema.CategoryConfiguration) {
				return nil, apperrors.NewDataValidationFailed(
					fmt.Sprintf("Attribute is not configurable: %s", name))
			}
			value, err := e.resolveReferences(r, ref, raw)
			if err != nil {
				return nil, err
			}
			v.references[name] = value
			continue
		}
		return nil, apperrors.NewDataValidationFailed(
			fmt.Sprintf("Unknown configuration attribute: %s", name))
	}

	if isNew {
		if err := requireColumns(table, v.columns); err != nil {
			return nil, err
		}
	}

	if raw, ok := doc[keyReferencedBy]; ok {
		refBy, err := e.resolveReferencedBy(r, table, raw)
		if err != nil {
			return nil, err
		}
		v.refBy = refBy
	}
	return v, nil
}

// requireColumns checks that a new row names every URI index column and
// every mandatory scalar.
func requireColumns(table *schema.Table, columns map[string]any) error {
	for _, index := range table.Indexes {
		if index == "uuid" {
			continue
		}
		col, ok := table.Config[index]
		if !ok {
			continue
		}
		if _, present := columns[col.Name]; !present {
			return apperrors.NewDataValidationFailed(
				fmt.Sprintf("Attribute is missing from request: %s", index))
		}
	}
	for name, col := range table.Config {
		if col.Optional || col.IsList || col.IsMap {
			continue
		}
		if _, present := columns[name]; !present {
			return apperrors.NewDataValidationFailed(
				fmt.Sprintf("Attribute is missing from request: %s", name))
		}
	}
	return nil
}

// verifyColumnValue coerces one configuration value to the column's shape:
// scalar, list within the member count bounds, or typed map.
func verifyColumnValue(col *schema.Column, raw any) (any, error) {
	switch {
	case col.IsMap:
		doc, ok := raw.(map[string]any)
		if !ok {
			return nil, invalidValue(col.Name)
		}
		out := make(map[string]any, len(doc))
		for key, item := range doc {
			spec := &schema.Column{
				Name:     col.Name,
				Type:     col.ValueType,
				RangeMin: col.ValueRangeMin,
				RangeMax: col.ValueRangeMax,
			}
			if len(col.KVs) > 0 {
				kv, ok := col.KVs[key]
				if !ok {
					return nil, apperrors.NewDataValidationFailed(
						fmt.Sprintf("Unknown key %s for attribute %s", key, col.Name))
				}
				spec = &schema.Column{
					Name:     col.Name,
					Type:     kv.Type,
					Enum:     kv.Enum,
					RangeMin: kv.RangeMin,
					RangeMax: kv.RangeMax,
				}
			}
			value, err := coerceScalar(spec, item)
			if err != nil {
				return nil, err
			}
			out[key] = value
		}
		return out, nil

	case col.IsList:
		items, ok := raw.([]any)
		if !ok {
			// A single scalar stands for a one-element list.
			items = []any{raw}
		}
		if len(items) < col.NMin || len(items) > col.NMax {
			return nil, apperrors.NewDataValidationFailed(
				fmt.Sprintf("Invalid number of elements for attribute: %s", col.Name))
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			value, err := coerceScalar(col, item)
			if err != nil {
				return nil, err
			}
			out = append(out, value)
		}
		return out, nil

	default:
		return coerceScalar(col, raw)
	}
}

// coerceScalar converts one JSON value to the column's base type, enforcing
// enum membership and value or length ranges.
func coerceScalar(col *schema.Column, raw any) (any, error) {
	var value any
	switch col.Type {
	case schema.TypeInteger:
		number, ok := raw.(float64)
		if !ok || number != math.Trunc(number) {
			if n, isInt := raw.(int64); isInt {
				number, ok = float64(n), true
			} else {
				return nil, invalidValue(col.Name)
			}
		}
		n := int64(number)
		if col.RangeMax > col.RangeMin && (number < col.RangeMin || number > col.RangeMax) {
			return nil, outOfRange(col.Name)
		}
		value = n

	case schema.TypeReal:
		number, ok := raw.(float64)
		if !ok {
			return nil, invalidValue(col.Name)
		}
		if col.RangeMax > col.RangeMin && (number < col.RangeMin || number > col.RangeMax) {
			return nil, outOfRange(col.Name)
		}
		value = number

	case schema.TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, invalidValue(col.Name)
		}
		value = b

	case schema.TypeUUID:
		s, ok := raw.(string)
		if !ok {
			return nil, invalidValue(col.Name)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, invalidValue(col.Name)
		}
		value = id

	default:
		s, ok := raw.(string)
		if !ok {
			return nil, invalidValue(col.Name)
		}
		if col.RangeMax > 0 && (float64(len(s)) < col.RangeMin || float64(len(s)) > col.RangeMax) {
			return nil, outOfRange(col.Name)
		}
		value = s
	}

	if len(col.Enum) > 0 {
		canonical := schema.CanonicalKey(value)
		found := false
		for _, item := range col.Enum {
			if schema.CanonicalKey(item) == canonical {
				found = true
				break
			}
		}
		if !found {
			return nil, apperrors.NewDataValidationFailed(
				fmt.Sprintf("Value is not in the enumeration for attribute: %s", col.Name))
		}
	}
	return value, nil
}

// resolveReferences turns the URI form of a reference column into row UUIDs,
// keeping the column's shape.
func (e *Engine) resolveReferences(r ovsdb.Reader, ref *schema.Reference, raw any) (any, error) {
	switch value := raw.(type) {
	case string:
		id, err := e.resolveReferenceURI(r, ref, value)
		if err != nil {
			return nil, err
		}
		if ref.NMax == 1 {
			return id, nil
		}
		return []uuid.UUID{id}, nil

	case []any:
		if len(value) < ref.NMin || len(value) > ref.NMax {
			return nil, apperrors.NewDataValidationFailed(
				fmt.Sprintf("Invalid number of elements for attribute: %s", ref.Name))
		}
		out := make([]uuid.UUID, 0, len(value))
		for _, item := range value {
			uri, ok := item.(string)
			if !ok {
				return nil, invalidValue(ref.Name)
			}
			id, err := e.resolveReferenceURI(r, ref, uri)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, nil

	case map[string]any:
		if !ref.KVType {
			return nil, invalidValue(ref.Name)
		}
		out := make(map[string]uuid.UUID, len(value))
		for key, item := range value {
			coerced, err := schema.CoerceValue(ref.KVKeyType, key)
			if err != nil {
				return nil, invalidValue(ref.Name)
			}
			uri, ok := item.(string)
			if !ok {
				return nil, invalidValue(ref.Name)
			}
			id, err := e.resolveReferenceURI(r, ref, uri)
			if err != nil {
				return nil, err
			}
			out[schema.CanonicalKey(coerced)] = id
		}
		return out, nil
	}
	return nil, invalidValue(ref.Name)
}

func (e *Engine) resolveReferenceURI(r ovsdb.Reader, ref *schema.Reference, uri string) (uuid.UUID, error) {
	invalid := apperrors.NewDataValidationFailed(fmt.Sprintf("Invalid reference: %s", uri))
	chain, err := resolver.Parse(e.schema, r, uri)
	if err != nil {
		return uuid.Nil, invalid
	}
	terminal := chain.Terminal()
	if terminal.Row == uuid.Nil || terminal.Table != ref.RefTable {
		return uuid.Nil, invalid
	}
	return terminal.Row, nil
}

// resolveReferencedBy validates the referenced_by list of a top-level POST:
// each entry names an existing row whose listed reference columns will carry
// the new row.
func (e *Engine) resolveReferencedBy(r ovsdb.Reader, table *schema.Table, raw any) ([]referencedBy, error) {
	entries, ok := raw.([]any)
	if !ok {
		return nil, apperrors.NewDataValidationFailed("referenced_by must be a list")
	}
	var out []referencedBy
	for _, entry := range entries {
		doc, ok := entry.(map[string]any)
		if !ok {
			return nil, apperrors.NewDataValidationFailed("Invalid referenced_by entry")
		}
		uri, _ := doc[keyURI].(string)
		if uri == "" {
			return nil, apperrors.NewDataValidationFailed("referenced_by entry is missing uri")
		}
		chain, err := resolver.Parse(e.schema, r, uri)
		if err != nil {
			return nil, apperrors.NewDataValidationFailed(fmt.Sprintf("Invalid reference: %s", uri))
		}
		terminal := chain.Terminal()
		if terminal.Row == uuid.Nil {
			return nil, apperrors.NewDataValidationFailed(fmt.Sprintf("Invalid reference: %s", uri))
		}
		holder := e.schema.Table(terminal.Table)
		holding := e.schema.ReferencedBy[table.Name][terminal.Table]
		if len(holding) == 0 {
			return nil, apperrors.NewDataValidationFailed(
				fmt.Sprintf("Reference is not allowed from: %s", uri))
		}

		columns := holding
		if rawAttrs, ok := doc[keyAttributes]; ok {
			attrs, ok := rawAttrs.([]any)
			if !ok {
				return nil, apperrors.NewDataValidationFailed("referenced_by attributes must be a list")
			}
			columns = nil
			for _, item := range attrs {
				name, _ := item.(string)
				if !contains(holding, name) {
					return nil, apperrors.NewDataValidationFailed(
						fmt.Sprintf("Invalid referenced_by attribute: %v", item))
				}
				columns = append(columns, name)
			}
		}

		refs := make(map[string]*schema.Reference, len(columns))
		for _, column := range columns {
			ref := holder.References[column]
			if ref == nil || ref.KVType {
				return nil, apperrors.NewDataValidationFailed(
					fmt.Sprintf("Invalid referenced_by attribute: %s", column))
			}
			refs[column] = ref
		}
		out = append(out, referencedBy{
			table:   terminal.Table,
			row:     r.Row(terminal.Table, terminal.Row),
			columns: columns,
			ref:     refs,
		})
	}
	return out, nil
}

func invalidValue(name string) error {
	return apperrors.NewDataValidationFailed(fmt.Sprintf("Invalid value for attribute %s", name))
}

func outOfRange(name string) error {
	return apperrors.NewDataValidationFailed(fmt.Sprintf("Value is out of range for attribute: %s", name))
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
