package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
)

// baseType is the parsed form of an OVSDB base type declaration.
type baseType struct {
	baseType BaseType
	enum     []any
	rangeMin float64
	rangeMax float64
	refTable string
}

// colType is the parsed form of an OVSDB column type declaration.
type colType struct {
	key   *baseType
	value *baseType
	nMin  int
	nMax  int
	kvs   map[string]*KVSchema
}

type jsonBaseType struct {
	Type       string   `json:"type"`
	Enum       []any    `json:"enum"`
	MinInteger *int64   `json:"minInteger"`
	MaxInteger *int64   `json:"maxInteger"`
	MinReal    *float64 `json:"minReal"`
	MaxReal    *float64 `json:"maxReal"`
	MinLength  *int64   `json:"minLength"`
	MaxLength  *int64   `json:"maxLength"`
	RefTable   string   `json:"refTable"`
}

type jsonColType struct {
	Key       json.RawMessage            `json:"key"`
	Value     json.RawMessage            `json:"value"`
	Min       *int                       `json:"min"`
	Max       json.RawMessage            `json:"max"`
	ValueMap  map[string]json.RawMessage `json:"valueMap"`
	ValueType json.RawMessage            `json:"valueType"`
}

func parseBaseType(context string, raw json.RawMessage) (*baseType, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var atomic string
	if err := json.Unmarshal(raw, &atomic); err == nil {
		return newBaseType(context, atomic, nil)
	}
	var doc jsonBaseType
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schemaErrorf(context, "invalid base type: %v", err)
	}
	b, err := newBaseType(context, doc.Type, doc.Enum)
	if err != nil {
		return nil, err
	}
	b.refTable = doc.RefTable
	switch b.baseType {
	case TypeInteger:
		if doc.MinInteger != nil {
			b.rangeMin = float64(*doc.MinInteger)
		}
		if doc.MaxInteger != nil {
			b.rangeMax = float64(*doc.MaxInteger)
		}
	case TypeReal:
		if doc.MinReal != nil {
			b.rangeMin = *doc.MinReal
		}
		if doc.MaxReal != nil {
			b.rangeMax = *doc.MaxReal
		}
	case TypeString:
		if doc.MinLength != nil {
			b.rangeMin = float64(*doc.MinLength)
		}
		if doc.MaxLength != nil {
			b.rangeMax = float64(*doc.MaxLength)
		}
	}
	return b, nil
}

func newBaseType(context, name string, enum []any) (*baseType, error) {
	b := &baseType{enum: enum}
	switch name {
	case "integer":
		b.baseType = TypeInteger
		b.rangeMin = 0
		b.rangeMax = math.MaxInt64
	case "real":
		b.baseType = TypeReal
		b.rangeMin = 0
		b.rangeMax = math.MaxFloat64
	case "boolean":
		b.baseType = TypeBoolean
	case "string":
		b.baseType = TypeString
		b.rangeMin = 0
		b.rangeMax = math.MaxInt64
	case "uuid":
		b.baseType = TypeUUID
	default:
		return nil, schemaErrorf(context, "unknown base type %q", name)
	}
	return b, nil
}

func parseType(context string, raw json.RawMessage) (*colType, error) {
	if len(raw) == 0 {
		return nil, schemaErrorf(context, "missing type")
	}
	var atomic string
	if err := json.Unmarshal(raw, &atomic); err == nil {
		key, err := newBaseType(context, atomic, nil)
		if err != nil {
			return nil, err
		}
		return &colType{key: key, nMin: 1, nMax: 1}, nil
	}

	var doc jsonColType
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schemaErrorf(context, "invalid type: %v", err)
	}

	// Extended schemas express enumerated maps through valueMap plus
	// valueType instead of a plain key/value pair.
	keyRaw, valueRaw := doc.Key, doc.Value
	if len(doc.ValueMap) > 0 {
		keyRaw = json.RawMessage(`"string"`)
		valueRaw = doc.ValueType
		if len(valueRaw) == 0 {
			valueRaw = json.RawMessage(`"string"`)
		}
	}

	key, err := parseBaseType(context, keyRaw)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, schemaErrorf(context, "missing key type")
	}
	value, err := parseBaseType(context, valueRaw)
	if err != nil {
		return nil, err
	}

	t := &colType{key: key, value: value, nMin: 1, nMax: 1}
	if doc.Min != nil {
		t.nMin = *doc.Min
	}
	if len(doc.Max) > 0 {
		var n int
		if err := json.Unmarshal(doc.Max, &n); err == nil {
			t.nMax = n
		} else {
			var s string
			if err := json.Unmarshal(doc.Max, &s); err != nil || s != "unlimited" {
				return nil, schemaErrorf(context, "invalid max %s", string(doc.Max))
			}
			t.nMax = math.MaxInt32
		}
	}

	if len(doc.ValueMap) > 0 {
		t.kvs = make(map[string]*KVSchema, len(doc.ValueMap))
		for kvKey, kvRaw := range doc.ValueMap {
			var kvDoc struct {
				Type json.RawMessage `json:"type"`
			}
			if err := json.Unmarshal(kvRaw, &kvDoc); err != nil {
				return nil, schemaErrorf(context, "invalid valueMap entry %q: %v", kvKey, err)
			}
			kvType, err := parseBaseType(context, kvDoc.Type)
			if err != nil {
				return nil, err
			}
			if kvType == nil {
				return nil, schemaErrorf(context, "valueMap entry %q has no type", kvKey)
			}
			t.kvs[kvKey] = &KVSchema{
				Type:     kvType.baseType,
				RangeMin: kvType.rangeMin,
				RangeMax: kvType.rangeMax,
				Enum:     kvType.enum,
				Optional: t.nMin == 0,
			}
		}
	}
	return t, nil
}

// CoerceValue converts a URI or query string into a value of the given base
// type, for index lookups and column filters.
func CoerceValue(t BaseType, s string) (any, error) {
	switch t {
	case TypeInteger:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return v, nil
	case TypeReal:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid real %q", s)
		}
		return v, nil
	case TypeBoolean:
		switch s {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", s)
	case TypeUUID:
		v, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid %q", s)
		}
		return v, nil
	default:
		return s, nil
	}
}

// canonicalKey renders a value the way it appears as a map key or an index
// segment. Whole reals print without a fraction, matching integer keys.
func canonicalKey(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case uuid.UUID:
		return val.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

// CanonicalKey is canonicalKey for callers outside the package.
func CanonicalKey(v any) string {
	return canonicalKey(v)
}

// isImmutable reports whether REST may not insert or delete rows of a table.
// A table is mutable only when reachable rows can be named by a
// configuration-category index, or when its parent link itself is
// configuration.
func isImmutable(s *Schema, name string) bool {
	table := s.Tables[name]

	if table.IsRoot {
		return !hasConfigIndex(s, name)
	}
	if table.Parent == "" {
		return !hasConfigIndex(s, name)
	}

	parent := s.Tables[table.Parent]
	if !contains(parent.Children, name) {
		// Forward-referenced child: mutability follows the category of
		// the parent's reference column.
		for _, item := range parent.Children {
			ref, ok := parent.References[item]
			if !ok {
				continue
			}
			if ref.RefTable == name {
				return !ref.Category.Is(CategoryConfiguration)
			}
		}
		return true
	}
	// Back-referenced child.
	return !hasConfigIndex(s, name)
}

func hasConfigIndex(s *Schema, name string) bool {
	table := s.Tables[name]
	for _, index := range table.IndexColumns {
		if _, ok := table.Config[index]; ok {
			return true
		}
		if ref, ok := table.References[index]; ok && ref.Category.Is(CategoryConfiguration) {
			return true
		}
	}
	return false
}

// PluralOf exposes the name normalization used for table plural names.
func PluralOf(name string) string {
	return normalizeName(name, true)
}

// SingularOf is the inverse transform of PluralOf.
func SingularOf(name string) string {
	return normalizeName(name, false)
}
