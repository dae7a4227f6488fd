package schema

import (
	"encoding/json"
	"math"
	"os"
	"regexp"
	"sort"
)

var versionPattern = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)

// Load reads and parses an extended schema file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses the JSON form of an extended schema.
func Parse(data []byte) (*Schema, error) {
	var doc jsonSchema
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, schemaErrorf("", "invalid JSON: %v", err)
	}
	if doc.Name == "" {
		return nil, schemaErrorf("", "missing schema name")
	}
	if doc.Version != "" && !versionPattern.MatchString(doc.Version) {
		return nil, schemaErrorf("", "version %q not in format x.y.z", doc.Version)
	}

	s := &Schema{
		Name:         doc.Name,
		Version:      doc.Version,
		Tables:       make(map[string]*Table, len(doc.Tables)),
		ReferencedBy: make(map[string]map[string][]string),
		PluralNames:  make(map[string]string, len(doc.Tables)),
	}
	for name, raw := range doc.Tables {
		table, err := parseTable(name, raw)
		if err != nil {
			return nil, err
		}
		s.Tables[name] = table
		s.PluralNames[table.PluralName] = name
	}

	// Backfill parent and children from each reference's relation.
	// Children holds forward reference column names for child relations
	// and child table names for back references.
	for _, table := range s.Tables {
		for columnName, ref := range table.References {
			target := s.Tables[ref.RefTable]
			if target == nil {
				return nil, schemaErrorf(table.Name, "reference column %q targets unknown table %q", columnName, ref.RefTable)
			}
			switch ref.Relation {
			case RelationChild:
				table.Children = append(table.Children, columnName)
				if target.Parent == "" {
					target.Parent = table.Name
				}
			case RelationParent:
				if !contains(target.Children, table.Name) {
					target.Children = append(target.Children, table.Name)
				}
				table.Parent = ref.RefTable
			}
		}
	}

	// Reverse reference map, used to scrub references on delete.
	for target := range s.Tables {
		byTable := make(map[string][]string)
		for name, table := range s.Tables {
			var columns []string
			for columnName, ref := range table.References {
				if ref.RefTable == target {
					columns = append(columns, columnName)
				}
			}
			if len(columns) > 0 {
				sort.Strings(columns)
				byTable[name] = columns
			}
		}
		if len(byTable) > 0 {
			s.ReferencedBy[target] = byTable
		}
	}

	for name, table := range s.Tables {
		table.Mutable = !isImmutable(s, name)
	}
	return s, nil
}

type jsonSchema struct {
	Name    string                     `json:"name"`
	Version string                     `json:"version"`
	Tables  map[string]json.RawMessage `json:"tables"`
}

type jsonTable struct {
	Columns map[string]json.RawMessage `json:"columns"`
	IsRoot  bool                       `json:"isRoot"`
	MaxRows int                        `json:"maxRows"`
	Indexes [][]string                 `json:"indexes"`
}

type jsonColumn struct {
	Category     json.RawMessage `json:"category"`
	Relationship string          `json:"relationship"`
	Mutable      *bool           `json:"mutable"`
	EmptyValue   any             `json:"emptyValue"`
	Keyname      string          `json:"keyname"`
	Type         json.RawMessage `json:"type"`
}

var relationshipMap = map[string]Relation{
	"1:m":       RelationChild,
	"m:1":       RelationParent,
	"reference": RelationReference,
}

func parseTable(name string, raw json.RawMessage) (*Table, error) {
	var doc jsonTable
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schemaErrorf(name, "invalid table: %v", err)
	}
	if len(doc.Columns) == 0 {
		return nil, schemaErrorf(name, "table must have at least one column")
	}
	maxRows := doc.MaxRows
	if maxRows < 0 {
		return nil, schemaErrorf(name, "maxRows must be at least 1")
	}
	if maxRows == 0 {
		maxRows = math.MaxInt32
	}

	table := &Table{
		Name:       name,
		PluralName: normalizeName(name, true),
		IsRoot:     doc.IsRoot,
		IsMany:     maxRows != 1,
		MaxRows:    maxRows,
		Config:     make(map[string]*Column),
		Status:     make(map[string]*Column),
		Stats:      make(map[string]*Column),
		Dynamic:    make(map[string]ColumnCategory),
		References: make(map[string]*Reference),
		FetchKind:  onDemandTables[name],
	}
	if len(doc.Indexes) > 0 {
		table.IndexColumns = doc.Indexes[0]
	}

	for columnName, columnRaw := range doc.Columns {
		if err := parseColumn(table, columnName, columnRaw); err != nil {
			return nil, err
		}
	}
	sort.Strings(table.Columns)
	sort.Strings(table.ReadonlyColumns)

	// Dynamic follows targets must name existing columns.
	for columnName, cat := range table.Dynamic {
		if cat.Follows != "" && !contains(table.Columns, cat.Follows) {
			return nil, schemaErrorf(name, "column %q follows unknown column %q", columnName, cat.Follows)
		}
	}

	// Resource-URI index: drop parent references, fall back to row UUID.
	if len(table.IndexColumns) == 0 {
		table.Indexes = []string{"uuid"}
	} else {
		for _, item := range table.IndexColumns {
			if ref, ok := table.References[item]; ok && ref.Relation == RelationParent {
				continue
			}
			table.Indexes = append(table.Indexes, item)
		}
	}
	return table, nil
}

func parseColumn(table *Table, columnName string, raw json.RawMessage) error {
	context := table.Name + "." + columnName
	var doc jsonColumn
	if err := json.Unmarshal(raw, &doc); err != nil {
		return schemaErrorf(context, "invalid column: %v", err)
	}

	category, err := parseCategory(context, doc.Category)
	if err != nil {
		return err
	}
	colType, err := parseType(context, doc.Type)
	if err != nil {
		return err
	}
	if colType.nMin > colType.nMax || colType.nMax < 1 {
		return schemaErrorf(context, "impossible member count range [%d,%d]", colType.nMin, colType.nMax)
	}

	mutable := doc.Mutable == nil || *doc.Mutable
	optional := colType.nMin == 0

	if doc.Relationship != "" {
		relation, ok := relationshipMap[doc.Relationship]
		if !ok {
			return schemaErrorf(context, "unknown table relationship %q", doc.Relationship)
		}
		// A non-configuration reference is never mutable.
		if relation == RelationReference && !category.Is(CategoryConfiguration) {
			mutable = false
		}
		ref, err := buildReference(context, columnName, category, colType, optional, mutable, doc.Keyname)
		if err != nil {
			return err
		}
		ref.Relation = relation
		table.References[columnName] = ref
		if category.Dynamic {
			table.Dynamic[columnName] = category
		}
		markOnDemand(table, columnName, false)
		table.Columns = append(table.Columns, columnName)
		return nil
	}

	// Status and statistics columns are always mutable in the replica.
	if !category.Is(CategoryConfiguration) {
		mutable = true
	}
	column := buildColumn(columnName, category, colType, optional, mutable, doc.EmptyValue, doc.Keyname)

	readonly := false
	switch {
	case category.Is(CategoryConfiguration):
		readonly = table.FetchKind == FetchFull
		table.Config[columnName] = column
	case category.Is(CategoryStatus):
		readonly = true
		table.Status[columnName] = column
	case category.Is(CategoryStatistics):
		readonly = true
		table.Stats[columnName] = column
	default:
		// No handled category or relationship, skip the column.
		return nil
	}
	if category.Dynamic {
		table.Dynamic[columnName] = category
	}
	if readonly {
		markOnDemand(table, columnName, true)
	}
	table.Columns = append(table.Columns, columnName)
	return nil
}

// markOnDemand records a column as excluded from the replica until fetched.
// Partial fetch keeps index columns replicated; references of on-demand
// tables are fetched with the rest of the readonly state.
func markOnDemand(table *Table, columnName string, readonly bool) {
	switch table.FetchKind {
	case FetchNone:
		return
	case FetchPartial:
		if !readonly && !contains(table.IndexColumns, columnName) {
			readonly = true
		}
		if contains(table.IndexColumns, columnName) {
			return
		}
	case FetchFull:
		readonly = true
	}
	if readonly {
		table.ReadonlyColumns = append(table.ReadonlyColumns, columnName)
	}
}

func buildColumn(name string, category ColumnCategory, t *colType, optional, mutable bool, emptyValue any, keyname string) *Column {
	col := &Column{
		Name:       name,
		Category:   category,
		Optional:   optional,
		Mutable:    mutable,
		EmptyValue: emptyValue,
		Enum:       t.key.enum,
		Keyname:    keyname,
		Type:       t.key.baseType,
		RangeMin:   t.key.rangeMin,
		RangeMax:   t.key.rangeMax,
		NMin:       t.nMin,
		NMax:       t.nMax,
		KVs:        t.kvs,
	}
	if t.value != nil {
		col.ValueType = t.value.baseType
		col.ValueRangeMin = t.value.rangeMin
		col.ValueRangeMax = t.value.rangeMax
		col.IsMap = true
	} else {
		col.IsList = t.nMax > 1
	}
	return col
}

func buildReference(context, name string, category ColumnCategory, t *colType, optional, mutable bool, keyname string) (*Reference, error) {
	ref := &Reference{
		Column:   *buildColumn(name, category, t, optional, mutable, nil, keyname),
		IsPlural: t.nMax != 1,
	}
	// Key/value references keep the referenced table in the value part.
	if t.key.baseType != TypeUUID {
		ref.KVType = true
		ref.KVKeyType = t.key.baseType
		if t.value == nil || t.value.refTable == "" {
			return nil, schemaErrorf(context, "key/value reference has no referenced table")
		}
		ref.RefTable = t.value.refTable
	} else {
		if t.key.refTable == "" {
			return nil, schemaErrorf(context, "reference has no referenced table")
		}
		ref.RefTable = t.key.refTable
	}
	return ref, nil
}

func parseCategory(context string, raw json.RawMessage) (ColumnCategory, error) {
	if len(raw) == 0 {
		return ColumnCategory{}, nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		cat := Category(name)
		switch cat {
		case CategoryConfiguration, CategoryStatus, CategoryStatistics:
			return ColumnCategory{Value: cat}, nil
		default:
			return ColumnCategory{}, schemaErrorf(context, "unknown category %q", name)
		}
	}

	var doc struct {
		PerValue []struct {
			Value    any    `json:"value"`
			Category string `json:"category"`
		} `json:"per-value"`
		Follows string `json:"follows"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ColumnCategory{}, schemaErrorf(context, "invalid category: %v", err)
	}
	if len(doc.PerValue) == 0 && doc.Follows == "" {
		return ColumnCategory{}, schemaErrorf(context, "unknown category object attributes")
	}
	cat := ColumnCategory{
		Value:    CategoryConfiguration,
		Dynamic:  true,
		Follows:  doc.Follows,
		PerValue: make(map[string]Category),
	}
	for _, entry := range doc.PerValue {
		switch Category(entry.Category) {
		case CategoryConfiguration, CategoryStatus, CategoryStatistics:
		default:
			return ColumnCategory{}, schemaErrorf(context, "unknown category %q", entry.Category)
		}
		cat.PerValue[canonicalKey(entry.Value)] = Category(entry.Category)
	}
	return cat, nil
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
