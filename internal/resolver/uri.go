package resolver

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/schema"
)

// RowToIndex computes the URI index of a row. UUID-indexed child rows are
// named by their key (or position) inside the parent's child column; passing
// parentRow limits the scan to that parent.
func RowToIndex(s *schema.Schema, r ovsdb.Reader, tableName string, row *ovsdb.Row, parentRow *ovsdb.Row) string {
	table := s.Table(tableName)
	indexes := table.Indexes

	if len(indexes) == 1 && indexes[0] == "uuid" {
		if table.Parent == "" {
			return row.UUID.String()
		}
		parentTable := s.Table(table.Parent)
		// The parent's forward column is conventionally named by the
		// child's plural name.
		columnName := table.PluralName
		if _, ok := parentTable.References[columnName]; !ok {
			return ""
		}
		parents := map[uuid.UUID]*ovsdb.Row{}
		if parentRow != nil {
			parents[parentRow.UUID] = parentRow
		} else {
			parents = r.Rows(table.Parent)
		}
		for _, item := range parents {
			switch children := item.Get(columnName).(type) {
			case []uuid.UUID:
				for pos, id := range children {
					if id == row.UUID {
						return strconv.Itoa(pos)
					}
				}
			case map[string]uuid.UUID:
				for key, id := range children {
					if id == row.UUID {
						return key
					}
				}
			case uuid.UUID:
				if children == row.UUID {
					return "0"
				}
			}
		}
		return ""
	}

	parts := make([]string, 0, len(indexes))
	for _, index := range indexes {
		parts = append(parts, url.PathEscape(schema.CanonicalKey(row.Get(index))))
	}
	return strings.Join(parts, "/")
}

// IndexFromData computes the URI index of a row being created from request
// data, before the row is committed.
func IndexFromData(s *schema.Schema, parent *Resource, childTable string, data map[string]any, row *ovsdb.Row) string {
	table := s.Table(childTable)
	indexes := table.Indexes

	if len(indexes) == 1 && indexes[0] == "uuid" {
		if parent != nil && parent.Relation == RelationChild {
			ref := s.Table(parent.Table).References[parent.Column]
			if ref != nil && ref.KVType {
				return schema.CanonicalKey(data[ref.Keyname])
			}
		}
		return row.UUID.String()
	}
	if len(indexes) == 1 {
		return schema.CanonicalKey(data[indexes[0]])
	}
	parts := make([]string, 0, len(indexes))
	for _, index := range indexes {
		parts = append(parts, url.PathEscape(schema.CanonicalKey(data[index])))
	}
	return strings.Join(parts, "/")
}

// RowToURI computes the canonical REST URI of a row by walking up the
// parent chain to System. Scalar forward children contribute only their
// column name.
func RowToURI(s *schema.Schema, r ovsdb.Reader, tableName string, row *ovsdb.Row) string {
	var path []string

	for row != nil {
		table := s.Table(tableName)
		if table == nil {
			return ""
		}
		if tableName == SystemTable {
			path = append(path, SystemURI)
			break
		}
		if table.Parent == "" {
			// Top-level table.
			index := RowToIndex(s, r, tableName, row, nil)
			path = append(path, index, table.PluralName, SystemURI)
			break
		}

		parentTable := s.Table(table.Parent)
		var parentRow *ovsdb.Row

		if contains(parentTable.Children, tableName) {
			// Back-referenced child: follow the parent reference column.
			refCol := table.ParentColumn()
			if refCol == "" {
				return ""
			}
			if id, ok := row.Get(refCol).(uuid.UUID); ok {
				parentRow = r.Row(table.Parent, id)
			}
			index := RowToIndex(s, r, tableName, row, parentRow)
			path = append(path, index, table.PluralName)
		} else {
			// Forward child: locate the parent row holding the reference.
			columnName, ref := forwardColumnTo(parentTable, tableName)
			if ref == nil {
				return ""
			}
			for _, item := range r.Rows(table.Parent) {
				if holdsReference(item.Get(columnName), row.UUID) {
					parentRow = item
					break
				}
			}
			if ref.NMax == 1 {
				path = append(path, columnName)
			} else {
				index := RowToIndex(s, r, tableName, row, parentRow)
				path = append(path, index, columnName)
			}
		}

		row = parentRow
		tableName = table.Parent
		if tableName == SystemTable {
			path = append(path, SystemURI)
			break
		}
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return VersionPath + "/" + strings.Join(path, "/")
}

func forwardColumnTo(parent *schema.Table, childTable string) (string, *schema.Reference) {
	for name, ref := range parent.References {
		if ref.Relation == schema.RelationChild && ref.RefTable == childTable {
			return name, ref
		}
	}
	return "", nil
}

func holdsReference(value any, id uuid.UUID) bool {
	switch refs := value.(type) {
	case uuid.UUID:
		return refs == id
	case []uuid.UUID:
		for _, item := range refs {
			if item == id {
				return true
			}
		}
	case map[string]uuid.UUID:
		for _, item := range refs {
			if item == id {
				return true
			}
		}
	}
	return false
}

// BackReferenceChildren returns the rows of childTable whose parent
// reference equals parent.
func BackReferenceChildren(s *schema.Schema, r ovsdb.Reader, parentTable string, parent uuid.UUID, childTable string) []*ovsdb.Row {
	table := s.Table(childTable)
	refCol := ""
	for name, ref := range table.References {
		if ref.Relation == schema.RelationParent && ref.RefTable == parentTable {
			refCol = name
			break
		}
	}
	if refCol == "" {
		return nil
	}
	var out []*ovsdb.Row
	for _, row := range r.Rows(childTable) {
		if id, ok := row.Get(refCol).(uuid.UUID); ok && id == parent {
			out = append(out, row)
		}
	}
	return out
}
