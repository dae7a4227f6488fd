package resolver

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/schema"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

var errNotFound = errors.New("resolver: not found")

// SplitPath splits a URI path on '/', percent-decoding each segment and
// dropping empties.
func SplitPath(path string) []string {
	var out []string
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		decoded, err := url.PathUnescape(segment)
		if err != nil {
			decoded = segment
		}
		out = append(out, decoded)
	}
	return out
}

// Parse resolves an absolute path of the form /rest/v1/system[/...] into a
// Resource chain. Any resolution failure reports the resource as not found.
func Parse(s *schema.Schema, r ovsdb.Reader, path string) (*Resource, error) {
	notFound := apperrors.NewNotFound(path)

	if !strings.HasPrefix(path, VersionPath) {
		return nil, notFound
	}
	segments := SplitPath(strings.TrimPrefix(path, VersionPath))
	if len(segments) == 0 || segments[0] != SystemURI {
		return nil, notFound
	}

	head := &Resource{Table: SystemTable}
	for id := range r.Rows(SystemTable) {
		head.Row = id
		break
	}
	if head.Row == uuid.Nil {
		return nil, notFound
	}

	if err := parseSegments(s, r, segments[1:], head); err != nil {
		return nil, notFound
	}
	return head, nil
}

func parseSegments(s *schema.Schema, r ovsdb.Reader, path []string, node *Resource) error {
	if len(path) == 0 {
		return nil
	}

	table := s.Table(node.Table)
	var next *Resource

	if ref := table.ChildColumn(path[0]); ref != nil && contains(table.Children, path[0]) {
		// Forward referenced child.
		node.Relation = RelationChild
		node.Column = path[0]
		next = &Resource{Table: ref.RefTable}
		node.Next = next

		childTable := s.Table(ref.RefTable)
		indexes := childTable.Indexes
		uuidIndexed := len(indexes) == 1 && indexes[0] == "uuid"
		path = path[1:]

		switch {
		case len(path) == 0 && ref.NMax > 1:
			// Collection URI.
			return nil

		case ref.NMax == 1:
			parent := r.Row(node.Table, node.Row)
			if parent == nil {
				return errNotFound
			}
			id, key, ok := singleReference(parent.Get(node.Column))
			if !ok {
				if len(path) > 0 {
					return errNotFound
				}
				return nil
			}
			next.Row = id
			if key != "" {
				next.Index = []string{key}
			}

		case !uuidIndexed:
			if len(path) < len(indexes) {
				return errNotFound
			}
			indexValues := path[:len(indexes)]
			row := verifyIndex(s, r, next, node, indexValues)
			if row == nil {
				return errNotFound
			}
			next.Row = row.UUID
			next.Index = indexValues
			path = path[len(indexes):]

		default:
			// UUID-indexed children are addressed by map key or list
			// position within the parent column.
			parent := r.Row(node.Table, node.Row)
			if parent == nil {
				return errNotFound
			}
			id, err := childByKey(ref, parent.Get(node.Column), path[0])
			if err != nil {
				return err
			}
			next.Row = id
			next.Index = []string{path[0]}
			path = path[1:]
		}
		return parseSegments(s, r, path, next)
	}

	if childTable := s.TableByPlural(path[0]); childTable != nil {
		switch {
		case contains(table.Children, childTable.Name):
			node.Relation = RelationBackReference
		case node.Table == SystemTable && childTable.Parent == "":
			node.Relation = RelationTopLevel
		default:
			return errNotFound
		}
		next = &Resource{Table: childTable.Name}
		node.Next = next

		indexes := childTable.Indexes
		uuidIndexed := len(indexes) == 1 && indexes[0] == "uuid"
		path = path[1:]

		if len(path) == 0 {
			return nil
		}
		if !uuidIndexed {
			if len(path) < len(indexes) {
				return errNotFound
			}
			indexValues := path[:len(indexes)]
			row := verifyIndex(s, r, next, node, indexValues)
			if row == nil {
				return errNotFound
			}
			next.Row = row.UUID
			next.Index = indexValues
			path = path[len(indexes):]
		}
		return parseSegments(s, r, path, next)
	}

	return errNotFound
}

// verifyIndex resolves an index tuple under the parent node's relation.
func verifyIndex(s *schema.Schema, r ovsdb.Reader, node, parent *Resource, indexValues []string) *ovsdb.Row {
	table := s.Table(node.Table)

	switch parent.Relation {
	case RelationBackReference:
		refCol := table.ParentColumn()
		if refCol == "" {
			return nil
		}
		for _, row := range matchIndex(r, table, indexValues) {
			if id, ok := row.Get(refCol).(uuid.UUID); ok && id == parent.Row {
				return row
			}
		}
		return nil

	case RelationTopLevel:
		rows := matchIndex(r, table, indexValues)
		if len(rows) > 0 {
			return rows[0]
		}
		return nil

	default:
		ref := s.Table(parent.Table).References[parent.Column]
		if ref != nil && ref.KVType {
			parentRow := r.Row(parent.Table, parent.Row)
			if parentRow == nil {
				return nil
			}
			id, err := childByKey(ref, parentRow.Get(parent.Column), indexValues[0])
			if err != nil {
				return nil
			}
			return r.Row(node.Table, id)
		}
		rows := matchIndex(r, table, indexValues)
		if len(rows) > 0 {
			return rows[0]
		}
		return nil
	}
}

// matchIndex scans a table for rows whose URI index equals the given values.
func matchIndex(r ovsdb.Reader, table *schema.Table, indexValues []string) []*ovsdb.Row {
	if len(indexValues) != len(table.Indexes) {
		return nil
	}
	var out []*ovsdb.Row
	for _, row := range r.Rows(table.Name) {
		matched := true
		for i, index := range table.Indexes {
			var got string
			if index == "uuid" {
				got = row.UUID.String()
			} else {
				got = schema.CanonicalKey(row.Get(index))
			}
			if got != indexValues[i] {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, row)
		}
	}
	return out
}

// childByKey resolves one entry of a child reference column: a map key for
// key/value references, a list position otherwise.
func childByKey(ref *schema.Reference, value any, key string) (uuid.UUID, error) {
	switch children := value.(type) {
	case map[string]uuid.UUID:
		if ref.KVType {
			if ref.KVKeyType == schema.TypeUUID {
				return uuid.Nil, errNotFound
			}
			coerced, err := schema.CoerceValue(ref.KVKeyType, key)
			if err != nil {
				return uuid.Nil, errNotFound
			}
			key = schema.CanonicalKey(coerced)
		}
		if id, ok := children[key]; ok {
			return id, nil
		}
	case []uuid.UUID:
		pos, err := strconv.Atoi(key)
		if err == nil && pos >= 0 && pos < len(children) {
			return children[pos], nil
		}
	case uuid.UUID:
		if children.String() == key {
			return children, nil
		}
	}
	return uuid.Nil, errNotFound
}

// singleReference unpacks a scalar child reference that may be stored as a
// bare UUID, a single-element list or a single-entry map.
func singleReference(value any) (uuid.UUID, string, bool) {
	switch v := value.(type) {
	case uuid.UUID:
		return v, "", v != uuid.Nil
	case []uuid.UUID:
		if len(v) > 0 {
			return v[0], "", true
		}
	case map[string]uuid.UUID:
		for key, id := range v {
			return id, key, true
		}
	}
	return uuid.Nil, "", false
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
