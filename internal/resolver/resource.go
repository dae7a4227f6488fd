// Package resolver translates REST URIs into database coordinates. A parsed
// URI is a linked chain of Resource nodes rooted at the singleton System row.
package resolver

import (
	"github.com/google/uuid"
)

// Base path constants.
const (
	VersionPath = "/rest/v1"
	SystemURI   = "system"
	SystemTable = "System"
)

// Relation describes the link between a Resource node and its successor.
type Relation string

const (
	RelationChild         Relation = "child"
	RelationBackReference Relation = "back_reference"
	RelationTopLevel      Relation = "top_level"
)

// Resource identifies one step of a URI: a table, optionally a concrete row,
// and the column plus relation leading to the next step. A terminal node with
// a zero Row addresses a collection.
type Resource struct {
	Table    string
	Row      uuid.UUID
	Column   string
	Index    []string
	Relation Relation
	Next     *Resource
}

// Terminal returns the last node of the chain.
func (r *Resource) Terminal() *Resource {
	node := r
	for node.Next != nil {
		node = node.Next
	}
	return node
}

// Parent returns the node preceding the terminal node, or nil for a
// single-node chain.
func (r *Resource) Parent() *Resource {
	if r.Next == nil {
		return nil
	}
	node := r
	for node.Next.Next != nil {
		node = node.Next
	}
	return node
}

// IsCollection reports whether the chain addresses a collection rather than
// a single row.
func (r *Resource) IsCollection() bool {
	return r.Terminal().Row == uuid.Nil
}
