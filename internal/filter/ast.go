// Package filter parses OGC Filter Encoding documents into a closed set of
// node types and evaluates them against a feature source.
package filter

import "github.com/paulmach/orb"

// Node is one of And, Or, IDEquals, BBoxIntersects, PropertyEquals or
// PropertyBetween.
type Node interface {
	isNode()
}

type And struct {
	Left, Right Node
}

type Or struct {
	Left, Right Node
}

type IDEquals struct {
	ID string
}

type BBoxIntersects struct {
	Bound orb.Bound
	CRS   string
}

type PropertyEquals struct {
	Name    string
	Literal string
}

type PropertyBetween struct {
	Name  string
	Lower string
	Upper string
}

func (And) isNode()             {}
func (Or) isNode()              {}
func (IDEquals) isNode()        {}
func (BBoxIntersects) isNode()  {}
func (PropertyEquals) isNode()  {}
func (PropertyBetween) isNode() {}

// Filter is the parsed container; its clauses are evaluated as a union.
type Filter struct {
	Clauses []Node
}
