package feature

import (
	"maps"
	"slices"
	"strings"
)

// ResultSet is a set of features deduplicated by id.
type ResultSet map[string]*Feature

func NewResultSet(fs ...*Feature) ResultSet {
	rs := make(ResultSet, len(fs))
	for _, f := range fs {
		if f != nil {
			rs[f.ID] = f
		}
	}
	return rs
}

func (rs ResultSet) Has(id string) bool {
	_, ok := rs[id]
	return ok
}

func (rs ResultSet) Len() int { return len(rs) }

func (rs ResultSet) Union(other ResultSet) ResultSet {
	out := make(ResultSet, len(rs)+len(other))
	maps.Copy(out, rs)
	maps.Copy(out, other)
	return out
}

func (rs ResultSet) Intersect(other ResultSet) ResultSet {
	small, large := rs, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(ResultSet, len(small))
	for id, f := range small {
		if large.Has(id) {
			out[id] = f
		}
	}
	return out
}

// Features returns the members sorted by id.
func (rs ResultSet) Features() []*Feature {
	out := slices.Collect(maps.Values(rs))
	slices.SortFunc(out, func(a, b *Feature) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// IDs returns the member ids sorted.
func (rs ResultSet) IDs() []string {
	return slices.Sorted(maps.Keys(rs))
}

// Result is what a query produces: features plus any auxiliary documents
// (finished XML strings such as storage descriptors).
type Result struct {
	Features  []*Feature
	Auxiliary []string
}
