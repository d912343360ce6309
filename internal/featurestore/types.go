package featurestore

import (
	"slices"
	"strings"

	"github.com/paulmach/orb"
)

// TypeSummary describes one feature type served by a store.
type TypeSummary struct {
	Name  string
	Count int
	// union of member extents; nil when no member is located
	BBox *orb.Bound
}

// Types summarizes the feature types, sorted by name. Longitudes given on a
// 0..360 grid are shifted into -180..180 before the union is taken.
func (s *Store) Types() []TypeSummary {
	byType := make(map[string]*TypeSummary)
	for _, id := range s.order {
		f := s.byID[id]
		ts, ok := byType[f.Type]
		if !ok {
			ts = &TypeSummary{Name: f.Type}
			byType[f.Type] = ts
		}
		ts.Count++

		var b orb.Bound
		switch {
		case f.BBox != nil:
			b = normalizeLon(*f.BBox)
		case f.Location != nil:
			b = normalizeLon(f.Location.Bound())
		default:
			continue
		}
		if ts.BBox == nil {
			ts.BBox = &b
			continue
		}
		u := ts.BBox.Union(b)
		ts.BBox = &u
	}

	out := make([]TypeSummary, 0, len(byType))
	for _, ts := range byType {
		out = append(out, *ts)
	}
	slices.SortFunc(out, func(a, b TypeSummary) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// HasType reports whether any feature has the given type.
func (s *Store) HasType(name string) bool {
	for _, f := range s.byID {
		if f.Type == name {
			return true
		}
	}
	return false
}

func normalizeLon(b orb.Bound) orb.Bound {
	if b.Max[0] <= 180 {
		return b
	}
	if b.Min[0] >= 180 {
		b.Min[0] -= 360
		b.Max[0] -= 360
		return b
	}
	// straddles the antimeridian once shifted
	b.Min[0], b.Max[0] = -180, 180
	return b
}
