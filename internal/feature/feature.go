// Package feature defines the queryable feature model shared by the store,
// the filter evaluator, stored queries and projection.
package feature

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/paulmach/orb"
)

// XML namespaces used in feature documents and filters.
const (
	NSCSML  = "http://ndg.nerc.ac.uk/csml"
	NSGML   = "http://www.opengis.net/gml"
	NSOGC   = "http://www.opengis.net/ogc"
	NSXLink = "http://www.w3.org/1999/xlink"
)

// Feature types produced by the backend and by subsetting.
const (
	TypePoint       = "csml:PointFeature"
	TypePointSeries = "csml:PointSeriesFeature"
	TypeGridSeries  = "csml:GridSeriesFeature"
)

// PropParameter holds the standard name followed by the non-standard name.
const PropParameter = "csml:parameter"

var ErrInvalidFeature = errors.New("invalid feature")

// Spec is the construction input for a Feature.
type Spec struct {
	ID         string
	Type       string
	Title      string
	Abstract   string
	CRS        string
	BBox       *orb.Bound
	Location   *orb.Point
	Properties map[string][]string
	Times      []string
	// raw GML; a canonical document is generated when empty
	GML string
	// referenced content keyed by xlink target id
	Inline map[string]string
}

// Feature is immutable once built; callers must not modify the exported
// fields of a Feature obtained from a store.
type Feature struct {
	ID         string
	Type       string
	Title      string
	Abstract   string
	CRS        string
	BBox       *orb.Bound
	Location   *orb.Point
	Properties map[string][]string
	Times      []string

	doc    *etree.Document
	inline map[string]string
}

func New(s Spec) (*Feature, error) {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidFeature)
	}
	if strings.TrimSpace(s.Type) == "" {
		return nil, fmt.Errorf("%w: feature %q has no type", ErrInvalidFeature, id)
	}
	if s.BBox != nil && s.Location != nil {
		return nil, fmt.Errorf("%w: feature %q has both bbox and location", ErrInvalidFeature, id)
	}
	if s.BBox != nil {
		if !finite(s.BBox.Min[0], s.BBox.Min[1], s.BBox.Max[0], s.BBox.Max[1]) {
			return nil, fmt.Errorf("%w: feature %q bbox is not finite", ErrInvalidFeature, id)
		}
		if s.BBox.Max[0] < s.BBox.Min[0] || s.BBox.Max[1] < s.BBox.Min[1] {
			return nil, fmt.Errorf("%w: feature %q bbox corners are inverted", ErrInvalidFeature, id)
		}
	}
	if s.Location != nil && !finite(s.Location[0], s.Location[1]) {
		return nil, fmt.Errorf("%w: feature %q location is not finite", ErrInvalidFeature, id)
	}

	f := &Feature{
		ID:         id,
		Type:       strings.TrimSpace(s.Type),
		Title:      s.Title,
		Abstract:   s.Abstract,
		CRS:        s.CRS,
		Properties: make(map[string][]string, len(s.Properties)),
		Times:      slices.Clone(s.Times),
		inline:     maps.Clone(s.Inline),
	}
	if f.CRS == "" {
		f.CRS = "EPSG:4326"
	}
	if s.BBox != nil {
		b := *s.BBox
		f.BBox = &b
	}
	if s.Location != nil {
		p := *s.Location
		f.Location = &p
	}
	for k, v := range s.Properties {
		f.Properties[k] = slices.Clone(v)
	}

	if strings.TrimSpace(s.GML) == "" {
		f.doc = canonicalGML(f)
		return f, nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromString(s.GML); err != nil {
		return nil, fmt.Errorf("%w: feature %q gml: %v", ErrInvalidFeature, id, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("%w: feature %q gml has no root element", ErrInvalidFeature, id)
	}
	f.doc = doc
	return f, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Parameter returns the standard and non-standard parameter names.
func (f *Feature) Parameter() (standard, nonStandard string) {
	v := f.Properties[PropParameter]
	if len(v) > 0 {
		standard = v[0]
	}
	if len(v) > 1 {
		nonStandard = v[1]
	}
	return standard, nonStandard
}

// Resolve returns a copy of the feature document with every xlink reference
// replaced by its inline content. The stored template is left untouched.
func (f *Feature) Resolve() *etree.Document {
	doc := f.doc.Copy()
	resolveRefs(doc.Root(), f.inline)
	return doc
}

// GML serializes the resolved feature document.
func (f *Feature) GML() (string, error) {
	s, err := f.Resolve().WriteToString()
	if err != nil {
		return "", fmt.Errorf("serialize feature %q: %w", f.ID, err)
	}
	return s, nil
}

// TimeExtent returns the earliest and latest parseable time positions,
// independent of their order in the document.
func (f *Feature) TimeExtent() (lo, hi time.Time, ok bool) {
	for _, raw := range f.Times {
		t, err := ParseTime(raw)
		if err != nil {
			continue
		}
		if !ok || t.Before(lo) {
			lo = t
		}
		if !ok || t.After(hi) {
			hi = t
		}
		ok = true
	}
	return lo, hi, ok
}
