// Package featurestore holds the in-memory feature collection of one data
// source and the lookup primitives filters are evaluated with.
package featurestore

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-query/internal/feature"
)

var ErrFeatureNotFound = errors.New("feature not found")

var errUnsupportedProperty = errors.New("unsupported property")

// Property names understood by GetByPropertyEquals.
const (
	PropParameter = feature.PropParameter
	PropName      = "gml:name"
	PropType      = "type"
)

type Store struct {
	source string
	crs    string
	order  []string
	byID   map[string]*feature.Feature
	logger *slog.Logger
}

func New(source, crs string, feats []*feature.Feature) (*Store, error) {
	s := &Store{
		source: source,
		crs:    crs,
		order:  make([]string, 0, len(feats)),
		byID:   make(map[string]*feature.Feature, len(feats)),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, f := range feats {
		if f == nil {
			continue
		}
		if _, dup := s.byID[f.ID]; dup {
			return nil, fmt.Errorf("source %q: duplicate feature id %q", source, f.ID)
		}
		s.byID[f.ID] = f
		s.order = append(s.order, f.ID)
	}
	return s, nil
}

// WithLogger returns a view of the store that logs through l.
func (s *Store) WithLogger(l *slog.Logger) *Store {
	if l == nil {
		return s
	}
	cp := *s
	cp.logger = l.With("source", s.source)
	return &cp
}

func (s *Store) Source() string { return s.source }
func (s *Store) CRS() string    { return s.crs }
func (s *Store) Len() int       { return len(s.order) }

func (s *Store) GetByID(id string) (*feature.Feature, error) {
	f, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q in source %q", ErrFeatureNotFound, id, s.source)
	}
	return f, nil
}

// GetByBBox returns features whose bbox shares at least one point with b, or
// whose location lies within b. crs is accepted as is; nothing is reprojected.
func (s *Store) GetByBBox(b orb.Bound, crs string) []*feature.Feature {
	if crs != "" && s.crs != "" && !sameCRS(crs, s.crs) {
		s.logger.Debug("bbox crs differs from store crs, no reprojection", "query_crs", crs, "store_crs", s.crs)
	}
	var out []*feature.Feature
	for _, id := range s.order {
		f := s.byID[id]
		switch {
		case f.BBox != nil:
			if f.BBox.Intersects(b) {
				out = append(out, f)
			}
		case f.Location != nil:
			if b.Contains(*f.Location) {
				out = append(out, f)
			}
		}
	}
	return out
}

func (s *Store) GetByPropertyEquals(name, value string) []*feature.Feature {
	match, err := equalsMatcher(name, value)
	if err != nil {
		s.logger.Debug("property equals ignored", "property", name, "err", err)
		return nil
	}
	var out []*feature.Feature
	for _, id := range s.order {
		if f := s.byID[id]; match(f) {
			out = append(out, f)
		}
	}
	return out
}

func equalsMatcher(name, value string) (func(*feature.Feature) bool, error) {
	switch name {
	case PropParameter:
		return func(f *feature.Feature) bool {
			std, nonStd := f.Parameter()
			return (std != "" && std == value) || (nonStd != "" && nonStd == value)
		}, nil
	case PropName:
		return func(f *feature.Feature) bool {
			return f.Title == value || slices.Contains(f.Properties[PropName], value)
		}, nil
	case PropType:
		return func(f *feature.Feature) bool { return f.Type == value }, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedProperty, name)
	}
}

// GetByPropertyBetween supports only the point-series time position list.
// A feature matches when its [earliest, latest] interval overlaps
// [lower, upper], endpoints included.
func (s *Store) GetByPropertyBetween(name, lower, upper string) []*feature.Feature {
	lo, hi, err := timeRange(name, lower, upper)
	if err != nil {
		s.logger.Debug("property between ignored", "property", name, "err", err)
		return nil
	}
	var out []*feature.Feature
	for _, id := range s.order {
		f := s.byID[id]
		fmin, fmax, ok := f.TimeExtent()
		if !ok {
			continue
		}
		if !fmax.Before(lo) && !fmin.After(hi) {
			out = append(out, f)
		}
	}
	return out
}

func timeRange(name, lower, upper string) (time.Time, time.Time, error) {
	if strings.TrimSpace(name) != feature.TimePositionPath {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", errUnsupportedProperty, name)
	}
	lo, err := feature.ParseTime(lower)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("lower boundary: %w", err)
	}
	hi, err := feature.ParseTime(upper)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("upper boundary: %w", err)
	}
	if lo.After(hi) {
		return time.Time{}, time.Time{}, fmt.Errorf("lower boundary %s after upper %s", lower, upper)
	}
	return lo, hi, nil
}

// List returns every feature in insertion order.
func (s *Store) List() []*feature.Feature {
	out := make([]*feature.Feature, len(s.order))
	for i, id := range s.order {
		out[i] = s.byID[id]
	}
	return out
}

func sameCRS(a, b string) bool {
	norm := func(s string) string {
		s = strings.ToUpper(strings.TrimSpace(s))
		if i := strings.LastIndex(s, "EPSG"); i >= 0 {
			s = s[i:]
		}
		return strings.NewReplacer("::", ":", "/", ":").Replace(s)
	}
	return norm(a) == norm(b)
}
