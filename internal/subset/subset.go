// Package subset is the local subsetter behind the extract stored queries.
// It cuts a feature down in time and space, stores the result as an artifact
// and describes it with a csml:FileExtract storage descriptor.
package subset

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-query/internal/artifact"
	"github.com/mohammed-shakir/wfs-query/internal/cache/keys"
	"github.com/mohammed-shakir/wfs-query/internal/feature"
	"github.com/mohammed-shakir/wfs-query/internal/storedquery"
)

type Local struct {
	store  artifact.Store
	logger *slog.Logger
}

var _ storedquery.Subsetter = (*Local)(nil)

func New(store artifact.Store, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Local{store: store, logger: logger}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", storedquery.ErrInvalidParameter, fmt.Sprintf(format, args...))
}

type position struct {
	raw string
	t   time.Time
}

func positions(f *feature.Feature) []position {
	out := make([]position, 0, len(f.Times))
	for _, raw := range f.Times {
		if t, err := feature.ParseTime(raw); err == nil {
			out = append(out, position{raw: raw, t: t})
		}
	}
	return out
}

func (l *Local) ExtractPoint(ctx context.Context, src *feature.Feature, instant time.Time) (storedquery.Extract, error) {
	ps := positions(src)
	if len(ps) == 0 {
		return storedquery.Extract{}, invalid("feature %q has no time domain", src.ID)
	}
	lo, hi, _ := src.TimeExtent()
	if instant.Before(lo) || instant.After(hi) {
		return storedquery.Extract{}, invalid("time %s outside %s..%s", instant.Format(time.RFC3339), lo.Format(time.RFC3339), hi.Format(time.RFC3339))
	}
	nearest := ps[0]
	for _, p := range ps[1:] {
		if absDur(p.t.Sub(instant)) < absDur(nearest.t.Sub(instant)) {
			nearest = p
		}
	}

	spec := derive(src, feature.TypePoint)
	spec.Location = src.Location
	spec.Times = []string{nearest.raw}
	return l.materialize(ctx, src, "point", spec, instant.Format(time.RFC3339Nano))
}

func (l *Local) ExtractPointSeries(ctx context.Context, src *feature.Feature, r storedquery.TimeRange, at *orb.Point) (storedquery.Extract, error) {
	times, err := slice(src, r)
	if err != nil {
		return storedquery.Extract{}, err
	}
	spec := derive(src, feature.TypePointSeries)
	spec.Times = times
	params := []string{r.Min.Format(time.RFC3339Nano), r.Max.Format(time.RFC3339Nano)}

	if at == nil {
		spec.Location = src.Location
		return l.materialize(ctx, src, "series", spec, params...)
	}
	if src.BBox == nil || !src.BBox.Contains(*at) {
		return storedquery.Extract{}, invalid("point %g,%g outside feature %q", at[0], at[1], src.ID)
	}
	p := *at
	spec.Location = &p
	params = append(params, coord(p[0]), coord(p[1]))
	return l.materialize(ctx, src, "series", spec, params...)
}

func (l *Local) ExtractGridSeries(ctx context.Context, src *feature.Feature, r storedquery.TimeRange, b orb.Bound) (storedquery.Extract, error) {
	if src.BBox == nil || !src.BBox.Intersects(b) {
		return storedquery.Extract{}, invalid("bbox does not intersect feature %q", src.ID)
	}
	times, err := slice(src, r)
	if err != nil {
		return storedquery.Extract{}, err
	}
	cut := intersection(*src.BBox, b)

	spec := derive(src, feature.TypeGridSeries)
	spec.BBox = &cut
	spec.Times = times
	return l.materialize(ctx, src, "grid", spec,
		r.Min.Format(time.RFC3339Nano), r.Max.Format(time.RFC3339Nano),
		coord(cut.Min[0]), coord(cut.Min[1]), coord(cut.Max[0]), coord(cut.Max[1]))
}

// slice keeps the time positions inside r, in document order.
func slice(src *feature.Feature, r storedquery.TimeRange) ([]string, error) {
	var out []string
	for _, p := range positions(src) {
		if r.Contains(p.t) {
			out = append(out, p.raw)
		}
	}
	if len(out) == 0 {
		return nil, invalid("no time positions of feature %q in %s..%s", src.ID,
			r.Min.Format(time.RFC3339), r.Max.Format(time.RFC3339))
	}
	return out, nil
}

func derive(src *feature.Feature, typ string) feature.Spec {
	props := make(map[string][]string, len(src.Properties))
	maps.Copy(props, src.Properties)
	return feature.Spec{
		Type:       typ,
		Title:      "subset of " + firstNonEmpty(src.Title, src.ID),
		Abstract:   src.Abstract,
		CRS:        src.CRS,
		Properties: props,
	}
}

func (l *Local) materialize(ctx context.Context, src *feature.Feature, kind string, spec feature.Spec, params ...string) (storedquery.Extract, error) {
	hash := keys.ExtractHash(src.ID, kind, params...)
	name := "csml" + hash + ".xml"
	spec.ID = src.ID + "-" + hash[:8]

	data, err := feature.New(spec)
	if err != nil {
		return storedquery.Extract{}, fmt.Errorf("build subset of %q: %w", src.ID, err)
	}
	body, err := data.GML()
	if err != nil {
		return storedquery.Extract{}, err
	}
	if err := l.store.Put(ctx, name, []byte(body)); err != nil {
		return storedquery.Extract{}, fmt.Errorf("store subset of %q: %w", src.ID, err)
	}

	std, _ := src.Parameter()
	desc, err := descriptor(artifact.PublicURL(ctx, name), std, len(spec.Times))
	if err != nil {
		return storedquery.Extract{}, err
	}

	// the returned feature carries the descriptor as its range set
	spec.Inline = map[string]string{"rangeset-" + hash[:8]: desc}
	out, err := feature.New(spec)
	if err != nil {
		return storedquery.Extract{}, fmt.Errorf("build subset of %q: %w", src.ID, err)
	}

	l.logger.DebugContext(ctx, "subset materialized",
		"feature", src.ID, "kind", kind, "artifact", name, "times", len(spec.Times))
	return storedquery.Extract{Feature: out, Descriptor: desc}, nil
}

func descriptor(fileName, variable string, size int) (string, error) {
	doc := etree.NewDocument()
	root := doc.CreateElement("csml:FileExtract")
	root.CreateAttr("xmlns:csml", feature.NSCSML)
	root.CreateElement("csml:arraySize").SetText(strconv.Itoa(size))
	root.CreateElement("csml:fileName").SetText(fileName)
	if variable != "" {
		root.CreateElement("csml:variableName").SetText(variable)
	}
	s, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("serialize storage descriptor: %w", err)
	}
	return s, nil
}

func intersection(a, b orb.Bound) orb.Bound {
	return orb.Bound{
		Min: orb.Point{max(a.Min[0], b.Min[0]), max(a.Min[1], b.Min[1])},
		Max: orb.Point{min(a.Max[0], b.Max[0]), min(a.Max[1], b.Max[1])},
	}
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func coord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
