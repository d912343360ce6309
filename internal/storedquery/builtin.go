package storedquery

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-query/internal/feature"
)

const (
	GetFeatureByID                    = "urn-x:wfs:StoredQueryId:ISO:GetFeatureById"
	PhenomenonQuery                   = "urn-x:wfs:StoredQueryId:badc.nerc.ac.uk:phenomenonQuery"
	ExtractPointFromPointSeries       = "urn-x:wfs:StoredQueryId:badc.nerc.ac.uk:extractPointFromPointSeries"
	ExtractPointSeriesFromPointSeries = "urn-x:wfs:StoredQueryId:badc.nerc.ac.uk:extractPointSeriesFromPointSeries"
	ExtractGridSeriesFromGridSeries   = "urn-x:wfs:StoredQueryId:badc.nerc.ac.uk:extractGridSeriesFromGridSeries"
	ExtractPointSeriesFromGridSeries  = "urn-x:wfs:StoredQueryId:badc.nerc.ac.uk:extractPointSeriesFromGridSeries"
)

// Extract is a subset feature paired with the storage descriptor of the
// materialized data it was cut from.
type Extract struct {
	Feature    *feature.Feature
	Descriptor string
}

// Subsetter cuts features down to a time instant, a time range, a bbox or a
// point. at is nil when the source is already a point series.
type Subsetter interface {
	ExtractPoint(ctx context.Context, src *feature.Feature, instant time.Time) (Extract, error)
	ExtractPointSeries(ctx context.Context, src *feature.Feature, r TimeRange, at *orb.Point) (Extract, error)
	ExtractGridSeries(ctx context.Context, src *feature.Feature, r TimeRange, b orb.Bound) (Extract, error)
}

// Builtin returns the registry of the standard queries.
func Builtin(sub Subsetter) (*Registry, error) {
	return NewRegistry(
		Entry{
			Definition: Definition{
				ID:                GetFeatureByID,
				Title:             "GetFeatureById",
				Abstract:          "Get any feature by id",
				Parameters:        []Parameter{{"id", "xsd:anyURI"}},
				ReturnFeatureType: "csml:AbstractFeature",
			},
			Func: getFeatureByID,
		},
		Entry{
			Definition: Definition{
				ID:                PhenomenonQuery,
				Title:             "SelectFeaturesByPhenomenon",
				Abstract:          `Select features based on their phenomenon type, e.g. "temperature"`,
				Parameters:        []Parameter{{"phenomenon", "xsd:string"}},
				ReturnFeatureType: "csml:AbstractFeature",
			},
			Func: phenomenonQuery,
		},
		Entry{
			Definition: Definition{
				ID:                ExtractPointFromPointSeries,
				Title:             "ExtractPointFromPointSeries",
				Abstract:          "Extract a csml:PointFeature for a single time instance from a csml:PointSeriesFeature",
				Parameters:        []Parameter{{"featureid", "xsd:anyURI"}, {"timeinstance", "gml:TimePositionUnion"}},
				ReturnFeatureType: feature.TypePoint,
			},
			Func: extractPoint(sub),
		},
		Entry{
			Definition: Definition{
				ID:                ExtractPointSeriesFromPointSeries,
				Title:             "ExtractPointSeriesFromPointSeries",
				Abstract:          "Extract a csml:PointSeriesFeature for a range of times from a csml:PointSeriesFeature",
				Parameters:        []Parameter{{"featureid", "xsd:anyURI"}, {"mintime", "gml:TimePositionUnion"}, {"maxtime", "gml:TimePositionUnion"}},
				ReturnFeatureType: feature.TypePointSeries,
			},
			Func: extractPointSeries(sub),
		},
		Entry{
			Definition: Definition{
				ID:       ExtractGridSeriesFromGridSeries,
				Title:    "ExtractGridSeriesFromGridSeries",
				Abstract: "Extract a csml:GridSeries from a csml:GridSeriesFeature",
				Parameters: []Parameter{
					{"featureid", "xsd:anyURI"}, {"mintime", "gml:TimePositionUnion"},
					{"maxtime", "gml:TimePositionUnion"}, {"bbox", "xsd:string"},
				},
				ReturnFeatureType: feature.TypeGridSeries,
			},
			Func: extractGridSeries(sub),
		},
		Entry{
			Definition: Definition{
				ID:       ExtractPointSeriesFromGridSeries,
				Title:    "ExtractPointSeriesFromGridSeries",
				Abstract: "Extract a csml:PointSeries from a csml:GridSeriesFeature",
				Parameters: []Parameter{
					{"featureid", "xsd:anyURI"}, {"mintime", "gml:TimePositionUnion"},
					{"maxtime", "gml:TimePositionUnion"}, {"latitude", "xsd:string"}, {"longitude", "xsd:string"},
				},
				ReturnFeatureType: feature.TypePointSeries,
			},
			Func: extractPointSeriesFromGrid(sub),
		},
	)
}

func getFeatureByID(_ context.Context, src Source, p Params) (feature.Result, error) {
	id, err := p.required("id")
	if err != nil {
		return feature.Result{}, err
	}
	f, err := src.GetByID(id)
	if err != nil {
		return feature.Result{}, err
	}
	return feature.Result{Features: []*feature.Feature{f}}, nil
}

func phenomenonQuery(_ context.Context, src Source, p Params) (feature.Result, error) {
	phen, err := p.required("phenomenon")
	if err != nil {
		return feature.Result{}, err
	}
	return feature.Result{Features: src.GetByPropertyEquals(feature.PropParameter, phen)}, nil
}

// sourceFeature resolves featureid and checks it has the type the query cuts from.
func sourceFeature(src Source, p Params, wantType string) (*feature.Feature, error) {
	id, err := p.required("featureid")
	if err != nil {
		return nil, err
	}
	f, err := src.GetByID(id)
	if err != nil {
		return nil, err
	}
	if f.Type != wantType {
		return nil, fmt.Errorf("%w: feature %q is a %s, want %s", ErrInvalidParameter, id, f.Type, wantType)
	}
	return f, nil
}

func paired(x Extract) feature.Result {
	return feature.Result{
		Features:  []*feature.Feature{x.Feature},
		Auxiliary: []string{x.Descriptor},
	}
}

func extractPoint(sub Subsetter) Func {
	return func(ctx context.Context, src Source, p Params) (feature.Result, error) {
		f, err := sourceFeature(src, p, feature.TypePointSeries)
		if err != nil {
			return feature.Result{}, err
		}
		at, err := p.instant("timeinstance")
		if err != nil {
			return feature.Result{}, err
		}
		x, err := sub.ExtractPoint(ctx, f, at)
		if err != nil {
			return feature.Result{}, err
		}
		return paired(x), nil
	}
}

func extractPointSeries(sub Subsetter) Func {
	return func(ctx context.Context, src Source, p Params) (feature.Result, error) {
		f, err := sourceFeature(src, p, feature.TypePointSeries)
		if err != nil {
			return feature.Result{}, err
		}
		r, err := p.timeRange("mintime", "maxtime")
		if err != nil {
			return feature.Result{}, err
		}
		x, err := sub.ExtractPointSeries(ctx, f, r, nil)
		if err != nil {
			return feature.Result{}, err
		}
		return paired(x), nil
	}
}

func extractGridSeries(sub Subsetter) Func {
	return func(ctx context.Context, src Source, p Params) (feature.Result, error) {
		f, err := sourceFeature(src, p, feature.TypeGridSeries)
		if err != nil {
			return feature.Result{}, err
		}
		r, err := p.timeRange("mintime", "maxtime")
		if err != nil {
			return feature.Result{}, err
		}
		b, err := p.bbox("bbox")
		if err != nil {
			return feature.Result{}, err
		}
		x, err := sub.ExtractGridSeries(ctx, f, r, b)
		if err != nil {
			return feature.Result{}, err
		}
		return paired(x), nil
	}
}

func extractPointSeriesFromGrid(sub Subsetter) Func {
	return func(ctx context.Context, src Source, p Params) (feature.Result, error) {
		f, err := sourceFeature(src, p, feature.TypeGridSeries)
		if err != nil {
			return feature.Result{}, err
		}
		r, err := p.timeRange("mintime", "maxtime")
		if err != nil {
			return feature.Result{}, err
		}
		lat, err := p.float("latitude")
		if err != nil {
			return feature.Result{}, err
		}
		lon, err := p.float("longitude")
		if err != nil {
			return feature.Result{}, err
		}
		if !(lat >= -90 && lat <= 90) {
			return feature.Result{}, fmt.Errorf("%w: latitude %g out of range", ErrInvalidParameter, lat)
		}
		at := orb.Point{lon, lat}
		x, err := sub.ExtractPointSeries(ctx, f, r, &at)
		if err != nil {
			return feature.Result{}, err
		}
		return paired(x), nil
	}
}
