// Package query routes a request to filter evaluation, a stored query or a
// plain listing of the feature store.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/wfs-query/internal/core/observability"
	"github.com/mohammed-shakir/wfs-query/internal/feature"
	"github.com/mohammed-shakir/wfs-query/internal/filter"
	"github.com/mohammed-shakir/wfs-query/internal/logger"
	"github.com/mohammed-shakir/wfs-query/internal/storedquery"
)

const (
	ModeFilter = "filter"
	ModeStored = "stored"
	ModeList   = "list"
)

var ErrInvalidRequest = errors.New("invalid query request")

// Store is everything the three modes read from.
type Store interface {
	filter.Source
	List() []*feature.Feature
}

// Request carries the caller's choice of mode. Filter wins over
// StoredQueryID; TypeName and MaxFeatures only apply to a listing.
type Request struct {
	Filter        []byte
	StoredQueryID string
	Params        storedquery.Params
	TypeName      string
	MaxFeatures   *int
}

func (r Request) Mode() string {
	switch {
	case len(r.Filter) > 0:
		return ModeFilter
	case r.StoredQueryID != "":
		return ModeStored
	default:
		return ModeList
	}
}

type Router struct {
	registry *storedquery.Registry
	logger   *slog.Logger
}

func New(registry *storedquery.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{registry: registry, logger: logger}
}

func (r *Router) Registry() *storedquery.Registry { return r.registry }

func (r *Router) Run(ctx context.Context, st Store, req Request) (feature.Result, error) {
	mode := req.Mode()
	ctx = logger.WithQueryMode(ctx, mode)
	start := time.Now()

	var (
		res feature.Result
		err error
	)
	switch mode {
	case ModeFilter:
		res, err = runFilter(st, req.Filter)
	case ModeStored:
		res, err = r.runStored(ctx, st, req)
	default:
		res, err = runList(st, req)
	}

	observability.ObserveQuery(mode, len(res.Features), err, time.Since(start).Seconds())
	if err != nil {
		r.logger.DebugContext(ctx, "query failed", "err", err)
		return feature.Result{}, err
	}
	if res.Auxiliary == nil {
		res.Auxiliary = []string{}
	}
	r.logger.DebugContext(ctx, "query done",
		"features", len(res.Features),
		"auxiliary", len(res.Auxiliary),
		"duration", time.Since(start).String())
	return res, nil
}

func runFilter(st Store, doc []byte) (feature.Result, error) {
	rs, err := filter.Evaluate(st, doc)
	if err != nil {
		return feature.Result{}, err
	}
	return feature.Result{Features: rs.Features()}, nil
}

func (r *Router) runStored(ctx context.Context, st Store, req Request) (feature.Result, error) {
	if r.registry == nil {
		return feature.Result{}, fmt.Errorf("%w: %q", storedquery.ErrUnknownStoredQuery, req.StoredQueryID)
	}
	res, err := r.registry.Invoke(ctx, req.StoredQueryID, st, req.Params)
	label := req.StoredQueryID
	if errors.Is(err, storedquery.ErrUnknownStoredQuery) {
		label = "unknown" // keeps client-supplied ids out of the label set
	}
	observability.ObserveStoredQuery(label, err)
	return res, err
}

func runList(st Store, req Request) (feature.Result, error) {
	if req.MaxFeatures != nil && *req.MaxFeatures < 0 {
		return feature.Result{}, fmt.Errorf("%w: negative max features %d", ErrInvalidRequest, *req.MaxFeatures)
	}
	all := st.List()
	out := make([]*feature.Feature, 0, len(all))
	for _, f := range all {
		if req.TypeName != "" && f.Type != req.TypeName {
			continue
		}
		out = append(out, f)
	}
	if req.MaxFeatures != nil && len(out) > *req.MaxFeatures {
		out = out[:*req.MaxFeatures]
	}
	return feature.Result{Features: out}, nil
}
