// Package wfs is the KVP protocol adapter in front of the query router. It
// parses GetFeature, GetPropertyValue and the stored query listings and
// renders the XML responses.
package wfs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/wfs-query/internal/artifact"
	"github.com/mohammed-shakir/wfs-query/internal/feature"
	"github.com/mohammed-shakir/wfs-query/internal/featurestore"
	"github.com/mohammed-shakir/wfs-query/internal/logger"
	"github.com/mohammed-shakir/wfs-query/internal/projection"
	"github.com/mohammed-shakir/wfs-query/internal/query"
	"github.com/mohammed-shakir/wfs-query/internal/storedquery"
)

const contentTypeXML = "text/xml; charset=utf-8"

// Datasets resolves a source id to its feature store.
type Datasets interface {
	Get(ctx context.Context, source string) (*featurestore.Store, error)
}

type Options struct {
	// externally visible base URL for artifact links; derived from the
	// request when empty
	BaseURL string
	Logger  *slog.Logger
	Now     func() time.Time
}

type Handler struct {
	datasets  Datasets
	router    *query.Router
	artifacts artifact.Store
	baseURL   string
	logger    *slog.Logger
	now       func() time.Time
}

func NewHandler(ds Datasets, router *query.Router, artifacts artifact.Store, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		datasets:  ds,
		router:    router,
		artifacts: artifacts,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// Routes mounts the WFS endpoint and the artifact download route.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/wfs/{source}", h.ServeWFS)
	r.Get("/filestore/{name}", h.ServeArtifact)
}

func (h *Handler) ServeWFS(w http.ResponseWriter, r *http.Request) {
	k := parseKVP(r.URL.Query())
	source := chi.URLParam(r, "source")
	ctx := logger.WithSource(r.Context(), source)

	version, err := k.version()
	if err != nil {
		h.fail(ctx, w, err, defaultVersion)
		return
	}
	if s := k.get("service"); s != "" && !strings.EqualFold(s, "WFS") {
		h.fail(ctx, w, invalidParam("service", "service %s not supported", s), version)
		return
	}

	var doc *etree.Document
	req := k.get("request")
	switch {
	case req == "":
		err = missingParam("request")
	case strings.EqualFold(req, "GetFeature"):
		doc, err = h.getFeature(ctx, r, source, k, version)
	case strings.EqualFold(req, "GetPropertyValue"):
		doc, err = h.getPropertyValue(ctx, r, source, k, version)
	case strings.EqualFold(req, "ListStoredQueries"):
		doc = listStoredQueries(h.registryDefinitions(), version)
	case strings.EqualFold(req, "DescribeStoredQueries"):
		doc, err = h.describeStoredQueries(k, version)
	default:
		err = &OwsError{
			Code:    CodeOperationNotSupported,
			Locator: "request",
			Text:    "operation " + req + " not supported",
			Status:  http.StatusBadRequest,
		}
	}
	if err != nil {
		h.fail(ctx, w, err, version)
		return
	}
	h.write(ctx, w, http.StatusOK, doc)
}

// run loads the dataset and hands the request to the router.
func (h *Handler) run(ctx context.Context, r *http.Request, source string, k kvp) (feature.Result, error) {
	st, err := h.datasets.Get(ctx, source)
	if err != nil {
		return feature.Result{}, err
	}
	maxF, err := k.maxFeatures()
	if err != nil {
		return feature.Result{}, err
	}
	qr := query.Request{
		Filter:        []byte(k.get("query")),
		StoredQueryID: k.get("storedquery_id"),
		Params:        k.storedParams(),
		TypeName:      k.get("typename", "typenames"),
		MaxFeatures:   maxF,
	}
	if qr.Mode() == query.ModeList && qr.TypeName != "" && !st.HasType(qr.TypeName) {
		var served []string
		for _, ts := range st.Types() {
			served = append(served, ts.Name)
		}
		return feature.Result{}, invalidParam("typename",
			"typename %s is not served by %s (served: %s)", qr.TypeName, source, strings.Join(served, ","))
	}

	ctx = artifact.WithBaseURL(ctx, h.base(r))
	res, err := h.router.Run(ctx, st, qr)
	if err != nil {
		return feature.Result{}, err
	}
	return res, nil
}

func (h *Handler) getFeature(ctx context.Context, r *http.Request, source string, k kvp, version string) (*etree.Document, error) {
	res, err := h.run(ctx, r, source, k)
	if err != nil {
		return nil, err
	}
	return featureCollection(res, version, h.now())
}

func (h *Handler) getPropertyValue(ctx context.Context, r *http.Request, source string, k kvp, version string) (*etree.Document, error) {
	ref := k.get("valuereference")
	if ref == "" {
		return nil, missingParam("valuereference")
	}
	expr, err := projection.Compile(ref)
	if err != nil {
		return nil, err
	}
	res, err := h.run(ctx, r, source, k)
	if err != nil {
		return nil, err
	}
	values, err := expr.Apply(res.Features)
	if err != nil {
		return nil, err
	}
	return valueCollection(values, expr.Attribute() != "", version, h.now())
}

func (h *Handler) registryDefinitions() []storedquery.Definition {
	if reg := h.router.Registry(); reg != nil {
		return reg.Definitions()
	}
	return nil
}

func (h *Handler) describeStoredQueries(k kvp, version string) (*etree.Document, error) {
	ids := splitList(k.get("storedquery_id", "storedqueryid"))
	if len(ids) == 0 {
		return describeStoredQueries(h.registryDefinitions(), version), nil
	}
	reg := h.router.Registry()
	if reg == nil {
		return nil, invalidParam("storedquery_id", "no stored queries are registered")
	}
	defs := make([]storedquery.Definition, 0, len(ids))
	for _, id := range ids {
		e, err := reg.Lookup(id)
		if err != nil {
			return nil, err
		}
		defs = append(defs, e.Definition)
	}
	return describeStoredQueries(defs, version), nil
}

func (h *Handler) ServeArtifact(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := artifact.ValidateName(name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := h.artifacts.Get(r.Context(), name)
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "artifact read failed", "name", name, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeXML)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) base(r *http.Request) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error, version string) {
	oe := classify(err)
	if oe.Status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "wfs request failed", "code", oe.Code, "err", err)
	} else {
		h.logger.DebugContext(ctx, "wfs request rejected", "code", oe.Code, "locator", oe.Locator, "err", err)
	}
	h.write(ctx, w, oe.Status, exceptionReport(oe, version))
}

func (h *Handler) write(ctx context.Context, w http.ResponseWriter, status int, doc *etree.Document) {
	body, err := doc.WriteToBytes()
	if err != nil {
		h.logger.ErrorContext(ctx, "render response", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeXML)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
