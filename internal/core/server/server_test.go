package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/wfs-query/internal/artifact"
	"github.com/mohammed-shakir/wfs-query/internal/dataset"
	"github.com/mohammed-shakir/wfs-query/internal/query"
	"github.com/mohammed-shakir/wfs-query/internal/storedquery"
	"github.com/mohammed-shakir/wfs-query/internal/subset"
	"github.com/mohammed-shakir/wfs-query/internal/wfs"
)

type notReady struct{}

func (notReady) Readiness() (bool, []int32) { return false, nil }

func newTestRouter(t *testing.T, d Deps) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache, err := dataset.NewCache(dataset.Static{}, dataset.CacheOptions{Logger: logger})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	mem, err := artifact.NewMemory(4)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	reg, err := storedquery.Builtin(subset.New(mem, logger))
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	d.WFS = wfs.NewHandler(cache, query.New(reg, logger), mem, wfs.Options{Logger: logger})
	return NewRouter(logger, d)
}

func call(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestNewRouter_Routes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) })
	h := newTestRouter(t, Deps{Ready: notReady{}, Metrics: metrics, MetricsPath: "/prom"})

	if rr := call(h, "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
	if rr := call(h, "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d", rr.Code)
	}
	if rr := call(h, "/prom"); rr.Code != http.StatusOK || rr.Body.String() != "# metrics" {
		t.Fatalf("metrics = %d %q", rr.Code, rr.Body.String())
	}
	rr := call(h, "/wfs/any?request=ListStoredQueries")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), storedquery.GetFeatureByID) {
		t.Fatalf("wfs = %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestNewRouter_DefaultsWithoutMetrics(t *testing.T) {
	h := newTestRouter(t, Deps{})
	if rr := call(h, "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rr.Code)
	}
	if rr := call(h, "/metrics"); rr.Code != http.StatusNotFound {
		t.Fatalf("metrics mounted unexpectedly: %d", rr.Code)
	}
}
