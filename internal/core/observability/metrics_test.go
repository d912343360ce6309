package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestInit_RegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)

	ObserveHTTP("GET", "/wfs/{source}", 200, 0.002)
	ObserveQuery("filter", 3, nil, 0.001)
	ObserveQuery("stored", 0, errors.New("x"), 0.001)
	ObserveStoredQuery("urn:q", nil)
	ObserveDatasetLoad(nil, 0.05)
	IncDatasetCache("hit")
	SetDatasetCacheEntries(2)
	AddDatasetInvalidations(1)
	ObserveArtifactOp("redis", "get", nil, true, 0.001)
	IncInvalidation("update", "applied")
	IncConsumerError("decode")

	body := scrape(t, reg)
	for _, want := range []string{
		`http_requests_total{method="GET",route="/wfs/{source}",status="200"} 1`,
		`wfs_queries_total{mode="filter",outcome="ok"} 1`,
		`wfs_queries_total{mode="stored",outcome="error"} 1`,
		`wfs_query_result_features_bucket`,
		`wfs_stored_queries_total{outcome="ok",query="urn:q"} 1`,
		`dataset_loads_total{outcome="ok"} 1`,
		`dataset_cache_results_total{result="hit"} 1`,
		`dataset_cache_entries 2`,
		`dataset_cache_invalidations_total 1`,
		`artifact_ops_total{backend="redis",op="get",outcome="miss"} 1`,
		`invalidation_events_total{op="update",outcome="applied"} 1`,
		`invalidation_consumer_errors_total{stage="decode"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestInit_DisabledDoesNotTouchRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	Init(nil, false)
	ObserveQuery("list", 1, nil, 0.001)

	if body := scrape(t, reg); strings.Contains(body, `mode="list"`) {
		t.Fatalf("disabled metrics leaked into registry:\n%s", body)
	}
}
