package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/wfs-query/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)

	observability.ObserveQuery("filter", 2, nil, 0.003)
	observability.ObserveQuery("stored", 0, errors.New("bad"), 0.001)
	observability.ObserveDatasetLoad(nil, 0.02)
	observability.IncDatasetCache("miss")
	observability.IncConsumerError("decode")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`wfs_query_duration_seconds_bucket`,
		`dataset_load_duration_seconds_count 1`,
		`dataset_cache_results_total{result="miss"} 1`,
		`invalidation_consumer_errors_total{stage="decode"} 1`,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "wfs_queries_total", `mode="filter"`, `outcome="ok"`)
	assertHasMetricLine(t, body, "wfs_queries_total", `mode="stored"`, `outcome="error"`)
	assertHasMetricLine(t, body, "app_build_info", `version="test"`)
}
