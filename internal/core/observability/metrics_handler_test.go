package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("GET", "/tree", 200, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "app_build_info") && !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestInit_DedicatedRegistry_LODAndFetchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	// registering twice must be harmless
	Init(reg, true)
	SetMode("running")

	IncLODTransition("subdivide")
	ObserveTileFetch("network", "ok", 0.02)
	SetLODNodes(4, 5)

	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()

	for _, want := range []string{
		`lod_transitions_total{mode="running",transition="subdivide"}`,
		`tile_fetch_total{outcome="ok",source="network"}`,
		`lod_visible_nodes 4`,
		`tile_fetch_duration_seconds_bucket`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in:\n%s", want, body)
		}
	}
}
