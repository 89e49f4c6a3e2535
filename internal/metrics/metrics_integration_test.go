package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/observability"
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
	observability.SetMode("running")
	observability.ExposeBuildInfo("test")

	start := time.Now()
	observability.ObserveTileFetch("network", "ok", time.Since(start).Seconds())
	observability.ObserveTileFetch("store", "ok", 0.001)
	observability.IncLODTransition("expand")
	observability.ObserveCacheOp("get", nil, 0.002)
	observability.IncKafkaConsumerError("decode")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`tile_fetch_duration_seconds_bucket`,
		`redis_operation_duration_seconds_count`,
		`kafka_consumer_errors_total{kind="decode"} `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "tile_fetch_total", `outcome="ok"`, `source="store"`)
	assertHasMetricLine(t, body, "lod_transitions_total", `transition="expand"`, `mode="running"`)
	assertHasMetricLine(t, body, "app_build_info", `version="test"`)
	assertHasMetricLine(t, body, "lodstream_build_info", `version="test"`)
}
