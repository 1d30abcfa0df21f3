package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveAccumulatesEndpointStats(t *testing.T) {
	r := NewRegistry()

	r.Observe("/pac", 200, 10*time.Millisecond)
	r.Observe("/pac", 200, 30*time.Millisecond)
	r.Observe("/pac", 500, 20*time.Millisecond)

	snap := r.Snapshot()
	stat, ok := snap.Endpoints["/pac"]
	if !ok {
		t.Fatal("missing /pac endpoint stat")
	}
	if stat.Count != 3 {
		t.Fatalf("count = %d, want 3", stat.Count)
	}
	if stat.ErrorCount != 1 {
		t.Fatalf("error_count = %d, want 1", stat.ErrorCount)
	}
	if stat.MaxMillis != 30 {
		t.Fatalf("max_millis = %d, want 30", stat.MaxMillis)
	}
	if stat.AverageMillis != 20 {
		t.Fatalf("average_millis = %v, want 20", stat.AverageMillis)
	}
	if stat.LastStatusCode != 500 {
		t.Fatalf("last_status_code = %d, want 500", stat.LastStatusCode)
	}
}

func TestCountersAndGauges(t *testing.T) {
	r := NewRegistry()

	r.Inc("pac_default")
	r.Add("pac_default", 4)
	r.Add("ignored", 0)
	r.Add("ignored", -2)
	r.Add("", 7)
	r.SetGauge("agent_connections", 3)
	r.SetGauge("agent_connections", 1)
	r.SetGauge("", 9)

	snap := r.Snapshot()
	if snap.Counters["pac_default"] != 5 {
		t.Fatalf("counter = %d, want 5", snap.Counters["pac_default"])
	}
	if _, ok := snap.Counters["ignored"]; ok {
		t.Fatal("non-positive deltas must be dropped")
	}
	if snap.Gauges["agent_connections"] != 1 {
		t.Fatalf("gauge = %v, want 1", snap.Gauges["agent_connections"])
	}
	if len(snap.Counters) != 1 || len(snap.Gauges) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Observe("/healthz", 200, time.Millisecond)

	snap := r.Snapshot()
	r.Observe("/healthz", 200, time.Millisecond)

	if snap.Endpoints["/healthz"].Count != 1 {
		t.Fatal("snapshot must not track later observations")
	}
}

func TestJSONHandler(t *testing.T) {
	r := NewRegistry()
	r.Inc("rate_limited")

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/api/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"rate_limited": 1`) {
		t.Fatalf("body missing counter: %s", rec.Body.String())
	}
}

func TestPrometheusHandler(t *testing.T) {
	r := NewRegistry()
	r.Observe("/pac", 200, 10*time.Millisecond)
	r.Inc("pac_config")
	r.SetGauge("agent_heartbeat_healthy", 1)

	rec := httptest.NewRecorder()
	r.PrometheusHandler()(rec, httptest.NewRequest("GET", "/api/metrics/prometheus", nil))

	body := rec.Body.String()
	for _, line := range []string{
		`proxyko_endpoint_count{endpoint="/pac"} 1`,
		`proxyko_counter_total{name="pac_config"} 1`,
		`proxyko_gauge{name="agent_heartbeat_healthy"} 1.000`,
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("missing %q in:\n%s", line, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type = %q", ct)
	}
}
