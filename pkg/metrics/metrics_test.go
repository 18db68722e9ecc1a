package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler(c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestCollectorCounts(t *testing.T) {
	c := New()
	c.Transition("running")
	c.Transition("running")
	c.Transition("finished")
	c.Item("tap", "passed", 20*time.Millisecond)
	c.RunStarted()
	c.RunStarted()
	c.RunEnded("passed")
	c.Capture(true)

	out := scrape(t, c)
	want := []string{
		`action_runner_state_transitions_total{state="running"} 2`,
		`action_runner_state_transitions_total{state="finished"} 1`,
		`action_runner_items_total{status="passed",syntax="tap"} 1`,
		`action_runner_item_duration_seconds_count{syntax="tap"} 1`,
		`action_runner_active_runs 1`,
		`action_runner_runs_total{outcome="passed"} 1`,
		`action_runner_tree_captures_total{changed="true"} 1`,
	}
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("metrics output missing %q", w)
		}
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.Transition("running")
	c.Item("tap", "passed", time.Second)
	c.RunStarted()
	c.RunEnded("stopped")
	c.Capture(false)
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(Handler(New()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", resp2.StatusCode)
	}
}
