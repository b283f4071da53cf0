package metrics_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/creachadair/streamer/metrics"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollector(t *testing.T) {
	var m *metrics.M
	m.Count("x", 1)
	m.SetMaxValue("y", 2)
	m.CountAndSetMax("z", 3)
	if got := m.Counter("x"); got != 0 {
		t.Errorf("Counter on nil: got %d, want 0", got)
	}
	if got := m.Names(); got != nil {
		t.Errorf("Names on nil: got %v, want nil", got)
	}
}

func TestCounts(t *testing.T) {
	m := metrics.New()

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Count("bridge.requests", 1)
			m.CountAndSetMax("bridge.frame_size", int64(i))
		}()
	}
	wg.Wait()
	m.SetMaxValue("mux.depth", 4)

	counters := make(map[string]int64)
	maxValues := make(map[string]int64)
	m.Snapshot(counters, maxValues)

	if diff := cmp.Diff(map[string]int64{
		"bridge.requests":   10,
		"bridge.frame_size": 55,
	}, counters); diff != "" {
		t.Errorf("Counters: (-want, +got)\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int64{
		"bridge.frame_size": 10,
		"mux.depth":         4,
	}, maxValues); diff != "" {
		t.Errorf("Max values: (-want, +got)\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bridge.frame_size", "bridge.requests", "mux.depth"}, m.Names()); diff != "" {
		t.Errorf("Names: (-want, +got)\n%s", diff)
	}
}

func TestCollector(t *testing.T) {
	m := metrics.New()
	m.Count("bridge.requests", 3)
	m.SetMaxValue("bridge.frame_size", 512)

	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector(m, "streamer")); err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}
	const want = `
# HELP streamer_bridge_frame_size_max Maximum value of bridge.frame_size.
# TYPE streamer_bridge_frame_size_max gauge
streamer_bridge_frame_size_max 512
# HELP streamer_bridge_requests_total Counter bridge.requests.
# TYPE streamer_bridge_requests_total counter
streamer_bridge_requests_total 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want)); err != nil {
		t.Errorf("GatherAndCompare: %v", err)
	}
}
