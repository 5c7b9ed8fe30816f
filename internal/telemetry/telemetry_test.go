package telemetry

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldland/worldland-launcher/internal/bench"
	"github.com/worldland/worldland-launcher/internal/slots"
)

func intPtr(v int) *int { return &v }

func TestSlotCollector_ReflectsAllocations(t *testing.T) {
	alloc, err := slots.New([]slots.NodeSpec{
		{Address: "m", Slots: intPtr(4), Type: "gpu"},
		{Address: "w1", Slots: intPtr(2), Type: "gpu"},
	})
	require.NoError(t, err)

	_, err = alloc.Allocate("gpu", slots.AutoAddress, 3)
	require.NoError(t, err)

	expected := `
# HELP launcher_slots_total Total slots on the node
# TYPE launcher_slots_total gauge
launcher_slots_total{node="m",type="gpu"} 4
launcher_slots_total{node="w1",type="gpu"} 2
# HELP launcher_slots_used Slots already allocated on the node
# TYPE launcher_slots_used gauge
launcher_slots_used{node="m",type="gpu"} 3
launcher_slots_used{node="w1",type="gpu"} 0
`
	err = testutil.CollectAndCompare(NewSlotCollector(alloc), strings.NewReader(expected))
	assert.NoError(t, err)
}

func TestAllocationCounter(t *testing.T) {
	c := NewAllocationCounter()

	c.RecordAllocation("gpu", 2, nil)
	c.RecordAllocation("gpu", 3, nil)
	c.RecordAllocation("gpu", 9, errors.New("insufficient"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.attempts.WithLabelValues("gpu", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attempts.WithLabelValues("gpu", "rejected")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.slots.WithLabelValues("gpu")))
}

func TestBenchMetrics_Observe(t *testing.T) {
	m := NewBenchMetrics()

	m.Observe(bench.RequestOutcome{Success: true, OutputTokens: 10, TTFT: 50 * time.Millisecond, Latency: time.Second})
	m.Observe(bench.RequestOutcome{Success: true, OutputTokens: 0})
	m.Observe(bench.RequestOutcome{Success: false, Error: "Bad Gateway"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("failed")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.outputTokens))
	assert.Equal(t, 1, testutil.CollectAndCount(m, "launcher_bench_ttft_seconds"))
}

func TestBenchMetrics_ImplementsObserver(t *testing.T) {
	var _ bench.Observer = NewBenchMetrics()
}

func TestHandler_ServesRegistry(t *testing.T) {
	alloc, err := slots.New([]slots.NodeSpec{{Address: "m", Slots: intPtr(8), Type: "gpu"}})
	require.NoError(t, err)

	reg := NewRegistry(NewSlotCollector(alloc), NewAllocationCounter())
	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `launcher_slots_total{node="m",type="gpu"} 8`)
	assert.Contains(t, string(body), "go_goroutines")
}
