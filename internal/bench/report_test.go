package bench

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *BenchmarkReport {
	outcomes := []RequestOutcome{
		{Success: true, TTFT: 100 * time.Millisecond, Latency: time.Second, OutputTokens: 5, PromptLen: 10,
			ITL: []time.Duration{200 * time.Millisecond, 250 * time.Millisecond}},
		{Success: false, Error: "Bad Gateway"},
	}
	return Aggregate(outcomes, 2*time.Second, []Metric{MetricTTFT, MetricITL}, []float64{50, 99.9})
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	sampleReport().Render(&buf)
	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	assert.Equal(t, "============ Serving Benchmark Result ============", lines[0])
	assert.Len(t, lines[0], 50)
	assert.Equal(t, strings.Repeat("=", 50), lines[len(lines)-1])

	assert.Contains(t, out, "Successful requests:                     1")
	assert.Contains(t, out, "Failed requests:                         1")
	assert.Contains(t, out, "Request throughput (req/s):              0.50")
	assert.Contains(t, out, "---------------Time to First Token----------------")
	assert.Contains(t, out, "Mean TTFT (ms):                          100.00")
	assert.Contains(t, out, "P99.9 ITL (ms):")
	assert.NotContains(t, out, "TPOT")
}

func TestRender_NoFailuresLine(t *testing.T) {
	r := Aggregate([]RequestOutcome{{Success: true, OutputTokens: 1}}, time.Second, nil, nil)

	var buf bytes.Buffer
	r.Render(&buf)

	assert.NotContains(t, buf.String(), "Failed requests")
}

func TestResult_Keys(t *testing.T) {
	result := sampleReport().Result()

	assert.Equal(t, 1, result["completed"])
	assert.Equal(t, 2, result["attempted"])
	assert.Equal(t, 2.0, result["duration"])
	assert.InDelta(t, 100.0, result["mean_ttft_ms"], 1e-9)
	assert.Contains(t, result, "median_itl_ms")
	assert.Contains(t, result, "std_itl_ms")
	assert.Contains(t, result, "p50_ttft_ms")
	assert.Contains(t, result, "p99.9_itl_ms")
	assert.NotContains(t, result, "mean_tpot_ms")
}

func TestParsePercentiles(t *testing.T) {
	ps, err := ParsePercentiles("50, 90,99.9")
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 90, 99.9}, ps)

	_, err = ParsePercentiles("50,abc")
	assert.Error(t, err)

	_, err = ParsePercentiles("101")
	assert.ErrorContains(t, err, "out of range")
}
