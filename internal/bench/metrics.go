package bench

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Metric names a latency family.
type Metric string

const (
	MetricTTFT Metric = "ttft"
	MetricTPOT Metric = "tpot"
	MetricITL  Metric = "itl"
	MetricE2EL Metric = "e2el"
)

// AllMetrics lists the families in report order.
var AllMetrics = []Metric{MetricTTFT, MetricTPOT, MetricITL, MetricE2EL}

var metricLabels = map[Metric]struct{ short, header string }{
	MetricTTFT: {"TTFT", "Time to First Token"},
	MetricTPOT: {"TPOT", "Time per Output Token (excl. 1st token)"},
	MetricITL:  {"ITL", "Inter-token Latency"},
	MetricE2EL: {"E2EL", "End-to-end Latency"},
}

// ParseMetrics parses a comma separated list such as "ttft,tpot,itl".
func ParseMetrics(s string) ([]Metric, error) {
	var metrics []Metric
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		m := Metric(name)
		if _, ok := metricLabels[m]; !ok {
			return nil, fmt.Errorf("unknown metric %q (want one of ttft, tpot, itl, e2el)", name)
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

// PercentileValue is one requested percentile of a family, in milliseconds.
type PercentileValue struct {
	Percentile float64
	Value      float64
}

// Summary holds the statistics of one latency family, in milliseconds.
type Summary struct {
	Mean        float64
	Median      float64
	Std         float64
	Percentiles []PercentileValue
}

// Aggregate computes the report for a finished run. Only successful outcomes
// count as completed; the latency families additionally require at least one
// output token, and TPOT at least two.
func Aggregate(outcomes []RequestOutcome, duration time.Duration, metrics []Metric, percentiles []float64) *BenchmarkReport {
	r := &BenchmarkReport{
		Duration:  duration,
		Attempted: len(outcomes),
		Metrics:   selectMetrics(metrics),
		Latencies: make(map[Metric]Summary),
	}

	var ttfts, tpots, itls, e2els []float64
	for _, out := range outcomes {
		if !out.Success {
			r.Failed++
			continue
		}
		r.Completed++
		r.TotalInput += out.PromptLen

		if out.OutputTokens == 0 {
			continue
		}
		r.TotalOutput += out.OutputTokens

		ttfts = append(ttfts, ms(out.TTFT))
		e2els = append(e2els, ms(out.Latency))
		for _, d := range out.ITL {
			itls = append(itls, ms(d))
		}
		if out.OutputTokens > 1 {
			tpot := (out.Latency - out.TTFT).Seconds() / float64(out.OutputTokens-1)
			tpots = append(tpots, tpot*1000)
		}
	}

	if secs := duration.Seconds(); secs > 0 {
		r.RequestThroughput = float64(r.Completed) / secs
		r.OutputThroughput = float64(r.TotalOutput) / secs
		r.TotalTokenThroughput = float64(r.TotalInput+r.TotalOutput) / secs
	}

	values := map[Metric][]float64{
		MetricTTFT: ttfts,
		MetricTPOT: tpots,
		MetricITL:  itls,
		MetricE2EL: e2els,
	}
	for _, m := range r.Metrics {
		r.Latencies[m] = summarize(values[m], percentiles)
	}

	return r
}

// selectMetrics drops unknown and repeated names and keeps report order.
func selectMetrics(metrics []Metric) []Metric {
	want := make(map[Metric]bool, len(metrics))
	for _, m := range metrics {
		want[m] = true
	}
	selected := make([]Metric, 0, len(want))
	for _, m := range AllMetrics {
		if want[m] {
			selected = append(selected, m)
		}
	}
	return selected
}

// summarize computes statistics over values. An empty list is treated as a
// single zero so the report stays numeric.
func summarize(values []float64, percentiles []float64) Summary {
	if len(values) == 0 {
		values = []float64{0}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean, std := meanStd(sorted)
	s := Summary{
		Mean:   mean,
		Median: Percentile(sorted, 50),
		Std:    std,
	}
	for _, p := range percentiles {
		s.Percentiles = append(s.Percentiles, PercentileValue{Percentile: p, Value: Percentile(sorted, p)})
	}
	return s
}

// Percentile computes the p-th percentile using linear interpolation between
// order statistics. Input must be sorted.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	p = math.Max(0, math.Min(100, p))
	rank := p / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	sq := 0.0
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func ms(d time.Duration) float64 {
	return d.Seconds() * 1000
}
