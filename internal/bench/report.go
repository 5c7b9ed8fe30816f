package bench

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const bannerWidth = 50

// BenchmarkReport is the immutable summary of one run.
type BenchmarkReport struct {
	Duration             time.Duration
	Attempted            int
	Completed            int
	Failed               int
	TotalInput           int
	TotalOutput          int
	RequestThroughput    float64
	OutputThroughput     float64
	TotalTokenThroughput float64

	Metrics   []Metric // selected families, report order
	Latencies map[Metric]Summary
}

// ParsePercentiles parses a comma separated list such as "50,90,99.9".
func ParsePercentiles(s string) ([]float64, error) {
	var out []float64
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		p, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid percentile %q: %w", field, err)
		}
		if p < 0 || p > 100 {
			return nil, fmt.Errorf("percentile %v out of range [0, 100]", p)
		}
		out = append(out, p)
	}
	return out, nil
}

// percentileWord prints 99 as "99" and 99.9 as "99.9".
func percentileWord(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func banner(title string, fill byte) string {
	pad := bannerWidth - len(title)
	if pad < 0 {
		return title
	}
	left := pad / 2
	return strings.Repeat(string(fill), left) + title + strings.Repeat(string(fill), pad-left)
}

func row(w io.Writer, label string, value any) {
	switch v := value.(type) {
	case float64:
		fmt.Fprintf(w, "%-40s %-10.2f\n", label, v)
	default:
		fmt.Fprintf(w, "%-40s %-10v\n", label, v)
	}
}

// Render writes the fixed-width text summary.
func (r *BenchmarkReport) Render(w io.Writer) {
	fmt.Fprintln(w, banner(" Serving Benchmark Result ", '='))
	row(w, "Successful requests:", r.Completed)
	if r.Failed > 0 {
		row(w, "Failed requests:", r.Failed)
	}
	row(w, "Benchmark duration (s):", r.Duration.Seconds())
	row(w, "Total input tokens:", r.TotalInput)
	row(w, "Total generated tokens:", r.TotalOutput)
	row(w, "Request throughput (req/s):", r.RequestThroughput)
	row(w, "Output token throughput (tok/s):", r.OutputThroughput)
	row(w, "Total Token throughput (tok/s):", r.TotalTokenThroughput)

	for _, m := range r.Metrics {
		label := metricLabels[m]
		s := r.Latencies[m]
		fmt.Fprintln(w, banner(label.header, '-'))
		row(w, fmt.Sprintf("Mean %s (ms):", label.short), s.Mean)
		row(w, fmt.Sprintf("Median %s (ms):", label.short), s.Median)
		for _, p := range s.Percentiles {
			row(w, fmt.Sprintf("P%s %s (ms):", percentileWord(p.Percentile), label.short), p.Value)
		}
	}

	fmt.Fprintln(w, strings.Repeat("=", bannerWidth))
}

// Result returns the structured result keyed the way downstream tooling
// expects (duration, completed, ..., p99_ttft_ms).
func (r *BenchmarkReport) Result() map[string]any {
	result := map[string]any{
		"duration":               r.Duration.Seconds(),
		"completed":              r.Completed,
		"attempted":              r.Attempted,
		"total_input_tokens":     r.TotalInput,
		"total_output_tokens":    r.TotalOutput,
		"request_throughput":     r.RequestThroughput,
		"output_throughput":      r.OutputThroughput,
		"total_token_throughput": r.TotalTokenThroughput,
	}
	for _, m := range r.Metrics {
		s := r.Latencies[m]
		result[fmt.Sprintf("mean_%s_ms", m)] = s.Mean
		result[fmt.Sprintf("median_%s_ms", m)] = s.Median
		result[fmt.Sprintf("std_%s_ms", m)] = s.Std
		for _, p := range s.Percentiles {
			result[fmt.Sprintf("p%s_%s_ms", percentileWord(p.Percentile), m)] = p.Value
		}
	}
	return result
}
