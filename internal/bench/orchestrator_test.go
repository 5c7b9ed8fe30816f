package bench

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_Run(t *testing.T) {
	srv := sseServer(t, helloChunks, nil)
	defer srv.Close()

	log, hook := logtest.NewNullLogger()
	progress := &countingProgress{}
	d := NewDispatcher(WithConcurrency(4), WithProgress(progress), WithLogger(log))
	o := NewOrchestrator(d, log)

	requests := make([]RequestSpec, 5)
	for i := range requests {
		requests[i] = testSpec(srv.URL)
	}
	requests[4].APIURL = srv.URL + "/v1/nope"

	report, err := o.Run(context.Background(), requests, AllMetrics, []float64{50, 99})
	require.NoError(t, err)

	assert.Equal(t, 5, report.Attempted)
	assert.Equal(t, 4, report.Completed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 16, report.TotalInput)
	assert.Equal(t, 8, report.TotalOutput)
	assert.Greater(t, report.Duration, time.Duration(0))
	assert.Equal(t, int64(5), progress.n.Load())

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "benchmark finished", last.Message)
	assert.Equal(t, 4, last.Data["completed"])
}

func TestOrchestrator_NoRequests(t *testing.T) {
	o := NewOrchestrator(NewDispatcher(), logrus.New())

	_, err := o.Run(context.Background(), nil, AllMetrics, nil)
	assert.ErrorIs(t, err, ErrNoRequests)
}

func TestRandomRequests(t *testing.T) {
	opts := RandomOptions{
		APIURL:     "http://localhost:8000/v1/chat/completions",
		Model:      "m",
		NumPrompts: 20,
		PrefixLen:  4,
		InputLen:   32,
		OutputLen:  64,
		RangeRatio: 0.5,
		Seed:       7,
	}

	a := RandomRequests(opts)
	b := RandomRequests(opts)
	require.Len(t, a, 20)
	assert.Equal(t, a, b, "same seed, same requests")

	prefix := strings.Join(strings.Fields(a[0].Prompt)[:4], " ")
	for _, r := range a {
		assert.True(t, strings.HasPrefix(r.Prompt, prefix))
		assert.Len(t, strings.Fields(r.Prompt), r.PromptLen)
		assert.GreaterOrEqual(t, r.PromptLen, 4+16)
		assert.LessOrEqual(t, r.PromptLen, 4+32)
		assert.GreaterOrEqual(t, r.OutputLen, 32)
		assert.LessOrEqual(t, r.OutputLen, 64)
		assert.NoError(t, r.Validate())
	}

	opts.Seed = 8
	assert.NotEqual(t, a, RandomRequests(opts))
}

func TestModelsURL(t *testing.T) {
	assert.Equal(t, "http://h:8000/v1/models", ModelsURL("http://h:8000/v1/chat/completions"))
	assert.Equal(t, "http://h:8000/models", ModelsURL("http://h:8000/profile"))
	assert.Equal(t, "http://h:8000/other", ModelsURL("http://h:8000/other"))
}

func TestWaitForEndpoint(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	err := WaitForEndpoint(context.Background(), srv.Client(), srv.URL+"/v1/chat/completions", 30*time.Second, log)

	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestWaitForEndpoint_ClientErrorCountsAsReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	assert.NoError(t, WaitForEndpoint(context.Background(), nil, srv.URL+"/v1/chat/completions", time.Second, log))
}

func TestWaitForEndpoint_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	err := WaitForEndpoint(context.Background(), nil, srv.URL+"/v1/chat/completions", 1500*time.Millisecond, log)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}

func TestSaveResult(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	path, err := SaveResult(dir, sampleReport(), RunInfo{Model: "m", APIURL: "http://h/v1/chat/completions", Concurrency: 8, NumPrompts: 2}, now)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "bench-20260301-123000-"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var saved map[string]any
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "m", saved["model_id"])
	assert.Equal(t, "20260301-123000", saved["date"])
	assert.Equal(t, float64(8), saved["max_concurrency"])
	assert.Equal(t, float64(1), saved["completed"])
	assert.Len(t, saved["run_id"], 27)
	assert.Contains(t, saved, "p99.9_itl_ms")
}

func TestSaveResult_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")

	written, err := SaveResult(path, sampleReport(), RunInfo{Model: "m"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, path, written)
	assert.FileExists(t, path)
}
