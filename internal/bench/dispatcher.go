package bench

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// DefaultRequestTimeout bounds a single streamed request so a stalled server
// cannot hang the run forever.
const DefaultRequestTimeout = 6 * time.Hour

// Progress is notified once per finished request, success or not.
type Progress interface {
	Increment()
}

// Observer receives every outcome as soon as its request finishes.
type Observer interface {
	Observe(RequestOutcome)
}

// Dispatcher sends chat-completion requests concurrently and records the
// streaming timings of each one.
type Dispatcher struct {
	client      *http.Client
	apiKey      string
	concurrency int // <= 0 means one goroutine per request
	progress    Progress
	observer    Observer
	log         logrus.FieldLogger
	now         func() time.Time
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.client = c }
}

func WithAPIKey(key string) DispatcherOption {
	return func(d *Dispatcher) { d.apiKey = key }
}

// WithConcurrency caps the number of in-flight requests. Zero or negative
// leaves fan-out unbounded.
func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) { d.concurrency = n }
}

func WithProgress(p Progress) DispatcherOption {
	return func(d *Dispatcher) { d.progress = p }
}

func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

func WithLogger(log logrus.FieldLogger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

// NewDispatcher creates a dispatcher. The default client shares one
// connection pool across all requests and times out after
// DefaultRequestTimeout.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 1024

	d := &Dispatcher{
		client: &http.Client{
			Timeout:   DefaultRequestTimeout,
			Transport: transport,
		},
		log: logrus.StandardLogger(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends every request exactly once and waits for all of them. The
// result has one outcome per request, in input order. Failures are recorded
// in the outcomes; Dispatch itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, requests []RequestSpec) []RequestOutcome {
	outcomes := make([]RequestOutcome, len(requests))
	if len(requests) == 0 {
		return outcomes
	}

	limit := int64(d.concurrency)
	if limit <= 0 || limit > int64(len(requests)) {
		limit = int64(len(requests))
	}
	sem := semaphore.NewWeighted(limit)

	var wg sync.WaitGroup
	for i, req := range requests {
		if err := sem.Acquire(ctx, 1); err != nil {
			// run cancelled before this request got a slot
			outcomes[i] = RequestOutcome{
				PromptLen: req.PromptLen,
				Error:     formatTrace(errors.Wrap(err, "request not sent")),
			}
			d.finish(outcomes[i])
			continue
		}

		wg.Add(1)
		go func(i int, req RequestSpec) {
			defer wg.Done()
			defer sem.Release(1)

			outcomes[i] = d.Send(ctx, req)
			d.finish(outcomes[i])
		}(i, req)
	}
	wg.Wait()

	return outcomes
}

func (d *Dispatcher) finish(out RequestOutcome) {
	if d.progress != nil {
		d.progress.Increment()
	}
	if d.observer != nil {
		d.observer.Observe(out)
	}
	if !out.Success {
		d.log.WithField("error", firstLine(out.Error)).Debug("request failed")
	}
}

// Send performs a single streamed chat-completion request.
func (d *Dispatcher) Send(ctx context.Context, spec RequestSpec) RequestOutcome {
	out := RequestOutcome{PromptLen: spec.PromptLen}

	if err := spec.Validate(); err != nil {
		out.Error = formatTrace(errors.WithStack(err))
		return out
	}

	body, err := json.Marshal(buildPayload(spec))
	if err != nil {
		out.Error = formatTrace(errors.Wrap(err, "encode payload"))
		return out
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.APIURL, bytes.NewReader(body))
	if err != nil {
		out.Error = formatTrace(errors.Wrap(err, "build request"))
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	start := d.now()
	resp, err := d.client.Do(req)
	if err != nil {
		out.Error = formatTrace(errors.Wrap(err, "post chat completion"))
		return out
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		out.Error = reasonPhrase(resp)
		return out
	}

	parser := newStreamParser(start)
	reader := bufio.NewReader(resp.Body)
	for !parser.Done() {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			if err := parser.Feed(line, d.now()); err != nil {
				out.Error = formatTrace(err)
				return out
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Error = formatTrace(errors.Wrap(readErr, "read stream"))
			return out
		}
	}

	parser.fill(&out)
	return out
}

func buildPayload(spec RequestSpec) map[string]any {
	content := []any{map[string]any{"type": "text", "text": spec.Prompt}}
	if spec.Attachment != nil {
		content = append(content, spec.Attachment)
	}

	model := spec.Model
	if spec.ModelName != "" {
		model = spec.ModelName
	}

	payload := map[string]any{
		"model": model,
		"messages": []any{
			map[string]any{"role": "user", "content": content},
		},
		"temperature":           0.0,
		"max_completion_tokens": spec.OutputLen,
		"stream":                true,
		"stream_options":        map[string]any{"include_usage": true},
		// llama.cpp ignores max_completion_tokens
		"n_predict": spec.OutputLen,
	}
	if spec.IgnoreEOS {
		payload["ignore_eos"] = true
	}
	for k, v := range spec.ExtraBody {
		payload[k] = v
	}
	return payload
}

// reasonPhrase extracts "Not Found" from "404 Not Found".
func reasonPhrase(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}

func formatTrace(err error) string {
	return fmt.Sprintf("%+v", err)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
