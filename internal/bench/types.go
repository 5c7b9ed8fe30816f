package bench

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnsupportedEndpoint = errors.New("chat completions URL must end with 'chat/completions' or 'profile'")
	ErrNoRequests          = errors.New("no requests to dispatch")
)

var endpointSuffixes = []string{"chat/completions", "profile"}

// RequestSpec describes one chat-completion request of a run.
type RequestSpec struct {
	Prompt    string
	APIURL    string
	PromptLen int // declared prompt length in tokens
	OutputLen int // requested completion tokens
	Model     string
	ModelName string // served model name, overrides Model in the payload

	IgnoreEOS  bool
	ExtraBody  map[string]any
	Attachment map[string]any // single multimodal content part, e.g. an image_url object
}

// Validate checks the fields the dispatcher relies on.
func (s RequestSpec) Validate() error {
	if !hasEndpointSuffix(s.APIURL) {
		return fmt.Errorf("%w: %s", ErrUnsupportedEndpoint, s.APIURL)
	}
	if s.Model == "" && s.ModelName == "" {
		return errors.New("model is required")
	}
	if s.OutputLen < 0 {
		return fmt.Errorf("output length must be non-negative, got %d", s.OutputLen)
	}
	return nil
}

func hasEndpointSuffix(url string) bool {
	for _, suffix := range endpointSuffixes {
		if strings.HasSuffix(url, suffix) {
			return true
		}
	}
	return false
}

// RequestOutcome is the result of one dispatched request. Latency fields are
// only meaningful when Success is true.
type RequestOutcome struct {
	Success       bool
	GeneratedText string
	Latency       time.Duration // end-to-end
	TTFT          time.Duration
	ITL           []time.Duration
	OutputTokens  int
	PromptLen     int
	Error         string
}
