package bench

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

type streamState int

const (
	awaitingChunk streamState = iota
	parsingJSON
	updatingMetrics
	streamDone
	streamFailed
)

func (s streamState) String() string {
	switch s {
	case awaitingChunk:
		return "awaiting-chunk"
	case parsingJSON:
		return "parsing-json"
	case updatingMetrics:
		return "updating-metrics"
	case streamDone:
		return "done"
	case streamFailed:
		return "failed"
	}
	return "unknown"
}

// streamChunk is the subset of a chat.completion.chunk the harness reads.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *streamChunk) content() string {
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
		return ""
	}
	return *c.Choices[0].Delta.Content
}

// streamParser turns the lines of a streamed chat completion into timing
// data. Each Feed moves awaiting-chunk -> parsing-json -> updating-metrics ->
// awaiting-chunk; the DONE sentinel is terminal.
type streamParser struct {
	state streamState
	start time.Time
	last  time.Time // arrival of the most recent consumed chunk

	payload []byte
	at      time.Time
	chunk   streamChunk

	text         strings.Builder
	seenContent  bool
	ttft         time.Duration
	itl          []time.Duration
	outputTokens int
}

func newStreamParser(start time.Time) *streamParser {
	return &streamParser{state: awaitingChunk, start: start, last: start}
}

// Done reports whether the parser reached a terminal state.
func (p *streamParser) Done() bool {
	return p.state == streamDone || p.state == streamFailed
}

// Feed consumes one line received at time at. Blank lines and SSE comments
// are skipped. A malformed payload moves the parser to the failed state.
func (p *streamParser) Feed(line []byte, at time.Time) error {
	for {
		switch p.state {
		case streamDone, streamFailed:
			return nil

		case awaitingChunk:
			payload := bytes.TrimSpace(line)
			if len(payload) == 0 || payload[0] == ':' {
				return nil
			}
			payload = bytes.TrimSpace(bytes.TrimPrefix(payload, dataPrefix))
			if bytes.Equal(payload, doneSentinel) {
				p.state = streamDone
				return nil
			}
			p.payload, p.at = payload, at
			p.state = parsingJSON

		case parsingJSON:
			p.chunk = streamChunk{}
			if err := json.Unmarshal(p.payload, &p.chunk); err != nil {
				p.state = streamFailed
				return errors.Wrapf(err, "decode stream chunk %q", p.payload)
			}
			p.state = updatingMetrics

		case updatingMetrics:
			p.update()
			p.state = awaitingChunk
			return nil
		}
	}
}

func (p *streamParser) update() {
	if content := p.chunk.content(); content != "" {
		if !p.seenContent {
			p.seenContent = true
			p.ttft = p.at.Sub(p.start)
		} else {
			p.itl = append(p.itl, p.at.Sub(p.last))
		}
		p.text.WriteString(content)
	}

	// some servers send "usage": null on every chunk
	if p.chunk.Usage != nil && p.chunk.Usage.CompletionTokens > 0 {
		p.outputTokens = p.chunk.Usage.CompletionTokens
	}

	p.last = p.at
}

// fill copies the accumulated data into a successful outcome.
func (p *streamParser) fill(out *RequestOutcome) {
	out.Success = true
	out.GeneratedText = p.text.String()
	out.TTFT = p.ttft
	out.ITL = p.itl
	out.OutputTokens = p.outputTokens
	out.Latency = p.last.Sub(p.start)
}
