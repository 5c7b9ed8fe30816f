package cli

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/worldland/worldland-launcher/internal/api"
	"github.com/worldland/worldland-launcher/internal/slots"
)

// APIError is a non-2xx reply from a slot server
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Nodes      []slots.NodeStatus
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// SlotClient wraps the slot server REST API
type SlotClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSlotClient creates a client for the server at baseURL. tlsConfig may be
// nil for plain HTTP.
func NewSlotClient(baseURL string, tlsConfig *tls.Config) *SlotClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &SlotClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// Status returns the server's node snapshot
func (c *SlotClient) Status(ctx context.Context) (*api.StatusResponse, error) {
	var status api.StatusResponse
	if err := c.doGet(ctx, "/slots/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Capacity returns total and available slots of one type
func (c *SlotClient) Capacity(ctx context.Context, resourceType string) (*api.CapacityResponse, error) {
	var capacity api.CapacityResponse
	path := "/slots/capacity?type=" + url.QueryEscape(resourceType)
	if err := c.doGet(ctx, path, &capacity); err != nil {
		return nil, err
	}
	return &capacity, nil
}

// Allocate reserves slots on the server
func (c *SlotClient) Allocate(ctx context.Context, req api.AllocateRequest) (*slots.Allocation, error) {
	var alloc slots.Allocation
	if err := c.doPostJSON(ctx, "/slots/allocate", req, &alloc); err != nil {
		return nil, err
	}
	return &alloc, nil
}

// --- HTTP helpers ---

func (c *SlotClient) doGet(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.doRequest(req, result)
}

func (c *SlotClient) doPostJSON(ctx context.Context, path string, payload interface{}, result interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRequest(req, result)
}

func (c *SlotClient) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var errResp api.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Code = errResp.Code
			apiErr.Nodes = errResp.Nodes
		}
		return apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}

	return nil
}
