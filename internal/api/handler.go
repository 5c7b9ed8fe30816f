package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/worldland/worldland-launcher/internal/slots"
)

// AllocateRequest is the JSON body for POST /slots/allocate
type AllocateRequest struct {
	Type    string `json:"type"`    // defaults to "gpu"
	Address string `json:"address"` // node address or "auto"
	Count   int    `json:"count"`   // defaults to 1
}

// StatusResponse is returned by GET /slots/status
type StatusResponse struct {
	Master string             `json:"master"`
	Nodes  []slots.NodeStatus `json:"nodes"`
}

// CapacityResponse is returned by GET /slots/capacity
type CapacityResponse struct {
	Type      string `json:"type"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
}

// ErrorResponse for error cases. Allocation failures carry the node snapshot.
type ErrorResponse struct {
	Error string             `json:"error"`
	Code  string             `json:"code,omitempty"`
	Nodes []slots.NodeStatus `json:"nodes,omitempty"`
}

// SlotAllocator defines operations needed from the allocator
type SlotAllocator interface {
	Master() string
	TotalCapacity(resourceType string) int
	AvailableCapacity(resourceType string) int
	Allocate(resourceType, address string, count int) (slots.Allocation, error)
	Snapshot() []slots.NodeStatus
}

// AllocationRecorder is told about every allocation attempt
type AllocationRecorder interface {
	RecordAllocation(resourceType string, count int, err error)
}

// SlotHandler handles HTTP requests for slot operations
type SlotHandler struct {
	allocator SlotAllocator
	recorder  AllocationRecorder
	log       logrus.FieldLogger
}

// NewSlotHandler creates a new slot handler. recorder may be nil.
func NewSlotHandler(allocator SlotAllocator, recorder AllocationRecorder, log logrus.FieldLogger) *SlotHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SlotHandler{
		allocator: allocator,
		recorder:  recorder,
		log:       log,
	}
}

// Register mounts the slot routes and /health on mux
func (h *SlotHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/slots/status", h.HandleStatus)
	mux.HandleFunc("/slots/capacity", h.HandleCapacity)
	mux.HandleFunc("/slots/allocate", h.HandleAllocate)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// HandleStatus handles GET /slots/status
func (h *SlotHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}

	h.writeJSON(w, http.StatusOK, StatusResponse{
		Master: h.allocator.Master(),
		Nodes:  h.allocator.Snapshot(),
	})
}

// HandleCapacity handles GET /slots/capacity?type=gpu
func (h *SlotHandler) HandleCapacity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}

	resourceType := r.URL.Query().Get("type")
	if resourceType == "" {
		resourceType = slots.DefaultResourceType
	}

	h.writeJSON(w, http.StatusOK, CapacityResponse{
		Type:      resourceType,
		Total:     h.allocator.TotalCapacity(resourceType),
		Available: h.allocator.AvailableCapacity(resourceType),
	})
}

// HandleAllocate handles POST /slots/allocate
func (h *SlotHandler) HandleAllocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}

	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}

	if req.Type == "" {
		req.Type = slots.DefaultResourceType
	}
	if req.Address == "" {
		req.Address = slots.AutoAddress
	}
	if req.Count == 0 {
		req.Count = 1
	}

	alloc, err := h.allocator.Allocate(req.Type, req.Address, req.Count)
	if h.recorder != nil {
		h.recorder.RecordAllocation(req.Type, req.Count, err)
	}
	if err != nil {
		h.writeAllocateError(w, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"address": alloc.Address,
		"slots":   alloc.SlotIDs,
		"type":    req.Type,
	}).Info("slots allocated")

	h.writeJSON(w, http.StatusOK, alloc)
}

func (h *SlotHandler) writeAllocateError(w http.ResponseWriter, err error) {
	var nodes []slots.NodeStatus
	var resErr *slots.ResourceError
	if errors.As(err, &resErr) {
		nodes = resErr.Status
	}

	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, slots.ErrInvalidCount):
		status, code = http.StatusBadRequest, "INVALID_COUNT"
	case errors.Is(err, slots.ErrNodeNotFound):
		status, code = http.StatusNotFound, "NODE_NOT_FOUND"
	case errors.Is(err, slots.ErrTypeMismatch):
		status, code = http.StatusConflict, "TYPE_MISMATCH"
	case errors.Is(err, slots.ErrInsufficientCapacity):
		status, code = http.StatusConflict, "INSUFFICIENT_RESOURCES"
	}

	h.log.WithError(err).WithField("code", code).Warn("allocation rejected")
	h.writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code, Nodes: nodes})
}

// writeJSON writes a JSON response
func (h *SlotHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *SlotHandler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
