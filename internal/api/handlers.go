package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/hookline/internal/events"
	"github.com/mattjoyce/hookline/internal/queue"
	"github.com/mattjoyce/hookline/internal/sender"
	"github.com/mattjoyce/hookline/internal/storage"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	if s.deps.Deliveries != nil {
		depth, err := s.deps.Deliveries.Depth(r.Context())
		if err != nil {
			s.logger.Error("failed to compute queue depth", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
			return
		}
		resp.QueueDepth = depth
	}
	if s.deps.Receivers != nil {
		for _, name := range s.deps.Receivers.Names() {
			resp.Receivers++
			if s.deps.Handlers != nil && s.deps.Handlers.Registered(name) {
				resp.Registered++
			}
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleListReceivers handles GET /receivers.
func (s *Server) handleListReceivers(w http.ResponseWriter, r *http.Request) {
	resp := ReceiverListResponse{Receivers: []ReceiverSummary{}}
	if s.deps.Receivers == nil {
		respondJSON(w, http.StatusOK, resp)
		return
	}

	for _, name := range s.deps.Receivers.Names() {
		meta, ok := s.deps.Receivers.Lookup(name)
		if !ok {
			continue
		}
		summary := ReceiverSummary{
			Name:      meta.Name,
			Body:      string(meta.Body),
			Mode:      string(meta.Signature.Mode),
			Verifies:  meta.Verifies(),
			SecretIDs: []string{},
		}
		if s.deps.Handlers != nil {
			summary.Registered = s.deps.Handlers.Registered(name)
		}
		if meta.Handshake != nil {
			summary.Handshake = meta.Handshake.Methods
		}
		if s.deps.Secrets != nil {
			if ids := s.deps.Secrets.IDs(name); len(ids) > 0 {
				summary.SecretIDs = ids
			}
		}
		resp.Receivers = append(resp.Receivers, summary)
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleListReceipts handles GET /receipts?receiver=&limit=.
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	filter := storage.RecentFilter{Receiver: strings.ToLower(r.URL.Query().Get("receiver"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	receipts, err := s.deps.Receipts.Recent(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list receipts", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list receipts")
		return
	}
	if receipts == nil {
		receipts = []*storage.Receipt{}
	}
	respondJSON(w, http.StatusOK, ReceiptListResponse{Receipts: receipts})
}

// handleGetReceipt handles GET /receipts/{receiptID}.
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "receiptID")

	receipt, err := s.deps.Receipts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrReceiptNotFound) {
			s.writeError(w, http.StatusNotFound, "receipt not found")
			return
		}
		s.logger.Error("failed to retrieve receipt", "receipt_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve receipt")
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

// maxDeliveryBody caps POST /deliveries request bodies.
const maxDeliveryBody = 1 << 20

// handleEnqueueDelivery handles POST /deliveries.
func (s *Server) handleEnqueueDelivery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Deliveries == nil {
		s.writeError(w, http.StatusServiceUnavailable, "outbound deliveries are not configured")
		return
	}

	var req DeliveryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDeliveryBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	target, ok := s.config.Targets[req.Target]
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unknown target")
		return
	}

	payload := sender.NewPayload(req.Properties, req.Actions...)
	if err := payload.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "payload is not serializable")
		return
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = target.MaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = s.config.MaxAttempts
	}
	enq := queue.EnqueueRequest{Target: req.Target, Payload: body, MaxAttempts: maxAttempts}
	if req.NotBefore != nil {
		enq.NotBefore = *req.NotBefore
	}

	id, err := s.deps.Deliveries.Enqueue(r.Context(), enq)
	if err != nil {
		s.logger.Error("failed to enqueue delivery", "target", req.Target, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue delivery")
		return
	}

	s.events.Publish(events.DeliveryEnqueued, map[string]any{
		"delivery_id": id,
		"target":      req.Target,
		"source":      "api",
	})
	s.logger.Info("delivery enqueued via API", "delivery_id", id, "target", req.Target)

	respondJSON(w, http.StatusAccepted, DeliveryResponse{
		DeliveryID: id,
		Status:     string(queue.StatusQueued),
		Target:     req.Target,
	})
}

// handleGetDelivery handles GET /deliveries/{deliveryID}.
func (s *Server) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Deliveries == nil {
		s.writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	id := chi.URLParam(r, "deliveryID")

	d, err := s.deps.Deliveries.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrDeliveryNotFound) {
			s.writeError(w, http.StatusNotFound, "delivery not found")
			return
		}
		s.logger.Error("failed to retrieve delivery", "delivery_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve delivery")
		return
	}

	history, err := s.deps.Deliveries.History(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to retrieve delivery history", "delivery_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve delivery")
		return
	}
	if history == nil {
		history = []queue.Attempt{}
	}

	respondJSON(w, http.StatusOK, DeliveryStatusResponse{Delivery: d, History: history})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
