// Package httpapi exposes the engine's boundary operations to the
// surrounding CRUD application: starting distributions, ingesting inbound
// webhook events and reading queue state for dashboards. Authentication is
// the surrounding application's concern.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"leadcast/distribution"
	"leadcast/target"
)

// Config wires the handler's collaborators.
type Config struct {
	Orchestrator *distribution.Orchestrator
	Resolver     *distribution.Resolver
	Queue        distribution.QueueRepository
	Offers       distribution.OfferRepository
}

// New builds the chi router for the engine API.
func New(cfg Config) http.Handler {
	s := &server{
		orch:    cfg.Orchestrator,
		resolve: cfg.Resolver,
		queue:   cfg.Queue,
		offers:  cfg.Offers,
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/distributions", s.startDistribution)
		r.Post("/webhooks/inbound", s.inboundWebhook)
		r.Get("/queue", s.listQueue)
		r.Get("/queue/{entryID}/offers", s.listOffers)
	})
	return r
}

type server struct {
	orch    *distribution.Orchestrator
	resolve *distribution.Resolver
	queue   distribution.QueueRepository
	offers  distribution.OfferRepository
}

type startDistributionRequest struct {
	TargetKind string `json:"target_kind"`
	TargetID   string `json:"target_id"`
}

type inboundWebhookRequest struct {
	Sender       string `json:"sender"`
	Text         string `json:"text"`
	IsOwnMessage bool   `json:"is_own_message"`
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) startDistribution(w http.ResponseWriter, r *http.Request) {
	var req startDistributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	kind := target.Kind(req.TargetKind)
	if kind != target.KindLead && kind != target.KindVisit {
		writeError(w, http.StatusBadRequest, "target_kind must be lead or visit")
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "target_id is required")
		return
	}

	entry, err := s.orch.StartDistribution(r.Context(), kind, req.TargetID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, queueEntryDTO(entry))
	case errors.Is(err, distribution.ErrDistributionDisabled):
		// Feature flag off is a no-op for the caller, not a failure.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "disabled"})
	case errors.Is(err, distribution.ErrNoCandidates):
		writeError(w, http.StatusUnprocessableEntity, "no eligible candidates")
	case errors.Is(err, target.ErrNotFound):
		writeError(w, http.StatusNotFound, "target not found")
	default:
		log.Printf("httpapi: start distribution: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// inboundWebhook acknowledges immediately and resolves in the background:
// the webhook provider must never wait on the cascade.
func (s *server) inboundWebhook(w http.ResponseWriter, r *http.Request) {
	var req inboundWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.IsOwnMessage || req.Sender == "" {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}

	go func(sender, text string) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.resolve.Resolve(ctx, sender, text); err != nil {
			log.Printf("httpapi: resolve inbound from %s: %v", sender, err)
		}
	}(req.Sender, req.Text)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *server) listQueue(w http.ResponseWriter, r *http.Request) {
	filters := distribution.QueueFilters{
		Status:     distribution.QueueStatus(r.URL.Query().Get("status")),
		TargetKind: target.Kind(r.URL.Query().Get("kind")),
	}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		filters.Page = page
	}
	if size, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil {
		filters.PageSize = size
	}

	entries, total, err := s.queue.List(r.Context(), filters)
	if err != nil {
		log.Printf("httpapi: list queue: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, queueEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (s *server) listOffers(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	if _, err := s.queue.Get(r.Context(), entryID); err != nil {
		if errors.Is(err, distribution.ErrQueueEntryNotFound) {
			writeError(w, http.StatusNotFound, "queue entry not found")
			return
		}
		log.Printf("httpapi: get queue entry: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	offers, err := s.offers.ListForEntry(r.Context(), entryID)
	if err != nil {
		log.Printf("httpapi: list offers: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]map[string]any, 0, len(offers))
	for _, o := range offers {
		items = append(items, offerDTO(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func queueEntryDTO(e distribution.QueueEntry) map[string]any {
	return map[string]any{
		"id":                 e.ID,
		"target_kind":        e.TargetKind,
		"target_id":          e.TargetID,
		"status":             e.Status,
		"current_attempt":    e.CurrentAttempt,
		"assigned_broker_id": e.AssignedBrokerID,
		"failure_reason":     e.FailureReason,
		"started_at":         e.StartedAt,
		"completed_at":       e.CompletedAt,
	}
}

func offerDTO(o distribution.Offer) map[string]any {
	return map[string]any{
		"id":                o.ID,
		"queue_entry_id":    o.QueueEntryID,
		"broker_id":         o.BrokerID,
		"attempt_order":     o.AttemptOrder,
		"status":            o.Status,
		"sent_at":           o.SentAt,
		"timeout_at":        o.TimeoutAt,
		"reply_text":        o.ReplyText,
		"reply_received_at": o.ReplyReceivedAt,
		"message_handle":    o.MessageHandle,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
