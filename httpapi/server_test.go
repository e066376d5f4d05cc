package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"leadcast/distribution"
	"leadcast/target"
)

type stubQueue struct {
	entries []distribution.QueueEntry
}

func (s *stubQueue) Create(context.Context, pgx.Tx, distribution.QueueEntry) (distribution.QueueEntry, error) {
	panic("not implemented")
}

func (s *stubQueue) Get(_ context.Context, id string) (distribution.QueueEntry, error) {
	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return distribution.QueueEntry{}, distribution.ErrQueueEntryNotFound
}

func (s *stubQueue) GetForUpdate(context.Context, pgx.Tx, string) (distribution.QueueEntry, error) {
	panic("not implemented")
}

func (s *stubQueue) SetAttempt(context.Context, pgx.Tx, string, int) error {
	panic("not implemented")
}

func (s *stubQueue) Complete(context.Context, pgx.Tx, string, string) (bool, error) {
	panic("not implemented")
}

func (s *stubQueue) Fail(context.Context, pgx.Tx, string, string) (bool, error) {
	panic("not implemented")
}

func (s *stubQueue) PurgeTarget(context.Context, pgx.Tx, target.Kind, string) error {
	panic("not implemented")
}

func (s *stubQueue) List(_ context.Context, filters distribution.QueueFilters) ([]distribution.QueueEntry, int, error) {
	out := []distribution.QueueEntry{}
	for _, e := range s.entries {
		if filters.Status != "" && e.Status != filters.Status {
			continue
		}
		if filters.TargetKind != "" && e.TargetKind != filters.TargetKind {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

type stubOffers struct {
	offers []distribution.Offer
}

func (s *stubOffers) Create(context.Context, pgx.Tx, distribution.Offer) (distribution.Offer, error) {
	panic("not implemented")
}

func (s *stubOffers) Get(context.Context, string) (distribution.Offer, error) {
	panic("not implemented")
}

func (s *stubOffers) OfferedBrokers(context.Context, target.Kind, string) (map[string]bool, error) {
	panic("not implemented")
}

func (s *stubOffers) PendingForBroker(context.Context, string) ([]distribution.Offer, error) {
	panic("not implemented")
}

func (s *stubOffers) MarkTerminal(context.Context, string, distribution.OfferStatus, *string, time.Time) (bool, error) {
	panic("not implemented")
}

func (s *stubOffers) CancelSiblings(context.Context, pgx.Tx, target.Kind, string, string) error {
	panic("not implemented")
}

func (s *stubOffers) SetMessageHandle(context.Context, string, string) error {
	panic("not implemented")
}

func (s *stubOffers) ListExpired(context.Context, time.Time, int) ([]distribution.Offer, error) {
	panic("not implemented")
}

func (s *stubOffers) ListForEntry(_ context.Context, queueEntryID string) ([]distribution.Offer, error) {
	out := []distribution.Offer{}
	for _, o := range s.offers {
		if o.QueueEntryID == queueEntryID {
			out = append(out, o)
		}
	}
	return out, nil
}

func newTestHandler(queue *stubQueue, offers *stubOffers) http.Handler {
	return New(Config{Queue: queue, Offers: offers})
}

func TestHealth(t *testing.T) {
	h := newTestHandler(&stubQueue{}, &stubOffers{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStartDistributionValidation(t *testing.T) {
	h := newTestHandler(&stubQueue{}, &stubOffers{})

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"unknown kind", `{"target_kind":"contract","target_id":"t1"}`},
		{"missing target id", `{"target_kind":"lead"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/distributions", strings.NewReader(tc.body))
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestInboundWebhookIgnoresOwnMessages(t *testing.T) {
	h := newTestHandler(&stubQueue{}, &stubOffers{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/inbound",
		strings.NewReader(`{"sender":"5511999990000","text":"sim","is_own_message":true}`))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ignored" {
		t.Errorf("status field = %q, want ignored", body["status"])
	}
}

func TestInboundWebhookRequiresSender(t *testing.T) {
	h := newTestHandler(&stubQueue{}, &stubOffers{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/inbound",
		strings.NewReader(`{"text":"sim"}`))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ignored" {
		t.Errorf("status field = %q, want ignored", body["status"])
	}
}

func TestListQueueFilters(t *testing.T) {
	queue := &stubQueue{entries: []distribution.QueueEntry{
		{ID: "q1", TargetKind: target.KindLead, TargetID: "l1", Status: distribution.QueueCompleted},
		{ID: "q2", TargetKind: target.KindVisit, TargetID: "v1", Status: distribution.QueueInProgress},
	}}
	h := newTestHandler(queue, &stubOffers{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queue?status=completed", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Total != 1 || len(body.Items) != 1 {
		t.Fatalf("total = %d items = %d, want 1/1", body.Total, len(body.Items))
	}
	if body.Items[0]["id"] != "q1" {
		t.Errorf("item id = %v, want q1", body.Items[0]["id"])
	}
}

func TestListOffersForEntry(t *testing.T) {
	queue := &stubQueue{entries: []distribution.QueueEntry{
		{ID: "q1", TargetKind: target.KindLead, TargetID: "l1", Status: distribution.QueueInProgress},
	}}
	offers := &stubOffers{offers: []distribution.Offer{
		{ID: "o1", QueueEntryID: "q1", BrokerID: "b1", AttemptOrder: 1, Status: distribution.OfferRejected},
		{ID: "o2", QueueEntryID: "q1", BrokerID: "b2", AttemptOrder: 2, Status: distribution.OfferPending},
		{ID: "o3", QueueEntryID: "other", BrokerID: "b3", AttemptOrder: 1, Status: distribution.OfferPending},
	}}
	h := newTestHandler(queue, offers)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queue/q1/offers", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(body.Items))
	}
}

func TestListOffersUnknownEntry(t *testing.T) {
	h := newTestHandler(&stubQueue{}, &stubOffers{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queue/ghost/offers", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
