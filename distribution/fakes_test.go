package distribution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"leadcast/broker"
	"leadcast/gateway"
	"leadcast/notify"
	"leadcast/target"
)

type fakePool struct {
	mu  sync.Mutex
	txs []*fakeTx
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

type fakeQueueRepo struct {
	mu      sync.Mutex
	entries map[string]*QueueEntry
	// offers mirrors the FK cascade: purging a target also purges its offers.
	offers *fakeOfferRepo
	purged []string
}

func newFakeQueueRepo(offers *fakeOfferRepo) *fakeQueueRepo {
	return &fakeQueueRepo{entries: make(map[string]*QueueEntry), offers: offers}
}

func (f *fakeQueueRepo) Create(_ context.Context, _ pgx.Tx, entry QueueEntry) (QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.StartedAt = time.Now()
	stored := entry
	f.entries[entry.ID] = &stored
	return entry, nil
}

func (f *fakeQueueRepo) Get(_ context.Context, id string) (QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return QueueEntry{}, ErrQueueEntryNotFound
	}
	return *e, nil
}

func (f *fakeQueueRepo) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (QueueEntry, error) {
	return f.Get(ctx, id)
}

func (f *fakeQueueRepo) SetAttempt(_ context.Context, _ pgx.Tx, id string, attempt int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || !e.Open() {
		return ErrQueueEntryNotFound
	}
	e.CurrentAttempt = attempt
	e.Status = QueueInProgress
	return nil
}

func (f *fakeQueueRepo) Complete(_ context.Context, _ pgx.Tx, id, brokerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || !e.Open() {
		return false, nil
	}
	now := time.Now()
	e.Status = QueueCompleted
	e.AssignedBrokerID = &brokerID
	e.CompletedAt = &now
	return true, nil
}

func (f *fakeQueueRepo) Fail(_ context.Context, _ pgx.Tx, id, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || !e.Open() {
		return false, nil
	}
	now := time.Now()
	e.Status = QueueFailed
	e.FailureReason = &reason
	e.CompletedAt = &now
	return true, nil
}

func (f *fakeQueueRepo) PurgeTarget(_ context.Context, _ pgx.Tx, kind target.Kind, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, fmt.Sprintf("%s/%s", kind, targetID))
	for id, e := range f.entries {
		if e.TargetKind == kind && e.TargetID == targetID {
			delete(f.entries, id)
		}
	}
	if f.offers != nil {
		f.offers.purgeTarget(kind, targetID)
	}
	return nil
}

func (f *fakeQueueRepo) List(context.Context, QueueFilters) ([]QueueEntry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]QueueEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, *e)
	}
	return out, len(out), nil
}

func (f *fakeQueueRepo) single() QueueEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		return *e
	}
	return QueueEntry{}
}

type fakeOfferRepo struct {
	mu     sync.Mutex
	offers map[string]*Offer
	seq    int
}

func newFakeOfferRepo() *fakeOfferRepo {
	return &fakeOfferRepo{offers: make(map[string]*Offer)}
}

func (f *fakeOfferRepo) Create(_ context.Context, _ pgx.Tx, offer Offer) (Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	offer.SentAt = time.Now().Add(time.Duration(f.seq) * time.Millisecond)
	stored := offer
	f.offers[offer.ID] = &stored
	return offer, nil
}

func (f *fakeOfferRepo) Get(_ context.Context, id string) (Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok {
		return Offer{}, ErrOfferNotFound
	}
	return *o, nil
}

func (f *fakeOfferRepo) OfferedBrokers(_ context.Context, kind target.Kind, targetID string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	offered := make(map[string]bool)
	for _, o := range f.offers {
		if o.TargetKind == kind && o.TargetID == targetID {
			offered[o.BrokerID] = true
		}
	}
	return offered, nil
}

func (f *fakeOfferRepo) PendingForBroker(_ context.Context, brokerID string) ([]Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Offer{}
	for _, o := range f.offers {
		if o.BrokerID == brokerID && o.Status == OfferPending {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out, nil
}

func (f *fakeOfferRepo) MarkTerminal(_ context.Context, id string, status OfferStatus, replyText *string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok || o.Status != OfferPending {
		return false, nil
	}
	o.Status = status
	o.ReplyText = replyText
	if status == OfferAccepted || status == OfferRejected {
		o.ReplyReceivedAt = &at
	}
	return true, nil
}

func (f *fakeOfferRepo) CancelSiblings(_ context.Context, _ pgx.Tx, kind target.Kind, targetID, keepOfferID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.offers {
		if o.TargetKind == kind && o.TargetID == targetID && o.ID != keepOfferID && o.Status == OfferPending {
			o.Status = OfferTimeout
		}
	}
	return nil
}

func (f *fakeOfferRepo) SetMessageHandle(_ context.Context, id, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.offers[id]; ok {
		o.MessageHandle = &handle
	}
	return nil
}

func (f *fakeOfferRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Offer{}
	for _, o := range f.offers {
		if o.Status == OfferPending && o.TimeoutAt.Before(now) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeoutAt.Before(out[j].TimeoutAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeOfferRepo) ListForEntry(_ context.Context, queueEntryID string) ([]Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Offer{}
	for _, o := range f.offers {
		if o.QueueEntryID == queueEntryID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptOrder < out[j].AttemptOrder })
	return out, nil
}

func (f *fakeOfferRepo) purgeTarget(kind target.Kind, targetID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, o := range f.offers {
		if o.TargetKind == kind && o.TargetID == targetID {
			delete(f.offers, id)
		}
	}
}

func (f *fakeOfferRepo) byAttempt(attempt int) Offer {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.offers {
		if o.AttemptOrder == attempt {
			return *o
		}
	}
	return Offer{}
}

type fakeTargets struct {
	mu       sync.Mutex
	targets  map[string]target.Target
	assigned map[string]string
}

func newFakeTargets(ts ...target.Target) *fakeTargets {
	f := &fakeTargets{
		targets:  make(map[string]target.Target),
		assigned: make(map[string]string),
	}
	for _, t := range ts {
		f.targets[string(t.Kind)+"/"+t.ID] = t
	}
	return f
}

func (f *fakeTargets) Get(_ context.Context, kind target.Kind, id string) (target.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.targets[string(kind)+"/"+id]
	if !ok {
		return target.Target{}, target.ErrNotFound
	}
	return t, nil
}

func (f *fakeTargets) MarkAssigned(_ context.Context, _ pgx.Tx, t target.Target, brokerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned[string(t.Kind)+"/"+t.ID] = brokerID
	return nil
}

type fakeCandidates struct {
	mu        sync.Mutex
	pool      []broker.Candidate
	completed map[string]int
}

func newFakeCandidates(pool ...broker.Candidate) *fakeCandidates {
	return &fakeCandidates{pool: pool, completed: make(map[string]int)}
}

func (f *fakeCandidates) ListActive(context.Context) ([]broker.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]broker.Candidate, 0, len(f.pool))
	for _, c := range f.pool {
		if c.Status == broker.StatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCandidates) IncrementCompleted(_ context.Context, _ pgx.Tx, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id]++
	return nil
}

func (f *fakeCandidates) GetByContact(_ context.Context, address string) (broker.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	normalized := broker.NormalizePhone(address)
	for _, c := range f.pool {
		if c.ContactPhone == address || broker.NormalizePhone(c.ContactPhone) == normalized {
			return c, nil
		}
	}
	return broker.Candidate{}, broker.ErrNotFound
}

type fakeSettings struct {
	settings Settings
	err      error
}

func (f *fakeSettings) Load(context.Context) (Settings, error) {
	if f.err != nil {
		return Settings{}, f.err
	}
	return f.settings, nil
}

type sendCall struct {
	Address string
	Text    string
}

type fakeMessenger struct {
	mu      sync.Mutex
	sends   []sendCall
	errFor  map[string]error
	handles int
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{errFor: make(map[string]error)}
}

func (f *fakeMessenger) Send(_ context.Context, address, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{Address: address, Text: text})
	if err, ok := f.errFor[address]; ok {
		return "", err
	}
	f.handles++
	return fmt.Sprintf("handle-%d", f.handles), nil
}

func (f *fakeMessenger) sentTo(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sends {
		if s.Address == address {
			n++
		}
	}
	return n
}

func (f *fakeMessenger) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sends) == 0 {
		return ""
	}
	return f.sends[len(f.sends)-1].Text
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, _ pgx.Tx, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
	return nil
}

func (f *fakeNotifier) ofKind(kind notify.Kind) []notify.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []notify.Notification{}
	for _, n := range f.notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// invalidAddressErr mirrors what gateway adapters return for dead numbers.
func invalidAddressErr() error {
	return fmt.Errorf("%w: test", gateway.ErrInvalidAddress)
}

func activeCandidate(id, phone, region string, rating float64) broker.Candidate {
	return broker.Candidate{
		ID:           id,
		Name:         strings.ToUpper(id),
		ContactPhone: phone,
		Status:       broker.StatusActive,
		Rating:       rating,
		PropertyType: "all",
		Regions:      []string{region},
	}
}
