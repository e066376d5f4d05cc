package distribution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadcast/broker"
	"leadcast/gateway"
	"leadcast/notify"
	"leadcast/target"
)

// TxBeginner opens database transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CandidatePool provides the broker pool and the acceptance counter.
type CandidatePool interface {
	ListActive(ctx context.Context) ([]broker.Candidate, error)
	IncrementCompleted(ctx context.Context, tx pgx.Tx, id string) error
}

// TargetStore loads targets and applies the assignment side effect.
type TargetStore interface {
	Get(ctx context.Context, kind target.Kind, id string) (target.Target, error)
	MarkAssigned(ctx context.Context, tx pgx.Tx, t target.Target, brokerID string) error
}

// Orchestrator drives the offer cascade: it opens distributions, advances
// them on rejection or timeout, and closes them on acceptance or exhaustion.
type Orchestrator struct {
	pool       TxBeginner
	queue      QueueRepository
	offers     OfferRepository
	targets    TargetStore
	candidates CandidatePool
	settings   SettingsSource
	messenger  gateway.Messenger
	notifier   notify.Notifier
	now        func() time.Time
	idGen      func() string
}

func NewOrchestrator(
	pool TxBeginner,
	queue QueueRepository,
	offers OfferRepository,
	targets TargetStore,
	candidates CandidatePool,
	settings SettingsSource,
	messenger gateway.Messenger,
	notifier notify.Notifier,
) *Orchestrator {
	return &Orchestrator{
		pool:       pool,
		queue:      queue,
		offers:     offers,
		targets:    targets,
		candidates: candidates,
		settings:   settings,
		messenger:  messenger,
		notifier:   notifier,
		now:        time.Now,
		idGen:      func() string { return uuid.NewString() },
	}
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

func (o *Orchestrator) WithIDGenerator(gen func() string) *Orchestrator {
	o.idGen = gen
	return o
}

// LoadSettings exposes the settings snapshot for triggers (reaper, resolver)
// that pass it through a whole run.
func (o *Orchestrator) LoadSettings(ctx context.Context) (Settings, error) {
	return o.settings.Load(ctx)
}

// StartDistribution opens a distribution for the target: purges any earlier
// queue entries and offers for it, ranks the candidate pool and emits the
// first offer. Callers are expected to serialize starts per target.
func (o *Orchestrator) StartDistribution(ctx context.Context, kind target.Kind, targetID string) (QueueEntry, error) {
	settings, err := o.settings.Load(ctx)
	if err != nil {
		return QueueEntry{}, err
	}
	if !settings.AutoDistribution {
		return QueueEntry{}, ErrDistributionDisabled
	}

	t, err := o.targets.Get(ctx, kind, targetID)
	if err != nil {
		return QueueEntry{}, err
	}

	pool, err := o.candidates.ListActive(ctx)
	if err != nil {
		return QueueEntry{}, err
	}
	ranked := Rank(t, pool, nil)

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return QueueEntry{}, fmt.Errorf("distribution: begin start tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Restart purge: a retry on a previously distributed target must not
	// collide with its old attempt numbering.
	if err := o.queue.PurgeTarget(ctx, tx, kind, targetID); err != nil {
		return QueueEntry{}, err
	}

	if len(ranked) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return QueueEntry{}, fmt.Errorf("distribution: commit purge: %w", err)
		}
		o.notifyFailure(ctx, nil, settings, kind, targetID, reasonNoCandidates)
		return QueueEntry{}, ErrNoCandidates
	}

	entry, err := o.queue.Create(ctx, tx, QueueEntry{
		ID:             o.idGen(),
		TargetKind:     kind,
		TargetID:       targetID,
		Status:         QueueInProgress,
		CurrentAttempt: 1,
	})
	if err != nil {
		return QueueEntry{}, err
	}

	offer, err := o.createOffer(ctx, tx, settings, entry, ranked[0].Candidate, 1)
	if err != nil {
		return QueueEntry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return QueueEntry{}, fmt.Errorf("distribution: commit start: %w", err)
	}

	if err := o.deliverOffer(ctx, settings, t, offer, ranked[0].Candidate); err != nil {
		return entry, err
	}
	return entry, nil
}

// AdvanceOrRetry moves the cascade forward after a rejection, a timeout or a
// dead address. It terminates the entry when attempts are exhausted or no
// eligible candidate remains.
func (o *Orchestrator) AdvanceOrRetry(ctx context.Context, queueEntryID string, settings Settings) error {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("distribution: begin advance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := o.queue.GetForUpdate(ctx, tx, queueEntryID)
	if err != nil {
		return err
	}
	if !entry.Open() {
		// A concurrent trigger already closed the entry.
		return nil
	}

	if entry.CurrentAttempt >= settings.MaxAttempts {
		return o.failEntry(ctx, tx, settings, entry, reasonExhausted)
	}

	t, err := o.targets.Get(ctx, entry.TargetKind, entry.TargetID)
	if err != nil {
		return err
	}
	offered, err := o.offers.OfferedBrokers(ctx, entry.TargetKind, entry.TargetID)
	if err != nil {
		return err
	}
	pool, err := o.candidates.ListActive(ctx)
	if err != nil {
		return err
	}

	ranked := Rank(t, pool, offered)
	if len(ranked) == 0 {
		return o.failEntry(ctx, tx, settings, entry, reasonNoCandidates)
	}

	nextAttempt := entry.CurrentAttempt + 1
	if err := o.queue.SetAttempt(ctx, tx, entry.ID, nextAttempt); err != nil {
		return err
	}

	entry.CurrentAttempt = nextAttempt
	offer, err := o.createOffer(ctx, tx, settings, entry, ranked[0].Candidate, nextAttempt)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("distribution: commit advance: %w", err)
	}

	return o.deliverOffer(ctx, settings, t, offer, ranked[0].Candidate)
}

// CompleteDistribution closes the entry with a winner: stamps the assignee,
// expires every sibling pending offer so stale replies are ignored, applies
// the target's domain side effect and notifies all parties.
func (o *Orchestrator) CompleteDistribution(ctx context.Context, queueEntryID, winningBrokerID, winningOfferID string) error {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("distribution: begin complete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := o.queue.GetForUpdate(ctx, tx, queueEntryID)
	if err != nil {
		return err
	}

	ok, err := o.queue.Complete(ctx, tx, entry.ID, winningBrokerID)
	if err != nil {
		return err
	}
	if !ok {
		// Already terminal; nothing further to do.
		return nil
	}

	if err := o.offers.CancelSiblings(ctx, tx, entry.TargetKind, entry.TargetID, winningOfferID); err != nil {
		return err
	}

	t, err := o.targets.Get(ctx, entry.TargetKind, entry.TargetID)
	if err != nil {
		return err
	}
	if err := o.targets.MarkAssigned(ctx, tx, t, winningBrokerID); err != nil {
		return err
	}
	if err := o.candidates.IncrementCompleted(ctx, tx, winningBrokerID); err != nil {
		return err
	}

	if err := o.notifier.Notify(ctx, tx, notify.Notification{
		Audience: notify.AudienceParties,
		Kind:     notify.KindAssignmentAccepted,
		Variables: map[string]any{
			"target_kind": entry.TargetKind,
			"target_id":   entry.TargetID,
			"broker_id":   winningBrokerID,
		},
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("distribution: commit complete: %w", err)
	}
	return nil
}

// createOffer inserts the pending offer row and its audit notification
// inside the caller's transaction.
func (o *Orchestrator) createOffer(ctx context.Context, tx pgx.Tx, settings Settings, entry QueueEntry, c broker.Candidate, attempt int) (Offer, error) {
	offer, err := o.offers.Create(ctx, tx, Offer{
		ID:           o.idGen(),
		QueueEntryID: entry.ID,
		TargetKind:   entry.TargetKind,
		TargetID:     entry.TargetID,
		BrokerID:     c.ID,
		AttemptOrder: attempt,
		Status:       OfferPending,
		TimeoutAt:    o.now().Add(settings.OfferTimeout()),
	})
	if err != nil {
		return Offer{}, err
	}

	if err := o.notifier.Notify(ctx, tx, notify.Notification{
		Audience: notify.AudienceBroker,
		Kind:     notify.KindOfferSent,
		Variables: map[string]any{
			"target_kind": entry.TargetKind,
			"target_id":   entry.TargetID,
			"broker_id":   c.ID,
			"attempt":     attempt,
		},
	}); err != nil {
		return Offer{}, err
	}

	return offer, nil
}

// deliverOffer pushes the offer text after the offer row is committed. A
// dead address terminalizes the offer immediately and advances the cascade
// synchronously; a transient failure leaves it pending for the reaper's
// natural timeout.
func (o *Orchestrator) deliverOffer(ctx context.Context, settings Settings, t target.Target, offer Offer, c broker.Candidate) error {
	handle, err := o.messenger.Send(ctx, c.ContactPhone, OfferText(t))
	if err == nil {
		if err := o.offers.SetMessageHandle(ctx, offer.ID, handle); err != nil {
			log.Printf("distribution: store message handle for offer %s: %v", offer.ID, err)
		}
		return nil
	}

	if errors.Is(err, gateway.ErrInvalidAddress) {
		ok, markErr := o.offers.MarkTerminal(ctx, offer.ID, OfferError, nil, o.now())
		if markErr != nil {
			return markErr
		}
		if !ok {
			return nil
		}
		return o.AdvanceOrRetry(ctx, offer.QueueEntryID, settings)
	}

	log.Printf("distribution: transient send failure for offer %s to broker %s: %v", offer.ID, c.ID, err)
	return nil
}

// failEntry closes the entry with a reason and, when configured, alerts the
// admin audience. Runs inside the caller's transaction and commits it.
func (o *Orchestrator) failEntry(ctx context.Context, tx pgx.Tx, settings Settings, entry QueueEntry, reason string) error {
	ok, err := o.queue.Fail(ctx, tx, entry.ID, reason)
	if err != nil {
		return err
	}
	if ok {
		o.notifyFailure(ctx, tx, settings, entry.TargetKind, entry.TargetID, reason)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("distribution: commit fail: %w", err)
	}
	return nil
}

func (o *Orchestrator) notifyFailure(ctx context.Context, tx pgx.Tx, settings Settings, kind target.Kind, targetID, reason string) {
	if !settings.FallbackToAdmin {
		return
	}
	err := o.notifier.Notify(ctx, tx, notify.Notification{
		Audience: notify.AudienceAdmin,
		Kind:     notify.KindDistributionFailed,
		Variables: map[string]any{
			"target_kind": kind,
			"target_id":   targetID,
			"reason":      reason,
		},
	})
	if err != nil {
		log.Printf("distribution: enqueue failure notification for %s %s: %v", kind, targetID, err)
	}
}

// OfferText composes the outbound offer prompt. Template rendering proper is
// the notification consumer's concern; this is the minimal interactive
// prompt the reply keywords are documented against.
func OfferText(t target.Target) string {
	noun := "Novo lead"
	if t.Kind == target.KindVisit {
		noun = "Nova visita"
	}
	text := fmt.Sprintf("%s: %s em %s.", noun, t.PropertyType, t.Region)
	if t.ScheduledAt != nil {
		text = fmt.Sprintf("%s Horário: %s.", text, t.ScheduledAt.Format("02/01 15:04"))
	}
	return text + " Responda SIM para aceitar ou NAO para recusar."
}
