package distribution

import (
	"context"
	"errors"
	"log"
	"time"

	"leadcast/broker"
	"leadcast/gateway"
	"leadcast/reply"
)

const (
	clarificationText = "Não entendi sua resposta. Responda SIM para aceitar ou NAO para recusar a oportunidade."
	rejectionAckText  = "Entendido, obrigado! A oportunidade será oferecida a outro corretor."
)

// CandidateDirectory resolves inbound sender addresses to candidates.
type CandidateDirectory interface {
	GetByContact(ctx context.Context, address string) (broker.Candidate, error)
}

// Resolver receives classified inbound replies and drives the matching
// offer's terminal transition. It never blocks on outbound sends beyond the
// gateway call itself and treats every lost race as a silent no-op.
type Resolver struct {
	offers     OfferRepository
	brokers    CandidateDirectory
	classifier reply.Classifier
	messenger  gateway.Messenger
	orch       *Orchestrator
	now        func() time.Time
}

func NewResolver(
	offers OfferRepository,
	brokers CandidateDirectory,
	classifier reply.Classifier,
	messenger gateway.Messenger,
	orch *Orchestrator,
) *Resolver {
	return &Resolver{
		offers:     offers,
		brokers:    brokers,
		classifier: classifier,
		messenger:  messenger,
		orch:       orch,
		now:        time.Now,
	}
}

func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve matches an inbound reply to the sender's single pending offer and
// applies it. Unknown senders and senders with no pending offer are ignored
// so the engine never responds to unrelated chatter.
func (r *Resolver) Resolve(ctx context.Context, address, text string) error {
	candidate, err := r.brokers.GetByContact(ctx, address)
	if err != nil {
		if errors.Is(err, broker.ErrNotFound) {
			return nil
		}
		return err
	}

	result := r.classifier.Classify(text)

	pending, err := r.offers.PendingForBroker(ctx, candidate.ID)
	if err != nil {
		return err
	}

	if result.Intent == reply.IntentUnclear {
		if len(pending) == 0 {
			return nil
		}
		if _, err := r.messenger.Send(ctx, candidate.ContactPhone, clarificationText); err != nil {
			log.Printf("distribution: send clarification to broker %s: %v", candidate.ID, err)
		}
		return nil
	}

	if len(pending) == 0 {
		return nil
	}
	if len(pending) > 1 {
		// Invariant violation: at most one offer per broker should be
		// pending. Resolve against the most recent and flag the rest.
		log.Printf("distribution: broker %s has %d pending offers, resolving most recent", candidate.ID, len(pending))
	}
	offer := pending[0]

	status := OfferRejected
	if result.Intent == reply.IntentAccepted {
		status = OfferAccepted
	}

	ok, err := r.offers.MarkTerminal(ctx, offer.ID, status, &text, r.now())
	if err != nil {
		return err
	}
	if !ok {
		// The reaper (or a completing sibling) got there first.
		return nil
	}

	if status == OfferAccepted {
		return r.orch.CompleteDistribution(ctx, offer.QueueEntryID, candidate.ID, offer.ID)
	}

	if _, err := r.messenger.Send(ctx, candidate.ContactPhone, rejectionAckText); err != nil {
		log.Printf("distribution: send rejection ack to broker %s: %v", candidate.ID, err)
	}

	settings, err := r.orch.LoadSettings(ctx)
	if err != nil {
		return err
	}
	return r.orch.AdvanceOrRetry(ctx, offer.QueueEntryID, settings)
}
