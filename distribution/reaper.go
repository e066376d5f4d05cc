package distribution

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reaper expires pending offers past their deadline and hands their queue
// entries back to the orchestrator. It is stateless between runs and safe to
// run concurrently with itself and with the resolver: every expiry is a
// conditional update, and an offer a racing resolver just terminalized is
// skipped.
type Reaper struct {
	offers    OfferRepository
	orch      *Orchestrator
	tracer    trace.Tracer
	now       func() time.Time
	batchSize int
}

func NewReaper(offers OfferRepository, orch *Orchestrator) *Reaper {
	return &Reaper{
		offers:    offers,
		orch:      orch,
		tracer:    otel.Tracer("leadcast/distribution"),
		now:       time.Now,
		batchSize: 100,
	}
}

func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// Run performs one sweep. The settings snapshot is loaded once and passed
// through every advancement so a mid-sweep settings edit cannot split one
// run across two configurations.
func (r *Reaper) Run(ctx context.Context) error {
	settings, err := r.orch.LoadSettings(ctx)
	if err != nil {
		return err
	}

	expired, err := r.offers.ListExpired(ctx, r.now(), r.batchSize)
	if err != nil {
		return err
	}

	for _, offer := range expired {
		ctx, span := r.tracer.Start(ctx, "ReapExpiredOffer", trace.WithAttributes(
			attribute.String("offer.id", offer.ID),
			attribute.String("offer.broker_id", offer.BrokerID),
			attribute.Int("offer.attempt_order", offer.AttemptOrder),
		))

		ok, err := r.offers.MarkTerminal(ctx, offer.ID, OfferTimeout, nil, r.now())
		if err != nil {
			log.Printf("distribution: expire offer %s: %v", offer.ID, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			continue
		}
		if !ok {
			// A reply beat the sweep; nothing to advance.
			span.SetAttributes(attribute.Bool("offer.lost_race", true))
			span.End()
			continue
		}

		if err := r.orch.AdvanceOrRetry(ctx, offer.QueueEntryID, settings); err != nil {
			log.Printf("distribution: advance after timeout of offer %s: %v", offer.ID, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}

	return nil
}
