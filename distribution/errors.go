package distribution

import "errors"

var (
	// ErrDistributionDisabled signals the auto-distribution feature flag is
	// off. Callers surface it as a no-op, not a failure.
	ErrDistributionDisabled = errors.New("distribution: auto distribution disabled")
	// ErrNoCandidates signals ranking produced no eligible candidate. The
	// admin fallback notification has already been enqueued when it is
	// returned from StartDistribution.
	ErrNoCandidates = errors.New("distribution: no eligible candidates")
	// ErrQueueEntryNotFound signals an unknown queue entry id.
	ErrQueueEntryNotFound = errors.New("distribution: queue entry not found")
	// ErrOfferNotFound signals an unknown offer id.
	ErrOfferNotFound = errors.New("distribution: offer not found")
	// ErrSettingsMissing signals the distribution_settings row is absent.
	// Deliberately fatal: defaulting here risks mis-sized timeouts.
	ErrSettingsMissing = errors.New("distribution: settings row missing")

	// reasonExhausted and reasonNoCandidates are the persisted failure
	// reasons surfaced to admins.
	reasonExhausted    = "max attempts exhausted without acceptance"
	reasonNoCandidates = "no eligible candidates remain"
)
