// Package distribution implements the offer/accept cascade that assigns a
// lead or visit to exactly one broker: candidate ranking, offer emission,
// timeout sweeping and inbound-reply resolution.
package distribution

import (
	"time"

	"leadcast/target"
)

// QueueStatus is the lifecycle of one distribution attempt on a target.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueInProgress QueueStatus = "in_progress"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// OfferStatus is the lifecycle of one outbound offer. A pending offer is
// terminalized exactly once, by whichever of the resolver or the reaper
// observes its terminal event first.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
	OfferTimeout  OfferStatus = "timeout"
	OfferError    OfferStatus = "error"
)

// QueueEntry tracks one target's in-flight distribution. At most one entry
// per target is open (pending or in_progress) at any time; closed entries are
// retained as an audit trail until a restart purge.
type QueueEntry struct {
	ID               string
	TargetKind       target.Kind
	TargetID         string
	Status           QueueStatus
	CurrentAttempt   int
	AssignedBrokerID *string
	FailureReason    *string
	StartedAt        time.Time
	CompletedAt      *time.Time
}

// Open reports whether the entry still accepts cascade transitions.
func (e QueueEntry) Open() bool {
	return e.Status == QueuePending || e.Status == QueueInProgress
}

// Offer is one outbound proposal of a target to one broker, with a deadline.
type Offer struct {
	ID              string
	QueueEntryID    string
	TargetKind      target.Kind
	TargetID        string
	BrokerID        string
	AttemptOrder    int
	Status          OfferStatus
	SentAt          time.Time
	TimeoutAt       time.Time
	ReplyText       *string
	ReplyReceivedAt *time.Time
	MessageHandle   *string
}

// Settings is the distribution configuration snapshot. It is loaded once per
// trigger (start, sweep, inbound reply) and passed through the cascade
// unchanged so one distribution never observes two timeout values.
type Settings struct {
	MaxAttempts      int
	TimeoutMinutes   int
	AutoDistribution bool
	FallbackToAdmin  bool
	UpdatedAt        time.Time
}

// OfferTimeout returns the pending-offer deadline window.
func (s Settings) OfferTimeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}
