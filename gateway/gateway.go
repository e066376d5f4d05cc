// Package gateway abstracts the outbound text-messaging transport. The
// engine only needs to hand a message to a phone number and learn whether
// the address itself is unusable; delivery mechanics belong to the provider
// bridge consuming the queue downstream.
package gateway

import (
	"context"
	"errors"
)

var (
	// ErrInvalidAddress signals the destination address can never receive
	// messages. The orchestrator skips such candidates instead of retrying.
	ErrInvalidAddress = errors.New("gateway: invalid destination address")
	// ErrTransient signals a temporary transport failure. The offer is left
	// pending; the reaper's natural timeout provides the retry.
	ErrTransient = errors.New("gateway: transient send failure")
)

// Messenger pushes one outbound text to one address. Send returns an opaque
// provider handle for audit trails.
type Messenger interface {
	Send(ctx context.Context, address, text string) (handle string, err error)
}
