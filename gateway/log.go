package gateway

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"leadcast/broker"
)

// LogMessenger writes outbound texts to the process log instead of a real
// transport. Used in development and as a safe default.
type LogMessenger struct{}

func NewLogMessenger() *LogMessenger {
	return &LogMessenger{}
}

// Publish logs the payload instead of forwarding it anywhere.
func (m *LogMessenger) Publish(_ context.Context, routingKey string, payload []byte) error {
	log.Printf("gateway: publish %s: %s", routingKey, payload)
	return nil
}

func (m *LogMessenger) Send(_ context.Context, address, text string) (string, error) {
	if broker.NormalizePhone(address) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	handle := uuid.NewString()
	log.Printf("gateway: outbound to %s (handle %s): %s", address, handle, text)
	return handle, nil
}
