package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"leadcast/broker"
)

const outboundRoutingKey = "outbound.text"

// outboundMessage is the payload the provider bridge consumes.
type outboundMessage struct {
	MessageID string `json:"message_id"`
	Address   string `json:"address"`
	Text      string `json:"text"`
}

// AMQPMessenger publishes outbound texts to a durable exchange. A separate
// provider bridge drains the queue and talks to the actual messaging API.
type AMQPMessenger struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPMessenger dials the broker and declares the outbound exchange.
func NewAMQPMessenger(url, exchange string) (*AMQPMessenger, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial amqp: %w", err)
	}

	notifyClose := make(chan *amqp.Error)
	conn.NotifyClose(notifyClose)
	go func() {
		for err := range notifyClose {
			log.Printf("gateway: amqp connection closed: %v", err)
		}
	}()

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("gateway: open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("gateway: declare exchange: %w", err)
	}

	return &AMQPMessenger{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
	}, nil
}

func (m *AMQPMessenger) Send(ctx context.Context, address, text string) (string, error) {
	if broker.NormalizePhone(address) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	msg := outboundMessage{
		MessageID: uuid.NewString(),
		Address:   address,
		Text:      text,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("gateway: marshal outbound: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err = m.channel.Publish(
		m.exchange, outboundRoutingKey, false, false,
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   msg.MessageID,
			Body:        body,
		},
	)
	if err != nil {
		return "", fmt.Errorf("%w: publish: %v", ErrTransient, err)
	}

	return msg.MessageID, nil
}

// Publish sends a raw payload under the given routing key. The outbox relay
// uses this to forward notification events on the same connection.
func (m *AMQPMessenger) Publish(ctx context.Context, routingKey string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.channel.Publish(
		m.exchange, routingKey, false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		},
	)
	if err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrTransient, routingKey, err)
	}
	return nil
}

// Close releases the channel and connection.
func (m *AMQPMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel != nil {
		m.channel.Close()
	}
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
