// Package amqpevents publishes committed claim events to a RabbitMQ exchange.
package amqpevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeKindTopic   = "topic"
	contentTypeJSON     = "application/json"
	defaultExchangeName = "unitclaims.events"
)

var errPublisherClosed = errors.New("amqp publisher closed")

// Channel is the subset of *amqp.Channel used by Publisher.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements claims.EventPublisher. Events are routed by type,
// e.g. "commission.emitted", on a durable topic exchange.
type Publisher struct {
	mu         sync.Mutex
	channel    Channel
	connection *amqp.Connection
	exchange   string
}

// Dial connects to url and declares the exchange.
func Dial(url string, exchange string) (*Publisher, error) {
	connection, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	channel, err := connection.Channel()
	if err != nil {
		_ = connection.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	publisher, err := NewPublisher(channel, exchange)
	if err != nil {
		_ = connection.Close()
		return nil, err
	}
	publisher.connection = connection
	return publisher, nil
}

// NewPublisher declares the exchange on channel and returns a Publisher.
func NewPublisher(channel Channel, exchange string) (*Publisher, error) {
	if channel == nil {
		return nil, fmt.Errorf("amqp channel is nil")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = defaultExchangeName
	}
	if err := channel.ExchangeDeclare(exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return &Publisher{channel: channel, exchange: exchange}, nil
}

// Publish sends event as a persistent JSON message.
func (publisher *Publisher) Publish(ctx context.Context, event claims.Event) error {
	body, err := json.Marshal(newEventMessage(event))
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if publisher.channel == nil {
		return errPublisherClosed
	}
	err = publisher.channel.PublishWithContext(ctx, publisher.exchange, string(event.Type), false, false, amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// Close releases the channel and, when dialed, the connection.
func (publisher *Publisher) Close() error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	var closeErr error
	if publisher.channel != nil {
		closeErr = publisher.channel.Close()
		publisher.channel = nil
	}
	if publisher.connection != nil {
		if err := publisher.connection.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		publisher.connection = nil
	}
	return closeErr
}

type commissionMessage struct {
	Code        string    `json:"code"`
	DepositCode string    `json:"deposit_code"`
	UnitCode    string    `json:"unit_code"`
	HolderID    string    `json:"holder_id"`
	Amount      int64     `json:"amount"`
	RateBps     int64     `json:"rate_bps"`
	CreatedAt   time.Time `json:"created_at"`
}

// eventMessage uses the same snake_case keys as the HTTP payloads.
type eventMessage struct {
	Type        string             `json:"type"`
	Kind        string             `json:"kind,omitempty"`
	ClaimCode   string             `json:"claim_code,omitempty"`
	UnitCode    string             `json:"unit_code"`
	HolderID    string             `json:"holder_id,omitempty"`
	Action      string             `json:"action,omitempty"`
	ClaimStatus string             `json:"claim_status,omitempty"`
	UnitStatus  string             `json:"unit_status,omitempty"`
	Commission  *commissionMessage `json:"commission,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

func newEventMessage(event claims.Event) eventMessage {
	message := eventMessage{
		Type:        string(event.Type),
		Kind:        string(event.Kind),
		ClaimCode:   event.ClaimCode,
		UnitCode:    event.UnitCode,
		HolderID:    event.HolderID,
		Action:      string(event.Action),
		ClaimStatus: event.ClaimStatus,
		UnitStatus:  string(event.UnitStatus),
		OccurredAt:  event.OccurredAt.UTC(),
	}
	if commission := event.Commission; commission != nil {
		message.Commission = &commissionMessage{
			Code:        commission.Code,
			DepositCode: commission.DepositCode.String(),
			UnitCode:    commission.UnitCode.String(),
			HolderID:    commission.HolderID.String(),
			Amount:      commission.Amount.Int64(),
			RateBps:     int64(commission.RateBps),
			CreatedAt:   commission.CreatedAt.UTC(),
		}
	}
	return message
}
