/**
 * @description
 * This package provides a producer for publishing claim events to RabbitMQ.
 * Successful claims emit an event consumed by analytics and vendor webhook
 * dispatchers; publishing is a non-blocking side effect — a publish failure
 * is logged and never fails the claim that triggered it.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// ClaimEvent is the payload published when a coupon claim commits.
type ClaimEvent struct {
	EventType  string    `json:"event_type"`
	CouponID   uuid.UUID `json:"coupon_id"`
	VendorID   uuid.UUID `json:"vendor_id"`
	ClaimantID uuid.UUID `json:"claimant_id"`
	PeriodKey  string    `json:"period_key"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	PublishClaimEvent(ctx context.Context, event ClaimEvent) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing.
type EventProducer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	exchange   string
	routingKey string
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is
// unavailable at startup. Claims proceed without events.
type EventProducerFallback struct{}

func (p *EventProducerFallback) PublishClaimEvent(ctx context.Context, event ClaimEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"claim event publish skipped\" coupon_id=%s", event.CouponID)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer connects to RabbitMQ and declares the claim event exchange.
func NewEventProducer(amqpURL, exchange, routingKey string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("invalid rabbitmq url: %w", err)
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{
		Dial: amqp091.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &EventProducer{
		conn:       conn,
		channel:    channel,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

// PublishClaimEvent publishes a claim event as persistent JSON.
func (p *EventProducer) PublishClaimEvent(ctx context.Context, event ClaimEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal claim event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(publishCtx, p.exchange, p.routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish claim event: %w", err)
	}
	return nil
}

// Close shuts down the channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
