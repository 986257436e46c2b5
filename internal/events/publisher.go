// Package events publishes booking lifecycle events to a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	BookingCreated      = "booking.created"
	BookingAccepted     = "booking.accepted"
	BookingDeclined     = "booking.declined"
	BookingCancelled    = "booking.cancelled"
	BookingCompleted    = "booking.completed"
	ParticipantJoined   = "participant.joined"
	ParticipantAccepted = "participant.accepted"
	ParticipantDeclined = "participant.declined"
	ParticipantLeft     = "participant.left"
	ParticipantExpired  = "participant.expired"
	LessonCancelled     = "lesson.cancelled"
)

// Envelope is the JSON body of every published event.
type Envelope struct {
	ID            uuid.UUID      `json:"id"`
	Type          string         `json:"type"`
	OccurredAt    time.Time      `json:"occurred_at"`
	BookingID     uuid.UUID      `json:"booking_id"`
	ParticipantID *uuid.UUID     `json:"participant_id,omitempty"`
	ActorID       *uuid.UUID     `json:"actor_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

func NewEnvelope(key string, bookingID uuid.UUID, actorID *uuid.UUID) Envelope {
	return Envelope{
		ID:         uuid.New(),
		Type:       key,
		OccurredAt: time.Now().UTC(),
		BookingID:  bookingID,
		ActorID:    actorID,
	}
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         b,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) PublishJSON(context.Context, string, any) error { return nil }
func (Nop) Close() error { return nil }
