package model

import (
	"time"

	"github.com/google/uuid"
)

type ParticipantPaymentStatus string

const (
	ParticipantPaymentPending    ParticipantPaymentStatus = "pending" // hold opened, card not confirmed yet
	ParticipantPaymentAuthorized ParticipantPaymentStatus = "authorized"
	ParticipantPaymentCaptured   ParticipantPaymentStatus = "captured"
	ParticipantPaymentCancelled  ParticipantPaymentStatus = "cancelled"
	ParticipantPaymentRefunded   ParticipantPaymentStatus = "refunded"
	ParticipantPaymentFailed     ParticipantPaymentStatus = "failed"
)

type ParticipantStatus string

const (
	ParticipantAwaitingCoach ParticipantStatus = "awaiting_coach"
	ParticipantAccepted      ParticipantStatus = "accepted"
	ParticipantDeclined      ParticipantStatus = "declined"
	ParticipantCancelled     ParticipantStatus = "cancelled"
)

// Participant is one athlete's seat in a group lesson.
type Participant struct {
	ID              uuid.UUID                `json:"id"`
	BookingID       uuid.UUID                `json:"booking_id"`
	UserID          uuid.UUID                `json:"user_id"`
	Status          ParticipantStatus        `json:"status"`
	PaymentStatus   ParticipantPaymentStatus `json:"payment_status"`
	PaymentIntentID *string                  `json:"payment_intent_id,omitempty"`
	AmountCents     int64                    `json:"amount_cents"`
	ExpiresAt       *time.Time               `json:"expires_at,omitempty"`
	CapturedAt      *time.Time               `json:"captured_at,omitempty"`
	CancelledAt     *time.Time               `json:"cancelled_at,omitempty"`

	Reminder12hSentAt *time.Time `json:"-"`
	Reminder30mSentAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HoldsSeat reports whether the participant still counts against lesson capacity.
func (p *Participant) HoldsSeat() bool {
	return p.Status == ParticipantAwaitingCoach || p.Status == ParticipantAccepted
}
