package model

import (
	"time"

	"github.com/google/uuid"
)

// PaymentRecord mirrors the latest known state of one external payment intent.
type PaymentRecord struct {
	ID              uuid.UUID  `json:"id"`
	PaymentIntentID string     `json:"payment_intent_id"`
	BookingID       *uuid.UUID `json:"booking_id,omitempty"`
	ParticipantID   *uuid.UUID `json:"participant_id,omitempty"`
	Status          string     `json:"status"`
	AmountCents     int64      `json:"amount_cents"`
	CaptureMethod   string     `json:"capture_method"`
	LastEventType   string     `json:"last_event_type"`
	LastEventAt     time.Time  `json:"last_event_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

type TransitionField string

const (
	FieldStatus        TransitionField = "status"
	FieldPaymentStatus TransitionField = "payment_status"
	FieldCapacity      TransitionField = "capacity_status"
)

// StateTransition is one field change on a booking or participant.
type StateTransition struct {
	ID            uuid.UUID       `json:"id"`
	BookingID     uuid.UUID       `json:"booking_id"`
	ParticipantID *uuid.UUID      `json:"participant_id,omitempty"`
	Field         TransitionField `json:"field"`
	OldValue      string          `json:"old_value"`
	NewValue      string          `json:"new_value"`
	ActorID       *uuid.UUID      `json:"actor_id,omitempty"`
	ActorRole     Role            `json:"actor_role"`
	Reason        *string         `json:"reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type AdminActionType string

const (
	AdminApproveCoach  AdminActionType = "approve_coach"
	AdminRejectCoach   AdminActionType = "reject_coach"
	AdminSuspendUser   AdminActionType = "suspend_user"
	AdminRefundPayment AdminActionType = "refund_payment"
)

type AdminAction struct {
	ID         uuid.UUID       `json:"id"`
	AdminID    uuid.UUID       `json:"admin_id"`
	Action     AdminActionType `json:"action"`
	TargetType string          `json:"target_type"`
	TargetID   uuid.UUID       `json:"target_id"`
	Notes      *string         `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
