package model

import (
	"time"

	"github.com/google/uuid"
)

type BookingKind string

const (
	BookingKindIndividual   BookingKind = "individual"
	BookingKindPrivateGroup BookingKind = "private_group"
	BookingKindPublicGroup  BookingKind = "public_group"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"   // waiting for the coach
	BookingStatusAccepted  BookingStatus = "accepted"  // coach accepted, payment captured
	BookingStatusDeclined  BookingStatus = "declined"  // coach declined
	BookingStatusCancelled BookingStatus = "cancelled" // cancelled by a party or by a deadline
	BookingStatusCompleted BookingStatus = "completed" // session took place
)

// Terminal reports whether no further transition is allowed from the status.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingStatusDeclined, BookingStatusCancelled, BookingStatusCompleted:
		return true
	}
	return false
}

type BookingPaymentStatus string

const (
	BookingPaymentNone            BookingPaymentStatus = "none" // public lessons are paid per participant
	BookingPaymentAwaitingPayment BookingPaymentStatus = "awaiting_payment"
	BookingPaymentAuthorized      BookingPaymentStatus = "authorized"
	BookingPaymentCaptured        BookingPaymentStatus = "captured"
	BookingPaymentRefunded        BookingPaymentStatus = "refunded"
	BookingPaymentCancelled       BookingPaymentStatus = "cancelled"
	BookingPaymentFailed          BookingPaymentStatus = "failed"
)

type CapacityStatus string

const (
	CapacityOpen   CapacityStatus = "open"
	CapacityFull   CapacityStatus = "full"
	CapacityClosed CapacityStatus = "closed"
)

// Booking is a scheduled session between a coach and one or more athletes.
// Variant specific data lives in Details.
type Booking struct {
	ID              uuid.UUID     `json:"id"`
	CoachID         uuid.UUID     `json:"coach_id"`
	Kind            BookingKind   `json:"kind"`
	Status          BookingStatus `json:"status"`
	StartAt         time.Time     `json:"start_at"`
	EndAt           time.Time     `json:"end_at"`
	DurationMinutes int           `json:"duration_minutes"`
	Location        string        `json:"location"`

	PaymentStatus     BookingPaymentStatus `json:"payment_status"`
	PaymentIntentID   *string              `json:"payment_intent_id,omitempty"`
	CoachRateCents    int64                `json:"coach_rate_cents"`
	ClientPaidCents   int64                `json:"client_paid_cents"`
	PlatformFeeCents  int64                `json:"platform_fee_cents"`
	ProcessorFeeCents int64                `json:"processor_fee_cents"`
	CoachPayoutCents  int64                `json:"coach_payout_cents"`
	PaymentDueAt      *time.Time           `json:"payment_due_at,omitempty"`
	CapturedAt        *time.Time           `json:"captured_at,omitempty"`

	Reminder12hSentAt *time.Time `json:"-"`
	Reminder30mSentAt *time.Time `json:"-"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
	LockedBy          *uuid.UUID `json:"locked_by,omitempty"`

	DeclineReason      *string    `json:"decline_reason,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	RefundAmountCents  *int64     `json:"refund_amount_cents,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Details BookingDetails `json:"details"`
}

// BookingDetails is implemented only by the variant types of this package.
type BookingDetails interface {
	Kind() BookingKind
	bookingDetails()
}

type IndividualDetails struct {
	ClientID uuid.UUID `json:"client_id"`
}

type PrivateGroupDetails struct {
	OrganizerID uuid.UUID   `json:"organizer_id"`
	GroupSize   int         `json:"group_size"`
	MemberIDs   []uuid.UUID `json:"member_ids"`
}

type PublicGroupDetails struct {
	Title                  string         `json:"title"`
	PricePerPersonCents    int64          `json:"price_per_person_cents"`
	MinParticipants        int            `json:"min_participants"`
	MaxParticipants        int            `json:"max_participants"`
	CurrentParticipants    int            `json:"current_participants"`
	AuthorizedParticipants int            `json:"authorized_participants"`
	CapturedParticipants   int            `json:"captured_participants"`
	CapacityStatus         CapacityStatus `json:"capacity_status"`
}

func (*IndividualDetails) Kind() BookingKind   { return BookingKindIndividual }
func (*PrivateGroupDetails) Kind() BookingKind { return BookingKindPrivateGroup }
func (*PublicGroupDetails) Kind() BookingKind  { return BookingKindPublicGroup }

func (*IndividualDetails) bookingDetails()   {}
func (*PrivateGroupDetails) bookingDetails() {}
func (*PublicGroupDetails) bookingDetails()  {}

// PayerID returns the user who owns the booking-level payment.
// Public lessons have none; their participants pay individually.
func (b *Booking) PayerID() (uuid.UUID, bool) {
	switch d := b.Details.(type) {
	case *IndividualDetails:
		return d.ClientID, true
	case *PrivateGroupDetails:
		return d.OrganizerID, true
	case *PublicGroupDetails:
		return uuid.Nil, false
	}
	return uuid.Nil, false
}

// PublicGroup returns the lesson details when the booking is a public group lesson.
func (b *Booking) PublicGroup() (*PublicGroupDetails, bool) {
	d, ok := b.Details.(*PublicGroupDetails)
	return d, ok
}

// HoursUntilStart is negative once the session has started.
func (b *Booking) HoursUntilStart(now time.Time) float64 {
	return b.StartAt.Sub(now).Hours()
}

// IsLocked reports whether another actor holds the checkout lock at now.
func (b *Booking) IsLocked(now time.Time, actor uuid.UUID) bool {
	if b.LockedUntil == nil || !b.LockedUntil.After(now) {
		return false
	}
	return b.LockedBy == nil || *b.LockedBy != actor
}

// ReminderWindow names a payment reminder sent ahead of a deadline.
type ReminderWindow string

const (
	Reminder12h ReminderWindow = "12h"
	Reminder30m ReminderWindow = "30m"
)
