package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/audit"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/notification"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/repository"
)

// Transactor runs fn in one database transaction carried by ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type BookingStore interface {
	Create(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*model.Booking, error)

	MarkAuthorized(ctx context.Context, id uuid.UUID) error
	Accept(ctx context.Context, id uuid.UUID, capturedAt time.Time) error
	Decline(ctx context.Context, id uuid.UUID, reason *string, paymentStatus model.BookingPaymentStatus) error
	Cancel(ctx context.Context, id uuid.UUID, c repository.CancelBooking) error
	Complete(ctx context.Context, id uuid.UUID) error
	RecordRefund(ctx context.Context, id uuid.UUID, amountCents int64) error

	ReserveSeat(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseSeat(ctx context.Context, id uuid.UUID, s repository.SeatRelease) error
	AddAuthorized(ctx context.Context, id uuid.UUID) error
	RecordCapture(ctx context.Context, id uuid.UUID, wasAuthorized bool) (model.CapacityStatus, error)
	CloseLesson(ctx context.Context, id uuid.UUID) error

	Lock(ctx context.Context, id, actorID uuid.UUID, until, now time.Time) (bool, error)
	Unlock(ctx context.Context, id, actorID uuid.UUID) error
	ClearExpiredLocks(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	ListReminderCandidates(ctx context.Context, w model.ReminderWindow, from, to time.Time) ([]*model.Booking, error)
	ClaimReminder(ctx context.Context, id uuid.UUID, w model.ReminderWindow, at time.Time) (bool, error)
	ListOverduePayments(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error)
	ListFinished(ctx context.Context, endedBefore time.Time, limit int) ([]*model.Booking, error)
}

type ParticipantStore interface {
	Create(ctx context.Context, p *model.Participant) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Participant, error)
	GetByBookingAndUser(ctx context.Context, bookingID, userID uuid.UUID) (*model.Participant, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*model.Participant, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*model.Participant, error)

	MarkAuthorized(ctx context.Context, id uuid.UUID) error
	// Accept, Decline, Cancel and Delete return the payment status the row
	// held before the write.
	Accept(ctx context.Context, id uuid.UUID, capturedAt time.Time) (model.ParticipantPaymentStatus, error)
	Decline(ctx context.Context, id uuid.UUID, at time.Time) (model.ParticipantPaymentStatus, error)
	Cancel(ctx context.Context, id uuid.UUID, paymentStatus model.ParticipantPaymentStatus, at time.Time, from ...model.ParticipantStatus) (model.ParticipantPaymentStatus, error)
	Delete(ctx context.Context, id uuid.UUID) (model.ParticipantPaymentStatus, error)

	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*model.Participant, error)
	ListReminderCandidates(ctx context.Context, w model.ReminderWindow, from, to time.Time) ([]*model.Participant, error)
	ClaimReminder(ctx context.Context, id uuid.UUID, w model.ReminderWindow, at time.Time) (bool, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	SetPayoutAccount(ctx context.Context, coachID uuid.UUID, accountID string) (bool, error)
	SetPayoutOnboarded(ctx context.Context, coachID uuid.UUID, onboarded bool) error
	SetCoachApproval(ctx context.Context, coachID uuid.UUID, approval model.CoachApproval) error
	SetSuspended(ctx context.Context, userID uuid.UUID, suspended bool) error
}

// Auditor is satisfied by *audit.Recorder. Its methods never fail the caller.
type Auditor interface {
	Transitions(ctx context.Context, e audit.Entry)
	PaymentEvent(ctx context.Context, rec *model.PaymentRecord)
	AdminAction(ctx context.Context, a *model.AdminAction)
}

type Notifier interface {
	Notify(ctx context.Context, n notification.Notice) error
}

type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}
