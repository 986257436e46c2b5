package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/events"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/notification"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/payment"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/repository"
)

// Deps are the collaborators shared by the booking engine services.
type Deps struct {
	Tx           Transactor
	Bookings     BookingStore
	Participants ParticipantStore
	Users        UserStore
	Gateway      payment.Gateway
	Audit        Auditor
	Notifier     Notifier
	Events       EventPublisher
	Logger       *zap.Logger
}

// Settings are the business knobs loaded from configuration.
type Settings struct {
	Currency             string
	PlatformFeePercent   float64
	PaymentWindow        time.Duration
	MinPaymentLead       time.Duration
	HoldDuration         time.Duration
	CheckoutLockTTL      time.Duration
	ReminderTolerance    time.Duration
	JobTimeout           time.Duration
	BatchSize            int
	OnboardingRefreshURL string
	OnboardingReturnURL  string
}

func DefaultSettings() Settings {
	return Settings{
		Currency:           "usd",
		PlatformFeePercent: 15,
		PaymentWindow:      24 * time.Hour,
		MinPaymentLead:     time.Hour,
		HoldDuration:       144 * time.Hour,
		CheckoutLockTTL:    10 * time.Minute,
		ReminderTolerance:  2 * time.Minute,
		JobTimeout:         4 * time.Minute,
		BatchSize:          100,
	}
}

type engine struct {
	Deps
	settings Settings
	now      func() time.Time
}

func newEngine(d Deps, s Settings) engine {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return engine{Deps: d, settings: s, now: time.Now}
}

func (e *engine) clock() time.Time { return e.now().UTC() }

func (e *engine) loadBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	b, err := e.Bookings.GetByID(ctx, id)
	if err != nil {
		e.Logger.Error("Failed to load booking", zap.String("booking_id", id.String()), zap.Error(err))
		return nil, err
	}
	if b == nil {
		return nil, notFound("Booking")
	}
	return b, nil
}

func (e *engine) loadParticipant(ctx context.Context, id uuid.UUID) (*model.Participant, error) {
	p, err := e.Participants.GetByID(ctx, id)
	if err != nil {
		e.Logger.Error("Failed to load participant", zap.String("participant_id", id.String()), zap.Error(err))
		return nil, err
	}
	if p == nil {
		return nil, notFound("Participant")
	}
	return p, nil
}

func (e *engine) loadUser(ctx context.Context, id uuid.UUID, what string) (*model.User, error) {
	u, err := e.Users.GetByID(ctx, id)
	if err != nil {
		e.Logger.Error("Failed to load user", zap.String("user_id", id.String()), zap.Error(err))
		return nil, err
	}
	if u == nil {
		return nil, notFound(what)
	}
	return u, nil
}

// bookableCoach loads a coach who can currently receive money.
func (e *engine) bookableCoach(ctx context.Context, id uuid.UUID) (*model.User, error) {
	coach, err := e.loadUser(ctx, id, "Coach")
	if err != nil {
		return nil, err
	}
	if coach.Role != model.RoleCoach {
		return nil, notFound("Coach")
	}
	if coach.Suspended || !coach.Coach.CanReceiveBookings() {
		return nil, conflict("Coach is not accepting bookings until their payout account is set up")
	}
	return coach, nil
}

// releaseHold voids an authorization hold. When the cancel call fails the
// intent is read back and only its status decides what happened: canceled
// means the hold is already gone, succeeded means the money moved and the
// caller must refund instead.
func (e *engine) releaseHold(ctx context.Context, op, intentID string) error {
	_, cancelErr := e.Gateway.CancelAuthorization(ctx, intentID)
	if cancelErr == nil {
		return nil
	}

	intent, err := e.Gateway.GetIntent(ctx, intentID)
	if err != nil {
		e.Logger.Error("Failed to read back payment after cancel failure",
			zap.String("op", op),
			zap.String("intent_id", intentID),
			zap.NamedError("cancel_error", cancelErr),
			zap.Error(err),
		)
		return gatewayError(cancelErr)
	}

	switch intent.Status {
	case payment.IntentCanceled:
		e.Logger.Info("Payment hold was already released", zap.String("op", op), zap.String("intent_id", intentID))
		return nil
	case payment.IntentSucceeded:
		e.Logger.Warn("Payment captured before the hold could be released",
			zap.String("op", op),
			zap.String("intent_id", intentID),
		)
		return mustRefund()
	}

	e.Logger.Error("Failed to release payment hold",
		zap.String("op", op),
		zap.String("intent_id", intentID),
		zap.String("status", string(intent.Status)),
		zap.Error(cancelErr),
	)
	return gatewayError(cancelErr)
}

func (e *engine) gatewayFailed(op string, id uuid.UUID, err error) error {
	e.Logger.Error("Payment gateway call failed",
		zap.String("op", op),
		zap.String("entity_id", id.String()),
		zap.Error(err),
	)
	return gatewayError(err)
}

func (e *engine) storeFailed(op string, id uuid.UUID, err error) error {
	e.Logger.Error("Failed to persist state change",
		zap.String("op", op),
		zap.String("entity_id", id.String()),
		zap.Error(err),
	)
	return storeError(err)
}

// moneyMovedButNotRecorded logs a gateway effect that the database did not follow.
func (e *engine) moneyMovedButNotRecorded(op, intentID string, id uuid.UUID, err error) error {
	e.Logger.Error("Payment changed at the processor but local state was not updated; manual reconciliation required",
		zap.String("op", op),
		zap.String("intent_id", intentID),
		zap.String("entity_id", id.String()),
		zap.Error(err),
	)
	return storeError(err)
}

func (e *engine) recordIntent(ctx context.Context, intent *payment.Intent, eventType string, bookingID, participantID *uuid.UUID) {
	if intent == nil {
		return
	}
	amount := intent.AmountCents
	if intent.AmountReceivedCents > 0 {
		amount = intent.AmountReceivedCents
	}
	e.Audit.PaymentEvent(ctx, &model.PaymentRecord{
		PaymentIntentID: intent.ID,
		BookingID:       bookingID,
		ParticipantID:   participantID,
		Status:          string(intent.Status),
		AmountCents:     amount,
		CaptureMethod:   intent.CaptureMethod,
		LastEventType:   eventType,
		LastEventAt:     e.clock(),
	})
}

// recordPaymentStatus notes a local payment change that has no fresh intent snapshot.
func (e *engine) recordPaymentStatus(ctx context.Context, intentID, status, eventType string, amount int64, bookingID, participantID *uuid.UUID) {
	e.Audit.PaymentEvent(ctx, &model.PaymentRecord{
		PaymentIntentID: intentID,
		BookingID:       bookingID,
		ParticipantID:   participantID,
		Status:          status,
		AmountCents:     amount,
		LastEventType:   eventType,
		LastEventAt:     e.clock(),
	})
}

func (e *engine) notify(ctx context.Context, n notification.Notice) {
	if e.Notifier == nil || n.To == nil {
		return
	}
	if err := e.Notifier.Notify(ctx, n); err != nil {
		e.Logger.Warn("Failed to send notification",
			zap.String("event", string(n.Event)),
			zap.String("user_id", n.To.ID.String()),
			zap.Error(err),
		)
	}
}

// notifyUser loads the recipient and sends n; failures are logged only.
func (e *engine) notifyUser(ctx context.Context, userID uuid.UUID, n notification.Notice) {
	if e.Notifier == nil || userID == uuid.Nil {
		return
	}
	u, err := e.Users.GetByID(ctx, userID)
	if err != nil || u == nil {
		e.Logger.Warn("Failed to load notification recipient",
			zap.String("event", string(n.Event)),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return
	}
	n.To = u
	e.notify(ctx, n)
}

func (e *engine) publish(ctx context.Context, env events.Envelope) {
	if err := e.Events.PublishJSON(ctx, env.Type, env); err != nil {
		e.Logger.Warn("Failed to publish event",
			zap.String("type", env.Type),
			zap.String("booking_id", env.BookingID.String()),
			zap.Error(err),
		)
	}
}

// seatHeldAs sizes a seat release from the payment status a participant row
// held when it was cancelled or removed.
func seatHeldAs(prior model.ParticipantPaymentStatus) repository.SeatRelease {
	return repository.SeatRelease{
		Authorized: prior == model.ParticipantPaymentAuthorized,
		Captured:   prior == model.ParticipantPaymentCaptured,
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
