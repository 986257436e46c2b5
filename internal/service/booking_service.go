package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/audit"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/events"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/notification"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/payment"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/pricing"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/repository"
)

// BookingService runs individual and private group bookings, which carry one
// booking-level payment.
type BookingService struct {
	engine
}

func NewBookingService(d Deps, s Settings) *BookingService {
	return &BookingService{engine: newEngine(d, s)}
}

type CreateBookingInput struct {
	CoachID         uuid.UUID         `json:"coach_id" validate:"required"`
	Kind            model.BookingKind `json:"kind" validate:"required,oneof=individual private_group"`
	StartAt         time.Time         `json:"start_at" validate:"required"`
	DurationMinutes int               `json:"duration_minutes" validate:"required,min=15,max=480"`
	Location        string            `json:"location" validate:"required,max=200"`
	GroupSize       int               `json:"group_size" validate:"omitempty,min=2,max=50"`
	MemberIDs       []uuid.UUID       `json:"member_ids" validate:"omitempty,max=49"`
	// Set when the client already confirmed a hold on the checkout page.
	PaymentIntentID string `json:"payment_intent_id" validate:"omitempty,startswith=pi_"`
}

// BookingCheckout is what the client needs to finish paying.
type BookingCheckout struct {
	Booking      *model.Booking    `json:"booking"`
	Pricing      pricing.Breakdown `json:"pricing"`
	ClientSecret string            `json:"client_secret,omitempty"`
}

// CreateBooking opens a payment hold and stores a pending booking request.
func (s *BookingService) CreateBooking(ctx context.Context, actor model.Actor, in CreateBookingInput) (*BookingCheckout, error) {
	if actor.Role != model.RoleClient {
		return nil, forbidden("Only clients can book sessions")
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Kind == model.BookingKindPrivateGroup && in.GroupSize == 0 {
		return nil, invalid("group_size is required")
	}
	if len(in.MemberIDs) >= max(in.GroupSize, 1) {
		return nil, invalid("member_ids must leave a place for the organizer")
	}

	now := s.clock()
	if !in.StartAt.After(now.Add(s.settings.MinPaymentLead)) {
		return nil, invalid("Sessions must be booked at least %s ahead", s.settings.MinPaymentLead)
	}

	coach, err := s.bookableCoach(ctx, in.CoachID)
	if err != nil {
		return nil, err
	}

	rate := coach.Coach.HourlyRateCents
	var details model.BookingDetails = &model.IndividualDetails{ClientID: actor.UserID}
	if in.Kind == model.BookingKindPrivateGroup {
		rate = coach.Coach.GroupRate()
		details = &model.PrivateGroupDetails{
			OrganizerID: actor.UserID,
			GroupSize:   in.GroupSize,
			MemberIDs:   in.MemberIDs,
		}
	}

	price, err := pricing.Calculate(rate, in.DurationMinutes, s.settings.PlatformFeePercent)
	if err != nil {
		return nil, invalid("Cannot price session: %v", err)
	}

	b := &model.Booking{
		ID:                uuid.New(),
		CoachID:           coach.ID,
		Kind:              in.Kind,
		Status:            model.BookingStatusPending,
		StartAt:           in.StartAt.UTC(),
		EndAt:             in.StartAt.UTC().Add(time.Duration(in.DurationMinutes) * time.Minute),
		DurationMinutes:   in.DurationMinutes,
		Location:          in.Location,
		CoachRateCents:    rate,
		ClientPaidCents:   price.ClientPaysCents,
		PlatformFeeCents:  price.PlatformFeeCents,
		ProcessorFeeCents: price.ProcessorFeeCents,
		CoachPayoutCents:  price.CoachPayoutCents,
		Details:           details,
	}

	intent, err := s.openHold(ctx, b, coach, price, in.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	b.PaymentIntentID = &intent.ID
	b.PaymentStatus = model.BookingPaymentAwaitingPayment
	if intent.Status.Capturable() {
		b.PaymentStatus = model.BookingPaymentAuthorized
	} else {
		due := earliest(now.Add(s.settings.PaymentWindow), b.StartAt.Add(-s.settings.MinPaymentLead))
		b.PaymentDueAt = &due
	}

	if err := s.Bookings.Create(ctx, b); err != nil {
		if in.PaymentIntentID == "" {
			if relErr := s.releaseHold(ctx, "create booking rollback", intent.ID); relErr != nil {
				s.Logger.Error("Failed to release hold of unsaved booking",
					zap.String("intent_id", intent.ID),
					zap.Error(relErr),
				)
			}
		}
		return nil, s.storeFailed("create booking", b.ID, err)
	}

	s.Logger.Info("Booking requested",
		zap.String("booking_id", b.ID.String()),
		zap.String("coach_id", b.CoachID.String()),
		zap.String("client_id", actor.UserID.String()),
		zap.String("kind", string(b.Kind)),
		zap.Int64("client_pays_cents", price.ClientPaysCents),
	)

	s.Audit.Transitions(ctx, audit.Entry{
		Actor:     actor,
		Kind:      b.Kind,
		BookingID: b.ID,
		Changes: []audit.Change{
			audit.Status("", b.Status),
			audit.Payment("", b.PaymentStatus),
		},
	})
	s.recordIntent(ctx, intent, "payment_intent.created", &b.ID, nil)
	s.notify(ctx, notification.Notice{Event: notification.EventBookingRequested, To: coach, Booking: b})
	s.publish(ctx, bookingEvent(events.BookingCreated, b, actor))

	return &BookingCheckout{Booking: b, Pricing: price, ClientSecret: intent.ClientSecret}, nil
}

// openHold verifies a client-confirmed intent or opens a new manual-capture hold.
func (s *BookingService) openHold(ctx context.Context, b *model.Booking, coach *model.User, price pricing.Breakdown, confirmedIntentID string) (*payment.Intent, error) {
	if confirmedIntentID != "" {
		intent, err := s.Gateway.GetIntent(ctx, confirmedIntentID)
		if err != nil {
			return nil, s.gatewayFailed("verify payment", b.ID, err)
		}
		if !intent.Status.Capturable() {
			return nil, gatewayError(&payment.InvalidStateError{Op: "use", IntentID: intent.ID, Status: intent.Status})
		}
		if intent.AmountCents != price.ClientPaysCents {
			return nil, invalid("Payment amount does not match the session price")
		}
		return intent, nil
	}

	payer, _ := b.PayerID()
	intent, err := s.Gateway.CreateAuthorization(ctx, payment.AuthorizationRequest{
		AmountCents:         price.ClientPaysCents,
		Currency:            s.settings.Currency,
		DestinationAccount:  *coach.Coach.PayoutAccountID,
		ApplicationFeeCents: price.ApplicationFeeCents(),
		IdempotencyKey:      "booking-" + b.ID.String(),
		Metadata: map[string]string{
			"booking_id":   b.ID.String(),
			"booking_type": string(b.Kind),
			"coach_id":     coach.ID.String(),
			"client_id":    payer.String(),
		},
	})
	if err != nil {
		return nil, s.gatewayFailed("create authorization", b.ID, err)
	}
	return intent, nil
}

// AcceptBooking captures the held payment and confirms the session.
// Local state does not change unless the capture succeeds.
func (s *BookingService) AcceptBooking(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Booking, error) {
	b, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != model.RoleCoach || b.CoachID != actor.UserID {
		return nil, forbidden("Only the coach of this booking can accept it")
	}
	if b.Kind == model.BookingKindPublicGroup {
		return nil, conflict("Public lessons are accepted per participant")
	}
	if b.Status != model.BookingStatusPending {
		return nil, conflict("Booking is %s, not pending", b.Status)
	}
	if b.PaymentIntentID == nil {
		return nil, conflict("Booking has no payment to capture")
	}

	intent, err := s.Gateway.Capture(ctx, *b.PaymentIntentID)
	if err != nil {
		return nil, s.gatewayFailed("capture", b.ID, err)
	}

	capturedAt := s.clock()
	if err := s.Bookings.Accept(ctx, b.ID, capturedAt); err != nil {
		return nil, s.moneyMovedButNotRecorded("accept booking", intent.ID, b.ID, err)
	}

	oldPayment := b.PaymentStatus
	b.Status = model.BookingStatusAccepted
	b.PaymentStatus = model.BookingPaymentCaptured
	b.CapturedAt = &capturedAt

	s.Logger.Info("Booking accepted",
		zap.String("booking_id", b.ID.String()),
		zap.String("coach_id", b.CoachID.String()),
		zap.Int64("captured_cents", intent.AmountReceivedCents),
	)

	s.Audit.Transitions(ctx, audit.Entry{
		Actor:     actor,
		Kind:      b.Kind,
		BookingID: b.ID,
		Changes: []audit.Change{
			audit.Status(model.BookingStatusPending, model.BookingStatusAccepted),
			audit.Payment(oldPayment, model.BookingPaymentCaptured),
		},
	})
	s.recordIntent(ctx, intent, "payment_intent.captured", &b.ID, nil)
	if payer, ok := b.PayerID(); ok {
		s.notifyUser(ctx, payer, notification.Notice{
			Event:       notification.EventBookingAccepted,
			Booking:     b,
			AmountCents: b.ClientPaidCents,
		})
	}
	s.publish(ctx, bookingEvent(events.BookingAccepted, b, actor))

	return b, nil
}

// DeclineBooking releases the hold and closes the request.
func (s *BookingService) DeclineBooking(ctx context.Context, actor model.Actor, id uuid.UUID, reason string) (*model.Booking, error) {
	b, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != model.RoleCoach || b.CoachID != actor.UserID {
		return nil, forbidden("Only the coach of this booking can decline it")
	}
	if b.Kind == model.BookingKindPublicGroup {
		return nil, conflict("Public lessons are declined per participant")
	}
	if b.Status != model.BookingStatusPending {
		return nil, conflict("Booking is %s, not pending", b.Status)
	}

	if b.PaymentIntentID != nil {
		if err := s.releaseHold(ctx, "decline booking", *b.PaymentIntentID); err != nil {
			return nil, err
		}
	}

	if err := s.Bookings.Decline(ctx, b.ID, strPtr(reason), model.BookingPaymentCancelled); err != nil {
		return nil, s.storeFailed("decline booking", b.ID, err)
	}

	oldPayment := b.PaymentStatus
	b.Status = model.BookingStatusDeclined
	b.PaymentStatus = model.BookingPaymentCancelled
	b.DeclineReason = strPtr(reason)

	s.Logger.Info("Booking declined",
		zap.String("booking_id", b.ID.String()),
		zap.String("coach_id", b.CoachID.String()),
	)

	s.Audit.Transitions(ctx, audit.Entry{
		Actor:     actor,
		Kind:      b.Kind,
		BookingID: b.ID,
		Reason:    b.DeclineReason,
		Changes: []audit.Change{
			audit.Status(model.BookingStatusPending, model.BookingStatusDeclined),
			audit.Payment(oldPayment, model.BookingPaymentCancelled),
		},
	})
	if b.PaymentIntentID != nil {
		s.recordPaymentStatus(ctx, *b.PaymentIntentID, string(payment.IntentCanceled), "payment_intent.canceled", b.ClientPaidCents, &b.ID, nil)
	}
	if payer, ok := b.PayerID(); ok {
		s.notifyUser(ctx, payer, notification.Notice{
			Event:   notification.EventBookingDeclined,
			Booking: b,
			Reason:  reason,
		})
	}
	s.publish(ctx, bookingEvent(events.BookingDeclined, b, actor))

	return b, nil
}

// CancelBooking cancels on behalf of the payer or the coach. A captured
// payment is refunded by the time-to-session tier; an uncaptured hold is released.
func (s *BookingService) CancelBooking(ctx context.Context, actor model.Actor, id uuid.UUID, reason string) (*model.Booking, error) {
	b, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Kind == model.BookingKindPublicGroup {
		return nil, conflict("Public lessons are cancelled through the lesson")
	}
	payer, _ := b.PayerID()
	if actor.UserID != payer && actor.UserID != b.CoachID {
		return nil, forbidden("Only the client or the coach can cancel this booking")
	}
	if b.Status != model.BookingStatusPending && b.Status != model.BookingStatusAccepted {
		return nil, conflict("Booking is %s and cannot be cancelled", b.Status)
	}

	now := s.clock()
	var refund int64
	newPayment := model.BookingPaymentCancelled

	switch {
	case b.PaymentStatus == model.BookingPaymentCaptured && b.PaymentIntentID != nil:
		refund, err = s.refundByTier(ctx, b, now)
		if err != nil {
			return nil, err
		}
		newPayment = model.BookingPaymentCaptured
		if refund > 0 {
			newPayment = model.BookingPaymentRefunded
		}
	case b.PaymentIntentID != nil:
		if err := s.releaseHold(ctx, "cancel booking", *b.PaymentIntentID); err != nil {
			return nil, err
		}
	}

	err = s.Bookings.Cancel(ctx, b.ID, repository.CancelBooking{
		PaymentStatus: newPayment,
		CancelledBy:   actor.Ref(),
		CancelledAt:   now,
		Reason:        strPtr(reason),
		RefundCents:   refund,
		From:          []model.BookingStatus{model.BookingStatusPending, model.BookingStatusAccepted},
	})
	if err != nil {
		if refund > 0 {
			return nil, s.moneyMovedButNotRecorded("cancel booking", *b.PaymentIntentID, b.ID, err)
		}
		return nil, s.storeFailed("cancel booking", b.ID, err)
	}

	oldStatus, oldPayment := b.Status, b.PaymentStatus
	b.Status = model.BookingStatusCancelled
	b.PaymentStatus = newPayment
	b.CancelledBy = actor.Ref()
	b.CancelledAt = &now
	b.CancellationReason = strPtr(reason)
	b.RefundAmountCents = &refund

	s.Logger.Info("Booking cancelled",
		zap.String("booking_id", b.ID.String()),
		zap.String("cancelled_by", actor.UserID.String()),
		zap.Int64("refund_cents", refund),
	)

	s.Audit.Transitions(ctx, audit.Entry{
		Actor:     actor,
		Kind:      b.Kind,
		BookingID: b.ID,
		Reason:    b.CancellationReason,
		Changes: []audit.Change{
			audit.Status(oldStatus, model.BookingStatusCancelled),
			audit.Payment(oldPayment, newPayment),
		},
	})
	if b.PaymentIntentID != nil {
		status := string(payment.IntentCanceled)
		if oldPayment == model.BookingPaymentCaptured {
			status = string(payment.IntentSucceeded)
		}
		s.recordPaymentStatus(ctx, *b.PaymentIntentID, status, "booking.cancelled", b.ClientPaidCents, &b.ID, nil)
	}

	notice := notification.Notice{Event: notification.EventBookingCancelled, Booking: b, Reason: reason}
	s.notifyUser(ctx, b.CoachID, notice)
	notice.AmountCents = refund
	s.notifyUser(ctx, payer, notice)

	env := bookingEvent(events.BookingCancelled, b, actor)
	env.Data["refund_cents"] = refund
	s.publish(ctx, env)

	return b, nil
}

// refundByTier refunds the tier amount less whatever the processor already
// returned for this intent, so a retry after a failed store write never pays twice.
// It reports the total refunded.
func (s *BookingService) refundByTier(ctx context.Context, b *model.Booking, now time.Time) (int64, error) {
	intent, err := s.Gateway.GetIntent(ctx, *b.PaymentIntentID)
	if err != nil {
		return 0, s.gatewayFailed("retrieve", b.ID, err)
	}
	tier := pricing.RefundAmount(b.ClientPaidCents, b.HoursUntilStart(now))
	already := intent.AmountRefundedCents
	if already > 0 {
		s.Logger.Warn("Found an unrecorded refund on a captured booking",
			zap.String("booking_id", b.ID.String()),
			zap.String("intent_id", intent.ID),
			zap.Int64("refunded_cents", already),
			zap.Int64("tier_cents", tier),
		)
	}
	if tier <= already {
		return already, nil
	}

	key := fmt.Sprintf("refund-cancel-%s-%d", b.ID, tier-already)
	if _, err := s.Gateway.Refund(ctx, *b.PaymentIntentID, tier-already, key); err != nil {
		return 0, s.gatewayFailed("refund", b.ID, err)
	}
	return tier, nil
}

// CompleteBooking marks a paid session as delivered once it has ended.
func (s *BookingService) CompleteBooking(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Booking, error) {
	b, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsSystem() && (actor.Role != model.RoleCoach || b.CoachID != actor.UserID) {
		return nil, forbidden("Only the coach of this booking can complete it")
	}
	if b.Status != model.BookingStatusAccepted {
		return nil, conflict("Booking is %s, not accepted", b.Status)
	}
	if b.PaymentStatus != model.BookingPaymentCaptured && b.PaymentStatus != model.BookingPaymentNone {
		return nil, conflict("Booking payment is %s, not captured", b.PaymentStatus)
	}
	if s.clock().Before(b.EndAt) {
		return nil, conflict("Session has not ended yet")
	}

	if err := s.Bookings.Complete(ctx, b.ID); err != nil {
		return nil, s.storeFailed("complete booking", b.ID, err)
	}
	b.Status = model.BookingStatusCompleted

	s.Logger.Info("Booking completed", zap.String("booking_id", b.ID.String()))

	s.Audit.Transitions(ctx, audit.Entry{
		Actor:     actor,
		Kind:      b.Kind,
		BookingID: b.ID,
		Changes:   []audit.Change{audit.Status(model.BookingStatusAccepted, model.BookingStatusCompleted)},
	})
	if payer, ok := b.PayerID(); ok {
		s.notifyUser(ctx, payer, notification.Notice{Event: notification.EventBookingCompleted, Booking: b})
	}
	s.publish(ctx, bookingEvent(events.BookingCompleted, b, actor))

	return b, nil
}

// MarkPaymentAuthorized reconciles a booking after the client confirmed the hold.
// It is a no-op when the booking is no longer waiting for payment.
func (s *BookingService) MarkPaymentAuthorized(ctx context.Context, intentID string) error {
	b, err := s.Bookings.GetByPaymentIntentID(ctx, intentID)
	if err != nil {
		return err
	}
	if b == nil {
		return notFound("Booking")
	}
	if b.PaymentStatus != model.BookingPaymentAwaitingPayment || b.Status.Terminal() {
		return nil
	}

	intent, err := s.Gateway.GetIntent(ctx, intentID)
	if err != nil {
		return s.gatewayFailed("get intent", b.ID, err)
	}
	if !intent.Status.Capturable() {
		return gatewayError(&payment.InvalidStateError{Op: "authorize", IntentID: intentID, Status: intent.Status})
	}

	if err := s.Bookings.MarkAuthorized(ctx, b.ID); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil
		}
		return s.storeFailed("mark booking authorized", b.ID, err)
	}

	s.Logger.Info("Booking payment authorized",
		zap.String("booking_id", b.ID.String()),
		zap.String("intent_id", intentID),
	)
	s.Audit.Transitions(ctx, audit.Entry{
		Actor:     model.SystemActor("payment-webhook"),
		Kind:      b.Kind,
		BookingID: b.ID,
		Changes:   []audit.Change{audit.Payment(model.BookingPaymentAwaitingPayment, model.BookingPaymentAuthorized)},
	})
	s.recordIntent(ctx, intent, "payment_intent.amount_capturable_updated", &b.ID, nil)
	return nil
}

// LockForCheckout reserves the booking for actor while they complete payment.
func (s *BookingService) LockForCheckout(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Booking, error) {
	b, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return nil, conflict("Booking is %s", b.Status)
	}

	now := s.clock()
	until := now.Add(s.settings.CheckoutLockTTL)
	ok, err := s.Bookings.Lock(ctx, b.ID, actor.UserID, until, now)
	if err != nil {
		return nil, s.storeFailed("lock booking", b.ID, err)
	}
	if !ok {
		return nil, conflict("Someone else is checking out this session; try again in a few minutes")
	}

	b.LockedUntil = &until
	b.LockedBy = &actor.UserID
	return b, nil
}

func (s *BookingService) ReleaseLock(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	if err := s.Bookings.Unlock(ctx, id, actor.UserID); err != nil {
		return s.storeFailed("unlock booking", id, err)
	}
	return nil
}

func bookingEvent(key string, b *model.Booking, actor model.Actor) events.Envelope {
	env := events.NewEnvelope(key, b.ID, actor.Ref())
	env.Data = map[string]any{
		"kind":     b.Kind,
		"status":   b.Status,
		"coach_id": b.CoachID,
		"start_at": b.StartAt,
	}
	return env
}
