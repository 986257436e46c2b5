package service

import (
	"context"
	"errors"
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

// LessonService runs group lessons, where every participant pays on their own.
type LessonService struct {
	engine
}

func NewLessonService(d Deps, s Settings) *LessonService {
	return &LessonService{engine: newEngine(d, s)}
}

type CreateLessonInput struct {
	Title               string    `json:"title" validate:"required,max=120"`
	StartAt             time.Time `json:"start_at" validate:"required"`
	DurationMinutes     int       `json:"duration_minutes" validate:"required,min=15,max=480"`
	Location            string    `json:"location" validate:"required,max=200"`
	PricePerPersonCents int64     `json:"price_per_person_cents" validate:"required,min=100"`
	MinParticipants     int       `json:"min_participants" validate:"required,min=1"`
	MaxParticipants     int       `json:"max_participants" validate:"required,min=1,max=100,gtefield=MinParticipants"`
}

// CreatePublicLesson publishes an open lesson athletes can join.
func (s *LessonService) CreatePublicLesson(ctx context.Context, actor model.Actor, in CreateLessonInput) (*model.Booking, error) {
	if actor.Role != model.RoleCoach {
		return nil, forbidden("Only coaches can create lessons")
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	now := s.clock()
	if !in.StartAt.After(now.Add(s.settings.MinPaymentLead)) {
		return nil, invalid("Lessons must start at least %s from now", s.settings.MinPaymentLead)
	}
	if _, err := s.bookableCoach(ctx, actor.UserID); err != nil {
		return nil, err
	}

	b := &model.Booking{
		ID:              uuid.New(),
		CoachID:         actor.UserID,
		Kind:            model.BookingKindPublicGroup,
		Status:          model.BookingStatusAccepted,
		StartAt:         in.StartAt.UTC(),
		EndAt:           in.StartAt.UTC().Add(time.Duration(in.DurationMinutes) * time.Minute),
		DurationMinutes: in.DurationMinutes,
		Location:        in.Location,
		PaymentStatus:   model.BookingPaymentNone,
		CoachRateCents:  in.PricePerPersonCents,
		Details: &model.PublicGroupDetails{
			Title:               in.Title,
			PricePerPersonCents: in.PricePerPersonCents,
			MinParticipants:     in.MinParticipants,
			MaxParticipants:     in.MaxParticipants,
			CapacityStatus:      model.CapacityOpen,
		},
	}

	if err := s.Bookings.Create(ctx, b); err != nil {
		return nil, s.storeFailed("create lesson", b.ID, err)
	}

	s.Logger.Info("Public lesson created",
		zap.String("booking_id", b.ID.String()),
		zap.String("coach_id", b.CoachID.String()),
		zap.Int("max_participants", in.MaxParticipants),
	)

	s.Audit.Transitions(ctx, audit.Entry{
		Actor:     actor,
		Kind:      b.Kind,
		BookingID: b.ID,
		Changes: []audit.Change{
			audit.Status("", b.Status),
			audit.Capacity("", model.CapacityOpen),
		},
	})
	s.publish(ctx, bookingEvent(events.BookingCreated, b, actor))
	return b, nil
}

// ParticipantCheckout is what a joining athlete needs to confirm the hold.
type ParticipantCheckout struct {
	Participant  *model.Participant `json:"participant"`
	Pricing      pricing.Breakdown  `json:"pricing"`
	ClientSecret string             `json:"client_secret,omitempty"`
}

// JoinLesson takes a seat and opens a hold for the per-person price.
// The seat is reserved before the hold so concurrent joins cannot overfill the lesson.
func (s *LessonService) JoinLesson(ctx context.Context, actor model.Actor, lessonID uuid.UUID) (*ParticipantCheckout, error) {
	if actor.Role != model.RoleClient {
		return nil, forbidden("Only clients can join lessons")
	}
	b, err := s.loadBooking(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	lesson, ok := b.PublicGroup()
	if !ok {
		return nil, invalid("Booking is not a public lesson")
	}
	if b.Status != model.BookingStatusAccepted {
		return nil, conflict("Lesson is %s", b.Status)
	}
	if lesson.CapacityStatus != model.CapacityOpen || lesson.CapturedParticipants >= lesson.MaxParticipants {
		return nil, newError(ErrCapacity, "Lesson is not open for new participants")
	}
	now := s.clock()
	if !now.Before(b.StartAt) {
		return nil, conflict("Lesson has already started")
	}
	if b.IsLocked(now, actor.UserID) {
		return nil, conflict("Someone else is checking out this lesson; try again in a few minutes")
	}

	existing, err := s.Participants.GetByBookingAndUser(ctx, b.ID, actor.UserID)
	if err != nil {
		return nil, s.storeFailed("find participant", b.ID, err)
	}
	if existing != nil {
		if existing.HoldsSeat() {
			return nil, conflict("You have already joined this lesson")
		}
		return nil, conflict("You cannot rejoin this lesson")
	}

	coach, err := s.bookableCoach(ctx, b.CoachID)
	if err != nil {
		return nil, err
	}
	price, err := pricing.FromBase(lesson.PricePerPersonCents, s.settings.PlatformFeePercent)
	if err != nil {
		return nil, invalid("Cannot price lesson: %v", err)
	}

	reserved, err := s.Bookings.ReserveSeat(ctx, b.ID)
	if err != nil {
		return nil, s.storeFailed("reserve seat", b.ID, err)
	}
	if !reserved {
		return nil, newError(ErrCapacity, "Lesson is full")
	}

	p := &model.Participant{
		ID:            uuid.New(),
		BookingID:     b.ID,
		UserID:        actor.UserID,
		Status:        model.ParticipantAwaitingCoach,
		PaymentStatus: model.ParticipantPaymentPending,
		AmountCents:   price.ClientPaysCents,
	}
	expires := earliest(now.Add(s.settings.HoldDuration), b.StartAt)
	p.ExpiresAt = &expires

	intent, err := s.Gateway.CreateAuthorization(ctx, payment.AuthorizationRequest{
		AmountCents:         price.ClientPaysCents,
		Currency:            s.settings.Currency,
		DestinationAccount:  *coach.Coach.PayoutAccountID,
		ApplicationFeeCents: price.ApplicationFeeCents(),
		IdempotencyKey:      "participant-" + p.ID.String(),
		Metadata: map[string]string{
			"booking_id":     b.ID.String(),
			"booking_type":   string(b.Kind),
			"participant_id": p.ID.String(),
			"coach_id":       coach.ID.String(),
			"client_id":      actor.UserID.String(),
		},
	})
	if err != nil {
		s.giveSeatBack(ctx, b.ID, repository.SeatRelease{})
		return nil, s.gatewayFailed("create authorization", b.ID, err)
	}
	p.PaymentIntentID = &intent.ID
	if intent.Status.Capturable() {
		p.PaymentStatus = model.ParticipantPaymentAuthorized
	}

	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Participants.Create(ctx, p); err != nil {
			return err
		}
		if p.PaymentStatus == model.ParticipantPaymentAuthorized {
			return s.Bookings.AddAuthorized(ctx, b.ID)
		}
		return nil
	})
	if err != nil {
		if relErr := s.releaseHold(ctx, "join rollback", intent.ID); relErr != nil {
			s.Logger.Error("Failed to release hold of unsaved participant",
				zap.String("intent_id", intent.ID),
				zap.Error(relErr),
			)
		}
		s.giveSeatBack(ctx, b.ID, repository.SeatRelease{})
		return nil, s.storeFailed("create participant", b.ID, err)
	}

	s.Logger.Info("Participant joined lesson",
		zap.String("booking_id", b.ID.String()),
		zap.String("participant_id", p.ID.String()),
		zap.String("user_id", actor.UserID.String()),
	)

	s.Audit.Transitions(ctx, audit.Entry{
		Actor:         actor,
		Kind:          b.Kind,
		BookingID:     b.ID,
		ParticipantID: &p.ID,
		Changes: []audit.Change{
			audit.Status("", p.Status),
			audit.Payment("", p.PaymentStatus),
		},
	})
	s.recordIntent(ctx, intent, "payment_intent.created", &b.ID, &p.ID)
	s.notify(ctx, notification.Notice{Event: notification.EventParticipantJoined, To: coach, Booking: b})
	s.publish(ctx, participantEvent(events.ParticipantJoined, b, p, actor))

	return &ParticipantCheckout{Participant: p, Pricing: price, ClientSecret: intent.ClientSecret}, nil
}

// AcceptParticipant captures the participant's hold and counts the seat as paid.
// The intent must be requires_capture; any other status is reported, never guessed at.
func (s *LessonService) AcceptParticipant(ctx context.Context, actor model.Actor, participantID uuid.UUID) (*model.Participant, error) {
	p, b, err := s.loadForCoach(ctx, actor, participantID)
	if err != nil {
		return nil, err
	}
	lesson, _ := b.PublicGroup()
	if p.Status != model.ParticipantAwaitingCoach {
		return nil, conflict("Participant is %s, not awaiting the coach", p.Status)
	}
	if p.PaymentIntentID == nil {
		return nil, conflict("Participant has no payment to capture")
	}
	if b.Status != model.BookingStatusAccepted {
		return nil, conflict("Lesson is %s", b.Status)
	}
	if lesson.CapturedParticipants >= lesson.MaxParticipants {
		return nil, newError(ErrCapacity, "Lesson is already full")
	}

	// Capture reads the intent back and refuses anything but requires_capture.
	intent, err := s.Gateway.Capture(ctx, *p.PaymentIntentID)
	if err != nil {
		return nil, s.gatewayFailed("capture", p.ID, err)
	}

	capturedAt := s.clock()
	var capacity model.CapacityStatus
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		prior, err := s.Participants.Accept(ctx, p.ID, capturedAt)
		if err != nil {
			return err
		}
		capacity, err = s.Bookings.RecordCapture(ctx, b.ID, prior == model.ParticipantPaymentAuthorized)
		return err
	})
	if err != nil {
		return nil, s.moneyMovedButNotRecorded("accept participant", intent.ID, p.ID, err)
	}

	oldStatus, oldPayment := p.Status, p.PaymentStatus
	p.Status = model.ParticipantAccepted
	p.PaymentStatus = model.ParticipantPaymentCaptured
	p.CapturedAt = &capturedAt

	s.Logger.Info("Participant accepted",
		zap.String("booking_id", b.ID.String()),
		zap.String("participant_id", p.ID.String()),
		zap.String("capacity_status", string(capacity)),
	)

	s.Audit.Transitions(ctx, audit.Entry{
		Actor:         actor,
		Kind:          b.Kind,
		BookingID:     b.ID,
		ParticipantID: &p.ID,
		Changes: []audit.Change{
			audit.Payment(oldPayment, p.PaymentStatus),
			audit.Status(oldStatus, p.Status),
		},
	})
	if capacity != lesson.CapacityStatus {
		s.Audit.Transitions(ctx, audit.Entry{
			Actor:     actor,
			Kind:      b.Kind,
			BookingID: b.ID,
			Changes:   []audit.Change{audit.Capacity(lesson.CapacityStatus, capacity)},
		})
	}
	s.recordIntent(ctx, intent, "payment_intent.captured", &b.ID, &p.ID)
	s.notifyUser(ctx, p.UserID, notification.Notice{
		Event:       notification.EventParticipantAccepted,
		Booking:     b,
		AmountCents: p.AmountCents,
	})
	s.publish(ctx, participantEvent(events.ParticipantAccepted, b, p, actor))

	return p, nil
}

// DeclineParticipant releases an uncaptured hold. A participant whose payment
// already went through is refused with ErrMustRefund and nothing changes.
func (s *LessonService) DeclineParticipant(ctx context.Context, actor model.Actor, participantID uuid.UUID, reason string) (*model.Participant, error) {
	p, b, err := s.loadForCoach(ctx, actor, participantID)
	if err != nil {
		return nil, err
	}
	if p.PaymentStatus == model.ParticipantPaymentCaptured {
		return nil, mustRefund()
	}
	if p.Status != model.ParticipantAwaitingCoach {
		return nil, conflict("Participant is %s, not awaiting the coach", p.Status)
	}

	if p.PaymentIntentID != nil {
		if err := s.releaseHold(ctx, "decline participant", *p.PaymentIntentID); err != nil {
			return nil, err
		}
	}

	now := s.clock()
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		prior, err := s.Participants.Decline(ctx, p.ID, now)
		if err != nil {
			return err
		}
		return s.Bookings.ReleaseSeat(ctx, b.ID, seatHeldAs(prior))
	})
	if err != nil {
		return nil, s.storeFailed("decline participant", p.ID, err)
	}

	oldStatus, oldPayment := p.Status, p.PaymentStatus
	p.Status = model.ParticipantDeclined
	p.PaymentStatus = model.ParticipantPaymentCancelled
	p.CancelledAt = &now

	s.Logger.Info("Participant declined",
		zap.String("booking_id", b.ID.String()),
		zap.String("participant_id", p.ID.String()),
	)

	s.Audit.Transitions(ctx, audit.Entry{
		Actor:         actor,
		Kind:          b.Kind,
		BookingID:     b.ID,
		ParticipantID: &p.ID,
		Reason:        strPtr(reason),
		Changes: []audit.Change{
			audit.Payment(oldPayment, p.PaymentStatus),
			audit.Status(oldStatus, p.Status),
		},
	})
	if p.PaymentIntentID != nil {
		s.recordPaymentStatus(ctx, *p.PaymentIntentID, string(payment.IntentCanceled), "payment_intent.canceled", p.AmountCents, &b.ID, &p.ID)
	}
	s.notifyUser(ctx, p.UserID, notification.Notice{
		Event:   notification.EventParticipantDeclined,
		Booking: b,
		Reason:  reason,
	})
	s.publish(ctx, participantEvent(events.ParticipantDeclined, b, p, actor))

	return p, nil
}

// LeaveLesson gives the actor's seat back before the lesson starts.
// A captured payment is refunded in full.
func (s *LessonService) LeaveLesson(ctx context.Context, actor model.Actor, lessonID uuid.UUID) error {
	b, err := s.loadBooking(ctx, lessonID)
	if err != nil {
		return err
	}
	lesson, ok := b.PublicGroup()
	if !ok {
		return invalid("Booking is not a public lesson")
	}
	p, err := s.Participants.GetByBookingAndUser(ctx, b.ID, actor.UserID)
	if err != nil {
		return s.storeFailed("find participant", b.ID, err)
	}
	if p == nil || !p.HoldsSeat() {
		return notFound("Participation")
	}
	if !s.clock().Before(b.StartAt) {
		return conflict("Lesson has already started")
	}

	captured := p.PaymentStatus == model.ParticipantPaymentCaptured
	newPayment := model.ParticipantPaymentCancelled
	if p.PaymentIntentID != nil {
		if captured {
			if _, err := s.Gateway.Refund(ctx, *p.PaymentIntentID, 0, "refund-participant-"+p.ID.String()); err != nil {
				return s.gatewayFailed("refund", p.ID, err)
			}
			newPayment = model.ParticipantPaymentRefunded
		} else if err := s.releaseHold(ctx, "leave lesson", *p.PaymentIntentID); err != nil {
			return err
		}
	}

	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		prior, err := s.Participants.Delete(ctx, p.ID)
		if err != nil {
			return err
		}
		return s.Bookings.ReleaseSeat(ctx, b.ID, seatHeldAs(prior))
	})
	if err != nil {
		if captured {
			return s.moneyMovedButNotRecorded("leave lesson", *p.PaymentIntentID, p.ID, err)
		}
		return s.storeFailed("leave lesson", p.ID, err)
	}

	s.Logger.Info("Participant left lesson",
		zap.String("booking_id", b.ID.String()),
		zap.String("participant_id", p.ID.String()),
		zap.Bool("refunded", captured),
	)

	reason := "left the lesson"
	s.Audit.Transitions(ctx, audit.Entry{
		Actor:         actor,
		Kind:          b.Kind,
		BookingID:     b.ID,
		ParticipantID: &p.ID,
		Reason:        &reason,
		Changes: []audit.Change{
			audit.Payment(p.PaymentStatus, newPayment),
			audit.Status(p.Status, model.ParticipantCancelled),
		},
	})
	if lesson.CapacityStatus == model.CapacityFull {
		s.Audit.Transitions(ctx, audit.Entry{
			Actor:     actor,
			Kind:      b.Kind,
			BookingID: b.ID,
			Changes:   []audit.Change{audit.Capacity(model.CapacityFull, model.CapacityOpen)},
		})
	}
	if p.PaymentIntentID != nil {
		status := string(payment.IntentCanceled)
		if captured {
			status = string(payment.IntentSucceeded)
		}
		s.recordPaymentStatus(ctx, *p.PaymentIntentID, status, "participant.left", p.AmountCents, &b.ID, &p.ID)
	}
	s.publish(ctx, participantEvent(events.ParticipantLeft, b, p, actor))
	return nil
}

// ParticipantFailure is a participant CancelLesson could not settle.
type ParticipantFailure struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Reason        string    `json:"reason"`
}

type LessonCancellation struct {
	Booking     *model.Booking       `json:"booking"`
	Settled     []uuid.UUID          `json:"settled"`
	Failed      []ParticipantFailure `json:"failed,omitempty"`
	RefundCents int64                `json:"refund_cents"`
}

// CancelLesson is the coach calling off a group booking. Every participant is
// refunded or released on their own and a failure does not stop the others.
// Calling it again on a cancelled lesson retries the participants left behind.
func (s *LessonService) CancelLesson(ctx context.Context, actor model.Actor, lessonID uuid.UUID, reason string) (*LessonCancellation, error) {
	b, err := s.loadBooking(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if actor.Role != model.RoleCoach || b.CoachID != actor.UserID {
		return nil, forbidden("Only the coach of this lesson can cancel it")
	}
	if b.Kind == model.BookingKindIndividual {
		return nil, conflict("Individual sessions are cancelled as bookings")
	}
	if b.Status == model.BookingStatusCompleted || b.Status == model.BookingStatusDeclined {
		return nil, conflict("Lesson is %s and cannot be cancelled", b.Status)
	}

	// Closed first so no seat is taken while the others are being settled.
	// ReleaseSeat only reopens a full lesson, so closed sticks.
	if lesson, ok := b.PublicGroup(); ok && lesson.CapacityStatus != model.CapacityClosed {
		if err := s.Bookings.CloseLesson(ctx, b.ID); err != nil {
			return nil, s.storeFailed("close lesson", b.ID, err)
		}
	}

	participants, err := s.Participants.ListByBooking(ctx, b.ID)
	if err != nil {
		return nil, s.storeFailed("list participants", b.ID, err)
	}

	out := &LessonCancellation{Booking: b}
	now := s.clock()
	for _, p := range participants {
		if !p.HoldsSeat() {
			continue
		}
		refunded, err := s.settleParticipant(ctx, actor, b, p, now, reason)
		if err != nil {
			s.Logger.Warn("Failed to settle participant of cancelled lesson",
				zap.String("booking_id", b.ID.String()),
				zap.String("participant_id", p.ID.String()),
				zap.Error(err),
			)
			out.Failed = append(out.Failed, ParticipantFailure{ParticipantID: p.ID, Reason: NewResult(nil, err).Error})
			continue
		}
		out.Settled = append(out.Settled, p.ID)
		out.RefundCents += refunded
	}

	if b.Status == model.BookingStatusCancelled {
		s.Logger.Info("Retried settlement of cancelled lesson",
			zap.String("booking_id", b.ID.String()),
			zap.Int("settled", len(out.Settled)),
			zap.Int("failed", len(out.Failed)),
		)
		return out, nil
	}

	newPayment := b.PaymentStatus
	var primaryRefund int64
	if b.PaymentIntentID != nil {
		switch b.PaymentStatus {
		case model.BookingPaymentCaptured:
			if _, err := s.Gateway.Refund(ctx, *b.PaymentIntentID, 0, "refund-lesson-"+b.ID.String()); err != nil {
				return out, s.gatewayFailed("refund", b.ID, err)
			}
			primaryRefund = b.ClientPaidCents
			newPayment = model.BookingPaymentRefunded
		case model.BookingPaymentAuthorized, model.BookingPaymentAwaitingPayment:
			if err := s.releaseHold(ctx, "cancel lesson", *b.PaymentIntentID); err != nil {
				return out, err
			}
			newPayment = model.BookingPaymentCancelled
		}
	} else if out.RefundCents > 0 {
		newPayment = model.BookingPaymentRefunded
	}
	out.RefundCents += primaryRefund

	err = s.Bookings.Cancel(ctx, b.ID, repository.CancelBooking{
		PaymentStatus: newPayment,
		CancelledBy:   actor.Ref(),
		CancelledAt:   now,
		Reason:        strPtr(reason),
		RefundCents:   out.RefundCents,
		From:          []model.BookingStatus{model.BookingStatusPending, model.BookingStatusAccepted},
	})
	if err != nil {
		if primaryRefund > 0 {
			return out, s.moneyMovedButNotRecorded("cancel lesson", *b.PaymentIntentID, b.ID, err)
		}
		return out, s.storeFailed("cancel lesson", b.ID, err)
	}

	oldStatus, oldPayment := b.Status, b.PaymentStatus
	b.Status = model.BookingStatusCancelled
	b.PaymentStatus = newPayment
	b.CancelledBy = actor.Ref()
	b.CancelledAt = &now
	b.CancellationReason = strPtr(reason)
	b.RefundAmountCents = &out.RefundCents

	changes := []audit.Change{
		audit.Status(oldStatus, b.Status),
		audit.Payment(oldPayment, newPayment),
	}
	if lesson, ok := b.PublicGroup(); ok && lesson.CapacityStatus != model.CapacityClosed {
		changes = append(changes, audit.Capacity(lesson.CapacityStatus, model.CapacityClosed))
		lesson.CapacityStatus = model.CapacityClosed
	}

	s.Logger.Info("Lesson cancelled",
		zap.String("booking_id", b.ID.String()),
		zap.Int("settled", len(out.Settled)),
		zap.Int("failed", len(out.Failed)),
		zap.Int64("refund_cents", out.RefundCents),
	)

	s.Audit.Transitions(ctx, audit.Entry{
		Actor:     actor,
		Kind:      b.Kind,
		BookingID: b.ID,
		Reason:    b.CancellationReason,
		Changes:   changes,
	})
	if payer, ok := b.PayerID(); ok {
		s.notifyUser(ctx, payer, notification.Notice{
			Event:       notification.EventLessonCancelled,
			Booking:     b,
			AmountCents: primaryRefund,
			Reason:      reason,
		})
	}
	env := bookingEvent(events.LessonCancelled, b, actor)
	env.Data["refund_cents"] = out.RefundCents
	env.Data["failed_participants"] = len(out.Failed)
	s.publish(ctx, env)

	return out, nil
}

// settleParticipant refunds or releases one participant of a cancelled lesson
// and returns the refunded amount.
func (s *LessonService) settleParticipant(ctx context.Context, actor model.Actor, b *model.Booking, p *model.Participant, now time.Time, reason string) (int64, error) {
	var refunded int64
	newPayment := model.ParticipantPaymentCancelled

	if p.PaymentIntentID != nil {
		captured := p.PaymentStatus == model.ParticipantPaymentCaptured
		if !captured {
			err := s.releaseHold(ctx, "cancel lesson", *p.PaymentIntentID)
			if errors.Is(err, ErrMustRefund) {
				captured = true
			} else if err != nil {
				return 0, err
			}
		}
		if captured {
			if _, err := s.Gateway.Refund(ctx, *p.PaymentIntentID, 0, "refund-participant-"+p.ID.String()); err != nil {
				return 0, s.gatewayFailed("refund", p.ID, err)
			}
			refunded = p.AmountCents
			newPayment = model.ParticipantPaymentRefunded
		}
	}

	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		prior, err := s.Participants.Cancel(ctx, p.ID, newPayment, now,
			model.ParticipantAwaitingCoach, model.ParticipantAccepted)
		if err != nil {
			return err
		}
		return s.Bookings.ReleaseSeat(ctx, b.ID, seatHeldAs(prior))
	})
	if err != nil {
		if refunded > 0 {
			return 0, s.moneyMovedButNotRecorded("cancel participant", *p.PaymentIntentID, p.ID, err)
		}
		return 0, s.storeFailed("cancel participant", p.ID, err)
	}

	s.Audit.Transitions(ctx, audit.Entry{
		Actor:         actor,
		Kind:          b.Kind,
		BookingID:     b.ID,
		ParticipantID: &p.ID,
		Reason:        strPtr(reason),
		Changes: []audit.Change{
			audit.Payment(p.PaymentStatus, newPayment),
			audit.Status(p.Status, model.ParticipantCancelled),
		},
	})
	s.notifyUser(ctx, p.UserID, notification.Notice{
		Event:       notification.EventLessonCancelled,
		Booking:     b,
		AmountCents: refunded,
		Reason:      reason,
	})
	return refunded, nil
}

// MarkParticipantAuthorized reconciles a participant after they confirmed the hold.
func (s *LessonService) MarkParticipantAuthorized(ctx context.Context, intentID string) error {
	p, err := s.Participants.GetByPaymentIntentID(ctx, intentID)
	if err != nil {
		return err
	}
	if p == nil {
		return notFound("Participant")
	}
	if p.PaymentStatus != model.ParticipantPaymentPending || p.Status != model.ParticipantAwaitingCoach {
		return nil
	}

	intent, err := s.Gateway.GetIntent(ctx, intentID)
	if err != nil {
		return s.gatewayFailed("get intent", p.ID, err)
	}
	if !intent.Status.Capturable() {
		return gatewayError(&payment.InvalidStateError{Op: "authorize", IntentID: intentID, Status: intent.Status})
	}

	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Participants.MarkAuthorized(ctx, p.ID); err != nil {
			return err
		}
		return s.Bookings.AddAuthorized(ctx, p.BookingID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil
		}
		return s.storeFailed("mark participant authorized", p.ID, err)
	}

	s.Logger.Info("Participant payment authorized",
		zap.String("participant_id", p.ID.String()),
		zap.String("intent_id", intentID),
	)
	s.Audit.Transitions(ctx, audit.Entry{
		Actor:         model.SystemActor("payment-webhook"),
		Kind:          model.BookingKindPublicGroup,
		BookingID:     p.BookingID,
		ParticipantID: &p.ID,
		Changes:       []audit.Change{audit.Payment(model.ParticipantPaymentPending, model.ParticipantPaymentAuthorized)},
	})
	s.recordIntent(ctx, intent, "payment_intent.amount_capturable_updated", &p.BookingID, &p.ID)
	return nil
}

// loadForCoach loads a participant and its lesson and checks the actor coaches it.
func (s *LessonService) loadForCoach(ctx context.Context, actor model.Actor, participantID uuid.UUID) (*model.Participant, *model.Booking, error) {
	p, err := s.loadParticipant(ctx, participantID)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.loadBooking(ctx, p.BookingID)
	if err != nil {
		return nil, nil, err
	}
	if actor.Role != model.RoleCoach || b.CoachID != actor.UserID {
		return nil, nil, forbidden("Only the coach of this lesson can manage its participants")
	}
	if _, ok := b.PublicGroup(); !ok {
		return nil, nil, invalid("Booking is not a public lesson")
	}
	return p, b, nil
}

func (s *LessonService) giveSeatBack(ctx context.Context, bookingID uuid.UUID, r repository.SeatRelease) {
	if err := s.Bookings.ReleaseSeat(ctx, bookingID, r); err != nil {
		s.Logger.Error("Failed to release reserved seat",
			zap.String("booking_id", bookingID.String()),
			zap.Error(err),
		)
	}
}

func participantEvent(key string, b *model.Booking, p *model.Participant, actor model.Actor) events.Envelope {
	env := events.NewEnvelope(key, b.ID, actor.Ref())
	env.ParticipantID = &p.ID
	env.Data = map[string]any{
		"user_id":        p.UserID,
		"status":         p.Status,
		"payment_status": p.PaymentStatus,
	}
	return env
}
