package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/payment"
)

const eventCapturableUpdated = "payment_intent.amount_capturable_updated"

// WebhookService applies verified processor events. Every event only records
// or reconciles state, so redelivered events are harmless.
type WebhookService struct {
	engine
	bookings *BookingService
	lessons  *LessonService
}

func NewWebhookService(d Deps, s Settings, bookings *BookingService, lessons *LessonService) *WebhookService {
	return &WebhookService{engine: newEngine(d, s), bookings: bookings, lessons: lessons}
}

func (s *WebhookService) Handle(ctx context.Context, ev *payment.WebhookEvent) error {
	switch {
	case ev.IsIntentEvent():
		return s.handleIntent(ctx, ev)
	case ev.IsDispute():
		return s.handleDispute(ctx, ev)
	}
	s.Logger.Debug("Ignoring webhook event", zap.String("event_id", ev.ID), zap.String("type", ev.Type))
	return nil
}

func (s *WebhookService) handleIntent(ctx context.Context, ev *payment.WebhookEvent) error {
	bookingID, participantID, err := s.owner(ctx, ev.Intent.ID)
	if err != nil {
		return err
	}
	if bookingID == nil {
		s.Logger.Warn("Webhook for unknown payment intent",
			zap.String("event_id", ev.ID),
			zap.String("intent_id", ev.Intent.ID),
		)
	}
	s.recordIntent(ctx, ev.Intent, ev.Type, bookingID, participantID)

	if ev.Type != eventCapturableUpdated || !ev.Intent.Status.Capturable() || bookingID == nil {
		return nil
	}

	if participantID != nil {
		err = s.lessons.MarkParticipantAuthorized(ctx, ev.Intent.ID)
	} else {
		err = s.bookings.MarkPaymentAuthorized(ctx, ev.Intent.ID)
	}
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *WebhookService) handleDispute(ctx context.Context, ev *payment.WebhookEvent) error {
	if ev.DisputedIntentID == "" {
		return nil
	}
	bookingID, participantID, err := s.owner(ctx, ev.DisputedIntentID)
	if err != nil {
		return err
	}

	s.Logger.Warn("Payment disputed",
		zap.String("event_id", ev.ID),
		zap.String("intent_id", ev.DisputedIntentID),
		zap.String("dispute_status", ev.DisputeStatus),
	)
	s.Audit.PaymentEvent(ctx, &model.PaymentRecord{
		PaymentIntentID: ev.DisputedIntentID,
		BookingID:       bookingID,
		ParticipantID:   participantID,
		Status:          "disputed:" + ev.DisputeStatus,
		LastEventType:   ev.Type,
		LastEventAt:     ev.Created,
	})
	return nil
}

// owner finds the booking, and for lesson seats the participant, paid by intentID.
func (s *WebhookService) owner(ctx context.Context, intentID string) (*uuid.UUID, *uuid.UUID, error) {
	b, err := s.Bookings.GetByPaymentIntentID(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	if b != nil {
		return &b.ID, nil, nil
	}

	p, err := s.Participants.GetByPaymentIntentID(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	if p != nil {
		return &p.BookingID, &p.ID, nil
	}
	return nil, nil, nil
}
