package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/audit"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/payment"
)

// AdminService performs privileged actions. Each one lands in admin_actions.
type AdminService struct {
	users    UserStore
	bookings BookingStore
	gateway  payment.Gateway
	audit    Auditor
	history  HistoryReader
	logger   *zap.Logger
	now      func() time.Time
}

// HistoryReader reads the transition trail of a booking.
type HistoryReader interface {
	ListTransitions(ctx context.Context, bookingID uuid.UUID) ([]model.StateTransition, error)
}

func NewAdminService(users UserStore, bookings BookingStore, gateway payment.Gateway, auditor Auditor, history HistoryReader, logger *zap.Logger) *AdminService {
	return &AdminService{
		users:    users,
		bookings: bookings,
		gateway:  gateway,
		audit:    auditor,
		history:  history,
		logger:   logger,
		now:      time.Now,
	}
}

// BookingHistory returns every recorded transition of a booking, oldest first.
func (s *AdminService) BookingHistory(ctx context.Context, actor model.Actor, bookingID uuid.UUID) ([]model.StateTransition, error) {
	if actor.Role != model.RoleAdmin {
		return nil, forbidden("Admin role required")
	}
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, notFound("Booking")
	}
	transitions, err := s.history.ListTransitions(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return transitions, nil
}

func (s *AdminService) ApproveCoach(ctx context.Context, actor model.Actor, coachID uuid.UUID, notes string) error {
	return s.setApproval(ctx, actor, coachID, model.CoachApprovalApproved, model.AdminApproveCoach, notes)
}

func (s *AdminService) RejectCoach(ctx context.Context, actor model.Actor, coachID uuid.UUID, notes string) error {
	return s.setApproval(ctx, actor, coachID, model.CoachApprovalRejected, model.AdminRejectCoach, notes)
}

func (s *AdminService) setApproval(ctx context.Context, actor model.Actor, coachID uuid.UUID, approval model.CoachApproval, action model.AdminActionType, notes string) error {
	if actor.Role != model.RoleAdmin {
		return forbidden("Admin role required")
	}
	coach, err := s.users.GetByID(ctx, coachID)
	if err != nil {
		return err
	}
	if coach == nil || coach.Coach == nil {
		return notFound("Coach")
	}

	if err := s.users.SetCoachApproval(ctx, coachID, approval); err != nil {
		return storeError(err)
	}

	s.logger.Info("Coach approval changed",
		zap.String("coach_id", coachID.String()),
		zap.String("approval", string(approval)),
		zap.String("admin_id", actor.UserID.String()),
	)
	s.record(ctx, actor, action, "user", coachID, notes)
	return nil
}

func (s *AdminService) SuspendUser(ctx context.Context, actor model.Actor, userID uuid.UUID, notes string) error {
	if actor.Role != model.RoleAdmin {
		return forbidden("Admin role required")
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u == nil {
		return notFound("User")
	}
	if u.Role == model.RoleAdmin {
		return forbidden("Admins cannot be suspended")
	}
	if u.Suspended {
		return conflict("User is already suspended")
	}

	if err := s.users.SetSuspended(ctx, userID, true); err != nil {
		return storeError(err)
	}

	s.logger.Info("User suspended",
		zap.String("user_id", userID.String()),
		zap.String("admin_id", actor.UserID.String()),
	)
	s.record(ctx, actor, model.AdminSuspendUser, "user", userID, notes)
	return nil
}

// RefundPayment refunds amountCents of a booking's captured payment; zero
// refunds whatever has not been refunded yet.
func (s *AdminService) RefundPayment(ctx context.Context, actor model.Actor, bookingID uuid.UUID, amountCents int64, notes string) (*model.Booking, error) {
	if actor.Role != model.RoleAdmin {
		return nil, forbidden("Admin role required")
	}
	if amountCents < 0 {
		return nil, invalid("amount_cents must not be negative")
	}
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, notFound("Booking")
	}
	if b.PaymentIntentID == nil ||
		(b.PaymentStatus != model.BookingPaymentCaptured && b.PaymentStatus != model.BookingPaymentRefunded) {
		return nil, conflict("Booking has no captured payment to refund")
	}

	var refunded int64
	if b.RefundAmountCents != nil {
		refunded = *b.RefundAmountCents
	}
	remaining := b.ClientPaidCents - refunded
	if remaining <= 0 {
		return nil, conflict("Booking payment is already fully refunded")
	}
	if amountCents == 0 {
		amountCents = remaining
	}
	if amountCents > remaining {
		return nil, invalid("Refund exceeds the remaining %d cents", remaining)
	}

	// Keyed on the recorded total so a retry after a failed RecordRefund replays.
	key := fmt.Sprintf("refund-admin-%s-%d-%d", b.ID, refunded, amountCents)
	if _, err := s.gateway.Refund(ctx, *b.PaymentIntentID, amountCents, key); err != nil {
		s.logger.Error("Admin refund failed",
			zap.String("booking_id", b.ID.String()),
			zap.String("intent_id", *b.PaymentIntentID),
			zap.Error(err),
		)
		return nil, gatewayError(err)
	}

	if err := s.bookings.RecordRefund(ctx, b.ID, amountCents); err != nil {
		s.logger.Error("Refund issued but not recorded; manual reconciliation required",
			zap.String("booking_id", b.ID.String()),
			zap.Int64("amount_cents", amountCents),
			zap.Error(err),
		)
		return nil, storeError(err)
	}

	oldPayment := b.PaymentStatus
	total := refunded + amountCents
	b.PaymentStatus = model.BookingPaymentRefunded
	b.RefundAmountCents = &total

	s.logger.Info("Admin refund issued",
		zap.String("booking_id", b.ID.String()),
		zap.Int64("amount_cents", amountCents),
		zap.String("admin_id", actor.UserID.String()),
	)

	s.audit.Transitions(ctx, audit.Entry{
		Actor:     actor,
		Kind:      b.Kind,
		BookingID: b.ID,
		Reason:    strPtr(notes),
		Changes:   []audit.Change{audit.Payment(oldPayment, b.PaymentStatus)},
	})
	s.record(ctx, actor, model.AdminRefundPayment, "booking", b.ID, notes)
	return b, nil
}

func (s *AdminService) record(ctx context.Context, actor model.Actor, action model.AdminActionType, targetType string, targetID uuid.UUID, notes string) {
	s.audit.AdminAction(ctx, &model.AdminAction{
		ID:         uuid.New(),
		AdminID:    actor.UserID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Notes:      strPtr(notes),
		CreatedAt:  s.now().UTC(),
	})
}
