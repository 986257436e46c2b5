package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/payment"
)

var admin = model.Actor{UserID: uuid.New(), Role: model.RoleAdmin}

func (h *harness) adminService() *AdminService {
	s := NewAdminService(h.users, h.bookings, h.gateway, h.audit, h.history, zap.NewNop())
	s.now = h.clock()
	return s
}

func TestAdminService_RequiresAdmin(t *testing.T) {
	h := newHarness()
	svc := h.adminService()
	coach := model.Actor{UserID: uuid.New(), Role: model.RoleCoach}

	assert.ErrorIs(t, svc.ApproveCoach(context.Background(), coach, uuid.New(), ""), ErrForbidden)
	assert.ErrorIs(t, svc.SuspendUser(context.Background(), coach, uuid.New(), ""), ErrForbidden)
	_, err := svc.RefundPayment(context.Background(), coach, uuid.New(), 0, "")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, h.audit.actions)
}

func TestAdminService_ApproveCoach(t *testing.T) {
	h := newHarness()
	coach := approvedCoach()
	coach.Coach.Approval = model.CoachApprovalPending

	h.users.On("GetByID", mock.Anything, coach.ID).Return(coach, nil)
	h.users.On("SetCoachApproval", mock.Anything, coach.ID, model.CoachApprovalApproved).Return(nil)

	err := h.adminService().ApproveCoach(context.Background(), admin, coach.ID, "Verified certificates")

	require.NoError(t, err)
	require.Len(t, h.audit.actions, 1)
	assert.Equal(t, model.AdminApproveCoach, h.audit.actions[0].Action)
	assert.Equal(t, coach.ID, h.audit.actions[0].TargetID)
	h.assertExpectations(t)
}

func TestAdminService_SuspendUser(t *testing.T) {
	tests := []struct {
		name    string
		user    *model.User
		wantErr error
	}{
		{"suspends a client", &model.User{ID: uuid.New(), Role: model.RoleClient}, nil},
		{"admins are protected", &model.User{ID: uuid.New(), Role: model.RoleAdmin}, ErrForbidden},
		{"already suspended", &model.User{ID: uuid.New(), Role: model.RoleClient, Suspended: true}, ErrStateConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.users.On("GetByID", mock.Anything, tt.user.ID).Return(tt.user, nil)
			if tt.wantErr == nil {
				h.users.On("SetSuspended", mock.Anything, tt.user.ID, true).Return(nil)
			}

			err := h.adminService().SuspendUser(context.Background(), admin, tt.user.ID, "")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				h.users.AssertNotCalled(t, "SetSuspended", mock.Anything, mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Len(t, h.audit.actions, 1)
			h.assertExpectations(t)
		})
	}
}

func TestAdminService_RefundPayment(t *testing.T) {
	h := newHarness()
	b := individualBooking(uuid.New(), uuid.New(), h.now.Add(-48*time.Hour))
	b.Status = model.BookingStatusCompleted
	b.PaymentStatus = model.BookingPaymentCaptured
	already := int64(1000)
	b.RefundAmountCents = &already

	h.bookings.On("GetByID", mock.Anything, b.ID).Return(b, nil)
	h.gateway.On("Refund", mock.Anything, "pi_test", int64(5900), fmt.Sprintf("refund-admin-%s-1000-5900", b.ID)).
		Return(&payment.Refund{ID: "re_2", AmountCents: 5900, Status: "succeeded"}, nil)
	h.bookings.On("RecordRefund", mock.Anything, b.ID, int64(5900)).Return(nil)

	got, err := h.adminService().RefundPayment(context.Background(), admin, b.ID, 0, "Coach no-show")

	require.NoError(t, err)
	assert.Equal(t, model.BookingPaymentRefunded, got.PaymentStatus)
	require.NotNil(t, got.RefundAmountCents)
	assert.Equal(t, int64(6900), *got.RefundAmountCents)
	require.Len(t, h.audit.actions, 1)
	assert.Equal(t, model.AdminRefundPayment, h.audit.actions[0].Action)
	h.assertExpectations(t)
}

func TestAdminService_RefundRetryReusesIdempotencyKey(t *testing.T) {
	h := newHarness()
	b := individualBooking(uuid.New(), uuid.New(), h.now.Add(-48*time.Hour))
	b.Status = model.BookingStatusCompleted
	b.PaymentStatus = model.BookingPaymentCaptured

	var keys []string
	h.bookings.On("GetByID", mock.Anything, b.ID).Return(b, nil)
	h.gateway.On("Refund", mock.Anything, "pi_test", int64(2000), mock.Anything).
		Run(func(args mock.Arguments) { keys = append(keys, args.String(3)) }).
		Return(&payment.Refund{ID: "re_1", AmountCents: 2000, Status: "succeeded"}, nil)
	h.bookings.On("RecordRefund", mock.Anything, b.ID, int64(2000)).Return(errors.New("conn reset")).Once()
	h.bookings.On("RecordRefund", mock.Anything, b.ID, int64(2000)).Return(nil).Once()

	_, err := h.adminService().RefundPayment(context.Background(), admin, b.ID, 2000, "Late start")
	require.Error(t, err)
	assert.Empty(t, h.audit.actions)

	got, err := h.adminService().RefundPayment(context.Background(), admin, b.ID, 2000, "Late start")
	require.NoError(t, err)
	require.NotNil(t, got.RefundAmountCents)
	assert.Equal(t, int64(2000), *got.RefundAmountCents)

	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
	h.assertExpectations(t)
}

func TestAdminService_RefundPaymentTooMuch(t *testing.T) {
	h := newHarness()
	b := individualBooking(uuid.New(), uuid.New(), h.now.Add(-48*time.Hour))
	b.PaymentStatus = model.BookingPaymentCaptured
	h.bookings.On("GetByID", mock.Anything, b.ID).Return(b, nil)

	_, err := h.adminService().RefundPayment(context.Background(), admin, b.ID, 7000, "")

	assert.ErrorIs(t, err, ErrInvalidInput)
	h.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAdminService_RefundUncapturedPayment(t *testing.T) {
	h := newHarness()
	b := individualBooking(uuid.New(), uuid.New(), h.now.Add(48*time.Hour))
	h.bookings.On("GetByID", mock.Anything, b.ID).Return(b, nil)

	_, err := h.adminService().RefundPayment(context.Background(), admin, b.ID, 0, "")

	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestPayoutService_StartOnboarding(t *testing.T) {
	h := newHarness()
	coach := approvedCoach()
	coach.Coach.PayoutAccountID = nil
	coach.Coach.PayoutOnboarded = false
	settings := DefaultSettings()
	settings.OnboardingRefreshURL = "https://app.example.com/coach/payouts/refresh"
	settings.OnboardingReturnURL = "https://app.example.com/coach/payouts/done"

	h.users.On("GetByID", mock.Anything, coach.ID).Return(coach, nil)
	h.gateway.On("CreatePayoutAccount", mock.Anything, coach.ID.String(), coach.Email).Return("acct_new", nil)
	h.users.On("SetPayoutAccount", mock.Anything, coach.ID, "acct_new").Return(true, nil)
	h.gateway.On("CreateOnboardingLink", mock.Anything, "acct_new", settings.OnboardingRefreshURL, settings.OnboardingReturnURL).
		Return("https://connect.example.com/setup/acct_new", nil)

	svc := NewPayoutService(h.users, h.gateway, settings, zap.NewNop())
	link, err := svc.StartOnboarding(context.Background(), model.Actor{UserID: coach.ID, Role: model.RoleCoach})

	require.NoError(t, err)
	assert.Equal(t, "https://connect.example.com/setup/acct_new", link)
	h.assertExpectations(t)
}

func TestPayoutService_StartOnboardingLosesRace(t *testing.T) {
	h := newHarness()
	coach := approvedCoach()
	coach.Coach.PayoutAccountID = nil
	stored := approvedCoach()
	stored.ID = coach.ID
	winner := "acct_winner"
	stored.Coach.PayoutAccountID = &winner

	h.users.On("GetByID", mock.Anything, coach.ID).Return(coach, nil).Once()
	h.users.On("GetByID", mock.Anything, coach.ID).Return(stored, nil).Once()
	h.gateway.On("CreatePayoutAccount", mock.Anything, coach.ID.String(), coach.Email).Return("acct_loser", nil)
	h.users.On("SetPayoutAccount", mock.Anything, coach.ID, "acct_loser").Return(false, nil)
	h.gateway.On("CreateOnboardingLink", mock.Anything, "acct_winner", mock.Anything, mock.Anything).
		Return("https://connect.example.com/setup/acct_winner", nil)

	svc := NewPayoutService(h.users, h.gateway, DefaultSettings(), zap.NewNop())
	link, err := svc.StartOnboarding(context.Background(), model.Actor{UserID: coach.ID, Role: model.RoleCoach})

	require.NoError(t, err)
	assert.Contains(t, link, "acct_winner")
	h.assertExpectations(t)
}

func TestPayoutService_RefreshOnboardingStatus(t *testing.T) {
	h := newHarness()
	coach := approvedCoach()
	coach.Coach.PayoutOnboarded = false

	h.users.On("GetByID", mock.Anything, coach.ID).Return(coach, nil)
	h.gateway.On("IsOnboarded", mock.Anything, "acct_coach").Return(true, nil)
	h.users.On("SetPayoutOnboarded", mock.Anything, coach.ID, true).Return(nil)

	svc := NewPayoutService(h.users, h.gateway, DefaultSettings(), zap.NewNop())
	onboarded, err := svc.RefreshOnboardingStatus(context.Background(), model.Actor{UserID: coach.ID, Role: model.RoleCoach})

	require.NoError(t, err)
	assert.True(t, onboarded)
	h.assertExpectations(t)
}

func TestPayoutService_ClientsHaveNoPayouts(t *testing.T) {
	h := newHarness()
	svc := NewPayoutService(h.users, h.gateway, DefaultSettings(), zap.NewNop())

	_, err := svc.StartOnboarding(context.Background(), model.Actor{UserID: uuid.New(), Role: model.RoleClient})

	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAdminService_BookingHistory(t *testing.T) {
	h := newHarness()
	b := individualBooking(uuid.New(), uuid.New(), h.now.Add(48*time.Hour))
	h.history.transitions = []model.StateTransition{
		{BookingID: b.ID, Field: model.FieldStatus, OldValue: "pending", NewValue: "accepted"},
		{BookingID: uuid.New(), Field: model.FieldStatus, OldValue: "pending", NewValue: "declined"},
	}
	h.bookings.On("GetByID", mock.Anything, b.ID).Return(b, nil)

	got, err := h.adminService().BookingHistory(context.Background(), admin, b.ID)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "accepted", got[0].NewValue)
}

func TestAdminService_BookingHistoryChecks(t *testing.T) {
	h := newHarness()
	missing := uuid.New()
	h.bookings.On("GetByID", mock.Anything, missing).Return(nil, nil)

	_, err := h.adminService().BookingHistory(context.Background(), model.Actor{UserID: uuid.New(), Role: model.RoleClient}, missing)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.adminService().BookingHistory(context.Background(), admin, missing)
	assert.ErrorIs(t, err, ErrNotFound)
}
