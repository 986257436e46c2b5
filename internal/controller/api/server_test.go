package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/auth"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/payment"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/service"
)

const (
	jwtSecret  = "jwt-test-secret"
	cronSecret = "cron-test-secret"
)

type MockBookings struct {
	mock.Mock
	BookingActions
}

func (m *MockBookings) CreateBooking(ctx context.Context, actor model.Actor, in service.CreateBookingInput) (*service.BookingCheckout, error) {
	args := m.Called(ctx, actor, in)
	checkout, _ := args.Get(0).(*service.BookingCheckout)
	return checkout, args.Error(1)
}

func (m *MockBookings) AcceptBooking(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Booking, error) {
	args := m.Called(ctx, actor, id)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *MockBookings) CancelBooking(ctx context.Context, actor model.Actor, id uuid.UUID, reason string) (*model.Booking, error) {
	args := m.Called(ctx, actor, id, reason)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

type MockAdmin struct {
	mock.Mock
	AdminActions
}

func (m *MockAdmin) RefundPayment(ctx context.Context, actor model.Actor, bookingID uuid.UUID, amountCents int64, notes string) (*model.Booking, error) {
	args := m.Called(ctx, actor, bookingID, amountCents, notes)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *MockAdmin) BookingHistory(ctx context.Context, actor model.Actor, bookingID uuid.UUID) ([]model.StateTransition, error) {
	args := m.Called(ctx, actor, bookingID)
	out, _ := args.Get(0).([]model.StateTransition)
	return out, args.Error(1)
}

type MockJobs struct {
	mock.Mock
}

func (m *MockJobs) Run(ctx context.Context, job string) (*service.BatchReport, error) {
	args := m.Called(ctx, job)
	r, _ := args.Get(0).(*service.BatchReport)
	return r, args.Error(1)
}

type MockWebhooks struct {
	mock.Mock
}

func (m *MockWebhooks) Handle(ctx context.Context, ev *payment.WebhookEvent) error {
	return m.Called(ctx, ev).Error(0)
}

type fakeParser struct {
	event *payment.WebhookEvent
	err   error
	got   []byte
	sig   string
}

func (f *fakeParser) Parse(payload []byte, signature string) (*payment.WebhookEvent, error) {
	f.got, f.sig = payload, signature
	return f.event, f.err
}

type testServer struct {
	router   *gin.Engine
	bookings *MockBookings
	admin    *MockAdmin
	jobs     *MockJobs
	webhooks *MockWebhooks
	parser   *fakeParser
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		bookings: &MockBookings{},
		admin:    &MockAdmin{},
		jobs:     &MockJobs{},
		webhooks: &MockWebhooks{},
		parser:   &fakeParser{},
	}
	ts.router = NewRouter(Services{
		Bookings: ts.bookings,
		Admin:    ts.admin,
		Jobs:     ts.jobs,
		Webhooks: ts.webhooks,
		Events:   ts.parser,
	}, Options{
		JWTSecret:      jwtSecret,
		CronSecret:     cronSecret,
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	}, zap.NewNop())

	t.Cleanup(func() {
		ts.bookings.AssertExpectations(t)
		ts.admin.AssertExpectations(t)
		ts.jobs.AssertExpectations(t)
		ts.webhooks.AssertExpectations(t)
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, service.Result) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var res service.Result
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	return w, res
}

func tokenFor(t *testing.T, actor model.Actor) string {
	t.Helper()
	token, err := auth.Sign(actor, jwtSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_RequiresToken(t *testing.T) {
	ts := newTestServer(t)

	w, res := ts.do(t, http.MethodPost, "/api/bookings", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, res.Success)

	w, _ = ts.do(t, http.MethodPost, "/api/bookings", "garbage", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateBooking_PassesActorAndInput(t *testing.T) {
	ts := newTestServer(t)
	client := model.Actor{UserID: uuid.New(), Role: model.RoleClient}
	coachID := uuid.New()
	bookingID := uuid.New()

	ts.bookings.On("CreateBooking", mock.Anything, client, mock.MatchedBy(func(in service.CreateBookingInput) bool {
		return in.CoachID == coachID && in.DurationMinutes == 60 && in.Kind == model.BookingKindIndividual
	})).Return(&service.BookingCheckout{Booking: &model.Booking{ID: bookingID}, ClientSecret: "pi_secret"}, nil)

	w, res := ts.do(t, http.MethodPost, "/api/bookings", tokenFor(t, client), map[string]any{
		"coach_id":         coachID,
		"kind":             "individual",
		"start_at":         "2026-04-01T10:00:00Z",
		"duration_minutes": 60,
		"location":         "Court 3",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, res.Success)
	assert.Contains(t, w.Body.String(), bookingID.String())
}

func TestCreateBooking_BadBody(t *testing.T) {
	ts := newTestServer(t)
	client := model.Actor{UserID: uuid.New(), Role: model.RoleClient}

	req := httptest.NewRequest(http.MethodPost, "/api/bookings", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, client))
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_input")
}

func TestAcceptBooking_InvalidID(t *testing.T) {
	ts := newTestServer(t)
	coach := model.Actor{UserID: uuid.New(), Role: model.RoleCoach}

	w, res := ts.do(t, http.MethodPost, "/api/bookings/not-a-uuid/accept", tokenFor(t, coach), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", res.Kind)
}

func TestAcceptBooking_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"forbidden", fmt.Errorf("wrap: %w", service.ErrForbidden), http.StatusForbidden, "forbidden"},
		{"not found", service.ErrNotFound, http.StatusNotFound, "not_found"},
		{"conflict", service.ErrStateConflict, http.StatusConflict, "state_conflict"},
		{"must refund", service.ErrMustRefund, http.StatusConflict, "must_refund"},
		{"gateway", service.ErrGateway, http.StatusBadGateway, "gateway"},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			coach := model.Actor{UserID: uuid.New(), Role: model.RoleCoach}
			id := uuid.New()
			ts.bookings.On("AcceptBooking", mock.Anything, coach, id).Return(nil, tt.err)

			w, res := ts.do(t, http.MethodPost, "/api/bookings/"+id.String()+"/accept", tokenFor(t, coach), nil)

			assert.Equal(t, tt.status, w.Code)
			assert.False(t, res.Success)
			assert.Equal(t, tt.kind, res.Kind)
		})
	}
}

func TestCancelBooking_ReadsReason(t *testing.T) {
	ts := newTestServer(t)
	client := model.Actor{UserID: uuid.New(), Role: model.RoleClient}
	id := uuid.New()
	ts.bookings.On("CancelBooking", mock.Anything, client, id, "injured").
		Return(&model.Booking{ID: id, Status: model.BookingStatusCancelled}, nil)

	w, res := ts.do(t, http.MethodPost, "/api/bookings/"+id.String()+"/cancel", tokenFor(t, client),
		map[string]string{"reason": "injured"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.Success)
}

func TestAdminRoutes_RequireAdminRole(t *testing.T) {
	ts := newTestServer(t)
	coach := model.Actor{UserID: uuid.New(), Role: model.RoleCoach}

	w, _ := ts.do(t, http.MethodPost, "/api/admin/bookings/"+uuid.NewString()+"/refund", tokenFor(t, coach), nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminRefund(t *testing.T) {
	ts := newTestServer(t)
	admin := model.Actor{UserID: uuid.New(), Role: model.RoleAdmin}
	id := uuid.New()
	ts.admin.On("RefundPayment", mock.Anything, admin, id, int64(2500), "goodwill").
		Return(&model.Booking{ID: id}, nil)

	w, res := ts.do(t, http.MethodPost, "/api/admin/bookings/"+id.String()+"/refund", tokenFor(t, admin),
		map[string]any{"amount_cents": 2500, "notes": "goodwill"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.Success)
}

func TestAdminBookingHistory(t *testing.T) {
	ts := newTestServer(t)
	admin := model.Actor{UserID: uuid.New(), Role: model.RoleAdmin}
	id := uuid.New()
	ts.admin.On("BookingHistory", mock.Anything, admin, id).Return([]model.StateTransition{
		{BookingID: id, Field: model.FieldStatus, OldValue: "pending", NewValue: "accepted"},
	}, nil)

	w, res := ts.do(t, http.MethodGet, "/api/admin/bookings/"+id.String()+"/history", tokenFor(t, admin), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.Success)
	assert.Contains(t, w.Body.String(), `"new_value":"accepted"`)
}

func TestCron_RejectsBeforeWork(t *testing.T) {
	ts := newTestServer(t)

	for _, token := range []string{"", "wrong-secret", jwtSecret} {
		w, _ := ts.do(t, http.MethodPost, "/api/cron/hold-expiry", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, token)
	}
	ts.jobs.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestCron_RunsJob(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.On("Run", mock.Anything, service.JobHoldExpiry).
		Return(&service.BatchReport{Job: service.JobHoldExpiry, Candidates: 3, Processed: 2, Failed: 1}, nil)

	w, res := ts.do(t, http.MethodPost, "/api/cron/hold-expiry", cronSecret, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.Success)
	assert.Contains(t, w.Body.String(), `"processed":2`)
}

func TestCron_UnknownJob(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.On("Run", mock.Anything, "nope").Return(nil, fmt.Errorf("%w", service.ErrInvalidInput))

	w, _ := ts.do(t, http.MethodPost, "/api/cron/nope", cronSecret, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStripeWebhook(t *testing.T) {
	ts := newTestServer(t)
	ev := &payment.WebhookEvent{ID: "evt_1", Type: "payment_intent.succeeded"}
	ts.parser.event = ev
	ts.webhooks.On("Handle", mock.Anything, ev).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"id":"evt_1"}`, string(ts.parser.got))
	assert.Equal(t, "t=1,v1=abc", ts.parser.sig)
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	ts := newTestServer(t)
	ts.parser.err = fmt.Errorf("%w: no match", payment.ErrInvalidSignature)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	ts.webhooks.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}

func TestStripeWebhook_HandlerFailureAsksForRedelivery(t *testing.T) {
	ts := newTestServer(t)
	ev := &payment.WebhookEvent{ID: "evt_2", Type: "payment_intent.amount_capturable_updated"}
	ts.parser.event = ev
	ts.webhooks.On("Handle", mock.Anything, ev).Return(errors.New("db down"))

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, time.Minute)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRequireRole_WithoutActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	RequireRole(model.RoleAdmin)(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
