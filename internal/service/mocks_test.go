package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/audit"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/notification"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/payment"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/repository"
)

// MockBookingStore is a mock implementation of BookingStore
type MockBookingStore struct {
	mock.Mock
}

func (m *MockBookingStore) booking(args mock.Arguments) (*model.Booking, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Booking), args.Error(1)
}

func (m *MockBookingStore) bookings(args mock.Arguments) ([]*model.Booking, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Booking), args.Error(1)
}

func (m *MockBookingStore) Create(ctx context.Context, b *model.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func (m *MockBookingStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return m.booking(m.Called(ctx, id))
}

func (m *MockBookingStore) GetByPaymentIntentID(ctx context.Context, intentID string) (*model.Booking, error) {
	return m.booking(m.Called(ctx, intentID))
}

func (m *MockBookingStore) MarkAuthorized(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockBookingStore) Accept(ctx context.Context, id uuid.UUID, capturedAt time.Time) error {
	return m.Called(ctx, id, capturedAt).Error(0)
}

func (m *MockBookingStore) Decline(ctx context.Context, id uuid.UUID, reason *string, paymentStatus model.BookingPaymentStatus) error {
	return m.Called(ctx, id, reason, paymentStatus).Error(0)
}

func (m *MockBookingStore) Cancel(ctx context.Context, id uuid.UUID, c repository.CancelBooking) error {
	return m.Called(ctx, id, c).Error(0)
}

func (m *MockBookingStore) Complete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockBookingStore) RecordRefund(ctx context.Context, id uuid.UUID, amountCents int64) error {
	return m.Called(ctx, id, amountCents).Error(0)
}

func (m *MockBookingStore) ReserveSeat(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockBookingStore) ReleaseSeat(ctx context.Context, id uuid.UUID, s repository.SeatRelease) error {
	return m.Called(ctx, id, s).Error(0)
}

func (m *MockBookingStore) AddAuthorized(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockBookingStore) RecordCapture(ctx context.Context, id uuid.UUID, wasAuthorized bool) (model.CapacityStatus, error) {
	args := m.Called(ctx, id, wasAuthorized)
	return args.Get(0).(model.CapacityStatus), args.Error(1)
}

func (m *MockBookingStore) CloseLesson(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockBookingStore) Lock(ctx context.Context, id, actorID uuid.UUID, until, now time.Time) (bool, error) {
	args := m.Called(ctx, id, actorID, until, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockBookingStore) Unlock(ctx context.Context, id, actorID uuid.UUID) error {
	return m.Called(ctx, id, actorID).Error(0)
}

func (m *MockBookingStore) ClearExpiredLocks(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockBookingStore) ListReminderCandidates(ctx context.Context, w model.ReminderWindow, from, to time.Time) ([]*model.Booking, error) {
	return m.bookings(m.Called(ctx, w, from, to))
}

func (m *MockBookingStore) ClaimReminder(ctx context.Context, id uuid.UUID, w model.ReminderWindow, at time.Time) (bool, error) {
	args := m.Called(ctx, id, w, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockBookingStore) ListOverduePayments(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error) {
	return m.bookings(m.Called(ctx, now, limit))
}

func (m *MockBookingStore) ListFinished(ctx context.Context, endedBefore time.Time, limit int) ([]*model.Booking, error) {
	return m.bookings(m.Called(ctx, endedBefore, limit))
}

// MockParticipantStore is a mock implementation of ParticipantStore
type MockParticipantStore struct {
	mock.Mock
}

func (m *MockParticipantStore) participant(args mock.Arguments) (*model.Participant, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Participant), args.Error(1)
}

func (m *MockParticipantStore) participants(args mock.Arguments) ([]*model.Participant, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Participant), args.Error(1)
}

func (m *MockParticipantStore) Create(ctx context.Context, p *model.Participant) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockParticipantStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Participant, error) {
	return m.participant(m.Called(ctx, id))
}

func (m *MockParticipantStore) GetByBookingAndUser(ctx context.Context, bookingID, userID uuid.UUID) (*model.Participant, error) {
	return m.participant(m.Called(ctx, bookingID, userID))
}

func (m *MockParticipantStore) GetByPaymentIntentID(ctx context.Context, intentID string) (*model.Participant, error) {
	return m.participant(m.Called(ctx, intentID))
}

func (m *MockParticipantStore) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*model.Participant, error) {
	return m.participants(m.Called(ctx, bookingID))
}

func (m *MockParticipantStore) MarkAuthorized(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockParticipantStore) Accept(ctx context.Context, id uuid.UUID, capturedAt time.Time) (model.ParticipantPaymentStatus, error) {
	return priorPayment(m.Called(ctx, id, capturedAt))
}

func (m *MockParticipantStore) Decline(ctx context.Context, id uuid.UUID, at time.Time) (model.ParticipantPaymentStatus, error) {
	return priorPayment(m.Called(ctx, id, at))
}

func (m *MockParticipantStore) Cancel(ctx context.Context, id uuid.UUID, paymentStatus model.ParticipantPaymentStatus, at time.Time, from ...model.ParticipantStatus) (model.ParticipantPaymentStatus, error) {
	return priorPayment(m.Called(ctx, id, paymentStatus, at, from))
}

func (m *MockParticipantStore) Delete(ctx context.Context, id uuid.UUID) (model.ParticipantPaymentStatus, error) {
	return priorPayment(m.Called(ctx, id))
}

func priorPayment(args mock.Arguments) (model.ParticipantPaymentStatus, error) {
	prior, _ := args.Get(0).(model.ParticipantPaymentStatus)
	return prior, args.Error(1)
}

func (m *MockParticipantStore) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*model.Participant, error) {
	return m.participants(m.Called(ctx, now, limit))
}

func (m *MockParticipantStore) ListReminderCandidates(ctx context.Context, w model.ReminderWindow, from, to time.Time) ([]*model.Participant, error) {
	return m.participants(m.Called(ctx, w, from, to))
}

func (m *MockParticipantStore) ClaimReminder(ctx context.Context, id uuid.UUID, w model.ReminderWindow, at time.Time) (bool, error) {
	args := m.Called(ctx, id, w, at)
	return args.Bool(0), args.Error(1)
}

// MockUserStore is a mock implementation of UserStore
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserStore) SetPayoutAccount(ctx context.Context, coachID uuid.UUID, accountID string) (bool, error) {
	args := m.Called(ctx, coachID, accountID)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserStore) SetPayoutOnboarded(ctx context.Context, coachID uuid.UUID, onboarded bool) error {
	return m.Called(ctx, coachID, onboarded).Error(0)
}

func (m *MockUserStore) SetCoachApproval(ctx context.Context, coachID uuid.UUID, approval model.CoachApproval) error {
	return m.Called(ctx, coachID, approval).Error(0)
}

func (m *MockUserStore) SetSuspended(ctx context.Context, userID uuid.UUID, suspended bool) error {
	return m.Called(ctx, userID, suspended).Error(0)
}

// MockGateway is a mock implementation of payment.Gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) intent(args mock.Arguments) (*payment.Intent, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Intent), args.Error(1)
}

func (m *MockGateway) CreateAuthorization(ctx context.Context, req payment.AuthorizationRequest) (*payment.Intent, error) {
	return m.intent(m.Called(ctx, req))
}

func (m *MockGateway) GetIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	return m.intent(m.Called(ctx, intentID))
}

func (m *MockGateway) Capture(ctx context.Context, intentID string) (*payment.Intent, error) {
	return m.intent(m.Called(ctx, intentID))
}

func (m *MockGateway) CancelAuthorization(ctx context.Context, intentID string) (*payment.Intent, error) {
	return m.intent(m.Called(ctx, intentID))
}

func (m *MockGateway) Refund(ctx context.Context, intentID string, amountCents int64, idempotencyKey string) (*payment.Refund, error) {
	args := m.Called(ctx, intentID, amountCents, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Refund), args.Error(1)
}

func (m *MockGateway) CreatePayoutAccount(ctx context.Context, ownerID, email string) (string, error) {
	args := m.Called(ctx, ownerID, email)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	args := m.Called(ctx, accountID, refreshURL, returnURL)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) IsOnboarded(ctx context.Context, accountID string) (bool, error) {
	args := m.Called(ctx, accountID)
	return args.Bool(0), args.Error(1)
}

// inlineTx runs fn without a database.
type inlineTx struct{}

func (inlineTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingAuditor struct {
	mu       sync.Mutex
	entries  []audit.Entry
	payments []*model.PaymentRecord
	actions  []*model.AdminAction
}

func (a *recordingAuditor) Transitions(_ context.Context, e audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *recordingAuditor) PaymentEvent(_ context.Context, rec *model.PaymentRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payments = append(a.payments, rec)
}

func (a *recordingAuditor) AdminAction(_ context.Context, act *model.AdminAction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, act)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notification.Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice notification.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) events() []notification.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification.Event, len(n.notices))
	for i, notice := range n.notices {
		out[i] = notice.Event
	}
	return out
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) PublishJSON(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

// harness wires the mocks into Deps with a fixed clock.
type harness struct {
	bookings     *MockBookingStore
	participants *MockParticipantStore
	users        *MockUserStore
	gateway      *MockGateway
	audit        *recordingAuditor
	notifier     *recordingNotifier
	events       *recordingPublisher
	history      *fakeHistory
	now          time.Time
}

type fakeHistory struct {
	transitions []model.StateTransition
}

func (f *fakeHistory) ListTransitions(_ context.Context, bookingID uuid.UUID) ([]model.StateTransition, error) {
	var out []model.StateTransition
	for _, t := range f.transitions {
		if t.BookingID == bookingID {
			out = append(out, t)
		}
	}
	return out, nil
}

func newHarness() *harness {
	return &harness{
		bookings:     new(MockBookingStore),
		participants: new(MockParticipantStore),
		users:        new(MockUserStore),
		gateway:      new(MockGateway),
		audit:        &recordingAuditor{},
		notifier:     &recordingNotifier{},
		events:       &recordingPublisher{},
		history:      &fakeHistory{},
		now:          time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Tx:           inlineTx{},
		Bookings:     h.bookings,
		Participants: h.participants,
		Users:        h.users,
		Gateway:      h.gateway,
		Audit:        h.audit,
		Notifier:     h.notifier,
		Events:       h.events,
		Logger:       zap.NewNop(),
	}
}

func (h *harness) clock() func() time.Time {
	return func() time.Time { return h.now }
}

func (h *harness) bookingService() *BookingService {
	s := NewBookingService(h.deps(), DefaultSettings())
	s.now = h.clock()
	return s
}

func (h *harness) lessonService() *LessonService {
	s := NewLessonService(h.deps(), DefaultSettings())
	s.now = h.clock()
	return s
}

func (h *harness) deadlineService() *DeadlineService {
	bs := h.bookingService()
	s := NewDeadlineService(h.deps(), DefaultSettings(), bs)
	s.now = h.clock()
	return s
}

func (h *harness) assertExpectations(t *testing.T) {
	t.Helper()
	h.bookings.AssertExpectations(t)
	h.participants.AssertExpectations(t)
	h.users.AssertExpectations(t)
	h.gateway.AssertExpectations(t)
}

func approvedCoach() *model.User {
	account := "acct_coach"
	return &model.User{
		ID:       uuid.New(),
		Email:    "coach@example.com",
		FullName: "Coach Carter",
		Role:     model.RoleCoach,
		Coach: &model.CoachProfile{
			HourlyRateCents: 6000,
			PayoutAccountID: &account,
			PayoutOnboarded: true,
			Approval:        model.CoachApprovalApproved,
		},
	}
}

func client() *model.User {
	return &model.User{ID: uuid.New(), Email: "athlete@example.com", FullName: "Athlete", Role: model.RoleClient}
}

func individualBooking(coachID, clientID uuid.UUID, start time.Time) *model.Booking {
	intent := "pi_test"
	return &model.Booking{
		ID:              uuid.New(),
		CoachID:         coachID,
		Kind:            model.BookingKindIndividual,
		Status:          model.BookingStatusPending,
		StartAt:         start,
		EndAt:           start.Add(time.Hour),
		DurationMinutes: 60,
		PaymentStatus:   model.BookingPaymentAuthorized,
		PaymentIntentID: &intent,
		CoachRateCents:  6000,
		ClientPaidCents: 6900,
		Details:         &model.IndividualDetails{ClientID: clientID},
	}
}

func publicLesson(coachID uuid.UUID, start time.Time, current, maxSeats int) *model.Booking {
	capacity := model.CapacityOpen
	if current >= maxSeats {
		capacity = model.CapacityFull
	}
	return &model.Booking{
		ID:              uuid.New(),
		CoachID:         coachID,
		Kind:            model.BookingKindPublicGroup,
		Status:          model.BookingStatusAccepted,
		StartAt:         start,
		EndAt:           start.Add(time.Hour),
		DurationMinutes: 60,
		PaymentStatus:   model.BookingPaymentNone,
		Details: &model.PublicGroupDetails{
			Title:               "Sunday shooting drills",
			PricePerPersonCents: 2000,
			MinParticipants:     2,
			MaxParticipants:     maxSeats,
			CurrentParticipants: current,
			CapacityStatus:      capacity,
		},
	}
}
