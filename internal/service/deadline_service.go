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
	"github.com/hubleticsdev/hubletics-web-sub003/internal/metrics"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/notification"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/payment"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/repository"
)

// Scheduled job names.
const (
	JobPaymentReminders = "payment-reminders"
	JobPaymentDeadlines = "payment-deadlines"
	JobHoldExpiry       = "hold-expiry"
	JobStaleLocks       = "stale-locks"
	JobCompleteSessions = "complete-sessions"
)

// Jobs lists every job Run accepts.
var Jobs = []string{JobPaymentReminders, JobPaymentDeadlines, JobHoldExpiry, JobStaleLocks, JobCompleteSessions}

// completionGrace is how long after its end a session is completed automatically.
const completionGrace = time.Hour

// BatchReport summarises one job run. Candidates that were processed are
// committed even when the run stops early.
type BatchReport struct {
	Job        string        `json:"job"`
	Candidates int           `json:"candidates"`
	Processed  int           `json:"processed"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Duration   time.Duration `json:"duration"`
}

type outcome string

const (
	outcomeProcessed outcome = "processed"
	outcomeSkipped   outcome = "skipped"
	outcomeFailed    outcome = "failed"
)

func (r *BatchReport) add(o outcome) {
	switch o {
	case outcomeProcessed:
		r.Processed++
	case outcomeSkipped:
		r.Skipped++
	case outcomeFailed:
		r.Failed++
	}
	metrics.RecordSchedulerCandidate(r.Job, string(o))
}

// DeadlineService drives time based transitions. Every candidate is handled
// and committed on its own, so running a job twice or on two instances does
// not repeat any effect.
type DeadlineService struct {
	engine
	bookings *BookingService
}

func NewDeadlineService(d Deps, s Settings, bookings *BookingService) *DeadlineService {
	return &DeadlineService{engine: newEngine(d, s), bookings: bookings}
}

// Run executes one job within the configured time budget.
func (s *DeadlineService) Run(ctx context.Context, job string) (*BatchReport, error) {
	var fn func(context.Context) (*BatchReport, error)
	switch job {
	case JobPaymentReminders:
		fn = s.SendPaymentReminders
	case JobPaymentDeadlines:
		fn = s.ExpireOverduePayments
	case JobHoldExpiry:
		fn = s.ExpireAuthorizationHolds
	case JobStaleLocks:
		fn = s.ClearStaleLocks
	case JobCompleteSessions:
		fn = s.CompleteFinishedSessions
	default:
		return nil, invalid("Unknown job %q", job)
	}

	if s.settings.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	report, err := fn(ctx)
	if err != nil {
		metrics.RecordSchedulerRun(job, "error")
		s.Logger.Error("Scheduled job failed", zap.String("job", job), zap.Error(err))
		return nil, err
	}
	report.Duration = time.Since(start)
	metrics.RecordSchedulerRun(job, "ok")

	s.Logger.Info("Scheduled job finished",
		zap.String("job", job),
		zap.Int("candidates", report.Candidates),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Bool("timed_out", report.TimedOut),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

var reminderOffsets = []struct {
	window model.ReminderWindow
	before time.Duration
}{
	{model.Reminder12h, 12 * time.Hour},
	{model.Reminder30m, 30 * time.Minute},
}

// SendPaymentReminders notifies payers whose deadline is about 12 hours or
// 30 minutes away. The reminder flag is claimed before sending, so each
// reminder goes out at most once.
func (s *DeadlineService) SendPaymentReminders(ctx context.Context) (*BatchReport, error) {
	report := &BatchReport{Job: JobPaymentReminders}
	now := s.clock()
	tol := s.settings.ReminderTolerance

	for _, r := range reminderOffsets {
		target := now.Add(r.before)
		from, to := target.Add(-tol), target.Add(tol)

		bookings, err := s.Bookings.ListReminderCandidates(ctx, r.window, from, to)
		if err != nil {
			return nil, fmt.Errorf("list booking reminders: %w", err)
		}
		participants, err := s.Participants.ListReminderCandidates(ctx, r.window, from, to)
		if err != nil {
			return nil, fmt.Errorf("list participant reminders: %w", err)
		}
		report.Candidates += len(bookings) + len(participants)

		for _, b := range bookings {
			if s.stopped(ctx, report) {
				return report, nil
			}
			report.add(s.remindBooking(ctx, b, r.window, now))
		}
		for _, p := range participants {
			if s.stopped(ctx, report) {
				return report, nil
			}
			report.add(s.remindParticipant(ctx, p, r.window, now))
		}
	}
	return report, nil
}

func (s *DeadlineService) remindBooking(ctx context.Context, b *model.Booking, w model.ReminderWindow, now time.Time) outcome {
	claimed, err := s.Bookings.ClaimReminder(ctx, b.ID, w, now)
	if err != nil {
		s.candidateFailed(JobPaymentReminders, b.ID, err)
		return outcomeFailed
	}
	if !claimed {
		return outcomeSkipped
	}
	payer, ok := b.PayerID()
	if !ok || b.PaymentDueAt == nil {
		return outcomeSkipped
	}
	s.notifyUser(ctx, payer, notification.Notice{
		Event:    notification.EventPaymentReminder,
		Booking:  b,
		Deadline: *b.PaymentDueAt,
	})
	return outcomeProcessed
}

func (s *DeadlineService) remindParticipant(ctx context.Context, p *model.Participant, w model.ReminderWindow, now time.Time) outcome {
	claimed, err := s.Participants.ClaimReminder(ctx, p.ID, w, now)
	if err != nil {
		s.candidateFailed(JobPaymentReminders, p.ID, err)
		return outcomeFailed
	}
	if !claimed || p.ExpiresAt == nil {
		return outcomeSkipped
	}
	b, err := s.Bookings.GetByID(ctx, p.BookingID)
	if err != nil || b == nil {
		s.candidateFailed(JobPaymentReminders, p.ID, fmt.Errorf("load lesson: %w", err))
		return outcomeFailed
	}
	s.notifyUser(ctx, p.UserID, notification.Notice{
		Event:    notification.EventPaymentReminder,
		Booking:  b,
		Deadline: *p.ExpiresAt,
	})
	return outcomeProcessed
}

// ExpireOverduePayments cancels bookings whose payment deadline passed. The
// intent is read back first: a hold that was confirmed after all is recorded
// as authorized instead of cancelled.
func (s *DeadlineService) ExpireOverduePayments(ctx context.Context) (*BatchReport, error) {
	report := &BatchReport{Job: JobPaymentDeadlines}
	now := s.clock()

	overdue, err := s.Bookings.ListOverduePayments(ctx, now, s.settings.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list overdue payments: %w", err)
	}
	report.Candidates = len(overdue)

	for _, b := range overdue {
		if s.stopped(ctx, report) {
			break
		}
		report.add(s.expireBooking(ctx, b, now))
	}
	return report, nil
}

func (s *DeadlineService) expireBooking(ctx context.Context, b *model.Booking, now time.Time) outcome {
	actor := model.SystemActor(JobPaymentDeadlines)

	if b.PaymentIntentID != nil {
		intent, err := s.Gateway.GetIntent(ctx, *b.PaymentIntentID)
		if err != nil {
			s.candidateFailed(JobPaymentDeadlines, b.ID, err)
			return outcomeFailed
		}
		switch {
		case intent.Status.Capturable():
			if err := s.bookings.MarkPaymentAuthorized(ctx, intent.ID); err != nil {
				s.candidateFailed(JobPaymentDeadlines, b.ID, err)
				return outcomeFailed
			}
			s.Logger.Info("Overdue booking was paid after all",
				zap.String("booking_id", b.ID.String()),
				zap.String("intent_id", intent.ID),
			)
			return outcomeProcessed
		case intent.Status == payment.IntentSucceeded:
			s.candidateFailed(JobPaymentDeadlines, b.ID, errors.New("payment captured outside the booking flow"))
			return outcomeFailed
		case intent.Status.Cancelable():
			if err := s.releaseHold(ctx, JobPaymentDeadlines, intent.ID); err != nil {
				s.candidateFailed(JobPaymentDeadlines, b.ID, err)
				return outcomeFailed
			}
		}
	}

	reason := "payment deadline passed"
	err := s.Bookings.Cancel(ctx, b.ID, repository.CancelBooking{
		PaymentStatus: model.BookingPaymentCancelled,
		CancelledAt:   now,
		Reason:        &reason,
		From:          []model.BookingStatus{model.BookingStatusPending, model.BookingStatusAccepted},
	})
	if errors.Is(err, repository.ErrStaleState) {
		return outcomeSkipped
	}
	if err != nil {
		s.candidateFailed(JobPaymentDeadlines, b.ID, err)
		return outcomeFailed
	}

	oldStatus, oldPayment := b.Status, b.PaymentStatus
	b.Status = model.BookingStatusCancelled
	b.PaymentStatus = model.BookingPaymentCancelled
	b.CancelledAt = &now
	b.CancellationReason = &reason

	s.Logger.Info("Booking expired for missing payment", zap.String("booking_id", b.ID.String()))

	s.Audit.Transitions(ctx, audit.Entry{
		Actor:     actor,
		Kind:      b.Kind,
		BookingID: b.ID,
		Reason:    &reason,
		Changes: []audit.Change{
			audit.Status(oldStatus, b.Status),
			audit.Payment(oldPayment, b.PaymentStatus),
		},
	})
	if b.PaymentIntentID != nil {
		s.recordPaymentStatus(ctx, *b.PaymentIntentID, string(payment.IntentCanceled), "payment.expired", b.ClientPaidCents, &b.ID, nil)
	}
	if payer, ok := b.PayerID(); ok {
		s.notifyUser(ctx, payer, notification.Notice{Event: notification.EventPaymentExpired, Booking: b})
	}
	s.notifyUser(ctx, b.CoachID, notification.Notice{Event: notification.EventBookingCancelled, Booking: b, Reason: reason})
	s.publish(ctx, bookingEvent(events.BookingCancelled, b, actor))
	return outcomeProcessed
}

// ExpireAuthorizationHolds releases participants the coach never answered.
func (s *DeadlineService) ExpireAuthorizationHolds(ctx context.Context) (*BatchReport, error) {
	report := &BatchReport{Job: JobHoldExpiry}
	now := s.clock()

	expired, err := s.Participants.ListExpiredHolds(ctx, now, s.settings.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}
	report.Candidates = len(expired)

	for _, p := range expired {
		if s.stopped(ctx, report) {
			break
		}
		report.add(s.expireHold(ctx, p, now))
	}
	return report, nil
}

func (s *DeadlineService) expireHold(ctx context.Context, p *model.Participant, now time.Time) outcome {
	actor := model.SystemActor(JobHoldExpiry)

	if p.PaymentIntentID != nil {
		if err := s.releaseHold(ctx, JobHoldExpiry, *p.PaymentIntentID); err != nil {
			s.candidateFailed(JobHoldExpiry, p.ID, err)
			return outcomeFailed
		}
	}

	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		prior, err := s.Participants.Cancel(ctx, p.ID, model.ParticipantPaymentCancelled, now, model.ParticipantAwaitingCoach)
		if err != nil {
			return err
		}
		return s.Bookings.ReleaseSeat(ctx, p.BookingID, seatHeldAs(prior))
	})
	if errors.Is(err, repository.ErrStaleState) {
		return outcomeSkipped
	}
	if err != nil {
		s.candidateFailed(JobHoldExpiry, p.ID, err)
		return outcomeFailed
	}

	s.Logger.Info("Participant hold expired",
		zap.String("booking_id", p.BookingID.String()),
		zap.String("participant_id", p.ID.String()),
	)

	reason := "authorization hold expired"
	s.Audit.Transitions(ctx, audit.Entry{
		Actor:         actor,
		Kind:          model.BookingKindPublicGroup,
		BookingID:     p.BookingID,
		ParticipantID: &p.ID,
		Reason:        &reason,
		Changes: []audit.Change{
			audit.Payment(p.PaymentStatus, model.ParticipantPaymentCancelled),
			audit.Status(p.Status, model.ParticipantCancelled),
		},
	})
	if p.PaymentIntentID != nil {
		s.recordPaymentStatus(ctx, *p.PaymentIntentID, string(payment.IntentCanceled), "hold.expired", p.AmountCents, &p.BookingID, &p.ID)
	}

	p.Status = model.ParticipantCancelled
	p.PaymentStatus = model.ParticipantPaymentCancelled
	p.CancelledAt = &now

	if b, err := s.Bookings.GetByID(ctx, p.BookingID); err == nil && b != nil {
		s.notifyUser(ctx, p.UserID, notification.Notice{Event: notification.EventHoldExpired, Booking: b})
		s.publish(ctx, participantEvent(events.ParticipantExpired, b, p, actor))
	}
	return outcomeProcessed
}

// ClearStaleLocks drops checkout locks that have run out.
func (s *DeadlineService) ClearStaleLocks(ctx context.Context) (*BatchReport, error) {
	report := &BatchReport{Job: JobStaleLocks}

	ids, err := s.Bookings.ClearExpiredLocks(ctx, s.clock())
	if err != nil {
		return nil, fmt.Errorf("clear expired locks: %w", err)
	}
	report.Candidates = len(ids)
	for range ids {
		report.add(outcomeProcessed)
	}
	if len(ids) > 0 {
		s.Logger.Info("Cleared stale checkout locks", zap.Int("count", len(ids)))
	}
	return report, nil
}

// CompleteFinishedSessions completes paid sessions an hour after they ended.
func (s *DeadlineService) CompleteFinishedSessions(ctx context.Context) (*BatchReport, error) {
	report := &BatchReport{Job: JobCompleteSessions}
	cutoff := s.clock().Add(-completionGrace)

	finished, err := s.Bookings.ListFinished(ctx, cutoff, s.settings.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list finished sessions: %w", err)
	}
	report.Candidates = len(finished)

	actor := model.SystemActor(JobCompleteSessions)
	for _, b := range finished {
		if s.stopped(ctx, report) {
			break
		}
		_, err := s.bookings.CompleteBooking(ctx, actor, b.ID)
		switch {
		case err == nil:
			report.add(outcomeProcessed)
		case errors.Is(err, ErrStateConflict):
			report.add(outcomeSkipped)
		default:
			s.candidateFailed(JobCompleteSessions, b.ID, err)
			report.add(outcomeFailed)
		}
	}
	return report, nil
}

// stopped reports whether the run budget is spent.
func (s *DeadlineService) stopped(ctx context.Context, report *BatchReport) bool {
	if ctx.Err() == nil {
		return false
	}
	if !report.TimedOut {
		s.Logger.Warn("Scheduled job ran out of time", zap.String("job", report.Job), zap.Error(ctx.Err()))
	}
	report.TimedOut = true
	return true
}

func (s *DeadlineService) candidateFailed(job string, id uuid.UUID, err error) {
	s.Logger.Error("Scheduled job candidate failed",
		zap.String("job", job),
		zap.String("entity_id", id.String()),
		zap.Error(err),
	)
}
