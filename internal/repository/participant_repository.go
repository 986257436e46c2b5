package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/repository/base"
)

const participantColumns = `
	id, booking_id, user_id, status, payment_status, payment_intent_id, amount_cents,
	expires_at, captured_at, cancelled_at, reminder_12h_sent_at, reminder_30m_sent_at,
	created_at, updated_at`

type ParticipantRepository struct {
	*base.Repository
}

func NewParticipantRepository(db *base.Repository) *ParticipantRepository {
	return &ParticipantRepository{Repository: db}
}

func (r *ParticipantRepository) Create(ctx context.Context, p *model.Participant) error {
	query := `
		INSERT INTO booking_participants
			(id, booking_id, user_id, status, payment_status, payment_intent_id, amount_cents, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.QueryRow(ctx, query,
		p.ID, p.BookingID, p.UserID, p.Status, p.PaymentStatus, p.PaymentIntentID, p.AmountCents, p.ExpiresAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

func (r *ParticipantRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM booking_participants WHERE id = $1`
	return r.getOne(ctx, "get participant by id", query, id)
}

func (r *ParticipantRepository) GetByBookingAndUser(ctx context.Context, bookingID, userID uuid.UUID) (*model.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM booking_participants WHERE booking_id = $1 AND user_id = $2`
	return r.getOne(ctx, "get participant by booking and user", query, bookingID, userID)
}

func (r *ParticipantRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*model.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM booking_participants WHERE payment_intent_id = $1`
	return r.getOne(ctx, "get participant by payment intent", query, intentID)
}

func (r *ParticipantRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*model.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM booking_participants WHERE booking_id = $1 ORDER BY created_at`
	return r.list(ctx, "list participants", query, bookingID)
}

// MarkAuthorized records that the participant confirmed the card hold.
func (r *ParticipantRepository) MarkAuthorized(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE booking_participants
		SET payment_status = 'authorized', updated_at = NOW()
		WHERE id = $1 AND status = 'awaiting_coach' AND payment_status = 'pending'
	`
	return r.guarded(ctx, "mark participant authorized", query, id)
}

// Accept captures the participant. It returns the payment status the row held
// before the update so callers can size the lesson counters from it.
func (r *ParticipantRepository) Accept(ctx context.Context, id uuid.UUID, capturedAt time.Time) (model.ParticipantPaymentStatus, error) {
	query := `
		WITH prior AS (
			SELECT id, payment_status FROM booking_participants WHERE id = $1 FOR UPDATE
		)
		UPDATE booking_participants p
		SET status = 'accepted', payment_status = 'captured', captured_at = $2, updated_at = NOW()
		FROM prior
		WHERE p.id = prior.id AND p.status = 'awaiting_coach' AND p.payment_status IN ('pending', 'authorized')
		RETURNING prior.payment_status
	`
	return r.transition(ctx, "accept participant", query, id, capturedAt)
}

func (r *ParticipantRepository) Decline(ctx context.Context, id uuid.UUID, at time.Time) (model.ParticipantPaymentStatus, error) {
	query := `
		WITH prior AS (
			SELECT id, payment_status FROM booking_participants WHERE id = $1 FOR UPDATE
		)
		UPDATE booking_participants p
		SET status = 'declined', payment_status = 'cancelled', cancelled_at = $2, updated_at = NOW()
		FROM prior
		WHERE p.id = prior.id AND p.status = 'awaiting_coach' AND p.payment_status IN ('pending', 'authorized')
		RETURNING prior.payment_status
	`
	return r.transition(ctx, "decline participant", query, id, at)
}

// Cancel moves the participant to cancelled with the given payment status
// when its current status is one of from.
func (r *ParticipantRepository) Cancel(ctx context.Context, id uuid.UUID, paymentStatus model.ParticipantPaymentStatus, at time.Time, from ...model.ParticipantStatus) (model.ParticipantPaymentStatus, error) {
	query := `
		WITH prior AS (
			SELECT id, payment_status FROM booking_participants WHERE id = $1 FOR UPDATE
		)
		UPDATE booking_participants p
		SET status = 'cancelled', payment_status = $2, cancelled_at = $3, updated_at = NOW()
		FROM prior
		WHERE p.id = prior.id AND p.status = ANY($4::text[])
		RETURNING prior.payment_status
	`
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	return r.transition(ctx, "cancel participant", query, id, paymentStatus, at, statuses)
}

func (r *ParticipantRepository) Delete(ctx context.Context, id uuid.UUID) (model.ParticipantPaymentStatus, error) {
	query := `DELETE FROM booking_participants WHERE id = $1 RETURNING payment_status`
	return r.transition(ctx, "delete participant", query, id)
}

// ListExpiredHolds returns participants the coach never answered before their hold deadline.
func (r *ParticipantRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*model.Participant, error) {
	query := `SELECT ` + participantColumns + `
		FROM booking_participants
		WHERE status = 'awaiting_coach' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`
	return r.list(ctx, "list expired holds", query, now, limit)
}

// ListReminderCandidates returns participants who still have to confirm payment
// before a deadline that falls in [from, to].
func (r *ParticipantRepository) ListReminderCandidates(ctx context.Context, w model.ReminderWindow, from, to time.Time) ([]*model.Participant, error) {
	column, err := reminderColumn("", w)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + participantColumns + `
		FROM booking_participants
		WHERE status = 'awaiting_coach'
		  AND payment_status = 'pending'
		  AND expires_at BETWEEN $1 AND $2
		  AND ` + column + ` IS NULL
		ORDER BY expires_at`
	return r.list(ctx, "list participant reminder candidates", query, from, to)
}

func (r *ParticipantRepository) ClaimReminder(ctx context.Context, id uuid.UUID, w model.ReminderWindow, at time.Time) (bool, error) {
	column, err := reminderColumn("", w)
	if err != nil {
		return false, err
	}
	query := `UPDATE booking_participants SET ` + column + ` = $2 WHERE id = $1 AND ` + column + ` IS NULL`
	n, err := r.ExecAffected(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("claim participant reminder: %w", err)
	}
	return n == 1, nil
}

func (r *ParticipantRepository) getOne(ctx context.Context, op, query string, args ...any) (*model.Participant, error) {
	p, err := scanParticipant(r.QueryRow(ctx, query, args...))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (r *ParticipantRepository) list(ctx context.Context, op, query string, args ...any) ([]*model.Participant, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var participants []*model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return participants, nil
}

func (r *ParticipantRepository) guarded(ctx context.Context, op, query string, args ...any) error {
	n, err := r.ExecAffected(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrStaleState)
	}
	return nil
}

// transition runs a guarded write that returns the prior payment status.
// No returned row means the guard lost.
func (r *ParticipantRepository) transition(ctx context.Context, op, query string, args ...any) (model.ParticipantPaymentStatus, error) {
	var prior string
	if err := r.QueryRow(ctx, query, args...).Scan(&prior); err != nil {
		if base.IsNotFound(err) {
			return "", fmt.Errorf("%s: %w", op, ErrStaleState)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return model.ParticipantPaymentStatus(prior), nil
}

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	err := row.Scan(
		&p.ID, &p.BookingID, &p.UserID, &p.Status, &p.PaymentStatus, &p.PaymentIntentID, &p.AmountCents,
		&p.ExpiresAt, &p.CapturedAt, &p.CancelledAt, &p.Reminder12hSentAt, &p.Reminder30mSentAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
