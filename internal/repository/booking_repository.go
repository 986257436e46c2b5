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

const bookingColumns = `
	b.id, b.coach_id, b.booking_type, b.status, b.start_at, b.end_at, b.duration_minutes, b.location,
	b.payment_status, b.payment_intent_id, b.coach_rate_cents, b.client_paid_cents, b.platform_fee_cents,
	b.processor_fee_cents, b.coach_payout_cents, b.payment_due_at, b.captured_at,
	b.reminder_12h_sent_at, b.reminder_30m_sent_at, b.locked_until, b.locked_by,
	b.decline_reason, b.cancelled_by, b.cancelled_at, b.cancellation_reason, b.refund_amount_cents,
	b.created_at, b.updated_at,
	i.client_id,
	pg.organizer_id, pg.group_size, pg.member_ids,
	pub.title, pub.price_per_person_cents, pub.min_participants, pub.max_participants,
	pub.current_participants, pub.authorized_participants, pub.captured_participants, pub.capacity_status`

const bookingFrom = `
	FROM bookings b
	LEFT JOIN individual_booking_details i ON i.booking_id = b.id
	LEFT JOIN private_group_booking_details pg ON pg.booking_id = b.id
	LEFT JOIN public_group_booking_details pub ON pub.booking_id = b.id`

type BookingRepository struct {
	*base.Repository
}

func NewBookingRepository(db *base.Repository) *BookingRepository {
	return &BookingRepository{Repository: db}
}

// Create inserts the booking row and its variant details row.
func (r *BookingRepository) Create(ctx context.Context, b *model.Booking) error {
	return r.WithinTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO bookings (
				id, coach_id, booking_type, status, start_at, end_at, duration_minutes, location,
				payment_status, payment_intent_id, coach_rate_cents, client_paid_cents, platform_fee_cents,
				processor_fee_cents, coach_payout_cents, payment_due_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING created_at, updated_at
		`
		err := r.QueryRow(ctx, query,
			b.ID, b.CoachID, b.Details.Kind(), b.Status, b.StartAt, b.EndAt, b.DurationMinutes, b.Location,
			b.PaymentStatus, b.PaymentIntentID, b.CoachRateCents, b.ClientPaidCents, b.PlatformFeeCents,
			b.ProcessorFeeCents, b.CoachPayoutCents, b.PaymentDueAt,
		).Scan(&b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create booking: %w", err)
		}

		switch d := b.Details.(type) {
		case *model.IndividualDetails:
			_, err = r.ExecAffected(ctx,
				`INSERT INTO individual_booking_details (booking_id, client_id) VALUES ($1, $2)`,
				b.ID, d.ClientID)
		case *model.PrivateGroupDetails:
			_, err = r.ExecAffected(ctx,
				`INSERT INTO private_group_booking_details (booking_id, organizer_id, group_size, member_ids)
				 VALUES ($1, $2, $3, $4)`,
				b.ID, d.OrganizerID, d.GroupSize, d.MemberIDs)
		case *model.PublicGroupDetails:
			_, err = r.ExecAffected(ctx,
				`INSERT INTO public_group_booking_details
				 (booking_id, title, price_per_person_cents, min_participants, max_participants, capacity_status)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				b.ID, d.Title, d.PricePerPersonCents, d.MinParticipants, d.MaxParticipants, d.CapacityStatus)
		default:
			return fmt.Errorf("create booking: unsupported details %T", b.Details)
		}
		if err != nil {
			return fmt.Errorf("create booking details: %w", err)
		}
		return nil
	})
}

// GetByID returns nil, nil when the booking does not exist.
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + bookingFrom + ` WHERE b.id = $1`

	b, err := scanBooking(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}
	return b, nil
}

// GetForUpdate locks the booking row for the rest of the transaction.
func (r *BookingRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + bookingFrom + ` WHERE b.id = $1 FOR UPDATE OF b`

	b, err := scanBooking(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking for update: %w", err)
	}
	return b, nil
}

func (r *BookingRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + bookingFrom + ` WHERE b.payment_intent_id = $1`

	b, err := scanBooking(r.QueryRow(ctx, query, intentID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by payment intent: %w", err)
	}
	return b, nil
}

// MarkAuthorized records that the client confirmed the card hold.
func (r *BookingRepository) MarkAuthorized(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE bookings
		SET payment_status = 'authorized', updated_at = NOW()
		WHERE id = $1 AND payment_status = 'awaiting_payment' AND status IN ('pending', 'accepted')
	`
	return r.guarded(ctx, "mark booking authorized", query, id)
}

func (r *BookingRepository) Accept(ctx context.Context, id uuid.UUID, capturedAt time.Time) error {
	query := `
		UPDATE bookings
		SET status = 'accepted', payment_status = 'captured', captured_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	return r.guarded(ctx, "accept booking", query, id, capturedAt)
}

func (r *BookingRepository) Decline(ctx context.Context, id uuid.UUID, reason *string, paymentStatus model.BookingPaymentStatus) error {
	query := `
		UPDATE bookings
		SET status = 'declined', payment_status = $3, decline_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	return r.guarded(ctx, "decline booking", query, id, reason, paymentStatus)
}

type CancelBooking struct {
	PaymentStatus model.BookingPaymentStatus
	CancelledBy   *uuid.UUID
	CancelledAt   time.Time
	Reason        *string
	RefundCents   int64
	From          []model.BookingStatus
}

// Cancel moves the booking to cancelled when its status is one of c.From.
func (r *BookingRepository) Cancel(ctx context.Context, id uuid.UUID, c CancelBooking) error {
	query := `
		UPDATE bookings
		SET status = 'cancelled', payment_status = $2, cancelled_by = $3, cancelled_at = $4,
		    cancellation_reason = $5, refund_amount_cents = $6, updated_at = NOW()
		WHERE id = $1 AND status = ANY($7::text[])
	`
	from := make([]string, len(c.From))
	for i, s := range c.From {
		from[i] = string(s)
	}
	return r.guarded(ctx, "cancel booking", query,
		id, c.PaymentStatus, c.CancelledBy, c.CancelledAt, c.Reason, c.RefundCents, from)
}

func (r *BookingRepository) Complete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE bookings
		SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'accepted' AND payment_status IN ('captured', 'none')
	`
	return r.guarded(ctx, "complete booking", query, id)
}

// RecordRefund adds a refund on an already captured payment.
func (r *BookingRepository) RecordRefund(ctx context.Context, id uuid.UUID, amountCents int64) error {
	query := `
		UPDATE bookings
		SET payment_status = 'refunded',
		    refund_amount_cents = COALESCE(refund_amount_cents, 0) + $2,
		    updated_at = NOW()
		WHERE id = $1 AND payment_status IN ('captured', 'refunded')
	`
	return r.guarded(ctx, "record booking refund", query, id, amountCents)
}

// ReserveSeat takes one seat of an open lesson. It reports false when the lesson is full or not open.
func (r *BookingRepository) ReserveSeat(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE public_group_booking_details
		SET current_participants = current_participants + 1
		WHERE booking_id = $1 AND capacity_status = 'open' AND current_participants < max_participants
	`
	n, err := r.ExecAffected(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("reserve seat: %w", err)
	}
	return n == 1, nil
}

// SeatRelease describes what the departing participant held.
type SeatRelease struct {
	Authorized bool
	Captured   bool
}

// ReleaseSeat gives a seat back and reopens a full lesson.
func (r *BookingRepository) ReleaseSeat(ctx context.Context, id uuid.UUID, s SeatRelease) error {
	query := `
		UPDATE public_group_booking_details
		SET current_participants = current_participants - 1,
		    authorized_participants = authorized_participants - $2,
		    captured_participants = captured_participants - $3,
		    capacity_status = CASE WHEN capacity_status = 'full' THEN 'open' ELSE capacity_status END
		WHERE booking_id = $1
		  AND current_participants > 0
		  AND authorized_participants >= $2
		  AND captured_participants >= $3
	`
	return r.guarded(ctx, "release seat", query, id, flag(s.Authorized), flag(s.Captured))
}

func (r *BookingRepository) AddAuthorized(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE public_group_booking_details
		SET authorized_participants = authorized_participants + 1
		WHERE booking_id = $1 AND authorized_participants + captured_participants < current_participants
	`
	return r.guarded(ctx, "add authorized participant", query, id)
}

// RecordCapture counts one more captured participant and marks the lesson
// full when captures reach capacity. It returns the resulting capacity status.
func (r *BookingRepository) RecordCapture(ctx context.Context, id uuid.UUID, wasAuthorized bool) (model.CapacityStatus, error) {
	query := `
		UPDATE public_group_booking_details
		SET captured_participants = captured_participants + 1,
		    authorized_participants = authorized_participants - $2,
		    capacity_status = CASE
		        WHEN captured_participants + 1 >= max_participants THEN 'full'
		        ELSE capacity_status
		    END
		WHERE booking_id = $1
		  AND captured_participants < current_participants
		  AND authorized_participants >= $2
		RETURNING capacity_status
	`
	var status string
	err := r.QueryRow(ctx, query, id, flag(wasAuthorized)).Scan(&status)
	if err != nil {
		if base.IsNotFound(err) {
			return "", fmt.Errorf("record capture: %w", ErrStaleState)
		}
		return "", fmt.Errorf("record capture: %w", err)
	}
	return model.CapacityStatus(status), nil
}

func (r *BookingRepository) CloseLesson(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE public_group_booking_details SET capacity_status = 'closed' WHERE booking_id = $1`
	if _, err := r.ExecAffected(ctx, query, id); err != nil {
		return fmt.Errorf("close lesson: %w", err)
	}
	return nil
}

// Lock takes or extends the checkout lock. It reports false when another actor holds it.
func (r *BookingRepository) Lock(ctx context.Context, id, actorID uuid.UUID, until, now time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET locked_until = $3, locked_by = $2, updated_at = NOW()
		WHERE id = $1 AND (locked_until IS NULL OR locked_until <= $4 OR locked_by = $2)
	`
	n, err := r.ExecAffected(ctx, query, id, actorID, until, now)
	if err != nil {
		return false, fmt.Errorf("lock booking: %w", err)
	}
	return n == 1, nil
}

func (r *BookingRepository) Unlock(ctx context.Context, id, actorID uuid.UUID) error {
	query := `
		UPDATE bookings
		SET locked_until = NULL, locked_by = NULL, updated_at = NOW()
		WHERE id = $1 AND locked_by = $2
	`
	if _, err := r.ExecAffected(ctx, query, id, actorID); err != nil {
		return fmt.Errorf("unlock booking: %w", err)
	}
	return nil
}

// ClearExpiredLocks drops every lock that ended before now and returns the affected ids.
func (r *BookingRepository) ClearExpiredLocks(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE bookings
		SET locked_until = NULL, locked_by = NULL
		WHERE locked_until IS NOT NULL AND locked_until < $1
		RETURNING id
	`
	rows, err := r.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("clear expired locks: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cleared lock: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListReminderCandidates returns bookings awaiting payment whose deadline falls
// in [from, to] and that have not had the window's reminder yet.
func (r *BookingRepository) ListReminderCandidates(ctx context.Context, w model.ReminderWindow, from, to time.Time) ([]*model.Booking, error) {
	column, err := reminderColumn("b.", w)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + bookingColumns + bookingFrom + `
		WHERE b.payment_status = 'awaiting_payment'
		  AND b.status IN ('pending', 'accepted')
		  AND b.payment_due_at BETWEEN $1 AND $2
		  AND ` + column + ` IS NULL
		ORDER BY b.payment_due_at`
	return r.list(ctx, "list booking reminder candidates", query, from, to)
}

// ClaimReminder flags the reminder as sent. Only the first caller gets true.
func (r *BookingRepository) ClaimReminder(ctx context.Context, id uuid.UUID, w model.ReminderWindow, at time.Time) (bool, error) {
	column, err := reminderColumn("", w)
	if err != nil {
		return false, err
	}
	query := `UPDATE bookings SET ` + column + ` = $2 WHERE id = $1 AND ` + column + ` IS NULL`
	n, err := r.ExecAffected(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("claim booking reminder: %w", err)
	}
	return n == 1, nil
}

func (r *BookingRepository) ListOverduePayments(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error) {
	query := `SELECT ` + bookingColumns + bookingFrom + `
		WHERE b.payment_status = 'awaiting_payment'
		  AND b.status IN ('pending', 'accepted')
		  AND b.payment_due_at < $1
		ORDER BY b.payment_due_at
		LIMIT $2`
	return r.list(ctx, "list overdue payments", query, now, limit)
}

// ListFinished returns accepted, paid sessions that ended before the cutoff.
// Public lessons are paid per participant and carry payment status none.
func (r *BookingRepository) ListFinished(ctx context.Context, endedBefore time.Time, limit int) ([]*model.Booking, error) {
	query := `SELECT ` + bookingColumns + bookingFrom + `
		WHERE b.status = 'accepted'
		  AND b.payment_status IN ('captured', 'none')
		  AND b.end_at < $1
		ORDER BY b.end_at
		LIMIT $2`
	return r.list(ctx, "list finished bookings", query, endedBefore, limit)
}

func (r *BookingRepository) list(ctx context.Context, op, query string, args ...any) ([]*model.Booking, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return bookings, nil
}

func (r *BookingRepository) guarded(ctx context.Context, op, query string, args ...any) error {
	n, err := r.ExecAffected(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrStaleState)
	}
	return nil
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b    model.Booking
		kind string

		clientID    *uuid.UUID
		organizerID *uuid.UUID
		groupSize   *int
		memberIDs   []uuid.UUID

		title      *string
		price      *int64
		minP, maxP *int
		current    *int
		authorized *int
		captured   *int
		capacity   *string
	)

	err := row.Scan(
		&b.ID, &b.CoachID, &kind, &b.Status, &b.StartAt, &b.EndAt, &b.DurationMinutes, &b.Location,
		&b.PaymentStatus, &b.PaymentIntentID, &b.CoachRateCents, &b.ClientPaidCents, &b.PlatformFeeCents,
		&b.ProcessorFeeCents, &b.CoachPayoutCents, &b.PaymentDueAt, &b.CapturedAt,
		&b.Reminder12hSentAt, &b.Reminder30mSentAt, &b.LockedUntil, &b.LockedBy,
		&b.DeclineReason, &b.CancelledBy, &b.CancelledAt, &b.CancellationReason, &b.RefundAmountCents,
		&b.CreatedAt, &b.UpdatedAt,
		&clientID,
		&organizerID, &groupSize, &memberIDs,
		&title, &price, &minP, &maxP, &current, &authorized, &captured, &capacity,
	)
	if err != nil {
		return nil, err
	}

	b.Kind = model.BookingKind(kind)
	switch b.Kind {
	case model.BookingKindIndividual:
		if clientID == nil {
			return nil, fmt.Errorf("booking %s: missing individual details", b.ID)
		}
		b.Details = &model.IndividualDetails{ClientID: *clientID}
	case model.BookingKindPrivateGroup:
		if organizerID == nil {
			return nil, fmt.Errorf("booking %s: missing private group details", b.ID)
		}
		b.Details = &model.PrivateGroupDetails{
			OrganizerID: *organizerID,
			GroupSize:   deref(groupSize),
			MemberIDs:   memberIDs,
		}
	case model.BookingKindPublicGroup:
		if title == nil {
			return nil, fmt.Errorf("booking %s: missing public group details", b.ID)
		}
		b.Details = &model.PublicGroupDetails{
			Title:                  *title,
			PricePerPersonCents:    deref(price),
			MinParticipants:        deref(minP),
			MaxParticipants:        deref(maxP),
			CurrentParticipants:    deref(current),
			AuthorizedParticipants: deref(authorized),
			CapturedParticipants:   deref(captured),
			CapacityStatus:         model.CapacityStatus(deref(capacity)),
		}
	default:
		return nil, fmt.Errorf("booking %s: unknown booking type %q", b.ID, kind)
	}

	return &b, nil
}

func reminderColumn(prefix string, w model.ReminderWindow) (string, error) {
	switch w {
	case model.Reminder12h:
		return prefix + "reminder_12h_sent_at", nil
	case model.Reminder30m:
		return prefix + "reminder_30m_sent_at", nil
	}
	return "", fmt.Errorf("unknown reminder window %q", w)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
