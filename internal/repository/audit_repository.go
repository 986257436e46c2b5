package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/repository/base"
)

// AuditRepository is the append-only record of payments, transitions and admin actions.
type AuditRepository struct {
	*base.Repository
}

func NewAuditRepository(db *base.Repository) *AuditRepository {
	return &AuditRepository{Repository: db}
}

// UpsertPaymentRecord keeps one row per payment intent. Events older than the
// stored one do not overwrite it.
func (r *AuditRepository) UpsertPaymentRecord(ctx context.Context, rec *model.PaymentRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	query := `
		INSERT INTO payment_records
			(id, payment_intent_id, booking_id, participant_id, status, amount_cents, capture_method, last_event_type, last_event_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (payment_intent_id) DO UPDATE SET
			status          = EXCLUDED.status,
			amount_cents    = CASE WHEN EXCLUDED.amount_cents > 0 THEN EXCLUDED.amount_cents ELSE payment_records.amount_cents END,
			last_event_type = EXCLUDED.last_event_type,
			last_event_at   = EXCLUDED.last_event_at,
			booking_id      = COALESCE(payment_records.booking_id, EXCLUDED.booking_id),
			participant_id  = COALESCE(payment_records.participant_id, EXCLUDED.participant_id)
		WHERE payment_records.last_event_at <= EXCLUDED.last_event_at
	`
	_, err := r.ExecAffected(ctx, query,
		rec.ID, rec.PaymentIntentID, rec.BookingID, rec.ParticipantID, rec.Status, rec.AmountCents,
		rec.CaptureMethod, rec.LastEventType, rec.LastEventAt,
	)
	if err != nil {
		return fmt.Errorf("upsert payment record: %w", err)
	}
	return nil
}

func (r *AuditRepository) AppendTransitions(ctx context.Context, transitions ...model.StateTransition) error {
	query := `
		INSERT INTO state_transitions
			(id, booking_id, participant_id, field, old_value, new_value, actor_id, actor_role, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, t := range transitions {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		_, err := r.ExecAffected(ctx, query,
			t.ID, t.BookingID, t.ParticipantID, t.Field, t.OldValue, t.NewValue,
			t.ActorID, t.ActorRole, t.Reason, t.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("append transition: %w", err)
		}
	}
	return nil
}

func (r *AuditRepository) ListTransitions(ctx context.Context, bookingID uuid.UUID) ([]model.StateTransition, error) {
	query := `
		SELECT id, booking_id, participant_id, field, old_value, new_value, actor_id, actor_role, reason, created_at
		FROM state_transitions
		WHERE booking_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.Query(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []model.StateTransition
	for rows.Next() {
		var t model.StateTransition
		if err := rows.Scan(
			&t.ID, &t.BookingID, &t.ParticipantID, &t.Field, &t.OldValue, &t.NewValue,
			&t.ActorID, &t.ActorRole, &t.Reason, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *AuditRepository) AppendAdminAction(ctx context.Context, a *model.AdminAction) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	query := `
		INSERT INTO admin_actions (id, admin_id, action, target_type, target_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.QueryRow(ctx, query, a.ID, a.AdminID, a.Action, a.TargetType, a.TargetID, a.Notes).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("append admin action: %w", err)
	}
	return nil
}
