// Package audit writes the append-only trail of state changes and payment events.
// Writes happen after the state change they describe has committed; a failed
// write is logged and never undoes or fails the operation.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/metrics"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
)

type Store interface {
	UpsertPaymentRecord(ctx context.Context, rec *model.PaymentRecord) error
	AppendTransitions(ctx context.Context, transitions ...model.StateTransition) error
	AppendAdminAction(ctx context.Context, a *model.AdminAction) error
}

// Change is one field moving from Old to New.
type Change struct {
	Field model.TransitionField
	Old   string
	New   string
}

func Status[T ~string](from, to T) Change {
	return Change{Field: model.FieldStatus, Old: string(from), New: string(to)}
}

func Payment[T ~string](from, to T) Change {
	return Change{Field: model.FieldPaymentStatus, Old: string(from), New: string(to)}
}

func Capacity(from, to model.CapacityStatus) Change {
	return Change{Field: model.FieldCapacity, Old: string(from), New: string(to)}
}

// Entry groups the changes of one committed operation.
type Entry struct {
	Actor         model.Actor
	Kind          model.BookingKind
	BookingID     uuid.UUID
	ParticipantID *uuid.UUID
	Reason        *string
	Changes       []Change
}

type Recorder struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// Transitions records every non-trivial change in e.
func (r *Recorder) Transitions(ctx context.Context, e Entry) {
	at := r.now().UTC()
	rows := make([]model.StateTransition, 0, len(e.Changes))
	for _, c := range e.Changes {
		if c.Old == c.New {
			continue
		}
		rows = append(rows, model.StateTransition{
			BookingID:     e.BookingID,
			ParticipantID: e.ParticipantID,
			Field:         c.Field,
			OldValue:      c.Old,
			NewValue:      c.New,
			ActorID:       e.Actor.Ref(),
			ActorRole:     e.Actor.Role,
			Reason:        e.Reason,
			CreatedAt:     at,
		})
		if c.Field == model.FieldStatus {
			metrics.RecordTransition(string(e.Kind), c.New)
		}
	}
	if len(rows) == 0 {
		return
	}

	if err := r.store.AppendTransitions(ctx, rows...); err != nil {
		r.logger.Error("Failed to record state transitions",
			zap.String("booking_id", e.BookingID.String()),
			zap.Int("count", len(rows)),
			zap.Error(err),
		)
	}
}

// PaymentEvent upserts the latest known state of a payment intent.
func (r *Recorder) PaymentEvent(ctx context.Context, rec *model.PaymentRecord) {
	if rec.LastEventAt.IsZero() {
		rec.LastEventAt = r.now().UTC()
	}
	if rec.CaptureMethod == "" {
		rec.CaptureMethod = "manual"
	}
	if err := r.store.UpsertPaymentRecord(ctx, rec); err != nil {
		r.logger.Error("Failed to record payment event",
			zap.String("payment_intent_id", rec.PaymentIntentID),
			zap.String("event", rec.LastEventType),
			zap.Error(err),
		)
	}
}

func (r *Recorder) AdminAction(ctx context.Context, a *model.AdminAction) {
	if err := r.store.AppendAdminAction(ctx, a); err != nil {
		r.logger.Error("Failed to record admin action",
			zap.String("admin_id", a.AdminID.String()),
			zap.String("action", string(a.Action)),
			zap.String("target_id", a.TargetID.String()),
			zap.Error(err),
		)
	}
}
