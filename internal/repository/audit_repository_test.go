package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
)

func TestAuditRepository_UpsertPaymentRecord(t *testing.T) {
	mock, db := newMockDB(t)
	bookingID := uuid.New()
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("ON CONFLICT \\(payment_intent_id\\) DO UPDATE").
		WithArgs(pgxmock.AnyArg(), "pi_1", &bookingID, (*uuid.UUID)(nil), "requires_capture", int64(6900),
			"manual", "payment_intent.amount_capturable_updated", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := &model.PaymentRecord{
		PaymentIntentID: "pi_1",
		BookingID:       &bookingID,
		Status:          "requires_capture",
		AmountCents:     6900,
		CaptureMethod:   "manual",
		LastEventType:   "payment_intent.amount_capturable_updated",
		LastEventAt:     at,
	}
	err := NewAuditRepository(db).UpsertPaymentRecord(context.Background(), rec)

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_AppendTransitions(t *testing.T) {
	mock, db := newMockDB(t)
	bookingID := uuid.New()
	at := time.Now()

	mock.ExpectExec("INSERT INTO state_transitions").
		WithArgs(pgxmock.AnyArg(), bookingID, (*uuid.UUID)(nil), model.FieldStatus, "pending", "accepted",
			(*uuid.UUID)(nil), model.RoleSystem, (*string)(nil), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO state_transitions").
		WithArgs(pgxmock.AnyArg(), bookingID, (*uuid.UUID)(nil), model.FieldPaymentStatus, "authorized", "captured",
			(*uuid.UUID)(nil), model.RoleSystem, (*string)(nil), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := NewAuditRepository(db).AppendTransitions(context.Background(),
		model.StateTransition{BookingID: bookingID, Field: model.FieldStatus, OldValue: "pending", NewValue: "accepted", ActorRole: model.RoleSystem, CreatedAt: at},
		model.StateTransition{BookingID: bookingID, Field: model.FieldPaymentStatus, OldValue: "authorized", NewValue: "captured", ActorRole: model.RoleSystem, CreatedAt: at},
	)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_SetPayoutAccountOnce(t *testing.T) {
	mock, db := newMockDB(t)
	coachID := uuid.New()

	mock.ExpectExec("SET payout_account_id = \\$2").
		WithArgs(coachID, "acct_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := NewUserRepository(db).SetPayoutAccount(context.Background(), coachID, "acct_1")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_SetTelegramChat(t *testing.T) {
	mock, db := newMockDB(t)
	userID := uuid.New()

	mock.ExpectExec("SET telegram_chat_id = \\$2").
		WithArgs(userID, int64(4242)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET telegram_chat_id = \\$2").
		WithArgs(userID, int64(4242)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewUserRepository(db)
	require.NoError(t, repo.SetTelegramChat(context.Background(), userID, 4242))
	assert.ErrorIs(t, repo.SetTelegramChat(context.Background(), userID, 4242), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_ListTransitions(t *testing.T) {
	mock, db := newMockDB(t)
	bookingID := uuid.New()
	coachID := uuid.New()
	reason := "coach accepted"
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	cols := []string{"id", "booking_id", "participant_id", "field", "old_value", "new_value", "actor_id", "actor_role", "reason", "created_at"}
	mock.ExpectQuery("FROM state_transitions").
		WithArgs(bookingID).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(uuid.New(), bookingID, (*uuid.UUID)(nil), model.FieldStatus, "pending", "accepted", &coachID, model.RoleCoach, &reason, at).
			AddRow(uuid.New(), bookingID, (*uuid.UUID)(nil), model.FieldPaymentStatus, "authorized", "captured", &coachID, model.RoleCoach, (*string)(nil), at))

	got, err := NewAuditRepository(db).ListTransitions(context.Background(), bookingID)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.FieldStatus, got[0].Field)
	assert.Equal(t, "accepted", got[0].NewValue)
	assert.Equal(t, model.RoleCoach, got[0].ActorRole)
	assert.Equal(t, "captured", got[1].NewValue)
	assert.Nil(t, got[1].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}
