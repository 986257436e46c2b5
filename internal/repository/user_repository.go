package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/repository/base"
)

type UserRepository struct {
	*base.Repository
}

func NewUserRepository(db *base.Repository) *UserRepository {
	return &UserRepository{Repository: db}
}

// Create inserts the user and, for coaches, the coach profile.
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.WithinTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO users (id, email, full_name, role, telegram_chat_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`
		err := r.QueryRow(ctx, query,
			user.ID, user.Email, user.FullName, user.Role, user.TelegramChatID,
		).Scan(&user.CreatedAt)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		if user.Coach == nil {
			return nil
		}
		_, err = r.ExecAffected(ctx, `
			INSERT INTO coach_profiles (user_id, hourly_rate_cents, group_hourly_rate_cents, approval)
			VALUES ($1, $2, $3, $4)`,
			user.ID, user.Coach.HourlyRateCents, user.Coach.GroupHourlyRateCents, user.Coach.Approval,
		)
		if err != nil {
			return fmt.Errorf("create coach profile: %w", err)
		}
		return nil
	})
}

// GetByID returns nil, nil when the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `
		SELECT u.id, u.email, u.full_name, u.role, u.telegram_chat_id, u.suspended, u.created_at,
		       c.hourly_rate_cents, c.group_hourly_rate_cents, c.payout_account_id, c.payout_onboarded, c.approval
		FROM users u
		LEFT JOIN coach_profiles c ON c.user_id = u.id
		WHERE u.id = $1
	`

	var (
		user      model.User
		rate      *int64
		groupRate *int64
		account   *string
		onboarded *bool
		approval  *string
	)
	err := r.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.FullName, &user.Role, &user.TelegramChatID, &user.Suspended, &user.CreatedAt,
		&rate, &groupRate, &account, &onboarded, &approval,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	if rate != nil {
		user.Coach = &model.CoachProfile{
			HourlyRateCents:      *rate,
			GroupHourlyRateCents: groupRate,
			PayoutAccountID:      account,
			PayoutOnboarded:      deref(onboarded),
			Approval:             model.CoachApproval(deref(approval)),
		}
	}

	return &user, nil
}

// SetPayoutAccount stores the account id once; it reports false when one is already set.
func (r *UserRepository) SetPayoutAccount(ctx context.Context, coachID uuid.UUID, accountID string) (bool, error) {
	query := `
		UPDATE coach_profiles
		SET payout_account_id = $2, updated_at = NOW()
		WHERE user_id = $1 AND payout_account_id IS NULL
	`
	n, err := r.ExecAffected(ctx, query, coachID, accountID)
	if err != nil {
		return false, fmt.Errorf("set payout account: %w", err)
	}
	return n == 1, nil
}

func (r *UserRepository) SetPayoutOnboarded(ctx context.Context, coachID uuid.UUID, onboarded bool) error {
	query := `UPDATE coach_profiles SET payout_onboarded = $2, updated_at = NOW() WHERE user_id = $1`
	n, err := r.ExecAffected(ctx, query, coachID, onboarded)
	if err != nil {
		return fmt.Errorf("set payout onboarded: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set payout onboarded: coach profile not found")
	}
	return nil
}

func (r *UserRepository) SetCoachApproval(ctx context.Context, coachID uuid.UUID, approval model.CoachApproval) error {
	query := `UPDATE coach_profiles SET approval = $2, updated_at = NOW() WHERE user_id = $1`
	n, err := r.ExecAffected(ctx, query, coachID, approval)
	if err != nil {
		return fmt.Errorf("set coach approval: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set coach approval: coach profile not found")
	}
	return nil
}

func (r *UserRepository) SetSuspended(ctx context.Context, userID uuid.UUID, suspended bool) error {
	n, err := r.ExecAffected(ctx, `UPDATE users SET suspended = $2 WHERE id = $1`, userID, suspended)
	if err != nil {
		return fmt.Errorf("set suspended: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set suspended: user not found")
	}
	return nil
}

// SetTelegramChat links a Telegram chat for push notices.
func (r *UserRepository) SetTelegramChat(ctx context.Context, userID uuid.UUID, chatID int64) error {
	n, err := r.ExecAffected(ctx, `UPDATE users SET telegram_chat_id = $2 WHERE id = $1 AND NOT suspended`, userID, chatID)
	if err != nil {
		return fmt.Errorf("set telegram chat: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
