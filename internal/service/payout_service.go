package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/payment"
)

// PayoutService connects coaches to a payout account with the processor.
type PayoutService struct {
	users    UserStore
	gateway  payment.Gateway
	settings Settings
	logger   *zap.Logger
}

func NewPayoutService(users UserStore, gateway payment.Gateway, settings Settings, logger *zap.Logger) *PayoutService {
	return &PayoutService{
		users:    users,
		gateway:  gateway,
		settings: settings,
		logger:   logger,
	}
}

// StartOnboarding creates the coach's payout account on first use and returns
// a fresh onboarding link for it.
func (s *PayoutService) StartOnboarding(ctx context.Context, actor model.Actor) (string, error) {
	coach, err := s.coach(ctx, actor)
	if err != nil {
		return "", err
	}

	var accountID string
	if coach.Coach.PayoutAccountID != nil {
		accountID = *coach.Coach.PayoutAccountID
	} else {
		accountID, err = s.gateway.CreatePayoutAccount(ctx, coach.ID.String(), coach.Email)
		if err != nil {
			s.logger.Error("Failed to create payout account", zap.String("coach_id", coach.ID.String()), zap.Error(err))
			return "", gatewayError(err)
		}

		stored, err := s.users.SetPayoutAccount(ctx, coach.ID, accountID)
		if err != nil {
			return "", err
		}
		if !stored {
			// A concurrent request stored its account first; use that one.
			coach, err = s.coach(ctx, actor)
			if err != nil {
				return "", err
			}
			s.logger.Warn("Discarding duplicate payout account",
				zap.String("coach_id", coach.ID.String()),
				zap.String("account_id", accountID),
			)
			accountID = *coach.Coach.PayoutAccountID
		} else {
			s.logger.Info("Payout account created",
				zap.String("coach_id", coach.ID.String()),
				zap.String("account_id", accountID),
			)
		}
	}

	link, err := s.gateway.CreateOnboardingLink(ctx, accountID, s.settings.OnboardingRefreshURL, s.settings.OnboardingReturnURL)
	if err != nil {
		s.logger.Error("Failed to create onboarding link", zap.String("coach_id", coach.ID.String()), zap.Error(err))
		return "", gatewayError(err)
	}
	return link, nil
}

// RefreshOnboardingStatus asks the processor whether onboarding is finished
// and stores the answer.
func (s *PayoutService) RefreshOnboardingStatus(ctx context.Context, actor model.Actor) (bool, error) {
	coach, err := s.coach(ctx, actor)
	if err != nil {
		return false, err
	}
	if coach.Coach.PayoutAccountID == nil {
		return false, conflict("Start payout onboarding first")
	}

	onboarded, err := s.gateway.IsOnboarded(ctx, *coach.Coach.PayoutAccountID)
	if err != nil {
		s.logger.Error("Failed to read payout account", zap.String("coach_id", coach.ID.String()), zap.Error(err))
		return false, gatewayError(err)
	}
	if onboarded == coach.Coach.PayoutOnboarded {
		return onboarded, nil
	}

	if err := s.users.SetPayoutOnboarded(ctx, coach.ID, onboarded); err != nil {
		return false, err
	}
	s.logger.Info("Payout onboarding status changed",
		zap.String("coach_id", coach.ID.String()),
		zap.Bool("onboarded", onboarded),
	)
	return onboarded, nil
}

func (s *PayoutService) coach(ctx context.Context, actor model.Actor) (*model.User, error) {
	if actor.Role != model.RoleCoach {
		return nil, forbidden("Only coaches have payout accounts")
	}
	u, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil || u.Coach == nil {
		return nil, notFound("Coach profile")
	}
	return u, nil
}
