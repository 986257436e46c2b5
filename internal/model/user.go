package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleClient Role = "client"
	RoleCoach  Role = "coach"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

type CoachApproval string

const (
	CoachApprovalPending  CoachApproval = "pending"
	CoachApprovalApproved CoachApproval = "approved"
	CoachApprovalRejected CoachApproval = "rejected"
)

type User struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	Role           Role      `json:"role"`
	TelegramChatID *int64    `json:"telegram_chat_id,omitempty"`
	Suspended      bool      `json:"suspended"`
	CreatedAt      time.Time `json:"created_at"`

	// Loaded for coaches only
	Coach *CoachProfile `json:"coach,omitempty"`
}

type CoachProfile struct {
	HourlyRateCents      int64         `json:"hourly_rate_cents"`
	GroupHourlyRateCents *int64        `json:"group_hourly_rate_cents,omitempty"`
	PayoutAccountID      *string       `json:"payout_account_id,omitempty"`
	PayoutOnboarded      bool          `json:"payout_onboarded"`
	Approval             CoachApproval `json:"approval"`
}

// CanReceiveBookings reports whether bookings can route money to the coach.
func (c *CoachProfile) CanReceiveBookings() bool {
	return c != nil && c.Approval == CoachApprovalApproved && c.PayoutOnboarded && c.PayoutAccountID != nil
}

// GroupRate falls back to the individual rate when no group rate is set.
func (c *CoachProfile) GroupRate() int64 {
	if c.GroupHourlyRateCents != nil {
		return *c.GroupHourlyRateCents
	}
	return c.HourlyRateCents
}

// Actor is whoever performs an operation.
type Actor struct {
	UserID uuid.UUID
	Role   Role
	Job    string // set for scheduler runs
}

// SystemActor identifies a scheduled job.
func SystemActor(job string) Actor {
	return Actor{Role: RoleSystem, Job: job}
}

func (a Actor) IsSystem() bool { return a.Role == RoleSystem }

// Ref is the actor reference written to the audit trail.
func (a Actor) Ref() *uuid.UUID {
	if a.IsSystem() || a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}
