// Package payment wraps the external card processor behind a small contract:
// manual-capture authorizations, refunds and coach payout accounts.
package payment

import (
	"context"
	"errors"
	"fmt"
)

// IntentStatus is the processor-side state of a payment intent.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// Capturable reports whether the hold can be captured right now.
func (s IntentStatus) Capturable() bool { return s == IntentRequiresCapture }

// Cancelable reports whether the intent can still be voided.
func (s IntentStatus) Cancelable() bool {
	switch s {
	case IntentSucceeded, IntentCanceled:
		return false
	}
	return true
}

// Gateway is the contract the booking engine relies on.
type Gateway interface {
	CreateAuthorization(ctx context.Context, req AuthorizationRequest) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	// Capture reads the intent back first and fails with *InvalidStateError
	// unless it is requires_capture.
	Capture(ctx context.Context, intentID string) (*Intent, error)
	CancelAuthorization(ctx context.Context, intentID string) (*Intent, error)
	// Refund returns amountCents of a captured intent; zero refunds everything.
	// The processor rejects amounts beyond what is still captured. A retry with
	// the same idempotencyKey replays the first result instead of moving money again.
	Refund(ctx context.Context, intentID string, amountCents int64, idempotencyKey string) (*Refund, error)

	// CreatePayoutAccount opens a connected account tagged with ownerID.
	CreatePayoutAccount(ctx context.Context, ownerID, email string) (string, error)
	CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	IsOnboarded(ctx context.Context, accountID string) (bool, error)
}

type AuthorizationRequest struct {
	AmountCents         int64
	Currency            string
	DestinationAccount  string
	ApplicationFeeCents int64
	IdempotencyKey      string
	Metadata            map[string]string
}

type Intent struct {
	ID                    string       `json:"id"`
	Status                IntentStatus `json:"status"`
	ClientSecret          string       `json:"client_secret,omitempty"`
	AmountCents           int64        `json:"amount_cents"`
	AmountCapturableCents int64        `json:"amount_capturable_cents"`
	AmountReceivedCents   int64        `json:"amount_received_cents"`
	AmountRefundedCents   int64        `json:"amount_refunded_cents"`
	CaptureMethod         string       `json:"capture_method"`
}

type Refund struct {
	ID          string `json:"id"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
}

// GatewayError is a processor or transport failure.
type GatewayError struct {
	Op       string
	IntentID string
	Code     string
	Err      error
}

func (e *GatewayError) Error() string {
	if e.IntentID != "" {
		return fmt.Sprintf("payment %s %s: %v", e.Op, e.IntentID, e.Err)
	}
	return fmt.Sprintf("payment %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// InvalidStateError is returned when an intent is not in a state that allows the operation.
type InvalidStateError struct {
	Op       string
	IntentID string
	Status   IntentStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s payment: status is '%s'", e.Op, e.Status)
}

// IsInvalidState unwraps err into an *InvalidStateError.
func IsInvalidState(err error) (*InvalidStateError, bool) {
	var ise *InvalidStateError
	if errors.As(err, &ise) {
		return ise, true
	}
	return nil, false
}
