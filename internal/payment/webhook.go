package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookEvent is the part of a processor notification the engine acts on.
type WebhookEvent struct {
	ID      string
	Type    string
	Created time.Time

	// Set for payment_intent.* events
	Intent *Intent
	// Set for charge.dispute.* events
	DisputedIntentID string
	DisputeStatus    string
}

// IsIntentEvent reports whether the event carries a payment intent snapshot.
func (e *WebhookEvent) IsIntentEvent() bool {
	return e.Intent != nil
}

// IsDispute reports whether the event opens or updates a dispute.
func (e *WebhookEvent) IsDispute() bool {
	return strings.HasPrefix(e.Type, "charge.dispute.")
}

type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Parse verifies the signature header and decodes the event payload.
func (v *WebhookVerifier) Parse(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, v.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}

	switch {
	case strings.HasPrefix(out.Type, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out.Intent = toIntent(&pi)
	case out.IsDispute():
		var d stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &d); err != nil {
			return nil, fmt.Errorf("decode dispute: %w", err)
		}
		if d.PaymentIntent != nil {
			out.DisputedIntentID = d.PaymentIntent.ID
		}
		out.DisputeStatus = string(d.Status)
	}

	return out, nil
}
