package payment

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/metrics"
)

// StripeGateway implements Gateway with destination charges on connected accounts.
type StripeGateway struct {
	api    *client.API
	logger *zap.Logger
}

func NewStripeGateway(secretKey string, logger *zap.Logger) *StripeGateway {
	return &StripeGateway{
		api:    client.New(secretKey, nil),
		logger: logger,
	}
}

// NewStripeGatewayWithBackend points the client at a custom backend.
func NewStripeGatewayWithBackend(secretKey string, backend stripe.Backend, logger *zap.Logger) *StripeGateway {
	return &StripeGateway{
		api:    client.New(secretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
		logger: logger,
	}
}

func (g *StripeGateway) CreateAuthorization(ctx context.Context, req AuthorizationRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.DestinationAccount != "" {
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.DestinationAccount),
		}
		params.ApplicationFeeAmount = stripe.Int64(req.ApplicationFeeCents)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, g.fail("authorize", "", err)
	}
	g.ok("authorize")

	g.logger.Info("Payment authorization created",
		zap.String("intent_id", pi.ID),
		zap.Int64("amount_cents", req.AmountCents),
	)
	return toIntent(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.AddExpand("latest_charge")
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, g.fail("retrieve", intentID, err)
	}
	g.ok("retrieve")
	return toIntent(pi), nil
}

func (g *StripeGateway) Capture(ctx context.Context, intentID string) (*Intent, error) {
	current, err := g.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !current.Status.Capturable() {
		metrics.RecordGatewayCall("capture", "invalid_state")
		g.logger.Warn("Payment not capturable",
			zap.String("intent_id", intentID),
			zap.String("status", string(current.Status)),
		)
		return nil, &InvalidStateError{Op: "capture", IntentID: intentID, Status: current.Status}
	}

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Capture(intentID, params)
	if err != nil {
		return nil, g.fail("capture", intentID, err)
	}
	g.ok("capture")

	g.logger.Info("Payment captured",
		zap.String("intent_id", intentID),
		zap.Int64("amount_received_cents", pi.AmountReceived),
	)
	return toIntent(pi), nil
}

func (g *StripeGateway) CancelAuthorization(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Cancel(intentID, params)
	if err != nil {
		return nil, g.fail("cancel", intentID, err)
	}
	g.ok("cancel")

	g.logger.Info("Payment authorization cancelled", zap.String("intent_id", intentID))
	return toIntent(pi), nil
}

func (g *StripeGateway) Refund(ctx context.Context, intentID string, amountCents int64, idempotencyKey string) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	if amountCents > 0 {
		params.Amount = stripe.Int64(amountCents)
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	params.Context = ctx

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, g.fail("refund", intentID, err)
	}
	g.ok("refund")

	g.logger.Info("Payment refunded",
		zap.String("intent_id", intentID),
		zap.String("refund_id", r.ID),
		zap.Int64("amount_cents", r.Amount),
	)
	return &Refund{ID: r.ID, AmountCents: r.Amount, Status: string(r.Status)}, nil
}

func (g *StripeGateway) CreatePayoutAccount(ctx context.Context, ownerID, email string) (string, error) {
	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.AddMetadata("owner_id", ownerID)
	params.Context = ctx

	acct, err := g.api.Accounts.New(params)
	if err != nil {
		return "", g.fail("create_account", "", err)
	}
	g.ok("create_account")
	return acct.ID, nil
}

func (g *StripeGateway) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := g.api.AccountLinks.New(params)
	if err != nil {
		return "", g.fail("onboarding_link", "", err)
	}
	g.ok("onboarding_link")
	return link.URL, nil
}

func (g *StripeGateway) IsOnboarded(ctx context.Context, accountID string) (bool, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := g.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return false, g.fail("get_account", "", err)
	}
	g.ok("get_account")
	return acct.ChargesEnabled && acct.DetailsSubmitted, nil
}

func (g *StripeGateway) ok(op string) {
	metrics.RecordGatewayCall(op, "ok")
}

func (g *StripeGateway) fail(op, intentID string, err error) error {
	metrics.RecordGatewayCall(op, "error")

	gwErr := &GatewayError{Op: op, IntentID: intentID, Err: err}
	var se *stripe.Error
	if errors.As(err, &se) {
		gwErr.Code = string(se.Code)
	}

	g.logger.Error("Payment gateway call failed",
		zap.String("op", op),
		zap.String("intent_id", intentID),
		zap.String("code", gwErr.Code),
		zap.Error(err),
	)
	return gwErr
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:                    pi.ID,
		Status:                IntentStatus(pi.Status),
		ClientSecret:          pi.ClientSecret,
		AmountCents:           pi.Amount,
		AmountCapturableCents: pi.AmountCapturable,
		AmountReceivedCents:   pi.AmountReceived,
		CaptureMethod:         string(pi.CaptureMethod),
	}
	if pi.LatestCharge != nil {
		intent.AmountRefundedCents = pi.LatestCharge.AmountRefunded
	}
	return intent
}
