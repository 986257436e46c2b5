package payment

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
)

type fakeStripe struct {
	t        *testing.T
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
	requests []string
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	f.requests = append(f.requests, key)
	h, ok := f.routes[key]
	if !ok {
		f.t.Errorf("unexpected request %s", key)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	h(w, r)
}

func jsonReply(status int, body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func newTestGateway(t *testing.T, routes map[string]func(http.ResponseWriter, *http.Request)) (*StripeGateway, *fakeStripe) {
	fake := &fakeStripe{t: t, routes: routes}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripeGatewayWithBackend("sk_test_123", backend, zap.NewNop()), fake
}

func TestStripeGateway_CaptureRefusesNonCapturableIntent(t *testing.T) {
	gw, fake := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /v1/payment_intents/pi_1": jsonReply(200, `{"id":"pi_1","object":"payment_intent","status":"requires_action","amount":6900}`),
	})

	_, err := gw.Capture(context.Background(), "pi_1")

	ise, ok := IsInvalidState(err)
	require.True(t, ok, "expected invalid state error, got %v", err)
	assert.Equal(t, IntentRequiresAction, ise.Status)
	assert.Equal(t, "cannot capture payment: status is 'requires_action'", err.Error())
	assert.Equal(t, []string{"GET /v1/payment_intents/pi_1"}, fake.requests)
}

func TestStripeGateway_CaptureAfterReadBack(t *testing.T) {
	gw, fake := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /v1/payment_intents/pi_1":          jsonReply(200, `{"id":"pi_1","object":"payment_intent","status":"requires_capture","amount":6900,"amount_capturable":6900}`),
		"POST /v1/payment_intents/pi_1/capture": jsonReply(200, `{"id":"pi_1","object":"payment_intent","status":"succeeded","amount":6900,"amount_received":6900}`),
	})

	intent, err := gw.Capture(context.Background(), "pi_1")

	require.NoError(t, err)
	assert.Equal(t, IntentSucceeded, intent.Status)
	assert.Equal(t, int64(6900), intent.AmountReceivedCents)
	assert.Len(t, fake.requests, 2)
}

func TestStripeGateway_PartialRefundSendsAmount(t *testing.T) {
	gw, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /v1/refunds": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "pi_1", r.PostForm.Get("payment_intent"))
			assert.Equal(t, "3450", r.PostForm.Get("amount"))
			assert.Equal(t, "refund-cancel-b-1", r.Header.Get("Idempotency-Key"))
			_, _ = io.WriteString(w, `{"id":"re_1","object":"refund","amount":3450,"status":"succeeded"}`)
		},
	})

	refund, err := gw.Refund(context.Background(), "pi_1", 3450, "refund-cancel-b-1")

	require.NoError(t, err)
	assert.Equal(t, "re_1", refund.ID)
	assert.Equal(t, int64(3450), refund.AmountCents)
}

func TestStripeGateway_RetriedRefundReplaysWithSameKey(t *testing.T) {
	var keys []string
	gw, fake := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /v1/refunds": func(w http.ResponseWriter, r *http.Request) {
			keys = append(keys, r.Header.Get("Idempotency-Key"))
			_, _ = io.WriteString(w, `{"id":"re_1","object":"refund","amount":3450,"status":"succeeded"}`)
		},
	})

	first, err := gw.Refund(context.Background(), "pi_1", 3450, "refund-admin-b-1-0-3450")
	require.NoError(t, err)
	second, err := gw.Refund(context.Background(), "pi_1", 3450, "refund-admin-b-1-0-3450")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"refund-admin-b-1-0-3450", "refund-admin-b-1-0-3450"}, keys)
	assert.Len(t, fake.requests, 2)
}

func TestStripeGateway_GetIntentReportsRefundedAmount(t *testing.T) {
	gw, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /v1/payment_intents/pi_1": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "latest_charge", r.URL.Query().Get("expand[0]"))
			_, _ = io.WriteString(w, `{"id":"pi_1","object":"payment_intent","status":"succeeded","amount":6900,"amount_received":6900,"latest_charge":{"id":"ch_1","object":"charge","amount":6900,"amount_refunded":3450}}`)
		},
	})

	intent, err := gw.GetIntent(context.Background(), "pi_1")

	require.NoError(t, err)
	assert.Equal(t, int64(6900), intent.AmountReceivedCents)
	assert.Equal(t, int64(3450), intent.AmountRefundedCents)
}

func TestStripeGateway_CreatePayoutAccountTagsOwner(t *testing.T) {
	gw, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /v1/accounts": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "express", r.PostForm.Get("type"))
			assert.Equal(t, "coach@example.com", r.PostForm.Get("email"))
			assert.Equal(t, "u-42", r.PostForm.Get("metadata[owner_id]"))
			_, _ = io.WriteString(w, `{"id":"acct_new","object":"account"}`)
		},
	})

	id, err := gw.CreatePayoutAccount(context.Background(), "u-42", "coach@example.com")

	require.NoError(t, err)
	assert.Equal(t, "acct_new", id)
}

func TestStripeGateway_CreateAuthorizationUsesManualCapture(t *testing.T) {
	gw, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /v1/payment_intents": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "manual", r.PostForm.Get("capture_method"))
			assert.Equal(t, "6900", r.PostForm.Get("amount"))
			assert.Equal(t, "acct_coach", r.PostForm.Get("transfer_data[destination]"))
			assert.Equal(t, "1130", r.PostForm.Get("application_fee_amount"))
			assert.Equal(t, "b-1", r.PostForm.Get("metadata[booking_id]"))
			assert.Equal(t, "create:b-1", r.Header.Get("Idempotency-Key"))
			_, _ = io.WriteString(w, `{"id":"pi_new","object":"payment_intent","status":"requires_payment_method","client_secret":"pi_new_secret","amount":6900,"capture_method":"manual"}`)
		},
	})

	intent, err := gw.CreateAuthorization(context.Background(), AuthorizationRequest{
		AmountCents:         6900,
		Currency:            "usd",
		DestinationAccount:  "acct_coach",
		ApplicationFeeCents: 1130,
		IdempotencyKey:      "create:b-1",
		Metadata:            map[string]string{"booking_id": "b-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_new", intent.ID)
	assert.Equal(t, "pi_new_secret", intent.ClientSecret)
	assert.Equal(t, IntentRequiresPaymentMethod, intent.Status)
}

func TestStripeGateway_ProcessorErrorIsWrapped(t *testing.T) {
	gw, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /v1/payment_intents/pi_1/cancel": jsonReply(400, `{"error":{"type":"invalid_request_error","code":"payment_intent_unexpected_state","message":"already succeeded"}}`),
	})

	_, err := gw.CancelAuthorization(context.Background(), "pi_1")

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "cancel", gwErr.Op)
	assert.Equal(t, "pi_1", gwErr.IntentID)
	assert.Equal(t, "payment_intent_unexpected_state", gwErr.Code)
}

func TestStripeGateway_IsOnboarded(t *testing.T) {
	gw, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /v1/accounts/acct_1": jsonReply(200, `{"id":"acct_1","object":"account","charges_enabled":true,"details_submitted":true}`),
		"GET /v1/accounts/acct_2": jsonReply(200, `{"id":"acct_2","object":"account","charges_enabled":false,"details_submitted":true}`),
	})

	ok, err := gw.IsOnboarded(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gw.IsOnboarded(context.Background(), "acct_2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIntentStatus(t *testing.T) {
	assert.True(t, IntentRequiresCapture.Capturable())
	assert.False(t, IntentSucceeded.Capturable())
	assert.True(t, IntentRequiresPaymentMethod.Cancelable())
	assert.False(t, IntentSucceeded.Cancelable())
	assert.False(t, IntentCanceled.Cancelable())
}
