package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
)

const testSecret = "whsec_test_secret"

// --- Helpers ---

func newTestClient(t *testing.T, backendURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		SecretKey:     "sk_test_123",
		WebhookSecret: testSecret,
		Env:           "test",
		BackendURL:    backendURL,
	})
	require.NoError(t, err)
	return c
}

func sessionRequest() order.SessionRequest {
	return order.SessionRequest{
		OrderID:     "ord-1",
		OrderNumber: "ORD-123456-ABCDEF",
		OwnerID:     "user-1",
		Charge:      pricing.Money{Amount: decimal.RequireFromString("20.79"), Currency: "USD"},
		Original:    pricing.Money{Amount: decimal.RequireFromString("378"), Currency: "ZAR"},
		ItemCount:   3,
		SuccessURL:  "https://shop.test/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   "https://shop.test/cart",
	}
}

func signed(t *testing.T, event map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return sp.Payload, sp.Header
}

func sessionEvent(typ, paymentStatus string) map[string]any {
	return map[string]any{
		"id":     "evt_1",
		"object": "event",
		"type":   typ,
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_test_1",
				"object":         "checkout.session",
				"payment_status": paymentStatus,
				"metadata": map[string]string{
					MetaOrderID: "ord-1",
					MetaUserID:  "user-1",
				},
			},
		},
	}
}

// --- Tests ---

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"test key in test env", Config{SecretKey: "sk_test_1", WebhookSecret: "s", Env: "test"}, true},
		{"empty env defaults to test", Config{SecretKey: "rk_test_1", WebhookSecret: "s"}, true},
		{"live key in live env", Config{SecretKey: "sk_live_1", WebhookSecret: "s", Env: "LIVE"}, true},
		{"live key in test env", Config{SecretKey: "sk_live_1", WebhookSecret: "s", Env: "test"}, false},
		{"test key in live env", Config{SecretKey: "sk_test_1", WebhookSecret: "s", Env: "live"}, false},
		{"unknown env", Config{SecretKey: "sk_test_1", WebhookSecret: "s", Env: "staging"}, false},
		{"missing key", Config{WebhookSecret: "s"}, false},
		{"missing webhook secret", Config{SecretKey: "sk_test_1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCreateSession(t *testing.T) {
	var (
		form       map[string]string
		idemKey    string
		authHeader string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		idemKey = r.Header.Get("Idempotency-Key")
		authHeader = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	s, err := c.CreateSession(context.Background(), sessionRequest())
	require.NoError(t, err)

	assert.Equal(t, "cs_test_1", s.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", s.RedirectURL)

	assert.Equal(t, "payment", form["mode"])
	assert.Equal(t, "ord-1", form["client_reference_id"])
	assert.Equal(t, "usd", form["line_items[0][price_data][currency]"])
	assert.Equal(t, "2079", form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, "Order ORD-123456-ABCDEF", form["line_items[0][price_data][product_data][name]"])
	assert.Equal(t, "3 items", form["line_items[0][price_data][product_data][description]"])
	assert.Equal(t, "1", form["line_items[0][quantity]"])
	assert.Equal(t, "ord-1", form["metadata[order_id]"])
	assert.Equal(t, "user-1", form["metadata[user_id]"])
	assert.Equal(t, "378.00", form["metadata[original_amount]"])
	assert.Equal(t, "ZAR", form["metadata[original_currency]"])
	assert.Equal(t, "checkout-ord-1", idemKey)
	assert.Equal(t, "Bearer sk_test_123", authHeader)
}

func TestCreateSession_StripeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad currency"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.CreateSession(context.Background(), sessionRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_request_error")
}

func TestCreateSession_RejectsZeroCharge(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	req := sessionRequest()
	req.Charge.Amount = decimal.Zero

	_, err := c.CreateSession(context.Background(), req)
	require.Error(t, err)
}

func TestParseWebhook(t *testing.T) {
	c := newTestClient(t, "")

	tests := []struct {
		name    string
		event   map[string]any
		outcome Outcome
	}{
		{"completed and paid", sessionEvent("checkout.session.completed", "paid"), OutcomePaid},
		{"completed awaiting async payment", sessionEvent("checkout.session.completed", "unpaid"), OutcomeIgnored},
		{"async payment succeeded", sessionEvent("checkout.session.async_payment_succeeded", "paid"), OutcomePaid},
		{"expired", sessionEvent("checkout.session.expired", "unpaid"), OutcomeAbandoned},
		{"async payment failed", sessionEvent("checkout.session.async_payment_failed", "unpaid"), OutcomeAbandoned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, header := signed(t, tt.event)
			ev, err := c.ParseWebhook(payload, header)
			require.NoError(t, err)
			assert.Equal(t, "evt_1", ev.ID)
			assert.Equal(t, tt.outcome, ev.Outcome)
			assert.Equal(t, "cs_test_1", ev.SessionID)
			assert.Equal(t, "ord-1", ev.OrderID)
			assert.Equal(t, "user-1", ev.OwnerID)
		})
	}
}

func TestParseWebhook_UnrelatedEvent(t *testing.T) {
	c := newTestClient(t, "")
	payload, header := signed(t, map[string]any{
		"id":     "evt_2",
		"object": "event",
		"type":   "customer.created",
		"data":   map[string]any{"object": map[string]any{"id": "cus_1"}},
	})

	ev, err := c.ParseWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, ev.Outcome)
	assert.Empty(t, ev.SessionID)
}

func TestParseWebhook_BadSignature(t *testing.T) {
	c := newTestClient(t, "")
	payload, _ := signed(t, sessionEvent("checkout.session.completed", "paid"))

	_, err := c.ParseWebhook(payload, "t=1,v1=deadbeef")
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = c.ParseWebhook(payload, "")
	require.ErrorIs(t, err, ErrInvalidSignature)
}
