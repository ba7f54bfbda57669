//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84/webhook"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/postgres"
	storeredis "github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
)

const (
	e2eJWTSecret     = "e2e-secret"
	e2eWebhookSecret = "whsec_e2e"
)

// --- Helpers ---

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(c) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, port)
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

// fakeStripe answers checkout session creation with a fixed session id.
func fakeStripe(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_e2e","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_e2e"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t      *testing.T
	router http.Handler
	token  string
}

func (c *client) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(c.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&m))
	return m
}

// --- Tests ---

func TestCheckoutFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	pgAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "shop",
			"POSTGRES_PASSWORD": "shop",
			"POSTGRES_DB":       "shop",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}, "5432/tcp")
	redisAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
	}, "6379/tcp")

	lg := zaptest.NewLogger(t)
	pool, err := postgres.NewPool(ctx, "postgres://shop:shop@"+pgAddr+"/shop?sslmode=disable")
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.RunMigrations(ctx, pool, lg))

	rdb, err := storeredis.NewClient(ctx, storeredis.Options{Addr: redisAddr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	products := postgres.NewProductRepository(pool)
	for _, p := range []product.Product{
		{ID: "p1", Name: "Runner", Price: decimal.NewFromInt(100), Available: true},
		{ID: "p2", Name: "Cap", Price: decimal.NewFromInt(50), Available: true},
	} {
		require.NoError(t, products.Upsert(ctx, p))
	}

	cfg := validConfig()
	cfg.Auth.JWTSecret = e2eJWTSecret
	cfg.Stripe.WebhookSecret = e2eWebhookSecret
	cfg.Stripe.APIURL = fakeStripe(t).URL
	require.NoError(t, cfg.Validate())

	router, err := newRouter(lg, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), &cfg, pool, rdb, health.New())
	require.NoError(t, err)

	token, err := auth.NewTokenVerifier([]byte(e2eJWTSecret), cfg.Auth.Issuer).Mint(auth.Identity{OwnerID: "u1"}, time.Hour)
	require.NoError(t, err)
	c := &client{t: t, router: router, token: token}

	// Two rows for the same line plus one unsized line.
	require.Equal(t, http.StatusNoContent, c.do(http.MethodPost, "/api/cart/items", map[string]any{"productId": "p1", "size": "M", "quantity": 2}).Code)
	require.Equal(t, http.StatusNoContent, c.do(http.MethodPost, "/api/cart/items", map[string]any{"productId": "p1", "size": "M", "quantity": 1}).Code)
	require.Equal(t, http.StatusNoContent, c.do(http.MethodPost, "/api/cart/items", map[string]any{"productId": "p2", "quantity": 1}).Code)

	w := c.do(http.MethodGet, "/api/cart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cartBody := decodeMap(t, w)
	totals := cartBody["totals"].(map[string]any)
	assert.Equal(t, "378.00", totals["total"].(map[string]any)["amount"])
	assert.Equal(t, "20.79", cartBody["presentation"].(map[string]any)["total"].(map[string]any)["amount"])

	w = c.do(http.MethodPost, "/api/checkout", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	checkout := decodeMap(t, w)
	assert.Equal(t, "cs_test_e2e", checkout["sessionId"])
	orderID := checkout["order"].(map[string]any)["id"].(string)

	payload, err := json.Marshal(map[string]any{
		"id":     "evt_e2e",
		"object": "event",
		"type":   "checkout.session.completed",
		"data": map[string]any{"object": map[string]any{
			"id":             "cs_test_e2e",
			"object":         "checkout.session",
			"payment_status": "paid",
			"metadata":       map[string]string{"order_id": orderID, "user_id": "u1"},
		}},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload, Secret: e2eWebhookSecret, Timestamp: time.Now(),
	})

	hook := &client{t: t, router: router}
	w = hook.do(http.MethodPost, "/api/webhooks/stripe", signed.Payload, "Stripe-Signature", signed.Header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = c.do(http.MethodGet, "/api/orders/"+orderID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decodeMap(t, w)["status"])

	w = c.do(http.MethodGet, "/api/cart/rows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String(), "finalize clears the cart")

	w = hook.do(http.MethodPost, "/api/webhooks/stripe", signed.Payload, "Stripe-Signature", signed.Header)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeMap(t, w)["duplicate"])

	// The browser return path is idempotent too.
	w = c.do(http.MethodPost, "/api/checkout/finalize", map[string]string{"sessionId": "cs_test_e2e"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decodeMap(t, w)["status"])

	w = c.do(http.MethodPost, "/api/orders/"+orderID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}
