// Package stripe adapts Stripe Checkout to the order pipeline: it opens
// hosted payment sessions and verifies webhook deliveries.
package stripe

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
)

const (
	EnvTest = "test"
	EnvLive = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe secret key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = errors.Errorf("stripe environment must be %q or %q", EnvTest, EnvLive)
)

// Config configures a Client.
type Config struct {
	SecretKey     string
	WebhookSecret string
	Env           string
	// BackendURL overrides the Stripe API base URL.
	BackendURL string
}

// Client talks to Stripe with one account's credentials.
type Client struct {
	sessions      session.Client
	env           string
	signingSecret string
}

// NewClient validates cfg and creates a Client. No request is made.
func NewClient(cfg Config) (*Client, error) {
	env, err := normalizeEnv(cfg.Env)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if err := ValidateKey(env, key); err != nil {
		return nil, err
	}

	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BackendURL != "" {
		backendCfg.URL = stripe.String(cfg.BackendURL)
	}

	return &Client{
		sessions: session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: key,
		},
		env:           env,
		signingSecret: secret,
	}, nil
}

// Env reports the normalized environment.
func (c *Client) Env() string { return c.env }

func normalizeEnv(raw string) (string, error) {
	env := strings.ToLower(strings.TrimSpace(raw))
	if env == "" {
		env = EnvTest
	}
	switch env {
	case EnvTest, EnvLive:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

// ValidateKey checks that key belongs to env.
func ValidateKey(env, key string) error {
	switch env {
	case EnvTest:
		if strings.HasPrefix(key, "sk_test_") || strings.HasPrefix(key, "rk_test_") {
			return nil
		}
		return errors.Errorf("stripe environment %q requires a test secret key", EnvTest)
	case EnvLive:
		if strings.HasPrefix(key, "sk_live_") || strings.HasPrefix(key, "rk_live_") {
			return nil
		}
		return errors.Errorf("stripe environment %q requires a live secret key", EnvLive)
	default:
		return errInvalidStripeEnv
	}
}
