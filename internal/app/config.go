package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/payment/stripe"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images" flag:"image-base-url"`
	Redis        RedisConfig
	Auth         AuthConfig
	Pricing      PricingConfig
	Exchange     ExchangeConfig
	Stripe       StripeConfig
	Checkout     CheckoutConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig points at the redis instance used for webhook deduplication,
// rate counters and the exchange-rate cache.
type RedisConfig struct {
	Addr     string `default:"localhost:6379" usage:"Redis address (or REDIS_URL)"`
	Password string `usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database number"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `usage:"HMAC secret for bearer tokens (SHOP_AUTH_JWTSECRET)" flag:"jwt-secret"`
	Issuer    string `default:"storefront" usage:"Expected token issuer; empty disables the check"`
}

// PricingConfig holds tax and currency settings. Decimal values are kept as
// strings so they never pass through float parsing.
type PricingConfig struct {
	TaxRate              string `default:"0.08" usage:"Tax rate applied to the cart subtotal"`
	BaseCurrency         string `default:"ZAR" usage:"Currency prices are stored in"`
	PresentationCurrency string `default:"USD" usage:"Currency customers are charged in"`
	Rate                 string `default:"0.055" usage:"Static base to presentation exchange rate"`
}

// Tax returns the parsed tax rate.
func (p PricingConfig) Tax() decimal.Decimal { return decimal.RequireFromString(p.TaxRate) }

// StaticRate returns the parsed fallback exchange rate.
func (p PricingConfig) StaticRate() decimal.Decimal { return decimal.RequireFromString(p.Rate) }

// ExchangeConfig controls the live exchange-rate lookup.
type ExchangeConfig struct {
	Enabled  bool          `default:"true" usage:"Fetch live exchange rates"`
	URL      string        `default:"https://api.exchangerate-api.com/v4/latest" usage:"Rates endpoint, joined with the base currency"`
	Timeout  time.Duration `default:"3s" usage:"HTTP timeout for rate lookups"`
	CacheTTL time.Duration `default:"1h" usage:"How long fetched rates are cached in redis"`
}

// StripeConfig holds payment provider credentials.
type StripeConfig struct {
	SecretKey     string `usage:"Stripe secret key (SHOP_STRIPE_SECRETKEY)"`
	WebhookSecret string `usage:"Stripe webhook signing secret"`
	Env           string `default:"test" usage:"Stripe environment: test or live"`
	// APIURL points the client at stripe-mock or another local backend.
	APIURL string `usage:"Override the Stripe API base URL"`
}

// CheckoutConfig holds the URLs Stripe returns the customer to.
type CheckoutConfig struct {
	SuccessURL string `default:"http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}" usage:"Redirect after payment"`
	CancelURL  string `default:"http://localhost:3000/cart" usage:"Redirect when the customer abandons payment"`
}

// RateLimitConfig controls the per-client fixed window rate limiter.
type RateLimitConfig struct {
	Max            int           `default:"100" usage:"Max requests per window, 0 disables"`
	Window         time.Duration `default:"1m"  usage:"Rate limit window duration"`
	TrustedProxies []string      `usage:"Proxy CIDRs or addresses allowed to set X-Forwarded-For"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and platform defaults, then validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.applyPlatformDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the unprefixed variables hosting platforms
// inject (DATABASE_URL, REDIS_URL, PORT) onto the config.
func (c *Config) applyPlatformDefaults() error {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if raw := os.Getenv("REDIS_URL"); raw != "" {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return errors.Wrap(err, "parse REDIS_URL")
		}
		c.Redis.Addr = opts.Addr
		c.Redis.Password = opts.Password
		c.Redis.DB = opts.DB
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	return nil
}

// Validate reports the first missing or malformed setting.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("jwt secret is required: set SHOP_AUTH_JWTSECRET")
	}

	tax, err := decimal.NewFromString(c.Pricing.TaxRate)
	if err != nil || tax.IsNegative() || tax.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.Errorf("tax rate %q must be a decimal in [0, 1)", c.Pricing.TaxRate)
	}
	rate, err := decimal.NewFromString(c.Pricing.Rate)
	if err != nil || !rate.IsPositive() {
		return errors.Errorf("exchange rate %q must be a positive decimal", c.Pricing.Rate)
	}
	if len(c.Pricing.BaseCurrency) != 3 || len(c.Pricing.PresentationCurrency) != 3 {
		return errors.New("currencies must be 3-letter ISO codes")
	}
	c.Pricing.BaseCurrency = strings.ToUpper(c.Pricing.BaseCurrency)
	c.Pricing.PresentationCurrency = strings.ToUpper(c.Pricing.PresentationCurrency)

	env := strings.ToLower(strings.TrimSpace(c.Stripe.Env))
	if env == "" {
		env = stripe.EnvTest
	}
	if c.Stripe.SecretKey == "" {
		return errors.New("stripe secret key is required: set SHOP_STRIPE_SECRETKEY")
	}
	if err := stripe.ValidateKey(env, c.Stripe.SecretKey); err != nil {
		return err
	}
	if c.Stripe.WebhookSecret == "" {
		return errors.New("stripe webhook secret is required: set SHOP_STRIPE_WEBHOOKSECRET")
	}
	if c.Checkout.SuccessURL == "" || c.Checkout.CancelURL == "" {
		return errors.New("checkout success and cancel URLs are required")
	}
	if _, err := httpmiddleware.ParsePrefixes(c.RateLimit.TrustedProxies); err != nil {
		return errors.Wrap(err, "rate limit trusted proxies")
	}
	return nil
}
