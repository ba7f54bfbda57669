package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/exchange"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/payment/stripe"
	"github.com/xenking/storefront/internal/storage/postgres"
	storeredis "github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const webhookDedupTTL = 24 * time.Hour

// Run connects to the backing stores, starts the HTTP server and blocks
// until ctx is cancelled and the server has drained.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool, lg.Named("migrate")); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	rdb, err := storeredis.NewClient(ctx, storeredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	defer func() { _ = rdb.Close() }()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	api, err := newRouter(lg, m.TracerProvider(), m.MeterProvider(), cfg, pool, rdb, healthSvc)
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           api,
	}
	return serve(ctx, lg, server, healthSvc, cfg.Graceful)
}

// unlimited reports requests exempt from rate limiting: health probes and
// payment provider callbacks.
func unlimited(r *http.Request) bool {
	switch r.URL.Path {
	case "/livez", "/readyz", handler.StripeWebhookPath:
		return true
	}
	return false
}

// newRouter wires repositories, domain services and handlers into the
// instrumented HTTP handler.
func newRouter(
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	cfg *Config,
	pool *pgxpool.Pool,
	rdb *redis.Client,
	hs *health.Health,
) (http.Handler, error) {
	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	// Currency conversion: live rates behind a breaker and cache, with the
	// configured static rate as fallback.
	base, presentation := cfg.Pricing.BaseCurrency, cfg.Pricing.PresentationCurrency
	var rates pricing.RateSource = pricing.NewStaticRates(base, presentation, cfg.Pricing.StaticRate())
	if cfg.Exchange.Enabled {
		live := exchange.NewClient(
			exchange.Config{BaseURL: cfg.Exchange.URL},
			&http.Client{
				Timeout: cfg.Exchange.Timeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport,
					otelhttp.WithTracerProvider(tp),
					otelhttp.WithMeterProvider(mp),
				),
			},
			storeredis.NewRateCache(rdb, cfg.Exchange.CacheTTL),
			lg.Named("exchange"),
		)
		rates = pricing.NewFallbackRates(live, rates)
	}
	converter := pricing.NewConverter(rates, base, presentation)

	// Domain services.
	metrics, err := order.NewMetrics(mp)
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}
	cartService := cart.NewService(cartRepo, productRepo, cfg.Pricing.Tax())
	builder := order.NewBuilder(cartService, orderRepo, base, metrics)

	gateway, err := stripe.NewClient(stripe.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Env:           cfg.Stripe.Env,
		BackendURL:    cfg.Stripe.APIURL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create stripe client")
	}
	lg.Info("Payment gateway configured", zap.String("stripe_env", gateway.Env()))

	guard, err := storeredis.NewEventGuard(rdb, "stripe", webhookDedupTTL)
	if err != nil {
		return nil, errors.Wrap(err, "create webhook guard")
	}

	// HTTP handlers.
	h := handler.New(handler.Config{
		ImageBaseURL: cfg.ImageBaseURL,
		Redirects: order.Redirects{
			SuccessURL: cfg.Checkout.SuccessURL,
			CancelURL:  cfg.Checkout.CancelURL,
		},
	}, handler.Deps{
		Products:  productRepo,
		Cart:      cartService,
		Checkout:  order.NewCheckout(builder, orderRepo, gateway, converter, tp, metrics),
		Finalizer: order.NewFinalizer(orderRepo, cartService, tp, metrics),
		Orders:    order.NewService(orderRepo),
		Presenter: converter,
		Webhooks:  gateway,
		Guard:     guard,
	})
	tokens := auth.NewTokenVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)

	proxies, err := httpmiddleware.ParsePrefixes(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, errors.Wrap(err, "parse trusted proxies")
	}

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.LabelRoute(),
		httpmiddleware.LogRequests(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.HeaderRequestID},
			ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(storeredis.NewWindowCounter(rdb, "api"), httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.TrustedClientIP(proxies),
			Skip:    unlimited,
		}),
	)
	r.Get("/livez", hs.LiveEndpoint)
	r.Get("/readyz", hs.ReadyEndpoint)
	h.Register(r, handler.Authenticate(tokens))

	return httpmiddleware.Wrap(r, httpmiddleware.Instrument("storefront-api", tp, mp)), nil
}
