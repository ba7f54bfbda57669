// Package handler exposes the cart, checkout and order pipeline over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/payment/stripe"
)

// CartService is the cart aggregator.
type CartService interface {
	Summary(ctx context.Context, ownerID string) (*cart.Summary, error)
	Rows(ctx context.Context, ownerID string) ([]cart.Row, error)
	AddItem(ctx context.Context, ownerID, productID string, size cart.Size, qty int) error
	SetQuantity(ctx context.Context, ownerID, productID string, size cart.Size, qty int) error
	RemoveItem(ctx context.Context, ownerID, productID string, size cart.Size) error
	Clear(ctx context.Context, ownerID string) (int64, error)
}

// CheckoutService turns the cart into an order with a payment session.
type CheckoutService interface {
	Start(ctx context.Context, ownerID string, r order.Redirects) (*order.CheckoutResult, error)
}

// OrderFinalizer completes and cancels orders.
type OrderFinalizer interface {
	Finalize(ctx context.Context, sessionID, ownerID string) (*order.Order, error)
	Cancel(ctx context.Context, ownerID, orderID string) (*order.Order, error)
	CancelBySession(ctx context.Context, sessionID, ownerID string) (*order.Order, error)
}

// OrderQueries reads an owner's orders.
type OrderQueries interface {
	List(ctx context.Context, ownerID string) ([]order.Order, error)
	Get(ctx context.Context, ownerID, orderID string) (*order.Order, error)
}

// Presenter converts base-currency amounts for display and charging.
type Presenter interface {
	Base() string
	PresentBreakdown(ctx context.Context, subtotal, total decimal.Decimal) (pricing.Breakdown, error)
}

// WebhookParser verifies and decodes payment provider callbacks.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*stripe.Event, error)
}

// EventGuard deduplicates webhook deliveries.
type EventGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative product image paths.
	ImageBaseURL string
	// Redirects are passed to the payment provider on checkout.
	Redirects order.Redirects
}

// Deps are the collaborators a Handler delegates to.
type Deps struct {
	Products  product.Repository
	Cart      CartService
	Checkout  CheckoutService
	Finalizer OrderFinalizer
	Orders    OrderQueries
	Presenter Presenter
	Webhooks  WebhookParser
	Guard     EventGuard
}

// Handler serves the storefront API.
type Handler struct {
	Deps
	imageBaseURL string
	redirects    order.Redirects
}

// New creates a Handler.
func New(cfg Config, deps Deps) *Handler {
	return &Handler{
		Deps:         deps,
		imageBaseURL: cfg.ImageBaseURL,
		redirects:    cfg.Redirects,
	}
}

const (
	apiPrefix          = "/api"
	stripeWebhookRoute = "/webhooks/stripe"

	// StripeWebhookPath is the full path of the payment provider callback.
	StripeWebhookPath = apiPrefix + stripeWebhookRoute
)

// Register mounts the API under /api. Catalog and webhook routes are public;
// everything else goes through authn.
func (h *Handler) Register(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route(apiPrefix, func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)
		r.Post(stripeWebhookRoute, h.StripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(authn)

			r.Get("/cart", h.GetCart)
			r.Delete("/cart", h.ClearCart)
			r.Get("/cart/rows", h.ListCartRows)
			r.Post("/cart/items", h.AddCartItem)
			r.Put("/cart/items", h.SetCartItem)
			r.Delete("/cart/items", h.RemoveCartItem)

			r.Post("/checkout", h.StartCheckout)
			r.Post("/checkout/finalize", h.FinalizeCheckout)

			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)
			r.Post("/orders/{id}/cancel", h.CancelOrder)
		})
	})
}
