package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/pricing"
)

// SessionRequest is what the payment gateway needs to open a hosted payment
// session for an order.
type SessionRequest struct {
	OrderID     string
	OrderNumber string
	OwnerID     string
	// Charge is the amount the customer pays, in the presentation currency.
	Charge pricing.Money
	// Original is the authoritative order total in the base currency.
	Original   pricing.Money
	ItemCount  int
	SuccessURL string
	CancelURL  string
}

// Session is an opened payment session.
type Session struct {
	ID          string
	RedirectURL string
}

// PaymentGateway opens hosted payment sessions.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// Redirects are the URLs the payment provider returns the customer to.
type Redirects struct {
	SuccessURL string
	CancelURL  string
}

// CheckoutResult is returned by Checkout.Start.
type CheckoutResult struct {
	Order       *Order
	Charge      pricing.Money
	SessionID   string
	RedirectURL string
}

// Checkout creates an order from the cart and hands it to the payment
// gateway.
type Checkout struct {
	builder   *Builder
	orders    Repository
	gateway   PaymentGateway
	converter *pricing.Converter
	tracer    trace.Tracer
	metrics   *Metrics
}

// NewCheckout creates a Checkout.
func NewCheckout(
	builder *Builder,
	orders Repository,
	gateway PaymentGateway,
	converter *pricing.Converter,
	tp trace.TracerProvider,
	m *Metrics,
) *Checkout {
	return &Checkout{
		builder:   builder,
		orders:    orders,
		gateway:   gateway,
		converter: converter,
		tracer:    tp.Tracer(instrumentationName),
		metrics:   m,
	}
}

// Start creates a pending order, opens a payment session for its total and
// stores the session id on the order. A gateway failure returns a
// *GatewayError and leaves the order pending; it is not retried.
func (c *Checkout) Start(ctx context.Context, ownerID string, r Redirects) (_ *CheckoutResult, rerr error) {
	ctx, span := c.tracer.Start(ctx, "order.Checkout.Start")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, "checkout failed")
		}
		span.End()
	}()

	o, err := c.builder.CreateOrder(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))

	charge, err := c.converter.Present(ctx, o.Total)
	if err != nil {
		return nil, errors.Wrap(err, "convert total")
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", o.ID),
		zap.String("owner_id", ownerID),
	)

	sess, err := c.gateway.CreateSession(ctx, SessionRequest{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		OwnerID:     ownerID,
		Charge:      charge,
		Original:    pricing.Money{Amount: o.Total, Currency: o.Currency},
		ItemCount:   o.ItemCount(),
		SuccessURL:  r.SuccessURL,
		CancelURL:   r.CancelURL,
	})
	if err != nil {
		c.metrics.gatewayFailed(ctx)
		lg.Error("Payment session creation failed",
			zap.Error(err),
			zap.Time("at", time.Now().UTC()),
		)
		return nil, &GatewayError{OrderID: o.ID, Err: err}
	}

	if err := c.orders.AttachSession(ctx, ownerID, o.ID, sess.ID); err != nil {
		lg.Error("Attach payment session failed",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "attach session")
	}
	o.PaymentSessionID = sess.ID

	lg.Info("Checkout session opened",
		zap.String("session_id", sess.ID),
		zap.Stringer("charge", charge),
	)
	return &CheckoutResult{
		Order:       o,
		Charge:      charge,
		SessionID:   sess.ID,
		RedirectURL: sess.RedirectURL,
	}, nil
}
