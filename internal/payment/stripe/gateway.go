package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v84"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
)

// Metadata keys attached to every checkout session.
const (
	MetaOrderID          = "order_id"
	MetaUserID           = "user_id"
	MetaOriginalAmount   = "original_amount"
	MetaOriginalCurrency = "original_currency"
)

var _ order.PaymentGateway = (*Client)(nil)

// CreateSession opens a Checkout session charging the order total as a
// single line item. The order id doubles as the Stripe idempotency key, so a
// retried request for the same order never opens a second session.
func (c *Client) CreateSession(ctx context.Context, req order.SessionRequest) (*order.Session, error) {
	amount := pricing.MinorUnits(req.Charge.Amount)
	if amount <= 0 {
		return nil, errors.Errorf("charge amount %s must be positive", req.Charge.Amount)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Charge.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String("Order " + req.OrderNumber),
						Description: stripe.String(itemsLabel(req.ItemCount)),
					},
					UnitAmount: stripe.Int64(amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + req.OrderID)
	params.AddMetadata(MetaOrderID, req.OrderID)
	params.AddMetadata(MetaUserID, req.OwnerID)
	params.AddMetadata(MetaOriginalAmount, req.Original.Amount.StringFixed(2))
	params.AddMetadata(MetaOriginalCurrency, req.Original.Currency)

	s, err := c.sessions.New(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) {
			return nil, errors.Wrapf(err, "stripe %s (status %d)", serr.Type, serr.HTTPStatusCode)
		}
		return nil, errors.Wrap(err, "create checkout session")
	}
	if s.URL == "" {
		return nil, errors.Errorf("checkout session %s has no redirect url", s.ID)
	}

	return &order.Session{ID: s.ID, RedirectURL: s.URL}, nil
}

func itemsLabel(n int) string {
	if n == 1 {
		return "1 item"
	}
	return fmt.Sprintf("%d items", n)
}
