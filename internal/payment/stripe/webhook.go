package stripe

import (
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// ErrInvalidSignature is returned for deliveries that fail verification.
var ErrInvalidSignature = errors.New("invalid stripe signature")

// Outcome classifies a webhook event for the order pipeline.
type Outcome int

const (
	// OutcomeIgnored events need no action.
	OutcomeIgnored Outcome = iota
	// OutcomePaid means the session was paid and the order can be finalized.
	OutcomePaid
	// OutcomeAbandoned means the session expired or its payment failed.
	OutcomeAbandoned
)

// Event is a verified webhook delivery reduced to what the pipeline needs.
type Event struct {
	ID        string
	Type      string
	Outcome   Outcome
	SessionID string
	OrderID   string
	OwnerID   string
}

// ParseWebhook verifies the Stripe-Signature header and decodes checkout
// session events.
func (c *Client) ParseWebhook(payload []byte, signature string) (*Event, error) {
	if signature == "" {
		return nil, ErrInvalidSignature
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, c.signingSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidSignature, err.Error())
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionExpired,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
	default:
		return out, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return nil, errors.Wrap(err, "decode checkout session")
	}
	out.SessionID = s.ID
	out.OrderID = s.Metadata[MetaOrderID]
	out.OwnerID = s.Metadata[MetaUserID]

	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		// Delayed payment methods complete the session before funds arrive.
		if s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			s.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
			out.Outcome = OutcomePaid
		}
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		out.Outcome = OutcomePaid
	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		out.Outcome = OutcomeAbandoned
	}
	return out, nil
}
