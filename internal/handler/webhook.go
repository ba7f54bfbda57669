package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/payment/stripe"
)

const maxWebhookBytes = 64 << 10

type webhookAck struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// StripeWebhook applies checkout session events. Each event id is processed
// at most once; the claim is released when processing fails so the provider
// retries the delivery.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(ctx, w, &requestError{msg: "invalid request body"})
		return
	}
	ev, err := h.Webhooks.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, stripe.ErrInvalidSignature) {
		zctx.From(ctx).Warn("Webhook signature rejected", zap.Error(err))
		writeError(ctx, w, &requestError{msg: "invalid signature"})
		return
	}
	if err != nil {
		writeError(ctx, w, &requestError{msg: "invalid event payload"})
		return
	}

	lg := zctx.From(ctx).With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
		zap.String("session_id", ev.SessionID),
	)
	if ev.Outcome == stripe.OutcomeIgnored {
		lg.Debug("Webhook event ignored")
		writeJSON(w, http.StatusOK, webhookAck{Received: true})
		return
	}
	if ev.OwnerID == "" {
		lg.Warn("Webhook event has no owner metadata")
		writeJSON(w, http.StatusOK, webhookAck{Received: true})
		return
	}

	claimed, err := h.Guard.Claim(ctx, ev.ID)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "claim event"))
		return
	}
	if !claimed {
		lg.Info("Webhook event already processed")
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Duplicate: true})
		return
	}

	if err := h.applyEvent(r, ev); err != nil {
		if relErr := h.Guard.Release(ctx, ev.ID); relErr != nil {
			lg.Error("Release webhook claim", zap.Error(relErr))
		}
		writeError(ctx, w, errors.Wrap(err, "apply event"))
		return
	}
	writeJSON(w, http.StatusOK, webhookAck{Received: true})
}

func (h *Handler) applyEvent(r *http.Request, ev *stripe.Event) error {
	ctx := zctx.With(r.Context(), zap.String("owner_id", ev.OwnerID))
	lg := zctx.From(ctx)

	switch ev.Outcome {
	case stripe.OutcomePaid:
		o, err := h.Finalizer.Finalize(ctx, ev.SessionID, ev.OwnerID)
		if err != nil {
			return err
		}
		if o == nil {
			lg.Warn("No order for paid session", zap.String("session_id", ev.SessionID))
			return nil
		}
		lg.Info("Order finalized from webhook", zap.String("order_id", o.ID), zap.String("status", string(o.Status)))
	case stripe.OutcomeAbandoned:
		o, err := h.Finalizer.CancelBySession(ctx, ev.SessionID, ev.OwnerID)
		if err != nil {
			return err
		}
		if o != nil {
			lg.Info("Order closed from webhook", zap.String("order_id", o.ID), zap.String("status", string(o.Status)))
		}
	}
	return nil
}
