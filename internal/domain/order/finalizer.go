package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/storefront/internal/domain/auth"
)

// finalizeTimeout bounds a shared finalize call, which outlives any single
// caller's context.
const finalizeTimeout = 10 * time.Second

// Finalizer reconciles payment outcomes with order state. Completed and
// cancelled are terminal; repeated calls return the existing state.
type Finalizer struct {
	orders  Repository
	cart    Cart
	tracer  trace.Tracer
	metrics *Metrics
	group   singleflight.Group
}

// NewFinalizer creates a Finalizer.
func NewFinalizer(orders Repository, c Cart, tp trace.TracerProvider, m *Metrics) *Finalizer {
	return &Finalizer{
		orders:  orders,
		cart:    c,
		tracer:  tp.Tracer(instrumentationName),
		metrics: m,
	}
}

// Finalize marks the order correlated with sessionID as completed and clears
// the owner's cart. The lookup filters by both session and owner.
//
// It returns (nil, nil) when no such order exists for the owner. A pending
// order is completed exactly once even under concurrent calls; later calls
// return the order unchanged. A cart clear failure is logged and tolerated.
func (f *Finalizer) Finalize(ctx context.Context, sessionID, ownerID string) (*Order, error) {
	if err := auth.RequireOwner(ownerID); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, nil
	}

	// The shared call is detached from the first caller's cancellation;
	// every caller waits on its own ctx.
	ch := f.group.DoChan(ownerID+"\x00"+sessionID, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
		return f.finalize(sctx, sessionID, ownerID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		o, _ := res.Val.(*Order)
		return o, nil
	}
}

func (f *Finalizer) finalize(ctx context.Context, sessionID, ownerID string) (*Order, error) {
	ctx, span := f.tracer.Start(ctx, "order.Finalizer.Finalize")
	defer span.End()

	o, err := f.orders.FindBySession(ctx, ownerID, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find by session")
	}
	span.SetAttributes(
		attribute.String("order.id", o.ID),
		attribute.String("order.status", string(o.Status)),
	)
	if o.Status != StatusPending {
		return o, nil
	}

	won, err := f.orders.Transition(ctx, ownerID, o.ID, StatusPending, StatusCompleted)
	if err != nil {
		return nil, errors.Wrap(err, "complete order")
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", o.ID),
		zap.String("owner_id", ownerID),
		zap.String("session_id", sessionID),
	)
	if won {
		f.metrics.orderFinalized(ctx)
		lg.Info("Order completed")

		if _, err := f.cart.Clear(ctx, ownerID); err != nil {
			lg.Warn("Cart clear after completion failed", zap.Error(err))
		}
	}

	return f.reload(ctx, ownerID, o.ID)
}

// Cancel moves a pending order to cancelled. Cancelling a cancelled order
// returns it unchanged; a completed order yields ErrNotCancellable.
func (f *Finalizer) Cancel(ctx context.Context, ownerID, orderID string) (*Order, error) {
	if err := auth.RequireOwner(ownerID); err != nil {
		return nil, err
	}

	o, err := f.orders.Get(ctx, ownerID, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return f.cancel(ctx, o)
}

// CancelBySession cancels the pending order correlated with an expired
// payment session. Orders in a terminal status are returned unchanged and a
// missing order yields (nil, nil).
func (f *Finalizer) CancelBySession(ctx context.Context, sessionID, ownerID string) (*Order, error) {
	if err := auth.RequireOwner(ownerID); err != nil {
		return nil, err
	}

	o, err := f.orders.FindBySession(ctx, ownerID, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find by session")
	}
	if o.Status.IsTerminal() {
		return o, nil
	}
	return f.cancel(ctx, o)
}

func (f *Finalizer) cancel(ctx context.Context, o *Order) (*Order, error) {
	switch o.Status {
	case StatusCancelled:
		return o, nil
	case StatusCompleted:
		return nil, ErrNotCancellable
	}

	won, err := f.orders.Transition(ctx, o.OwnerID, o.ID, StatusPending, StatusCancelled)
	if err != nil {
		return nil, errors.Wrap(err, "cancel order")
	}

	cur, err := f.reload(ctx, o.OwnerID, o.ID)
	if err != nil {
		return nil, err
	}
	if won {
		f.metrics.orderCancelled(ctx)
		zctx.From(ctx).Info("Order cancelled",
			zap.String("order_id", o.ID),
			zap.String("owner_id", o.OwnerID),
		)
		return cur, nil
	}
	// Lost a race against another transition.
	if cur.Status == StatusCompleted {
		return nil, ErrNotCancellable
	}
	return cur, nil
}

func (f *Finalizer) reload(ctx context.Context, ownerID, orderID string) (*Order, error) {
	o, err := f.orders.Get(ctx, ownerID, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "reload order")
	}
	return o, nil
}
