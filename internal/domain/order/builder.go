package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
)

// compensationTimeout bounds the header delete issued after a failed items
// insert. It runs detached from the request context.
const compensationTimeout = 5 * time.Second

// Builder converts an owner's cart into a pending order.
type Builder struct {
	cart     Cart
	orders   Repository
	currency string
	metrics  *Metrics
	now      func() time.Time
}

// NewBuilder creates a Builder. currency is the base currency order amounts
// are stored in.
func NewBuilder(c Cart, orders Repository, currency string, m *Metrics) *Builder {
	return &Builder{
		cart:     c,
		orders:   orders,
		currency: currency,
		metrics:  m,
		now:      time.Now,
	}
}

// CreateOrder snapshots the cart into a pending order with one item per
// aggregated line. Totals come from the cart snapshot, never from the caller.
// The cart itself is left intact.
//
// The header and items are written separately. If the items fail the header
// is deleted again; if that delete fails too a *CompensationError is returned.
func (b *Builder) CreateOrder(ctx context.Context, ownerID string) (*Order, error) {
	if err := auth.RequireOwner(ownerID); err != nil {
		return nil, err
	}

	sum, err := b.cart.Summary(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "cart summary")
	}
	if len(sum.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	id := uuid.New()
	now := b.now().UTC()
	o := &Order{
		ID:        id.String(),
		Number:    NewNumber(now, id),
		OwnerID:   ownerID,
		Status:    StatusPending,
		Subtotal:  sum.Totals.Subtotal,
		Tax:       sum.Totals.Tax,
		Total:     sum.Totals.Total,
		Currency:  b.currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	items := itemsFromLines(o.ID, sum.Lines)

	if got := sumItems(items); !got.Equal(o.Subtotal) {
		return nil, errors.Errorf("items total %s does not match subtotal %s", got, o.Subtotal)
	}

	if err := b.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order header")
	}
	if err := b.orders.CreateItems(ctx, o.ID, items); err != nil {
		return nil, b.compensate(ctx, o, err)
	}

	o.Items = items
	b.metrics.orderCreated(ctx)
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("number", o.Number),
		zap.String("owner_id", ownerID),
		zap.Int("items", len(items)),
		zap.Stringer("total", o.Total),
	)
	return o, nil
}

func (b *Builder) compensate(ctx context.Context, o *Order, itemsErr error) error {
	lg := zctx.From(ctx).With(
		zap.String("order_id", o.ID),
		zap.String("owner_id", o.OwnerID),
		zap.Time("created_at", o.CreatedAt),
	)

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	delErr := b.orders.Delete(dctx, o.OwnerID, o.ID)
	if delErr == nil {
		lg.Warn("Order items insert failed, header removed", zap.Error(itemsErr))
		return errors.Wrap(itemsErr, "create order items")
	}

	b.metrics.compensationFailed(ctx)
	lg.Error("FATAL inconsistency: orphan pending order without items",
		zap.NamedError("items_error", itemsErr),
		zap.NamedError("delete_error", delErr),
		zap.Time("detected_at", b.now().UTC()),
	)
	return &CompensationError{
		OrderID:   o.ID,
		OwnerID:   o.OwnerID,
		CreatedAt: o.CreatedAt,
		ItemsErr:  itemsErr,
		DeleteErr: delErr,
	}
}

func itemsFromLines(orderID string, lines []cart.Line) []Item {
	items := make([]Item, len(lines))
	for i, l := range lines {
		items[i] = Item{
			ID:        uuid.New().String(),
			OrderID:   orderID,
			ProductID: l.ProductID,
			Name:      l.Product.Name,
			Size:      l.Size,
			Quantity:  l.Quantity,
			UnitPrice: l.Product.Price,
		}
	}
	return items
}
