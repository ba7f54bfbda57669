package order

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var (
	// ErrEmptyCart is returned when checking out a cart with no lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNotFound is returned when an order does not exist for the owner.
	ErrNotFound = errors.New("order not found")
	// ErrNotCancellable is returned when cancelling a completed order.
	ErrNotCancellable = errors.New("order cannot be cancelled in its current status")
)

// GatewayError wraps a payment session creation failure. The order it refers
// to stays pending.
type GatewayError struct {
	OrderID string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment session for order %s: %v", e.OrderID, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// CompensationError reports an order header that could not be removed after
// its items failed to insert. The header is an orphan that needs out-of-band
// cleanup.
type CompensationError struct {
	OrderID   string
	OwnerID   string
	CreatedAt time.Time
	ItemsErr  error
	DeleteErr error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("orphan order %s for owner %s: items: %v; delete: %v",
		e.OrderID, e.OwnerID, e.ItemsErr, e.DeleteErr)
}

func (e *CompensationError) Unwrap() []error {
	return []error{e.ItemsErr, e.DeleteErr}
}

// Order is an immutable snapshot of a cart at checkout time. Only Status,
// PaymentSessionID and UpdatedAt change after creation.
type Order struct {
	ID               string
	Number           string
	OwnerID          string
	Status           Status
	Subtotal         decimal.Decimal
	Tax              decimal.Decimal
	Total            decimal.Decimal
	Currency         string
	PaymentSessionID string
	Items            []Item
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Item is an order line with the unit price captured at creation.
type Item struct {
	ID        string
	OrderID   string
	ProductID string
	Name      string
	Size      cart.Size
	Quantity  int
	UnitPrice decimal.Decimal
}

// LineTotal returns quantity times unit price.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemCount returns the total number of units across items.
func (o *Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

func sumItems(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total.Round(2)
}

// NewNumber formats a human-readable order number from the creation time and
// the order id: ORD-<last 6 digits of unix seconds>-<first 6 hex digits>.
func NewNumber(now time.Time, id uuid.UUID) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	if len(ts) > 6 {
		ts = ts[len(ts)-6:]
	}
	hex := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))[:6]
	return "ORD-" + ts + "-" + hex
}

// Repository persists orders. Every lookup is scoped by owner id.
type Repository interface {
	// Create inserts the order header only.
	Create(ctx context.Context, o *Order) error
	CreateItems(ctx context.Context, orderID string, items []Item) error
	Delete(ctx context.Context, ownerID, orderID string) error
	AttachSession(ctx context.Context, ownerID, orderID, sessionID string) error
	Get(ctx context.Context, ownerID, orderID string) (*Order, error)
	FindBySession(ctx context.Context, ownerID, sessionID string) (*Order, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Order, error)
	// Transition moves the order from one status to another only if it is
	// currently in from. It reports whether this call performed the change.
	Transition(ctx context.Context, ownerID, orderID string, from, to Status) (bool, error)
}

// Cart is the slice of the cart aggregator the order pipeline depends on.
type Cart interface {
	Summary(ctx context.Context, ownerID string) (*cart.Summary, error)
	Clear(ctx context.Context, ownerID string) (int64, error)
}
