// Package cart implements the owner-scoped shopping cart. Raw rows may
// contain duplicates for the same product and size; Service always presents
// them merged into one Line per Key.
package cart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

var (
	// ErrLineNotFound is returned when no raw rows back the requested key.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrProductUnavailable is returned when adding a product that is out of stock.
	ErrProductUnavailable = errors.New("product is not available")
)

// ValidationError rejects input before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Size is a normalized size label.
type Size string

// NoSize is the canonical "no size" value. Missing, empty and blank sizes all
// normalize to it, and it is persisted as NULL.
const NoSize Size = ""

// NormalizeSize maps a raw, possibly absent size onto its canonical form.
func NormalizeSize(raw *string) Size {
	if raw == nil {
		return NoSize
	}
	return ParseSize(*raw)
}

// ParseSize trims raw and maps blank input to NoSize.
func ParseSize(raw string) Size {
	return Size(strings.TrimSpace(raw))
}

// IsNone reports whether s is NoSize.
func (s Size) IsNone() bool { return s == NoSize }

// Ptr returns nil for NoSize and a pointer to the label otherwise.
func (s Size) Ptr() *string {
	if s.IsNone() {
		return nil
	}
	v := string(s)
	return &v
}

// Key identifies an aggregated line within one owner's cart.
type Key struct {
	ProductID string
	Size      Size
}

// Row is a single persisted cart record.
type Row struct {
	ID        string
	OwnerID   string
	ProductID string
	Size      Size
	Quantity  int
	CreatedAt time.Time
}

// Key returns the aggregation key of r.
func (r Row) Key() Key {
	return Key{ProductID: r.ProductID, Size: r.Size}
}

// Line is the merged view of every raw row sharing one Key.
type Line struct {
	Key
	Quantity int
	Product  product.Product
	Subtotal decimal.Decimal
	RowIDs   []string
}

// Totals summarizes a cart. It is always computed server-side.
type Totals struct {
	ItemCount int
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
}

// Summary is a consistent snapshot of lines and totals taken from one read.
type Summary struct {
	OwnerID string
	Lines   []Line
	Totals  Totals
}

// Repository persists raw cart rows. Every method is scoped by owner id.
type Repository interface {
	ListByOwner(ctx context.Context, ownerID string) ([]Row, error)
	ListByKey(ctx context.Context, ownerID string, key Key) ([]Row, error)
	Insert(ctx context.Context, row *Row) error
	Increment(ctx context.Context, ownerID, rowID string, delta int) error
	// Collapse keeps the oldest row for key, sets its quantity to qty and
	// deletes the others in one atomic step. It returns ErrLineNotFound when
	// no rows exist for key.
	Collapse(ctx context.Context, ownerID string, key Key, qty int) error
	DeleteRows(ctx context.Context, ownerID string, rowIDs []string) (int64, error)
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
}
