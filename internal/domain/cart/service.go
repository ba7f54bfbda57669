package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// Service is the cart aggregator.
type Service struct {
	rows     Repository
	products product.Repository
	taxRate  decimal.Decimal
	now      func() time.Time
}

// NewService creates a cart Service.
func NewService(rows Repository, products product.Repository, taxRate decimal.Decimal) *Service {
	return &Service{
		rows:     rows,
		products: products,
		taxRate:  taxRate,
		now:      time.Now,
	}
}

// TaxRate returns the configured tax rate.
func (s *Service) TaxRate() decimal.Decimal { return s.taxRate }

// Rows returns the raw rows for ownerID without merging.
func (s *Service) Rows(ctx context.Context, ownerID string) ([]Row, error) {
	if err := auth.RequireOwner(ownerID); err != nil {
		return nil, err
	}
	rows, err := s.rows.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list rows")
	}
	return rows, nil
}

// List returns the merged cart lines for ownerID.
func (s *Service) List(ctx context.Context, ownerID string) ([]Line, error) {
	sum, err := s.Summary(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return sum.Lines, nil
}

// Totals returns item count, subtotal, tax and total for ownerID.
func (s *Service) Totals(ctx context.Context, ownerID string) (Totals, error) {
	sum, err := s.Summary(ctx, ownerID)
	if err != nil {
		return Totals{}, err
	}
	return sum.Totals, nil
}

// Summary reads the raw rows once and derives both lines and totals from
// that snapshot using live product prices.
func (s *Service) Summary(ctx context.Context, ownerID string) (*Summary, error) {
	if err := auth.RequireOwner(ownerID); err != nil {
		return nil, err
	}

	rows, err := s.rows.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list rows")
	}

	lines, err := s.aggregate(ctx, ownerID, rows)
	if err != nil {
		return nil, err
	}

	return &Summary{
		OwnerID: ownerID,
		Lines:   lines,
		Totals:  s.totalsOf(lines),
	}, nil
}

func (s *Service) aggregate(ctx context.Context, ownerID string, rows []Row) ([]Line, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	// Group in first-seen order so the view is stable across reads.
	var (
		order  []Key
		groups = make(map[Key]*Line, len(rows))
		ids    []string
		seen   = make(map[string]struct{}, len(rows))
	)
	for _, r := range rows {
		k := r.Key()
		g, ok := groups[k]
		if !ok {
			g = &Line{Key: k}
			groups[k] = g
			order = append(order, k)
		}
		g.Quantity += r.Quantity
		g.RowIDs = append(g.RowIDs, r.ID)

		if _, ok := seen[r.ProductID]; !ok {
			seen[r.ProductID] = struct{}{}
			ids = append(ids, r.ProductID)
		}
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	catalog := product.Index(fetched)

	lines := make([]Line, 0, len(order))
	for _, k := range order {
		g := groups[k]
		p, ok := catalog[k.ProductID]
		if !ok {
			zctx.From(ctx).Warn("Dropping cart line for unknown product",
				zap.String("owner_id", ownerID),
				zap.String("product_id", k.ProductID),
				zap.String("size", string(k.Size)),
				zap.Strings("row_ids", g.RowIDs),
			)
			continue
		}
		g.Product = p
		g.Subtotal = p.Price.Mul(decimal.NewFromInt(int64(g.Quantity)))
		lines = append(lines, *g)
	}
	return lines, nil
}

func (s *Service) totalsOf(lines []Line) Totals {
	t := Totals{Subtotal: decimal.Zero}
	for _, l := range lines {
		t.ItemCount += l.Quantity
		t.Subtotal = t.Subtotal.Add(l.Subtotal)
	}
	t.Subtotal = t.Subtotal.Round(2)
	t.Tax, t.Total = pricing.ApplyTax(t.Subtotal, s.taxRate)
	return t
}

// AddItem adds qty units of productID in size. An existing row for the key is
// incremented (the oldest one if duplicates exist); otherwise a row is
// inserted. Duplicates are not collapsed here.
func (s *Service) AddItem(ctx context.Context, ownerID, productID string, size Size, qty int) error {
	if err := auth.RequireOwner(ownerID); err != nil {
		return err
	}
	size = ParseSize(string(size))
	if err := validateKey(productID); err != nil {
		return err
	}
	if qty <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be a positive integer"}
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return errors.Wrapf(err, "get product %q", productID)
	}
	if !p.Available {
		return ErrProductUnavailable
	}

	key := Key{ProductID: productID, Size: size}
	existing, err := s.rows.ListByKey(ctx, ownerID, key)
	if err != nil {
		return errors.Wrap(err, "list rows by key")
	}
	if len(existing) > 0 {
		if err := s.rows.Increment(ctx, ownerID, existing[0].ID, qty); err != nil {
			return errors.Wrap(err, "increment row")
		}
		return nil
	}

	row := &Row{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		ProductID: productID,
		Size:      size,
		Quantity:  qty,
		CreatedAt: s.now(),
	}
	if err := s.rows.Insert(ctx, row); err != nil {
		return errors.Wrap(err, "insert row")
	}
	return nil
}

// SetQuantity sets the merged quantity for a key. Non-positive qty removes
// the line. Duplicate rows backing the key are collapsed into one.
func (s *Service) SetQuantity(ctx context.Context, ownerID, productID string, size Size, qty int) error {
	if err := auth.RequireOwner(ownerID); err != nil {
		return err
	}
	size = ParseSize(string(size))
	if err := validateKey(productID); err != nil {
		return err
	}
	if qty <= 0 {
		return s.RemoveItem(ctx, ownerID, productID, size)
	}

	if err := s.rows.Collapse(ctx, ownerID, Key{ProductID: productID, Size: size}, qty); err != nil {
		return errors.Wrap(err, "collapse rows")
	}
	return nil
}

// RemoveItem deletes every raw row backing the key.
func (s *Service) RemoveItem(ctx context.Context, ownerID, productID string, size Size) error {
	if err := auth.RequireOwner(ownerID); err != nil {
		return err
	}
	size = ParseSize(string(size))
	if err := validateKey(productID); err != nil {
		return err
	}

	rows, err := s.rows.ListByKey(ctx, ownerID, Key{ProductID: productID, Size: size})
	if err != nil {
		return errors.Wrap(err, "list rows by key")
	}
	if len(rows) == 0 {
		return ErrLineNotFound
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	if _, err := s.rows.DeleteRows(ctx, ownerID, ids); err != nil {
		return errors.Wrap(err, "delete rows")
	}
	return nil
}

// Clear deletes every row owned by ownerID and returns how many were removed.
func (s *Service) Clear(ctx context.Context, ownerID string) (int64, error) {
	if err := auth.RequireOwner(ownerID); err != nil {
		return 0, err
	}
	n, err := s.rows.DeleteByOwner(ctx, ownerID)
	if err != nil {
		return 0, errors.Wrap(err, "delete by owner")
	}
	return n, nil
}

func validateKey(productID string) error {
	if productID == "" {
		return &ValidationError{Field: "productId", Reason: "required"}
	}
	return nil
}
