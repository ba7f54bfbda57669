package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
)

// Rows without a size are stored as NULL. Legacy blank or padded values are
// read back trimmed, so key lookups compare on the same trimmed form.
const (
	sizeKeyExpr = `COALESCE(BTRIM(size, E' \t\n\r\f\x0B'), '')`

	cartColumns = `id, owner_id, product_id, size, quantity, created_at`

	listCartByOwnerSQL = `SELECT ` + cartColumns + ` FROM cart_items
		WHERE owner_id = $1 ORDER BY created_at, id`

	listCartByKeySQL = `SELECT ` + cartColumns + ` FROM cart_items
		WHERE owner_id = $1 AND product_id = $2 AND ` + sizeKeyExpr + ` = $3
		ORDER BY created_at, id`

	lockCartKeySQL = `SELECT id FROM cart_items
		WHERE owner_id = $1 AND product_id = $2 AND ` + sizeKeyExpr + ` = $3
		ORDER BY created_at, id
		FOR UPDATE`

	insertCartItemSQL = `INSERT INTO cart_items (` + cartColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`

	incrementCartItemSQL = `UPDATE cart_items SET quantity = quantity + $3
		WHERE owner_id = $1 AND id = $2`

	setCartQuantitySQL = `UPDATE cart_items SET quantity = $3
		WHERE owner_id = $1 AND id = $2`

	deleteCartRowsSQL = `DELETE FROM cart_items WHERE owner_id = $1 AND id = ANY($2)`

	deleteCartByOwnerSQL = `DELETE FROM cart_items WHERE owner_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// ListByOwner returns the owner's raw rows, oldest first.
func (r *CartRepository) ListByOwner(ctx context.Context, ownerID string) ([]cart.Row, error) {
	rows, err := r.pool.Query(ctx, listCartByOwnerSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing cart rows for %q: %w", ownerID, err)
	}
	return pgx.CollectRows(rows, scanCartRow)
}

// ListByKey returns the owner's raw rows for one key, oldest first.
func (r *CartRepository) ListByKey(ctx context.Context, ownerID string, key cart.Key) ([]cart.Row, error) {
	rows, err := r.pool.Query(ctx, listCartByKeySQL, ownerID, key.ProductID, string(key.Size))
	if err != nil {
		return nil, fmt.Errorf("listing cart rows for %q/%q: %w", ownerID, key.ProductID, err)
	}
	return pgx.CollectRows(rows, scanCartRow)
}

// Insert persists a new raw row.
func (r *CartRepository) Insert(ctx context.Context, row *cart.Row) error {
	_, err := r.pool.Exec(ctx, insertCartItemSQL,
		row.ID, row.OwnerID, row.ProductID, row.Size.Ptr(), row.Quantity, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting cart row %q: %w", row.ID, err)
	}
	return nil
}

// Increment adds delta to the quantity of one row.
func (r *CartRepository) Increment(ctx context.Context, ownerID, rowID string, delta int) error {
	tag, err := r.pool.Exec(ctx, incrementCartItemSQL, ownerID, rowID, delta)
	if err != nil {
		return fmt.Errorf("incrementing cart row %q: %w", rowID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrLineNotFound
	}
	return nil
}

// Collapse locks every row for the key, keeps the oldest with quantity qty
// and deletes the rest inside one transaction.
func (r *CartRepository) Collapse(ctx context.Context, ownerID string, key cart.Key, qty int) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, lockCartKeySQL, ownerID, key.ProductID, string(key.Size))
		if err != nil {
			return fmt.Errorf("locking cart rows: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("locking cart rows: %w", err)
		}
		if len(ids) == 0 {
			return cart.ErrLineNotFound
		}

		if _, err := tx.Exec(ctx, setCartQuantitySQL, ownerID, ids[0], qty); err != nil {
			return fmt.Errorf("setting quantity on %q: %w", ids[0], err)
		}
		if len(ids) > 1 {
			if _, err := tx.Exec(ctx, deleteCartRowsSQL, ownerID, ids[1:]); err != nil {
				return fmt.Errorf("deleting duplicate rows: %w", err)
			}
		}
		return nil
	})
}

// DeleteRows deletes the given rows of the owner.
func (r *CartRepository) DeleteRows(ctx context.Context, ownerID string, rowIDs []string) (int64, error) {
	tag, err := r.pool.Exec(ctx, deleteCartRowsSQL, ownerID, rowIDs)
	if err != nil {
		return 0, fmt.Errorf("deleting cart rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByOwner deletes every row of the owner in one statement.
func (r *CartRepository) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, deleteCartByOwnerSQL, ownerID)
	if err != nil {
		return 0, fmt.Errorf("clearing cart for %q: %w", ownerID, err)
	}
	return tag.RowsAffected(), nil
}

func scanCartRow(row pgx.CollectableRow) (cart.Row, error) {
	var (
		r    cart.Row
		size *string
	)
	err := row.Scan(&r.ID, &r.OwnerID, &r.ProductID, &size, &r.Quantity, &r.CreatedAt)
	r.Size = cart.NormalizeSize(size)
	return r, err
}
