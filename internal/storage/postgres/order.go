package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
)

const (
	orderColumns = `id, number, owner_id, status, subtotal, tax, total, currency,
		payment_session_id, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	createOrderItemSQL = `INSERT INTO order_items
		(id, order_id, position, product_id, name, size, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	deleteOrderSQL = `DELETE FROM orders WHERE owner_id = $1 AND id = $2`

	attachSessionSQL = `UPDATE orders SET payment_session_id = $3, updated_at = now()
		WHERE owner_id = $1 AND id = $2`

	transitionOrderSQL = `UPDATE orders SET status = $4, updated_at = now()
		WHERE owner_id = $1 AND id = $2 AND status = $3`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE owner_id = $1 AND id = $2`

	findOrderBySessionSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE owner_id = $1 AND payment_session_id = $2`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE owner_id = $1 ORDER BY created_at DESC, id`

	listOrderItemsSQL = `SELECT id, order_id, product_id, name, size, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order header.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	var session *string
	if o.PaymentSessionID != "" {
		session = &o.PaymentSessionID
	}
	_, err := r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.Number, o.OwnerID, string(o.Status),
		o.Subtotal, o.Tax, o.Total, o.Currency,
		session, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// CreateItems inserts all items of an order in one transaction.
func (r *OrderRepository) CreateItems(ctx context.Context, orderID string, items []order.Item) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i, it := range items {
			batch.Queue(createOrderItemSQL,
				it.ID, orderID, i, it.ProductID, it.Name, it.Size.Ptr(), it.Quantity, it.UnitPrice,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("creating items for order %q: %w", orderID, err)
		}
		return nil
	})
}

// Delete removes an order header; its items go with it.
func (r *OrderRepository) Delete(ctx context.Context, ownerID, orderID string) error {
	if _, err := r.pool.Exec(ctx, deleteOrderSQL, ownerID, orderID); err != nil {
		return fmt.Errorf("deleting order %q: %w", orderID, err)
	}
	return nil
}

// AttachSession stores the payment session id on the order.
func (r *OrderRepository) AttachSession(ctx context.Context, ownerID, orderID, sessionID string) error {
	tag, err := r.pool.Exec(ctx, attachSessionSQL, ownerID, orderID, sessionID)
	if err != nil {
		return fmt.Errorf("attaching session to order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// Transition performs a compare-and-set on the order status.
func (r *OrderRepository) Transition(ctx context.Context, ownerID, orderID string, from, to order.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, transitionOrderSQL, ownerID, orderID, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("moving order %q to %s: %w", orderID, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns one order with items.
func (r *OrderRepository) Get(ctx context.Context, ownerID, orderID string) (*order.Order, error) {
	return r.getOne(ctx, getOrderSQL, ownerID, orderID)
}

// FindBySession returns the owner's order correlated with a payment session.
func (r *OrderRepository) FindBySession(ctx context.Context, ownerID, sessionID string) (*order.Order, error) {
	return r.getOne(ctx, findOrderBySessionSQL, ownerID, sessionID)
}

// ListByOwner returns the owner's orders with items, newest first.
func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", ownerID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", ownerID, err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *OrderRepository) getOne(ctx context.Context, query string, args ...any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}

	items, err := r.items(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return &o, nil
}

func (r *OrderRepository) items(ctx context.Context, orderIDs []string) (map[string][]order.Item, error) {
	rows, err := r.pool.Query(ctx, listOrderItemsSQL, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("listing order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("listing order items: %w", err)
	}

	byOrder := make(map[string][]order.Item, len(orderIDs))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	return byOrder, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o       order.Order
		status  string
		session *string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.OwnerID, &status,
		&o.Subtotal, &o.Tax, &o.Total, &o.Currency,
		&session, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	if session != nil {
		o.PaymentSessionID = *session
	}
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it   order.Item
		size *string
	)
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &size, &it.Quantity, &it.UnitPrice)
	it.Size = cart.NormalizeSize(size)
	return it, err
}
