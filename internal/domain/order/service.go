package order

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/auth"
)

// Service answers owner-scoped order queries.
type Service struct {
	orders Repository
}

// NewService creates an order query Service.
func NewService(orders Repository) *Service {
	return &Service{orders: orders}
}

// List returns the owner's orders, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]Order, error) {
	if err := auth.RequireOwner(ownerID); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Get returns one order with its items, or ErrNotFound.
func (s *Service) Get(ctx context.Context, ownerID, orderID string) (*Order, error) {
	if err := auth.RequireOwner(ownerID); err != nil {
		return nil, err
	}
	o, err := s.orders.Get(ctx, ownerID, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}
