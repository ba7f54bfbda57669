package handler

import (
	"net/http"

	"github.com/xenking/storefront/internal/domain/cart"
)

// GetCart returns the aggregated cart with base and presentation totals,
// computed from a single read.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	s, err := h.Cart.Summary(ctx, owner)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	base := h.Presenter.Base()
	out := cartDTO{
		Lines:     make([]cartLineDTO, len(s.Lines)),
		ItemCount: s.Totals.ItemCount,
	}
	for i, l := range s.Lines {
		out.Lines[i] = cartLineDTO{
			ProductID: l.ProductID,
			Name:      l.Product.Name,
			Size:      l.Size.Ptr(),
			Quantity:  l.Quantity,
			UnitPrice: amount(l.Product.Price),
			Subtotal:  amount(l.Subtotal),
			Available: l.Product.Available,
		}
	}
	out.Totals = totalsDTO{
		Subtotal: moneyOf(money(s.Totals.Subtotal, base)),
		Tax:      moneyOf(money(s.Totals.Tax, base)),
		Total:    moneyOf(money(s.Totals.Total, base)),
	}

	p, err := h.Presenter.PresentBreakdown(ctx, s.Totals.Subtotal, s.Totals.Total)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	out.Presentation = totalsDTO{Subtotal: moneyOf(p.Subtotal), Tax: moneyOf(p.Tax), Total: moneyOf(p.Total)}

	writeJSON(w, http.StatusOK, out)
}

// ListCartRows returns the raw persisted rows, duplicates included.
func (h *Handler) ListCartRows(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	rows, err := h.Cart.Rows(r.Context(), owner)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	out := make([]cartRowDTO, len(rows))
	for i, row := range rows {
		out[i] = cartRowOf(row)
	}
	writeJSON(w, http.StatusOK, out)
}

// AddCartItem adds quantity to a line, creating it if needed.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := h.Cart.AddItem(r.Context(), owner, req.ProductID, cart.NormalizeSize(req.Size), req.Quantity); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetCartItem sets a line's quantity. Zero removes the line.
func (h *Handler) SetCartItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := h.Cart.SetQuantity(r.Context(), owner, req.ProductID, cart.NormalizeSize(req.Size), req.Quantity); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveCartItem deletes every row of the line given by the productId and
// size query parameters.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if err := h.Cart.RemoveItem(r.Context(), owner, q.Get("productId"), cart.ParseSize(q.Get("size"))); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCart removes every row the owner has.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	if _, err := h.Cart.Clear(r.Context(), owner); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
