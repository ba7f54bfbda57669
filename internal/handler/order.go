package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/order"
)

// StartCheckout creates a pending order from the cart and opens a payment
// session for it.
func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	res, err := h.Checkout.Start(r.Context(), owner, h.redirects)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutDTO{
		Order:       orderOf(res.Order),
		Charge:      moneyOf(res.Charge),
		SessionID:   res.SessionID,
		RedirectURL: res.RedirectURL,
	})
}

// FinalizeCheckout completes the caller's order for a paid session. It is
// safe to call repeatedly.
func (h *Handler) FinalizeCheckout(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	var req finalizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	o, err := h.Finalizer.Finalize(r.Context(), req.SessionID, owner)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if o == nil {
		writeError(r.Context(), w, order.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, orderOf(o))
}

// ListOrders returns the caller's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	orders, err := h.Orders.List(r.Context(), owner)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	out := make([]orderDTO, len(orders))
	for i := range orders {
		out[i] = orderOf(&orders[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// GetOrder returns one of the caller's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	o, err := h.Orders.Get(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderOf(o))
}

// CancelOrder cancels a pending order.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	o, err := h.Finalizer.Cancel(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderOf(o))
}
