package handler

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// Amounts are rendered as fixed two-decimal strings so clients never parse
// money through floats.
func amount(d decimal.Decimal) string { return d.StringFixed(2) }

type imageDTO struct {
	Thumbnail string `json:"thumbnail"`
	Mobile    string `json:"mobile"`
	Tablet    string `json:"tablet"`
	Desktop   string `json:"desktop"`
}

type productDTO struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Brand     string   `json:"brand"`
	Category  string   `json:"category"`
	Price     string   `json:"price"`
	Available bool     `json:"available"`
	Image     imageDTO `json:"image"`
}

func (h *Handler) productDTO(p product.Product) productDTO {
	return productDTO{
		ID:        p.ID,
		Name:      p.Name,
		Brand:     p.Brand,
		Category:  p.Category,
		Price:     amount(p.Price),
		Available: p.Available,
		Image: imageDTO{
			Thumbnail: h.imageURL(p.Image.Thumbnail),
			Mobile:    h.imageURL(p.Image.Mobile),
			Tablet:    h.imageURL(p.Image.Tablet),
			Desktop:   h.imageURL(p.Image.Desktop),
		},
	}
}

// imageURL prefixes relative paths with the configured base URL.
func (h *Handler) imageURL(path string) string {
	if h.imageBaseURL == "" || path == "" || strings.Contains(path, "://") {
		return path
	}
	return strings.TrimRight(h.imageBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

type itemRequest struct {
	ProductID string  `json:"productId" validate:"required,max=64"`
	Size      *string `json:"size" validate:"omitempty,max=32"`
	Quantity  int     `json:"quantity" validate:"gte=0,lte=999"`
}

type finalizeRequest struct {
	SessionID string `json:"sessionId" validate:"max=255"`
}

type cartLineDTO struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Size      *string `json:"size"`
	Quantity  int     `json:"quantity"`
	UnitPrice string  `json:"unitPrice"`
	Subtotal  string  `json:"subtotal"`
	Available bool    `json:"available"`
}

type moneyDTO struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Formatted string `json:"formatted"`
}

func moneyOf(m pricing.Money) moneyDTO {
	return moneyDTO{
		Amount:    amount(m.Amount),
		Currency:  m.Currency,
		Formatted: pricing.Format(m.Amount, m.Currency),
	}
}

type totalsDTO struct {
	Subtotal moneyDTO `json:"subtotal"`
	Tax      moneyDTO `json:"tax"`
	Total    moneyDTO `json:"total"`
}

type cartDTO struct {
	Lines        []cartLineDTO `json:"lines"`
	ItemCount    int           `json:"itemCount"`
	Totals       totalsDTO     `json:"totals"`
	Presentation totalsDTO     `json:"presentation"`
}

type cartRowDTO struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	Size      *string   `json:"size"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
}

func cartRowOf(r cart.Row) cartRowDTO {
	return cartRowDTO{
		ID:        r.ID,
		ProductID: r.ProductID,
		Size:      r.Size.Ptr(),
		Quantity:  r.Quantity,
		CreatedAt: r.CreatedAt,
	}
}

type orderItemDTO struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Size      *string `json:"size"`
	Quantity  int     `json:"quantity"`
	UnitPrice string  `json:"unitPrice"`
	LineTotal string  `json:"lineTotal"`
}

type orderDTO struct {
	ID               string         `json:"id"`
	Number           string         `json:"number"`
	Status           string         `json:"status"`
	Currency         string         `json:"currency"`
	Subtotal         string         `json:"subtotal"`
	Tax              string         `json:"tax"`
	Total            string         `json:"total"`
	PaymentSessionID string         `json:"paymentSessionId,omitempty"`
	Items            []orderItemDTO `json:"items"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

func orderOf(o *order.Order) orderDTO {
	items := make([]orderItemDTO, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemDTO{
			ProductID: it.ProductID,
			Name:      it.Name,
			Size:      it.Size.Ptr(),
			Quantity:  it.Quantity,
			UnitPrice: amount(it.UnitPrice),
			LineTotal: amount(it.LineTotal()),
		}
	}
	return orderDTO{
		ID:               o.ID,
		Number:           o.Number,
		Status:           string(o.Status),
		Currency:         o.Currency,
		Subtotal:         amount(o.Subtotal),
		Tax:              amount(o.Tax),
		Total:            amount(o.Total),
		PaymentSessionID: o.PaymentSessionID,
		Items:            items,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

type checkoutDTO struct {
	Order       orderDTO `json:"order"`
	Charge      moneyDTO `json:"charge"`
	SessionID   string   `json:"sessionId"`
	RedirectURL string   `json:"redirectUrl"`
}

func money(a decimal.Decimal, currency string) pricing.Money {
	return pricing.Money{Amount: a, Currency: currency}
}
