// Package pricing holds the pure money math of the storefront: currency
// conversion, tax, minor-unit conversion and display formatting.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultTaxRate is the policy tax rate applied to cart subtotals.
var DefaultTaxRate = decimal.RequireFromString("0.08")

var hundred = decimal.NewFromInt(100)

// Money is an amount tagged with its ISO currency code.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// String renders m with Format.
func (m Money) String() string {
	return Format(m.Amount, m.Currency)
}

// ToPresentationCurrency converts a base-currency amount using rate and
// rounds the result to cents.
func ToPresentationCurrency(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

// ApplyTax returns the tax on subtotal and the tax-inclusive total. The
// subtotal is rounded to cents before tax is computed, so total always equals
// the rounded subtotal plus tax.
func ApplyTax(subtotal, rate decimal.Decimal) (tax, total decimal.Decimal) {
	subtotal = subtotal.Round(2)
	tax = subtotal.Mul(rate).Round(2)
	return tax, subtotal.Add(tax)
}

// MinorUnits converts amount to integer cents, rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// Format renders amount for display: R12.50 for ZAR, $12.50 for USD and
// "EUR 12.50" for anything else.
func Format(amount decimal.Decimal, currency string) string {
	s := amount.StringFixed(2)
	switch strings.ToUpper(currency) {
	case "ZAR":
		return "R" + s
	case "USD":
		return "$" + s
	default:
		return fmt.Sprintf("%s %s", strings.ToUpper(currency), s)
	}
}
