package pricing

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrUnknownPair is returned when no rate is known for a currency pair.
var ErrUnknownPair = errors.New("unknown currency pair")

// RateSource resolves the multiplier that converts an amount in from into to.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Pair is an ordered currency pair.
type Pair struct {
	From string
	To   string
}

func pairOf(from, to string) Pair {
	return Pair{From: strings.ToUpper(from), To: strings.ToUpper(to)}
}

// StaticRates is a configured rate table. Inverse pairs are derived when only
// one direction is present.
type StaticRates map[Pair]decimal.Decimal

// NewStaticRates builds a table with a single configured pair.
func NewStaticRates(from, to string, rate decimal.Decimal) StaticRates {
	return StaticRates{pairOf(from, to): rate}
}

// Rate implements RateSource.
func (s StaticRates) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	p := pairOf(from, to)
	if p.From == p.To {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := s[p]; ok {
		return r, nil
	}
	if r, ok := s[Pair{From: p.To, To: p.From}]; ok && !r.IsZero() {
		return decimal.NewFromInt(1).DivRound(r, 6), nil
	}
	return decimal.Zero, errors.Wrapf(ErrUnknownPair, "%s/%s", p.From, p.To)
}

// FallbackRates prefers a live source and falls back to the static table on
// any failure. It only errors when the static table has no entry either.
type FallbackRates struct {
	live   RateSource
	static RateSource
}

// NewFallbackRates creates FallbackRates. live may be nil.
func NewFallbackRates(live, static RateSource) *FallbackRates {
	return &FallbackRates{live: live, static: static}
}

// Rate implements RateSource.
func (f *FallbackRates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if f.live != nil {
		r, err := f.live.Rate(ctx, from, to)
		if err == nil && r.IsPositive() {
			return r, nil
		}
		zctx.From(ctx).Warn("Live exchange rate unavailable, using static table",
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err),
		)
	}
	return f.static.Rate(ctx, from, to)
}

// Converter converts base-currency amounts into the presentation currency.
type Converter struct {
	rates        RateSource
	base         string
	presentation string
}

// NewConverter creates a Converter between base and presentation currencies.
func NewConverter(rates RateSource, base, presentation string) *Converter {
	return &Converter{
		rates:        rates,
		base:         strings.ToUpper(base),
		presentation: strings.ToUpper(presentation),
	}
}

// Base returns the base currency code.
func (c *Converter) Base() string { return c.base }

// Presentation returns the presentation currency code.
func (c *Converter) Presentation() string { return c.presentation }

// Present converts amount from the base into the presentation currency.
func (c *Converter) Present(ctx context.Context, amount decimal.Decimal) (Money, error) {
	rate, err := c.rates.Rate(ctx, c.base, c.presentation)
	if err != nil {
		return Money{}, errors.Wrap(err, "resolve rate")
	}
	return Money{
		Amount:   ToPresentationCurrency(amount, rate),
		Currency: c.presentation,
	}, nil
}

// Breakdown is a subtotal, tax and total in one currency.
type Breakdown struct {
	Subtotal Money
	Tax      Money
	Total    Money
}

// PresentBreakdown converts subtotal and total with a single rate lookup.
// Tax is taken as their converted difference, so Subtotal plus Tax always
// equals Total and Total matches Present(total).
func (c *Converter) PresentBreakdown(ctx context.Context, subtotal, total decimal.Decimal) (Breakdown, error) {
	rate, err := c.rates.Rate(ctx, c.base, c.presentation)
	if err != nil {
		return Breakdown{}, errors.Wrap(err, "resolve rate")
	}
	sub := ToPresentationCurrency(subtotal, rate)
	tot := ToPresentationCurrency(total, rate)
	return Breakdown{
		Subtotal: Money{Amount: sub, Currency: c.presentation},
		Tax:      Money{Amount: tot.Sub(sub), Currency: c.presentation},
		Total:    Money{Amount: tot, Currency: c.presentation},
	}, nil
}
