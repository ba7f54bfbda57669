package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/order"

// Metrics holds pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	created              metric.Int64Counter
	finalized            metric.Int64Counter
	cancelled            metric.Int64Counter
	compensationFailures metric.Int64Counter
	gatewayFailures      metric.Int64Counter
}

// NewMetrics registers the order counters on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)

	var (
		m   Metrics
		err error
	)
	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.created, "storefront.orders.created", "Orders created from carts"},
		{&m.finalized, "storefront.orders.finalized", "Orders moved to completed"},
		{&m.cancelled, "storefront.orders.cancelled", "Orders moved to cancelled"},
		{&m.compensationFailures, "storefront.orders.compensation_failures", "Orphan order headers left behind"},
		{&m.gatewayFailures, "storefront.checkout.gateway_failures", "Payment session creation failures"},
	} {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, errors.Wrapf(err, "counter %s", c.name)
		}
	}
	return &m, nil
}

func (m *Metrics) inc(ctx context.Context, pick func(*Metrics) metric.Int64Counter) {
	if m == nil {
		return
	}
	pick(m).Add(ctx, 1)
}

func (m *Metrics) orderCreated(ctx context.Context) {
	m.inc(ctx, func(m *Metrics) metric.Int64Counter { return m.created })
}

func (m *Metrics) orderFinalized(ctx context.Context) {
	m.inc(ctx, func(m *Metrics) metric.Int64Counter { return m.finalized })
}

func (m *Metrics) orderCancelled(ctx context.Context) {
	m.inc(ctx, func(m *Metrics) metric.Int64Counter { return m.cancelled })
}

func (m *Metrics) compensationFailed(ctx context.Context) {
	m.inc(ctx, func(m *Metrics) metric.Int64Counter { return m.compensationFailures })
}

func (m *Metrics) gatewayFailed(ctx context.Context) {
	m.inc(ctx, func(m *Metrics) metric.Int64Counter { return m.gatewayFailures })
}
