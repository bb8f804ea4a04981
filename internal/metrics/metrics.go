package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
)

// Metrics holds the engine's instruments. A nil *Metrics is valid and
// records nothing, so tests can construct the engine without a meter.
type Metrics struct {
	transitions metric.Int64Counter
}

func New() (*Metrics, error) {
	meter := otel.Meter("github.com/ledgerworks/approvald")
	transitions, err := meter.Int64Counter("approvald.transitions",
		metric.WithDescription("Engine operations by operation and outcome"))
	if err != nil {
		return nil, err
	}
	return &Metrics{transitions: transitions}, nil
}

func Module() fx.Option {
	return fx.Provide(New)
}

// Transition records one engine operation outcome.
func (m *Metrics) Transition(ctx context.Context, op, outcome string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}
