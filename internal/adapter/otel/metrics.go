package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "concierge"

// Metrics holds all concierge metric instruments.
type Metrics struct {
	Decisions            metric.Int64Counter
	Executions           metric.Int64Counter
	ExecutionsFailed     metric.Int64Counter
	ConfirmationsCreated metric.Int64Counter
	ConfirmationsExpired metric.Int64Counter
	SandboxKills         metric.Int64Counter
	ExecutionDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Decisions, err = meter.Int64Counter("concierge.decisions",
		metric.WithDescription("Autonomy decisions, by level"))
	if err != nil {
		return nil, err
	}

	m.Executions, err = meter.Int64Counter("concierge.executions",
		metric.WithDescription("Actions executed"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsFailed, err = meter.Int64Counter("concierge.executions.failed",
		metric.WithDescription("Actions that failed to execute"))
	if err != nil {
		return nil, err
	}

	m.ConfirmationsCreated, err = meter.Int64Counter("concierge.confirmations.created",
		metric.WithDescription("Confirmations issued"))
	if err != nil {
		return nil, err
	}

	m.ConfirmationsExpired, err = meter.Int64Counter("concierge.confirmations.expired",
		metric.WithDescription("Confirmations that expired unanswered"))
	if err != nil {
		return nil, err
	}

	m.SandboxKills, err = meter.Int64Counter("concierge.sandbox.kills",
		metric.WithDescription("Sandboxed processes killed for exceeding limits"))
	if err != nil {
		return nil, err
	}

	m.ExecutionDuration, err = meter.Float64Histogram("concierge.execution.duration_seconds",
		metric.WithDescription("Action execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
