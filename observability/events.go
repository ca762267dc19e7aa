package observability

import "dealchain/core/events"

// MetricsEmitter feeds emitted events into the deal metrics registry.
type MetricsEmitter struct {
	Metrics *DealMetrics
}

// NewMetricsEmitter binds an emitter to the default deal metrics.
func NewMetricsEmitter() MetricsEmitter {
	return MetricsEmitter{Metrics: Deals()}
}

// Emit implements events.Emitter.
func (e MetricsEmitter) Emit(evt events.Event) {
	if e.Metrics == nil || evt == nil {
		return
	}
	switch v := evt.(type) {
	case events.DealFunds:
		e.Metrics.RecordFunds(v.Kind, v.Amount)
	case events.DepositChanged:
		e.Metrics.RecordDeposit(v.Delta)
	case events.EntityRegistered:
		e.Metrics.RecordEntity(v.Kind)
	}
}
