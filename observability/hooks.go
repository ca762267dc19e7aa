package observability

import "dealchain/native/deal"

// TransitionHook counts completed deal transitions.
type TransitionHook struct {
	Metrics *DealMetrics
}

func (TransitionHook) Before(*deal.Transition) error { return nil }

func (h TransitionHook) After(t *deal.Transition) {
	h.Metrics.RecordTransition(t.Op, t.To.String())
}
