package deal

import (
	"encoding/hex"
	"log/slog"

	"dealchain/observability/logging"
)

// Transition describes a lifecycle step as seen by hooks. Deal holds the
// record as it will be stored; hooks must treat it as read-only.
type Transition struct {
	Op      string
	OfferID [32]byte
	Actor   [20]byte
	From    Status
	To      Status
	Reason  string
	Deal    *Deal
}

// Hook observes transitions. Before runs after all guards have passed and
// before any state is written; returning an error aborts the operation with
// no effect. After runs once the transition has fully succeeded.
type Hook interface {
	Before(*Transition) error
	After(*Transition)
}

// HookFuncs adapts plain functions to the Hook interface. Nil members are
// skipped.
type HookFuncs struct {
	BeforeFn func(*Transition) error
	AfterFn  func(*Transition)
}

func (h HookFuncs) Before(t *Transition) error {
	if h.BeforeFn == nil {
		return nil
	}
	return h.BeforeFn(t)
}

func (h HookFuncs) After(t *Transition) {
	if h.AfterFn != nil {
		h.AfterFn(t)
	}
}

// LoggingHook writes every completed transition to a structured logger.
type LoggingHook struct {
	Logger *slog.Logger
}

func (LoggingHook) Before(*Transition) error { return nil }

func (h LoggingHook) After(t *Transition) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("deal transition",
		logging.MaskField("op", t.Op),
		logging.MaskField("offer_id", "0x"+hex.EncodeToString(t.OfferID[:])),
		logging.MaskField("from", t.From.String()),
		logging.MaskField("to", t.To.String()),
		logging.MaskField("actor", "0x"+hex.EncodeToString(t.Actor[:])))
}
