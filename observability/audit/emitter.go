package audit

import (
	"context"
	"log/slog"

	"dealchain/core/events"
)

// Emitter appends every typed event to the store. Failures are logged and
// never reach the emitting operation.
type Emitter struct {
	Store  *Store
	Logger *slog.Logger
	// RequestID, when set, supplies the correlation id of the operation in
	// progress.
	RequestID func() string
}

// Emit implements events.Emitter.
func (e Emitter) Emit(evt events.Event) {
	if e.Store == nil || evt == nil {
		return
	}
	typed, ok := evt.(events.Typed)
	if !ok {
		return
	}
	requestID := ""
	if e.RequestID != nil {
		requestID = e.RequestID()
	}
	if _, err := e.Store.Append(context.Background(), typed.Event(), requestID); err != nil {
		logger := e.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("audit append failed",
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}
