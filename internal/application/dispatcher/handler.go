package dispatcher

import (
	"context"

	"github.com/garyjia/spend-reconciliation/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}

// NewLoggingHandler writes one structured line per event
func NewLoggingHandler(logger Logger) Handler {
	return func(ctx context.Context, evt *event.Event) error {
		kv := []interface{}{
			"event_type", evt.Type,
			"event_id", evt.ID,
			"batch_id", evt.BatchID,
			"actor", evt.Actor,
		}
		if evt.DetailID != 0 {
			kv = append(kv, "detail_id", evt.DetailID)
		}
		for k, v := range evt.Payload {
			kv = append(kv, k, v)
		}
		logger.Info("Reconciliation event", kv...)
		return nil
	}
}
