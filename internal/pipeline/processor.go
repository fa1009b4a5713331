package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-dispatch/internal/trigger"
)

// Notifier is the part of trigger.ContentNotifier the processor needs.
type Notifier interface {
	Notify(ctx context.Context, content trigger.Content)
}

// NewProcessor hands each content event to the notifier.
// Delivery is best-effort and asynchronous, so the message is always acked.
func NewProcessor(notifier Notifier, logger *slog.Logger) messagepipeline.StreamProcessor[trigger.Content] {
	return func(ctx context.Context, original messagepipeline.Message, content *trigger.Content) error {
		logger.Debug("Content event received", "entity_id", content.EntityID, "pubsub_msg_id", original.ID)
		notifier.Notify(ctx, *content)
		return nil
	}
}
