package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

// EventPublisher publishes billing events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.Event) (uint64, error)
}

// NopPublisher drops every event. Used when NATS is not configured.
type NopPublisher struct{}

// PublishEvent implements EventPublisher.
func (NopPublisher) PublishEvent(context.Context, *model.Event) (uint64, error) {
	return 0, nil
}

// publish fills in the event id and timestamp and publishes it. Failures are
// logged only; events never decide the outcome of the operation that raised them.
func publish(ctx context.Context, pub EventPublisher, log *logger.Logger, event *model.Event) {
	if pub == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.Must(uuid.NewV7()).String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if _, err := pub.PublishEvent(ctx, event); err != nil {
		log.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.Int64("owner_id", event.OwnerID),
			zap.Error(err),
		)
	}
}
