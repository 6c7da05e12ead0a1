package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/model"
)

const (
	// StreamName is the name of the billing events stream.
	StreamName = "BILLING"

	// SubjectPrefix is the prefix for all billing subjects.
	SubjectPrefix = "billing"

	fetchWait = 2 * time.Second
)

// StreamManager publishes and replays billing events.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the billing stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		Description: "File ingestion and bill filing events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	m.client.logger.Info("created stream", zap.String("stream", StreamName))
	return nil
}

// EventSubject returns the subject for an event.
func EventSubject(ownerID int64, eventType model.EventType) string {
	return fmt.Sprintf("%s.%d.%s", SubjectPrefix, ownerID, eventType)
}

// OwnerFilter returns the filter subject for all events of an owner.
func OwnerFilter(ownerID int64) string {
	return fmt.Sprintf("%s.%d.>", SubjectPrefix, ownerID)
}

// PublishEvent publishes an event to JetStream and returns its sequence.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.Event) (uint64, error) {
	subject := EventSubject(event.OwnerID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	event.Sequence = ack.Sequence
	return ack.Sequence, nil
}

// GetEvents returns up to limit events of ownerID with a stream sequence
// greater than afterSequence.
func (m *StreamManager) GetEvents(ctx context.Context, ownerID int64, afterSequence uint64, limit int) ([]model.Event, uint64, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	js := m.client.JetStream()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject:     OwnerFilter(ownerID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}
	defer func() {
		name := consumer.CachedInfo().Name
		if err := js.DeleteConsumer(context.WithoutCancel(ctx), StreamName, name); err != nil {
			m.client.logger.Debug("failed to delete replay consumer", zap.String("consumer", name), zap.Error(err))
		}
	}()

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(fetchWait))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch events: %w", err)
	}

	events := []model.Event{}
	var lastSequence uint64

	for msg := range batch.Messages() {
		var event model.Event
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			m.client.logger.Warn("skipping malformed event", zap.String("subject", msg.Subject()), zap.Error(err))
			continue
		}

		if meta, err := msg.Metadata(); err == nil {
			event.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}
		events = append(events, event)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	return events, lastSequence, len(events) == limit, nil
}
