package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/middleware"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
	"github.com/capitalize-ai/bill-assistant/pkg/metrics"
)

const (
	eventBatchSize    = 50
	heartbeatInterval = 30 * time.Second
)

// EventSource replays an owner's billing events after a sequence number.
type EventSource interface {
	GetEvents(ctx context.Context, ownerID int64, afterSequence uint64, limit int) ([]model.Event, uint64, bool, error)
}

// EventsHandler streams billing events over SSE.
type EventsHandler struct {
	events    EventSource
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(events EventSource, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		events:    events,
		heartbeat: heartbeatInterval,
		logger:    log.Named("events"),
	}
}

// Stream handles GET /api/v1/events
// Supports ?after_sequence=N (or Last-Event-ID) for resuming from a specific point
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)
	log := middleware.RequestLogger(ctx, h.logger)

	var afterSequence uint64
	cursor := r.URL.Query().Get("after_sequence")
	if cursor == "" {
		cursor = r.Header.Get("Last-Event-ID")
	}
	if cursor != "" {
		seq, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_sequence")
			return
		}
		afterSequence = seq
	}

	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	lastSequence := afterSequence
	var replayed int
	for {
		events, last, hasMore, err := h.events.GetEvents(ctx, ownerID, lastSequence, eventBatchSize)
		if err != nil {
			log.Error("failed to replay events", zap.Error(err))
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
				Code:    "replay_error",
				Message: "Failed to replay events",
			})
			return
		}

		for i := range events {
			if ctx.Err() != nil {
				return
			}
			sendSSEEventWithID(w, flusher, events[i].Sequence, "event", &events[i])
			replayed++
		}

		if last > lastSequence {
			lastSequence = last
		}
		if !hasMore || len(events) == 0 {
			break
		}
	}

	sendSSEEvent(w, flusher, "replay_complete", &model.ReplayCompleteEvent{
		LastSequence: lastSequence,
		EventCount:   replayed,
	})
	log.Info("event replay complete",
		zap.Int("events_replayed", replayed),
		zap.Uint64("last_sequence", lastSequence),
	)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("SSE client disconnected")
			return
		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

// startSSE writes the event-stream headers. It answers 500 and reports false
// when w cannot flush. The server write timeout is lifted for the stream;
// streams end on client disconnect or server shutdown.
func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	// Recorders and other writers without deadline support report
	// http.ErrNotSupported; the stream still works under their own limits.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}

func sendSSEEventWithID(w http.ResponseWriter, flusher http.Flusher, id uint64, event string, data interface{}) error {
	fmt.Fprintf(w, "id: %d\n", id)
	return sendSSEEvent(w, flusher, event, data)
}
