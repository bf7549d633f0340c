package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Davronbekjonbek/planshet-back/internal/models"
	"github.com/Davronbekjonbek/planshet-back/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes a keyed event to one topic
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events. Price events and
// ingestion submissions go to separate topics.
type EventPublisher struct {
	events    Publisher
	ingestion Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(events, ingestion Publisher) *EventPublisher {
	return &EventPublisher{events: events, ingestion: ingestion}
}

func stallKey(stallID int64) string {
	return fmt.Sprintf("stall-%d", stallID)
}

func periodDateKey(periodDateID int64) string {
	return fmt.Sprintf("period-date-%d", periodDateID)
}

// PublishObservationRecorded publishes ObservationRecorded event
func (ep *EventPublisher) PublishObservationRecorded(ctx context.Context, event *models.ObservationRecordedEvent) error {
	return ep.events.PublishEvent(ctx, stallKey(event.StallID), event)
}

// PublishRolloverRequested publishes RolloverRequested event
func (ep *EventPublisher) PublishRolloverRequested(ctx context.Context, event *models.RolloverRequestedEvent) error {
	return ep.events.PublishEvent(ctx, periodDateKey(event.PeriodDateID), event)
}

// PublishRolloverCompleted publishes RolloverCompleted event
func (ep *EventPublisher) PublishRolloverCompleted(ctx context.Context, event *models.RolloverCompletedEvent) error {
	return ep.events.PublishEvent(ctx, periodDateKey(event.PeriodDateID), event)
}

// PublishObservationSubmitted queues a raw submission for the ingestion worker
func (ep *EventPublisher) PublishObservationSubmitted(ctx context.Context, event *models.ObservationSubmittedEvent) error {
	return ep.ingestion.PublishEvent(ctx, "stall-"+event.StallRef, event)
}

// DispatchRollover asks the rollover worker to seed the new period date
func (ep *EventPublisher) DispatchRollover(ctx context.Context, pd *models.PeriodDate) error {
	event := &models.RolloverRequestedEvent{
		BaseEvent:    models.NewBaseEvent(models.EventTypeRolloverRequested),
		PeriodDateID: pd.ID,
		PeriodID:     pd.PeriodID,
		Date:         pd.Date,
	}
	return ep.PublishRolloverRequested(ctx, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onObservationSubmitted func(context.Context, *models.ObservationSubmittedEvent) error
	onRolloverRequested    func(context.Context, *models.RolloverRequestedEvent) error
	logger                 *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.Named("events")}
}

// OnObservationSubmitted registers a handler for ObservationSubmitted events
func (eh *EventHandler) OnObservationSubmitted(handler func(context.Context, *models.ObservationSubmittedEvent) error) {
	eh.onObservationSubmitted = handler
}

// OnRolloverRequested registers a handler for RolloverRequested events
func (eh *EventHandler) OnRolloverRequested(handler func(context.Context, *models.RolloverRequestedEvent) error) {
	eh.onRolloverRequested = handler
}

// HandleMessage routes messages to appropriate handlers. Events nobody
// registered for are acknowledged.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeObservationSubmitted:
		if eh.onObservationSubmitted != nil {
			var event models.ObservationSubmittedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ObservationSubmitted event: %w", err)
			}
			return eh.onObservationSubmitted(ctx, &event)
		}

	case models.EventTypeRolloverRequested:
		if eh.onRolloverRequested != nil {
			var event models.RolloverRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal RolloverRequested event: %w", err)
			}
			return eh.onRolloverRequested(ctx, &event)
		}

	default:
		eh.logger.Debug("Ignoring event", zap.String("type", baseEvent.EventType))
	}

	return nil
}
