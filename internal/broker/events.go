package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// publisher is satisfied by Producer
type publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher publishes booking events for the notification service
type EventPublisher struct {
	producer publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func reservationKey(id string) string {
	return fmt.Sprintf("reservation-%s", id)
}

// PublishBookingConfirmed publishes BookingConfirmed event
func (ep *EventPublisher) PublishBookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent) error {
	return ep.producer.PublishEvent(ctx, reservationKey(event.ReservationID), event)
}

// PublishBookingCancelled publishes BookingCancelled event
func (ep *EventPublisher) PublishBookingCancelled(ctx context.Context, event *models.BookingCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, reservationKey(event.ReservationID), event)
}

// PublishRefundRequired publishes RefundRequired event
func (ep *EventPublisher) PublishRefundRequired(ctx context.Context, event *models.RefundRequiredEvent) error {
	return ep.producer.PublishEvent(ctx, reservationKey(event.ReservationID), event)
}

// EventHandler routes listing-topic events
type EventHandler struct {
	onPropertyUpserted func(context.Context, *models.PropertyUpsertedEvent) error
	onPropertyDeleted  func(context.Context, *models.PropertyDeletedEvent) error
	onUserDeleted      func(context.Context, *models.UserDeletedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPropertyUpserted registers a handler for PropertyUpserted events
func (eh *EventHandler) OnPropertyUpserted(handler func(context.Context, *models.PropertyUpsertedEvent) error) {
	eh.onPropertyUpserted = handler
}

// OnPropertyDeleted registers a handler for PropertyDeleted events
func (eh *EventHandler) OnPropertyDeleted(handler func(context.Context, *models.PropertyDeletedEvent) error) {
	eh.onPropertyDeleted = handler
}

// OnUserDeleted registers a handler for UserDeleted events
func (eh *EventHandler) OnUserDeleted(handler func(context.Context, *models.UserDeletedEvent) error) {
	eh.onUserDeleted = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePropertyUpserted:
		if eh.onPropertyUpserted != nil {
			var event models.PropertyUpsertedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PropertyUpserted event: %w", err)
			}
			return eh.onPropertyUpserted(ctx, &event)
		}

	case models.EventTypePropertyDeleted:
		if eh.onPropertyDeleted != nil {
			var event models.PropertyDeletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PropertyDeleted event: %w", err)
			}
			return eh.onPropertyDeleted(ctx, &event)
		}

	case models.EventTypeUserDeleted:
		if eh.onUserDeleted != nil {
			var event models.UserDeletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal UserDeleted event: %w", err)
			}
			return eh.onUserDeleted(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
