package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"booking-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	keys   []string
	events []interface{}
}

func (r *recordingPublisher) PublishEvent(_ context.Context, key string, event interface{}) error {
	r.keys = append(r.keys, key)
	r.events = append(r.events, event)
	return nil
}

func message(t *testing.T, v interface{}) kafka.Message {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestEventPublisher_KeysByReservation(t *testing.T) {
	rec := &recordingPublisher{}
	ep := NewEventPublisher(rec)

	require.NoError(t, ep.PublishBookingConfirmed(context.Background(), &models.BookingConfirmedEvent{ReservationID: "r1"}))
	require.NoError(t, ep.PublishBookingCancelled(context.Background(), &models.BookingCancelledEvent{ReservationID: "r1"}))

	assert.Equal(t, []string{"reservation-r1", "reservation-r1"}, rec.keys)
}

func TestEventHandler_RoutesByType(t *testing.T) {
	eh := NewEventHandler()

	var gotUpserted, gotProperty, gotUser string
	eh.OnPropertyUpserted(func(_ context.Context, e *models.PropertyUpsertedEvent) error {
		gotUpserted = fmt.Sprintf("%s:%d", e.PropertyID, e.NightlyRate)
		return nil
	})
	eh.OnPropertyDeleted(func(_ context.Context, e *models.PropertyDeletedEvent) error {
		gotProperty = e.PropertyID
		return nil
	})
	eh.OnUserDeleted(func(_ context.Context, e *models.UserDeletedEvent) error {
		gotUser = e.UserID
		return nil
	})

	ctx := context.Background()
	require.NoError(t, eh.HandleMessage(ctx, message(t, models.PropertyUpsertedEvent{
		BaseEvent:   models.BaseEvent{EventID: "e0", EventType: models.EventTypePropertyUpserted},
		PropertyID:  "p1",
		HostID:      "h1",
		NightlyRate: 12000,
	})))
	require.NoError(t, eh.HandleMessage(ctx, message(t, models.PropertyDeletedEvent{
		BaseEvent:  models.BaseEvent{EventID: "e1", EventType: models.EventTypePropertyDeleted},
		PropertyID: "p1",
	})))
	require.NoError(t, eh.HandleMessage(ctx, message(t, models.UserDeletedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeUserDeleted},
		UserID:    "u1",
	})))

	assert.Equal(t, "p1:12000", gotUpserted)
	assert.Equal(t, "p1", gotProperty)
	assert.Equal(t, "u1", gotUser)
}

func TestEventHandler_PropagatesHandlerError(t *testing.T) {
	eh := NewEventHandler()
	eh.OnPropertyDeleted(func(context.Context, *models.PropertyDeletedEvent) error {
		return errors.New("db down")
	})

	err := eh.HandleMessage(context.Background(), message(t, models.PropertyDeletedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypePropertyDeleted},
	}))
	assert.Error(t, err)
}

func TestEventHandler_IgnoresUnknownAndRejectsGarbage(t *testing.T) {
	eh := NewEventHandler()

	assert.NoError(t, eh.HandleMessage(context.Background(), message(t, models.BaseEvent{EventType: "SOMETHING_ELSE"})))
	assert.Error(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("{not json")}))
}
