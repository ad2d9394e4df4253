package service

import (
	"context"
	"time"

	"booking-service/internal/gateway"
	"booking-service/internal/models"
)

// ReservationStore is the persistence used by the reservation lifecycle.
// *store.Store satisfies it.
type ReservationStore interface {
	GetPropertyByID(ctx context.Context, id string) (*models.Property, error)

	CreateReservation(ctx context.Context, r *models.Reservation) error
	GetReservationByID(ctx context.Context, id string) (*models.Reservation, error)
	GetReservationBySessionID(ctx context.Context, sessionID string) (*models.Reservation, error)
	SetPaymentSession(ctx context.Context, id, sessionID string) error
	FindOverlapping(ctx context.Context, propertyID string, checkIn, checkOut time.Time, statuses []string) ([]models.Reservation, error)
	ConfirmReservation(ctx context.Context, id string, payment models.ConfirmPayment) (*models.Reservation, error)
	CancelReservation(ctx context.Context, id string, from []string) (*models.Reservation, error)

	DeletePendingByID(ctx context.Context, id string) (int64, error)
	DeletePendingBySession(ctx context.Context, sessionID string) (int64, error)
	DeletePendingForGuestProperty(ctx context.Context, guestID, propertyID string) (int64, error)
	DeleteExpiredPending(ctx context.Context, now time.Time) (int64, error)
	CompletePastStays(ctx context.Context, today time.Time) (int64, error)

	ListByGuest(ctx context.Context, guestID string, now time.Time) ([]models.Reservation, error)
	ListByHost(ctx context.Context, hostID string, now time.Time) ([]models.Reservation, error)

	DeletePropertyCascade(ctx context.Context, propertyID string) (int64, error)
	DeleteGuestCascade(ctx context.Context, userID string) (int64, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// PaymentGateway is implemented by *gateway.StripeGateway
type PaymentGateway interface {
	CreateSession(ctx context.Context, reservationID string, amount int64, description string) (*gateway.CreatedSession, error)
	GetSession(ctx context.Context, sessionID string) (*gateway.SessionInfo, error)
	ParseWebhook(payload []byte, signatureHeader string) (*gateway.Event, error)
}

// EventPublisher is implemented by *broker.EventPublisher
type EventPublisher interface {
	PublishBookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent) error
	PublishBookingCancelled(ctx context.Context, event *models.BookingCancelledEvent) error
	PublishRefundRequired(ctx context.Context, event *models.RefundRequiredEvent) error
}

// IdempotencyCache remembers create responses by client key. Implemented by *redisclient.Client.
type IdempotencyCache interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// EventClaimer is the fast-path webhook dedupe. Implemented by *redisclient.Client.
type EventClaimer interface {
	ClaimEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	CompleteEvent(ctx context.Context, eventID string, ttl time.Duration) error
	ReleaseEvent(ctx context.Context, eventID string) error
}
