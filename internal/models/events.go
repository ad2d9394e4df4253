package models

import "time"

// Event types
const (
	EventTypeBookingConfirmed = "BOOKING_CONFIRMED"
	EventTypeBookingCancelled = "BOOKING_CANCELLED"
	EventTypeRefundRequired   = "RESERVATION_REFUND_REQUIRED"
	EventTypePropertyUpserted = "PROPERTY_UPSERTED"
	EventTypePropertyDeleted  = "PROPERTY_DELETED"
	EventTypeUserDeleted      = "USER_DELETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// BookingConfirmedEvent is sent to the notification service once payment is recorded
type BookingConfirmedEvent struct {
	BaseEvent
	ReservationID string    `json:"reservation_id"`
	GuestID       string    `json:"guest_id"`
	PropertyID    string    `json:"property_id"`
	CheckIn       time.Time `json:"check_in"`
	CheckOut      time.Time `json:"check_out"`
	OrderTotal    int64     `json:"order_total"`
}

// BookingCancelledEvent published when a reservation moves to CANCELLED
type BookingCancelledEvent struct {
	BaseEvent
	ReservationID string `json:"reservation_id"`
	GuestID       string `json:"guest_id"`
	PropertyID    string `json:"property_id"`
	Reason        string `json:"reason"`
}

// RefundRequiredEvent published when a paid reservation could not be confirmed
type RefundRequiredEvent struct {
	BaseEvent
	ReservationID   string `json:"reservation_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          int64  `json:"amount"`
	Reason          string `json:"reason"`
}

// PropertyUpsertedEvent is consumed from the listing topic when a property is
// created or its rate, name or host changes
type PropertyUpsertedEvent struct {
	BaseEvent
	PropertyID  string `json:"property_id"`
	HostID      string `json:"host_id"`
	Name        string `json:"name"`
	Image       string `json:"image,omitempty"`
	NightlyRate int64  `json:"nightly_rate"`
}

// PropertyDeletedEvent is consumed from the listing topic
type PropertyDeletedEvent struct {
	BaseEvent
	PropertyID string `json:"property_id"`
}

// UserDeletedEvent is consumed from the listing topic
type UserDeletedEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
}

// Cancellation reasons
const (
	CancelReasonGuest            = "guest_cancelled"
	CancelReasonLostAvailability = "lost_availability_race"
)
