package service

import (
	"errors"
	"fmt"

	"booking-service/internal/gateway"
)

var (
	ErrInvalidDateRange          = errors.New("invalid date range")
	ErrPropertyNotFound          = errors.New("property not found")
	ErrPropertyUnavailable       = errors.New("property is not available for the selected dates")
	ErrPropertyNoLongerAvailable = errors.New("property was booked by someone else while payment was in progress")
	ErrPaymentNotCompleted       = errors.New("payment has not completed")
	ErrReservationNotFound       = errors.New("reservation not found")
	ErrReservationClosed         = errors.New("reservation is no longer awaiting payment")
	ErrInvalidCancellation       = errors.New("reservation cannot be cancelled in its current status")
	ErrNotReservationOwner       = errors.New("reservation belongs to another guest")
	ErrIdempotencyKeyReused      = errors.New("idempotency key was already used for a different request")

	ErrGatewayUnavailable      = gateway.ErrUnavailable
	ErrGatewayRejected         = gateway.ErrRejected
	ErrInvalidWebhookSignature = gateway.ErrInvalidSignature
	ErrMalformedWebhook        = gateway.ErrMalformedEvent
)

// FieldError reports which request field failed date validation
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidDateRange
}

func fieldError(field, msg string) error {
	return &FieldError{Field: field, Message: msg}
}
