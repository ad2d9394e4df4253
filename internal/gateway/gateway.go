// Package gateway adapts the external card processor's hosted checkout to the
// reservation lifecycle.
package gateway

import (
	"errors"
)

var (
	// ErrUnavailable covers network failures, 5xx and rate limiting. Callers may retry.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrRejected covers 4xx responses other than rate limiting
	ErrRejected = errors.New("payment gateway rejected request")
	// ErrInvalidSignature is returned when a webhook cannot be authenticated
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent is returned when an authenticated webhook cannot be decoded
	ErrMalformedEvent = errors.New("malformed webhook payload")
)

// Session statuses reported by the processor
const (
	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"

	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

// CreatedSession is returned when a checkout session is opened
type CreatedSession struct {
	SessionID    string `json:"session_id"`
	ClientSecret string `json:"client_secret"`
}

// SessionInfo is the processor's view of a checkout session
type SessionInfo struct {
	ID              string
	Status          string
	PaymentStatus   string
	PaymentIntentID string
	ReservationID   string
}

// Paid reports whether the session completed with funds captured
func (s *SessionInfo) Paid() bool {
	return s.Status == SessionStatusComplete && s.PaymentStatus == PaymentStatusPaid
}

// EventKind tags an authenticated webhook event
type EventKind int

const (
	EventUnknown EventKind = iota
	EventSessionCompleted
	EventSessionAsyncPaymentSucceeded
	EventSessionExpired
	EventPaymentFailed
	EventPaymentRequiresAction
)

func (k EventKind) String() string {
	switch k {
	case EventSessionCompleted:
		return "session_completed"
	case EventSessionAsyncPaymentSucceeded:
		return "session_async_payment_succeeded"
	case EventSessionExpired:
		return "session_expired"
	case EventPaymentFailed:
		return "payment_failed"
	case EventPaymentRequiresAction:
		return "payment_requires_action"
	default:
		return "unknown"
	}
}

// Event is a verified webhook notification
type Event struct {
	ID              string
	Kind            EventKind
	Type            string
	SessionID       string
	PaymentStatus   string
	PaymentIntentID string
	ReservationID   string
}
