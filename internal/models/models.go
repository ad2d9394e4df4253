package models

import "time"

// Property is the local projection of a listing owned by the property service,
// kept current from listing-topic events
type Property struct {
	ID          string    `db:"id" json:"id"`
	HostID      string    `db:"host_id" json:"host_id"`
	Name        string    `db:"name" json:"name"`
	Image       string    `db:"image" json:"image,omitempty"`
	NightlyRate int64     `db:"nightly_rate" json:"nightly_rate"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Reservation represents a guest's claim on a property for a date range.
// Money fields are in minor currency units.
type Reservation struct {
	ID                 string     `db:"id" json:"id"`
	Seq                int64      `db:"seq" json:"-"`
	GuestID            string     `db:"guest_id" json:"guest_id"`
	PropertyID         string     `db:"property_id" json:"property_id"`
	CheckIn            time.Time  `db:"check_in" json:"check_in"`
	CheckOut           time.Time  `db:"check_out" json:"check_out"`
	TotalNights        int        `db:"total_nights" json:"total_nights"`
	Subtotal           int64      `db:"subtotal" json:"subtotal"`
	CleaningFee        int64      `db:"cleaning_fee" json:"cleaning_fee"`
	ServiceFee         int64      `db:"service_fee" json:"service_fee"`
	Tax                int64      `db:"tax" json:"tax"`
	OrderTotal         int64      `db:"order_total" json:"order_total"`
	Status             string     `db:"status" json:"status"`
	PaymentConfirmed   bool       `db:"payment_confirmed" json:"payment_confirmed"`
	PaymentSessionID   *string    `db:"payment_session_id" json:"payment_session_id,omitempty"`
	PaymentIntentID    *string    `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	PaymentCompletedAt *time.Time `db:"payment_completed_at" json:"payment_completed_at,omitempty"`
	ExpiresAt          *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether a pending reservation's hold has lapsed at now
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.Status == ReservationStatusPendingPayment && r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// Reservation statuses
const (
	ReservationStatusPendingPayment = "PENDING_PAYMENT"
	ReservationStatusConfirmed      = "CONFIRMED"
	ReservationStatusCancelled      = "CANCELLED"
	ReservationStatusCompleted      = "COMPLETED"
)

// ConfirmPayment carries the gateway facts recorded when a reservation is confirmed
type ConfirmPayment struct {
	PaymentIntentID string
	CompletedAt     time.Time
}
