package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"

	"github.com/lib/pq"
)

// CreateReservation inserts a reservation and fills in the store-assigned fields
func (s *Store) CreateReservation(ctx context.Context, r *models.Reservation) error {
	query := `
		INSERT INTO reservations (
			id, guest_id, property_id, check_in, check_out, total_nights,
			subtotal, cleaning_fee, service_fee, tax, order_total,
			status, payment_confirmed, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING seq, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		r.ID, r.GuestID, r.PropertyID, r.CheckIn, r.CheckOut, r.TotalNights,
		r.Subtotal, r.CleaningFee, r.ServiceFee, r.Tax, r.OrderTotal,
		r.Status, r.PaymentConfirmed, r.ExpiresAt,
	).Scan(&r.Seq, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if pqCode(err) == pqExclusionViolation {
			return ErrOverlap
		}
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

// GetReservationByID retrieves a reservation by ID
func (s *Store) GetReservationByID(ctx context.Context, id string) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.GetContext(ctx, &r, "SELECT * FROM reservations WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReservationBySessionID retrieves the reservation bound to a payment session
func (s *Store) GetReservationBySessionID(ctx context.Context, sessionID string) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.GetContext(ctx, &r, "SELECT * FROM reservations WHERE payment_session_id = $1", sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation for session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SetPaymentSession records the gateway session on a reservation
func (s *Store) SetPaymentSession(ctx context.Context, id, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE reservations SET payment_session_id = $1, updated_at = NOW() WHERE id = $2",
		sessionID, id)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return fmt.Errorf("payment session %s already bound: %w", sessionID, err)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	return nil
}

// FindOverlapping lists reservations of a property in the given statuses that
// intersect the half-open range [checkIn, checkOut)
func (s *Store) FindOverlapping(ctx context.Context, propertyID string, checkIn, checkOut time.Time, statuses []string) ([]models.Reservation, error) {
	var out []models.Reservation
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM reservations
		WHERE property_id = $1
		  AND check_in < $3
		  AND check_out > $2
		  AND status = ANY($4)
		ORDER BY seq`,
		propertyID, checkIn, checkOut, pq.Array(statuses))
	return out, err
}

// ConfirmReservation moves a PENDING_PAYMENT reservation to CONFIRMED
func (s *Store) ConfirmReservation(ctx context.Context, id string, payment models.ConfirmPayment) (*models.Reservation, error) {
	if payment.PaymentIntentID == "" {
		return nil, ErrMissingPaymentIntent
	}

	var r models.Reservation
	err := s.db.GetContext(ctx, &r, `
		UPDATE reservations
		SET status = $2, payment_confirmed = TRUE, payment_intent_id = $3,
		    payment_completed_at = $4, expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $5
		RETURNING *`,
		id, models.ReservationStatusConfirmed, payment.PaymentIntentID, payment.CompletedAt,
		models.ReservationStatusPendingPayment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatusChanged
	}
	if err != nil {
		if pqCode(err) == pqExclusionViolation {
			return nil, ErrOverlap
		}
		return nil, fmt.Errorf("failed to confirm reservation: %w", err)
	}
	return &r, nil
}

// CancelReservation moves a reservation to CANCELLED if it is currently in one of the given statuses
func (s *Store) CancelReservation(ctx context.Context, id string, from []string) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.GetContext(ctx, &r, `
		UPDATE reservations
		SET status = $2, expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING *`,
		id, models.ReservationStatusCancelled, pq.Array(from))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatusChanged
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel reservation: %w", err)
	}
	return &r, nil
}

// DeletePendingByID removes a reservation only while it is still PENDING_PAYMENT
func (s *Store) DeletePendingByID(ctx context.Context, id string) (int64, error) {
	return s.execCount(ctx,
		"DELETE FROM reservations WHERE id = $1 AND status = $2",
		id, models.ReservationStatusPendingPayment)
}

// DeletePendingBySession removes the still-pending reservation bound to a payment session
func (s *Store) DeletePendingBySession(ctx context.Context, sessionID string) (int64, error) {
	return s.execCount(ctx,
		"DELETE FROM reservations WHERE payment_session_id = $1 AND status = $2",
		sessionID, models.ReservationStatusPendingPayment)
}

// DeletePendingForGuestProperty clears a guest's earlier pending attempts on a property
func (s *Store) DeletePendingForGuestProperty(ctx context.Context, guestID, propertyID string) (int64, error) {
	return s.execCount(ctx,
		"DELETE FROM reservations WHERE guest_id = $1 AND property_id = $2 AND status = $3",
		guestID, propertyID, models.ReservationStatusPendingPayment)
}

// DeleteExpiredPending removes pending reservations whose hold expired before now
func (s *Store) DeleteExpiredPending(ctx context.Context, now time.Time) (int64, error) {
	return s.execCount(ctx,
		"DELETE FROM reservations WHERE status = $1 AND expires_at < $2",
		models.ReservationStatusPendingPayment, now)
}

// CompletePastStays marks confirmed reservations whose check-out is on or before today as COMPLETED
func (s *Store) CompletePastStays(ctx context.Context, today time.Time) (int64, error) {
	return s.execCount(ctx,
		"UPDATE reservations SET status = $1, updated_at = NOW() WHERE status = $2 AND check_out <= $3",
		models.ReservationStatusCompleted, models.ReservationStatusConfirmed, today)
}

// ListByGuest lists a guest's reservations, hiding lapsed pending holds
func (s *Store) ListByGuest(ctx context.Context, guestID string, now time.Time) ([]models.Reservation, error) {
	out := []models.Reservation{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM reservations
		WHERE guest_id = $1
		  AND NOT (status = $2 AND expires_at < $3)
		ORDER BY check_in DESC`,
		guestID, models.ReservationStatusPendingPayment, now)
	return out, err
}

// ListByHost lists reservations on every property the host owns, hiding lapsed pending holds
func (s *Store) ListByHost(ctx context.Context, hostID string, now time.Time) ([]models.Reservation, error) {
	out := []models.Reservation{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT r.* FROM reservations r
		JOIN properties p ON p.id = r.property_id
		WHERE p.host_id = $1
		  AND NOT (r.status = $2 AND r.expires_at < $3)
		ORDER BY r.check_in DESC`,
		hostID, models.ReservationStatusPendingPayment, now)
	return out, err
}

func (s *Store) execCount(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
