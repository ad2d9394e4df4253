package service

import (
	"context"
	"fmt"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

type overlapFinder interface {
	FindOverlapping(ctx context.Context, propertyID string, checkIn, checkOut time.Time, statuses []string) ([]models.Reservation, error)
}

// AvailabilityChecker answers whether a date range is free on a property
type AvailabilityChecker struct {
	store  overlapFinder
	now    func() time.Time
	logger *zap.Logger
}

// NewAvailabilityChecker creates a new availability checker
func NewAvailabilityChecker(store overlapFinder) *AvailabilityChecker {
	return &AvailabilityChecker{
		store:  store,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// AvailabilityResult is the search view of a date range
type AvailabilityResult struct {
	PropertyID         string    `json:"property_id"`
	CheckIn            time.Time `json:"check_in"`
	CheckOut           time.Time `json:"check_out"`
	Available          bool      `json:"available"`
	ConfirmedConflicts int       `json:"confirmed_conflicts"`
	PendingConflicts   int       `json:"pending_conflicts"`
}

// IsAvailable reports whether no CONFIRMED reservation other than excludeID
// overlaps [checkIn, checkOut). Pending holds do not block.
func (a *AvailabilityChecker) IsAvailable(ctx context.Context, propertyID string, checkIn, checkOut time.Time, excludeID string) (bool, error) {
	ctx, span := util.StartSpan(ctx, "AvailabilityChecker.IsAvailable")
	defer span.End()

	rows, err := a.store.FindOverlapping(ctx, propertyID, checkIn, checkOut,
		[]string{models.ReservationStatusConfirmed})
	if err != nil {
		util.SpanError(span, err)
		return false, fmt.Errorf("failed to query overlapping reservations: %w", err)
	}

	for i := range rows {
		if rows[i].ID != excludeID {
			return false, nil
		}
	}
	return true, nil
}

// Search reports conflicts for the search surface, counting live pending holds too
func (a *AvailabilityChecker) Search(ctx context.Context, propertyID string, checkIn, checkOut time.Time) (*AvailabilityResult, error) {
	ctx, span := util.StartSpan(ctx, "AvailabilityChecker.Search")
	defer span.End()

	rows, err := a.store.FindOverlapping(ctx, propertyID, checkIn, checkOut,
		[]string{models.ReservationStatusConfirmed, models.ReservationStatusPendingPayment})
	if err != nil {
		util.SpanError(span, err)
		return nil, fmt.Errorf("failed to query overlapping reservations: %w", err)
	}

	result := &AvailabilityResult{PropertyID: propertyID, CheckIn: checkIn, CheckOut: checkOut}
	now := a.now()
	for i := range rows {
		switch {
		case rows[i].Status == models.ReservationStatusConfirmed:
			result.ConfirmedConflicts++
		case !rows[i].IsExpired(now):
			result.PendingConflicts++
		}
	}
	result.Available = result.ConfirmedConflicts == 0 && result.PendingConflicts == 0

	a.logger.Debug("Availability searched",
		zap.String("property_id", propertyID),
		zap.Bool("available", result.Available))
	return result, nil
}
