package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/pricing"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	DefaultHoldDuration = 30 * time.Minute
	publishTimeout      = 5 * time.Second
)

// ReservationService drives a reservation from pending payment to confirmation
type ReservationService struct {
	store          ReservationStore
	gateway        PaymentGateway
	eventPublisher EventPublisher
	availability   *AvailabilityChecker
	pricing        *pricing.Calculator
	cache          IdempotencyCache
	holdDuration   time.Duration
	now            func() time.Time
	publishing     sync.WaitGroup
	logger         *zap.Logger
}

// NewReservationService creates a new reservation service
func NewReservationService(
	store ReservationStore,
	gateway PaymentGateway,
	eventPublisher EventPublisher,
	calculator *pricing.Calculator,
	holdDuration time.Duration,
) *ReservationService {
	if holdDuration <= 0 {
		holdDuration = DefaultHoldDuration
	}
	return &ReservationService{
		store:          store,
		gateway:        gateway,
		eventPublisher: eventPublisher,
		availability:   NewAvailabilityChecker(store),
		pricing:        calculator,
		holdDuration:   holdDuration,
		now:            time.Now,
		logger:         util.GetLogger(),
	}
}

// WithClock replaces the wall clock
func (s *ReservationService) WithClock(now func() time.Time) *ReservationService {
	s.now = now
	s.availability.now = now
	return s
}

// WithIdempotencyCache enables replay of create responses by client key
func (s *ReservationService) WithIdempotencyCache(cache IdempotencyCache) *ReservationService {
	s.cache = cache
	return s
}

// Availability exposes the checker used by the service
func (s *ReservationService) Availability() *AvailabilityChecker {
	return s.availability
}

// CreateReservationRequest represents a request to book a property
type CreateReservationRequest struct {
	PropertyID     string `json:"property_id" binding:"required"`
	CheckIn        string `json:"check_in" binding:"required"`
	CheckOut       string `json:"check_out" binding:"required"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// CreateReservationResponse carries what the client needs to complete payment
type CreateReservationResponse struct {
	Reservation  *models.Reservation `json:"reservation"`
	SessionID    string              `json:"session_id"`
	ClientSecret string              `json:"client_secret"`
}

// QuoteResponse is a side-effect free price preview
type QuoteResponse struct {
	PropertyID string            `json:"property_id"`
	CheckIn    time.Time         `json:"check_in"`
	CheckOut   time.Time         `json:"check_out"`
	Breakdown  pricing.Breakdown `json:"breakdown"`
}

// Create validates, prices and holds a date range for a guest, then opens a
// payment session for it
func (s *ReservationService) Create(ctx context.Context, guestID string, req *CreateReservationRequest) (*CreateReservationResponse, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Create",
		attribute.String("property_id", req.PropertyID))
	defer span.End()

	checkIn, checkOut, err := s.parseStay(req.CheckIn, req.CheckOut)
	if err != nil {
		util.ReservationsFailedTotal.WithLabelValues("invalid_dates").Inc()
		return nil, err
	}

	cacheKey := ""
	fingerprint := createFingerprint(req.PropertyID, checkIn, checkOut)
	if s.cache != nil && req.IdempotencyKey != "" {
		cacheKey = fmt.Sprintf("create:%s:%s", guestID, req.IdempotencyKey)
		cached, err := s.cachedCreate(ctx, cacheKey, fingerprint)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			s.logger.Info("Duplicate create request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("reservation_id", cached.Reservation.ID))
			return cached, nil
		}
	}

	property, err := s.store.GetPropertyByID(ctx, req.PropertyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPropertyNotFound
		}
		return nil, fmt.Errorf("failed to load property: %w", err)
	}

	available, err := s.availability.IsAvailable(ctx, property.ID, checkIn, checkOut, "")
	if err != nil {
		return nil, err
	}
	if !available {
		util.ReservationsFailedTotal.WithLabelValues("unavailable").Inc()
		return nil, ErrPropertyUnavailable
	}

	if n, err := s.store.DeletePendingForGuestProperty(ctx, guestID, property.ID); err != nil {
		return nil, fmt.Errorf("failed to clear previous pending reservations: %w", err)
	} else if n > 0 {
		s.logger.Info("Cleared previous pending attempts",
			zap.String("guest_id", guestID),
			zap.String("property_id", property.ID),
			zap.Int64("count", n))
	}

	quote, err := s.pricing.Quote(checkIn, checkOut, property.NightlyRate)
	if err != nil {
		return nil, fmt.Errorf("failed to price stay: %w", err)
	}

	expiresAt := s.now().Add(s.holdDuration)
	reservation := &models.Reservation{
		ID:          uuid.New().String(),
		GuestID:     guestID,
		PropertyID:  property.ID,
		CheckIn:     checkIn,
		CheckOut:    checkOut,
		TotalNights: quote.TotalNights,
		Subtotal:    quote.Subtotal,
		CleaningFee: quote.CleaningFee,
		ServiceFee:  quote.ServiceFee,
		Tax:         quote.Tax,
		OrderTotal:  quote.OrderTotal,
		Status:      models.ReservationStatusPendingPayment,
		ExpiresAt:   &expiresAt,
	}

	if err := s.store.CreateReservation(ctx, reservation); err != nil {
		util.ReservationsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}

	if err := s.verifyClaim(ctx, reservation); err != nil {
		return nil, err
	}

	util.ReservationsCreatedTotal.Inc()
	s.logger.Info("Reservation created",
		zap.String("reservation_id", reservation.ID),
		zap.String("property_id", property.ID),
		zap.Int64("order_total", reservation.OrderTotal))

	description := fmt.Sprintf("%s, %d night(s)", property.Name, reservation.TotalNights)
	session, err := s.gateway.CreateSession(ctx, reservation.ID, reservation.OrderTotal, description)
	if err != nil {
		// The row stays pending and is reclaimed by the sweeper.
		util.ReservationsFailedTotal.WithLabelValues("gateway_error").Inc()
		util.SpanError(span, err)
		s.logger.Warn("Payment session creation failed, reservation left for sweeping",
			zap.String("reservation_id", reservation.ID),
			zap.Error(err))
		return nil, err
	}

	if err := s.store.SetPaymentSession(ctx, reservation.ID, session.SessionID); err != nil {
		return nil, fmt.Errorf("failed to save payment session: %w", err)
	}
	reservation.PaymentSessionID = &session.SessionID

	resp := &CreateReservationResponse{
		Reservation:  reservation,
		SessionID:    session.SessionID,
		ClientSecret: session.ClientSecret,
	}

	if cacheKey != "" {
		s.rememberCreate(ctx, cacheKey, fingerprint, resp)
	}

	return resp, nil
}

// verifyClaim resolves concurrent creates for the same dates. After insert, a
// claim loses to any overlapping CONFIRMED reservation, or to a live pending
// hold of another guest that was inserted earlier.
func (s *ReservationService) verifyClaim(ctx context.Context, own *models.Reservation) error {
	rows, err := s.store.FindOverlapping(ctx, own.PropertyID, own.CheckIn, own.CheckOut,
		[]string{models.ReservationStatusConfirmed, models.ReservationStatusPendingPayment})
	if err != nil {
		return fmt.Errorf("failed to verify reservation claim: %w", err)
	}

	now := s.now()
	for i := range rows {
		other := &rows[i]
		if other.ID == own.ID {
			continue
		}
		lost := other.Status == models.ReservationStatusConfirmed ||
			(other.GuestID != own.GuestID && other.Seq < own.Seq && !other.IsExpired(now))
		if !lost {
			continue
		}

		if _, err := s.store.DeletePendingByID(ctx, own.ID); err != nil {
			s.logger.Error("Failed to remove losing claim",
				zap.String("reservation_id", own.ID),
				zap.Error(err))
		}
		util.ReservationsFailedTotal.WithLabelValues("claim_lost").Inc()
		s.logger.Info("Reservation claim lost to concurrent booking",
			zap.String("reservation_id", own.ID),
			zap.String("winner_id", other.ID))
		return ErrPropertyUnavailable
	}
	return nil
}

// Confirm records a completed payment on the reservation bound to sessionID.
// Calling it again for a confirmed reservation returns it unchanged.
func (s *ReservationService) Confirm(ctx context.Context, sessionID string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Confirm",
		attribute.String("session_id", sessionID))
	defer span.End()

	reservation, err := s.store.GetReservationBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}

	switch reservation.Status {
	case models.ReservationStatusConfirmed:
		return reservation, nil
	case models.ReservationStatusPendingPayment:
	default:
		return nil, ErrReservationClosed
	}

	session, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}
	if !session.Paid() || session.PaymentIntentID == "" {
		s.logger.Info("Payment not completed",
			zap.String("reservation_id", reservation.ID),
			zap.String("session_status", session.Status),
			zap.String("payment_status", session.PaymentStatus))
		return nil, ErrPaymentNotCompleted
	}

	available, err := s.availability.IsAvailable(ctx, reservation.PropertyID,
		reservation.CheckIn, reservation.CheckOut, reservation.ID)
	if err != nil {
		return nil, err
	}
	if !available {
		s.cancelLostRace(ctx, reservation, session.PaymentIntentID)
		return nil, ErrPropertyNoLongerAvailable
	}

	confirmed, err := s.store.ConfirmReservation(ctx, reservation.ID, models.ConfirmPayment{
		PaymentIntentID: session.PaymentIntentID,
		CompletedAt:     s.now(),
	})
	switch {
	case errors.Is(err, store.ErrStatusChanged):
		return s.resolveConfirmRace(ctx, reservation.ID)
	case errors.Is(err, store.ErrOverlap):
		s.cancelLostRace(ctx, reservation, session.PaymentIntentID)
		return nil, ErrPropertyNoLongerAvailable
	case err != nil:
		util.SpanError(span, err)
		return nil, err
	}

	util.ReservationsConfirmedTotal.Inc()
	s.logger.Info("Reservation confirmed",
		zap.String("reservation_id", confirmed.ID),
		zap.String("session_id", sessionID))

	s.publishAsync(func(ctx context.Context) error {
		return s.eventPublisher.PublishBookingConfirmed(ctx, &models.BookingConfirmedEvent{
			BaseEvent:     newBaseEvent(models.EventTypeBookingConfirmed, s.now()),
			ReservationID: confirmed.ID,
			GuestID:       confirmed.GuestID,
			PropertyID:    confirmed.PropertyID,
			CheckIn:       confirmed.CheckIn,
			CheckOut:      confirmed.CheckOut,
			OrderTotal:    confirmed.OrderTotal,
		})
	})

	return confirmed, nil
}

// resolveConfirmRace re-reads a reservation whose conditional confirm matched nothing
func (s *ReservationService) resolveConfirmRace(ctx context.Context, id string) (*models.Reservation, error) {
	current, err := s.store.GetReservationByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to reload reservation: %w", err)
	}
	if current.Status == models.ReservationStatusConfirmed {
		return current, nil
	}
	return nil, ErrReservationClosed
}

// cancelLostRace cancels a paid reservation whose dates were confirmed for
// someone else first and flags the payment for refund
func (s *ReservationService) cancelLostRace(ctx context.Context, r *models.Reservation, paymentIntentID string) {
	_, err := s.store.CancelReservation(ctx, r.ID, []string{models.ReservationStatusPendingPayment})
	if err != nil && !errors.Is(err, store.ErrStatusChanged) {
		s.logger.Error("Failed to cancel reservation that lost availability",
			zap.String("reservation_id", r.ID),
			zap.Error(err))
	}

	util.ReservationsCancelledTotal.WithLabelValues(models.CancelReasonLostAvailability).Inc()
	s.logger.Warn("Paid reservation lost availability race, refund required",
		zap.String("reservation_id", r.ID),
		zap.String("payment_intent_id", paymentIntentID))

	now := s.now()
	s.publishAsync(func(ctx context.Context) error {
		return s.eventPublisher.PublishBookingCancelled(ctx, &models.BookingCancelledEvent{
			BaseEvent:     newBaseEvent(models.EventTypeBookingCancelled, now),
			ReservationID: r.ID,
			GuestID:       r.GuestID,
			PropertyID:    r.PropertyID,
			Reason:        models.CancelReasonLostAvailability,
		})
	})
	s.publishAsync(func(ctx context.Context) error {
		return s.eventPublisher.PublishRefundRequired(ctx, &models.RefundRequiredEvent{
			BaseEvent:       newBaseEvent(models.EventTypeRefundRequired, now),
			ReservationID:   r.ID,
			PaymentIntentID: paymentIntentID,
			Amount:          r.OrderTotal,
			Reason:          models.CancelReasonLostAvailability,
		})
	})
}

// Cancel cancels a guest's own pending or confirmed reservation
func (s *ReservationService) Cancel(ctx context.Context, guestID, reservationID string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Cancel",
		attribute.String("reservation_id", reservationID))
	defer span.End()

	reservation, err := s.store.GetReservationByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	if reservation.GuestID != guestID {
		return nil, ErrNotReservationOwner
	}
	if !cancellable(reservation.Status) {
		return nil, ErrInvalidCancellation
	}

	cancelled, err := s.store.CancelReservation(ctx, reservationID, []string{
		models.ReservationStatusPendingPayment,
		models.ReservationStatusConfirmed,
	})
	if errors.Is(err, store.ErrStatusChanged) {
		return nil, ErrInvalidCancellation
	}
	if err != nil {
		return nil, err
	}

	util.ReservationsCancelledTotal.WithLabelValues(models.CancelReasonGuest).Inc()
	s.logger.Info("Reservation cancelled",
		zap.String("reservation_id", reservationID),
		zap.String("previous_status", reservation.Status))

	s.publishAsync(func(ctx context.Context) error {
		return s.eventPublisher.PublishBookingCancelled(ctx, &models.BookingCancelledEvent{
			BaseEvent:     newBaseEvent(models.EventTypeBookingCancelled, s.now()),
			ReservationID: cancelled.ID,
			GuestID:       cancelled.GuestID,
			PropertyID:    cancelled.PropertyID,
			Reason:        models.CancelReasonGuest,
		})
	})

	return cancelled, nil
}

func cancellable(status string) bool {
	return status == models.ReservationStatusPendingPayment || status == models.ReservationStatusConfirmed
}

// ListMyReservations lists a guest's reservations
func (s *ReservationService) ListMyReservations(ctx context.Context, guestID string) ([]models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.ListMyReservations")
	defer span.End()

	return s.store.ListByGuest(ctx, guestID, s.now())
}

// ListHostReservations lists reservations across every property a host owns
func (s *ReservationService) ListHostReservations(ctx context.Context, hostID string) ([]models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.ListHostReservations")
	defer span.End()

	return s.store.ListByHost(ctx, hostID, s.now())
}

// Quote prices a stay without holding it
func (s *ReservationService) Quote(ctx context.Context, propertyID, checkIn, checkOut string) (*QuoteResponse, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Quote")
	defer span.End()

	in, out, err := s.parseStay(checkIn, checkOut)
	if err != nil {
		return nil, err
	}

	property, err := s.store.GetPropertyByID(ctx, propertyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPropertyNotFound
		}
		return nil, fmt.Errorf("failed to load property: %w", err)
	}

	breakdown, err := s.pricing.Quote(in, out, property.NightlyRate)
	if err != nil {
		return nil, fmt.Errorf("failed to price stay: %w", err)
	}

	return &QuoteResponse{PropertyID: propertyID, CheckIn: in, CheckOut: out, Breakdown: breakdown}, nil
}

// SearchAvailability reports confirmed and live pending conflicts for a range
func (s *ReservationService) SearchAvailability(ctx context.Context, propertyID, checkIn, checkOut string) (*AvailabilityResult, error) {
	in, out, err := s.parseStay(checkIn, checkOut)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetPropertyByID(ctx, propertyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPropertyNotFound
		}
		return nil, fmt.Errorf("failed to load property: %w", err)
	}
	return s.availability.Search(ctx, propertyID, in, out)
}

// ExpirePending deletes pending reservations whose hold has lapsed
func (s *ReservationService) ExpirePending(ctx context.Context) (int64, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.ExpirePending")
	defer span.End()

	n, err := s.store.DeleteExpiredPending(ctx, s.now())
	if err != nil {
		util.SpanError(span, err)
		return 0, fmt.Errorf("failed to delete expired reservations: %w", err)
	}
	util.ReservationsSweptTotal.Add(float64(n))
	return n, nil
}

// CompletePastStays moves confirmed reservations whose stay has ended to COMPLETED
func (s *ReservationService) CompletePastStays(ctx context.Context) (int64, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.CompletePastStays")
	defer span.End()

	n, err := s.store.CompletePastStays(ctx, dateOnly(s.now()))
	if err != nil {
		util.SpanError(span, err)
		return 0, fmt.Errorf("failed to complete past stays: %w", err)
	}
	util.ReservationsCompletedTotal.Add(float64(n))
	return n, nil
}

// Drain waits for in-flight event publishes
func (s *ReservationService) Drain() {
	s.publishing.Wait()
}

// publishAsync sends a notification without blocking the caller. Failures are logged only.
func (s *ReservationService) publishAsync(publish func(ctx context.Context) error) {
	if s.eventPublisher == nil {
		return
	}
	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := publish(ctx); err != nil {
			s.logger.Error("Failed to publish booking event", zap.Error(err))
		}
	}()
}

// parseStay parses YYYY-MM-DD dates and checks them against today
func (s *ReservationService) parseStay(checkIn, checkOut string) (time.Time, time.Time, error) {
	in, err := time.Parse(dateLayout, checkIn)
	if err != nil {
		return time.Time{}, time.Time{}, fieldError("check_in", "must be a date in YYYY-MM-DD format")
	}
	out, err := time.Parse(dateLayout, checkOut)
	if err != nil {
		return time.Time{}, time.Time{}, fieldError("check_out", "must be a date in YYYY-MM-DD format")
	}
	if in.Before(dateOnly(s.now())) {
		return time.Time{}, time.Time{}, fieldError("check_in", "cannot be in the past")
	}
	if !out.After(in) {
		return time.Time{}, time.Time{}, fieldError("check_out", "must be after check-in")
	}
	return in, out, nil
}

const dateLayout = "2006-01-02"

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func newBaseEvent(eventType string, at time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: at,
	}
}

// createReplay is the cached result of a create, bound to the request it answered
type createReplay struct {
	Fingerprint string                     `json:"fingerprint"`
	Response    *CreateReservationResponse `json:"response"`
}

func createFingerprint(propertyID string, checkIn, checkOut time.Time) string {
	return fmt.Sprintf("%s|%s|%s", propertyID, checkIn.Format(dateLayout), checkOut.Format(dateLayout))
}

// cachedCreate returns the earlier response for a key only while its hold is
// still live. A key reused for a different stay is rejected.
func (s *ReservationService) cachedCreate(ctx context.Context, key, fingerprint string) (*CreateReservationResponse, error) {
	raw, err := s.cache.GetIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency cache lookup failed", zap.Error(err))
		return nil, nil
	}
	if raw == "" {
		return nil, nil
	}
	var replay createReplay
	if err := json.Unmarshal([]byte(raw), &replay); err != nil ||
		replay.Response == nil || replay.Response.Reservation == nil {
		return nil, nil
	}
	if replay.Fingerprint != fingerprint {
		return nil, ErrIdempotencyKeyReused
	}

	current, err := s.store.GetReservationByID(ctx, replay.Response.Reservation.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("Failed to reload replayed reservation", zap.Error(err))
		}
		return nil, nil
	}
	if current.Status != models.ReservationStatusPendingPayment || current.IsExpired(s.now()) {
		return nil, nil
	}

	replay.Response.Reservation = current
	return replay.Response, nil
}

func (s *ReservationService) rememberCreate(ctx context.Context, key, fingerprint string, resp *CreateReservationResponse) {
	raw, err := json.Marshal(createReplay{Fingerprint: fingerprint, Response: resp})
	if err != nil {
		return
	}
	if err := s.cache.SetIdempotencyKey(ctx, key, string(raw), s.holdDuration); err != nil {
		s.logger.Warn("Failed to store idempotency key", zap.Error(err))
	}
}
