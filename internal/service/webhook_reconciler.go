package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/gateway"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// WebhookOutcome describes what a webhook delivery did
type WebhookOutcome string

const (
	OutcomeConfirmed        WebhookOutcome = "confirmed"
	OutcomeDuplicate        WebhookOutcome = "duplicate"
	OutcomeExpiredDeleted   WebhookOutcome = "expired_deleted"
	OutcomeNothingToDelete  WebhookOutcome = "nothing_to_delete"
	OutcomeObserved         WebhookOutcome = "observed"
	OutcomeIgnored          WebhookOutcome = "ignored"
	OutcomeRejected         WebhookOutcome = "rejected"
	OutcomeRaceLost         WebhookOutcome = "race_lost"
	OutcomeNotFound         WebhookOutcome = "reservation_not_found"
	OutcomeClosed           WebhookOutcome = "reservation_closed"
	OutcomeAwaitingPayment  WebhookOutcome = "awaiting_payment"
	OutcomeProcessingFailed WebhookOutcome = "processing_failed"
)

const (
	claimTTL     = 2 * time.Minute
	processedTTL = 72 * time.Hour
)

type sessionConfirmer interface {
	Confirm(ctx context.Context, sessionID string) (*models.Reservation, error)
}

type webhookStore interface {
	DeletePendingBySession(ctx context.Context, sessionID string) (int64, error)
	DeletePendingByID(ctx context.Context, id string) (int64, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// WebhookReconciler applies payment processor notifications to reservations.
// Deliveries may repeat or arrive out of order; every effect is idempotent.
type WebhookReconciler struct {
	gateway      PaymentGateway
	reservations sessionConfirmer
	store        webhookStore
	claims       EventClaimer
	logger       *zap.Logger
}

// NewWebhookReconciler creates a new webhook reconciler
func NewWebhookReconciler(gateway PaymentGateway, reservations sessionConfirmer, store webhookStore) *WebhookReconciler {
	return &WebhookReconciler{
		gateway:      gateway,
		reservations: reservations,
		store:        store,
		logger:       util.GetLogger(),
	}
}

// WithEventClaimer enables the Redis fast path for duplicate deliveries
func (wr *WebhookReconciler) WithEventClaimer(claims EventClaimer) *WebhookReconciler {
	wr.claims = claims
	return wr
}

// HandleWebhook verifies and applies one delivery. It returns an error only
// when the payload is unsigned, forged or undecodable.
func (wr *WebhookReconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error) {
	ctx, span := util.StartSpan(ctx, "WebhookReconciler.HandleWebhook")
	defer span.End()

	event, err := wr.gateway.ParseWebhook(payload, signature)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues(gateway.EventUnknown.String(), string(OutcomeRejected)).Inc()
		wr.logger.Warn("Rejected webhook", zap.Error(err))
		return OutcomeRejected, err
	}

	span.SetAttributes(
		attribute.String("event_id", event.ID),
		attribute.String("event_kind", event.Kind.String()))

	kind := event.Kind.String()

	if wr.alreadyHandled(ctx, event) {
		util.WebhookEventsTotal.WithLabelValues(kind, string(OutcomeDuplicate)).Inc()
		wr.logger.Info("Webhook event already processed", zap.String("event_id", event.ID))
		return OutcomeDuplicate, nil
	}

	outcome, durable := wr.dispatch(ctx, event)

	if durable {
		if err := wr.store.MarkEventProcessed(ctx, event.ID, event.Type); err != nil {
			wr.logger.Error("Failed to mark event processed", zap.String("event_id", event.ID), zap.Error(err))
		}
		if wr.claims != nil {
			if err := wr.claims.CompleteEvent(ctx, event.ID, processedTTL); err != nil {
				wr.logger.Warn("Failed to record event in cache", zap.Error(err))
			}
		}
	} else if wr.claims != nil {
		if err := wr.claims.ReleaseEvent(ctx, event.ID); err != nil {
			wr.logger.Warn("Failed to release event claim", zap.Error(err))
		}
	}

	util.WebhookEventsTotal.WithLabelValues(kind, string(outcome)).Inc()
	wr.logger.Info("Webhook event handled",
		zap.String("event_id", event.ID),
		zap.String("kind", kind),
		zap.String("outcome", string(outcome)))
	return outcome, nil
}

// alreadyHandled consults the cache claim first and the processed-events table second
func (wr *WebhookReconciler) alreadyHandled(ctx context.Context, event *gateway.Event) bool {
	if wr.claims != nil {
		claimed, err := wr.claims.ClaimEvent(ctx, event.ID, claimTTL)
		if err != nil {
			wr.logger.Warn("Event claim unavailable, falling back to DB", zap.Error(err))
		} else if !claimed {
			return true
		}
	}

	processed, err := wr.store.IsEventProcessed(ctx, event.ID)
	if err != nil {
		wr.logger.Warn("Failed to check event processed", zap.String("event_id", event.ID), zap.Error(err))
		return false
	}
	return processed
}

// dispatch applies the event. durable reports whether the result is final for
// this event id, so that redeliveries can be skipped.
func (wr *WebhookReconciler) dispatch(ctx context.Context, event *gateway.Event) (WebhookOutcome, bool) {
	switch event.Kind {
	case gateway.EventSessionCompleted:
		if event.PaymentStatus != gateway.PaymentStatusPaid {
			// Delayed payment methods finish with an async_payment_succeeded event.
			return OutcomeAwaitingPayment, true
		}
		return wr.confirm(ctx, event)

	case gateway.EventSessionAsyncPaymentSucceeded:
		return wr.confirm(ctx, event)

	case gateway.EventSessionExpired:
		return wr.deleteExpired(ctx, event)

	case gateway.EventPaymentFailed, gateway.EventPaymentRequiresAction:
		wr.logger.Warn("Payment did not complete",
			zap.String("event_id", event.ID),
			zap.String("kind", event.Kind.String()),
			zap.String("reservation_id", event.ReservationID),
			zap.String("payment_intent_id", event.PaymentIntentID))
		return OutcomeObserved, true

	default:
		wr.logger.Debug("Ignoring webhook event", zap.String("type", event.Type))
		return OutcomeIgnored, true
	}
}

func (wr *WebhookReconciler) confirm(ctx context.Context, event *gateway.Event) (WebhookOutcome, bool) {
	if event.SessionID == "" {
		return OutcomeIgnored, true
	}

	_, err := wr.reservations.Confirm(ctx, event.SessionID)
	switch {
	case err == nil:
		return OutcomeConfirmed, true
	case errors.Is(err, ErrPropertyNoLongerAvailable):
		return OutcomeRaceLost, true
	case errors.Is(err, ErrReservationNotFound):
		return OutcomeNotFound, true
	case errors.Is(err, ErrReservationClosed):
		return OutcomeClosed, true
	case errors.Is(err, ErrPaymentNotCompleted):
		return OutcomeAwaitingPayment, false
	default:
		wr.logger.Error("Failed to confirm reservation from webhook",
			zap.String("event_id", event.ID),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
		return OutcomeProcessingFailed, false
	}
}

func (wr *WebhookReconciler) deleteExpired(ctx context.Context, event *gateway.Event) (WebhookOutcome, bool) {
	deleted, err := wr.deletePending(ctx, event)
	if err != nil {
		wr.logger.Error("Failed to delete expired reservation",
			zap.String("session_id", event.SessionID),
			zap.Error(err))
		return OutcomeProcessingFailed, false
	}
	if deleted == 0 {
		return OutcomeNothingToDelete, true
	}
	return OutcomeExpiredDeleted, true
}

// deletePending removes the pending reservation by session, falling back to
// the reservation id carried in metadata when the session was never saved
func (wr *WebhookReconciler) deletePending(ctx context.Context, event *gateway.Event) (int64, error) {
	var deleted int64
	if event.SessionID != "" {
		n, err := wr.store.DeletePendingBySession(ctx, event.SessionID)
		if err != nil {
			return 0, fmt.Errorf("delete by session: %w", err)
		}
		deleted = n
	}
	if deleted == 0 && event.ReservationID != "" {
		n, err := wr.store.DeletePendingByID(ctx, event.ReservationID)
		if err != nil {
			return 0, fmt.Errorf("delete by reservation id: %w", err)
		}
		deleted = n
	}
	return deleted, nil
}
