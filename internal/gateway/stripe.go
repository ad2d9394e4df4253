package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"booking-service/internal/util"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

const metadataReservationID = "reservation_id"

// Processor event types
const (
	stripeSessionCompleted         = "checkout.session.completed"
	stripeSessionAsyncSucceeded    = "checkout.session.async_payment_succeeded"
	stripeSessionAsyncFailed       = "checkout.session.async_payment_failed"
	stripeSessionExpired           = "checkout.session.expired"
	stripePaymentIntentFailed      = "payment_intent.payment_failed"
	stripePaymentIntentNeedsAction = "payment_intent.requires_action"
)

// StripeConfig configures the Stripe Checkout adapter
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	ReturnURL     string
}

// StripeGateway opens embedded Checkout sessions and verifies Stripe webhooks
type StripeGateway struct {
	api    *client.API
	cfg    StripeConfig
	logger *zap.Logger
}

// NewStripeGateway creates a new Stripe-backed gateway
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}

	return &StripeGateway{
		api:    api,
		cfg:    cfg,
		logger: util.GetLogger(),
	}
}

// CreateSession opens a checkout session for the reservation's total
func (g *StripeGateway) CreateSession(ctx context.Context, reservationID string, amount int64, description string) (*CreatedSession, error) {
	ctx, span := util.StartSpan(ctx, "StripeGateway.CreateSession")
	defer span.End()

	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues("create_session").Observe(time.Since(start).Seconds())
	}()

	params := &stripe.CheckoutSessionParams{
		UIMode:    stripe.String(string(stripe.CheckoutSessionUIModeEmbedded)),
		Mode:      stripe.String(string(stripe.CheckoutSessionModePayment)),
		ReturnURL: stripe.String(g.cfg.ReturnURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.cfg.Currency),
					UnitAmount: stripe.Int64(amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{metadataReservationID: reservationID},
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataReservationID, reservationID)
	params.SetIdempotencyKey("reservation-" + reservationID)

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		g.logger.Warn("Checkout session creation failed",
			zap.String("reservation_id", reservationID),
			zap.Error(err))
		return nil, mapError(err)
	}

	return &CreatedSession{SessionID: sess.ID, ClientSecret: sess.ClientSecret}, nil
}

// GetSession fetches the current state of a checkout session
func (g *StripeGateway) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	ctx, span := util.StartSpan(ctx, "StripeGateway.GetSession")
	defer span.End()

	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues("get_session").Observe(time.Since(start).Seconds())
	}()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, mapError(err)
	}

	return sessionInfo(sess), nil
}

// ParseWebhook authenticates a webhook payload and decodes it into an Event
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (*Event, error) {
	if g.cfg.WebhookSecret == "" || signatureHeader == "" {
		return nil, ErrInvalidSignature
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	return decodeEvent(evt)
}

func decodeEvent(evt stripe.Event) (*Event, error) {
	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	switch out.Type {
	case stripeSessionCompleted, stripeSessionAsyncSucceeded, stripeSessionExpired, stripeSessionAsyncFailed:
		var sess stripe.CheckoutSession
		if evt.Data == nil || json.Unmarshal(evt.Data.Raw, &sess) != nil {
			return nil, fmt.Errorf("%w: bad checkout session object", ErrMalformedEvent)
		}
		info := sessionInfo(&sess)
		out.SessionID = info.ID
		out.PaymentStatus = info.PaymentStatus
		out.PaymentIntentID = info.PaymentIntentID
		out.ReservationID = info.ReservationID

		switch out.Type {
		case stripeSessionCompleted:
			out.Kind = EventSessionCompleted
		case stripeSessionAsyncSucceeded:
			out.Kind = EventSessionAsyncPaymentSucceeded
		case stripeSessionExpired:
			out.Kind = EventSessionExpired
		default:
			out.Kind = EventPaymentFailed
		}

	case stripePaymentIntentFailed, stripePaymentIntentNeedsAction:
		var pi stripe.PaymentIntent
		if evt.Data == nil || json.Unmarshal(evt.Data.Raw, &pi) != nil {
			return nil, fmt.Errorf("%w: bad payment intent object", ErrMalformedEvent)
		}
		out.PaymentIntentID = pi.ID
		out.ReservationID = pi.Metadata[metadataReservationID]
		if out.Type == stripePaymentIntentFailed {
			out.Kind = EventPaymentFailed
		} else {
			out.Kind = EventPaymentRequiresAction
		}

	default:
		out.Kind = EventUnknown
	}

	return out, nil
}

func sessionInfo(sess *stripe.CheckoutSession) *SessionInfo {
	info := &SessionInfo{
		ID:            sess.ID,
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
	}
	if sess.PaymentIntent != nil {
		info.PaymentIntentID = sess.PaymentIntent.ID
	}
	if sess.Metadata != nil {
		info.ReservationID = sess.Metadata[metadataReservationID]
	}
	return info
}

// mapError classifies processor errors as retryable or rejected
func mapError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		status := stripeErr.HTTPStatusCode
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError || status == 0 {
			return fmt.Errorf("%w: %s", ErrUnavailable, stripeErr.Msg)
		}
		return fmt.Errorf("%w: %s", ErrRejected, stripeErr.Msg)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
