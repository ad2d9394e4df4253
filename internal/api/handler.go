package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/service"
	"booking-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxWebhookBytes = 1 << 16

// ReservationService is implemented by *service.ReservationService
type ReservationService interface {
	Create(ctx context.Context, guestID string, req *service.CreateReservationRequest) (*service.CreateReservationResponse, error)
	Confirm(ctx context.Context, sessionID string) (*models.Reservation, error)
	Cancel(ctx context.Context, guestID, reservationID string) (*models.Reservation, error)
	ListMyReservations(ctx context.Context, guestID string) ([]models.Reservation, error)
	ListHostReservations(ctx context.Context, hostID string) ([]models.Reservation, error)
	Quote(ctx context.Context, propertyID, checkIn, checkOut string) (*service.QuoteResponse, error)
	SearchAvailability(ctx context.Context, propertyID, checkIn, checkOut string) (*service.AvailabilityResult, error)
}

// WebhookHandler is implemented by *service.WebhookReconciler
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (service.WebhookOutcome, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	reservations ReservationService
	webhooks     WebhookHandler
	identity     gin.HandlerFunc
	readiness    map[string]Pinger
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler. An empty jwtSecret trusts the
// X-User-ID header set by the edge proxy.
func NewHandler(reservations ReservationService, webhooks WebhookHandler, jwtSecret string) *Handler {
	return &Handler{
		reservations: reservations,
		webhooks:     webhooks,
		identity:     identityMiddleware([]byte(jwtSecret)),
		readiness:    map[string]Pinger{},
		logger:       util.GetLogger(),
	}
}

// AddReadinessCheck registers a dependency checked by /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.readiness[name] = p
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/webhooks/payments", h.paymentWebhook)
		v1.GET("/properties/:id/availability", h.searchAvailability)
		v1.GET("/properties/:id/quote", h.quote)

		authed := v1.Group("")
		authed.Use(h.identity)
		{
			authed.POST("/reservations", h.createReservation)
			authed.POST("/reservations/confirm", h.confirmReservation)
			authed.POST("/reservations/:id/cancel", h.cancelReservation)
			authed.GET("/reservations/me", h.listMyReservations)
			authed.GET("/host/reservations", h.listHostReservations)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings registered dependencies
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.readiness {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"details": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createReservation holds dates and opens a payment session
func (h *Handler) createReservation(c *gin.Context) {
	var req service.CreateReservationRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.reservations.Create(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

type confirmRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// confirmReservation is the synchronous confirmation path after checkout returns
func (h *Handler) confirmReservation(c *gin.Context) {
	var req confirmRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": err.Error(),
		})
		return
	}

	reservation, err := h.reservations.Confirm(c.Request.Context(), req.SessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, reservation)
}

func (h *Handler) cancelReservation(c *gin.Context) {
	reservation, err := h.reservations.Cancel(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, reservation)
}

func (h *Handler) listMyReservations(c *gin.Context) {
	reservations, err := h.reservations.ListMyReservations(c.Request.Context(), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reservations": reservations})
}

func (h *Handler) listHostReservations(c *gin.Context) {
	reservations, err := h.reservations.ListHostReservations(c.Request.Context(), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reservations": reservations})
}

func (h *Handler) searchAvailability(c *gin.Context) {
	result, err := h.reservations.SearchAvailability(c.Request.Context(),
		c.Param("id"), c.Query("check_in"), c.Query("check_out"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) quote(c *gin.Context) {
	quote, err := h.reservations.Quote(c.Request.Context(),
		c.Param("id"), c.Query("check_in"), c.Query("check_out"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

// paymentWebhook acknowledges every authenticated delivery, whatever its
// business outcome, so the processor stops retrying
func (h *Handler) paymentWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes)
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_webhook",
			"details": "could not read request body",
		})
		return
	}

	outcome, err := h.webhooks.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_webhook",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"outcome":  outcome,
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
