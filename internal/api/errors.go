package api

import (
	"errors"
	"net/http"

	"booking-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{service.ErrInvalidDateRange, http.StatusBadRequest, "invalid_date_range"},
	{service.ErrPropertyNotFound, http.StatusNotFound, "property_not_found"},
	{service.ErrReservationNotFound, http.StatusNotFound, "reservation_not_found"},
	{service.ErrNotReservationOwner, http.StatusForbidden, "not_reservation_owner"},
	{service.ErrPropertyUnavailable, http.StatusConflict, "property_unavailable"},
	{service.ErrPropertyNoLongerAvailable, http.StatusConflict, "property_no_longer_available"},
	{service.ErrReservationClosed, http.StatusConflict, "reservation_closed"},
	{service.ErrInvalidCancellation, http.StatusConflict, "invalid_cancellation"},
	{service.ErrIdempotencyKeyReused, http.StatusUnprocessableEntity, "idempotency_key_reused"},
	{service.ErrPaymentNotCompleted, http.StatusPaymentRequired, "payment_not_completed"},
	{service.ErrGatewayUnavailable, http.StatusServiceUnavailable, "payment_gateway_unavailable"},
	{service.ErrGatewayRejected, http.StatusBadGateway, "payment_gateway_rejected"},
}

// writeError maps service errors to stable codes the client can act on
func (h *Handler) writeError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.err) {
			continue
		}
		body := gin.H{
			"error":   m.code,
			"details": err.Error(),
		}
		var fe *service.FieldError
		if errors.As(err, &fe) {
			body["field"] = fe.Field
			body["details"] = fe.Message
		}
		if m.status == http.StatusServiceUnavailable {
			c.Header("Retry-After", "5")
		}
		c.JSON(m.status, body)
		return
	}

	h.logger.Error("Request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"details": "an unexpected error occurred",
	})
}
