package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Total number of pending reservations created",
	})

	ReservationsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_confirmed_total",
		Help: "Total number of reservations confirmed after payment",
	})

	ReservationsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_cancelled_total",
		Help: "Total number of cancelled reservations",
	}, []string{"reason"})

	ReservationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_failed_total",
		Help: "Total number of failed reservation operations",
	}, []string{"reason"})

	ReservationsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_swept_total",
		Help: "Total number of expired pending reservations deleted by the sweeper",
	})

	ReservationsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_completed_total",
		Help: "Total number of confirmed reservations moved to completed",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Payment webhook events by kind and outcome",
	}, []string{"kind", "outcome"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservation_sweep_duration_seconds",
		Help:    "Duration of expiration sweeps",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
