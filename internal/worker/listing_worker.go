package worker

import (
	"context"

	"booking-service/internal/broker"
	"booking-service/internal/service"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// ListingWorker consumes the listing topic into the property projection
type ListingWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewListingWorker creates a new listing worker
func NewListingWorker(consumer *broker.Consumer, sync *service.ListingSync) *ListingWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPropertyUpserted(sync.HandlePropertyUpserted)
	eventHandler.OnPropertyDeleted(sync.HandlePropertyDeleted)
	eventHandler.OnUserDeleted(sync.HandleUserDeleted)

	return &ListingWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *ListingWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting listing worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ListingWorker) Stop() error {
	w.logger.Info("Stopping listing worker")
	return w.consumer.Close()
}
