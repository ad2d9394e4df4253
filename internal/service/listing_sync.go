package service

import (
	"context"
	"fmt"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

type cascadeStore interface {
	UpsertProperty(ctx context.Context, p *models.Property) error
	DeletePropertyCascade(ctx context.Context, propertyID string) (int64, error)
	DeleteGuestCascade(ctx context.Context, userID string) (int64, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// ListingSync keeps the local property projection current and removes
// reservations when their property or user is deleted upstream
type ListingSync struct {
	store  cascadeStore
	logger *zap.Logger
}

// NewListingSync creates a new listing sync handler
func NewListingSync(store cascadeStore) *ListingSync {
	return &ListingSync{store: store, logger: util.GetLogger()}
}

// HandlePropertyUpserted records a created or changed listing
func (ls *ListingSync) HandlePropertyUpserted(ctx context.Context, event *models.PropertyUpsertedEvent) error {
	ctx, span := util.StartSpan(ctx, "ListingSync.HandlePropertyUpserted")
	defer span.End()

	if event.PropertyID == "" || event.HostID == "" || event.NightlyRate <= 0 {
		// Retrying cannot fix the payload, so it is logged and skipped.
		ls.logger.Error("Invalid property event",
			zap.String("event_id", event.EventID),
			zap.String("property_id", event.PropertyID),
			zap.Int64("nightly_rate", event.NightlyRate))
		return nil
	}

	return ls.once(ctx, event.BaseEvent, func() error {
		err := ls.store.UpsertProperty(ctx, &models.Property{
			ID:          event.PropertyID,
			HostID:      event.HostID,
			Name:        event.Name,
			Image:       event.Image,
			NightlyRate: event.NightlyRate,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert property %s: %w", event.PropertyID, err)
		}
		ls.logger.Info("Property synced",
			zap.String("property_id", event.PropertyID),
			zap.Int64("nightly_rate", event.NightlyRate))
		return nil
	})
}

// HandlePropertyDeleted purges a deleted property's reservations
func (ls *ListingSync) HandlePropertyDeleted(ctx context.Context, event *models.PropertyDeletedEvent) error {
	ctx, span := util.StartSpan(ctx, "ListingSync.HandlePropertyDeleted")
	defer span.End()

	return ls.once(ctx, event.BaseEvent, func() error {
		n, err := ls.store.DeletePropertyCascade(ctx, event.PropertyID)
		if err != nil {
			return fmt.Errorf("failed to purge property %s: %w", event.PropertyID, err)
		}
		ls.logger.Info("Property purged",
			zap.String("property_id", event.PropertyID),
			zap.Int64("reservations_removed", n))
		return nil
	})
}

// HandleUserDeleted purges a deleted user's reservations and hosted properties
func (ls *ListingSync) HandleUserDeleted(ctx context.Context, event *models.UserDeletedEvent) error {
	ctx, span := util.StartSpan(ctx, "ListingSync.HandleUserDeleted")
	defer span.End()

	return ls.once(ctx, event.BaseEvent, func() error {
		n, err := ls.store.DeleteGuestCascade(ctx, event.UserID)
		if err != nil {
			return fmt.Errorf("failed to purge user %s: %w", event.UserID, err)
		}
		ls.logger.Info("User purged",
			zap.String("user_id", event.UserID),
			zap.Int64("reservations_removed", n))
		return nil
	})
}

func (ls *ListingSync) once(ctx context.Context, base models.BaseEvent, apply func() error) error {
	if base.EventID != "" {
		processed, err := ls.store.IsEventProcessed(ctx, base.EventID)
		if err != nil {
			return fmt.Errorf("failed to check event processed: %w", err)
		}
		if processed {
			ls.logger.Info("Event already processed", zap.String("event_id", base.EventID))
			return nil
		}
	}

	if err := apply(); err != nil {
		return err
	}

	if base.EventID != "" {
		if err := ls.store.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
			ls.logger.Error("Failed to mark event processed", zap.Error(err))
		}
	}
	return nil
}
