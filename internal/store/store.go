package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/001_init.sql
var schemaSQL string

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrStatusChanged is returned when a conditional status update matched no row
	ErrStatusChanged = errors.New("reservation status changed concurrently")
	// ErrOverlap is returned when the database rejects a confirmed date-range overlap
	ErrOverlap = errors.New("confirmed reservation overlaps existing booking")
	// ErrMissingPaymentIntent is returned when a confirmation carries no payment intent
	ErrMissingPaymentIntent = errors.New("confirmed reservation requires a payment intent")
)

// Postgres error codes
const (
	pqExclusionViolation = "23P01"
	pqUniqueViolation    = "23505"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate applies the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetPropertyByID retrieves a property by ID
func (s *Store) GetPropertyByID(ctx context.Context, id string) (*models.Property, error) {
	var property models.Property
	err := s.db.GetContext(ctx, &property, "SELECT * FROM properties WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("property %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &property, nil
}

// UpsertProperty writes the listing projection
func (s *Store) UpsertProperty(ctx context.Context, p *models.Property) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (id, host_id, name, image, nightly_rate)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET host_id = EXCLUDED.host_id, name = EXCLUDED.name,
		    image = EXCLUDED.image, nightly_rate = EXCLUDED.nightly_rate`,
		p.ID, p.HostID, p.Name, p.Image, p.NightlyRate)
	return err
}

// DeletePropertyCascade removes a property and every reservation that references it
func (s *Store) DeletePropertyCascade(ctx context.Context, propertyID string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM reservations WHERE property_id = $1", propertyID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reservations: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DELETE FROM properties WHERE id = $1", propertyID); err != nil {
		return 0, fmt.Errorf("failed to delete property: %w", err)
	}

	return removed, tx.Commit()
}

// DeleteGuestCascade removes a user's reservations, their hosted properties and
// the reservations made on those properties
func (s *Store) DeleteGuestCascade(ctx context.Context, userID string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM reservations
		WHERE guest_id = $1
		   OR property_id IN (SELECT id FROM properties WHERE host_id = $1)`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reservations: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DELETE FROM properties WHERE host_id = $1", userID); err != nil {
		return 0, fmt.Errorf("failed to delete properties: %w", err)
	}

	return removed, tx.Commit()
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
