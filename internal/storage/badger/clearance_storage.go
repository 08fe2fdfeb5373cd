package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/revelo/internal/interfaces"
	"github.com/ternarybob/revelo/internal/models"
)

// ClearanceStorage persists challenge clearances keyed by origin
type ClearanceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewClearanceStorage creates a new clearance storage
func NewClearanceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ClearanceStorage {
	return &ClearanceStorage{
		db:     db,
		logger: logger,
	}
}

// Upsert stores or replaces the clearance for an origin
func (s *ClearanceStorage) Upsert(ctx context.Context, clearance *models.Clearance) error {
	if clearance.Origin == "" {
		return fmt.Errorf("clearance origin cannot be empty")
	}
	if err := s.db.Store().Upsert(clearance.Origin, clearance); err != nil {
		return fmt.Errorf("failed to upsert clearance for %s: %w", clearance.Origin, err)
	}
	return nil
}

// GetByOrigin returns the stored clearance, or nil when none exists
func (s *ClearanceStorage) GetByOrigin(ctx context.Context, origin string) (*models.Clearance, error) {
	var clearance models.Clearance
	err := s.db.Store().Get(origin, &clearance)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clearance for %s: %w", origin, err)
	}
	return &clearance, nil
}

// List returns all stored clearances
func (s *ClearanceStorage) List(ctx context.Context) ([]*models.Clearance, error) {
	var clearances []*models.Clearance
	if err := s.db.Store().Find(&clearances, nil); err != nil {
		return nil, fmt.Errorf("failed to list clearances: %w", err)
	}
	return clearances, nil
}

// Delete removes the clearance for an origin
func (s *ClearanceStorage) Delete(ctx context.Context, origin string) error {
	err := s.db.Store().Delete(origin, models.Clearance{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete clearance for %s: %w", origin, err)
	}
	return nil
}

// PurgeIdle removes clearances not seen since the cutoff
func (s *ClearanceStorage) PurgeIdle(ctx context.Context, olderThan time.Time) (int, error) {
	query := badgerhold.Where("LastSeenAt").Lt(olderThan)

	var stale []*models.Clearance
	if err := s.db.Store().Find(&stale, query); err != nil {
		return 0, fmt.Errorf("failed to find stale clearances: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.db.Store().DeleteMatching(&models.Clearance{}, query); err != nil {
		return 0, fmt.Errorf("failed to purge stale clearances: %w", err)
	}

	s.logger.Debug().Int("count", len(stale)).Msg("Purged stale clearances")
	return len(stale), nil
}
