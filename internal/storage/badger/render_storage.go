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

// RenderStorage persists the render audit trail
type RenderStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRenderStorage creates a new render record storage
func NewRenderStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RenderStorage {
	return &RenderStorage{
		db:     db,
		logger: logger,
	}
}

// Save stores a render record
func (s *RenderStorage) Save(ctx context.Context, record *models.RenderRecord) error {
	if record.ID == "" {
		return fmt.Errorf("render record ID cannot be empty")
	}
	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save render record %s: %w", record.ID, err)
	}
	return nil
}

// GetByID returns one render record, or nil when it does not exist
func (s *RenderStorage) GetByID(ctx context.Context, id string) (*models.RenderRecord, error) {
	var record models.RenderRecord
	err := s.db.Store().Get(id, &record)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render record %s: %w", id, err)
	}
	return &record, nil
}

// ListRecent returns render records newest first
func (s *RenderStorage) ListRecent(ctx context.Context, limit, offset int) ([]*models.RenderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := badgerhold.Where("CreatedAt").Le(time.Now().Add(time.Minute)).
		SortBy("CreatedAt").Reverse().
		Skip(offset).Limit(limit)

	var records []*models.RenderRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list render records: %w", err)
	}
	return records, nil
}

// PruneBefore removes render records created before the cutoff
func (s *RenderStorage) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := badgerhold.Where("CreatedAt").Lt(cutoff)

	var stale []*models.RenderRecord
	if err := s.db.Store().Find(&stale, query); err != nil {
		return 0, fmt.Errorf("failed to find old render records: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.db.Store().DeleteMatching(&models.RenderRecord{}, query); err != nil {
		return 0, fmt.Errorf("failed to prune render records: %w", err)
	}

	s.logger.Debug().Int("count", len(stale)).Msg("Pruned old render records")
	return len(stale), nil
}
