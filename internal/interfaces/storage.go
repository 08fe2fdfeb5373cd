package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/revelo/internal/models"
)

// ClearanceStorage - interface for persisted challenge clearances
type ClearanceStorage interface {
	Upsert(ctx context.Context, clearance *models.Clearance) error
	GetByOrigin(ctx context.Context, origin string) (*models.Clearance, error)
	List(ctx context.Context) ([]*models.Clearance, error)
	Delete(ctx context.Context, origin string) error

	// PurgeIdle removes clearances not seen since the cutoff and returns
	// how many were dropped.
	PurgeIdle(ctx context.Context, olderThan time.Time) (int, error)
}

// RenderStorage - interface for the render audit trail
type RenderStorage interface {
	Save(ctx context.Context, record *models.RenderRecord) error
	GetByID(ctx context.Context, id string) (*models.RenderRecord, error)

	// ListRecent returns records newest first.
	ListRecent(ctx context.Context, limit, offset int) ([]*models.RenderRecord, error)

	// PruneBefore removes records created before the cutoff and returns
	// how many were dropped.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	ClearanceStorage() ClearanceStorage
	RenderStorage() RenderStorage
	DB() interface{}
	Close() error

	// RunValueLogGC triggers badger value-log garbage collection.
	RunValueLogGC() error
}
