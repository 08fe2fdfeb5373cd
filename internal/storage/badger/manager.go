package badger

import (
	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	clearance interfaces.ClearanceStorage
	render    interfaces.RenderStorage
	logger    arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:        db,
		clearance: NewClearanceStorage(db, logger),
		render:    NewRenderStorage(db, logger),
		logger:    logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// ClearanceStorage returns the Clearance storage interface
func (m *Manager) ClearanceStorage() interfaces.ClearanceStorage {
	return m.clearance
}

// RenderStorage returns the Render storage interface
func (m *Manager) RenderStorage() interfaces.RenderStorage {
	return m.render
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// RunValueLogGC triggers badger value-log garbage collection. Badger
// returns ErrNoRewrite when there was nothing to collect; that is not a
// failure.
func (m *Manager) RunValueLogGC() error {
	if m.db == nil {
		return nil
	}
	err := m.db.Store().Badger().RunValueLogGC(0.5)
	if err == badgerdb.ErrNoRewrite {
		return nil
	}
	return err
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
