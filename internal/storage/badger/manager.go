package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *DB
	users  interfaces.UserStorage
	files  interfaces.FileStorage
	logs   interfaces.LogStorage
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		users:  NewUserStorage(db, logger),
		files:  NewFileStorage(db, logger),
		logs:   NewLogStorage(db, logger),
		logger: logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// UserStorage returns the users collection adapter
func (m *Manager) UserStorage() interfaces.UserStorage {
	return m.users
}

// FileStorage returns the files collection adapter
func (m *Manager) FileStorage() interfaces.FileStorage {
	return m.files
}

// LogStorage returns the logs collection adapter
func (m *Manager) LogStorage() interfaces.LogStorage {
	return m.logs
}

// DB returns the underlying database connection for maintenance tasks
func (m *Manager) DB() *DB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
