package mongo

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/interfaces"
)

// Manager implements the StorageManager interface for MongoDB
type Manager struct {
	db     *DB
	users  interfaces.UserStorage
	files  interfaces.FileStorage
	logs   interfaces.LogStorage
	logger arbor.ILogger
}

// NewManager creates a new MongoDB storage manager
func NewManager(ctx context.Context, logger arbor.ILogger, config *common.MongoConfig) (interfaces.StorageManager, error) {
	db, err := NewDB(ctx, logger, config)
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

	logger.Info().Msg("MongoDB storage manager initialized")

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

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
