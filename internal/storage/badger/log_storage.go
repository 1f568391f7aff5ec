package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// LogStorage implements the append-only LogStorage interface for Badger
type LogStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewLogStorage creates a new LogStorage instance
func NewLogStorage(db *DB, logger arbor.ILogger) interfaces.LogStorage {
	return &LogStorage{
		db:     db,
		logger: logger,
	}
}

func (s *LogStorage) AppendLog(ctx context.Context, entry *models.LogEntry) error {
	if entry.ID == "" {
		entry.ID = common.NewLogID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := s.db.Store().Insert(entry.ID, entry); err != nil {
		return fmt.Errorf("%w: failed to append log entry: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *LogStorage) ListLogs(ctx context.Context, limit int) ([]*models.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []models.LogEntry
	query := badgerhold.Where("ID").Ne("").SortBy("Timestamp").Reverse().Limit(limit)
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("%w: failed to list logs: %v", interfaces.ErrStoreUnavailable, err)
	}

	result := make([]*models.LogEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}
