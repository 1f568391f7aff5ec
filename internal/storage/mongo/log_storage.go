package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LogStorage implements the append-only LogStorage interface for MongoDB
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

	if _, err := s.db.logs.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("%w: failed to append log entry: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *LogStorage) ListLogs(ctx context.Context, limit int) ([]*models.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.db.logs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list logs: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer cursor.Close(ctx)

	var entries []*models.LogEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("%w: failed to decode log entries: %v", interfaces.ErrStoreUnavailable, err)
	}
	return entries, nil
}
