package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// FileStorage implements the FileStorage interface for MongoDB
type FileStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewFileStorage creates a new FileStorage instance
func NewFileStorage(db *DB, logger arbor.ILogger) interfaces.FileStorage {
	return &FileStorage{
		db:     db,
		logger: logger,
	}
}

func (s *FileStorage) CreateFileRecord(ctx context.Context, record *models.FileRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	if _, err := s.db.files.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("file record already exists: %s", record.ID)
		}
		return fmt.Errorf("%w: failed to save file record: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *FileStorage) GetFileRecord(ctx context.Context, id string) (*models.FileRecord, error) {
	var record models.FileRecord
	err := s.db.files.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get file record: %v", interfaces.ErrStoreUnavailable, err)
	}
	return &record, nil
}

func (s *FileStorage) UpdateFileStatus(ctx context.Context, id string, status models.FileStatus, update *interfaces.FileUpdate) error {
	set := bson.M{"status": status}
	if update != nil {
		if update.StoragePath != nil {
			set["storage_path"] = *update.StoragePath
		}
		if update.ThumbnailPath != nil {
			set["thumbnail_path"] = *update.ThumbnailPath
		}
		if update.Size != nil {
			set["size"] = *update.Size
		}
		if update.ContentType != nil {
			set["content_type"] = *update.ContentType
		}
		if update.OriginalName != nil {
			set["original_name"] = *update.OriginalName
		}
		if update.FailureKind != nil {
			set["failure_kind"] = *update.FailureKind
		}
		if update.RetryCount != nil {
			set["retry_count"] = *update.RetryCount
		}
		if update.Completed {
			set["completed_at"] = time.Now().UTC()
		}
	}

	result, err := s.db.files.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("%w: failed to update file record: %v", interfaces.ErrStoreUnavailable, err)
	}
	if result.MatchedCount == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (s *FileStorage) ListFiles(ctx context.Context, userID int64, page, pageSize int) ([]*models.FileRecord, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page < 0 {
		page = 0
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(page * pageSize)).
		SetLimit(int64(pageSize))

	cursor, err := s.db.files.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list files: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer cursor.Close(ctx)

	var records []*models.FileRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("%w: failed to decode file records: %v", interfaces.ErrStoreUnavailable, err)
	}
	return records, nil
}

func (s *FileStorage) ListFilesByStatus(ctx context.Context, statuses []models.FileStatus) ([]*models.FileRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.db.files.Find(ctx, bson.M{"status": bson.M{"$in": statuses}}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list files by status: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer cursor.Close(ctx)

	var records []*models.FileRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("%w: failed to decode file records: %v", interfaces.ErrStoreUnavailable, err)
	}
	return records, nil
}

func (s *FileStorage) DeleteFileRecord(ctx context.Context, id string) error {
	result, err := s.db.files.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("%w: failed to delete file record: %v", interfaces.ErrStoreUnavailable, err)
	}
	if result.DeletedCount == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}
