package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// FileStorage implements the FileStorage interface for Badger
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

	if err := s.db.Store().Insert(record.ID, record); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("file record already exists: %s", record.ID)
		}
		return fmt.Errorf("%w: failed to save file record: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *FileStorage) GetFileRecord(ctx context.Context, id string) (*models.FileRecord, error) {
	var record models.FileRecord
	if err := s.db.Store().Get(id, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get file record: %v", interfaces.ErrStoreUnavailable, err)
	}
	return &record, nil
}

func (s *FileStorage) UpdateFileStatus(ctx context.Context, id string, status models.FileStatus, update *interfaces.FileUpdate) error {
	record, err := s.GetFileRecord(ctx, id)
	if err != nil {
		return err
	}

	record.Status = status
	if update != nil {
		if update.StoragePath != nil {
			record.StoragePath = *update.StoragePath
		}
		if update.ThumbnailPath != nil {
			record.ThumbnailPath = *update.ThumbnailPath
		}
		if update.Size != nil {
			record.Size = *update.Size
		}
		if update.ContentType != nil {
			record.ContentType = *update.ContentType
		}
		if update.OriginalName != nil {
			record.OriginalName = *update.OriginalName
		}
		if update.FailureKind != nil {
			record.FailureKind = *update.FailureKind
		}
		if update.RetryCount != nil {
			record.RetryCount = *update.RetryCount
		}
		if update.Completed {
			now := time.Now().UTC()
			record.CompletedAt = &now
		}
	}

	if err := s.db.Store().Update(id, record); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("%w: failed to update file record: %v", interfaces.ErrStoreUnavailable, err)
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

	query := badgerhold.Where("UserID").Eq(userID).
		SortBy("CreatedAt").Reverse().
		Skip(page * pageSize).
		Limit(pageSize)

	var records []models.FileRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("%w: failed to list files: %v", interfaces.ErrStoreUnavailable, err)
	}

	result := make([]*models.FileRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *FileStorage) ListFilesByStatus(ctx context.Context, statuses []models.FileStatus) ([]*models.FileRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	values := make([]interface{}, len(statuses))
	for i, st := range statuses {
		values[i] = st
	}

	var records []models.FileRecord
	query := badgerhold.Where("Status").In(values...).SortBy("CreatedAt")
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("%w: failed to list files by status: %v", interfaces.ErrStoreUnavailable, err)
	}

	result := make([]*models.FileRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *FileStorage) DeleteFileRecord(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.FileRecord{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("%w: failed to delete file record: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}
