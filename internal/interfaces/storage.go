package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/ferry/internal/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// ErrStoreUnavailable wraps any connectivity or write failure of the
// metadata store. The adapters never silently drop data: every failed
// write surfaces as an error wrapping this sentinel.
var ErrStoreUnavailable = errors.New("metadata store unavailable")

// FileUpdate carries the optional fields of a status update. Nil pointers
// leave the stored value untouched.
type FileUpdate struct {
	StoragePath   *string
	ThumbnailPath *string
	Size          *int64
	ContentType   *string
	OriginalName  *string
	FailureKind   *models.FailureKind
	RetryCount    *int
	Completed     bool // set CompletedAt to now
}

// UserStorage provides typed access to the users collection
type UserStorage interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	// IncrementUsage adds to the user's usage counters. It is idempotent
	// per opToken: applying the same token twice changes nothing.
	IncrementUsage(ctx context.Context, userID int64, opToken string, bytes int64) error
	SetUserDeleted(ctx context.Context, userID int64, deleted bool) error
	SetUserStarted(ctx context.Context, userID int64, started bool) error
}

// FileStorage provides typed access to the files collection
type FileStorage interface {
	CreateFileRecord(ctx context.Context, record *models.FileRecord) error
	GetFileRecord(ctx context.Context, id string) (*models.FileRecord, error)
	UpdateFileStatus(ctx context.Context, id string, status models.FileStatus, update *FileUpdate) error
	ListFiles(ctx context.Context, userID int64, page, pageSize int) ([]*models.FileRecord, error)
	// ListFilesByStatus returns records in the given status, oldest first.
	// Used on startup to find work interrupted by a previous process.
	ListFilesByStatus(ctx context.Context, statuses []models.FileStatus) ([]*models.FileRecord, error)
	DeleteFileRecord(ctx context.Context, id string) error
}

// LogStorage provides append-only access to the logs collection
type LogStorage interface {
	AppendLog(ctx context.Context, entry *models.LogEntry) error
	ListLogs(ctx context.Context, limit int) ([]*models.LogEntry, error)
}

// StorageManager bundles the typed collection adapters behind one handle
type StorageManager interface {
	UserStorage() UserStorage
	FileStorage() FileStorage
	LogStorage() LogStorage
	Close() error
}
