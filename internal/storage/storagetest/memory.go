// Package storagetest provides an in-memory StorageManager for tests.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/models"
)

// Manager is an in-memory StorageManager. FailWrites makes every write
// return a store-unavailable error, simulating an outage.
type Manager struct {
	mu         sync.Mutex
	users      map[int64]*models.User
	files      map[string]*models.FileRecord
	logs       []*models.LogEntry
	FailWrites bool
}

// NewManager creates an empty in-memory store
func NewManager() *Manager {
	return &Manager{
		users: make(map[int64]*models.User),
		files: make(map[string]*models.FileRecord),
	}
}

func (m *Manager) UserStorage() interfaces.UserStorage { return (*userStore)(m) }
func (m *Manager) FileStorage() interfaces.FileStorage { return (*fileStore)(m) }
func (m *Manager) LogStorage() interfaces.LogStorage   { return (*logStore)(m) }
func (m *Manager) Close() error                        { return nil }

func (m *Manager) failErr() error {
	return fmt.Errorf("%w: simulated outage", interfaces.ErrStoreUnavailable)
}

// SetFailWrites toggles the simulated outage
func (m *Manager) SetFailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailWrites = fail
}

// SeedUser inserts a user directly
func (m *Manager) SeedUser(user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

// SeedFile inserts a file record directly
func (m *Manager) SeedFile(record *models.FileRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[record.ID] = record
}

// Record returns a copy of the stored file record
func (m *Manager) Record(id string) (models.FileRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.files[id]
	if !ok {
		return models.FileRecord{}, false
	}
	return *record, true
}

// User returns a copy of the stored user
func (m *Manager) User(id int64) (models.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return models.User{}, false
	}
	return *user, true
}

// Logs returns a snapshot of appended log entries
func (m *Manager) Logs() []*models.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.LogEntry, len(m.logs))
	copy(out, m.logs)
	return out
}

type userStore Manager

func (s *userStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return (*Manager)(s).failErr()
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *userStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *userStore) IncrementUsage(ctx context.Context, userID int64, opToken string, bytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return (*Manager)(s).failErr()
	}
	user, ok := s.users[userID]
	if !ok {
		return interfaces.ErrNotFound
	}
	for _, token := range user.UsageTokens {
		if token == opToken {
			return nil
		}
	}
	user.UsageTokens = append(user.UsageTokens, opToken)
	user.DownloadCount++
	user.BytesDownloaded += bytes
	user.LastActiveAt = time.Now().UTC()
	return nil
}

func (s *userStore) SetUserDeleted(ctx context.Context, userID int64, deleted bool) error {
	return s.setFlag(userID, func(u *models.User) { u.Deleted = deleted })
}

func (s *userStore) SetUserStarted(ctx context.Context, userID int64, started bool) error {
	return s.setFlag(userID, func(u *models.User) { u.Started = started })
}

func (s *userStore) setFlag(userID int64, apply func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return (*Manager)(s).failErr()
	}
	user, ok := s.users[userID]
	if !ok {
		return interfaces.ErrNotFound
	}
	apply(user)
	return nil
}

type fileStore Manager

func (s *fileStore) CreateFileRecord(ctx context.Context, record *models.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return (*Manager)(s).failErr()
	}
	if _, exists := s.files[record.ID]; exists {
		return fmt.Errorf("file record already exists: %s", record.ID)
	}
	copied := *record
	s.files[record.ID] = &copied
	return nil
}

func (s *fileStore) GetFileRecord(ctx context.Context, id string) (*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.files[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *fileStore) UpdateFileStatus(ctx context.Context, id string, status models.FileStatus, update *interfaces.FileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return (*Manager)(s).failErr()
	}
	record, ok := s.files[id]
	if !ok {
		return interfaces.ErrNotFound
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
	return nil
}

func (s *fileStore) ListFiles(ctx context.Context, userID int64, page, pageSize int) ([]*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []*models.FileRecord
	for _, record := range s.files {
		if record.UserID == userID {
			copied := *record
			records = append(records, &copied)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	start := page * pageSize
	if start >= len(records) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(records) {
		end = len(records)
	}
	return records[start:end], nil
}

func (s *fileStore) ListFilesByStatus(ctx context.Context, statuses []models.FileStatus) ([]*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[models.FileStatus]bool, len(statuses))
	for _, status := range statuses {
		want[status] = true
	}

	var records []*models.FileRecord
	for _, record := range s.files {
		if want[record.Status] {
			copied := *record
			records = append(records, &copied)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (s *fileStore) DeleteFileRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return (*Manager)(s).failErr()
	}
	if _, ok := s.files[id]; !ok {
		return interfaces.ErrNotFound
	}
	delete(s.files, id)
	return nil
}

type logStore Manager

func (s *logStore) AppendLog(ctx context.Context, entry *models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return (*Manager)(s).failErr()
	}
	copied := *entry
	if copied.ID == "" {
		copied.ID = common.NewLogID()
	}
	if copied.Timestamp.IsZero() {
		copied.Timestamp = time.Now().UTC()
	}
	s.logs = append(s.logs, &copied)
	return nil
}

func (s *logStore) ListLogs(ctx context.Context, limit int) ([]*models.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.LogEntry, len(s.logs))
	copy(out, s.logs)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
