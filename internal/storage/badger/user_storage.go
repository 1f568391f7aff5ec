package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// UserStorage implements the UserStorage interface for Badger
type UserStorage struct {
	db     *DB
	logger arbor.ILogger
	// Counter updates are read-modify-write; serialize them so concurrent
	// job completions cannot lose increments.
	mu sync.Mutex
}

// NewUserStorage creates a new UserStorage instance
func NewUserStorage(db *DB, logger arbor.ILogger) interfaces.UserStorage {
	return &UserStorage{
		db:     db,
		logger: logger,
	}
}

func (s *UserStorage) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == 0 {
		return fmt.Errorf("user ID is required")
	}
	if user.RegisteredAt.IsZero() {
		user.RegisteredAt = time.Now().UTC()
	}

	if err := s.db.Store().Upsert(user.ID, user); err != nil {
		return fmt.Errorf("%w: failed to save user: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *UserStorage) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	if err := s.db.Store().Get(userID, &user); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get user: %v", interfaces.ErrStoreUnavailable, err)
	}
	return &user, nil
}

func (s *UserStorage) IncrementUsage(ctx context.Context, userID int64, opToken string, bytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	for _, token := range user.UsageTokens {
		if token == opToken {
			return nil // already applied
		}
	}

	user.DownloadCount++
	user.BytesDownloaded += bytes
	user.UsageTokens = append(user.UsageTokens, opToken)
	user.LastActiveAt = time.Now().UTC()

	if err := s.db.Store().Upsert(user.ID, user); err != nil {
		return fmt.Errorf("%w: failed to update usage: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *UserStorage) SetUserDeleted(ctx context.Context, userID int64, deleted bool) error {
	return s.setFlag(ctx, userID, func(u *models.User) { u.Deleted = deleted })
}

func (s *UserStorage) SetUserStarted(ctx context.Context, userID int64, started bool) error {
	return s.setFlag(ctx, userID, func(u *models.User) { u.Started = started })
}

func (s *UserStorage) setFlag(ctx context.Context, userID int64, apply func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	apply(user)
	user.LastActiveAt = time.Now().UTC()

	if err := s.db.Store().Upsert(user.ID, user); err != nil {
		return fmt.Errorf("%w: failed to update user: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}
