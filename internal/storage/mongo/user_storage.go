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

// UserStorage implements the UserStorage interface for MongoDB
type UserStorage struct {
	db     *DB
	logger arbor.ILogger
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

	filter := bson.M{"user_id": user.ID}
	update := bson.M{"$set": user}
	opts := options.Update().SetUpsert(true)

	if _, err := s.db.users.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("%w: failed to save user: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *UserStorage) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	err := s.db.users.FindOne(ctx, bson.M{"user_id": userID}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get user: %v", interfaces.ErrStoreUnavailable, err)
	}
	return &user, nil
}

// IncrementUsage applies the counter update at most once per opToken. The
// token guard lives in the same single-document update as the increment, so
// the store's per-document atomicity makes retried calls no-ops.
func (s *UserStorage) IncrementUsage(ctx context.Context, userID int64, opToken string, bytes int64) error {
	filter := bson.M{
		"user_id":      userID,
		"usage_tokens": bson.M{"$ne": opToken},
	}
	update := bson.M{
		"$inc": bson.M{
			"download_count":   1,
			"bytes_downloaded": bytes,
		},
		"$push": bson.M{"usage_tokens": opToken},
		"$set":  bson.M{"last_active_at": time.Now().UTC()},
	}

	result, err := s.db.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("%w: failed to update usage: %v", interfaces.ErrStoreUnavailable, err)
	}

	if result.MatchedCount == 0 {
		// Either the token was already applied or the user is missing
		if _, err := s.GetUser(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

func (s *UserStorage) SetUserDeleted(ctx context.Context, userID int64, deleted bool) error {
	return s.setField(ctx, userID, "deleted", deleted)
}

func (s *UserStorage) SetUserStarted(ctx context.Context, userID int64, started bool) error {
	return s.setField(ctx, userID, "started", started)
}

func (s *UserStorage) setField(ctx context.Context, userID int64, field string, value bool) error {
	update := bson.M{"$set": bson.M{
		field:            value,
		"last_active_at": time.Now().UTC(),
	}}

	result, err := s.db.users.UpdateOne(ctx, bson.M{"user_id": userID}, update)
	if err != nil {
		return fmt.Errorf("%w: failed to update user: %v", interfaces.ErrStoreUnavailable, err)
	}
	if result.MatchedCount == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}
