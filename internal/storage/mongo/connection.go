package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/common"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DB manages the MongoDB client and collection handles
type DB struct {
	client *mongo.Client
	users  *mongo.Collection
	files  *mongo.Collection
	logs   *mongo.Collection
	logger arbor.ILogger
}

// NewDB connects to MongoDB and verifies the connection with a ping
func NewDB(ctx context.Context, logger arbor.ILogger, config *common.MongoConfig) (*DB, error) {
	connectTimeout := common.Duration(config.ConnectTimeout, 10*time.Second)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	database := client.Database(config.Database)

	db := &DB{
		client: client,
		users:  database.Collection(config.UsersCollection),
		files:  database.Collection(config.FilesCollection),
		logs:   database.Collection(config.LogsCollection),
		logger: logger,
	}

	if err := db.ensureIndexes(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to create mongodb indexes")
	}

	logger.Info().
		Str("database", config.Database).
		Msg("Connected to MongoDB")

	return db, nil
}

func (db *DB) ensureIndexes(ctx context.Context) error {
	fileIndexes := []mongo.IndexModel{
		{Keys: map[string]interface{}{"user_id": 1}},
		{Keys: map[string]interface{}{"created_at": -1}},
		{Keys: map[string]interface{}{"status": 1}},
	}
	if _, err := db.files.Indexes().CreateMany(ctx, fileIndexes); err != nil {
		return fmt.Errorf("failed to create file indexes: %w", err)
	}

	logIndexes := []mongo.IndexModel{
		{Keys: map[string]interface{}{"timestamp": -1}},
		{Keys: map[string]interface{}{"job_id": 1}},
	}
	if _, err := db.logs.Indexes().CreateMany(ctx, logIndexes); err != nil {
		return fmt.Errorf("failed to create log indexes: %w", err)
	}

	return nil
}

// Close disconnects the MongoDB client
func (db *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.client.Disconnect(ctx)
}
