package storage

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/storage/badger"
	"github.com/ternarybob/ferry/internal/storage/mongo"
)

// NewManager creates a storage manager for the configured backend.
// "mongo" is the production document store reachable by URI; "badger" is
// the embedded store for development and single-binary deployments.
func NewManager(ctx context.Context, logger arbor.ILogger, config *common.StorageConfig) (interfaces.StorageManager, error) {
	switch config.Type {
	case "mongo":
		return mongo.NewManager(ctx, logger, &config.Mongo)
	case "badger":
		return badger.NewManager(logger, &config.Badger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", config.Type)
	}
}
