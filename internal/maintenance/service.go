package maintenance

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/interfaces"
	badgerstore "github.com/ternarybob/ferry/internal/storage/badger"
)

// partMaxAge is how long a .part file may sit untouched before the sweep
// considers it abandoned by a dead fetch
const partMaxAge = time.Hour

// DedupPruner is the pipeline hook for expiring dedup window entries
type DedupPruner interface {
	PruneDedup() int
}

// Service runs periodic housekeeping: sweeping abandoned partial
// downloads, expiring dedup entries and compacting the embedded store.
type Service struct {
	config  *common.Config
	storage interfaces.StorageManager
	pruner  DedupPruner
	logger  arbor.ILogger
	cron    *cron.Cron
}

// NewService creates the maintenance scheduler
func NewService(config *common.Config, storage interfaces.StorageManager, pruner DedupPruner, logger arbor.ILogger) *Service {
	return &Service{
		config:  config,
		storage: storage,
		pruner:  pruner,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Start registers the maintenance jobs and starts the scheduler
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc("@every 30m", s.sweepPartials); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every 5m", s.pruneDedup); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every 1h", s.compactStore); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the scheduler and waits for running jobs
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Maintenance scheduler stopped")
}

// sweepPartials removes .part files that have not been written to for
// partMaxAge. Live fetches touch their .part file continuously, so age is
// a safe liveness signal.
func (s *Service) sweepPartials() {
	removed := 0
	cutoff := time.Now().Add(-partMaxAge)

	err := filepath.Walk(s.config.Fetch.DownloadDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // directory may not exist yet
		}
		if info.IsDir() || !strings.HasSuffix(path, ".part") {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove stale partial file")
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Partial file sweep failed")
		return
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Swept stale partial downloads")
	}
}

func (s *Service) pruneDedup() {
	if s.pruner == nil {
		return
	}
	if pruned := s.pruner.PruneDedup(); pruned > 0 {
		s.logger.Debug().Int("pruned", pruned).Msg("Pruned expired dedup entries")
	}
}

// compactStore runs value log GC when the embedded Badger backend is in
// use; the Mongo backend manages its own storage
func (s *Service) compactStore() {
	manager, ok := s.storage.(*badgerstore.Manager)
	if !ok {
		return
	}
	if err := manager.DB().RunGC(); err != nil {
		s.logger.Warn().Err(err).Msg("Badger GC failed")
	}
}
