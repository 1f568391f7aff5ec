package maintenance

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/storage/storagetest"
)

type fakePruner struct {
	calls int
}

func (f *fakePruner) PruneDedup() int {
	f.calls++
	return 2
}

func newTestService(t *testing.T) (*Service, *fakePruner) {
	t.Helper()
	config := common.NewDefaultConfig()
	config.Fetch.DownloadDir = t.TempDir()
	pruner := &fakePruner{}
	return NewService(config, storagetest.NewManager(), pruner, common.GetLogger()), pruner
}

func TestSweepPartialsRemovesOnlyStaleParts(t *testing.T) {
	svc, _ := newTestService(t)
	dir := svc.config.Fetch.DownloadDir

	userDir := filepath.Join(dir, "42")
	require.NoError(t, os.MkdirAll(userDir, 0755))

	stale := filepath.Join(userDir, "file_old.mkv.part")
	fresh := filepath.Join(userDir, "file_new.mkv.part")
	complete := filepath.Join(userDir, "file_done.mkv")
	for _, path := range []string{stale, fresh, complete} {
		require.NoError(t, os.WriteFile(path, []byte("bytes"), 0644))
	}

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	svc.sweepPartials()

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale partial removed")
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "fresh partial kept, its fetch may be live")
	_, err = os.Stat(complete)
	assert.NoError(t, err, "completed files are never touched")
}

func TestSweepPartialsToleratesMissingDir(t *testing.T) {
	svc, _ := newTestService(t)
	svc.config.Fetch.DownloadDir = filepath.Join(t.TempDir(), "never-created")

	// Must not panic or log an error loop
	svc.sweepPartials()
}

func TestPruneDedupCallsThrough(t *testing.T) {
	svc, pruner := newTestService(t)

	svc.pruneDedup()
	assert.Equal(t, 1, pruner.calls)

	svc.pruner = nil
	svc.pruneDedup() // nil pruner is a no-op
}

func TestCompactStoreSkipsNonBadgerBackends(t *testing.T) {
	svc, _ := newTestService(t)

	// The in-memory test manager is not the Badger backend; compaction
	// must be a silent no-op
	svc.compactStore()
}

func TestStartStop(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(t, svc.Start())
	svc.Stop()
}
