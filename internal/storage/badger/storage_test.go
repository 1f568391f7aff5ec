package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/models"
)

func newTestManager(t *testing.T) interfaces.StorageManager {
	t.Helper()

	manager, err := NewManager(common.GetLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestUserLifecycle(t *testing.T) {
	manager := newTestManager(t)
	users := manager.UserStorage()
	ctx := context.Background()

	_, err := users.GetUser(ctx, 99)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	user := &models.User{ID: 99, FirstName: "Ada", Username: "ada", Registered: true, Started: true}
	require.NoError(t, users.CreateUser(ctx, user))

	got, err := users.GetUser(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.FirstName)
	assert.True(t, got.Active())
	assert.False(t, got.RegisteredAt.IsZero())

	require.NoError(t, users.SetUserDeleted(ctx, 99, true))
	got, err = users.GetUser(ctx, 99)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.False(t, got.Active())

	require.NoError(t, users.SetUserDeleted(ctx, 99, false))
	require.NoError(t, users.SetUserStarted(ctx, 99, false))
	got, _ = users.GetUser(ctx, 99)
	assert.False(t, got.Started)
	assert.True(t, got.Active())

	assert.ErrorIs(t, users.SetUserStarted(ctx, 12345, true), interfaces.ErrNotFound)
}

func TestIncrementUsageIsIdempotentPerToken(t *testing.T) {
	manager := newTestManager(t)
	users := manager.UserStorage()
	ctx := context.Background()

	require.NoError(t, users.CreateUser(ctx, &models.User{ID: 7, Registered: true}))

	require.NoError(t, users.IncrementUsage(ctx, 7, "file_a", 100))
	require.NoError(t, users.IncrementUsage(ctx, 7, "file_a", 100)) // replayed commit
	require.NoError(t, users.IncrementUsage(ctx, 7, "file_b", 50))

	user, err := users.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), user.DownloadCount)
	assert.Equal(t, int64(150), user.BytesDownloaded)
}

func TestFileRecordLifecycle(t *testing.T) {
	manager := newTestManager(t)
	files := manager.FileStorage()
	ctx := context.Background()

	record := models.NewFileRecord("file_1", 7, "https://host.example/a.mkv")
	require.NoError(t, files.CreateFileRecord(ctx, record))

	err := files.CreateFileRecord(ctx, record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	storagePath := "/data/downloads/7/file_1_a.mp4"
	size := int64(2048)
	require.NoError(t, files.UpdateFileStatus(ctx, "file_1", models.FileStatusPersisted, &interfaces.FileUpdate{
		StoragePath: &storagePath,
		Size:        &size,
		Completed:   true,
	}))

	got, err := files.GetFileRecord(ctx, "file_1")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusPersisted, got.Status)
	assert.Equal(t, storagePath, got.StoragePath)
	assert.Equal(t, size, got.Size)
	require.NotNil(t, got.CompletedAt)

	require.NoError(t, files.DeleteFileRecord(ctx, "file_1"))
	_, err = files.GetFileRecord(ctx, "file_1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.ErrorIs(t, files.DeleteFileRecord(ctx, "file_1"), interfaces.ErrNotFound)
}

func TestListFilesPaginatesNewestFirst(t *testing.T) {
	manager := newTestManager(t)
	files := manager.FileStorage()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		record := models.NewFileRecord(fmt.Sprintf("file_%d", i), 7, "https://host.example/f")
		record.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, files.CreateFileRecord(ctx, record))
	}
	// A different user's record must not appear
	other := models.NewFileRecord("file_other", 8, "https://host.example/o")
	require.NoError(t, files.CreateFileRecord(ctx, other))

	page0, err := files.ListFiles(ctx, 7, 0, 5)
	require.NoError(t, err)
	require.Len(t, page0, 5)
	assert.Equal(t, "file_6", page0[0].ID, "newest record comes first")

	page1, err := files.ListFiles(ctx, 7, 1, 5)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "file_0", page1[1].ID)

	page2, err := files.ListFiles(ctx, 7, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, page2)
}

func TestListFilesByStatus(t *testing.T) {
	manager := newTestManager(t)
	files := manager.FileStorage()
	ctx := context.Background()

	statuses := []models.FileStatus{
		models.FileStatusQueued,
		models.FileStatusFetching,
		models.FileStatusPersisted,
		models.FileStatusFailed,
	}
	for i, status := range statuses {
		record := models.NewFileRecord(fmt.Sprintf("file_s%d", i), 1, "https://host.example/f")
		require.NoError(t, files.CreateFileRecord(ctx, record))
		if status != models.FileStatusQueued {
			update := &interfaces.FileUpdate{}
			if status == models.FileStatusPersisted {
				p := "/data/f"
				update.StoragePath = &p
			}
			require.NoError(t, files.UpdateFileStatus(ctx, record.ID, status, update))
		}
	}

	open, err := files.ListFilesByStatus(ctx, []models.FileStatus{
		models.FileStatusQueued,
		models.FileStatusFetching,
	})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	none, err := files.ListFilesByStatus(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLogAppendAndList(t *testing.T) {
	manager := newTestManager(t)
	logs := manager.LogStorage()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := &models.LogEntry{
			UserID:    7,
			JobID:     fmt.Sprintf("file_%d", i),
			Event:     models.LogEventEnqueued,
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, logs.AppendLog(ctx, entry))
		assert.NotEmpty(t, entry.ID, "AppendLog assigns an ID")
	}

	entries, err := logs.ListLogs(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "file_4", entries[0].JobID, "newest entry comes first")
}
