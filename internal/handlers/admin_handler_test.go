package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/models"
	"github.com/ternarybob/ferry/internal/storage/storagetest"
)

type fakeEnqueuer struct {
	cancelled []string
	cancelOK  bool
}

func (f *fakeEnqueuer) Enqueue(req models.DownloadRequest) (string, error) {
	return "", fmt.Errorf("not used")
}

func (f *fakeEnqueuer) Cancel(fileID string) bool {
	f.cancelled = append(f.cancelled, fileID)
	return f.cancelOK
}

func TestListFilesPaginates(t *testing.T) {
	store := storagetest.NewManager()
	handler := NewAdminHandler(store, &fakeEnqueuer{}, common.GetLogger())

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		record := models.NewFileRecord(fmt.Sprintf("file_%d", i), 42, "https://host.example/f")
		record.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		store.SeedFile(record)
	}

	rec := httptest.NewRecorder()
	handler.ListFilesHandler(rec, httptest.NewRequest(http.MethodGet, "/admin/files?user=42&page=0&page_size=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Files []models.FileRecord `json:"files"`
		Page  int                 `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 5)
	assert.Equal(t, "file_6", resp.Files[0].ID)

	rec = httptest.NewRecorder()
	handler.ListFilesHandler(rec, httptest.NewRequest(http.MethodGet, "/admin/files?user=42&page=1&page_size=5", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Files, 2)

	// user_id is accepted as an alias for user
	rec = httptest.NewRecorder()
	handler.ListFilesHandler(rec, httptest.NewRequest(http.MethodGet, "/admin/files?user_id=42&page_size=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Files, 5)
}

func TestListFilesRejectsBadParams(t *testing.T) {
	handler := NewAdminHandler(storagetest.NewManager(), &fakeEnqueuer{}, common.GetLogger())

	for _, url := range []string{
		"/admin/files",
		"/admin/files?user=abc",
		"/admin/files?user=1&page=-1",
		"/admin/files?user=1&page_size=0",
		"/admin/files?user=1&page_size=500",
	} {
		rec := httptest.NewRecorder()
		handler.ListFilesHandler(rec, httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, url)
	}
}

func TestGetAndDeleteFile(t *testing.T) {
	store := storagetest.NewManager()
	handler := NewAdminHandler(store, &fakeEnqueuer{}, common.GetLogger())

	record := models.NewFileRecord("file_del", 42, "https://host.example/f")
	record.Status = models.FileStatusPersisted
	record.StoragePath = writeArtifact(t, "file_del.mp4", "media")
	record.ThumbnailPath = writeArtifact(t, "file_del.jpg", "thumb")
	store.SeedFile(record)

	rec := httptest.NewRecorder()
	handler.FileRoutesHandler(rec, httptest.NewRequest(http.MethodGet, "/admin/files/file_del", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.FileRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "file_del", got.ID)

	rec = httptest.NewRecorder()
	handler.FileRoutesHandler(rec, httptest.NewRequest(http.MethodDelete, "/admin/files/file_del", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	_, exists := store.Record("file_del")
	assert.False(t, exists)
	_, err := os.Stat(record.StoragePath)
	assert.True(t, os.IsNotExist(err), "artifact removed with the record")
	_, err = os.Stat(record.ThumbnailPath)
	assert.True(t, os.IsNotExist(err))

	logs := store.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogEventDeleted, logs[0].Event)

	rec = httptest.NewRecorder()
	handler.FileRoutesHandler(rec, httptest.NewRequest(http.MethodDelete, "/admin/files/file_del", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJobRoute(t *testing.T) {
	store := storagetest.NewManager()
	enqueuer := &fakeEnqueuer{cancelOK: true}
	handler := NewAdminHandler(store, enqueuer, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.FileRoutesHandler(rec, httptest.NewRequest(http.MethodPost, "/admin/files/file_x/cancel", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"file_x"}, enqueuer.cancelled)

	enqueuer.cancelOK = false
	rec = httptest.NewRecorder()
	handler.FileRoutesHandler(rec, httptest.NewRequest(http.MethodPost, "/admin/files/file_y/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.FileRoutesHandler(rec, httptest.NewRequest(http.MethodGet, "/admin/files/file_x/cancel", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListLogs(t *testing.T) {
	store := storagetest.NewManager()
	handler := NewAdminHandler(store, &fakeEnqueuer{}, common.GetLogger())

	for i := 0; i < 4; i++ {
		store.LogStorage().AppendLog(context.Background(), &models.LogEntry{
			UserID:    42,
			JobID:     fmt.Sprintf("file_%d", i),
			Event:     models.LogEventEnqueued,
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		})
	}

	rec := httptest.NewRecorder()
	handler.ListLogsHandler(rec, httptest.NewRequest(http.MethodGet, "/admin/logs?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int               `json:"count"`
		Logs  []models.LogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "file_3", resp.Logs[0].JobID, "newest first")

	rec = httptest.NewRecorder()
	handler.ListLogsHandler(rec, httptest.NewRequest(http.MethodGet, "/admin/logs?limit=5000", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUser(t *testing.T) {
	store := storagetest.NewManager()
	handler := NewAdminHandler(store, &fakeEnqueuer{}, common.GetLogger())
	store.SeedUser(&models.User{ID: 42, Username: "ada", Registered: true})

	rec := httptest.NewRecorder()
	handler.GetUserHandler(rec, httptest.NewRequest(http.MethodGet, "/admin/users/42", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var user models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "ada", user.Username)

	rec = httptest.NewRecorder()
	handler.GetUserHandler(rec, httptest.NewRequest(http.MethodGet, "/admin/users/99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetUserHandler(rec, httptest.NewRequest(http.MethodGet, "/admin/users/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
