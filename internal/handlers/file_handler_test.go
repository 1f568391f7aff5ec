package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/models"
	"github.com/ternarybob/ferry/internal/storage/storagetest"
)

func writeArtifact(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func persistedRecord(t *testing.T, id string, content string) *models.FileRecord {
	t.Helper()
	record := models.NewFileRecord(id, 42, "https://host.example/src")
	record.Status = models.FileStatusPersisted
	record.StoragePath = writeArtifact(t, id+".mp4", content)
	record.ContentType = "video/mp4"
	record.OriginalName = "episode.mp4"
	return record
}

func TestServeFileOnlyServesPersisted(t *testing.T) {
	store := storagetest.NewManager()
	handler := NewFileHandler(store, common.GetLogger())

	record := persistedRecord(t, "file_ok", "media-payload")
	store.SeedFile(record)

	fetching := models.NewFileRecord("file_wip", 42, "https://host.example/b")
	fetching.Status = models.FileStatusFetching
	store.SeedFile(fetching)

	rec := httptest.NewRecorder()
	handler.ServeFileHandler(rec, httptest.NewRequest(http.MethodGet, "/files/file_ok", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "media-payload", rec.Body.String())
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "episode.mp4")

	for _, id := range []string{"file_wip", "file_missing"} {
		rec = httptest.NewRecorder()
		handler.ServeFileHandler(rec, httptest.NewRequest(http.MethodGet, "/files/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s must look missing", id)
	}
}

func TestServeFileAppendsServedLogOnGetOnly(t *testing.T) {
	store := storagetest.NewManager()
	handler := NewFileHandler(store, common.GetLogger())
	store.SeedFile(persistedRecord(t, "file_log", "payload"))

	rec := httptest.NewRecorder()
	handler.ServeFileHandler(rec, httptest.NewRequest(http.MethodHead, "/files/file_log", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, store.Logs(), "HEAD must not log a serve")

	rec = httptest.NewRecorder()
	handler.ServeFileHandler(rec, httptest.NewRequest(http.MethodGet, "/files/file_log", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	logs := store.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogEventServed, logs[0].Event)
	assert.Equal(t, "file_log", logs[0].JobID)
}

func TestServeFileSupportsRangeRequests(t *testing.T) {
	store := storagetest.NewManager()
	handler := NewFileHandler(store, common.GetLogger())
	store.SeedFile(persistedRecord(t, "file_range", "0123456789"))

	req := httptest.NewRequest(http.MethodGet, "/files/file_range", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	handler.ServeFileHandler(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "2345", rec.Body.String())
}

func TestServeFileRejectsMissingArtifactAndBadPaths(t *testing.T) {
	store := storagetest.NewManager()
	handler := NewFileHandler(store, common.GetLogger())

	gone := models.NewFileRecord("file_gone", 42, "https://host.example/g")
	gone.Status = models.FileStatusPersisted
	gone.StoragePath = filepath.Join(t.TempDir(), "never-written.mp4")
	store.SeedFile(gone)

	rec := httptest.NewRecorder()
	handler.ServeFileHandler(rec, httptest.NewRequest(http.MethodGet, "/files/file_gone", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeFileHandler(rec, httptest.NewRequest(http.MethodGet, "/files/a/b", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeFileHandler(rec, httptest.NewRequest(http.MethodPost, "/files/file_gone", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeImage(t *testing.T) {
	store := storagetest.NewManager()
	handler := NewFileHandler(store, common.GetLogger())

	record := persistedRecord(t, "file_img", "media")
	record.ThumbnailPath = writeArtifact(t, "file_img.jpg", "jpeg-bytes")
	store.SeedFile(record)

	noThumb := persistedRecord(t, "file_plain", "media")
	store.SeedFile(noThumb)

	// The .jpg suffix is optional
	for _, path := range []string{"/images/file_img", "/images/file_img.jpg"} {
		rec := httptest.NewRecorder()
		handler.ServeImageHandler(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "jpeg-bytes", rec.Body.String())
		assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	}

	rec := httptest.NewRecorder()
	handler.ServeImageHandler(rec, httptest.NewRequest(http.MethodGet, "/images/file_plain", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "records without a thumbnail have no image")
}
