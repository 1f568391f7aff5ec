package handlers

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/models"
)

// FileHandler serves persisted media and thumbnails to the public.
// Only records in the persisted state are ever served; everything else is
// indistinguishable from a missing file.
type FileHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

// NewFileHandler creates a new file handler
func NewFileHandler(storage interfaces.StorageManager, logger arbor.ILogger) *FileHandler {
	return &FileHandler{
		storage: storage,
		logger:  logger,
	}
}

// ServeFileHandler handles GET /files/{id}
func (h *FileHandler) ServeFileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	fileID := strings.TrimPrefix(r.URL.Path, "/files/")
	if fileID == "" || strings.Contains(fileID, "/") {
		http.NotFound(w, r)
		return
	}

	record, err := h.storage.FileStorage().GetFileRecord(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error().Err(err).Str("file_id", fileID).Msg("Failed to load file record")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if record.Status != models.FileStatusPersisted || record.StoragePath == "" {
		http.NotFound(w, r)
		return
	}

	if _, err := os.Stat(record.StoragePath); err != nil {
		h.logger.Error().Err(err).Str("file_id", fileID).Msg("File record points at missing artifact")
		http.NotFound(w, r)
		return
	}

	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	if record.OriginalName != "" {
		w.Header().Set("Content-Disposition", `inline; filename="`+record.OriginalName+`"`)
	}

	// ServeFile handles range requests, which media players rely on
	http.ServeFile(w, r, record.StoragePath)

	if r.Method == http.MethodGet {
		h.storage.LogStorage().AppendLog(r.Context(), &models.LogEntry{
			UserID: record.UserID,
			JobID:  record.ID,
			Event:  models.LogEventServed,
			Detail: r.RemoteAddr,
		})
	}
}

// ServeImageHandler handles GET /images/{id}
func (h *FileHandler) ServeImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	fileID := strings.TrimPrefix(r.URL.Path, "/images/")
	fileID = strings.TrimSuffix(fileID, ".jpg")
	if fileID == "" || strings.Contains(fileID, "/") {
		http.NotFound(w, r)
		return
	}

	record, err := h.storage.FileStorage().GetFileRecord(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error().Err(err).Str("file_id", fileID).Msg("Failed to load file record")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if record.Status != models.FileStatusPersisted || record.ThumbnailPath == "" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, record.ThumbnailPath)
}
