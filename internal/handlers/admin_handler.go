package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/models"
)

// defaultPageSize matches the bot's file listing page size
const defaultPageSize = 5

// AdminHandler exposes the authenticated management API: file listings,
// record deletion, activity logs and job cancellation.
type AdminHandler struct {
	storage  interfaces.StorageManager
	enqueuer interfaces.Enqueuer
	logger   arbor.ILogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(storage interfaces.StorageManager, enqueuer interfaces.Enqueuer, logger arbor.ILogger) *AdminHandler {
	return &AdminHandler{
		storage:  storage,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// ListFilesHandler handles GET /admin/files?user={id}&page={n}&page_size={n}
func (h *AdminHandler) ListFilesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// "user" is the canonical parameter; "user_id" is accepted as an alias
	userParam := r.URL.Query().Get("user")
	if userParam == "" {
		userParam = r.URL.Query().Get("user_id")
	}
	userID, err := strconv.ParseInt(userParam, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	page := 0
	if p := r.URL.Query().Get("page"); p != "" {
		if page, err = strconv.Atoi(p); err != nil || page < 0 {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
	}

	pageSize := defaultPageSize
	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if pageSize, err = strconv.Atoi(ps); err != nil || pageSize <= 0 || pageSize > 100 {
			writeError(w, http.StatusBadRequest, "invalid page_size")
			return
		}
	}

	records, err := h.storage.FileStorage().ListFiles(r.Context(), userID, page, pageSize)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to list files")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":   userID,
		"page":      page,
		"page_size": pageSize,
		"files":     records,
	})
}

// FileRoutesHandler handles GET/DELETE /admin/files/{id} and
// POST /admin/files/{id}/cancel
func (h *AdminHandler) FileRoutesHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/files/")

	if fileID, ok := strings.CutSuffix(rest, "/cancel"); ok {
		h.cancelJob(w, r, fileID)
		return
	}

	fileID := rest
	if fileID == "" || strings.Contains(fileID, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getFile(w, r, fileID)
	case http.MethodDelete:
		h.deleteFile(w, r, fileID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AdminHandler) getFile(w http.ResponseWriter, r *http.Request, fileID string) {
	record, err := h.storage.FileStorage().GetFileRecord(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// deleteFile removes the record, its artifacts on disk, and appends a
// deletion log entry
func (h *AdminHandler) deleteFile(w http.ResponseWriter, r *http.Request, fileID string) {
	record, err := h.storage.FileStorage().GetFileRecord(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	if err := h.storage.FileStorage().DeleteFileRecord(r.Context(), fileID); err != nil {
		h.logger.Error().Err(err).Str("file_id", fileID).Msg("Failed to delete file record")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	for _, p := range []string{record.StoragePath, record.ThumbnailPath} {
		if p != "" {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				h.logger.Warn().Err(err).Str("path", p).Msg("Failed to remove artifact")
			}
		}
	}

	h.storage.LogStorage().AppendLog(r.Context(), &models.LogEntry{
		UserID: record.UserID,
		JobID:  record.ID,
		Event:  models.LogEventDeleted,
	})

	h.logger.Info().Str("file_id", fileID).Msg("File deleted by admin")
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "file_id": fileID})
}

func (h *AdminHandler) cancelJob(w http.ResponseWriter, r *http.Request, fileID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if fileID == "" {
		writeError(w, http.StatusBadRequest, "file id is required")
		return
	}

	if !h.enqueuer.Cancel(fileID) {
		writeError(w, http.StatusNotFound, "no active job for file")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "file_id": fileID})
}

// ListLogsHandler handles GET /admin/logs?limit={n}
func (h *AdminHandler) ListLogsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		if limit, err = strconv.Atoi(l); err != nil || limit <= 0 || limit > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	entries, err := h.storage.LogStorage().ListLogs(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list logs")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(entries),
		"logs":  entries,
	})
}

// GetUserHandler handles GET /admin/users/{id}
func (h *AdminHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/admin/users/"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.storage.UserStorage().GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
