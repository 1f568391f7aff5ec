package common

import (
	"github.com/google/uuid"
)

// NewFileID generates a unique file record ID with the "file_" prefix
// Format: file_<uuid>
func NewFileID() string {
	return "file_" + uuid.New().String()
}

// NewLogID generates a unique log entry ID
func NewLogID() string {
	return "log_" + uuid.New().String()
}
