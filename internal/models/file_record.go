package models

import (
	"fmt"
	"time"
)

// FileStatus represents the lifecycle state of a FileRecord
type FileStatus string

const (
	FileStatusQueued     FileStatus = "queued"
	FileStatusFetching   FileStatus = "fetching"
	FileStatusFetched    FileStatus = "fetched"
	FileStatusProcessing FileStatus = "processing"
	FileStatusProcessed  FileStatus = "processed"
	FileStatusPersisted  FileStatus = "persisted" // terminal success
	FileStatusFailed     FileStatus = "failed"    // terminal failure
)

// IsTerminal returns true if the status is a terminal state
func (s FileStatus) IsTerminal() bool {
	return s == FileStatusPersisted || s == FileStatusFailed
}

// FailureKind classifies terminal failures for logs and user notifications
type FailureKind string

const (
	FailureFetchPermanent   FailureKind = "fetch_permanent" // unfetchable link or exhausted retries
	FailureProcessing       FailureKind = "processing_failed"
	FailureStoreUnavailable FailureKind = "store_unavailable"
	FailureCancelled        FailureKind = "cancelled"
	FailureInterrupted      FailureKind = "interrupted" // process restart, resume disabled
)

// FileRecord is the durable metadata describing one media artifact and its
// processing outcome. Exactly one Job ever owns a record id; transitions are
// strictly sequential per id.
//
// Invariants: StoragePath is non-empty only once the artifact is on disk
// under its final name (processed/persisted); ThumbnailPath is set only
// after successful processing.
type FileRecord struct {
	ID            string      `json:"id" bson:"_id" badgerhold:"key"`
	UserID        int64       `json:"user_id" bson:"user_id" badgerhold:"index"`
	SourceRef     string      `json:"source_ref" bson:"source_ref"`
	OriginalName  string      `json:"original_name,omitempty" bson:"original_name,omitempty"`
	StoragePath   string      `json:"storage_path,omitempty" bson:"storage_path,omitempty"`
	ThumbnailPath string      `json:"thumbnail_path,omitempty" bson:"thumbnail_path,omitempty"`
	Size          int64       `json:"size" bson:"size"`
	ContentType   string      `json:"content_type,omitempty" bson:"content_type,omitempty"`
	Status        FileStatus  `json:"status" bson:"status"`
	FailureKind   FailureKind `json:"failure_kind,omitempty" bson:"failure_kind,omitempty"`
	RetryCount    int         `json:"retry_count" bson:"retry_count"`
	CreatedAt     time.Time   `json:"created_at" bson:"created_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// NewFileRecord creates a queued FileRecord for a download request
func NewFileRecord(id string, userID int64, sourceRef string) *FileRecord {
	return &FileRecord{
		ID:        id,
		UserID:    userID,
		SourceRef: sourceRef,
		Status:    FileStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate validates the file record
func (f *FileRecord) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("file record ID is required")
	}
	if f.UserID == 0 {
		return fmt.Errorf("file record user ID is required")
	}
	if f.SourceRef == "" {
		return fmt.Errorf("file record source ref is required")
	}
	switch f.Status {
	case FileStatusProcessed, FileStatusPersisted:
		if f.StoragePath == "" {
			return fmt.Errorf("file record %s has status %s but no storage path", f.ID, f.Status)
		}
	}
	return nil
}
