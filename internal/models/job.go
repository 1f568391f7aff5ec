package models

import (
	"sync/atomic"
	"time"
)

// JobStage is the pipeline stage a Job is currently in. Stages mirror the
// FileRecord status lifecycle but belong to the in-memory Job, which the
// pipeline owns exclusively for its lifetime.
type JobStage string

const (
	StageQueued     JobStage = "queued"
	StageFetching   JobStage = "fetching"
	StageFetched    JobStage = "fetched"
	StageProcessing JobStage = "processing"
	StageProcessed  JobStage = "processed"
	StagePersisted  JobStage = "persisted"
	StageFailed     JobStage = "failed"
)

// DownloadRequest is the inbound event delivered by the bot transport.
// Requests are idempotent per RequestID.
type DownloadRequest struct {
	UserID    int64  `json:"user_id"`
	SourceRef string `json:"source_ref"`
	RequestID string `json:"request_id"`
}

// Job is one in-flight unit of work carrying a single media item through
// the fetch, process and persist stages. Jobs live in the pipeline's
// registry keyed by FileID and are destroyed after the terminal
// FileRecord/LogEntry state is persisted.
type Job struct {
	FileID    string
	UserID    int64
	SourceRef string
	RequestID string

	Stage          JobStage
	RetryCount     int // transient fetch retries so far
	PersistRetries int // store-commit retries so far
	NextAttempt    time.Time

	// Intermediate artifacts carried between stages
	FetchedPath   string
	StoragePath   string
	ThumbnailPath string
	Size          int64
	ContentType   string
	OriginalName  string

	EnqueuedAt time.Time

	cancelled atomic.Bool
}

// NewJob creates a queued Job for a download request
func NewJob(fileID string, req DownloadRequest) *Job {
	return &Job{
		FileID:     fileID,
		UserID:     req.UserID,
		SourceRef:  req.SourceRef,
		RequestID:  req.RequestID,
		Stage:      StageQueued,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Cancel marks the job cancelled. Cancellation is cooperative: the pipeline
// checks the flag between stages, never mid-fetch or mid-process.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// Cancelled reports whether the job has been marked cancelled
func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}
