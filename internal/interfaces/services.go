package interfaces

import (
	"context"

	"github.com/ternarybob/ferry/internal/models"
)

// FetchResult describes a completed fetch
type FetchResult struct {
	BytesWritten int64
	ContentType  string
	FileName     string
}

// ProgressFunc receives byte counts while a fetch is in flight. total is 0
// when the remote does not announce a content length.
type ProgressFunc func(written, total int64)

// Fetcher retrieves a remote resource into local storage, streaming to
// disk. A partially written file is never visible under destPath.
type Fetcher interface {
	Fetch(ctx context.Context, sourceRef, destPath string, progress ProgressFunc) (*FetchResult, error)
}

// ProcessResult describes the outputs of a processing run
type ProcessResult struct {
	NormalizedPath string
	ThumbnailPath  string
	ContentType    string
}

// Processor invokes the external transcoding/thumbnailing step on a
// fetched file
type Processor interface {
	Process(ctx context.Context, srcPath, fileID string) (*ProcessResult, error)
}

// Enqueuer accepts download requests into the ingestion pipeline
type Enqueuer interface {
	Enqueue(req models.DownloadRequest) (fileID string, err error)
	Cancel(fileID string) bool
}

// Notifier delivers terminal job outcomes to the requesting user. The
// pipeline core depends only on this interface, never on the transport.
type Notifier interface {
	NotifySuccess(ctx context.Context, userID int64, record *models.FileRecord, publicURL string)
	NotifyFailure(ctx context.Context, userID int64, record *models.FileRecord, kind models.FailureKind)
}
