package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ternarybob/ferry/internal/events"
	"github.com/ternarybob/ferry/internal/fetcher"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/models"
)

const maxBackoff = 30 * time.Second

// backoff returns the exponential delay before the given retry attempt
func (s *Service) backoff(attempt int) time.Duration {
	d := s.backoffBase << uint(attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (s *Service) fetchWorker(id int) {
	defer s.wg.Done()

	s.logger.Debug().Int("worker", id).Msg("Fetch worker started")

	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.fetchQueue:
			s.runFetch(job)
		}
	}
}

func (s *Service) processWorker(id int) {
	defer s.wg.Done()

	s.logger.Debug().Int("worker", id).Msg("Process worker started")

	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.processQueue:
			s.runProcess(job)
		}
	}
}

// runFetch executes the fetch stage with transient-error retries and hands
// the job to the process pool on success
func (s *Service) runFetch(job *models.Job) {
	if job.Cancelled() {
		s.finishFailure(job, models.FailureCancelled, "cancelled before fetch")
		return
	}

	job.Stage = models.StageFetching
	s.setStatus(job, models.FileStatusFetching, nil)
	s.appendLog(job, models.LogEventStarted, "")

	destPath := s.destPath(job)

	maxRetries := s.config.Fetch.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var result *interfaces.FetchResult
	var err error

	for attempt := 0; ; attempt++ {
		result, err = s.fetcher.Fetch(s.ctx, job.SourceRef, destPath, s.progressFunc(job))
		if err == nil {
			break
		}
		if errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
			s.finishFailure(job, models.FailureInterrupted, "shutdown during fetch")
			return
		}
		if job.Cancelled() {
			s.finishFailure(job, models.FailureCancelled, "cancelled during fetch")
			return
		}
		if !fetcher.IsTransient(err) {
			s.finishFailure(job, models.FailureFetchPermanent, err.Error())
			return
		}
		if attempt >= maxRetries {
			// Exhausting the retry budget is a permanent outcome
			s.finishFailure(job, models.FailureFetchPermanent, fmt.Sprintf("gave up after %d retries: %v", maxRetries, err))
			return
		}

		job.RetryCount = attempt + 1
		s.logger.Warn().
			Err(err).
			Str("file_id", job.FileID).
			Int("attempt", job.RetryCount).
			Msg("Transient fetch failure, retrying")

		select {
		case <-s.ctx.Done():
			s.finishFailure(job, models.FailureInterrupted, "shutdown during fetch backoff")
			return
		case <-time.After(s.backoff(attempt)):
		}
	}

	job.Stage = models.StageFetched
	job.FetchedPath = destPath
	job.Size = result.BytesWritten
	job.ContentType = result.ContentType
	job.OriginalName = result.FileName

	s.setStatus(job, models.FileStatusFetched, &interfaces.FileUpdate{
		Size:         &job.Size,
		ContentType:  &job.ContentType,
		OriginalName: &job.OriginalName,
		RetryCount:   &job.RetryCount,
	})
	s.appendLog(job, models.LogEventFetched, fmt.Sprintf("%d bytes", job.Size))

	if job.Cancelled() {
		s.removeArtifacts(job)
		s.finishFailure(job, models.FailureCancelled, "cancelled after fetch")
		return
	}

	select {
	case <-s.ctx.Done():
		s.finishFailure(job, models.FailureInterrupted, "shutdown before processing")
	case s.processQueue <- job:
	}
}

// runProcess executes the process stage and commits the terminal state
func (s *Service) runProcess(job *models.Job) {
	if job.Cancelled() {
		s.removeArtifacts(job)
		s.finishFailure(job, models.FailureCancelled, "cancelled before processing")
		return
	}

	job.Stage = models.StageProcessing
	s.setStatus(job, models.FileStatusProcessing, nil)

	result, err := s.processor.Process(s.ctx, job.FetchedPath, job.FileID)
	if err != nil {
		if s.ctx.Err() != nil {
			s.finishFailure(job, models.FailureInterrupted, "shutdown during processing")
			return
		}
		s.removeArtifacts(job)
		s.finishFailure(job, models.FailureProcessing, err.Error())
		return
	}

	job.Stage = models.StageProcessed
	job.StoragePath = result.NormalizedPath
	job.ThumbnailPath = result.ThumbnailPath
	if result.ContentType != "" {
		job.ContentType = result.ContentType
	}
	if size := fileSize(job.StoragePath); size > 0 {
		job.Size = size
	}

	s.setStatus(job, models.FileStatusProcessed, &interfaces.FileUpdate{
		StoragePath:   &job.StoragePath,
		ThumbnailPath: &job.ThumbnailPath,
		Size:          &job.Size,
		ContentType:   &job.ContentType,
	})
	s.appendLog(job, models.LogEventProcessed, job.ContentType)

	if job.Cancelled() {
		s.removeArtifacts(job)
		s.finishFailure(job, models.FailureCancelled, "cancelled after processing")
		return
	}

	s.persist(job)
}

// persist commits the terminal success state: persisted status, usage
// counters and the activity log entry. Store outages are retried; the file
// itself is already safe on disk, so only the metadata commit is at risk.
func (s *Service) persist(job *models.Job) {
	ctx := context.Background()

	maxRetries := s.config.Pipeline.PersistMaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	commit := func() error {
		update := &interfaces.FileUpdate{
			StoragePath:   &job.StoragePath,
			ThumbnailPath: &job.ThumbnailPath,
			Size:          &job.Size,
			ContentType:   &job.ContentType,
			OriginalName:  &job.OriginalName,
			RetryCount:    &job.RetryCount,
			Completed:     true,
		}
		if err := s.storage.FileStorage().UpdateFileStatus(ctx, job.FileID, models.FileStatusPersisted, update); err != nil {
			return err
		}
		// Idempotent per job id, so a retry after a partial commit cannot
		// double-count
		return s.storage.UserStorage().IncrementUsage(ctx, job.UserID, job.FileID, job.Size)
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = commit()
		if err == nil {
			break
		}
		if !errors.Is(err, interfaces.ErrStoreUnavailable) || attempt >= maxRetries {
			break
		}
		job.PersistRetries = attempt + 1
		s.logger.Warn().
			Err(err).
			Str("file_id", job.FileID).
			Int("attempt", job.PersistRetries).
			Msg("Store unavailable during commit, retrying")

		select {
		case <-s.ctx.Done():
		case <-time.After(s.backoff(attempt)):
		}
	}

	if err != nil {
		s.finishFailure(job, models.FailureStoreUnavailable, err.Error())
		return
	}

	job.Stage = models.StagePersisted
	s.appendLog(job, models.LogEventPersisted, "")
	s.publishStatus(job, models.FileStatusPersisted, "")

	record, recErr := s.storage.FileStorage().GetFileRecord(ctx, job.FileID)
	if recErr != nil {
		s.logger.Warn().Err(recErr).Str("file_id", job.FileID).Msg("Failed to reload record for notification")
	} else if s.notifier != nil {
		s.notifier.NotifySuccess(ctx, job.UserID, record, s.publicURL(job.FileID))
	}

	s.unregister(job, job.RequestID)

	s.logger.Info().
		Str("file_id", job.FileID).
		Int64("user_id", job.UserID).
		Int64("size", job.Size).
		Msg("Job persisted")
}

// finishFailure commits the terminal failure state and tears the job down
func (s *Service) finishFailure(job *models.Job, kind models.FailureKind, detail string) {
	ctx := context.Background()

	if kind == models.FailureInterrupted && s.config.Pipeline.ResumeOnRestart {
		// Leave the record non-terminal so the next start re-enqueues it
		s.unregister(job, job.RequestID)
		return
	}

	job.Stage = models.StageFailed

	update := &interfaces.FileUpdate{
		FailureKind: &kind,
		RetryCount:  &job.RetryCount,
		Completed:   true,
	}
	if err := s.storage.FileStorage().UpdateFileStatus(ctx, job.FileID, models.FileStatusFailed, update); err != nil {
		s.logger.Error().Err(err).Str("file_id", job.FileID).Msg("Failed to persist failure state")
	}

	s.appendLog(job, models.LogEventFailed, fmt.Sprintf("%s: %s", kind, detail))
	s.publishStatus(job, models.FileStatusFailed, string(kind))

	if s.notifier != nil && kind != models.FailureInterrupted {
		record := &models.FileRecord{
			ID:          job.FileID,
			UserID:      job.UserID,
			SourceRef:   job.SourceRef,
			Status:      models.FileStatusFailed,
			FailureKind: kind,
		}
		s.notifier.NotifyFailure(ctx, job.UserID, record, kind)
	}

	s.unregister(job, job.RequestID)

	s.logger.Info().
		Str("file_id", job.FileID).
		Str("kind", string(kind)).
		Str("detail", detail).
		Msg("Job failed")
}

// setStatus applies a non-terminal status update. A store hiccup here is
// logged but does not fail the job; the terminal commit is what matters.
func (s *Service) setStatus(job *models.Job, status models.FileStatus, update *interfaces.FileUpdate) {
	if err := s.storage.FileStorage().UpdateFileStatus(context.Background(), job.FileID, status, update); err != nil {
		s.logger.Warn().Err(err).Str("file_id", job.FileID).Str("status", string(status)).Msg("Failed to update file status")
	}
	s.publishStatus(job, status, "")
}

// progressFunc publishes download progress events, emitting only when the
// integer percentage changes to keep the hub quiet
func (s *Service) progressFunc(job *models.Job) interfaces.ProgressFunc {
	lastPercent := -1
	return func(written, total int64) {
		if s.hub == nil || total <= 0 {
			return
		}
		percent := int(written * 100 / total)
		if percent == lastPercent {
			return
		}
		lastPercent = percent
		s.hub.Publish(events.Event{
			Type:     events.TypeProgress,
			FileID:   job.FileID,
			UserID:   job.UserID,
			Progress: percent,
		})
	}
}

// destPath builds the per-user download target for a job. The file id
// prefixes the name so concurrent downloads of identically named sources
// cannot collide.
func (s *Service) destPath(job *models.Job) string {
	name := job.FileID
	if u, err := url.Parse(job.SourceRef); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			name = job.FileID + "_" + base
		}
	}
	return filepath.Join(s.config.Fetch.DownloadDir, strconv.FormatInt(job.UserID, 10), name)
}

func (s *Service) publicURL(fileID string) string {
	return s.config.Server.PublicBaseURL + "/files/" + fileID
}

// removeArtifacts deletes on-disk intermediates for a job that will not
// reach the persisted state
func (s *Service) removeArtifacts(job *models.Job) {
	for _, p := range []string{job.FetchedPath, job.StoragePath, job.ThumbnailPath} {
		if p != "" {
			os.Remove(p)
		}
	}
}

func fileSize(p string) int64 {
	info, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return info.Size()
}
