package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/events"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/models"
)

// ErrQueueFull is returned by Enqueue when the intake queue is at capacity
var ErrQueueFull = errors.New("ingestion queue is full")

// ErrStopped is returned by Enqueue after the pipeline has been stopped
var ErrStopped = errors.New("pipeline is not running")

// dedupEntry remembers a recently enqueued source per user so duplicate
// requests inside the window collapse onto the original job
type dedupEntry struct {
	fileID  string
	expires time.Time
}

// Service drives download requests through fetch, process and persist
// stages with bounded worker pools per stage. Each FileRecord id is owned
// by exactly one Job from enqueue to terminal state.
type Service struct {
	config    *common.Config
	storage   interfaces.StorageManager
	fetcher   interfaces.Fetcher
	processor interfaces.Processor
	hub       *events.Hub
	logger    arbor.ILogger

	notifier interfaces.Notifier

	fetchQueue   chan *models.Job
	processQueue chan *models.Job

	mu        sync.Mutex
	jobs      map[string]*models.Job // registry, keyed by FileID
	recent    map[string]dedupEntry  // userID|sourceRef -> recent job
	byRequest map[string]string      // RequestID -> FileID
	stopped   bool

	dedupWindow time.Duration
	backoffBase time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the ingestion pipeline. Start must be called before
// requests are accepted.
func NewService(config *common.Config, storage interfaces.StorageManager, fetcher interfaces.Fetcher, processor interfaces.Processor, hub *events.Hub, logger arbor.ILogger) *Service {
	capacity := config.Pipeline.QueueCapacity
	if capacity <= 0 {
		capacity = 256
	}

	return &Service{
		config:       config,
		storage:      storage,
		fetcher:      fetcher,
		processor:    processor,
		hub:          hub,
		logger:       logger,
		fetchQueue:   make(chan *models.Job, capacity),
		processQueue: make(chan *models.Job, capacity),
		jobs:         make(map[string]*models.Job),
		recent:       make(map[string]dedupEntry),
		byRequest:    make(map[string]string),
		dedupWindow:  common.Duration(config.Pipeline.DedupWindow, 5*time.Minute),
		backoffBase:  time.Second,
	}
}

// SetNotifier wires the outcome notifier. The bot transport is constructed
// after the pipeline (it needs the Enqueuer), so this cannot be a
// constructor argument.
func (s *Service) SetNotifier(n interfaces.Notifier) {
	s.notifier = n
}

// Start launches the stage worker pools and, when configured, re-enqueues
// work interrupted by a previous process.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.recoverInterrupted(s.ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to recover interrupted jobs")
	}

	fetchWorkers := s.config.Fetch.Concurrency
	if fetchWorkers <= 0 {
		fetchWorkers = 4
	}
	processWorkers := s.config.Process.Concurrency
	if processWorkers <= 0 {
		processWorkers = 2
	}

	for i := 0; i < fetchWorkers; i++ {
		s.wg.Add(1)
		go s.fetchWorker(i)
	}
	for i := 0; i < processWorkers; i++ {
		s.wg.Add(1)
		go s.processWorker(i)
	}

	s.logger.Info().
		Int("fetch_workers", fetchWorkers).
		Int("process_workers", processWorkers).
		Int("queue_capacity", cap(s.fetchQueue)).
		Msg("Pipeline started")

	return nil
}

// Stop rejects new requests, cancels in-flight work and waits for the
// workers to drain
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.logger.Info().Msg("Pipeline stopped")
}

// Enqueue accepts a download request, creates its FileRecord and queues the
// job. Requests are idempotent per RequestID, and repeat requests for the
// same source inside the dedup window return the original job's file id.
func (s *Service) Enqueue(req models.DownloadRequest) (string, error) {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()
		return "", ErrStopped
	}

	if req.RequestID != "" {
		if fileID, ok := s.byRequest[req.RequestID]; ok {
			s.mu.Unlock()
			return fileID, nil
		}
	}

	dedupKey := fmt.Sprintf("%d|%s", req.UserID, req.SourceRef)
	if entry, ok := s.recent[dedupKey]; ok {
		if time.Now().Before(entry.expires) {
			s.mu.Unlock()
			return entry.fileID, nil
		}
		delete(s.recent, dedupKey)
	}

	// Only Enqueue sends on fetchQueue, and it does so under the mutex,
	// so the capacity check cannot race with another sender.
	if len(s.fetchQueue) >= cap(s.fetchQueue) {
		s.mu.Unlock()
		return "", ErrQueueFull
	}

	fileID := common.NewFileID()
	job := models.NewJob(fileID, req)

	s.jobs[fileID] = job
	s.recent[dedupKey] = dedupEntry{fileID: fileID, expires: time.Now().Add(s.dedupWindow)}
	if req.RequestID != "" {
		s.byRequest[req.RequestID] = fileID
	}
	s.mu.Unlock()

	record := models.NewFileRecord(fileID, req.UserID, req.SourceRef)
	if err := s.storage.FileStorage().CreateFileRecord(context.Background(), record); err != nil {
		s.rollback(job, req.RequestID, dedupKey)
		return "", fmt.Errorf("failed to create file record: %w", err)
	}

	s.appendLog(job, models.LogEventEnqueued, req.SourceRef)
	s.publishStatus(job, models.FileStatusQueued, "")

	// The capacity check above was released with the mutex, so the send
	// stays non-blocking; losing the race to another request surfaces as
	// queue-full here.
	s.mu.Lock()
	select {
	case s.fetchQueue <- job:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.rollback(job, req.RequestID, dedupKey)
		s.storage.FileStorage().DeleteFileRecord(context.Background(), fileID)
		return "", ErrQueueFull
	}

	s.logger.Info().
		Str("file_id", fileID).
		Int64("user_id", req.UserID).
		Msg("Download request enqueued")

	return fileID, nil
}

// Cancel marks a queued or in-flight job cancelled. Cancellation is
// cooperative: a running fetch or process step finishes its current stage
// before the job is torn down. Returns false when no active job owns the id.
func (s *Service) Cancel(fileID string) bool {
	s.mu.Lock()
	job, ok := s.jobs[fileID]
	s.mu.Unlock()

	if !ok {
		return false
	}
	job.Cancel()

	s.logger.Info().Str("file_id", fileID).Msg("Job cancellation requested")
	return true
}

// ActiveJobs returns the number of jobs between enqueue and terminal state
func (s *Service) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// PruneDedup drops expired dedup window entries. Called periodically by
// the maintenance scheduler.
func (s *Service) PruneDedup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	pruned := 0
	for key, entry := range s.recent {
		if now.After(entry.expires) {
			delete(s.recent, key)
			pruned++
		}
	}
	return pruned
}

// recoverInterrupted handles FileRecords left non-terminal by a previous
// process: re-enqueue them when resume_on_restart is set, otherwise mark
// them failed so users are not left waiting on work that will never finish.
func (s *Service) recoverInterrupted(ctx context.Context) error {
	statuses := []models.FileStatus{
		models.FileStatusQueued,
		models.FileStatusFetching,
		models.FileStatusFetched,
		models.FileStatusProcessing,
		models.FileStatusProcessed,
	}

	records, err := s.storage.FileStorage().ListFilesByStatus(ctx, statuses)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	for _, record := range records {
		if s.config.Pipeline.ResumeOnRestart {
			// Restart from scratch; intermediate artifacts from the dead
			// process are swept separately
			if err := s.storage.FileStorage().UpdateFileStatus(ctx, record.ID, models.FileStatusQueued, nil); err != nil {
				s.logger.Warn().Err(err).Str("file_id", record.ID).Msg("Failed to requeue interrupted job")
				continue
			}

			job := models.NewJob(record.ID, models.DownloadRequest{
				UserID:    record.UserID,
				SourceRef: record.SourceRef,
			})

			s.mu.Lock()
			select {
			case s.fetchQueue <- job:
				s.jobs[record.ID] = job
			default:
				s.logger.Warn().Str("file_id", record.ID).Msg("Queue full, interrupted job not resumed")
			}
			s.mu.Unlock()

			s.logger.Info().Str("file_id", record.ID).Msg("Re-enqueued interrupted job")
			continue
		}

		kind := models.FailureInterrupted
		update := &interfaces.FileUpdate{FailureKind: &kind, Completed: true}
		if err := s.storage.FileStorage().UpdateFileStatus(ctx, record.ID, models.FileStatusFailed, update); err != nil {
			s.logger.Warn().Err(err).Str("file_id", record.ID).Msg("Failed to mark interrupted job")
			continue
		}

		s.storage.LogStorage().AppendLog(ctx, &models.LogEntry{
			UserID: record.UserID,
			JobID:  record.ID,
			Event:  models.LogEventFailed,
			Detail: string(models.FailureInterrupted),
		})
	}

	s.logger.Info().
		Int("count", len(records)).
		Bool("resumed", s.config.Pipeline.ResumeOnRestart).
		Msg("Handled interrupted jobs from previous run")

	return nil
}

func (s *Service) unregister(job *models.Job, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, job.FileID)
	if requestID != "" {
		delete(s.byRequest, requestID)
	}
}

// rollback undoes a failed Enqueue registration. Unlike unregister it also
// drops the dedup entry: leaving it would collapse retries of the same
// request onto a file id that has no record and no job behind it.
func (s *Service) rollback(job *models.Job, requestID, dedupKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, job.FileID)
	if requestID != "" {
		delete(s.byRequest, requestID)
	}
	if entry, ok := s.recent[dedupKey]; ok && entry.fileID == job.FileID {
		delete(s.recent, dedupKey)
	}
}

func (s *Service) appendLog(job *models.Job, event models.LogEvent, detail string) {
	entry := &models.LogEntry{
		UserID: job.UserID,
		JobID:  job.FileID,
		Event:  event,
		Detail: detail,
	}
	if err := s.storage.LogStorage().AppendLog(context.Background(), entry); err != nil {
		s.logger.Warn().Err(err).Str("file_id", job.FileID).Msg("Failed to append log entry")
	}
}

func (s *Service) publishStatus(job *models.Job, status models.FileStatus, detail string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(events.Event{
		Type:   events.TypeStatus,
		FileID: job.FileID,
		UserID: job.UserID,
		Status: status,
		Detail: detail,
	})
}
