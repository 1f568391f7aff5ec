package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/interfaces"
	"golang.org/x/time/rate"
)

const copyBufferSize = 64 * 1024

// Service downloads remote resources through the premium fetch API,
// streaming each response to disk so memory usage stays flat regardless
// of file size.
type Service struct {
	config *common.FetchConfig
	client *http.Client
	logger arbor.ILogger

	stallTimeout   time.Duration
	requestTimeout time.Duration
	rateInterval   time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService creates a fetcher configured from FetchConfig
func NewService(config *common.FetchConfig, logger arbor.ILogger) interfaces.Fetcher {
	return &Service{
		config:         config,
		client:         &http.Client{}, // per-attempt deadline comes from the request context
		logger:         logger,
		stallTimeout:   common.Duration(config.StallTimeout, 30*time.Second),
		requestTimeout: common.Duration(config.RequestTimeout, 15*time.Minute),
		rateInterval:   common.Duration(config.RateLimit, time.Second),
		limiters:       make(map[string]*rate.Limiter),
	}
}

// Fetch downloads sourceRef into destPath. The file is written to a
// sibling ".part" path and renamed into place only after the full body
// has been received, so destPath never holds a truncated file.
func (s *Service) Fetch(ctx context.Context, sourceRef, destPath string, progress interfaces.ProgressFunc) (*interfaces.FetchResult, error) {
	source, err := url.Parse(sourceRef)
	if err != nil || source.Host == "" {
		return nil, permanentErr("invalid source url %q", sourceRef)
	}

	if err := s.limiter(source.Host).Wait(ctx); err != nil {
		return nil, transientErr("rate limit wait cancelled: %v", err)
	}

	attemptCtx, cancelAttempt := context.WithTimeout(ctx, s.requestTimeout)
	defer cancelAttempt()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, s.requestURL(sourceRef), nil)
	if err != nil {
		return nil, permanentErr("failed to build fetch request: %v", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transientErr("fetch request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, transientErr("fetch returned status %d", resp.StatusCode)
		}
		return nil, permanentErr("fetch returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")

	// The fetch API signals errors with a 200 JSON body instead of the
	// file payload
	if s.usesAPI() && strings.HasPrefix(contentType, "application/json") {
		return nil, s.decodeAPIError(resp.Body)
	}

	result, err := s.streamToFile(ctx, attemptCtx, cancelAttempt, resp, destPath, progress)
	if err != nil {
		return nil, err
	}

	result.ContentType = contentType
	result.FileName = fileName(resp, source)

	s.logger.Info().
		Str("source", source.Host).
		Int64("bytes", result.BytesWritten).
		Msg("Fetch complete")

	return result, nil
}

// requestURL routes the download through the fetch API when credentials
// are configured, otherwise hits the source directly.
func (s *Service) requestURL(sourceRef string) string {
	if !s.usesAPI() {
		return sourceRef
	}

	params := url.Values{}
	params.Set("userid", s.config.APIUserID)
	params.Set("apikey", s.config.APIKey)
	params.Set("link", sourceRef)
	return s.config.APIURL + "?" + params.Encode()
}

func (s *Service) usesAPI() bool {
	return s.config.APIURL != "" && s.config.APIKey != ""
}

func (s *Service) decodeAPIError(body io.Reader) error {
	var apiResp struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(body).Decode(&apiResp); err != nil {
		return transientErr("fetch api returned undecodable response: %v", err)
	}
	return apiError(apiResp.Code, apiResp.Message)
}

func (s *Service) limiter(host string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.rateInterval), 1)
		s.limiters[host] = limiter
	}
	return limiter
}

// streamToFile copies the response body to destPath+".part" and renames
// on success. A watchdog cancels the request context when no bytes
// arrive for the configured stall timeout, which unblocks the body read.
func (s *Service) streamToFile(ctx, attemptCtx context.Context, cancelAttempt context.CancelFunc, resp *http.Response, destPath string, progress interfaces.ProgressFunc) (*interfaces.FetchResult, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return nil, transientErr("failed to create download directory: %v", err)
	}

	partPath := destPath + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return nil, transientErr("failed to create partial file: %v", err)
	}

	cleanup := func() {
		out.Close()
		os.Remove(partPath)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	if s.config.MaxFileSize > 0 && total > s.config.MaxFileSize {
		cleanup()
		return nil, permanentErr("file size %d exceeds limit %d", total, s.config.MaxFileSize)
	}

	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())
	var stalled atomic.Bool

	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		interval := s.stallTimeout / 4
		if interval <= 0 {
			interval = time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-attemptCtx.Done():
				return
			case <-ticker.C:
				idle := time.Since(time.Unix(0, lastActivity.Load()))
				if idle >= s.stallTimeout {
					stalled.Store(true)
					cancelAttempt()
					return
				}
			}
		}
	}()

	body := &watchedReader{
		reader: resp.Body,
		touch:  func() { lastActivity.Store(time.Now().UnixNano()) },
	}

	var written int64
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			written += int64(n)
			if s.config.MaxFileSize > 0 && written > s.config.MaxFileSize {
				cleanup()
				cancelAttempt()
				<-watchdogDone
				return nil, permanentErr("download exceeded size limit %d", s.config.MaxFileSize)
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				cleanup()
				cancelAttempt()
				<-watchdogDone
				return nil, transientErr("failed to write partial file: %v", werr)
			}
			if progress != nil {
				progress(written, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			cleanup()
			cancelAttempt()
			<-watchdogDone
			if stalled.Load() {
				return nil, transientErr("download stalled: no data for %s", s.stallTimeout)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, transientErr("download interrupted: %v", readErr)
		}
	}

	cancelAttempt()
	<-watchdogDone

	if err := out.Close(); err != nil {
		os.Remove(partPath)
		return nil, transientErr("failed to finalize partial file: %v", err)
	}

	if total > 0 && written != total {
		os.Remove(partPath)
		return nil, transientErr("incomplete download: got %d of %d bytes", written, total)
	}

	if err := os.Rename(partPath, destPath); err != nil {
		os.Remove(partPath)
		return nil, transientErr("failed to move file into place: %v", err)
	}

	return &interfaces.FetchResult{BytesWritten: written}, nil
}

// watchedReader records read activity for the stall watchdog
type watchedReader struct {
	reader io.Reader
	touch  func()
}

func (r *watchedReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.touch()
	}
	return n, err
}

// fileName derives the stored file name, preferring the server-provided
// Content-Disposition over the source URL path.
func fileName(resp *http.Response, source *url.URL) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return filepath.Base(name)
			}
		}
	}

	name := path.Base(source.Path)
	if name == "." || name == "/" || name == "" {
		return fmt.Sprintf("download-%d", time.Now().Unix())
	}
	return name
}
