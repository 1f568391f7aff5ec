package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/interfaces"
)

// Service normalizes fetched media with ffmpeg and renders a thumbnail
// for video content. Non-media files pass through untouched.
type Service struct {
	config  *common.ProcessConfig
	logger  arbor.ILogger
	timeout time.Duration
}

// NewService creates a processor configured from ProcessConfig
func NewService(config *common.ProcessConfig, logger arbor.ILogger) interfaces.Processor {
	return &Service{
		config:  config,
		logger:  logger,
		timeout: common.Duration(config.Timeout, 5*time.Minute),
	}
}

// probeResult holds the subset of ffprobe JSON output we care about
type probeResult struct {
	Format struct {
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

func (p *probeResult) hasStream(codecType string) bool {
	for _, s := range p.Streams {
		if s.CodecType == codecType {
			return true
		}
	}
	return false
}

// Process probes srcPath and, for audio/video content, remuxes it into an
// MP4 container with the moov atom up front so HTTP range playback starts
// immediately. Video additionally gets a JPEG thumbnail under the images
// directory, named after the file ID.
func (s *Service) Process(ctx context.Context, srcPath, fileID string) (*interfaces.ProcessResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	probe, err := s.probe(runCtx, srcPath)
	if err != nil || (!probe.hasStream("video") && !probe.hasStream("audio")) {
		// Not media; serve the original bytes as-is
		return &interfaces.ProcessResult{
			NormalizedPath: srcPath,
			ContentType:    contentTypeFromName(srcPath),
		}, nil
	}

	normalized, err := s.remux(runCtx, srcPath)
	if err != nil {
		return nil, err
	}

	result := &interfaces.ProcessResult{
		NormalizedPath: normalized,
		ContentType:    "video/mp4",
	}
	if !probe.hasStream("video") {
		result.ContentType = "audio/mp4"
	}

	if probe.hasStream("video") {
		thumbPath, err := s.thumbnail(runCtx, normalized, fileID)
		if err != nil {
			// A missing thumbnail should not fail the whole job
			s.logger.Warn().Err(err).Str("file_id", fileID).Msg("Thumbnail generation failed")
		} else {
			result.ThumbnailPath = thumbPath
		}
	}

	return result, nil
}

func (s *Service) probe(ctx context.Context, srcPath string) (*probeResult, error) {
	cmd := exec.CommandContext(ctx, s.config.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		srcPath,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %v: %s", err, firstLine(stderr.String()))
	}

	var result probeResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &result, nil
}

// remux rewrites the container without re-encoding. The output replaces
// srcPath's extension with .mp4; when that collides with the source, a
// suffix keeps the remux from reading and writing the same file.
func (s *Service) remux(ctx context.Context, srcPath string) (string, error) {
	outPath := strings.TrimSuffix(srcPath, filepath.Ext(srcPath)) + ".mp4"
	if outPath == srcPath {
		outPath = strings.TrimSuffix(srcPath, ".mp4") + ".remux.mp4"
	}

	cmd := exec.CommandContext(ctx, s.config.FFmpegPath,
		"-y",
		"-i", srcPath,
		"-c", "copy",
		"-movflags", "+faststart",
		outPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("ffmpeg timed out after %s", s.timeout)
		}
		return "", fmt.Errorf("ffmpeg remux failed: %v: %s", err, firstLine(stderr.String()))
	}

	// Drop the original once the normalized copy exists
	if outPath != srcPath {
		os.Remove(srcPath)
	}

	return outPath, nil
}

func (s *Service) thumbnail(ctx context.Context, srcPath, fileID string) (string, error) {
	if err := os.MkdirAll(s.config.ImagesDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create images directory: %w", err)
	}

	width := s.config.ThumbnailWidth
	if width <= 0 {
		width = 640
	}

	thumbPath := filepath.Join(s.config.ImagesDir, fileID+".jpg")
	cmd := exec.CommandContext(ctx, s.config.FFmpegPath,
		"-y",
		"-i", srcPath,
		"-vf", fmt.Sprintf("thumbnail,scale=%d:-2", width),
		"-frames:v", "1",
		thumbPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(thumbPath)
		return "", fmt.Errorf("ffmpeg thumbnail failed: %v: %s", err, firstLine(stderr.String()))
	}

	return thumbPath, nil
}

func contentTypeFromName(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
