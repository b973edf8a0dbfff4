package capture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/llm"
	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// ErrNilDependency is returned by NewService for a missing dependency.
var ErrNilDependency = errors.New("nil dependency")

// Capture receipt statuses.
const (
	StatusQueued    = "queued"
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// CaptureInput is the capture_session surface. Repository is optional;
// when empty it falls back to the project path recorded in the
// transcript, and past that to the repository the daemon resolves at
// save time.
type CaptureInput struct {
	TranscriptPath string
	Repository     string
}

// Receipt is the capture_session response.
type Receipt struct {
	Status       string       `json:"status"`
	SessionID    string       `json:"session_id"`
	Repository   string       `json:"repository,omitempty"`
	Significance Significance `json:"significance"`
	Summary      string       `json:"summary,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// Status is the get_autocapture_status response.
type Status struct {
	Enabled           bool   `json:"enabled"`
	Async             bool   `json:"async"`
	SyncTimeout       int    `json:"sync_timeout"`
	MinTokens         int    `json:"min_tokens"`
	MinToolCalls      int    `json:"min_tool_calls"`
	MinFileEdits      int    `json:"min_file_edits"`
	QueueDepth        int    `json:"queue_depth"`
	Provider          string `json:"provider"`
	ProviderAvailable bool   `json:"provider_available"`
	Watching          bool   `json:"watching"`
}

// Service is the session-capture surface: it scores transcripts,
// enqueues or inline-processes the significant ones, and owns the
// queue, worker, and optional transcript watcher lifecycles.
type Service struct {
	queue    *Queue
	worker   *Worker
	watcher  *Watcher
	provider llm.Provider
	runtime  *config.Runtime
	logger   *logging.Logger
}

// NewService builds the capture pipeline. The embedded queue lives
// under dataDir; a transcript watcher is created when cfg asks for one.
func NewService(mem Memory, provider llm.Provider, runtime *config.Runtime, cfg config.AutocaptureConfig, dataDir string, logger *logging.Logger) (*Service, error) {
	if mem == nil {
		return nil, fmt.Errorf("%w: memory service is required", ErrNilDependency)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: llm provider is required", ErrNilDependency)
	}
	if runtime == nil {
		return nil, fmt.Errorf("%w: runtime config is required", ErrNilDependency)
	}
	if dataDir == "" {
		return nil, fmt.Errorf("%w: data dir is required", ErrNilDependency)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	queue, err := NewQueue(dataDir, logger)
	if err != nil {
		return nil, err
	}

	s := &Service{
		queue:    queue,
		worker:   NewWorker(queue, mem, provider, logger),
		provider: provider,
		runtime:  runtime,
		logger:   logger.Named("capture"),
	}

	if cfg.WatchTranscripts && cfg.TranscriptDir != "" {
		watcher, err := NewWatcher(cfg.TranscriptDir, 0, s.captureSettled, logger)
		if err != nil {
			_ = queue.Close()
			return nil, err
		}
		s.watcher = watcher
	}

	return s, nil
}

// Start launches the worker and, when configured, the transcript
// watcher. A watcher that cannot register its directory is dropped
// with a warning; explicit captures keep working without it.
func (s *Service) Start(ctx context.Context) {
	s.worker.Start(ctx)
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			s.logger.Warn(ctx, "transcript watcher disabled", zap.Error(err))
			s.watcher.Stop()
			s.watcher = nil
		}
	}
}

// Close stops the watcher, the worker, and the embedded queue, in that
// order.
func (s *Service) Close() error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.worker.Stop()
	return s.queue.Close()
}

// Capture scores a transcript and, when significant, enqueues it
// (async mode) or processes it inline under the sync timeout.
func (s *Service) Capture(ctx context.Context, in CaptureInput) (*Receipt, error) {
	return s.capture(ctx, in, false)
}

func (s *Service) capture(ctx context.Context, in CaptureInput, forceAsync bool) (*Receipt, error) {
	settings := s.runtime.Capture()
	if !settings.Enabled {
		return nil, errs.New(errs.PreconditionFailed, "autocapture is disabled")
	}
	if strings.TrimSpace(in.TranscriptPath) == "" {
		return nil, errs.New(errs.InvalidArgument, "transcript_path is required")
	}

	transcript, err := ParseFile(in.TranscriptPath)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		SessionID:    transcript.SessionID,
		Repository:   resolveRepository(in.Repository, transcript.ProjectPath),
		Significance: Score(transcript, settings),
	}
	if !receipt.Significance.Significant {
		receipt.Status = StatusSkipped
		receipt.Error = receipt.Significance.Reason
		return receipt, nil
	}

	job := Job{
		SessionID:      transcript.SessionID,
		TranscriptPath: in.TranscriptPath,
		Repository:     receipt.Repository,
		Fingerprint:    Fingerprint(transcript.SessionID),
	}

	if settings.Async || forceAsync {
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return nil, err
		}
		receipt.Status = StatusQueued
		return receipt, nil
	}

	syncCtx, cancel := context.WithTimeout(ctx, time.Duration(settings.SyncTimeout)*time.Second)
	defer cancel()

	res := s.worker.Process(syncCtx, job)
	receipt.Summary = res.Summary
	receipt.Error = res.Error
	if res.Success {
		receipt.Status = StatusProcessed
	} else {
		receipt.Status = StatusFailed
	}
	return receipt, nil
}

// captureSettled is the watcher callback. Watcher-initiated captures
// always enqueue; processing inline would stall the settle timers.
func (s *Service) captureSettled(ctx context.Context, path string) {
	receipt, err := s.capture(ctx, CaptureInput{TranscriptPath: path}, true)
	if err != nil {
		s.logger.Warn(ctx, "watched transcript not captured",
			zap.String("path", path), zap.Error(err))
		return
	}
	s.logger.Debug(ctx, "watched transcript scored",
		zap.String("path", path),
		zap.String("status", receipt.Status),
		zap.Bool("significant", receipt.Significance.Significant))
}

// Status reports the capture configuration, queue depth, and provider
// availability.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	settings := s.runtime.Capture()
	depth, err := s.queue.Depth()
	if err != nil {
		return nil, err
	}
	return &Status{
		Enabled:           settings.Enabled,
		Async:             settings.Async,
		SyncTimeout:       settings.SyncTimeout,
		MinTokens:         settings.MinTokens,
		MinToolCalls:      settings.MinToolCalls,
		MinFileEdits:      settings.MinFileEdits,
		QueueDepth:        depth,
		Provider:          s.provider.Name(),
		ProviderAvailable: s.provider.Available(ctx),
		Watching:          s.watcher != nil,
	}, nil
}

// resolveRepository prefers the explicit argument, then the project
// path recorded in the transcript. Empty means the save path resolves
// it (enclosing repo, focused initiative, or "global").
func resolveRepository(explicit, projectPath string) string {
	if explicit != "" {
		return explicit
	}
	if projectPath != "" {
		return filepath.Base(projectPath)
	}
	return ""
}
