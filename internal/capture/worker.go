package capture

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/llm"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// maxTranscriptChars bounds the text handed to the summarizer.
const maxTranscriptChars = 100000

// fetchWait is how long one queue poll blocks before the worker
// rechecks shutdown.
const fetchWait = 2 * time.Second

// Memory is the slice of the memory service the worker writes through.
type Memory interface {
	ConcludeSession(ctx context.Context, in memory.SessionInput) (*memory.SessionReceipt, error)
	SessionCaptured(ctx context.Context, sessionID string) (bool, error)
}

// Result reports one processed job. Success with a non-empty Error
// marks a job that was deliberately skipped (already captured, empty
// transcript) rather than one that produced a summary.
type Result struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Summary   string `json:"summary,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Worker drains the capture queue one job at a time. Jobs that fail are
// logged and terminated without retry; a summary either gets written
// from a live LLM call or not at all.
type Worker struct {
	queue    *Queue
	mem      Memory
	provider llm.Provider
	logger   *logging.Logger

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWorker wires a worker over the queue. Call Start to begin
// draining.
func NewWorker(queue *Queue, mem Memory, provider llm.Provider, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		queue:    queue,
		mem:      mem,
		provider: provider,
		logger:   logger.Named("capture.worker"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the drain loop. Call it at most once.
func (w *Worker) Start(ctx context.Context) {
	if w.started {
		return
	}
	w.started = true
	go w.loop(ctx)
}

// Stop halts the loop and waits for the in-flight job to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started {
		<-w.done
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := w.queue.Fetch(fetchWait)
		if err != nil {
			w.logger.Warn(ctx, "capture fetch failed", zap.Error(err))
			select {
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(fetchWait):
			}
			continue
		}
		if delivery == nil {
			continue
		}

		res := w.Process(ctx, delivery.Job)
		if res.Success {
			if err := delivery.Ack(); err != nil {
				w.logger.Warn(ctx, "capture ack failed", zap.Error(err))
			}
		} else {
			// No retry: memory documents require real summaries, so a
			// failed job is dropped rather than replayed.
			w.logger.Error(ctx, "capture job failed",
				zap.String("session_id", res.SessionID),
				zap.String("error", res.Error))
			if err := delivery.Term(); err != nil {
				w.logger.Warn(ctx, "capture term failed", zap.Error(err))
			}
		}
	}
}

// Process runs one job to completion: dedup lookup, parse, truncate,
// summarize, persist. Sync captures call it inline with a deadline.
func (w *Worker) Process(ctx context.Context, job Job) Result {
	res := Result{SessionID: job.SessionID}

	captured, err := w.mem.SessionCaptured(ctx, job.SessionID)
	if err != nil {
		res.Error = "dedup lookup failed: " + err.Error()
		return res
	}
	if captured {
		res.Success = true
		res.Error = "already_captured"
		return res
	}

	transcript, err := ParseFile(job.TranscriptPath)
	if err != nil {
		res.Error = "parsing transcript: " + err.Error()
		return res
	}

	text := transcript.Text(maxTranscriptChars)
	if strings.TrimSpace(text) == "" {
		// Nothing to summarize. Succeed without a write so the job is
		// consumed instead of retried.
		res.Success = true
		res.Error = "empty_transcript"
		return res
	}

	summary, err := llm.SummarizeSession(ctx, w.provider, text)
	if err != nil {
		res.Error = "summarization failed: " + err.Error()
		return res
	}

	receipt, err := w.mem.ConcludeSession(ctx, memory.SessionInput{
		Summary:      summary,
		ChangedFiles: transcript.ChangedFiles(),
		Repository:   job.Repository,
		SessionID:    job.SessionID,
	})
	if err != nil {
		res.Error = "saving summary: " + err.Error()
		return res
	}

	w.logger.Info(ctx, "session captured",
		zap.String("session_id", job.SessionID),
		zap.String("document_id", receipt.SessionID),
		zap.String("repository", job.Repository),
		zap.Int("changed_files", receipt.FilesRecorded))

	res.Success = true
	res.Summary = summary
	return res
}
