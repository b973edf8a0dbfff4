package ingest

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/recalld/internal/errs"
)

// TaskStatus is the lifecycle of a background ingestion.
type TaskStatus string

const (
	TaskIndexing TaskStatus = "indexing"
	TaskReady    TaskStatus = "ready"
	TaskError    TaskStatus = "error"
)

// Stage names the pipeline phase a task is in.
type Stage string

const (
	StageScanning  Stage = "scanning"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageIndexing  Stage = "indexing"
)

// Progress is a point-in-time snapshot of a task.
type Progress struct {
	TaskID         string     `json:"task_id"`
	Status         TaskStatus `json:"status"`
	Stage          Stage      `json:"stage"`
	FilesTotal     int        `json:"files_total"`
	FilesProcessed int        `json:"files_processed"`
	Percent        float64    `json:"percent"`
	Elapsed        string     `json:"elapsed"`
	Error          string     `json:"error,omitempty"`
	Stats          *Stats     `json:"stats,omitempty"`
}

func newTaskID() string {
	return "ingest:" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// task tracks one ingestion run. Methods are nil-safe so synchronous
// runs can pass a nil task and skip tracking entirely.
type task struct {
	mu        sync.Mutex
	id        string
	status    TaskStatus
	stage     Stage
	total     int
	processed int
	started   time.Time
	errMsg    string
	stats     *Stats
}

func (t *task) setStage(s Stage) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.stage = s
	t.mu.Unlock()
}

func (t *task) advance(n int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.processed += n
	t.mu.Unlock()
}

func (t *task) finish(stats *Stats) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.status = TaskReady
	t.stats = stats
	t.processed = t.total
	t.mu.Unlock()
}

func (t *task) fail(err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.status = TaskError
	t.errMsg = err.Error()
	t.mu.Unlock()
}

func (t *task) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	percent := 100.0
	if t.total > 0 {
		percent = 100 * float64(t.processed) / float64(t.total)
	} else if t.status == TaskIndexing {
		percent = 0
	}
	return Progress{
		TaskID:         t.id,
		Status:         t.status,
		Stage:          t.stage,
		FilesTotal:     t.total,
		FilesProcessed: t.processed,
		Percent:        percent,
		Elapsed:        time.Since(t.started).Round(time.Millisecond).String(),
		Error:          t.errMsg,
		Stats:          t.stats,
	}
}

// Tracker holds the progress of background ingestions for status
// polling. Completed tasks stay queryable for the daemon's lifetime.
type Tracker struct {
	mu    sync.RWMutex
	tasks map[string]*task
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{tasks: map[string]*task{}}
}

func (tr *Tracker) begin(id string, total int) *task {
	t := &task{
		id:      id,
		status:  TaskIndexing,
		stage:   StageScanning,
		total:   total,
		started: timeNow(),
	}
	tr.mu.Lock()
	tr.tasks[id] = t
	tr.mu.Unlock()
	return t
}

// Progress returns the snapshot for a task id.
func (tr *Tracker) Progress(id string) (Progress, error) {
	tr.mu.RLock()
	t, ok := tr.tasks[id]
	tr.mu.RUnlock()
	if !ok {
		return Progress{}, errs.Newf(errs.NotFound, "unknown ingest task: %s", id)
	}
	return t.snapshot(), nil
}
