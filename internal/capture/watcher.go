package capture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// defaultSettle is how long a transcript must stay quiet before it
// counts as finished. Transcripts are appended for the whole session,
// so reacting to every write would enqueue half-written files.
const defaultSettle = 2 * time.Second

// Watcher watches a transcript directory and hands settled .jsonl
// files to a handler. The directory and its immediate subdirectories
// are watched; subdirectories created later are picked up too.
type Watcher struct {
	dir     string
	settle  time.Duration
	handle  func(ctx context.Context, path string)
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer

	stopOnce sync.Once
	stop     chan struct{}
}

// NewWatcher creates a watcher over dir. settle <= 0 uses the default
// quiet period.
func NewWatcher(dir string, settle time.Duration, handle func(ctx context.Context, path string), logger *logging.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, errs.New(errs.InvalidArgument, "transcript dir is required")
	}
	if handle == nil {
		return nil, errs.New(errs.InvalidArgument, "watch handler is required")
	}
	if settle <= 0 {
		settle = defaultSettle
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "creating transcript watcher", err)
	}

	return &Watcher{
		dir:     dir,
		settle:  settle,
		handle:  handle,
		watcher: fw,
		logger:  logger.Named("capture.watcher"),
		pending: map[string]*time.Timer{},
		stop:    make(chan struct{}),
	}, nil
}

// Start registers the watch paths and launches the event loop.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return errs.Wrap(errs.NotFound, "watching transcript dir", err)
	}

	// Transcripts commonly live one level down, in per-project dirs.
	entries, err := os.ReadDir(w.dir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = w.watcher.Add(filepath.Join(w.dir, entry.Name()))
			}
		}
	}

	go w.processEvents(ctx)
	return nil
}

// Stop halts the watcher and cancels pending settle timers.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()

		w.mu.Lock()
		defer w.mu.Unlock()
		for path, timer := range w.pending {
			timer.Stop()
			delete(w.pending, path)
		}
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "transcript watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.watcher.Add(event.Name)
			return
		}
	}

	if !strings.EqualFold(filepath.Ext(event.Name), ".jsonl") {
		return
	}
	w.touch(ctx, event.Name)
}

// touch (re)arms the settle timer for one transcript; the handler runs
// only after the file stops changing for the settle period.
func (w *Watcher) touch(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case <-w.stop:
			return
		default:
		}
		w.handle(ctx, path)
	})
}
