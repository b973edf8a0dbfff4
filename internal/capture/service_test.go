package capture

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

func captureConfig() config.AutocaptureConfig {
	return config.AutocaptureConfig{
		Enabled:      true,
		Async:        true,
		SyncTimeout:  60,
		MinTokens:    10,
		MinToolCalls: 1,
		MinFileEdits: 1,
	}
}

type serviceFixture struct {
	svc      *Service
	mem      *memory.Service
	store    vectorstore.Store
	runtime  *config.Runtime
	provider *fakeProvider
	dir      string
}

func newServiceFixture(t *testing.T, cfg config.AutocaptureConfig) *serviceFixture {
	t.Helper()

	mem, store := newMemoryService(t)
	provider := &fakeProvider{summary: "Tightened the retry backoff and added jitter."}
	runtime := config.NewRuntime(&config.Config{Autocapture: cfg})

	svc, err := NewService(mem, provider, runtime, cfg, t.TempDir(), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	return &serviceFixture{svc: svc, mem: mem, store: store, runtime: runtime, provider: provider, dir: t.TempDir()}
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(nil, nil, nil, config.AutocaptureConfig{}, "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestCaptureAsyncEnqueues(t *testing.T) {
	f := newServiceFixture(t, captureConfig())
	path := writeTranscript(t, f.dir, "sess-async")

	receipt, err := f.svc.Capture(context.Background(), CaptureInput{TranscriptPath: path})
	require.NoError(t, err)

	assert.Equal(t, StatusQueued, receipt.Status)
	assert.Equal(t, "sess-async", receipt.SessionID)
	assert.Equal(t, "billing", receipt.Repository, "repository falls back to the transcript cwd basename")
	assert.True(t, receipt.Significance.Significant)
	assert.Empty(t, receipt.Summary)

	requireDepth(t, f.svc.queue, 1)
	assert.Equal(t, int32(0), f.provider.calls.Load(), "async capture defers summarization to the worker")
}

func TestCaptureSkipsInsignificant(t *testing.T) {
	cfg := captureConfig()
	cfg.MinTokens = 100000
	f := newServiceFixture(t, cfg)
	path := writeTranscript(t, f.dir, "sess-small")

	receipt, err := f.svc.Capture(context.Background(), CaptureInput{TranscriptPath: path})
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, receipt.Status)
	assert.False(t, receipt.Significance.Significant)
	assert.Contains(t, receipt.Error, "tokens")
	requireDepth(t, f.svc.queue, 0)
}

func TestCaptureSyncProcessesInline(t *testing.T) {
	cfg := captureConfig()
	cfg.Async = false
	f := newServiceFixture(t, cfg)
	path := writeTranscript(t, f.dir, "sess-sync")
	ctx := context.Background()

	receipt, err := f.svc.Capture(ctx, CaptureInput{TranscriptPath: path, Repository: "payments"})
	require.NoError(t, err)

	assert.Equal(t, StatusProcessed, receipt.Status)
	assert.Equal(t, f.provider.summary, receipt.Summary)
	assert.Equal(t, "payments", receipt.Repository)

	captured, err := f.mem.SessionCaptured(ctx, "sess-sync")
	require.NoError(t, err)
	assert.True(t, captured)
	requireDepth(t, f.svc.queue, 0)
}

func TestCaptureSyncReportsFailure(t *testing.T) {
	cfg := captureConfig()
	cfg.Async = false
	f := newServiceFixture(t, cfg)
	f.provider.err = errors.New("model offline")
	path := writeTranscript(t, f.dir, "sess-syncfail")

	receipt, err := f.svc.Capture(context.Background(), CaptureInput{TranscriptPath: path})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, receipt.Status)
	assert.Contains(t, receipt.Error, "summarization failed")
}

func TestCaptureDisabled(t *testing.T) {
	cfg := captureConfig()
	cfg.Enabled = false
	f := newServiceFixture(t, cfg)

	_, err := f.svc.Capture(context.Background(), CaptureInput{TranscriptPath: "/tmp/x.jsonl"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.PreconditionFailed))
}

func TestCaptureValidation(t *testing.T) {
	f := newServiceFixture(t, captureConfig())
	ctx := context.Background()

	_, err := f.svc.Capture(ctx, CaptureInput{})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))

	_, err = f.svc.Capture(ctx, CaptureInput{TranscriptPath: filepath.Join(f.dir, "absent.jsonl")})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.NotFound))
}

func TestCaptureHonorsRuntimeChanges(t *testing.T) {
	f := newServiceFixture(t, captureConfig())
	path := writeTranscript(t, f.dir, "sess-toggle")
	ctx := context.Background()

	disabled := false
	_, err := f.runtime.Apply(config.Changes{CaptureEnabled: &disabled})
	require.NoError(t, err)

	_, err = f.svc.Capture(ctx, CaptureInput{TranscriptPath: path})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.PreconditionFailed))

	enabled := true
	_, err = f.runtime.Apply(config.Changes{CaptureEnabled: &enabled})
	require.NoError(t, err)

	receipt, err := f.svc.Capture(ctx, CaptureInput{TranscriptPath: path})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, receipt.Status)
}

func TestServiceStatus(t *testing.T) {
	f := newServiceFixture(t, captureConfig())

	status, err := f.svc.Status(context.Background())
	require.NoError(t, err)

	assert.True(t, status.Enabled)
	assert.True(t, status.Async)
	assert.Equal(t, 60, status.SyncTimeout)
	assert.Equal(t, 10, status.MinTokens)
	assert.Equal(t, 1, status.MinToolCalls)
	assert.Equal(t, 1, status.MinFileEdits)
	assert.Equal(t, 0, status.QueueDepth)
	assert.Equal(t, "fake", status.Provider)
	assert.True(t, status.ProviderAvailable)
	assert.False(t, status.Watching)
}

func TestServiceWatcherPipeline(t *testing.T) {
	cfg := captureConfig()
	watchDir := t.TempDir()
	cfg.WatchTranscripts = true
	cfg.TranscriptDir = watchDir
	f := newServiceFixture(t, cfg)
	ctx := context.Background()

	f.svc.Start(ctx)

	status, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Watching)

	writeTranscript(t, watchDir, "sess-watched")

	require.Eventually(t, func() bool {
		captured, err := f.mem.SessionCaptured(ctx, "sess-watched")
		return err == nil && captured
	}, 20*time.Second, 200*time.Millisecond, "watched transcript should flow through queue and worker")
}

func TestResolveRepository(t *testing.T) {
	tests := []struct {
		name        string
		explicit    string
		projectPath string
		want        string
	}{
		{"explicit wins", "payments", "/home/dev/projects/billing", "payments"},
		{"falls back to cwd basename", "", "/home/dev/projects/billing", "billing"},
		{"empty when nothing known", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveRepository(tt.explicit, tt.projectPath))
		})
	}
}
