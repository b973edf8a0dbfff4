package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// fakeProvider records the prompt and returns a canned response.
type fakeProvider struct {
	prompt string
	out    string
	err    error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.out, f.err
}

func (f *fakeProvider) Available(context.Context) bool { return true }
func (f *fakeProvider) Close() error                   { return nil }

func TestNew(t *testing.T) {
	logger := logging.NewNop()

	tests := []struct {
		name     string
		cfg      config.LLMConfig
		wantName string
		wantErr  bool
	}{
		{
			name:     "none provider",
			cfg:      config.LLMConfig{Provider: "none"},
			wantName: "none",
		},
		{
			name:     "empty defaults to none",
			cfg:      config.LLMConfig{},
			wantName: "none",
		},
		{
			name:     "claude-cli needs no key",
			cfg:      config.LLMConfig{Provider: "claude-cli"},
			wantName: "claude-cli",
		},
		{
			name:     "anthropic with key",
			cfg:      config.LLMConfig{Provider: "anthropic", APIKey: "sk-test"},
			wantName: "anthropic",
		},
		{
			name:    "anthropic without key",
			cfg:     config.LLMConfig{Provider: "anthropic"},
			wantErr: true,
		},
		{
			name:     "ollama needs no key",
			cfg:      config.LLMConfig{Provider: "ollama"},
			wantName: "ollama",
		},
		{
			name:     "openrouter with key",
			cfg:      config.LLMConfig{Provider: "openrouter", APIKey: "or-test"},
			wantName: "openrouter",
		},
		{
			name:    "openrouter without key",
			cfg:     config.LLMConfig{Provider: "openrouter"},
			wantErr: true,
		},
		{
			name:    "unknown provider",
			cfg:     config.LLMConfig{Provider: "bard"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg, logger)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestNoneProvider(t *testing.T) {
	p, err := New(config.LLMConfig{Provider: "none"}, logging.NewNop())
	require.NoError(t, err)

	assert.False(t, p.Available(context.Background()))

	_, err = p.Generate(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoProvider))
	assert.Equal(t, errs.Unavailable, errs.KindOf(err))
}

func TestSummarizeSession(t *testing.T) {
	t.Run("wraps transcript in prompt", func(t *testing.T) {
		fake := &fakeProvider{out: "Did some work on the parser."}
		got, err := SummarizeSession(context.Background(), fake, "USER: fix the parser")
		require.NoError(t, err)
		assert.Equal(t, "Did some work on the parser.", got)
		assert.Contains(t, fake.prompt, "USER: fix the parser")
		assert.Contains(t, fake.prompt, "Summarize this coding session")
	})

	t.Run("empty transcript rejected before provider call", func(t *testing.T) {
		fake := &fakeProvider{out: "should not be called"}
		_, err := SummarizeSession(context.Background(), fake, "   \n  ")
		require.Error(t, err)
		assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
		assert.Empty(t, fake.prompt)
	})

	t.Run("empty result is an error", func(t *testing.T) {
		fake := &fakeProvider{out: "  \n "}
		_, err := SummarizeSession(context.Background(), fake, "transcript")
		require.Error(t, err)
	})

	t.Run("provider error propagates", func(t *testing.T) {
		fake := &fakeProvider{err: errs.New(errs.Unavailable, "down")}
		_, err := SummarizeSession(context.Background(), fake, "transcript")
		require.Error(t, err)
		assert.Equal(t, errs.Unavailable, errs.KindOf(err))
	})
}

func TestNarrateInitiative(t *testing.T) {
	t.Run("includes name, goal, and entries", func(t *testing.T) {
		fake := &fakeProvider{out: "The migration is halfway done."}
		got, err := NarrateInitiative(context.Background(), fake, "db-migration", "move to postgres",
			[]string{"switched the driver", "fixed the pool sizing"})
		require.NoError(t, err)
		assert.Equal(t, "The migration is halfway done.", got)
		assert.Contains(t, fake.prompt, `"db-migration"`)
		assert.Contains(t, fake.prompt, "move to postgres")
		assert.Contains(t, fake.prompt, "- switched the driver")
		assert.Contains(t, fake.prompt, "- fixed the pool sizing")
	})

	t.Run("no entries is a precondition failure", func(t *testing.T) {
		fake := &fakeProvider{out: "unused"}
		_, err := NarrateInitiative(context.Background(), fake, "x", "y", nil)
		require.Error(t, err)
		assert.Equal(t, errs.PreconditionFailed, errs.KindOf(err))
	})
}

func TestNewLimiter(t *testing.T) {
	t.Run("zero disables limiting", func(t *testing.T) {
		lim := newLimiter(0)
		for i := 0; i < 100; i++ {
			require.True(t, lim.Allow())
		}
	})

	t.Run("positive rate limits", func(t *testing.T) {
		lim := newLimiter(60) // 1/sec, burst 1
		assert.True(t, lim.Allow())
		assert.False(t, lim.Allow())
	})
}

func TestCLIProviderUnavailableWithoutBinary(t *testing.T) {
	p, err := newClaudeCLI(config.LLMConfig{Provider: "claude-cli"}, logging.NewNop())
	require.NoError(t, err)

	cli, ok := p.(*cliProvider)
	require.True(t, ok)
	cli.binary = "definitely-not-a-real-binary-name"

	assert.False(t, cli.Available(context.Background()))

	_, err = cli.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.Equal(t, errs.Unavailable, errs.KindOf(err))
	assert.True(t, strings.Contains(err.Error(), "not found"))
}
