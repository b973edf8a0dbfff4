// Package llm provides the text-generation provider behind session
// summarization and initiative narration.
//
// Providers are deliberately narrow: one Generate call, bounded by the
// configured timeout and rate limit. Prompt construction lives here as
// package functions so every provider produces the same summaries.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// Provider generates text from a prompt.
//
// Implementations:
//   - langchainProvider: anthropic, ollama, openrouter via langchaingo
//   - cliProvider: local claude binary in print mode
//   - noneProvider: always unavailable
type Provider interface {
	// Name returns the configured provider name.
	Name() string

	// Generate produces a completion for prompt. The call respects ctx
	// and the provider's configured timeout, whichever ends first.
	Generate(ctx context.Context, prompt string) (string, error)

	// Available reports whether the provider can serve requests right
	// now. Capture uses this to skip enqueueing work that would only
	// fail later.
	Available(ctx context.Context) bool

	// Close releases provider resources.
	Close() error
}

// ErrNoProvider is wrapped into every error returned by the none
// provider so callers can distinguish "not configured" from failures.
var ErrNoProvider = errs.New(errs.Unavailable, "no llm provider configured")

// New builds the provider named by cfg.Provider.
func New(cfg config.LLMConfig, logger *logging.Logger) (Provider, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("llm")

	switch cfg.Provider {
	case "anthropic":
		return newAnthropic(cfg, logger)
	case "ollama":
		return newOllama(cfg, logger)
	case "openrouter":
		return newOpenRouter(cfg, logger)
	case "claude-cli":
		return newClaudeCLI(cfg, logger)
	case "none", "":
		return noneProvider{}, nil
	default:
		return nil, errs.Newf(errs.InvalidArgument,
			"unknown llm provider %q (valid: anthropic, claude-cli, ollama, openrouter, none)", cfg.Provider)
	}
}

// noneProvider satisfies Provider when summarization is switched off.
type noneProvider struct{}

func (noneProvider) Name() string { return "none" }

func (noneProvider) Generate(context.Context, string) (string, error) {
	return "", ErrNoProvider
}

func (noneProvider) Available(context.Context) bool { return false }

func (noneProvider) Close() error { return nil }

var _ Provider = noneProvider{}

// sessionPrompt wraps a transcript for summarization. The summary is
// stored as a session_summary document and surfaced by recall, so it
// asks for the things a developer resuming work actually needs.
const sessionPrompt = `Summarize this coding session transcript for a developer who will resume the work later.

Cover, briefly:
- What was being worked on and why
- What was accomplished or decided
- Problems hit and how they were resolved (or left open)
- Concrete next steps, if any are apparent

Write 3-8 sentences of plain prose. No headers, no bullet lists, no preamble.

Transcript:
%s`

// SummarizeSession generates a session summary from transcript text.
// Empty input short-circuits without calling the provider.
func SummarizeSession(ctx context.Context, p Provider, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", errs.New(errs.InvalidArgument, "empty transcript")
	}
	out, err := p.Generate(ctx, fmt.Sprintf(sessionPrompt, transcript))
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errs.New(errs.Internal, "summarization returned empty result")
	}
	return out, nil
}

// initiativePrompt turns an initiative's tagged memory into a short
// narrative. Entries arrive newest-first, already truncated.
const initiativePrompt = `Write a short progress narrative for the initiative %q.

Goal: %s

The entries below are notes, insights, and session summaries tagged to this initiative, newest first. Synthesize them into 2-5 sentences: where the work stands, what has been learned, and what remains. Plain prose, no preamble.

Entries:
%s`

// NarrateInitiative generates a progress narrative over the memory
// documents tagged to an initiative.
func NarrateInitiative(ctx context.Context, p Provider, name, goal string, entries []string) (string, error) {
	if len(entries) == 0 {
		return "", errs.New(errs.PreconditionFailed, "no memory tagged to this initiative yet")
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(e))
		b.WriteString("\n")
	}
	out, err := p.Generate(ctx, fmt.Sprintf(initiativePrompt, name, goal, b.String()))
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errs.New(errs.Internal, "narration returned empty result")
	}
	return out, nil
}
