package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/logging"
)

const (
	defaultAnthropicModel  = "claude-3-5-haiku-20241022"
	defaultOllamaModel     = "llama3.1"
	defaultOllamaURL       = "http://localhost:11434"
	defaultOpenRouterModel = "anthropic/claude-3.5-haiku"
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1"

	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 1024
	// Low temperature keeps summaries factual and repeatable.
	generationTemperature = 0.3
)

// langchainProvider adapts a langchaingo model to Provider. One struct
// serves anthropic, ollama, and openrouter; only construction differs.
type langchainProvider struct {
	name    string
	model   llms.Model
	timeout time.Duration
	limiter *rate.Limiter
	logger  *logging.Logger
}

func newAnthropic(cfg config.LLMConfig, logger *logging.Logger) (Provider, error) {
	if !cfg.APIKey.IsSet() {
		return nil, errs.New(errs.InvalidArgument, "anthropic provider requires llm.api_key")
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	opts := []anthropic.Option{
		anthropic.WithToken(cfg.APIKey.Value()),
		anthropic.WithModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	m, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating anthropic client: %w", err)
	}
	return wrap("anthropic", m, cfg, logger), nil
}

func newOllama(cfg config.LLMConfig, logger *logging.Logger) (Provider, error) {
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	m, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return wrap("ollama", m, cfg, logger), nil
}

// newOpenRouter speaks the OpenAI-compatible chat API that OpenRouter
// exposes, so the openai client serves it unchanged.
func newOpenRouter(cfg config.LLMConfig, logger *logging.Logger) (Provider, error) {
	if !cfg.APIKey.IsSet() {
		return nil, errs.New(errs.InvalidArgument, "openrouter provider requires llm.api_key")
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenRouterModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	m, err := openai.New(
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(model),
		openai.WithBaseURL(baseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openrouter client: %w", err)
	}
	return wrap("openrouter", m, cfg, logger), nil
}

func wrap(name string, m llms.Model, cfg config.LLMConfig, logger *logging.Logger) *langchainProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &langchainProvider{
		name:    name,
		model:   m,
		timeout: timeout,
		limiter: newLimiter(cfg.RequestsPerMinute),
		logger:  logger.Named(name),
	}
}

// newLimiter builds a per-minute limiter; 0 or negative disables it.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
}

func (p *langchainProvider) Name() string { return p.name }

func (p *langchainProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, p.model, prompt,
		llms.WithMaxTokens(defaultMaxTokens),
		llms.WithTemperature(generationTemperature),
	)
	if err != nil {
		p.logger.Warn(ctx, "generation failed",
			zap.String("provider", p.name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", errs.Wrap(errs.Unavailable, p.name+" generation failed", err)
	}

	p.logger.Debug(ctx, "generation complete",
		zap.String("provider", p.name),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("output_chars", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

// Available reports true: remote reachability is only knowable by
// calling, and a failed Generate already degrades gracefully.
func (p *langchainProvider) Available(context.Context) bool { return true }

func (p *langchainProvider) Close() error { return nil }

var _ Provider = (*langchainProvider)(nil)
