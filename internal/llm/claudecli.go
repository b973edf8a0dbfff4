package llm

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/logging"
)

const claudeBinary = "claude"

// cliProvider shells out to a locally installed claude binary in print
// mode. No API key needed; the binary carries its own auth. The prompt
// goes over stdin so it never appears in the process table.
type cliProvider struct {
	binary  string
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *logging.Logger
}

func newClaudeCLI(cfg config.LLMConfig, logger *logging.Logger) (Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &cliProvider{
		binary:  claudeBinary,
		model:   cfg.Model,
		timeout: timeout,
		limiter: newLimiter(cfg.RequestsPerMinute),
		logger:  logger.Named("claude-cli"),
	}, nil
}

func (p *cliProvider) Name() string { return "claude-cli" }

func (p *cliProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	path, err := exec.LookPath(p.binary)
	if err != nil {
		return "", errs.Wrap(errs.Unavailable, "claude binary not found in PATH", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{"-p", "--output-format", "text"}
	if p.model != "" {
		args = append(args, "--model", p.model)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", errs.Wrap(errs.Unavailable, "claude invocation timed out", ctx.Err())
		}
		p.logger.Warn(ctx, "claude invocation failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.String("stderr", truncateErr(stderr.String())),
			zap.Error(err))
		return "", errs.Wrap(errs.Unavailable, "claude invocation failed", err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", errs.New(errs.Internal, "claude returned empty output")
	}

	p.logger.Debug(ctx, "generation complete",
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("output_chars", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

// Available reports whether the binary is installed.
func (p *cliProvider) Available(context.Context) bool {
	_, err := exec.LookPath(p.binary)
	return err == nil
}

func (p *cliProvider) Close() error { return nil }

func truncateErr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 500 {
		return s[:500]
	}
	return s
}

var _ Provider = (*cliProvider)(nil)
