package config

import (
	"sort"
	"strconv"
	"sync"

	"github.com/fyrsmithlabs/recalld/internal/errs"
)

// Runtime holds the configuration subset mutable through the configure
// tool. Reads take the read lock; Apply swaps fields atomically and
// clamps out-of-range values instead of rejecting them. Only an unknown
// llm_provider is an error.
type Runtime struct {
	mu sync.RWMutex

	enabled bool
	verbose bool

	minScore            float64
	topKRetrieve        int
	topKRerank          int
	recencyBoost        bool
	recencyHalfLifeDays float64
	llmProvider         string

	captureEnabled      bool
	captureAsync        bool
	captureSyncTimeout  int // seconds
	captureMinTokens    int
	captureMinToolCalls int
	captureMinFileEdits int
}

// CaptureSettings is a point-in-time snapshot of the capture knobs.
type CaptureSettings struct {
	Enabled      bool
	Async        bool
	SyncTimeout  int
	MinTokens    int
	MinToolCalls int
	MinFileEdits int
}

// NewRuntime seeds the runtime-mutable state from a loaded Config.
func NewRuntime(cfg *Config) *Runtime {
	return &Runtime{
		enabled:             cfg.Enabled,
		verbose:             cfg.Verbose,
		minScore:            cfg.Search.MinScore,
		topKRetrieve:        cfg.Search.TopKRetrieve,
		topKRerank:          cfg.Search.TopKRerank,
		recencyBoost:        cfg.Search.RecencyBoost,
		recencyHalfLifeDays: cfg.Search.RecencyHalfLifeDays,
		llmProvider:         cfg.LLM.Provider,
		captureEnabled:      cfg.Autocapture.Enabled,
		captureAsync:        cfg.Autocapture.Async,
		captureSyncTimeout:  cfg.Autocapture.SyncTimeout,
		captureMinTokens:    cfg.Autocapture.MinTokens,
		captureMinToolCalls: cfg.Autocapture.MinToolCalls,
		captureMinFileEdits: cfg.Autocapture.MinFileEdits,
	}
}

// Enabled reports whether the memory system accepts operations.
func (r *Runtime) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Verbose reports whether tools should include diagnostic detail.
func (r *Runtime) Verbose() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.verbose
}

// MinScore returns the score threshold applied after boosting.
func (r *Runtime) MinScore() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.minScore
}

// TopKRetrieve returns the candidate count fetched per retrieval leg.
func (r *Runtime) TopKRetrieve() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topKRetrieve
}

// TopKRerank returns how many fused candidates are reranked.
func (r *Runtime) TopKRerank() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topKRerank
}

// RecencyBoost reports whether note/session scores decay with age.
func (r *Runtime) RecencyBoost() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recencyBoost
}

// RecencyHalfLifeDays returns the decay half-life in days.
func (r *Runtime) RecencyHalfLifeDays() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recencyHalfLifeDays
}

// LLMProvider returns the active LLM provider name.
func (r *Runtime) LLMProvider() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llmProvider
}

// Capture returns a snapshot of the capture settings.
func (r *Runtime) Capture() CaptureSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return CaptureSettings{
		Enabled:      r.captureEnabled,
		Async:        r.captureAsync,
		SyncTimeout:  r.captureSyncTimeout,
		MinTokens:    r.captureMinTokens,
		MinToolCalls: r.captureMinToolCalls,
		MinFileEdits: r.captureMinFileEdits,
	}
}

// Changes is a partial update; nil fields are left untouched.
type Changes struct {
	Enabled             *bool
	Verbose             *bool
	MinScore            *float64
	TopKRetrieve        *int
	TopKRerank          *int
	RecencyBoost        *bool
	RecencyHalfLifeDays *float64
	LLMProvider         *string

	CaptureEnabled      *bool
	CaptureAsync        *bool
	CaptureSyncTimeout  *int
	CaptureMinTokens    *int
	CaptureMinToolCalls *int
	CaptureMinFileEdits *int
}

// Apply mutates the runtime state and returns the applied changes as
// "field=value" strings, sorted by field name. Out-of-range numbers are
// clamped; an unknown llm_provider fails the whole call without
// applying anything.
func (r *Runtime) Apply(c Changes) ([]string, error) {
	if c.LLMProvider != nil && !ValidLLMProviders[*c.LLMProvider] {
		return nil, errs.Newf(errs.InvalidArgument,
			"invalid llm_provider %q (valid: anthropic, claude-cli, ollama, openrouter, none)", *c.LLMProvider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var changed []string
	record := func(field, value string) {
		changed = append(changed, field+"="+value)
	}

	if c.Enabled != nil {
		r.enabled = *c.Enabled
		record("enabled", strconv.FormatBool(r.enabled))
	}
	if c.Verbose != nil {
		r.verbose = *c.Verbose
		record("verbose", strconv.FormatBool(r.verbose))
	}
	if c.MinScore != nil {
		r.minScore = clampFloat(*c.MinScore, 0, 1)
		record("min_score", formatFloat(r.minScore))
	}
	if c.TopKRetrieve != nil {
		r.topKRetrieve = clampInt(*c.TopKRetrieve, 10, 200)
		record("top_k_retrieve", strconv.Itoa(r.topKRetrieve))
	}
	if c.TopKRerank != nil {
		r.topKRerank = clampInt(*c.TopKRerank, 1, 50)
		record("top_k_rerank", strconv.Itoa(r.topKRerank))
	}
	if c.RecencyBoost != nil {
		r.recencyBoost = *c.RecencyBoost
		record("recency_boost", strconv.FormatBool(r.recencyBoost))
	}
	if c.RecencyHalfLifeDays != nil {
		r.recencyHalfLifeDays = clampFloat(*c.RecencyHalfLifeDays, 1, 365)
		record("recency_half_life_days", formatFloat(r.recencyHalfLifeDays))
	}
	if c.LLMProvider != nil {
		r.llmProvider = *c.LLMProvider
		record("llm_provider", r.llmProvider)
	}

	if c.CaptureEnabled != nil {
		r.captureEnabled = *c.CaptureEnabled
		record("autocapture.enabled", strconv.FormatBool(r.captureEnabled))
	}
	if c.CaptureAsync != nil {
		r.captureAsync = *c.CaptureAsync
		record("autocapture.async", strconv.FormatBool(r.captureAsync))
	}
	if c.CaptureSyncTimeout != nil {
		r.captureSyncTimeout = clampInt(*c.CaptureSyncTimeout, 10, 300)
		record("autocapture.sync_timeout", strconv.Itoa(r.captureSyncTimeout))
	}
	if c.CaptureMinTokens != nil {
		r.captureMinTokens = maxInt(0, *c.CaptureMinTokens)
		record("autocapture.min_tokens", strconv.Itoa(r.captureMinTokens))
	}
	if c.CaptureMinToolCalls != nil {
		r.captureMinToolCalls = maxInt(0, *c.CaptureMinToolCalls)
		record("autocapture.min_tool_calls", strconv.Itoa(r.captureMinToolCalls))
	}
	if c.CaptureMinFileEdits != nil {
		r.captureMinFileEdits = maxInt(0, *c.CaptureMinFileEdits)
		record("autocapture.min_file_edits", strconv.Itoa(r.captureMinFileEdits))
	}

	sort.Strings(changed)
	return changed, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Snapshot renders the current runtime state for status responses.
func (r *Runtime) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]any{
		"enabled":                r.enabled,
		"verbose":                r.verbose,
		"min_score":              r.minScore,
		"top_k_retrieve":         r.topKRetrieve,
		"top_k_rerank":           r.topKRerank,
		"recency_boost":          r.recencyBoost,
		"recency_half_life_days": r.recencyHalfLifeDays,
		"llm_provider":           r.llmProvider,
		"autocapture": map[string]any{
			"enabled":        r.captureEnabled,
			"async":          r.captureAsync,
			"sync_timeout":   r.captureSyncTimeout,
			"min_tokens":     r.captureMinTokens,
			"min_tool_calls": r.captureMinToolCalls,
			"min_file_edits": r.captureMinFileEdits,
		},
	}
}
