package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/capture"
	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/ingest"
	"github.com/fyrsmithlabs/recalld/internal/initiative"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/orient"
	"github.com/fyrsmithlabs/recalld/internal/search"
	"github.com/fyrsmithlabs/recalld/internal/version"
)

// ErrNilDependency is returned by NewToolset for a missing dependency.
var ErrNilDependency = errors.New("nil dependency")

// StatusConfigured confirms applied configuration changes.
const StatusConfigured = "configured"

// Deps are the services the tool surface dispatches into.
type Deps struct {
	Search      *search.Engine
	Ingest      *ingest.Service
	Memory      *memory.Service
	Initiatives *initiative.Service
	Orient      *orient.Service
	Capture     *capture.Service
	Runtime     *config.Runtime
	Logger      *logging.Logger
}

// rawHandler dispatches a tool call from undecoded JSON arguments. It
// is what the REST surface shares with the MCP transports.
type rawHandler func(ctx context.Context, args json.RawMessage) (any, error)

// ToolInfo describes one registered tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Toolset binds every operation to its backing service. One Toolset is
// shared by the stdio transport, the streamable HTTP transport, and the
// REST dispatcher.
type Toolset struct {
	searcher    *search.Engine
	ingester    *ingest.Service
	mem         *memory.Service
	initiatives *initiative.Service
	orienter    *orient.Service
	capturer    *capture.Service
	runtime     *config.Runtime
	logger      *logging.Logger

	mu       sync.RWMutex
	dispatch map[string]rawHandler
	infos    []ToolInfo
}

// NewToolset validates the dependencies. Tools are registered when the
// Server is constructed.
func NewToolset(d Deps) (*Toolset, error) {
	if d.Search == nil {
		return nil, fmt.Errorf("%w: search engine is required", ErrNilDependency)
	}
	if d.Ingest == nil {
		return nil, fmt.Errorf("%w: ingest service is required", ErrNilDependency)
	}
	if d.Memory == nil {
		return nil, fmt.Errorf("%w: memory service is required", ErrNilDependency)
	}
	if d.Initiatives == nil {
		return nil, fmt.Errorf("%w: initiative service is required", ErrNilDependency)
	}
	if d.Orient == nil {
		return nil, fmt.Errorf("%w: orient service is required", ErrNilDependency)
	}
	if d.Capture == nil {
		return nil, fmt.Errorf("%w: capture service is required", ErrNilDependency)
	}
	if d.Runtime == nil {
		return nil, fmt.Errorf("%w: runtime config is required", ErrNilDependency)
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Toolset{
		searcher:    d.Search,
		ingester:    d.Ingest,
		mem:         d.Memory,
		initiatives: d.Initiatives,
		orienter:    d.Orient,
		capturer:    d.Capture,
		runtime:     d.Runtime,
		logger:      logger.Named("tools"),
		dispatch:    make(map[string]rawHandler),
	}, nil
}

// Call dispatches a tool by name from raw JSON arguments. Unknown names
// are InvalidArgument, never a crash.
func (ts *Toolset) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	ts.mu.RLock()
	h, ok := ts.dispatch[name]
	ts.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.InvalidArgument, "unknown tool %q", name)
	}
	return h(ctx, args)
}

// List returns the registered tools sorted by name.
func (ts *Toolset) List() []ToolInfo {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]ToolInfo, len(ts.infos))
	copy(out, ts.infos)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (ts *Toolset) add(name, desc string, h rawHandler) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.dispatch[name] = h
	ts.infos = append(ts.infos, ToolInfo{Name: name, Description: desc})
}

// requireEnabled guards mutating and retrieval tools behind the runtime
// kill switch. Configuration and diagnostics stay reachable so the
// system can be turned back on.
func (ts *Toolset) requireEnabled() error {
	if !ts.runtime.Enabled() {
		return errs.New(errs.PreconditionFailed, "memory system is disabled; call configure with enabled=true to resume")
	}
	return nil
}

// ----- orientation -----

type orientSessionInput struct {
	ProjectPath string `json:"project_path" jsonschema:"required,Absolute path to the project repository"`
}

func (ts *Toolset) orientSession(ctx context.Context, in orientSessionInput) (*orient.Session, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	return ts.orienter.Session(ctx, in.ProjectPath)
}

type getSkeletonInput struct {
	Repository string `json:"repository,omitempty" jsonschema:"Repository name (auto-detected if not provided)"`
}

func (ts *Toolset) getSkeleton(ctx context.Context, in getSkeletonInput) (*orient.Skeleton, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	return ts.orienter.GetSkeleton(ctx, in.Repository)
}

// ----- search -----

type searchInput struct {
	Query            string   `json:"query" jsonschema:"required,Natural language search query"`
	Repository       string   `json:"repository,omitempty" jsonschema:"Repository identifier for filtering"`
	Branch           string   `json:"branch,omitempty" jsonschema:"Branch filter; unknown disables branch filtering"`
	MinScore         *float64 `json:"min_score,omitempty" jsonschema:"Minimum relevance score between 0 and 1; overrides the configured threshold"`
	Initiative       string   `json:"initiative,omitempty" jsonschema:"Initiative ID or name to filter results"`
	IncludeCompleted *bool    `json:"include_completed,omitempty" jsonschema:"Include content from completed initiatives (default true)"`
	Types            []string `json:"types,omitempty" jsonschema:"Document type filter such as note or insight; ignored when preset is set"`
	Preset           string   `json:"preset,omitempty" jsonschema:"Type preset: understanding navigation structure trace or memory. Wins over types"`
	RebuildIndex     bool     `json:"rebuild_index,omitempty" jsonschema:"Force a lexical index rebuild before searching"`
}

func (ts *Toolset) search(ctx context.Context, in searchInput) (*search.Response, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	opts := search.Options{
		Repository: in.Repository,
		Branch:     in.Branch,
		MinScore:   in.MinScore,
		Initiative: in.Initiative,
		Preset:     in.Preset,
		Rebuild:    in.RebuildIndex,
	}
	for _, t := range in.Types {
		opts.Types = append(opts.Types, document.Type(t))
	}
	if in.IncludeCompleted != nil && !*in.IncludeCompleted {
		opts.ExcludeCompleted = true
	}
	return ts.searcher.Search(ctx, in.Query, opts)
}

// ----- ingestion -----

type ingestInput struct {
	Path            string   `json:"path" jsonschema:"required,Absolute path to the codebase root"`
	Repository      string   `json:"repository,omitempty" jsonschema:"Repository identifier (defaults to the directory name)"`
	ForceFull       bool     `json:"force_full,omitempty" jsonschema:"Force full re-ingestion"`
	IncludePatterns []string `json:"include_patterns,omitempty" jsonschema:"Glob patterns for selective ingestion; only matching files are indexed"`
	UseIgnoreFiles  *bool    `json:"use_ignore_files,omitempty" jsonschema:"Honor .recallignore and .gitignore files (defaults to the configured behavior)"`
}

func (ts *Toolset) runIngest(ctx context.Context, in ingestInput) (*ingest.Receipt, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	return ts.ingester.Ingest(ctx, in.Path, ingest.Options{
		Repository:      in.Repository,
		IncludePatterns: in.IncludePatterns,
		ForceFull:       in.ForceFull,
		UseIgnoreFiles:  in.UseIgnoreFiles,
	})
}

type ingestStatusInput struct {
	TaskID string `json:"task_id" jsonschema:"required,Task ID returned by ingest for async operations"`
}

func (ts *Toolset) ingestStatus(ctx context.Context, in ingestStatusInput) (ingest.Progress, error) {
	return ts.ingester.Status(in.TaskID)
}

// ----- memory saves -----

type saveNoteInput struct {
	Content    string   `json:"content" jsonschema:"required,Note content"`
	Title      string   `json:"title,omitempty" jsonschema:"Optional title"`
	Tags       []string `json:"tags,omitempty" jsonschema:"Optional tags"`
	Repository string   `json:"repository,omitempty" jsonschema:"Repository identifier (auto-detected if not provided)"`
	Initiative string   `json:"initiative,omitempty" jsonschema:"Initiative ID or name to tag (uses the focused initiative if not specified)"`
}

func (ts *Toolset) saveNote(ctx context.Context, in saveNoteInput) (*memory.NoteReceipt, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	return ts.mem.SaveNote(ctx, memory.NoteInput{
		Content:    in.Content,
		Title:      in.Title,
		Tags:       in.Tags,
		Repository: in.Repository,
		Initiative: in.Initiative,
	})
}

type saveInsightInput struct {
	Content    string   `json:"content" jsonschema:"required,The analysis or understanding to save"`
	Files      []string `json:"files" jsonschema:"required,File paths this insight is about"`
	Title      string   `json:"title,omitempty" jsonschema:"Optional title for the insight"`
	Tags       []string `json:"tags,omitempty" jsonschema:"Optional tags for categorization"`
	Repository string   `json:"repository,omitempty" jsonschema:"Repository identifier (auto-detected if not provided)"`
	Initiative string   `json:"initiative,omitempty" jsonschema:"Initiative ID or name to tag (uses the focused initiative if not specified)"`
}

func (ts *Toolset) saveInsight(ctx context.Context, in saveInsightInput) (*memory.InsightReceipt, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	return ts.mem.SaveInsight(ctx, memory.InsightInput{
		Content:    in.Content,
		Files:      in.Files,
		Title:      in.Title,
		Tags:       in.Tags,
		Repository: in.Repository,
		Initiative: in.Initiative,
	})
}

type saveSessionInput struct {
	Summary      string   `json:"summary" jsonschema:"required,Detailed summary of the session: what changed and why decisions made problems solved and future work"`
	ChangedFiles []string `json:"changed_files,omitempty" jsonschema:"Modified file paths"`
	Repository   string   `json:"repository,omitempty" jsonschema:"Repository identifier"`
	Initiative   string   `json:"initiative,omitempty" jsonschema:"Initiative ID or name to tag (uses the focused initiative if not specified)"`
}

func (ts *Toolset) saveSessionSummary(ctx context.Context, in saveSessionInput) (*memory.SessionReceipt, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	return ts.mem.ConcludeSession(ctx, memory.SessionInput{
		Summary:      in.Summary,
		ChangedFiles: in.ChangedFiles,
		Repository:   in.Repository,
		Initiative:   in.Initiative,
	})
}

type setTechStackInput struct {
	Repository string `json:"repository" jsonschema:"required,Repository identifier"`
	TechStack  string `json:"tech_stack" jsonschema:"required,Technologies patterns and architecture description. Only include stable structural information that will not go stale"`
}

func (ts *Toolset) setTechStack(ctx context.Context, in setTechStackInput) (*memory.TechStackReceipt, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	return ts.mem.SetTechStack(ctx, memory.TechStackInput{
		Repository: in.Repository,
		TechStack:  in.TechStack,
	})
}

type repoContextInput struct {
	Repository string `json:"repository" jsonschema:"required,Repository identifier"`
}

func (ts *Toolset) repoContext(ctx context.Context, in repoContextInput) (*memory.RepoContext, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	return ts.mem.RepoContext(ctx, in.Repository)
}

type validateInsightInput struct {
	InsightID   string `json:"insight_id" jsonschema:"required,The insight ID to validate"`
	Result      string `json:"result" jsonschema:"required,Assessment after re-reading the linked files: still_valid partially_valid or no_longer_valid"`
	Notes       string `json:"notes,omitempty" jsonschema:"What changed or why validation failed"`
	Deprecate   bool   `json:"deprecate,omitempty" jsonschema:"Mark the insight deprecated when it is no longer valid"`
	Replacement string `json:"replacement,omitempty" jsonschema:"Updated insight content to save as a replacement when deprecating"`
	Repository  string `json:"repository,omitempty" jsonschema:"Repository identifier"`
}

func (ts *Toolset) validateInsight(ctx context.Context, in validateInsightInput) (*memory.ValidationReceipt, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	return ts.mem.ValidateInsight(ctx, memory.ValidateInput{
		InsightID:   in.InsightID,
		Result:      in.Result,
		Notes:       in.Notes,
		Deprecate:   in.Deprecate,
		Replacement: in.Replacement,
		Repository:  in.Repository,
	})
}

type recallInput struct {
	Repository  string `json:"repository" jsonschema:"required,Repository identifier"`
	Days        int    `json:"days,omitempty" jsonschema:"Days to look back (default 7)"`
	Limit       int    `json:"limit,omitempty" jsonschema:"Maximum items to return (default 20)"`
	IncludeCode bool   `json:"include_code,omitempty" jsonschema:"Include code changes (default false: notes and session summaries only)"`
}

func (ts *Toolset) recallRecentWork(ctx context.Context, in recallInput) (*memory.RecallResponse, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	return ts.mem.RecallRecentWork(ctx, memory.RecallInput{
		Repository:  in.Repository,
		Days:        in.Days,
		Limit:       in.Limit,
		IncludeCode: in.IncludeCode,
	})
}

// ----- initiatives -----

type createInitiativeInput struct {
	Name       string `json:"name" jsonschema:"required,Initiative name"`
	Goal       string `json:"goal,omitempty" jsonschema:"Goal or description for the initiative"`
	Repository string `json:"repository,omitempty" jsonschema:"Repository identifier (auto-detected if not provided)"`
	AutoFocus  *bool  `json:"auto_focus,omitempty" jsonschema:"Focus this initiative on creation (default true)"`
}

func (ts *Toolset) createInitiative(ctx context.Context, in createInitiativeInput) (*initiative.Initiative, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	autoFocus := in.AutoFocus == nil || *in.AutoFocus
	return ts.initiatives.Create(ctx, in.Name, in.Goal, in.Repository, autoFocus)
}

type focusInitiativeInput struct {
	InitiativeID string `json:"initiative_id" jsonschema:"required,Initiative ID or name to focus"`
	Repository   string `json:"repository,omitempty" jsonschema:"Repository identifier"`
}

func (ts *Toolset) focusInitiative(ctx context.Context, in focusInitiativeInput) (*initiative.Initiative, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	return ts.initiatives.Focus(ctx, in.InitiativeID, in.Repository)
}

type listInitiativesInput struct {
	Repository       string `json:"repository,omitempty" jsonschema:"Repository identifier; empty lists every repository"`
	IncludeCompleted bool   `json:"include_completed,omitempty" jsonschema:"Include completed initiatives"`
}

type initiativeList struct {
	Initiatives []initiative.Initiative `json:"initiatives"`
	Count       int                     `json:"count"`
}

func (ts *Toolset) listInitiatives(ctx context.Context, in listInitiativesInput) (initiativeList, error) {
	if err := ts.requireEnabled(); err != nil {
		return initiativeList{}, err
	}
	items, err := ts.initiatives.List(ctx, in.Repository, in.IncludeCompleted)
	if err != nil {
		return initiativeList{}, err
	}
	return initiativeList{Initiatives: items, Count: len(items)}, nil
}

type completeInitiativeInput struct {
	InitiativeID string `json:"initiative_id" jsonschema:"required,Initiative ID or name to complete"`
	Summary      string `json:"summary,omitempty" jsonschema:"Completion summary describing what was accomplished"`
	Repository   string `json:"repository,omitempty" jsonschema:"Repository identifier (optional when using an initiative ID)"`
}

func (ts *Toolset) completeInitiative(ctx context.Context, in completeInitiativeInput) (*initiative.Initiative, error) {
	if err := ts.requireEnabled(); err != nil {
		return nil, err
	}
	return ts.initiatives.Complete(ctx, in.InitiativeID, in.Repository, in.Summary)
}

type summarizeInitiativeInput struct {
	InitiativeID string `json:"initiative_id" jsonschema:"required,Initiative ID or name"`
	Repository   string `json:"repository,omitempty" jsonschema:"Repository identifier (optional when using an initiative ID)"`
}

type initiativeNarrative struct {
	Initiative *initiative.Initiative `json:"initiative"`
	Summary    string                 `json:"summary"`
}

func (ts *Toolset) summarizeInitiative(ctx context.Context, in summarizeInitiativeInput) (initiativeNarrative, error) {
	if err := ts.requireEnabled(); err != nil {
		return initiativeNarrative{}, err
	}
	summary, item, err := ts.initiatives.Summarize(ctx, in.InitiativeID, in.Repository)
	if err != nil {
		return initiativeNarrative{}, err
	}
	return initiativeNarrative{Initiative: item, Summary: summary}, nil
}

// ----- configuration -----

type autocaptureChanges struct {
	Enabled      *bool `json:"enabled,omitempty" jsonschema:"Enable or disable auto-capture"`
	Async        *bool `json:"async,omitempty" jsonschema:"Process captures in the background (default) instead of inline"`
	SyncTimeout  *int  `json:"sync_timeout,omitempty" jsonschema:"Timeout in seconds for sync mode (range 10-300)"`
	MinTokens    *int  `json:"min_tokens,omitempty" jsonschema:"Minimum token threshold for significant sessions"`
	MinToolCalls *int  `json:"min_tool_calls,omitempty" jsonschema:"Minimum tool call threshold for significant sessions"`
	MinFileEdits *int  `json:"min_file_edits,omitempty" jsonschema:"Minimum file edit threshold for significant sessions"`
}

type configureInput struct {
	Enabled             *bool               `json:"enabled,omitempty" jsonschema:"Enable or disable the memory system"`
	Verbose             *bool               `json:"verbose,omitempty" jsonschema:"Enable verbose output"`
	MinScore            *float64            `json:"min_score,omitempty" jsonschema:"Minimum relevance score between 0 and 1"`
	TopKRetrieve        *int                `json:"top_k_retrieve,omitempty" jsonschema:"Candidates fetched per retrieval leg (range 10-200)"`
	TopKRerank          *int                `json:"top_k_rerank,omitempty" jsonschema:"Candidates reranked (range 1-50)"`
	LLMProvider         *string             `json:"llm_provider,omitempty" jsonschema:"LLM provider: anthropic claude-cli ollama openrouter or none"`
	RecencyBoost        *bool               `json:"recency_boost,omitempty" jsonschema:"Enable recency boosting for notes and session summaries"`
	RecencyHalfLifeDays *float64            `json:"recency_half_life_days,omitempty" jsonschema:"Days until the recency boost decays to half (range 1-365)"`
	Autocapture         *autocaptureChanges `json:"autocapture,omitempty" jsonschema:"Auto-capture settings subset"`
}

// ConfigureReceipt echoes the applied changes as field=value strings.
type ConfigureReceipt struct {
	Status  string   `json:"status"`
	Changes []string `json:"changes"`
}

func (ts *Toolset) configure(ctx context.Context, in configureInput) (ConfigureReceipt, error) {
	changes := config.Changes{
		Enabled:             in.Enabled,
		Verbose:             in.Verbose,
		MinScore:            in.MinScore,
		TopKRetrieve:        in.TopKRetrieve,
		TopKRerank:          in.TopKRerank,
		RecencyBoost:        in.RecencyBoost,
		RecencyHalfLifeDays: in.RecencyHalfLifeDays,
		LLMProvider:         in.LLMProvider,
	}
	if ac := in.Autocapture; ac != nil {
		changes.CaptureEnabled = ac.Enabled
		changes.CaptureAsync = ac.Async
		changes.CaptureSyncTimeout = ac.SyncTimeout
		changes.CaptureMinTokens = ac.MinTokens
		changes.CaptureMinToolCalls = ac.MinToolCalls
		changes.CaptureMinFileEdits = ac.MinFileEdits
	}
	return ts.applyChanges(ctx, changes)
}

type configureAutocaptureInput struct {
	Enabled      *bool   `json:"enabled,omitempty" jsonschema:"Enable or disable auto-capture"`
	Async        *bool   `json:"async,omitempty" jsonschema:"Process captures in the background (default) instead of inline"`
	SyncTimeout  *int    `json:"sync_timeout,omitempty" jsonschema:"Timeout in seconds for sync mode (range 10-300)"`
	MinTokens    *int    `json:"min_tokens,omitempty" jsonschema:"Minimum token threshold for significant sessions"`
	MinToolCalls *int    `json:"min_tool_calls,omitempty" jsonschema:"Minimum tool call threshold for significant sessions"`
	MinFileEdits *int    `json:"min_file_edits,omitempty" jsonschema:"Minimum file edit threshold for significant sessions"`
	LLMProvider  *string `json:"llm_provider,omitempty" jsonschema:"Primary LLM provider for summarization"`
}

func (ts *Toolset) configureAutocapture(ctx context.Context, in configureAutocaptureInput) (ConfigureReceipt, error) {
	return ts.applyChanges(ctx, config.Changes{
		LLMProvider:         in.LLMProvider,
		CaptureEnabled:      in.Enabled,
		CaptureAsync:        in.Async,
		CaptureSyncTimeout:  in.SyncTimeout,
		CaptureMinTokens:    in.MinTokens,
		CaptureMinToolCalls: in.MinToolCalls,
		CaptureMinFileEdits: in.MinFileEdits,
	})
}

func (ts *Toolset) applyChanges(ctx context.Context, changes config.Changes) (ConfigureReceipt, error) {
	changed, err := ts.runtime.Apply(changes)
	if err != nil {
		return ConfigureReceipt{}, err
	}
	if changed == nil {
		changed = []string{}
	}
	if len(changed) > 0 {
		ts.logger.Info(ctx, "configuration changed", zap.Strings("changes", changed))
	}
	return ConfigureReceipt{Status: StatusConfigured, Changes: changed}, nil
}

type autocaptureStatusInput struct{}

func (ts *Toolset) autocaptureStatus(ctx context.Context, _ autocaptureStatusInput) (*capture.Status, error) {
	return ts.capturer.Status(ctx)
}

// ----- version -----

type versionInput struct {
	ExpectedCommit string `json:"expected_commit,omitempty" jsonschema:"Git commit hash to compare against such as the local HEAD; adds needs_rebuild to the response"`
}

func (ts *Toolset) getVersion(ctx context.Context, in versionInput) (version.Info, error) {
	return version.Get(in.ExpectedCommit), nil
}
