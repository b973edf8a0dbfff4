// Package mcp exposes the memory tools over the Model Context Protocol.
//
// One Toolset backs three transports: stdio for editor-spawned clients,
// streamable HTTP for remote MCP clients, and a raw dispatch path the
// REST surface reuses. Handlers call the internal services directly.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/version"
)

// Server wires the Toolset into the MCP SDK.
type Server struct {
	mcp     *mcp.Server
	tools   *Toolset
	metrics *Metrics
	logger  *logging.Logger
}

// Config configures the MCP server identity.
type Config struct {
	// Name is the implementation name advertised to clients (default "recalld").
	Name string

	// Version advertised to clients. Defaults to the build version.
	Version string
}

// DefaultConfig returns the advertised identity for this build.
func DefaultConfig() *Config {
	return &Config{
		Name:    "recalld",
		Version: version.Version,
	}
}

// NewServer builds the toolset, registers every tool, and returns a
// server ready to Run on stdio or serve over HTTP.
func NewServer(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	tools, err := NewToolset(deps)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("mcp")

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    cfg.Name,
				Version: cfg.Version,
			},
			nil,
		),
		tools:   tools,
		metrics: NewMetrics(logger),
		logger:  logger,
	}
	s.registerTools()
	return s, nil
}

// Tools returns the shared toolset for non-MCP transports.
func (s *Server) Tools() *Toolset {
	return s.tools
}

// Run serves the stdio transport until ctx is canceled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp stdio run: %w", err)
	}
	return nil
}

// Handler returns the streamable HTTP handler for mounting under the
// HTTP API. Every request shares the one underlying server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

// register binds one tool to the SDK server and the raw dispatch map.
// The wrapper carries the per-call metrics so handlers stay plain
// service calls.
func register[In, Out any](s *Server, name, desc string, fn func(context.Context, In) (Out, error)) {
	wrapped := func(ctx context.Context, in In) (Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		out, err := fn(ctx, in)
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			s.logger.Warn(ctx, "tool call failed",
				zap.String("tool", name),
				zap.String("kind", string(errs.KindOf(err))),
				zap.Error(err))
		}
		return out, err
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: desc,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		out, err := wrapped(ctx, args)
		if err != nil {
			var zero Out
			return nil, zero, err
		}
		return nil, out, nil
	})

	s.tools.add(name, desc, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in In
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, errs.Wrap(errs.InvalidArgument, "decoding tool arguments", err)
			}
		}
		return wrapped(ctx, in)
	})
}

func (s *Server) registerTools() {
	ts := s.tools

	// Orientation
	register(s, "orient_session",
		"Orient at session start: indexed state, tech stack, focused initiative, project skeleton, and insights whose linked files changed",
		ts.orientSession)
	register(s, "get_skeleton",
		"Get the stored directory skeleton for a repository",
		ts.getSkeleton)

	// Retrieval
	register(s, "search",
		"Search project memory with hybrid semantic and keyword retrieval",
		ts.search)

	// Ingestion
	register(s, "ingest",
		"Index a codebase into memory; re-runs sync only changed files",
		ts.runIngest)
	register(s, "get_ingest_status",
		"Check the progress of an async ingestion task",
		ts.ingestStatus)

	// Memory writes
	register(s, "save_note",
		"Save a decision, learning, or documentation note to project memory",
		ts.saveNote)
	register(s, "save_insight",
		"Save an analysis insight linked to the files it is about",
		ts.saveInsight)
	register(s, "save_session_summary",
		"Save a session summary before ending work; marks open insights for this session validated by survival",
		ts.saveSessionSummary)
	register(s, "set_tech_stack",
		"Set the stable tech stack description for a repository",
		ts.setTechStack)
	register(s, "get_repo_context",
		"Get the stored tech stack and focused initiative for a repository",
		ts.repoContext)
	register(s, "validate_insight",
		"Record an insight validation after re-reading its linked files; optionally deprecate and replace it",
		ts.validateInsight)
	register(s, "recall_recent_work",
		"Recall notes, session summaries, and insights from recent days",
		ts.recallRecentWork)

	// Initiatives
	register(s, "create_initiative",
		"Create a named initiative to scope memory to a workstream",
		ts.createInitiative)
	register(s, "set_initiative",
		"Focus an initiative so new memories are tagged with it",
		ts.focusInitiative)
	register(s, "focus_initiative",
		"Focus an initiative so new memories are tagged with it",
		ts.focusInitiative)
	register(s, "list_initiatives",
		"List initiatives for a repository",
		ts.listInitiatives)
	register(s, "complete_initiative",
		"Complete an initiative with an optional summary; clears focus if it was focused",
		ts.completeInitiative)
	register(s, "summarize_initiative",
		"Summarize an initiative from its tagged memories",
		ts.summarizeInitiative)

	// Configuration and diagnostics. These stay callable while the
	// memory system is disabled.
	register(s, "configure",
		"Change runtime settings: enabled, retrieval thresholds, recency boost, LLM provider, and auto-capture",
		ts.configure)
	register(s, "configure_autocapture",
		"Change auto-capture settings: thresholds, sync mode, and provider",
		ts.configureAutocapture)
	register(s, "get_autocapture_status",
		"Get auto-capture health: settings, queue depth, and provider availability",
		ts.autocaptureStatus)
	register(s, "get_version",
		"Get the server build version; pass expected_commit to check whether a rebuild is needed",
		ts.getVersion)
}
