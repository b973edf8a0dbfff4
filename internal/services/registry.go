package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/capture"
	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/httpapi"
	"github.com/fyrsmithlabs/recalld/internal/ingest"
	"github.com/fyrsmithlabs/recalld/internal/initiative"
	"github.com/fyrsmithlabs/recalld/internal/lexical"
	"github.com/fyrsmithlabs/recalld/internal/llm"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/mcp"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/migrate"
	"github.com/fyrsmithlabs/recalld/internal/orient"
	"github.com/fyrsmithlabs/recalld/internal/reranker"
	"github.com/fyrsmithlabs/recalld/internal/search"
	"github.com/fyrsmithlabs/recalld/internal/secrets"
	"github.com/fyrsmithlabs/recalld/internal/telemetry"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
	"github.com/fyrsmithlabs/recalld/internal/version"
)

// Registry provides access to all recalld services and owns the
// infrastructure beneath them. Use the accessor methods to retrieve
// individual services.
type Registry struct {
	cfg     *config.Config
	runtime *config.Runtime
	logger  *logging.Logger

	telemetry  *telemetry.Telemetry
	embedder   embeddings.Provider
	store      vectorstore.Store
	lex        *lexical.Index
	scrubber   secrets.Scrubber
	provider   llm.Provider
	migrations *migrate.Runner

	initiatives *initiative.Service
	mem         *memory.Service
	engine      *search.Engine
	ingester    *ingest.Service
	orienter    *orient.Service
	capturer    *capture.Service

	mcpServer  *mcp.Server
	httpServer *httpapi.Server
}

// Build constructs the full service graph from cfg.
//
// Construction order matters: the vector store needs the embedder,
// schema migrations must finish before any service reads the store, and
// every domain service shares the store, lexical index, and scrubber.
// A partially built graph is closed on error.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *Registry, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	dataDir, err := config.ExpandPath(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("expanding data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dataDir, err)
	}

	// The working directory anchors repository resolution for saves and
	// searches issued without an explicit repository.
	workdir := "."
	if wd, err := os.Getwd(); err == nil {
		workdir = wd
	}

	reg := &Registry{
		cfg:     cfg,
		runtime: config.NewRuntime(cfg),
		logger:  logger.Named("services"),
	}
	defer func() {
		if err != nil {
			_ = reg.Close()
		}
	}()

	reg.telemetry, err = telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	reg.embedder, err = embeddings.NewProvider(embeddingsConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("initializing embedding provider: %w", err)
	}

	reg.store, err = OpenStore(cfg, dataDir, reg.embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	// Bring the schema up to date before anything reads the store.
	reg.migrations, err = migrate.NewRunner(reg.store, dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("creating migration runner: %w", err)
	}
	if reg.migrations.NeedsMigration() {
		report, err := reg.migrations.Run(ctx, false)
		if err != nil {
			return nil, fmt.Errorf("running schema migrations: %w", err)
		}
		if report.Status == migrate.StatusPartial {
			return nil, fmt.Errorf("schema migration stopped at version %d of %d", report.CurrentVersion, report.TargetVersion)
		}
		reg.logger.Info(ctx, "schema migrated",
			zap.Int("version", report.CurrentVersion),
			zap.Int("migrations_run", report.MigrationsRun))
	}

	reg.scrubber, err = secrets.New(secretsConfig(cfg, workdir))
	if err != nil {
		return nil, fmt.Errorf("initializing secret scrubber: %w", err)
	}

	reg.lex = lexical.NewIndex(search.StoreSource(reg.store), logger)

	reg.provider, err = llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing llm provider: %w", err)
	}

	reg.initiatives, err = initiative.NewService(reg.store, reg.lex, reg.provider, reg.scrubber, workdir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing initiative service: %w", err)
	}

	reg.mem, err = memory.NewService(reg.store, reg.lex, reg.scrubber, reg.initiatives, workdir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing memory service: %w", err)
	}

	reg.engine, err = search.NewEngine(reg.store, reg.lex, reranker.NewTermOverlap(), reg.runtime, workdir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing search engine: %w", err)
	}

	reg.ingester, err = ingest.NewService(reg.store, reg.lex, reg.scrubber, cfg.Ingest, dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing ingest service: %w", err)
	}

	reg.orienter, err = orient.NewService(reg.store, reg.mem, reg.initiatives, workdir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing orient service: %w", err)
	}

	reg.capturer, err = capture.NewService(reg.mem, reg.provider, reg.runtime, cfg.Autocapture, dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing capture service: %w", err)
	}

	reg.mcpServer, err = mcp.NewServer(nil, mcp.Deps{
		Search:      reg.engine,
		Ingest:      reg.ingester,
		Memory:      reg.mem,
		Initiatives: reg.initiatives,
		Orient:      reg.orienter,
		Capture:     reg.capturer,
		Runtime:     reg.runtime,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing mcp server: %w", err)
	}

	// Loopback only. The daemon holds a developer's memory and has no
	// authentication layer.
	reg.httpServer, err = httpapi.NewServer(
		&httpapi.Config{Host: "localhost", Port: cfg.Server.HTTPPort},
		reg.mcpServer.Tools(),
		reg.mcpServer.Handler(),
		reg.capturer,
		reg.store,
		reg.scrubber,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("initializing http server: %w", err)
	}

	reg.logger.Info(ctx, "services initialized",
		zap.String("data_dir", dataDir),
		zap.String("vector_store", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("llm", cfg.LLM.Provider),
		zap.Bool("scrubbing", reg.scrubber.IsEnabled()))

	return reg, nil
}

// OpenStore builds a vector store from cfg without the rest of the
// service graph. The migrate subcommand uses it to reach the store
// before the daemon starts.
func OpenStore(cfg *config.Config, dataDir string, embedder embeddings.Provider, logger *logging.Logger) (vectorstore.Store, error) {
	switch cfg.VectorStore.Provider {
	case "", "chromem":
		return vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path:       filepath.Join(dataDir, "vectorstore"),
			Collection: cfg.VectorStore.Collection,
			Compress:   cfg.VectorStore.Compress,
		}, embedder, logger)
	case "qdrant":
		return vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey.Value(),
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.VectorStore.Collection,
			VectorSize: cfg.VectorStore.VectorSize,
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("unknown vector store provider %q", cfg.VectorStore.Provider)
	}
}

// Start launches the background workers: the capture queue consumer and
// the optional transcript watcher. The HTTP and MCP transports are
// started by the caller, which owns their blocking semantics.
func (r *Registry) Start(ctx context.Context) {
	r.capturer.Start(ctx)
}

// Close releases everything Build constructed, in reverse dependency
// order. Safe on a partially built registry.
func (r *Registry) Close() error {
	var errs []error

	if r.capturer != nil {
		if err := r.capturer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("capture: %w", err))
		}
	}
	if r.lex != nil {
		if err := r.lex.Close(); err != nil {
			errs = append(errs, fmt.Errorf("lexical index: %w", err))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("vector store: %w", err))
		}
	}
	if r.embedder != nil {
		if err := r.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embedding provider: %w", err))
		}
	}
	if r.telemetry != nil {
		if err := r.telemetry.Shutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Config() *config.Config           { return r.cfg }
func (r *Registry) Runtime() *config.Runtime         { return r.runtime }
func (r *Registry) Telemetry() *telemetry.Telemetry  { return r.telemetry }
func (r *Registry) VectorStore() vectorstore.Store   { return r.store }
func (r *Registry) Lexical() *lexical.Index          { return r.lex }
func (r *Registry) Scrubber() secrets.Scrubber       { return r.scrubber }
func (r *Registry) LLM() llm.Provider                { return r.provider }
func (r *Registry) Migrations() *migrate.Runner      { return r.migrations }
func (r *Registry) Initiatives() *initiative.Service { return r.initiatives }
func (r *Registry) Memory() *memory.Service          { return r.mem }
func (r *Registry) Search() *search.Engine           { return r.engine }
func (r *Registry) Ingest() *ingest.Service          { return r.ingester }
func (r *Registry) Orient() *orient.Service          { return r.orienter }
func (r *Registry) Capture() *capture.Service        { return r.capturer }
func (r *Registry) MCP() *mcp.Server                 { return r.mcpServer }
func (r *Registry) HTTP() *httpapi.Server            { return r.httpServer }

// telemetryConfig maps daemon observability settings onto the telemetry
// package. Exporter endpoint and protocol come from the standard
// OTEL_EXPORTER_OTLP_* environment variables.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewConfigFromEnv()
	tc.Enabled = cfg.Observability.Enabled
	tc.ServiceName = cfg.Observability.ServiceName
	tc.ServiceVersion = version.Version
	return tc
}

func embeddingsConfig(cfg *config.Config) embeddings.Config {
	return embeddings.Config{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		CacheDir:  cfg.Embeddings.CacheDir,
		Dimension: cfg.Embeddings.Dimension,
	}
}

func secretsConfig(cfg *config.Config, workdir string) *secrets.Config {
	sc := secrets.NewDefaultConfig()
	sc.Enabled = cfg.Secrets.Enabled
	sc.ProjectDir = workdir
	sc.AllowlistPath = cfg.Secrets.AllowlistPath
	return sc
}
