package migrate

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// Run statuses.
const (
	StatusUpToDate = "up_to_date"
	StatusComplete = "complete"
	StatusPartial  = "partial"
)

// Per-migration result statuses.
const (
	resultSuccess = "success"
	resultFailed  = "failed"
	resultDryRun  = "dry_run"
)

// Migration is one ordered schema upgrade step. Migrations must be
// idempotent; a partial run is resumed by re-running the sequence.
type Migration struct {
	Version     int
	Description string
	Run         func(ctx context.Context, store vectorstore.Store) error
}

// Result is the outcome of one migration.
type Result struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// Report summarizes a runner pass.
type Report struct {
	Status         string   `json:"status"`
	CurrentVersion int      `json:"current_version"`
	TargetVersion  int      `json:"target_version"`
	MigrationsRun  int      `json:"migrations_run"`
	Results        []Result `json:"results,omitempty"`
}

// Runner applies pending migrations to a store and records the schema
// version beside it.
type Runner struct {
	store      vectorstore.Store
	dataDir    string
	migrations []Migration
	logger     *logging.Logger
}

// NewRunner creates a runner over the default migration list.
func NewRunner(store vectorstore.Store, dataDir string, logger *logging.Logger) (*Runner, error) {
	if store == nil {
		return nil, errs.New(errs.InvalidArgument, "vector store is required")
	}
	if dataDir == "" {
		return nil, errs.New(errs.InvalidArgument, "data dir is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		store:      store,
		dataDir:    dataDir,
		migrations: Migrations(),
		logger:     logger.Named("migrate"),
	}, nil
}

// Target returns the version the migration list ends at.
func (r *Runner) Target() int {
	if len(r.migrations) == 0 {
		return 0
	}
	return r.migrations[len(r.migrations)-1].Version
}

// NeedsMigration reports whether the recorded version is behind the
// migration list.
func (r *Runner) NeedsMigration() bool {
	return ReadVersion(r.dataDir) < r.Target()
}

// Run executes pending migrations in order. Each success persists the
// new version; a failure stops the sequence, leaving the version at the
// last successful step. dryRun reports the pending list without
// touching the store or the version file. Migration failures land in
// the report, not in the returned error.
func (r *Runner) Run(ctx context.Context, dryRun bool) (*Report, error) {
	current := ReadVersion(r.dataDir)
	target := r.Target()

	var pending []Migration
	for _, m := range r.migrations {
		if m.Version > current {
			pending = append(pending, m)
		}
	}

	if len(pending) == 0 {
		return &Report{
			Status:         StatusUpToDate,
			CurrentVersion: current,
			TargetVersion:  target,
		}, nil
	}

	r.logger.Info(ctx, "running migrations",
		zap.Int("pending", len(pending)),
		zap.Int("from", current),
		zap.Int("to", target),
		zap.Bool("dry_run", dryRun))

	report := &Report{CurrentVersion: current, TargetVersion: target}
	final := current

	for _, m := range pending {
		if dryRun {
			report.Results = append(report.Results, Result{
				Version:     m.Version,
				Description: m.Description,
				Status:      resultDryRun,
			})
			continue
		}

		if err := m.Run(ctx, r.store); err != nil {
			r.logger.Error(ctx, "migration failed",
				zap.Int("version", m.Version),
				zap.String("description", m.Description),
				zap.Error(err))
			report.Results = append(report.Results, Result{
				Version:     m.Version,
				Description: m.Description,
				Status:      resultFailed,
				Error:       err.Error(),
			})
			break
		}
		if err := WriteVersion(r.dataDir, m.Version); err != nil {
			report.Results = append(report.Results, Result{
				Version:     m.Version,
				Description: m.Description,
				Status:      resultFailed,
				Error:       "recording version: " + err.Error(),
			})
			break
		}

		final = m.Version
		report.MigrationsRun++
		report.Results = append(report.Results, Result{
			Version:     m.Version,
			Description: m.Description,
			Status:      resultSuccess,
		})
		r.logger.Info(ctx, "migration complete", zap.Int("version", m.Version))
	}

	report.CurrentVersion = final
	if final == target {
		report.Status = StatusComplete
	} else {
		report.Status = StatusPartial
	}
	return report, nil
}
