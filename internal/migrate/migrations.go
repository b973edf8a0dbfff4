package migrate

import (
	"context"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// SchemaVersion is the version a fully migrated store sits at.
// Increment when appending to Migrations.
const SchemaVersion = 2

// legacyTypeCommit is the pre-v2 document type for session records.
const legacyTypeCommit = "commit"

// Migrations returns the ordered migration list. Fresh stores run the
// whole list; both steps are no-ops on an empty store, so a new install
// lands directly on the current version.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "initial schema version tracking",
			Run:         migrateInitial,
		},
		{
			Version:     2,
			Description: "legacy commit documents become session summaries",
			Run:         migrateCommitsToSessionSummaries,
		},
	}
}

// migrateInitial establishes schema versioning. It changes no data.
func migrateInitial(context.Context, vectorstore.Store) error {
	return nil
}

// migrateCommitsToSessionSummaries rewrites legacy commit documents to
// the session_summary type, preserving ids, bodies, and timestamps.
// Only stores populated by pre-versioning imports carry any.
func migrateCommitsToSessionSummaries(ctx context.Context, store vectorstore.Store) error {
	records, err := store.Get(ctx, nil, vectorstore.Where{document.KeyType: legacyTypeCommit})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	docs := make([]vectorstore.Document, 0, len(records))
	for _, rec := range records {
		meta := make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			meta[k] = v
		}
		meta[document.KeyType] = string(document.TypeSessionSummary)
		docs = append(docs, vectorstore.Document{
			ID:       rec.ID,
			Content:  rec.Content,
			Metadata: meta,
		})
	}
	return store.Upsert(ctx, docs)
}
