package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("recalld.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.local/share/recalld/vectorstore"
	Path string `koanf:"path"`

	// Collection is the collection name. recalld keeps all memory in a
	// single flat collection; document type lives in metadata.
	// Default: "recalld"
	Collection string `koanf:"collection"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.local/share/recalld/vectorstore"
	}
	if c.Collection == "" {
		c.Collection = "recalld"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if err := ValidateCollectionName(c.Collection); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ChromemStore implements Store using chromem-go, an embeddable pure-Go
// vector database with gob-file persistence. It is the default backend:
// no external service, no CGO.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *logging.Logger

	// mu serializes writes. chromem is safe for concurrent reads but
	// same-ID upserts must not interleave with deletes or resets.
	mu  sync.Mutex
	col *chromem.Collection
}

// NewChromemStore opens (or creates) the persistent database at the
// configured path and binds the single collection.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *logging.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	expandedPath, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expandedPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	s := &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger.Named("vectorstore"),
	}

	col, err := db.GetOrCreateCollection(config.Collection, nil, s.embedQueryFunc())
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", config.Collection, err)
	}
	s.col = col

	s.logger.Info(context.Background(), "chromem store opened",
		zap.String("path", expandedPath),
		zap.String("collection", config.Collection),
		zap.Int("documents", col.Count()),
	)
	return s, nil
}

// embedQueryFunc adapts the embedder for chromem, which embeds query
// text through the collection's embedding function. Documents arrive
// with embeddings precomputed, so this only runs for queries.
func (s *ChromemStore) embedQueryFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vec, err := s.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		return vec, nil
	}
}

// Upsert inserts or replaces documents by ID. Embeddings missing from
// the input are computed in a single batch.
func (s *ChromemStore) Upsert(ctx context.Context, docs []Document) error {
	ctx, span := chromemTracer.Start(ctx, "chromem.upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		span.SetStatus(codes.Error, "empty documents")
		return ErrEmptyDocuments
	}
	for i, doc := range docs {
		if doc.ID == "" {
			span.SetStatus(codes.Error, "missing document ID")
			return fmt.Errorf("%w: document %d has no ID", ErrEmptyDocuments, i)
		}
	}

	if err := embedMissing(ctx, s.embedder, docs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	cdocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		cdocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: doc.Embedding,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.col.AddDocuments(ctx, cdocs, runtime.NumCPU()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d documents: %w", len(docs), err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Get returns stored records matching ids and/or where, sorted by ID.
//
// chromem has no enumeration API, so Get runs a nearest-neighbor query
// with a probe vector sized to the whole collection and filters the
// hits. Fine at recalld's scale (thousands of documents, not millions).
func (s *ChromemStore) Get(ctx context.Context, ids []string, where Where) ([]Record, error) {
	ctx, span := chromemTracer.Start(ctx, "chromem.get")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	pred, err := Compile(where)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results, err := s.enumerate(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var idSet map[string]struct{}
	if len(ids) > 0 {
		idSet = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			idSet[id] = struct{}{}
		}
	}

	records := make([]Record, 0, len(results))
	for _, r := range results {
		if idSet != nil {
			if _, ok := idSet[r.ID]; !ok {
				continue
			}
		}
		if !pred(r.Metadata) {
			continue
		}
		records = append(records, Record{ID: r.ID, Content: r.Content, Metadata: r.Metadata})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	span.SetAttributes(attribute.Int("record_count", len(records)))
	span.SetStatus(codes.Ok, "success")
	return records, nil
}

// enumerate fetches every document via a probe-vector query.
func (s *ChromemStore) enumerate(ctx context.Context) ([]chromem.Result, error) {
	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}
	probe := make([]float32, s.embedder.Dimension())
	probe[0] = 1
	results, err := s.col.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("enumerating collection: %w", err)
	}
	return results, nil
}

// Delete removes records matching ids and/or where. Nothing matching
// is not an error.
func (s *ChromemStore) Delete(ctx context.Context, ids []string, where Where) error {
	ctx, span := chromemTracer.Start(ctx, "chromem.delete")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 && len(where) == 0 {
		span.SetStatus(codes.Ok, "nothing to delete")
		return nil
	}

	targets := ids
	if len(where) > 0 {
		// Resolve the clause to concrete IDs so ids and where compose.
		records, err := s.Get(ctx, ids, where)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		targets = make([]string, len(records))
		for i, r := range records {
			targets[i] = r.ID
		}
	}
	if len(targets) == 0 {
		span.SetStatus(codes.Ok, "nothing to delete")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.col.Delete(ctx, nil, nil, targets...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting %d documents: %w", len(targets), err)
	}

	span.SetAttributes(attribute.Int("deleted_count", len(targets)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns up to topK nearest records. Conjunctive equality
// constraints pass to chromem natively; anything richer over-fetches
// and post-filters with the compiled predicate.
func (s *ChromemStore) Query(ctx context.Context, queryText string, topK int, where Where) ([]QueryResult, error) {
	ctx, span := chromemTracer.Start(ctx, "chromem.query")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", topK))

	if strings.TrimSpace(queryText) == "" {
		span.SetStatus(codes.Error, "empty query")
		return nil, fmt.Errorf("%w: query text cannot be empty", ErrInvalidConfig)
	}
	if topK < 1 {
		span.SetStatus(codes.Error, "invalid top_k")
		return nil, fmt.Errorf("%w: topK must be >= 1, got %d", ErrInvalidConfig, topK)
	}

	pred, err := Compile(where)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	native, full := NativeEqualities(where)

	// chromem requires nResults <= document count.
	count := s.col.Count()
	if count == 0 {
		span.SetStatus(codes.Ok, "empty collection")
		return []QueryResult{}, nil
	}
	fetchK := topK
	if !full {
		fetchK = topK * 4
	}
	if fetchK > count {
		fetchK = count
	}

	var whereFilter map[string]string
	if len(native) > 0 {
		whereFilter = native
	}

	results, err := s.col.Query(ctx, queryText, fetchK, whereFilter, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	out := make([]QueryResult, 0, len(results))
	for _, r := range results {
		if !full && !pred(r.Metadata) {
			continue
		}
		out = append(out, QueryResult{
			Record: Record{ID: r.ID, Content: r.Content, Metadata: r.Metadata},
			Score:  r.Similarity,
		})
	}
	sortQueryResults(out)
	if len(out) > topK {
		out = out[:topK]
	}

	span.SetAttributes(attribute.Int("result_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// Count returns the number of stored records.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	return s.col.Count(), nil
}

// Reset drops every record and recreates the collection.
func (s *ChromemStore) Reset(ctx context.Context) error {
	ctx, span := chromemTracer.Start(ctx, "chromem.reset")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.config.Collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", s.config.Collection, err)
	}
	col, err := s.db.GetOrCreateCollection(s.config.Collection, nil, s.embedQueryFunc())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("recreating collection %s: %w", s.config.Collection, err)
	}
	s.col = col

	s.logger.Warn(ctx, "vector store reset", zap.String("collection", s.config.Collection))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Close releases resources. chromem persists on every write, so there
// is nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

// sortQueryResults orders by score descending, ties by ID ascending.
func sortQueryResults(results []QueryResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

var _ Store = (*ChromemStore)(nil)
