// Package vectorstore provides the persistent document store backing
// recalld's memory: a narrow Store interface with chromem-go (default,
// embedded) and Qdrant (optional, gRPC) implementations.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for store operations.
var (
	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidWhere indicates a malformed where clause.
	ErrInvalidWhere = errors.New("invalid where clause")
)

// collectionNamePattern validates collection names: lowercase letters,
// numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName rejects names that could smuggle paths or
// break backend naming rules.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// embedMissing fills nil document embeddings with one batched call.
func embedMissing(ctx context.Context, embedder Embedder, docs []Document) error {
	var texts []string
	var indices []int
	for i, doc := range docs {
		if len(doc.Embedding) == 0 {
			texts = append(texts, doc.Content)
			indices = append(indices, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(vecs), len(texts))
	}
	for j, i := range indices {
		docs[i].Embedding = vecs[j]
	}
	return nil
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector size.
	Dimension() int
}

// Document is a unit of storage. Metadata values are strings; list and
// map fields are JSON-encoded by the document layer before they get here.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string

	// Embedding is optional; when nil the store computes it through
	// its configured embedder.
	Embedding []float32
}

// Record is a stored document as returned by Get.
type Record struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// QueryResult is a nearest-neighbor hit with its similarity score.
type QueryResult struct {
	Record
	Score float32
}

// Store is the narrow persistence interface the rest of the daemon
// depends on. The store is a single flat collection; typing and scoping
// live entirely in document metadata.
//
// All operations are idempotent by document ID. Conflicting same-ID
// writes serialize inside the adapter.
//
// Implementations:
//   - ChromemStore: embedded chromem-go persistent DB (default)
//   - QdrantStore: external Qdrant over gRPC
type Store interface {
	// Upsert inserts or replaces documents by ID. Documents without an
	// embedding are embedded in one batch before the write.
	Upsert(ctx context.Context, docs []Document) error

	// Get returns stored records matching ids and/or where. Nil ids
	// with a nil where returns every record. Results sort by ID.
	Get(ctx context.Context, ids []string, where Where) ([]Record, error)

	// Delete removes records matching ids and/or where. When both are
	// given, only records satisfying both go away. Deleting nothing is
	// not an error.
	Delete(ctx context.Context, ids []string, where Where) error

	// Query returns up to topK records nearest to queryText, most
	// similar first, restricted to records matching where. An empty
	// collection yields an empty result.
	Query(ctx context.Context, queryText string, topK int, where Where) ([]QueryResult, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Reset drops every record. Test and migration support.
	Reset(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
