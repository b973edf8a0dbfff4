package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("recalld.vectorstore.qdrant")

// pointIDNamespace derives deterministic Qdrant point UUIDs from
// document IDs, so re-upserting a document overwrites its point
// instead of duplicating it.
var pointIDNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost"
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port. Default: 6334
	Port int `koanf:"port"`

	// APIKey authenticates against managed Qdrant deployments. Empty
	// for local servers.
	APIKey string `koanf:"api_key"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// Collection is the collection name. Default: "recalld"
	Collection string `koanf:"collection"`

	// VectorSize is the embedding dimension. Defaults to the
	// embedder's dimension at construction.
	VectorSize int `koanf:"vector_size"`

	// MaxRetries is the max retry count for transient failures.
	// Default: 3
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff, doubling per retry.
	// Default: 1s
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// MaxMessageSize is the max gRPC message size in bytes.
	// Default: 50MB, large enough for chunked repository batches.
	MaxMessageSize int `koanf:"max_message_size"`

	// CircuitBreakerThreshold is the failure count that opens the
	// circuit. Default: 5
	CircuitBreakerThreshold int `koanf:"circuit_breaker_threshold"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "recalld"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// IsTransientError reports whether an error is worth retrying: network
// timeouts and temporary unavailability, not invalid arguments or
// permission failures.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore implements Store against an external Qdrant server over
// native gRPC (port 6334). Binary protobuf transport avoids the 256kB
// HTTP payload limit that breaks large ingest batches.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *logging.Logger

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantStore connects to Qdrant, verifies health, and ensures the
// configured collection exists.
func NewQdrantStore(config QdrantConfig, embedder Embedder, logger *logging.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	config.ApplyDefaults()
	if config.VectorSize == 0 {
		config.VectorSize = embedder.Dimension()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger.Named("vectorstore"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.healthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	if !config.UseTLS {
		s.logger.Warn(ctx, "qdrant gRPC using plaintext, enable use_tls for remote servers",
			zap.String("host", config.Host))
	}
	return s, nil
}

// healthCheck verifies the Qdrant connection.
func (s *QdrantStore) healthCheck(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "qdrant.health_check")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// ensureCollection creates the collection if it does not exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// retryOperation retries an operation with exponential backoff on
// transient errors, guarded by a circuit breaker.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}

		if s.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", operationName)
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}
		s.recordFailure()

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		// Half-open after 30 seconds.
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// pointID derives the deterministic point UUID for a document ID.
func pointID(docID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointIDNamespace, []byte(docID)).String())
}

// Upsert inserts or replaces documents by ID.
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document) error {
	ctx, span := qdrantTracer.Start(ctx, "qdrant.upsert")
	defer span.End()
	span.SetAttributes(
		attribute.Int("document_count", len(docs)),
		attribute.String("collection", s.config.Collection),
	)

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

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		payload := make(map[string]*qdrant.Value, len(doc.Metadata)+2)
		payload["id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: doc.ID}}
		payload["content"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: doc.Content}}
		for k, v := range doc.Metadata {
			if k == "id" || k == "content" {
				continue
			}
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}

		points[i] = &qdrant.PointStruct{
			Id:      pointID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: payload,
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Get returns stored records matching ids and/or where, sorted by ID.
// The where clause compiles to a native Qdrant filter; Get scrolls the
// collection page by page.
func (s *QdrantStore) Get(ctx context.Context, ids []string, where Where) ([]Record, error) {
	ctx, span := qdrantTracer.Start(ctx, "qdrant.get")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	filter, err := buildQdrantFilter(ids, where)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	const pageSize = 256
	var records []Record
	var offset *qdrant.PointId
	for {
		var points []*qdrant.RetrievedPoint
		var next *qdrant.PointId
		err := s.retryOperation(ctx, "scroll", func() error {
			var scrollErr error
			points, next, scrollErr = s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: s.config.Collection,
				Offset:         offset,
				Limit:          qdrant.PtrOf(uint32(pageSize)),
				Filter:         filter,
				WithPayload:    qdrant.NewWithPayload(true),
			})
			return scrollErr
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scrolling collection: %w", err)
		}

		for _, p := range points {
			id, content, meta := decodePayload(p.GetPayload())
			records = append(records, Record{ID: id, Content: content, Metadata: meta})
		}
		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	span.SetAttributes(attribute.Int("record_count", len(records)))
	span.SetStatus(codes.Ok, "success")
	return records, nil
}

// Delete removes records matching ids and/or where.
func (s *QdrantStore) Delete(ctx context.Context, ids []string, where Where) error {
	ctx, span := qdrantTracer.Start(ctx, "qdrant.delete")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 && len(where) == 0 {
		span.SetStatus(codes.Ok, "nothing to delete")
		return nil
	}

	filter, err := buildQdrantFilter(ids, where)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	err = s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns up to topK nearest records, filtered natively.
func (s *QdrantStore) Query(ctx context.Context, queryText string, topK int, where Where) ([]QueryResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "qdrant.query")
	defer span.End()
	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.String("collection", s.config.Collection),
	)

	if strings.TrimSpace(queryText) == "" {
		span.SetStatus(codes.Error, "empty query")
		return nil, fmt.Errorf("%w: query text cannot be empty", ErrInvalidConfig)
	}
	if topK < 1 {
		span.SetStatus(codes.Error, "invalid top_k")
		return nil, fmt.Errorf("%w: topK must be >= 1, got %d", ErrInvalidConfig, topK)
	}
	const maxK = 10000
	if topK > maxK {
		topK = maxK
	}

	filter, err := buildQdrantFilter(nil, where)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var results []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(queryVector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filter,
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	out := make([]QueryResult, 0, len(results))
	for _, point := range results {
		id, content, meta := decodePayload(point.GetPayload())
		out = append(out, QueryResult{
			Record: Record{ID: id, Content: content, Metadata: meta},
			Score:  point.Score,
		})
	}
	sortQueryResults(out)

	span.SetAttributes(attribute.Int("result_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// Count returns the number of stored records.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "qdrant.count")
	defer span.End()

	info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("getting collection info: %w", err)
	}

	count := int(info.GetPointsCount())
	span.SetAttributes(attribute.Int("point_count", count))
	span.SetStatus(codes.Ok, "success")
	return count, nil
}

// Reset drops every record and recreates the collection.
func (s *QdrantStore) Reset(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "qdrant.reset")
	defer span.End()

	if err := s.client.DeleteCollection(ctx, s.config.Collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", s.config.Collection, err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.logger.Warn(ctx, "vector store reset", zap.String("collection", s.config.Collection))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// decodePayload splits a point payload into ID, content and metadata.
func decodePayload(payload map[string]*qdrant.Value) (id, content string, meta map[string]string) {
	meta = make(map[string]string, len(payload))
	for k, v := range payload {
		sv, ok := v.GetKind().(*qdrant.Value_StringValue)
		if !ok {
			continue
		}
		switch k {
		case "id":
			id = sv.StringValue
		case "content":
			content = sv.StringValue
		default:
			meta[k] = sv.StringValue
		}
	}
	return id, content, meta
}

// buildQdrantFilter compiles ids plus a where clause into a native
// Qdrant filter. Returns nil when both are empty.
func buildQdrantFilter(ids []string, where Where) (*qdrant.Filter, error) {
	var must []*qdrant.Condition
	if len(ids) > 0 {
		must = append(must, matchAnyCondition("id", ids))
	}
	if len(where) > 0 {
		f, err := whereToFilter(where)
		if err != nil {
			return nil, err
		}
		must = append(must, filterCondition(f))
	}
	if len(must) == 0 {
		return nil, nil
	}
	return &qdrant.Filter{Must: must}, nil
}

// whereToFilter translates a where clause into a Qdrant filter. Every
// shape Compile accepts is expressible natively, so no post-filtering
// pass is needed on this backend.
func whereToFilter(w Where) (*qdrant.Filter, error) {
	// Compile validates the clause shape.
	if _, err := Compile(w); err != nil {
		return nil, err
	}

	var must []*qdrant.Condition
	var mustNot []*qdrant.Condition
	var should []*qdrant.Condition

	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := w[key]
		switch key {
		case "$and":
			clauses, err := subClauses(key, value)
			if err != nil {
				return nil, err
			}
			for _, c := range clauses {
				sub, err := whereToFilter(c)
				if err != nil {
					return nil, err
				}
				must = append(must, filterCondition(sub))
			}

		case "$or":
			clauses, err := subClauses(key, value)
			if err != nil {
				return nil, err
			}
			for _, c := range clauses {
				sub, err := whereToFilter(c)
				if err != nil {
					return nil, err
				}
				should = append(should, filterCondition(sub))
			}

		default:
			switch v := value.(type) {
			case string:
				must = append(must, matchCondition(key, v))
			case map[string]any:
				for op, operand := range v {
					switch op {
					case "$eq":
						must = append(must, matchCondition(key, operand.(string)))
					case "$ne":
						mustNot = append(mustNot, matchCondition(key, operand.(string)))
					case "$in":
						values, err := stringSlice(operand)
						if err != nil {
							return nil, fmt.Errorf("%w: field %q $in: %v", ErrInvalidWhere, key, err)
						}
						must = append(must, matchAnyCondition(key, values))
					}
				}
			}
		}
	}

	return &qdrant.Filter{Must: must, MustNot: mustNot, Should: should}, nil
}

func matchCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func matchAnyCondition(key string, values []string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{
						Keywords: &qdrant.RepeatedStrings{Strings: values},
					},
				},
			},
		},
	}
}

func filterCondition(f *qdrant.Filter) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Filter{Filter: f},
	}
}

var _ Store = (*QdrantStore)(nil)
