package vectorstore

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestQdrantConfigDefaults(t *testing.T) {
	cfg := QdrantConfig{}
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "recalld", cfg.Collection)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, 50*1024*1024, cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.CircuitBreakerThreshold)
}

func TestQdrantConfigValidate(t *testing.T) {
	valid := QdrantConfig{Host: "localhost", Port: 6334, Collection: "recalld", VectorSize: 384}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*QdrantConfig)
	}{
		{"missing host", func(c *QdrantConfig) { c.Host = "" }},
		{"bad port", func(c *QdrantConfig) { c.Port = 70000 }},
		{"missing vector size", func(c *QdrantConfig) { c.VectorSize = 0 }},
		{"bad collection", func(c *QdrantConfig) { c.Collection = "No Spaces Allowed" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateCollectionName(t *testing.T) {
	require.NoError(t, ValidateCollectionName("recalld_test_1"))

	for _, name := range []string{"", "UPPER", "has space", "dash-ed", "../etc", strings.Repeat("a", 65)} {
		err := ValidateCollectionName(name)
		require.Error(t, err, "name %q", name)
		assert.ErrorIs(t, err, ErrInvalidCollectionName)
	}
}

func TestIsTransientError(t *testing.T) {
	assert.False(t, IsTransientError(nil))
	assert.False(t, IsTransientError(errors.New("plain error")))

	assert.True(t, IsTransientError(status.Error(grpccodes.Unavailable, "down")))
	assert.True(t, IsTransientError(status.Error(grpccodes.DeadlineExceeded, "slow")))
	assert.True(t, IsTransientError(status.Error(grpccodes.Aborted, "conflict")))
	assert.True(t, IsTransientError(status.Error(grpccodes.ResourceExhausted, "full")))

	assert.False(t, IsTransientError(status.Error(grpccodes.InvalidArgument, "bad")))
	assert.False(t, IsTransientError(status.Error(grpccodes.NotFound, "missing")))
	assert.False(t, IsTransientError(status.Error(grpccodes.PermissionDenied, "no")))
}

func TestPointIDDeterministic(t *testing.T) {
	a := pointID("note:aaaa1111")
	b := pointID("note:aaaa1111")
	c := pointID("note:bbbb2222")

	assert.Equal(t, a.GetUuid(), b.GetUuid())
	assert.NotEqual(t, a.GetUuid(), c.GetUuid())
}

func TestDecodePayload(t *testing.T) {
	payload := map[string]*qdrant.Value{
		"id":      {Kind: &qdrant.Value_StringValue{StringValue: "note:aaaa1111"}},
		"content": {Kind: &qdrant.Value_StringValue{StringValue: "hello"}},
		"type":    {Kind: &qdrant.Value_StringValue{StringValue: "note"}},
		"ignored": {Kind: &qdrant.Value_IntegerValue{IntegerValue: 7}},
	}

	id, content, meta := decodePayload(payload)
	assert.Equal(t, "note:aaaa1111", id)
	assert.Equal(t, "hello", content)
	assert.Equal(t, map[string]string{"type": "note"}, meta)
}

func TestBuildQdrantFilter(t *testing.T) {
	t.Run("nil for empty inputs", func(t *testing.T) {
		f, err := buildQdrantFilter(nil, nil)
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("ids become keyword set match", func(t *testing.T) {
		f, err := buildQdrantFilter([]string{"a", "b"}, nil)
		require.NoError(t, err)
		require.Len(t, f.Must, 1)

		field := f.Must[0].GetField()
		require.NotNil(t, field)
		assert.Equal(t, "id", field.Key)
		assert.Equal(t, []string{"a", "b"}, field.Match.GetKeywords().Strings)
	})

	t.Run("equality becomes keyword match", func(t *testing.T) {
		f, err := buildQdrantFilter(nil, Where{"type": "note"})
		require.NoError(t, err)
		require.Len(t, f.Must, 1)

		inner := f.Must[0].GetFilter()
		require.NotNil(t, inner)
		require.Len(t, inner.Must, 1)
		field := inner.Must[0].GetField()
		assert.Equal(t, "type", field.Key)
		assert.Equal(t, "note", field.Match.GetKeyword())
	})

	t.Run("ne becomes must_not", func(t *testing.T) {
		f, err := buildQdrantFilter(nil, Where{"status": map[string]any{"$ne": "completed"}})
		require.NoError(t, err)

		inner := f.Must[0].GetFilter()
		require.NotNil(t, inner)
		require.Len(t, inner.MustNot, 1)
		field := inner.MustNot[0].GetField()
		assert.Equal(t, "status", field.Key)
		assert.Equal(t, "completed", field.Match.GetKeyword())
	})

	t.Run("or becomes should", func(t *testing.T) {
		f, err := buildQdrantFilter(nil, Where{"$or": []Where{
			{"type": "note"},
			{"cross_branch": "true"},
		}})
		require.NoError(t, err)

		inner := f.Must[0].GetFilter()
		require.NotNil(t, inner)
		assert.Empty(t, inner.Must)
		assert.Len(t, inner.Should, 2)
	})

	t.Run("invalid clause propagates", func(t *testing.T) {
		_, err := buildQdrantFilter(nil, Where{"type": map[string]any{"$gt": "x"}})
		assert.ErrorIs(t, err, ErrInvalidWhere)
	})
}
