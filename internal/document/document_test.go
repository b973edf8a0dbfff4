package document

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsCommonMetadata(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	timeNow = func() time.Time { return fixed }
	defer func() { timeNow = time.Now }()

	doc := New("note:abcd1234", TypeNote, "recalld", "main", "remember this")

	assert.Equal(t, TypeNote, doc.Type())
	assert.Equal(t, "recalld", doc.Repository())
	assert.Equal(t, "main", doc.Branch())
	assert.Equal(t, StatusActive, doc.Status())
	assert.Equal(t, fixed, TimeField(doc.Metadata, KeyCreatedAt))
	assert.Equal(t, fixed, TimeField(doc.Metadata, KeyIndexedAt))
}

func TestShortIDFormats(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z_]+:[0-9a-f]{8}$`)
	assert.Regexp(t, pattern, NewNoteID())
	assert.Regexp(t, pattern, NewInsightID())
	assert.Regexp(t, pattern, NewSessionSummaryID())
	assert.Regexp(t, pattern, NewInitiativeID())

	// Fresh UUIDs every call.
	assert.NotEqual(t, NewNoteID(), NewNoteID())
}

func TestDeterministicIDs(t *testing.T) {
	assert.Equal(t, "recalld:tech_stack", TechStackID("recalld"))
	assert.Equal(t, "recalld:skeleton:main", SkeletonID("recalld", "main"))
	assert.Equal(t, "recalld:meta:internal/search/engine.go", FileMetadataID("recalld", "internal/search/engine.go"))
	assert.Equal(t, "recalld:dep:cmd/recalld/main.go", DependencyID("recalld", "cmd/recalld/main.go"))
	assert.Equal(t, "recalld:entry:cmd/recalld/main.go:0", EntryPointID("recalld", "cmd/recalld/main.go", 0))
	assert.Equal(t, "recalld:contract:internal/config/config.go:Config", DataContractID("recalld", "internal/config/config.go", "Config"))
	assert.Equal(t, "recalld:internal/search/engine.go:3", ChunkID("recalld", "internal/search/engine.go", 3))
}

func TestTypeMultipliers(t *testing.T) {
	assert.Equal(t, 2.0, Multiplier(TypeInsight))
	assert.Equal(t, 1.5, Multiplier(TypeNote))
	assert.Equal(t, 1.5, Multiplier(TypeSessionSummary))
	assert.Equal(t, 1.4, Multiplier(TypeEntryPoint))
	assert.Equal(t, 1.3, Multiplier(TypeFileMetadata))
	assert.Equal(t, 1.3, Multiplier(TypeDataContract))
	assert.Equal(t, 1.3, Multiplier(TypeIdiom))
	assert.Equal(t, 1.2, Multiplier(TypeTechStack))
	assert.Equal(t, 1.0, Multiplier(TypeDependency))
	assert.Equal(t, 1.0, Multiplier(TypeSkeleton))
	assert.Equal(t, 1.0, Multiplier(TypeInitiative))
	// Chunks and unknown types score unchanged.
	assert.Equal(t, 1.0, Multiplier(TypeCode))
	assert.Equal(t, 1.0, Multiplier(Type("mystery")))
}

func TestSearchPresets(t *testing.T) {
	cases := map[string][]Type{
		"understanding": {TypeInsight, TypeNote, TypeSessionSummary},
		"navigation":    {TypeFileMetadata, TypeEntryPoint, TypeDataContract, TypeIdiom},
		"structure":     {TypeFileMetadata, TypeDependency, TypeSkeleton},
		"trace":         {TypeEntryPoint, TypeDependency, TypeDataContract},
		"memory":        {TypeInsight, TypeNote, TypeSessionSummary, TypeFileMetadata},
	}
	for name, want := range cases {
		got, ok := PresetTypes(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := PresetTypes("everything")
	assert.False(t, ok)
}

func TestBranchFilteredTypes(t *testing.T) {
	for _, typ := range []Type{TypeSkeleton, TypeFileMetadata, TypeDataContract, TypeEntryPoint, TypeDependency} {
		assert.True(t, BranchFiltered(typ), typ)
	}
	for _, typ := range []Type{TypeNote, TypeInsight, TypeSessionSummary, TypeTechStack, TypeInitiative, TypeIdiom, TypeCode} {
		assert.False(t, BranchFiltered(typ), typ)
	}

	cross := CrossBranchTypes()
	assert.Contains(t, cross, TypeNote)
	assert.Contains(t, cross, TypeCode)
	assert.NotContains(t, cross, TypeSkeleton)
}

func TestRecencyBoostedTypes(t *testing.T) {
	assert.True(t, RecencyBoosted(TypeNote))
	assert.True(t, RecencyBoosted(TypeSessionSummary))
	assert.False(t, RecencyBoosted(TypeInsight))
	assert.False(t, RecencyBoosted(TypeCode))
}

func TestImpactTiers(t *testing.T) {
	assert.Equal(t, ImpactHigh, TierForCount(6))
	assert.Equal(t, ImpactHigh, TierForCount(100))
	assert.Equal(t, ImpactMedium, TierForCount(5))
	assert.Equal(t, ImpactMedium, TierForCount(2))
	assert.Equal(t, ImpactLow, TierForCount(1))
	assert.Equal(t, ImpactLow, TierForCount(0))
}

func TestCategories(t *testing.T) {
	assert.Equal(t, CategoryNavigation, CategoryOf(TypeSkeleton))
	assert.Equal(t, CategoryUsage, CategoryOf(TypeIdiom))
	assert.Equal(t, CategoryMemory, CategoryOf(TypeInsight))
	assert.Equal(t, CategoryContext, CategoryOf(TypeInitiative))
	assert.Equal(t, CategoryContent, CategoryOf(TypeCode))
}

func TestFieldHelpersRoundTrip(t *testing.T) {
	// Backends that persist metadata as strings hand back flattened
	// values; the helpers must recover them.
	meta := map[string]any{
		"native_bool":  true,
		"string_bool":  "true",
		"native_int":   42,
		"string_int":   "42",
		"float_int":    float64(42),
		"native_slice": []string{"a.go", "b.go"},
		"any_slice":    []any{"a.go", "b.go"},
		"json_slice":   `["a.go","b.go"]`,
		"csv_slice":    "a.go, b.go",
		"json_map":     `{"a.go":"deadbeef"}`,
		"native_map":   map[string]string{"a.go": "deadbeef"},
		"any_map":      map[string]any{"a.go": "deadbeef"},
		"native_float": 0.5,
		"string_float": "0.5",
		"rfc3339":      "2026-03-14T09:26:53Z",
	}

	assert.True(t, BoolField(meta, "native_bool"))
	assert.True(t, BoolField(meta, "string_bool"))
	assert.False(t, BoolField(meta, "missing"))

	assert.Equal(t, 42, IntField(meta, "native_int"))
	assert.Equal(t, 42, IntField(meta, "string_int"))
	assert.Equal(t, 42, IntField(meta, "float_int"))
	assert.Equal(t, 0, IntField(meta, "missing"))

	want := []string{"a.go", "b.go"}
	assert.Equal(t, want, StringsField(meta, "native_slice"))
	assert.Equal(t, want, StringsField(meta, "any_slice"))
	assert.Equal(t, want, StringsField(meta, "json_slice"))
	assert.Equal(t, want, StringsField(meta, "csv_slice"))
	assert.Nil(t, StringsField(meta, "missing"))

	hashes := map[string]string{"a.go": "deadbeef"}
	assert.Equal(t, hashes, MapField(meta, "json_map"))
	assert.Equal(t, hashes, MapField(meta, "native_map"))
	assert.Equal(t, hashes, MapField(meta, "any_map"))

	assert.Equal(t, 0.5, FloatField(meta, "native_float"))
	assert.Equal(t, 0.5, FloatField(meta, "string_float"))

	ts := TimeField(meta, "rfc3339")
	assert.Equal(t, 2026, ts.Year())
	assert.True(t, TimeField(meta, "missing").IsZero())
}

func TestValidate(t *testing.T) {
	valid := New(NewNoteID(), TypeNote, "recalld", "main", "body")
	require.NoError(t, Validate(valid))

	t.Run("missing id", func(t *testing.T) {
		d := New("", TypeNote, "recalld", "main", "body")
		assert.Error(t, Validate(d))
	})

	t.Run("unknown type", func(t *testing.T) {
		d := New("x:1", Type("commitish"), "recalld", "main", "body")
		assert.Error(t, Validate(d))
	})

	t.Run("bad status", func(t *testing.T) {
		d := New("x:1", TypeNote, "recalld", "main", "body")
		d.Metadata[KeyStatus] = "archived"
		assert.Error(t, Validate(d))
	})

	t.Run("missing branch", func(t *testing.T) {
		d := New("x:1", TypeNote, "recalld", "", "body")
		assert.Error(t, Validate(d))
	})

	t.Run("insight without files", func(t *testing.T) {
		d := New(NewInsightID(), TypeInsight, "recalld", "main", "body")
		assert.Error(t, Validate(d))

		d.Metadata[KeyFiles] = []string{"a.go"}
		assert.NoError(t, Validate(d))
	})

	t.Run("initiative without name", func(t *testing.T) {
		d := New(NewInitiativeID(), TypeInitiative, "recalld", "main", "goal text")
		assert.Error(t, Validate(d))

		d.Metadata[KeyName] = "auth revamp"
		assert.NoError(t, Validate(d))
	})

	t.Run("completed status only on initiatives", func(t *testing.T) {
		d := New(NewInitiativeID(), TypeInitiative, "recalld", "main", "goal text")
		d.Metadata[KeyName] = "auth revamp"
		d.Metadata[KeyStatus] = string(StatusCompleted)
		assert.NoError(t, Validate(d))

		n := New(NewNoteID(), TypeNote, "recalld", "main", "body")
		n.Metadata[KeyStatus] = string(StatusCompleted)
		assert.Error(t, Validate(n))
	})

	t.Run("superseded_by requires deprecated", func(t *testing.T) {
		d := New(NewInsightID(), TypeInsight, "recalld", "main", "body")
		d.Metadata[KeyFiles] = []string{"a.go"}
		d.Metadata[KeySupersededBy] = "insight:deadbeef"
		assert.Error(t, Validate(d))

		d.Metadata[KeyStatus] = string(StatusDeprecated)
		assert.NoError(t, Validate(d))
	})
}
