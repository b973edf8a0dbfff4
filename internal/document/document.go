// Package document defines the typed taxonomy stored in the memory collection.
//
// The vector store itself is schemaless: every document is an ID, a text
// body, and a flat metadata map. This package is the single source of truth
// for what those metadata maps mean, which types exist, how they are scored,
// and which invariants each type must satisfy.
package document

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// Type identifies a document's place in the taxonomy.
type Type string

const (
	// Navigation: tells the caller WHERE to look.
	TypeFileMetadata Type = "file_metadata"
	TypeDependency   Type = "dependency"
	TypeSkeleton     Type = "skeleton"

	// Usage: tells the caller HOW to use what it found.
	TypeEntryPoint   Type = "entry_point"
	TypeDataContract Type = "data_contract"
	TypeIdiom        Type = "idiom"

	// Memory: captures decisions and understanding.
	TypeNote           Type = "note"
	TypeSessionSummary Type = "session_summary"
	TypeInsight        Type = "insight"

	// Context: ambient project state.
	TypeTechStack  Type = "tech_stack"
	TypeInitiative Type = "initiative"

	// TypeCode is the content type for ingested source chunks. It sits
	// outside the eleven-type taxonomy: no preset includes it and its
	// score multiplier is the default 1.0.
	TypeCode Type = "code"
)

// Status is the lifecycle state of a document.
type Status string

const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"

	// StatusCompleted marks a finished initiative. Completion is soft:
	// the document stays in the store and search excludes it unless
	// asked to include completed work.
	StatusCompleted Status = "completed"
)

// ValidationResult records the outcome of an insight validation.
type ValidationResult string

const (
	StillValid     ValidationResult = "still_valid"
	PartiallyValid ValidationResult = "partially_valid"
	NoLongerValid  ValidationResult = "no_longer_valid"
)

// Category groups types for filtering and scoring logic.
type Category string

const (
	CategoryNavigation Category = "navigation"
	CategoryUsage      Category = "usage"
	CategoryMemory     Category = "memory"
	CategoryContext    Category = "context"
	CategoryContent    Category = "content"
)

// Metadata field keys. Values are stored as strings, bools, numbers, or
// string slices; the vector-store backends flatten them for persistence
// and the Field helpers below tolerate the round trip.
const (
	KeyType       = "type"
	KeyRepository = "repository"
	KeyBranch     = "branch"
	KeyStatus     = "status"
	KeyCreatedAt  = "created_at"
	KeyUpdatedAt  = "updated_at"
	KeyIndexedAt  = "indexed_at"

	KeyTitle          = "title"
	KeyTags           = "tags"
	KeyFiles          = "files"
	KeyFileHashes     = "file_hashes"
	KeyInitiativeID   = "initiative_id"
	KeyInitiativeName = "initiative_name"
	KeySessionID      = "session_id"

	KeyFilePath     = "file_path"
	KeyLanguage     = "language"
	KeyDescription  = "description"
	KeyExports      = "exports"
	KeyIsEntryPoint = "is_entry_point"
	KeyIsBarrel     = "is_barrel"
	KeyIsTest       = "is_test"
	KeyIsConfig     = "is_config"
	KeyFileHash     = "file_hash"
	KeyChunkIndex   = "chunk_index"

	KeyImports         = "imports"
	KeyImportedBy      = "imported_by"
	KeyImportCount     = "import_count"
	KeyImportedByCount = "imported_by_count"
	KeyImpactTier      = "impact_tier"

	KeyTotalFiles = "total_files"
	KeyTotalDirs  = "total_dirs"
	KeyTotalLines = "total_lines"

	KeyEntryType       = "entry_type"
	KeyTriggers        = "triggers"
	KeySummary         = "summary"
	KeyContractType    = "contract_type"
	KeyFields          = "fields"
	KeyValidationRules = "validation_rules"

	KeyName              = "name"
	KeyGoal              = "goal"
	KeyCompletedAt       = "completed_at"
	KeyCompletionSummary = "completion_summary"
	KeyFocusedRepository = "focused_repository"

	KeyLastValidation    = "last_validation_result"
	KeyValidationNotes   = "validation_notes"
	KeyCreatedCommit     = "created_commit"
	KeyValidatedCommit   = "validated_commit"
	KeyVerifiedAt        = "verified_at"
	KeyDeprecatedAt      = "deprecated_at"
	KeyDeprecationReason = "deprecation_reason"
	KeySupersededBy      = "superseded_by"
)

// Document is a unit of memory: identifier, text body, and typed metadata.
// Embedding is optional; when nil the store computes it from Content.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float32
}

// New builds a document with the common metadata fields populated and
// both timestamps set to now.
func New(id string, typ Type, repo, branch, content string) Document {
	now := timeNow().UTC().Format(time.RFC3339)
	return Document{
		ID:      id,
		Content: content,
		Metadata: map[string]any{
			KeyType:       string(typ),
			KeyRepository: repo,
			KeyBranch:     branch,
			KeyStatus:     string(StatusActive),
			KeyCreatedAt:  now,
			KeyUpdatedAt:  now,
			KeyIndexedAt:  now,
		},
	}
}

// Type returns the document's taxonomy type.
func (d Document) Type() Type {
	return Type(StringField(d.Metadata, KeyType))
}

// Repository returns the owning repository identifier.
func (d Document) Repository() string {
	return StringField(d.Metadata, KeyRepository)
}

// Branch returns the branch the document was recorded on.
func (d Document) Branch() string {
	return StringField(d.Metadata, KeyBranch)
}

// Status returns the lifecycle status, defaulting to active.
func (d Document) Status() Status {
	s := StringField(d.Metadata, KeyStatus)
	if s == "" {
		return StatusActive
	}
	return Status(s)
}

// Touch refreshes updated_at and indexed_at.
func (d Document) Touch() {
	now := timeNow().UTC().Format(time.RFC3339)
	d.Metadata[KeyUpdatedAt] = now
	d.Metadata[KeyIndexedAt] = now
}

// CategoryOf maps a type to its category; unknown types are content.
func CategoryOf(t Type) Category {
	switch t {
	case TypeFileMetadata, TypeDependency, TypeSkeleton:
		return CategoryNavigation
	case TypeEntryPoint, TypeDataContract, TypeIdiom:
		return CategoryUsage
	case TypeNote, TypeSessionSummary, TypeInsight:
		return CategoryMemory
	case TypeTechStack, TypeInitiative:
		return CategoryContext
	default:
		return CategoryContent
	}
}

// KnownType reports whether t is a recognized document type.
func KnownType(t Type) bool {
	switch t {
	case TypeFileMetadata, TypeDependency, TypeSkeleton,
		TypeEntryPoint, TypeDataContract, TypeIdiom,
		TypeNote, TypeSessionSummary, TypeInsight,
		TypeTechStack, TypeInitiative, TypeCode:
		return true
	}
	return false
}

// AllTypes returns every recognized type, taxonomy order, code last.
func AllTypes() []Type {
	return []Type{
		TypeFileMetadata, TypeDependency, TypeSkeleton,
		TypeEntryPoint, TypeDataContract, TypeIdiom,
		TypeNote, TypeSessionSummary, TypeInsight,
		TypeTechStack, TypeInitiative, TypeCode,
	}
}

// StringField reads a metadata value as a string.
func StringField(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	switch v := meta[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}

// BoolField reads a metadata value as a bool, tolerating the string
// encoding used by backends that store metadata as strings.
func BoolField(meta map[string]any, key string) bool {
	if meta == nil {
		return false
	}
	switch v := meta[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	default:
		return false
	}
}

// IntField reads a metadata value as an int, tolerating string and
// float encodings.
func IntField(meta map[string]any, key string) int {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			f, ferr := strconv.ParseFloat(v, 64)
			if ferr != nil {
				return 0
			}
			return int(f)
		}
		return n
	default:
		return 0
	}
}

// FloatField reads a metadata value as a float64.
func FloatField(meta map[string]any, key string) float64 {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// StringsField reads a metadata value as a string slice. It accepts
// native slices, JSON-encoded arrays, and comma-separated strings so
// values survive the string-only metadata round trip.
func StringsField(meta map[string]any, key string) []string {
	if meta == nil {
		return nil
	}
	switch v := meta[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		if strings.HasPrefix(s, "[") {
			var out []string
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}

// MapField reads a metadata value as a string map, accepting native
// maps and JSON-encoded objects. Used for file_hashes.
func MapField(meta map[string]any, key string) map[string]string {
	if meta == nil {
		return nil
	}
	switch v := meta[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, e := range v {
			if s, ok := e.(string); ok {
				out[k] = s
			}
		}
		return out
	case string:
		s := strings.TrimSpace(v)
		if !strings.HasPrefix(s, "{") {
			return nil
		}
		var out map[string]string
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil
		}
		return out
	default:
		return nil
	}
}

// TimeField parses an RFC 3339 metadata timestamp; zero time on failure.
func TimeField(meta map[string]any, key string) time.Time {
	s := StringField(meta, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Ingested legacy data may carry fractional seconds without zone.
		t, err = time.Parse("2006-01-02T15:04:05.999999999", s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}
