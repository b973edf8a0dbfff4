package document

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// shortHash returns the first 8 hex characters of a fresh UUID.
func shortHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewNoteID mints a note identifier.
func NewNoteID() string { return "note:" + shortHash() }

// NewInsightID mints an insight identifier.
func NewInsightID() string { return "insight:" + shortHash() }

// NewSessionSummaryID mints a session summary identifier.
func NewSessionSummaryID() string { return "session_summary:" + shortHash() }

// NewInitiativeID mints an initiative identifier.
func NewInitiativeID() string { return "initiative:" + shortHash() }

// TechStackID is the singleton tech-stack document for a repository.
func TechStackID(repo string) string {
	return repo + ":tech_stack"
}

// SkeletonID is the singleton skeleton document per (repo, branch).
func SkeletonID(repo, branch string) string {
	return fmt.Sprintf("%s:skeleton:%s", repo, branch)
}

// FileMetadataID is deterministic per (repo, path).
func FileMetadataID(repo, path string) string {
	return fmt.Sprintf("%s:meta:%s", repo, path)
}

// DependencyID is deterministic per (repo, path).
func DependencyID(repo, path string) string {
	return fmt.Sprintf("%s:dep:%s", repo, path)
}

// EntryPointID is deterministic per (repo, path, ordinal).
func EntryPointID(repo, path string, n int) string {
	return fmt.Sprintf("%s:entry:%s:%d", repo, path, n)
}

// DataContractID is deterministic per (repo, path, contract name).
func DataContractID(repo, path, name string) string {
	return fmt.Sprintf("%s:contract:%s:%s", repo, path, name)
}

// ChunkID identifies the idx-th content chunk of a file.
func ChunkID(repo, path string, idx int) string {
	return fmt.Sprintf("%s:%s:%d", repo, path, idx)
}
