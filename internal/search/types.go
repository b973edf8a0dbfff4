package search

import (
	"github.com/fyrsmithlabs/recalld/internal/document"
)

// Options narrow and shape a single search call. The zero value searches
// everything visible from the detected branch with config-driven tuning.
type Options struct {
	// Repository restricts results to one repository and anchors the
	// context attachments. Empty means all repositories; attachments
	// then follow the top result.
	Repository string

	// Branch overrides branch detection. Empty means detect from the
	// engine's working directory.
	Branch string

	// MinScore overrides the configured threshold for this call only.
	MinScore *float64

	// Types restricts results to the given document types. Ignored when
	// Preset is set.
	Types []document.Type

	// Preset names a predefined type bundle (understanding, navigation,
	// structure, trace, memory). Wins over Types.
	Preset string

	// Initiative restricts results to documents tagged with this
	// initiative id and directs the affinity boost.
	Initiative string

	// ExcludeCompleted hides documents belonging to completed
	// initiatives. The zero value keeps them visible.
	ExcludeCompleted bool

	// Rebuild forces a lexical index rebuild before the lexical leg runs.
	Rebuild bool
}

// Result is one scored hit.
type Result struct {
	ID       string         `json:"id"`
	Type     document.Type  `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Score is the final shaped score, rounded to 4 decimals.
	Score float64 `json:"score"`

	// Pipeline diagnostics. Ranks are 1-indexed; 0 means the document
	// was absent from that retrieval leg.
	RRFScore     float64 `json:"rrf_score,omitempty"`
	RerankScore  float64 `json:"rerank_score,omitempty"`
	VectorRank   int     `json:"vector_rank,omitempty"`
	BM25Rank     int     `json:"bm25_rank,omitempty"`
	RecencyBoost float64 `json:"recency_boost,omitempty"`
}

// Skeleton is the directory-tree attachment returned alongside results.
type Skeleton struct {
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	TotalFiles int    `json:"total_files"`
	TotalDirs  int    `json:"total_dirs"`
	Tree       string `json:"tree"`
}

// TechStack is the stack summary attachment.
type TechStack struct {
	Content   string `json:"content"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// InitiativeSummary is the focused-initiative attachment.
type InitiativeSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Goal      string `json:"goal,omitempty"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ProjectContext bundles the non-ranked repository context.
type ProjectContext struct {
	Repository string             `json:"repository"`
	TechStack  *TechStack         `json:"tech_stack,omitempty"`
	Initiative *InitiativeSummary `json:"initiative,omitempty"`
}

// Response is a completed search. Skeleton and ProjectContext are
// payload, not ranked results.
type Response struct {
	Query           string          `json:"query"`
	Results         []Result        `json:"results"`
	TotalCandidates int             `json:"total_candidates"`
	Returned        int             `json:"returned"`
	Branch          string          `json:"branch_context,omitempty"`
	Skeleton        *Skeleton       `json:"project_skeleton,omitempty"`
	ProjectContext  *ProjectContext `json:"project_context,omitempty"`

	// Message guides the caller when the store has nothing to search.
	Message string `json:"message,omitempty"`
}
