package secrets

import "time"

// Result contains the scrubbing outcome.
type Result struct {
	// Original is the original input content
	Original string `json:"-"`

	// Scrubbed is the content with secrets replaced by redaction tokens
	Scrubbed string `json:"scrubbed"`

	// Findings contains the detected secrets (without actual values)
	Findings []Finding `json:"findings,omitempty"`

	// TotalFindings is the count of secrets found
	TotalFindings int `json:"total_findings"`

	// ByRule maps rule IDs to finding counts
	ByRule map[string]int `json:"by_rule,omitempty"`

	// Duration is how long scrubbing took
	Duration time.Duration `json:"duration"`
}

// Finding records a detected secret. The matched value is never stored.
type Finding struct {
	// RuleID identifies which rule matched. Backstop findings carry the
	// gitleaks rule ID.
	RuleID string `json:"rule_id"`

	// Description explains what was found
	Description string `json:"description"`

	// StartIndex and EndIndex locate the match in the content the rule
	// ran against. Backstop findings report -1 because the backstop
	// scans already-scrubbed text.
	StartIndex int `json:"start_index"`
	EndIndex   int `json:"end_index"`

	// Line is the 1-indexed line number
	Line int `json:"line,omitempty"`
}

// HasFindings returns true if any secrets were found.
func (r *Result) HasFindings() bool {
	return r.TotalFindings > 0
}

// RuleIDs returns the unique rule IDs that matched.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	return ids
}
