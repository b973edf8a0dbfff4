package capture

import (
	"fmt"

	"github.com/fyrsmithlabs/recalld/internal/config"
)

// Significance is the scored gate decision for one transcript. A
// session is summarized only when every threshold is met; Reason names
// the first one that was not.
type Significance struct {
	Tokens          int    `json:"tokens"`
	ToolCalls       int    `json:"tool_calls"`
	FileEdits       int    `json:"file_edits"`
	DurationSeconds int    `json:"duration_seconds"`
	Significant     bool   `json:"significant"`
	Reason          string `json:"reason,omitempty"`
}

// Score computes the significance gate for a transcript against the
// capture thresholds.
func Score(t *Transcript, settings config.CaptureSettings) Significance {
	sig := Significance{
		Tokens:          t.TokenCount(),
		ToolCalls:       t.ToolCallCount(),
		FileEdits:       len(t.ChangedFiles()),
		DurationSeconds: int(t.Duration().Seconds()),
	}
	switch {
	case sig.Tokens < settings.MinTokens:
		sig.Reason = fmt.Sprintf("tokens %d below threshold %d", sig.Tokens, settings.MinTokens)
	case sig.ToolCalls < settings.MinToolCalls:
		sig.Reason = fmt.Sprintf("tool calls %d below threshold %d", sig.ToolCalls, settings.MinToolCalls)
	case sig.FileEdits < settings.MinFileEdits:
		sig.Reason = fmt.Sprintf("file edits %d below threshold %d", sig.FileEdits, settings.MinFileEdits)
	default:
		sig.Significant = true
	}
	return sig
}
