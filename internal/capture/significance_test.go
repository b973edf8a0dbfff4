package capture

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/recalld/internal/config"
)

// fakeTranscript builds a transcript with exactly the given token count,
// tool call count, and file edit count. Edits are counted among the calls.
func fakeTranscript(tokens, toolCalls, fileEdits int) *Transcript {
	tr := &Transcript{SessionID: "sess-fake"}
	tr.Messages = append(tr.Messages, Message{
		Role:    "user",
		Content: strings.Repeat("x", tokens*4),
	})
	for i := 0; i < toolCalls; i++ {
		call := ToolCall{Name: "Bash", Input: map[string]any{"command": "true"}}
		if i < fileEdits {
			call = ToolCall{Name: "Edit", Input: map[string]any{"file_path": fmt.Sprintf("pkg/file%d.go", i)}}
		}
		tr.ToolCalls = append(tr.ToolCalls, call)
	}
	return tr
}

func TestScore(t *testing.T) {
	settings := config.CaptureSettings{MinTokens: 5000, MinToolCalls: 3, MinFileEdits: 1}

	tests := []struct {
		name        string
		transcript  *Transcript
		significant bool
		reason      string
	}{
		{"meets all thresholds", fakeTranscript(5000, 3, 1), true, ""},
		{"below token floor", fakeTranscript(4999, 3, 1), false, "tokens"},
		{"below tool call floor", fakeTranscript(5000, 2, 1), false, "tool calls"},
		{"below file edit floor", fakeTranscript(5000, 3, 0), false, "file edits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Score(tt.transcript, settings)
			assert.Equal(t, tt.significant, sig.Significant)
			if tt.reason == "" {
				assert.Empty(t, sig.Reason)
			} else {
				assert.Contains(t, sig.Reason, tt.reason)
			}
		})
	}
}

func TestScoreCounts(t *testing.T) {
	tr := fakeTranscript(100, 4, 2)
	tr.Start = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tr.End = tr.Start.Add(90 * time.Second)

	sig := Score(tr, config.CaptureSettings{})
	assert.Equal(t, 100, sig.Tokens)
	assert.Equal(t, 4, sig.ToolCalls)
	assert.Equal(t, 2, sig.FileEdits)
	assert.Equal(t, 90, sig.DurationSeconds)
	assert.True(t, sig.Significant, "zero thresholds pass everything")
}

func TestScoreReasonNamesThreshold(t *testing.T) {
	sig := Score(fakeTranscript(10, 0, 0), config.CaptureSettings{MinTokens: 500})
	assert.Equal(t, "tokens 10 below threshold 500", sig.Reason)
}
