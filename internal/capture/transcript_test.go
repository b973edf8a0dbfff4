package capture

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/errs"
)

const blockTranscript = `{"timestamp": 1700000000000, "cwd": "/home/dev/projects/billing", "message": {"role": "user", "content": "Fix the login timeout bug."}}
{"timestamp": 1700000300000, "message": {"role": "assistant", "content": [{"type": "text", "text": "Looking at the session handling now."}, {"type": "tool_use", "name": "Edit", "input": {"file_path": "auth/session.py"}}, {"type": "tool_use", "name": "Bash", "input": {"command": "pytest"}}]}}
{"timestamp": 1700000600000, "message": {"role": "assistant", "content": [{"type": "text", "text": "Done."}, {"type": "tool_result", "content": "2 passed"}]}}
`

func TestParseContentBlocks(t *testing.T) {
	tr := Parse(blockTranscript, "sess-1")

	assert.Equal(t, "sess-1", tr.SessionID)
	assert.Equal(t, "/home/dev/projects/billing", tr.ProjectPath)

	require.Len(t, tr.Messages, 3)
	assert.Equal(t, "user", tr.Messages[0].Role)
	assert.Equal(t, "Fix the login timeout bug.", tr.Messages[0].Content)
	assert.Equal(t, "Looking at the session handling now.", tr.Messages[1].Content)
	require.Len(t, tr.Messages[1].ToolCalls, 2)
	assert.Equal(t, "Edit", tr.Messages[1].ToolCalls[0].Name)
	assert.Equal(t, "Bash", tr.Messages[1].ToolCalls[1].Name)
	assert.Equal(t, "Done.", tr.Messages[2].Content)

	assert.Equal(t, 2, tr.ToolCallCount())
	assert.Equal(t, []string{"auth/session.py"}, tr.ChangedFiles())

	// 26 + 36 + 5 chars across the three messages, divided by four each.
	assert.Equal(t, 16, tr.TokenCount())
	assert.Equal(t, 10*time.Minute, tr.Duration())
}

func TestParseLegacyToolUse(t *testing.T) {
	content := `{"timestamp": 1699999000000, "type": "assistant", "display": "Patched the config loader.", "toolUse": [{"name": "Write", "input": {"file_path": "config/loader.go"}}, {"name": "Read", "input": {"file_path": "go.mod"}}]}
`
	tr := Parse(content, "legacy")

	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "assistant", tr.Messages[0].Role)
	assert.Equal(t, "Patched the config loader.", tr.Messages[0].Content)
	assert.Equal(t, 2, tr.ToolCallCount())
	assert.Equal(t, []string{"config/loader.go"}, tr.ChangedFiles())
}

func TestParseSkipsMalformedLines(t *testing.T) {
	content := `{"message": {"role": "user", "content": "first"}}
{not json
{"message": {"role": "user", "content": "second"}}
`
	tr := Parse(content, "s")
	require.Len(t, tr.Messages, 2)
	assert.Equal(t, "first", tr.Messages[0].Content)
	assert.Equal(t, "second", tr.Messages[1].Content)
}

func TestParseNoTimestamps(t *testing.T) {
	tr := Parse(`{"message": {"role": "user", "content": "hi"}}`, "s")
	assert.Equal(t, time.Duration(0), tr.Duration())
	assert.True(t, tr.Start.IsZero())
}

func TestChangedFilesDedupAndSort(t *testing.T) {
	tr := &Transcript{ToolCalls: []ToolCall{
		{Name: "Write", Input: map[string]any{"file_path": "z.go"}},
		{Name: "Edit", Input: map[string]any{"file_path": "a.go"}},
		{Name: "Write", Input: map[string]any{"file_path": "z.go"}},
		{Name: "NotebookEdit", Input: map[string]any{"notebook_path": "analysis.ipynb"}},
		{Name: "Bash", Input: map[string]any{"command": "ls"}},
		{Name: "Read", Input: map[string]any{"file_path": "ignored.go"}},
	}}
	assert.Equal(t, []string{"a.go", "analysis.ipynb", "z.go"}, tr.ChangedFiles())
}

func TestParseFileUsesFilenameStem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2024-03-07-abc.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(blockTranscript), 0o644))

	tr, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-07-abc", tr.SessionID)
	assert.Len(t, tr.Messages, 3)
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.NotFound))
}

func TestTextRendering(t *testing.T) {
	tr := Parse(blockTranscript, "sess-1")
	text := tr.Text(0)

	assert.Contains(t, text, "[USER]\nFix the login timeout bug.")
	assert.Contains(t, text, "[ASSISTANT]\nLooking at the session handling now.")
	assert.Contains(t, text, "[TOOL: Edit]")
	assert.Contains(t, text, "[TOOL: Bash]")
	assert.NotContains(t, text, "2 passed", "tool results stay out of the summary input")
}

func TestTextTruncation(t *testing.T) {
	tr := Parse(blockTranscript, "sess-1")

	text := tr.Text(40)
	assert.True(t, strings.HasSuffix(text, "[... transcript truncated ...]"))
	assert.Len(t, text, 40+len(truncationMarker))

	// Zero disables truncation.
	full := tr.Text(0)
	assert.NotContains(t, full, "truncated")
}

func TestTextEmptyTranscript(t *testing.T) {
	tr := Parse("", "empty")
	assert.Empty(t, tr.Text(maxTranscriptChars))
}
