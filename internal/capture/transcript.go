// Package capture turns agent session transcripts into session_summary
// documents. A significance gate decides which transcripts are worth an
// LLM call, a durable queue on an embedded NATS JetStream server holds
// the accepted jobs, and a single worker drains them in order.
package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/errs"
)

// fileEditTools are the tool names whose calls modify files.
var fileEditTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"NotebookEdit": true,
}

// ToolCall is one tool invocation found in a transcript.
type ToolCall struct {
	Name  string
	Input map[string]any
}

// IsFileEdit reports whether the call modified a file.
func (tc ToolCall) IsFileEdit() bool { return fileEditTools[tc.Name] }

// EditedFile returns the path the call edited, empty for non-edit
// calls. Write and Edit put it in file_path, NotebookEdit in
// notebook_path.
func (tc ToolCall) EditedFile() string {
	if !tc.IsFileEdit() {
		return ""
	}
	if p, ok := tc.Input["file_path"].(string); ok && p != "" {
		return p
	}
	if p, ok := tc.Input["notebook_path"].(string); ok && p != "" {
		return p
	}
	return ""
}

// Message is one conversational turn with the tool calls it made.
type Message struct {
	Role      string
	Content   string
	ToolCalls []ToolCall
}

// Transcript is a parsed session transcript.
type Transcript struct {
	SessionID   string
	ProjectPath string
	Messages    []Message
	ToolCalls   []ToolCall
	Start       time.Time
	End         time.Time
}

// ParseFile parses a JSONL transcript file. The filename stem is the
// session id.
func ParseFile(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.NotFound, "transcript not found", err)
		}
		return nil, errs.Wrap(errs.Internal, "reading transcript", err)
	}
	base := filepath.Base(path)
	sessionID := strings.TrimSuffix(base, filepath.Ext(base))
	return Parse(string(data), sessionID), nil
}

// Parse parses JSONL transcript content. Each line is one event;
// malformed lines are skipped because transcripts are appended live and
// the tail can be mid-write.
func Parse(content, sessionID string) *Transcript {
	t := &Transcript{SessionID: sessionID}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		t.addEntry(entry)
	}
	return t
}

// addEntry folds one event into the transcript. Events carry their
// message under "message" with either a plain string content (legacy)
// or an array of content blocks; legacy events may also carry a
// top-level "toolUse" array.
func (t *Transcript) addEntry(entry map[string]any) {
	t.observeTimestamp(entry)
	if t.ProjectPath == "" {
		if cwd, ok := entry["cwd"].(string); ok && cwd != "" {
			t.ProjectPath = cwd
		} else if proj, ok := entry["project"].(string); ok && proj != "" {
			t.ProjectPath = proj
		}
	}

	message, _ := entry["message"].(map[string]any)
	role, _ := message["role"].(string)
	if role == "" {
		role, _ = entry["type"].(string)
	}
	content := message["content"]
	if content == nil {
		if display, ok := entry["display"]; ok {
			content = display
		} else {
			content = entry["content"]
		}
	}

	switch c := content.(type) {
	case string:
		if c != "" {
			t.Messages = append(t.Messages, Message{Role: role, Content: c})
		}
	case []any:
		text, calls := parseBlocks(c)
		t.ToolCalls = append(t.ToolCalls, calls...)
		if text != "" || len(calls) > 0 {
			t.Messages = append(t.Messages, Message{Role: role, Content: text, ToolCalls: calls})
		}
	}

	if raw, ok := entry["toolUse"].([]any); ok {
		for _, item := range raw {
			if block, ok := item.(map[string]any); ok {
				t.ToolCalls = append(t.ToolCalls, toolCallFrom(block))
			}
		}
	}
}

// observeTimestamp folds an epoch-millisecond timestamp into the
// session time bounds.
func (t *Transcript) observeTimestamp(entry map[string]any) {
	ms, ok := entry["timestamp"].(float64)
	if !ok {
		return
	}
	at := time.UnixMilli(int64(ms)).UTC()
	if t.Start.IsZero() || at.Before(t.Start) {
		t.Start = at
	}
	if t.End.IsZero() || at.After(t.End) {
		t.End = at
	}
}

// parseBlocks splits a content-block array into the joined text parts
// and the tool calls. tool_result blocks carry command output we do not
// summarize, so they are dropped.
func parseBlocks(blocks []any) (string, []ToolCall) {
	var parts []string
	var calls []ToolCall
	for _, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			if text, _ := block["text"].(string); text != "" {
				parts = append(parts, text)
			}
		case "tool_use":
			calls = append(calls, toolCallFrom(block))
		}
	}
	return strings.Join(parts, "\n"), calls
}

func toolCallFrom(block map[string]any) ToolCall {
	name, _ := block["name"].(string)
	if name == "" {
		name = "unknown"
	}
	input, _ := block["input"].(map[string]any)
	return ToolCall{Name: name, Input: input}
}

// TokenCount approximates the transcript's token count as characters
// over four.
func (t *Transcript) TokenCount() int {
	total := 0
	for _, m := range t.Messages {
		total += len(m.Content) / 4
	}
	return total
}

// ToolCallCount returns the total number of tool calls.
func (t *Transcript) ToolCallCount() int { return len(t.ToolCalls) }

// ChangedFiles returns the unique files edited during the session,
// sorted.
func (t *Transcript) ChangedFiles() []string {
	seen := map[string]bool{}
	files := []string{}
	for _, tc := range t.ToolCalls {
		if f := tc.EditedFile(); f != "" && !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return files
}

// Duration is the span between the first and last timestamped events,
// zero when the transcript carries no timestamps.
func (t *Transcript) Duration() time.Duration {
	if t.Start.IsZero() || t.End.IsZero() {
		return 0
	}
	return t.End.Sub(t.Start)
}

// truncationMarker closes transcripts cut at the character limit.
const truncationMarker = "\n\n[... transcript truncated ...]"

// Text renders the transcript as plain text for summarization: a
// [ROLE] header and body per message, with a [TOOL: name] line for
// each call the turn made. maxChars > 0 truncates with a marker.
func (t *Transcript) Text(maxChars int) string {
	var lines []string
	for _, m := range t.Messages {
		lines = append(lines, "["+strings.ToUpper(m.Role)+"]", m.Content)
		for _, tc := range m.ToolCalls {
			lines = append(lines, "\n[TOOL: "+tc.Name+"]")
		}
		lines = append(lines, "")
	}
	text := strings.Join(lines, "\n")
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars] + truncationMarker
	}
	return text
}
