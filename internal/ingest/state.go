package ingest

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// State records what the previous ingestion saw for one repository and
// branch: the commit it indexed at and a content hash per indexed file.
// Delta detection diffs against it; a missing or empty state forces a
// full ingestion.
type State struct {
	LastCommit string            `json:"last_commit,omitempty"`
	Files      map[string]string `json:"files"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

// NewState returns an empty state with an initialized file map.
func NewState() State {
	return State{Files: map[string]string{}}
}

// Empty reports whether the state carries nothing to diff against.
func (s State) Empty() bool {
	return s.LastCommit == "" && len(s.Files) == 0
}

func statePath(dataDir, repo, branch string) string {
	return filepath.Join(dataDir, "state", sanitizeName(repo), sanitizeName(branch)+".json")
}

// sanitizeName makes a repository or branch name safe as a path
// segment. Branches like "feature/login" must not create directories.
func sanitizeName(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

// LoadState reads the recorded state for a repository and branch. A
// missing file yields an empty state; a corrupt file is an error so the
// caller can decide to fall back to a full ingestion.
func LoadState(dataDir, repo, branch string) (State, error) {
	data, err := os.ReadFile(statePath(dataDir, repo, branch))
	if errors.Is(err, fs.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, err
	}
	if st.Files == nil {
		st.Files = map[string]string{}
	}
	return st, nil
}

// SaveState writes the state atomically: temp file in the same
// directory, then rename. A crash mid-write leaves the previous state
// intact.
func SaveState(dataDir, repo, branch string, st State) error {
	st.UpdatedAt = timeNow().UTC().Format(time.RFC3339)

	path := statePath(dataDir, repo, branch)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
