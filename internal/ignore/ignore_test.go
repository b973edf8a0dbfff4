package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
	}{
		{"empty line", "", ""},
		{"whitespace only", "   ", ""},
		{"comment", "# build artifacts", ""},
		{"negation skipped", "!important.txt", ""},
		{"simple file glob", "*.log", "*.log"},
		{"simple directory", "node_modules", "**/node_modules/**"},
		{"directory with slash", "node_modules/", "node_modules/**"},
		{"nested path", "vendor/cache", "vendor/cache/**"},
		{"absolute path", "/dist", "**/dist/**"},
		{"glob pattern", "*.pyc", "*.pyc"},
		{"double star pattern", "**/build", "**/build/**"},
		{"file with extension", "file.txt", "**/file.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLine(tt.line))
		})
	}
}

func TestParseProjectCombinesAndDeduplicates(t *testing.T) {
	dir := t.TempDir()

	gitignore := "# build outputs\ndist/\nbuild/\n\nnode_modules/\n*.pyc\n__pycache__/\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644))

	recallignore := "node_modules/\n*.log\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".recallignore"), []byte(recallignore), 0o644))

	parser := NewParser([]string{".recallignore", ".gitignore"}, []string{"fallback/**"})
	patterns, err := parser.ParseProject(dir)
	require.NoError(t, err)

	assert.Contains(t, patterns, "dist/**")
	assert.Contains(t, patterns, "*.log")
	assert.NotContains(t, patterns, "fallback/**")

	count := 0
	for _, p := range patterns {
		if p == "node_modules/**" {
			count++
		}
	}
	assert.Equal(t, 1, count, "overlapping patterns should be deduplicated")
}

func TestParseProjectFallback(t *testing.T) {
	fallback := []string{".git/**", "node_modules/**"}
	parser := NewParser([]string{".recallignore", ".gitignore"}, fallback)

	patterns, err := parser.ParseProject(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, fallback, patterns)
}

func TestParseFileMissing(t *testing.T) {
	parser := NewParser(nil, nil)
	_, err := parser.ParseFile(filepath.Join(t.TempDir(), ".recallignore"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeduplicate(t *testing.T) {
	assert.Equal(t,
		[]string{"a", "b", "c", "d"},
		deduplicate([]string{"a", "b", "a", "c", "b", "d"}))
}
