// Package ignore parses gitignore-style files into glob patterns the
// ingestion walker can match with doublestar.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Parser reads gitignore-style files and converts their lines to glob
// patterns. Negation lines are not supported and are dropped.
type Parser struct {
	// IgnoreFiles names the files to look for under a project root.
	IgnoreFiles []string

	// FallbackPatterns apply when none of the ignore files exist.
	FallbackPatterns []string
}

// NewParser returns a parser that looks for the named ignore files.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
	}
}

// ParseProject combines the patterns from every configured ignore file
// present under root, deduplicated in order. When none exist it returns
// the fallback patterns.
func (p *Parser) ParseProject(root string) ([]string, error) {
	var patterns []string
	found := false

	for _, name := range p.IgnoreFiles {
		filePatterns, err := p.ParseFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
		found = true
	}

	if !found {
		return p.FallbackPatterns, nil
	}
	return deduplicate(patterns), nil
}

// ParseFile reads a single gitignore-style file. It exists for ignore
// files that live outside the project tree, such as a per-user global
// ignore file.
func (p *Parser) ParseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern := parseLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine converts one ignore-file line to a glob pattern. Blank
// lines, comments, and negations yield "".
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}
	return toGlobPattern(line)
}

// toGlobPattern rewrites a gitignore pattern as a doublestar glob:
// bare names match anywhere in the tree, directory patterns match
// their whole subtree.
func toGlobPattern(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "/")

	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}
	if !strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "*") {
		pattern = "**/" + pattern
	}
	// A segment without an extension or glob suffix is a directory name;
	// match everything under it.
	if !strings.HasSuffix(pattern, "/**") && !strings.HasSuffix(pattern, "/*") && !strings.Contains(pattern, ".") {
		pattern += "/**"
	}
	return pattern
}

func deduplicate(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}
