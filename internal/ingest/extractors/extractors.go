// Package extractors derives navigation and usage facts from source
// files: exported symbols, import lists, entry points, and data
// contracts. Each language binds a tree-sitter grammar; files without
// a registered extractor still get navigation documents, just without
// facts.
package extractors

import (
	"context"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Caps keep metadata records scannable. Exports and fields beyond the
// cap are dropped, not summarized.
const (
	MaxExports = 20
	MaxFields  = 20
)

// Entry point types.
const (
	EntryMain         = "main"
	EntryAPIRoute     = "api_route"
	EntryCLI          = "cli"
	EntryEventHandler = "event_handler"
)

// EntryPoint describes a place execution can start: a main function,
// an HTTP route registration, a CLI command.
type EntryPoint struct {
	Type    string
	Trigger string
	Summary string
}

// Contract is a named data shape: a struct, interface, dataclass, or
// schema model. Fields are "name:type" pairs.
type Contract struct {
	Name         string
	ContractType string
	Fields       []string
	Rules        []string
}

// Facts is everything an extractor learned about one file.
type Facts struct {
	Exports     []string
	Imports     []string
	EntryPoints []EntryPoint
	Contracts   []Contract
	IsBarrel    bool
}

// Extractor parses one language. Extract is best-effort: a syntax
// error yields whatever facts were recovered, not a failure.
type Extractor interface {
	Language() string
	Extract(ctx context.Context, path string, content []byte) (Facts, error)
}

var (
	mu       sync.RWMutex
	registry = map[string]Extractor{}
)

// Register binds an extractor to its language name.
func Register(e Extractor) {
	mu.Lock()
	defer mu.Unlock()
	registry[e.Language()] = e
}

// For returns the extractor registered for language, if any.
func For(language string) (Extractor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	e, ok := registry[language]
	return e, ok
}

// Languages lists the registered language names.
func Languages() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// parse runs a fresh tree-sitter parser over content. Parsers are not
// safe for concurrent use, so each call gets its own.
func parse(ctx context.Context, lang *sitter.Language, content []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)
	return parser.ParseCtx(ctx, nil, content)
}

// text returns the source covered by a node.
func text(n *sitter.Node, content []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(content)
}

// capped truncates a list to at most max entries.
func capped(list []string, max int) []string {
	if len(list) > max {
		return list[:max]
	}
	return list
}

// dedupe drops repeated entries preserving first-seen order.
func dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// routeTrigger normalizes an HTTP method + path pair into the trigger
// form stored on api_route entry points, e.g. "GET /users/:id".
func routeTrigger(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// httpMethods are the route-registration method names recognized on
// router objects across echo, net/http, express, and fastapi styles.
var httpMethods = map[string]string{
	"get":     "GET",
	"post":    "POST",
	"put":     "PUT",
	"delete":  "DELETE",
	"patch":   "PATCH",
	"head":    "HEAD",
	"options": "OPTIONS",
}

// stringLiteral strips matching quotes from a source literal.
func stringLiteral(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') ||
			(s[0] == '\'' && s[len(s)-1] == '\'') ||
			(s[0] == '`' && s[len(s)-1] == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
