package ingest

import (
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Chunk geometry. Targets, not hard guarantees: a line longer than the
// target still splits at character level via the final separator.
const (
	chunkSize    = 1500
	chunkOverlap = 100
)

// extensionLanguages maps file extensions to language names. The name
// selects both the chunk separators and the fact extractor; languages
// without an extractor still chunk with their own separators.
var extensionLanguages = map[string]string{
	".go":       "go",
	".py":       "python",
	".ts":       "typescript",
	".tsx":      "tsx",
	".js":       "javascript",
	".jsx":      "javascript",
	".mjs":      "javascript",
	".cjs":      "javascript",
	".java":     "java",
	".kt":       "kotlin",
	".rs":       "rust",
	".rb":       "ruby",
	".c":        "c",
	".h":        "c",
	".cpp":      "cpp",
	".cc":       "cpp",
	".hpp":      "cpp",
	".cs":       "csharp",
	".php":      "php",
	".swift":    "swift",
	".scala":    "scala",
	".sh":       "shell",
	".bash":     "shell",
	".sql":      "sql",
	".md":       "markdown",
	".markdown": "markdown",
	".html":     "html",
	".css":      "css",
	".json":     "json",
	".yaml":     "yaml",
	".yml":      "yaml",
	".toml":     "toml",
	".proto":    "proto",
	".tf":       "terraform",
}

// languageSeparators order split points from coarsest to finest so
// chunks break at declaration boundaries when they can.
var languageSeparators = map[string][]string{
	"go":         {"\nfunc ", "\ntype ", "\nconst ", "\nvar ", "\n\n", "\n", " ", ""},
	"python":     {"\nclass ", "\ndef ", "\n\tdef ", "\n    def ", "\n\n", "\n", " ", ""},
	"typescript": {"\nexport ", "\nfunction ", "\nclass ", "\ninterface ", "\nconst ", "\n\n", "\n", " ", ""},
	"tsx":        {"\nexport ", "\nfunction ", "\nclass ", "\nconst ", "\n\n", "\n", " ", ""},
	"javascript": {"\nexport ", "\nfunction ", "\nclass ", "\nconst ", "\n\n", "\n", " ", ""},
	"java":       {"\nclass ", "\npublic ", "\nprotected ", "\nprivate ", "\n\n", "\n", " ", ""},
	"kotlin":     {"\nclass ", "\nfun ", "\nobject ", "\n\n", "\n", " ", ""},
	"rust":       {"\nfn ", "\npub ", "\nimpl ", "\nmod ", "\n\n", "\n", " ", ""},
	"markdown":   {"\n## ", "\n### ", "\n\n", "\n", " ", ""},
}

var genericSeparators = []string{"\n\n", "\n", " ", ""}

// DetectLanguage names the language of a file by extension; empty for
// unknown extensions.
func DetectLanguage(path string) string {
	return extensionLanguages[strings.ToLower(filepath.Ext(path))]
}

// Chunk splits file content into overlapping pieces sized for
// embedding, breaking on language declaration boundaries where
// possible and on lines otherwise. Blank content yields no chunks.
func Chunk(content, language string) ([]string, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	seps, ok := languageSeparators[language]
	if !ok {
		seps = genericSeparators
	}
	// KeepSeparator matters for code: without it a chunk split at
	// "\nfunc " starts mid-declaration.
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(seps),
		textsplitter.WithKeepSeparator(true),
	)
	pieces, err := splitter.SplitText(content)
	if err != nil {
		return nil, err
	}
	chunks := pieces[:0]
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks, nil
}
