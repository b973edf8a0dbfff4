package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/ignore"
)

// defaultSkipDirs are pruned unconditionally. VCS internals, dependency
// caches, and build outputs never carry indexable knowledge.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
}

// binaryExtensions are skipped without opening the file.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".svgz": true, ".pdf": true,
	".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".bz2": true,
	".xz": true, ".7z": true, ".rar": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true,
	".o": true, ".obj": true, ".bin": true, ".wasm": true,
	".pyc": true, ".pyo": true, ".class": true, ".jar": true, ".war": true,
	".db": true, ".sqlite": true, ".sqlite3": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".wav": true, ".avi": true, ".mov": true,
	".mkv": true, ".webm": true, ".flac": true, ".ogg": true,
}

// ignoreFileNames are the in-tree ignore files, in precedence order.
var ignoreFileNames = []string{".recallignore", ".gitignore"}

// WalkOptions tune a single walk.
type WalkOptions struct {
	// IncludePatterns restrict the walk to matching files when set.
	// Globs match against the relative path or the base name.
	IncludePatterns []string

	// UseIgnoreFiles enables .recallignore and .gitignore parsing at
	// the walk root.
	UseIgnoreFiles bool

	// GlobalIgnoreFile is an optional gitignore-style file outside the
	// tree, applied on top of the in-tree ignore files.
	GlobalIgnoreFile string

	// MaxFileSize skips files larger than this many bytes. Zero means
	// no limit.
	MaxFileSize int64
}

// Walker lists the indexable files under a repository root.
type Walker struct {
	root    string
	opts    WalkOptions
	exclude []string
}

// NewWalker validates the root and patterns and loads ignore files.
func NewWalker(root string, opts WalkOptions) (*Walker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "invalid path", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "path does not exist", err)
	}
	if !info.IsDir() {
		return nil, errs.Newf(errs.InvalidArgument, "path is not a directory: %s", abs)
	}
	if err := validatePatterns(opts.IncludePatterns); err != nil {
		return nil, err
	}

	w := &Walker{root: abs, opts: opts}
	if opts.UseIgnoreFiles {
		parser := ignore.NewParser(ignoreFileNames, nil)
		patterns, err := parser.ParseProject(abs)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "failed to parse ignore files", err)
		}
		w.exclude = patterns
		if opts.GlobalIgnoreFile != "" {
			global, err := parser.ParseFile(opts.GlobalIgnoreFile)
			if err != nil && !os.IsNotExist(err) {
				return nil, errs.Wrap(errs.Internal, "failed to parse global ignore file", err)
			}
			w.exclude = append(w.exclude, global...)
		}
	}
	return w, nil
}

// Root returns the absolute walk root.
func (w *Walker) Root() string { return w.root }

// Files walks the tree and returns the relative slash-separated paths
// of every indexable file, sorted. Hidden entries, skip directories,
// binary extensions, oversized files, and ignore-pattern matches are
// dropped; include patterns, when present, further restrict the set.
func (w *Walker) Files(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		name := d.Name()

		if d.IsDir() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if path == w.root {
				return nil
			}
			if defaultSkipDirs[name] || strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			rel, _ := filepath.Rel(w.root, path)
			if matchAny(w.exclude, filepath.ToSlash(rel), name) {
				return fs.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || strings.HasPrefix(name, ".") {
			return nil
		}
		if binaryExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		if w.opts.MaxFileSize > 0 {
			info, err := d.Info()
			if err != nil || info.Size() > w.opts.MaxFileSize {
				return nil
			}
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		// Excludes win over includes.
		if matchAny(w.exclude, rel, name) {
			return nil
		}
		if len(w.opts.IncludePatterns) > 0 && !matchAny(w.opts.IncludePatterns, rel, name) {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// matchAny reports whether any glob matches the relative path or the
// base name.
func matchAny(patterns []string, rel, base string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(p, base); err == nil && ok {
			return true
		}
	}
	return false
}

// validatePatterns probes each glob so malformed patterns fail the call
// instead of silently matching nothing.
func validatePatterns(patterns []string) error {
	for _, p := range patterns {
		if p == "" {
			return errs.New(errs.InvalidArgument, "empty pattern")
		}
		if _, err := doublestar.Match(p, "probe"); err != nil {
			return errs.Newf(errs.InvalidArgument, "invalid pattern %q", p)
		}
	}
	return nil
}
