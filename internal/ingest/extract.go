package ingest

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/ingest/extractors"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// extractFacts runs the language's extractor when one exists. Parse
// failures degrade to empty facts; the file still gets its metadata
// and dependency documents.
func extractFacts(ctx context.Context, rel, language string, content []byte, logger *logging.Logger) extractors.Facts {
	ex, ok := extractors.For(language)
	if !ok {
		return extractors.Facts{}
	}
	facts, err := ex.Extract(ctx, rel, content)
	if err != nil {
		logger.Debug(ctx, "fact extraction failed",
			zap.String("file", rel),
			zap.Error(err))
		return extractors.Facts{}
	}
	return facts
}

// navigationDocs builds the per-file navigation and usage documents:
// one file_metadata, one dependency, and an entry_point or
// data_contract document per extracted fact. IDs are deterministic so
// re-ingestion overwrites in place.
func navigationDocs(repo, branch, rel, language, hash string, facts extractors.Facts) []vectorstore.Document {
	docs := make([]vectorstore.Document, 0, 2+len(facts.EntryPoints)+len(facts.Contracts))

	fm := document.New(document.FileMetadataID(repo, rel), document.TypeFileMetadata, repo, branch,
		describeFile(rel, language, facts))
	fm.Metadata[document.KeyFilePath] = rel
	fm.Metadata[document.KeyLanguage] = language
	fm.Metadata[document.KeyDescription] = fm.Content
	fm.Metadata[document.KeyExports] = stringsOrEmpty(facts.Exports)
	fm.Metadata[document.KeyIsEntryPoint] = len(facts.EntryPoints) > 0
	fm.Metadata[document.KeyIsBarrel] = facts.IsBarrel
	fm.Metadata[document.KeyIsTest] = isTestPath(rel)
	fm.Metadata[document.KeyIsConfig] = isConfigPath(rel)
	fm.Metadata[document.KeyFileHash] = hash
	docs = append(docs, toStoreDoc(fm))

	dep := document.New(document.DependencyID(repo, rel), document.TypeDependency, repo, branch,
		describeImports(rel, facts.Imports))
	dep.Metadata[document.KeyFilePath] = rel
	dep.Metadata[document.KeyImports] = stringsOrEmpty(facts.Imports)
	dep.Metadata[document.KeyImportCount] = len(facts.Imports)
	dep.Metadata[document.KeyImportedBy] = []string{}
	dep.Metadata[document.KeyImportedByCount] = 0
	dep.Metadata[document.KeyImpactTier] = string(document.TierForCount(0))
	docs = append(docs, toStoreDoc(dep))

	for i, ep := range facts.EntryPoints {
		body := ep.Summary
		if body == "" {
			body = fmt.Sprintf("%s entry point %s in %s", ep.Type, ep.Trigger, rel)
		}
		d := document.New(document.EntryPointID(repo, rel, i), document.TypeEntryPoint, repo, branch, body)
		d.Metadata[document.KeyFilePath] = rel
		d.Metadata[document.KeyEntryType] = ep.Type
		d.Metadata[document.KeyTriggers] = []string{ep.Trigger}
		d.Metadata[document.KeySummary] = body
		docs = append(docs, toStoreDoc(d))
	}

	for _, c := range facts.Contracts {
		body := fmt.Sprintf("%s (%s)", c.Name, c.ContractType)
		if len(c.Fields) > 0 {
			body += ": " + strings.Join(c.Fields, ", ")
		}
		d := document.New(document.DataContractID(repo, rel, c.Name), document.TypeDataContract, repo, branch, body)
		d.Metadata[document.KeyFilePath] = rel
		d.Metadata[document.KeyName] = c.Name
		d.Metadata[document.KeyContractType] = c.ContractType
		d.Metadata[document.KeyFields] = stringsOrEmpty(c.Fields)
		d.Metadata[document.KeyValidationRules] = stringsOrEmpty(c.Rules)
		docs = append(docs, toStoreDoc(d))
	}

	return docs
}

func toStoreDoc(d document.Document) vectorstore.Document {
	return vectorstore.Document{
		ID:       d.ID,
		Content:  d.Content,
		Metadata: document.Flatten(d.Metadata),
	}
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// describeFile composes a one-line file description from extracted
// facts. Deterministic on purpose: ingestion must not block on an LLM.
func describeFile(rel, language string, facts extractors.Facts) string {
	name := path.Base(rel)
	var b strings.Builder

	switch {
	case facts.IsBarrel:
		fmt.Fprintf(&b, "%s: barrel module re-exporting %d modules", name, len(facts.Imports))
	case language != "":
		fmt.Fprintf(&b, "%s: %s file", name, language)
	default:
		b.WriteString(name)
	}

	if n := len(facts.Exports); n > 0 {
		preview := facts.Exports
		if len(preview) > 5 {
			preview = preview[:5]
		}
		fmt.Fprintf(&b, " exporting %s", strings.Join(preview, ", "))
		if n > len(preview) {
			fmt.Fprintf(&b, " and %d more", n-len(preview))
		}
	}
	if len(facts.Contracts) > 0 {
		names := make([]string, len(facts.Contracts))
		for i, c := range facts.Contracts {
			names[i] = c.Name
		}
		fmt.Fprintf(&b, "; defines %s", strings.Join(names, ", "))
	}
	if len(facts.EntryPoints) > 0 {
		fmt.Fprintf(&b, "; entry point %s", facts.EntryPoints[0].Trigger)
	}
	return b.String()
}

func describeImports(rel string, imports []string) string {
	name := path.Base(rel)
	if len(imports) == 0 {
		return name + " has no imports"
	}
	return name + " imports: " + strings.Join(imports, ", ")
}

var configExtensions = map[string]bool{
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".ini": true, ".cfg": true, ".conf": true, ".properties": true,
}

var configNames = map[string]bool{
	"makefile": true, "dockerfile": true, "justfile": true, "rakefile": true,
}

func isTestPath(rel string) bool {
	base := strings.ToLower(path.Base(rel))
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasPrefix(base, "test_"),
		strings.HasSuffix(strings.TrimSuffix(base, path.Ext(base)), "_test"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."):
		return true
	}
	for _, seg := range strings.Split(path.Dir(rel), "/") {
		if seg == "tests" || seg == "test" || seg == "__tests__" {
			return true
		}
	}
	return false
}

func isConfigPath(rel string) bool {
	base := strings.ToLower(path.Base(rel))
	if configNames[base] {
		return true
	}
	return configExtensions[path.Ext(base)]
}

// refreshImportGraph recomputes the reverse import edges for one
// repository: which files import each file, and the impact tier that
// count implies. Runs after the per-file phase so renames and deletes
// are already settled.
func refreshImportGraph(ctx context.Context, store vectorstore.Store, repo string, logger *logging.Logger) error {
	records, err := store.Get(ctx, nil, vectorstore.Where{
		"$and": []vectorstore.Where{
			{document.KeyRepository: repo},
			{document.KeyType: string(document.TypeDependency)},
		},
	})
	if err != nil {
		return errs.Wrap(errs.Unavailable, "loading dependency documents", err)
	}
	if len(records) == 0 {
		return nil
	}

	type depEntry struct {
		rec     vectorstore.Record
		file    string
		imports []string
	}
	entries := make([]depEntry, 0, len(records))
	known := make([]string, 0, len(records))
	for _, rec := range records {
		fp := rec.Metadata[document.KeyFilePath]
		if fp == "" {
			continue
		}
		entries = append(entries, depEntry{
			rec:     rec,
			file:    fp,
			imports: document.StringsField(toAnyMap(rec.Metadata), document.KeyImports),
		})
		known = append(known, fp)
	}

	importedBy := map[string][]string{}
	for _, e := range entries {
		for _, imp := range e.imports {
			for _, target := range resolveImport(imp, e.file, known) {
				if target != e.file {
					importedBy[target] = append(importedBy[target], e.file)
				}
			}
		}
	}

	var changed []vectorstore.Document
	for _, e := range entries {
		callers := importedBy[e.file]
		sort.Strings(callers)
		callers = dedupeSorted(callers)

		prev := document.StringsField(toAnyMap(e.rec.Metadata), document.KeyImportedBy)
		if equalStrings(prev, callers) {
			continue
		}

		meta := toAnyMap(e.rec.Metadata)
		meta[document.KeyImportedBy] = stringsOrEmpty(callers)
		meta[document.KeyImportedByCount] = len(callers)
		meta[document.KeyImpactTier] = string(document.TierForCount(len(callers)))
		changed = append(changed, vectorstore.Document{
			ID:       e.rec.ID,
			Content:  e.rec.Content,
			Metadata: document.Flatten(meta),
		})
	}

	if len(changed) == 0 {
		return nil
	}
	if err := store.Upsert(ctx, changed); err != nil {
		return errs.Wrap(errs.Unavailable, "updating import graph", err)
	}
	logger.Debug(ctx, "import graph refreshed",
		zap.String("repository", repo),
		zap.Int("updated", len(changed)))
	return nil
}

// resolveImport maps an import string to the known files it covers.
// Heuristic by construction: relative specifiers resolve against the
// importing file, dotted modules match on path segments, and bare
// module paths claim every file in the package directory they name.
func resolveImport(imp, fromFile string, known []string) []string {
	imp = strings.TrimSpace(imp)
	if imp == "" {
		return nil
	}

	if strings.HasPrefix(imp, "./") || strings.HasPrefix(imp, "../") {
		base := path.Join(path.Dir(fromFile), imp)
		for _, k := range known {
			if strings.TrimSuffix(k, path.Ext(k)) == base || matchesModuleFile(k, base) {
				return []string{k}
			}
		}
		return nil
	}

	// Dotted python modules become path segments.
	slashed := strings.ReplaceAll(imp, ".", "/")
	for _, k := range known {
		if matchesModuleFile(k, slashed) {
			return []string{k}
		}
	}

	// Package-directory imports, as in Go: every file in the named
	// directory belongs to the imported unit.
	var out []string
	for _, k := range known {
		dir := path.Dir(k)
		if dir == "." {
			continue
		}
		if slashed == dir || strings.HasSuffix(slashed, "/"+dir) {
			out = append(out, k)
		}
	}
	return out
}

// matchesModuleFile reports whether known (a relative file path)
// realizes the module path mod: exact file, index file, or package
// init, matched on a segment boundary.
func matchesModuleFile(known, mod string) bool {
	stem := strings.TrimSuffix(known, path.Ext(known))
	candidates := []string{stem}
	if base := path.Base(stem); base == "index" || base == "__init__" {
		candidates = append(candidates, path.Dir(stem))
	}
	for _, c := range candidates {
		if c == mod || strings.HasSuffix(c, "/"+mod) {
			return true
		}
	}
	return false
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func dedupeSorted(s []string) []string {
	out := s[:0]
	var prev string
	for i, v := range s {
		if i == 0 || v != prev {
			out = append(out, v)
		}
		prev = v
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
