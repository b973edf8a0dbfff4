package extractors

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

func init() {
	Register(tsExtractor{name: "typescript", lang: typescript.GetLanguage()})
	Register(tsExtractor{name: "tsx", lang: tsx.GetLanguage()})
	Register(tsExtractor{name: "javascript", lang: javascript.GetLanguage()})
}

// tsExtractor reads TypeScript and JavaScript source. The three
// registered instances differ only in grammar; tsx needs its own and
// plain JavaScript lacks the type-only node kinds.
type tsExtractor struct {
	name string
	lang *sitter.Language
}

func (e tsExtractor) Language() string { return e.name }

func (e tsExtractor) Extract(ctx context.Context, path string, content []byte) (Facts, error) {
	var facts Facts

	tree, err := parse(ctx, e.lang, content)
	if err != nil {
		return facts, err
	}
	defer tree.Close()

	root := tree.RootNode()
	statements := 0
	moduleOnly := true

	var collect func(n *sitter.Node, exported bool)
	collect = func(n *sitter.Node, exported bool) {
		switch n.Type() {
		case "import_statement":
			if src := n.ChildByFieldName("source"); src != nil {
				facts.Imports = append(facts.Imports, stringLiteral(text(src, content)))
			}
			return

		case "export_statement":
			// Re-exports carry a source module; declarations nest.
			if src := n.ChildByFieldName("source"); src != nil {
				facts.Imports = append(facts.Imports, stringLiteral(text(src, content)))
			}
			for i := 0; i < int(n.NamedChildCount()); i++ {
				collect(n.NamedChild(i), true)
			}
			return

		case "function_declaration", "generator_function_declaration",
			"class_declaration", "abstract_class_declaration", "enum_declaration":
			if exported {
				if name := text(n.ChildByFieldName("name"), content); name != "" {
					facts.Exports = append(facts.Exports, name)
				}
			}

		case "interface_declaration":
			name := text(n.ChildByFieldName("name"), content)
			if exported && name != "" {
				facts.Exports = append(facts.Exports, name)
			}
			if c, ok := tsInterfaceContract(n, name, content); ok {
				facts.Contracts = append(facts.Contracts, c)
			}

		case "type_alias_declaration":
			name := text(n.ChildByFieldName("name"), content)
			if exported && name != "" {
				facts.Exports = append(facts.Exports, name)
			}

		case "lexical_declaration", "variable_declaration":
			if exported {
				for _, decl := range findAll(n, "variable_declarator") {
					if name := text(decl.ChildByFieldName("name"), content); name != "" {
						facts.Exports = append(facts.Exports, name)
					}
				}
			}
		}

		for _, call := range findAll(n, "call_expression") {
			if ep, ok := tsCallEntry(call, content); ok {
				facts.EntryPoints = append(facts.EntryPoints, ep)
			}
		}
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		statements++
		if node.Type() != "import_statement" && node.Type() != "export_statement" && node.Type() != "comment" {
			moduleOnly = false
		}
		collect(node, false)
	}

	base := filepath.Base(path)
	if (strings.HasPrefix(base, "index.") || base == "mod.ts") && statements > 0 && moduleOnly {
		facts.IsBarrel = true
	}

	facts.Exports = capped(dedupe(facts.Exports), MaxExports)
	facts.Imports = dedupe(facts.Imports)
	dedupeEntryPoints(&facts)
	return facts, nil
}

// tsInterfaceContract collects an interface's property signatures as
// name:type pairs.
func tsInterfaceContract(n *sitter.Node, name string, content []byte) (Contract, bool) {
	if name == "" {
		return Contract{}, false
	}
	var fields []string
	for _, prop := range findAll(n, "property_signature") {
		propName := text(prop.ChildByFieldName("name"), content)
		propType := strings.TrimPrefix(text(prop.ChildByFieldName("type"), content), ":")
		if propName != "" {
			fields = append(fields, propName+":"+strings.TrimSpace(propType))
		}
	}
	return Contract{Name: name, ContractType: "interface", Fields: capped(fields, MaxFields)}, true
}

// tsCallEntry recognizes express/fastify style route registrations
// (app.get("/x", ...)) and commander style command definitions.
func tsCallEntry(call *sitter.Node, content []byte) (EntryPoint, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "member_expression" {
		return EntryPoint{}, false
	}
	property := text(fn.ChildByFieldName("property"), content)

	args := call.ChildByFieldName("arguments")
	firstArg := ""
	if args != nil && args.NamedChildCount() > 0 {
		firstArg = stringLiteral(text(args.NamedChild(0), content))
	}

	if canonical, ok := httpMethods[strings.ToLower(property)]; ok && strings.HasPrefix(firstArg, "/") {
		return EntryPoint{
			Type:    EntryAPIRoute,
			Trigger: routeTrigger(canonical, firstArg),
			Summary: canonical + " " + firstArg + " handler",
		}, true
	}
	if property == "command" && firstArg != "" {
		return EntryPoint{
			Type:    EntryCLI,
			Trigger: "command " + firstArg,
			Summary: "CLI command " + firstArg,
		}, true
	}
	if (property == "on" || property == "addEventListener") && firstArg != "" {
		return EntryPoint{
			Type:    EntryEventHandler,
			Trigger: firstArg,
			Summary: "event handler for " + firstArg,
		}, true
	}
	return EntryPoint{}, false
}

// dedupeEntryPoints drops duplicate (type, trigger) pairs, which show
// up when nested walks visit the same call twice.
func dedupeEntryPoints(f *Facts) {
	seen := make(map[string]struct{}, len(f.EntryPoints))
	out := f.EntryPoints[:0]
	for _, ep := range f.EntryPoints {
		key := ep.Type + "\x00" + ep.Trigger
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ep)
	}
	f.EntryPoints = out
}
