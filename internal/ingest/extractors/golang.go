package extractors

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

func init() {
	Register(goExtractor{})
}

// goExtractor reads Go source: exported declarations, import specs,
// struct and interface contracts, main functions, and echo/net-http
// style route registrations.
type goExtractor struct{}

func (goExtractor) Language() string { return "go" }

func (goExtractor) Extract(ctx context.Context, path string, content []byte) (Facts, error) {
	var facts Facts

	tree, err := parse(ctx, golang.GetLanguage(), content)
	if err != nil {
		return facts, err
	}
	defer tree.Close()

	root := tree.RootNode()
	isMainPackage := goPackageName(root, content) == "main"

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "function_declaration":
			name := text(n.ChildByFieldName("name"), content)
			if name == "main" && isMainPackage {
				facts.EntryPoints = append(facts.EntryPoints, EntryPoint{
					Type:    EntryMain,
					Trigger: "func main()",
					Summary: "program entrypoint in " + path,
				})
			}
			if goExported(name) {
				facts.Exports = append(facts.Exports, name)
			}

		case "method_declaration":
			name := text(n.ChildByFieldName("name"), content)
			if goExported(name) {
				facts.Exports = append(facts.Exports, name)
			}

		case "type_declaration":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				spec := n.NamedChild(i)
				if spec.Type() != "type_spec" {
					continue
				}
				name := text(spec.ChildByFieldName("name"), content)
				if goExported(name) {
					facts.Exports = append(facts.Exports, name)
				}
				if c, ok := goContract(spec, name, content); ok {
					facts.Contracts = append(facts.Contracts, c)
				}
			}

		case "const_declaration", "var_declaration":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				spec := n.NamedChild(i)
				if spec.Type() != "const_spec" && spec.Type() != "var_spec" {
					continue
				}
				if name := text(spec.ChildByFieldName("name"), content); goExported(name) {
					facts.Exports = append(facts.Exports, name)
				}
			}

		case "import_declaration":
			for _, spec := range findAll(n, "import_spec") {
				raw := text(spec.ChildByFieldName("path"), content)
				if p := strings.Trim(raw, "\""); p != "" {
					facts.Imports = append(facts.Imports, p)
				}
			}

		case "call_expression":
			if ep, ok := goRoute(n, content); ok {
				facts.EntryPoints = append(facts.EntryPoints, ep)
			}

		case "composite_literal":
			typ := text(n.ChildByFieldName("type"), content)
			if strings.HasSuffix(typ, "cobra.Command") {
				facts.EntryPoints = append(facts.EntryPoints, EntryPoint{
					Type:    EntryCLI,
					Trigger: "cobra command",
					Summary: "CLI command defined in " + path,
				})
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)

	facts.Exports = capped(dedupe(facts.Exports), MaxExports)
	facts.Imports = dedupe(facts.Imports)
	return facts, nil
}

// goPackageName reads the package clause of a parsed file.
func goPackageName(root *sitter.Node, content []byte) string {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() == "package_clause" {
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if child.NamedChild(j).Type() == "package_identifier" {
					return text(child.NamedChild(j), content)
				}
			}
		}
	}
	return ""
}

func goExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return r != utf8.RuneError && unicode.IsUpper(r)
}

// goContract turns an exported struct or interface spec into a data
// contract with its field or method names.
func goContract(spec *sitter.Node, name string, content []byte) (Contract, bool) {
	typeNode := spec.ChildByFieldName("type")
	if typeNode == nil || !goExported(name) {
		return Contract{}, false
	}

	switch typeNode.Type() {
	case "struct_type":
		var fields []string
		for _, decl := range findAll(typeNode, "field_declaration") {
			fieldName := text(decl.ChildByFieldName("name"), content)
			fieldType := text(decl.ChildByFieldName("type"), content)
			if fieldName == "" {
				// Embedded field: the type is the name.
				fieldName = fieldType
			}
			if fieldName != "" {
				fields = append(fields, fieldName+":"+strings.TrimSpace(fieldType))
			}
		}
		return Contract{Name: name, ContractType: "struct", Fields: capped(fields, MaxFields)}, true

	case "interface_type":
		var methods []string
		for _, m := range findAll(typeNode, "method_elem") {
			if mn := text(m.ChildByFieldName("name"), content); mn != "" {
				methods = append(methods, mn+":method")
			}
		}
		return Contract{Name: name, ContractType: "interface", Fields: capped(methods, MaxFields)}, true
	}
	return Contract{}, false
}

// goRoute recognizes router registrations of the form
// obj.GET("/path", handler) across echo, gin, and chi styles.
func goRoute(call *sitter.Node, content []byte) (EntryPoint, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "selector_expression" {
		return EntryPoint{}, false
	}
	method := text(fn.ChildByFieldName("field"), content)
	canonical, ok := httpMethods[strings.ToLower(method)]
	if !ok || !goExported(method) {
		return EntryPoint{}, false
	}

	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return EntryPoint{}, false
	}
	first := args.NamedChild(0)
	if first.Type() != "interpreted_string_literal" && first.Type() != "raw_string_literal" {
		return EntryPoint{}, false
	}
	route := stringLiteral(text(first, content))
	if !strings.HasPrefix(route, "/") {
		return EntryPoint{}, false
	}
	return EntryPoint{
		Type:    EntryAPIRoute,
		Trigger: routeTrigger(canonical, route),
		Summary: canonical + " " + route + " handler",
	}, true
}

// findAll collects every descendant node of the given type.
func findAll(n *sitter.Node, nodeType string) []*sitter.Node {
	var out []*sitter.Node
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node.Type() == nodeType {
			out = append(out, node)
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(n)
	return out
}
