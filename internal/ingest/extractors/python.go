package extractors

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

func init() {
	Register(pythonExtractor{})
}

// pythonExtractor reads Python source: module-level definitions,
// imports, __main__ guards, route and command decorators, and
// dataclass/pydantic style model contracts.
type pythonExtractor struct{}

func (pythonExtractor) Language() string { return "python" }

// contractBases mark a class as a data contract when they appear in
// its superclass list.
var contractBases = map[string]string{
	"BaseModel":  "pydantic_model",
	"TypedDict":  "typed_dict",
	"NamedTuple": "named_tuple",
	"Protocol":   "protocol",
}

func (pythonExtractor) Extract(ctx context.Context, path string, content []byte) (Facts, error) {
	var facts Facts

	tree, err := parse(ctx, python.GetLanguage(), content)
	if err != nil {
		return facts, err
	}
	defer tree.Close()

	root := tree.RootNode()
	definitions := 0

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "import_statement", "import_from_statement":
			facts.Imports = append(facts.Imports, pyImports(node, content)...)

		case "function_definition":
			definitions++
			if name := text(node.ChildByFieldName("name"), content); pyPublic(name) {
				facts.Exports = append(facts.Exports, name)
			}

		case "class_definition":
			definitions++
			name := text(node.ChildByFieldName("name"), content)
			if pyPublic(name) {
				facts.Exports = append(facts.Exports, name)
			}
			if c, ok := pyContract(node, name, nil, content); ok {
				facts.Contracts = append(facts.Contracts, c)
			}

		case "decorated_definition":
			definitions++
			inner := node.ChildByFieldName("definition")
			decorators := findAll(node, "decorator")
			if inner == nil {
				continue
			}
			name := text(inner.ChildByFieldName("name"), content)
			if pyPublic(name) {
				facts.Exports = append(facts.Exports, name)
			}
			if inner.Type() == "class_definition" {
				if c, ok := pyContract(inner, name, decorators, content); ok {
					facts.Contracts = append(facts.Contracts, c)
				}
			}
			for _, dec := range decorators {
				if ep, ok := pyDecoratorEntry(dec, name, path, content); ok {
					facts.EntryPoints = append(facts.EntryPoints, ep)
				}
			}

		case "if_statement":
			cond := text(node.ChildByFieldName("condition"), content)
			if strings.Contains(cond, "__name__") && strings.Contains(cond, "__main__") {
				facts.EntryPoints = append(facts.EntryPoints, EntryPoint{
					Type:    EntryMain,
					Trigger: "python " + filepath.Base(path),
					Summary: "script entrypoint in " + path,
				})
			}
		}
	}

	if filepath.Base(path) == "__init__.py" && definitions == 0 && len(facts.Imports) > 0 {
		facts.IsBarrel = true
	}

	facts.Exports = capped(dedupe(facts.Exports), MaxExports)
	facts.Imports = dedupe(facts.Imports)
	return facts, nil
}

// pyImports reads the module names out of an import statement.
func pyImports(node *sitter.Node, content []byte) []string {
	if node.Type() == "import_from_statement" {
		if mod := node.ChildByFieldName("module_name"); mod != nil {
			return []string{text(mod, content)}
		}
		return nil
	}
	var mods []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			mods = append(mods, text(child, content))
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				mods = append(mods, text(name, content))
			}
		}
	}
	return mods
}

func pyPublic(name string) bool {
	return name != "" && !strings.HasPrefix(name, "_")
}

// pyContract recognizes dataclass decorators and schema base classes
// and collects the class's annotated fields.
func pyContract(class *sitter.Node, name string, decorators []*sitter.Node, content []byte) (Contract, bool) {
	if !pyPublic(name) {
		return Contract{}, false
	}

	contractType := ""
	for _, dec := range decorators {
		if strings.Contains(text(dec, content), "dataclass") {
			contractType = "dataclass"
			break
		}
	}
	if contractType == "" {
		supers := text(class.ChildByFieldName("superclasses"), content)
		for base, kind := range contractBases {
			if strings.Contains(supers, base) {
				contractType = kind
				break
			}
		}
	}
	if contractType == "" {
		return Contract{}, false
	}

	body := class.ChildByFieldName("body")
	if body == nil {
		return Contract{Name: name, ContractType: contractType}, true
	}

	var fields []string
	var rules []string
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		switch stmt.Type() {
		case "expression_statement":
			for _, assign := range findAll(stmt, "assignment") {
				left := text(assign.ChildByFieldName("left"), content)
				typ := text(assign.ChildByFieldName("type"), content)
				if left != "" && typ != "" {
					fields = append(fields, left+":"+typ)
				}
			}
		case "decorated_definition":
			for _, dec := range findAll(stmt, "decorator") {
				decText := text(dec, content)
				if strings.Contains(decText, "validator") {
					inner := stmt.ChildByFieldName("definition")
					rules = append(rules, "validator "+text(inner.ChildByFieldName("name"), content))
				}
			}
		}
	}
	return Contract{
		Name:         name,
		ContractType: contractType,
		Fields:       capped(fields, MaxFields),
		Rules:        rules,
	}, true
}

// pyDecoratorEntry classifies route, command, and event decorators:
// @app.get("/x") registers a route, @click.command a CLI command,
// @bus.on("event") an event handler.
func pyDecoratorEntry(dec *sitter.Node, handler, path string, content []byte) (EntryPoint, bool) {
	calls := findAll(dec, "call")
	if len(calls) == 0 {
		decText := text(dec, content)
		if strings.Contains(decText, ".command") || strings.Contains(decText, "click.") {
			return EntryPoint{
				Type:    EntryCLI,
				Trigger: "command " + handler,
				Summary: "CLI command " + handler + " in " + path,
			}, true
		}
		return EntryPoint{}, false
	}

	call := calls[0]
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "attribute" {
		return EntryPoint{}, false
	}
	attr := text(fn.ChildByFieldName("attribute"), content)
	firstArg := ""
	if args := call.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() > 0 {
		firstArg = stringLiteral(text(args.NamedChild(0), content))
	}

	if canonical, ok := httpMethods[strings.ToLower(attr)]; ok && strings.HasPrefix(firstArg, "/") {
		return EntryPoint{
			Type:    EntryAPIRoute,
			Trigger: routeTrigger(canonical, firstArg),
			Summary: canonical + " " + firstArg + " handled by " + handler,
		}, true
	}
	if attr == "command" {
		return EntryPoint{
			Type:    EntryCLI,
			Trigger: "command " + handler,
			Summary: "CLI command " + handler + " in " + path,
		}, true
	}
	if attr == "on" || strings.HasPrefix(attr, "on_") {
		trigger := firstArg
		if trigger == "" {
			trigger = attr
		}
		return EntryPoint{
			Type:    EntryEventHandler,
			Trigger: trigger,
			Summary: "event handler " + handler + " in " + path,
		}, true
	}
	return EntryPoint{}, false
}
