// Package entity locates functions and classes in source files so they
// can be read or rewritten as whole units instead of raw text spans.
package entity

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// Kind selects what sort of entity to look for.
type Kind string

const (
	KindFunction Kind = "function"
	KindClass    Kind = "class"
)

// Entity is one located function or class.
type Entity struct {
	Name      string
	Kind      Kind
	Start     int // byte offset of the definition
	End       int // byte offset one past the definition
	Signature string
}

// NotFoundError reports that no entity with the requested name exists.
type NotFoundError struct {
	Name string
	Kind Kind
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s named %q in %s", e.Kind, e.Name, e.Path)
}

// AmbiguousError reports multiple definitions sharing one name.
type AmbiguousError struct {
	Name  string
	Kind  Kind
	Path  string
	Count int
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%d definitions of %s %q in %s", e.Count, e.Kind, e.Name, e.Path)
}

// UnsupportedLanguageError reports a file whose language has no grammar.
type UnsupportedLanguageError struct {
	Path string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("unsupported language for %s", e.Path)
}

// Locator parses source files and finds entities by name.
type Locator struct {
	jsParser *sitter.Parser
	pyParser *sitter.Parser
}

// NewLocator creates a locator for JavaScript and Python sources.
func NewLocator() *Locator {
	jsParser := sitter.NewParser()
	jsParser.SetLanguage(javascript.GetLanguage())

	pyParser := sitter.NewParser()
	pyParser.SetLanguage(python.GetLanguage())

	return &Locator{jsParser: jsParser, pyParser: pyParser}
}

// Language maps a file path to a supported grammar name, or "".
func Language(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	}
	return ""
}

// Find locates the entity with the given name. The name may be qualified
// as "Class.method" to select a method.
func (l *Locator) Find(ctx context.Context, content []byte, path string, kind Kind, name string) (*Entity, error) {
	lang := Language(path)
	if lang == "" {
		return nil, &UnsupportedLanguageError{Path: path}
	}

	var parser *sitter.Parser
	var extract func(*sitter.Node, []byte) []*Entity
	switch lang {
	case "python":
		parser = l.pyParser
		extract = extractPython
	default:
		parser = l.jsParser
		extract = extractJavaScript
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var matches []*Entity
	for _, ent := range extract(tree.RootNode(), content) {
		if ent.Kind == kind && ent.Name == name {
			matches = append(matches, ent)
		}
	}
	switch len(matches) {
	case 0:
		return nil, &NotFoundError{Name: name, Kind: kind, Path: path}
	case 1:
		return matches[0], nil
	default:
		return nil, &AmbiguousError{Name: name, Kind: kind, Path: path, Count: len(matches)}
	}
}

// List returns every function and class definition in the file.
func (l *Locator) List(ctx context.Context, content []byte, path string) ([]*Entity, error) {
	lang := Language(path)
	if lang == "" {
		return nil, &UnsupportedLanguageError{Path: path}
	}

	parser := l.jsParser
	extract := extractJavaScript
	if lang == "python" {
		parser = l.pyParser
		extract = extractPython
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return extract(tree.RootNode(), content), nil
}

func extractPython(root *sitter.Node, content []byte) []*Entity {
	var out []*Entity

	iter := sitter.NewIterator(root, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}

		switch n.Type() {
		case "function_definition":
			// Methods are emitted with their class prefix below.
			if insideClass(n, "class_definition") {
				continue
			}
			if ent := pythonFunction(n, content, ""); ent != nil {
				out = append(out, ent)
			}
		case "class_definition":
			ent := pythonClass(n, content)
			if ent == nil {
				continue
			}
			out = append(out, ent)
			out = append(out, pythonMethods(n, content, ent.Name)...)
		}
	}

	return out
}

func insideClass(node *sitter.Node, classType string) bool {
	for p := node.Parent(); p != nil; p = p.Parent() {
		if p.Type() == classType {
			return true
		}
	}
	return false
}

func pythonFunction(node *sitter.Node, content []byte, className string) *Entity {
	var name, params string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			if name == "" {
				name = child.Content(content)
			}
		case "parameters":
			params = child.Content(content)
		}
	}
	if name == "" {
		return nil
	}

	fullName := name
	if className != "" {
		fullName = className + "." + name
	}
	return &Entity{
		Name:      fullName,
		Kind:      KindFunction,
		Start:     withDecorators(node),
		End:       int(node.EndByte()),
		Signature: fmt.Sprintf("def %s%s", name, params),
	}
}

func pythonClass(node *sitter.Node, content []byte) *Entity {
	var name, bases string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			if name == "" {
				name = child.Content(content)
			}
		case "argument_list":
			bases = child.Content(content)
		}
	}
	if name == "" {
		return nil
	}
	return &Entity{
		Name:      name,
		Kind:      KindClass,
		Start:     withDecorators(node),
		End:       int(node.EndByte()),
		Signature: "class " + name + bases,
	}
}

func pythonMethods(classNode *sitter.Node, content []byte, className string) []*Entity {
	var body *sitter.Node
	for i := 0; i < int(classNode.ChildCount()); i++ {
		if child := classNode.Child(i); child.Type() == "block" {
			body = child
			break
		}
	}
	if body == nil {
		return nil
	}

	var out []*Entity
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		if child.Type() == "function_definition" {
			if ent := pythonFunction(child, content, className); ent != nil {
				out = append(out, ent)
			}
		}
		// Decorated methods wrap the definition in a decorated_definition.
		if child.Type() == "decorated_definition" {
			for j := 0; j < int(child.ChildCount()); j++ {
				inner := child.Child(j)
				if inner.Type() == "function_definition" {
					if ent := pythonFunction(inner, content, className); ent != nil {
						out = append(out, ent)
					}
				}
			}
		}
	}
	return out
}

// withDecorators extends a definition's start to cover a wrapping
// decorated_definition node so decorators travel with the entity.
func withDecorators(node *sitter.Node) int {
	if p := node.Parent(); p != nil && p.Type() == "decorated_definition" {
		return int(p.StartByte())
	}
	return int(node.StartByte())
}

func extractJavaScript(root *sitter.Node, content []byte) []*Entity {
	var out []*Entity

	iter := sitter.NewIterator(root, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}

		switch n.Type() {
		case "function_declaration":
			if ent := jsFunction(n, content); ent != nil {
				out = append(out, ent)
			}
		case "class_declaration":
			ent := jsClass(n, content)
			if ent == nil {
				continue
			}
			out = append(out, ent)
			out = append(out, jsMethods(n, content, ent.Name)...)
		case "lexical_declaration", "variable_declaration":
			out = append(out, jsArrowFunctions(n, content)...)
		}
	}

	return out
}

func jsFunction(node *sitter.Node, content []byte) *Entity {
	var name, params string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			name = child.Content(content)
		case "formal_parameters":
			params = child.Content(content)
		}
	}
	if name == "" {
		return nil
	}
	return &Entity{
		Name:      name,
		Kind:      KindFunction,
		Start:     int(node.StartByte()),
		End:       int(node.EndByte()),
		Signature: fmt.Sprintf("function %s%s", name, params),
	}
}

func jsClass(node *sitter.Node, content []byte) *Entity {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "identifier" {
			name := child.Content(content)
			return &Entity{
				Name:      name,
				Kind:      KindClass,
				Start:     int(node.StartByte()),
				End:       int(node.EndByte()),
				Signature: "class " + name,
			}
		}
	}
	return nil
}

func jsMethods(classNode *sitter.Node, content []byte, className string) []*Entity {
	var body *sitter.Node
	for i := 0; i < int(classNode.ChildCount()); i++ {
		if child := classNode.Child(i); child.Type() == "class_body" {
			body = child
			break
		}
	}
	if body == nil {
		return nil
	}

	var out []*Entity
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		if child.Type() != "method_definition" {
			continue
		}
		var name, params string
		for j := 0; j < int(child.ChildCount()); j++ {
			inner := child.Child(j)
			switch inner.Type() {
			case "property_identifier":
				name = inner.Content(content)
			case "formal_parameters":
				params = inner.Content(content)
			}
		}
		if name == "" {
			continue
		}
		out = append(out, &Entity{
			Name:      className + "." + name,
			Kind:      KindFunction,
			Start:     int(child.StartByte()),
			End:       int(child.EndByte()),
			Signature: fmt.Sprintf("%s(%s)", name, strings.Trim(params, "()")),
		})
	}
	return out
}

// jsArrowFunctions extracts `const f = (...) => ...` declarations.
func jsArrowFunctions(node *sitter.Node, content []byte) []*Entity {
	var out []*Entity
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "variable_declarator" {
			continue
		}
		var name string
		fn := false
		for j := 0; j < int(child.ChildCount()); j++ {
			inner := child.Child(j)
			switch inner.Type() {
			case "identifier":
				name = inner.Content(content)
			case "arrow_function", "function":
				fn = true
			}
		}
		if name == "" || !fn {
			continue
		}
		out = append(out, &Entity{
			Name:      name,
			Kind:      KindFunction,
			Start:     int(node.StartByte()),
			End:       int(node.EndByte()),
			Signature: "const " + name,
		})
	}
	return out
}
