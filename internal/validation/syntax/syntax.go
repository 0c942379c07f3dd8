// File: internal/validation/syntax/syntax.go
// Package syntax parses capsule source files with Tree-sitter grammars and
// reports parse failures. The grammar is chosen by file extension so that a
// capsule mixing languages (a Python helper in a Terraform capsule, say) is
// still checked with the right parser.
package syntax

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/hcl"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/xkilldash9x/crucible/api/schemas"
)

var grammars = map[string]*sitter.Language{
	".py":   python.GetLanguage(),
	".js":   javascript.GetLanguage(),
	".jsx":  javascript.GetLanguage(),
	".mjs":  javascript.GetLanguage(),
	".cjs":  javascript.GetLanguage(),
	".ts":   typescript.GetLanguage(),
	".tsx":  tsx.GetLanguage(),
	".go":   golang.GetLanguage(),
	".java": java.GetLanguage(),
	".rb":   ruby.GetLanguage(),
	".php":  php.GetLanguage(),
	".cs":   csharp.GetLanguage(),
	".rs":   rust.GetLanguage(),
	".tf":   hcl.GetLanguage(),
}

// Recognized reports whether filename maps to a grammar this package can
// parse. Manifests, lockfiles and documentation are not recognized.
func Recognized(filename string) bool {
	_, ok := grammars[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Validate parses a single source file and returns nil when the parse is
// clean. A parse failure is reported as a SYNTAX_INVALID error naming the
// file and the first offending line. Files without a known grammar are
// skipped and return nil.
func Validate(ctx context.Context, filename string, content []byte) error {
	lang, ok := grammars[strings.ToLower(filepath.Ext(filename))]
	if !ok {
		return nil
	}
	if len(content) == 0 {
		return nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		// ParseCtx only fails on cancellation, not on bad input.
		return fmt.Errorf("parsing %s: %w", filename, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}

	if site := firstError(root); site != nil {
		return schemas.NewCodedError(schemas.ErrSyntaxInvalid,
			"syntax error in %s at line %d", filename, int(site.StartPoint().Row)+1)
	}
	return schemas.NewCodedError(schemas.ErrSyntaxInvalid, "syntax error in %s", filename)
}

// firstError locates the shallowest, earliest ERROR or missing node in a
// subtree known to contain one.
func firstError(node *sitter.Node) *sitter.Node {
	if node == nil || node.IsNull() {
		return nil
	}
	if node.Type() == "ERROR" || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}

	cursor := sitter.NewTreeCursor(node)
	defer cursor.Close()

	if ok := cursor.GoToFirstChild(); ok {
		for {
			if found := firstError(cursor.CurrentNode()); found != nil {
				return found
			}
			if ok := cursor.GoToNextSibling(); !ok {
				break
			}
		}
	}
	// HasError was set but no child carries it; report the node itself.
	return node
}
