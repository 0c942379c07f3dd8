// File: internal/validation/basic.go
package validation

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	json "github.com/json-iterator/go"
	"golang.org/x/mod/modfile"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/validation/syntax"
)

// entryPointFallbacks are checked when the registry's entry point is absent.
var entryPointFallbacks = []string{
	"main.py", "app.py", "index.js", "server.js", "index.ts", "main.go",
	"Main.java", "main.rs", "main.rb", "app.rb", "index.php", "Program.cs",
	"main.tf",
}

// validateBasic runs the static gate: syntax, import resolution, entry
// point, documentation. The four checks average into the score with equal
// weight, except that unparseable source zeroes the level outright.
func (v *Validator) validateBasic(ctx context.Context, c *schemas.Capsule, lang schemas.SupportedLanguage, env schemas.RuntimeEnvironment) *schemas.ValidationResult {
	result := &schemas.ValidationResult{
		Level:   schemas.LevelBasic,
		Metrics: map[string]interface{}{},
	}

	syntaxOK := true
	parsed := 0
	for _, p := range sortedPaths(c.SourceFiles) {
		if !syntax.Recognized(p) {
			continue
		}
		parsed++
		if err := syntax.Validate(ctx, p, []byte(c.SourceFiles[p])); err != nil {
			syntaxOK = false
			result.Issues = append(result.Issues, err.Error())
		}
	}
	result.Metrics["files_parsed"] = parsed
	result.Metrics["syntax_valid"] = syntaxOK

	importsOK := true
	for _, missing := range unresolvedImports(c, lang) {
		importsOK = false
		result.Issues = append(result.Issues,
			fmt.Sprintf("unresolved import %q: not in the standard library or declared dependencies", missing))
	}
	result.Metrics["imports_resolved"] = importsOK

	entry := findEntryPoint(c, env)
	entryOK := entry != ""
	if entryOK {
		result.Metrics["entry_point"] = entry
	} else {
		result.Issues = append(result.Issues,
			fmt.Sprintf("no entry point found (expected %s or a common fallback)", env.EntryPoint))
	}
	result.Metrics["entry_point_found"] = entryOK

	docChars := len(strings.TrimSpace(c.Documentation))
	docsOK := docChars > v.cfg.MinDocumentationChars
	result.Metrics["documentation_chars"] = docChars
	if !docsOK {
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("add documentation (at least %d characters) describing what the capsule does and how to run it",
				v.cfg.MinDocumentationChars))
	}

	passed := 0
	for _, ok := range []bool{syntaxOK, importsOK, entryOK, docsOK} {
		if ok {
			passed++
		}
	}
	result.Score = float64(passed) / 4.0
	result.Passed = syntaxOK && importsOK && entryOK
	if !syntaxOK {
		result.Score = 0
	}
	return result
}

// findEntryPoint returns the source path serving as the entry point, or ""
// when none of the candidates exist. Matches are by exact path first, then
// by basename so nested layouts (src/main.py) still count.
func findEntryPoint(c *schemas.Capsule, env schemas.RuntimeEnvironment) string {
	candidates := make([]string, 0, len(entryPointFallbacks)+1)
	if env.EntryPoint != "" {
		candidates = append(candidates, env.EntryPoint)
	}
	candidates = append(candidates, entryPointFallbacks...)

	for _, candidate := range candidates {
		if _, ok := c.SourceFiles[candidate]; ok {
			return candidate
		}
	}
	for _, candidate := range candidates {
		for _, p := range sortedPaths(c.SourceFiles) {
			if path.Base(p) == candidate {
				return p
			}
		}
	}
	return ""
}

// -- Import resolution --
//
// Declared imports are checked against a per-language standard-library
// allowlist, the capsule's declared dependencies (manifest, requirements,
// package.json, go.mod) and the capsule's own files. Languages without an
// extractor resolve vacuously; the sandbox run is the real arbiter.

var (
	pythonImport     = regexp.MustCompile(`(?m)^\s*import\s+([\w.]+)`)
	pythonFromImport = regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import`)
	nodeRequire      = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)
	nodeImport       = regexp.MustCompile(`(?m)^\s*import\s+(?:[\w{}*,\s]+\s+from\s+)?['"]([^'"]+)['"]`)
	goImportBlock    = regexp.MustCompile(`(?s)import\s*\(([^)]*)\)`)
	goImportSingle   = regexp.MustCompile(`(?m)^import\s+(?:\w+\s+)?"([^"]+)"`)
	goQuotedPath     = regexp.MustCompile(`"([^"]+)"`)

	requirementName = regexp.MustCompile(`^([A-Za-z0-9_.-]+)`)
	pyprojectDeps   = regexp.MustCompile(`(?s)dependencies\s*=\s*\[([^\]]*)\]`)
	quotedDep       = regexp.MustCompile(`["']([A-Za-z0-9_.-]+)`)
)

// Import names whose distribution package is spelled differently.
var pythonImportAliases = map[string]string{
	"yaml":     "pyyaml",
	"PIL":      "pillow",
	"sklearn":  "scikit-learn",
	"bs4":      "beautifulsoup4",
	"cv2":      "opencv-python",
	"dotenv":   "python-dotenv",
	"dateutil": "python-dateutil",
}

func unresolvedImports(c *schemas.Capsule, lang schemas.SupportedLanguage) []string {
	switch lang {
	case schemas.LangPython:
		return unresolvedPythonImports(c)
	case schemas.LangNodeJS:
		return unresolvedNodeImports(c)
	case schemas.LangGo:
		return unresolvedGoImports(c)
	default:
		return nil
	}
}

func unresolvedPythonImports(c *schemas.Capsule) []string {
	declared := manifestDependencies(c)
	for _, dep := range pythonDeclaredDeps(c) {
		declared[dep] = struct{}{}
	}

	local := map[string]struct{}{}
	for p := range c.SourceFiles {
		for _, part := range strings.Split(p, "/") {
			local[strings.TrimSuffix(part, ".py")] = struct{}{}
		}
	}

	missing := map[string]struct{}{}
	for _, p := range sortedPaths(c.SourceFiles) {
		if !strings.HasSuffix(p, ".py") {
			continue
		}
		content := c.SourceFiles[p]
		for _, m := range pythonImport.FindAllStringSubmatch(content, -1) {
			checkPythonImport(m[1], declared, local, missing)
		}
		for _, m := range pythonFromImport.FindAllStringSubmatch(content, -1) {
			checkPythonImport(m[1], declared, local, missing)
		}
	}
	return sortedKeys(missing)
}

func checkPythonImport(name string, declared, local, missing map[string]struct{}) {
	if strings.HasPrefix(name, ".") {
		return // relative import, resolved within the capsule
	}
	top := strings.SplitN(name, ".", 2)[0]
	if _, ok := pythonStdlib[top]; ok {
		return
	}
	if _, ok := local[top]; ok {
		return
	}
	if dependencyDeclared(top, declared) {
		return
	}
	if alias, ok := pythonImportAliases[top]; ok && dependencyDeclared(alias, declared) {
		return
	}
	missing[top] = struct{}{}
}

// pythonDeclaredDeps reads requirements.txt and pyproject.toml from the
// capsule files.
func pythonDeclaredDeps(c *schemas.Capsule) []string {
	var deps []string
	for p, content := range c.AllFiles() {
		base := path.Base(p)
		switch {
		case base == "requirements.txt" || strings.HasPrefix(base, "requirements-"):
			for _, line := range strings.Split(content, "\n") {
				line = strings.TrimSpace(line)
				if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
					continue
				}
				if m := requirementName.FindStringSubmatch(line); m != nil {
					deps = append(deps, m[1])
				}
			}
		case base == "pyproject.toml":
			for _, block := range pyprojectDeps.FindAllStringSubmatch(content, -1) {
				for _, dep := range quotedDep.FindAllStringSubmatch(block[1], -1) {
					deps = append(deps, dep[1])
				}
			}
		}
	}
	return deps
}

func unresolvedNodeImports(c *schemas.Capsule) []string {
	declared := manifestDependencies(c)
	for _, dep := range nodeDeclaredDeps(c) {
		declared[dep] = struct{}{}
	}

	missing := map[string]struct{}{}
	for _, p := range sortedPaths(c.SourceFiles) {
		switch path.Ext(p) {
		case ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx":
		default:
			continue
		}
		content := c.SourceFiles[p]
		for _, m := range nodeRequire.FindAllStringSubmatch(content, -1) {
			checkNodeImport(m[1], declared, missing)
		}
		for _, m := range nodeImport.FindAllStringSubmatch(content, -1) {
			checkNodeImport(m[1], declared, missing)
		}
	}
	return sortedKeys(missing)
}

func checkNodeImport(specifier string, declared, missing map[string]struct{}) {
	if strings.HasPrefix(specifier, ".") || strings.HasPrefix(specifier, "/") {
		return
	}
	name := strings.TrimPrefix(specifier, "node:")
	// Scoped packages keep two segments, bare packages one.
	parts := strings.Split(name, "/")
	if strings.HasPrefix(name, "@") && len(parts) >= 2 {
		name = parts[0] + "/" + parts[1]
	} else {
		name = parts[0]
	}
	if _, ok := nodeBuiltins[name]; ok {
		return
	}
	if dependencyDeclared(name, declared) {
		return
	}
	missing[name] = struct{}{}
}

func nodeDeclaredDeps(c *schemas.Capsule) []string {
	var deps []string
	for p, content := range c.AllFiles() {
		if path.Base(p) != "package.json" {
			continue
		}
		var pkg struct {
			Dependencies    map[string]string `json:"dependencies"`
			DevDependencies map[string]string `json:"devDependencies"`
		}
		if err := json.Unmarshal([]byte(content), &pkg); err != nil {
			continue
		}
		for name := range pkg.Dependencies {
			deps = append(deps, name)
		}
		for name := range pkg.DevDependencies {
			deps = append(deps, name)
		}
	}
	return deps
}

func unresolvedGoImports(c *schemas.Capsule) []string {
	var modules []string
	if gomod, ok := findFile(c, "go.mod"); ok {
		if f, err := modfile.Parse("go.mod", []byte(gomod), nil); err == nil {
			if f.Module != nil {
				modules = append(modules, f.Module.Mod.Path)
			}
			for _, req := range f.Require {
				modules = append(modules, req.Mod.Path)
			}
		}
	}

	missing := map[string]struct{}{}
	for _, p := range sortedPaths(c.SourceFiles) {
		if !strings.HasSuffix(p, ".go") {
			continue
		}
		for _, imp := range goImports(c.SourceFiles[p]) {
			// First-segment dots distinguish module paths from the
			// standard library.
			if !strings.Contains(strings.SplitN(imp, "/", 2)[0], ".") {
				continue
			}
			resolved := false
			for _, mod := range modules {
				if imp == mod || strings.HasPrefix(imp, mod+"/") {
					resolved = true
					break
				}
			}
			if !resolved {
				missing[imp] = struct{}{}
			}
		}
	}
	return sortedKeys(missing)
}

func goImports(content string) []string {
	var imports []string
	for _, block := range goImportBlock.FindAllStringSubmatch(content, -1) {
		for _, quoted := range goQuotedPath.FindAllStringSubmatch(block[1], -1) {
			imports = append(imports, quoted[1])
		}
	}
	for _, m := range goImportSingle.FindAllStringSubmatch(content, -1) {
		imports = append(imports, m[1])
	}
	return imports
}

// manifestDependencies parses the comma- or whitespace-separated
// `dependencies` manifest entry.
func manifestDependencies(c *schemas.Capsule) map[string]struct{} {
	declared := map[string]struct{}{}
	raw, ok := c.Manifest["dependencies"]
	if !ok {
		return declared
	}
	for _, dep := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	}) {
		if dep != "" {
			declared[dep] = struct{}{}
		}
	}
	return declared
}

// dependencyDeclared matches case-insensitively and treats '-' and '_' as
// interchangeable, as Python packaging does.
func dependencyDeclared(name string, declared map[string]struct{}) bool {
	normalize := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(s), "-", "_")
	}
	want := normalize(name)
	for dep := range declared {
		if normalize(dep) == want {
			return true
		}
	}
	return false
}

func findFile(c *schemas.Capsule, base string) (string, bool) {
	if content, ok := c.SourceFiles[base]; ok {
		return content, true
	}
	for p, content := range c.SourceFiles {
		if path.Base(p) == base {
			return content, true
		}
	}
	return "", false
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
