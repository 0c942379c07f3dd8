// File: internal/langdetect/detector.go
package langdetect

import (
	"path"
	"strings"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// extensionLanguages maps file extensions to the language they evidence.
var extensionLanguages = map[string]schemas.SupportedLanguage{
	".py":   schemas.LangPython,
	".js":   schemas.LangNodeJS,
	".jsx":  schemas.LangNodeJS,
	".mjs":  schemas.LangNodeJS,
	".cjs":  schemas.LangNodeJS,
	".ts":   schemas.LangNodeJS,
	".tsx":  schemas.LangNodeJS,
	".go":   schemas.LangGo,
	".java": schemas.LangJava,
	".tf":   schemas.LangTerraform,
	".rs":   schemas.LangRust,
	".rb":   schemas.LangRuby,
	".php":  schemas.LangPHP,
	".cs":   schemas.LangCSharp,
}

// signatureFiles are characteristic project files. They are consulted only
// when no file carries a recognized source extension.
var signatureFiles = map[string]schemas.SupportedLanguage{
	"package.json":     schemas.LangNodeJS,
	"tsconfig.json":    schemas.LangNodeJS,
	"go.mod":           schemas.LangGo,
	"go.sum":           schemas.LangGo,
	"pom.xml":          schemas.LangJava,
	"build.gradle":     schemas.LangJava,
	"requirements.txt": schemas.LangPython,
	"pyproject.toml":   schemas.LangPython,
	"setup.py":         schemas.LangPython,
	"Pipfile":          schemas.LangPython,
	"Cargo.toml":       schemas.LangRust,
	"Gemfile":          schemas.LangRuby,
	"composer.json":    schemas.LangPHP,
}

// signatureSuffixes cover project file names that carry the signal in their
// suffix rather than an exact basename. Kept as a slice so matching order is
// fixed.
var signatureSuffixes = []struct {
	suffix string
	lang   schemas.SupportedLanguage
}{
	{".csproj", schemas.LangCSharp},
	{".sln", schemas.LangCSharp},
	{".gemspec", schemas.LangRuby},
}

// manifestAliases recognizes the spellings a manifest may use for a language.
var manifestAliases = map[string]schemas.SupportedLanguage{
	"python":     schemas.LangPython,
	"python3":    schemas.LangPython,
	"py":         schemas.LangPython,
	"node":       schemas.LangNodeJS,
	"nodejs":     schemas.LangNodeJS,
	"node.js":    schemas.LangNodeJS,
	"javascript": schemas.LangNodeJS,
	"typescript": schemas.LangNodeJS,
	"js":         schemas.LangNodeJS,
	"ts":         schemas.LangNodeJS,
	"go":         schemas.LangGo,
	"golang":     schemas.LangGo,
	"java":       schemas.LangJava,
	"terraform":  schemas.LangTerraform,
	"hcl":        schemas.LangTerraform,
	"tf":         schemas.LangTerraform,
	"rust":       schemas.LangRust,
	"rs":         schemas.LangRust,
	"ruby":       schemas.LangRuby,
	"rb":         schemas.LangRuby,
	"php":        schemas.LangPHP,
	"csharp":     schemas.LangCSharp,
	"c#":         schemas.LangCSharp,
	"cs":         schemas.LangCSharp,
	"dotnet":     schemas.LangCSharp,
	".net":       schemas.LangCSharp,
}

// Detect determines a capsule's language. An explicit, recognized manifest
// declaration always wins. Otherwise file extensions are counted and the
// highest-scoring language is chosen, with ties broken by the fixed
// alphabetical priority order so detection is deterministic. Signature
// files decide only when no recognized extension appears. A capsule with no
// recognizable evidence detects as LangUnknown.
func Detect(c *schemas.Capsule) schemas.SupportedLanguage {
	if c == nil {
		return schemas.LangUnknown
	}

	if declared := strings.ToLower(strings.TrimSpace(c.Manifest["language"])); declared != "" {
		if lang, ok := manifestAliases[declared]; ok {
			return lang
		}
	}

	if lang := classify(c.SourceFiles); lang != schemas.LangUnknown {
		return lang
	}
	// Capsules that ship only tests still deserve a language.
	return classify(c.TestFiles)
}

// classify applies the extension census, then the signature-file census,
// over one file map.
func classify(files map[string]string) schemas.SupportedLanguage {
	if lang := winner(tallyExtensions(files)); lang != schemas.LangUnknown {
		return lang
	}
	return winner(tallySignatures(files))
}

func tallyExtensions(files map[string]string) map[schemas.SupportedLanguage]int {
	scores := make(map[schemas.SupportedLanguage]int)
	for filePath := range files {
		if lang, ok := extensionLanguages[strings.ToLower(path.Ext(filePath))]; ok {
			scores[lang]++
		}
	}
	return scores
}

func tallySignatures(files map[string]string) map[schemas.SupportedLanguage]int {
	scores := make(map[schemas.SupportedLanguage]int)
	for filePath := range files {
		base := path.Base(filePath)
		if lang, ok := signatureFiles[base]; ok {
			scores[lang]++
			continue
		}
		for _, sig := range signatureSuffixes {
			if strings.HasSuffix(base, sig.suffix) {
				scores[sig.lang]++
				break
			}
		}
	}
	return scores
}

func winner(scores map[schemas.SupportedLanguage]int) schemas.SupportedLanguage {
	best := schemas.LangUnknown
	bestScore := 0
	for _, lang := range schemas.LanguagePriority {
		if s := scores[lang]; s > bestScore {
			best = lang
			bestScore = s
		}
	}
	return best
}
