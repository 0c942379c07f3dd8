// File: internal/validation/quality.go
package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/validation/syntax"
)

// Every heuristic in this file is advisory: regex scans over detached file
// contents will flag test fixtures and miss obfuscated problems alike. They
// feed the score, not a correctness verdict.

// securityFindingPenalty is deducted from the security sub-score per
// finding. A single finding lands below the default 0.8 gate.
const securityFindingPenalty = 0.25

// validateQuality scores complexity, documentation, security heuristics and
// best practices. Passing requires the combined score to clear the quality
// threshold and the security sub-score to clear its own, stricter gate.
func (v *Validator) validateQuality(c *schemas.Capsule, lang schemas.SupportedLanguage) *schemas.ValidationResult {
	result := &schemas.ValidationResult{
		Level:   schemas.LevelQuality,
		Metrics: map[string]interface{}{},
	}

	var problems []string

	findings := scanSecurityFindings(c.AllFiles())
	securityScore := schemas.ClampScore(1.0 - securityFindingPenalty*float64(len(findings)))
	for _, f := range findings {
		problems = append(problems, f.text)
	}

	complexity, avgBranches := complexityScore(c.SourceFiles)
	if complexity < 0.7 {
		problems = append(problems,
			fmt.Sprintf("high branching complexity (about %.0f decision points per function); decompose large functions", avgBranches))
	}

	docRatio := documentationRatio(c.SourceFiles)
	docScore := docRatio
	if docRatio < 0.5 {
		problems = append(problems, "most source files lack docstrings or comments")
	}

	practices, practiceProblems := bestPracticeScore(c.SourceFiles, lang)
	problems = append(problems, practiceProblems...)

	score := (complexity + docScore + securityScore + practices) / 4.0

	result.Score = score
	result.Passed = score >= v.cfg.QualityPassThreshold && securityScore >= v.cfg.SecurityPassThreshold
	result.Metrics["complexity_score"] = complexity
	result.Metrics["avg_branches_per_function"] = avgBranches
	result.Metrics["documentation_score"] = docScore
	result.Metrics["security_score"] = securityScore
	result.Metrics["security_findings"] = len(findings)
	result.Metrics["practices_score"] = practices

	if result.Passed {
		result.Recommendations = append(result.Recommendations, problems...)
	} else {
		result.Issues = append(result.Issues, problems...)
	}
	return result
}

// -- Complexity approximation --

type complexityProfile struct {
	branches  *regexp.Regexp
	functions *regexp.Regexp
	operators bool // also count && and ||
}

var (
	cFamilyProfile = complexityProfile{
		branches:  regexp.MustCompile(`\b(if|for|while|case|catch)\b`),
		functions: regexp.MustCompile(`\bfunction\b|=>`),
		operators: true,
	}

	complexityByExt = map[string]complexityProfile{
		".py": {
			branches:  regexp.MustCompile(`\b(if|elif|for|while|except|and|or|case)\b`),
			functions: regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+\w+`),
		},
		".go": {
			branches:  regexp.MustCompile(`\b(if|for|case|select|switch)\b`),
			functions: regexp.MustCompile(`(?m)^func\b`),
			operators: true,
		},
		".java": {
			branches:  regexp.MustCompile(`\b(if|for|while|case|catch|switch)\b`),
			functions: regexp.MustCompile(`(?m)(?:public|private|protected)\s+[^;{=]+\([^)]*\)\s*\{`),
			operators: true,
		},
		".cs": {
			branches:  regexp.MustCompile(`\b(if|for|foreach|while|case|catch|switch)\b`),
			functions: regexp.MustCompile(`(?m)(?:public|private|protected|internal)\s+[^;{=]+\([^)]*\)\s*\{`),
			operators: true,
		},
		".rb": {
			branches:  regexp.MustCompile(`\b(if|elsif|unless|while|until|for|rescue|when|and|or)\b`),
			functions: regexp.MustCompile(`(?m)^\s*def\s+\w+`),
		},
		".rs": {
			branches:  regexp.MustCompile(`\b(if|for|while|loop|match)\b`),
			functions: regexp.MustCompile(`\bfn\s+\w+`),
			operators: true,
		},
		".php": {
			branches:  regexp.MustCompile(`\b(if|elseif|for|foreach|while|case|catch|switch)\b`),
			functions: regexp.MustCompile(`function\s+\w+`),
			operators: true,
		},
		".tf": {
			branches:  regexp.MustCompile(`\b(for|if)\b`),
			functions: regexp.MustCompile(`(?m)^(resource|module|data)\b`),
		},
		".js":  cFamilyProfile,
		".jsx": cFamilyProfile,
		".mjs": cFamilyProfile,
		".cjs": cFamilyProfile,
		".ts":  cFamilyProfile,
		".tsx": cFamilyProfile,
	}
)

// complexityScore approximates the mean decision-point count per function
// across all source files and maps it onto [0,1]: <=10 scores 1.0, >=30
// scores 0.
func complexityScore(files map[string]string) (float64, float64) {
	branches, functions := 0, 0
	for _, p := range sortedPaths(files) {
		profile, ok := complexityByExt[strings.ToLower(path.Ext(p))]
		if !ok {
			continue
		}
		content := files[p]
		branches += len(profile.branches.FindAllString(content, -1))
		if profile.operators {
			branches += strings.Count(content, "&&") + strings.Count(content, "||")
		}
		functions += len(profile.functions.FindAllString(content, -1))
	}

	if functions == 0 {
		functions = 1
	}
	avg := 1.0 + float64(branches)/float64(functions)

	switch {
	case avg <= 10:
		return 1.0, avg
	case avg >= 30:
		return 0.0, avg
	default:
		return 1.0 - (avg-10)/20, avg
	}
}

// -- Documentation --

var (
	hashDocMarker  = regexp.MustCompile(`(?m)^\s*#|"""|'''|->`)
	slashDocMarker = regexp.MustCompile(`//|/\*`)
)

// documentationRatio is the fraction of source files carrying at least one
// comment, docstring or annotation marker. 1.0 when there is nothing to
// document.
func documentationRatio(files map[string]string) float64 {
	total, documented := 0, 0
	for _, p := range sortedPaths(files) {
		ext := strings.ToLower(path.Ext(p))
		if !syntax.Recognized(p) {
			continue
		}
		total++
		var marker *regexp.Regexp
		switch ext {
		case ".py", ".rb", ".tf":
			marker = hashDocMarker
		default:
			marker = slashDocMarker
		}
		if marker.MatchString(files[p]) {
			documented++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(documented) / float64(total)
}

// -- Security heuristics --

type securityFinding struct {
	file string
	line int
	kind string // credential | sql_injection | deserialization
	text string
}

var (
	credentialAssign = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|password|passwd|token|access[_-]?key|private[_-]?key)\s*[:=]\s*["'][^"']{6,}["']`)
	credentialShape  = regexp.MustCompile(`\b(sk-[A-Za-z0-9]{16,}|AKIA[0-9A-Z]{16}|ghp_[A-Za-z0-9]{36,}|xox[baprs]-[A-Za-z0-9-]{10,})\b`)
	jwtCandidate     = regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`)
	sqlLiteral       = regexp.MustCompile(`(?i)["'][^"']*\b(select|insert|update|delete)\b[^"']*["']`)
	sqlComposition   = regexp.MustCompile(`(?i)["']\s*[+%]|[+%]\s*["']|\bf["']|\.format\(`)
	unsafeDeser      = regexp.MustCompile(`pickle\.loads?\(|marshal\.loads?\(|yaml\.load\(|\beval\(|\bunserialize\(|Marshal\.load|ObjectInputStream`)

	// Lines that reference the environment or are clearly templates are
	// not treated as embedded credentials.
	credentialExempt = regexp.MustCompile(`(?i)environ|getenv|process\.env|example|placeholder|changeme|\$\{|\{\{|<[A-Za-z_]+>`)
)

// scanSecurityFindings runs the line-oriented heuristics over every capsule
// file, tests included. At most one finding is recorded per line; order is
// deterministic (sorted paths, ascending lines).
func scanSecurityFindings(files map[string]string) []securityFinding {
	var findings []securityFinding
	for _, p := range sortedPaths(files) {
		for i, line := range strings.Split(files[p], "\n") {
			if f, ok := scanLine(p, i+1, line); ok {
				findings = append(findings, f)
			}
		}
	}
	return findings
}

func scanLine(file string, lineNo int, line string) (securityFinding, bool) {
	if credentialAssign.MatchString(line) && !credentialExempt.MatchString(line) {
		return securityFinding{
			file: file, line: lineNo, kind: "credential",
			text: fmt.Sprintf("hardcoded credential in %s:%d", file, lineNo),
		}, true
	}
	if credentialShape.MatchString(line) && !credentialExempt.MatchString(line) {
		return securityFinding{
			file: file, line: lineNo, kind: "credential",
			text: fmt.Sprintf("hardcoded credential in %s:%d (provider key pattern)", file, lineNo),
		}, true
	}
	if candidate := jwtCandidate.FindString(line); candidate != "" {
		if _, _, err := jwt.NewParser().ParseUnverified(candidate, jwt.MapClaims{}); err == nil {
			return securityFinding{
				file: file, line: lineNo, kind: "credential",
				text: fmt.Sprintf("hardcoded JWT in %s:%d", file, lineNo),
			}, true
		}
	}
	if sqlLiteral.MatchString(line) && sqlComposition.MatchString(line) {
		return securityFinding{
			file: file, line: lineNo, kind: "sql_injection",
			text: fmt.Sprintf("possible SQL injection in %s:%d: query built by string composition", file, lineNo),
		}, true
	}
	if unsafeDeser.MatchString(line) && !strings.Contains(line, "SafeLoader") && !strings.Contains(line, "safe_load") {
		return securityFinding{
			file: file, line: lineNo, kind: "deserialization",
			text: fmt.Sprintf("unsafe deserialization in %s:%d", file, lineNo),
		}, true
	}
	return securityFinding{}, false
}

// -- Best practices --

type languageHeuristics struct {
	errorHandling *regexp.Regexp
	logging       *regexp.Regexp
	functionName  *regexp.Regexp // captures the declared name
	conformingNam *regexp.Regexp
	namingLabel   string
}

var heuristicsByLang = map[schemas.SupportedLanguage]languageHeuristics{
	schemas.LangPython: {
		errorHandling: regexp.MustCompile(`\btry\b|\bexcept\b|\braise\b`),
		logging:       regexp.MustCompile(`\blogging\.|\blogger\.|\blog\.`),
		functionName:  regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+(\w+)`),
		conformingNam: regexp.MustCompile(`^_{0,2}[a-z][a-z0-9_]*_{0,2}$`),
		namingLabel:   "snake_case",
	},
	schemas.LangNodeJS: {
		errorHandling: regexp.MustCompile(`\btry\b|\bcatch\b|\.catch\(`),
		logging:       regexp.MustCompile(`console\.(log|info|warn|error)|\blogger\.`),
		functionName:  regexp.MustCompile(`\bfunction\s+(\w+)`),
		conformingNam: regexp.MustCompile(`^[_$]?[a-z][A-Za-z0-9]*$`),
		namingLabel:   "camelCase",
	},
	schemas.LangGo: {
		errorHandling: regexp.MustCompile(`if err != nil|errors\.`),
		logging:       regexp.MustCompile(`\blog\.|zap\.|slog\.`),
	},
	schemas.LangJava: {
		errorHandling: regexp.MustCompile(`\btry\b|\bcatch\b|\bthrows\b`),
		logging:       regexp.MustCompile(`Logger|log\.(info|warn|error|debug)`),
	},
	schemas.LangCSharp: {
		errorHandling: regexp.MustCompile(`\btry\b|\bcatch\b`),
		logging:       regexp.MustCompile(`ILogger|Console\.Write|_logger`),
	},
	schemas.LangRuby: {
		errorHandling: regexp.MustCompile(`\bbegin\b|\brescue\b|\braise\b`),
		logging:       regexp.MustCompile(`Logger|logger\.`),
		functionName:  regexp.MustCompile(`(?m)^\s*def\s+(\w+)`),
		conformingNam: regexp.MustCompile(`^[a-z][a-z0-9_]*[?!]?$`),
		namingLabel:   "snake_case",
	},
	schemas.LangRust: {
		errorHandling: regexp.MustCompile(`\bmatch\b|\bResult\b|\?;`),
		logging:       regexp.MustCompile(`log::|println!|tracing::`),
	},
	schemas.LangPHP: {
		errorHandling: regexp.MustCompile(`\btry\b|\bcatch\b|\bthrow\b`),
		logging:       regexp.MustCompile(`error_log|Log::|->log`),
	},
}

// bestPracticeScore averages three boolean checks: error handling, logging,
// naming conventions. Checks without a pattern for the language pass
// vacuously (Terraform has no exception syntax to look for).
func bestPracticeScore(files map[string]string, lang schemas.SupportedLanguage) (float64, []string) {
	h := heuristicsByLang[lang]
	var problems []string
	passed := 0

	if matchAnyFile(files, h.errorHandling) {
		passed++
	} else {
		problems = append(problems, "no error handling detected in source files")
	}

	if matchAnyFile(files, h.logging) {
		passed++
	} else {
		problems = append(problems, "no logging detected in source files")
	}

	if namingConforms(files, h) {
		passed++
	} else {
		problems = append(problems, fmt.Sprintf("function names deviate from %s convention", h.namingLabel))
	}

	return float64(passed) / 3.0, problems
}

func matchAnyFile(files map[string]string, re *regexp.Regexp) bool {
	if re == nil || len(files) == 0 {
		return true
	}
	for _, content := range files {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

// namingConforms requires at least 80% of declared function names to match
// the language convention.
func namingConforms(files map[string]string, h languageHeuristics) bool {
	if h.functionName == nil || h.conformingNam == nil {
		return true
	}
	total, conforming := 0, 0
	for _, content := range files {
		for _, m := range h.functionName.FindAllStringSubmatch(content, -1) {
			total++
			if h.conformingNam.MatchString(m[1]) {
				conforming++
			}
		}
	}
	if total == 0 {
		return true
	}
	return float64(conforming)/float64(total) >= 0.8
}
