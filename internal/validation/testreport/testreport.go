// File: internal/validation/testreport/testreport.go

// Package testreport harvests test counts from a sandbox test phase. It
// prefers JUnit XML reports written into the workspace and falls back to
// parsing the framework's stdout when no report file exists.
package testreport

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// maxReportFiles caps how many XML files are inspected per workspace so a
// hostile capsule cannot make harvesting unbounded.
const maxReportFiles = 20

// Collect gathers a test summary for a finished test phase. The workspace is
// scanned for JUnit XML first; the combined phase output is the fallback.
func Collect(workspace string, lang schemas.SupportedLanguage, output string) schemas.TestSummary {
	if summary, ok := collectJUnit(workspace); ok {
		return summary
	}
	return ParseOutput(lang, output)
}

func collectJUnit(workspace string) (schemas.TestSummary, bool) {
	if workspace == "" {
		return schemas.TestSummary{}, false
	}

	var summary schemas.TestSummary
	found := false
	inspected := 0

	_ = filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if inspected >= maxReportFiles {
			return fs.SkipAll
		}
		if !looksLikeReport(d.Name(), path) {
			return nil
		}
		inspected++
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if s, ok := ParseJUnit(data); ok {
			summary.Total += s.Total
			summary.Passed += s.Passed
			summary.Failed += s.Failed
			summary.Skipped += s.Skipped
			found = true
		}
		return nil
	})

	if !found {
		return schemas.TestSummary{}, false
	}
	summary.Found = true
	summary.Source = "junit"
	return summary, true
}

func looksLikeReport(name, path string) bool {
	if !strings.HasSuffix(name, ".xml") {
		return false
	}
	lower := strings.ToLower(name)
	if strings.Contains(lower, "junit") || strings.Contains(lower, "test-report") ||
		strings.Contains(lower, "test_report") || lower == "report.xml" {
		return true
	}
	dir := strings.ToLower(filepath.Dir(path))
	return strings.Contains(dir, "test-results") || strings.Contains(dir, "surefire-reports")
}

// ParseJUnit reads a JUnit XML document and totals its suite counters. The
// boolean is false when the document is not JUnit-shaped.
func ParseJUnit(data []byte) (schemas.TestSummary, bool) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return schemas.TestSummary{}, false
	}
	root := doc.Root()
	if root == nil {
		return schemas.TestSummary{}, false
	}

	var suites []*etree.Element
	switch root.Tag {
	case "testsuites":
		suites = root.SelectElements("testsuite")
	case "testsuite":
		suites = []*etree.Element{root}
	default:
		return schemas.TestSummary{}, false
	}

	var summary schemas.TestSummary
	for _, suite := range suites {
		tests := intAttr(suite, "tests")
		failures := intAttr(suite, "failures") + intAttr(suite, "errors")
		skipped := intAttr(suite, "skipped")
		summary.Total += tests
		summary.Failed += failures
		summary.Skipped += skipped
		summary.Passed += tests - failures - skipped
		// Nested suites appear in some emitters.
		for _, nested := range suite.SelectElements("testsuite") {
			t := intAttr(nested, "tests")
			f := intAttr(nested, "failures") + intAttr(nested, "errors")
			s := intAttr(nested, "skipped")
			summary.Total += t
			summary.Failed += f
			summary.Skipped += s
			summary.Passed += t - f - s
		}
	}
	if summary.Total == 0 {
		return schemas.TestSummary{}, false
	}
	if summary.Passed < 0 {
		summary.Passed = 0
	}
	summary.Found = true
	summary.Source = "junit"
	return summary, true
}

func intAttr(el *etree.Element, name string) int {
	n, err := strconv.Atoi(el.SelectAttrValue(name, "0"))
	if err != nil {
		return 0
	}
	return n
}

// Framework stdout patterns, matched in order per language family.
var (
	pytestPassed  = regexp.MustCompile(`(\d+) passed`)
	pytestFailed  = regexp.MustCompile(`(\d+) failed`)
	pytestErrors  = regexp.MustCompile(`(\d+) error`)
	pytestSkipped = regexp.MustCompile(`(\d+) skipped`)

	goTestPass = regexp.MustCompile(`(?m)^--- PASS:`)
	goTestFail = regexp.MustCompile(`(?m)^--- FAIL:`)
	goTestSkip = regexp.MustCompile(`(?m)^--- SKIP:`)

	jestSummary  = regexp.MustCompile(`Tests:.*?(\d+) passed, (\d+) total`)
	jestFailed   = regexp.MustCompile(`Tests:.*?(\d+) failed`)
	mochaPassing = regexp.MustCompile(`(\d+) passing`)
	mochaFailing = regexp.MustCompile(`(\d+) failing`)
	mochaPending = regexp.MustCompile(`(\d+) pending`)

	cargoSummary = regexp.MustCompile(`test result: \w+\. (\d+) passed; (\d+) failed; (\d+) ignored`)

	mavenSummary = regexp.MustCompile(`Tests run: (\d+), Failures: (\d+), Errors: (\d+), Skipped: (\d+)`)

	rspecSummary = regexp.MustCompile(`(\d+) examples?, (\d+) failures?(?:, (\d+) pending)?`)

	phpunitOK      = regexp.MustCompile(`OK \((\d+) tests?`)
	phpunitSummary = regexp.MustCompile(`Tests: (\d+).*?Failures: (\d+)`)

	dotnetSummary = regexp.MustCompile(`Failed:\s*(\d+), Passed:\s*(\d+), Skipped:\s*(\d+), Total:\s*(\d+)`)
)

// ParseOutput extracts test counts from framework stdout. Unrecognized
// output yields an empty, not-found summary.
func ParseOutput(lang schemas.SupportedLanguage, output string) schemas.TestSummary {
	if strings.TrimSpace(output) == "" {
		return schemas.TestSummary{}
	}

	var summary schemas.TestSummary
	switch lang {
	case schemas.LangPython:
		summary = parsePytest(output)
	case schemas.LangGo:
		summary = parseGoTest(output)
	case schemas.LangNodeJS:
		summary = parseNode(output)
	case schemas.LangJava:
		summary = parseMaven(output)
	case schemas.LangRust:
		summary = parseCargo(output)
	case schemas.LangRuby:
		summary = parseRSpec(output)
	case schemas.LangPHP:
		summary = parsePHPUnit(output)
	case schemas.LangCSharp:
		summary = parseDotnet(output)
	default:
		return schemas.TestSummary{}
	}

	if summary.Total > 0 {
		summary.Found = true
		summary.Source = "stdout"
	}
	return summary
}

func firstInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func parsePytest(out string) schemas.TestSummary {
	s := schemas.TestSummary{
		Passed:  firstInt(pytestPassed, out),
		Failed:  firstInt(pytestFailed, out) + firstInt(pytestErrors, out),
		Skipped: firstInt(pytestSkipped, out),
	}
	s.Total = s.Passed + s.Failed + s.Skipped
	return s
}

func parseGoTest(out string) schemas.TestSummary {
	s := schemas.TestSummary{
		Passed:  len(goTestPass.FindAllString(out, -1)),
		Failed:  len(goTestFail.FindAllString(out, -1)),
		Skipped: len(goTestSkip.FindAllString(out, -1)),
	}
	s.Total = s.Passed + s.Failed + s.Skipped
	return s
}

func parseNode(out string) schemas.TestSummary {
	// Jest first; its summary line is unambiguous.
	if m := jestSummary.FindStringSubmatch(out); len(m) == 3 {
		passed, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		return schemas.TestSummary{
			Total:  total,
			Passed: passed,
			Failed: firstInt(jestFailed, out),
		}
	}
	s := schemas.TestSummary{
		Passed:  firstInt(mochaPassing, out),
		Failed:  firstInt(mochaFailing, out),
		Skipped: firstInt(mochaPending, out),
	}
	s.Total = s.Passed + s.Failed + s.Skipped
	return s
}

func parseMaven(out string) schemas.TestSummary {
	// Surefire prints per-class lines plus a final aggregate; the last
	// match is the aggregate.
	matches := mavenSummary.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return schemas.TestSummary{}
	}
	m := matches[len(matches)-1]
	total, _ := strconv.Atoi(m[1])
	failures, _ := strconv.Atoi(m[2])
	errors, _ := strconv.Atoi(m[3])
	skipped, _ := strconv.Atoi(m[4])
	return schemas.TestSummary{
		Total:   total,
		Passed:  total - failures - errors - skipped,
		Failed:  failures + errors,
		Skipped: skipped,
	}
}

func parseCargo(out string) schemas.TestSummary {
	var s schemas.TestSummary
	// Cargo prints one summary per test target; sum them.
	for _, m := range cargoSummary.FindAllStringSubmatch(out, -1) {
		passed, _ := strconv.Atoi(m[1])
		failed, _ := strconv.Atoi(m[2])
		ignored, _ := strconv.Atoi(m[3])
		s.Passed += passed
		s.Failed += failed
		s.Skipped += ignored
	}
	s.Total = s.Passed + s.Failed + s.Skipped
	return s
}

func parseRSpec(out string) schemas.TestSummary {
	m := rspecSummary.FindStringSubmatch(out)
	if len(m) < 3 {
		return schemas.TestSummary{}
	}
	total, _ := strconv.Atoi(m[1])
	failed, _ := strconv.Atoi(m[2])
	pending := 0
	if len(m) > 3 && m[3] != "" {
		pending, _ = strconv.Atoi(m[3])
	}
	return schemas.TestSummary{
		Total:   total,
		Passed:  total - failed - pending,
		Failed:  failed,
		Skipped: pending,
	}
}

func parsePHPUnit(out string) schemas.TestSummary {
	if n := firstInt(phpunitOK, out); n > 0 {
		return schemas.TestSummary{Total: n, Passed: n}
	}
	m := phpunitSummary.FindStringSubmatch(out)
	if len(m) < 3 {
		return schemas.TestSummary{}
	}
	total, _ := strconv.Atoi(m[1])
	failed, _ := strconv.Atoi(m[2])
	return schemas.TestSummary{Total: total, Passed: total - failed, Failed: failed}
}

func parseDotnet(out string) schemas.TestSummary {
	m := dotnetSummary.FindStringSubmatch(out)
	if len(m) < 5 {
		return schemas.TestSummary{}
	}
	failed, _ := strconv.Atoi(m[1])
	passed, _ := strconv.Atoi(m[2])
	skipped, _ := strconv.Atoi(m[3])
	total, _ := strconv.Atoi(m[4])
	return schemas.TestSummary{Total: total, Passed: passed, Failed: failed, Skipped: skipped}
}
