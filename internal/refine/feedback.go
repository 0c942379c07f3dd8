// File: internal/refine/feedback.go
package refine

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// codeSectionRegex pulls a file:line pointer out of an issue text when the
// validator embedded one.
var codeSectionRegex = regexp.MustCompile(`[\w./-]+\.\w+:\d+`)

// deriveFeedback turns validator output into prioritized refiner
// instructions. Issues from failed basic and functional levels become
// critical entries, quality and production issues major, and the
// recommendations of failed levels ride along as minor hints. Every bucket
// is capped so the refinement request stays bounded.
func deriveFeedback(results map[schemas.ValidationLevel]*schemas.ValidationResult, maxCritical, maxMajor int) []schemas.RefinementFeedback {
	var critical, major, minor []schemas.RefinementFeedback

	for _, level := range []schemas.ValidationLevel{schemas.LevelBasic, schemas.LevelFunctional} {
		critical = append(critical, issueFeedback(results[level], level, schemas.FeedbackCritical)...)
	}
	for _, level := range []schemas.ValidationLevel{schemas.LevelQuality, schemas.LevelProduction} {
		major = append(major, issueFeedback(results[level], level, schemas.FeedbackMajor)...)
	}
	for _, level := range schemas.LevelOrder {
		res := results[level]
		if res == nil || res.Passed {
			continue
		}
		for _, rec := range res.Recommendations {
			minor = append(minor, schemas.RefinementFeedback{
				Category:    categorize(level, rec),
				Severity:    schemas.FeedbackMinor,
				Description: rec,
			})
		}
	}

	out := capped(critical, maxCritical)
	out = append(out, capped(major, maxMajor)...)
	return append(out, capped(minor, maxMajor)...)
}

func issueFeedback(res *schemas.ValidationResult, level schemas.ValidationLevel, severity schemas.FeedbackSeverity) []schemas.RefinementFeedback {
	if res == nil || res.Passed {
		return nil
	}
	var out []schemas.RefinementFeedback
	for _, issue := range res.Issues {
		// Skip markers carry nothing the refiner can act on.
		if strings.HasPrefix(issue, "skipped:") {
			continue
		}
		out = append(out, schemas.RefinementFeedback{
			Category:    categorize(level, issue),
			Severity:    severity,
			Description: issue,
			CodeSection: codeSectionRegex.FindString(issue),
		})
	}
	return out
}

// categorize maps an issue text onto a feedback category by keyword, falling
// back to the originating level's natural category.
func categorize(level schemas.ValidationLevel, text string) schemas.FeedbackCategory {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "credential", "secret", "jwt", "sql injection", "deserialization", "security"):
		return schemas.FeedbackSecurity
	case strings.Contains(lower, "syntax"):
		return schemas.FeedbackSyntax
	case strings.Contains(lower, "test"):
		return schemas.FeedbackTesting
	case containsAny(lower, "exceeded its", "memory", "timed out"):
		return schemas.FeedbackPerformance
	case containsAny(lower, "import", "dependency", "entry point", "missing", "configuration",
		"docstrings", "documentation", "complexity", "convention", "logging", "error handling"):
		return schemas.FeedbackStructure
	case level == schemas.LevelBasic:
		return schemas.FeedbackSyntax
	case level == schemas.LevelQuality, level == schemas.LevelProduction:
		return schemas.FeedbackStructure
	default:
		return schemas.FeedbackLogic
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func capped(entries []schemas.RefinementFeedback, max int) []schemas.RefinementFeedback {
	if max > 0 && len(entries) > max {
		return entries[:max]
	}
	return entries
}
