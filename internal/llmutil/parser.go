// File: internal/llmutil/parser.go

// Package llmutil holds the response-mangling helpers shared by everything
// that talks to a language model: models wrap JSON in markdown fences, lead
// with prose, or fence individual file bodies, and the callers should not
// each re-solve that.
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// Fence regexes use \x60 for the backtick because Go raw strings cannot
// contain one.
var (
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	jsonArrayRegex  = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
	codeBlockRegex  = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")
)

// ParseJSONResponse unmarshals a model response into T, tolerating the two
// common formatting failures: the JSON wrapped in a markdown fence, and the
// JSON embedded in conversational text. The raw payload is tried as-is when
// neither shape is recognized.
func ParseJSONResponse[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)
	payload := response

	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			payload = matches[1]
		}
	} else if (isObject || isArray) && !strings.HasPrefix(response, "{") && !strings.HasPrefix(response, "[") {
		// Prose around the structure: cut from the first opening bracket to
		// the last closing one.
		start, end := -1, -1
		if isObject {
			if fb, lb := strings.Index(response, "{"), strings.LastIndex(response, "}"); fb != -1 && lb > fb {
				start, end = fb, lb+1
			}
		}
		if start == -1 && isArray {
			if fb, lb := strings.Index(response, "["), strings.LastIndex(response, "]"); fb != -1 && lb > fb {
				start, end = fb, lb+1
			}
		}
		if start != -1 {
			payload = response[start:end]
		}
	}

	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("unmarshaling model JSON response: %w (extracted: %s)", err, truncate(payload, 500))
	}
	return &result, nil
}

// CleanCodeOutput strips a markdown fence (```python, ```go, plain ```)
// from around a code string. Content without a fence passes through
// untouched.
func CleanCodeOutput(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	if matches := codeBlockRegex.FindStringSubmatch(content); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return content
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
