// internal/reporting/text_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// TextReporter implements the Reporter interface for human-readable
// output. Unlike the JSON reporter it streams: each report is rendered
// and written as soon as it arrives, which suits long-running feed
// watching. It is thread safe.
type TextReporter struct {
	writer io.WriteCloser

	mu      sync.Mutex
	written int
}

// NewTextReporter creates a streaming plain-text reporter. It takes
// ownership of the writer.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

// Write renders the report and writes it immediately.
func (r *TextReporter) Write(report *schemas.ValidationReport) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	if r.written > 0 {
		b.WriteString("---\n")
	}
	renderReport(&b, report)

	if _, err := io.WriteString(r.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	r.written++
	return nil
}

// Close closes the underlying writer.
func (r *TextReporter) Close() error {
	return r.writer.Close()
}

func renderReport(b *strings.Builder, report *schemas.ValidationReport) {
	fmt.Fprintf(b, "Capsule:    %s\n", report.CapsuleID)
	fmt.Fprintf(b, "Status:     %s\n", strings.ToUpper(string(report.OverallStatus)))
	fmt.Fprintf(b, "Confidence: %.2f\n", report.ConfidenceScore)
	if report.Iterations > 0 {
		fmt.Fprintf(b, "Iterations: %d\n", report.Iterations)
	}
	if report.RequiresHumanReview {
		b.WriteString("Review:     HUMAN REVIEW REQUIRED\n")
	}

	if len(report.Checks) == 0 {
		return
	}
	b.WriteString("Checks:\n")
	for _, check := range report.Checks {
		fmt.Fprintf(b, "  [%-7s] %s/%s", check.Status, check.Type, check.Name)
		if check.Severity != "" {
			fmt.Fprintf(b, " (%s)", check.Severity)
		}
		if check.Message != "" {
			fmt.Fprintf(b, " - %s", check.Message)
		}
		b.WriteByte('\n')
	}
}
