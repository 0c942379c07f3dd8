// internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/observability"
)

const toolName = "crucible"

// reportDocument is the top-level JSON envelope. Reports accumulate in
// memory and are emitted once on Close.
type reportDocument struct {
	Tool        string                      `json:"tool"`
	Version     string                      `json:"version,omitempty"`
	GeneratedAt time.Time                   `json:"generated_at"`
	Reports     []*schemas.ValidationReport `json:"reports"`
}

// JSONReporter implements the Reporter interface for machine-readable
// output. It is thread safe.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu  sync.Mutex
	doc reportDocument
}

// NewJSONReporter creates a reporter that buffers validation reports and
// writes a single JSON document on Close. It takes ownership of the writer.
func NewJSONReporter(writer io.WriteCloser, toolVersion string) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: observability.GetLogger().Named("json_reporter"),
		doc: reportDocument{
			Tool:    toolName,
			Version: toolVersion,
			// Initialize an empty slice (not nil) for proper JSON marshalling.
			Reports: []*schemas.ValidationReport{},
		},
	}
}

// Write adds a report to the buffered document.
func (r *JSONReporter) Write(report *schemas.ValidationReport) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Reports = append(r.doc.Reports, report)

	r.logger.Debug("Buffered report for JSON output",
		zap.String("report_id", report.ID),
		zap.Int("buffered", len(r.doc.Reports)),
	)
	return nil
}

// Close finalizes the document and writes it to the output writer.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.doc.GeneratedAt = time.Now().UTC()

	data, err := json.MarshalIndent(&r.doc, "", "  ")
	if err != nil {
		r.writer.Close()
		return fmt.Errorf("failed to marshal report document: %w", err)
	}
	data = append(data, '\n')

	if _, err := r.writer.Write(data); err != nil {
		r.writer.Close()
		return fmt.Errorf("failed to write report document: %w", err)
	}

	r.logger.Debug("Wrote JSON report document",
		zap.Int("reports_count", len(r.doc.Reports)),
		zap.Int("bytes", len(data)),
	)
	return r.writer.Close()
}
