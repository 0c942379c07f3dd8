// File: internal/refine/llmrefiner/llmrefiner.go

// Package llmrefiner implements the Refiner port on a tier-routed LLM
// client. The standard strategy runs on the fast tier; once the controller
// escalates, requests move to the powerful tier. Responses are strict JSON
// path->content maps, with the usual markdown-fence tolerance.
package llmrefiner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/llmutil"
)

// Prompt budgets keep a large capsule from blowing past the context window.
const (
	maxFileBytes   = 16 * 1024
	maxSectionSize = 96 * 1024
	truncationMark = "\n# ... truncated ..."
)

const systemPrompt = `You are an expert software engineer repairing a small generated application ("capsule").
You receive the capsule's description, its current files and a prioritized list of validation findings.
Rewrite the affected files so the findings are resolved while preserving the application's intended behavior.
Keep the same language, entry point and file layout unless a finding requires a change.
Your response must be a single JSON object in the required format. File contents must be complete files, never fragments or diffs.`

const responseFormat = `**Response Format (strict JSON):**
{
  "source_files": {"relative/path.py": "complete file content"},
  "test_files": {"tests/test_path.py": "complete file content"},
  "notes": "one or two sentences on what changed"
}
Only include files you changed or added. Paths must be relative, exactly as given above.`

// Refiner turns refinement requests into LLM calls.
type Refiner struct {
	client schemas.LLMClient
	logger *zap.Logger
}

// New validates dependencies and builds the refiner.
func New(client schemas.LLMClient, logger *zap.Logger) (*Refiner, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Refiner{client: client, logger: logger.Named("LLMRefiner")}, nil
}

var _ schemas.Refiner = (*Refiner)(nil)

// Refine prompts the model with the findings and current files and parses
// the replacement file map out of its reply.
func (r *Refiner) Refine(ctx context.Context, req schemas.RefinementRequest) (*schemas.RefinementResult, error) {
	if len(req.SourceFiles) == 0 {
		return nil, fmt.Errorf("refinement request has no source files")
	}

	genReq := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildPrompt(req),
		Tier:         tierFor(req.Strategy),
		Options: &schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     0.2,
		},
	}
	r.logger.Debug("Requesting refinement.",
		zap.Int("iteration", req.Iteration),
		zap.String("strategy", string(req.Strategy)),
		zap.String("tier", string(genReq.Tier)),
		zap.Int("feedback_entries", len(req.Feedback)))

	raw, err := r.client.Generate(ctx, genReq)
	if err != nil {
		return nil, fmt.Errorf("refiner generation failed: %w", err)
	}

	result, err := parseResult(raw)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Refinement parsed.",
		zap.Int("source_files", len(result.SourceFiles)),
		zap.Int("test_files", len(result.TestFiles)))
	return result, nil
}

func tierFor(strategy schemas.RefinementStrategy) schemas.ModelTier {
	if strategy == schemas.StrategyEscalated {
		return schemas.TierPowerful
	}
	return schemas.TierFast
}

func buildPrompt(req schemas.RefinementRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Iteration %d of refining a %s capsule.\n\n", req.Iteration, req.Language)
	if req.Description != "" {
		fmt.Fprintf(&b, "**Program Description:**\n%s\n\n", req.Description)
	}
	if req.EntryPoint != "" {
		fmt.Fprintf(&b, "**Entry Point:** %s\n\n", req.EntryPoint)
	}
	if req.Strategy == schemas.StrategyEscalated {
		b.WriteString("Earlier attempts made little progress. Rework the affected areas thoroughly rather than patching in place.\n\n")
	}

	b.WriteString("**Validation Findings (fix in order):**\n")
	for i, fb := range req.Feedback {
		fmt.Fprintf(&b, "%d. [%s/%s] %s", i+1, fb.Severity, fb.Category, fb.Description)
		if fb.CodeSection != "" {
			fmt.Fprintf(&b, " (at %s)", fb.CodeSection)
		}
		if fb.SuggestedFix != "" {
			fmt.Fprintf(&b, " Suggested fix: %s", fb.SuggestedFix)
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	writeFileSection(&b, "Source Files", req.SourceFiles)
	writeFileSection(&b, "Test Files", req.TestFiles)

	b.WriteString(responseFormat)
	return b.String()
}

// writeFileSection emits each file under a fenced block, truncating
// oversized files and omitting whatever no longer fits the section budget.
func writeFileSection(b *strings.Builder, heading string, files map[string]string) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s:**\n", heading)
	budget := maxSectionSize
	for _, path := range sortedPaths(files) {
		content := files[path]
		if len(content) > maxFileBytes {
			content = content[:maxFileBytes] + truncationMark
		}
		if len(content) > budget {
			fmt.Fprintf(b, "--- %s (omitted, %d bytes) ---\n", path, len(files[path]))
			continue
		}
		budget -= len(content)
		fmt.Fprintf(b, "--- %s ---\n```\n%s\n```\n", path, content)
	}
	b.WriteByte('\n')
}

type refinementReply struct {
	SourceFiles map[string]string `json:"source_files"`
	TestFiles   map[string]string `json:"test_files"`
	Notes       string            `json:"notes"`
}

func parseResult(raw string) (*schemas.RefinementResult, error) {
	reply, err := llmutil.ParseJSONResponse[refinementReply](raw)
	if err != nil {
		return nil, err
	}

	sources, err := cleanFiles(reply.SourceFiles)
	if err != nil {
		return nil, err
	}
	tests, err := cleanFiles(reply.TestFiles)
	if err != nil {
		return nil, err
	}
	if len(sources)+len(tests) == 0 {
		return nil, fmt.Errorf("refiner returned no files")
	}
	return &schemas.RefinementResult{
		SourceFiles: sources,
		TestFiles:   tests,
		Notes:       strings.TrimSpace(reply.Notes),
	}, nil
}

// cleanFiles strips markdown fences from file bodies and rejects paths that
// could land outside the capsule.
func cleanFiles(files map[string]string) (map[string]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(files))
	for path, content := range files {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
			return nil, fmt.Errorf("refiner returned an invalid path %q", path)
		}
		out[path] = llmutil.CleanCodeOutput(content)
	}
	return out, nil
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
