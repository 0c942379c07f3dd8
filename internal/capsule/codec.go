// File: internal/capsule/codec.go
package capsule

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// Parse decodes a capsule from its JSON exchange form and normalizes it.
func Parse(data []byte) (*schemas.Capsule, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty capsule document")
	}
	var c schemas.Capsule
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding capsule: %w", err)
	}
	if err := Normalize(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads and parses a capsule JSON document from disk.
func LoadFile(path string) (*schemas.Capsule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading capsule file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing capsule file %s: %w", path, err)
	}
	return c, nil
}

// Encode serializes a capsule to indented JSON for files and reports.
func Encode(c *schemas.Capsule) ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding capsule: %w", err)
	}
	return data, nil
}

// WriteFile serializes a capsule to a file, creating or truncating it.
func WriteFile(path string, c *schemas.Capsule) error {
	data, err := Encode(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing capsule file: %w", err)
	}
	return nil
}

// Normalize assigns a fresh ID when missing, strips leading "./" from file
// paths, and rejects structurally empty capsules. It mutates c in place and
// is idempotent.
func Normalize(c *schemas.Capsule) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.SourceFiles = normalizePaths(c.SourceFiles)
	c.TestFiles = normalizePaths(c.TestFiles)
	if len(c.SourceFiles) == 0 && c.Manifest["description"] == "" && c.Documentation == "" {
		return fmt.Errorf("capsule %s has no source files and no description to generate from", c.ID)
	}
	return nil
}

func normalizePaths(files map[string]string) map[string]string {
	if files == nil {
		return nil
	}
	out := make(map[string]string, len(files))
	for p, content := range files {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, "./")
		if p == "" {
			continue
		}
		out[p] = content
	}
	return out
}

// MergeRefinement overlays a refiner's replacement files onto a capsule and
// returns the result as a new value. The input capsule is never mutated;
// paths absent from the refinement are preserved as-is.
func MergeRefinement(base *schemas.Capsule, res *schemas.RefinementResult) *schemas.Capsule {
	merged := base.Clone()
	if res == nil {
		return merged
	}
	if len(res.SourceFiles) > 0 {
		if merged.SourceFiles == nil {
			merged.SourceFiles = make(map[string]string, len(res.SourceFiles))
		}
		for p, content := range normalizePaths(res.SourceFiles) {
			merged.SourceFiles[p] = content
		}
	}
	if len(res.TestFiles) > 0 {
		if merged.TestFiles == nil {
			merged.TestFiles = make(map[string]string, len(res.TestFiles))
		}
		for p, content := range normalizePaths(res.TestFiles) {
			merged.TestFiles[p] = content
		}
	}
	// Stale report data does not describe the merged content.
	merged.ValidationReport = nil
	return merged
}

// Description returns the best human description of what the capsule should
// do, preferring the manifest over free-form documentation.
func Description(c *schemas.Capsule) string {
	if d := strings.TrimSpace(c.Manifest["description"]); d != "" {
		return d
	}
	doc := strings.TrimSpace(c.Documentation)
	if len(doc) > 500 {
		doc = doc[:500]
	}
	return doc
}
