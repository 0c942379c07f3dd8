// File: internal/sandbox/workspace.go
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// materializeWorkspace writes a capsule's source and test files into a fresh
// directory under root, preserving relative layout. It returns the workspace
// path and a cleanup function. Paths that would escape the workspace are
// rejected outright; capsule content is untrusted.
func materializeWorkspace(root string, c *schemas.Capsule, logger *zap.Logger) (string, func(), error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating workspace root: %w", err)
	}

	workspace, err := os.MkdirTemp(root, fmt.Sprintf("crucible-%s-", shortID(c.ID)))
	if err != nil {
		return "", nil, fmt.Errorf("could not create workspace dir: %w", err)
	}

	cleanup := func() {
		if err := os.RemoveAll(workspace); err != nil {
			logger.Error("Failed to clean up sandbox workspace.", zap.String("dir", workspace), zap.Error(err))
		} else {
			logger.Debug("Sandbox workspace cleaned up.", zap.String("dir", workspace))
		}
	}

	// Source first, then tests; a colliding test path wins so capsules can
	// override fixtures deliberately.
	for _, files := range []map[string]string{c.SourceFiles, c.TestFiles} {
		for relPath, content := range files {
			if err := writeWorkspaceFile(workspace, relPath, content); err != nil {
				cleanup()
				return "", nil, err
			}
		}
	}

	return workspace, cleanup, nil
}

// writeWorkspaceFile writes one capsule file inside the workspace after
// validating that the path stays within it.
func writeWorkspaceFile(workspace, relPath, content string) error {
	cleaned, err := safeJoin(workspace, relPath)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(cleaned); dir != workspace {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", relPath, err)
		}
	}
	if err := os.WriteFile(cleaned, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", relPath, err)
	}
	return nil
}

// safeJoin resolves relPath under base and fails if the result escapes base.
func safeJoin(base, relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("empty file path in capsule")
	}
	if filepath.IsAbs(relPath) {
		return "", fmt.Errorf("absolute file path %q not allowed in capsule", relPath)
	}
	joined := filepath.Join(base, filepath.FromSlash(relPath))
	if joined != base && !strings.HasPrefix(joined, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("file path %q escapes the workspace", relPath)
	}
	return joined, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "anon"
	}
	return id
}
