// File: internal/validation/basic_test.go
package validation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/crucible/api/schemas"
)

func runBasic(t *testing.T, c *schemas.Capsule, lang schemas.SupportedLanguage) *schemas.ValidationResult {
	t.Helper()
	v := newTestValidator(t, nil)
	return v.validateBasic(context.Background(), c, lang, v.registry.Get(lang))
}

func TestBasicUnresolvedPythonImport(t *testing.T) {
	c := &schemas.Capsule{
		SourceFiles: map[string]string{
			"main.py": "import flask\n\napp = flask.Flask(__name__)\n",
		},
	}

	res := runBasic(t, c, schemas.LangPython)
	require.False(t, res.Passed)
	assert.Contains(t, strings.Join(res.Issues, "\n"), `unresolved import "flask"`)
	assert.Equal(t, false, res.Metrics["imports_resolved"])
}

func TestBasicDeclaredPythonImportResolves(t *testing.T) {
	c := &schemas.Capsule{
		SourceFiles: map[string]string{
			"main.py":          "import flask\n\napp = flask.Flask(__name__)\n",
			"requirements.txt": "flask==3.0.0\n",
		},
	}

	res := runBasic(t, c, schemas.LangPython)
	assert.True(t, res.Passed)
	assert.Equal(t, true, res.Metrics["imports_resolved"])
}

func TestBasicPythonImportAliases(t *testing.T) {
	// Import names that differ from the distribution name resolve through
	// the alias table, case-insensitively.
	c := &schemas.Capsule{
		SourceFiles: map[string]string{
			"main.py":          "import yaml\nimport cv2\n",
			"requirements.txt": "PyYAML>=6.0\nopencv-python\n",
		},
	}

	res := runBasic(t, c, schemas.LangPython)
	assert.True(t, res.Passed, "issues: %v", res.Issues)
}

func TestBasicPythonLocalModulesResolve(t *testing.T) {
	c := &schemas.Capsule{
		SourceFiles: map[string]string{
			"main.py":        "import util\nfrom . import helpers\n\nutil.run()\n",
			"util.py":        "def run():\n    pass\n",
			"pkg/helpers.py": "def help():\n    pass\n",
		},
	}

	res := runBasic(t, c, schemas.LangPython)
	assert.True(t, res.Passed, "issues: %v", res.Issues)
}

func TestBasicNodeImports(t *testing.T) {
	t.Run("declared and builtin resolve", func(t *testing.T) {
		c := &schemas.Capsule{
			SourceFiles: map[string]string{
				"index.js":     "const express = require('express');\nconst fs = require('node:fs');\nconst routes = require('./routes');\n",
				"routes.js":    "module.exports = {};\n",
				"package.json": `{"name": "svc", "dependencies": {"express": "^4.19.0"}}`,
			},
		}
		res := runBasic(t, c, schemas.LangNodeJS)
		assert.True(t, res.Passed, "issues: %v", res.Issues)
	})

	t.Run("undeclared package fails", func(t *testing.T) {
		c := &schemas.Capsule{
			SourceFiles: map[string]string{
				"index.js":     "const leftPad = require('left-pad');\n",
				"package.json": `{"name": "svc"}`,
			},
		}
		res := runBasic(t, c, schemas.LangNodeJS)
		require.False(t, res.Passed)
		assert.Contains(t, strings.Join(res.Issues, "\n"), `unresolved import "left-pad"`)
	})

	t.Run("scoped package resolves", func(t *testing.T) {
		c := &schemas.Capsule{
			SourceFiles: map[string]string{
				"index.js":     "import { S3 } from '@aws-sdk/client-s3';\n",
				"package.json": `{"dependencies": {"@aws-sdk/client-s3": "^3.600.0"}}`,
			},
		}
		res := runBasic(t, c, schemas.LangNodeJS)
		assert.True(t, res.Passed, "issues: %v", res.Issues)
	})
}

func TestBasicGoImports(t *testing.T) {
	goMod := "module example.com/app\n\ngo 1.22\n\nrequire github.com/pkg/errors v0.9.1\n"

	t.Run("module and stdlib resolve", func(t *testing.T) {
		c := &schemas.Capsule{
			SourceFiles: map[string]string{
				"main.go":               "package main\n\nimport (\n\t\"fmt\"\n\n\t\"github.com/pkg/errors\"\n\n\t\"example.com/app/internal/core\"\n)\n\nfunc main() {\n\tfmt.Println(errors.New(\"x\"), core.V)\n}\n",
				"internal/core/core.go": "package core\n\nvar V = 1\n",
				"go.mod":                goMod,
			},
		}
		res := runBasic(t, c, schemas.LangGo)
		assert.True(t, res.Passed, "issues: %v", res.Issues)
	})

	t.Run("missing require fails", func(t *testing.T) {
		c := &schemas.Capsule{
			SourceFiles: map[string]string{
				"main.go": "package main\n\nimport \"github.com/google/uuid\"\n\nfunc main() { _ = uuid.NewString() }\n",
				"go.mod":  goMod,
			},
		}
		res := runBasic(t, c, schemas.LangGo)
		require.False(t, res.Passed)
		assert.Contains(t, strings.Join(res.Issues, "\n"), `unresolved import "github.com/google/uuid"`)
	})
}

func TestBasicEntryPointFallback(t *testing.T) {
	c := &schemas.Capsule{
		SourceFiles: map[string]string{"app.py": "print('hi')\n"},
	}

	res := runBasic(t, c, schemas.LangPython)
	assert.True(t, res.Passed)
	assert.Equal(t, "app.py", res.Metrics["entry_point"])
}

func TestBasicMissingEntryPoint(t *testing.T) {
	c := &schemas.Capsule{
		SourceFiles: map[string]string{"util.py": "def helper():\n    pass\n"},
	}

	res := runBasic(t, c, schemas.LangPython)
	require.False(t, res.Passed)
	assert.Contains(t, strings.Join(res.Issues, "\n"), "no entry point found")
}

func TestBasicDocumentationAdvisory(t *testing.T) {
	c := &schemas.Capsule{
		SourceFiles: map[string]string{"main.py": "print('hi')\n"},
	}

	res := runBasic(t, c, schemas.LangPython)
	assert.True(t, res.Passed, "missing documentation must not gate the level")
	assert.InDelta(t, 0.75, res.Score, 1e-9)
	assert.Empty(t, res.Issues)
	assert.Contains(t, strings.Join(res.Recommendations, "\n"), "add documentation")
}
