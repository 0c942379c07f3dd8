// File: internal/runtimeenv/registry.go
package runtimeenv

import (
	"sort"
	"time"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

const defaultPhaseTimeout = 300 * time.Second

// defaults returns the built-in environment table. Pinned, slim images keep
// sandbox startup fast and reproducible.
func defaults() map[schemas.SupportedLanguage]schemas.RuntimeEnvironment {
	return map[schemas.SupportedLanguage]schemas.RuntimeEnvironment{
		schemas.LangPython: {
			Language:       schemas.LangPython,
			Image:          "python:3.11-slim",
			InstallCommand: "if [ -f requirements.txt ]; then pip install --no-cache-dir -r requirements.txt; fi",
			RunCommand:     "python main.py",
			TestCommand:    "if [ -d tests ]; then python -m pytest tests/ -q --junitxml=test-report.xml; fi",
			EntryPoint:     "main.py",
			PhaseTimeout:   defaultPhaseTimeout,
		},
		schemas.LangNodeJS: {
			Language:       schemas.LangNodeJS,
			Image:          "node:20-slim",
			InstallCommand: "if [ -f package.json ]; then npm install --no-audit --no-fund; fi",
			RunCommand:     "node index.js",
			TestCommand:    "if [ -f package.json ]; then npm test --silent; fi",
			EntryPoint:     "index.js",
			PhaseTimeout:   defaultPhaseTimeout,
		},
		schemas.LangGo: {
			Language:       schemas.LangGo,
			Image:          "golang:1.22-alpine",
			InstallCommand: "if [ -f go.mod ]; then go mod download; fi",
			RunCommand:     "go run .",
			TestCommand:    "go test ./...",
			EntryPoint:     "main.go",
			PhaseTimeout:   defaultPhaseTimeout,
		},
		schemas.LangJava: {
			Language:       schemas.LangJava,
			Image:          "eclipse-temurin:17",
			InstallCommand: "if [ -f pom.xml ]; then mvn -q -DskipTests dependency:resolve; fi",
			RunCommand:     "java Main.java",
			TestCommand:    "if [ -f pom.xml ]; then mvn -q test; fi",
			EntryPoint:     "Main.java",
			PhaseTimeout:   defaultPhaseTimeout,
		},
		schemas.LangTerraform: {
			Language:       schemas.LangTerraform,
			Image:          "hashicorp/terraform:1.7",
			InstallCommand: "terraform init -backend=false -input=false",
			RunCommand:     "terraform plan -input=false",
			TestCommand:    "terraform validate",
			EntryPoint:     "main.tf",
			PhaseTimeout:   defaultPhaseTimeout,
		},
		schemas.LangRust: {
			Language:       schemas.LangRust,
			Image:          "rust:1.75-slim",
			InstallCommand: "if [ -f Cargo.toml ]; then cargo fetch; fi",
			RunCommand:     "cargo run --quiet",
			TestCommand:    "cargo test --quiet",
			EntryPoint:     "src/main.rs",
			PhaseTimeout:   defaultPhaseTimeout,
		},
		schemas.LangRuby: {
			Language:       schemas.LangRuby,
			Image:          "ruby:3.3-slim",
			InstallCommand: "if [ -f Gemfile ]; then bundle install --quiet; fi",
			RunCommand:     "ruby main.rb",
			TestCommand:    "if [ -d spec ]; then bundle exec rspec; fi",
			EntryPoint:     "main.rb",
			PhaseTimeout:   defaultPhaseTimeout,
		},
		schemas.LangPHP: {
			Language:       schemas.LangPHP,
			Image:          "php:8.3-cli",
			InstallCommand: "if [ -f composer.json ]; then composer install --no-interaction --quiet; fi",
			RunCommand:     "php index.php",
			TestCommand:    "if [ -f vendor/bin/phpunit ]; then vendor/bin/phpunit; fi",
			EntryPoint:     "index.php",
			PhaseTimeout:   defaultPhaseTimeout,
		},
		schemas.LangCSharp: {
			Language:       schemas.LangCSharp,
			Image:          "mcr.microsoft.com/dotnet/sdk:8.0",
			InstallCommand: "dotnet restore",
			RunCommand:     "dotnet run",
			TestCommand:    "dotnet test --nologo",
			EntryPoint:     "Program.cs",
			PhaseTimeout:   defaultPhaseTimeout,
		},
	}
}

// Registry maps languages to their sandbox runtime environments. It is
// populated once at construction and never mutated afterwards, so concurrent
// readers need no locking. Get hands out value copies.
type Registry struct {
	envs map[schemas.SupportedLanguage]schemas.RuntimeEnvironment
}

// New builds a registry from the built-in defaults, a global phase timeout,
// and any per-language overrides from configuration. Per-language values win.
func New(cfg config.SandboxConfig) *Registry {
	envs := defaults()
	if cfg.PhaseTimeout > 0 {
		for lang, env := range envs {
			env.PhaseTimeout = cfg.PhaseTimeout
			envs[lang] = env
		}
	}
	for name, override := range cfg.Environments {
		lang := schemas.SupportedLanguage(name)
		env, ok := envs[lang]
		if !ok {
			continue
		}
		if override.Image != "" {
			env.Image = override.Image
		}
		if override.PhaseTimeout > 0 {
			env.PhaseTimeout = override.PhaseTimeout
		}
		envs[lang] = env
	}
	return &Registry{envs: envs}
}

// Get returns the environment for a language. Unknown or unregistered
// languages fall back to the Python environment, the most forgiving
// interpreter for arbitrary artifacts.
func (r *Registry) Get(lang schemas.SupportedLanguage) schemas.RuntimeEnvironment {
	if env, ok := r.envs[lang]; ok {
		return env
	}
	return r.envs[schemas.LangPython]
}

// Has reports whether the language has its own registered environment.
func (r *Registry) Has(lang schemas.SupportedLanguage) bool {
	_, ok := r.envs[lang]
	return ok
}

// Languages returns the registered languages in priority order.
func (r *Registry) Languages() []schemas.SupportedLanguage {
	out := make([]schemas.SupportedLanguage, 0, len(r.envs))
	for lang := range r.envs {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
