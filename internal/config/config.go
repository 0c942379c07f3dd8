// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Engine     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox" yaml:"sandbox"`
	Validation ValidationConfig `mapstructure:"validation" yaml:"validation"`
	Refine     RefineConfig     `mapstructure:"refine" yaml:"refine"`
	LLM        LLMRouterConfig  `mapstructure:"llm" yaml:"llm"`
	Intake     IntakeConfig     `mapstructure:"intake" yaml:"intake"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL
// disables persistence; validation results are still reported.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures the core task processing engine.
type EngineConfig struct {
	QueueSize          int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency  int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout" yaml:"default_task_timeout"`
}

// RuntimeEnvOverride lets deployments swap the image or timeout for a single
// language without touching the built-in registry defaults.
type RuntimeEnvOverride struct {
	Image        string        `mapstructure:"image" yaml:"image"`
	PhaseTimeout time.Duration `mapstructure:"phase_timeout" yaml:"phase_timeout"`
}

// SandboxConfig controls the containerized execution environment.
type SandboxConfig struct {
	// Runtime selects the container adapter: "api" (Docker Engine API),
	// "cli" (docker/podman binary), or "auto" to probe api then cli.
	Runtime                string                        `mapstructure:"runtime" yaml:"runtime"`
	CLIBinary              string                        `mapstructure:"cli_binary" yaml:"cli_binary"`
	WorkspaceRoot          string                        `mapstructure:"workspace_root" yaml:"workspace_root"`
	MaxConcurrent          int                           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	MemoryLimit            string                        `mapstructure:"memory_limit" yaml:"memory_limit"`
	CPULimit               float64                       `mapstructure:"cpu_limit" yaml:"cpu_limit"`
	PhaseTimeout           time.Duration                 `mapstructure:"phase_timeout" yaml:"phase_timeout"`
	ImagePullsPerMinute    float64                       `mapstructure:"image_pulls_per_minute" yaml:"image_pulls_per_minute"`
	KeepWorkspaceOnFailure bool                          `mapstructure:"keep_workspace_on_failure" yaml:"keep_workspace_on_failure"`
	Environments           map[string]RuntimeEnvOverride `mapstructure:"environments" yaml:"environments"`
}

// MemoryLimitBytes parses the human-readable memory limit ("512MB", "2GiB").
func (s *SandboxConfig) MemoryLimitBytes() (int64, error) {
	if s.MemoryLimit == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s.MemoryLimit)
	if err != nil {
		return 0, fmt.Errorf("parsing sandbox.memory_limit %q: %w", s.MemoryLimit, err)
	}
	return n, nil
}

// LevelWeights are the contributions of each validation level to the
// overall score. They must sum to 1.0.
type LevelWeights struct {
	Basic      float64 `mapstructure:"basic" yaml:"basic"`
	Functional float64 `mapstructure:"functional" yaml:"functional"`
	Quality    float64 `mapstructure:"quality" yaml:"quality"`
	Production float64 `mapstructure:"production" yaml:"production"`
}

// ValidationConfig tunes the multi-level validator thresholds.
type ValidationConfig struct {
	MinDocumentationChars int     `mapstructure:"min_documentation_chars" yaml:"min_documentation_chars"`
	QualityPassThreshold  float64 `mapstructure:"quality_pass_threshold" yaml:"quality_pass_threshold"`
	SecurityPassThreshold float64 `mapstructure:"security_pass_threshold" yaml:"security_pass_threshold"`
	OverallPassThreshold  float64 `mapstructure:"overall_pass_threshold" yaml:"overall_pass_threshold"`
	ProductionPassRatio   float64 `mapstructure:"production_pass_ratio" yaml:"production_pass_ratio"`
	// HumanReviewConfidence is the report confidence below which
	// RequiresHumanReview is set.
	HumanReviewConfidence float64          `mapstructure:"human_review_confidence" yaml:"human_review_confidence"`
	Weights               LevelWeights     `mapstructure:"weights" yaml:"weights"`
	Escalation            EscalationConfig `mapstructure:"escalation" yaml:"escalation"`
}

// EscalationConfig holds the thresholds for routing a runtime result to a
// human reviewer.
type EscalationConfig struct {
	MinConfidence    float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
	MaxIssues        int           `mapstructure:"max_issues" yaml:"max_issues"`
	MaxPhaseDuration time.Duration `mapstructure:"max_phase_duration" yaml:"max_phase_duration"`
}

// RefineConfig tunes the bounded refinement loop.
type RefineConfig struct {
	Enabled               bool    `mapstructure:"enabled" yaml:"enabled"`
	MaxIterations         int     `mapstructure:"max_iterations" yaml:"max_iterations"`
	TargetOverallScore    float64 `mapstructure:"target_overall_score" yaml:"target_overall_score"`
	TargetFunctionalScore float64 `mapstructure:"target_functional_score" yaml:"target_functional_score"`
	TargetQualityScore    float64 `mapstructure:"target_quality_score" yaml:"target_quality_score"`
	TargetSecurityScore   float64 `mapstructure:"target_security_score" yaml:"target_security_score"`
	// StagnationThreshold is the minimum overall-score improvement between
	// consecutive iterations; below it the refiner strategy escalates.
	StagnationThreshold float64 `mapstructure:"stagnation_threshold" yaml:"stagnation_threshold"`
	// MaxCriticalStreak is the number of consecutive iterations with
	// unresolved critical failures tolerated before the loop fails fast.
	MaxCriticalStreak   int `mapstructure:"max_critical_streak" yaml:"max_critical_streak"`
	MaxCriticalFeedback int `mapstructure:"max_critical_feedback" yaml:"max_critical_feedback"`
	MaxMajorFeedback    int `mapstructure:"max_major_feedback" yaml:"max_major_feedback"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini    LLMProvider = "gemini"
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderOllama    LLMProvider = "ollama"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// IntakeConfig configures the capsule feed watcher.
type IntakeConfig struct {
	FeedPath      string `mapstructure:"feed_path" yaml:"feed_path"`
	FromBeginning bool   `mapstructure:"from_beginning" yaml:"from_beginning"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "crucible")
	v.SetDefault("logger.log_file", "crucible.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.queue_size", 100)
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.default_task_timeout", "30m")

	// -- Sandbox --
	v.SetDefault("sandbox.runtime", "auto")
	v.SetDefault("sandbox.cli_binary", "")
	v.SetDefault("sandbox.workspace_root", "")
	v.SetDefault("sandbox.max_concurrent", 3)
	v.SetDefault("sandbox.memory_limit", "512MB")
	v.SetDefault("sandbox.cpu_limit", 1.0)
	v.SetDefault("sandbox.phase_timeout", "300s")
	v.SetDefault("sandbox.image_pulls_per_minute", 10.0)
	v.SetDefault("sandbox.keep_workspace_on_failure", false)

	// -- Validation --
	v.SetDefault("validation.min_documentation_chars", 100)
	v.SetDefault("validation.quality_pass_threshold", 0.7)
	v.SetDefault("validation.security_pass_threshold", 0.8)
	v.SetDefault("validation.overall_pass_threshold", 0.8)
	v.SetDefault("validation.production_pass_ratio", 0.7)
	v.SetDefault("validation.human_review_confidence", 0.9)
	v.SetDefault("validation.weights.basic", 0.2)
	v.SetDefault("validation.weights.functional", 0.4)
	v.SetDefault("validation.weights.quality", 0.2)
	v.SetDefault("validation.weights.production", 0.2)
	v.SetDefault("validation.escalation.min_confidence", 0.7)
	v.SetDefault("validation.escalation.max_issues", 3)
	v.SetDefault("validation.escalation.max_phase_duration", "180s")

	// -- Refine --
	v.SetDefault("refine.enabled", false)
	v.SetDefault("refine.max_iterations", 5)
	v.SetDefault("refine.target_overall_score", 0.85)
	v.SetDefault("refine.target_functional_score", 0.8)
	v.SetDefault("refine.target_quality_score", 0.7)
	v.SetDefault("refine.target_security_score", 0.8)
	v.SetDefault("refine.stagnation_threshold", 0.05)
	v.SetDefault("refine.max_critical_streak", 2)
	v.SetDefault("refine.max_critical_feedback", 5)
	v.SetDefault("refine.max_major_feedback", 3)

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.models.gemini-2.5-flash.provider", "gemini")
	v.SetDefault("llm.models.gemini-2.5-flash.api_timeout", "60s")
	v.SetDefault("llm.models.gemini-2.5-pro.provider", "gemini")
	v.SetDefault("llm.models.gemini-2.5-pro.api_timeout", "120s")

	// -- Intake --
	v.SetDefault("intake.feed_path", "capsules.jsonl")
	v.SetDefault("intake.from_beginning", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("database.url", "CRUCIBLE_DATABASE_URL")
	v.BindEnv("llm.models.gemini-2.5-flash.api_key", "GEMINI_API_KEY")
	v.BindEnv("llm.models.gemini-2.5-pro.api_key", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Model API keys fall back to the provider environment variable so a
	// bare config file still works.
	for name, model := range cfg.LLM.Models {
		if model.Provider == ProviderGemini && model.APIKey == "" {
			model.APIKey = os.Getenv("GEMINI_API_KEY")
			cfg.LLM.Models[name] = model
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if err := c.Sandbox.Validate(); err != nil {
		return fmt.Errorf("sandbox configuration invalid: %w", err)
	}
	if err := c.Validation.Validate(); err != nil {
		return fmt.Errorf("validation configuration invalid: %w", err)
	}
	if err := c.Refine.Validate(); err != nil {
		return fmt.Errorf("refine configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the sandbox configuration.
func (s *SandboxConfig) Validate() error {
	switch s.Runtime {
	case "auto", "api", "cli":
	default:
		return fmt.Errorf("runtime must be one of auto, api, cli; got %q", s.Runtime)
	}
	if s.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be a positive integer")
	}
	if s.PhaseTimeout <= 0 {
		return fmt.Errorf("phase_timeout must be a positive duration")
	}
	if _, err := s.MemoryLimitBytes(); err != nil {
		return err
	}
	return nil
}

// Validate checks the validator thresholds.
func (v *ValidationConfig) Validate() error {
	for name, score := range map[string]float64{
		"quality_pass_threshold":  v.QualityPassThreshold,
		"security_pass_threshold": v.SecurityPassThreshold,
		"overall_pass_threshold":  v.OverallPassThreshold,
		"production_pass_ratio":   v.ProductionPassRatio,
		"human_review_confidence": v.HumanReviewConfidence,
	} {
		if score < 0.0 || score > 1.0 {
			return fmt.Errorf("%s must be between 0.0 and 1.0", name)
		}
	}
	sum := v.Weights.Basic + v.Weights.Functional + v.Weights.Quality + v.Weights.Production
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("weights must sum to 1.0, got %.3f", sum)
	}
	return nil
}

// Validate checks the refinement loop settings.
func (r *RefineConfig) Validate() error {
	if r.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be greater than 0")
	}
	if r.StagnationThreshold < 0 {
		return fmt.Errorf("stagnation_threshold must not be negative")
	}
	if r.MaxCriticalStreak <= 0 {
		return fmt.Errorf("max_critical_streak must be greater than 0")
	}
	return nil
}
