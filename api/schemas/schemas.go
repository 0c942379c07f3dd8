package schemas

import "time"

// SupportedLanguage identifies a runtime a capsule can be validated against.
type SupportedLanguage string

const (
	LangCSharp    SupportedLanguage = "csharp"
	LangGo        SupportedLanguage = "go"
	LangJava      SupportedLanguage = "java"
	LangNodeJS    SupportedLanguage = "nodejs"
	LangPHP       SupportedLanguage = "php"
	LangPython    SupportedLanguage = "python"
	LangRuby      SupportedLanguage = "ruby"
	LangRust      SupportedLanguage = "rust"
	LangTerraform SupportedLanguage = "terraform"
	LangUnknown   SupportedLanguage = "unknown"
)

// LanguagePriority is the fixed, alphabetical tie-break order used by the
// language detector. Two capsules with the same file evidence always detect
// to the same language regardless of map iteration order.
var LanguagePriority = []SupportedLanguage{
	LangCSharp,
	LangGo,
	LangJava,
	LangNodeJS,
	LangPHP,
	LangPython,
	LangRuby,
	LangRust,
	LangTerraform,
}

// Capsule is a self-contained unit of generated software: source, tests,
// documentation and deployment artifacts, addressed by relative path.
type Capsule struct {
	ID               string                 `json:"id"`
	Manifest         map[string]string      `json:"manifest,omitempty"`
	SourceFiles      map[string]string      `json:"source_files"`
	TestFiles        map[string]string      `json:"test_files,omitempty"`
	Documentation    string                 `json:"documentation,omitempty"`
	DeploymentConfig map[string]string      `json:"deployment_config,omitempty"`
	ValidationReport *ValidationReport      `json:"validation_report,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the capsule. Refinement never mutates the
// capsule it was handed; each iteration produces a new value.
func (c *Capsule) Clone() *Capsule {
	if c == nil {
		return nil
	}
	out := &Capsule{
		ID:               c.ID,
		Manifest:         cloneStringMap(c.Manifest),
		SourceFiles:      cloneStringMap(c.SourceFiles),
		TestFiles:        cloneStringMap(c.TestFiles),
		Documentation:    c.Documentation,
		DeploymentConfig: cloneStringMap(c.DeploymentConfig),
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	if c.ValidationReport != nil {
		report := *c.ValidationReport
		report.Checks = append([]ValidationCheck(nil), c.ValidationReport.Checks...)
		out.ValidationReport = &report
	}
	return out
}

// MergeRefinement applies a refiner's replacement files to a copy of the
// capsule. Paths absent from the result keep their current content; empty
// path keys are dropped. The receiver is never mutated.
func (c *Capsule) MergeRefinement(res *RefinementResult) *Capsule {
	out := c.Clone()
	if res == nil {
		return out
	}
	for path, content := range res.SourceFiles {
		if path == "" {
			continue
		}
		if out.SourceFiles == nil {
			out.SourceFiles = make(map[string]string, len(res.SourceFiles))
		}
		out.SourceFiles[path] = content
	}
	for path, content := range res.TestFiles {
		if path == "" {
			continue
		}
		if out.TestFiles == nil {
			out.TestFiles = make(map[string]string, len(res.TestFiles))
		}
		out.TestFiles[path] = content
	}
	return out
}

// AllFiles merges source and test files into a single path->content view.
// Test files shadow source files on path collision.
func (c *Capsule) AllFiles() map[string]string {
	out := make(map[string]string, len(c.SourceFiles)+len(c.TestFiles))
	for p, content := range c.SourceFiles {
		out[p] = content
	}
	for p, content := range c.TestFiles {
		out[p] = content
	}
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// RuntimeEnvironment describes how a language is installed, run and tested
// inside a sandbox container.
type RuntimeEnvironment struct {
	Language       SupportedLanguage `json:"language"`
	Image          string            `json:"image"`
	InstallCommand string            `json:"install_command"`
	RunCommand     string            `json:"run_command"`
	TestCommand    string            `json:"test_command"`
	EntryPoint     string            `json:"entry_point"`
	PhaseTimeout   time.Duration     `json:"phase_timeout"`
}

// ValidationLevel identifies one stage of the multi-level validator.
type ValidationLevel string

const (
	LevelBasic      ValidationLevel = "basic"
	LevelFunctional ValidationLevel = "functional"
	LevelQuality    ValidationLevel = "quality"
	LevelProduction ValidationLevel = "production"
	// LevelOverall is the synthetic aggregate computed from the four real levels.
	LevelOverall ValidationLevel = "overall"
)

// LevelOrder is the execution order of the real validation levels.
var LevelOrder = []ValidationLevel{LevelBasic, LevelFunctional, LevelQuality, LevelProduction}

// ValidationResult is the outcome of a single validation level.
// Issues must be empty when Passed is true; advisory observations on a
// passing level belong in Recommendations.
type ValidationResult struct {
	Level           ValidationLevel        `json:"level"`
	Passed          bool                   `json:"passed"`
	Score           float64                `json:"score"`
	Metrics         map[string]interface{} `json:"metrics,omitempty"`
	Issues          []string               `json:"issues,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`
}

// SandboxPhase names a stage of a sandbox execution.
type SandboxPhase string

const (
	PhaseInstall SandboxPhase = "install"
	PhaseRun     SandboxPhase = "run"
	PhaseTest    SandboxPhase = "test"
)

// PhaseResult captures one containerized command execution.
type PhaseResult struct {
	Phase           SandboxPhase  `json:"phase"`
	Executed        bool          `json:"executed"`
	Success         bool          `json:"success"`
	ExitCode        int           `json:"exit_code"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	Duration        time.Duration `json:"duration"`
	PeakMemoryBytes int64         `json:"peak_memory_bytes"`
	TimedOut        bool          `json:"timed_out"`
}

// TestSummary aggregates test counts harvested from a sandbox test phase,
// either from a JUnit XML report or from framework stdout.
type TestSummary struct {
	Total   int    `json:"total"`
	Passed  int    `json:"passed"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
	Found   bool   `json:"found"`
	Source  string `json:"source,omitempty"`
}

// PassRate returns the fraction of non-skipped tests that passed, or 1.0
// when no tests were counted.
func (s TestSummary) PassRate() float64 {
	counted := s.Total - s.Skipped
	if counted <= 0 {
		return 1.0
	}
	return float64(s.Passed) / float64(counted)
}

// RuntimeValidationResult is the full outcome of a sandboxed execution:
// per-phase records plus the derived confidence score. Infrastructure
// failures are represented here as Success=false with Confidence=0; they
// never escape the sandbox boundary as errors.
type RuntimeValidationResult struct {
	Language        SupportedLanguage `json:"language"`
	Success         bool              `json:"success"`
	Confidence      float64           `json:"confidence"`
	InstallSuccess  bool              `json:"install_success"`
	RunSuccess      bool              `json:"run_success"`
	TestsSuccess    bool              `json:"tests_success"`
	HasTests        bool              `json:"has_tests"`
	Phases          []PhaseResult     `json:"phases,omitempty"`
	Tests           TestSummary       `json:"tests"`
	Issues          []string          `json:"issues,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
}

// Phase returns the result for the named phase, or nil if it never executed.
func (r *RuntimeValidationResult) Phase(phase SandboxPhase) *PhaseResult {
	for i := range r.Phases {
		if r.Phases[i].Phase == phase {
			return &r.Phases[i]
		}
	}
	return nil
}

// CheckStatus is the report-level status of a validation check.
type CheckStatus string

const (
	StatusPassed  CheckStatus = "passed"
	StatusFailed  CheckStatus = "failed"
	StatusWarning CheckStatus = "warning"
	StatusSkipped CheckStatus = "skipped"
)

// ValidationCheck is one line item of a ValidationReport. Severity is set
// only on failed checks and uses the same scale as refinement feedback.
type ValidationCheck struct {
	Name     string                 `json:"name"`
	Type     ValidationLevel        `json:"type"`
	Status   CheckStatus            `json:"status"`
	Severity FeedbackSeverity       `json:"severity,omitempty"`
	Message  string                 `json:"message,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// ValidationReport is the persisted, capsule-attached summary of a full
// validation pass.
type ValidationReport struct {
	ID                  string            `json:"id"`
	CapsuleID           string            `json:"capsule_id"`
	OverallStatus       CheckStatus       `json:"overall_status"`
	Checks              []ValidationCheck `json:"checks"`
	ConfidenceScore     float64           `json:"confidence_score"`
	Iterations          int               `json:"iterations,omitempty"`
	RequiresHumanReview bool              `json:"requires_human_review"`
	CreatedAt           time.Time         `json:"created_at"`
}

// FeedbackCategory classifies a refinement feedback entry.
type FeedbackCategory string

const (
	FeedbackSyntax      FeedbackCategory = "syntax"
	FeedbackLogic       FeedbackCategory = "logic"
	FeedbackPerformance FeedbackCategory = "performance"
	FeedbackSecurity    FeedbackCategory = "security"
	FeedbackStructure   FeedbackCategory = "structure"
	FeedbackTesting     FeedbackCategory = "testing"
)

// FeedbackSeverity ranks the seriousness of a validation shortfall.
type FeedbackSeverity string

const (
	FeedbackCritical FeedbackSeverity = "critical"
	FeedbackMajor    FeedbackSeverity = "major"
	FeedbackMinor    FeedbackSeverity = "minor"
)

// RefinementFeedback is one actionable instruction handed to the refiner.
type RefinementFeedback struct {
	Category     FeedbackCategory `json:"category"`
	Severity     FeedbackSeverity `json:"severity"`
	Description  string           `json:"description"`
	SuggestedFix string           `json:"suggested_fix,omitempty"`
	CodeSection  string           `json:"code_section,omitempty"`
}

// RefinementStrategy selects how aggressively the refiner should work.
// The controller escalates from standard when iteration scores stagnate.
type RefinementStrategy string

const (
	StrategyStandard  RefinementStrategy = "standard"
	StrategyEscalated RefinementStrategy = "escalated"
)

// RefinementTargets are the score thresholds the refinement loop drives
// toward. All values are in [0,1].
type RefinementTargets struct {
	OverallScore    float64 `json:"overall_score"`
	FunctionalScore float64 `json:"functional_score"`
	QualityScore    float64 `json:"quality_score"`
	SecurityScore   float64 `json:"security_score"`
}

// DefaultRefinementTargets returns the standard acceptance thresholds.
func DefaultRefinementTargets() RefinementTargets {
	return RefinementTargets{
		OverallScore:    0.85,
		FunctionalScore: 0.80,
		QualityScore:    0.70,
		SecurityScore:   0.80,
	}
}

// RefinementRequest is the controller's instruction to an external refiner.
type RefinementRequest struct {
	Description string               `json:"description"`
	Language    SupportedLanguage    `json:"language"`
	EntryPoint  string               `json:"entry_point"`
	Strategy    RefinementStrategy   `json:"strategy"`
	Feedback    []RefinementFeedback `json:"feedback"`
	SourceFiles map[string]string    `json:"source_files"`
	TestFiles   map[string]string    `json:"test_files,omitempty"`
	Iteration   int                  `json:"iteration"`
}

// RefinementResult is the refiner's reply: replacement file contents keyed by
// path. Paths absent from the maps are left untouched by the merge.
type RefinementResult struct {
	SourceFiles map[string]string `json:"source_files"`
	TestFiles   map[string]string `json:"test_files,omitempty"`
	Notes       string            `json:"notes,omitempty"`
}

// ClampScore bounds a score to [0,1]. All scores in the system obey this.
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
