package schemas

import (
	"context"
	"time"
)

// -- Container Runtime Interface --

// ContainerSpec describes a single bounded command execution inside a
// disposable container. The workspace directory is bind-mounted read-write at
// MountPath and the command runs through the image's shell.
type ContainerSpec struct {
	Image            string
	Command          string
	WorkspaceDir     string
	MountPath        string
	Env              []string
	MemoryLimitBytes int64
	NanoCPUs         int64
	Timeout          time.Duration
}

// ContainerExecution is the raw outcome of one container run. A non-zero
// exit code is a normal execution, not an error; adapters reserve their
// error return for infrastructure failures (daemon unreachable, image
// missing, container could not start).
type ContainerExecution struct {
	ExitCode        int
	Stdout          string
	Stderr          string
	Duration        time.Duration
	PeakMemoryBytes int64
	TimedOut        bool
}

// ContainerRuntime abstracts the container engine used by the sandbox
// runner. Implementations exist for the Docker Engine API and for shelling
// out to a docker/podman binary, so the runner never depends on either
// directly.
type ContainerRuntime interface {
	// Name identifies the adapter for logs ("docker-api", "docker-cli", ...).
	Name() string
	// EnsureImage makes the image available locally, pulling it if needed.
	EnsureImage(ctx context.Context, image string) error
	// RunContainer executes the spec and blocks until the container exits or
	// the spec's timeout elapses. On timeout the container is force-removed
	// and the execution is returned with TimedOut set.
	RunContainer(ctx context.Context, spec ContainerSpec) (*ContainerExecution, error)
	// Close releases any resources held by the adapter.
	Close() error
}

// -- Refiner Interface --

// Refiner is the external capability that produces improved capsule files
// from validation feedback. The production implementation is LLM-backed;
// tests inject fakes.
type Refiner interface {
	Refine(ctx context.Context, req RefinementRequest) (*RefinementResult, error)
}

// -- LLM Interfaces --

// ModelTier allows the application to request a class of model
// (e.g., fast and cheap vs. powerful and expensive) without
// hardcoding specific model names.
type ModelTier string

const (
	// TierFast is for quick, low-cost tasks like summarization or simple fixes.
	TierFast ModelTier = "fast"
	// TierPowerful is for complex reasoning, escalated refinement, and
	// structured generation.
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions provides per-request overrides for LLM parameters.
type GenerationOptions struct {
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
	StopSequences   []string
	ForceJSONFormat bool
}

// GenerationRequest encapsulates all information needed for an LLM call.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Tier         ModelTier
	Options      *GenerationOptions
}

// LLMClient is the interface for a handle to a large language model.
type LLMClient interface {
	// Generate sends a request to the configured LLM and returns the
	// generated text content.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases any resources used by the client.
	Close() error
}

// -- Store Interface --

// Store defines a generic interface for persisting validation outcomes.
// This abstraction keeps the application independent of the specific
// database implementation (e.g., PostgreSQL, in-memory).
type Store interface {
	// SaveReport persists a validation report and its checks.
	SaveReport(ctx context.Context, report *ValidationReport) error
	// SaveExecution persists a sandbox execution record, including
	// compressed per-phase logs.
	SaveExecution(ctx context.Context, capsuleID string, result *RuntimeValidationResult) error
	// GetReportsByCapsule retrieves all reports recorded for a capsule,
	// newest first.
	GetReportsByCapsule(ctx context.Context, capsuleID string) ([]ValidationReport, error)
}
