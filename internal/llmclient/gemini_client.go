// File: internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

const (
	retryMaxElapsed  = 2 * time.Minute
	retryMaxInterval = 30 * time.Second
)

// GeminiClient implements schemas.LLMClient on the Gemini API. Transient
// failures (429/5xx and network errors) are retried with exponential
// backoff; rejections and safety blocks fail immediately.
type GeminiClient struct {
	genai  *genai.Client
	cfg    config.LLMModelConfig
	logger *zap.Logger

	// backoffFactory builds a fresh retry policy per request. Tests swap
	// it for a fast one.
	backoffFactory func() backoff.BackOff
}

// NewGeminiClient initializes the SDK client. No request is made until
// Generate is called.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required (set GEMINI_API_KEY or llm.models.*.api_key)")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model name is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.APITimeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout}
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.Endpoint
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiClient{
		genai:  client,
		cfg:    cfg,
		logger: logger.Named("GeminiClient").With(zap.String("model", cfg.Model)),
		backoffFactory: func() backoff.BackOff {
			policy := backoff.NewExponentialBackOff()
			policy.MaxElapsedTime = retryMaxElapsed
			policy.MaxInterval = retryMaxInterval
			return policy
		},
	}, nil
}

// Generate sends the prompts to the model and returns the generated text.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	genCfg := c.buildGenerationConfig(req)
	contents := genai.Text(req.UserPrompt)

	var text string
	operation := func() error {
		start := time.Now()
		resp, err := c.genai.Models.GenerateContent(ctx, c.cfg.Model, contents, genCfg)
		if err != nil {
			return c.classifyError(err)
		}
		text, err = extractText(resp)
		if err != nil {
			return err
		}

		fields := []zap.Field{zap.Duration("duration", time.Since(start))}
		if resp.UsageMetadata != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
				zap.Int32("completion_tokens", resp.UsageMetadata.CandidatesTokenCount),
				zap.Int32("total_tokens", resp.UsageMetadata.TotalTokenCount))
		}
		c.logger.Info("Generation complete.", fields...)
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return "", err
	}
	return text, nil
}

// Close satisfies schemas.LLMClient. The SDK client holds no connections
// that need teardown.
func (c *GeminiClient) Close() error { return nil }

// buildGenerationConfig layers per-request options over the model defaults.
func (c *GeminiClient) buildGenerationConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SafetySettings: c.safetySettings(),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if c.cfg.Temperature > 0 {
		cfg.Temperature = genai.Ptr(c.cfg.Temperature)
	}
	if c.cfg.TopP > 0 {
		cfg.TopP = genai.Ptr(c.cfg.TopP)
	}
	if c.cfg.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(c.cfg.TopK))
	}
	if c.cfg.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}

	if opts := req.Options; opts != nil {
		if opts.Temperature > 0 {
			cfg.Temperature = genai.Ptr(opts.Temperature)
		}
		if opts.TopP > 0 {
			cfg.TopP = genai.Ptr(opts.TopP)
		}
		if opts.TopK > 0 {
			cfg.TopK = genai.Ptr(float32(opts.TopK))
		}
		if opts.MaxOutputTokens > 0 {
			cfg.MaxOutputTokens = opts.MaxOutputTokens
		}
		if len(opts.StopSequences) > 0 {
			cfg.StopSequences = opts.StopSequences
		}
		if opts.ForceJSONFormat {
			cfg.ResponseMIMEType = "application/json"
		}
	}
	return cfg
}

func (c *GeminiClient) safetySettings() []*genai.SafetySetting {
	if len(c.cfg.SafetyFilters) == 0 {
		return nil
	}
	settings := make([]*genai.SafetySetting, 0, len(c.cfg.SafetyFilters))
	for category, threshold := range c.cfg.SafetyFilters {
		settings = append(settings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(threshold),
		})
	}
	return settings
}

// classifyError splits API failures into retryable and permanent. Anything
// that is not an APIError is a network-level failure and worth retrying.
func (c *GeminiClient) classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		wrapped := fmt.Errorf("gemini API error: status %d: %s", apiErr.Code, apiErr.Message)
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			c.logger.Warn("Transient Gemini API error. Retrying.",
				zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))
			return wrapped
		default:
			c.logger.Error("Gemini API request rejected.",
				zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))
			return backoff.Permanent(wrapped)
		}
	}
	c.logger.Warn("Network error during generation. Retrying.", zap.Error(err))
	return fmt.Errorf("gemini request failed: %w", err)
}

// extractText pulls the text parts out of the first candidate. Safety and
// blocklist terminations are permanent; other empty replies are retried.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", backoff.Permanent(fmt.Errorf("gemini returned no candidates"))
	}

	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		if cand.FinishReason == genai.FinishReasonSafety || cand.FinishReason == genai.FinishReasonBlocklist {
			return "", backoff.Permanent(fmt.Errorf("gemini blocked the request (reason: %s)", cand.FinishReason))
		}
		return "", fmt.Errorf("gemini returned empty content (reason: %s)", cand.FinishReason)
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}
