// Package gemini implements the llm.Provider and llm.Embedder contracts on
// top of Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"google.golang.org/genai"

	"github.com/edgard/groupmind/internal/config"
	"github.com/edgard/groupmind/internal/llm"
)

// Client talks to the Gemini API. It is safe for concurrent use.
type Client struct {
	genaiClient    *genai.Client
	log            *slog.Logger
	contentConfig  *genai.GenerateContentConfig
	model          string
	embeddingModel string
	dimensions     int
}

var (
	_ llm.Provider = (*Client)(nil)
	_ llm.Embedder = (*Client)(nil)
)

// NewClient creates a Gemini client from configuration.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if log == nil {
		log = slog.Default()
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	temperature := cfg.Temperature
	baseCfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
		},
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized", "model", cfg.Model, "embedding_model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)
	return &Client{
		genaiClient:    gi,
		log:            logger,
		contentConfig:  baseCfg,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.EmbeddingDimensions,
	}, nil
}

// Complete sends one generation request. Failures are classified as
// llm.ErrTransient or llm.ErrPermanent; retries are the caller's concern.
// A response without text yields "", nil.
func (c *Client) Complete(ctx context.Context, prompt llm.Prompt) (string, error) {
	cfg := buildConfig(c.contentConfig, prompt)
	contents := toContents(prompt.Turns)
	if len(contents) == 0 {
		return "", llm.Permanent(0, errors.New("prompt has no turns"))
	}

	resp, err := c.genaiClient.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		classified := classifyError(err)
		c.log.DebugContext(ctx, "Gemini generate call failed", "error", classified, "transient", llm.IsTransient(classified))
		return "", classified
	}
	return c.extractText(ctx, resp)
}

func buildConfig(base *genai.GenerateContentConfig, prompt llm.Prompt) *genai.GenerateContentConfig {
	cfg := *base
	if prompt.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: prompt.System}}}
	}
	if prompt.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return &cfg
}

// toContents converts dialogue turns, merging consecutive turns of the same
// role into one content with several parts.
func toContents(turns []llm.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		if t.Text == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if t.Role == llm.RoleModel {
			role = genai.RoleModel
		}
		if n := len(contents); n > 0 && contents[n-1].Role == string(role) {
			contents[n-1].Parts = append(contents[n-1].Parts, &genai.Part{Text: t.Text})
			continue
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	return contents
}

func (c *Client) extractText(ctx context.Context, resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", nil
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reason := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "reason", reason)
		return "", llm.Permanent(0, fmt.Errorf("blocked by safety filter: %s", reason))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response has no content", "finish_reason", finishReason)
		return "", nil
	}

	return resp.Text(), nil
}

// classifyError maps SDK and transport errors onto the llm error kinds.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.Transient(0, err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return wrapStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return wrapStatus(apiErrPtr.Code, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return llm.Transient(0, err)
	}
	return llm.Permanent(0, err)
}

func wrapStatus(code int, err error) error {
	if errors.Is(llm.ClassifyStatus(code), llm.ErrTransient) {
		return llm.Transient(code, err)
	}
	return llm.Permanent(code, err)
}
