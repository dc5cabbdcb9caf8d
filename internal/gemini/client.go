// Package gemini implements the generation provider on Google Gemini.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/cryptodefiza-create/content-machine/internal/llm"
)

// Client wraps the Gemini API client behind the gateway's Provider
// contract. Retry policy lives in the gateway, not here.
type Client struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	logger    *zap.Logger
	modelName string
}

// Config for the Gemini client.
type Config struct {
	APIKey          string
	ModelName       string // Default: "gemini-2.0-flash-lite"
	Temperature     float32
	MaxOutputTokens int32
}

// NewClient creates a new Gemini client.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.0-flash-lite"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.8
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 900
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.ModelName)

	// Every stage asks for a JSON object
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:      genai.Ptr[float32](cfg.Temperature),
		TopP:             genai.Ptr[float32](0.9),
		MaxOutputTokens:  genai.Ptr[int32](cfg.MaxOutputTokens),
		ResponseMIMEType: "application/json",
	}

	logger.Info("Gemini client initialized", zap.String("model", cfg.ModelName))

	return &Client{
		client:    client,
		model:     model,
		logger:    logger,
		modelName: cfg.ModelName,
	}, nil
}

// Close closes the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.modelName
}

// Generate performs one generation call and returns the raw response text.
// Failures are wrapped in *llm.ProviderError with transience classified so
// the gateway knows whether to retry.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", &llm.ProviderError{
			Transient: isTransient(err),
			Err:       fmt.Errorf("gemini API error: %w", err),
		}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &llm.ProviderError{
			Transient: true,
			Err:       fmt.Errorf("empty response from gemini"),
		}
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", &llm.ProviderError{
			Transient: true,
			Err:       fmt.Errorf("unexpected response type from gemini"),
		}
	}

	return string(text), nil
}

// isTransient reports whether the error is worth retrying: server-side
// failures, throttling, and network timeouts. Auth and malformed-request
// errors are permanent.
func isTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
