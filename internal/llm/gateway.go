// Package llm is the single choke point for external generation calls.
// Every pipeline stage goes through the Gateway, which applies one uniform
// cache / rate-limit / retry / cost policy regardless of caller.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cryptodefiza-create/content-machine/internal/cache"
	"github.com/cryptodefiza-create/content-machine/internal/telemetry"
)

// ErrRateLimited is returned when no rate-limit token became available
// within the configured maximum wait.
var ErrRateLimited = errors.New("rate limited")

// Provider is the external generation call. Implementations wrap failures
// in *ProviderError so the gateway can tell transient from permanent.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// ProviderError carries a provider failure and whether retrying may help.
type ProviderError struct {
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// GenerationError is surfaced when the external call failed past the retry
// cap, carrying the last error.
type GenerationError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at stage %s after %d attempts: %v", e.Stage, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Tracker receives one usage record per gateway call.
type Tracker interface {
	Record(telemetry.UsageRecord) error
}

// Result is a parsed generation response plus its accounting.
type Result struct {
	Data             map[string]interface{}
	Raw              string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Cached           bool
}

// Config bounds the gateway's rate, retry, and cost accounting.
type Config struct {
	Window         time.Duration // rolling rate-limit window
	MaxCalls       int           // calls allowed per window
	MaxWait        time.Duration // longest a caller may block on the limiter
	MaxRetries     int           // attempt cap per call
	Backoff        time.Duration // backoff base, doubled per attempt
	PromptRate     float64       // cost per 1k prompt tokens
	CompletionRate float64       // cost per 1k completion tokens
}

// Gateway wraps a Provider with caching, rate limiting, bounded retry, and
// cost estimation.
type Gateway struct {
	provider Provider
	cache    *cache.Cache
	tracker  Tracker
	logger   *zap.Logger
	cfg      Config
	limiter  *rateLimiter
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewGateway builds a gateway. cache and tracker may be nil to disable
// caching or usage tracking.
func NewGateway(provider Provider, c *cache.Cache, tracker Tracker, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Gateway{
		provider: provider,
		cache:    c,
		tracker:  tracker,
		logger:   logger,
		cfg:      cfg,
		limiter:  newRateLimiter(cfg.Window, cfg.MaxCalls, cfg.MaxWait),
		sleep:    sleepContext,
	}
}

// SetClock overrides the gateway's clock and sleep functions. Test hook.
func (g *Gateway) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	g.limiter.setClock(now, sleep)
	g.sleep = sleep
}

// Generate returns the parsed JSON response for prompt, consulting the
// cache first. On a miss it acquires a rate-limit token, calls the
// provider with bounded retries, and caches the successful response.
func (g *Gateway) Generate(ctx context.Context, runID, stage, persona, prompt string) (*Result, error) {
	key := cacheKey(stage, persona, g.provider.Model(), prompt)

	if g.cache != nil {
		if raw, ok := g.cache.Get(key); ok {
			data, err := parseJSON(raw)
			if err == nil {
				g.logger.Info("LLM cache hit",
					zap.String("stage", stage),
					zap.String("persona", persona))
				result := &Result{
					Data:             data,
					Raw:              raw,
					PromptTokens:     estimateTokens(prompt),
					CompletionTokens: estimateTokens(raw),
					Cached:           true,
				}
				g.recordUsage(runID, stage, persona, result)
				return result, nil
			}
			// Corrupt cache entry: fall through to a fresh call.
			g.logger.Warn("Cache entry corrupted, regenerating",
				zap.String("stage", stage),
				zap.Error(err))
		}
	}

	if err := g.limiter.acquire(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			wait := g.cfg.Backoff * time.Duration(1<<(attempt-2))
			g.logger.Warn("Retrying LLM call",
				zap.String("stage", stage),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", g.cfg.MaxRetries),
				zap.Duration("backoff", wait))
			if err := g.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		raw, err := g.provider.Generate(ctx, prompt)
		if err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) && !pe.Transient {
				return nil, &GenerationError{Stage: stage, Attempts: attempt, Err: err}
			}
			lastErr = err
			g.logger.Error("LLM call failed",
				zap.String("stage", stage),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		data, err := parseJSON(raw)
		if err != nil {
			lastErr = fmt.Errorf("malformed response: %w", err)
			g.logger.Error("Failed to parse LLM response",
				zap.String("stage", stage),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		result := &Result{
			Data:             data,
			Raw:              raw,
			PromptTokens:     estimateTokens(prompt),
			CompletionTokens: estimateTokens(raw),
		}
		result.Cost = estimateCost(result.PromptTokens, result.CompletionTokens, g.cfg.PromptRate, g.cfg.CompletionRate)

		if g.cache != nil {
			g.cache.Put(key, raw)
		}
		g.recordUsage(runID, stage, persona, result)
		return result, nil
	}

	return nil, &GenerationError{Stage: stage, Attempts: g.cfg.MaxRetries, Err: lastErr}
}

func (g *Gateway) recordUsage(runID, stage, persona string, result *Result) {
	if g.tracker == nil {
		return
	}
	record := telemetry.UsageRecord{
		RunID:            runID,
		Persona:          persona,
		Stage:            stage,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		Cost:             result.Cost,
		Cached:           result.Cached,
	}
	if err := g.tracker.Record(record); err != nil {
		g.logger.Warn("Failed to record usage", zap.Error(err))
	}
}

// cacheKey derives a stable key from the request so an identical request
// is a guaranteed cache hit.
func cacheKey(stage, persona, model, prompt string) string {
	payload, _ := json.Marshal(map[string]string{
		"stage":   stage,
		"persona": persona,
		"model":   model,
		"prompt":  prompt,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// parseJSON strips markdown code fences and decodes a JSON object.
func parseJSON(text string) (map[string]interface{}, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, err
	}
	return data, nil
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := len(text) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func estimateCost(promptTokens, completionTokens int, promptRate, completionRate float64) float64 {
	cost := float64(promptTokens)/1000.0*promptRate + float64(completionTokens)/1000.0*completionRate
	return float64(int64(cost*1e6+0.5)) / 1e6
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
