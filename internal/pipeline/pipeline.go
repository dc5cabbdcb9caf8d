package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryptodefiza-create/content-machine/internal/critique"
	"github.com/cryptodefiza-create/content-machine/internal/dedupe"
	"github.com/cryptodefiza-create/content-machine/internal/fingerprint"
	"github.com/cryptodefiza-create/content-machine/internal/llm"
	"github.com/cryptodefiza-create/content-machine/internal/models"
	"github.com/cryptodefiza-create/content-machine/internal/persona"
)

// Stage names double as cache-key material in the gateway, so they stay
// stable.
const (
	StageScout        = "scout"
	StageIdeate       = "ideate"
	StageDraft        = "draft"
	StageRewrite      = "rewrite"
	StageQualityCheck = "quality_check"
	StageQueue        = "queue"
)

var (
	ErrNoTopics   = errors.New("pipeline: no topics to run")
	ErrNoPersonas = errors.New("pipeline: no valid personas to run")
)

// Outcome classifies what happened to one (persona, topic) pair.
type Outcome string

const (
	OutcomeQueued    Outcome = "queued"
	OutcomeSimulated Outcome = "simulated"
	OutcomeDuplicate Outcome = "duplicate_skipped"
	OutcomeFailed    Outcome = "failed"
)

// PairResult records the fate of a single persona/topic pair.
type PairResult struct {
	Persona string        `json:"persona"`
	Topic   string        `json:"topic"`
	Outcome Outcome       `json:"outcome"`
	Reason  string        `json:"reason,omitempty"`
	Stage   string        `json:"stage"`
	QueueID string        `json:"queue_id,omitempty"`
	Draft   *models.Draft `json:"draft,omitempty"`
}

// RunResult aggregates a whole pipeline run.
type RunResult struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	DryRun     bool         `json:"dry_run"`
	Pairs      []PairResult `json:"pairs"`
	Queued     int          `json:"queued"`
	Simulated  int          `json:"simulated"`
	Duplicates int          `json:"duplicates"`
	Failed     int          `json:"failed"`
	TotalCost  float64      `json:"total_cost"`
}

// Generator is the slice of the LLM gateway the pipeline needs.
type Generator interface {
	Generate(ctx context.Context, runID, stage, personaKey, prompt string) (*llm.Result, error)
}

// ApprovalQueue receives finished drafts for human review.
type ApprovalQueue interface {
	Enqueue(ctx context.Context, draft *models.Draft) (string, error)
}

// Pipeline drives topics through scout, ideate, draft, quality check and
// into the approval queue.
type Pipeline struct {
	gateway  Generator
	dedupe   *dedupe.Index
	queue    ApprovalQueue
	personas *persona.Store
	logger   *zap.Logger

	maxRewritePasses int
	dryRun           atomic.Bool
}

type Options struct {
	Gateway          Generator
	Dedupe           *dedupe.Index // nil disables duplicate gating
	Queue            ApprovalQueue
	Personas         *persona.Store
	Logger           *zap.Logger
	MaxRewritePasses int
	DryRun           bool
}

func New(opts Options) (*Pipeline, error) {
	if opts.Gateway == nil {
		return nil, errors.New("pipeline: gateway is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("pipeline: approval queue is required")
	}
	if opts.Personas == nil {
		return nil, errors.New("pipeline: persona store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxRewritePasses < 0 {
		opts.MaxRewritePasses = 0
	}
	p := &Pipeline{
		gateway:          opts.Gateway,
		dedupe:           opts.Dedupe,
		queue:            opts.Queue,
		personas:         opts.Personas,
		logger:           opts.Logger,
		maxRewritePasses: opts.MaxRewritePasses,
	}
	p.dryRun.Store(opts.DryRun)
	return p, nil
}

// SetDryRun toggles simulation mode for subsequent runs.
func (p *Pipeline) SetDryRun(v bool) { p.dryRun.Store(v) }

// DryRun reports the current simulation mode.
func (p *Pipeline) DryRun() bool { return p.dryRun.Load() }

// Run processes every (persona, topic) pair. A pair failure never aborts
// the run; only an empty topic list or zero resolvable personas does.
func (p *Pipeline) Run(ctx context.Context, topics []models.Topic, personaKeys []string) (*RunResult, error) {
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}
	profiles := make([]*persona.Profile, 0, len(personaKeys))
	if len(personaKeys) == 0 {
		personaKeys = p.personas.Keys()
	}
	for _, key := range personaKeys {
		profile, err := p.personas.Get(key)
		if err != nil {
			p.logger.Warn("skipping unknown persona", zap.String("persona", key), zap.Error(err))
			continue
		}
		profiles = append(profiles, profile)
	}
	if len(profiles) == 0 {
		return nil, ErrNoPersonas
	}

	dryRun := p.dryRun.Load()
	res := &RunResult{
		RunID:     newRunID(),
		StartedAt: time.Now().UTC(),
		DryRun:    dryRun,
	}
	p.logger.Info("pipeline run started",
		zap.String("run_id", res.RunID),
		zap.Int("topics", len(topics)),
		zap.Int("personas", len(profiles)),
		zap.Bool("dry_run", dryRun))

	for _, topic := range topics {
		for _, profile := range profiles {
			if err := ctx.Err(); err != nil {
				res.FinishedAt = time.Now().UTC()
				return res, err
			}
			pair := p.runPair(ctx, res.RunID, topic, profile, dryRun)
			res.Pairs = append(res.Pairs, pair)
			switch pair.Outcome {
			case OutcomeQueued:
				res.Queued++
			case OutcomeSimulated:
				res.Simulated++
			case OutcomeDuplicate:
				res.Duplicates++
			case OutcomeFailed:
				res.Failed++
			}
			if pair.Draft != nil {
				res.TotalCost += pair.Draft.EstimatedCost
			}
		}
	}
	res.FinishedAt = time.Now().UTC()
	p.logger.Info("pipeline run finished",
		zap.String("run_id", res.RunID),
		zap.Int("queued", res.Queued),
		zap.Int("simulated", res.Simulated),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("failed", res.Failed),
		zap.Float64("total_cost", res.TotalCost))
	return res, nil
}

// Batch generates count variants of one topic for a single persona. Each
// take carries a variant note so the stage prompts (and so the cache
// keys) differ; near-identical output still collapses in the dedupe gate.
func (p *Pipeline) Batch(ctx context.Context, topic models.Topic, personaKey string, count int) (*RunResult, error) {
	if count <= 0 {
		count = 1
	}
	topics := make([]models.Topic, 0, count)
	for i := 1; i <= count; i++ {
		t := topic
		if count > 1 {
			t.Description = strings.TrimSpace(fmt.Sprintf(
				"%s (take %d of %d, use a different angle)", topic.Description, i, count))
		}
		topics = append(topics, t)
	}
	return p.Run(ctx, topics, []string{personaKey})
}

func (p *Pipeline) runPair(ctx context.Context, runID string, topic models.Topic, profile *persona.Profile, dryRun bool) PairResult {
	pair := PairResult{Persona: profile.Key, Topic: topic.Text, Stage: StageScout}
	if strings.TrimSpace(topic.Text) == "" {
		pair.Outcome = OutcomeFailed
		pair.Reason = "empty topic"
		return pair
	}

	scout, err := p.gateway.Generate(ctx, runID, StageScout, profile.Key, scoutPrompt(topic, profile))
	if err != nil {
		return p.fail(pair, StageScout, err)
	}
	summary := getString(scout.Data, "summary")
	keyPoints := getStringList(scout.Data, "key_points")

	pair.Stage = StageIdeate
	ideate, err := p.gateway.Generate(ctx, runID, StageIdeate, profile.Key, ideatePrompt(topic, profile, summary, keyPoints))
	if err != nil {
		return p.fail(pair, StageIdeate, err)
	}
	angles := getStringList(ideate.Data, "angles")
	hooks := getStringList(ideate.Data, "hooks")
	ctas := getStringList(ideate.Data, "ctas")

	pair.Stage = StageDraft
	draftRes, err := p.gateway.Generate(ctx, runID, StageDraft, profile.Key, draftPrompt(topic, profile, summary, angles, hooks, ctas))
	if err != nil {
		return p.fail(pair, StageDraft, err)
	}

	draft := &models.Draft{
		ID:      uuid.New().String(),
		RunID:   runID,
		Persona: profile.Key,
		Topic:   topic,
		Angle:   first(angles),
		Hook:    first(hooks),
		CTA:     first(ctas),
		State:   models.StateDrafted,
		Created: time.Now().UTC(),
	}
	applyDraftData(draft, draftRes.Data)
	addUsage(draft, scout, ideate, draftRes)
	if strings.TrimSpace(draft.Content) == "" {
		pair.Draft = draft
		pair.Outcome = OutcomeFailed
		pair.Reason = "draft stage produced empty content"
		return pair
	}

	pair.Stage = StageQualityCheck
	verdict := critique.Evaluate(draft, profile)
	for pass := 0; len(verdict.HardIssues()) > 0 && pass < p.maxRewritePasses; pass++ {
		rewriteRes, err := p.gateway.Generate(ctx, runID, StageRewrite, profile.Key,
			rewritePrompt(profile, draft.Content, verdict.Summaries(), ""))
		if err != nil {
			pair.Draft = draft
			return p.fail(pair, StageQualityCheck, err)
		}
		applyDraftData(draft, rewriteRes.Data)
		addUsage(draft, rewriteRes)
		verdict = critique.Evaluate(draft, profile)
	}
	draft.Issues = verdict.Summaries()
	draft.Passed = verdict.Passed
	draft.State = models.StateQualityChecked
	pair.Draft = draft
	if !verdict.Passed {
		pair.Outcome = OutcomeFailed
		pair.Reason = "quality check failed: " + strings.Join(draft.Issues, "; ")
		return pair
	}

	draft.Fingerprint = fingerprint.New(draft.Content)
	if p.dedupe != nil {
		// A duplicate gets one rewrite steered away from the matched
		// text before the pair is given up on.
		if match, dup := p.dedupe.WouldDuplicate(profile.Key, draft.Fingerprint); dup {
			p.logger.Info("duplicate detected, rewriting to differ",
				zap.String("run_id", runID),
				zap.String("persona", profile.Key),
				zap.Float64("similarity", match.Similarity))
			rewriteRes, err := p.gateway.Generate(ctx, runID, StageRewrite, profile.Key,
				rewritePrompt(profile, draft.Content,
					append(draft.Issues, "Duplicate similarity detected"), match.Text))
			if err != nil {
				return p.fail(pair, StageQualityCheck, err)
			}
			applyDraftData(draft, rewriteRes.Data)
			addUsage(draft, rewriteRes)

			verdict = critique.Evaluate(draft, profile)
			draft.Issues = verdict.Summaries()
			draft.Passed = verdict.Passed
			if !verdict.Passed {
				pair.Outcome = OutcomeFailed
				pair.Reason = "quality check failed after rewrite: " + strings.Join(draft.Issues, "; ")
				return pair
			}

			draft.Fingerprint = fingerprint.New(draft.Content)
			if match, dup = p.dedupe.WouldDuplicate(profile.Key, draft.Fingerprint); dup {
				pair.Outcome = OutcomeDuplicate
				pair.Reason = fmt.Sprintf("similar to content from %s (similarity %.2f)", match.Day, match.Similarity)
				p.logger.Info("duplicate skipped",
					zap.String("run_id", runID),
					zap.String("persona", profile.Key),
					zap.Float64("similarity", match.Similarity))
				return pair
			}
		}
		p.dedupe.Record(profile.Key, draft.Fingerprint, draft.Content)
	}

	pair.Stage = StageQueue
	if dryRun {
		pair.Outcome = OutcomeSimulated
		return pair
	}
	id, err := p.queue.Enqueue(ctx, draft)
	if err != nil {
		return p.fail(pair, StageQueue, err)
	}
	draft.State = models.StateQueued
	pair.QueueID = id
	pair.Outcome = OutcomeQueued
	return pair
}

func (p *Pipeline) fail(pair PairResult, stage string, err error) PairResult {
	pair.Stage = stage
	pair.Outcome = OutcomeFailed
	pair.Reason = err.Error()
	p.logger.Warn("pair failed",
		zap.String("persona", pair.Persona),
		zap.String("stage", stage),
		zap.Error(err))
	return pair
}

func applyDraftData(d *models.Draft, data map[string]interface{}) {
	if c := getString(data, "content"); c != "" {
		d.Content = c
	}
	d.IsThread = getBool(data, "is_thread")
	d.ThreadParts = getStringList(data, "thread_parts")
	if v := getString(data, "visual_prompt"); v != "" {
		d.VisualPrompt = v
	}
	if d.IsThread && len(d.ThreadParts) == 0 {
		d.IsThread = false
	}
}

func addUsage(d *models.Draft, results ...*llm.Result) {
	for _, r := range results {
		d.PromptTokens += r.PromptTokens
		d.CompletionTokens += r.CompletionTokens
		d.EstimatedCost += r.Cost
	}
}

func newRunID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func first(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

func getString(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	if s, ok := data[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if data == nil {
		return false
	}
	b, _ := data[key].(bool)
	return b
}

func getStringList(data map[string]interface{}, key string) []string {
	if data == nil {
		return nil
	}
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
