package models

import (
	"time"

	"github.com/cryptodefiza-create/content-machine/internal/fingerprint"
)

// DraftState is the lifecycle state of a draft. Progression is strictly
// forward: drafted -> quality_checked -> queued -> approved|rejected ->
// exported, where exported is only reachable from approved.
type DraftState string

const (
	StateDrafted        DraftState = "drafted"
	StateQualityChecked DraftState = "quality_checked"
	StateQueued         DraftState = "queued"
	StateApproved       DraftState = "approved"
	StateRejected       DraftState = "rejected"
	StateExported       DraftState = "exported"
	StateExpired        DraftState = "expired"
)

// Draft is generated content for one (persona, topic) pair.
type Draft struct {
	ID           string   `json:"id"`
	RunID        string   `json:"run_id"`
	Persona      string   `json:"persona"`
	Topic        Topic    `json:"topic"`
	Content      string   `json:"content"`
	IsThread     bool     `json:"is_thread"`
	ThreadParts  []string `json:"thread_parts,omitempty"`
	VisualPrompt string   `json:"visual_prompt,omitempty"`
	Angle        string   `json:"angle,omitempty"`
	Hook         string   `json:"hook,omitempty"`
	CTA          string   `json:"cta,omitempty"`

	Fingerprint      fingerprint.Fingerprint `json:"-"`
	PromptTokens     int                     `json:"prompt_tokens"`
	CompletionTokens int                     `json:"completion_tokens"`
	EstimatedCost    float64                 `json:"estimated_cost"`

	Issues  []string   `json:"issues,omitempty"`
	Passed  bool       `json:"passed"`
	State   DraftState `json:"state"`
	Created time.Time  `json:"created"`
}

// Parts returns the postable pieces of the draft: the thread parts for a
// thread, otherwise the single content body.
func (d *Draft) Parts() []string {
	if d.IsThread && len(d.ThreadParts) > 0 {
		return d.ThreadParts
	}
	return []string{d.Content}
}
