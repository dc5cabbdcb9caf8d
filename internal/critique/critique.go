// Package critique runs the deterministic quality pass over a draft.
// Every check runs; findings accumulate rather than short-circuiting, so
// a single pass reports everything wrong with a draft at once.
package critique

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cryptodefiza-create/content-machine/internal/models"
	"github.com/cryptodefiza-create/content-machine/internal/persona"
)

// Severity splits findings into those that block queueing and those that
// merely annotate the draft.
type Severity string

const (
	SeveritySoft Severity = "soft"
	SeverityHard Severity = "hard"
)

// Issue kinds.
const (
	KindBlandHook       = "bland_hook"
	KindWeakCTA         = "weak_cta"
	KindVagueClaim      = "vague_claim"
	KindRepetition      = "repetition"
	KindForbiddenPhrase = "forbidden_phrase"
	KindHashtag         = "hashtag"
	KindOverLength      = "over_length"
	KindThreadTooLong   = "thread_too_long"
)

// Issue is one finding against a draft.
type Issue struct {
	Kind     string
	Detail   string
	Severity Severity
}

// Result is the outcome of a critique pass. Passed is true only when no
// hard issue was found; soft issues annotate but do not block.
type Result struct {
	Issues []Issue
	Passed bool
}

// HardIssues returns only the blocking findings.
func (r Result) HardIssues() []Issue {
	var hard []Issue
	for _, issue := range r.Issues {
		if issue.Severity == SeverityHard {
			hard = append(hard, issue)
		}
	}
	return hard
}

// Summaries returns issue details as plain strings for annotations.
func (r Result) Summaries() []string {
	out := make([]string, 0, len(r.Issues))
	for _, issue := range r.Issues {
		out = append(out, issue.Detail)
	}
	return out
}

var (
	blandHooks = []string{"interesting", "thoughts", "just", "maybe", "could be"}
	vagueTerms = []string{"something", "things", "various", "some", "many"}
	wordRe     = regexp.MustCompile(`[a-zA-Z0-9']+`)
)

// vagueDensityThreshold is the fraction of tokens that may be vague terms
// before the draft is flagged.
const vagueDensityThreshold = 0.08

// Evaluate critiques a draft against its persona. Deterministic: the same
// draft and persona always produce the same result.
func Evaluate(draft *models.Draft, p *persona.Profile) Result {
	var issues []Issue

	lower := strings.ToLower(draft.Content)

	issues = append(issues, checkHook(lower)...)
	issues = append(issues, checkCTA(lower, p)...)
	issues = append(issues, checkVagueClaims(lower)...)
	issues = append(issues, checkRepetition(draft.Parts())...)
	issues = append(issues, checkForbiddenPhrases(lower, p)...)
	issues = append(issues, checkHardConstraints(draft, p)...)

	result := Result{Issues: issues}
	result.Passed = len(result.HardIssues()) == 0
	return result
}

func checkHook(lower string) []Issue {
	opening := lower
	if len(opening) > 80 {
		opening = opening[:80]
	}
	for _, bland := range blandHooks {
		if strings.Contains(opening, bland) {
			return []Issue{{
				Kind:     KindBlandHook,
				Detail:   fmt.Sprintf("Bland hook: opening leans on %q", bland),
				Severity: SeveritySoft,
			}}
		}
	}
	return nil
}

func checkCTA(lower string, p *persona.Profile) []Issue {
	if !p.RequireCTA {
		return nil
	}
	if strings.Contains(lower, "?") {
		return nil
	}
	return []Issue{{
		Kind:     KindWeakCTA,
		Detail:   "Weak CTA: no question to the reader",
		Severity: SeveritySoft,
	}}
}

func checkVagueClaims(lower string) []Issue {
	tokens := wordRe.FindAllString(lower, -1)
	if len(tokens) == 0 {
		return nil
	}

	vague := 0
	for _, token := range tokens {
		for _, term := range vagueTerms {
			if token == term {
				vague++
				break
			}
		}
	}

	density := float64(vague) / float64(len(tokens))
	if density <= vagueDensityThreshold {
		return nil
	}
	return []Issue{{
		Kind:     KindVagueClaim,
		Detail:   fmt.Sprintf("Vague claims: %d hedge words in %d tokens", vague, len(tokens)),
		Severity: SeveritySoft,
	}}
}

// checkRepetition flags repeated bigrams inside the draft, thread parts
// included, so a thread cannot lean on the same phrase twice.
func checkRepetition(parts []string) []Issue {
	counts := make(map[string]int)
	for _, part := range parts {
		tokens := wordRe.FindAllString(strings.ToLower(part), -1)
		for i := 0; i+1 < len(tokens); i++ {
			counts[tokens[i]+" "+tokens[i+1]]++
		}
	}

	// Report the most repeated bigram, lexicographically smallest on
	// ties, so the finding is stable across runs.
	worst := ""
	for bigram, count := range counts {
		if count < 2 {
			continue
		}
		if worst == "" || count > counts[worst] || (count == counts[worst] && bigram < worst) {
			worst = bigram
		}
	}
	if worst == "" {
		return nil
	}
	return []Issue{{
		Kind:     KindRepetition,
		Detail:   fmt.Sprintf("Repetition: %q appears %d times", worst, counts[worst]),
		Severity: SeveritySoft,
	}}
}

func checkForbiddenPhrases(lower string, p *persona.Profile) []Issue {
	var issues []Issue
	for _, banned := range p.ForbiddenPhrases {
		if banned == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(banned)) {
			issues = append(issues, Issue{
				Kind:     KindForbiddenPhrase,
				Detail:   fmt.Sprintf("Forbidden phrase: %s", banned),
				Severity: SeverityHard,
			})
		}
	}
	return issues
}

func checkHardConstraints(draft *models.Draft, p *persona.Profile) []Issue {
	var issues []Issue

	for _, part := range draft.Parts() {
		if strings.Contains(part, "#") {
			issues = append(issues, Issue{
				Kind:     KindHashtag,
				Detail:   "Contains hashtags (forbidden)",
				Severity: SeverityHard,
			})
			break
		}
	}

	for _, part := range draft.Parts() {
		if len([]rune(part)) > p.MaxPostLength {
			issues = append(issues, Issue{
				Kind:     KindOverLength,
				Detail:   fmt.Sprintf("Over length limit: %d > %d chars", len([]rune(part)), p.MaxPostLength),
				Severity: SeverityHard,
			})
			break
		}
	}

	if draft.IsThread && len(draft.ThreadParts) > p.MaxThreadParts {
		issues = append(issues, Issue{
			Kind:     KindThreadTooLong,
			Detail:   fmt.Sprintf("Thread too long: %d > %d parts", len(draft.ThreadParts), p.MaxThreadParts),
			Severity: SeverityHard,
		})
	}

	return issues
}
