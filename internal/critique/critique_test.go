package critique

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cryptodefiza-create/content-machine/internal/models"
	"github.com/cryptodefiza-create/content-machine/internal/persona"
)

func testPersona() *persona.Profile {
	return &persona.Profile{
		Key:              "pro",
		Name:             "Head of BD",
		ForbiddenPhrases: []string{"to the moon", "financial advice"},
		MaxPostLength:    280,
		MaxThreadParts:   3,
		RequireCTA:       true,
	}
}

func draftWith(content string) *models.Draft {
	return &models.Draft{Content: content}
}

func kinds(result Result) []string {
	out := make([]string, 0, len(result.Issues))
	for _, issue := range result.Issues {
		out = append(out, issue.Kind)
	}
	return out
}

func TestCleanDraftPasses(t *testing.T) {
	result := Evaluate(draftWith("Banks piloting on-chain settlement is the real adoption story. Who ships first?"), testPersona())
	assert.True(t, result.Passed)
	assert.Empty(t, result.Issues)
}

func TestSoftIssuesDoNotBlock(t *testing.T) {
	t.Run("bland hook", func(t *testing.T) {
		result := Evaluate(draftWith("Interesting development in settlement rails today. What would change your mind?"), testPersona())
		assert.True(t, result.Passed)
		assert.Contains(t, kinds(result), KindBlandHook)
	})

	t.Run("weak cta", func(t *testing.T) {
		result := Evaluate(draftWith("Banks piloting on-chain settlement is the real adoption story."), testPersona())
		assert.True(t, result.Passed)
		assert.Contains(t, kinds(result), KindWeakCTA)
	})

	t.Run("cta not required", func(t *testing.T) {
		p := testPersona()
		p.RequireCTA = false
		result := Evaluate(draftWith("Banks piloting on-chain settlement is the real adoption story."), p)
		assert.NotContains(t, kinds(result), KindWeakCTA)
	})

	t.Run("vague claims", func(t *testing.T) {
		result := Evaluate(draftWith("Something about various things could reshape some markets? Many agree."), testPersona())
		assert.True(t, result.Passed)
		assert.Contains(t, kinds(result), KindVagueClaim)
	})

	t.Run("repetition", func(t *testing.T) {
		result := Evaluate(draftWith("Real adoption here, real adoption now. Can we price real adoption yet?"), testPersona())
		assert.True(t, result.Passed)
		assert.Contains(t, kinds(result), KindRepetition)
	})
}

func TestHardIssuesBlock(t *testing.T) {
	t.Run("forbidden phrase", func(t *testing.T) {
		result := Evaluate(draftWith("This sends us TO THE MOON, obviously? Not advice though."), testPersona())
		assert.False(t, result.Passed)
		assert.Contains(t, kinds(result), KindForbiddenPhrase)
	})

	t.Run("hashtag", func(t *testing.T) {
		result := Evaluate(draftWith("Settlement pilots are live. #crypto anyone watching?"), testPersona())
		assert.False(t, result.Passed)
		assert.Contains(t, kinds(result), KindHashtag)
	})

	t.Run("over length", func(t *testing.T) {
		result := Evaluate(draftWith(strings.Repeat("settlement rails forever ", 20)+"?"), testPersona())
		assert.False(t, result.Passed)
		assert.Contains(t, kinds(result), KindOverLength)
	})

	t.Run("thread too long", func(t *testing.T) {
		draft := &models.Draft{
			Content:     "part one?",
			IsThread:    true,
			ThreadParts: []string{"first point here?", "second angle entirely", "third observation now", "fourth one too far"},
		}
		result := Evaluate(draft, testPersona())
		assert.False(t, result.Passed)
		assert.Contains(t, kinds(result), KindThreadTooLong)
	})
}

func TestAllFindingsCollected(t *testing.T) {
	// One draft tripping soft and hard checks at once: nothing short-circuits.
	result := Evaluate(draftWith("Interesting things happening, to the moon with #defi"), testPersona())
	assert.False(t, result.Passed)
	found := kinds(result)
	assert.Contains(t, found, KindBlandHook)
	assert.Contains(t, found, KindForbiddenPhrase)
	assert.Contains(t, found, KindHashtag)
	assert.Contains(t, found, KindWeakCTA)
}

func TestDeterministic(t *testing.T) {
	draft := draftWith("Something about various things could reshape some markets? Many agree.")
	first := Evaluate(draft, testPersona())
	second := Evaluate(draft, testPersona())
	assert.Equal(t, first, second)
}

func TestRepetitionPicksMostRepeatedBigram(t *testing.T) {
	// Several bigrams repeat; the finding must name the same one every time.
	draft := draftWith("fee markets fee markets price discovery price discovery fee markets?")
	first := Evaluate(draft, testPersona())
	assert.Contains(t, kinds(first), KindRepetition)
	for _, issue := range first.Issues {
		if issue.Kind == KindRepetition {
			assert.Equal(t, `Repetition: "fee markets" appears 3 times`, issue.Detail)
		}
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(draft, testPersona()))
	}
}
