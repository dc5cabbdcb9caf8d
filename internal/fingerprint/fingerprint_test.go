package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityReflexive(t *testing.T) {
	texts := []string{
		"Chainlink and SWIFT just shipped a cross-chain settlement pilot",
		"gm",
		"one two three four five",
	}
	for _, text := range texts {
		fp := New(text)
		assert.Equal(t, 1.0, Similarity(fp, fp), "text: %q", text)
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	a := New("the bridge upgrade shipped last night and nobody noticed")
	b := New("the bridge upgrade shipped last week and everybody noticed")
	assert.Equal(t, Similarity(a, b), Similarity(b, a))
}

func TestSimilarityBounds(t *testing.T) {
	a := New("defi summer is back and the fees prove it")
	b := New("completely unrelated gardening advice for tomato season")
	sim := Similarity(a, b)
	assert.GreaterOrEqual(t, sim, 0.0)
	assert.LessOrEqual(t, sim, 1.0)
}

func TestShortStringsNeverSpuriouslyIdentical(t *testing.T) {
	a := New("gm frens")
	b := New("gn frens")
	assert.Less(t, Similarity(a, b), 1.0)
}

func TestEmptyInput(t *testing.T) {
	t.Run("empty text yields sentinel", func(t *testing.T) {
		assert.True(t, New("").IsEmpty())
		assert.True(t, New("!!! ... ???").IsEmpty())
		assert.True(t, New("a b c").IsEmpty(), "one-letter tokens are dropped")
	})

	t.Run("empty fingerprint scores zero", func(t *testing.T) {
		empty := New("")
		full := New("a real sentence with enough tokens to shingle")
		assert.Equal(t, 0.0, Similarity(empty, full))
		assert.Equal(t, 0.0, Similarity(full, empty))
		assert.Equal(t, 0.0, Similarity(empty, empty))
	})
}

func TestNormalizationFoldsCaseAndPunctuation(t *testing.T) {
	a := New("Chainlink x SWIFT: the pilot is LIVE!")
	b := New("chainlink swift the pilot is live")
	assert.Equal(t, 1.0, Similarity(a, b))
}

func TestNearDuplicateScoresHigh(t *testing.T) {
	a := New("Chainlink and SWIFT just shipped a settlement pilot across twelve banks")
	b := New("Chainlink and SWIFT just shipped a settlement pilot across eleven banks")
	assert.Greater(t, Similarity(a, b), 0.5)
}
