package channels

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyEmpty(t *testing.T) {
	e := NewExtractor()
	assert.Equal(t, Set{}, e.Classify(""))
}

func TestClassifyWrappedComplete(t *testing.T) {
	e := NewExtractor()
	got := e.Classify("<think>the user asks about loops</think>Loops repeat statements.")
	assert.Equal(t, "the user asks about loops", got.Analysis)
	assert.Equal(t, "Loops repeat statements.", got.Final)
}

func TestClassifyWrappedUnterminated(t *testing.T) {
	e := NewExtractor()

	got := e.Classify("<think>still reasoning")
	assert.Equal(t, "still reasoning", got.Analysis)
	assert.Empty(t, got.Final)

	// A half-arrived closing tag never shows.
	for _, tail := range []string{"<", "</", "</t", "</thin", "</think"} {
		got := e.Classify("<think>almost done" + tail)
		assert.Equal(t, "almost done", got.Analysis, "tail %q", tail)
		assert.Empty(t, got.Final)
	}
}

func TestClassifyPlainText(t *testing.T) {
	e := NewExtractor()
	got := e.Classify("A while loop runs until its condition is false.")
	assert.Empty(t, got.Analysis)
	assert.Equal(t, "A while loop runs until its condition is false.", got.Final)
}

func TestClassifyJSONThinkingField(t *testing.T) {
	e := NewExtractor()
	raw := `{"thinking": "compare to reference 2", "blocks": []}`
	got := e.Classify(raw)
	assert.Equal(t, "compare to reference 2", got.Analysis)
	// The full object stays in final for the block parser.
	assert.Equal(t, raw, got.Final)

	// Partial value streams as it arrives.
	got = e.Classify(`{"thinking": "compar`)
	assert.Equal(t, "compar", got.Analysis)
}

func TestClassifyAppendOnly(t *testing.T) {
	e := NewExtractor()
	full := "<think>reason about scope</think>Names bind values in frames."
	var prev Set
	for i := 1; i <= len(full); i++ {
		got := e.Classify(full[:i])
		assert.True(t, strings.HasPrefix(got.Analysis, prev.Analysis),
			"analysis shrank at %d: %q -> %q", i, prev.Analysis, got.Analysis)
		assert.True(t, strings.HasPrefix(got.Final, prev.Final),
			"final shrank at %d: %q -> %q", i, prev.Final, got.Final)
		prev = got
	}
	assert.Equal(t, "reason about scope", prev.Analysis)
	assert.Equal(t, "Names bind values in frames.", prev.Final)
}
