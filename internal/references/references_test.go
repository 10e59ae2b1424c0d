package references

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclass-ai/citestream/internal/resolver"
)

func twoRefs() []Reference {
	return []Reference{
		{TopicPath: "cs61a/variables", FileID: "f-1", ChunkIndex: 0},
		{TopicPath: "cs61a/frames", FileID: "f-2", ChunkIndex: 3},
	}
}

func TestReconcileDropsOutOfRange(t *testing.T) {
	got := Reconcile([]int{1, 2, 5, 0}, twoRefs())
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Number)
	assert.Equal(t, "f-1", got[0].Reference.FileID)
	assert.Equal(t, 2, got[1].Number)
}

func TestReconcileSortsAndDeduplicates(t *testing.T) {
	got := Reconcile([]int{2, 1, 2, 1}, twoRefs())
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Number)
	assert.Equal(t, 2, got[1].Number)
}

func TestReconcileEmptyList(t *testing.T) {
	assert.Empty(t, Reconcile([]int{1, 2}, nil))
	assert.Empty(t, Reconcile(nil, twoRefs()))
}

func TestEnhanceGroupsSentences(t *testing.T) {
	resolved := Reconcile([]int{1, 2}, twoRefs())
	citations := []resolver.ResolvedCitation{
		{Reference: 2, Text: "A frame binds names.", Confidence: 1.0},
		{Reference: 2, Text: "Frames nest.", Confidence: 0.9},
		{Reference: 9, Text: "not in the list", Confidence: 1.0},
	}

	got := Enhance(resolved, citations)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Number)
	assert.Len(t, got[0].Sentences, 2)
}

func TestExtractMarkers(t *testing.T) {
	text := `Variables are names [Reference 1: "Variables are names."] and ` +
		`frames bind them [Reference: 2, 3]. See also [ref 4] but not fig [5].`
	assert.Equal(t, []int{1, 2, 3, 4}, ExtractMarkers(text))

	assert.Empty(t, ExtractMarkers("no markers here"))
	assert.Empty(t, ExtractMarkers("a preference: 7 is not a marker"))
}
