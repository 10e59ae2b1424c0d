package blocks

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoBlockDoc = `{"thinking": "", "blocks": [` +
	`{"citations": [{"id": 1, "quote_text": "Variables are names."}], "open": true, ` +
	`"type": "paragraph", "markdown_content": "A variable is just a name.", "close": true},` +
	`{"citations": [], "open": false, ` +
	`"type": "paragraph", "markdown_content": "Nothing else is needed.", "close": false}` +
	`]}`

func collectText(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == KindTextDelta {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func boundaries(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == KindBoundary {
			out = append(out, ev)
		}
	}
	return out
}

func TestExtractCompleteDocument(t *testing.T) {
	p := NewParser(ModeChatText)
	events := p.Extract(twoBlockDoc, NewState())

	text := collectText(events)
	assert.Contains(t, text, "A variable is just a name.")
	assert.Contains(t, text, `[Reference 1: "Variables are names."]`)
	assert.Contains(t, text, "Nothing else is needed.")

	bs := boundaries(events)
	require.Len(t, bs, 2)
	require.NotNil(t, bs[0].Citation)
	assert.Equal(t, 1, bs[0].Citation.ID)
	assert.True(t, bs[0].Open)
	assert.Nil(t, bs[1].Citation)
	// The first block requested close; visible at the second boundary.
	assert.True(t, bs[1].ClosePrev)
}

func TestIncrementalMatchesOneShot(t *testing.T) {
	p := NewParser(ModeChatText)

	// One shot.
	oneShot := p.Render(twoBlockDoc)

	// One byte at a time.
	st := NewState()
	var streamed strings.Builder
	for i := 1; i <= len(twoBlockDoc); i++ {
		for _, ev := range p.Extract(twoBlockDoc[:i], st) {
			if ev.Kind == KindTextDelta {
				streamed.WriteString(ev.Text)
			}
		}
	}
	assert.Equal(t, oneShot, streamed.String())
}

// replay folds a parser event stream into display text the way a consumer
// would, counting corrections.
func replay(events []Event, text *string, corrections *int) {
	for _, ev := range events {
		switch ev.Kind {
		case KindTextDelta:
			*text += ev.Text
		case KindCorrection:
			*text = ev.Text
			*corrections++
		}
	}
}

func TestIncrementalHeadingAndCodeMatchesOneShot(t *testing.T) {
	p := NewParser(ModeChatText)

	doc := `{"blocks": [` +
		`{"type": "heading", "level": 2, "markdown_content": "Environments"},` +
		`{"type": "paragraph", "markdown_content": "Frames bind names."},` +
		`{"type": "code_block", "language": "python", "markdown_content": "x = 1"}` +
		`]}`
	oneShot := p.Render(doc)
	require.Contains(t, oneShot, "## Environments")
	require.Contains(t, oneShot, "```python\nx = 1\n```")

	st := NewState()
	var streamed string
	var corrections int
	for i := 1; i <= len(doc); i++ {
		replay(p.Extract(doc[:i], st), &streamed, &corrections)
	}
	assert.Equal(t, oneShot, streamed)
	// Metadata arrives before each block's content here, so the streamed
	// rendering never has to be retracted.
	assert.Zero(t, corrections)
}

func TestLateBlockTypeCorrected(t *testing.T) {
	p := NewParser(ModeChatText)

	// The type field trails the content, so the block streams as a
	// paragraph and only the completed document reveals the heading.
	doc := `{"blocks": [{"markdown_content": "Environments", "type": "heading", "level": 2}]}`

	st := NewState()
	var streamed string
	var corrections int
	for i := 1; i <= len(doc); i++ {
		replay(p.Extract(doc[:i], st), &streamed, &corrections)
	}
	assert.Equal(t, "## Environments", streamed)
	assert.Equal(t, p.Render(doc), streamed)
	assert.GreaterOrEqual(t, corrections, 1)
}

func TestMarkerWithheldUntilBlockCloses(t *testing.T) {
	p := NewParser(ModeChatText)
	st := NewState()

	partial := `{"blocks": [{"citations": [{"id": 2, "quote_text": "They refer to values."}], ` +
		`"open": true, "type": "paragraph", "markdown_content": "Values are referred to`
	text := collectText(p.Extract(partial, st))
	assert.Contains(t, text, "Values are referred to")
	assert.NotContains(t, text, "[Reference")

	// Closing the string releases the marker.
	closed := partial + ` by names."`
	text += collectText(p.Extract(closed, st))
	assert.Contains(t, text, `[Reference 2: "They refer to values."]`)
}

func TestEscapeSequencesDecodedAcrossFragments(t *testing.T) {
	p := NewParser(ModeChatText)
	st := NewState()

	// The buffer ends in the middle of a \n escape.
	var got strings.Builder
	first := `{"blocks": [{"type": "paragraph", "markdown_content": "line one\`
	got.WriteString(collectText(p.Extract(first, st)))
	assert.NotContains(t, got.String(), `\`)

	second := first + `nline two"}]}`
	got.WriteString(collectText(p.Extract(second, st)))
	assert.Equal(t, "line one\nline two", got.String())
}

func TestMalformedCitationsDropped(t *testing.T) {
	p := NewParser(ModeChatText)

	doc := `{"blocks": [` +
		`{"citations": [{"id": "two", "quote_text": "quoted"}], "type": "paragraph", "markdown_content": "string id"},` +
		`{"citations": [{"id": 3}], "type": "paragraph", "markdown_content": "no quote"}` +
		`]}`
	events := p.Extract(doc, NewState())
	for _, b := range boundaries(events) {
		assert.Nil(t, b.Citation)
	}
	assert.NotContains(t, collectText(events), "[Reference")
}

func TestHeadingAndCodeRendering(t *testing.T) {
	p := NewParser(ModeChatText)

	doc := `{"blocks": [` +
		`{"type": "heading", "markdown_content": "## Environments"},` +
		`{"type": "heading", "level": 3, "markdown_content": "Frames"},` +
		`{"type": "code_block", "language": "python", "markdown_content": "x = 1"}` +
		`]}`
	text := p.Render(doc)
	assert.Contains(t, text, "## Environments")
	assert.Contains(t, text, "### Frames")
	assert.Contains(t, text, "```python\nx = 1\n```")
}

func TestVoiceModeRendersUnreadable(t *testing.T) {
	doc := `{"blocks": [{"type": "math", "markdown_content": "The identity follows.", "unreadable": "e^{i\\pi} = -1"}]}`

	voice := NewParser(ModeChatVoice).Render(doc)
	assert.Contains(t, voice, "$$\ne^{i\\pi} = -1\n$$")

	text := NewParser(ModeChatText).Render(doc)
	assert.NotContains(t, text, "$$")
}

func TestTutorModeCallouts(t *testing.T) {
	doc := `{"blocks": [{"type": "definition", "markdown_content": "A frame binds names to values."}]}`

	tutor := NewParser(ModeTutorText).Render(doc)
	assert.Contains(t, tutor, "> **Definition:** A frame binds names to values.")

	chat := NewParser(ModeChatText).Render(doc)
	assert.Equal(t, "A frame binds names to values.", chat)
}

func TestExtractEmptyInput(t *testing.T) {
	p := NewParser(ModeChatText)
	assert.Empty(t, p.Extract("", NewState()))
	assert.Empty(t, p.Extract("   \n", NewState()))
}

func TestExtractSimpleAnswer(t *testing.T) {
	// Progressive prefix.
	got := ExtractSimpleAnswer(`{"answer": "Python uses indent`)
	assert.Equal(t, "Python uses indent", got.Answer)
	assert.False(t, got.Complete)

	// Complete document with contexts.
	full := `{"answer": "Python uses indentation.", "mentioned_contexts": [` +
		`{"reference": 1, "start": "Python uses", "end": "indentation."},` +
		`{"reference": 0, "start": "bad", "end": "ref"}]}`
	got = ExtractSimpleAnswer(full)
	assert.True(t, got.Complete)
	assert.Equal(t, "Python uses indentation.", got.Answer)
	require.Len(t, got.Contexts, 1)
	assert.Equal(t, 1, got.Contexts[0].Reference)
}
