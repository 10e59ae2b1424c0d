package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openclass-ai/citestream/internal/references"
	"github.com/openclass-ai/citestream/internal/sentences"
)

type staticIndexes map[string]*sentences.Index

func (s staticIndexes) IndexFor(_ context.Context, ref references.Reference) (*sentences.Index, error) {
	return s[ref.FileID], nil
}

func testRefs() []references.Reference {
	return []references.Reference{
		{TopicPath: "cs61a/variables", FileID: "f-1", ChunkIndex: 0},
		{TopicPath: "cs61a/frames", FileID: "f-2", ChunkIndex: 1},
	}
}

func testIndexes() staticIndexes {
	return staticIndexes{
		"f-1": sentences.Build([]sentences.LayoutRecord{
			{Content: "Variables are names.", BBox: &sentences.Rect{X0: 0, Y0: 0, X1: 100, Y1: 10}, PageIndex: 1, BlockType: "text"},
		}),
		"f-2": sentences.Build([]sentences.LayoutRecord{
			{Content: "Python uses indentation.", BBox: &sentences.Rect{X0: 0, Y0: 0, X1: 100, Y1: 10}, PageIndex: 4, BlockType: "text"},
		}),
	}
}

func ofType(events []Event, t EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func finalText(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == TypeTextDelta && ev.Channel == ChannelFinal {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func TestBlockAnswerEndToEnd(t *testing.T) {
	doc := `{"thinking": "", "blocks": [{"citations": [{"id": 1, "quote_text": "Variables are names."}], ` +
		`"open": true, "type": "paragraph", "markdown_content": "A variable is just a name.", "close": true}]}`

	d := New(Config{
		AnswerID:   "a-1",
		Format:     FormatBlocks,
		References: testRefs(),
		Indexes:    testIndexes(),
		Logger:     zap.NewNop(),
	})

	var events []Event
	for i := 0; i < len(doc); i += 7 {
		events = append(events, d.Feed(doc[i:min(i+7, len(doc))])...)
	}
	events = append(events, d.Finish(context.Background())...)

	text := finalText(events)
	assert.Contains(t, text, "A variable is just a name.")
	assert.Contains(t, text, `[Reference 1: "Variables are names."]`)

	opens := ofType(events, TypeCitationOpen)
	closes := ofType(events, TypeCitationClose)
	require.Len(t, opens, 1)
	require.Len(t, closes, 1)
	assert.Equal(t, 1, opens[0].Ref)
	assert.Equal(t, "Variables are names.", opens[0].Quote)

	refs := ofType(events, TypeReferences)
	require.Len(t, refs, 1)
	require.Len(t, refs[0].References, 1)
	assert.Equal(t, "f-1", refs[0].References[0].Reference.FileID)

	enh := ofType(events, TypeEnhanced)
	require.Len(t, enh, 1)
	require.Len(t, enh[0].Enhanced, 1)
	require.Len(t, enh[0].Enhanced[0].Sentences, 1)
	sent := enh[0].Enhanced[0].Sentences[0]
	assert.Equal(t, 1.0, sent.Confidence)
	assert.Equal(t, "Variables are names.", sent.Text)

	// done terminates the sequence, exactly once.
	require.NotEmpty(t, events)
	assert.Equal(t, TypeDone, events[len(events)-1].Type)
	assert.Len(t, ofType(events, TypeDone), 1)

	// Every event carries the answer id.
	for _, ev := range events {
		assert.Equal(t, "a-1", ev.AnswerID)
	}
}

func TestAnalysisChannelSeparated(t *testing.T) {
	d := New(Config{AnswerID: "a-2", Format: FormatPlain})

	events := d.Feed("<think>weighing the options")
	events = append(events, d.Feed("</think>The answer is four.")...)
	events = append(events, d.Finish(context.Background())...)

	var analysis strings.Builder
	for _, ev := range ofType(events, TypeTextDelta) {
		if ev.Channel == ChannelAnalysis {
			analysis.WriteString(ev.Text)
		}
	}
	assert.Equal(t, "weighing the options", analysis.String())
	assert.Equal(t, "The answer is four.", finalText(events))
}

func analysisText(events []Event) string {
	var b strings.Builder
	for _, ev := range ofType(events, TypeTextDelta) {
		if ev.Channel == ChannelAnalysis {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func TestAnalysisDeltaWithheldOnPartialMarker(t *testing.T) {
	d := New(Config{AnswerID: "a-9", Format: FormatPlain})

	events := d.Feed("<think>compare with reference 1,")
	assert.Empty(t, analysisText(events))

	events = d.Feed(" and 2] so the claim holds")
	assert.Equal(t, "compare with reference 1, and 2] so the claim holds", analysisText(events))
}

func TestAnalysisFlushedAtFinish(t *testing.T) {
	d := New(Config{AnswerID: "a-10", Format: FormatPlain})
	require.Empty(t, analysisText(d.Feed("<think>see reference 1,")))

	events := d.Finish(context.Background())
	assert.Equal(t, "see reference 1,", analysisText(events))
}

func TestBlockRenderingDivergenceCorrected(t *testing.T) {
	// The heading's type field trails its content, so the text streams as
	// a paragraph until the completed document re-renders it.
	doc := `{"blocks": [{"markdown_content": "Environments", "type": "heading", "level": 2}]}`

	d := New(Config{AnswerID: "a-11", Format: FormatBlocks})
	var events []Event
	for i := 0; i < len(doc); i += 7 {
		events = append(events, d.Feed(doc[i:min(i+7, len(doc))])...)
	}

	corrections := ofType(events, TypeCorrection)
	require.NotEmpty(t, corrections)
	assert.Equal(t, "## Environments", corrections[len(corrections)-1].Text)
	assert.Equal(t, "## Environments", d.Rendered())
}

func TestGuardWithholdsPartialMarker(t *testing.T) {
	d := New(Config{AnswerID: "a-3", Format: FormatPlain, References: testRefs()})

	events := d.Feed("Variables are names [Reference: 1,")
	assert.Empty(t, ofType(events, TypeTextDelta))

	events = d.Feed("2] and nothing else.")
	deltas := ofType(events, TypeTextDelta)
	require.Len(t, deltas, 1)
	assert.Equal(t, "Variables are names [Reference: 1,2] and nothing else.", deltas[0].Text)

	done := d.Finish(context.Background())
	refs := ofType(done, TypeReferences)
	require.Len(t, refs, 1)
	require.Len(t, refs[0].References, 2)
	assert.Equal(t, 1, refs[0].References[0].Number)
	assert.Equal(t, 2, refs[0].References[1].Number)
}

func TestFinishFlushesWithheldText(t *testing.T) {
	d := New(Config{AnswerID: "a-4", Format: FormatPlain})

	assert.Empty(t, ofType(d.Feed("trailing [Reference: 3,"), TypeTextDelta))

	events := d.Finish(context.Background())
	deltas := ofType(events, TypeTextDelta)
	require.Len(t, deltas, 1)
	assert.Equal(t, "trailing [Reference: 3,", deltas[0].Text)
}

func TestSimpleAnswerFormat(t *testing.T) {
	doc := `{"answer": "Python uses indentation.", "mentioned_contexts": ` +
		`[{"reference": 2, "start": "Python uses", "end": "indentation."}]}`

	d := New(Config{
		AnswerID:   "a-5",
		Format:     FormatSimple,
		References: testRefs(),
		Indexes:    testIndexes(),
	})

	var events []Event
	events = append(events, d.Feed(doc[:30])...)
	events = append(events, d.Feed(doc[30:])...)
	events = append(events, d.Finish(context.Background())...)

	assert.Equal(t, "Python uses indentation.", finalText(events))
	assert.Empty(t, ofType(events, TypeCorrection))

	refs := ofType(events, TypeReferences)
	require.Len(t, refs, 1)
	require.Len(t, refs[0].References, 1)
	assert.Equal(t, 2, refs[0].References[0].Number)

	enh := ofType(events, TypeEnhanced)
	require.Len(t, enh, 1)
	require.Len(t, enh[0].Enhanced, 1)
	assert.Equal(t, 4, enh[0].Enhanced[0].Sentences[0].PageIndex)
}

func TestPlainStreamCorrectedWhenStructured(t *testing.T) {
	doc := `{"answer": "Frames bind names to values.", "mentioned_contexts": []}`

	d := New(Config{AnswerID: "a-6", Format: FormatPlain, References: testRefs()})
	events := d.Feed(doc)
	events = append(events, d.Finish(context.Background())...)

	// The raw JSON streamed through, then the parsed answer replaced it.
	corrections := ofType(events, TypeCorrection)
	require.Len(t, corrections, 1)
	assert.Equal(t, "Frames bind names to values.", corrections[0].Text)
	assert.Equal(t, "Frames bind names to values.", d.Rendered())
}

func TestCancelClosesOpenCitation(t *testing.T) {
	doc := `{"blocks": [{"citations": [{"id": 1, "quote_text": "Variables are names."}], ` +
		`"open": true, "type": "paragraph", "markdown_content": "A name is bound`

	d := New(Config{AnswerID: "a-7", Format: FormatBlocks, References: testRefs()})
	events := d.Feed(doc)
	require.Len(t, ofType(events, TypeCitationOpen), 1)

	events = d.Cancel()
	closes := ofType(events, TypeCitationClose)
	require.Len(t, closes, 1)
	assert.Equal(t, 1, closes[0].Ref)
	assert.Equal(t, TypeDone, events[len(events)-1].Type)

	// Sealed after cancel.
	assert.Empty(t, d.Feed("more"))
	assert.Empty(t, d.Finish(context.Background()))
}

func TestFinishIdempotent(t *testing.T) {
	d := New(Config{AnswerID: "a-8", Format: FormatPlain})
	d.Feed("hello")
	first := d.Finish(context.Background())
	assert.NotEmpty(t, first)
	assert.Empty(t, d.Finish(context.Background()))
}
