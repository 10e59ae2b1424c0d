package blocks

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/openclass-ai/citestream/internal/jsonscan"
)

var (
	citationsRe = regexp.MustCompile(`(?s)"citations"\s*:\s*\[(.*?)\]`)
	citationRe  = regexp.MustCompile(`(?s)\{[^}]*\}`)
	idRe        = regexp.MustCompile(`"id"\s*:\s*(\d+)\s*[,}]`)
	quoteRe     = regexp.MustCompile(`(?s)"quote_text"\s*:\s*"((?:\\.|[^"\\])*)"`)
	closeRe     = regexp.MustCompile(`(?i)"close"\s*:\s*(true|false)`)
	openRe      = regexp.MustCompile(`(?i)"open"\s*:\s*(true|false)`)
	typeRe      = regexp.MustCompile(`"type"\s*:\s*"([a-z_]+)"`)
	levelRe     = regexp.MustCompile(`"level"\s*:\s*(\d+)`)
	langRe      = regexp.MustCompile(`"language"\s*:\s*"((?:\\.|[^"\\])*)"`)
)

// Parser extracts display text and citation boundaries from the final
// channel. One parser instance serves one answer mode; per-answer progress
// lives in State.
type Parser struct {
	renderer Renderer
}

// NewParser returns a parser rendering with the given mode's rules.
func NewParser(mode Mode) *Parser {
	return &Parser{renderer: NewRenderer(mode)}
}

// Extract parses the accumulated final-channel text and returns the events
// not yet emitted: text deltas interleaved with block boundaries. It is
// called with the full buffer on every fragment; st remembers what was
// already produced.
func (p *Parser) Extract(text string, st *State) []Event {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	// Fast path: the document is complete.
	var doc response
	if err := json.Unmarshal([]byte(text), &doc); err == nil && doc.Blocks != nil {
		return p.extractComplete(doc, st)
	}

	// Streaming path: the object is still arriving. Scan for every
	// markdown_content field, including one with an unterminated value.
	var events []Event
	var parts []string
	prevEnd := 0

	for idx, m := range findContentFields(text) {
		region := text[prevEnd:m.start]
		if _, seen := st.opened[idx]; !seen {
			// Text accumulated so far belongs to the previous citation;
			// flush it before the boundary.
			flushDelta(&events, st, parts)

			closePrev, open := regionOpenClose(region)
			events = append(events, Event{
				Kind:      KindBoundary,
				Citation:  regionCitation(region),
				Open:      open,
				ClosePrev: closePrev,
			})
			st.opened[idx] = struct{}{}
		}

		b := regionBlock(region)
		b.MarkdownContent = jsonscan.UnescapePrefix(m.raw)
		// A block whose text field has fully closed renders with the same
		// rules the completed document will use, marker included; an
		// in-progress block renders a prefix of that.
		var rendered string
		if m.complete {
			rendered = p.renderer.RenderBlock(b)
			if rendered != "" {
				if c := regionCitation(region); c != nil {
					rendered += " " + CitationMarker(*c)
				}
			}
		} else {
			rendered = p.renderer.RenderPartial(b)
		}
		parts = append(parts, rendered)
		prevEnd = m.end
	}

	flushDelta(&events, st, parts)
	return events
}

func (p *Parser) extractComplete(doc response, st *State) []Event {
	var events []Event
	var parts []string

	for idx, b := range doc.Blocks {
		if _, seen := st.opened[idx]; !seen {
			flushDelta(&events, st, parts)
			events = append(events, Event{
				Kind:      KindBoundary,
				Citation:  b.Citation(),
				Open:      b.Open,
				ClosePrev: idx > 0 && doc.Blocks[idx-1].Close,
			})
			st.opened[idx] = struct{}{}
		}
		parts = append(parts, p.renderer.RenderBlock(b))
	}

	flushDelta(&events, st, parts)
	return events
}

// Render returns the full display text for a (possibly partial) document,
// independent of emission state. Feeding the complete document at once
// yields the same text as feeding it fragment by fragment.
func (p *Parser) Render(text string) string {
	st := NewState()
	var out strings.Builder
	for _, ev := range p.Extract(text, st) {
		switch ev.Kind {
		case KindTextDelta:
			out.WriteString(ev.Text)
		case KindCorrection:
			out.Reset()
			out.WriteString(ev.Text)
		}
	}
	return out.String()
}

// contentMatch is one markdown_content occurrence.
type contentMatch struct {
	start    int // index of the field key's opening quote
	end      int // index after the value (after closing quote if complete)
	raw      string
	complete bool
}

// findContentFields locates every markdown_content string value in order,
// tolerating an unterminated final value. A key preceded by a backslash is
// escaped text, not a field.
func findContentFields(text string) []contentMatch {
	const key = `"markdown_content"`
	var out []contentMatch
	from := 0
	for {
		rel := strings.Index(text[from:], key)
		if rel < 0 {
			return out
		}
		at := from + rel
		from = at + len(key)
		if at > 0 && text[at-1] == '\\' {
			continue
		}
		i := skipSpace(text, at+len(key))
		if i >= len(text) || text[i] != ':' {
			continue
		}
		i = skipSpace(text, i+1)
		if i >= len(text) || text[i] != '"' {
			continue
		}
		tok := jsonscan.ScanString(text, i)
		out = append(out, contentMatch{start: at, end: tok.Next, raw: tok.Raw, complete: tok.Complete})
		from = tok.Next
	}
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r' || s[i] == '\n') {
		i++
	}
	return i
}

// flushDelta appends a text-delta event when the rendered text has grown.
// When the new rendering is not an extension of what was already emitted
// (block metadata arriving late, a decoration only visible at completion),
// a correction carrying the full text replaces the emitted stream instead
// of slicing a garbled delta out of it.
func flushDelta(events *[]Event, st *State, parts []string) {
	current := joinBlocks(parts)
	if current == "" || current == st.prevRendered {
		return
	}
	if !strings.HasPrefix(current, st.prevRendered) {
		st.prevRendered = current
		*events = append(*events, Event{Kind: KindCorrection, Text: current})
		return
	}
	delta := current[len(st.prevRendered):]
	st.prevRendered = current
	if strings.TrimSpace(delta) == "" {
		return
	}
	*events = append(*events, Event{Kind: KindTextDelta, Text: delta})
}

// regionBlock reads the current block's rendering metadata from the JSON
// text preceding its markdown_content field. Like regionOpenClose, the
// region straddles two blocks, so the last match of each field belongs to
// the current one. Missing fields leave the zero value, rendering as a
// plain paragraph until the completed document says otherwise.
func regionBlock(region string) Block {
	var b Block
	if ms := typeRe.FindAllStringSubmatch(region, -1); len(ms) > 0 {
		b.Type = ms[len(ms)-1][1]
	}
	if ms := levelRe.FindAllStringSubmatch(region, -1); len(ms) > 0 {
		for _, d := range ms[len(ms)-1][1] {
			b.Level = b.Level*10 + int(d-'0')
		}
	}
	if ms := langRe.FindAllStringSubmatch(region, -1); len(ms) > 0 {
		b.Language = jsonscan.UnescapePrefix(ms[len(ms)-1][1])
	}
	return b
}

// regionCitation extracts the first valid citation from the JSON text
// between two blocks.
func regionCitation(region string) *Citation {
	arr := citationsRe.FindStringSubmatch(region)
	if arr == nil {
		return nil
	}
	obj := citationRe.FindString(arr[1])
	if obj == "" {
		return nil
	}
	idm := idRe.FindStringSubmatch(obj)
	if idm == nil {
		return nil
	}
	id := 0
	for _, d := range idm[1] {
		id = id*10 + int(d-'0')
	}
	if id <= 0 {
		return nil
	}
	qm := quoteRe.FindStringSubmatch(obj)
	if qm == nil {
		return nil
	}
	quote := strings.TrimSpace(jsonscan.UnescapePrefix(qm[1]))
	if quote == "" {
		return nil
	}
	return &Citation{ID: id, Quote: quote}
}

// regionOpenClose reads the previous block's close flag and the current
// block's open flag from the region between two markdown_content fields.
// The region looks like:
//
//	...prev","close":<prev>},{"citations":[...],"open":<curr>,"markdown...
//
// so the first close match belongs to the previous block and the last open
// match to the current one.
func regionOpenClose(region string) (closePrev, open bool) {
	if m := closeRe.FindStringSubmatch(region); m != nil {
		closePrev = strings.EqualFold(m[1], "true")
	}
	if ms := openRe.FindAllStringSubmatch(region, -1); len(ms) > 0 {
		open = strings.EqualFold(ms[len(ms)-1][1], "true")
	}
	return closePrev, open
}
