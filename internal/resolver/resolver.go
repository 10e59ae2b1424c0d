// Package resolver locates quoted citation fragments inside a document's
// sentence index and maps them to page rectangles. Matching is two-stage:
// find the quotation's opening words, then its closing words within a
// bounded window after them, each by exact search with a fuzzy fallback.
package resolver

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/openclass-ai/citestream/internal/sentences"
)

const (
	// defaultThreshold is the minimum similarity for a fuzzy window.
	defaultThreshold = 0.75
	// defaultEndWindow bounds how far past the opening words the closing
	// words may land, in bytes of normalized text.
	defaultEndWindow = 3000
)

// Quotation is one citation to locate: the reference it belongs to and the
// opening and closing words of the quoted passage.
type Quotation struct {
	Reference int
	Start     string
	End       string
}

// ResolvedCitation is a located quotation: the covering source text, the
// merged rectangles, and a confidence in [0, 1] where 1.0 means both ends
// matched exactly.
type ResolvedCitation struct {
	Reference  int              `json:"reference"`
	Text       string           `json:"text"`
	BBox       *sentences.Rect  `json:"bbox,omitempty"`
	BBoxes     []sentences.Rect `json:"bboxes,omitempty"`
	PageIndex  int              `json:"page_index"`
	BlockType  string           `json:"block_type,omitempty"`
	Confidence float64          `json:"confidence"`
}

// Resolver holds the matching parameters. The zero value is not usable;
// use New.
type Resolver struct {
	threshold float64
	endWindow int
}

// New returns a resolver with the default threshold and end window.
func New() *Resolver {
	return &Resolver{threshold: defaultThreshold, endWindow: defaultEndWindow}
}

// NewTuned returns a resolver with explicit parameters. Out-of-range values
// fall back to the defaults.
func NewTuned(threshold float64, endWindow int) *Resolver {
	r := New()
	if threshold > 0 && threshold <= 1 {
		r.threshold = threshold
	}
	if endWindow > 0 {
		r.endWindow = endWindow
	}
	return r
}

// Resolve locates one quotation in the index. Returns false when either
// end of the quotation cannot be matched above the similarity threshold.
func (r *Resolver) Resolve(q Quotation, idx *sentences.Index) (ResolvedCitation, bool) {
	rc, _, ok := r.resolveRange(q, idx, nil)
	return rc, ok
}

// ResolveBatch locates a set of quotations against one document. A match
// whose character range overlaps an earlier accepted match is dropped: the
// same source text is never claimed by two quotations. Unresolvable
// quotations are skipped, not errors.
func (r *Resolver) ResolveBatch(qs []Quotation, idx *sentences.Index) []ResolvedCitation {
	var out []ResolvedCitation
	var used [][2]int
	for _, q := range qs {
		rc, rng, ok := r.resolveRange(q, idx, used)
		if !ok {
			continue
		}
		used = append(used, rng)
		out = append(out, rc)
	}
	return out
}

func (r *Resolver) resolveRange(q Quotation, idx *sentences.Index, used [][2]int) (ResolvedCitation, [2]int, bool) {
	text := idx.Text()
	start := sentences.Normalize(q.Start)
	end := sentences.Normalize(q.End)
	if start == "" || text == "" {
		return ResolvedCitation{}, [2]int{}, false
	}

	s0, s1, startConf, ok := r.locate(text, start, 0, len(text))
	if !ok {
		return ResolvedCitation{}, [2]int{}, false
	}

	e1, conf := s1, startConf
	if end != "" && end != start {
		hi := min(len(text), s0+r.endWindow)
		_, me, endConf, ok := r.locate(text, end, s0, hi)
		if !ok || me <= s0 {
			return ResolvedCitation{}, [2]int{}, false
		}
		e1 = me
		conf = startConf * endConf
	}

	rng := [2]int{s0, e1}
	for _, u := range used {
		if u[0] < rng[1] && rng[0] < u[1] {
			return ResolvedCitation{}, [2]int{}, false
		}
	}

	reg, ok := idx.Region(s0, e1)
	if !ok {
		return ResolvedCitation{}, [2]int{}, false
	}
	// Transcript sentences carry a timestamp instead of rectangles; for any
	// paged source a match without rectangles has nothing to highlight.
	if len(reg.BBoxes) == 0 && reg.BlockType != "transcript" {
		return ResolvedCitation{}, [2]int{}, false
	}

	return ResolvedCitation{
		Reference:  q.Reference,
		Text:       reg.Text,
		BBox:       reg.BBox,
		BBoxes:     reg.BBoxes,
		PageIndex:  reg.PageIndex,
		BlockType:  reg.BlockType,
		Confidence: conf,
	}, rng, true
}

// locate finds needle in text[from:to] and returns its byte range and
// stage confidence. Exact substring search first; otherwise the best
// needle-length sliding window by similarity ratio, accepted only at or
// above the threshold.
func (r *Resolver) locate(text, needle string, from, to int) (int, int, float64, bool) {
	if from < 0 {
		from = 0
	}
	if to > len(text) {
		to = len(text)
	}
	if from >= to {
		return 0, 0, 0, false
	}
	window := text[from:to]

	if i := strings.Index(window, needle); i >= 0 {
		return from + i, from + i + len(needle), 1.0, true
	}

	// Fuzzy fallback over rune-aligned windows.
	runes := []rune(window)
	nlen := len([]rune(needle))
	if nlen == 0 || nlen > len(runes) {
		return 0, 0, 0, false
	}
	// Byte offset of each rune within window.
	offs := make([]int, len(runes)+1)
	pos := 0
	for i, rn := range runes {
		offs[i] = pos
		pos += utf8.RuneLen(rn)
	}
	offs[len(runes)] = len(window)

	best, bestAt := 0.0, -1
	for i := 0; i+nlen <= len(runes); i++ {
		cand := window[offs[i]:offs[i+nlen]]
		if sim := similarity(cand, needle, nlen); sim > best {
			best, bestAt = sim, i
		}
	}
	if bestAt < 0 || best < r.threshold {
		return 0, 0, 0, false
	}
	return from + offs[bestAt], from + offs[bestAt+nlen], best, true
}

// similarity is the normalized levenshtein ratio between two strings.
func similarity(a, b string, blen int) float64 {
	alen := len([]rune(a))
	longest := max(alen, blen)
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}
