// Package sentences builds per-document searchable indexes from layout
// analysis output. An Index is immutable once built and safe for concurrent
// readers.
package sentences

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Span is one typed fragment of a layout line with its own rectangle.
type Span struct {
	Content string `json:"content"`
	BBox    *Rect  `json:"bbox,omitempty"`
}

// LayoutRecord is one unit of layout-analysis output. Three shapes arrive
// on the wire: span-per-line ({spans, page_index, block_type}), flat
// ({content, bbox, page_index, block_type}), and timestamped transcript
// ({text, start, end, speaker}) for audio and video sources, where the
// timestamp stands in for the page and there is no rectangle.
type LayoutRecord struct {
	Spans     []Span `json:"spans,omitempty"`
	Content   string `json:"content,omitempty"`
	BBox      *Rect  `json:"bbox,omitempty"`
	BBoxes    []Rect `json:"bboxes,omitempty"`
	PageIndex int    `json:"page_index"`
	BlockType string `json:"block_type,omitempty"`

	Text    string  `json:"text,omitempty"`
	Start   float64 `json:"start,omitempty"`
	End     float64 `json:"end,omitempty"`
	Speaker string  `json:"speaker,omitempty"`
}

// SentenceRecord is one indexed sentence: its text, primary rectangle, all
// rectangles when it spans multiple visual lines, page, and block type.
// Created at ingestion time, never mutated afterward.
type SentenceRecord struct {
	Content   string `json:"content"`
	BBox      *Rect  `json:"bbox,omitempty"`
	BBoxes    []Rect `json:"bboxes,omitempty"`
	PageIndex int    `json:"page_index"`
	BlockType string `json:"block_type,omitempty"`
}

// entry associates one sentence with its ranges in the two flattened views.
type entry struct {
	normStart, normEnd int
	dispStart, dispEnd int
	record             int
}

// Index is the flattened, searchable view of one document. Searching
// happens over normalized text; offsets map back through the position map
// to display text, rectangles, and pages.
type Index struct {
	records    []SentenceRecord
	display    string
	normalized string
	entries    []entry
}

// Region is the layout detail behind one matched character range: the
// covering display text, the rectangles merged per page, and the first
// contributing sentence's page and block type.
type Region struct {
	Text      string
	BBox      *Rect
	BBoxes    []Rect
	PageIndex int
	BlockType string
}

// Build flattens layout records into an index. Records with no usable text
// are skipped; an index over zero sentences is valid and matches nothing.
func Build(records []LayoutRecord) *Index {
	x := &Index{}
	var disp, norm strings.Builder

	add := func(content string, bbox *Rect, bboxes []Rect, page int, blockType string) {
		content = strings.Join(strings.Fields(content), " ")
		// Fold, not Normalize: interior punctuation must survive the
		// flattening or queries spanning sentence ends stop matching.
		normalized := Fold(content)
		if content == "" || strings.TrimRightFunc(normalized, isTrailingPunct) == "" {
			return
		}
		if disp.Len() > 0 {
			disp.WriteByte(' ')
			norm.WriteByte(' ')
		}
		e := entry{
			dispStart: disp.Len(),
			normStart: norm.Len(),
			record:    len(x.records),
		}
		disp.WriteString(content)
		norm.WriteString(normalized)
		e.dispEnd = disp.Len()
		e.normEnd = norm.Len()

		if bbox == nil && len(bboxes) > 0 {
			bbox = &bboxes[0]
		}
		x.entries = append(x.entries, e)
		x.records = append(x.records, SentenceRecord{
			Content:   content,
			BBox:      bbox,
			BBoxes:    bboxes,
			PageIndex: page,
			BlockType: blockType,
		})
	}

	for _, rec := range records {
		switch {
		case len(rec.Spans) > 0:
			for _, sp := range rec.Spans {
				add(sp.Content, sp.BBox, nil, rec.PageIndex, rec.BlockType)
			}
		case rec.Content != "":
			add(rec.Content, rec.BBox, rec.BBoxes, rec.PageIndex, rec.BlockType)
		case rec.Text != "":
			blockType := rec.BlockType
			if blockType == "" {
				blockType = "transcript"
			}
			add(rec.Text, nil, nil, int(rec.Start), blockType)
		}
	}

	x.display = disp.String()
	// Only the very end of the flattened text drops its punctuation, so
	// index tail and Normalize'd query tails line up.
	x.normalized = strings.TrimRightFunc(norm.String(), isTrailingPunct)
	if n := len(x.entries); n > 0 && x.entries[n-1].normEnd > len(x.normalized) {
		x.entries[n-1].normEnd = len(x.normalized)
	}
	return x
}

// BuildFromJSON decodes a layout-record array and builds its index.
func BuildFromJSON(data []byte) (*Index, error) {
	var records []LayoutRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode layout records: %w", err)
	}
	return Build(records), nil
}

// Text returns the normalized searchable text. Resolver queries must be
// normalized with Normalize before searching it.
func (x *Index) Text() string { return x.normalized }

// Len returns the number of indexed sentences.
func (x *Index) Len() int { return len(x.records) }

// Sentences returns the indexed records in document order.
func (x *Index) Sentences() []SentenceRecord {
	out := make([]SentenceRecord, len(x.records))
	copy(out, x.records)
	return out
}

// Region maps a [start, end) byte range of the normalized text back to the
// sentences that produced it. Rectangles of the contributing sentences are
// merged per page; the first page's first merged rectangle is the primary.
// Returns false when the range touches no sentence.
func (x *Index) Region(start, end int) (Region, bool) {
	if start < 0 || end > len(x.normalized) || start >= end {
		return Region{}, false
	}

	var hit []entry
	for _, e := range x.entries {
		if e.normStart < end && start < e.normEnd {
			hit = append(hit, e)
		}
	}
	if len(hit) == 0 {
		return Region{}, false
	}

	first := x.records[hit[0].record]
	reg := Region{
		Text:      x.display[hit[0].dispStart:hit[len(hit)-1].dispEnd],
		PageIndex: first.PageIndex,
		BlockType: first.BlockType,
	}

	// Merge rectangles page by page, keeping page order of first
	// appearance.
	var pages []int
	byPage := map[int][]Rect{}
	for _, e := range hit {
		rec := x.records[e.record]
		rects := rec.BBoxes
		if len(rects) == 0 && rec.BBox != nil {
			rects = []Rect{*rec.BBox}
		}
		if len(rects) == 0 {
			continue
		}
		if _, ok := byPage[rec.PageIndex]; !ok {
			pages = append(pages, rec.PageIndex)
		}
		byPage[rec.PageIndex] = append(byPage[rec.PageIndex], rects...)
	}
	for _, p := range pages {
		reg.BBoxes = append(reg.BBoxes, MergeRects(byPage[p])...)
	}
	if len(reg.BBoxes) > 0 {
		bb := reg.BBoxes[0]
		reg.BBox = &bb
	}
	return reg, true
}
