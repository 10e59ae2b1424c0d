// Package references maps cited reference numbers back to the retrieval
// list supplied with the request. Numbers are 1-indexed positions in that
// list; anything outside it is dropped, never fabricated.
package references

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/openclass-ai/citestream/internal/resolver"
)

// Reference is one entry of the ordered retrieval list, as supplied by the
// host alongside the prompt.
type Reference struct {
	TopicPath  string `json:"topic_path,omitempty"`
	URL        string `json:"url,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	FileID     string `json:"file_id,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
}

// Resolved pairs a cited number with its retrieval metadata.
type Resolved struct {
	Number    int       `json:"number"`
	Reference Reference `json:"reference"`
}

// Enhanced is a resolved reference together with the sentence-level detail
// located for its quotations. Sentences may be empty when no quotation
// could be matched; the reference itself still appears in the plain list.
type Enhanced struct {
	Number    int                         `json:"number"`
	Reference Reference                   `json:"reference"`
	Sentences []resolver.ResolvedCitation `json:"sentences"`
}

// Reconcile maps cited numbers onto the reference list. Numbers outside
// [1, len(list)] are dropped, duplicates collapse, and the output is in
// ascending numeric order.
func Reconcile(cited []int, list []Reference) []Resolved {
	seen := map[int]struct{}{}
	var nums []int
	for _, n := range cited {
		if n < 1 || n > len(list) {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		nums = append(nums, n)
	}
	sort.Ints(nums)

	out := make([]Resolved, 0, len(nums))
	for _, n := range nums {
		out = append(out, Resolved{Number: n, Reference: list[n-1]})
	}
	return out
}

// Enhance groups resolved citations under their references. Only references
// with at least one located sentence are returned, in ascending order.
func Enhance(resolved []Resolved, citations []resolver.ResolvedCitation) []Enhanced {
	byRef := map[int][]resolver.ResolvedCitation{}
	for _, c := range citations {
		byRef[c.Reference] = append(byRef[c.Reference], c)
	}

	var out []Enhanced
	for _, r := range resolved {
		if sents := byRef[r.Number]; len(sents) > 0 {
			out = append(out, Enhanced{Number: r.Number, Reference: r.Reference, Sentences: sents})
		}
	}
	return out
}

// markerRe matches inline citation markers in display text, both the
// quoted form `[Reference 3: "..."]` and the bare list form
// `[Reference: 1, 2]`.
var (
	markerRe = regexp.MustCompile(`(?i)\[\s*ref(?:erence)?s?\s*:?\s*((?:\d+\s*[,&]?\s*)+)`)
	digitsRe = regexp.MustCompile(`\d+`)
)

// ExtractMarkers pulls cited numbers out of rendered text. Fallback for
// answers that carry markers but no structured citation objects.
func ExtractMarkers(text string) []int {
	var out []int
	seen := map[int]struct{}{}
	for _, m := range markerRe.FindAllStringSubmatch(text, -1) {
		for _, f := range digitsRe.FindAllString(m[1], -1) {
			n, err := strconv.Atoi(f)
			if err != nil || n < 1 {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}
