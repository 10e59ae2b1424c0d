package blocks

import (
	"encoding/json"

	"github.com/openclass-ai/citestream/internal/jsonscan"
)

// SimpleAnswer is the progressive view of the simple-JSON answer format:
//
//	{"answer": "...", "mentioned_contexts": [{"reference": 1, "start": "...", "end": "..."}]}
//
// Answer carries the clean text extracted so far, with no JSON syntax.
// Contexts is populated only once the document parses completely.
type SimpleAnswer struct {
	Answer   string
	Complete bool
	Contexts []MentionedContext
}

type simpleDoc struct {
	Answer            string             `json:"answer"`
	MentionedContexts []MentionedContext `json:"mentioned_contexts"`
}

// ExtractSimpleAnswer extracts the answer field from a streaming simple-JSON
// document, hiding braces, quotes, and field names from the caller.
func ExtractSimpleAnswer(text string) SimpleAnswer {
	var doc simpleDoc
	if err := json.Unmarshal([]byte(text), &doc); err == nil && doc.Answer != "" {
		contexts := doc.MentionedContexts[:0:0]
		for _, c := range doc.MentionedContexts {
			if c.Reference > 0 && c.Start != "" && c.End != "" {
				contexts = append(contexts, c)
			}
		}
		return SimpleAnswer{Answer: doc.Answer, Complete: true, Contexts: contexts}
	}

	// Progressive path: pull the answer value's prefix out of the partial
	// object.
	if v, ok := jsonscan.TopLevelStringField(text, "answer"); ok {
		return SimpleAnswer{Answer: v}
	}
	return SimpleAnswer{}
}
