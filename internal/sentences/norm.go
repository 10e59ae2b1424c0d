package sentences

import "strings"

var foldReplacer = strings.NewReplacer(
	"‘", "'", // left single quote
	"’", "'", // right single quote
	"‚", "'",
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	"„", `"`,
	"–", "-", // en dash
	"—", "-", // em dash
	"−", "-", // minus sign
	" ", " ", // no-break space
	"…", "...",
)

// Fold canonicalizes text without touching punctuation: smart quotes and
// dashes fold to ASCII, whitespace runs collapse to single spaces, letters
// lowercase. The index flattens sentences through Fold so interior
// sentence punctuation survives and a quotation crossing a sentence
// boundary still matches exactly.
func Fold(s string) string {
	s = foldReplacer.Replace(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Normalize is Fold plus stripping trailing sentence punctuation. Queries
// and the flattened text's tail go through it, so a quote ending "…values."
// matches index text ending "…values".
func Normalize(s string) string {
	return strings.TrimRightFunc(Fold(s), isTrailingPunct)
}

func isTrailingPunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ';', ':':
		return true
	}
	return false
}
