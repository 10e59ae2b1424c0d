// Package jsonscan provides best-effort scanning of JSON documents that are
// still arriving. Model output streams token by token, so a document may end
// mid-string, mid-escape, or mid-object; the scanner extracts what is
// already unambiguous and never reports an error for truncation.
package jsonscan

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// StringToken is the result of scanning a JSON string literal.
type StringToken struct {
	// Raw holds the still-escaped contents between the quotes.
	Raw string
	// Next is the index immediately after the closing quote, or the end of
	// the input if the string is incomplete.
	Next int
	// Complete reports whether a closing quote was found.
	Complete bool
}

// ScanString scans a JSON string literal whose opening quote sits at
// quoteIdx. The input may be truncated anywhere inside the string.
func ScanString(text string, quoteIdx int) StringToken {
	var raw strings.Builder
	i := quoteIdx + 1
	escaped := false
	for i < len(text) {
		c := text[i]
		if escaped {
			raw.WriteByte(c)
			escaped = false
			i++
			continue
		}
		switch c {
		case '\\':
			raw.WriteByte(c)
			escaped = true
			i++
		case '"':
			return StringToken{Raw: raw.String(), Next: i + 1, Complete: true}
		default:
			raw.WriteByte(c)
			i++
		}
	}
	return StringToken{Raw: raw.String(), Next: i}
}

// UnescapePrefix decodes the escape sequences of a possibly-truncated JSON
// string body. Every complete escape is decoded; a trailing incomplete one
// (a lone backslash, or \u with fewer than four hex digits) is dropped
// rather than treated as an error.
func UnescapePrefix(raw string) string {
	if raw == "" {
		return ""
	}
	var out strings.Builder
	out.Grow(len(raw))
	i := 0
	for i < len(raw) {
		c := raw[i]
		if c != '\\' {
			out.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(raw) {
			break
		}
		switch esc := raw[i+1]; esc {
		case '"', '\\', '/':
			out.WriteByte(esc)
			i += 2
		case 'b':
			out.WriteByte('\b')
			i += 2
		case 'f':
			out.WriteByte('\f')
			i += 2
		case 'n':
			out.WriteByte('\n')
			i += 2
		case 'r':
			out.WriteByte('\r')
			i += 2
		case 't':
			out.WriteByte('\t')
			i += 2
		case 'u':
			if i+6 > len(raw) {
				return out.String()
			}
			n, err := strconv.ParseUint(raw[i+2:i+6], 16, 32)
			if err != nil {
				return out.String()
			}
			r := rune(n)
			// Surrogate pairs decode only when both halves have arrived.
			if utf16.IsSurrogate(r) {
				if i+12 <= len(raw) && raw[i+6] == '\\' && raw[i+7] == 'u' {
					if n2, err := strconv.ParseUint(raw[i+8:i+12], 16, 32); err == nil {
						if paired := utf16.DecodeRune(r, rune(n2)); paired != 0xFFFD {
							out.WriteRune(paired)
							i += 12
							continue
						}
					}
				}
				return out.String()
			}
			out.WriteRune(r)
			i += 6
		default:
			// Unknown escape: emit the escaped character as-is.
			out.WriteByte(esc)
			i += 2
		}
	}
	return out.String()
}

// TopLevelStringField extracts the value of a top-level string field from a
// possibly-partial JSON object. It returns the unescaped prefix of the value
// and true when the field is present, even if the value has not finished
// arriving. A non-object input, or an object without the field so far,
// returns ok=false.
func TopLevelStringField(text, field string) (string, bool) {
	stripped := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(stripped, "{") {
		return "", false
	}

	depth := 0
	i := 0
	for i < len(stripped) {
		switch c := stripped[i]; c {
		case '"':
			tok := ScanString(stripped, i)
			if !tok.Complete {
				return "", false
			}
			key := UnescapePrefix(tok.Raw)
			cur := skipSpace(stripped, tok.Next)
			// A key only when followed by ':' directly under the root object.
			if depth == 1 && cur < len(stripped) && stripped[cur] == ':' {
				cur = skipSpace(stripped, cur+1)
				if key == field {
					if cur >= len(stripped) || stripped[cur] != '"' {
						return "", true
					}
					val := ScanString(stripped, cur)
					return UnescapePrefix(val.Raw), true
				}
			}
			i = tok.Next
		case '{':
			depth++
			i++
		case '}':
			if depth > 0 {
				depth--
			}
			i++
		default:
			i++
		}
	}
	return "", false
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r' || s[i] == '\n') {
		i++
	}
	return i
}
