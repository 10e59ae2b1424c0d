package blocks

import (
	"fmt"
	"strings"
)

// Mode selects the rendering rules for an answer. The set is closed: chat
// and tutor surfaces, each with a text or voice delivery.
type Mode int

const (
	ModeChatText Mode = iota
	ModeChatVoice
	ModeTutorText
	ModeTutorVoice
)

func (m Mode) String() string {
	switch m {
	case ModeChatText:
		return "chat_text"
	case ModeChatVoice:
		return "chat_voice"
	case ModeTutorText:
		return "tutor_text"
	case ModeTutorVoice:
		return "tutor_voice"
	default:
		return "unknown"
	}
}

// ParseMode maps a wire string to a Mode, defaulting to chat/text.
func ParseMode(s string) Mode {
	switch s {
	case "chat_voice":
		return ModeChatVoice
	case "tutor_text":
		return ModeTutorText
	case "tutor_voice":
		return ModeTutorVoice
	default:
		return ModeChatText
	}
}

// Renderer turns a parsed block into display markdown. Each mode supplies
// its own rules; the parser never branches on mode itself. RenderPartial
// handles a block whose content is still streaming: it must render a prefix
// of what RenderBlock will produce once the same block closes.
type Renderer interface {
	RenderBlock(b Block) string
	RenderPartial(b Block) string
}

// NewRenderer returns the renderer for a mode.
func NewRenderer(m Mode) Renderer {
	switch m {
	case ModeChatVoice:
		return &markdownRenderer{includeUnreadable: true}
	case ModeTutorText:
		return &markdownRenderer{calloutTypes: true}
	case ModeTutorVoice:
		return &markdownRenderer{includeUnreadable: true, calloutTypes: true}
	default:
		return &markdownRenderer{}
	}
}

// markdownRenderer renders blocks as markdown. Voice modes carry an
// "unreadable" field: content spoken aloud poorly (code, math) that is still
// shown visually; text modes never see that field populated.
type markdownRenderer struct {
	includeUnreadable bool
	calloutTypes      bool
}

func (r *markdownRenderer) RenderBlock(b Block) string { return r.render(b, true) }

func (r *markdownRenderer) RenderPartial(b Block) string { return r.render(b, false) }

// render shapes one block's display text. closed adds the pieces that only
// make sense once the block's content stops growing: closing code fences,
// the citation marker, and the unreadable appendix.
func (r *markdownRenderer) render(b Block, closed bool) string {
	content := strings.TrimSpace(b.MarkdownContent)
	unreadable := ""
	if closed && r.includeUnreadable {
		unreadable = r.renderUnreadable(b)
	}
	if content == "" {
		return strings.TrimLeft(unreadable, "\n")
	}

	var out string
	switch b.Type {
	case "heading":
		if strings.HasPrefix(content, "#") {
			out = content
		} else {
			level := b.Level
			if level < 1 || level > 6 {
				level = 2
			}
			out = strings.Repeat("#", level) + " " + content
		}
	case "code_block":
		if strings.HasPrefix(strings.TrimLeft(content, " \t"), "```") {
			out = content
		} else {
			fence := strings.TrimRight("```"+strings.TrimSpace(b.Language), " ")
			out = fence + "\n" + strings.TrimRight(b.MarkdownContent, "\n")
			if closed {
				out += "\n```"
			}
		}
	case "definition", "example":
		if r.calloutTypes {
			out = "> **" + capitalize(b.Type) + ":** " + content
		} else {
			out = content
		}
	default:
		out = content
	}

	if !closed {
		return out
	}
	if c := b.Citation(); c != nil {
		out += " " + CitationMarker(*c)
	}
	if unreadable != "" {
		out += unreadable
	}
	return out
}

func (r *markdownRenderer) renderUnreadable(b Block) string {
	u := strings.TrimSpace(b.Unreadable)
	if u == "" {
		return ""
	}
	switch b.Type {
	case "code_block":
		fence := strings.TrimRight("```"+strings.TrimSpace(b.Language), " ")
		return "\n" + fence + "\n" + u + "\n```"
	case "math":
		return "\n$$\n" + u + "\n$$"
	default:
		return "\n```\n" + u + "\n```"
	}
}

// CitationMarker renders the inline marker appended after a cited block's
// text.
func CitationMarker(c Citation) string {
	return fmt.Sprintf("[Reference %d: %q]", c.ID, strings.TrimSpace(c.Quote))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// joinBlocks joins rendered block texts with markdown-safe spacing.
func joinBlocks(parts []string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
