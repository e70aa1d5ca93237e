// Package mention implements the Mention Parser: recognizing @name
// tokens that route a user utterance to specific participants or to
// the whole group.
package mention

import (
	"regexp"
	"strings"

	"orchestra/internal/logging"
)

// All is the sentinel forced-target meaning "every enabled participant".
const All = "ALL"

// mentionPattern matches a token-delimited @name: an @ followed by one or
// more word characters, bounded by non-word characters or string edges.
// The leading group captures the delimiter before the @ so the
// replacement can keep it.
var mentionPattern = regexp.MustCompile(`(^|\W)@(\w+)`)

// Forced is the set of participant ids (or All) a message explicitly
// addressed, deduplicated and order-preserving for deterministic output.
type Forced struct {
	ids     []string
	present map[string]bool
}

// NewForced builds an empty Forced set.
func NewForced() *Forced {
	return &Forced{present: make(map[string]bool)}
}

func (f *Forced) add(id string) {
	if f.present[id] {
		return
	}
	f.present[id] = true
	f.ids = append(f.ids, id)
}

// Has reports whether id was explicitly mentioned (or All was).
func (f *Forced) Has(id string) bool { return f.present[id] || f.present[All] }

// IsAll reports whether @all appeared in the message.
func (f *Forced) IsAll() bool { return f.present[All] }

// IDs returns the mentioned participant ids in first-seen order, excluding
// the All sentinel.
func (f *Forced) IDs() []string {
	out := make([]string, 0, len(f.ids))
	for _, id := range f.ids {
		if id != All {
			out = append(out, id)
		}
	}
	return out
}

// Empty reports whether nothing was mentioned.
func (f *Forced) Empty() bool { return len(f.ids) == 0 }

// Parse recognizes @name mentions in text, case-insensitively, against the
// known participant ids. Unknown @tokens are left verbatim in the cleaned
// text. Recognized mentions are stripped; surrounding whitespace collapses
// to single spaces and is trimmed. Duplicate mentions deduplicate. If "all"
// appears (case-insensitive), the returned Forced reports IsAll() true.
func Parse(text string, knownIDs []string) (*Forced, string) {
	known := make(map[string]string, len(knownIDs)) // lower -> canonical id
	for _, id := range knownIDs {
		known[strings.ToLower(id)] = id
	}

	forced := NewForced()
	cleaned := mentionPattern.ReplaceAllStringFunc(text, func(tok string) string {
		at := strings.LastIndexByte(tok, '@')
		prefix, name := tok[:at], strings.ToLower(tok[at+1:])
		if name == "all" {
			forced.add(All)
			return prefix
		}
		if canonical, ok := known[name]; ok {
			forced.add(canonical)
			return prefix
		}
		// Unknown @token: pass through verbatim.
		return tok
	})

	cleaned = collapseWhitespace(cleaned)

	logging.MentionDebug("parsed %q -> forced=%v cleaned=%q", text, forced.ids, cleaned)
	return forced, cleaned
}

// Compose builds a message containing @mentions for the given participant
// ids (or All) followed by text — the inverse of Parse, so composing and
// then parsing a message round-trips the original ids and text.
func Compose(ids []string, all bool, text string) string {
	var b strings.Builder
	if all {
		b.WriteString("@all ")
	}
	for _, id := range ids {
		b.WriteString("@")
		b.WriteString(id)
		b.WriteString(" ")
	}
	b.WriteString(text)
	return collapseWhitespace(b.String())
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
