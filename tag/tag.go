// Package tag parses and builds the inline bracket tags embedded in
// gateway message text, e.g. "[CQ:at,qq=10086] hello".
//
// Parse splits a message into an ordered list of segments. Plain text
// between tags becomes a pseudo-tag named "text" with the content under
// the "text" attribute, so the original message order is preserved.
package tag

import (
	"strconv"
	"strings"
)

// TextName is the pseudo-tag name used for plain text segments.
const TextName = "text"

// Tag is one parsed segment of a message.
type Tag struct {
	Name  string
	Attrs map[string]string
}

// Text returns the plain-text content of a text segment, or "" for
// bracket tags.
func (t Tag) Text() string {
	if t.Name != TextName {
		return ""
	}
	return t.Attrs["text"]
}

// Parse splits message text into an ordered list of tags. Malformed
// bracket sequences are kept as plain text rather than dropped.
func Parse(s string) []Tag {
	var tags []Tag

	appendText := func(text string) {
		if text == "" {
			return
		}
		tags = append(tags, Tag{
			Name:  TextName,
			Attrs: map[string]string{"text": Unescape(text)},
		})
	}

	for len(s) > 0 {
		start := strings.Index(s, "[CQ:")
		if start < 0 {
			appendText(s)
			break
		}
		appendText(s[:start])
		s = s[start:]

		end := strings.IndexByte(s, ']')
		if end < 0 {
			// Unterminated tag: treat the rest as text.
			appendText(s)
			break
		}

		body := s[len("[CQ:"):end]
		s = s[end+1:]

		parts := strings.Split(body, ",")
		name := parts[0]
		if name == "" || strings.ContainsAny(name, "[ ") {
			appendText("[CQ:" + body + "]")
			continue
		}

		attrs := make(map[string]string, len(parts)-1)
		for _, kv := range parts[1:] {
			k, v, _ := strings.Cut(kv, "=")
			if k == "" {
				continue
			}
			attrs[k] = Unescape(v)
		}
		tags = append(tags, Tag{Name: name, Attrs: attrs})
	}

	return tags
}

// Escape encodes text so it survives inside message bodies without being
// read as tag syntax.
func Escape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "[", "&#91;")
	s = strings.ReplaceAll(s, "]", "&#93;")
	return s
}

// EscapeValue encodes text for use as a tag attribute value, which
// additionally reserves the comma.
func EscapeValue(s string) string {
	s = Escape(s)
	s = strings.ReplaceAll(s, ",", "&#44;")
	return s
}

// Unescape reverses Escape and EscapeValue.
func Unescape(s string) string {
	s = strings.ReplaceAll(s, "&#91;", "[")
	s = strings.ReplaceAll(s, "&#93;", "]")
	s = strings.ReplaceAll(s, "&#44;", ",")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}

// At builds a mention tag for the given account id.
func At(id int64) string {
	return "[CQ:at,qq=" + strconv.FormatInt(id, 10) + "]"
}

// AtAll builds a mention tag addressing everyone in the conversation.
func AtAll() string {
	return "[CQ:at,qq=all]"
}
