package botlink

import (
	"strconv"
	"strings"

	"github.com/codaki/botlink/tag"
)

// Classification taxonomy for inbound notifications. A nil sub-type set
// means the type takes no sub-type segment; unknown types and unknown
// sub-types are taxonomy violations.
var (
	messageTypes = map[string]bool{
		"private": true,
		"discuss": true,
		"group":   true,
	}

	noticeTypes = map[string]map[string]bool{
		"group_upload":   nil,
		"group_admin":    {"set": true, "unset": true},
		"group_decrease": {"leave": true, "kick": true, "kick_me": true},
		"group_increase": {"approve": true, "invite": true},
		"friend_add":     nil,
		"group_ban":      {"ban": true, "lift_ban": true},
		"group_recall":   nil,
		"friend_recall":  nil,
	}

	requestTypes = map[string]map[string]bool{
		"friend": nil,
		"group":  {"add": true, "invite": true},
	}

	metaEventTypes = map[string]bool{
		"lifecycle": true,
		"heartbeat": true,
	}
)

// classify maps an inbound payload onto its dot-path. It returns an
// unexpected-field error when the payload falls outside the taxonomy.
func classify(p *Payload, selfID int64) (string, *Error) {
	switch p.PostType {
	case "message":
		if !messageTypes[p.MessageType] {
			return "", unexpectedField("message_type")
		}
		path := "message." + p.MessageType
		if p.MessageType == "group" || p.MessageType == "discuss" {
			path += mentionSuffix(p.MessageText(), selfID)
		}
		return path, nil

	case "notice":
		return subTypedPath("notice", p.NoticeType, p.SubType, noticeTypes, "notice_type")

	case "request":
		return subTypedPath("request", p.RequestType, p.SubType, requestTypes, "request_type")

	case "meta_event":
		if !metaEventTypes[p.MetaEventType] {
			return "", unexpectedField("meta_event_type")
		}
		return "meta_event." + p.MetaEventType, nil

	default:
		return "", unexpectedField("post_type")
	}
}

// subTypedPath builds "family.type" or "family.type.sub" against a
// taxonomy table. Types without a sub-type set ignore any sub_type the
// gateway happens to send.
func subTypedPath(family, typ, sub string, table map[string]map[string]bool, field string) (string, *Error) {
	subs, ok := table[typ]
	if !ok {
		return "", unexpectedField(field)
	}
	path := family + "." + typ
	if subs == nil {
		return path, nil
	}
	if !subs[sub] {
		return "", unexpectedField("sub_type")
	}
	return path + "." + sub, nil
}

// mentionSuffix inspects message text for at-mention tags. A mention of
// the bot's own identity wins over mentions of anyone else.
func mentionSuffix(text string, selfID int64) string {
	if text == "" {
		return ""
	}
	self := strconv.FormatInt(selfID, 10)
	suffix := ""
	for _, tg := range tag.Parse(text) {
		if tg.Name != "at" {
			continue
		}
		if selfID != 0 && tg.Attrs["qq"] == self {
			return ".@me"
		}
		suffix = ".@"
	}
	return suffix
}

func unexpectedField(field string) *Error {
	return &Error{Kind: KindUnexpectedField, Field: field}
}

// ancestorPaths expands a path into itself plus every ancestor, most
// specific first: "a.b.c" yields ["a.b.c", "a.b", "a"].
func ancestorPaths(path string) []string {
	paths := []string{path}
	for {
		i := strings.LastIndexByte(path, '.')
		if i < 0 {
			return paths
		}
		path = path[:i]
		paths = append(paths, path)
	}
}
