package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SourceLink is a parsed t.me message link used as a forward payload.
type SourceLink struct {
	Chat  string
	Topic int
	ID    int
}

var reMessageLink = regexp.MustCompile(`^(?:https?://)?(?:www\.)?(?:t|telegram)\.me/(c/)?([A-Za-z0-9_]+)(?:/(\d+))?/(\d+)/?$`)

// ParseSourceLink parses a message link such as https://t.me/name/42,
// https://t.me/name/7/42 (topic) or https://t.me/c/1234567890/42 (private).
// The query suffix is stripped first, so ".../42?single" equals ".../42".
// ok is false when the payload is not a message link (plain text payload).
func ParseSourceLink(raw string) (SourceLink, bool) {
	s := StripQuery(strings.TrimSpace(raw))
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return SourceLink{}, false
	}
	m := reMessageLink.FindStringSubmatch(s)
	if m == nil {
		return SourceLink{}, false
	}
	id, err := strconv.Atoi(m[4])
	if err != nil || id <= 0 {
		return SourceLink{}, false
	}

	var link SourceLink
	link.ID = id
	if m[3] != "" {
		link.Topic, _ = strconv.Atoi(m[3])
	}
	if m[1] != "" {
		if !isDigits(m[2]) {
			return SourceLink{}, false
		}
		link.Chat = "-100" + m[2]
	} else {
		if isDigits(m[2]) {
			return SourceLink{}, false
		}
		link.Chat = "@" + m[2]
	}
	return link, true
}

// MessageLink builds a durable link to a delivered message.
// Handles produce public links; numeric ids produce t.me/c links with the
// -100 prefix removed.
func MessageLink(chat string, topic, id int) string {
	if id <= 0 || chat == "" {
		return ""
	}
	var base string
	if strings.HasPrefix(chat, "@") {
		base = "https://t.me/" + strings.TrimPrefix(chat, "@")
	} else {
		base = "https://t.me/c/" + strings.TrimPrefix(chat, "-100")
	}
	if topic > 0 {
		return fmt.Sprintf("%s/%d/%d", base, topic, id)
	}
	return fmt.Sprintf("%s/%d", base, id)
}
