package domain

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Destination is a parsed chat/topic pair. Topic is 0 when the message goes to
// the chat root.
type Destination struct {
	Chat  string
	Topic int
}

func (d Destination) String() string {
	if d.Topic != 0 {
		return d.Chat + "/" + strconv.Itoa(d.Topic)
	}
	return d.Chat
}

var reHandle = regexp.MustCompile(`^@[A-Za-z][A-Za-z0-9_]{3,31}$`)

// ParseDestination parses "<chat_id>" or "<chat_id>/<topic_id>".
//
// chat_id is an @handle or a signed integer. A bare positive numeric chat with
// a topic suffix is a forum supergroup written without its -100 prefix and is
// normalized to the -100 form. Any query suffix is ignored.
func ParseDestination(raw string) (Destination, error) {
	s := StripQuery(strings.TrimSpace(raw))
	if s == "" {
		return Destination{}, &ConfigError{Field: "destination", Value: raw, Err: errors.New("empty")}
	}

	chat, topic := s, 0
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		n, err := strconv.Atoi(s[i+1:])
		if err != nil || n <= 0 {
			return Destination{}, &ConfigError{Field: "destination", Value: raw, Err: errors.New("topic must be a positive integer")}
		}
		chat, topic = s[:i], n
		if isDigits(chat) && !strings.HasPrefix(chat, "-100") {
			chat = "-100" + chat
		}
	}

	if err := validateChat(chat); err != nil {
		return Destination{}, &ConfigError{Field: "destination", Value: raw, Err: err}
	}
	return Destination{Chat: chat, Topic: topic}, nil
}

// ChatOf returns the chat part of a destination string, or the trimmed input
// when it does not parse. Used to group tasks by chat.
func ChatOf(raw string) string {
	d, err := ParseDestination(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return d.Chat
}

func validateChat(chat string) error {
	if strings.HasPrefix(chat, "@") {
		if !reHandle.MatchString(chat) {
			return errors.New("chat handle must look like @name")
		}
		return nil
	}
	if _, err := strconv.ParseInt(chat, 10, 64); err != nil {
		return errors.New("chat must be @handle or numeric id")
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// StripQuery drops a "?..." suffix (e.g. "?single", "?thread=5").
func StripQuery(s string) string {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i]
	}
	return s
}
