package telegram

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"tgdispatch/internal/transport"
)

var permissionErrors = []error{
	tele.ErrNoRightsToSend,
	tele.ErrNoRightsToSendPhoto,
	tele.ErrNoRightsToSendStickers,
	tele.ErrNoRightsToSendGifs,
	tele.ErrBlockedByUser,
	tele.ErrKickedFromGroup,
	tele.ErrKickedFromSuperGroup,
	tele.ErrKickedFromChannel,
	tele.ErrNotChannelMember,
	tele.ErrNotStartedByUser,
	tele.ErrForwardMessage,
}

var notFoundErrors = []error{
	tele.ErrChatNotFound,
	tele.ErrNotFoundToForward,
	tele.ErrNotFound,
	tele.ErrEmptyChatID,
}

var reRetryAfter = regexp.MustCompile(`(?i)retry after (\d+)`)

// classify tags a telebot error with the transport kind the dispatch core
// acts on. Anything unrecognized is transient.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return transport.RateLimited(time.Duration(flood.RetryAfter)*time.Second, err)
	}
	var floodp *tele.FloodError
	if errors.As(err, &floodp) && floodp != nil {
		return transport.RateLimited(time.Duration(floodp.RetryAfter)*time.Second, err)
	}

	for _, e := range permissionErrors {
		if errors.Is(err, e) {
			return transport.PermissionDenied(err)
		}
	}
	for _, e := range notFoundErrors {
		if errors.Is(err, e) {
			return transport.NotFound(err)
		}
	}

	var te *tele.Error
	if errors.As(err, &te) {
		if k := byCode(te.Code, te.Description, err); k != nil {
			return k
		}
	}

	// Descriptions telebot does not know come back as "telegram: <desc> (<code>)".
	msg := err.Error()
	if i := strings.LastIndex(msg, "("); i >= 0 && strings.HasSuffix(msg, ")") {
		if code, cerr := strconv.Atoi(msg[i+1 : len(msg)-1]); cerr == nil {
			if k := byCode(code, msg, err); k != nil {
				return k
			}
		}
	}
	return transport.Transient(err)
}

func byCode(code int, desc string, err error) error {
	lower := strings.ToLower(desc)
	switch {
	case code == 429:
		wait := time.Duration(0)
		if m := reRetryAfter.FindStringSubmatch(desc); m != nil {
			n, _ := strconv.Atoi(m[1])
			wait = time.Duration(n) * time.Second
		}
		return transport.RateLimited(wait, err)
	case code == 403:
		return transport.PermissionDenied(err)
	case code == 404:
		return transport.NotFound(err)
	case code == 400 && strings.Contains(lower, "not found"):
		return transport.NotFound(err)
	case code == 400 && (strings.Contains(lower, "not enough rights") || strings.Contains(lower, "rights to send")):
		return transport.PermissionDenied(err)
	}
	return nil
}
