package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrTransient        = errors.New("transient transport error")
)

// RateLimitedError reports a destination-imposed minimum spacing between
// messages (slow mode / flood wait).
type RateLimitedError struct {
	MinInterval time.Duration
	Err         error
}

func (e *RateLimitedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited (wait %s): %v", e.MinInterval, e.Err)
	}
	return fmt.Sprintf("rate limited (wait %s)", e.MinInterval)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// RateLimited wraps err as a rate-limit signal.
func RateLimited(minInterval time.Duration, err error) error {
	return &RateLimitedError{MinInterval: minInterval, Err: err}
}

// PermissionDenied tags err as a permission failure.
func PermissionDenied(err error) error { return tag(ErrPermissionDenied, err) }

// NotFound tags err as a missing chat or message.
func NotFound(err error) error { return tag(ErrNotFound, err) }

// Transient tags err as a network/server failure.
func Transient(err error) error { return tag(ErrTransient, err) }

func tag(kind, err error) error {
	if err == nil {
		return kind
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Kind is the classification of a transport failure.
type Kind int

const (
	KindNone Kind = iota
	KindPermissionDenied
	KindRateLimited
	KindNotFound
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPermissionDenied:
		return "permission_denied"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	default:
		return "transient"
	}
}

// Classify maps err to a Kind. Untagged errors are transient.
func Classify(err error) Kind {
	var rl *RateLimitedError
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &rl):
		return KindRateLimited
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindTransient
	}
}
