package source

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure. All kinds are transient from the caller's
// point of view: the poll loop backs off and retries, it never gives up.
type Kind int

const (
	// KindUnreachable covers network errors, timeouts and unexpected HTTP
	// status codes.
	KindUnreachable Kind = iota
	// KindMalformed means the source answered but the payload did not look
	// like the booking system (markup changed, error page, empty shell).
	KindMalformed
	// KindRateLimited means the source asked us to slow down (HTTP 429).
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindMalformed:
		return "malformed"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by Client.Fetch.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("source %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("source %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func errKind(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

func IsUnreachable(err error) bool { k, ok := errKind(err); return ok && k == KindUnreachable }
func IsMalformed(err error) bool   { k, ok := errKind(err); return ok && k == KindMalformed }
func IsRateLimited(err error) bool { k, ok := errKind(err); return ok && k == KindRateLimited }
