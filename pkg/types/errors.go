package types

import (
	"errors"
	"fmt"
)

// Kind classifies domain errors so the presentation layer can map them to
// user-facing text and HTTP statuses.
type Kind string

const (
	KindModeUnavailable    Kind = "mode_unavailable"
	KindAlreadyInMatch     Kind = "already_in_match"
	KindQueueCooldown      Kind = "queue_cooldown"
	KindAlreadyQueued      Kind = "already_queued"
	KindNotQueued          Kind = "not_queued"
	KindForbidden          Kind = "forbidden"
	KindAlreadySubmitted   Kind = "already_submitted"
	KindInvalidState       Kind = "invalid_state"
	KindConfigurationError Kind = "configuration_error"
	KindNotFound           Kind = "not_found"
)

// Error is a typed domain error. Precondition failures are always returned as
// one of these; unexpected failures surface as plain wrapped errors.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Msg }

// Is matches any *Error with the same Kind, so errors.Is works against the
// bare kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError builds a typed error with a formatted message.
func NewError(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error chain, or "" for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Sentinels for errors.Is checks.
var (
	ErrModeUnavailable    = &Error{Kind: KindModeUnavailable}
	ErrAlreadyInMatch     = &Error{Kind: KindAlreadyInMatch}
	ErrQueueCooldown      = &Error{Kind: KindQueueCooldown}
	ErrAlreadyQueued      = &Error{Kind: KindAlreadyQueued}
	ErrNotQueued          = &Error{Kind: KindNotQueued}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrAlreadySubmitted   = &Error{Kind: KindAlreadySubmitted}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrConfigurationError = &Error{Kind: KindConfigurationError}
	ErrNotFound           = &Error{Kind: KindNotFound}
)
