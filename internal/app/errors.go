package app

import (
	"errors"
	"fmt"

	"github.com/hyperifyio/webtapi/internal/fetch"
)

// Kind is the boundary-visible error taxonomy. Every error surfaced by
// Convert/Lookup maps to exactly one kind.
type Kind string

const (
	KindInvalidURL   Kind = "invalid_url"
	KindBlocked      Kind = "blocked"
	KindRateLimited  Kind = "rate_limited"
	KindNetworkError Kind = "network_error"
	KindServerError  Kind = "server_error"
	KindParseError   Kind = "parse_error"
	KindStorageError Kind = "storage_error"
	KindNotFound     Kind = "not_found"
)

// Error carries a kind for boundary dispatch, a human-readable message, and
// an optional actionable hint.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotFound signals an absent or expired record on lookup. The store does
// not distinguish "never existed" from "expired", so neither does this.
var ErrNotFound = &Error{Kind: KindNotFound, Message: "no fresh record under this key"}

// KindOf extracts the boundary kind from any error returned by the app.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindServerError
}

// fromFetchError translates the fetcher's classification into the boundary
// taxonomy, preserving message and hint.
func fromFetchError(fe *fetch.Error) *Error {
	kind := KindNetworkError
	switch fe.Kind {
	case fetch.KindRateLimited:
		kind = KindRateLimited
	case fetch.KindBlocked:
		kind = KindBlocked
	case fetch.KindServerError:
		kind = KindServerError
	case fetch.KindNetworkError:
		kind = KindNetworkError
	}
	return &Error{Kind: kind, Message: fe.Message, Hint: fe.Hint, Err: fe}
}
