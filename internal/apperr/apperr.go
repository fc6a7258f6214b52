// Package apperr is the failure taxonomy shared by every domain operation.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindUpstream         Kind = "upstream_failure"
	KindPermissionDenied Kind = "permission_denied"
	KindInvalid          Kind = "invalid_argument"
	KindInternal         Kind = "internal"
)

// Error carries a Kind next to the human readable message.
// errors.Is matches any *Error of the same kind, so callers compare
// against the sentinels below.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrUpstream         = &Error{Kind: KindUpstream}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrInvalid          = &Error{Kind: KindInvalid}
	ErrInternal         = &Error{Kind: KindInternal}
)

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func PermissionDenied(format string, args ...any) error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...any) error {
	return &Error{Kind: KindInvalid, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a media engine rejection. Already classified errors keep
// their kind so a NotFound from deeper down is not reported as upstream.
func Upstream(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindUpstream, Message: fmt.Sprintf(format, args...), Err: err}
}

func Internal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindInternal, Err: err}
}

// KindOf classifies err; unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}
