// Package deployerr defines the failure kinds a deployment can end with.
//
// Every failure surfaced by the deploy command or the readiness poller is an
// *Error carrying one Kind. Callers branch on the kind with errors.Is against
// the sentinels below, or with KindOf.
package deployerr

import (
	"errors"
	"fmt"
)

// Kind classifies a deployment failure.
type Kind string

const (
	InvalidGlobSpec    Kind = "invalid_glob_spec"
	NoFilesMatched     Kind = "no_files_matched"
	MissingCredentials Kind = "missing_credentials"
	StagingFailed      Kind = "staging_failed"
	DeployPushFailed   Kind = "deploy_push_failed"
	ReadinessTimeout   Kind = "readiness_timeout"
	Cancelled          Kind = "cancelled"
)

// Sentinels for errors.Is. A sentinel matches any *Error of the same kind.
var (
	ErrInvalidGlobSpec    = &Error{Kind: InvalidGlobSpec}
	ErrNoFilesMatched     = &Error{Kind: NoFilesMatched}
	ErrMissingCredentials = &Error{Kind: MissingCredentials}
	ErrStagingFailed      = &Error{Kind: StagingFailed}
	ErrDeployPushFailed   = &Error{Kind: DeployPushFailed}
	ErrReadinessTimeout   = &Error{Kind: ReadinessTimeout}
	ErrCancelled          = &Error{Kind: Cancelled}
)

// Error is a classified deployment failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}
