// Package resilience provides the scheduling primitives shared by the
// discovery loop and the processing pipeline: bounded retry, a sliding-window
// rate limiter and time-boxed memoization. Each primitive keeps its state per
// instance; callers compose them explicitly at the call site.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// Kind classifies an error for retry and logging purposes.
type Kind int

const (
	// KindUnexpected is the zero kind: an unrecognized error. It is retried
	// and logged with full detail.
	KindUnexpected Kind = iota
	// KindTransient is a recognized failure worth retrying (non-200 status,
	// lost connection).
	KindTransient
	// KindNoRetry always bypasses retry.
	KindNoRetry
	// KindUnavailable marks content that no longer exists upstream.
	KindUnavailable
	// KindShortForm marks portrait (short-form) content.
	KindShortForm
	// KindData marks a store contract violation, e.g. several rows where
	// one was expected.
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindUnexpected:
		return "unexpected"
	case KindTransient:
		return "transient"
	case KindNoRetry:
		return "no_retry"
	case KindUnavailable:
		return "unavailable"
	case KindShortForm:
		return "short_form"
	case KindData:
		return "data"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// NoRetry reports whether errors of this kind bypass every retry policy.
func (k Kind) NoRetry() bool {
	return k == KindNoRetry || k == KindShortForm || k == KindData
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Mark tags err with kind. A nil err stays nil.
func Mark(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Markf is Mark(kind, fmt.Errorf(format, args...)).
func Markf(kind Kind, format string, args ...any) error {
	return Mark(kind, fmt.Errorf(format, args...))
}

// KindOf returns the outermost kind attached to err, or KindUnexpected.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnexpected
}

// Designed reports whether err carries a recognized kind. Designed errors are
// logged on a single line; everything else gets full detail.
func Designed(err error) bool {
	return KindOf(err) != KindUnexpected
}

// LogError logs designed failures as a one-line warning and everything else
// as an error with full detail.
func LogError(logger *slog.Logger, msg string, err error, args ...any) {
	if Designed(err) {
		logger.Warn(msg, append(args, "kind", KindOf(err).String(), "error", err.Error())...)
		return
	}
	logger.Error(msg, append(args, "error", fmt.Sprintf("%+v", err))...)
}
