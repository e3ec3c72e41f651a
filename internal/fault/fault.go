// Package fault classifies the failures the data layer can surface so callers
// can decide how to recover without matching on log messages.
package fault

import (
	stderrors "errors"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind identifies which boundary an error came from.
type Kind int

const (
	KindUnknown Kind = iota
	KindStore
	KindNetwork
	KindHTTP
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindStore:
		return "StoreError"
	case KindNetwork:
		return "NetworkError"
	case KindHTTP:
		return "HTTPError"
	case KindValidation:
		return "ValidationError"
	default:
		return "UnknownError"
	}
}

// Reference errors for each kind. Test with errors.Is or KindOf.
var (
	ErrStore      = errors.New("store error")
	ErrNetwork    = errors.New("network error")
	ErrHTTP       = errors.New("http error")
	ErrValidation = errors.New("validation error")
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.Status)
}

// kindError puts a kind reference error and its cause on the same unwrap
// chain, so both errors.Is(err, ErrNetwork) and errors.Is(err, cause) hold.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string { return e.cause.Error() }

func (e *kindError) Unwrap() []error { return []error{e.kind, e.cause} }

// Store tags err as a persistent store failure.
func Store(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: ErrStore, cause: errors.Wrap(err, msg)}
}

// Network tags err as a connection-level failure.
func Network(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: ErrNetwork, cause: errors.Wrap(err, msg)}
}

// HTTP builds a tagged StatusError.
func HTTP(status int, url string) error {
	return &kindError{kind: ErrHTTP, cause: &StatusError{Status: status, URL: url}}
}

// Validation builds a tagged payload shape error.
func Validation(format string, args ...any) error {
	return &kindError{kind: ErrValidation, cause: errors.Newf(format, args...)}
}

// KindOf reports the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case stderrors.Is(err, ErrStore):
		return KindStore
	case stderrors.Is(err, ErrNetwork):
		return KindNetwork
	case stderrors.Is(err, ErrHTTP):
		return KindHTTP
	case stderrors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindUnknown
	}
}

// Status returns the HTTP status carried by err, if any.
func Status(err error) (int, bool) {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.Status, true
	}
	return 0, false
}
