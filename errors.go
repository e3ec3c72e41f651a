package freshen

import (
	"goflare.io/freshen/internal/fault"
	"goflare.io/freshen/internal/resource"
)

// ErrorKind tells which boundary an error came from.
type ErrorKind = fault.Kind

const (
	KindUnknown    = fault.KindUnknown
	KindStore      = fault.KindStore
	KindNetwork    = fault.KindNetwork
	KindHTTP       = fault.KindHTTP
	KindValidation = fault.KindValidation
)

var (
	ErrStore      = fault.ErrStore
	ErrNetwork    = fault.ErrNetwork
	ErrHTTP       = fault.ErrHTTP
	ErrValidation = fault.ErrValidation

	// ErrRefreshInFlight is returned by Refresh when a refresh of the same
	// resource is already running.
	ErrRefreshInFlight = resource.ErrRefreshInFlight
)

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	return fault.KindOf(err)
}

// HTTPStatus returns the status of a failed API response carried by err.
func HTTPStatus(err error) (int, bool) {
	return fault.Status(err)
}
