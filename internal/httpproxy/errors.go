// Package httpproxy implements the authenticated Cumulocity HTTP proxy with
// JWT and internal-id auto-refresh (spec §4.C), grounded on
// c8y_http_proxy/src/actor.rs.
package httpproxy

import "fmt"

// HttpStatusError reports a non-2xx response that survived the
// execute-with-retry protocol.
type HttpStatusError struct {
	StatusCode int
	Body       string
}

func (e *HttpStatusError) Error() string {
	return fmt.Sprintf("c8y http proxy: unexpected status %d: %s", e.StatusCode, e.Body)
}

// ErrJwtUnavailable is returned when the local broker never produces a JWT
// in response to the internal "c8y/s/uat" request.
type ErrJwtUnavailableType struct{}

func (ErrJwtUnavailableType) Error() string { return "c8y http proxy: jwt token unavailable" }

var ErrJwtUnavailable = ErrJwtUnavailableType{}

// ErrInterrupted is returned from the init retry loop when a shutdown
// signal preempts a pending internal-id fetch.
type ErrInterruptedType struct{}

func (ErrInterruptedType) Error() string { return "c8y http proxy: interrupted by shutdown" }

var ErrInterrupted = ErrInterruptedType{}
