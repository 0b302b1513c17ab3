// Package apperror carries the orchestrator's error taxonomy (spec §7)
// as a typed error rather than ad-hoc sentinel values, so callers can
// branch on Kind instead of string-matching messages.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/aifactory/pkg/logging"
)

// Kind is one of the documented error categories.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindNotReady             Kind = "not_ready"
	KindConflict             Kind = "conflict"
	KindBadRequest           Kind = "bad_request"
	KindTransportUnavailable Kind = "transport_unavailable"
	KindUpstream             Kind = "upstream"
	KindInternal             Kind = "internal"
)

// Error is the carried error type. It is never raised across package
// boundaries as a panic; it is always returned as a normal Go error.
type Error struct {
	Kind          Kind
	Message       string
	UpstreamCode  int
	UpstreamBody  string
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps Kind to the status code the Gateway should answer with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindNotReady:
		return http.StatusServiceUnavailable
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	case KindTransportUnavailable:
		return http.StatusBadGateway
	case KindUpstream:
		if e.UpstreamCode != 0 {
			return e.UpstreamCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NotReady(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotReady, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func TransportUnavailable(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindTransportUnavailable, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Upstream(status int, body string) *Error {
	return &Error{
		Kind:         KindUpstream,
		Message:      fmt.Sprintf("upstream returned status %d", status),
		UpstreamCode: status,
		UpstreamBody: body,
	}
}

// Internal wraps an unexpected failure, logging it with a correlation id
// that is also attached to the returned error so a caller can surface it.
func Internal(subsystem string, cause error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	corrID := logging.NewCorrelationID()
	logging.Error(subsystem, cause, "%s (corr_id=%s)", msg, corrID)
	return &Error{Kind: KindInternal, Message: msg, Cause: cause, CorrelationID: corrID}
}

// As is a small convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the Kind carried by err, or KindInternal if err does not
// carry an *Error (an unexpected failure that wasn't explicitly classified).
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}
