// Package apperr defines the error-kind taxonomy of spec §7 and the
// fatal/retriable classification ServiceLoop uses to route exceptions.
package apperr

import "errors"

// Kind is one of the documented error kinds from spec §7.
type Kind string

const (
	KindConfig             Kind = "config_error"
	KindTransport          Kind = "transport_error"
	KindHTTPClient         Kind = "http_client_error"
	KindHTTPServer         Kind = "http_server_error"
	KindAPIResult          Kind = "api_result_error"
	KindParse              Kind = "parse_error"
	KindStateIO            Kind = "state_io_error"
	KindWebhookBusiness    Kind = "webhook_business_failure"
	KindCircuitOpen        Kind = "circuit_open"
	KindMissingAreaFetch   Kind = "missing_area_fetch_result"
	KindUnknown            Kind = "unknown_error"
)

// Error wraps an underlying cause with a Kind so ServiceLoop and the
// orchestrator can classify it without string matching.
type Error struct {
	Kind    Kind
	Code    string // upstream result code or HTTP status, when applicable
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithCode attaches an upstream/API status code to the error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// KindOf extracts the Kind from err, defaulting to KindUnknown for plain
// errors that never went through New.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// Fatal reports whether ServiceLoop must shut down on this error, per
// spec §4.6/§7: only configuration errors are fatal pre-start; everything
// else observed during the loop is retriable from the loop's perspective
// (per-region/per-event failures are already contained before reaching
// here).
func Fatal(err error) bool {
	return KindOf(err) == KindConfig
}

// Retriable reports whether the kind is one that a caller (WeatherClient,
// Notifier) should retry under its backoff policy.
func Retriable(kind Kind) bool {
	switch kind {
	case KindTransport, KindHTTPServer, KindStateIO:
		return true
	case KindAPIResult:
		return false // caller must special-case code 22 itself
	default:
		return false
	}
}
