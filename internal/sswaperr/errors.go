// Package sswaperr defines the error-kind taxonomy shared by every
// settlement-facing component.
package sswaperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP-status mapping and operator triage.
type Kind string

const (
	KindValidation          Kind = "ValidationError"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	// KindLiquidityUnavailable is UpstreamUnavailable's liquidity-specific
	// sibling: same "something we depend on isn't answering" shape, but
	// mapped to 503 instead of 502 per spec §7 ("502 for oracle, 503 for
	// liquidity").
	KindLiquidityUnavailable Kind = "LiquidityUnavailable"
	KindAuthFailure          Kind = "AuthFailure"
	KindNotFound             Kind = "NotFound"
	KindConflictOfState      Kind = "ConflictOfState"
	KindConfigMissing        Kind = "ConfigMissing"
	KindPayoutFailed         Kind = "PayoutFailed"
	KindInternal             Kind = "InternalError"
)

// Error is the structured error type propagated out of internal packages.
type Error struct {
	Kind      Kind
	Code      string // machine-readable code surfaced in the HTTP envelope, e.g. "INSUFFICIENT_LIQUIDITY"
	Message   string
	Retryable bool
	Cause     error
	Fields    map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// WithField returns a copy of e with an additional context field attached.
func (e *Error) WithField(key string, value any) *Error {
	cp := *e
	cp.Fields = make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		cp.Fields[k] = v
	}
	cp.Fields[key] = value
	return &cp
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func WithCode(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// PayoutFailure builds the mandatory shape for a failed payout after chain
// receipt: always retryable=false, always carries the manual-settlement flag
// via Fields so the settlement engine can set meta.requiresManualSettlement.
func PayoutFailure(cause error, providerMessage string) *Error {
	return &Error{
		Kind:    KindPayoutFailed,
		Message: providerMessage,
		Cause:   cause,
		Fields:  map[string]any{"requiresManualSettlement": true},
	}
}

// HTTPStatus maps a Kind to the status codes listed in spec §7/§6.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindLiquidityUnavailable:
		return http.StatusServiceUnavailable
	case KindAuthFailure:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflictOfState:
		return http.StatusBadRequest
	case KindConfigMissing:
		return http.StatusServiceUnavailable
	case KindPayoutFailed, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As is a convenience wrapper over errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
