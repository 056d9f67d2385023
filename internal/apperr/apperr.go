// internal/apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindAuth              Kind = "auth"
	KindForbidden         Kind = "forbidden"
	KindProviderTransport Kind = "provider_transport"
	KindMalformedAIOutput Kind = "malformed_ai_output"
	KindNotFound          Kind = "not_found"
	KindStateConflict     Kind = "state_conflict"
	KindInternal          Kind = "internal"
)

// Error is the typed error returned by the service layer. Handlers map it to
// an HTTP status via Kind.
type Error struct {
	Kind    Kind
	Msg     string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string, details map[string]string) *Error {
	return &Error{Kind: KindValidation, Msg: msg, Details: details}
}

func Auth(msg string) *Error {
	return &Error{Kind: KindAuth, Msg: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Msg: msg}
}

func ProviderTransport(err error) *Error {
	return &Error{Kind: KindProviderTransport, Msg: "AI provider unavailable", Err: err}
}

func MalformedAIOutput(err error) *Error {
	return &Error{Kind: KindMalformedAIOutput, Msg: "AI returned an unusable response", Err: err}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Msg: what + " not found"}
}

func StateConflict(msg string) *Error {
	return &Error{Kind: KindStateConflict, Msg: msg}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindProviderTransport, KindMalformedAIOutput:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
