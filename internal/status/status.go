package status

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindAuth       Kind = "auth"       // credentials rejected at login
	KindSession    Kind = "session"    // missing, invalid or expired token
	KindValidation Kind = "validation" // payload rejected, client or server side
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindNetwork    Kind = "network" // request could not complete, or backend failing
	KindInternal   Kind = "internal"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrNoSession          = errors.New("session: not signed in")
	ErrSessionInvalid     = errors.New("session: token rejected")
	ErrSuperseded         = errors.New("session: superseded by a newer sign-in or sign-out")
	ErrBreakerOpen        = errors.New("network: backend unavailable")
)

// Error is the single failure shape every store operation returns.
type Error struct {
	Kind   Kind
	Op     string
	Detail string // server-provided detail, surfaced verbatim
	Code   int    // HTTP status when the backend answered
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func Validation(op, format string, args ...any) *Error {
	return &Error{Op: op, Kind: KindValidation, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns KindInternal for errors that were never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// DetailOf returns the server detail when there is one, otherwise the error text.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// FromHTTP classifies a non-success backend answer. Any 4xx from the token endpoint is
// a credential rejection; 401 anywhere else is an invalid session.
func FromHTTP(op string, code int, detail string, tokenEndpoint bool) *Error {
	e := &Error{Op: op, Code: code, Detail: detail}
	switch {
	case tokenEndpoint && code >= 400 && code < 500:
		e.Kind, e.Err = KindAuth, ErrInvalidCredentials
	case code == http.StatusUnauthorized:
		e.Kind, e.Err = KindSession, ErrSessionInvalid
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		e.Kind = KindValidation
	case code == http.StatusForbidden:
		e.Kind = KindForbidden
	case code == http.StatusNotFound:
		e.Kind = KindNotFound
	case code >= 500:
		e.Kind = KindNetwork
	default:
		e.Kind = KindInternal
	}
	return e
}
