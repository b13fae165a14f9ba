package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures so callers can tell "not found" from "upstream down"
// from "already done" without parsing messages.
type Kind string

const (
	KindAuthUnavailable     Kind = "auth_unavailable"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamRejected    Kind = "upstream_rejected"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindValidation          Kind = "validation_failure"
	KindPersistence         Kind = "persistence_failure"
	KindWorker              Kind = "worker_failure"
	KindInternal            Kind = "internal_error"
)

// Error is the error type returned across engine and HTTP boundaries.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so errors.Is(err, apperr.NotFound) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Details == ""
}

// Sentinels for errors.Is comparisons.
var (
	AuthUnavailable     = &Error{Kind: KindAuthUnavailable}
	UpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	UpstreamRejected    = &Error{Kind: KindUpstreamRejected}
	NotFound            = &Error{Kind: KindNotFound}
	Conflict            = &Error{Kind: KindConflict}
	Validation          = &Error{Kind: KindValidation}
	Persistence         = &Error{Kind: KindPersistence}
	Worker              = &Error{Kind: KindWorker}
	Internal            = &Error{Kind: KindInternal}
)

var defaultStatus = map[Kind]int{
	KindAuthUnavailable:     http.StatusUnauthorized,
	KindUpstreamUnavailable: http.StatusServiceUnavailable,
	KindUpstreamRejected:    http.StatusBadGateway,
	KindNotFound:            http.StatusNotFound,
	KindConflict:            http.StatusConflict,
	KindValidation:          http.StatusBadRequest,
	KindPersistence:         http.StatusInternalServerError,
	KindWorker:              http.StatusInternalServerError,
	KindInternal:            http.StatusInternalServerError,
}

// New builds an Error with the default HTTP status for kind.
func New(kind Kind, message, details string) *Error {
	return &Error{Kind: kind, Status: defaultStatus[kind], Message: message, Details: details}
}

// Newf is New with a wrapped cause.
func Newf(kind Kind, cause error, message, details string) *Error {
	e := New(kind, message, details)
	e.Err = cause
	return e
}

// WithStatus overrides the status code, used for upstream rejections that
// carry the remote status.
func (e *Error) WithStatus(status int) *Error {
	if status > 0 {
		e.Status = status
	}
	return e
}

// Wrap returns err unchanged when it is already an *Error; anything else is
// converted to an internal error with the fixed catalog message so raw text
// never reaches callers.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if message == "" {
		message = MsgUnexpected
	}
	return Newf(KindInternal, err, message, InternalServerError)
}

// KindOf reports the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusOf reports the HTTP status for err.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status > 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// Body is the JSON shape rendered for failed requests.
type Body struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// BodyOf renders err into the public error body.
func BodyOf(err error) Body {
	e := Wrap(err, "")
	return Body{Status: StatusOf(e), Message: e.Message, Details: e.Details}
}
