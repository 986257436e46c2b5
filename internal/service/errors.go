package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/payment"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/repository"
)

// Error kinds. Match with errors.Is.
var (
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("state conflict")
	ErrGateway       = errors.New("payment gateway")
	ErrCapacity      = errors.New("capacity")
	ErrInvalidInput  = errors.New("invalid input")
	ErrMustRefund    = errors.New("must refund")
)

// Error is a business failure with a message meant for the caller.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...any) error { return newError(ErrForbidden, format, args...) }
func notFound(what string) error { return newError(ErrNotFound, "%s not found", what) }
func conflict(format string, args ...any) error { return newError(ErrStateConflict, format, args...) }
func invalid(format string, args ...any) error { return newError(ErrInvalidInput, format, args...) }

func mustRefund() error {
	return newError(ErrMustRefund, "Payment has already been captured; refund it instead")
}

// gatewayError turns a processor failure into a caller-facing reason.
func gatewayError(err error) error {
	if ise, ok := payment.IsInvalidState(err); ok {
		return &Error{Kind: ErrGateway, Message: capitalize(ise.Error()), Err: err}
	}
	return &Error{Kind: ErrGateway, Message: "Payment processor request failed", Err: err}
}

// storeError maps a lost compare-and-swap to a conflict; anything else stays internal.
func storeError(err error) error {
	if errors.Is(err, repository.ErrStaleState) {
		return &Error{Kind: ErrStateConflict, Message: "Booking changed while the request was processed; reload and try again", Err: err}
	}
	return err
}

// KindOf names the kind of err for transport and metrics.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMustRefund):
		return "must_refund"
	case errors.Is(err, ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, ErrGateway):
		return "gateway"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return "internal"
}

// Result is what the action boundary reports to callers.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func NewResult(data any, err error) Result {
	if err == nil {
		return Result{Success: true, Data: data}
	}
	res := Result{Kind: KindOf(err)}
	var e *Error
	if errors.As(err, &e) {
		res.Error = e.Message
	} else {
		res.Error = "Internal error"
	}
	return res
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
