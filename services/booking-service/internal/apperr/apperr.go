// Package apperr is the error taxonomy shared by the availability and
// reservation packages and mapped to HTTP statuses by the handlers.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeFormat              Code = "FORMAT_ERROR"
	CodeInvalidDuration     Code = "INVALID_DURATION"
	CodeOutsideAvailability Code = "OUTSIDE_AVAILABILITY"
	CodeNotFound            Code = "NOT_FOUND"
	CodeSlotTaken           Code = "SLOT_TAKEN"
	CodeExpired             Code = "EXPIRED"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeAlreadyCancelled    Code = "ALREADY_CANCELLED"
	CodePastBooking         Code = "PAST_BOOKING"
	CodeRangeTooLarge       Code = "RANGE_TOO_LARGE"
	CodeTooFarAhead         Code = "TOO_FAR_AHEAD"
	CodeQuotaExceeded       Code = "QUOTA_EXCEEDED"
	CodeDuplicateRequest    Code = "DUPLICATE_REQUEST"
	CodeStore               Code = "INTERNAL_STORE_ERROR"
)

// Error is the concrete error type. Allowed is only set for
// CodeInvalidTransition and lists the statuses reachable from the current one.
type Error struct {
	Code    Code
	Msg     string
	Allowed []string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " "))
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code. Format, duration and availability errors are also
// validation errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code == CodeValidation && e.isValidation()
}

func (e *Error) isValidation() bool {
	switch e.Code {
	case CodeFormat, CodeInvalidDuration, CodeOutsideAvailability:
		return true
	}
	return false
}

var (
	ErrValidation        = &Error{Code: CodeValidation}
	ErrFormat            = &Error{Code: CodeFormat}
	ErrInvalidDuration   = &Error{Code: CodeInvalidDuration}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrSlotTaken         = &Error{Code: CodeSlotTaken, Msg: "slot already taken"}
	ErrExpired           = &Error{Code: CodeExpired, Msg: "reservation expired"}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition}
	ErrAlreadyCancelled  = &Error{Code: CodeAlreadyCancelled, Msg: "booking already cancelled"}
	ErrPastBooking       = &Error{Code: CodePastBooking, Msg: "booking already started"}
	ErrRangeTooLarge     = &Error{Code: CodeRangeTooLarge}
	ErrTooFarAhead       = &Error{Code: CodeTooFarAhead, Msg: "date is too far ahead"}
	ErrQuotaExceeded     = &Error{Code: CodeQuotaExceeded, Msg: "monthly booking limit reached"}
	ErrDuplicateRequest  = &Error{Code: CodeDuplicateRequest, Msg: "request with this idempotency key already processed"}
	ErrStore             = &Error{Code: CodeStore, Msg: "store error"}
)

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

func NotFound(what string) *Error {
	return &Error{Code: CodeNotFound, Msg: what + " not found"}
}

// Store wraps an infrastructure failure. Errors already carrying a code pass
// through unchanged.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Code: CodeStore, Msg: op, Err: err}
}

func InvalidTransition(from, to string, allowed []string) *Error {
	return &Error{
		Code:    CodeInvalidTransition,
		Msg:     fmt.Sprintf("cannot move booking from %s to %s", from, to),
		Allowed: allowed,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeStore for
// foreign errors.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeStore
}
