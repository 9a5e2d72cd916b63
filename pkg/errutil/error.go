package errutil

import (
	"errors"
	"fmt"
)

type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// BaseError is the error every handler returns. Message is shown to the
// caller; Err is the internal cause and only reaches logs.
type BaseError struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Details []Detail   `json:"details,omitempty"`
	Err     error      `json:"-"`
}

type response struct {
	Success bool      `json:"success"`
	Error   BaseError `json:"error"`
}

func (e BaseError) Status() CoreStatus {
	return e.Code
}

// JSON is the response body rendered for e.
func (e BaseError) JSON() any {
	return response{Error: e}
}

func (e BaseError) Unwrap() error {
	return e.Err
}

func (e BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

type Option func(*BaseError)

func WithDetails(details ...Detail) Option {
	return func(be *BaseError) { be.Details = append(be.Details, details...) }
}

func WithErr(err error) Option {
	return func(be *BaseError) { be.Err = err }
}

func New(code CoreStatus, message string, opts ...Option) error {
	be := BaseError{Code: code, Message: message}
	for _, opt := range opts {
		opt(&be)
	}
	return be
}

func newWithCause(code CoreStatus, msg string, err error, opts []Option) error {
	if err != nil {
		opts = append([]Option{WithErr(err)}, opts...)
	}
	return New(code, msg, opts...)
}

func NotFound(msg string, err error, opts ...Option) error {
	return newWithCause(StatusNotFound, msg, err, opts)
}

func UnprocessableEntity(msg string, err error, opts ...Option) error {
	return newWithCause(StatusUnprocessableEntity, msg, err, opts)
}

func Conflict(msg string, err error, opts ...Option) error {
	return newWithCause(StatusConflict, msg, err, opts)
}

func BadRequest(msg string, err error, opts ...Option) error {
	return newWithCause(StatusBadRequest, msg, err, opts)
}

// ValidationFailed reports one bad field, named in the details.
func ValidationFailed(field, msg string, opts ...Option) error {
	opts = append(opts, WithDetails(Detail{Field: field, Message: msg}))
	return New(StatusValidationFailed, msg, opts...)
}

func Internal(msg string, err error, opts ...Option) error {
	return newWithCause(StatusInternal, msg, err, opts)
}

func Unauthorized(msg string, err error, opts ...Option) error {
	return newWithCause(StatusUnauthorized, msg, err, opts)
}

func Forbidden(msg string, err error, opts ...Option) error {
	return newWithCause(StatusForbidden, msg, err, opts)
}

func TooManyRequest(msg string, err error, opts ...Option) error {
	return newWithCause(StatusTooManyRequests, msg, err, opts)
}

func BadGateway(msg string, err error, opts ...Option) error {
	return newWithCause(StatusBadGateway, msg, err, opts)
}

func ServiceUnavailable(msg string, err error, opts ...Option) error {
	return newWithCause(StatusServiceUnavailable, msg, err, opts)
}

// StatusOf returns the CoreStatus carried by err, or StatusInternal.
func StatusOf(err error) CoreStatus {
	var be BaseError
	if errors.As(err, &be) {
		return be.Code
	}
	return StatusInternal
}

// Is reports whether err carries the given status.
func Is(err error, code CoreStatus) bool {
	return err != nil && StatusOf(err) == code
}
