package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes returned in API error bodies.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeNotFound           = "RESOURCE_NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeUnprocessable      = "UNPROCESSABLE_ENTITY"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeBadRequest         = "BAD_REQUEST"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
	CodeCompensationFailed = "COMPENSATION_FAILED"
)

var statusByCode = map[string]int{
	CodeValidationError:    http.StatusBadRequest,
	CodeBadRequest:         http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeConflict:           http.StatusConflict,
	CodeUnprocessable:      http.StatusUnprocessableEntity,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeInternalError:      http.StatusInternalServerError,
	CodeCompensationFailed: http.StatusInternalServerError,
}

// AppError is an error with an API code and HTTP status.
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds one entry to Details.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Wrap records err as the cause.
func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

// NewAppError creates an error with an explicit status, for codes outside
// the standard set.
func NewAppError(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func newCoded(code, message string) *AppError {
	return NewAppError(code, message, statusByCode[code])
}

func ErrValidation(message string) *AppError {
	return newCoded(CodeValidationError, message)
}

// ErrValidationWithFields reports per-field failures in Details.
func ErrValidationWithFields(message string, fields map[string]string) *AppError {
	err := ErrValidation(message)
	for field, problem := range fields {
		err.WithDetail(field, problem)
	}
	return err
}

func ErrBadRequest(message string) *AppError {
	return newCoded(CodeBadRequest, message)
}

func ErrNotFound(message string) *AppError {
	return newCoded(CodeNotFound, message)
}

func ErrConflict(message string) *AppError {
	return newCoded(CodeConflict, message)
}

// ErrUnprocessable reports a well-formed request the ledger cannot satisfy,
// such as a deduction exceeding available stock.
func ErrUnprocessable(message string) *AppError {
	return newCoded(CodeUnprocessable, message)
}

// ErrCompensationFailed reports a rollback that left the ledger partially applied.
func ErrCompensationFailed(message string) *AppError {
	return newCoded(CodeCompensationFailed, message)
}

func ErrServiceUnavailable(service string) *AppError {
	return newCoded(CodeServiceUnavailable, service+" is temporarily unavailable")
}

func ErrTimeout(operation string) *AppError {
	return newCoded(CodeTimeout, operation+" timed out")
}

func ErrInternal() *AppError {
	return newCoded(CodeInternalError, "an internal error occurred")
}

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

var messageRules = []struct {
	fragments []string
	build     func(err error) *AppError
}{
	{[]string{"not found"}, func(err error) *AppError { return ErrNotFound(err.Error()) }},
	{[]string{"already exists"}, func(err error) *AppError { return ErrConflict(err.Error()) }},
	{[]string{"insufficient"}, func(err error) *AppError { return ErrUnprocessable(err.Error()) }},
	{[]string{"invalid", "required"}, func(err error) *AppError { return ErrValidation(err.Error()) }},
	{[]string{"timeout", "deadline exceeded"}, func(error) *AppError { return ErrTimeout("operation") }},
}

// MapDomainError classifies an arbitrary error by its message. AppErrors in
// the chain are returned unchanged and anything unrecognised is internal.
func MapDomainError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range messageRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(msg, fragment) {
				return rule.build(err).Wrap(err)
			}
		}
	}
	return ErrInternal().Wrap(err)
}
