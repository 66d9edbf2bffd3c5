package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrItemNotFound is returned when a material cannot be found
	ErrItemNotFound = errors.New("item not found")

	// ErrBalanceRecordMissing is returned when no balance record exists for a location
	ErrBalanceRecordMissing = errors.New("balance record missing")

	// ErrInsufficientUnrestricted is returned when unrestricted stock cannot cover a draw
	ErrInsufficientUnrestricted = errors.New("insufficient unrestricted quantity")

	// ErrInsufficientReserved is returned when reserved stock cannot cover a draw
	ErrInsufficientReserved = errors.New("insufficient reserved quantity")

	// ErrFIFOShortfall marks a deduction larger than the remaining cost layers
	ErrFIFOShortfall = errors.New("fifo layers exhausted")

	// ErrSerialBalanceMissing is returned when a serial number has no balance record
	ErrSerialBalanceMissing = errors.New("serial balance missing")

	// ErrCompensationFailure is returned when a rollback could not be completed
	ErrCompensationFailure = errors.New("compensation failed")

	// ErrInvalidInput is returned for malformed commands
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoCostLayers is returned when a FIFO material has no layers at all
	ErrNoCostLayers = errors.New("no cost layers available")
)

// ErrorKind classifies ledger failures.
type ErrorKind string

const (
	KindItemNotFound             ErrorKind = "ITEM_NOT_FOUND"
	KindBalanceRecordMissing     ErrorKind = "BALANCE_RECORD_MISSING"
	KindInsufficientUnrestricted ErrorKind = "INSUFFICIENT_UNRESTRICTED"
	KindInsufficientReserved     ErrorKind = "INSUFFICIENT_RESERVED"
	KindFIFOShortfall            ErrorKind = "FIFO_SHORTFALL"
	KindSerialBalanceMissing     ErrorKind = "SERIAL_BALANCE_MISSING"
	KindCompensationFailure      ErrorKind = "COMPENSATION_FAILURE"
	KindInvalidInput             ErrorKind = "INVALID_INPUT"
)

var kindSentinels = map[ErrorKind]error{
	KindItemNotFound:             ErrItemNotFound,
	KindBalanceRecordMissing:     ErrBalanceRecordMissing,
	KindInsufficientUnrestricted: ErrInsufficientUnrestricted,
	KindInsufficientReserved:     ErrInsufficientReserved,
	KindFIFOShortfall:            ErrFIFOShortfall,
	KindSerialBalanceMissing:     ErrSerialBalanceMissing,
	KindCompensationFailure:      ErrCompensationFailure,
	KindInvalidInput:             ErrInvalidInput,
}

// LedgerError carries a kind and a user-facing message. errors.Is matches the
// kind's sentinel.
type LedgerError struct {
	Kind    ErrorKind
	Message string
	LineNo  string
	Err     error
}

func (e *LedgerError) Error() string {
	return e.Message
}

func (e *LedgerError) Unwrap() []error {
	errs := []error{kindSentinels[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewLedgerError builds a LedgerError with a formatted message.
func NewLedgerError(kind ErrorKind, format string, args ...interface{}) *LedgerError {
	return &LedgerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" if err is not a ledger error.
func KindOf(err error) ErrorKind {
	var ce *CompensationError
	if errors.As(err, &ce) {
		return KindCompensationFailure
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// IsBusinessError reports whether err is a ledger rule violation rather than
// an infrastructure failure.
func IsBusinessError(err error) bool {
	switch KindOf(err) {
	case "", KindCompensationFailure:
		return false
	default:
		return true
	}
}

func insufficientUnrestricted(label string, available, required interface{ String() string }) *LedgerError {
	return NewLedgerError(KindInsufficientUnrestricted,
		"Insufficient unrestricted quantity for %s. Available: %s, Required: %s", label, available, required)
}

func insufficientReserved(label string, available, required interface{ String() string }) *LedgerError {
	return NewLedgerError(KindInsufficientReserved,
		"Insufficient reserved quantity for %s. Available: %s, Required: %s", label, available, required)
}

// ActionFailure is one compensating action that could not be applied.
type ActionFailure struct {
	Action string
	Store  string
	ID     string
	Err    error
}

// CompensationError is raised when rolling back a failed unit of work left
// some writes in place. It wraps the original cause and every failure.
type CompensationError struct {
	Cause    error
	Failures []ActionFailure
	Applied  int
}

func (e *CompensationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s/%s: %v", f.Action, f.Store, f.ID, f.Err))
	}
	return fmt.Sprintf("compensation failed after %v: %d action(s) not reverted (%s)",
		e.Cause, len(e.Failures), strings.Join(parts, "; "))
}

func (e *CompensationError) Unwrap() []error {
	errs := []error{ErrCompensationFailure}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
