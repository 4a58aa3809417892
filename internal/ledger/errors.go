package ledger

import (
	"errors"
	"fmt"
)

// Error kinds shared by the ledger, the compliance gate and the withdrawal
// coordinator. Match them with errors.Is.
var (
	ErrValidation             = errors.New("validation error")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrInsufficientAllocation = errors.New("insufficient allocation")
	ErrSplitViolation         = errors.New("split violation")
	ErrCompliance             = errors.New("compliance error")
	ErrBankTransfer           = errors.New("bank transfer error")
	ErrBlockchainRecording    = errors.New("blockchain recording error")
	ErrExchangeRate           = errors.New("exchange rate unavailable")
	ErrNotFound               = errors.New("not found")
	ErrStaleConstitution      = errors.New("stale constitution")
	ErrFicaVerificationFailed = errors.New("fica verification failed")
	ErrUserWithdrawalsLocked  = errors.New("user withdrawals locked")
	ErrInvariant              = errors.New("ledger invariant violated")
)

// Error carries a kind plus enough context to reconstruct the decision in
// the audit log.
type Error struct {
	Kind      error
	FounderID string
	Msg       string
	Details   map[string]any
	Err       error
}

// NewError builds an Error of the given kind.
func NewError(kind error, founderID, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		FounderID: founderID,
		Msg:       fmt.Sprintf(format, args...),
	}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// With attaches a detail to the error and returns it.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Wrap records the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// KindOf returns the error kind of err, or nil when err carries none.
func KindOf(err error) error {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return nil
}
