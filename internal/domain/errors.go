package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount               = errors.New("invalid amount")
	ErrInsufficientBalance         = errors.New("insufficient balance")
	ErrInsufficientListingQuantity = errors.New("insufficient listing quantity")
	ErrSelfTradeRejected           = errors.New("self trade rejected")
	ErrSelfTransferRejected        = errors.New("self transfer rejected")
	ErrInvalidState                = errors.New("invalid state")
	ErrInvalidStateTransition      = errors.New("invalid state transition")
	ErrExcessSurrender             = errors.New("excess surrender")
	ErrInvalidRecordState          = errors.New("invalid record state")
	ErrBusy                        = errors.New("resource busy")

	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
)

// kinds lists every sentinel in the order KindOf checks them.
var kinds = []error{
	ErrInvalidAmount,
	ErrInsufficientBalance,
	ErrInsufficientListingQuantity,
	ErrSelfTradeRejected,
	ErrSelfTransferRejected,
	ErrInvalidStateTransition,
	ErrInvalidState,
	ErrExcessSurrender,
	ErrInvalidRecordState,
	ErrBusy,
	ErrNotFound,
	ErrForbidden,
	ErrAlreadyExists,
	ErrInvalidInput,
}

// FieldError attaches the offending field and a human readable detail to an error kind.
type FieldError struct {
	Kind   error
	Field  string
	Detail string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Detail)
}

func (e *FieldError) Unwrap() error {
	return e.Kind
}

func NewFieldError(kind error, field, format string, args ...any) error {
	return &FieldError{Kind: kind, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the sentinel an error wraps, or nil for unclassified errors.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// FieldOf returns the field recorded on a FieldError anywhere in the chain.
func FieldOf(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Field
	}
	return ""
}

// IsRetryable reports whether a caller may retry the failed call unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
