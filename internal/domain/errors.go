package domain

import (
	"errors"
	"fmt"
)

// Kind is the stable, client-visible classification of a failure.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindInvalidAmount     Kind = "InvalidAmountError"
	KindSameAccount       Kind = "SameAccountError"
	KindSenderNotFound    Kind = "SenderNotFoundError"
	KindReceiverNotFound  Kind = "ReceiverNotFoundError"
	KindInsufficientFunds Kind = "InsufficientFundsError"
	KindAccountNotFound   Kind = "AccountNotFound"
	KindStoreFault        Kind = "StoreFault"
)

// Error is a typed ledger failure. Message is safe to show to callers; Err
// keeps the underlying cause for logs and is never rendered by Error().
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels work with errors.Is
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrInvalidAmount     = &Error{Kind: KindInvalidAmount, Message: "invalid amount"}
	ErrSameAccount       = &Error{Kind: KindSameAccount, Message: "transferring money to the same account is not allowed"}
	ErrSenderNotFound    = &Error{Kind: KindSenderNotFound, Message: "sender account not found"}
	ErrReceiverNotFound  = &Error{Kind: KindReceiverNotFound, Message: "receiver account not found"}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrAccountNotFound   = &Error{Kind: KindAccountNotFound, Message: "account not found"}
	ErrStoreFault        = &Error{Kind: KindStoreFault, Message: "storage unavailable, please retry"}
)

// Validation builds a ValidationError with a specific message.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// InvalidAmount wraps a money rule violation.
func InvalidAmount(cause error) error {
	return &Error{Kind: KindInvalidAmount, Message: cause.Error(), Err: cause}
}

// StoreFault wraps a persistence failure. The cause is kept for logging only.
func StoreFault(cause error) error {
	if cause == nil {
		return nil
	}
	var de *Error
	if errors.As(cause, &de) {
		return cause
	}
	return &Error{Kind: KindStoreFault, Message: ErrStoreFault.Message, Err: cause}
}

// KindOf classifies err. Anything that is not a *Error is a StoreFault.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindStoreFault
}

// PublicMessage returns the caller-safe detail for err.
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ErrStoreFault.Message
}
