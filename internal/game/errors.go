package game

import "errors"

type Code string

const (
	CodeNotAccepting        Code = "NOT_ACCEPTING"
	CodeNotResolving        Code = "NOT_RESOLVING"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeInvalidTarget       Code = "INVALID_TARGET"
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeMissingBetID        Code = "MISSING_BET_ID"
	CodeBetNotFound         Code = "BET_NOT_FOUND"
	CodeAlreadyResolved     Code = "ALREADY_RESOLVED"
	CodeCashOutUnsupported  Code = "CASHOUT_UNSUPPORTED"
	CodeBusy                Code = "BUSY"
	CodeInternal            Code = "INTERNAL"
)

// Error is a rejected command. Two errors match under errors.Is when their
// codes are equal, so callers compare against the sentinels below.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotAccepting        = &Error{Code: CodeNotAccepting, Message: "Betting closed"}
	ErrNotResolving        = &Error{Code: CodeNotResolving, Message: "Round not running"}
	ErrInvalidAmount       = &Error{Code: CodeInvalidAmount, Message: "Invalid bet amount"}
	ErrInvalidTarget       = &Error{Code: CodeInvalidTarget, Message: "Invalid selection"}
	ErrUnauthenticated     = &Error{Code: CodeUnauthenticated, Message: "Authentication required"}
	ErrForbidden           = &Error{Code: CodeForbidden, Message: "Bet belongs to another user"}
	ErrInsufficientBalance = &Error{Code: CodeInsufficientBalance, Message: "Insufficient balance"}
	ErrMissingBetID        = &Error{Code: CodeMissingBetID, Message: "No bet id"}
	ErrBetNotFound         = &Error{Code: CodeBetNotFound, Message: "Bet not found"}
	ErrAlreadyResolved     = &Error{Code: CodeAlreadyResolved, Message: "Already cashed out"}
	ErrCashOutUnsupported  = &Error{Code: CodeCashOutUnsupported, Message: "Cash out is not available in this game"}
	ErrBusy                = &Error{Code: CodeBusy, Message: "Server busy, try again"}
	ErrInternal            = &Error{Code: CodeInternal, Message: "Server error"}
)

// CodeOf extracts the rejection code, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeInternal
}

func reject(err *Error) Ack {
	return Ack{OK: false, Code: err.Code, Message: err.Message}
}

func rejectf(err *Error, msg string) Ack {
	return Ack{OK: false, Code: err.Code, Message: msg}
}
