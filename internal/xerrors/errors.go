// Package xerrors defines the structured error taxonomy used across the
// matching core, grouped the way spec §7 enumerates them: Admission,
// Flow-control, Runtime and Integrity. Every kind carries a fixed Class so
// callers can decide propagation (reject event, halt symbol, exit process)
// without string-matching messages.
package xerrors

import (
	"fmt"
	"time"
)

// Class says how an error must propagate.
type Class string

const (
	ClassAdmission    Class = "admission"
	ClassFlowControl  Class = "flow_control"
	ClassRuntime      Class = "runtime"
	ClassIntegrity    Class = "integrity"
)

// Code enumerates every error kind named in spec §7.
type Code string

const (
	// Admission — produce OrderRejected, no book side effects.
	CodeBadSymbol         Code = "BAD_SYMBOL"
	CodeBadPrice          Code = "BAD_PRICE"
	CodeBadQuantity       Code = "BAD_QUANTITY"
	CodeUnknownAccount    Code = "UNKNOWN_ACCOUNT"
	CodePriceOutOfBand    Code = "PRICE_OUT_OF_BAND"
	CodePostOnlyCross     Code = "POST_ONLY_CROSS"
	CodeSelfMatch         Code = "SELF_MATCH"
	CodeInsufficientFunds Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientPos   Code = "INSUFFICIENT_POSITION"

	// Flow-control — produced by the router (backpressure) or by
	// Engine.Submit (draining, halted) before the order reaches matching.
	CodeBackpressureReject Code = "BACKPRESSURE_REJECT"
	CodeEngineDraining     Code = "ENGINE_DRAINING"
	CodeHalted             Code = "HALTED"

	// Runtime — terminal for the affected order.
	CodeInsufficientLiquidity Code = "INSUFFICIENT_LIQUIDITY"
	CodeIOCRemaining          Code = "IOC_REMAINING"
	CodeReservationExpired    Code = "RESERVATION_EXPIRED"

	// Integrity — fatal to the symbol or the process.
	CodeDeterminismViolation Code = "DETERMINISM_VIOLATION"
	CodeWalCorruption        Code = "WAL_CORRUPTION"
	CodeSnapshotCorruption   Code = "SNAPSHOT_CORRUPTION"
	CodeAccountInvariant     Code = "ACCOUNT_INVARIANT_BREACH"
)

var classByCode = map[Code]Class{
	CodeBadSymbol:         ClassAdmission,
	CodeBadPrice:          ClassAdmission,
	CodeBadQuantity:       ClassAdmission,
	CodeUnknownAccount:    ClassAdmission,
	CodePriceOutOfBand:    ClassAdmission,
	CodePostOnlyCross:     ClassAdmission,
	CodeSelfMatch:         ClassAdmission,
	CodeInsufficientFunds: ClassAdmission,
	CodeInsufficientPos:   ClassAdmission,

	CodeBackpressureReject: ClassFlowControl,
	CodeEngineDraining:     ClassFlowControl,
	CodeHalted:             ClassFlowControl,

	CodeInsufficientLiquidity: ClassRuntime,
	CodeIOCRemaining:          ClassRuntime,
	CodeReservationExpired:    ClassRuntime,

	CodeDeterminismViolation: ClassIntegrity,
	CodeWalCorruption:        ClassIntegrity,
	CodeSnapshotCorruption:   ClassIntegrity,
	CodeAccountInvariant:     ClassIntegrity,
}

// Error is the structured error type produced and consumed throughout the
// core. It deliberately carries no stack trace or caller frame — the hot
// path must not pay for runtime.Caller on every rejection.
type Error struct {
	Code      Code
	Class     Class
	Message   string
	SymbolID  int64
	OrderID   uint64
	Cause     error
	Timestamp time.Time
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (symbol=%d order=%d): %s: %v", e.Code, e.Class, e.SymbolID, e.OrderID, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s (symbol=%d order=%d): %s", e.Code, e.Class, e.SymbolID, e.OrderID, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error for code, resolving its Class from the fixed table.
func New(code Code, message string) *Error {
	return &Error{Code: code, Class: classByCode[code], Message: message, Timestamp: time.Now()}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code/class to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	e := New(code, message)
	e.Cause = err
	return e
}

// WithOrder annotates the error with the order/symbol it concerns.
func (e *Error) WithOrder(symbolID int64, orderID uint64) *Error {
	e.SymbolID = symbolID
	e.OrderID = orderID
	return e
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var xe *Error
	if As(err, &xe) {
		return xe.Code == code
	}
	return false
}

// As walks err's Unwrap chain looking for *Error.
func As(err error, target **Error) bool {
	for err != nil {
		if xe, ok := err.(*Error); ok {
			*target = xe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsFatal reports whether an error's class escalates beyond the order that
// triggered it (Integrity errors halt a symbol or the process).
func IsFatal(err error) bool {
	var xe *Error
	if As(err, &xe) {
		return xe.Class == ClassIntegrity
	}
	return false
}
