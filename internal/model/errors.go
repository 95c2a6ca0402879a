package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by repositories, services and handlers. Handlers
// translate them into HTTP status codes; see handler.writeError.
var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrAlreadyHeld          = errors.New("unit already held")
	ErrUnknownUnit          = errors.New("unknown unit")
	ErrPoolInactive         = errors.New("pool is not active")
	ErrInvalidUnits         = errors.New("at least one unit is required")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrNotCancellable       = errors.New("booking is not cancellable")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrAmountMismatch       = errors.New("amount or currency mismatch")
	ErrCurrencyMismatch     = errors.New("currency mismatch")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrUnknownReference     = errors.New("unknown reference")
	ErrUnknownGateway       = errors.New("unknown gateway")
	ErrHoldNotDue           = errors.New("entry is still in its hold period")
	ErrEmailExists          = errors.New("email already exists")
	ErrInvalidInput         = errors.New("invalid input")

	// ErrConflict marks a lost race on a check-and-set or a storage level
	// deadlock. It is retried internally and never shown to callers as is.
	ErrConflict = errors.New("concurrent update conflict")
)

// UnitError reports which units made a hold request fail. It unwraps to
// ErrAlreadyHeld or ErrUnknownUnit.
type UnitError struct {
	Err   error
	Units []string
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, strings.Join(e.Units, ","))
}

func (e *UnitError) Unwrap() error { return e.Err }
