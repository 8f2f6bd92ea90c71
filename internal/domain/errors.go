package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrLockHeld           = errors.New("lock already held")
	ErrCycleBusy          = errors.New("cycle not open")
	ErrCycleNotDue        = errors.New("cycle not due")
	ErrInvalidTransition  = errors.New("invalid cycle transition")
	ErrListingNotActive   = errors.New("listing not active")
	ErrOrderNotPending    = errors.New("order not pending")
	ErrInsufficientEscrow = errors.New("insufficient escrow")
	ErrNoOrders           = errors.New("no pending orders")
	ErrInvariant          = errors.New("ledger invariant violated")
)

// InvariantError reports a data-integrity problem found while settling a
// single listing. It aborts that listing only; the cycle carries on.
type InvariantError struct {
	ListingID string
	OrderID   string
	Err       error
}

func (e *InvariantError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("invariant: listing %s order %s: %v", e.ListingID, e.OrderID, e.Err)
	}
	return fmt.Sprintf("invariant: listing %s: %v", e.ListingID, e.Err)
}

func (e *InvariantError) Unwrap() []error {
	return []error{ErrInvariant, e.Err}
}

// IsInvariant reports whether err is (or wraps) an invariant violation.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariant)
}
