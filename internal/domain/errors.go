package domain

import "errors"

var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	// ErrCurrencyMismatch means a donation and a candidate funding pool disagree on currency.
	// It is a data-integrity failure and is never retried.
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrInvalidAmount    = errors.New("invalid amount")
	// ErrNegativeBalance is returned when an operation would leave a pool balance below zero.
	ErrNegativeBalance = errors.New("negative balance")
	// ErrBalanceInvariant signals a pool balance outside 0 <= available <= amount.
	ErrBalanceInvariant = errors.New("balance invariant violated")
	// ErrReservationRetriesExhausted is returned when the optimistic reservation loop
	// lost every compare-and-set race. Callers may retry the whole allocation.
	ErrReservationRetriesExhausted = errors.New("reservation retries exhausted")
	ErrAlreadyReversed             = errors.New("withdrawal already reversed")
)
