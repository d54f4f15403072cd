package domain

import "errors"

// Validation and lookup failures surfaced synchronously to the caller.
// Background failures are never raised as errors past the owning worker;
// they land in the entity's state (Transaction.LastError, SyncJob.LastError)
// instead.
var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrSelfTransfer         = errors.New("cannot transfer to the same account")
	ErrNotAccountOwner      = errors.New("account not owned by caller")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountNotLinked     = errors.New("account has no external reference")
	ErrClearingUnconfigured = errors.New("no clearing account configured")
	ErrInsufficientFunds    = errors.New("insufficient funds")
)
