package ledger

import "errors"

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrROINotComplete        = errors.New("roi cycle not complete")
	ErrAlreadyActivatedToday = errors.New("already activated today")
	ErrWithdrawalNotFound    = errors.New("withdrawal not found")
	ErrWithdrawalNotPending  = errors.New("withdrawal not pending")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrUnknownBucket         = errors.New("unknown wallet bucket")
	ErrInvariantViolated     = errors.New("ledger invariant violated")
	ErrDuplicateTransaction  = errors.New("transaction reference already recorded")
)
