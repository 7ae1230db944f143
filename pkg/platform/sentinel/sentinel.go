package sentinel

import "errors"

// Sentinel errors for storage and ledger facts. Stores and adapters return
// these (optionally wrapped with fmt.Errorf("...: %w")) and the wallet service
// translates them into coded domain errors or policy denials.
//
//   - ErrNotFound: account record or ledger account does not exist
//   - ErrAlreadyUsed: identifier or idempotency key is already taken
//   - ErrConflict: stored state changed underneath the caller
//   - ErrInsufficientFunds: a ledger debit exceeds the available balance
//   - ErrUnauthorized: the ledger account's controlling guard was not satisfied
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyUsed       = errors.New("already used")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrUnavailable       = errors.New("unavailable")
)
