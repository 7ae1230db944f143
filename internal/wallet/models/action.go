package models

import (
	"time"

	"github.com/shopspring/decimal"

	"warden/internal/guard"
	dErrors "warden/pkg/domain-errors"
)

// ActionKind names a requested wallet operation.
type ActionKind string

const (
	ActionTransfer                   ActionKind = "transfer"
	ActionSafeTransfer               ActionKind = "safe_transfer"
	ActionLowSecurityTransfer        ActionKind = "low_security_transfer"
	ActionHighSecurityTransfer       ActionKind = "high_security_transfer"
	ActionRotateOwnerGuard           ActionKind = "rotate_owner_guard"
	ActionUpdateLimits               ActionKind = "update_limits"
	ActionRotateLowSecurityGuard     ActionKind = "rotate_low_security_guard"
	ActionRotateHighSecurityGuard    ActionKind = "rotate_high_security_guard"
	ActionUpdateMaxLowSecurityAmount ActionKind = "update_max_low_security_amount"
	ActionUpdateLowSecurityCooldown  ActionKind = "update_low_security_cooldown"
	ActionRotateGuardPool            ActionKind = "rotate_guard_pool"
	ActionRotateGuardian             ActionKind = "rotate_guardian"
)

// MovesFunds reports whether the action debits the wallet's ledger account.
func (k ActionKind) MovesFunds() bool {
	switch k {
	case ActionTransfer, ActionSafeTransfer, ActionLowSecurityTransfer, ActionHighSecurityTransfer:
		return true
	}
	return false
}

// Action describes one requested operation. Only the fields relevant to Kind
// are set; build it with the constructors below.
type Action struct {
	Kind          ActionKind
	To            string
	Amount        decimal.Decimal
	ReceiverGuard guard.Guard
	NewGuard      guard.Guard
	NewPool       []guard.Guard
	Limits        StaticLimits
	Cooldown      time.Duration
}

func TransferAction(to string, amount decimal.Decimal) Action {
	return Action{Kind: ActionTransfer, To: to, Amount: amount}
}

// SafeTransferAction sends amount to an account that must be controlled by
// receiverGuard, proving control by reclaiming a small surplus.
func SafeTransferAction(to string, receiverGuard guard.Guard, amount decimal.Decimal) Action {
	return Action{Kind: ActionSafeTransfer, To: to, ReceiverGuard: receiverGuard.Clone(), Amount: amount}
}

func LowSecurityTransferAction(to string, amount decimal.Decimal) Action {
	return Action{Kind: ActionLowSecurityTransfer, To: to, Amount: amount}
}

func HighSecurityTransferAction(to string, amount decimal.Decimal) Action {
	return Action{Kind: ActionHighSecurityTransfer, To: to, Amount: amount}
}

// RotateAction replaces a single guard. kind must be one of the rotate kinds
// that take one guard.
func RotateAction(kind ActionKind, newGuard guard.Guard) Action {
	return Action{Kind: kind, NewGuard: newGuard.Clone()}
}

func RotateGuardPoolAction(pool []guard.Guard) Action {
	return Action{Kind: ActionRotateGuardPool, NewPool: guard.CloneAll(pool)}
}

func UpdateLimitsAction(l StaticLimits) Action {
	return Action{Kind: ActionUpdateLimits, Limits: l}
}

func UpdateMaxLowSecurityAmountAction(amount decimal.Decimal) Action {
	return Action{Kind: ActionUpdateMaxLowSecurityAmount, Amount: amount}
}

func UpdateLowSecurityCooldownAction(d time.Duration) Action {
	return Action{Kind: ActionUpdateLowSecurityCooldown, Cooldown: d}
}

// Validate checks the request shape. Policy decisions happen in the strategies.
func (a Action) Validate(accountID string) error {
	switch a.Kind {
	case ActionTransfer, ActionSafeTransfer, ActionLowSecurityTransfer, ActionHighSecurityTransfer:
		if err := ValidateAccountID(a.To); err != nil {
			return dErrors.New(dErrors.CodeValidation, "destination account is required")
		}
		if a.To == accountID {
			return dErrors.New(dErrors.CodeValidation, "cannot transfer to the same account")
		}
		if a.Amount.IsNegative() {
			return dErrors.New(dErrors.CodeValidation, "amount must be non-negative")
		}
		if a.Kind == ActionSafeTransfer {
			return ValidatePolicyGuard("receiver_guard", a.ReceiverGuard)
		}
		return nil
	case ActionRotateOwnerGuard, ActionRotateLowSecurityGuard, ActionRotateHighSecurityGuard, ActionRotateGuardian:
		return ValidatePolicyGuard("new_guard", a.NewGuard)
	case ActionRotateGuardPool:
		return ValidateGuardPool(a.NewPool)
	case ActionUpdateLimits:
		return a.Limits.Validate()
	case ActionUpdateMaxLowSecurityAmount:
		if a.Amount.IsNegative() {
			return dErrors.New(dErrors.CodeValidation, "max_low_security_amount must be non-negative")
		}
		return nil
	case ActionUpdateLowSecurityCooldown:
		if a.Cooldown < 0 {
			return dErrors.New(dErrors.CodeValidation, "low_security_cooldown must be non-negative")
		}
		return nil
	}
	return dErrors.New(dErrors.CodeBadRequest, "unknown action")
}
