package handler

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"warden/internal/guard"
	"warden/internal/wallet/models"
	dErrors "warden/pkg/domain-errors"
)

// CreateWalletRequest is the body of POST /wallets.
type CreateWalletRequest struct {
	AccountID string                `json:"account_id" validate:"required,max=128"`
	Variant   string                `json:"variant" validate:"required,oneof=static two_tier dynamic"`
	Static    *StaticPolicyRequest  `json:"static,omitempty"`
	TwoTier   *TwoTierPolicyRequest `json:"two_tier,omitempty"`
	Dynamic   *DynamicPolicyRequest `json:"dynamic,omitempty"`
}

type StaticPolicyRequest struct {
	OwnerGuard      guard.Guard `json:"owner_guard"`
	MaxWithdrawal   string      `json:"max_withdrawal" validate:"required,numeric"`
	MinBalance      string      `json:"min_balance" validate:"omitempty,numeric"`
	CooldownSeconds int64       `json:"cooldown_seconds" validate:"gte=0,lte=315360000"`
}

type TwoTierPolicyRequest struct {
	LowSecurityGuard           guard.Guard `json:"low_security_guard"`
	HighSecurityGuard          guard.Guard `json:"high_security_guard"`
	MaxLowSecurityAmount       string      `json:"max_low_security_amount" validate:"required,numeric"`
	LowSecurityCooldownSeconds int64       `json:"low_security_cooldown_seconds" validate:"gte=0,lte=315360000"`
}

type DynamicPolicyRequest struct {
	Guards        []guard.Guard `json:"guards" validate:"required,min=1"`
	GuardianGuard guard.Guard   `json:"guardian_guard"`
}

func (r *CreateWalletRequest) Normalize() {
	r.AccountID = strings.TrimSpace(r.AccountID)
	r.Variant = strings.ToLower(strings.TrimSpace(r.Variant))
}

// ToModel converts the body into the service request. Amounts are parsed
// exactly; guard shape is checked by the service.
func (r *CreateWalletRequest) ToModel() (*models.CreateWalletRequest, error) {
	out := &models.CreateWalletRequest{AccountID: r.AccountID, Variant: models.Variant(r.Variant)}
	if r.Static != nil {
		maxW, err := parseAmount("static.max_withdrawal", r.Static.MaxWithdrawal)
		if err != nil {
			return nil, err
		}
		minB, err := parseAmount("static.min_balance", r.Static.MinBalance)
		if err != nil {
			return nil, err
		}
		out.Static = &models.StaticPolicy{
			OwnerGuard:    r.Static.OwnerGuard,
			MaxWithdrawal: maxW,
			MinBalance:    minB,
			Cooldown:      seconds(r.Static.CooldownSeconds),
		}
	}
	if r.TwoTier != nil {
		maxLow, err := parseAmount("two_tier.max_low_security_amount", r.TwoTier.MaxLowSecurityAmount)
		if err != nil {
			return nil, err
		}
		out.TwoTier = &models.TwoTierPolicy{
			LowSecurityGuard:     r.TwoTier.LowSecurityGuard,
			HighSecurityGuard:    r.TwoTier.HighSecurityGuard,
			MaxLowSecurityAmount: maxLow,
			LowSecurityCooldown:  seconds(r.TwoTier.LowSecurityCooldownSeconds),
		}
	}
	if r.Dynamic != nil {
		out.Dynamic = &models.DynamicPolicy{
			Guards:        r.Dynamic.Guards,
			GuardianGuard: r.Dynamic.GuardianGuard,
		}
	}
	return out, nil
}

// AmountRequest is the body of deposits and policy amount updates.
type AmountRequest struct {
	Amount string `json:"amount" validate:"required,numeric"`

	parsed decimal.Decimal
}

func (r *AmountRequest) Validate() error {
	amount, err := parseAmount("amount", r.Amount)
	if err != nil {
		return err
	}
	r.parsed = amount
	return nil
}

// TransferRequest is the body of every transfer endpoint. ReceiverGuard is
// required by safe transfers only.
type TransferRequest struct {
	To            string       `json:"to" validate:"required,max=128"`
	Amount        string       `json:"amount" validate:"required,numeric"`
	ReceiverGuard *guard.Guard `json:"receiver_guard,omitempty"`

	parsed decimal.Decimal
}

func (r *TransferRequest) Normalize() {
	r.To = strings.TrimSpace(r.To)
}

func (r *TransferRequest) Validate() error {
	amount, err := parseAmount("amount", r.Amount)
	if err != nil {
		return err
	}
	r.parsed = amount
	return nil
}

func (r *TransferRequest) receiverGuard() (guard.Guard, error) {
	if r.ReceiverGuard == nil {
		return guard.Guard{}, dErrors.New(dErrors.CodeValidation, "receiver_guard is required")
	}
	return *r.ReceiverGuard, nil
}

// CheckTransferRequest is the body of the dry-run endpoint.
type CheckTransferRequest struct {
	Kind string `json:"kind" validate:"required,oneof=transfer safe_transfer low_security_transfer high_security_transfer"`
	TransferRequest
}

func (r *CheckTransferRequest) Normalize() {
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
	r.TransferRequest.Normalize()
}

// Action builds the requested transfer action.
func (r *CheckTransferRequest) Action() (models.Action, error) {
	switch models.ActionKind(r.Kind) {
	case models.ActionSafeTransfer:
		g, err := r.receiverGuard()
		if err != nil {
			return models.Action{}, err
		}
		return models.SafeTransferAction(r.To, g, r.parsed), nil
	case models.ActionLowSecurityTransfer:
		return models.LowSecurityTransferAction(r.To, r.parsed), nil
	case models.ActionHighSecurityTransfer:
		return models.HighSecurityTransferAction(r.To, r.parsed), nil
	}
	return models.TransferAction(r.To, r.parsed), nil
}

// GuardRequest is the body of single-guard rotations.
type GuardRequest struct {
	Guard guard.Guard `json:"guard"`
}

type GuardPoolRequest struct {
	Guards []guard.Guard `json:"guards" validate:"required,min=1"`
}

type LimitsRequest struct {
	MaxWithdrawal   string `json:"max_withdrawal" validate:"required,numeric"`
	MinBalance      string `json:"min_balance" validate:"omitempty,numeric"`
	CooldownSeconds int64  `json:"cooldown_seconds" validate:"gte=0,lte=315360000"`

	parsed models.StaticLimits
}

func (r *LimitsRequest) Validate() error {
	maxW, err := parseAmount("max_withdrawal", r.MaxWithdrawal)
	if err != nil {
		return err
	}
	minB, err := parseAmount("min_balance", r.MinBalance)
	if err != nil {
		return err
	}
	r.parsed = models.StaticLimits{MaxWithdrawal: maxW, MinBalance: minB, Cooldown: seconds(r.CooldownSeconds)}
	return r.parsed.Validate()
}

type CooldownRequest struct {
	CooldownSeconds int64 `json:"cooldown_seconds" validate:"gte=0,lte=315360000"`
}

// parseAmount parses an exact decimal. An empty value is zero.
func parseAmount(field, v string) (decimal.Decimal, error) {
	if strings.TrimSpace(v) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, dErrors.New(dErrors.CodeValidation, field+" must be a decimal number")
	}
	if d.IsNegative() {
		return decimal.Zero, dErrors.New(dErrors.CodeValidation, field+" must be non-negative")
	}
	return d, nil
}

// maxCooldownSeconds bounds every cooldown field to ten years, well inside
// the range time.Duration can hold.
const maxCooldownSeconds = 10 * 365 * 24 * 60 * 60

func seconds(n int64) time.Duration {
	return time.Duration(min(n, maxCooldownSeconds)) * time.Second
}
