package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"warden/internal/guard"
	"warden/internal/wallet/models"
	"warden/internal/wallet/service"
	audit "warden/pkg/platform/audit"
)

type AccountResponse struct {
	ID        string           `json:"id"`
	Variant   string           `json:"variant"`
	Version   int64            `json:"version"`
	Static    *StaticResponse  `json:"static,omitempty"`
	TwoTier   *TwoTierResponse `json:"two_tier,omitempty"`
	Dynamic   *DynamicResponse `json:"dynamic,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type StaticResponse struct {
	OwnerGuard      guard.Guard `json:"owner_guard"`
	MaxWithdrawal   string      `json:"max_withdrawal"`
	MinBalance      string      `json:"min_balance"`
	CooldownSeconds int64       `json:"cooldown_seconds"`
	LastActivityAt  *time.Time  `json:"last_activity_at,omitempty"`
}

type TwoTierResponse struct {
	LowSecurityGuard            guard.Guard `json:"low_security_guard"`
	HighSecurityGuard           guard.Guard `json:"high_security_guard"`
	MaxLowSecurityAmount        string      `json:"max_low_security_amount"`
	LowSecurityCooldownSeconds  int64       `json:"low_security_cooldown_seconds"`
	LastLowSecurityWithdrawalAt *time.Time  `json:"last_low_security_withdrawal_at,omitempty"`
}

type DynamicResponse struct {
	Guards        []guard.Guard `json:"guards"`
	GuardianGuard guard.Guard   `json:"guardian_guard"`
}

func FromAccount(a *models.Account) AccountResponse {
	resp := AccountResponse{
		ID:        a.ID,
		Variant:   string(a.Variant),
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	switch {
	case a.Static != nil:
		resp.Static = &StaticResponse{
			OwnerGuard:      a.Static.OwnerGuard,
			MaxWithdrawal:   a.Static.MaxWithdrawal.String(),
			MinBalance:      a.Static.MinBalance.String(),
			CooldownSeconds: int64(a.Static.Cooldown / time.Second),
			LastActivityAt:  optionalTime(a.Static.LastActivityAt),
		}
	case a.TwoTier != nil:
		resp.TwoTier = &TwoTierResponse{
			LowSecurityGuard:            a.TwoTier.LowSecurityGuard,
			HighSecurityGuard:           a.TwoTier.HighSecurityGuard,
			MaxLowSecurityAmount:        a.TwoTier.MaxLowSecurityAmount.String(),
			LowSecurityCooldownSeconds:  int64(a.TwoTier.LowSecurityCooldown / time.Second),
			LastLowSecurityWithdrawalAt: optionalTime(a.TwoTier.LastLowSecurityWithdrawalAt),
		}
	case a.Dynamic != nil:
		resp.Dynamic = &DynamicResponse{Guards: a.Dynamic.Guards, GuardianGuard: a.Dynamic.GuardianGuard}
	}
	return resp
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// SessionResponse reports a committed mutating action.
type SessionResponse struct {
	Action       string          `json:"action"`
	Account      AccountResponse `json:"account"`
	KeysRequired int             `json:"keys_required,omitempty"`
	KeysSigned   int             `json:"keys_signed,omitempty"`
}

func FromResult(r *service.Result) SessionResponse {
	return SessionResponse{
		Action:       string(r.Action),
		Account:      FromAccount(r.Account),
		KeysRequired: r.KeysRequired,
		KeysSigned:   r.KeysSigned,
	}
}

type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

func balanceResponse(id string, b decimal.Decimal) BalanceResponse {
	return BalanceResponse{AccountID: id, Balance: b.String()}
}

type KeysNeededResponse struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	Balance   string `json:"balance"`
	Needed    int    `json:"keys_needed"`
	PoolSize  int    `json:"pool_size"`
}

type PreviewResponse struct {
	Allowed      bool           `json:"allowed"`
	Denial       map[string]any `json:"denial,omitempty"`
	KeysRequired int            `json:"keys_required,omitempty"`
	KeysSigned   int            `json:"keys_signed,omitempty"`
}

func fromPreview(p *service.Preview) PreviewResponse {
	resp := PreviewResponse{Allowed: p.Allowed, KeysRequired: p.KeysRequired, KeysSigned: p.KeysSigned}
	if p.Denial != nil {
		resp.Denial = p.Denial.Details()
	}
	return resp
}

type WalletListResponse struct {
	Wallets []AccountResponse `json:"wallets"`
}

type AuditEventResponse struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	Decision     string    `json:"decision"`
	Reason       string    `json:"reason,omitempty"`
	Counterparty string    `json:"counterparty,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	Tier         string    `json:"tier,omitempty"`
	Signers      []string  `json:"signers,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}

type AuditListResponse struct {
	AccountID string               `json:"account_id"`
	Events    []AuditEventResponse `json:"events"`
}

func fromEvents(accountID string, events []audit.Event) AuditListResponse {
	out := AuditListResponse{AccountID: accountID, Events: make([]AuditEventResponse, 0, len(events))}
	for _, e := range events {
		out.Events = append(out.Events, AuditEventResponse{
			ID:           e.ID.String(),
			Category:     string(e.Category),
			Timestamp:    e.Timestamp,
			Action:       e.Action,
			Decision:     e.Decision,
			Reason:       e.Reason,
			Counterparty: e.Counterparty,
			Amount:       e.Amount,
			Tier:         e.Tier,
			Signers:      e.Signers,
			RequestID:    e.RequestID,
		})
	}
	return out
}
