package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers value movement and account lifecycle.
	// These require durable storage and long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers authority changes and rejected requests.
	// These feed into monitoring and alerting pipelines.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the wallet service to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Category  EventCategory
	Timestamp time.Time
	// AccountID is the wallet account the action was requested on.
	AccountID string
	Action    string
	// Decision is "committed" or "denied".
	Decision string
	// Reason carries the denial kind or error code for denied actions.
	Reason       string
	Counterparty string
	Amount       string
	// Tier is the authority level exercised or found missing.
	Tier      string
	Signers   []string
	RequestID string
}

const (
	DecisionCommitted = "committed"
	DecisionDenied    = "denied"
)

type AuditEvent string

const (
	EventWalletCreated        AuditEvent = "wallet_created"
	EventDeposit              AuditEvent = "deposit"
	EventTransfer             AuditEvent = "transfer"
	EventSafeTransfer         AuditEvent = "safe_transfer"
	EventLowSecurityTransfer  AuditEvent = "low_security_transfer"
	EventHighSecurityTransfer AuditEvent = "high_security_transfer"

	EventOwnerGuardRotated        AuditEvent = "rotate_owner_guard"
	EventLowSecurityGuardRotated  AuditEvent = "rotate_low_security_guard"
	EventHighSecurityGuardRotated AuditEvent = "rotate_high_security_guard"
	EventGuardPoolRotated         AuditEvent = "rotate_guard_pool"
	EventGuardianRotated          AuditEvent = "rotate_guardian"

	EventLimitsUpdated               AuditEvent = "update_limits"
	EventMaxLowSecurityAmountUpdated AuditEvent = "update_max_low_security_amount"
	EventLowSecurityCooldownUpdated  AuditEvent = "update_low_security_cooldown"

	// EventActionDenied is recorded for every rejected mutating request.
	EventActionDenied AuditEvent = "action_denied"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventWalletCreated:        CategoryCompliance,
	EventDeposit:              CategoryCompliance,
	EventTransfer:             CategoryCompliance,
	EventSafeTransfer:         CategoryCompliance,
	EventLowSecurityTransfer:  CategoryCompliance,
	EventHighSecurityTransfer: CategoryCompliance,

	EventOwnerGuardRotated:        CategorySecurity,
	EventLowSecurityGuardRotated:  CategorySecurity,
	EventHighSecurityGuardRotated: CategorySecurity,
	EventGuardPoolRotated:         CategorySecurity,
	EventGuardianRotated:          CategorySecurity,
	EventActionDenied:             CategorySecurity,

	EventLimitsUpdated:               CategoryOperations,
	EventMaxLowSecurityAmountUpdated: CategoryOperations,
	EventLowSecurityCooldownUpdated:  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
