package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"warden/internal/guard"
	dErrors "warden/pkg/domain-errors"
)

func key(n int) string {
	return fmt.Sprintf("%064x", n)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func staticPolicy() StaticPolicy {
	return StaticPolicy{
		OwnerGuard:    guard.MustKeyset(guard.KeysAll, key(1)),
		MaxWithdrawal: dec("20"),
		MinBalance:    dec("20"),
		Cooldown:      time.Minute,
	}
}

type AccountSuite struct {
	suite.Suite
}

func TestAccountSuite(t *testing.T) {
	suite.Run(t, new(AccountSuite))
}

func (s *AccountSuite) TestConstructors() {
	s.Run("static", func() {
		a, err := NewStaticAccount(" alice ", staticPolicy(), t0)
		s.Require().NoError(err)
		s.Equal("alice", a.ID)
		s.Equal(VariantStatic, a.Variant)
		s.Equal(int64(1), a.Version)
		s.NoError(a.Validate())
	})

	s.Run("rejects invalid input", func() {
		noID := staticPolicy()
		_, err := NewStaticAccount("", noID, t0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		moduleOwner := staticPolicy()
		moduleOwner.OwnerGuard = guard.NewModule("warden")
		_, err = NewStaticAccount("alice", moduleOwner, t0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "policy guards must be keysets")

		negative := staticPolicy()
		negative.MinBalance = dec("-1")
		_, err = NewStaticAccount("alice", negative, t0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = NewDynamicAccount("carol", DynamicPolicy{GuardianGuard: guard.MustKeyset(guard.KeysAny, key(9))}, t0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "empty pool")

		twice := guard.MustKeyset(guard.KeysAll, key(1))
		_, err = NewDynamicAccount("carol", DynamicPolicy{
			Guards:        []guard.Guard{twice, guard.MustKeyset(guard.KeysAll, key(1))},
			GuardianGuard: guard.MustKeyset(guard.KeysAny, key(9)),
		}, t0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "duplicate pool entries")

		_, err = NewTwoTierAccount("bob", TwoTierPolicy{
			LowSecurityGuard:     guard.MustKeyset(guard.KeysAny, key(1)),
			HighSecurityGuard:    guard.MustKeyset(guard.KeysAny, key(2)),
			MaxLowSecurityAmount: dec("1"),
			LowSecurityCooldown:  -time.Second,
		}, t0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *AccountSuite) TestCloneIsDeep() {
	a, err := NewDynamicAccount("carol", DynamicPolicy{
		Guards:        []guard.Guard{guard.MustKeyset(guard.KeysAny, key(1)), guard.MustKeyset(guard.KeysAny, key(2))},
		GuardianGuard: guard.MustKeyset(guard.KeysAny, key(9)),
	}, t0)
	s.Require().NoError(err)

	c := a.Clone()
	c.Dynamic.Guards[0].Keys[0] = key(7)
	c.ApplyGuardianRotation(guard.MustKeyset(guard.KeysAny, key(8)), t0)

	s.Equal(key(1), a.Dynamic.Guards[0].Keys[0])
	s.True(a.Dynamic.GuardianGuard.Equal(guard.MustKeyset(guard.KeysAny, key(9))))
	s.Equal(int64(1), a.Version)
}

func (s *AccountSuite) TestSignerKeys() {
	a, err := NewTwoTierAccount("bob", TwoTierPolicy{
		LowSecurityGuard:     guard.MustKeyset(guard.KeysAny, key(2), key(1)),
		HighSecurityGuard:    guard.MustKeyset(guard.Keys2, key(1), key(3)),
		MaxLowSecurityAmount: dec("5"),
	}, t0)
	s.Require().NoError(err)

	s.Equal([]string{key(1), key(2), key(3)}, a.SignerKeys())
}

func (s *AccountSuite) TestCooldownTimestampOnlyAdvances() {
	a, err := NewStaticAccount("alice", staticPolicy(), t0)
	s.Require().NoError(err)

	later := t0.Add(time.Hour)
	a.ApplyStaticWithdrawal(later)
	a.ApplyStaticWithdrawal(t0)

	s.Equal(later, a.Static.LastActivityAt)
	s.Equal(int64(3), a.Version)
}

func (s *AccountSuite) TestApplyLimitsKeepsTimestamp() {
	a, err := NewStaticAccount("alice", staticPolicy(), t0)
	s.Require().NoError(err)
	a.ApplyStaticWithdrawal(t0)

	a.ApplyStaticLimits(StaticLimits{MaxWithdrawal: dec("1"), MinBalance: dec("0"), Cooldown: 0}, t0.Add(time.Second))

	s.Equal(t0, a.Static.LastActivityAt)
	s.True(a.Static.MaxWithdrawal.Equal(dec("1")))
	s.Equal(t0.Add(time.Second), a.UpdatedAt)
}

func TestActionValidate(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		code   dErrors.Code
	}{
		{"negative amount", TransferAction("bob", dec("-0.01")), dErrors.CodeValidation},
		{"missing destination", TransferAction("", dec("1")), dErrors.CodeValidation},
		{"self transfer", TransferAction("alice", dec("1")), dErrors.CodeValidation},
		{"module receiver guard", SafeTransferAction("bob", guard.NewModule("warden"), dec("1")), dErrors.CodeValidation},
		{"empty pool", RotateGuardPoolAction(nil), dErrors.CodeValidation},
		{"duplicate pool entries", RotateGuardPoolAction([]guard.Guard{
			guard.MustKeyset(guard.KeysAny, key(1), key(2)),
			guard.MustKeyset(guard.KeysAll, key(3)),
			guard.MustKeyset(guard.KeysAny, key(1), key(2)),
		}), dErrors.CodeValidation},
		{"negative cooldown", UpdateLowSecurityCooldownAction(-time.Second), dErrors.CodeValidation},
		{"unknown kind", Action{Kind: "freeze"}, dErrors.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate("alice")
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}

	assert.NoError(t, TransferAction("bob", decimal.Zero).Validate("alice"), "zero amounts are valid requests")
}

func TestDenial(t *testing.T) {
	err := InsufficientSignatures(2, 1)

	d, ok := AsDenial(fmt.Errorf("session: %w", err))
	require.True(t, ok)
	assert.Equal(t, DenialInsufficientSignatures, d.Kind)
	assert.Equal(t, 1, d.Missing)
	assert.True(t, dErrors.Is(err, dErrors.CodePolicyDenied))
	assert.Equal(t, "1 of 2 required signatures present, 1 missing", err.Error())

	rl := RateLimited(30 * time.Second)
	assert.True(t, dErrors.Is(rl, dErrors.CodeRateLimited))

	_, ok = AsDenial(errors.New("boom"))
	assert.False(t, ok)
}
