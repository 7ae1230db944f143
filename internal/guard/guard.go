// Package guard defines the opaque authorization predicates that protect wallet
// accounts and the evaluator that checks them against a request's signers.
//
// Two guard kinds exist:
//   - keyset: a set of ed25519 public keys (hex) plus a predicate
//     (keys-all, keys-any, keys-2) satisfied by the request's signer set;
//   - module: names an engine module; satisfied only by a context carrying
//     that module's grant. Ledger accounts of wallets use it so only the
//     engine can debit them.
package guard

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	textutil "warden/pkg/platform/strings"
)

// Kind discriminates guard variants.
type Kind string

const (
	KindKeyset Kind = "keyset"
	KindModule Kind = "module"
)

// Predicate decides how many keyset keys must sign.
type Predicate string

const (
	KeysAll Predicate = "keys-all"
	KeysAny Predicate = "keys-any"
	Keys2   Predicate = "keys-2"
)

// IsValid checks if the predicate is one of the supported values.
func (p Predicate) IsValid() bool {
	switch p {
	case KeysAll, KeysAny, Keys2:
		return true
	}
	return false
}

// publicKeyHexLen is the hex length of an ed25519 public key.
const publicKeyHexLen = 64

// ErrMalformed is returned for guards that cannot be evaluated at all.
var ErrMalformed = errors.New("malformed guard")

// Guard is an immutable authorization predicate. Copies never share key slices.
type Guard struct {
	Kind   Kind      `json:"kind"`
	Pred   Predicate `json:"pred,omitempty"`
	Keys   []string  `json:"keys,omitempty"`
	Module string    `json:"module,omitempty"`
}

// NewKeyset builds a keyset guard. Keys are lower-cased, de-duplicated and sorted.
func NewKeyset(pred Predicate, keys ...string) (Guard, error) {
	g := Guard{Kind: KindKeyset, Pred: pred, Keys: normalizeKeys(keys)}
	if err := g.Validate(); err != nil {
		return Guard{}, err
	}
	return g, nil
}

// MustKeyset is NewKeyset for fixtures and tests.
func MustKeyset(pred Predicate, keys ...string) Guard {
	g, err := NewKeyset(pred, keys...)
	if err != nil {
		panic(err)
	}
	return g
}

// NewModule builds a module guard for the named engine module.
func NewModule(name string) Guard {
	return Guard{Kind: KindModule, Module: strings.TrimSpace(name)}
}

// Validate reports whether g is well formed. It wraps ErrMalformed.
func (g Guard) Validate() error {
	switch g.Kind {
	case KindKeyset:
		if !g.Pred.IsValid() {
			return fmt.Errorf("%w: unknown predicate %q", ErrMalformed, g.Pred)
		}
		if len(g.Keys) == 0 {
			return fmt.Errorf("%w: keyset has no keys", ErrMalformed)
		}
		if g.Pred == Keys2 && len(g.Keys) < 2 {
			return fmt.Errorf("%w: keys-2 needs at least two keys", ErrMalformed)
		}
		for _, k := range g.Keys {
			if !isPublicKeyHex(k) {
				return fmt.Errorf("%w: key %q is not a hex ed25519 public key", ErrMalformed, k)
			}
		}
		return nil
	case KindModule:
		if g.Module == "" {
			return fmt.Errorf("%w: module guard has no name", ErrMalformed)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, g.Kind)
	}
}

// IsKeyset reports whether g is a keyset guard.
func (g Guard) IsKeyset() bool {
	return g.Kind == KindKeyset
}

// Equal compares guards structurally.
func (g Guard) Equal(other Guard) bool {
	return g.Kind == other.Kind &&
		g.Pred == other.Pred &&
		g.Module == other.Module &&
		slices.Equal(g.Keys, other.Keys)
}

// Clone returns a deep copy of g.
func (g Guard) Clone() Guard {
	g.Keys = slices.Clone(g.Keys)
	return g
}

func (g Guard) String() string {
	if g.Kind == KindModule {
		return "module:" + g.Module
	}
	return fmt.Sprintf("keyset:%s[%s]", g.Pred, strings.Join(g.Keys, ","))
}

// CloneAll deep-copies a guard slice.
func CloneAll(guards []Guard) []Guard {
	if guards == nil {
		return nil
	}
	out := make([]Guard, len(guards))
	for i, g := range guards {
		out[i] = g.Clone()
	}
	return out
}

// EqualAll compares two ordered guard slices.
func EqualAll(a, b []Guard) bool {
	return slices.EqualFunc(a, b, Guard.Equal)
}

func normalizeKeys(keys []string) []string {
	return textutil.SortedSet(keys)
}

func isPublicKeyHex(k string) bool {
	if len(k) != publicKeyHexLen {
		return false
	}
	_, err := hex.DecodeString(k)
	return err == nil
}
