package guard

import (
	"context"
	"slices"
	"strings"
)

// SigningContext is the evidence a request presents: the public keys that
// signed it and any module grants the engine added for its own ledger calls.
// It is a value type; With* methods return modified copies.
type SigningContext struct {
	signers map[string]struct{}
	grants  map[string]struct{}
}

// NewSigningContext builds a context from signer public keys (hex).
func NewSigningContext(signers ...string) SigningContext {
	sc := SigningContext{signers: make(map[string]struct{}, len(signers))}
	for _, s := range signers {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			sc.signers[s] = struct{}{}
		}
	}
	return sc
}

// Signed reports whether key signed the request.
func (sc SigningContext) Signed(key string) bool {
	_, ok := sc.signers[key]
	return ok
}

// Signers returns the signer keys in sorted order.
func (sc SigningContext) Signers() []string {
	out := make([]string, 0, len(sc.signers))
	for k := range sc.signers {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// HasGrant reports whether the named module granted itself authority.
func (sc SigningContext) HasGrant(module string) bool {
	_, ok := sc.grants[module]
	return ok
}

// WithGrant returns a copy of sc carrying a grant for module.
func (sc SigningContext) WithGrant(module string) SigningContext {
	grants := make(map[string]struct{}, len(sc.grants)+1)
	for g := range sc.grants {
		grants[g] = struct{}{}
	}
	grants[module] = struct{}{}
	return SigningContext{signers: sc.signers, grants: grants}
}

type signingContextKey struct{}

// WithSigningContext stores sc in ctx.
func WithSigningContext(ctx context.Context, sc SigningContext) context.Context {
	return context.WithValue(ctx, signingContextKey{}, sc)
}

// FromContext returns the signing context in ctx, or an empty one.
func FromContext(ctx context.Context) SigningContext {
	if sc, ok := ctx.Value(signingContextKey{}).(SigningContext); ok {
		return sc
	}
	return SigningContext{}
}

// WithModuleGrant adds a module grant to the signing context already in ctx.
func WithModuleGrant(ctx context.Context, module string) context.Context {
	return WithSigningContext(ctx, FromContext(ctx).WithGrant(module))
}
