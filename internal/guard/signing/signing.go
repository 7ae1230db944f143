// Package signing turns signer tokens presented with a request into a
// guard.SigningContext.
//
// A signer token is a compact JWS (EdDSA) whose subject is the signer's hex
// ed25519 public key and whose "dig" claim binds the token to one request:
//
//	dig = base64url(blake2b-256(METHOD "\n" PATH "\n" BODY))
//
// Tokens that fail verification are dropped; they never abort the request, the
// signer simply does not count.
package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"

	"warden/internal/guard"
)

// DefaultMaxAge bounds how long a signer token stays valid after issuance.
const DefaultMaxAge = 5 * time.Minute

var (
	ErrDigestMismatch = errors.New("signer token is bound to a different request")
	ErrBadSubject     = errors.New("signer token subject is not an ed25519 public key")
	ErrTooOld         = errors.New("signer token exceeds maximum age")
)

// Claims are the JWT claims of a signer token.
type Claims struct {
	Digest string `json:"dig"`
	jwt.RegisteredClaims
}

// Digest computes the request digest a signer token must carry.
func Digest(method, path string, body []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(method))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(body)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// PublicKeyHex renders an ed25519 public key the way keyset guards store it.
func PublicKeyHex(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// Sign issues a signer token for digest. Used by clients and tests.
func Sign(priv ed25519.PrivateKey, digest string, issuedAt time.Time, ttl time.Duration) (string, error) {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return "", ErrBadSubject
	}
	claims := Claims{
		Digest: digest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   PublicKeyHex(pub),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
}

// Verifier validates signer tokens.
type Verifier struct {
	maxAge time.Duration
}

func NewVerifier(maxAge time.Duration) *Verifier {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Verifier{maxAge: maxAge}
}

// Verify checks one token against digest at time now and returns the signer key.
func (v *Verifier) Verify(token, digest string, now time.Time) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		c, ok := t.Claims.(*Claims)
		if !ok {
			return nil, ErrBadSubject
		}
		raw, err := hex.DecodeString(c.Subject)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, ErrBadSubject
		}
		return ed25519.PublicKey(raw), nil
	})
	if err != nil {
		return "", fmt.Errorf("verify signer token: %w", err)
	}
	if claims.Digest != digest {
		return "", ErrDigestMismatch
	}
	if claims.IssuedAt == nil || now.Sub(claims.IssuedAt.Time) > v.maxAge {
		return "", ErrTooOld
	}
	return claims.Subject, nil
}

// Rejection records why one presented token did not count.
type Rejection struct {
	Index int
	Err   error
}

// SigningContext verifies every token and returns the context of the valid
// signers together with the rejected tokens.
func (v *Verifier) SigningContext(tokens []string, digest string, now time.Time) (guard.SigningContext, []Rejection) {
	signers := make([]string, 0, len(tokens))
	var rejected []Rejection
	for i, tok := range tokens {
		signer, err := v.Verify(tok, digest, now)
		if err != nil {
			rejected = append(rejected, Rejection{Index: i, Err: err})
			continue
		}
		signers = append(signers, signer)
	}
	return guard.NewSigningContext(signers...), rejected
}
