package testutil

import (
	"net/http"
	"time"

	"warden/internal/guard"
	"warden/pkg/requestcontext"
)

// WithSigners attaches a verified signer set to the request, as the signing
// middleware would after checking one token per key.
func WithSigners(req *http.Request, keys ...string) *http.Request {
	ctx := guard.WithSigningContext(req.Context(), guard.NewSigningContext(keys...))
	return req.WithContext(ctx)
}

// WithTime pins the request clock used by cooldown checks.
func WithTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}

// WithIdempotencyKey attaches an idempotency key to the request context.
func WithIdempotencyKey(req *http.Request, key string) *http.Request {
	return req.WithContext(requestcontext.WithIdempotencyKey(req.Context(), key))
}
