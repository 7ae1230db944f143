// Package request attaches correlation and idempotency metadata to the request context.
package request

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"warden/pkg/requestcontext"
)

const (
	HeaderRequestID      = "X-Request-ID"
	HeaderIdempotencyKey = "Idempotency-Key"

	maxIdempotencyKeyLen = 128
)

// Middleware propagates an inbound X-Request-ID (or generates one) and captures
// the Idempotency-Key header. Both are echoed or exposed through requestcontext.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		if key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)); key != "" && len(key) <= maxIdempotencyKeyLen {
			ctx = requestcontext.WithIdempotencyKey(ctx, key)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
