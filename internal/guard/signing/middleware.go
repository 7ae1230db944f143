package signing

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"warden/internal/guard"
	"warden/pkg/requestcontext"
)

// HeaderSignature carries one signer token; repeat the header for more signers.
const HeaderSignature = "X-Wallet-Signature"

const maxSignedBodyBytes = 1 << 20

// Middleware verifies signer tokens against the request digest and stores the
// resulting guard.SigningContext in the request context. Requests without
// tokens proceed with an empty signing context.
func Middleware(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tokens := tokensFrom(r.Header)
			if len(tokens) == 0 {
				next.ServeHTTP(w, r.WithContext(guard.WithSigningContext(ctx, guard.NewSigningContext())))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes))
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			digest := Digest(r.Method, r.URL.Path, body)
			sc, rejected := v.SigningContext(tokens, digest, requestcontext.Now(ctx))
			if len(rejected) > 0 && logger != nil {
				for _, rej := range rejected {
					logger.DebugContext(ctx, "signer token rejected",
						"request_id", requestcontext.RequestID(ctx),
						"index", rej.Index,
						"error", rej.Err,
					)
				}
			}
			next.ServeHTTP(w, r.WithContext(guard.WithSigningContext(ctx, sc)))
		})
	}
}

func tokensFrom(h http.Header) []string {
	var out []string
	for _, v := range h.Values(HeaderSignature) {
		for _, tok := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, tok)
		}
	}
	return out
}
