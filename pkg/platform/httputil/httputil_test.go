package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "warden/pkg/domain-errors"
)

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

type shortfall struct{}

func (shortfall) Error() string { return "short by 2" }
func (shortfall) Details() map[string]any {
	return map[string]any{"kind": "insufficient_balance", "shortfall": "2"}
}

type cooling struct{}

func (cooling) Error() string          { return "cooldown active" }
func (cooling) RetryAfterSeconds() int { return 30 }

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "internal_error", body["error"])
		assert.NotContains(t, body, "error_description")
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "bad_request", body["error"])
		assert.Equal(t, "invalid input", body["error_description"])
	})

	t.Run("policy denial surfaces details", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.Wrap(shortfall{}, dErrors.CodePolicyDenied, ""))

		assert.Equal(t, http.StatusForbidden, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "policy_denied", body["error"])
		assert.Equal(t, "short by 2", body["error_description"])
		details, ok := body["details"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "2", details["shortfall"])
	})

	t.Run("rate limit sets retry-after", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.Wrap(cooling{}, dErrors.CodeRateLimited, ""))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "30", w.Header().Get("Retry-After"))
	})
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(dErrors.CodeNotFound))
	assert.Equal(t, http.StatusConflict, StatusFor(dErrors.CodeConflict))
	assert.Equal(t, http.StatusGatewayTimeout, StatusFor(dErrors.CodeTimeout))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(dErrors.CodeInvariantViolation))
}

type amountRequest struct {
	To     string `json:"to" validate:"required"`
	Amount string `json:"amount" validate:"required,numeric"`
}

func (r *amountRequest) Normalize() {
	r.To = strings.TrimSpace(r.To)
}

func (r *amountRequest) Validate() error {
	if strings.HasPrefix(r.Amount, "-") {
		return dErrors.New(dErrors.CodeValidation, "amount must be non-negative")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	decode := func(body string) (*amountRequest, *httptest.ResponseRecorder, bool) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		w := httptest.NewRecorder()
		req, ok := DecodeAndPrepare[amountRequest](w, r, nil, r.Context(), "req-1")
		return req, w, ok
	}

	t.Run("decodes and normalizes", func(t *testing.T) {
		req, _, ok := decode(`{"to":"  bob ","amount":"1.5"}`)
		require.True(t, ok)
		assert.Equal(t, "bob", req.To)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		_, w, ok := decode(`{"to":`)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		_, w, ok := decode(`{"to":"bob","amount":"1","memo":"x"}`)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("applies struct tags", func(t *testing.T) {
		_, w, ok := decode(`{"to":"   ","amount":"1"}`)
		assert.False(t, ok)
		assert.Equal(t, "validation_error", decodeBody(t, w)["error"])
	})

	t.Run("runs Validate", func(t *testing.T) {
		_, w, ok := decode(`{"to":"bob","amount":"-1"}`)
		assert.False(t, ok)
		assert.Equal(t, "amount must be non-negative", decodeBody(t, w)["error_description"])
	})
}
