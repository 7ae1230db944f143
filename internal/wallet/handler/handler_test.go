package handler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"warden/internal/guard"
	"warden/internal/guard/signing"
	"warden/internal/ledger"
	"warden/internal/wallet/service"
	"warden/internal/wallet/store"
	auditpublisher "warden/pkg/platform/audit/publisher"
	auditmemory "warden/pkg/platform/audit/store/memory"
	"warden/pkg/testutil"
)

func key(n int) string {
	return fmt.Sprintf("%064x", n)
}

func keysetJSON(keys ...int) map[string]any {
	hex := make([]string, len(keys))
	for i, k := range keys {
		hex[i] = key(k)
	}
	return map[string]any{"kind": "keyset", "pred": "keys-all", "keys": hex}
}

type HandlerSuite struct {
	suite.Suite
	now    time.Time
	ledger *ledger.Memory
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ledger = ledger.NewMemory(guard.NewEvaluator())
	accounts := store.NewInMemoryStore()
	pub := auditpublisher.NewPublisher(auditmemory.NewInMemoryStore())
	svc := service.New(accounts, s.ledger, service.NewMemoryUnitOfWork(accounts, s.ledger),
		service.WithAuditPublisher(pub))

	s.router = chi.NewRouter()
	New(svc, pub, nil).Register(s.router)
}

func (s *HandlerSuite) do(method, path string, body any, signers ...int) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	hex := make([]string, len(signers))
	for i, k := range signers {
		hex[i] = key(k)
	}
	req = testutil.WithTime(testutil.WithSigners(req, hex...), s.now)
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) decode(w *httptest.ResponseRecorder) map[string]any {
	return testutil.DecodeJSON(s.T(), w)
}

func (s *HandlerSuite) createStatic(id string) {
	w := s.do(http.MethodPost, "/wallets", map[string]any{
		"account_id": id,
		"variant":    "static",
		"static": map[string]any{
			"owner_guard":      keysetJSON(1),
			"max_withdrawal":   "20",
			"min_balance":      "20",
			"cooldown_seconds": 60,
		},
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/wallets/"+id+"/deposits", map[string]any{"amount": "25"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
}

func (s *HandlerSuite) TestCreateAndRead() {
	s.createStatic("alice")

	w := s.do(http.MethodGet, "/wallets/alice", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	body := s.decode(w)
	s.Equal("static", body["variant"])
	static := body["static"].(map[string]any)
	s.Equal("20", static["max_withdrawal"])
	s.EqualValues(60, static["cooldown_seconds"])

	w = s.do(http.MethodGet, "/wallets/alice/balance", nil)
	s.Equal("25", s.decode(w)["balance"])

	w = s.do(http.MethodPost, "/wallets", map[string]any{
		"account_id": "alice",
		"variant":    "static",
		"static":     map[string]any{"owner_guard": keysetJSON(1), "max_withdrawal": "1"},
	})
	s.Equal(http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/wallets/ghost", nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlerSuite) TestCreateValidation() {
	w := s.do(http.MethodPost, "/wallets", map[string]any{"account_id": "x", "variant": "quantum"})
	testutil.AssertStatusAndError(s.T(), w, http.StatusBadRequest, "validation_error")

	w = s.do(http.MethodPost, "/wallets", map[string]any{
		"account_id": "x",
		"variant":    "static",
		"static":     map[string]any{"owner_guard": map[string]any{"kind": "module", "module": "m"}, "max_withdrawal": "1"},
	})
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/wallets", map[string]any{
		"account_id": "x",
		"variant":    "static",
		"static": map[string]any{
			"owner_guard":      keysetJSON(1),
			"max_withdrawal":   "1",
			"cooldown_seconds": int64(math.MaxInt64),
		},
	})
	testutil.AssertStatusAndError(s.T(), w, http.StatusBadRequest, "validation_error")
}

func (s *HandlerSuite) TestCooldownUpperBound() {
	s.createStatic("alice")

	w := s.do(http.MethodPut, "/wallets/alice/limits",
		map[string]any{"max_withdrawal": "30", "cooldown_seconds": maxCooldownSeconds + 1}, 1)
	testutil.AssertStatusAndError(s.T(), w, http.StatusBadRequest, "validation_error")

	w = s.do(http.MethodPut, "/wallets/alice/limits",
		map[string]any{"max_withdrawal": "30", "cooldown_seconds": maxCooldownSeconds}, 1)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	static := s.decode(w)["account"].(map[string]any)["static"].(map[string]any)
	s.EqualValues(maxCooldownSeconds, static["cooldown_seconds"])
}

func (s *HandlerSuite) TestTransferDenialsCarryQuantities() {
	s.createStatic("alice")
	s.Require().NoError(s.ledger.CreateAccount(context.Background(), "bob", guard.MustKeyset(guard.KeysAll, key(9))))

	w := s.do(http.MethodPost, "/wallets/alice/transfers", map[string]any{"to": "bob", "amount": "5.01"}, 1)
	s.Require().Equal(http.StatusForbidden, w.Code)
	details := s.decode(w)["details"].(map[string]any)
	s.Equal("insufficient_reserve", details["kind"])
	s.Equal("0.01", details["shortfall"])

	w = s.do(http.MethodPost, "/wallets/alice/transfers", map[string]any{"to": "bob", "amount": "5"}, 1)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Equal("transfer", s.decode(w)["action"])

	w = s.do(http.MethodPost, "/wallets/alice/transfers", map[string]any{"to": "bob", "amount": "0"}, 1)
	s.Equal(http.StatusTooManyRequests, w.Code)
	s.Equal("60", w.Header().Get("Retry-After"))

	w = s.do(http.MethodPost, "/wallets/alice/transfers", map[string]any{"to": "bob", "amount": "-1"}, 1)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerSuite) TestDynamicPreviewAndKeysNeeded() {
	w := s.do(http.MethodPost, "/wallets", map[string]any{
		"account_id": "vault",
		"variant":    "dynamic",
		"dynamic": map[string]any{
			"guards":         []any{keysetJSON(1), keysetJSON(2)},
			"guardian_guard": keysetJSON(3),
		},
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	s.do(http.MethodPost, "/wallets/vault/deposits", map[string]any{"amount": "10"})

	w = s.do(http.MethodGet, "/wallets/vault/keys-needed?amount=3", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.EqualValues(1, s.decode(w)["keys_needed"])

	w = s.do(http.MethodPost, "/wallets/vault/transfers/check",
		map[string]any{"kind": "transfer", "to": "bob", "amount": "7"}, 1)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	body := s.decode(w)
	s.Equal(false, body["allowed"])
	s.EqualValues(1, body["denial"].(map[string]any)["missing"])

	w = s.do(http.MethodGet, "/signers/"+key(3)+"/wallets", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Len(s.decode(w)["wallets"], 1)
}

func (s *HandlerSuite) TestRotationAndAudit() {
	s.createStatic("alice")

	w := s.do(http.MethodPut, "/wallets/alice/owner-guard", map[string]any{"guard": keysetJSON(4)}, 1)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodPut, "/wallets/alice/owner-guard", map[string]any{"guard": keysetJSON(4)}, 1, 4)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPut, "/wallets/alice/limits",
		map[string]any{"max_withdrawal": "30", "min_balance": "0", "cooldown_seconds": 0}, 4)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	account := s.decode(w)["account"].(map[string]any)
	s.Equal("30", account["static"].(map[string]any)["max_withdrawal"])

	w = s.do(http.MethodGet, "/wallets/alice/audit", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	events := s.decode(w)["events"].([]any)
	// wallet_created, deposit, denied rotation, rotation, limits update
	s.Len(events, 5)
	s.Equal("denied", events[2].(map[string]any)["decision"])
}

func TestSignedRequestEndToEnd(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	owner := guard.MustKeyset(guard.KeysAll, signing.PublicKeyHex(pub))

	l := ledger.NewMemory(guard.NewEvaluator())
	accounts := store.NewInMemoryStore()
	svc := service.New(accounts, l, service.NewMemoryUnitOfWork(accounts, l))
	r := chi.NewRouter()
	r.Use(signing.Middleware(signing.NewVerifier(time.Minute), nil))
	New(svc, nil, nil).Register(r)

	body, err := json.Marshal(map[string]any{
		"account_id": "alice",
		"variant":    "static",
		"static":     map[string]any{"owner_guard": owner, "max_withdrawal": "100"},
	})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/wallets", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	l.Seed("bob", guard.MustKeyset(guard.KeysAll, key(9)), decimal.Zero)
	_, err = svc.Deposit(context.Background(), "alice", decimal.NewFromInt(10))
	require.NoError(t, err)

	transfer := []byte(`{"to":"bob","amount":"2.5"}`)
	path := "/wallets/alice/transfers"
	tok, err := signing.Sign(priv, signing.Digest(http.MethodPost, path, transfer), time.Now(), time.Minute)
	require.NoError(t, err)

	unsigned := httptest.NewRecorder()
	r.ServeHTTP(unsigned, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(transfer)))
	assert.Equal(t, http.StatusForbidden, unsigned.Code)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(transfer))
	req.Header.Set(signing.HeaderSignature, tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	balance, err := l.GetBalance(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("2.5")))
}
