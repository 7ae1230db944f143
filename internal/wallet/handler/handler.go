package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"warden/internal/guard"
	"warden/internal/wallet/models"
	"warden/internal/wallet/service"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/audit/publisher"
	"warden/pkg/platform/httputil"
	"warden/pkg/requestcontext"
)

// Service defines the wallet operations the HTTP API exposes.
type Service interface {
	CreateWallet(ctx context.Context, req *models.CreateWalletRequest) (*models.Account, error)
	Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error)

	Transfer(ctx context.Context, accountID, to string, amount decimal.Decimal) (*service.Result, error)
	SafeTransfer(ctx context.Context, accountID, to string, receiverGuard guard.Guard, amount decimal.Decimal) (*service.Result, error)
	LowSecurityTransfer(ctx context.Context, accountID, to string, amount decimal.Decimal) (*service.Result, error)
	HighSecurityTransfer(ctx context.Context, accountID, to string, amount decimal.Decimal) (*service.Result, error)

	RotateOwnerGuard(ctx context.Context, accountID string, g guard.Guard) (*service.Result, error)
	RotateLowSecurityGuard(ctx context.Context, accountID string, g guard.Guard) (*service.Result, error)
	RotateHighSecurityGuard(ctx context.Context, accountID string, g guard.Guard) (*service.Result, error)
	RotateGuardPool(ctx context.Context, accountID string, pool []guard.Guard) (*service.Result, error)
	RotateGuardian(ctx context.Context, accountID string, g guard.Guard) (*service.Result, error)
	UpdateLimits(ctx context.Context, accountID string, limits models.StaticLimits) (*service.Result, error)
	UpdateMaxLowSecurityAmount(ctx context.Context, accountID string, amount decimal.Decimal) (*service.Result, error)
	UpdateLowSecurityCooldown(ctx context.Context, accountID string, cooldown time.Duration) (*service.Result, error)

	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
	KeysNeeded(ctx context.Context, accountID string, amount decimal.Decimal) (*service.KeysEstimate, error)
	CheckTransfer(ctx context.Context, accountID string, act models.Action) (*service.Preview, error)
	FindBySigner(ctx context.Context, key string) ([]*models.Account, error)
}

// AuditLister reads an account's audit trail.
type AuditLister interface {
	List(ctx context.Context, accountID string) ([]audit.Event, error)
}

// Handler wires wallet endpoints to the capability session service.
type Handler struct {
	service Service
	audit   AuditLister
	logger  *slog.Logger
}

// New constructs a wallet handler. auditLister may be nil.
func New(service Service, auditLister AuditLister, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{service: service, audit: auditLister, logger: logger}
}

// Register mounts wallet endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/wallets", h.HandleCreate)
	r.Route("/wallets/{id}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Get("/balance", h.HandleBalance)
		r.Get("/keys-needed", h.HandleKeysNeeded)
		r.Get("/audit", h.HandleAudit)
		r.Post("/deposits", h.HandleDeposit)

		r.Post("/transfers", h.HandleTransfer)
		r.Post("/transfers/check", h.HandleCheckTransfer)
		r.Post("/safe-transfers", h.HandleSafeTransfer)
		r.Post("/low-security-transfers", h.HandleLowSecurityTransfer)
		r.Post("/high-security-transfers", h.HandleHighSecurityTransfer)

		r.Put("/owner-guard", h.HandleRotateOwnerGuard)
		r.Put("/low-security-guard", h.HandleRotateLowSecurityGuard)
		r.Put("/high-security-guard", h.HandleRotateHighSecurityGuard)
		r.Put("/guard-pool", h.HandleRotateGuardPool)
		r.Put("/guardian-guard", h.HandleRotateGuardian)
		r.Put("/limits", h.HandleUpdateLimits)
		r.Put("/max-low-security-amount", h.HandleUpdateMaxLowSecurityAmount)
		r.Put("/low-security-cooldown", h.HandleUpdateLowSecurityCooldown)
	})
	r.Get("/signers/{key}/wallets", h.HandleFindBySigner)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateWalletRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	domainReq, err := req.ToModel()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	acct, err := h.service.CreateWallet(ctx, domainReq)
	if err != nil {
		h.logFailure(ctx, "wallet creation failed", req.AccountID, err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "wallet created",
		"request_id", requestID,
		"account_id", acct.ID,
		"variant", acct.Variant,
	)
	httputil.WriteJSON(w, http.StatusCreated, FromAccount(acct))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	acct, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAccount(acct))
}

func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	balance, err := h.service.GetBalance(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, balanceResponse(id, balance))
}

func (h *Handler) HandleKeysNeeded(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	amount, err := parseAmount("amount", r.URL.Query().Get("amount"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	est, err := h.service.KeysNeeded(r.Context(), id, amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, KeysNeededResponse{
		AccountID: id,
		Amount:    amount.String(),
		Balance:   est.Balance.String(),
		Needed:    est.Needed,
		PoolSize:  est.PoolM,
	})
}

func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.audit == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "audit trail is not available"))
		return
	}
	events, err := h.audit.List(r.Context(), id)
	if err != nil {
		if errors.Is(err, publisher.ErrNotListable) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "audit trail is not queryable"))
			return
		}
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromEvents(id, events))
}

func (h *Handler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	req, ok := httputil.DecodeAndPrepare[AmountRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	balance, err := h.service.Deposit(ctx, id, req.parsed)
	if err != nil {
		h.logFailure(ctx, "deposit failed", id, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, balanceResponse(id, balance))
}

func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.service.Transfer)
}

func (h *Handler) HandleLowSecurityTransfer(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.service.LowSecurityTransfer)
}

func (h *Handler) HandleHighSecurityTransfer(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.service.HighSecurityTransfer)
}

type transferFunc func(ctx context.Context, accountID, to string, amount decimal.Decimal) (*service.Result, error)

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request, fn transferFunc) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	req, ok := httputil.DecodeAndPrepare[TransferRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := fn(ctx, id, req.To, req.parsed)
	h.respond(w, r, id, res, err)
}

func (h *Handler) HandleSafeTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	req, ok := httputil.DecodeAndPrepare[TransferRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	receiver, err := req.receiverGuard()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.SafeTransfer(ctx, id, req.To, receiver, req.parsed)
	h.respond(w, r, id, res, err)
}

// HandleCheckTransfer runs the policy decision without committing it. A
// denial is a successful preview, not an error response.
func (h *Handler) HandleCheckTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	req, ok := httputil.DecodeAndPrepare[CheckTransferRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	act, err := req.Action()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	preview, err := h.service.CheckTransfer(ctx, id, act)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromPreview(preview))
}

func (h *Handler) HandleRotateOwnerGuard(w http.ResponseWriter, r *http.Request) {
	h.rotate(w, r, h.service.RotateOwnerGuard)
}

func (h *Handler) HandleRotateLowSecurityGuard(w http.ResponseWriter, r *http.Request) {
	h.rotate(w, r, h.service.RotateLowSecurityGuard)
}

func (h *Handler) HandleRotateHighSecurityGuard(w http.ResponseWriter, r *http.Request) {
	h.rotate(w, r, h.service.RotateHighSecurityGuard)
}

func (h *Handler) HandleRotateGuardian(w http.ResponseWriter, r *http.Request) {
	h.rotate(w, r, h.service.RotateGuardian)
}

func (h *Handler) rotate(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, guard.Guard) (*service.Result, error)) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	req, ok := httputil.DecodeAndPrepare[GuardRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := fn(ctx, id, req.Guard)
	h.respond(w, r, id, res, err)
}

func (h *Handler) HandleRotateGuardPool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	req, ok := httputil.DecodeAndPrepare[GuardPoolRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.RotateGuardPool(ctx, id, req.Guards)
	h.respond(w, r, id, res, err)
}

func (h *Handler) HandleUpdateLimits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	req, ok := httputil.DecodeAndPrepare[LimitsRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.UpdateLimits(ctx, id, req.parsed)
	h.respond(w, r, id, res, err)
}

func (h *Handler) HandleUpdateMaxLowSecurityAmount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	req, ok := httputil.DecodeAndPrepare[AmountRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.UpdateMaxLowSecurityAmount(ctx, id, req.parsed)
	h.respond(w, r, id, res, err)
}

func (h *Handler) HandleUpdateLowSecurityCooldown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	req, ok := httputil.DecodeAndPrepare[CooldownRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.UpdateLowSecurityCooldown(ctx, id, seconds(req.CooldownSeconds))
	h.respond(w, r, id, res, err)
}

func (h *Handler) HandleFindBySigner(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.FindBySigner(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := WalletListResponse{Wallets: make([]AccountResponse, 0, len(accounts))}
	for _, a := range accounts {
		resp.Wallets = append(resp.Wallets, FromAccount(a))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, accountID string, res *service.Result, err error) {
	ctx := r.Context()
	if err != nil {
		h.logFailure(ctx, "wallet action rejected", accountID, err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "wallet action committed",
		"request_id", requestcontext.RequestID(ctx),
		"account_id", accountID,
		"action", res.Action,
		"path", strings.TrimPrefix(r.URL.Path, "/wallets/"+accountID),
	)
	httputil.WriteJSON(w, http.StatusOK, FromResult(res))
}

// logFailure logs server-side failures at error level and policy or input
// rejections at info level.
func (h *Handler) logFailure(ctx context.Context, msg, accountID string, err error) {
	args := []any{
		"request_id", requestcontext.RequestID(ctx),
		"account_id", accountID,
		"code", dErrors.CodeOf(err),
		"error", err,
	}
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, args...)
		return
	}
	h.logger.InfoContext(ctx, msg, args...)
}
