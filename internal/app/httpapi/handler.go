package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	app "github.com/R3E-Network/karma_ledger/internal/app"
	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/metrics"
	"github.com/R3E-Network/karma_ledger/internal/app/services/validator"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
	apperrors "github.com/R3E-Network/karma_ledger/internal/errors"
	"github.com/R3E-Network/karma_ledger/internal/httputil"
	"github.com/R3E-Network/karma_ledger/internal/middleware"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Config carries the HTTP-facing settings. A nil Issuer disables every
// bearer-token route; a nil Limiter disables rate limiting.
type Config struct {
	Issuer      *middleware.TokenIssuer
	AdminKey    string
	CORSOrigins []string
	Limiter     *middleware.RateLimiter
	AuditFile   string
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app    *app.Application
	cfg    Config
	log    *logger.Logger
	audit  *auditLog
	auth   *middleware.AuthMiddleware
	admin  func(http.Handler) http.Handler
	health func(context.Context) error
}

// NewHandler returns the full HTTP surface: /healthz, /metrics and the /v1
// API, wrapped in recovery, tracing, metrics and CORS middleware.
func NewHandler(application *app.Application, cfg Config, log *logger.Logger) (http.Handler, error) {
	if log == nil {
		log = logger.NewDefault("http")
	}
	sink, err := newFileAuditSink(cfg.AuditFile)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	h := &handler{
		app:   application,
		cfg:   cfg,
		log:   log,
		audit: newAuditLog(500, sink),
		admin: middleware.RequireAdminKey(cfg.AdminKey, log),
	}
	if cfg.Issuer != nil {
		h.auth = middleware.NewAuthMiddleware(cfg.Issuer, log)
	}
	if pinger, ok := application.Store.(interface{ Ping(context.Context) error }); ok {
		h.health = pinger.Ping
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteServiceError(w, r, apperrors.NotFound("Route not found", nil))
	})
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	v1.Handle("/stats", h.public(h.stats)).Methods(http.MethodGet)
	v1.Handle("/protocol/status", h.public(h.protocolStatus)).Methods(http.MethodGet)
	v1.Handle("/protocol/blocks", h.public(h.protocolBlocks)).Methods(http.MethodGet)
	v1.Handle("/accounts", h.public(h.register)).Methods(http.MethodPost)
	v1.Handle("/accounts/{handle}", h.public(h.getAccount)).Methods(http.MethodGet)
	v1.Handle("/accounts/{handle}/stake", h.public(h.stakeInfo)).Methods(http.MethodGet)

	v1.Handle("/validator/health", h.public(h.validatorHealth)).Methods(http.MethodGet)
	v1.Handle("/validator/snapshot", h.public(h.validatorSnapshot)).Methods(http.MethodGet)
	v1.Handle("/validator/inflation", h.public(h.validatorInflation)).Methods(http.MethodGet)
	v1.Handle("/validator/transactions", h.public(h.validatorTransactions)).Methods(http.MethodGet)
	v1.Handle("/validator/leaderboard", h.public(h.validatorLeaderboard)).Methods(http.MethodGet)

	v1.Handle("/me", h.user(h.me)).Methods(http.MethodGet)
	v1.Handle("/me/history", h.user(h.history)).Methods(http.MethodGet)
	v1.Handle("/wallet/send", h.user(h.send)).Methods(http.MethodPost)
	v1.Handle("/wallet/stake", h.user(h.stake)).Methods(http.MethodPost)
	v1.Handle("/wallet/unstake", h.user(h.unstake)).Methods(http.MethodPost)
	v1.Handle("/wallet/swap", h.user(h.swap)).Methods(http.MethodPost)
	v1.Handle("/me/referral", h.user(h.referralStatus)).Methods(http.MethodGet)
	v1.Handle("/referrals", h.user(h.recordReferral)).Methods(http.MethodPost)

	v1.Handle("/auth/token", h.adminOnly(h.issueToken)).Methods(http.MethodPost)
	v1.Handle("/admin/protocol/run-once", h.adminOnly(h.runOnce)).Methods(http.MethodPost)
	v1.Handle("/admin/mint", h.adminOnly(h.mint)).Methods(http.MethodPost)
	v1.Handle("/admin/accounts", h.adminOnly(h.listAccounts)).Methods(http.MethodGet)
	v1.Handle("/admin/accounts/event", h.adminOnly(h.createEventAccount)).Methods(http.MethodPost)
	v1.Handle("/admin/accounts/{handle}", h.adminOnly(h.deleteAccount)).Methods(http.MethodDelete)
	v1.Handle("/admin/accounts/{handle}/history", h.adminOnly(h.adminHistory)).Methods(http.MethodGet)
	v1.Handle("/admin/audit", h.adminOnly(h.auditTrail)).Methods(http.MethodGet)

	var out http.Handler = r
	out = middleware.NewCORSMiddleware(cfg.CORSOrigins).Handler(out)
	out = metrics.InstrumentHandler(out)
	out = middleware.Logging(log)(out)
	out = middleware.Recover(log)(out)
	return out, nil
}

func (h *handler) public(fn http.HandlerFunc) http.Handler {
	if h.cfg.Limiter == nil {
		return fn
	}
	return h.cfg.Limiter.Handler(fn)
}

func (h *handler) user(fn http.HandlerFunc) http.Handler {
	if h.auth == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteServiceError(w, r, apperrors.Forbidden("Token authentication is not configured"))
		})
	}
	return h.auth.Handler(h.public(fn))
}

func (h *handler) adminOnly(fn http.HandlerFunc) http.Handler {
	return h.admin(h.audit.wrap(fn))
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.log.WithError(err).Warn("health check failed")
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Public ---------------------------------------------------------------------

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	out, err := h.app.Stats.Network(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) protocolStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.app.Emission.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *handler) protocolBlocks(w http.ResponseWriter, r *http.Request) {
	limit, _, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	blocks, err := h.app.Emission.ListBlocks(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Handle string `json:"handle"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := h.app.Accounts.Register(r.Context(), payload.Handle)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := map[string]any{"account": acct}
	if h.cfg.Issuer != nil {
		token, expires, err := h.cfg.Issuer.Issue(acct.Handle)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp["token"] = token
		resp["expires_at"] = expires
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *handler) getAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Accounts.Get(r.Context(), mux.Vars(r)["handle"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *handler) stakeInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.app.Wallets.StakeInfo(r.Context(), mux.Vars(r)["handle"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

// Validator ------------------------------------------------------------------

func (h *handler) validatorHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.app.Validator.Health(r.Context(), h.health))
}

func (h *handler) validatorSnapshot(w http.ResponseWriter, r *http.Request) {
	top, err := validator.ParseLimit(r.URL.Query().Get("include_top"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.app.Validator.Snapshot(r.Context(), top)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) validatorInflation(w http.ResponseWriter, r *http.Request) {
	out, err := h.app.Validator.Inflation(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) validatorTransactions(w http.ResponseWriter, r *http.Request) {
	out, err := h.app.Validator.Transactions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) validatorLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := validator.ParseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	by, err := validator.ParseSortBy(q.Get("sort_by"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.app.Validator.Leaderboard(r.Context(), limit, by)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// Authenticated ----------------------------------------------------------------

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Accounts.Get(r.Context(), middleware.Subject(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	h.writeHistory(w, r, middleware.Subject(r.Context()))
}

func (h *handler) writeHistory(w http.ResponseWriter, r *http.Request, handle string) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ascending := strings.EqualFold(r.URL.Query().Get("order"), "asc")
	txs, total, err := h.app.Wallets.History(r.Context(), handle, limit, offset, ascending)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transactions": txs, "total": total})
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *handler) send(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		To     string          `json:"to"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := h.app.Wallets.Send(r.Context(), middleware.Subject(r.Context()), payload.To, payload.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tx)
}

func (h *handler) stake(w http.ResponseWriter, r *http.Request) {
	var payload amountRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := h.app.Wallets.Stake(r.Context(), middleware.Subject(r.Context()), payload.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *handler) unstake(w http.ResponseWriter, r *http.Request) {
	var payload amountRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := h.app.Wallets.Unstake(r.Context(), middleware.Subject(r.Context()), payload.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *handler) swap(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		From   ledger.Unit     `json:"from"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := h.app.Wallets.Swap(r.Context(), middleware.Subject(r.Context()), payload.From, payload.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *handler) recordReferral(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Invitee string `json:"invitee"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.app.Wallets.RecordReferral(r.Context(), middleware.Subject(r.Context()), payload.Invitee)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if out.Recorded {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, out)
}

func (h *handler) referralStatus(w http.ResponseWriter, r *http.Request) {
	out, err := h.app.Wallets.ReferralStatus(r.Context(), middleware.Subject(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// Admin ----------------------------------------------------------------------

func (h *handler) issueToken(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Issuer == nil {
		writeError(w, r, apperrors.Forbidden("Token authentication is not configured"))
		return
	}
	var payload struct {
		Handle string `json:"handle"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := h.app.Accounts.Get(r.Context(), payload.Handle)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, expires, err := h.cfg.Issuer.Issue(acct.Handle)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"token": token, "expires_at": expires})
}

func (h *handler) runOnce(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Emission.RunOnce(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) mint(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Handle string          `json:"handle"`
		Unit   ledger.Unit     `json:"unit"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	if payload.Unit == "" {
		payload.Unit = ledger.UnitKarma
	}
	tx, err := h.app.Wallets.Mint(r.Context(), payload.Handle, payload.Unit, payload.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tx)
}

func (h *handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	accts, total, err := h.app.Accounts.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"accounts": accts, "total": total})
}

func (h *handler) createEventAccount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Handle string `json:"handle"`
		Event  string `json:"event"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := h.app.Accounts.CreateEventAccount(r.Context(), payload.Handle, payload.Event)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, acct)
}

func (h *handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Accounts.Delete(r.Context(), mux.Vars(r)["handle"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) adminHistory(w http.ResponseWriter, r *http.Request) {
	h.writeHistory(w, r, mux.Vars(r)["handle"])
}

func (h *handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	limit, _, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": h.audit.listLimit(limit)})
}

// Helpers --------------------------------------------------------------------

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.BadRequest("request body is required", err)
		}
		return apperrors.BadRequest("invalid request body", err)
	}
	return nil
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, apperrors.BadRequest("limit must be a non-negative integer", err)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, apperrors.BadRequest("offset must be a non-negative integer", err)
		}
	}
	return limit, offset, nil
}

// writeError renders err, translating storage sentinels that escaped the
// service layer.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.GetServiceError(err) == nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			err = apperrors.NotFound("Resource not found", err)
		case errors.Is(err, storage.ErrDuplicate):
			err = apperrors.Conflict("Resource already exists", err)
		case errors.Is(err, storage.ErrInsufficientFunds):
			err = apperrors.BadRequest("insufficient balance", err)
		case errors.Is(err, storage.ErrReservedAccount):
			err = apperrors.Forbidden("system accounts cannot be modified")
		}
	}
	httputil.WriteServiceError(w, r, err)
}
