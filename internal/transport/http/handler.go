package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"treasury/internal/model"
	"treasury/internal/service"
	"treasury/internal/store"
	"treasury/internal/treasury"
)

type Handler struct {
	svc        service.TreasuryService
	cache      *store.BalanceCache
	adminToken string
}

func NewHandler(svc service.TreasuryService, cache *store.BalanceCache, adminToken string) *Handler {
	return &Handler{svc: svc, cache: cache, adminToken: adminToken}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /orgs", h.RegisterOrg)
	mux.HandleFunc("PUT /orgs/{org}/config", h.UpdateOrgConfig)
	mux.HandleFunc("POST /orgs/{org}/reset", h.ResetOrgState)
	mux.HandleFunc("POST /orgs/{org}/archive", h.admin(h.ForceArchive))

	mux.HandleFunc("GET /orgs/{org}/vault", h.VaultBalance)
	mux.HandleFunc("GET /orgs/{org}/users/{user}/balance", h.UserBalance)
	mux.HandleFunc("PUT /orgs/{org}/users/{user}/compliance", h.admin(h.SetUserCompliance))

	mux.HandleFunc("POST /withdrawals", h.Withdraw)
	mux.HandleFunc("POST /deposit-addresses", h.DepositAddress)
	mux.HandleFunc("POST /deposits", h.admin(h.RecordDeposit))
	mux.HandleFunc("POST /orgs/{org}/deposits/reconcile", h.admin(h.ReconcileDeposits))

	mux.HandleFunc("GET /orgs/{org}/conversions", h.ListConversions)
	mux.HandleFunc("POST /conversions/{id}/retry", h.admin(h.RetryConversion))
	mux.HandleFunc("POST /conversions/{id}/complete", h.admin(h.CompleteConversion))
	mux.HandleFunc("POST /conversions/{id}/fail", h.admin(h.FailConversion))

	mux.HandleFunc("POST /orgs/{org}/payouts/run", h.RunPayoutCycle)
	mux.HandleFunc("GET /orgs/{org}/tips", h.TipEvents)
	mux.HandleFunc("GET /orgs/{org}/payouts", h.PayoutEvents)

	mux.HandleFunc("GET /factory/vault", h.admin(h.FactoryVault))
	mux.HandleFunc("PUT /rails/{rail}/price", h.admin(h.SetRailPrice))
	mux.HandleFunc("PUT /controllers", h.admin(h.SetControllers))
	mux.HandleFunc("PUT /orgs/{org}/admin", h.admin(h.SetOrgAdmin))
	mux.HandleFunc("PUT /settlement/endpoints", h.admin(h.SetEndpoints))
}

// admin gates operator-only calls behind the bearer token. No token
// configured means the admin surface is closed.
func (h *Handler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" || r.Header.Get("Authorization") != "Bearer "+h.adminToken {
			h.respondError(w, http.StatusUnauthorized, "admin authorization required")
			return
		}
		next(w, r)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) RegisterOrg(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string          `json:"id"`
		Config model.OrgConfig `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.svc.RegisterOrg(r.Context(), req.ID, req.Config); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (h *Handler) UpdateOrgConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.OrgConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.svc.UpdateOrgConfig(r.Context(), r.PathValue("org"), cfg); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) ResetOrgState(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetOrgState(r.Context(), r.PathValue("org")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) ForceArchive(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ForceArchive(r.Context(), r.PathValue("org")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

func (h *Handler) VaultBalance(w http.ResponseWriter, r *http.Request) {
	org := r.PathValue("org")
	if balances, ok := h.cache.GetVault(r.Context(), org); ok {
		h.respondJSON(w, http.StatusOK, map[string]any{"org": org, "vault": balances})
		return
	}
	balances, err := h.svc.VaultBalance(r.Context(), org)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.cache.SetVault(r.Context(), org, balances)
	h.respondJSON(w, http.StatusOK, map[string]any{"org": org, "vault": balances})
}

func (h *Handler) UserBalance(w http.ResponseWriter, r *http.Request) {
	balances, err := h.svc.UserBalance(r.Context(), r.PathValue("org"), r.PathValue("user"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"balances": balances})
}

func (h *Handler) SetUserCompliance(w http.ResponseWriter, r *http.Request) {
	var rec model.ComplianceRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.svc.SetUserCompliance(r.Context(), r.PathValue("org"), r.PathValue("user"), rec); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req model.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	res, err := h.svc.Withdraw(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) DepositAddress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Org  string     `json:"org"`
		User string     `json:"user"`
		Rail model.Rail `json:"rail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	addr, err := h.svc.DepositAddress(r.Context(), req.Org, req.User, req.Rail)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"address": addr})
}

func (h *Handler) RecordDeposit(w http.ResponseWriter, r *http.Request) {
	var dep model.Deposit
	if err := json.NewDecoder(r.Body).Decode(&dep); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	id, err := h.svc.RecordDeposit(r.Context(), dep)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) ReconcileDeposits(w http.ResponseWriter, r *http.Request) {
	credited, err := h.svc.ProcessInboundDeposits(r.Context(), r.PathValue("org"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"credited": credited})
}

func (h *Handler) ListConversions(w http.ResponseWriter, r *http.Request) {
	intents, err := h.svc.ListConversions(r.Context(), r.PathValue("org"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"conversions": intents})
}

func (h *Handler) RetryConversion(w http.ResponseWriter, r *http.Request) {
	in, err := h.svc.RetryConversion(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, in)
}

func (h *Handler) CompleteConversion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxID string `json:"txid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.svc.MarkConversionCompleted(r.Context(), r.PathValue("id"), req.TxID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) FailConversion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.svc.MarkConversionFailed(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

func (h *Handler) RunPayoutCycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.RunPayoutCycle(r.Context(), r.PathValue("org"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

func (h *Handler) TipEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.TipEvents(r.Context(), r.PathValue("org"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) PayoutEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.PayoutEvents(r.Context(), r.PathValue("org"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) FactoryVault(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{"vault": h.svc.FactoryVault(r.Context())})
}

func (h *Handler) SetRailPrice(w http.ResponseWriter, r *http.Request) {
	rail, err := model.ParseRail(r.PathValue("rail"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.svc.SetRailPrice(r.Context(), rail, req.Price); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) SetControllers(w http.ResponseWriter, r *http.Request) {
	var c model.Controllers
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.svc.SetControllers(r.Context(), c); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) SetOrgAdmin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal string `json:"principal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.svc.SetOrgAdminOverride(r.Context(), r.PathValue("org"), req.Principal); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) SetEndpoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LedgerURL  string                `json:"ledger_url"`
		MinterURLs map[model.Rail]string `json:"minter_urls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.LedgerURL != "" {
		if err := h.svc.ConfigureLedgerEndpoint(r.Context(), req.LedgerURL); err != nil {
			h.respondServiceError(w, err)
			return
		}
	}
	for rail, u := range req.MinterURLs {
		if err := h.svc.ConfigureMinterEndpoint(r.Context(), rail, u); err != nil {
			h.respondServiceError(w, err)
			return
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "configured"})
}

// respondServiceError maps the engine's error taxonomy onto HTTP statuses:
// validation 400, insufficient resources 422, external settlement failures
// 502, invariant violations 500.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var terr *treasury.Error
	status := http.StatusInternalServerError
	if errors.As(err, &terr) {
		switch terr.Kind {
		case treasury.KindValidation:
			status = http.StatusBadRequest
		case treasury.KindInsufficient:
			status = http.StatusUnprocessableEntity
		case treasury.KindExternal:
			status = http.StatusBadGateway
		}
	}
	h.respondError(w, status, err.Error())
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
