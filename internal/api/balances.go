package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/outcome-engine/internal/custody"
)

type MintRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type BalanceResponse struct {
	Account string          `json:"account"`
	Asset   string          `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

// GetBalance handles GET /api/v1/balances/{account}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	bal, err := h.custody.Balance(r.Context(), account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: account, Asset: h.custody.Asset(), Balance: bal})
}

// Mint handles POST /api/v1/balances/{account}/mint. Only available when
// the custodian is a development ledger.
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	if p := principal(r); p == "" || p != h.admin {
		writeMessage(w, "only the admin may mint", http.StatusForbidden)
		return
	}
	minter, ok := h.custody.(custody.Minter)
	if !ok {
		writeMessage(w, "custodian does not support minting", http.StatusNotImplemented)
		return
	}
	var req MintRequest
	if !decode(w, r, &req) {
		return
	}

	account := chi.URLParam(r, "account")
	if err := minter.Mint(r.Context(), account, req.Amount); err != nil {
		writeError(w, r, err)
		return
	}
	bal, err := h.custody.Balance(r.Context(), account)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("balance minted", "account", account, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, BalanceResponse{Account: account, Asset: h.custody.Asset(), Balance: bal})
}
