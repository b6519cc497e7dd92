package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/outcome-engine/internal/model"
)

// --- Request/Response types ---

type CreatePoolRequest struct {
	Seed decimal.Decimal `json:"seed"`
}

// TradeRequest is the JSON body for buy and sell. Amount is the spend for
// a buy and the share quantity for a sell; Min is the slippage floor on
// shares received or payout respectively.
type TradeRequest struct {
	Outcome model.Outcome   `json:"outcome"`
	Amount  decimal.Decimal `json:"amount"`
	Min     decimal.Decimal `json:"min"`
}

type TradeResponse struct {
	MarketID string          `json:"market_id"`
	Trader   string          `json:"trader"`
	Side     model.TradeSide `json:"side"`
	Outcome  string          `json:"outcome"`
	Shares   decimal.Decimal `json:"shares"`
	Amount   decimal.Decimal `json:"amount"`
}

type LiquidityRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type RemoveLiquidityRequest struct {
	LPTokens decimal.Decimal `json:"lp_tokens"`
}

type SlippageRequest struct {
	Bps uint32 `json:"bps"`
}

// --- HTTP Handlers ---

// CreatePool handles POST /api/v1/pools/{marketID}
func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if !decode(w, r, &req) {
		return
	}
	pool, err := h.amm.CreatePool(r.Context(), principal(r), chi.URLParam(r, "marketID"), req.Seed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

// GetPoolState handles GET /api/v1/pools/{marketID}
func (h *Handler) GetPoolState(w http.ResponseWriter, r *http.Request) {
	st, err := h.amm.GetPoolState(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetOdds handles GET /api/v1/pools/{marketID}/odds
func (h *Handler) GetOdds(w http.ResponseWriter, r *http.Request) {
	odds, err := h.amm.GetOdds(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, odds)
}

// GetQuote handles GET /api/v1/pools/{marketID}/quote?outcome=1&amount=100
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	outcome, err := queryInt(r, "outcome", -1)
	if err != nil || outcome < 0 {
		writeMessage(w, "outcome must be 0 or 1", http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		writeMessage(w, "amount must be a number", http.StatusBadRequest)
		return
	}
	q, err := h.amm.CalculateSpotPrice(r.Context(), chi.URLParam(r, "marketID"), model.Outcome(outcome), amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// BuyShares handles POST /api/v1/pools/{marketID}/buy
func (h *Handler) BuyShares(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if !decode(w, r, &req) {
		return
	}
	caller := principal(r)
	marketID := chi.URLParam(r, "marketID")
	shares, err := h.amm.BuyShares(r.Context(), caller, marketID, req.Outcome, req.Amount, req.Min)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TradeResponse{
		MarketID: marketID,
		Trader:   caller,
		Side:     model.SideBuy,
		Outcome:  req.Outcome.String(),
		Shares:   shares,
		Amount:   req.Amount,
	})
}

// SellShares handles POST /api/v1/pools/{marketID}/sell
func (h *Handler) SellShares(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if !decode(w, r, &req) {
		return
	}
	caller := principal(r)
	marketID := chi.URLParam(r, "marketID")
	payout, err := h.amm.SellShares(r.Context(), caller, marketID, req.Outcome, req.Amount, req.Min)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TradeResponse{
		MarketID: marketID,
		Trader:   caller,
		Side:     model.SideSell,
		Outcome:  req.Outcome.String(),
		Shares:   req.Amount,
		Amount:   payout,
	})
}

// AddLiquidity handles POST /api/v1/pools/{marketID}/liquidity
func (h *Handler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req LiquidityRequest
	if !decode(w, r, &req) {
		return
	}
	minted, err := h.amm.AddLiquidity(r.Context(), principal(r), chi.URLParam(r, "marketID"), req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"lp_minted": minted})
}

// RemoveLiquidity handles POST /api/v1/pools/{marketID}/liquidity/remove
func (h *Handler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var req RemoveLiquidityRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.amm.RemoveLiquidity(r.Context(), principal(r), chi.URLParam(r, "marketID"), req.LPTokens)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ClaimLPFees handles POST /api/v1/pools/{marketID}/fees/claim
func (h *Handler) ClaimLPFees(w http.ResponseWriter, r *http.Request) {
	amount, err := h.amm.ClaimLPFees(r.Context(), principal(r), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"claimed": amount})
}

// RebalancePool handles POST /api/v1/pools/{marketID}/rebalance
func (h *Handler) RebalancePool(w http.ResponseWriter, r *http.Request) {
	res, err := h.amm.RebalancePool(r.Context(), principal(r), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SetSlippageTolerance handles PUT /api/v1/pools/{marketID}/slippage
func (h *Handler) SetSlippageTolerance(w http.ResponseWriter, r *http.Request) {
	var req SlippageRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.amm.SetSlippageTolerance(r.Context(), principal(r), chi.URLParam(r, "marketID"), req.Bps); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTradeHistory handles GET /api/v1/pools/{marketID}/trades?offset=&limit=
func (h *Handler) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeMessage(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeMessage(w, err.Error(), http.StatusBadRequest)
		return
	}
	trades, err := h.amm.GetTradeHistory(r.Context(), chi.URLParam(r, "marketID"), offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetLPPosition handles GET /api/v1/pools/{marketID}/lp/{provider}
func (h *Handler) GetLPPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.amm.GetLPPosition(r.Context(), chi.URLParam(r, "provider"), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetUserShares handles GET /api/v1/positions/{holder}/{marketID}
func (h *Handler) GetUserShares(w http.ResponseWriter, r *http.Request) {
	us, err := h.amm.GetUserShares(r.Context(), chi.URLParam(r, "holder"), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, us)
}
