package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atmx/outcome-engine/internal/marketid"
	"github.com/atmx/outcome-engine/internal/model"
	"github.com/atmx/outcome-engine/internal/store"
)

// CreateMarketRequest is the JSON body for market creation. ID is derived
// from the title and a random nonce when omitted.
type CreateMarketRequest struct {
	ID             string    `json:"id,omitempty"`
	Title          string    `json:"title"`
	ClosesAt       time.Time `json:"closes_at"`
	ResolutionTime time.Time `json:"resolution_time"`
}

// CreateMarket handles POST /api/v1/markets. It stands in for the market
// factory so pools and resolutions have records to refer to.
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	if p := principal(r); p == "" || p != h.admin {
		writeMessage(w, "only the admin may create markets", http.StatusForbidden)
		return
	}
	var req CreateMarketRequest
	if !decode(w, r, &req) {
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeMessage(w, "title is required", http.StatusBadRequest)
		return
	}
	now := h.clock.Now()
	if !req.ClosesAt.After(now) {
		writeMessage(w, "closes_at must be in the future", http.StatusBadRequest)
		return
	}
	if req.ResolutionTime.IsZero() {
		req.ResolutionTime = req.ClosesAt
	}
	if req.ResolutionTime.Before(req.ClosesAt) {
		writeMessage(w, "resolution_time must not precede closes_at", http.StatusBadRequest)
		return
	}

	id := marketid.Derive(title, uuid.NewString())
	if req.ID != "" {
		parsed, err := marketid.ParseMarketID(req.ID)
		if err != nil {
			writeMessage(w, err.Error(), http.StatusBadRequest)
			return
		}
		id = parsed
	}

	market := &model.MarketInfo{
		ID:             id,
		Title:          title,
		ClosesAt:       req.ClosesAt.UTC(),
		ResolutionTime: req.ResolutionTime.UTC(),
		Status:         model.MarketStatusOpen,
		CreatedAt:      now,
	}
	if err := h.markets.CreateMarket(r.Context(), market); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("market created",
		"id", market.ID,
		"title", title,
		"closes_at", market.ClosesAt,
		"resolution_time", market.ResolutionTime,
	)
	writeJSON(w, http.StatusCreated, market)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketid.ParseMarketID(chi.URLParam(r, "marketID"))
	if err != nil {
		writeMessage(w, err.Error(), http.StatusBadRequest)
		return
	}
	market, err := h.markets.GetMarket(r.Context(), id)
	if store.IsNotFound(err) {
		writeMessage(w, "market not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// ListMarkets handles GET /api/v1/markets
// Returns all markets, optionally filtered by ?status=open.
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.ListMarkets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if markets == nil {
		markets = []model.MarketInfo{}
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := []model.MarketInfo{}
		for _, m := range markets {
			if m.Status == status {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}
	writeJSON(w, http.StatusOK, markets)
}
