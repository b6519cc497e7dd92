package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/outcome-engine/internal/model"
)

type RegisterOracleRequest struct {
	OracleID string `json:"oracle_id"`
	Name     string `json:"name"`
}

type ThresholdRequest struct {
	Threshold uint32 `json:"threshold"`
}

type RegisterResolutionRequest struct {
	ResolutionTime time.Time `json:"resolution_time"`
}

// AttestationRequest is submitted by the oracle itself; the attestor is
// the request principal.
type AttestationRequest struct {
	Outcome  model.Outcome `json:"outcome"`
	DataHash string        `json:"data_hash"`
}

// RegisterOracle handles POST /api/v1/oracles
func (h *Handler) RegisterOracle(w http.ResponseWriter, r *http.Request) {
	var req RegisterOracleRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.oracle.RegisterOracle(r.Context(), principal(r), req.OracleID, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// ListOracles handles GET /api/v1/oracles (active oracles only).
func (h *Handler) ListOracles(w http.ResponseWriter, r *http.Request) {
	oracles, err := h.oracle.GetActiveOracles(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if oracles == nil {
		oracles = []model.Oracle{}
	}
	writeJSON(w, http.StatusOK, oracles)
}

func (h *Handler) GetOracle(w http.ResponseWriter, r *http.Request) {
	o, err := h.oracle.GetOracleInfo(r.Context(), chi.URLParam(r, "oracleID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) DeregisterOracle(w http.ResponseWriter, r *http.Request) {
	if err := h.oracle.DeregisterOracle(r.Context(), principal(r), chi.URLParam(r, "oracleID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetConsensusThreshold handles PUT /api/v1/oracle/threshold
func (h *Handler) SetConsensusThreshold(w http.ResponseWriter, r *http.Request) {
	var req ThresholdRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.oracle.SetConsensusThreshold(r.Context(), principal(r), req.Threshold); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterResolution handles POST /api/v1/resolutions/{marketID}
func (h *Handler) RegisterResolution(w http.ResponseWriter, r *http.Request) {
	var req RegisterResolutionRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.oracle.RegisterMarket(r.Context(), principal(r), chi.URLParam(r, "marketID"), req.ResolutionTime)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetResolutionTime handles GET /api/v1/resolutions/{marketID}
func (h *Handler) GetResolutionTime(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	t, err := h.oracle.GetMarketResolutionTime(r.Context(), marketID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":       marketID,
		"resolution_time": t,
	})
}

// SubmitAttestation handles POST /api/v1/resolutions/{marketID}/attestations
func (h *Handler) SubmitAttestation(w http.ResponseWriter, r *http.Request) {
	var req AttestationRequest
	if !decode(w, r, &req) {
		return
	}
	rcpt, err := h.oracle.SubmitAttestation(r.Context(), principal(r), chi.URLParam(r, "marketID"), req.Outcome, req.DataHash)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rcpt)
}

// ListAttestations handles GET /api/v1/resolutions/{marketID}/attestations
func (h *Handler) ListAttestations(w http.ResponseWriter, r *http.Request) {
	res, err := h.oracle.GetAttestations(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetAttestation(w http.ResponseWriter, r *http.Request) {
	a, err := h.oracle.GetAttestation(r.Context(), chi.URLParam(r, "marketID"), chi.URLParam(r, "oracleID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) GetAttestationCounts(w http.ResponseWriter, r *http.Request) {
	c, err := h.oracle.GetAttestationCounts(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CheckConsensus handles GET /api/v1/resolutions/{marketID}/consensus
func (h *Handler) CheckConsensus(w http.ResponseWriter, r *http.Request) {
	c, err := h.oracle.CheckConsensus(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
