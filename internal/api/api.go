// Package api exposes the AMM and oracle engines over HTTP and pushes
// engine events to WebSocket clients.
//
// The caller principal is taken from the X-Principal header, which an
// authenticating gateway in front of this service is expected to set.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/outcome-engine/internal/amm"
	"github.com/atmx/outcome-engine/internal/clock"
	"github.com/atmx/outcome-engine/internal/custody"
	"github.com/atmx/outcome-engine/internal/metrics"
	"github.com/atmx/outcome-engine/internal/model"
	"github.com/atmx/outcome-engine/internal/oracle"
	"github.com/atmx/outcome-engine/internal/store"
)

// PrincipalHeader carries the authenticated caller identity.
const PrincipalHeader = "X-Principal"

// Handler serves the HTTP surface.
type Handler struct {
	amm     *amm.Engine
	oracle  *oracle.Engine
	markets store.MarketStore
	custody custody.Custodian
	hub     *WSHub
	clock   clock.Clock
	admin   string
}

// Deps bundles the collaborators of a Handler. Hub may be nil.
type Deps struct {
	AMM     *amm.Engine
	Oracle  *oracle.Engine
	Markets store.MarketStore
	Custody custody.Custodian
	Hub     *WSHub
	Clock   clock.Clock

	// Admin may create markets and mint development balances.
	Admin string
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	return &Handler{
		amm:     d.AMM,
		oracle:  d.Oracle,
		markets: d.Markets,
		custody: d.Custody,
		hub:     d.Hub,
		clock:   d.Clock,
		admin:   d.Admin,
	}
}

// NewRouter returns the service router: health, metrics and /api/v1.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"outcome-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if h.hub != nil {
			// WebSocket connections outlive request timeouts.
			r.Get("/ws", h.hub.HandleWS)
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			h.Routes(r)
		})
	})
	return r
}

// Routes registers every /api/v1 endpoint except the WebSocket stream.
func (h *Handler) Routes(r chi.Router) {
	// Market directory.
	r.Get("/markets", h.ListMarkets)
	r.Post("/markets", h.CreateMarket)
	r.Get("/markets/{marketID}", h.GetMarket)

	// AMM pools.
	r.Route("/pools/{marketID}", func(r chi.Router) {
		r.Post("/", h.CreatePool)
		r.Get("/", h.GetPoolState)
		r.Get("/odds", h.GetOdds)
		r.Get("/quote", h.GetQuote)
		r.Post("/buy", h.BuyShares)
		r.Post("/sell", h.SellShares)
		r.Post("/liquidity", h.AddLiquidity)
		r.Post("/liquidity/remove", h.RemoveLiquidity)
		r.Post("/fees/claim", h.ClaimLPFees)
		r.Post("/rebalance", h.RebalancePool)
		r.Put("/slippage", h.SetSlippageTolerance)
		r.Get("/trades", h.GetTradeHistory)
		r.Get("/lp/{provider}", h.GetLPPosition)
	})
	r.Get("/positions/{holder}/{marketID}", h.GetUserShares)

	// Oracle registry.
	r.Get("/oracles", h.ListOracles)
	r.Post("/oracles", h.RegisterOracle)
	r.Get("/oracles/{oracleID}", h.GetOracle)
	r.Delete("/oracles/{oracleID}", h.DeregisterOracle)
	r.Put("/oracle/threshold", h.SetConsensusThreshold)

	// Resolution.
	r.Route("/resolutions/{marketID}", func(r chi.Router) {
		r.Post("/", h.RegisterResolution)
		r.Get("/", h.GetResolutionTime)
		r.Post("/attestations", h.SubmitAttestation)
		r.Get("/attestations", h.ListAttestations)
		r.Get("/attestations/{oracleID}", h.GetAttestation)
		r.Get("/counts", h.GetAttestationCounts)
		r.Get("/consensus", h.CheckConsensus)
	})

	// Custody.
	r.Get("/balances/{account}", h.GetBalance)
	r.Post("/balances/{account}/mint", h.Mint)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+PrincipalHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- helpers ---

func principal(r *http.Request) string {
	return r.Header.Get(PrincipalHeader)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeMessage(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeMessage writes a JSON error response.
func writeMessage(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps an engine error onto an HTTP status by its kind.
// Unclassified errors are logged and reported as internal.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
		writeJSON(w, status, map[string]string{"error": "internal error", "kind": kind.String()})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind.String()})
}

func statusFor(k model.ErrorKind) int {
	switch k {
	case model.KindAuthorization:
		return http.StatusForbidden
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindConflict:
		return http.StatusConflict
	case model.KindEconomic:
		return http.StatusUnprocessableEntity
	case model.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
