package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/outcome-engine/internal/amm"
	"github.com/atmx/outcome-engine/internal/api"
	"github.com/atmx/outcome-engine/internal/clock"
	"github.com/atmx/outcome-engine/internal/custody"
	"github.com/atmx/outcome-engine/internal/events"
	"github.com/atmx/outcome-engine/internal/model"
	"github.com/atmx/outcome-engine/internal/oracle"
	"github.com/atmx/outcome-engine/internal/store"
)

const admin = "admin"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	router http.Handler
	clock  *clock.Manual
	ledger *custody.MemoryLedger
}

// newTestEnv wires both engines on an in-memory store behind the router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	ms := store.NewMemoryStore()
	clk := clock.NewManual(t0)
	ledger := custody.NewMemoryLedger("USDC")

	cfg := amm.DefaultConfig()
	cfg.Admin, cfg.Asset, cfg.EscrowAccount = admin, "USDC", "escrow"
	ae, err := amm.New(cfg, amm.Deps{Store: ms, Custody: ledger, Markets: ms, Clock: clk})
	require.NoError(t, err)

	ocfg := oracle.DefaultConfig()
	ocfg.Admin = admin
	oe, err := oracle.New(ctx, ocfg, oracle.Deps{Store: ms, Clock: clk})
	require.NoError(t, err)

	h := api.NewHandler(api.Deps{
		AMM:     ae,
		Oracle:  oe,
		Markets: ms,
		Custody: ledger,
		Clock:   clk,
		Admin:   admin,
	})
	return &testEnv{router: api.NewRouter(h), clock: clk, ledger: ledger}
}

func (env *testEnv) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(api.PrincipalHeader, caller)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

// createMarket creates an open market closing in 24h and returns its id.
func (env *testEnv) createMarket(t *testing.T) string {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/v1/markets", admin, api.CreateMarketRequest{
		Title:    "Will it snow in Denver on Friday?",
		ClosesAt: t0.Add(24 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[model.MarketInfo](t, w).ID
}

func (env *testEnv) fund(t *testing.T, account string, amount int64) {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/v1/balances/"+account+"/mint", admin, api.MintRequest{Amount: decimal.NewFromInt(amount)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "outcome-engine")
}

func TestMarkets(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/markets", "mallory", api.CreateMarketRequest{Title: "x", ClosesAt: t0.Add(time.Hour)})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/markets", admin, api.CreateMarketRequest{Title: "x", ClosesAt: t0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	id := env.createMarket(t)
	assert.Len(t, id, 64)

	w = env.do(t, http.MethodGet, "/api/v1/markets/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	m := decodeBody[model.MarketInfo](t, w)
	assert.Equal(t, model.MarketStatusOpen, m.Status)
	assert.Equal(t, t0.Add(24*time.Hour), m.ResolutionTime.UTC())

	w = env.do(t, http.MethodGet, "/api/v1/markets?status=open", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]model.MarketInfo](t, w), 1)

	w = env.do(t, http.MethodGet, "/api/v1/markets/"+strings.Repeat("0", 64), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPoolLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t)
	env.fund(t, "alice", 10_000)
	env.fund(t, "bob", 10_000)
	base := "/api/v1/pools/" + id

	w := env.do(t, http.MethodPost, base, "alice", api.CreatePoolRequest{Seed: decimal.NewFromInt(1000)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, base+"/quote?outcome=1&amount=100", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	q := decodeBody[amm.Quote](t, w)
	assert.True(t, q.SharesOut.Equal(decimal.NewFromInt(82)))

	w = env.do(t, http.MethodPost, base+"/buy", "bob", api.TradeRequest{
		Outcome: model.OutcomeYes,
		Amount:  decimal.NewFromInt(100),
		Min:     q.MinSharesOut,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tr := decodeBody[api.TradeResponse](t, w)
	assert.True(t, tr.Shares.Equal(decimal.NewFromInt(82)))
	assert.Equal(t, "YES", tr.Outcome)

	w = env.do(t, http.MethodGet, base+"/odds", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, amm.Odds{YesBps: 5889, NoBps: 4111}, decodeBody[amm.Odds](t, w))

	w = env.do(t, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeBody[amm.PoolState](t, w)
	assert.True(t, st.YesReserve.Equal(decimal.NewFromInt(418)))
	assert.True(t, st.NoReserve.Equal(decimal.NewFromInt(599)))

	w = env.do(t, http.MethodGet, "/api/v1/positions/bob/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[amm.UserShares](t, w).YesShares.Equal(decimal.NewFromInt(82)))

	w = env.do(t, http.MethodPost, base+"/sell", "bob", api.TradeRequest{Outcome: model.OutcomeYes, Amount: decimal.NewFromInt(82)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decodeBody[api.TradeResponse](t, w).Amount.Equal(decimal.NewFromInt(97)))

	w = env.do(t, http.MethodGet, base+"/trades?limit=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	trades := decodeBody[[]model.Trade](t, w)
	require.Len(t, trades, 1)
	assert.Equal(t, model.SideSell, trades[0].Side)

	w = env.do(t, http.MethodPost, base+"/liquidity", "bob", api.LiquidityRequest{Amount: decimal.NewFromInt(500)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, base+"/lp/bob", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	lp := decodeBody[amm.LPPosition](t, w)
	assert.True(t, lp.LPTokens.IsPositive())

	w = env.do(t, http.MethodPost, base+"/fees/claim", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, base+"/liquidity/remove", "bob", api.RemoveLiquidityRequest{LPTokens: lp.LPTokens})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPut, base+"/slippage", admin, api.SlippageRequest{Bps: 100})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodPost, base+"/rebalance", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "pool is inside the band")

	w = env.do(t, http.MethodGet, "/api/v1/balances/escrow", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "USDC", decodeBody[api.BalanceResponse](t, w).Asset)
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t)
	env.fund(t, "alice", 1_000)
	base := "/api/v1/pools/" + id

	w := env.do(t, http.MethodPost, base, "alice", api.CreatePoolRequest{Seed: decimal.NewFromInt(500)})
	require.Equal(t, http.StatusCreated, w.Code)

	tests := []struct {
		name   string
		method string
		path   string
		caller string
		body   any
		want   int
	}{
		{"no principal", http.MethodPost, base + "/buy", "", api.TradeRequest{Outcome: 1, Amount: decimal.NewFromInt(10)}, http.StatusForbidden},
		{"not admin", http.MethodPut, base + "/slippage", "alice", api.SlippageRequest{Bps: 100}, http.StatusForbidden},
		{"bad outcome", http.MethodPost, base + "/buy", "alice", api.TradeRequest{Outcome: 5, Amount: decimal.NewFromInt(10)}, http.StatusBadRequest},
		{"bad body", http.MethodPost, base + "/buy", "alice", "nope", http.StatusBadRequest},
		{"pool exists", http.MethodPost, base, "alice", api.CreatePoolRequest{Seed: decimal.NewFromInt(10)}, http.StatusConflict},
		{"insufficient funds", http.MethodPost, base + "/buy", "alice", api.TradeRequest{Outcome: 1, Amount: decimal.NewFromInt(10_000)}, http.StatusConflict},
		{"slippage", http.MethodPost, base + "/buy", "alice", api.TradeRequest{Outcome: 1, Amount: decimal.NewFromInt(10), Min: decimal.NewFromInt(1_000)}, http.StatusUnprocessableEntity},
		{"unknown pool", http.MethodGet, "/api/v1/pools/" + strings.Repeat("1", 64), "", nil, http.StatusNotFound},
		{"bad quote", http.MethodGet, base + "/quote?outcome=x&amount=1", "", nil, http.StatusBadRequest},
		{"mint not admin", http.MethodPost, "/api/v1/balances/alice/mint", "alice", api.MintRequest{Amount: decimal.NewFromInt(1)}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w = env.do(t, http.MethodPost, base+"/buy", "", api.TradeRequest{Outcome: 1, Amount: decimal.NewFromInt(10)})
	body := decodeBody[map[string]string](t, w)
	assert.Equal(t, "authorization", body["kind"])
}

func TestOracleFlow(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t)
	hash := strings.Repeat("cd", 32)

	for _, o := range []string{"o1", "o2", "o3"} {
		w := env.do(t, http.MethodPost, "/api/v1/oracles", admin, api.RegisterOracleRequest{OracleID: o, Name: strings.ToUpper(o)})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w := env.do(t, http.MethodPost, "/api/v1/oracles", admin, api.RegisterOracleRequest{OracleID: "o1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPut, "/api/v1/oracle/threshold", admin, api.ThresholdRequest{Threshold: 2})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	res := "/api/v1/resolutions/" + id
	w = env.do(t, http.MethodPost, res, admin, api.RegisterResolutionRequest{ResolutionTime: t0.Add(time.Hour)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, res+"/attestations", "o1", api.AttestationRequest{Outcome: 1, DataHash: hash})
	assert.Equal(t, http.StatusConflict, w.Code, "too early")

	env.clock.Advance(time.Hour)
	for o, outcome := range map[string]model.Outcome{"o1": 1, "o2": 1, "o3": 0} {
		w = env.do(t, http.MethodPost, res+"/attestations", o, api.AttestationRequest{Outcome: outcome, DataHash: hash})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Len(t, decodeBody[oracle.Receipt](t, w).Digest, 64)
	}
	w = env.do(t, http.MethodPost, res+"/attestations", "o2", api.AttestationRequest{Outcome: 0, DataHash: hash})
	assert.Equal(t, http.StatusConflict, w.Code, "duplicate")

	w = env.do(t, http.MethodGet, res+"/consensus", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, oracle.Consensus{Reached: true, Outcome: model.OutcomeYes}, decodeBody[oracle.Consensus](t, w))

	w = env.do(t, http.MethodGet, res+"/counts", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, oracle.Counts{Yes: 2, No: 1}, decodeBody[oracle.Counts](t, w))

	w = env.do(t, http.MethodGet, res+"/attestations/o3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.OutcomeNo, decodeBody[model.Attestation](t, w).Outcome)

	w = env.do(t, http.MethodGet, res+"/attestations", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[oracle.Resolution](t, w).Attestations, 3)

	w = env.do(t, http.MethodGet, res, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/oracles/o3", admin, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodGet, "/api/v1/oracles", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]model.Oracle](t, w), 2)
	w = env.do(t, http.MethodGet, "/api/v1/oracles/o3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeBody[model.Oracle](t, w).Active)
}

func TestWSHub_BroadcastsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewWSHub()
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	var pub events.Publisher = hub
	pub.Publish(ctx, events.New(events.SharesBought, "m1", t0, map[string]string{"shares": "82"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg api.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.SharesBought, msg.Type)
	assert.Equal(t, "m1", msg.MarketID)
	assert.Equal(t, "82", msg.Attrs["shares"])
}
