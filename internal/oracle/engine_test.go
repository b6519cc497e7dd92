package oracle_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/outcome-engine/internal/clock"
	"github.com/atmx/outcome-engine/internal/events"
	"github.com/atmx/outcome-engine/internal/marketid"
	"github.com/atmx/outcome-engine/internal/model"
	"github.com/atmx/outcome-engine/internal/oracle"
	"github.com/atmx/outcome-engine/internal/store"
)

const admin = "admin"

var (
	t0       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	market   = marketid.Derive("Will the bill pass?", "1")
	dataHash = strings.Repeat("ab", 32)
)

type env struct {
	engine *oracle.Engine
	store  *store.MemoryStore
	clock  *clock.Manual
	events *events.Recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ms := store.NewMemoryStore()
	clk := clock.NewManual(t0)
	rec := &events.Recorder{}
	cfg := oracle.DefaultConfig()
	cfg.Admin = admin
	e, err := oracle.New(context.Background(), cfg, oracle.Deps{Store: ms, Events: rec, Clock: clk})
	require.NoError(t, err)
	return &env{engine: e, store: ms, clock: clk, events: rec}
}

// setup registers n oracles (o1..on), sets the threshold and registers the
// market resolving one hour from t0, then moves the clock past it.
func (v *env) setup(t *testing.T, n int, threshold uint32) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		_, err := v.engine.RegisterOracle(ctx, admin, fmt.Sprintf("o%d", i), fmt.Sprintf("Oracle %d", i))
		require.NoError(t, err)
		v.clock.Advance(time.Second)
	}
	require.NoError(t, v.engine.SetConsensusThreshold(ctx, admin, threshold))
	_, err := v.engine.RegisterMarket(ctx, admin, market, t0.Add(time.Hour))
	require.NoError(t, err)
	v.clock.Advance(2 * time.Hour)
}

func (v *env) attest(t *testing.T, oracleID string, o model.Outcome) {
	t.Helper()
	_, err := v.engine.SubmitAttestation(context.Background(), oracleID, market, o, dataHash)
	require.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	_, err := oracle.New(ctx, oracle.DefaultConfig(), oracle.Deps{Store: ms})
	assert.ErrorIs(t, err, oracle.ErrMissingConfig)

	cfg := oracle.DefaultConfig()
	cfg.Admin = admin
	cfg.RequiredConsensus = 0
	_, err = oracle.New(ctx, cfg, oracle.Deps{Store: ms})
	assert.ErrorIs(t, err, oracle.ErrInvalidConfig)

	cfg.RequiredConsensus = 1
	_, err = oracle.New(ctx, cfg, oracle.Deps{})
	assert.ErrorIs(t, err, oracle.ErrMissingDependency)
}

func TestNew_KeepsPersistedThreshold(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.PutThreshold(ctx, 3))

	cfg := oracle.DefaultConfig()
	cfg.Admin = admin
	e, err := oracle.New(ctx, cfg, oracle.Deps{Store: ms})
	require.NoError(t, err)

	n, err := e.Threshold(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
}

func TestRegisterOracle(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()

	o, err := v.engine.RegisterOracle(ctx, admin, "o1", "Oracle One")
	require.NoError(t, err)
	assert.True(t, o.Active)
	assert.Equal(t, uint32(oracle.InitialAccuracy), o.Accuracy)
	assert.Equal(t, t0, o.RegisteredAt)

	_, err = v.engine.RegisterOracle(ctx, admin, "o1", "again")
	assert.ErrorIs(t, err, oracle.ErrAlreadyRegistered)

	_, err = v.engine.RegisterOracle(ctx, "o1", "o2", "self-service")
	assert.ErrorIs(t, err, oracle.ErrUnauthorized)

	_, err = v.engine.RegisterOracle(ctx, admin, "  ", "blank")
	assert.ErrorIs(t, err, oracle.ErrInvalidOracle)

	ev, ok := v.events.Last(events.OracleRegistered)
	require.True(t, ok)
	assert.Equal(t, "o1", ev.Attrs["oracle"])
}

func TestRegisterOracle_LimitReached(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	for i := 1; i <= oracle.DefaultMaxOracles; i++ {
		_, err := v.engine.RegisterOracle(ctx, admin, fmt.Sprintf("o%d", i), "")
		require.NoError(t, err)
	}

	_, err := v.engine.RegisterOracle(ctx, admin, "o11", "")
	assert.ErrorIs(t, err, oracle.ErrLimitReached)
	assert.Equal(t, model.KindConflict, model.KindOf(err))

	// Deregistering frees a slot.
	require.NoError(t, v.engine.DeregisterOracle(ctx, admin, "o3"))
	_, err = v.engine.RegisterOracle(ctx, admin, "o11", "")
	assert.NoError(t, err)

	active, err := v.engine.GetActiveOracles(ctx)
	require.NoError(t, err)
	assert.Len(t, active, oracle.DefaultMaxOracles)
}

func TestDeregisterOracle(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	v.setup(t, 2, 1)
	v.attest(t, "o1", model.OutcomeYes)

	assert.ErrorIs(t, v.engine.DeregisterOracle(ctx, "o2", "o1"), oracle.ErrUnauthorized)
	assert.ErrorIs(t, v.engine.DeregisterOracle(ctx, admin, "nobody"), oracle.ErrNotRegistered)
	require.NoError(t, v.engine.DeregisterOracle(ctx, admin, "o1"))
	assert.ErrorIs(t, v.engine.DeregisterOracle(ctx, admin, "o1"), oracle.ErrNotRegistered)

	info, err := v.engine.GetOracleInfo(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, info.Active)
	require.NotNil(t, info.DeregisteredAt)

	// Existing attestations stay; new ones are refused.
	_, err = v.engine.GetAttestation(ctx, market, "o1")
	assert.NoError(t, err)
	other := marketid.Derive("other", "2")
	_, err = v.engine.RegisterMarket(ctx, admin, other, t0)
	require.NoError(t, err)
	_, err = v.engine.SubmitAttestation(ctx, "o1", other, model.OutcomeYes, dataHash)
	assert.ErrorIs(t, err, oracle.ErrNotRegistered)

	// Re-registration reactivates the same entry.
	o, err := v.engine.RegisterOracle(ctx, admin, "o1", "")
	require.NoError(t, err)
	assert.True(t, o.Active)
	assert.Nil(t, o.DeregisteredAt)
	assert.Equal(t, "Oracle 1", o.Name)
	assert.Equal(t, t0, o.RegisteredAt)
}

func TestSetConsensusThreshold(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	for _, id := range []string{"o1", "o2"} {
		_, err := v.engine.RegisterOracle(ctx, admin, id, "")
		require.NoError(t, err)
	}

	assert.ErrorIs(t, v.engine.SetConsensusThreshold(ctx, "o1", 2), oracle.ErrUnauthorized)
	assert.ErrorIs(t, v.engine.SetConsensusThreshold(ctx, admin, 0), oracle.ErrInvalidThreshold)
	assert.ErrorIs(t, v.engine.SetConsensusThreshold(ctx, admin, 3), oracle.ErrInvalidThreshold)
	require.NoError(t, v.engine.SetConsensusThreshold(ctx, admin, 2))
	ev, ok := v.events.Last(events.ConsensusThresholdUpdated)
	require.True(t, ok)
	assert.Equal(t, "1", ev.Attrs["old"])
	assert.Equal(t, "2", ev.Attrs["new"])
	n, err := v.engine.Threshold(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	// Markets snapshot the threshold at registration.
	m, err := v.engine.RegisterMarket(ctx, admin, market, t0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), m.Threshold)
	require.NoError(t, v.engine.SetConsensusThreshold(ctx, admin, 1))
	res, err := v.engine.GetAttestations(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), res.Threshold)
}

func TestRegisterMarket(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()

	_, err := v.engine.RegisterMarket(ctx, "someone", market, t0)
	assert.ErrorIs(t, err, oracle.ErrUnauthorized)
	_, err = v.engine.RegisterMarket(ctx, admin, "xyz", t0)
	assert.ErrorIs(t, err, oracle.ErrInvalidMarketID)
	_, err = v.engine.RegisterMarket(ctx, admin, market, time.Time{})
	assert.ErrorIs(t, err, oracle.ErrInvalidResolutionTime)

	_, err = v.engine.GetMarketResolutionTime(ctx, market)
	assert.ErrorIs(t, err, oracle.ErrMarketNotRegistered)

	_, err = v.engine.RegisterMarket(ctx, admin, "0x"+strings.ToUpper(market), t0.Add(time.Hour))
	require.NoError(t, err)
	rt, err := v.engine.GetMarketResolutionTime(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), rt)
}

func TestRegisterMarket_ResetsVotes(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	v.setup(t, 3, 2)
	v.attest(t, "o1", model.OutcomeYes)
	v.attest(t, "o2", model.OutcomeNo)

	_, err := v.engine.RegisterMarket(ctx, admin, market, t0)
	require.NoError(t, err)

	counts, err := v.engine.GetAttestationCounts(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, oracle.Counts{}, counts)
	_, err = v.engine.GetAttestation(ctx, market, "o1")
	assert.ErrorIs(t, err, oracle.ErrAttestationNotFound)

	// The same oracle may vote again after the reset.
	v.attest(t, "o1", model.OutcomeNo)
}

func TestSubmitAttestation_CheckOrder(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	for _, id := range []string{"o1", "o2"} {
		_, err := v.engine.RegisterOracle(ctx, admin, id, "")
		require.NoError(t, err)
	}
	unregistered := marketid.Derive("unregistered", "0")
	_, err := v.engine.RegisterMarket(ctx, admin, market, t0.Add(time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name    string
		oracle  string
		market  string
		outcome model.Outcome
		hash    string
		wantErr error
	}{
		{"unknown oracle before everything", "ghost", "bad", 7, "bad", oracle.ErrNotRegistered},
		{"bad market id", "o1", "bad", 7, "bad", oracle.ErrInvalidMarketID},
		{"market not registered", "o1", unregistered, 7, "bad", oracle.ErrMarketNotRegistered},
		{"too early before outcome", "o1", market, 7, "bad", oracle.ErrTooEarly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.engine.SubmitAttestation(ctx, tt.oracle, tt.market, tt.outcome, tt.hash)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	v.clock.Advance(time.Hour)
	_, err = v.engine.SubmitAttestation(ctx, "o1", market, 7, "bad")
	assert.ErrorIs(t, err, oracle.ErrInvalidOutcome)
	_, err = v.engine.SubmitAttestation(ctx, "o1", market, model.OutcomeYes, "bad")
	assert.ErrorIs(t, err, oracle.ErrInvalidDataHash)

	rcpt, err := v.engine.SubmitAttestation(ctx, "o1", market, model.OutcomeYes, "0x"+dataHash)
	require.NoError(t, err)
	assert.Equal(t, dataHash, rcpt.Attestation.DataHash)
	assert.Equal(t, v.clock.Now(), rcpt.Attestation.Timestamp)
	assert.Equal(t, oracle.Digest(rcpt.Attestation), rcpt.Digest)
	assert.Len(t, rcpt.Digest, 64)

	_, err = v.engine.SubmitAttestation(ctx, "o1", market, model.OutcomeNo, dataHash)
	assert.ErrorIs(t, err, oracle.ErrDuplicateAttestation)

	ev, ok := v.events.Last(events.AttestationSubmitted)
	require.True(t, ok)
	assert.Equal(t, rcpt.Digest, ev.Attrs["digest"])
}

func TestCheckConsensus(t *testing.T) {
	tests := []struct {
		name      string
		oracles   int
		threshold uint32
		votes     []model.Outcome
		want      oracle.Consensus
	}{
		{"below quorum", 3, 2, []model.Outcome{1}, oracle.Consensus{}},
		{"two of three yes", 3, 2, []model.Outcome{1, 1, 0}, oracle.Consensus{Reached: true, Outcome: model.OutcomeYes}},
		{"two of three no", 3, 2, []model.Outcome{0, 1, 0}, oracle.Consensus{Reached: true, Outcome: model.OutcomeNo}},
		{"tie at threshold", 4, 2, []model.Outcome{1, 1, 0, 0}, oracle.Consensus{Tied: true}},
		{"three beats two", 5, 2, []model.Outcome{1, 0, 1, 0, 1}, oracle.Consensus{Reached: true, Outcome: model.OutcomeYes}},
		{"quorum without majority side", 3, 3, []model.Outcome{1, 1, 0}, oracle.Consensus{}},
		{"single oracle", 1, 1, []model.Outcome{0}, oracle.Consensus{Reached: true, Outcome: model.OutcomeNo}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newEnv(t)
			v.setup(t, tt.oracles, tt.threshold)
			for i, o := range tt.votes {
				v.attest(t, fmt.Sprintf("o%d", i+1), o)
			}
			got, err := v.engine.CheckConsensus(context.Background(), market)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckConsensus_UnregisteredMarket(t *testing.T) {
	v := newEnv(t)
	_, err := v.engine.CheckConsensus(context.Background(), market)
	assert.ErrorIs(t, err, oracle.ErrMarketNotRegistered)
}

func TestGetAttestations_VoteOrder(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	v.setup(t, 3, 2)
	v.attest(t, "o3", model.OutcomeYes)
	v.clock.Advance(time.Minute)
	v.attest(t, "o1", model.OutcomeNo)
	v.clock.Advance(time.Minute)
	v.attest(t, "o2", model.OutcomeYes)

	res, err := v.engine.GetAttestations(ctx, market)
	require.NoError(t, err)
	require.Len(t, res.Attestations, 3)
	assert.Equal(t, "o3", res.Attestations[0].Attestor)
	assert.Equal(t, "o1", res.Attestations[1].Attestor)
	assert.Equal(t, "o2", res.Attestations[2].Attestor)
	assert.Equal(t, oracle.Counts{Yes: 2, No: 1}, res.Counts)
	assert.True(t, res.Consensus.Reached)

	a, err := v.engine.GetAttestation(ctx, market, "o1")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNo, a.Outcome)
}

func TestGetActiveOracles_Order(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	v.setup(t, 3, 1)

	// Lower o1's accuracy directly; scoring updates are not an engine operation.
	o1, err := v.store.GetOracle(ctx, "o1")
	require.NoError(t, err)
	o1.Accuracy = 80
	require.NoError(t, v.store.PutOracle(ctx, o1))
	require.NoError(t, v.engine.DeregisterOracle(ctx, admin, "o2"))

	active, err := v.engine.GetActiveOracles(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "o3", active[0].ID)
	assert.Equal(t, "o1", active[1].ID)

	_, err = v.engine.GetOracleInfo(ctx, "nobody")
	assert.ErrorIs(t, err, oracle.ErrOracleNotFound)
}

func TestDigest_BindsFields(t *testing.T) {
	a := model.Attestation{MarketID: market, Attestor: "o1", Outcome: model.OutcomeYes, DataHash: dataHash, Timestamp: t0}
	b := a
	b.Outcome = model.OutcomeNo
	c := a
	c.Timestamp = t0.Add(time.Microsecond)
	d := a
	d.Timestamp = t0.Add(time.Nanosecond)

	assert.Equal(t, oracle.Digest(a), oracle.Digest(a))
	assert.NotEqual(t, oracle.Digest(a), oracle.Digest(b))
	assert.NotEqual(t, oracle.Digest(a), oracle.Digest(c))
	assert.Equal(t, oracle.Digest(a), oracle.Digest(d), "sub-microsecond time is not stored")
}

func TestSubmitAttestation_DigestRecomputableFromStore(t *testing.T) {
	v := newEnv(t)
	v.setup(t, 1, 1)
	ctx := context.Background()
	v.clock.Advance(1_234_567_891 * time.Nanosecond)

	rcpt, err := v.engine.SubmitAttestation(ctx, "o1", market, model.OutcomeYes, dataHash)
	require.NoError(t, err)
	assert.Equal(t, v.clock.Now().Truncate(time.Microsecond), rcpt.Attestation.Timestamp)
	assert.Zero(t, rcpt.Attestation.Timestamp.Nanosecond()%1000)

	stored, err := v.engine.GetAttestation(ctx, market, "o1")
	require.NoError(t, err)
	assert.Equal(t, rcpt.Digest, oracle.Digest(*stored))
}
