package oracle

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"lukechampine.com/blake3"

	"github.com/atmx/outcome-engine/internal/events"
	"github.com/atmx/outcome-engine/internal/marketid"
	"github.com/atmx/outcome-engine/internal/metrics"
	"github.com/atmx/outcome-engine/internal/model"
	"github.com/atmx/outcome-engine/internal/store"
)

// Consensus is the result of CheckConsensus. Outcome is meaningful only
// when Reached is true and is OutcomeNo otherwise.
type Consensus struct {
	Reached bool          `json:"reached"`
	Outcome model.Outcome `json:"outcome"`
	// Tied is set when both sides meet the threshold with equal votes.
	Tied bool `json:"tied"`
}

// Counts holds the per-outcome attestation tallies of a market.
type Counts struct {
	Yes uint32 `json:"yes"`
	No  uint32 `json:"no"`
}

// Resolution is the full attestation view of one market.
type Resolution struct {
	MarketID       string              `json:"market_id"`
	ResolutionTime time.Time           `json:"resolution_time"`
	Threshold      uint32              `json:"threshold"`
	Counts         Counts              `json:"counts"`
	Attestations   []model.Attestation `json:"attestations"`
	Consensus      Consensus           `json:"consensus"`
}

// Receipt is returned by SubmitAttestation.
type Receipt struct {
	Attestation model.Attestation `json:"attestation"`
	Digest      string            `json:"digest"`
}

// Digest returns the blake3 hex digest binding an attestation's market,
// attestor, outcome, data hash and timestamp at microsecond precision.
func Digest(a model.Attestation) string {
	h := blake3.New(32, nil)
	for _, s := range []string{a.MarketID, a.Attestor, a.DataHash} {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(s)))
		h.Write(l[:])
		h.Write([]byte(s))
	}
	var tail [12]byte
	binary.BigEndian.PutUint32(tail[:4], uint32(a.Outcome))
	binary.BigEndian.PutUint64(tail[4:], uint64(a.Timestamp.UnixMicro()))
	h.Write(tail[:])
	return hex.EncodeToString(h.Sum(nil))
}

func parseMarket(id string) (string, error) {
	m, err := marketid.ParseMarketID(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMarketID, err)
	}
	return m, nil
}

func (e *Engine) loadResolution(ctx context.Context, marketID string) (*model.ResolutionMarket, error) {
	m, err := e.store.GetResolution(ctx, marketID)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotRegistered, marketID)
	}
	if err != nil {
		return nil, fmt.Errorf("oracle: load market %s: %w", marketID, err)
	}
	return m, nil
}

// RegisterMarket opens a market for attestation at resolutionTime with the
// current threshold. Registering again resets every vote on the market.
func (e *Engine) RegisterMarket(ctx context.Context, caller, marketID string, resolutionTime time.Time) (_ *model.ResolutionMarket, err error) {
	defer e.observe("register_market", time.Now(), &err)

	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	id, err := parseMarket(marketID)
	if err != nil {
		return nil, err
	}
	if resolutionTime.IsZero() {
		return nil, ErrInvalidResolutionTime
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	threshold, err := e.store.GetThreshold(ctx)
	if err != nil {
		return nil, fmt.Errorf("oracle: load threshold: %w", err)
	}
	m := &model.ResolutionMarket{
		MarketID:       id,
		ResolutionTime: resolutionTime.UTC(),
		Threshold:      threshold,
		Voters:         []string{},
		RegisteredAt:   e.clock.Now(),
	}
	if err := e.store.ResetResolution(ctx, m); err != nil {
		return nil, fmt.Errorf("oracle: register market %s: %w", id, err)
	}

	e.log.Info("market registered for resolution",
		"market_id", id,
		"resolution_time", m.ResolutionTime,
		"threshold", threshold,
	)
	e.publish(ctx, events.MarketRegistered, id, map[string]string{
		"resolution_time": m.ResolutionTime.Format(time.RFC3339),
		"threshold":       fmt.Sprint(threshold),
	})
	return m, nil
}

// SubmitAttestation records oracleID's vote on a market. Checks run in a
// fixed order: registered oracle, registered market, resolution time
// reached, valid outcome, valid data hash, first vote.
func (e *Engine) SubmitAttestation(ctx context.Context, oracleID, marketID string, outcome model.Outcome, dataHash string) (_ *Receipt, err error) {
	defer e.observe("submit_attestation", time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.store.GetOracle(ctx, oracleID)
	if err != nil && !store.IsNotFound(err) {
		return nil, fmt.Errorf("oracle: load oracle %s: %w", oracleID, err)
	}
	if err != nil || !o.Active {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, oracleID)
	}
	id, err := parseMarket(marketID)
	if err != nil {
		return nil, err
	}
	m, err := e.loadResolution(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	if now.Before(m.ResolutionTime) {
		return nil, fmt.Errorf("%w: resolves at %s", ErrTooEarly, m.ResolutionTime.Format(time.RFC3339))
	}
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOutcome, outcome)
	}
	hash, err := marketid.ParseDataHash(dataHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataHash, err)
	}
	if slices.Contains(m.Voters, oracleID) {
		return nil, fmt.Errorf("%w: %s on %s", ErrDuplicateAttestation, oracleID, id)
	}

	// Stores keep microsecond precision; the digest must be recomputable
	// from a stored attestation.
	a := &model.Attestation{
		MarketID:  id,
		Attestor:  oracleID,
		Outcome:   outcome,
		DataHash:  hash,
		Timestamp: now.Truncate(time.Microsecond),
	}
	next := m.Clone()
	next.Voters = append(next.Voters, oracleID)
	if outcome == model.OutcomeYes {
		next.YesCount++
	} else {
		next.NoCount++
	}
	next.Version++

	if err := e.store.AddAttestation(ctx, next, a); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %s on %s", ErrDuplicateAttestation, oracleID, id)
		}
		return nil, fmt.Errorf("oracle: store attestation: %w", err)
	}

	digest := Digest(*a)
	metrics.AttestationsTotal.WithLabelValues(outcome.String()).Inc()
	e.log.Info("attestation submitted",
		"market_id", id,
		"oracle", oracleID,
		"outcome", outcome.String(),
		"yes_count", next.YesCount,
		"no_count", next.NoCount,
	)
	e.publish(ctx, events.AttestationSubmitted, id, map[string]string{
		"oracle":    oracleID,
		"outcome":   outcome.String(),
		"data_hash": hash,
		"digest":    digest,
	})
	return &Receipt{Attestation: *a, Digest: digest}, nil
}

// CheckConsensus applies the quorum-plus-plurality rule with the market's
// threshold: an outcome wins when its votes reach the threshold and exceed
// the other side's. Equal votes never resolve.
func (e *Engine) CheckConsensus(ctx context.Context, marketID string) (Consensus, error) {
	id, err := parseMarket(marketID)
	if err != nil {
		return Consensus{}, err
	}
	m, err := e.loadResolution(ctx, id)
	if err != nil {
		return Consensus{}, err
	}
	c := evaluate(m)
	switch {
	case c.Reached:
		metrics.ConsensusChecks.WithLabelValues("reached").Inc()
	case c.Tied:
		metrics.ConsensusChecks.WithLabelValues("tied").Inc()
	default:
		metrics.ConsensusChecks.WithLabelValues("pending").Inc()
	}
	return c, nil
}

func evaluate(m *model.ResolutionMarket) Consensus {
	if uint32(len(m.Voters)) < m.Threshold {
		return Consensus{}
	}
	yes, no, th := m.YesCount, m.NoCount, m.Threshold
	switch {
	case yes >= th && yes > no:
		return Consensus{Reached: true, Outcome: model.OutcomeYes}
	case no >= th && no > yes:
		return Consensus{Reached: true, Outcome: model.OutcomeNo}
	case yes >= th && yes == no:
		return Consensus{Tied: true}
	}
	return Consensus{}
}

// GetAttestation returns one oracle's attestation on a market.
func (e *Engine) GetAttestation(ctx context.Context, marketID, oracleID string) (*model.Attestation, error) {
	id, err := parseMarket(marketID)
	if err != nil {
		return nil, err
	}
	a, err := e.store.GetAttestation(ctx, id, oracleID)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s on %s", ErrAttestationNotFound, oracleID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("oracle: load attestation: %w", err)
	}
	return a, nil
}

func (e *Engine) GetAttestationCounts(ctx context.Context, marketID string) (Counts, error) {
	id, err := parseMarket(marketID)
	if err != nil {
		return Counts{}, err
	}
	m, err := e.loadResolution(ctx, id)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Yes: m.YesCount, No: m.NoCount}, nil
}

func (e *Engine) GetMarketResolutionTime(ctx context.Context, marketID string) (time.Time, error) {
	id, err := parseMarket(marketID)
	if err != nil {
		return time.Time{}, err
	}
	m, err := e.loadResolution(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	return m.ResolutionTime, nil
}

// GetAttestations returns every attestation on a market in vote order with
// the tallies and the current consensus status.
func (e *Engine) GetAttestations(ctx context.Context, marketID string) (*Resolution, error) {
	id, err := parseMarket(marketID)
	if err != nil {
		return nil, err
	}
	m, err := e.loadResolution(ctx, id)
	if err != nil {
		return nil, err
	}
	list, err := e.store.ListAttestations(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("oracle: list attestations: %w", err)
	}
	return &Resolution{
		MarketID:       id,
		ResolutionTime: m.ResolutionTime,
		Threshold:      m.Threshold,
		Counts:         Counts{Yes: m.YesCount, No: m.NoCount},
		Attestations:   list,
		Consensus:      evaluate(m),
	}, nil
}
