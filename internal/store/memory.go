package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/outcome-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps keyed by the composite
// persistence keys. Used for testing and development. Not suitable for
// production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	markets      map[string]*model.MarketInfo
	pools        map[string]*model.Pool
	trades       map[string]model.Trade
	shares       map[string]decimal.Decimal
	oracles      map[string]*model.Oracle
	resolutions  map[string]*model.ResolutionMarket
	attestations map[string]model.Attestation
	threshold    *uint32
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:      make(map[string]*model.MarketInfo),
		pools:        make(map[string]*model.Pool),
		trades:       make(map[string]model.Trade),
		shares:       make(map[string]decimal.Decimal),
		oracles:      make(map[string]*model.Oracle),
		resolutions:  make(map[string]*model.ResolutionMarket),
		attestations: make(map[string]model.Attestation),
	}
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.MarketInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := marketKey(m.ID)
	if _, ok := s.markets[key]; ok {
		return fmt.Errorf("%w: market %s", ErrConflict, m.ID)
	}
	cp := *m
	s.markets[key] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.MarketInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[marketKey(id)]
	if !ok {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.MarketInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.MarketInfo, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

// --- Pools ---

func (s *MemoryStore) GetPool(_ context.Context, marketID string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[poolKey(marketID)]
	if !ok {
		return nil, fmt.Errorf("%w: pool %s", ErrNotFound, marketID)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ApplyPoolChange(_ context.Context, c PoolChange) error {
	if c.Pool == nil {
		return errNilPool
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := poolKey(c.Pool.MarketID)
	prev, exists := s.pools[key]
	switch {
	case c.Create && exists:
		return fmt.Errorf("%w: pool %s", ErrConflict, c.Pool.MarketID)
	case !c.Create && !exists:
		return fmt.Errorf("%w: pool %s", ErrNotFound, c.Pool.MarketID)
	case !c.Create && prev.Version+1 != c.Pool.Version:
		return fmt.Errorf("%w: pool %s at version %d", ErrStale, c.Pool.MarketID, prev.Version)
	}

	if c.Trade != nil {
		tk := tradeKey(c.Trade.MarketID, c.Trade.Index)
		if _, dup := s.trades[tk]; dup {
			return fmt.Errorf("%w: trade %s", ErrConflict, tk)
		}
		s.trades[tk] = *c.Trade
	}
	for _, p := range c.Positions {
		s.shares[sharesKey(p.Holder, p.MarketID, p.Outcome)] = p.Shares
	}
	s.pools[key] = c.Pool.Clone()
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, marketID string, offset, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[poolKey(marketID)]
	if !ok {
		return nil, fmt.Errorf("%w: pool %s", ErrNotFound, marketID)
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return []model.Trade{}, nil
	}

	trades := make([]model.Trade, 0, limit)
	// Trade indexes are dense, so walk them backwards from the newest.
	for i := int64(p.TradeCount) - 1 - int64(offset); i >= 0 && len(trades) < limit; i-- {
		if t, ok := s.trades[tradeKey(marketID, uint64(i))]; ok {
			trades = append(trades, t)
		}
	}
	return trades, nil
}

func (s *MemoryStore) GetShares(_ context.Context, holder, marketID string, o model.Outcome) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shares[sharesKey(holder, marketID, o)], nil
}

// --- Oracles ---

func (s *MemoryStore) GetOracle(_ context.Context, id string) (*model.Oracle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.oracles[oracleKey(id)]
	if !ok {
		return nil, fmt.Errorf("%w: oracle %s", ErrNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) PutOracle(_ context.Context, o *model.Oracle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.oracles[oracleKey(o.ID)] = &cp
	return nil
}

func (s *MemoryStore) ListOracles(_ context.Context) ([]model.Oracle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Oracle, 0, len(s.oracles))
	for _, o := range s.oracles {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

func (s *MemoryStore) GetThreshold(_ context.Context) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.threshold == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, thresholdKey)
	}
	return *s.threshold, nil
}

func (s *MemoryStore) PutThreshold(_ context.Context, n uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = &n
	return nil
}

// --- Resolution state ---

func (s *MemoryStore) GetResolution(_ context.Context, marketID string) (*model.ResolutionMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.resolutions[resolutionKey(marketID)]
	if !ok {
		return nil, fmt.Errorf("%w: resolution %s", ErrNotFound, marketID)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) ResetResolution(_ context.Context, m *model.ResolutionMarket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := m.Clone()
	next.Version = 1
	if prev, ok := s.resolutions[resolutionKey(m.MarketID)]; ok {
		for _, voter := range prev.Voters {
			delete(s.attestations, attestationKey(m.MarketID, voter))
		}
		next.Version = prev.Version + 1
	}
	s.resolutions[resolutionKey(m.MarketID)] = next
	return nil
}

func (s *MemoryStore) AddAttestation(_ context.Context, m *model.ResolutionMarket, a *model.Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.resolutions[resolutionKey(m.MarketID)]
	if !ok {
		return fmt.Errorf("%w: resolution %s", ErrNotFound, m.MarketID)
	}
	if prev.Version+1 != m.Version {
		return fmt.Errorf("%w: resolution %s at version %d", ErrStale, m.MarketID, prev.Version)
	}
	ak := attestationKey(a.MarketID, a.Attestor)
	if _, dup := s.attestations[ak]; dup {
		return fmt.Errorf("%w: %s", ErrConflict, ak)
	}
	s.attestations[ak] = *a
	s.resolutions[resolutionKey(m.MarketID)] = m.Clone()
	return nil
}

func (s *MemoryStore) GetAttestation(_ context.Context, marketID, oracleID string) (*model.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attestations[attestationKey(marketID, oracleID)]
	if !ok {
		return nil, fmt.Errorf("%w: attestation %s/%s", ErrNotFound, marketID, oracleID)
	}
	return &a, nil
}

func (s *MemoryStore) ListAttestations(_ context.Context, marketID string) ([]model.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.resolutions[resolutionKey(marketID)]
	if !ok {
		return nil, fmt.Errorf("%w: resolution %s", ErrNotFound, marketID)
	}
	out := make([]model.Attestation, 0, len(m.Voters))
	for _, voter := range m.Voters {
		if a, ok := s.attestations[attestationKey(marketID, voter)]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}
