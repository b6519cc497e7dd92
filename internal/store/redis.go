package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/outcome-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Only the hot snapshot reads are cached: market records, pool state and
// per-market resolution state.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.MarketInfo) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.put(ctx, marketKey(m.ID), m)
	return nil
}

func (s *CachedStore) ApplyPoolChange(ctx context.Context, c PoolChange) error {
	err := s.primary.ApplyPoolChange(ctx, c)
	if err != nil && !errors.Is(err, ErrStale) {
		return err
	}
	// Invalidate on success and on a stale snapshot (the cached copy was
	// outdated); the next read re-populates from the primary.
	if c.Pool != nil {
		s.invalidate(ctx, poolKey(c.Pool.MarketID))
	}
	return err
}

func (s *CachedStore) ResetResolution(ctx context.Context, m *model.ResolutionMarket) error {
	if err := s.primary.ResetResolution(ctx, m); err != nil {
		return err
	}
	s.invalidate(ctx, resolutionKey(m.MarketID))
	return nil
}

func (s *CachedStore) AddAttestation(ctx context.Context, m *model.ResolutionMarket, a *model.Attestation) error {
	err := s.primary.AddAttestation(ctx, m, a)
	if err != nil && !errors.Is(err, ErrStale) {
		return err
	}
	s.invalidate(ctx, resolutionKey(m.MarketID))
	return err
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.MarketInfo, error) {
	var m model.MarketInfo
	if s.get(ctx, marketKey(id), &m) {
		return &m, nil
	}
	got, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.put(ctx, marketKey(id), got)
	return got, nil
}

func (s *CachedStore) GetPool(ctx context.Context, marketID string) (*model.Pool, error) {
	var p model.Pool
	if s.get(ctx, poolKey(marketID), &p) {
		if p.LPAccounts == nil {
			p.LPAccounts = make(map[string]model.LPAccount)
		}
		return &p, nil
	}
	got, err := s.primary.GetPool(ctx, marketID)
	if err != nil {
		return nil, err
	}
	s.put(ctx, poolKey(marketID), got)
	return got, nil
}

func (s *CachedStore) GetResolution(ctx context.Context, marketID string) (*model.ResolutionMarket, error) {
	var m model.ResolutionMarket
	if s.get(ctx, resolutionKey(marketID), &m) {
		return &m, nil
	}
	got, err := s.primary.GetResolution(ctx, marketID)
	if err != nil {
		return nil, err
	}
	s.put(ctx, resolutionKey(marketID), got)
	return got, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.MarketInfo, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListTrades(ctx context.Context, marketID string, offset, limit int) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, marketID, offset, limit)
}

func (s *CachedStore) GetShares(ctx context.Context, holder, marketID string, o model.Outcome) (decimal.Decimal, error) {
	return s.primary.GetShares(ctx, holder, marketID, o)
}

func (s *CachedStore) GetOracle(ctx context.Context, id string) (*model.Oracle, error) {
	return s.primary.GetOracle(ctx, id)
}

func (s *CachedStore) PutOracle(ctx context.Context, o *model.Oracle) error {
	return s.primary.PutOracle(ctx, o)
}

func (s *CachedStore) ListOracles(ctx context.Context) ([]model.Oracle, error) {
	return s.primary.ListOracles(ctx)
}

func (s *CachedStore) GetThreshold(ctx context.Context) (uint32, error) {
	return s.primary.GetThreshold(ctx)
}

func (s *CachedStore) PutThreshold(ctx context.Context, n uint32) error {
	return s.primary.PutThreshold(ctx, n)
}

func (s *CachedStore) GetAttestation(ctx context.Context, marketID, oracleID string) (*model.Attestation, error) {
	return s.primary.GetAttestation(ctx, marketID, oracleID)
}

func (s *CachedStore) ListAttestations(ctx context.Context, marketID string) ([]model.Attestation, error) {
	return s.primary.ListAttestations(ctx, marketID)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("cache read failed", "key", key, "err", err)
		}
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) put(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		slog.Warn("cache write failed", "key", key, "err", err)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		slog.Warn("cache invalidate failed", "key", key, "err", err)
	}
}
