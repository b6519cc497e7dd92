// Package store defines the persistence interfaces for the outcome engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/outcome-engine/internal/model"
)

var (
	ErrNotFound = model.NewError(model.KindNotFound, "store: not found")
	ErrConflict = model.NewError(model.KindConflict, "store: already exists")

	// ErrStale is returned when a commit was computed from an outdated
	// snapshot. The caller may re-read and retry.
	ErrStale = model.NewError(model.KindConflict, "store: stale snapshot")

	errNilPool = errors.New("store: pool change without pool")
)

// IsNotFound reports whether err is a not-found error from any backend.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// PoolChange is one atomic AMM commit: the full new pool snapshot plus the
// trade record and position updates produced by the same operation.
type PoolChange struct {
	Pool *model.Pool

	// Create inserts the pool and fails with ErrConflict if one exists.
	// Otherwise the pool must already exist (ErrNotFound) at
	// Pool.Version-1 (ErrStale).
	Create bool

	// Trade is appended when non-nil. Its Index must equal the pool's
	// previous TradeCount.
	Trade *model.Trade

	// Positions carry absolute share quantities, not deltas.
	Positions []model.Position
}

// MarketStore holds the market records created by the market directory.
type MarketStore interface {
	CreateMarket(ctx context.Context, m *model.MarketInfo) error
	GetMarket(ctx context.Context, id string) (*model.MarketInfo, error)
	ListMarkets(ctx context.Context) ([]model.MarketInfo, error)
}

// PoolStore persists AMM state.
type PoolStore interface {
	// GetPool returns the committed pool snapshot or ErrNotFound.
	GetPool(ctx context.Context, marketID string) (*model.Pool, error)

	// ApplyPoolChange commits a PoolChange atomically.
	ApplyPoolChange(ctx context.Context, c PoolChange) error

	// ListTrades returns trades newest first, skipping offset records.
	ListTrades(ctx context.Context, marketID string, offset, limit int) ([]model.Trade, error)

	// GetShares returns a holder's shares on one outcome (zero if none).
	GetShares(ctx context.Context, holder, marketID string, outcome model.Outcome) (decimal.Decimal, error)
}

// OracleStore persists the attestor registry and per-market attestation state.
type OracleStore interface {
	GetOracle(ctx context.Context, id string) (*model.Oracle, error)
	PutOracle(ctx context.Context, o *model.Oracle) error
	ListOracles(ctx context.Context) ([]model.Oracle, error)

	// GetThreshold returns the persisted consensus threshold or ErrNotFound.
	GetThreshold(ctx context.Context) (uint32, error)
	PutThreshold(ctx context.Context, n uint32) error

	GetResolution(ctx context.Context, marketID string) (*model.ResolutionMarket, error)

	// ResetResolution replaces the market's attestation state and deletes
	// every attestation stored for it. The stored version is bumped past
	// any previous one regardless of m.Version.
	ResetResolution(ctx context.Context, m *model.ResolutionMarket) error

	// AddAttestation stores a and the updated market state atomically. The
	// stored state must be at m.Version-1 (ErrStale).
	AddAttestation(ctx context.Context, m *model.ResolutionMarket, a *model.Attestation) error

	GetAttestation(ctx context.Context, marketID, oracleID string) (*model.Attestation, error)

	// ListAttestations returns attestations in vote order.
	ListAttestations(ctx context.Context, marketID string) ([]model.Attestation, error)
}

// Store is the full persistence surface.
type Store interface {
	MarketStore
	PoolStore
	OracleStore
}
