// Package model defines the core domain types shared across the outcome engine.
// All monetary values use shopspring/decimal, never float64 for money.
// Quantities are whole units of the custodied asset's smallest denomination.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the binary result side of a market: 0 = NO, 1 = YES.
type Outcome uint32

const (
	OutcomeNo  Outcome = 0
	OutcomeYes Outcome = 1
)

// Valid reports whether o is one of the two binary outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeNo || o == OutcomeYes
}

// String returns "YES" or "NO".
func (o Outcome) String() string {
	if o == OutcomeYes {
		return "YES"
	}
	if o == OutcomeNo {
		return "NO"
	}
	return "INVALID"
}

// TradeSide distinguishes buys from sells in the trade log.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Market status values as reported by the market directory.
const (
	MarketStatusOpen     = "open"
	MarketStatusClosed   = "closed"
	MarketStatusResolved = "resolved"
)

// MarketInfo is the subset of a market record the engines consume.
// Market records are created upstream; the engines only read them.
type MarketInfo struct {
	ID             string    `json:"id" db:"id"`
	Title          string    `json:"title" db:"title"`
	ClosesAt       time.Time `json:"closes_at" db:"closes_at"`
	ResolutionTime time.Time `json:"resolution_time" db:"resolution_time"`
	Status         string    `json:"status" db:"status"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// LPAccount is one liquidity provider's claim on a pool.
// FeeDebt is the fee-growth checkpoint at the last settlement; FeesOwed
// holds fees settled but not yet claimed.
type LPAccount struct {
	Balance  decimal.Decimal `json:"balance"`
	FeeDebt  decimal.Decimal `json:"fee_debt"`
	FeesOwed decimal.Decimal `json:"fees_owed"`
}

// Pool is the constant-product reserve state of one market.
// Invariants: YesReserve > 0, NoReserve > 0, LPTotalSupply == Σ LPAccounts[*].Balance.
type Pool struct {
	MarketID      string               `json:"market_id"`
	YesReserve    decimal.Decimal      `json:"yes_reserve"`
	NoReserve     decimal.Decimal      `json:"no_reserve"`
	K             decimal.Decimal      `json:"k"`
	LPTotalSupply decimal.Decimal      `json:"lp_total_supply"`
	LPAccounts    map[string]LPAccount `json:"lp_accounts"`
	FeeGrowth     decimal.Decimal      `json:"fee_growth"` // fees per LP token, scaled by cpmm.FeeGrowthScale
	FeesCollected decimal.Decimal      `json:"fees_collected"`
	FeesClaimed   decimal.Decimal      `json:"fees_claimed"`
	Volume        decimal.Decimal      `json:"volume"`
	TradeCount    uint64               `json:"trade_count"`
	SlippageBps   uint32               `json:"slippage_bps"`
	Version       uint64               `json:"version"` // bumped on every commit
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate a working snapshot
// without touching the committed one.
func (p *Pool) Clone() *Pool {
	c := *p
	c.LPAccounts = make(map[string]LPAccount, len(p.LPAccounts))
	for k, v := range p.LPAccounts {
		c.LPAccounts[k] = v
	}
	return &c
}

// TotalLiquidity is yes_reserve + no_reserve.
func (p *Pool) TotalLiquidity() decimal.Decimal {
	return p.YesReserve.Add(p.NoReserve)
}

// Reserve returns the reserve backing outcome o.
func (p *Pool) Reserve(o Outcome) decimal.Decimal {
	if o == OutcomeYes {
		return p.YesReserve
	}
	return p.NoReserve
}

// Trade is an immutable record of a buy or sell against a pool.
// Once created, these are never modified or deleted.
type Trade struct {
	MarketID  string          `json:"market_id" db:"market_id"`
	Index     uint64          `json:"index" db:"idx"`
	Trader    string          `json:"trader" db:"trader"`
	Side      TradeSide       `json:"side" db:"side"`
	Outcome   Outcome         `json:"outcome" db:"outcome"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // gross amount paid (buy) or gross payout (sell)
	Fee       decimal.Decimal `json:"fee" db:"fee"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Position is a holder's share quantity on one outcome of one market.
type Position struct {
	Holder   string          `json:"holder"`
	MarketID string          `json:"market_id"`
	Outcome  Outcome         `json:"outcome"`
	Shares   decimal.Decimal `json:"shares"`
}

// Oracle is an attestor registry entry. Entries are never removed;
// deregistration only clears Active.
type Oracle struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Active         bool       `json:"active"`
	Accuracy       uint32     `json:"accuracy"`
	RegisteredAt   time.Time  `json:"registered_at"`
	DeregisteredAt *time.Time `json:"deregistered_at,omitempty"`
}

// Attestation is a single oracle's immutable claim about a market outcome.
type Attestation struct {
	MarketID  string    `json:"market_id"`
	Attestor  string    `json:"attestor"`
	Outcome   Outcome   `json:"outcome"`
	DataHash  string    `json:"data_hash"`
	Timestamp time.Time `json:"timestamp"`
}

// ResolutionMarket is the per-market attestation state held by the oracle engine.
// YesCount/NoCount always equal the number of stored attestations per outcome.
type ResolutionMarket struct {
	MarketID       string    `json:"market_id"`
	ResolutionTime time.Time `json:"resolution_time"`
	Threshold      uint32    `json:"threshold"`
	YesCount       uint32    `json:"yes_count"`
	NoCount        uint32    `json:"no_count"`
	Voters         []string  `json:"voters"`
	Version        uint64    `json:"version"`
	RegisteredAt   time.Time `json:"registered_at"`
}

// Clone returns a deep copy.
func (m *ResolutionMarket) Clone() *ResolutionMarket {
	c := *m
	c.Voters = append([]string(nil), m.Voters...)
	return &c
}
