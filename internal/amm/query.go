package amm

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/outcome-engine/internal/cpmm"
	"github.com/atmx/outcome-engine/internal/model"
)

// Trade history paging.
const (
	DefaultTradeLimit = 50
	MaxTradeLimit     = 100
)

// Odds is the implied probability of each outcome in basis points.
type Odds struct {
	YesBps uint32 `json:"yes_bps"`
	NoBps  uint32 `json:"no_bps"`
}

// PoolState is the read model returned by GetPoolState.
type PoolState struct {
	MarketID       string          `json:"market_id"`
	YesReserve     decimal.Decimal `json:"yes_reserve"`
	NoReserve      decimal.Decimal `json:"no_reserve"`
	K              decimal.Decimal `json:"k"`
	TotalLiquidity decimal.Decimal `json:"total_liquidity"`
	Odds           Odds            `json:"odds"`
	YesPrice       decimal.Decimal `json:"yes_price"`
	NoPrice        decimal.Decimal `json:"no_price"`
	LPTotalSupply  decimal.Decimal `json:"lp_total_supply"`
	Providers      int             `json:"providers"`
	FeesCollected  decimal.Decimal `json:"fees_collected"`
	FeesClaimed    decimal.Decimal `json:"fees_claimed"`
	Volume         decimal.Decimal `json:"volume"`
	TradeCount     uint64          `json:"trade_count"`
	SlippageBps    uint32          `json:"slippage_bps"`
	TradingFeeBps  uint32          `json:"trading_fee_bps"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LPPosition is one provider's claim on a pool.
type LPPosition struct {
	Provider      string          `json:"provider"`
	MarketID      string          `json:"market_id"`
	LPTokens      decimal.Decimal `json:"lp_tokens"`
	ShareBps      decimal.Decimal `json:"share_bps"`
	YesClaim      decimal.Decimal `json:"yes_claim"`
	NoClaim       decimal.Decimal `json:"no_claim"`
	ClaimableFees decimal.Decimal `json:"claimable_fees"`
}

// UserShares is a holder's position on both outcomes, marked at the
// current pool prices.
type UserShares struct {
	Holder    string          `json:"holder"`
	MarketID  string          `json:"market_id"`
	YesShares decimal.Decimal `json:"yes_shares"`
	NoShares  decimal.Decimal `json:"no_shares"`
	MarkValue decimal.Decimal `json:"mark_value"`
}

// Quote is a read-only preview of BuyShares.
type Quote struct {
	MarketID       string          `json:"market_id"`
	Outcome        model.Outcome   `json:"outcome"`
	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	SharesOut      decimal.Decimal `json:"shares_out"`
	AveragePrice   decimal.Decimal `json:"average_price"`
	PriceBefore    decimal.Decimal `json:"price_before"`
	PriceAfter     decimal.Decimal `json:"price_after"`
	PriceImpactBps decimal.Decimal `json:"price_impact_bps"`
	MinSharesOut   decimal.Decimal `json:"min_shares_out"`
	SlippageBps    uint32          `json:"slippage_bps"`
}

// GetOdds returns the pool's implied probabilities. A fresh pool is 5000/5000.
func (e *Engine) GetOdds(ctx context.Context, marketID string) (Odds, error) {
	id, err := parseMarket(marketID)
	if err != nil {
		return Odds{}, err
	}
	pool, err := e.loadPool(ctx, id)
	if err != nil {
		return Odds{}, err
	}
	return odds(pool)
}

func odds(p *model.Pool) (Odds, error) {
	y, n, err := cpmm.OddsBps(p.YesReserve, p.NoReserve)
	if err != nil {
		return Odds{}, mathErr(err)
	}
	return Odds{YesBps: y, NoBps: n}, nil
}

// GetPoolState returns a snapshot of the pool.
func (e *Engine) GetPoolState(ctx context.Context, marketID string) (*PoolState, error) {
	id, err := parseMarket(marketID)
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool(ctx, id)
	if err != nil {
		return nil, err
	}
	o, err := odds(pool)
	if err != nil {
		return nil, err
	}
	return &PoolState{
		MarketID:       pool.MarketID,
		YesReserve:     pool.YesReserve,
		NoReserve:      pool.NoReserve,
		K:              pool.K,
		TotalLiquidity: pool.TotalLiquidity(),
		Odds:           o,
		YesPrice:       cpmm.Price(pool.YesReserve, pool.NoReserve, true),
		NoPrice:        cpmm.Price(pool.YesReserve, pool.NoReserve, false),
		LPTotalSupply:  pool.LPTotalSupply,
		Providers:      len(pool.LPAccounts),
		FeesCollected:  pool.FeesCollected,
		FeesClaimed:    pool.FeesClaimed,
		Volume:         pool.Volume,
		TradeCount:     pool.TradeCount,
		SlippageBps:    pool.SlippageBps,
		TradingFeeBps:  e.cfg.TradingFeeBps,
		CreatedAt:      pool.CreatedAt,
		UpdatedAt:      pool.UpdatedAt,
	}, nil
}

// GetLPPosition returns the provider's LP tokens, pool share and claims.
// Providers without a position get a zero record.
func (e *Engine) GetLPPosition(ctx context.Context, provider, marketID string) (*LPPosition, error) {
	id, err := parseMarket(marketID)
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool(ctx, id)
	if err != nil {
		return nil, err
	}

	pos := &LPPosition{
		Provider:      provider,
		MarketID:      id,
		LPTokens:      decimal.Zero,
		ShareBps:      decimal.Zero,
		YesClaim:      decimal.Zero,
		NoClaim:       decimal.Zero,
		ClaimableFees: decimal.Zero,
	}
	acct, ok := pool.LPAccounts[provider]
	if !ok || pool.LPTotalSupply.IsZero() {
		return pos, nil
	}
	pos.LPTokens = acct.Balance
	pos.ShareBps = acct.Balance.Mul(decimal.NewFromInt(cpmm.BpsDenominator)).Div(pool.LPTotalSupply).Floor()
	if pos.YesClaim, err = cpmm.Withdrawal(acct.Balance, pool.YesReserve, pool.LPTotalSupply); err != nil {
		return nil, mathErr(err)
	}
	if pos.NoClaim, err = cpmm.Withdrawal(acct.Balance, pool.NoReserve, pool.LPTotalSupply); err != nil {
		return nil, mathErr(err)
	}
	pos.ClaimableFees = settle(acct, pool.FeeGrowth).FeesOwed
	return pos, nil
}

// GetUserShares returns the holder's YES and NO shares.
func (e *Engine) GetUserShares(ctx context.Context, holder, marketID string) (*UserShares, error) {
	id, err := parseMarket(marketID)
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool(ctx, id)
	if err != nil {
		return nil, err
	}
	yes, err := e.store.GetShares(ctx, holder, id, model.OutcomeYes)
	if err != nil {
		return nil, fmt.Errorf("amm: load position: %w", err)
	}
	no, err := e.store.GetShares(ctx, holder, id, model.OutcomeNo)
	if err != nil {
		return nil, fmt.Errorf("amm: load position: %w", err)
	}
	mark := yes.Mul(cpmm.Price(pool.YesReserve, pool.NoReserve, true)).
		Add(no.Mul(cpmm.Price(pool.YesReserve, pool.NoReserve, false))).
		Round(cpmm.PriceScale)
	return &UserShares{
		Holder:    holder,
		MarketID:  id,
		YesShares: yes,
		NoShares:  no,
		MarkValue: mark,
	}, nil
}

// GetTradeHistory returns trades newest first. A non-positive limit means
// DefaultTradeLimit; larger limits are capped at MaxTradeLimit.
func (e *Engine) GetTradeHistory(ctx context.Context, marketID string, offset, limit int) ([]model.Trade, error) {
	id, err := parseMarket(marketID)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", ErrInvalidAmount)
	}
	if limit <= 0 {
		limit = DefaultTradeLimit
	}
	if limit > MaxTradeLimit {
		limit = MaxTradeLimit
	}
	if _, err := e.loadPool(ctx, id); err != nil {
		return nil, err
	}
	trades, err := e.store.ListTrades(ctx, id, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("amm: list trades: %w", err)
	}
	return trades, nil
}

// CalculateSpotPrice quotes a buy of amount on outcome without executing it.
func (e *Engine) CalculateSpotPrice(ctx context.Context, marketID string, outcome model.Outcome, amount decimal.Decimal) (*Quote, error) {
	id, err := parseMarket(marketID)
	if err != nil {
		return nil, err
	}
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOutcome, outcome)
	}
	if err := positiveAmount(amount); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(ctx, id)
	if err != nil {
		return nil, err
	}

	fee, err := cpmm.Fee(amount, e.cfg.TradingFeeBps)
	if err != nil {
		return nil, mathErr(err)
	}
	net := amount.Sub(fee)
	bought := pool.Reserve(outcome)
	other := pool.Reserve(opposite(outcome))
	shares := decimal.Zero
	if net.IsPositive() {
		if shares, err = cpmm.SharesOut(other, bought, net); err != nil {
			return nil, mathErr(err)
		}
	}

	isYes := outcome == model.OutcomeYes
	before := cpmm.Price(pool.YesReserve, pool.NoReserve, isYes)
	after := pool.Clone()
	setReserves(after, outcome, bought.Sub(shares), other.Add(net))
	priceAfter := cpmm.Price(after.YesReserve, after.NoReserve, isYes)

	q := &Quote{
		MarketID:       id,
		Outcome:        outcome,
		Amount:         amount,
		Fee:            fee,
		SharesOut:      shares,
		AveragePrice:   decimal.Zero,
		PriceBefore:    before,
		PriceAfter:     priceAfter,
		PriceImpactBps: decimal.Zero,
		SlippageBps:    pool.SlippageBps,
	}
	if shares.IsPositive() {
		q.AveragePrice = amount.Div(shares).Round(cpmm.PriceScale)
	}
	if before.IsPositive() {
		q.PriceImpactBps = priceAfter.Sub(before).Mul(decimal.NewFromInt(cpmm.BpsDenominator)).Div(before).Floor()
	}
	// floor(shares * (10000 - slippage) / 10000)
	q.MinSharesOut = shares.Mul(decimal.NewFromInt(int64(cpmm.BpsDenominator - pool.SlippageBps))).
		Div(decimal.NewFromInt(cpmm.BpsDenominator)).Floor()
	return q, nil
}
