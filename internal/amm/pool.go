package amm

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/outcome-engine/internal/cpmm"
	"github.com/atmx/outcome-engine/internal/events"
	"github.com/atmx/outcome-engine/internal/metrics"
	"github.com/atmx/outcome-engine/internal/model"
	"github.com/atmx/outcome-engine/internal/store"
)

// CreatePool opens the pool for an existing, open market. The seed is split
// 50/50 (odd unit to NO) and the creator receives LP tokens equal to the seed.
func (e *Engine) CreatePool(ctx context.Context, creator, marketID string, seed decimal.Decimal) (_ *model.Pool, err error) {
	defer e.observe("create_pool", time.Now(), &err)

	if err := requireCaller(creator); err != nil {
		return nil, err
	}
	id, err := parseMarket(marketID)
	if err != nil {
		return nil, err
	}
	if err := positiveAmount(seed); err != nil {
		return nil, err
	}

	unlock := e.lock(id)
	defer unlock()

	now := e.clock.Now()
	if err := e.requireOpen(ctx, id, now); err != nil {
		return nil, err
	}
	if _, err := e.store.GetPool(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, id)
	} else if !store.IsNotFound(err) {
		return nil, fmt.Errorf("amm: load pool %s: %w", id, err)
	}
	if e.cfg.MaxLiquidity.IsPositive() && seed.GreaterThan(e.cfg.MaxLiquidity) {
		return nil, fmt.Errorf("%w: seed %s > cap %s", ErrMaxLiquidityExceeded, seed, e.cfg.MaxLiquidity)
	}

	yes, no := cpmm.SplitSeed(seed)
	p := &model.Pool{
		MarketID:      id,
		YesReserve:    yes,
		NoReserve:     no,
		LPTotalSupply: seed,
		LPAccounts: map[string]model.LPAccount{
			creator: {Balance: seed},
		},
		SlippageBps: e.cfg.SlippageBps,
		CreatedAt:   now,
	}
	if err := e.touch(p, now); err != nil {
		return nil, err
	}

	if err := e.pull(ctx, creator, seed); err != nil {
		return nil, err
	}
	err = e.commit(ctx, "create_pool", store.PoolChange{Pool: p, Create: true}, func(ctx context.Context) error {
		return e.pay(ctx, creator, seed)
	})
	if err != nil {
		return nil, err
	}

	metrics.ActivePools.Inc()
	e.log.Info("pool created",
		"market_id", id,
		"creator", creator,
		"seed", seed.String(),
		"yes_reserve", yes.String(),
		"no_reserve", no.String(),
	)
	e.publish(ctx, events.PoolCreated, id, map[string]string{
		"creator":     creator,
		"seed":        seed.String(),
		"yes_reserve": yes.String(),
		"no_reserve":  no.String(),
	})
	return p.Clone(), nil
}

// AddLiquidity deposits amount in the pool's current ratio and mints LP
// tokens pro rata. The price does not move.
func (e *Engine) AddLiquidity(ctx context.Context, provider, marketID string, amount decimal.Decimal) (_ decimal.Decimal, err error) {
	defer e.observe("add_liquidity", time.Now(), &err)

	if err := requireCaller(provider); err != nil {
		return decimal.Zero, err
	}
	id, err := parseMarket(marketID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := positiveAmount(amount); err != nil {
		return decimal.Zero, err
	}

	unlock := e.lock(id)
	defer unlock()

	pool, err := e.loadPool(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}

	total := pool.TotalLiquidity()
	minted, err := cpmm.LPMint(amount, pool.LPTotalSupply, total)
	if err != nil {
		return decimal.Zero, mathErr(err)
	}
	if minted.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: deposit %s mints no LP tokens", ErrAmountTooSmall, amount)
	}
	if e.cfg.MaxLiquidity.IsPositive() && total.Add(amount).GreaterThan(e.cfg.MaxLiquidity) {
		return decimal.Zero, fmt.Errorf("%w: %s + %s > %s", ErrMaxLiquidityExceeded, total, amount, e.cfg.MaxLiquidity)
	}
	yesAdd, noAdd, err := cpmm.ProportionalSplit(amount, pool.YesReserve, pool.NoReserve)
	if err != nil {
		return decimal.Zero, mathErr(err)
	}

	now := e.clock.Now()
	next := pool.Clone()
	next.YesReserve = next.YesReserve.Add(yesAdd)
	next.NoReserve = next.NoReserve.Add(noAdd)
	next.LPTotalSupply = next.LPTotalSupply.Add(minted)

	acct := settle(next.LPAccounts[provider], next.FeeGrowth)
	acct.Balance = acct.Balance.Add(minted)
	acct.FeeDebt = cpmm.Checkpoint(acct.Balance, next.FeeGrowth)
	next.LPAccounts[provider] = acct
	if err := e.touch(next, now); err != nil {
		return decimal.Zero, err
	}

	if err := e.pull(ctx, provider, amount); err != nil {
		return decimal.Zero, err
	}
	err = e.commit(ctx, "add_liquidity", store.PoolChange{Pool: next}, func(ctx context.Context) error {
		return e.pay(ctx, provider, amount)
	})
	if err != nil {
		return decimal.Zero, err
	}

	metrics.LiquidityEvents.WithLabelValues("add").Inc()
	e.log.Info("liquidity added",
		"market_id", id,
		"provider", provider,
		"amount", amount.String(),
		"lp_minted", minted.String(),
		"yes_added", yesAdd.String(),
		"no_added", noAdd.String(),
	)
	e.publish(ctx, events.LiquidityAdded, id, map[string]string{
		"provider":  provider,
		"amount":    amount.String(),
		"lp_minted": minted.String(),
	})
	return minted, nil
}

// Withdrawal is the result of RemoveLiquidity.
type Withdrawal struct {
	YesAmount decimal.Decimal `json:"yes_amount"`
	NoAmount  decimal.Decimal `json:"no_amount"`
	// FeesPaid is non-zero when the position was closed and its owed fees
	// were paid out together with the withdrawal.
	FeesPaid decimal.Decimal `json:"fees_paid"`
}

// Total is the amount transferred to the provider.
func (w Withdrawal) Total() decimal.Decimal {
	return w.YesAmount.Add(w.NoAmount).Add(w.FeesPaid)
}

// RemoveLiquidity burns lpTokens and pays out the proportional share of both
// reserves. Withdrawals that would empty either reserve are rejected.
func (e *Engine) RemoveLiquidity(ctx context.Context, provider, marketID string, lpTokens decimal.Decimal) (_ Withdrawal, err error) {
	defer e.observe("remove_liquidity", time.Now(), &err)

	if err := requireCaller(provider); err != nil {
		return Withdrawal{}, err
	}
	id, err := parseMarket(marketID)
	if err != nil {
		return Withdrawal{}, err
	}
	if err := positiveAmount(lpTokens); err != nil {
		return Withdrawal{}, err
	}

	unlock := e.lock(id)
	defer unlock()

	pool, err := e.loadPool(ctx, id)
	if err != nil {
		return Withdrawal{}, err
	}
	acct, ok := pool.LPAccounts[provider]
	if !ok || acct.Balance.LessThan(lpTokens) {
		return Withdrawal{}, fmt.Errorf("%w: %s holds %s, wants %s", ErrInsufficientLP, provider, acct.Balance, lpTokens)
	}

	yesAmt, err := cpmm.Withdrawal(lpTokens, pool.YesReserve, pool.LPTotalSupply)
	if err != nil {
		return Withdrawal{}, mathErr(err)
	}
	noAmt, err := cpmm.Withdrawal(lpTokens, pool.NoReserve, pool.LPTotalSupply)
	if err != nil {
		return Withdrawal{}, mathErr(err)
	}
	if yesAmt.IsZero() || noAmt.IsZero() {
		return Withdrawal{}, fmt.Errorf("%w: %s LP tokens withdraw %s/%s", ErrAmountTooSmall, lpTokens, yesAmt, noAmt)
	}
	if !pool.YesReserve.Sub(yesAmt).IsPositive() || !pool.NoReserve.Sub(noAmt).IsPositive() {
		return Withdrawal{}, fmt.Errorf("%w: %s", ErrPoolDrainForbidden, id)
	}

	now := e.clock.Now()
	next := pool.Clone()
	next.YesReserve = next.YesReserve.Sub(yesAmt)
	next.NoReserve = next.NoReserve.Sub(noAmt)
	next.LPTotalSupply = next.LPTotalSupply.Sub(lpTokens)

	w := Withdrawal{YesAmount: yesAmt, NoAmount: noAmt, FeesPaid: decimal.Zero}
	acct = settle(acct, next.FeeGrowth)
	acct.Balance = acct.Balance.Sub(lpTokens)
	if acct.Balance.IsZero() {
		w.FeesPaid = acct.FeesOwed
		next.FeesClaimed = next.FeesClaimed.Add(acct.FeesOwed)
		delete(next.LPAccounts, provider)
	} else {
		acct.FeeDebt = cpmm.Checkpoint(acct.Balance, next.FeeGrowth)
		next.LPAccounts[provider] = acct
	}
	if err := e.touch(next, now); err != nil {
		return Withdrawal{}, err
	}

	payout := w.Total()
	if err := e.pay(ctx, provider, payout); err != nil {
		return Withdrawal{}, err
	}
	err = e.commit(ctx, "remove_liquidity", store.PoolChange{Pool: next}, func(ctx context.Context) error {
		return e.pull(ctx, provider, payout)
	})
	if err != nil {
		return Withdrawal{}, err
	}

	metrics.LiquidityEvents.WithLabelValues("remove").Inc()
	e.log.Info("liquidity removed",
		"market_id", id,
		"provider", provider,
		"lp_burned", lpTokens.String(),
		"yes_amount", yesAmt.String(),
		"no_amount", noAmt.String(),
		"fees_paid", w.FeesPaid.String(),
	)
	e.publish(ctx, events.LiquidityRemoved, id, map[string]string{
		"provider":   provider,
		"lp_burned":  lpTokens.String(),
		"yes_amount": yesAmt.String(),
		"no_amount":  noAmt.String(),
		"fees_paid":  w.FeesPaid.String(),
	})
	return w, nil
}

// ClaimLPFees pays out every fee the provider has earned so far.
func (e *Engine) ClaimLPFees(ctx context.Context, provider, marketID string) (_ decimal.Decimal, err error) {
	defer e.observe("claim_lp_fees", time.Now(), &err)

	if err := requireCaller(provider); err != nil {
		return decimal.Zero, err
	}
	id, err := parseMarket(marketID)
	if err != nil {
		return decimal.Zero, err
	}

	unlock := e.lock(id)
	defer unlock()

	pool, err := e.loadPool(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	acct, ok := pool.LPAccounts[provider]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s has no position", ErrNothingToClaim, provider)
	}
	acct = settle(acct, pool.FeeGrowth)
	amount := acct.FeesOwed
	if amount.IsZero() {
		return decimal.Zero, ErrNothingToClaim
	}

	next := pool.Clone()
	acct.FeesOwed = decimal.Zero
	next.LPAccounts[provider] = acct
	next.FeesClaimed = next.FeesClaimed.Add(amount)
	if err := e.touch(next, e.clock.Now()); err != nil {
		return decimal.Zero, err
	}

	if err := e.pay(ctx, provider, amount); err != nil {
		return decimal.Zero, err
	}
	err = e.commit(ctx, "claim_lp_fees", store.PoolChange{Pool: next}, func(ctx context.Context) error {
		return e.pull(ctx, provider, amount)
	})
	if err != nil {
		return decimal.Zero, err
	}

	metrics.LiquidityEvents.WithLabelValues("claim").Inc()
	e.log.Info("lp fees claimed", "market_id", id, "provider", provider, "amount", amount.String())
	e.publish(ctx, events.FeesClaimed, id, map[string]string{
		"provider": provider,
		"amount":   amount.String(),
	})
	return amount, nil
}

// RebalanceResult reports the reserve ratio before and after a rebalance,
// in bps of yes/no.
type RebalanceResult struct {
	OldRatioBps decimal.Decimal `json:"old_ratio_bps"`
	NewRatioBps decimal.Decimal `json:"new_ratio_bps"`
	YesReserve  decimal.Decimal `json:"yes_reserve"`
	NoReserve   decimal.Decimal `json:"no_reserve"`
}

// RebalancePool moves a drifted pool back onto the nearest edge of the
// [0.3, 3.0] yes/no band. Total reserves and LP claims are unchanged and no
// value moves through custody.
func (e *Engine) RebalancePool(ctx context.Context, caller, marketID string) (_ RebalanceResult, err error) {
	defer e.observe("rebalance_pool", time.Now(), &err)

	if err := e.requireAdmin(caller); err != nil {
		return RebalanceResult{}, err
	}
	id, err := parseMarket(marketID)
	if err != nil {
		return RebalanceResult{}, err
	}

	unlock := e.lock(id)
	defer unlock()

	pool, err := e.loadPool(ctx, id)
	if err != nil {
		return RebalanceResult{}, err
	}
	newYes, newNo, changed, err := cpmm.Rebalance(pool.YesReserve, pool.NoReserve)
	if err != nil {
		return RebalanceResult{}, mathErr(err)
	}
	if !changed {
		return RebalanceResult{}, fmt.Errorf("%w: ratio %s bps", ErrNoDrift, cpmm.RatioBps(pool.YesReserve, pool.NoReserve))
	}

	next := pool.Clone()
	next.YesReserve, next.NoReserve = newYes, newNo
	if err := e.touch(next, e.clock.Now()); err != nil {
		return RebalanceResult{}, err
	}
	if err := e.commit(ctx, "rebalance_pool", store.PoolChange{Pool: next}, nil); err != nil {
		return RebalanceResult{}, err
	}

	res := RebalanceResult{
		OldRatioBps: cpmm.RatioBps(pool.YesReserve, pool.NoReserve),
		NewRatioBps: cpmm.RatioBps(newYes, newNo),
		YesReserve:  newYes,
		NoReserve:   newNo,
	}
	e.log.Info("pool rebalanced",
		"market_id", id,
		"old_ratio_bps", res.OldRatioBps.String(),
		"new_ratio_bps", res.NewRatioBps.String(),
	)
	e.publish(ctx, events.PoolRebalanced, id, map[string]string{
		"old_ratio_bps": res.OldRatioBps.String(),
		"new_ratio_bps": res.NewRatioBps.String(),
	})
	return res, nil
}

// SetSlippageTolerance changes the tolerance used by future quotes.
func (e *Engine) SetSlippageTolerance(ctx context.Context, caller, marketID string, bps uint32) (err error) {
	defer e.observe("set_slippage_tolerance", time.Now(), &err)

	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	id, err := parseMarket(marketID)
	if err != nil {
		return err
	}
	if bps < MinSlippageBps || bps > MaxSlippageBps {
		return fmt.Errorf("%w: got %d", ErrInvalidSlippage, bps)
	}

	unlock := e.lock(id)
	defer unlock()

	pool, err := e.loadPool(ctx, id)
	if err != nil {
		return err
	}
	next := pool.Clone()
	next.SlippageBps = bps
	if err := e.touch(next, e.clock.Now()); err != nil {
		return err
	}
	if err := e.commit(ctx, "set_slippage_tolerance", store.PoolChange{Pool: next}, nil); err != nil {
		return err
	}

	e.log.Info("slippage tolerance updated", "market_id", id, "old_bps", pool.SlippageBps, "new_bps", bps)
	e.publish(ctx, events.SlippageToleranceUpdated, id, map[string]string{
		"old_bps": fmt.Sprint(pool.SlippageBps),
		"new_bps": fmt.Sprint(bps),
	})
	return nil
}
