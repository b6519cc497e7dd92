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

// BuyShares spends amount (fee included) on shares of outcome. The fee is
// held for liquidity providers; the net amount is added to the opposite
// reserve and the shares come out of the bought reserve.
func (e *Engine) BuyShares(ctx context.Context, buyer, marketID string, outcome model.Outcome, amount, minShares decimal.Decimal) (_ decimal.Decimal, err error) {
	defer e.observe("buy_shares", time.Now(), &err)

	if err := requireCaller(buyer); err != nil {
		return decimal.Zero, err
	}
	id, err := parseMarket(marketID)
	if err != nil {
		return decimal.Zero, err
	}
	if !outcome.Valid() {
		return decimal.Zero, fmt.Errorf("%w: got %d", ErrInvalidOutcome, outcome)
	}
	if err := positiveAmount(amount); err != nil {
		return decimal.Zero, err
	}
	if err := minimum(minShares); err != nil {
		return decimal.Zero, err
	}

	unlock := e.lock(id)
	defer unlock()

	now := e.clock.Now()
	if err := e.requireOpen(ctx, id, now); err != nil {
		return decimal.Zero, err
	}
	pool, err := e.loadPool(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}

	fee, err := cpmm.Fee(amount, e.cfg.TradingFeeBps)
	if err != nil {
		return decimal.Zero, mathErr(err)
	}
	net := amount.Sub(fee)
	if !net.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s is consumed by the fee", ErrAmountTooSmall, amount)
	}

	bought := pool.Reserve(outcome)
	other := pool.Reserve(opposite(outcome))
	shares, err := cpmm.SharesOut(other, bought, net)
	if err != nil {
		return decimal.Zero, mathErr(err)
	}
	if shares.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s buys no shares", ErrAmountTooSmall, amount)
	}
	if shares.LessThan(minShares) {
		return decimal.Zero, fmt.Errorf("%w: %s shares < minimum %s", ErrSlippageExceeded, shares, minShares)
	}

	held, err := e.store.GetShares(ctx, buyer, id, outcome)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amm: load position: %w", err)
	}

	next := pool.Clone()
	setReserves(next, outcome, bought.Sub(shares), other.Add(net))
	if err := e.accrueFee(next, fee); err != nil {
		return decimal.Zero, err
	}
	next.Volume = next.Volume.Add(amount)
	trade := &model.Trade{
		MarketID:  id,
		Index:     next.TradeCount,
		Trader:    buyer,
		Side:      model.SideBuy,
		Outcome:   outcome,
		Shares:    shares,
		Amount:    amount,
		Fee:       fee,
		Timestamp: now,
	}
	next.TradeCount++
	if err := e.touch(next, now); err != nil {
		return decimal.Zero, err
	}

	change := store.PoolChange{
		Pool:  next,
		Trade: trade,
		Positions: []model.Position{{
			Holder:   buyer,
			MarketID: id,
			Outcome:  outcome,
			Shares:   held.Add(shares),
		}},
	}
	if err := e.pull(ctx, buyer, amount); err != nil {
		return decimal.Zero, err
	}
	err = e.commit(ctx, "buy_shares", change, func(ctx context.Context) error {
		return e.pay(ctx, buyer, amount)
	})
	if err != nil {
		return decimal.Zero, err
	}

	e.recordTrade(model.SideBuy, outcome, amount, fee)
	e.log.Info("shares bought",
		"market_id", id,
		"buyer", buyer,
		"outcome", outcome.String(),
		"amount", amount.String(),
		"fee", fee.String(),
		"shares", shares.String(),
	)
	e.publish(ctx, events.SharesBought, id, map[string]string{
		"buyer":   buyer,
		"outcome": outcome.String(),
		"amount":  amount.String(),
		"fee":     fee.String(),
		"shares":  shares.String(),
	})
	return shares, nil
}

// SellShares returns shares of outcome to the pool for the gross payout
// minus the trading fee.
func (e *Engine) SellShares(ctx context.Context, seller, marketID string, outcome model.Outcome, shares, minPayout decimal.Decimal) (_ decimal.Decimal, err error) {
	defer e.observe("sell_shares", time.Now(), &err)

	if err := requireCaller(seller); err != nil {
		return decimal.Zero, err
	}
	id, err := parseMarket(marketID)
	if err != nil {
		return decimal.Zero, err
	}
	if !outcome.Valid() {
		return decimal.Zero, fmt.Errorf("%w: got %d", ErrInvalidOutcome, outcome)
	}
	if err := positiveAmount(shares); err != nil {
		return decimal.Zero, err
	}
	if err := minimum(minPayout); err != nil {
		return decimal.Zero, err
	}

	unlock := e.lock(id)
	defer unlock()

	now := e.clock.Now()
	if err := e.requireOpen(ctx, id, now); err != nil {
		return decimal.Zero, err
	}
	pool, err := e.loadPool(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	held, err := e.store.GetShares(ctx, seller, id, outcome)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amm: load position: %w", err)
	}
	if held.LessThan(shares) {
		return decimal.Zero, fmt.Errorf("%w: %s holds %s %s, selling %s", ErrInsufficientShares, seller, held, outcome, shares)
	}

	sold := pool.Reserve(outcome)
	other := pool.Reserve(opposite(outcome))
	gross, err := cpmm.SellPayout(sold, other, shares)
	if err != nil {
		return decimal.Zero, mathErr(err)
	}
	fee, err := cpmm.Fee(gross, e.cfg.TradingFeeBps)
	if err != nil {
		return decimal.Zero, mathErr(err)
	}
	payout := gross.Sub(fee)
	if !payout.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s shares pay nothing", ErrAmountTooSmall, shares)
	}
	if payout.LessThan(minPayout) {
		return decimal.Zero, fmt.Errorf("%w: payout %s < minimum %s", ErrSlippageExceeded, payout, minPayout)
	}

	next := pool.Clone()
	setReserves(next, outcome, sold.Add(shares), other.Sub(gross))
	if err := e.accrueFee(next, fee); err != nil {
		return decimal.Zero, err
	}
	next.Volume = next.Volume.Add(gross)
	trade := &model.Trade{
		MarketID:  id,
		Index:     next.TradeCount,
		Trader:    seller,
		Side:      model.SideSell,
		Outcome:   outcome,
		Shares:    shares,
		Amount:    gross,
		Fee:       fee,
		Timestamp: now,
	}
	next.TradeCount++
	if err := e.touch(next, now); err != nil {
		return decimal.Zero, err
	}

	change := store.PoolChange{
		Pool:  next,
		Trade: trade,
		Positions: []model.Position{{
			Holder:   seller,
			MarketID: id,
			Outcome:  outcome,
			Shares:   held.Sub(shares),
		}},
	}
	if err := e.pay(ctx, seller, payout); err != nil {
		return decimal.Zero, err
	}
	err = e.commit(ctx, "sell_shares", change, func(ctx context.Context) error {
		return e.pull(ctx, seller, payout)
	})
	if err != nil {
		return decimal.Zero, err
	}

	e.recordTrade(model.SideSell, outcome, gross, fee)
	e.log.Info("shares sold",
		"market_id", id,
		"seller", seller,
		"outcome", outcome.String(),
		"shares", shares.String(),
		"gross", gross.String(),
		"fee", fee.String(),
		"payout", payout.String(),
	)
	e.publish(ctx, events.SharesSold, id, map[string]string{
		"seller":  seller,
		"outcome": outcome.String(),
		"shares":  shares.String(),
		"fee":     fee.String(),
		"payout":  payout.String(),
	})
	return payout, nil
}

func opposite(o model.Outcome) model.Outcome {
	if o == model.OutcomeYes {
		return model.OutcomeNo
	}
	return model.OutcomeYes
}

// setReserves assigns the reserve of outcome o and of its opposite.
func setReserves(p *model.Pool, o model.Outcome, own, other decimal.Decimal) {
	if o == model.OutcomeYes {
		p.YesReserve, p.NoReserve = own, other
		return
	}
	p.NoReserve, p.YesReserve = own, other
}

// accrueFee credits fee to the LP fee pool.
func (e *Engine) accrueFee(p *model.Pool, fee decimal.Decimal) error {
	if fee.IsZero() {
		return nil
	}
	delta, err := cpmm.FeeGrowthDelta(fee, p.LPTotalSupply)
	if err != nil {
		return mathErr(err)
	}
	p.FeeGrowth = p.FeeGrowth.Add(delta)
	p.FeesCollected = p.FeesCollected.Add(fee)
	return nil
}

func (e *Engine) recordTrade(side model.TradeSide, o model.Outcome, amount, fee decimal.Decimal) {
	metrics.TradesTotal.WithLabelValues(string(side), o.String()).Inc()
	v, _ := amount.Float64()
	metrics.PoolVolume.WithLabelValues(string(side)).Add(v)
	f, _ := fee.Float64()
	metrics.FeesCollected.Add(f)
}
