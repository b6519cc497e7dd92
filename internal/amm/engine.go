// Package amm implements the constant-product AMM Pool Engine: per-market
// YES/NO reserve pools, share trading, liquidity provision and LP fee
// accounting.
//
// Every mutating operation follows the same shape: validate inputs, take the
// market lock, compute a complete new pool snapshot off a clone, move value
// through the custodian, then commit the snapshot in one store call. If the
// commit fails the custody transfer is reversed, so a rejected call never
// leaves partial state behind.
package amm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/outcome-engine/internal/clock"
	"github.com/atmx/outcome-engine/internal/cpmm"
	"github.com/atmx/outcome-engine/internal/custody"
	"github.com/atmx/outcome-engine/internal/events"
	"github.com/atmx/outcome-engine/internal/marketid"
	"github.com/atmx/outcome-engine/internal/metrics"
	"github.com/atmx/outcome-engine/internal/model"
	"github.com/atmx/outcome-engine/internal/store"
)

// MarketDirectory resolves market records created by the market factory.
type MarketDirectory interface {
	GetMarket(ctx context.Context, id string) (*model.MarketInfo, error)
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Store   store.PoolStore
	Custody custody.Custodian
	Markets MarketDirectory
	Events  events.Publisher
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Engine is the AMM Pool Engine. Calls against the same market are
// serialized; calls against different markets run independently.
type Engine struct {
	cfg     Config
	store   store.PoolStore
	custody custody.Custodian
	markets MarketDirectory
	events  events.Publisher
	clock   clock.Clock
	log     *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New validates cfg and wires the engine. Publisher, clock and logger
// default to no-op, system time and slog.Default.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	case deps.Custody == nil:
		return nil, fmt.Errorf("%w: custodian", ErrMissingDependency)
	case deps.Markets == nil:
		return nil, fmt.Errorf("%w: market directory", ErrMissingDependency)
	}
	if deps.Custody.Asset() != cfg.Asset {
		return nil, fmt.Errorf("%w: custodian holds %q, configured %q", ErrAssetMismatch, deps.Custody.Asset(), cfg.Asset)
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	e := &Engine{
		cfg:     cfg,
		store:   deps.Store,
		custody: deps.Custody,
		markets: deps.Markets,
		events:  deps.Events,
		clock:   deps.Clock,
		log:     deps.Logger.With("component", "amm"),
		locks:   make(map[string]*sync.Mutex),
	}

	e.publish(context.Background(), events.AMMInitialized, "", map[string]string{
		"admin":           cfg.Admin,
		"asset":           cfg.Asset,
		"max_liquidity":   cfg.MaxLiquidity.String(),
		"trading_fee_bps": fmt.Sprint(cfg.TradingFeeBps),
		"slippage_bps":    fmt.Sprint(cfg.SlippageBps),
	})
	e.log.Info("amm initialized",
		"admin", cfg.Admin,
		"asset", cfg.Asset,
		"escrow", cfg.EscrowAccount,
		"trading_fee_bps", cfg.TradingFeeBps,
	)
	return e, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// lock serializes mutations of one market's pool and returns the unlock func.
func (e *Engine) lock(marketID string) func() {
	e.mu.Lock()
	l, ok := e.locks[marketID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[marketID] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// --- validation helpers ---

func requireCaller(caller string) error {
	if caller == "" {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) requireAdmin(caller string) error {
	if caller == "" || caller != e.cfg.Admin {
		return ErrUnauthorized
	}
	return nil
}

func parseMarket(id string) (string, error) {
	m, err := marketid.ParseMarketID(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMarketID, err)
	}
	return m, nil
}

// positiveAmount rejects zero, negative, fractional and out-of-range amounts.
func positiveAmount(d decimal.Decimal) error {
	if !d.IsPositive() || !d.IsInteger() {
		return ErrInvalidAmount
	}
	if !cpmm.ValidAmount(d) {
		return ErrAmountRange
	}
	return nil
}

// minimum validates a caller-supplied slippage floor (zero allowed).
func minimum(d decimal.Decimal) error {
	if !cpmm.ValidAmount(d) {
		return fmt.Errorf("%w: minimum must be a non-negative whole number", ErrInvalidAmount)
	}
	return nil
}

// mathErr maps cpmm errors onto the engine taxonomy.
func mathErr(err error) error {
	switch {
	case errors.Is(err, cpmm.ErrAmountRange), errors.Is(err, cpmm.ErrOverflow):
		return fmt.Errorf("%w: %v", ErrAmountRange, err)
	case errors.Is(err, cpmm.ErrZeroReserve):
		return fmt.Errorf("%w: %v", ErrAmountTooSmall, err)
	}
	return err
}

func (e *Engine) loadPool(ctx context.Context, marketID string) (*model.Pool, error) {
	p, err := e.store.GetPool(ctx, marketID)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, marketID)
	}
	if err != nil {
		return nil, fmt.Errorf("amm: load pool %s: %w", marketID, err)
	}
	if p.LPAccounts == nil {
		p.LPAccounts = make(map[string]model.LPAccount)
	}
	return p, nil
}

// loadMarket returns the market record, rejecting unknown markets.
func (e *Engine) loadMarket(ctx context.Context, marketID string) (*model.MarketInfo, error) {
	m, err := e.markets.GetMarket(ctx, marketID)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	if err != nil {
		return nil, fmt.Errorf("amm: load market %s: %w", marketID, err)
	}
	return m, nil
}

// requireOpen rejects markets that are closed, resolved or past closes_at.
func (e *Engine) requireOpen(ctx context.Context, marketID string, now time.Time) error {
	m, err := e.loadMarket(ctx, marketID)
	if err != nil {
		return err
	}
	if m.Status != model.MarketStatusOpen || !now.Before(m.ClosesAt) {
		return fmt.Errorf("%w: %s closes at %s (status %s)", ErrMarketClosed, marketID, m.ClosesAt.Format(time.RFC3339), m.Status)
	}
	return nil
}

// --- custody ---

func (e *Engine) pull(ctx context.Context, from string, amount decimal.Decimal) error {
	if err := e.custody.Transfer(ctx, from, e.cfg.EscrowAccount, amount); err != nil {
		return fmt.Errorf("amm: pull %s from %s: %w", amount, from, err)
	}
	return nil
}

func (e *Engine) pay(ctx context.Context, to string, amount decimal.Decimal) error {
	if err := e.custody.Transfer(ctx, e.cfg.EscrowAccount, to, amount); err != nil {
		return fmt.Errorf("amm: pay %s to %s: %w", amount, to, err)
	}
	return nil
}

// commit persists a change after value has moved. On failure the transfer
// described by undo is reversed and the commit error returned.
func (e *Engine) commit(ctx context.Context, op string, c store.PoolChange, undo func(context.Context) error) error {
	err := e.store.ApplyPoolChange(ctx, c)
	if err == nil {
		return nil
	}
	if undo != nil {
		// The caller's context may already be done; the reversal must still run.
		if uerr := undo(context.WithoutCancel(ctx)); uerr != nil {
			metrics.Compensations.WithLabelValues("failed").Inc()
			e.log.Error("custody compensation failed",
				"op", op,
				"market_id", c.Pool.MarketID,
				"commit_err", err,
				"err", uerr,
			)
		} else {
			metrics.Compensations.WithLabelValues("ok").Inc()
			e.log.Warn("custody transfer reversed after failed commit",
				"op", op,
				"market_id", c.Pool.MarketID,
				"err", err,
			)
			e.publish(ctx, events.TransferCompensated, c.Pool.MarketID, map[string]string{"op": op})
		}
	}
	return fmt.Errorf("amm: commit %s: %w", op, err)
}

func (e *Engine) publish(ctx context.Context, name, marketID string, attrs map[string]string) {
	e.events.Publish(ctx, events.New(name, marketID, e.clock.Now(), attrs))
}

func (e *Engine) observe(op string, start time.Time, errp *error) {
	err := *errp
	kind := ""
	if err != nil {
		kind = model.KindOf(err).String()
	}
	metrics.Observe("amm", op, start, err, kind)
}

// --- LP fee accounting ---

// settle moves fees earned since the account's last checkpoint into
// FeesOwed. The caller must re-checkpoint after changing the balance.
func settle(acct model.LPAccount, feeGrowth decimal.Decimal) model.LPAccount {
	acct.FeesOwed = acct.FeesOwed.Add(cpmm.Pending(acct.Balance, feeGrowth, acct.FeeDebt))
	acct.FeeDebt = cpmm.Checkpoint(acct.Balance, feeGrowth)
	return acct
}

// touch stamps a working snapshot for commit.
func (e *Engine) touch(p *model.Pool, now time.Time) error {
	k, err := cpmm.Product(p.YesReserve, p.NoReserve)
	if err != nil {
		return mathErr(err)
	}
	p.K = k
	p.UpdatedAt = now
	p.Version++
	return nil
}
