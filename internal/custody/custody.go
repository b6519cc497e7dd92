// Package custody models the fungible-token custodian that escrows the
// single stable-value asset traded against the pools.
//
// The engines only ever move value through the Custodian interface; the
// in-memory ledger here backs tests and single-node development.
package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/outcome-engine/internal/model"
)

var (
	ErrInsufficientFunds = model.NewError(model.KindConflict, "custody: insufficient funds")
	ErrInvalidAmount     = model.NewError(model.KindValidation, "custody: amount must be positive")
	ErrInvalidAccount    = model.NewError(model.KindValidation, "custody: account must not be empty")
)

// Custodian moves a single asset between accounts.
// Transfer must be all-or-nothing: on error no balance has changed.
type Custodian interface {
	Asset() string
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
}

// Minter is implemented by custodians that can create balance out of thin
// air. Only development deployments expose it.
type Minter interface {
	Mint(ctx context.Context, account string, amount decimal.Decimal) error
}

// MemoryLedger is an in-process Custodian. Safe for concurrent use.
type MemoryLedger struct {
	asset    string
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
}

// NewMemoryLedger creates an empty ledger for the given asset.
func NewMemoryLedger(asset string) *MemoryLedger {
	return &MemoryLedger{
		asset:    asset,
		balances: make(map[string]decimal.Decimal),
	}
}

func (l *MemoryLedger) Asset() string { return l.asset }

func (l *MemoryLedger) Transfer(_ context.Context, from, to string, amount decimal.Decimal) error {
	if from == "" || to == "" {
		return ErrInvalidAccount
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, from, bal, amount)
	}
	l.balances[from] = bal.Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context, account string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account], nil
}

func (l *MemoryLedger) Mint(_ context.Context, account string, amount decimal.Decimal) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = l.balances[account].Add(amount)
	return nil
}

// Supply returns the sum of all balances.
func (l *MemoryLedger) Supply() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, b := range l.balances {
		total = total.Add(b)
	}
	return total
}
