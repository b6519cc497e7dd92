// Package events is the fire-and-forget notification surface used by the
// engines. Delivery is best effort: publishers never fail the calling
// operation.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names emitted by the engines.
const (
	AMMInitialized           = "amm_initialized"
	PoolCreated              = "pool_created"
	SharesBought             = "shares_bought"
	SharesSold               = "shares_sold"
	LiquidityAdded           = "liquidity_added"
	LiquidityRemoved         = "liquidity_removed"
	FeesClaimed              = "fees_claimed"
	PoolRebalanced           = "pool_rebalanced"
	SlippageToleranceUpdated = "slippage_tolerance_updated"
	TransferCompensated      = "transfer_compensated"

	OracleInitialized         = "oracle_initialized"
	OracleRegistered          = "oracle_registered"
	OracleDeregistered        = "oracle_deregistered"
	ConsensusThresholdUpdated = "consensus_threshold_updated"
	MarketRegistered          = "market_registered"
	AttestationSubmitted      = "attestation_submitted"
)

// Event is a named notification with its salient arguments.
type Event struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	MarketID string            `json:"market_id,omitempty"`
	At       time.Time         `json:"at"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// New builds an event with a fresh id.
func New(name, marketID string, at time.Time, attrs map[string]string) Event {
	return Event{
		ID:       uuid.NewString(),
		Name:     name,
		MarketID: marketID,
		At:       at,
		Attrs:    attrs,
	}
}

// Publisher delivers events to external indexers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, ev Event) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"event_id", ev.ID, "market_id", ev.MarketID}
	for k, v := range ev.Attrs {
		args = append(args, k, v)
	}
	logger.InfoContext(ctx, "event "+ev.Name, args...)
}

// Multi fans an event out to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, ev)
		}
	}
}

// Recorder keeps every published event in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Names returns the recorded event names in publish order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, ev := range r.events {
		names[i] = ev.Name
	}
	return names
}

// Last returns the most recent event with the given name.
func (r *Recorder) Last(name string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name == name {
			return r.events[i], true
		}
	}
	return Event{}, false
}
