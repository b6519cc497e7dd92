// Package oracle implements the Oracle Consensus Engine: a bounded registry
// of attestors and a per-market tally of their votes, queried with a
// quorum-plus-plurality rule.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atmx/outcome-engine/internal/clock"
	"github.com/atmx/outcome-engine/internal/events"
	"github.com/atmx/outcome-engine/internal/metrics"
	"github.com/atmx/outcome-engine/internal/model"
	"github.com/atmx/outcome-engine/internal/store"
)

// Deps bundles the engine's collaborators. Events, Clock and Logger are optional.
type Deps struct {
	Store  store.OracleStore
	Events events.Publisher
	Clock  clock.Clock
	Logger *slog.Logger
}

// Engine is the Oracle Consensus Engine. Mutations are serialized by a
// single lock; reads go straight to the store.
type Engine struct {
	cfg    Config
	store  store.OracleStore
	events events.Publisher
	clock  clock.Clock
	log    *slog.Logger

	mu sync.Mutex
}

// New validates cfg and wires the engine. The consensus threshold is read
// from the store; on first start cfg.RequiredConsensus is persisted.
func New(ctx context.Context, cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
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
		cfg:    cfg,
		store:  deps.Store,
		events: deps.Events,
		clock:  deps.Clock,
		log:    deps.Logger.With("component", "oracle"),
	}

	threshold, err := e.store.GetThreshold(ctx)
	switch {
	case store.IsNotFound(err):
		threshold = cfg.RequiredConsensus
		if err := e.store.PutThreshold(ctx, threshold); err != nil {
			return nil, fmt.Errorf("oracle: persist threshold: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("oracle: load threshold: %w", err)
	}

	active, err := e.activeOracles(ctx)
	if err != nil {
		return nil, err
	}
	metrics.RegisteredOracles.Set(float64(len(active)))

	e.publish(ctx, events.OracleInitialized, "", map[string]string{
		"admin":       cfg.Admin,
		"threshold":   fmt.Sprint(threshold),
		"max_oracles": fmt.Sprint(cfg.MaxOracles),
	})
	e.log.Info("oracle engine initialized", "admin", cfg.Admin, "threshold", threshold, "active_oracles", len(active))
	return e, nil
}

func (e *Engine) requireAdmin(caller string) error {
	if caller == "" || caller != e.cfg.Admin {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, name, marketID string, attrs map[string]string) {
	e.events.Publish(ctx, events.New(name, marketID, e.clock.Now(), attrs))
}

func (e *Engine) observe(op string, start time.Time, errp *error) {
	kind := ""
	if *errp != nil {
		kind = model.KindOf(*errp).String()
	}
	metrics.Observe("oracle", op, start, *errp, kind)
}

// activeOracles returns the active registry entries, best accuracy first
// and then by registration time.
func (e *Engine) activeOracles(ctx context.Context) ([]model.Oracle, error) {
	all, err := e.store.ListOracles(ctx)
	if err != nil {
		return nil, fmt.Errorf("oracle: list oracles: %w", err)
	}
	active := make([]model.Oracle, 0, len(all))
	for _, o := range all {
		if o.Active {
			active = append(active, o)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Accuracy != active[j].Accuracy {
			return active[i].Accuracy > active[j].Accuracy
		}
		return active[i].RegisteredAt.Before(active[j].RegisteredAt)
	})
	return active, nil
}

// Threshold returns the current consensus threshold applied to newly
// registered markets.
func (e *Engine) Threshold(ctx context.Context) (uint32, error) {
	n, err := e.store.GetThreshold(ctx)
	if err != nil {
		return 0, fmt.Errorf("oracle: load threshold: %w", err)
	}
	return n, nil
}

// RegisterOracle adds an attestor with accuracy 100. A previously
// deregistered oracle is reactivated with its history intact.
func (e *Engine) RegisterOracle(ctx context.Context, caller, oracleID, name string) (_ *model.Oracle, err error) {
	defer e.observe("register_oracle", time.Now(), &err)

	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	oracleID = strings.TrimSpace(oracleID)
	if oracleID == "" {
		return nil, ErrInvalidOracle
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	active, err := e.activeOracles(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) >= e.cfg.MaxOracles {
		return nil, fmt.Errorf("%w: %d active", ErrLimitReached, len(active))
	}

	now := e.clock.Now()
	o, err := e.store.GetOracle(ctx, oracleID)
	switch {
	case err == nil && o.Active:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, oracleID)
	case err == nil:
		o.Active = true
		o.DeregisteredAt = nil
		if name != "" {
			o.Name = name
		}
	case store.IsNotFound(err):
		o = &model.Oracle{
			ID:           oracleID,
			Name:         name,
			Active:       true,
			Accuracy:     InitialAccuracy,
			RegisteredAt: now,
		}
	default:
		return nil, fmt.Errorf("oracle: load oracle %s: %w", oracleID, err)
	}

	if err := e.store.PutOracle(ctx, o); err != nil {
		return nil, fmt.Errorf("oracle: store oracle %s: %w", oracleID, err)
	}

	metrics.RegisteredOracles.Set(float64(len(active) + 1))
	e.log.Info("oracle registered", "oracle", oracleID, "name", o.Name, "active_oracles", len(active)+1)
	e.publish(ctx, events.OracleRegistered, "", map[string]string{
		"oracle": oracleID,
		"name":   o.Name,
	})
	return o, nil
}

// DeregisterOracle deactivates an oracle. Its entry and past attestations
// are kept; it can no longer attest.
func (e *Engine) DeregisterOracle(ctx context.Context, caller, oracleID string) (err error) {
	defer e.observe("deregister_oracle", time.Now(), &err)

	if err := e.requireAdmin(caller); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.store.GetOracle(ctx, oracleID)
	if store.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotRegistered, oracleID)
	}
	if err != nil {
		return fmt.Errorf("oracle: load oracle %s: %w", oracleID, err)
	}
	if !o.Active {
		return fmt.Errorf("%w: %s", ErrNotRegistered, oracleID)
	}

	now := e.clock.Now()
	o.Active = false
	o.DeregisteredAt = &now
	if err := e.store.PutOracle(ctx, o); err != nil {
		return fmt.Errorf("oracle: store oracle %s: %w", oracleID, err)
	}

	metrics.RegisteredOracles.Dec()
	e.log.Info("oracle deregistered", "oracle", oracleID)
	e.publish(ctx, events.OracleDeregistered, "", map[string]string{"oracle": oracleID})
	return nil
}

// SetConsensusThreshold changes the threshold for markets registered from
// now on. n must lie between 1 and the number of active oracles.
func (e *Engine) SetConsensusThreshold(ctx context.Context, caller string, n uint32) (err error) {
	defer e.observe("set_consensus_threshold", time.Now(), &err)

	if err := e.requireAdmin(caller); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	active, err := e.activeOracles(ctx)
	if err != nil {
		return err
	}
	if n < 1 || int(n) > len(active) {
		return fmt.Errorf("%w: got %d with %d active", ErrInvalidThreshold, n, len(active))
	}
	prev, err := e.store.GetThreshold(ctx)
	if err != nil {
		return fmt.Errorf("oracle: load threshold: %w", err)
	}
	if err := e.store.PutThreshold(ctx, n); err != nil {
		return fmt.Errorf("oracle: store threshold: %w", err)
	}

	e.log.Info("consensus threshold updated", "old", prev, "new", n)
	e.publish(ctx, events.ConsensusThresholdUpdated, "", map[string]string{
		"old": fmt.Sprint(prev),
		"new": fmt.Sprint(n),
	})
	return nil
}

// GetOracleInfo returns one registry entry, active or not.
func (e *Engine) GetOracleInfo(ctx context.Context, oracleID string) (*model.Oracle, error) {
	o, err := e.store.GetOracle(ctx, oracleID)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrOracleNotFound, oracleID)
	}
	if err != nil {
		return nil, fmt.Errorf("oracle: load oracle %s: %w", oracleID, err)
	}
	return o, nil
}

// GetActiveOracles returns active oracles sorted by accuracy (descending)
// and then registration time.
func (e *Engine) GetActiveOracles(ctx context.Context) ([]model.Oracle, error) {
	return e.activeOracles(ctx)
}
