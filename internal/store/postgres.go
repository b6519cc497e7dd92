package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/outcome-engine/internal/model"
)

// Schema is the PostgreSQL layout. Primary keys mirror the composite
// persistence keys (pool:{market}, lp:{market}:{provider}, ...).
const Schema = `
CREATE TABLE IF NOT EXISTS markets (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	closes_at       TIMESTAMPTZ NOT NULL,
	resolution_time TIMESTAMPTZ NOT NULL,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pools (
	market_id       TEXT PRIMARY KEY,
	yes_reserve     NUMERIC(78,0) NOT NULL CHECK (yes_reserve > 0),
	no_reserve      NUMERIC(78,0) NOT NULL CHECK (no_reserve > 0),
	k               NUMERIC(78,0) NOT NULL,
	lp_total_supply NUMERIC(78,0) NOT NULL,
	fee_growth      NUMERIC(78,0) NOT NULL,
	fees_collected  NUMERIC(78,0) NOT NULL,
	fees_claimed    NUMERIC(78,0) NOT NULL,
	volume          NUMERIC(78,0) NOT NULL,
	trade_count     BIGINT NOT NULL,
	slippage_bps    INTEGER NOT NULL,
	version         BIGINT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS lp_accounts (
	market_id TEXT NOT NULL REFERENCES pools(market_id),
	provider  TEXT NOT NULL,
	balance   NUMERIC(78,0) NOT NULL,
	fee_debt  NUMERIC NOT NULL,
	fees_owed NUMERIC(78,0) NOT NULL,
	PRIMARY KEY (market_id, provider)
);

CREATE TABLE IF NOT EXISTS trades (
	market_id TEXT NOT NULL REFERENCES pools(market_id),
	idx       BIGINT NOT NULL,
	trader    TEXT NOT NULL,
	side      TEXT NOT NULL,
	outcome   INTEGER NOT NULL,
	shares    NUMERIC(78,0) NOT NULL,
	amount    NUMERIC(78,0) NOT NULL,
	fee       NUMERIC(78,0) NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (market_id, idx)
);

CREATE TABLE IF NOT EXISTS positions (
	holder    TEXT NOT NULL,
	market_id TEXT NOT NULL,
	outcome   INTEGER NOT NULL,
	shares    NUMERIC(78,0) NOT NULL,
	PRIMARY KEY (holder, market_id, outcome)
);

CREATE TABLE IF NOT EXISTS oracles (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	active          BOOLEAN NOT NULL,
	accuracy        INTEGER NOT NULL,
	registered_at   TIMESTAMPTZ NOT NULL,
	deregistered_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS oracle_config (
	key   TEXT PRIMARY KEY,
	value BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS resolution_markets (
	market_id       TEXT PRIMARY KEY,
	resolution_time TIMESTAMPTZ NOT NULL,
	threshold       INTEGER NOT NULL,
	yes_count       INTEGER NOT NULL,
	no_count        INTEGER NOT NULL,
	voters          TEXT[] NOT NULL,
	version         BIGINT NOT NULL,
	registered_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS attestations (
	market_id TEXT NOT NULL REFERENCES resolution_markets(market_id),
	oracle_id TEXT NOT NULL,
	outcome   INTEGER NOT NULL,
	data_hash TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (market_id, oracle_id)
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// mapErr translates pgx errors into the store sentinels.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// --- Markets ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.MarketInfo) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, title, closes_at, resolution_time, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Title, m.ClosesAt, m.ResolutionTime, m.Status, m.CreatedAt,
	)
	return mapErr(err, "market "+m.ID)
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.MarketInfo, error) {
	var m model.MarketInfo
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, closes_at, resolution_time, status, created_at
		 FROM markets WHERE id = $1`, id).
		Scan(&m.ID, &m.Title, &m.ClosesAt, &m.ResolutionTime, &m.Status, &m.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "market "+id)
	}
	return &m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.MarketInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, closes_at, resolution_time, status, created_at
		 FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.MarketInfo
	for rows.Next() {
		var m model.MarketInfo
		if err := rows.Scan(&m.ID, &m.Title, &m.ClosesAt, &m.ResolutionTime, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// --- Pools ---

func (s *PostgresStore) GetPool(ctx context.Context, marketID string) (*model.Pool, error) {
	var p model.Pool
	var yes, no, k, supply, growth, collected, claimed, volume string
	var tradeCount, version int64
	var slippage int32

	err := s.pool.QueryRow(ctx,
		`SELECT market_id, yes_reserve::TEXT, no_reserve::TEXT, k::TEXT,
		        lp_total_supply::TEXT, fee_growth::TEXT, fees_collected::TEXT,
		        fees_claimed::TEXT, volume::TEXT, trade_count, slippage_bps,
		        version, created_at, updated_at
		 FROM pools WHERE market_id = $1`, marketID).
		Scan(&p.MarketID, &yes, &no, &k, &supply, &growth, &collected, &claimed, &volume,
			&tradeCount, &slippage, &version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err, "pool "+marketID)
	}
	p.YesReserve, p.NoReserve, p.K = dec(yes), dec(no), dec(k)
	p.LPTotalSupply, p.FeeGrowth = dec(supply), dec(growth)
	p.FeesCollected, p.FeesClaimed, p.Volume = dec(collected), dec(claimed), dec(volume)
	p.TradeCount = uint64(tradeCount)
	p.SlippageBps = uint32(slippage)
	p.Version = uint64(version)

	rows, err := s.pool.Query(ctx,
		`SELECT provider, balance::TEXT, fee_debt::TEXT, fees_owed::TEXT
		 FROM lp_accounts WHERE market_id = $1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p.LPAccounts = make(map[string]model.LPAccount)
	for rows.Next() {
		var provider, bal, debt, owed string
		if err := rows.Scan(&provider, &bal, &debt, &owed); err != nil {
			return nil, err
		}
		p.LPAccounts[provider] = model.LPAccount{Balance: dec(bal), FeeDebt: dec(debt), FeesOwed: dec(owed)}
	}
	return &p, rows.Err()
}

// ApplyPoolChange writes the pool row, its LP accounts, the trade and the
// positions in one transaction.
func (s *PostgresStore) ApplyPoolChange(ctx context.Context, c PoolChange) error {
	if c.Pool == nil {
		return errNilPool
	}
	p := c.Pool

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		args := []any{
			p.MarketID, p.YesReserve.String(), p.NoReserve.String(), p.K.String(),
			p.LPTotalSupply.String(), p.FeeGrowth.String(), p.FeesCollected.String(),
			p.FeesClaimed.String(), p.Volume.String(), int64(p.TradeCount),
			int32(p.SlippageBps), int64(p.Version), p.CreatedAt, p.UpdatedAt,
		}
		if c.Create {
			_, err := tx.Exec(ctx,
				`INSERT INTO pools (market_id, yes_reserve, no_reserve, k, lp_total_supply,
				        fee_growth, fees_collected, fees_claimed, volume, trade_count,
				        slippage_bps, version, created_at, updated_at)
				 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
				        $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12, $13, $14)`, args...)
			if err != nil {
				return mapErr(err, "pool "+p.MarketID)
			}
		} else {
			tag, err := tx.Exec(ctx,
				`UPDATE pools
				 SET yes_reserve = $2::NUMERIC, no_reserve = $3::NUMERIC, k = $4::NUMERIC,
				     lp_total_supply = $5::NUMERIC, fee_growth = $6::NUMERIC,
				     fees_collected = $7::NUMERIC, fees_claimed = $8::NUMERIC,
				     volume = $9::NUMERIC, trade_count = $10, slippage_bps = $11,
				     version = $12, created_at = $13, updated_at = $14
				 WHERE market_id = $1 AND version = $12 - 1`, args...)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return s.missingOrStale(ctx, tx, "pools", p.MarketID)
			}
		}

		providers := make([]string, 0, len(p.LPAccounts))
		for provider, acct := range p.LPAccounts {
			providers = append(providers, provider)
			_, err := tx.Exec(ctx,
				`INSERT INTO lp_accounts (market_id, provider, balance, fee_debt, fees_owed)
				 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)
				 ON CONFLICT (market_id, provider) DO UPDATE
				 SET balance = EXCLUDED.balance, fee_debt = EXCLUDED.fee_debt, fees_owed = EXCLUDED.fees_owed`,
				p.MarketID, provider, acct.Balance.String(), acct.FeeDebt.String(), acct.FeesOwed.String())
			if err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM lp_accounts WHERE market_id = $1 AND NOT (provider = ANY($2))`,
			p.MarketID, providers); err != nil {
			return err
		}

		if t := c.Trade; t != nil {
			_, err := tx.Exec(ctx,
				`INSERT INTO trades (market_id, idx, trader, side, outcome, shares, amount, fee, timestamp)
				 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
				t.MarketID, int64(t.Index), t.Trader, string(t.Side), int32(t.Outcome),
				t.Shares.String(), t.Amount.String(), t.Fee.String(), t.Timestamp)
			if err != nil {
				return mapErr(err, fmt.Sprintf("trade %s/%d", t.MarketID, t.Index))
			}
		}

		for _, pos := range c.Positions {
			_, err := tx.Exec(ctx,
				`INSERT INTO positions (holder, market_id, outcome, shares)
				 VALUES ($1, $2, $3, $4::NUMERIC)
				 ON CONFLICT (holder, market_id, outcome) DO UPDATE SET shares = EXCLUDED.shares`,
				pos.Holder, pos.MarketID, int32(pos.Outcome), pos.Shares.String())
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListTrades(ctx context.Context, marketID string, offset, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, idx, trader, side, outcome,
		        shares::TEXT, amount::TEXT, fee::TEXT, timestamp
		 FROM trades WHERE market_id = $1
		 ORDER BY idx DESC OFFSET $2 LIMIT $3`, marketID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []model.Trade{}
	for rows.Next() {
		var t model.Trade
		var idx int64
		var outcome int32
		var side, shares, amount, fee string
		if err := rows.Scan(&t.MarketID, &idx, &t.Trader, &side, &outcome,
			&shares, &amount, &fee, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Index = uint64(idx)
		t.Side = model.TradeSide(side)
		t.Outcome = model.Outcome(outcome)
		t.Shares, t.Amount, t.Fee = dec(shares), dec(amount), dec(fee)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) GetShares(ctx context.Context, holder, marketID string, o model.Outcome) (decimal.Decimal, error) {
	var shares string
	err := s.pool.QueryRow(ctx,
		`SELECT shares::TEXT FROM positions
		 WHERE holder = $1 AND market_id = $2 AND outcome = $3`,
		holder, marketID, int32(o)).Scan(&shares)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return dec(shares), nil
}

// --- Oracles ---

func (s *PostgresStore) GetOracle(ctx context.Context, id string) (*model.Oracle, error) {
	var o model.Oracle
	var accuracy int32
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, active, accuracy, registered_at, deregistered_at
		 FROM oracles WHERE id = $1`, id).
		Scan(&o.ID, &o.Name, &o.Active, &accuracy, &o.RegisteredAt, &o.DeregisteredAt)
	if err != nil {
		return nil, mapErr(err, "oracle "+id)
	}
	o.Accuracy = uint32(accuracy)
	return &o, nil
}

func (s *PostgresStore) PutOracle(ctx context.Context, o *model.Oracle) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO oracles (id, name, active, accuracy, registered_at, deregistered_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, active = EXCLUDED.active, accuracy = EXCLUDED.accuracy,
		     registered_at = EXCLUDED.registered_at, deregistered_at = EXCLUDED.deregistered_at`,
		o.ID, o.Name, o.Active, int32(o.Accuracy), o.RegisteredAt, o.DeregisteredAt)
	return err
}

func (s *PostgresStore) ListOracles(ctx context.Context) ([]model.Oracle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, active, accuracy, registered_at, deregistered_at
		 FROM oracles ORDER BY registered_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Oracle
	for rows.Next() {
		var o model.Oracle
		var accuracy int32
		if err := rows.Scan(&o.ID, &o.Name, &o.Active, &accuracy, &o.RegisteredAt, &o.DeregisteredAt); err != nil {
			return nil, err
		}
		o.Accuracy = uint32(accuracy)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetThreshold(ctx context.Context) (uint32, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM oracle_config WHERE key = $1`, thresholdKey).Scan(&n)
	if err != nil {
		return 0, mapErr(err, thresholdKey)
	}
	return uint32(n), nil
}

func (s *PostgresStore) PutThreshold(ctx context.Context, n uint32) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO oracle_config (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		thresholdKey, int64(n))
	return err
}

// --- Resolution state ---

func (s *PostgresStore) GetResolution(ctx context.Context, marketID string) (*model.ResolutionMarket, error) {
	var m model.ResolutionMarket
	var threshold, yes, no int32
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT market_id, resolution_time, threshold, yes_count, no_count, voters, version, registered_at
		 FROM resolution_markets WHERE market_id = $1`, marketID).
		Scan(&m.MarketID, &m.ResolutionTime, &threshold, &yes, &no, &m.Voters, &version, &m.RegisteredAt)
	if err != nil {
		return nil, mapErr(err, "resolution "+marketID)
	}
	m.Threshold, m.YesCount, m.NoCount = uint32(threshold), uint32(yes), uint32(no)
	m.Version = uint64(version)
	return &m, nil
}

func voterList(m *model.ResolutionMarket) []string {
	if m.Voters == nil {
		return []string{}
	}
	return m.Voters
}

func (s *PostgresStore) ResetResolution(ctx context.Context, m *model.ResolutionMarket) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM attestations WHERE market_id = $1`, m.MarketID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO resolution_markets (market_id, resolution_time, threshold, yes_count, no_count, voters, version, registered_at)
			 VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
			 ON CONFLICT (market_id) DO UPDATE
			 SET resolution_time = EXCLUDED.resolution_time, threshold = EXCLUDED.threshold,
			     yes_count = EXCLUDED.yes_count, no_count = EXCLUDED.no_count,
			     voters = EXCLUDED.voters, version = resolution_markets.version + 1,
			     registered_at = EXCLUDED.registered_at`,
			m.MarketID, m.ResolutionTime, int32(m.Threshold), int32(m.YesCount), int32(m.NoCount),
			voterList(m), m.RegisteredAt)
		return err
	})
}

func (s *PostgresStore) AddAttestation(ctx context.Context, m *model.ResolutionMarket, a *model.Attestation) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE resolution_markets
			 SET yes_count = $2, no_count = $3, voters = $4, version = $5
			 WHERE market_id = $1 AND version = $5 - 1`,
			m.MarketID, int32(m.YesCount), int32(m.NoCount), voterList(m), int64(m.Version))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return s.missingOrStale(ctx, tx, "resolution_markets", m.MarketID)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO attestations (market_id, oracle_id, outcome, data_hash, timestamp)
			 VALUES ($1, $2, $3, $4, $5)`,
			a.MarketID, a.Attestor, int32(a.Outcome), a.DataHash, a.Timestamp)
		return mapErr(err, "attestation "+a.MarketID+"/"+a.Attestor)
	})
}

// missingOrStale tells apart a missing row from a version mismatch after a
// conditional update touched nothing.
func (s *PostgresStore) missingOrStale(ctx context.Context, tx pgx.Tx, table, marketID string) error {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE market_id = $1)`, marketID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s %s", ErrNotFound, table, marketID)
	}
	return fmt.Errorf("%w: %s %s", ErrStale, table, marketID)
}

func (s *PostgresStore) GetAttestation(ctx context.Context, marketID, oracleID string) (*model.Attestation, error) {
	var a model.Attestation
	var outcome int32
	err := s.pool.QueryRow(ctx,
		`SELECT market_id, oracle_id, outcome, data_hash, timestamp
		 FROM attestations WHERE market_id = $1 AND oracle_id = $2`, marketID, oracleID).
		Scan(&a.MarketID, &a.Attestor, &outcome, &a.DataHash, &a.Timestamp)
	if err != nil {
		return nil, mapErr(err, "attestation "+marketID+"/"+oracleID)
	}
	a.Outcome = model.Outcome(outcome)
	return &a, nil
}

func (s *PostgresStore) ListAttestations(ctx context.Context, marketID string) ([]model.Attestation, error) {
	m, err := s.GetResolution(ctx, marketID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT market_id, oracle_id, outcome, data_hash, timestamp
		 FROM attestations WHERE market_id = $1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byOracle := make(map[string]model.Attestation)
	for rows.Next() {
		var a model.Attestation
		var outcome int32
		var ts time.Time
		if err := rows.Scan(&a.MarketID, &a.Attestor, &outcome, &a.DataHash, &ts); err != nil {
			return nil, err
		}
		a.Outcome = model.Outcome(outcome)
		a.Timestamp = ts
		byOracle[a.Attestor] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Vote order is the voter list order.
	out := make([]model.Attestation, 0, len(m.Voters))
	for _, voter := range m.Voters {
		if a, ok := byOracle[voter]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}
