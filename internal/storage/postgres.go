package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/pkg/types"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresStore creates a new PostgreSQL store and ensures the schema.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{
		db:     db,
		logger: cfg.Logger,
	}

	err = store.ensureSchema()
	if err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	cfg.Logger.Info("postgres-store-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return store, nil
}

func (p *PostgresStore) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pending_trades (
			condition_id      TEXT PRIMARY KEY,
			token_id          TEXT NOT NULL,
			asset             TEXT NOT NULL,
			duration_min      INT NOT NULL,
			side              TEXT NOT NULL,
			round_key         TEXT NOT NULL,
			fingerprint       TEXT NOT NULL,
			notional_usd      DOUBLE PRECISION NOT NULL,
			entry_price       DOUBLE PRECISION NOT NULL,
			fill_price        DOUBLE PRECISION NOT NULL,
			slippage_bps      DOUBLE PRECISION NOT NULL,
			order_id          TEXT NOT NULL,
			mode              TEXT NOT NULL,
			score             INT NOT NULL,
			edge              DOUBLE PRECISION NOT NULL,
			core_entry_locked BOOLEAN NOT NULL,
			booster_count     INT NOT NULL,
			booster_stake_usd DOUBLE PRECISION NOT NULL,
			opened_at         TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settled_outcomes (
			condition_id   TEXT PRIMARY KEY,
			round_key      TEXT NOT NULL,
			result         TEXT NOT NULL,
			winner_side    TEXT NOT NULL,
			pnl_usd        DOUBLE PRECISION NOT NULL,
			redeem_tx      TEXT,
			classification TEXT,
			settled_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bucket_stats (
			duration_min     INT NOT NULL,
			score_tier       TEXT NOT NULL,
			entry_band       TEXT NOT NULL,
			fills            INT NOT NULL,
			wins             INT NOT NULL,
			losses           INT NOT NULL,
			slippage_bps_sum DOUBLE PRECISION NOT NULL,
			staked_usd       DOUBLE PRECISION NOT NULL,
			pnl_usd          DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (duration_min, score_tier, entry_band)
		)`,
		`CREATE TABLE IF NOT EXISTS bankroll (
			id           INT PRIMARY KEY,
			bankroll_usd DOUBLE PRECISION NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			at           TIMESTAMPTZ NOT NULL,
			condition_id TEXT,
			round_key    TEXT,
			side         TEXT,
			score        INT,
			edge         DOUBLE PRECISION,
			slippage_bps DOUBLE PRECISION,
			price_usd    DOUBLE PRECISION,
			size_usd     DOUBLE PRECISION,
			pnl_usd      DOUBLE PRECISION,
			mode         TEXT,
			result       TEXT,
			reason       TEXT,
			source       TEXT
		)`,
	}

	for _, stmt := range statements {
		_, err := p.db.Exec(stmt)
		if err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	return nil
}

// SavePendingTrade upserts a pending trade keyed by condition id.
func (p *PostgresStore) SavePendingTrade(ctx context.Context, t *types.PendingTrade) error {
	query := `
		INSERT INTO pending_trades (
			condition_id, token_id, asset, duration_min, side, round_key, fingerprint,
			notional_usd, entry_price, fill_price, slippage_bps, order_id, mode,
			score, edge, core_entry_locked, booster_count, booster_stake_usd, opened_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
		)
		ON CONFLICT (condition_id) DO UPDATE SET
			fill_price = EXCLUDED.fill_price,
			slippage_bps = EXCLUDED.slippage_bps,
			booster_count = EXCLUDED.booster_count,
			booster_stake_usd = EXCLUDED.booster_stake_usd
	`

	_, err := p.db.ExecContext(ctx, query,
		t.ConditionID, t.TokenID, t.Asset, t.DurationMin, string(t.Side),
		string(t.RoundKey), string(t.Fingerprint),
		t.NotionalUSD, t.EntryPrice, t.FillPrice, t.SlippageBps, t.OrderID, string(t.Mode),
		t.Score, t.Edge, t.CoreEntryLocked, t.BoosterCount, t.BoosterStakeUSD, t.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pending trade: %w", err)
	}

	p.logger.Debug("pending-trade-stored",
		zap.String("condition-id", t.ConditionID),
		zap.String("side", string(t.Side)))

	return nil
}

// DeletePendingTrade removes a pending trade.
func (p *PostgresStore) DeletePendingTrade(ctx context.Context, conditionID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM pending_trades WHERE condition_id = $1`, conditionID)
	if err != nil {
		return fmt.Errorf("delete pending trade: %w", err)
	}
	return nil
}

// LoadPendingTrades loads all open positions.
func (p *PostgresStore) LoadPendingTrades(ctx context.Context) ([]*types.PendingTrade, error) {
	query := `
		SELECT condition_id, token_id, asset, duration_min, side, round_key, fingerprint,
			notional_usd, entry_price, fill_price, slippage_bps, order_id, mode,
			score, edge, core_entry_locked, booster_count, booster_stake_usd, opened_at
		FROM pending_trades
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pending trades: %w", err)
	}
	defer rows.Close()

	var trades []*types.PendingTrade
	for rows.Next() {
		var t types.PendingTrade
		var side, roundKey, fingerprint, mode string
		err = rows.Scan(
			&t.ConditionID, &t.TokenID, &t.Asset, &t.DurationMin, &side, &roundKey, &fingerprint,
			&t.NotionalUSD, &t.EntryPrice, &t.FillPrice, &t.SlippageBps, &t.OrderID, &mode,
			&t.Score, &t.Edge, &t.CoreEntryLocked, &t.BoosterCount, &t.BoosterStakeUSD, &t.OpenedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pending trade: %w", err)
		}
		t.Side = types.Side(side)
		t.RoundKey = types.RoundKey(roundKey)
		t.Fingerprint = types.RoundFingerprint(fingerprint)
		t.Mode = types.ExecMode(mode)
		trades = append(trades, &t)
	}

	return trades, rows.Err()
}

// SaveSettledOutcome inserts an outcome; a duplicate condition id is a no-op.
func (p *PostgresStore) SaveSettledOutcome(ctx context.Context, o *types.SettledOutcome) (bool, error) {
	query := `
		INSERT INTO settled_outcomes (
			condition_id, round_key, result, winner_side, pnl_usd, redeem_tx, classification, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (condition_id) DO NOTHING
	`

	res, err := p.db.ExecContext(ctx, query,
		o.ConditionID, string(o.RoundKey), string(o.Result), string(o.WinnerSide),
		o.PnLUSD, o.RedeemTx, o.Classification, o.SettledAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert settled outcome: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected > 0, nil
}

// LoadSettledOutcomes loads all write-once outcomes.
func (p *PostgresStore) LoadSettledOutcomes(ctx context.Context) ([]*types.SettledOutcome, error) {
	query := `
		SELECT condition_id, round_key, result, winner_side, pnl_usd,
			COALESCE(redeem_tx, ''), COALESCE(classification, ''), settled_at
		FROM settled_outcomes
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query settled outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*types.SettledOutcome
	for rows.Next() {
		var o types.SettledOutcome
		var roundKey, result, winner string
		err = rows.Scan(&o.ConditionID, &roundKey, &result, &winner,
			&o.PnLUSD, &o.RedeemTx, &o.Classification, &o.SettledAt)
		if err != nil {
			return nil, fmt.Errorf("scan settled outcome: %w", err)
		}
		o.RoundKey = types.RoundKey(roundKey)
		o.Result = types.Result(result)
		o.WinnerSide = types.Side(winner)
		outcomes = append(outcomes, &o)
	}

	return outcomes, rows.Err()
}

// SaveBucketStat upserts one bucket row.
func (p *PostgresStore) SaveBucketStat(ctx context.Context, s *types.BucketStat) error {
	query := `
		INSERT INTO bucket_stats (
			duration_min, score_tier, entry_band, fills, wins, losses,
			slippage_bps_sum, staked_usd, pnl_usd
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (duration_min, score_tier, entry_band) DO UPDATE SET
			fills = EXCLUDED.fills,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			slippage_bps_sum = EXCLUDED.slippage_bps_sum,
			staked_usd = EXCLUDED.staked_usd,
			pnl_usd = EXCLUDED.pnl_usd
	`

	_, err := p.db.ExecContext(ctx, query,
		s.Key.DurationMin, s.Key.ScoreTier, s.Key.EntryBand,
		s.Fills, s.Wins, s.Losses, s.SlippageBpsSum, s.StakedUSD, s.PnLUSD,
	)
	if err != nil {
		return fmt.Errorf("upsert bucket stat: %w", err)
	}

	return nil
}

// LoadBucketStats loads all bucket rows.
func (p *PostgresStore) LoadBucketStats(ctx context.Context) ([]*types.BucketStat, error) {
	query := `
		SELECT duration_min, score_tier, entry_band, fills, wins, losses,
			slippage_bps_sum, staked_usd, pnl_usd
		FROM bucket_stats
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query bucket stats: %w", err)
	}
	defer rows.Close()

	var stats []*types.BucketStat
	for rows.Next() {
		var s types.BucketStat
		err = rows.Scan(&s.Key.DurationMin, &s.Key.ScoreTier, &s.Key.EntryBand,
			&s.Fills, &s.Wins, &s.Losses, &s.SlippageBpsSum, &s.StakedUSD, &s.PnLUSD)
		if err != nil {
			return nil, fmt.Errorf("scan bucket stat: %w", err)
		}
		stats = append(stats, &s)
	}

	return stats, rows.Err()
}

// SaveBankroll upserts the single bankroll row.
func (p *PostgresStore) SaveBankroll(ctx context.Context, bankrollUSD float64) error {
	query := `
		INSERT INTO bankroll (id, bankroll_usd, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET bankroll_usd = EXCLUDED.bankroll_usd, updated_at = now()
	`

	_, err := p.db.ExecContext(ctx, query, bankrollUSD)
	if err != nil {
		return fmt.Errorf("upsert bankroll: %w", err)
	}

	return nil
}

// LoadBankroll loads the persisted bankroll, if any.
func (p *PostgresStore) LoadBankroll(ctx context.Context) (float64, bool, error) {
	var bankroll float64
	err := p.db.QueryRowContext(ctx, `SELECT bankroll_usd FROM bankroll WHERE id = 1`).Scan(&bankroll)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query bankroll: %w", err)
	}
	return bankroll, true, nil
}

// AppendEvent appends one event-log record.
func (p *PostgresStore) AppendEvent(ctx context.Context, e *types.Event) error {
	query := `
		INSERT INTO events (
			id, kind, at, condition_id, round_key, side, score, edge, slippage_bps,
			price_usd, size_usd, pnl_usd, mode, result, reason, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := p.db.ExecContext(ctx, query,
		e.ID, string(e.Kind), e.At, e.ConditionID, string(e.RoundKey), string(e.Side),
		e.Score, e.Edge, e.SlippageBps, e.PriceUSD, e.SizeUSD, e.PnLUSD,
		string(e.Mode), string(e.Result), e.Reason, e.Source,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *PostgresStore) Close() error {
	p.logger.Info("closing-postgres-store")
	return p.db.Close()
}
