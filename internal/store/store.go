package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store provides SQLite persistence for the trading platform. It is the only
// owner of mutable state; every other component is a function over the store
// plus wall-clock time.
type Store struct {
	db *sql.DB
}

// New creates a Store and initializes the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent jobs and requests.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on nil error.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 10000,  -- cents
		is_premium BOOLEAN NOT NULL DEFAULT FALSE,
		premium_expires_at DATETIME,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		is_bot BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		CHECK (balance >= 0)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		expires_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS players (
		id INTEGER PRIMARY KEY,  -- provider id
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		team TEXT NOT NULL DEFAULT '',
		position TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_eligible_for_accrual BOOLEAN NOT NULL DEFAULT TRUE,
		last_trade_price INTEGER,  -- cents; set only by executed trades
		volume_24h INTEGER NOT NULL DEFAULT 0,
		price_change_24h INTEGER NOT NULL DEFAULT 0,  -- cents
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS holdings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id),
		player_id INTEGER NOT NULL REFERENCES players(id),
		quantity INTEGER NOT NULL DEFAULT 0,
		avg_cost_basis TEXT NOT NULL DEFAULT '0',  -- decimal, 4dp
		total_cost_basis INTEGER NOT NULL DEFAULT 0,  -- cents
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, player_id),
		CHECK (quantity >= 0)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		player_id INTEGER NOT NULL REFERENCES players(id),
		side TEXT NOT NULL,        -- 'buy' | 'sell'
		order_type TEXT NOT NULL,  -- 'limit' | 'market'
		quantity INTEGER NOT NULL,
		filled_quantity INTEGER NOT NULL DEFAULT 0,
		limit_price INTEGER,       -- cents; required for limit orders
		status TEXT NOT NULL DEFAULT 'open',  -- open | partial | filled | cancelled
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		CHECK (filled_quantity <= quantity)
	);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL REFERENCES users(id),
		seller_id TEXT NOT NULL REFERENCES users(id),
		player_id INTEGER NOT NULL REFERENCES players(id),
		buy_order_id TEXT NOT NULL,
		sell_order_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price INTEGER NOT NULL,  -- cents
		executed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		CHECK (quantity > 0),
		CHECK (price > 0)
	);

	CREATE TABLE IF NOT EXISTS balance_locks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id),
		amount INTEGER NOT NULL,  -- cents
		reference_type TEXT NOT NULL,  -- 'order' | 'contest'
		reference_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(reference_type, reference_id)
	);

	CREATE TABLE IF NOT EXISTS holdings_locks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id),
		player_id INTEGER NOT NULL REFERENCES players(id),
		quantity INTEGER NOT NULL,
		reference_type TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(reference_type, reference_id)
	);

	CREATE TABLE IF NOT EXISTS accruals (
		user_id TEXT PRIMARY KEY REFERENCES users(id),
		shares_accumulated INTEGER NOT NULL DEFAULT 0,
		residual_ms INTEGER NOT NULL DEFAULT 0,
		total_claimed INTEGER NOT NULL DEFAULT 0,
		last_accrued_at DATETIME NOT NULL,
		last_claimed_at DATETIME,
		cap_reached_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS accrual_splits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id),
		player_id INTEGER NOT NULL REFERENCES players(id),
		shares_per_hour INTEGER NOT NULL,
		UNIQUE(user_id, player_id)
	);

	CREATE TABLE IF NOT EXISTS games (
		id INTEGER PRIMARY KEY,  -- provider id
		game_day TEXT NOT NULL,  -- YYYY-MM-DD, Eastern Time
		starts_at DATETIME NOT NULL,
		home_team TEXT NOT NULL,
		away_team TEXT NOT NULL,
		home_score INTEGER NOT NULL DEFAULT 0,
		away_score INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'scheduled'  -- scheduled | inprogress | completed
	);

	CREATE TABLE IF NOT EXISTS player_game_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		player_id INTEGER NOT NULL REFERENCES players(id),
		game_id INTEGER NOT NULL REFERENCES games(id),
		game_day TEXT NOT NULL,
		points INTEGER NOT NULL DEFAULT 0,
		three_pointers_made INTEGER NOT NULL DEFAULT 0,
		rebounds INTEGER NOT NULL DEFAULT 0,
		assists INTEGER NOT NULL DEFAULT 0,
		steals INTEGER NOT NULL DEFAULT 0,
		blocks INTEGER NOT NULL DEFAULT 0,
		turnovers INTEGER NOT NULL DEFAULT 0,
		fantasy_points TEXT NOT NULL DEFAULT '0',  -- decimal
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(player_id, game_id)
	);

	CREATE TABLE IF NOT EXISTS contests (
		id TEXT PRIMARY KEY,
		game_day TEXT UNIQUE NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',  -- open | live | completed
		starts_at DATETIME NOT NULL,
		ends_at DATETIME NOT NULL,
		entry_fee INTEGER NOT NULL DEFAULT 0,  -- cents
		entry_count INTEGER NOT NULL DEFAULT 0,
		total_prize_pool INTEGER NOT NULL DEFAULT 0,
		total_shares_entered INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS contest_entries (
		id TEXT PRIMARY KEY,
		contest_id TEXT NOT NULL REFERENCES contests(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		total_shares_entered INTEGER NOT NULL DEFAULT 0,
		total_score TEXT NOT NULL DEFAULT '0',  -- decimal
		rank INTEGER,
		payout INTEGER NOT NULL DEFAULT 0,  -- cents
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(contest_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS contest_lineups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id TEXT NOT NULL REFERENCES contest_entries(id),
		player_id INTEGER NOT NULL REFERENCES players(id),
		shares_entered INTEGER NOT NULL,
		fantasy_points TEXT NOT NULL DEFAULT '0',
		earned_score TEXT NOT NULL DEFAULT '0',
		UNIQUE(entry_id, player_id),
		CHECK (shares_entered > 0)
	);

	CREATE TABLE IF NOT EXISTS bot_profiles (
		user_id TEXT PRIMARY KEY REFERENCES users(id),
		aggressiveness REAL NOT NULL DEFAULT 0.5,
		spread_percent REAL NOT NULL DEFAULT 4.0,
		min_order_size INTEGER NOT NULL DEFAULT 5,
		max_order_size INTEGER NOT NULL DEFAULT 50,
		max_daily_orders INTEGER NOT NULL DEFAULT 200,
		max_daily_volume INTEGER NOT NULL DEFAULT 5000,
		contest_entry_budget INTEGER NOT NULL DEFAULT 500,
		max_contest_entries_per_day INTEGER NOT NULL DEFAULT 2,
		min_action_cooldown_ms INTEGER NOT NULL DEFAULT 15000,
		max_action_cooldown_ms INTEGER NOT NULL DEFAULT 120000,
		last_action_at DATETIME,
		orders_today INTEGER NOT NULL DEFAULT 0,
		volume_today INTEGER NOT NULL DEFAULT 0,
		contest_entries_today INTEGER NOT NULL DEFAULT 0,
		last_reset_date TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS job_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',  -- running | success | degraded | failed
		records_processed INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS portfolio_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id),
		snapshot_date TEXT NOT NULL,  -- YYYY-MM-DD
		cash_balance INTEGER NOT NULL,
		portfolio_value INTEGER NOT NULL,
		cash_rank INTEGER NOT NULL,
		portfolio_rank INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, snapshot_date)
	);

	CREATE INDEX IF NOT EXISTS idx_holdings_user ON holdings(user_id);
	CREATE INDEX IF NOT EXISTS idx_orders_player_status ON orders(player_id, status);
	CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
	CREATE INDEX IF NOT EXISTS idx_trades_player ON trades(player_id, executed_at);
	CREATE INDEX IF NOT EXISTS idx_balance_locks_user ON balance_locks(user_id);
	CREATE INDEX IF NOT EXISTS idx_holdings_locks_user ON holdings_locks(user_id, player_id);
	CREATE INDEX IF NOT EXISTS idx_stats_day ON player_game_stats(game_day, player_id);
	CREATE INDEX IF NOT EXISTS idx_games_day ON games(game_day);
	CREATE INDEX IF NOT EXISTS idx_entries_contest ON contest_entries(contest_id);
	CREATE INDEX IF NOT EXISTS idx_job_logs_name ON job_logs(job_name, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}
