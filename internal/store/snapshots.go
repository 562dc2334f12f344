package store

import (
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// PortfolioSnapshot records a user's end-of-day standing for history queries.
type PortfolioSnapshot struct {
	ID             int64
	UserID         string
	SnapshotDate   string // YYYY-MM-DD
	CashBalance    int64
	PortfolioValue int64
	CashRank       int64
	PortfolioRank  int64
}

// portfolioValueExpr values holdings at last trade price, in cents.
const portfolioValueExpr = `COALESCE((
	SELECT SUM(h.quantity * COALESCE(p.last_trade_price, 0))
	FROM holdings h JOIN players p ON p.id = h.player_id
	WHERE h.user_id = u.id), 0)`

// SnapshotPortfolios persists per-user cash and portfolio ranks for the
// given date. Idempotent per (user, date).
func (s *Store) SnapshotPortfolios(date string) (int64, error) {
	rows, err := s.db.Query(`
		SELECT u.id, u.balance, ` + portfolioValueExpr + ` AS pv
		FROM users u WHERE u.is_bot = FALSE`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var users []*snapshotRow
	for rows.Next() {
		r := &snapshotRow{}
		if err := rows.Scan(&r.userID, &r.cash, &r.pv); err != nil {
			return 0, err
		}
		users = append(users, r)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	rankSnapshots(users, func(r *snapshotRow) int64 { return r.cash }, func(r *snapshotRow, rank int64) { r.cashRank = rank })
	rankSnapshots(users, func(r *snapshotRow) int64 { return r.cash + r.pv }, func(r *snapshotRow, rank int64) { r.valueRank = rank })

	err = s.withTx(func(tx *sql.Tx) error {
		for _, r := range users {
			if _, err := tx.Exec(`
				INSERT INTO portfolio_snapshots (user_id, snapshot_date, cash_balance, portfolio_value, cash_rank, portfolio_rank, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(user_id, snapshot_date) DO UPDATE SET
					cash_balance = excluded.cash_balance,
					portfolio_value = excluded.portfolio_value,
					cash_rank = excluded.cash_rank,
					portfolio_rank = excluded.portfolio_rank`,
				r.userID, date, r.cash, r.pv, r.cashRank, r.valueRank, time.Now().UTC(),
			); err != nil {
				return err
			}
		}
		return nil
	})
	return int64(len(users)), err
}

type snapshotRow struct {
	userID    string
	cash, pv  int64
	cashRank  int64
	valueRank int64
}

func rankSnapshots(users []*snapshotRow, key func(*snapshotRow) int64, assign func(*snapshotRow, int64)) {
	sorted := make([]*snapshotRow, len(users))
	copy(sorted, users)
	sort.SliceStable(sorted, func(i, j int) bool { return key(sorted[i]) > key(sorted[j]) })
	for i, r := range sorted {
		assign(r, int64(i+1))
	}
}

// LeaderboardRow is one public leaderboard line.
type LeaderboardRow struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Value    int64  `json:"value"`
}

// Leaderboard returns the top users for a category. Bots are excluded.
func (s *Store) Leaderboard(category string, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	var query string
	switch category {
	case "cashBalance":
		query = `SELECT u.id, u.username, u.balance AS v FROM users u WHERE u.is_bot = FALSE ORDER BY v DESC LIMIT ?`
	case "portfolioValue":
		query = `SELECT u.id, u.username, ` + portfolioValueExpr + ` AS v FROM users u WHERE u.is_bot = FALSE ORDER BY v DESC LIMIT ?`
	case "netWorth":
		query = `SELECT u.id, u.username, u.balance + ` + portfolioValueExpr + ` AS v FROM users u WHERE u.is_bot = FALSE ORDER BY v DESC LIMIT ?`
	case "sharesMined":
		query = `SELECT u.id, u.username, COALESCE((SELECT a.total_claimed FROM accruals a WHERE a.user_id = u.id), 0) AS v
			FROM users u WHERE u.is_bot = FALSE ORDER BY v DESC LIMIT ?`
	case "marketOrders":
		query = `SELECT u.id, u.username, (SELECT COUNT(*) FROM trades t WHERE t.buyer_id = u.id OR t.seller_id = u.id) AS v
			FROM users u WHERE u.is_bot = FALSE ORDER BY v DESC LIMIT ?`
	default:
		return nil, fmt.Errorf("unknown leaderboard category %q", category)
	}

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LeaderboardRow
	for rows.Next() {
		var r LeaderboardRow
		if err := rows.Scan(&r.UserID, &r.Username, &r.Value); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetUserSnapshots returns a user's snapshot history, newest first.
func (s *Store) GetUserSnapshots(userID string, limit int) ([]*PortfolioSnapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.Query(
		"SELECT id, user_id, snapshot_date, cash_balance, portfolio_value, cash_rank, portfolio_rank FROM portfolio_snapshots WHERE user_id = ? ORDER BY snapshot_date DESC LIMIT ?",
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*PortfolioSnapshot
	for rows.Next() {
		ps := &PortfolioSnapshot{}
		if err := rows.Scan(&ps.ID, &ps.UserID, &ps.SnapshotDate, &ps.CashBalance,
			&ps.PortfolioValue, &ps.CashRank, &ps.PortfolioRank); err != nil {
			return nil, err
		}
		snaps = append(snaps, ps)
	}
	return snaps, rows.Err()
}
