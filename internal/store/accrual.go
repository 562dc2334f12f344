package store

import (
	"database/sql"
	"time"
)

// Accrual is the per-user share accumulator. One row per user, created
// lazily, never deleted.
type Accrual struct {
	UserID            string
	SharesAccumulated int64
	ResidualMs        int64
	LastAccruedAt     time.Time
	LastClaimedAt     sql.NullTime
	CapReachedAt      sql.NullTime
}

// AccrualSplit routes a slice of the hourly rate to one player.
type AccrualSplit struct {
	UserID        string
	PlayerID      int64
	SharesPerHour int64
}

// GetOrCreateAccrual fetches a user's accrual row, creating it lazily with
// lastAccruedAt = now so newly-enrolled users earn from enrollment.
func (s *Store) GetOrCreateAccrual(userID string, now time.Time) (*Accrual, error) {
	a, err := s.getAccrual(userID)
	if err == nil || err != sql.ErrNoRows {
		return a, err
	}
	if _, err := s.db.Exec(
		"INSERT INTO accruals (user_id, last_accrued_at) VALUES (?, ?) ON CONFLICT(user_id) DO NOTHING",
		userID, now.UTC(),
	); err != nil {
		return nil, err
	}
	return s.getAccrual(userID)
}

func (s *Store) getAccrual(userID string) (*Accrual, error) {
	a := &Accrual{}
	err := s.db.QueryRow(
		"SELECT user_id, shares_accumulated, residual_ms, last_accrued_at, last_claimed_at, cap_reached_at FROM accruals WHERE user_id = ?",
		userID,
	).Scan(&a.UserID, &a.SharesAccumulated, &a.ResidualMs, &a.LastAccruedAt, &a.LastClaimedAt, &a.CapReachedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// SaveAccrual persists accumulator state after an accrue step.
func (s *Store) SaveAccrual(a *Accrual) error {
	_, err := s.db.Exec(
		"UPDATE accruals SET shares_accumulated = ?, residual_ms = ?, last_accrued_at = ?, cap_reached_at = ? WHERE user_id = ?",
		a.SharesAccumulated, a.ResidualMs, a.LastAccruedAt.UTC(), a.CapReachedAt, a.UserID,
	)
	return err
}

// GetAccrualSplits returns a user's splits ordered by sharesPerHour
// descending then player ID, the deterministic remainder-assignment order.
func (s *Store) GetAccrualSplits(userID string) ([]*AccrualSplit, error) {
	rows, err := s.db.Query(
		"SELECT user_id, player_id, shares_per_hour FROM accrual_splits WHERE user_id = ? ORDER BY shares_per_hour DESC, player_id ASC",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var splits []*AccrualSplit
	for rows.Next() {
		sp := &AccrualSplit{}
		if err := rows.Scan(&sp.UserID, &sp.PlayerID, &sp.SharesPerHour); err != nil {
			return nil, err
		}
		splits = append(splits, sp)
	}
	return splits, rows.Err()
}

// ReplaceAccrualSplits atomically swaps a user's split set.
func (s *Store) ReplaceAccrualSplits(userID string, splits []*AccrualSplit) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM accrual_splits WHERE user_id = ?", userID); err != nil {
			return err
		}
		for _, sp := range splits {
			if _, err := tx.Exec(
				"INSERT INTO accrual_splits (user_id, player_id, shares_per_hour) VALUES (?, ?, ?)",
				userID, sp.PlayerID, sp.SharesPerHour,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClaimAccrual grants the distributed shares to holdings at zero cost basis
// and resets the accumulator, atomically.
func (s *Store) ClaimAccrual(userID string, distribution map[int64]int64, now time.Time) error {
	return s.withTx(func(tx *sql.Tx) error {
		for playerID, qty := range distribution {
			if qty <= 0 {
				continue
			}
			if err := creditSharesTx(tx, userID, playerID, qty, 0); err != nil {
				return err
			}
		}
		var total int64
		for _, qty := range distribution {
			total += qty
		}
		_, err := tx.Exec(
			"UPDATE accruals SET shares_accumulated = 0, residual_ms = 0, last_accrued_at = ?, last_claimed_at = ?, cap_reached_at = NULL, total_claimed = total_claimed + ? WHERE user_id = ?",
			now.UTC(), now.UTC(), total, userID,
		)
		return err
	})
}

// ListUsersWithAccruals returns every user with an accrual row.
func (s *Store) ListUsersWithAccruals() ([]string, error) {
	rows, err := s.db.Query("SELECT user_id FROM accruals")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
