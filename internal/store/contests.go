package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrContestNotFound  = errors.New("contest not found")
	ErrContestNotOpen   = errors.New("contest is not open for entries")
	ErrEntryNotFound    = errors.New("contest entry not found")
	ErrEmptyLineup      = errors.New("lineup must contain at least one player")
	ErrDuplicateEntry   = errors.New("user already entered this contest")
	ErrInvalidSharesQty = errors.New("lineup shares must be positive")
)

// Contest statuses. Transitions are open -> live -> completed only.
const (
	ContestOpen      = "open"
	ContestLive      = "live"
	ContestCompleted = "completed"
)

// Contest is one 50/50 contest for a game day.
type Contest struct {
	ID                 string
	GameDay            string // YYYY-MM-DD, Eastern Time
	Status             string
	StartsAt           time.Time
	EndsAt             time.Time
	EntryFee           int64 // cents
	EntryCount         int64
	TotalPrizePool     int64 // cents
	TotalSharesEntered int64
	CreatedAt          time.Time
}

// ContestEntry is one user's entry in a contest.
type ContestEntry struct {
	ID                 string
	ContestID          string
	UserID             string
	TotalSharesEntered int64
	TotalScore         decimal.Decimal
	Rank               sql.NullInt64
	Payout             int64 // cents
	CreatedAt          time.Time
}

// LineupSlot is one (player, shares) row of an entry's lineup. Shares are
// burned from holdings when the row is created.
type LineupSlot struct {
	ID            int64
	EntryID       string
	PlayerID      int64
	SharesEntered int64
	FantasyPoints decimal.Decimal
	EarnedScore   decimal.Decimal
}

const contestColumns = `id, game_day, status, starts_at, ends_at, entry_fee, entry_count, total_prize_pool, total_shares_entered, created_at`

func scanContest(scan func(dest ...any) error) (*Contest, error) {
	c := &Contest{}
	err := scan(&c.ID, &c.GameDay, &c.Status, &c.StartsAt, &c.EndsAt, &c.EntryFee,
		&c.EntryCount, &c.TotalPrizePool, &c.TotalSharesEntered, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateContest inserts a contest, idempotent per game day.
func (s *Store) CreateContest(c *Contest) error {
	_, err := s.db.Exec(
		"INSERT INTO contests (id, game_day, status, starts_at, ends_at, entry_fee) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(game_day) DO NOTHING",
		c.ID, c.GameDay, ContestOpen, c.StartsAt.UTC(), c.EndsAt.UTC(), c.EntryFee,
	)
	return err
}

// GetContest retrieves a contest by ID.
func (s *Store) GetContest(id string) (*Contest, error) {
	c, err := scanContest(s.db.QueryRow("SELECT "+contestColumns+" FROM contests WHERE id = ?", id).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrContestNotFound
	}
	return c, err
}

// GetContestByGameDay retrieves the contest for a game day, nil when absent.
func (s *Store) GetContestByGameDay(gameDay string) (*Contest, error) {
	c, err := scanContest(s.db.QueryRow("SELECT "+contestColumns+" FROM contests WHERE game_day = ?", gameDay).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListContestsByStatus returns contests in a status, soonest first.
func (s *Store) ListContestsByStatus(status string) ([]*Contest, error) {
	rows, err := s.db.Query("SELECT "+contestColumns+" FROM contests WHERE status = ? ORDER BY starts_at ASC", status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contests []*Contest
	for rows.Next() {
		c, err := scanContest(rows.Scan)
		if err != nil {
			return nil, err
		}
		contests = append(contests, c)
	}
	return contests, rows.Err()
}

// AdvanceContestStatus moves a contest forward, enforcing monotonicity in
// SQL: the update applies only from the expected prior status.
func (s *Store) AdvanceContestStatus(contestID, from, to string) (bool, error) {
	res, err := s.db.Exec("UPDATE contests SET status = ? WHERE id = ? AND status = ?", to, contestID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InsertContestEntry burns the lineup's shares, debits the entry fee into
// the prize pool, and records entry, lineup rows and contest aggregates in
// one transaction.
func (s *Store) InsertContestEntry(entry *ContestEntry, lineup []*LineupSlot, entryFee int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		if entryFee > 0 {
			available, err := availableBalanceTx(tx, entry.UserID)
			if err != nil {
				return err
			}
			if available < entryFee {
				return ErrInsufficientFunds
			}
			if _, err := tx.Exec("UPDATE users SET balance = balance - ? WHERE id = ?", entryFee, entry.UserID); err != nil {
				return err
			}
		}

		var total int64
		for _, slot := range lineup {
			if slot.SharesEntered <= 0 {
				return ErrInvalidSharesQty
			}
			available, err := availableSharesTx(tx, entry.UserID, slot.PlayerID)
			if err != nil {
				return err
			}
			if available < slot.SharesEntered {
				return ErrInsufficientShares
			}
			if err := debitSharesTx(tx, entry.UserID, slot.PlayerID, slot.SharesEntered); err != nil {
				return err
			}
			total += slot.SharesEntered
		}

		entry.TotalSharesEntered = total
		if _, err := tx.Exec(
			"INSERT INTO contest_entries (id, contest_id, user_id, total_shares_entered, created_at) VALUES (?, ?, ?, ?, ?)",
			entry.ID, entry.ContestID, entry.UserID, total, time.Now().UTC(),
		); err != nil {
			return err
		}
		for _, slot := range lineup {
			if _, err := tx.Exec(
				"INSERT INTO contest_lineups (entry_id, player_id, shares_entered) VALUES (?, ?, ?)",
				entry.ID, slot.PlayerID, slot.SharesEntered,
			); err != nil {
				return err
			}
		}

		_, err := tx.Exec(
			"UPDATE contests SET entry_count = entry_count + 1, total_shares_entered = total_shares_entered + ?, total_prize_pool = total_prize_pool + ? WHERE id = ?",
			total, entryFee, entry.ContestID,
		)
		return err
	})
}

// ReplaceContestLineup applies a lineup edit as per-player diffs: reductions
// credit shares back at zero cost, increases burn. The entry and contest
// aggregates adjust by the net delta; entry count is unchanged.
func (s *Store) ReplaceContestLineup(entry *ContestEntry, newLineup []*LineupSlot) error {
	return s.withTx(func(tx *sql.Tx) error {
		old := make(map[int64]int64)
		rows, err := tx.Query("SELECT player_id, shares_entered FROM contest_lineups WHERE entry_id = ?", entry.ID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var playerID, qty int64
			if err := rows.Scan(&playerID, &qty); err != nil {
				rows.Close()
				return err
			}
			old[playerID] = qty
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		var newTotal int64
		seen := make(map[int64]bool)
		for _, slot := range newLineup {
			if slot.SharesEntered <= 0 {
				return ErrInvalidSharesQty
			}
			seen[slot.PlayerID] = true
			newTotal += slot.SharesEntered

			delta := slot.SharesEntered - old[slot.PlayerID]
			switch {
			case delta > 0:
				available, err := availableSharesTx(tx, entry.UserID, slot.PlayerID)
				if err != nil {
					return err
				}
				if available < delta {
					return ErrInsufficientShares
				}
				if err := debitSharesTx(tx, entry.UserID, slot.PlayerID, delta); err != nil {
					return err
				}
			case delta < 0:
				if err := creditSharesTx(tx, entry.UserID, slot.PlayerID, -delta, 0); err != nil {
					return err
				}
			}
		}
		// Players dropped entirely get their shares back.
		for playerID, qty := range old {
			if !seen[playerID] {
				if err := creditSharesTx(tx, entry.UserID, playerID, qty, 0); err != nil {
					return err
				}
			}
		}

		if _, err := tx.Exec("DELETE FROM contest_lineups WHERE entry_id = ?", entry.ID); err != nil {
			return err
		}
		for _, slot := range newLineup {
			if _, err := tx.Exec(
				"INSERT INTO contest_lineups (entry_id, player_id, shares_entered) VALUES (?, ?, ?)",
				entry.ID, slot.PlayerID, slot.SharesEntered,
			); err != nil {
				return err
			}
		}

		var oldTotal int64
		for _, qty := range old {
			oldTotal += qty
		}
		if _, err := tx.Exec(
			"UPDATE contest_entries SET total_shares_entered = ? WHERE id = ?", newTotal, entry.ID,
		); err != nil {
			return err
		}
		_, err = tx.Exec(
			"UPDATE contests SET total_shares_entered = total_shares_entered + ? WHERE id = ?",
			newTotal-oldTotal, entry.ContestID,
		)
		return err
	})
}

// GetContestEntry retrieves an entry by ID.
func (s *Store) GetContestEntry(id string) (*ContestEntry, error) {
	e, err := s.scanEntryRow(s.db.QueryRow(
		"SELECT id, contest_id, user_id, total_shares_entered, total_score, rank, payout, created_at FROM contest_entries WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	return e, err
}

// GetUserContestEntry retrieves a user's entry in a contest, nil if none.
func (s *Store) GetUserContestEntry(contestID, userID string) (*ContestEntry, error) {
	e, err := s.scanEntryRow(s.db.QueryRow(
		"SELECT id, contest_id, user_id, total_shares_entered, total_score, rank, payout, created_at FROM contest_entries WHERE contest_id = ? AND user_id = ?",
		contestID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *Store) scanEntryRow(row *sql.Row) (*ContestEntry, error) {
	e := &ContestEntry{}
	var score string
	err := row.Scan(&e.ID, &e.ContestID, &e.UserID, &e.TotalSharesEntered, &score, &e.Rank, &e.Payout, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.TotalScore, err = decimal.NewFromString(score)
	return e, err
}

// ListContestEntries returns all entries of a contest ordered for ranking:
// score descending, ties broken by earliest creation.
func (s *Store) ListContestEntries(contestID string) ([]*ContestEntry, error) {
	rows, err := s.db.Query(
		"SELECT id, contest_id, user_id, total_shares_entered, total_score, rank, payout, created_at FROM contest_entries WHERE contest_id = ? ORDER BY CAST(total_score AS REAL) DESC, created_at ASC, id ASC",
		contestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*ContestEntry
	for rows.Next() {
		e := &ContestEntry{}
		var score string
		if err := rows.Scan(&e.ID, &e.ContestID, &e.UserID, &e.TotalSharesEntered, &score, &e.Rank, &e.Payout, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.TotalScore, err = decimal.NewFromString(score); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEntryLineup returns the lineup rows of one entry.
func (s *Store) GetEntryLineup(entryID string) ([]*LineupSlot, error) {
	rows, err := s.db.Query(
		"SELECT id, entry_id, player_id, shares_entered, fantasy_points, earned_score FROM contest_lineups WHERE entry_id = ?",
		entryID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLineupRows(rows)
}

// GetContestLineups returns every lineup row in a contest keyed by entry.
func (s *Store) GetContestLineups(contestID string) (map[string][]*LineupSlot, error) {
	rows, err := s.db.Query(`
		SELECT l.id, l.entry_id, l.player_id, l.shares_entered, l.fantasy_points, l.earned_score
		FROM contest_lineups l
		JOIN contest_entries e ON e.id = l.entry_id
		WHERE e.contest_id = ?`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	slots, err := scanLineupRows(rows)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]*LineupSlot)
	for _, slot := range slots {
		result[slot.EntryID] = append(result[slot.EntryID], slot)
	}
	return result, nil
}

func scanLineupRows(rows *sql.Rows) ([]*LineupSlot, error) {
	var slots []*LineupSlot
	for rows.Next() {
		slot := &LineupSlot{}
		var fp, earned string
		if err := rows.Scan(&slot.ID, &slot.EntryID, &slot.PlayerID, &slot.SharesEntered, &fp, &earned); err != nil {
			return nil, err
		}
		var err error
		if slot.FantasyPoints, err = decimal.NewFromString(fp); err != nil {
			return nil, err
		}
		if slot.EarnedScore, err = decimal.NewFromString(earned); err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// SaveContestScores persists computed lineup scores and entry totals.
func (s *Store) SaveContestScores(entries []*ContestEntry, lineups map[string][]*LineupSlot) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, e := range entries {
			if _, err := tx.Exec(
				"UPDATE contest_entries SET total_score = ?, rank = ? WHERE id = ?",
				e.TotalScore.String(), e.Rank, e.ID,
			); err != nil {
				return err
			}
			for _, slot := range lineups[e.ID] {
				if _, err := tx.Exec(
					"UPDATE contest_lineups SET fantasy_points = ?, earned_score = ? WHERE id = ?",
					slot.FantasyPoints.String(), slot.EarnedScore.String(), slot.ID,
				); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// SettleContestPayouts credits winners and completes the contest in one
// transaction. The status guard makes settlement idempotent: a second call
// finds the contest already completed and changes nothing.
func (s *Store) SettleContestPayouts(contestID string, payouts map[string]int64) (bool, error) {
	settled := false
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"UPDATE contests SET status = ? WHERE id = ? AND status = ?",
			ContestCompleted, contestID, ContestLive,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil // already completed; never redistribute payouts
		}
		settled = true

		for entryID, amount := range payouts {
			if amount <= 0 {
				continue
			}
			if _, err := tx.Exec(
				"UPDATE contest_entries SET payout = ? WHERE id = ?", amount, entryID,
			); err != nil {
				return err
			}
			if _, err := tx.Exec(
				"UPDATE users SET balance = balance + ? WHERE id = (SELECT user_id FROM contest_entries WHERE id = ?)",
				amount, entryID,
			); err != nil {
				return err
			}
		}
		return nil
	})
	return settled, err
}
