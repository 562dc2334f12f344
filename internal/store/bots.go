package store

import (
	"database/sql"
	"time"
)

// BotProfile holds one bot's trading parameters and daily counters. The bot
// itself is a regular user row.
type BotProfile struct {
	UserID                  string
	Aggressiveness          float64 // 0..1
	SpreadPercent           float64
	MinOrderSize            int64
	MaxOrderSize            int64
	MaxDailyOrders          int64
	MaxDailyVolume          int64
	ContestEntryBudget      int64
	MaxContestEntriesPerDay int64
	MinActionCooldownMs     int64
	MaxActionCooldownMs     int64
	LastActionAt            sql.NullTime
	OrdersToday             int64
	VolumeToday             int64
	ContestEntriesToday     int64
	LastResetDate           string // YYYY-MM-DD, UTC
	IsActive                bool
}

const botColumns = `user_id, aggressiveness, spread_percent, min_order_size, max_order_size,
	max_daily_orders, max_daily_volume, contest_entry_budget, max_contest_entries_per_day,
	min_action_cooldown_ms, max_action_cooldown_ms, last_action_at,
	orders_today, volume_today, contest_entries_today, last_reset_date, is_active`

// CreateBotProfile persists a new profile.
func (s *Store) CreateBotProfile(p *BotProfile) error {
	_, err := s.db.Exec(`
		INSERT INTO bot_profiles (user_id, aggressiveness, spread_percent, min_order_size, max_order_size,
			max_daily_orders, max_daily_volume, contest_entry_budget, max_contest_entries_per_day,
			min_action_cooldown_ms, max_action_cooldown_ms, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Aggressiveness, p.SpreadPercent, p.MinOrderSize, p.MaxOrderSize,
		p.MaxDailyOrders, p.MaxDailyVolume, p.ContestEntryBudget, p.MaxContestEntriesPerDay,
		p.MinActionCooldownMs, p.MaxActionCooldownMs, p.IsActive,
	)
	return err
}

// ListActiveBotProfiles returns all active bots.
func (s *Store) ListActiveBotProfiles() ([]*BotProfile, error) {
	rows, err := s.db.Query("SELECT " + botColumns + " FROM bot_profiles WHERE is_active = TRUE")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*BotProfile
	for rows.Next() {
		p := &BotProfile{}
		if err := rows.Scan(&p.UserID, &p.Aggressiveness, &p.SpreadPercent, &p.MinOrderSize, &p.MaxOrderSize,
			&p.MaxDailyOrders, &p.MaxDailyVolume, &p.ContestEntryBudget, &p.MaxContestEntriesPerDay,
			&p.MinActionCooldownMs, &p.MaxActionCooldownMs, &p.LastActionAt,
			&p.OrdersToday, &p.VolumeToday, &p.ContestEntriesToday, &p.LastResetDate, &p.IsActive); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// ResetBotCounters zeroes daily counters when the UTC day rolled over.
func (s *Store) ResetBotCounters(userID, utcDay string) error {
	_, err := s.db.Exec(
		"UPDATE bot_profiles SET orders_today = 0, volume_today = 0, contest_entries_today = 0, last_reset_date = ? WHERE user_id = ?",
		utcDay, userID,
	)
	return err
}

// TouchBotAction records an action timestamp and bumps the daily counters.
func (s *Store) TouchBotAction(userID string, orders, volume, contestEntries int64) error {
	_, err := s.db.Exec(
		"UPDATE bot_profiles SET last_action_at = ?, orders_today = orders_today + ?, volume_today = volume_today + ?, contest_entries_today = contest_entries_today + ? WHERE user_id = ?",
		time.Now().UTC(), orders, volume, contestEntries, userID,
	)
	return err
}

// BotStats summarizes fleet activity for the admin surface.
type BotStats struct {
	ActiveBots     int64 `json:"activeBots"`
	OrdersToday    int64 `json:"ordersToday"`
	VolumeToday    int64 `json:"volumeToday"`
	ContestEntries int64 `json:"contestEntriesToday"`
}

// GetBotStats aggregates daily fleet counters.
func (s *Store) GetBotStats() (*BotStats, error) {
	st := &BotStats{}
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(orders_today), 0), COALESCE(SUM(volume_today), 0), COALESCE(SUM(contest_entries_today), 0)
		FROM bot_profiles WHERE is_active = TRUE`,
	).Scan(&st.ActiveBots, &st.OrdersToday, &st.VolumeToday, &st.ContestEntries)
	return st, err
}
