package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrPlayerNotFound = errors.New("player not found")

// Player is a tradable player asset.
type Player struct {
	ID                   int64
	FirstName            string
	LastName             string
	Team                 string
	Position             string
	IsActive             bool
	IsEligibleForAccrual bool
	LastTradePrice       sql.NullInt64 // cents; null until the first trade
	Volume24h            int64
	PriceChange24h       int64 // cents
	UpdatedAt            time.Time
}

func (p *Player) Name() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

const playerColumns = `id, first_name, last_name, team, position, is_active, is_eligible_for_accrual, last_trade_price, volume_24h, price_change_24h, updated_at`

func scanPlayer(scan func(dest ...any) error) (*Player, error) {
	p := &Player{}
	err := scan(&p.ID, &p.FirstName, &p.LastName, &p.Team, &p.Position, &p.IsActive,
		&p.IsEligibleForAccrual, &p.LastTradePrice, &p.Volume24h, &p.PriceChange24h, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpsertPlayer inserts or refreshes a player from a roster sync. Trade-driven
// fields (last price, volume) are never touched here.
func (s *Store) UpsertPlayer(p *Player) error {
	_, err := s.db.Exec(`
		INSERT INTO players (id, first_name, last_name, team, position, is_active, is_eligible_for_accrual, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			team = excluded.team,
			position = excluded.position,
			is_active = excluded.is_active,
			is_eligible_for_accrual = excluded.is_eligible_for_accrual,
			updated_at = excluded.updated_at`,
		p.ID, p.FirstName, p.LastName, p.Team, p.Position, p.IsActive, p.IsEligibleForAccrual, time.Now().UTC(),
	)
	return err
}

// GetPlayer retrieves a player by ID.
func (s *Store) GetPlayer(id int64) (*Player, error) {
	p, err := scanPlayer(s.db.QueryRow("SELECT "+playerColumns+" FROM players WHERE id = ?", id).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrPlayerNotFound
	}
	return p, err
}

// GetPlayersByIDs is the batch read for list views: one query for K players.
func (s *Store) GetPlayersByIDs(ids []int64) (map[int64]*Player, error) {
	result := make(map[int64]*Player, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := "SELECT " + playerColumns + " FROM players WHERE id IN (" + placeholders(len(ids)) + ")"
	rows, err := s.db.Query(query, int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPlayer(rows.Scan)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

// PlayerFilter describes the marketplace list query.
type PlayerFilter struct {
	Search             string
	Team               string
	Position           string
	HasBuyOrders       bool
	HasSellOrders      bool
	TeamsPlayingOnDate string // YYYY-MM-DD game day
	SortBy             string // price | volume | change | bid | ask
	SortDesc           bool
	Limit              int
	Offset             int
}

// ListPlayers returns active players matching the filter, sorted and paged.
// Bid/ask sorting joins the open order book in the same query so a page of K
// players stays O(1) queries.
func (s *Store) ListPlayers(f PlayerFilter) ([]*Player, error) {
	var (
		where []string
		args  []any
	)
	where = append(where, "p.is_active = TRUE")

	if f.Search != "" {
		where = append(where, "(p.first_name LIKE ? OR p.last_name LIKE ?)")
		pat := "%" + f.Search + "%"
		args = append(args, pat, pat)
	}
	if f.Team != "" {
		where = append(where, "p.team = ?")
		args = append(args, f.Team)
	}
	if f.Position != "" {
		where = append(where, "p.position = ?")
		args = append(args, f.Position)
	}
	if f.HasBuyOrders {
		where = append(where, "EXISTS(SELECT 1 FROM orders o WHERE o.player_id = p.id AND o.side = 'buy' AND o.status IN ('open','partial'))")
	}
	if f.HasSellOrders {
		where = append(where, "EXISTS(SELECT 1 FROM orders o WHERE o.player_id = p.id AND o.side = 'sell' AND o.status IN ('open','partial'))")
	}
	if f.TeamsPlayingOnDate != "" {
		where = append(where, "p.team IN (SELECT home_team FROM games WHERE game_day = ? UNION SELECT away_team FROM games WHERE game_day = ?)")
		args = append(args, f.TeamsPlayingOnDate, f.TeamsPlayingOnDate)
	}

	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	var orderBy string
	switch f.SortBy {
	case "price":
		orderBy = "p.last_trade_price " + dir
	case "volume":
		orderBy = "p.volume_24h " + dir
	case "change":
		orderBy = "p.price_change_24h " + dir
	case "bid":
		orderBy = "(SELECT MAX(o.limit_price) FROM orders o WHERE o.player_id = p.id AND o.side = 'buy' AND o.status IN ('open','partial')) " + dir
	case "ask":
		orderBy = "(SELECT MIN(o.limit_price) FROM orders o WHERE o.player_id = p.id AND o.side = 'sell' AND o.status IN ('open','partial')) " + dir
	default:
		orderBy = "p.last_name ASC, p.first_name ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := fmt.Sprintf(
		"SELECT %s FROM players p WHERE %s ORDER BY %s NULLS LAST LIMIT ? OFFSET ?",
		prefixColumns("p", playerColumns), strings.Join(where, " AND "), orderBy,
	)
	args = append(args, limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []*Player
	for rows.Next() {
		p, err := scanPlayer(rows.Scan)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// ListAccrualEligiblePlayers returns active players eligible for accrual.
func (s *Store) ListAccrualEligiblePlayers() ([]*Player, error) {
	rows, err := s.db.Query("SELECT " + playerColumns + " FROM players WHERE is_active = TRUE AND is_eligible_for_accrual = TRUE")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []*Player
	for rows.Next() {
		p, err := scanPlayer(rows.Scan)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// RefreshDailyTradeStats recomputes rolling 24h volume and price change from
// the trades table. Run periodically; fills keep volume_24h incrementally
// current between refreshes.
func (s *Store) RefreshDailyTradeStats(now time.Time) error {
	cutoff := now.Add(-24 * time.Hour).UTC()
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			UPDATE players SET volume_24h = COALESCE(
				(SELECT SUM(t.quantity) FROM trades t WHERE t.player_id = players.id AND t.executed_at >= ?), 0)`,
			cutoff,
		); err != nil {
			return err
		}
		_, err := tx.Exec(`
			UPDATE players SET price_change_24h = COALESCE(last_trade_price, 0) - COALESCE(
				(SELECT t.price FROM trades t WHERE t.player_id = players.id AND t.executed_at < ?
				 ORDER BY t.executed_at DESC LIMIT 1),
				COALESCE(last_trade_price, 0))`,
			cutoff,
		)
		return err
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func prefixColumns(prefix, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, c := range parts {
		parts[i] = prefix + "." + c
	}
	return strings.Join(parts, ", ")
}
