package store

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Game statuses, normalized from provider values.
const (
	GameScheduled  = "scheduled"
	GameInProgress = "inprogress"
	GameCompleted  = "completed"
)

// Game is a scheduled or played game, upserted by the schedule sync.
type Game struct {
	ID        int64
	GameDay   string // YYYY-MM-DD, Eastern Time
	StartsAt  time.Time
	HomeTeam  string
	AwayTeam  string
	HomeScore int64
	AwayScore int64
	Status    string
}

// PlayerGameStat is one player's box score for one game.
type PlayerGameStat struct {
	ID                int64
	PlayerID          int64
	GameID            int64
	GameDay           string
	Points            int64
	ThreePointersMade int64
	Rebounds          int64
	Assists           int64
	Steals            int64
	Blocks            int64
	Turnovers         int64
	FantasyPoints     decimal.Decimal
}

// UpsertGame inserts or refreshes a game keyed by provider ID.
func (s *Store) UpsertGame(g *Game) error {
	_, err := s.db.Exec(`
		INSERT INTO games (id, game_day, starts_at, home_team, away_team, home_score, away_score, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			game_day = excluded.game_day,
			starts_at = excluded.starts_at,
			home_team = excluded.home_team,
			away_team = excluded.away_team,
			home_score = excluded.home_score,
			away_score = excluded.away_score,
			status = excluded.status`,
		g.ID, g.GameDay, g.StartsAt.UTC(), g.HomeTeam, g.AwayTeam, g.HomeScore, g.AwayScore, g.Status,
	)
	return err
}

// ListGamesByDay returns the games of one game day.
func (s *Store) ListGamesByDay(gameDay string) ([]*Game, error) {
	rows, err := s.db.Query(
		"SELECT id, game_day, starts_at, home_team, away_team, home_score, away_score, status FROM games WHERE game_day = ? ORDER BY starts_at ASC",
		gameDay,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGames(rows)
}

// ListUpcomingGameDays returns distinct future game days in order, up to n.
func (s *Store) ListUpcomingGameDays(fromDay string, n int) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT DISTINCT game_day FROM games WHERE game_day >= ? ORDER BY game_day ASC LIMIT ?",
		fromDay, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// AnyGameInProgress reports whether a live stats pull is worthwhile.
func (s *Store) AnyGameInProgress() (bool, error) {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM games WHERE status = 'inprogress')").Scan(&exists)
	return exists, err
}

// AllGamesCompleted reports whether every game of a day has finished; a day
// with no games counts as complete so empty days never wedge settlement.
func (s *Store) AllGamesCompleted(gameDay string) (bool, error) {
	var pending int64
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM games WHERE game_day = ? AND status != 'completed'", gameDay,
	).Scan(&pending)
	return pending == 0, err
}

// EarliestGameStart returns the first tip-off of a game day.
func (s *Store) EarliestGameStart(gameDay string) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow("SELECT MIN(starts_at) FROM games WHERE game_day = ?", gameDay).Scan(&t)
	return t, err
}

func scanGames(rows *sql.Rows) ([]*Game, error) {
	var games []*Game
	for rows.Next() {
		g := &Game{}
		if err := rows.Scan(&g.ID, &g.GameDay, &g.StartsAt, &g.HomeTeam, &g.AwayTeam,
			&g.HomeScore, &g.AwayScore, &g.Status); err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// UpsertPlayerGameStat records a box-score line, keyed (player, game) so
// repeated ingestion runs stay idempotent.
func (s *Store) UpsertPlayerGameStat(st *PlayerGameStat) error {
	_, err := s.db.Exec(`
		INSERT INTO player_game_stats (player_id, game_id, game_day, points, three_pointers_made, rebounds, assists, steals, blocks, turnovers, fantasy_points, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(player_id, game_id) DO UPDATE SET
			game_day = excluded.game_day,
			points = excluded.points,
			three_pointers_made = excluded.three_pointers_made,
			rebounds = excluded.rebounds,
			assists = excluded.assists,
			steals = excluded.steals,
			blocks = excluded.blocks,
			turnovers = excluded.turnovers,
			fantasy_points = excluded.fantasy_points,
			updated_at = excluded.updated_at`,
		st.PlayerID, st.GameID, st.GameDay, st.Points, st.ThreePointersMade, st.Rebounds,
		st.Assists, st.Steals, st.Blocks, st.Turnovers, st.FantasyPoints.String(), time.Now().UTC(),
	)
	return err
}

// SumFantasyPointsByDay totals each player's fantasy points across all games
// of a game day, one query for the whole contest.
func (s *Store) SumFantasyPointsByDay(gameDay string) (map[int64]decimal.Decimal, error) {
	rows, err := s.db.Query(
		"SELECT player_id, COALESCE(SUM(CAST(fantasy_points AS REAL)), 0) FROM player_game_stats WHERE game_day = ? GROUP BY player_id",
		gameDay,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var playerID int64
		var fp float64
		if err := rows.Scan(&playerID, &fp); err != nil {
			return nil, err
		}
		result[playerID] = decimal.NewFromFloat(fp)
	}
	return result, rows.Err()
}

// RecentFantasyPoints returns a player's last n fantasy-point lines, newest
// first, for fair-value modelling.
func (s *Store) RecentFantasyPoints(playerID int64, n int) ([]decimal.Decimal, error) {
	rows, err := s.db.Query(
		"SELECT fantasy_points FROM player_game_stats WHERE player_id = ? ORDER BY game_day DESC, game_id DESC LIMIT ?",
		playerID, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []decimal.Decimal
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(fp)
		if err != nil {
			return nil, err
		}
		points = append(points, d)
	}
	return points, rows.Err()
}

// BatchRecentFantasyPoints fetches recent fantasy-point lines for many
// players at once, newest first per player, at most n per player.
func (s *Store) BatchRecentFantasyPoints(playerIDs []int64, n int) (map[int64][]decimal.Decimal, error) {
	result := make(map[int64][]decimal.Decimal, len(playerIDs))
	if len(playerIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.Query(
		"SELECT player_id, fantasy_points FROM player_game_stats WHERE player_id IN ("+placeholders(len(playerIDs))+") ORDER BY player_id, game_day DESC, game_id DESC",
		int64Args(playerIDs)...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var playerID int64
		var fp string
		if err := rows.Scan(&playerID, &fp); err != nil {
			return nil, err
		}
		if len(result[playerID]) >= n {
			continue
		}
		d, err := decimal.NewFromString(fp)
		if err != nil {
			return nil, err
		}
		result[playerID] = append(result[playerID], d)
	}
	return result, rows.Err()
}
