package ingest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"sportfolio/internal/contest"
	"sportfolio/internal/gameday"
	"sportfolio/internal/store"
)

// Result counts a sync pass. A nonzero Errors with a nil error means the
// pass completed degraded: bad records were skipped, good ones landed.
type Result struct {
	Processed int64
	Errors    int64
}

// Service runs the ingestion passes the scheduler triggers.
type Service struct {
	store  *store.Store
	client *Client
	log    *logrus.Logger

	// OnGameUpdate fires after a game row changes, for score broadcasts.
	// May be nil.
	OnGameUpdate func(g *store.Game)
}

func NewService(st *store.Store, client *Client, log *logrus.Logger) *Service {
	return &Service{store: st, client: client, log: log}
}

// SyncRoster refreshes the player list: names, teams, positions, and the
// activity flag derived from roster status.
func (s *Service) SyncRoster(ctx context.Context) (Result, error) {
	var res Result
	resp, err := s.client.SeasonalPlayers(ctx)
	if err != nil {
		return res, err
	}

	for _, entry := range resp.Players {
		ap := entry.Player
		if ap.ID == 0 {
			res.Errors++
			continue
		}
		p := &store.Player{
			ID:                   ap.ID,
			FirstName:            ap.FirstName,
			LastName:             ap.LastName,
			Position:             ap.PrimaryPosition,
			IsActive:             ap.RosterStatus == "ROSTER",
			IsEligibleForAccrual: ap.RosterStatus == "ROSTER",
		}
		if ap.CurrentTeam != nil {
			p.Team = ap.CurrentTeam.Abbreviation
		}
		if err := s.store.UpsertPlayer(p); err != nil {
			s.log.WithError(err).WithField("player", ap.ID).Warn("roster upsert failed")
			res.Errors++
			continue
		}
		res.Processed++
	}
	return res, nil
}

// SyncSchedule upserts games for the window around today (-7..+14 days)
// and pushes score updates to listeners.
func (s *Service) SyncSchedule(ctx context.Context) (Result, error) {
	var res Result
	today, err := gameday.Parse(gameday.Today())
	if err != nil {
		return res, err
	}

	for offset := -7; offset <= 14; offset++ {
		day := gameday.FromTime(today.AddDate(0, 0, offset))
		resp, err := s.client.DailyGames(ctx, ProviderDate(day))
		if err != nil {
			s.log.WithError(err).WithField("day", day).Warn("schedule fetch failed")
			res.Errors++
			continue
		}
		for _, ag := range resp.Games {
			g := &store.Game{
				ID:        ag.Schedule.ID,
				GameDay:   gameday.FromTime(ag.Schedule.StartTime),
				StartsAt:  ag.Schedule.StartTime,
				HomeTeam:  ag.Schedule.HomeTeam.Abbreviation,
				AwayTeam:  ag.Schedule.AwayTeam.Abbreviation,
				HomeScore: ag.Score.HomeScoreTotal,
				AwayScore: ag.Score.AwayScoreTotal,
				Status:    NormalizeGameStatus(ag.Schedule.PlayedStatus),
			}
			if err := s.store.UpsertGame(g); err != nil {
				res.Errors++
				continue
			}
			res.Processed++
			if s.OnGameUpdate != nil {
				s.OnGameUpdate(g)
			}
		}
	}
	return res, nil
}

// SyncGamelogs pulls box scores for one game day and upserts stat lines
// with computed fantasy points.
func (s *Service) SyncGamelogs(ctx context.Context, day string, backfill bool) (Result, error) {
	var res Result
	resp, err := s.client.DailyPlayerGamelogs(ctx, ProviderDate(day), backfill)
	if err != nil {
		return res, err
	}

	for _, gl := range resp.Gamelogs {
		if gl.Player.ID == 0 || gl.Game.ID == 0 {
			res.Errors++
			continue
		}
		st := &store.PlayerGameStat{
			PlayerID:          gl.Player.ID,
			GameID:            gl.Game.ID,
			GameDay:           day,
			Points:            gl.Stats.Offense.Pts,
			ThreePointersMade: gl.Stats.FieldGoals.Fg3PtMade,
			Rebounds:          gl.Stats.Rebounds.Reb,
			Assists:           gl.Stats.Offense.Ast,
			Steals:            gl.Stats.Defense.Stl,
			Blocks:            gl.Stats.Defense.Blk,
			Turnovers:         gl.Stats.Defense.Tov,
		}
		st.FantasyPoints = contest.FantasyPoints(st)
		if err := s.store.UpsertPlayerGameStat(st); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"player": gl.Player.ID, "game": gl.Game.ID,
			}).Warn("stat upsert failed")
			res.Errors++
			continue
		}
		res.Processed++
	}
	return res, nil
}

// SyncLiveStats refreshes box scores for today while any game is running.
func (s *Service) SyncLiveStats(ctx context.Context) (Result, error) {
	live, err := s.store.AnyGameInProgress()
	if err != nil {
		return Result{}, err
	}
	if !live {
		return Result{}, nil
	}
	return s.SyncGamelogs(ctx, gameday.Today(), false)
}

// SyncRecentStats covers the last 24 hours, catching late corrections.
func (s *Service) SyncRecentStats(ctx context.Context) (Result, error) {
	var total Result
	now := time.Now()
	for _, day := range []string{gameday.FromTime(now.Add(-24 * time.Hour)), gameday.FromTime(now)} {
		res, err := s.SyncGamelogs(ctx, day, true)
		total.Processed += res.Processed
		total.Errors += res.Errors
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
