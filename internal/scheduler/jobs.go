package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sportfolio/internal/bots"
	"sportfolio/internal/contest"
	"sportfolio/internal/gameday"
	"sportfolio/internal/ingest"
	"sportfolio/internal/store"
)

// contestDaysAhead is how far out contests are created.
const contestDaysAhead = 7

// defaultEntryFee is the contest entry fee in cents.
const defaultEntryFee = 100

// Deps are the engines the standard job set drives.
type Deps struct {
	Store    *store.Store
	Ingest   *ingest.Service
	Contests *contest.Engine
	Bots     *bots.Engine

	BotTickInterval time.Duration
}

// RegisterJobs wires the full production job set onto a scheduler.
func RegisterJobs(s *Scheduler, d Deps) {
	s.Add(Job{
		Name:    "ingest_roster",
		DailyAt: "05:00",
		Timeout: 5 * time.Minute,
		Run:     ingestJob(d.Ingest.SyncRoster),
	})
	s.Add(Job{
		Name:    "ingest_schedule",
		Every:   time.Minute,
		Timeout: 2 * time.Minute,
		Run:     ingestJob(d.Ingest.SyncSchedule),
	})
	s.Add(Job{
		Name:    "ingest_live_stats",
		Every:   time.Minute,
		Timeout: 2 * time.Minute,
		Run:     ingestJob(d.Ingest.SyncLiveStats),
	})
	s.Add(Job{
		Name:    "ingest_historical_stats",
		Every:   time.Hour,
		Timeout: 10 * time.Minute,
		Run:     ingestJob(d.Ingest.SyncRecentStats),
	})
	s.Add(Job{
		Name:    "ingest_gamelogs",
		DailyAt: "06:00",
		Timeout: 10 * time.Minute,
		Run: func(ctx context.Context) (int64, int64, error) {
			yesterday := gameday.FromTime(time.Now().Add(-24 * time.Hour))
			res, err := d.Ingest.SyncGamelogs(ctx, yesterday, true)
			return res.Processed, res.Errors, err
		},
	})
	s.Add(Job{
		Name:  "contest_status",
		Every: time.Minute,
		Run: func(ctx context.Context) (int64, int64, error) {
			n, err := d.Contests.ActivateDue(time.Now())
			return int64(n), 0, err
		},
	})
	s.Add(Job{
		Name:  "contest_settle",
		Every: 5 * time.Minute,
		Run: func(ctx context.Context) (int64, int64, error) {
			return settleLiveContests(d, time.Now())
		},
	})
	s.Add(Job{
		Name:    "contest_create",
		DailyAt: "00:00",
		Run: func(ctx context.Context) (int64, int64, error) {
			return createUpcomingContests(d, time.Now())
		},
	})
	s.Add(Job{
		Name:    "bot_engine",
		Every:   d.BotTickInterval,
		Timeout: 5 * time.Minute,
		Run: func(ctx context.Context) (int64, int64, error) {
			res, err := d.Bots.RunTick(ctx)
			return res.OrdersPlaced + res.ContestEntries, res.Errors, err
		},
	})
	s.Add(Job{
		Name:    "portfolio_snapshot",
		DailyAt: "23:55",
		Run: func(ctx context.Context) (int64, int64, error) {
			n, err := d.Store.SnapshotPortfolios(gameday.Today())
			return n, 0, err
		},
	})
	s.Add(Job{
		Name:  "trade_stats_refresh",
		Every: 15 * time.Minute,
		Run: func(ctx context.Context) (int64, int64, error) {
			return 0, 0, d.Store.RefreshDailyTradeStats(time.Now())
		},
	})
	s.Add(Job{
		Name:  "session_cleanup",
		Every: time.Hour,
		Run: func(ctx context.Context) (int64, int64, error) {
			if err := d.Store.CleanupExpiredSessions(); err != nil {
				return 0, 0, err
			}
			n, err := d.Store.ExpirePremium(time.Now())
			return n, 0, err
		},
	})
}

func ingestJob(fn func(ctx context.Context) (ingest.Result, error)) JobFunc {
	return func(ctx context.Context) (int64, int64, error) {
		res, err := fn(ctx)
		return res.Processed, res.Errors, err
	}
}

// settleLiveContests tries to settle every live contest; contests whose
// games are still running are skipped, not errors.
func settleLiveContests(d Deps, now time.Time) (int64, int64, error) {
	live, err := d.Store.ListContestsByStatus(store.ContestLive)
	if err != nil {
		return 0, 0, err
	}
	var settled, errCount int64
	for _, c := range live {
		ok, err := d.Contests.Settle(c.ID, now)
		if err == contest.ErrNotSettleable {
			continue
		}
		if err != nil {
			errCount++
			continue
		}
		if ok {
			settled++
		}
	}
	return settled, errCount, nil
}

// createUpcomingContests ensures one 50/50 contest exists per upcoming
// game day, starting at the day's earliest tip-off and ending at the ET
// day boundary.
func createUpcomingContests(d Deps, now time.Time) (int64, int64, error) {
	days, err := d.Store.ListUpcomingGameDays(gameday.FromTime(now), contestDaysAhead)
	if err != nil {
		return 0, 0, err
	}

	var created, errCount int64
	for _, day := range days {
		existing, err := d.Store.GetContestByGameDay(day)
		if err != nil {
			errCount++
			continue
		}
		if existing != nil {
			continue
		}
		startsAt, err := d.Store.EarliestGameStart(day)
		if err != nil {
			errCount++
			continue
		}
		endsAt, err := gameday.EndOfDay(day)
		if err != nil {
			errCount++
			continue
		}
		c := &store.Contest{
			ID:       uuid.New().String(),
			GameDay:  day,
			StartsAt: startsAt,
			EndsAt:   endsAt,
			EntryFee: defaultEntryFee,
		}
		if err := d.Store.CreateContest(c); err != nil {
			errCount++
			continue
		}
		created++
	}
	return created, errCount, nil
}
