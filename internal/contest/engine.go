// Package contest runs the daily 50/50 contests: entry with share burn,
// proportional live scoring, and top-half settlement.
package contest

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"sportfolio/internal/store"
)

var (
	ErrContestClosed = errors.New("contest no longer accepts lineup changes")
	ErrNotYourEntry  = errors.New("entry belongs to another user")
	ErrNotSettleable = errors.New("contest is not ready to settle")
)

// LineupPick is one requested (player, shares) pair.
type LineupPick struct {
	PlayerID int64 `json:"playerId"`
	Shares   int64 `json:"shares"`
}

// Engine drives contest entry, scoring, and settlement.
type Engine struct {
	store *store.Store
	log   *logrus.Logger
}

func New(st *store.Store, log *logrus.Logger) *Engine {
	return &Engine{store: st, log: log}
}

// Enter creates a user's entry in an open contest, burning the lineup's
// shares and charging the entry fee into the prize pool.
func (e *Engine) Enter(contestID, userID string, picks []LineupPick) (*store.ContestEntry, error) {
	c, err := e.store.GetContest(contestID)
	if err != nil {
		return nil, err
	}
	if c.Status != store.ContestOpen {
		return nil, store.ErrContestNotOpen
	}
	if len(picks) == 0 {
		return nil, store.ErrEmptyLineup
	}

	existing, err := e.store.GetUserContestEntry(contestID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, store.ErrDuplicateEntry
	}

	entry := &store.ContestEntry{
		ID:        uuid.New().String(),
		ContestID: contestID,
		UserID:    userID,
	}
	lineup := make([]*store.LineupSlot, 0, len(picks))
	for _, p := range picks {
		lineup = append(lineup, &store.LineupSlot{PlayerID: p.PlayerID, SharesEntered: p.Shares})
	}
	if err := e.store.InsertContestEntry(entry, lineup, c.EntryFee); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"contest": contestID,
		"user":    userID,
		"shares":  entry.TotalSharesEntered,
	}).Info("contest entry created")
	return entry, nil
}

// EditLineup replaces an entry's lineup while the contest is still open.
// Reductions return shares to holdings; increases burn more.
func (e *Engine) EditLineup(contestID, entryID, userID string, picks []LineupPick) (*store.ContestEntry, error) {
	c, err := e.store.GetContest(contestID)
	if err != nil {
		return nil, err
	}
	if c.Status != store.ContestOpen {
		return nil, ErrContestClosed
	}
	if len(picks) == 0 {
		return nil, store.ErrEmptyLineup
	}

	entry, err := e.store.GetContestEntry(entryID)
	if err != nil {
		return nil, err
	}
	if entry.ContestID != contestID {
		return nil, store.ErrEntryNotFound
	}
	if entry.UserID != userID {
		return nil, ErrNotYourEntry
	}

	lineup := make([]*store.LineupSlot, 0, len(picks))
	var total int64
	for _, p := range picks {
		lineup = append(lineup, &store.LineupSlot{PlayerID: p.PlayerID, SharesEntered: p.Shares})
		total += p.Shares
	}
	if err := e.store.ReplaceContestLineup(entry, lineup); err != nil {
		return nil, err
	}
	entry.TotalSharesEntered = total
	return entry, nil
}

// ActivateDue moves open contests whose start time has passed to live.
// Returns how many advanced.
func (e *Engine) ActivateDue(now time.Time) (int, error) {
	open, err := e.store.ListContestsByStatus(store.ContestOpen)
	if err != nil {
		return 0, err
	}
	advanced := 0
	for _, c := range open {
		if now.Before(c.StartsAt) {
			continue
		}
		ok, err := e.store.AdvanceContestStatus(c.ID, store.ContestOpen, store.ContestLive)
		if err != nil {
			return advanced, err
		}
		if ok {
			advanced++
			e.log.WithField("contest", c.ID).Info("contest live")
		}
	}
	return advanced, nil
}

// Score recomputes every entry's score from the game day's fantasy points
// and assigns ranks. Re-runnable at any time during or after the contest.
//
// A player's points are shared across entries in proportion to shares
// entered: an entry holding 30 of the 100 entered shares of a player earns
// 30% of that player's fantasy points.
func (e *Engine) Score(contestID string) ([]*store.ContestEntry, error) {
	c, err := e.store.GetContest(contestID)
	if err != nil {
		return nil, err
	}

	entries, err := e.store.ListContestEntries(contestID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	lineups, err := e.store.GetContestLineups(contestID)
	if err != nil {
		return nil, err
	}
	playerFP, err := e.store.SumFantasyPointsByDay(c.GameDay)
	if err != nil {
		return nil, err
	}

	// Total shares entered per player across the whole contest.
	totalShares := make(map[int64]int64)
	for _, slots := range lineups {
		for _, slot := range slots {
			totalShares[slot.PlayerID] += slot.SharesEntered
		}
	}

	for _, entry := range entries {
		score := decimal.Zero
		for _, slot := range lineups[entry.ID] {
			fp := playerFP[slot.PlayerID]
			slot.FantasyPoints = fp
			denom := totalShares[slot.PlayerID]
			if denom <= 0 || fp.IsZero() {
				slot.EarnedScore = decimal.Zero
				continue
			}
			slot.EarnedScore = fp.
				Mul(decimal.NewFromInt(slot.SharesEntered)).
				DivRound(decimal.NewFromInt(denom), 4)
			score = score.Add(slot.EarnedScore)
		}
		entry.TotalScore = score
	}

	// Entries come back ordered by stored score; re-rank on the fresh
	// scores with ties broken by earliest creation.
	sortEntriesByScore(entries)
	for i, entry := range entries {
		entry.Rank.Int64 = int64(i + 1)
		entry.Rank.Valid = true
	}

	if err := e.store.SaveContestScores(entries, lineups); err != nil {
		return nil, err
	}
	return entries, nil
}

func sortEntriesByScore(entries []*store.ContestEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			a, b := entries[j-1], entries[j]
			if b.TotalScore.GreaterThan(a.TotalScore) ||
				(b.TotalScore.Equal(a.TotalScore) && b.CreatedAt.Before(a.CreatedAt)) {
				entries[j-1], entries[j] = entries[j], entries[j-1]
			} else {
				break
			}
		}
	}
}

// Settle finishes a live contest once its end time has passed and every
// game of the day is final: final scoring, then top half of entries split
// the prize pool evenly. Integer division leaves the sub-cent remainder in
// the house; the pool is never exceeded. Settling twice is a no-op.
func (e *Engine) Settle(contestID string, now time.Time) (bool, error) {
	c, err := e.store.GetContest(contestID)
	if err != nil {
		return false, err
	}
	if c.Status == store.ContestCompleted {
		return false, nil
	}
	if c.Status != store.ContestLive || now.Before(c.EndsAt) {
		return false, ErrNotSettleable
	}
	done, err := e.store.AllGamesCompleted(c.GameDay)
	if err != nil {
		return false, err
	}
	if !done {
		return false, ErrNotSettleable
	}

	entries, err := e.Score(contestID)
	if err != nil {
		return false, err
	}

	payouts := make(map[string]int64)
	if len(entries) > 0 && c.TotalPrizePool > 0 {
		winners := (len(entries) + 1) / 2
		perWinner := c.TotalPrizePool / int64(winners)
		for _, entry := range entries[:winners] {
			payouts[entry.ID] = perWinner
		}
	}

	settled, err := e.store.SettleContestPayouts(contestID, payouts)
	if err != nil {
		return false, err
	}
	if settled {
		e.log.WithFields(logrus.Fields{
			"contest": contestID,
			"entries": len(entries),
			"pool":    c.TotalPrizePool,
		}).Info("contest settled")
	}
	return settled, nil
}

// statLine is the subset of a box score the formula reads.
type statLine struct {
	pts, threes, reb, ast, stl, blk, tov int64
}

// FantasyPoints computes the per-game fantasy score for one stat line.
// Double-double and triple-double bonuses do not stack.
func FantasyPoints(st *store.PlayerGameStat) decimal.Decimal {
	return fantasyPoints(statLine{
		pts:    st.Points,
		threes: st.ThreePointersMade,
		reb:    st.Rebounds,
		ast:    st.Assists,
		stl:    st.Steals,
		blk:    st.Blocks,
		tov:    st.Turnovers,
	})
}

func fantasyPoints(st statLine) decimal.Decimal {
	score := decimal.Zero.
		Add(decimal.NewFromInt(st.pts)).
		Add(decimal.NewFromInt(st.threes).Mul(decimal.NewFromFloat(0.5))).
		Add(decimal.NewFromInt(st.reb).Mul(decimal.NewFromFloat(1.25))).
		Add(decimal.NewFromInt(st.ast).Mul(decimal.NewFromFloat(1.5))).
		Add(decimal.NewFromInt(st.stl).Mul(decimal.NewFromInt(2))).
		Add(decimal.NewFromInt(st.blk).Mul(decimal.NewFromInt(2))).
		Sub(decimal.NewFromInt(st.tov).Mul(decimal.NewFromFloat(0.5)))

	doubles := 0
	for _, v := range []int64{st.pts, st.reb, st.ast, st.stl, st.blk} {
		if v >= 10 {
			doubles++
		}
	}
	switch {
	case doubles >= 3:
		score = score.Add(decimal.NewFromInt(3))
	case doubles == 2:
		score = score.Add(decimal.NewFromFloat(1.5))
	}
	return score
}
