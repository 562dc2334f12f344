package contest

import (
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportfolio/internal/store"
)

const testGameDay = "2026-01-15"

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(st, log), st
}

func seedUser(t *testing.T, st *store.Store, username string) *store.User {
	t.Helper()
	u, err := st.CreateUser(username, "password123")
	require.NoError(t, err)
	return u
}

func seedPlayer(t *testing.T, st *store.Store, id int64) {
	t.Helper()
	require.NoError(t, st.UpsertPlayer(&store.Player{
		ID: id, FirstName: "P", LastName: fmt.Sprintf("%d", id), Team: "BOS", Position: "PG",
		IsActive: true, IsEligibleForAccrual: true,
	}))
}

func grantShares(t *testing.T, st *store.Store, userID string, playerID, qty int64) {
	t.Helper()
	_, err := st.GetOrCreateAccrual(userID, time.Now())
	require.NoError(t, err)
	require.NoError(t, st.ClaimAccrual(userID, map[int64]int64{playerID: qty}, time.Now()))
}

func seedContest(t *testing.T, st *store.Store, entryFee int64) *store.Contest {
	t.Helper()
	c := &store.Contest{
		ID:       "c-" + testGameDay,
		GameDay:  testGameDay,
		StartsAt: time.Now().Add(-2 * time.Hour),
		EndsAt:   time.Now().Add(-time.Hour),
		EntryFee: entryFee,
	}
	require.NoError(t, st.CreateContest(c))
	got, err := st.GetContest(c.ID)
	require.NoError(t, err)
	return got
}

func seedCompletedGame(t *testing.T, st *store.Store, gameID int64) {
	t.Helper()
	require.NoError(t, st.UpsertGame(&store.Game{
		ID: gameID, GameDay: testGameDay, StartsAt: time.Now().Add(-3 * time.Hour),
		HomeTeam: "BOS", AwayTeam: "NYK", Status: store.GameCompleted,
	}))
}

func recordStat(t *testing.T, st *store.Store, playerID, gameID int64, fp string) {
	t.Helper()
	d, err := decimal.NewFromString(fp)
	require.NoError(t, err)
	require.NoError(t, st.UpsertPlayerGameStat(&store.PlayerGameStat{
		PlayerID: playerID, GameID: gameID, GameDay: testGameDay, FantasyPoints: d,
	}))
}

// Entry burns the lineup's shares and debits the fee into the prize pool.
func TestEnterBurnsSharesAndChargesFee(t *testing.T) {
	e, st := newTestEngine(t)
	c := seedContest(t, st, 100)
	u := seedUser(t, st, "alice")
	seedPlayer(t, st, 1)
	grantShares(t, st, u.ID, 1, 50)

	entry, err := e.Enter(c.ID, u.ID, []LineupPick{{PlayerID: 1, Shares: 30}})
	require.NoError(t, err)
	assert.Equal(t, int64(30), entry.TotalSharesEntered)

	h, err := st.GetHolding(u.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.Quantity)

	user, err := st.GetUserByID(u.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StartingBalance-100, user.Balance)

	c2, err := st.GetContest(c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c2.EntryCount)
	assert.Equal(t, int64(100), c2.TotalPrizePool)
	assert.Equal(t, int64(30), c2.TotalSharesEntered)

	// One entry per user per contest.
	_, err = e.Enter(c.ID, u.ID, []LineupPick{{PlayerID: 1, Shares: 5}})
	assert.ErrorIs(t, err, store.ErrDuplicateEntry)
}

func TestEnterValidation(t *testing.T) {
	e, st := newTestEngine(t)
	c := seedContest(t, st, 100)
	u := seedUser(t, st, "alice")
	seedPlayer(t, st, 1)

	_, err := e.Enter(c.ID, u.ID, nil)
	assert.ErrorIs(t, err, store.ErrEmptyLineup)

	_, err = e.Enter(c.ID, u.ID, []LineupPick{{PlayerID: 1, Shares: 5}})
	assert.ErrorIs(t, err, store.ErrInsufficientShares)

	ok, err := st.AdvanceContestStatus(c.ID, store.ContestOpen, store.ContestLive)
	require.NoError(t, err)
	require.True(t, ok)
	grantShares(t, st, u.ID, 1, 10)
	_, err = e.Enter(c.ID, u.ID, []LineupPick{{PlayerID: 1, Shares: 5}})
	assert.ErrorIs(t, err, store.ErrContestNotOpen)
}

// Two entries split a player's 50 fantasy points 30/70 by shares entered.
func TestScoreSharesPointsProportionally(t *testing.T) {
	e, st := newTestEngine(t)
	c := seedContest(t, st, 0)
	u1 := seedUser(t, st, "alice")
	u2 := seedUser(t, st, "bob")
	seedPlayer(t, st, 1)
	seedCompletedGame(t, st, 10)
	grantShares(t, st, u1.ID, 1, 30)
	grantShares(t, st, u2.ID, 1, 70)

	_, err := e.Enter(c.ID, u1.ID, []LineupPick{{PlayerID: 1, Shares: 30}})
	require.NoError(t, err)
	_, err = e.Enter(c.ID, u2.ID, []LineupPick{{PlayerID: 1, Shares: 70}})
	require.NoError(t, err)

	recordStat(t, st, 1, 10, "50")

	entries, err := e.Score(c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Ranked by score: bob's 70% share wins.
	assert.Equal(t, u2.ID, entries[0].UserID)
	assert.True(t, entries[0].TotalScore.Equal(decimal.NewFromInt(35)), "got %s", entries[0].TotalScore)
	assert.Equal(t, u1.ID, entries[1].UserID)
	assert.True(t, entries[1].TotalScore.Equal(decimal.NewFromInt(15)), "got %s", entries[1].TotalScore)
	assert.Equal(t, int64(1), entries[0].Rank.Int64)
	assert.Equal(t, int64(2), entries[1].Rank.Int64)
}

// Five entries, $5.00 pool: the top three each take floor(500/3) cents and
// the 2-cent remainder stays in the house. A second settle changes nothing.
func TestSettleTopHalfAndIdempotence(t *testing.T) {
	e, st := newTestEngine(t)
	c := seedContest(t, st, 100)
	seedCompletedGame(t, st, 10)

	fps := []string{"100", "80", "60", "40", "20"}
	users := make([]*store.User, len(fps))
	for i, fp := range fps {
		playerID := int64(i + 1)
		seedPlayer(t, st, playerID)
		users[i] = seedUser(t, st, fmt.Sprintf("user%d", i))
		grantShares(t, st, users[i].ID, playerID, 10)
		_, err := e.Enter(c.ID, users[i].ID, []LineupPick{{PlayerID: playerID, Shares: 10}})
		require.NoError(t, err)
		recordStat(t, st, playerID, 10, fp)
	}

	ok, err := st.AdvanceContestStatus(c.ID, store.ContestOpen, store.ContestLive)
	require.NoError(t, err)
	require.True(t, ok)

	settled, err := e.Settle(c.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, settled)

	entries, err := st.ListContestEntries(c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, entry := range entries {
		if i < 3 {
			assert.Equal(t, int64(166), entry.Payout, "rank %d", i+1)
		} else {
			assert.Equal(t, int64(0), entry.Payout, "rank %d", i+1)
		}
	}

	// Winners got fee back plus winnings; losers are out the fee.
	winner, err := st.GetUserByID(users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.StartingBalance-100+166, winner.Balance)
	loser, err := st.GetUserByID(users[4].ID)
	require.NoError(t, err)
	assert.Equal(t, store.StartingBalance-100, loser.Balance)

	settled, err = e.Settle(c.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, settled, "already completed")

	again, err := st.GetUserByID(users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, winner.Balance, again.Balance, "no double payout")
}

func TestSettleRequiresEndAndFinalGames(t *testing.T) {
	e, st := newTestEngine(t)
	c := seedContest(t, st, 0)

	// Still open: not settleable.
	_, err := e.Settle(c.ID, time.Now())
	assert.ErrorIs(t, err, ErrNotSettleable)

	ok, err := st.AdvanceContestStatus(c.ID, store.ContestOpen, store.ContestLive)
	require.NoError(t, err)
	require.True(t, ok)

	// Before the end time.
	_, err = e.Settle(c.ID, c.EndsAt.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrNotSettleable)

	// A game still in progress blocks settlement.
	require.NoError(t, st.UpsertGame(&store.Game{
		ID: 10, GameDay: testGameDay, StartsAt: time.Now().Add(-3 * time.Hour),
		HomeTeam: "BOS", AwayTeam: "NYK", Status: store.GameInProgress,
	}))
	_, err = e.Settle(c.ID, time.Now())
	assert.ErrorIs(t, err, ErrNotSettleable)

	require.NoError(t, st.UpsertGame(&store.Game{
		ID: 10, GameDay: testGameDay, StartsAt: time.Now().Add(-3 * time.Hour),
		HomeTeam: "BOS", AwayTeam: "NYK", Status: store.GameCompleted,
	}))
	settled, err := e.Settle(c.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, settled)
}

func TestActivateDue(t *testing.T) {
	e, st := newTestEngine(t)
	c := seedContest(t, st, 0)

	n, err := e.ActivateDue(c.StartsAt.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = e.ActivateDue(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetContest(c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ContestLive, got.Status)
}

// Editing adjusts holdings by the per-player diff; an identical lineup is
// a no-op for both holdings and contest aggregates.
func TestEditLineup(t *testing.T) {
	e, st := newTestEngine(t)
	c := seedContest(t, st, 0)
	u := seedUser(t, st, "alice")
	other := seedUser(t, st, "bob")
	seedPlayer(t, st, 1)
	seedPlayer(t, st, 2)
	grantShares(t, st, u.ID, 1, 40)
	grantShares(t, st, u.ID, 2, 40)

	entry, err := e.Enter(c.ID, u.ID, []LineupPick{{PlayerID: 1, Shares: 30}})
	require.NoError(t, err)

	_, err = e.EditLineup(c.ID, entry.ID, other.ID, []LineupPick{{PlayerID: 1, Shares: 30}})
	assert.ErrorIs(t, err, ErrNotYourEntry)

	// Identical edit: nothing moves.
	_, err = e.EditLineup(c.ID, entry.ID, u.ID, []LineupPick{{PlayerID: 1, Shares: 30}})
	require.NoError(t, err)
	h, err := st.GetHolding(u.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), h.Quantity)

	// Swap players: p1 shares come back, p2 shares burn.
	updated, err := e.EditLineup(c.ID, entry.ID, u.ID, []LineupPick{{PlayerID: 2, Shares: 20}})
	require.NoError(t, err)
	assert.Equal(t, int64(20), updated.TotalSharesEntered)

	h, err = st.GetHolding(u.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(40), h.Quantity)
	h, err = st.GetHolding(u.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.Quantity)

	c2, err := st.GetContest(c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), c2.TotalSharesEntered)
	assert.Equal(t, int64(1), c2.EntryCount)

	// Edits close with the contest.
	_, err = st.AdvanceContestStatus(c.ID, store.ContestOpen, store.ContestLive)
	require.NoError(t, err)
	_, err = e.EditLineup(c.ID, entry.ID, u.ID, []LineupPick{{PlayerID: 2, Shares: 20}})
	assert.ErrorIs(t, err, ErrContestClosed)
}

func TestFantasyPointsFormula(t *testing.T) {
	cases := []struct {
		name string
		line statLine
		want string
	}{
		{
			name: "basic line",
			line: statLine{pts: 20, threes: 2, reb: 5, ast: 4, stl: 1, tov: 3},
			want: "33.75", // 20 + 1 + 6.25 + 6 + 2 - 1.5
		},
		{
			name: "double double bonus",
			line: statLine{pts: 20, reb: 12},
			want: "36.5", // 20 + 15 + 1.5
		},
		{
			name: "triple double bonus does not stack",
			line: statLine{pts: 10, reb: 10, ast: 10},
			want: "40.5", // 10 + 12.5 + 15 + 3
		},
		{
			name: "turnovers can push negative",
			line: statLine{tov: 4},
			want: "-2",
		},
		{
			name: "scoreless",
			line: statLine{},
			want: "0",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			want, err := decimal.NewFromString(tc.want)
			require.NoError(t, err)
			got := fantasyPoints(tc.line)
			assert.True(t, got.Equal(want), "got %s want %s", got, want)
		})
	}
}
