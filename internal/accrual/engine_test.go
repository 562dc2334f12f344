package accrual

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportfolio/internal/store"
)

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

func seedPlayers(t *testing.T, st *store.Store, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, st.UpsertPlayer(&store.Player{
			ID: id, FirstName: "P", LastName: "Test", Team: "BOS", Position: "PG",
			IsActive: true, IsEligibleForAccrual: true,
		}))
	}
}

// A free user earns 100 shares per hour, one share per 36 seconds. After
// 119 seconds: 3 whole shares and 11000ms of residual carried forward.
func TestAccrueWholeSharesWithResidual(t *testing.T) {
	e, st := newTestEngine(t)
	u := seedUser(t, st, "alice")

	start := time.Now().UTC()
	_, err := st.GetOrCreateAccrual(u.ID, start)
	require.NoError(t, err)

	a, err := e.Accrue(u.ID, start.Add(119*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(3), a.SharesAccumulated)
	assert.Equal(t, int64(11000), a.ResidualMs)
	assert.False(t, a.CapReachedAt.Valid)

	// The residual completes the 4th share 25 seconds later.
	a, err = e.Accrue(u.ID, start.Add(144*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(4), a.SharesAccumulated)
	assert.Equal(t, int64(0), a.ResidualMs)
}

func TestAccrueStopsAtDailyCap(t *testing.T) {
	e, st := newTestEngine(t)
	u := seedUser(t, st, "alice")

	start := time.Now().UTC()
	_, err := st.GetOrCreateAccrual(u.ID, start)
	require.NoError(t, err)

	// 25 hours would earn 2500 shares; the cap holds it at 2400 and drops
	// the residual so capped time is not banked.
	a, err := e.Accrue(u.ID, start.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(CapFree), a.SharesAccumulated)
	assert.Equal(t, int64(0), a.ResidualMs)
	assert.True(t, a.CapReachedAt.Valid)

	// Further accrual is a no-op until a claim clears the accumulator.
	a, err = e.Accrue(u.ID, start.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(CapFree), a.SharesAccumulated)
}

func TestPremiumDoublesRateAndCap(t *testing.T) {
	e, st := newTestEngine(t)
	u := seedUser(t, st, "alice")
	require.NoError(t, st.SetPremium(u.ID, time.Now().Add(30*24*time.Hour)))

	start := time.Now().UTC()
	_, err := st.GetOrCreateAccrual(u.ID, start)
	require.NoError(t, err)

	// 200/hour is one share per 18 seconds.
	a, err := e.Accrue(u.ID, start.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(5), a.SharesAccumulated)

	a, err = e.Accrue(u.ID, start.Add(30*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(CapPremium), a.SharesAccumulated)
}

func TestSetSplitsDividesHourlyRate(t *testing.T) {
	e, st := newTestEngine(t)
	u := seedUser(t, st, "alice")
	seedPlayers(t, st, 1, 2, 3)

	splits, err := e.SetSplits(u.ID, []int64{1, 2, 3}, time.Now())
	require.NoError(t, err)
	require.Len(t, splits, 3)

	// 100 over 3 players: the first takes the remainder share.
	var sum int64
	for _, sp := range splits {
		sum += sp.SharesPerHour
	}
	assert.Equal(t, int64(RateFree), sum)
	assert.Equal(t, int64(34), splits[0].SharesPerHour)
	assert.Equal(t, int64(33), splits[1].SharesPerHour)
	assert.Equal(t, int64(33), splits[2].SharesPerHour)
}

func TestSetSplitsValidation(t *testing.T) {
	e, st := newTestEngine(t)
	u := seedUser(t, st, "alice")
	seedPlayers(t, st, 1, 2)
	require.NoError(t, st.UpsertPlayer(&store.Player{
		ID: 3, FirstName: "Two", LastName: "Way", Team: "NYK", Position: "C",
		IsActive: true, IsEligibleForAccrual: false,
	}))

	_, err := e.SetSplits(u.ID, nil, time.Now())
	assert.ErrorIs(t, err, ErrNoSplits)

	tooMany := make([]int64, MaxSplits+1)
	for i := range tooMany {
		tooMany[i] = int64(i + 1)
	}
	_, err = e.SetSplits(u.ID, tooMany, time.Now())
	assert.ErrorIs(t, err, ErrTooManySplits)

	_, err = e.SetSplits(u.ID, []int64{1, 1}, time.Now())
	assert.Error(t, err)

	_, err = e.SetSplits(u.ID, []int64{1, 99}, time.Now())
	assert.ErrorIs(t, err, store.ErrPlayerNotFound)

	_, err = e.SetSplits(u.ID, []int64{1, 3}, time.Now())
	assert.Error(t, err, "accrual-ineligible player rejected")
}

// Claiming 10 shares over a 34/33/33 split floors each share and hands the
// remainder to the highest-rate split first.
func TestClaimDistributesProportionally(t *testing.T) {
	e, st := newTestEngine(t)
	u := seedUser(t, st, "alice")
	seedPlayers(t, st, 1, 2, 3)

	start := time.Now().UTC()
	_, err := st.GetOrCreateAccrual(u.ID, start)
	require.NoError(t, err)
	_, err = e.SetSplits(u.ID, []int64{1, 2, 3}, start)
	require.NoError(t, err)

	// 360 seconds at 100/hour is exactly 10 shares.
	dist, err := e.Claim(u.ID, start.Add(360*time.Second))
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: 4, 2: 3, 3: 3}, dist)

	h, err := st.GetHolding(u.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), h.Quantity)
	assert.True(t, h.AvgCostBasis.IsZero())

	// The accumulator and the cap marker reset on claim.
	a, err := st.GetOrCreateAccrual(u.ID, start)
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.SharesAccumulated)
	assert.False(t, a.CapReachedAt.Valid)

	_, err = e.Claim(u.ID, start.Add(360*time.Second))
	assert.ErrorIs(t, err, ErrNothingToDo)
}

func TestClaimRequiresSplits(t *testing.T) {
	e, st := newTestEngine(t)
	u := seedUser(t, st, "alice")

	start := time.Now().UTC()
	_, err := st.GetOrCreateAccrual(u.ID, start)
	require.NoError(t, err)

	_, err = e.Claim(u.ID, start.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNoSplits)
}

// Changing splits flushes the accumulated balance under the old selection
// so earned shares land on the players they were earned for.
func TestSetSplitsFlushesUnderOldSelection(t *testing.T) {
	e, st := newTestEngine(t)
	u := seedUser(t, st, "alice")
	seedPlayers(t, st, 1, 2)

	start := time.Now().UTC()
	_, err := st.GetOrCreateAccrual(u.ID, start)
	require.NoError(t, err)
	_, err = e.SetSplits(u.ID, []int64{1}, start)
	require.NoError(t, err)

	later := start.Add(time.Hour)
	_, err = e.SetSplits(u.ID, []int64{2}, later)
	require.NoError(t, err)

	h, err := st.GetHolding(u.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(RateFree), h.Quantity, "one hour of earnings claimed to the old split")

	h, err = st.GetHolding(u.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.Quantity)
}

func TestDistributeExhaustsTotal(t *testing.T) {
	splits := []*store.AccrualSplit{
		{PlayerID: 1, SharesPerHour: 50},
		{PlayerID: 2, SharesPerHour: 30},
		{PlayerID: 3, SharesPerHour: 20},
	}
	dist := distribute(7, splits)
	var sum int64
	for _, q := range dist {
		sum += q
	}
	assert.Equal(t, int64(7), sum)
	assert.Equal(t, int64(4), dist[1], "3 floored plus the first remainder share")
	assert.Equal(t, int64(2), dist[2])
	assert.Equal(t, int64(1), dist[3])
}
