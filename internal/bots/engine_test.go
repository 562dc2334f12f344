package bots

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportfolio/internal/accrual"
	"sportfolio/internal/contest"
	"sportfolio/internal/exchange"
	"sportfolio/internal/store"
)

func newTestFleet(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	ex := exchange.New(st, log, nil)
	ac := accrual.New(st, log)
	ce := contest.New(st, log)
	return New(st, ex, ac, ce, log), st
}

func TestSeedFleetIsIdempotent(t *testing.T) {
	_, st := newTestFleet(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	created, err := SeedFleet(st, 3, log)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	profiles, err := st.ListActiveBotProfiles()
	require.NoError(t, err)
	assert.Len(t, profiles, 3)

	for _, p := range profiles {
		u, err := st.GetUserByID(p.UserID)
		require.NoError(t, err)
		assert.True(t, u.IsBot)
		assert.Equal(t, int64(botBankroll), u.Balance)
		assert.GreaterOrEqual(t, p.Aggressiveness, 0.2)
		assert.LessOrEqual(t, p.Aggressiveness, 0.9)
		assert.Greater(t, p.MaxOrderSize, p.MinOrderSize)
	}

	// Reseeding only fills gaps.
	created, err = SeedFleet(st, 3, log)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	created, err = SeedFleet(st, 5, log)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
}

// A tick over an empty market runs every bot without placing orders or
// erroring, and records the action so cooldowns start counting.
func TestRunTickEmptyMarket(t *testing.T) {
	e, st := newTestFleet(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	_, err := SeedFleet(st, 2, log)
	require.NoError(t, err)

	res, err := e.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.BotsRun)
	assert.Equal(t, int64(0), res.OrdersPlaced)
	assert.Equal(t, int64(0), res.Errors)

	profiles, err := st.ListActiveBotProfiles()
	require.NoError(t, err)
	for _, p := range profiles {
		assert.True(t, p.LastActionAt.Valid, "tick recorded for %s", p.UserID)
	}
}

func TestGetBotStatsAggregates(t *testing.T) {
	_, st := newTestFleet(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	_, err := SeedFleet(st, 2, log)
	require.NoError(t, err)
	profiles, err := st.ListActiveBotProfiles()
	require.NoError(t, err)

	require.NoError(t, st.TouchBotAction(profiles[0].UserID, 3, 40, 1))
	require.NoError(t, st.TouchBotAction(profiles[1].UserID, 2, 10, 0))

	stats, err := st.GetBotStats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.ActiveBots)
	assert.Equal(t, int64(5), stats.OrdersToday)
	assert.Equal(t, int64(50), stats.VolumeToday)
	assert.Equal(t, int64(1), stats.ContestEntries)
}
