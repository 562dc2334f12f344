package ingest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportfolio/internal/config"
	"sportfolio/internal/store"
)

func newTestService(t *testing.T, handler http.Handler) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	client := NewClient(config.Config{SportsBaseURL: server.URL, SportsAPIKey: "test-key"}, log)
	return NewService(st, client, log), st
}

func TestSyncRoster(t *testing.T) {
	var sawAuth bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		sawAuth = ok && user == "test-key" && pass == "MYSPORTSFEEDS"
		require.Equal(t, "/players.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.Copy(w, strings.NewReader(`{
			"players": [
				{"player": {"id": 1, "firstName": "Jay", "lastName": "Guard", "primaryPosition": "PG",
					"currentRosterStatus": "ROSTER", "currentTeam": {"abbreviation": "BOS"}}},
				{"player": {"id": 2, "firstName": "Ben", "lastName": "Cut", "primaryPosition": "SF",
					"currentRosterStatus": "RETIRED"}},
				{"player": {"id": 0, "firstName": "Bad", "lastName": "Row"}}
			]
		}`))
	})
	svc, st := newTestService(t, handler)

	res, err := svc.SyncRoster(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Processed)
	assert.Equal(t, int64(1), res.Errors, "zero-ID row skipped")
	assert.True(t, sawAuth, "basic auth sent")

	p, err := st.GetPlayer(1)
	require.NoError(t, err)
	assert.Equal(t, "Jay Guard", p.Name())
	assert.Equal(t, "BOS", p.Team)
	assert.True(t, p.IsActive)
	assert.True(t, p.IsEligibleForAccrual)

	p, err = st.GetPlayer(2)
	require.NoError(t, err)
	assert.False(t, p.IsActive, "non-roster status deactivates")
	assert.Empty(t, p.Team)
}

func TestSyncGamelogsComputesFantasyPoints(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/date/20260115/player_gamelogs.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.Copy(w, strings.NewReader(`{
			"gamelogs": [
				{"game": {"id": 10}, "player": {"id": 1},
				 "stats": {"offense": {"pts": 20, "ast": 4}, "defense": {"stl": 1, "blk": 0, "tov": 3},
					"rebounds": {"reb": 5}, "fieldGoals": {"fg3PtMade": 2}, "freeThrows": {"ftMade": 4}}},
				{"game": {"id": 0}, "player": {"id": 2}, "stats": {}}
			]
		}`))
	})
	svc, st := newTestService(t, handler)

	// Referenced rows exist ahead of the stat upsert.
	require.NoError(t, st.UpsertPlayer(&store.Player{
		ID: 1, FirstName: "Jay", LastName: "Guard", Team: "BOS", Position: "PG", IsActive: true,
	}))
	require.NoError(t, st.UpsertGame(&store.Game{
		ID: 10, GameDay: "2026-01-15", HomeTeam: "BOS", AwayTeam: "NYK", Status: store.GameCompleted,
	}))

	res, err := svc.SyncGamelogs(context.Background(), "2026-01-15", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Processed)
	assert.Equal(t, int64(1), res.Errors, "zero game ID skipped")

	// 20 + 2*0.5 + 5*1.25 + 4*1.5 + 1*2 - 3*0.5 = 33.75
	fp, err := st.SumFantasyPointsByDay("2026-01-15")
	require.NoError(t, err)
	assert.True(t, fp[1].Equal(decimal.RequireFromString("33.75")), "got %s", fp[1])
}

func TestSyncLiveStatsSkipsWhenNoGameRunning(t *testing.T) {
	var called bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`{"gamelogs": []}`))
	})
	svc, _ := newTestService(t, handler)

	res, err := svc.SyncLiveStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.False(t, called, "no provider call without a live game")
}
