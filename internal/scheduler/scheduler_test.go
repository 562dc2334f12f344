package scheduler

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportfolio/internal/gameday"
	"sportfolio/internal/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(st, log), st
}

func lastRun(t *testing.T, st *store.Store, name string) *store.JobLog {
	t.Helper()
	logs, err := st.RecentJobLogs(10)
	require.NoError(t, err)
	for _, jl := range logs {
		if jl.JobName == name {
			return jl
		}
	}
	t.Fatalf("no run logged for %s", name)
	return nil
}

func TestUntilNextDaily(t *testing.T) {
	loc := gameday.Location()

	// 10:00 ET waiting for 10:30 ET.
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, loc)
	assert.Equal(t, 30*time.Minute, untilNextDaily(now, "10:30"))

	// Already past today's slot: waits for tomorrow's.
	assert.Equal(t, 23*time.Hour, untilNextDaily(now, "09:00"))

	// Exactly on the slot rolls to the next day, never a zero wait.
	assert.Equal(t, 24*time.Hour, untilNextDaily(now, "10:00"))

	// The input can be in any zone; the slot is anchored in ET.
	utc := time.Date(2026, 1, 15, 15, 0, 0, 0, time.UTC) // 10:00 ET
	assert.Equal(t, 30*time.Minute, untilNextDaily(utc, "10:30"))
}

func TestTriggerNowRecordsOutcome(t *testing.T) {
	s, st := newTestScheduler(t)
	s.Add(Job{
		Name:  "ok",
		Every: time.Hour,
		Run: func(ctx context.Context) (int64, int64, error) {
			return 7, 0, nil
		},
	})
	s.Add(Job{
		Name:  "degraded",
		Every: time.Hour,
		Run: func(ctx context.Context) (int64, int64, error) {
			return 5, 2, nil
		},
	})
	s.Add(Job{
		Name:  "failing",
		Every: time.Hour,
		Run: func(ctx context.Context) (int64, int64, error) {
			return 0, 0, errors.New("provider down")
		},
	})
	s.Add(Job{
		Name:  "panics",
		Every: time.Hour,
		Run: func(ctx context.Context) (int64, int64, error) {
			panic("boom")
		},
	})

	ctx := context.Background()
	for _, name := range []string{"ok", "degraded", "failing", "panics"} {
		require.NoError(t, s.TriggerNow(ctx, name))
	}

	run := lastRun(t, st, "ok")
	assert.Equal(t, store.JobSuccess, run.Status)
	assert.Equal(t, int64(7), run.RecordsProcessed)
	assert.True(t, run.FinishedAt.Valid)

	run = lastRun(t, st, "degraded")
	assert.Equal(t, store.JobDegraded, run.Status)
	assert.Equal(t, int64(2), run.ErrorCount)

	run = lastRun(t, st, "failing")
	assert.Equal(t, store.JobFailed, run.Status)
	assert.Equal(t, "provider down", run.Message)

	run = lastRun(t, st, "panics")
	assert.Equal(t, store.JobFailed, run.Status)
	assert.Contains(t, run.Message, "panic")

	assert.Error(t, s.TriggerNow(ctx, "nope"))
}

func TestJobRunReceivesTimeout(t *testing.T) {
	s, _ := newTestScheduler(t)
	var deadline bool
	s.Add(Job{
		Name:    "bounded",
		Every:   time.Hour,
		Timeout: 50 * time.Millisecond,
		Run: func(ctx context.Context) (int64, int64, error) {
			_, deadline = ctx.Deadline()
			return 0, 0, nil
		},
	})
	require.NoError(t, s.TriggerNow(context.Background(), "bounded"))
	assert.True(t, deadline, "job context carries the configured timeout")
}

func TestJobNames(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.Add(Job{Name: "a", Every: time.Hour, Run: func(ctx context.Context) (int64, int64, error) { return 0, 0, nil }})
	s.Add(Job{Name: "b", DailyAt: "05:00", Run: func(ctx context.Context) (int64, int64, error) { return 0, 0, nil }})
	assert.Equal(t, []string{"a", "b"}, s.JobNames())
}
