package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sportfolio/internal/store"
)

func TestProviderDate(t *testing.T) {
	assert.Equal(t, "20260115", ProviderDate("2026-01-15"))
	assert.Equal(t, "20260115", ProviderDate("20260115"))
}

func TestNormalizeGameStatus(t *testing.T) {
	cases := map[string]string{
		"final":       store.GameCompleted,
		"FINAL":       store.GameCompleted,
		"completed":   store.GameCompleted,
		"live":        store.GameInProgress,
		"inprogress":  store.GameInProgress,
		"In-Progress": store.GameInProgress,
		" final ":     store.GameCompleted,
		"scheduled":   store.GameScheduled,
		"postponed":   store.GameScheduled,
		"":            store.GameScheduled,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeGameStatus(raw), "raw %q", raw)
	}
}
