// Package accrual implements the time-based share earning engine. Each
// user accumulates whole shares from elapsed wall-clock time at a fixed
// hourly rate, split across chosen players, bounded by a daily cap.
package accrual

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"sportfolio/internal/store"
)

// Earning parameters. Premium doubles both the rate and the cap.
const (
	RateFree    = 100 // shares per hour
	RatePremium = 200
	CapFree     = 2400
	CapPremium  = 4800

	msPerHour = 3_600_000

	// MaxSplits bounds how many players one user can split across.
	MaxSplits = 10
)

var (
	ErrNoSplits      = errors.New("no accrual splits configured")
	ErrNothingToDo   = errors.New("nothing accumulated to claim")
	ErrTooManySplits = fmt.Errorf("at most %d players per split", MaxSplits)
)

// Engine advances accumulators and distributes claims.
type Engine struct {
	store *store.Store
	log   *logrus.Logger
}

func New(st *store.Store, log *logrus.Logger) *Engine {
	return &Engine{store: st, log: log}
}

// rateFor returns (rateTotal, dailyCap) for a user.
func rateFor(u *store.User) (int64, int64) {
	if u.IsPremium {
		return RatePremium, CapPremium
	}
	return RateFree, CapFree
}

// Accrue advances a user's accumulator to now and persists it. Whole
// shares accumulate at msPerShare granularity; leftover milliseconds
// carry to the next call. At the cap the residual is dropped so capped
// time is never banked.
func (e *Engine) Accrue(userID string, now time.Time) (*store.Accrual, error) {
	user, err := e.store.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	rateTotal, dailyCap := rateFor(user)

	a, err := e.store.GetOrCreateAccrual(userID, now)
	if err != nil {
		return nil, err
	}

	if a.SharesAccumulated >= dailyCap {
		a.ResidualMs = 0
		if !a.CapReachedAt.Valid {
			a.CapReachedAt.Time = now.UTC()
			a.CapReachedAt.Valid = true
		}
		a.LastAccruedAt = now.UTC()
		return a, e.store.SaveAccrual(a)
	}

	elapsedMs := now.Sub(a.LastAccruedAt).Milliseconds() + a.ResidualMs
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	msPerShare := int64(msPerHour) / rateTotal
	shares := elapsedMs / msPerShare
	a.ResidualMs = elapsedMs % msPerShare

	a.SharesAccumulated += shares
	if a.SharesAccumulated >= dailyCap {
		a.SharesAccumulated = dailyCap
		a.ResidualMs = 0
		a.CapReachedAt.Time = now.UTC()
		a.CapReachedAt.Valid = true
	}
	a.LastAccruedAt = now.UTC()
	return a, e.store.SaveAccrual(a)
}

// Claim accrues to now, then grants the accumulated shares to holdings at
// zero cost basis, distributed across the user's splits. Returns the
// per-player distribution.
func (e *Engine) Claim(userID string, now time.Time) (map[int64]int64, error) {
	a, err := e.Accrue(userID, now)
	if err != nil {
		return nil, err
	}
	if a.SharesAccumulated <= 0 {
		return nil, ErrNothingToDo
	}

	splits, err := e.store.GetAccrualSplits(userID)
	if err != nil {
		return nil, err
	}
	if len(splits) == 0 {
		return nil, ErrNoSplits
	}

	dist := distribute(a.SharesAccumulated, splits)
	if err := e.store.ClaimAccrual(userID, dist, now); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"user":   userID,
		"shares": a.SharesAccumulated,
	}).Info("accrual claimed")
	return dist, nil
}

// distribute splits total shares proportionally by sharesPerHour with
// integer floor. The remainder goes one share at a time to splits in the
// store's deterministic order (sharesPerHour desc, playerID asc).
func distribute(total int64, splits []*store.AccrualSplit) map[int64]int64 {
	var rateSum int64
	for _, sp := range splits {
		rateSum += sp.SharesPerHour
	}

	dist := make(map[int64]int64, len(splits))
	var assigned int64
	for _, sp := range splits {
		q := total * sp.SharesPerHour / rateSum
		dist[sp.PlayerID] = q
		assigned += q
	}
	for i := 0; assigned < total; i = (i + 1) % len(splits) {
		dist[splits[i].PlayerID]++
		assigned++
	}
	return dist
}

// SetSplits replaces a user's player selection. The hourly rate divides
// evenly with the first rateTotal mod N players taking one extra. Any
// accumulated balance is claimed under the old splits first so earned
// shares land where they were earned.
func (e *Engine) SetSplits(userID string, playerIDs []int64, now time.Time) ([]*store.AccrualSplit, error) {
	if len(playerIDs) == 0 {
		return nil, ErrNoSplits
	}
	if len(playerIDs) > MaxSplits {
		return nil, ErrTooManySplits
	}
	seen := make(map[int64]bool, len(playerIDs))
	for _, id := range playerIDs {
		if seen[id] {
			return nil, fmt.Errorf("duplicate player %d in split", id)
		}
		seen[id] = true
	}

	players, err := e.store.GetPlayersByIDs(playerIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range playerIDs {
		p, ok := players[id]
		if !ok {
			return nil, store.ErrPlayerNotFound
		}
		if !p.IsEligibleForAccrual {
			return nil, fmt.Errorf("player %d is not accrual eligible", id)
		}
	}

	user, err := e.store.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	rateTotal, _ := rateFor(user)

	// Flush the accumulator under the outgoing splits.
	if _, err := e.Claim(userID, now); err != nil && err != ErrNothingToDo && err != ErrNoSplits {
		return nil, err
	}

	n := int64(len(playerIDs))
	base := rateTotal / n
	extra := rateTotal % n
	splits := make([]*store.AccrualSplit, 0, len(playerIDs))
	for i, id := range playerIDs {
		perHour := base
		if int64(i) < extra {
			perHour++
		}
		splits = append(splits, &store.AccrualSplit{UserID: userID, PlayerID: id, SharesPerHour: perHour})
	}
	if err := e.store.ReplaceAccrualSplits(userID, splits); err != nil {
		return nil, err
	}
	return splits, nil
}

// Status returns the accumulator advanced to now alongside the active
// splits, for the vesting dashboard.
func (e *Engine) Status(userID string, now time.Time) (*store.Accrual, []*store.AccrualSplit, error) {
	a, err := e.Accrue(userID, now)
	if err != nil {
		return nil, nil, err
	}
	splits, err := e.store.GetAccrualSplits(userID)
	if err != nil {
		return nil, nil, err
	}
	return a, splits, nil
}
