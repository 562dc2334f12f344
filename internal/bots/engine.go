// Package bots runs the automated market-maker fleet. Each bot is a
// regular user with a BotProfile; every tick it accrues, makes markets,
// takes mispriced quotes, and enters contests, within daily limits.
package bots

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sportfolio/internal/accrual"
	"sportfolio/internal/contest"
	"sportfolio/internal/exchange"
	"sportfolio/internal/gameday"
	"sportfolio/internal/store"
)

const (
	strategyTimeout = 30 * time.Second
	staleQuoteAge   = 15 * time.Minute

	// Contest lineup limits.
	maxLineupPlayers   = 7
	maxPerTeam         = 4
	maxSharesPerPlayer = 200
	holdingsFraction   = 0.6
	minLineupShares    = 10
	maxContestEntries  = 10

	// Share of market-making candidates drawn from players with no open
	// orders, to bootstrap books.
	coldPlayerShare = 0.7

	reselectChance = 0.10
)

// Engine drives all active bots for one tick.
type Engine struct {
	store    *store.Store
	exchange *exchange.Engine
	accrual  *accrual.Engine
	contests *contest.Engine
	log      *logrus.Logger
}

func New(st *store.Store, ex *exchange.Engine, ac *accrual.Engine, ce *contest.Engine, log *logrus.Logger) *Engine {
	return &Engine{store: st, exchange: ex, accrual: ac, contests: ce, log: log}
}

// TickResult aggregates fleet activity for job logging.
type TickResult struct {
	BotsRun        int64
	OrdersPlaced   int64
	SharesTraded   int64
	ContestEntries int64
	Errors         int64
}

// botRun is one bot's activity during a tick.
type botRun struct {
	orders  int64
	volume  int64
	entries int64
	errors  int64
}

// RunTick runs every eligible bot once. Bots run concurrently; each
// strategy runs under its own timeout so a slow pass cannot stall the
// fleet.
func (e *Engine) RunTick(ctx context.Context) (TickResult, error) {
	profiles, err := e.store.ListActiveBotProfiles()
	if err != nil {
		return TickResult{}, err
	}

	players, err := e.store.ListPlayers(store.PlayerFilter{Limit: 200})
	if err != nil {
		return TickResult{}, err
	}
	vals, err := Valuations(e.store, players)
	if err != nil {
		return TickResult{}, err
	}

	var (
		mu     sync.Mutex
		result TickResult
		wg     sync.WaitGroup
	)
	now := time.Now()
	for _, profile := range profiles {
		profile := profile
		if !e.eligible(profile, now) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			run := e.runBot(ctx, profile, players, vals)
			mu.Lock()
			result.BotsRun++
			result.OrdersPlaced += run.orders
			result.SharesTraded += run.volume
			result.ContestEntries += run.entries
			result.Errors += run.errors
			mu.Unlock()
		}()
	}
	wg.Wait()
	return result, nil
}

// eligible resets stale daily counters and applies the cooldown.
func (e *Engine) eligible(p *store.BotProfile, now time.Time) bool {
	today := gameday.UTCDay(now)
	if p.LastResetDate != today {
		if err := e.store.ResetBotCounters(p.UserID, today); err != nil {
			e.log.WithError(err).WithField("bot", p.UserID).Warn("counter reset failed")
			return false
		}
		p.OrdersToday, p.VolumeToday, p.ContestEntriesToday = 0, 0, 0
		p.LastResetDate = today
	}

	if !p.LastActionAt.Valid {
		return true
	}
	cooldown := p.MinActionCooldownMs
	if spread := p.MaxActionCooldownMs - p.MinActionCooldownMs; spread > 0 {
		cooldown += rand.Int63n(spread)
	}
	return now.Sub(p.LastActionAt.Time) >= time.Duration(cooldown)*time.Millisecond
}

func (e *Engine) runBot(ctx context.Context, p *store.BotProfile, players []*store.Player, vals map[int64]*Valuation) botRun {
	var run botRun
	strategies := []struct {
		name string
		fn   func(ctx context.Context, p *store.BotProfile, players []*store.Player, vals map[int64]*Valuation, run *botRun)
	}{
		{"accrue", e.strategyAccrue},
		{"make", e.strategyMake},
		{"take", e.strategyTake},
		{"contests", e.strategyContests},
	}
	for _, st := range strategies {
		sctx, cancel := context.WithTimeout(ctx, strategyTimeout)
		func() {
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					e.log.WithFields(logrus.Fields{"bot": p.UserID, "strategy": st.name, "panic": r}).Error("bot strategy panicked")
					run.errors++
				}
			}()
			st.fn(sctx, p, players, vals, &run)
		}()
		if ctx.Err() != nil {
			break
		}
	}

	if err := e.store.TouchBotAction(p.UserID, run.orders, run.volume, run.entries); err != nil {
		e.log.WithError(err).WithField("bot", p.UserID).Warn("bot action record failed")
		run.errors++
	}
	return run
}

// strategyAccrue keeps the bot's splits alive and claims earned shares.
// Occasionally the split set is reselected across tiers so fleet inventory
// stays diversified.
func (e *Engine) strategyAccrue(ctx context.Context, p *store.BotProfile, players []*store.Player, vals map[int64]*Valuation, run *botRun) {
	now := time.Now()
	splits, err := e.store.GetAccrualSplits(p.UserID)
	if err != nil {
		run.errors++
		return
	}

	if len(splits) == 0 || rand.Float64() < reselectChance {
		picks := pickAcrossTiers(players, vals, 1+rand.Intn(accrual.MaxSplits))
		if len(picks) > 0 {
			if _, err := e.accrual.SetSplits(p.UserID, picks, now); err != nil {
				run.errors++
				return
			}
		}
	}

	if _, err := e.accrual.Claim(p.UserID, now); err != nil &&
		err != accrual.ErrNothingToDo && err != accrual.ErrNoSplits {
		run.errors++
	}
}

// pickAcrossTiers selects n distinct players, cycling tier 1 through 5 so
// selections span the value spectrum.
func pickAcrossTiers(players []*store.Player, vals map[int64]*Valuation, n int) []int64 {
	byTier := make(map[int][]int64)
	for _, p := range players {
		if v, ok := vals[p.ID]; ok {
			byTier[v.Tier] = append(byTier[v.Tier], p.ID)
		}
	}
	for _, ids := range byTier {
		rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}

	var picks []int64
	for len(picks) < n {
		advanced := false
		for tier := 1; tier <= 5 && len(picks) < n; tier++ {
			if ids := byTier[tier]; len(ids) > 0 {
				picks = append(picks, ids[0])
				byTier[tier] = ids[1:]
				advanced = true
			}
		}
		if !advanced {
			break
		}
	}
	return picks
}

// strategyMake refreshes the bot's quotes: stale orders are cancelled,
// then two-sided limit orders are placed around each candidate's base
// price. A slice of placements deliberately cross the book to print
// trades.
func (e *Engine) strategyMake(ctx context.Context, p *store.BotProfile, players []*store.Player, vals map[int64]*Valuation, run *botRun) {
	stale, err := e.store.ListUserOpenOrdersOlderThan(p.UserID, time.Now().Add(-staleQuoteAge))
	if err != nil {
		run.errors++
		return
	}
	for _, o := range stale {
		if _, err := e.exchange.CancelOrder(p.UserID, o.ID); err != nil && err != store.ErrOrderNotOpen {
			run.errors++
		}
	}

	candidates := e.pickCandidates(players, 1+int(p.Aggressiveness*6))
	for _, player := range candidates {
		if ctx.Err() != nil {
			return
		}
		if p.OrdersToday+run.orders+2 > p.MaxDailyOrders {
			return
		}

		v := vals[player.ID]
		if v == nil {
			continue
		}
		base := v.FairValue
		if player.LastTradePrice.Valid && player.LastTradePrice.Int64 > 0 {
			base = player.LastTradePrice.Int64
		}
		half := base * int64(dynamicSpread(p.SpreadPercent, v.Tier, player.Volume24h)*100) / 20000
		if half < 1 {
			half = 1
		}

		qty := p.MinOrderSize
		if span := p.MaxOrderSize - p.MinOrderSize; span > 0 {
			qty += int64(p.Aggressiveness * float64(rand.Int63n(span+1)))
		}
		if qty <= 0 || p.VolumeToday+run.volume+2*qty > p.MaxDailyVolume {
			continue
		}

		bid, ask := base-half, base+half
		if crossChance := 0.2 + 0.2*p.Aggressiveness; rand.Float64() < crossChance {
			// Price through the touch so the order fills immediately.
			if best, err := e.store.BestRestingOrder(player.ID, store.SideSell); err == nil && best != nil {
				bid = best.LimitPrice.Int64
			}
			if best, err := e.store.BestRestingOrder(player.ID, store.SideBuy); err == nil && best != nil {
				ask = best.LimitPrice.Int64
			}
		}
		if bid <= 0 {
			bid = 1
		}

		if _, _, err := e.exchange.PlaceLimitOrder(p.UserID, player.ID, store.SideBuy, qty, bid); err == nil {
			run.orders++
			run.volume += qty
		} else if err != store.ErrInsufficientFunds {
			run.errors++
		}

		available, err := e.store.AvailableShares(p.UserID, player.ID)
		if err != nil {
			run.errors++
			continue
		}
		if available < qty {
			continue
		}
		if _, _, err := e.exchange.PlaceLimitOrder(p.UserID, player.ID, store.SideSell, qty, ask); err == nil {
			run.orders++
			run.volume += qty
		} else if err != store.ErrInsufficientShares {
			run.errors++
		}
	}
}

// dynamicSpread widens the configured spread for thin or low-tier names
// and tightens it where volume is real.
func dynamicSpread(spreadPercent float64, tier int, volume24h int64) float64 {
	spread := spreadPercent * (1 + 0.15*float64(tier-1))
	spread /= 1 + float64(volume24h)/500
	if spread < 0.5 {
		spread = 0.5
	}
	return spread
}

// pickCandidates prefers cold players so every book eventually has
// quotes.
func (e *Engine) pickCandidates(players []*store.Player, n int) []*store.Player {
	withOrders, err := e.store.PlayersWithOpenOrders()
	if err != nil {
		withOrders = map[int64]bool{}
	}
	var cold, warm []*store.Player
	for _, p := range players {
		if withOrders[p.ID] {
			warm = append(warm, p)
		} else {
			cold = append(cold, p)
		}
	}
	rand.Shuffle(len(cold), func(i, j int) { cold[i], cold[j] = cold[j], cold[i] })
	rand.Shuffle(len(warm), func(i, j int) { warm[i], warm[j] = warm[j], warm[i] })

	coldN := int(float64(n) * coldPlayerShare)
	if coldN > len(cold) {
		coldN = len(cold)
	}
	picks := append([]*store.Player{}, cold[:coldN]...)
	for _, p := range warm {
		if len(picks) >= n {
			break
		}
		picks = append(picks, p)
	}
	return picks
}

// strategyTake lifts asks priced at or below fair value and hits bids
// priced at or above it, using market orders so fills settle through the
// normal trade path.
func (e *Engine) strategyTake(ctx context.Context, p *store.BotProfile, players []*store.Player, vals map[int64]*Valuation, run *botRun) {
	candidates := e.pickCandidates(players, 1+int(p.Aggressiveness*4))
	for _, player := range candidates {
		if ctx.Err() != nil {
			return
		}
		v := vals[player.ID]
		if v == nil {
			continue
		}
		threshold := int64(float64(v.FairValue) * p.SpreadPercent / 200)

		qty := p.MinOrderSize
		if qty <= 0 {
			qty = 1
		}
		if p.OrdersToday+run.orders+1 > p.MaxDailyOrders ||
			p.VolumeToday+run.volume+qty > p.MaxDailyVolume {
			return
		}

		if ask, err := e.store.BestRestingOrder(player.ID, store.SideSell); err == nil && ask != nil &&
			ask.UserID != p.UserID && ask.LimitPrice.Int64 <= v.FairValue+threshold {
			if res, err := e.exchange.PlaceMarketOrder(p.UserID, player.ID, store.SideBuy, qty); err == nil {
				run.orders++
				run.volume += res.FilledQuantity
			}
			continue
		}

		if bid, err := e.store.BestRestingOrder(player.ID, store.SideBuy); err == nil && bid != nil &&
			bid.UserID != p.UserID && bid.LimitPrice.Int64 >= v.FairValue-threshold {
			available, err := e.store.AvailableShares(p.UserID, player.ID)
			if err != nil || available < qty {
				continue
			}
			if res, err := e.exchange.PlaceMarketOrder(p.UserID, player.ID, store.SideSell, qty); err == nil {
				run.orders++
				run.volume += res.FilledQuantity
			}
		}
	}
}

// strategyContests enters open contests with a lineup built greedily from
// the bot's best-tier holdings.
func (e *Engine) strategyContests(ctx context.Context, p *store.BotProfile, players []*store.Player, vals map[int64]*Valuation, run *botRun) {
	if rand.Float64() >= p.Aggressiveness {
		return
	}
	if p.ContestEntriesToday+run.entries >= p.MaxContestEntriesPerDay {
		return
	}

	open, err := e.store.ListContestsByStatus(store.ContestOpen)
	if err != nil {
		run.errors++
		return
	}
	for _, c := range open {
		if ctx.Err() != nil {
			return
		}
		if c.EntryCount >= maxContestEntries || c.EntryFee > p.ContestEntryBudget {
			continue
		}
		existing, err := e.store.GetUserContestEntry(c.ID, p.UserID)
		if err != nil || existing != nil {
			continue
		}

		picks := e.buildLineup(p.UserID, vals)
		if len(picks) == 0 {
			continue
		}
		if _, err := e.contests.Enter(c.ID, p.UserID, picks); err != nil {
			run.errors++
			continue
		}
		run.entries++
		return // one entry per tick
	}
}

// buildLineup greedily allocates the bot's holdings best tier first,
// respecting the per-player, per-team, and lineup-size caps.
func (e *Engine) buildLineup(userID string, vals map[int64]*Valuation) []contest.LineupPick {
	holdings, err := e.store.GetUserHoldingsWithPlayers(userID)
	if err != nil {
		return nil
	}

	// Best tier first, larger positions breaking ties.
	sortHoldingsByTier(holdings, vals)

	var picks []contest.LineupPick
	var total int64
	teamCount := make(map[string]int)
	for _, h := range holdings {
		if len(picks) >= maxLineupPlayers {
			break
		}
		if teamCount[h.Player.Team] >= maxPerTeam {
			continue
		}
		available, err := e.store.AvailableShares(userID, h.Player.ID)
		if err != nil || available <= 0 {
			continue
		}
		shares := int64(float64(available) * holdingsFraction)
		if shares > maxSharesPerPlayer {
			shares = maxSharesPerPlayer
		}
		if shares <= 0 {
			continue
		}
		picks = append(picks, contest.LineupPick{PlayerID: h.Player.ID, Shares: shares})
		total += shares
		teamCount[h.Player.Team]++
	}
	if total < minLineupShares {
		return nil
	}
	return picks
}

func sortHoldingsByTier(holdings []*store.HoldingWithPlayer, vals map[int64]*Valuation) {
	tier := func(playerID int64) int {
		if v, ok := vals[playerID]; ok {
			return v.Tier
		}
		return 5
	}
	for i := 1; i < len(holdings); i++ {
		for j := i; j > 0; j-- {
			a, b := holdings[j-1], holdings[j]
			if tier(b.Player.ID) < tier(a.Player.ID) ||
				(tier(b.Player.ID) == tier(a.Player.ID) && b.Holding.Quantity > a.Holding.Quantity) {
				holdings[j-1], holdings[j] = holdings[j], holdings[j-1]
			} else {
				break
			}
		}
	}
}
