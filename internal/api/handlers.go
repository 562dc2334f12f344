package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"sportfolio/internal/contest"
	"sportfolio/internal/exchange"
	"sportfolio/internal/gameday"
	"sportfolio/internal/store"
)

// validationErrors are surfaced as 400s with their message; anything else
// is a 500.
var validationErrors = []error{
	exchange.ErrInvalidOrder,
	exchange.ErrPlayerInactive,
	exchange.ErrNoLiquidity,
	store.ErrInsufficientFunds,
	store.ErrInsufficientShares,
	store.ErrContestNotOpen,
	store.ErrEmptyLineup,
	store.ErrDuplicateEntry,
	store.ErrInvalidSharesQty,
	contest.ErrContestClosed,
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrPlayerNotFound),
		errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, store.ErrContestNotFound),
		errors.Is(err, store.ErrEntryNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, exchange.ErrNotYourOrder),
		errors.Is(err, contest.ErrNotYourEntry):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	s.serverError(w, err)
}

// GET /api/dashboard
// Public payload carries market activity; authenticated users also get
// their balance, holdings, and accrual state.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.RecentTrades(20)
	if err != nil {
		s.serverError(w, err)
		return
	}
	movers, err := s.store.ListPlayers(store.PlayerFilter{SortBy: "volume", SortDesc: true, Limit: 10})
	if err != nil {
		s.serverError(w, err)
		return
	}
	openContests, err := s.store.ListContestsByStatus(store.ContestOpen)
	if err != nil {
		s.serverError(w, err)
		return
	}

	resp := map[string]any{
		"recentTrades": trades,
		"topMovers":    movers,
		"openContests": openContests,
	}

	if user := s.currentUser(r); user != nil {
		holdings, err := s.store.GetUserHoldingsWithPlayers(user.ID)
		if err != nil {
			s.serverError(w, err)
			return
		}
		available, err := s.store.AvailableBalance(user.ID)
		if err != nil {
			s.serverError(w, err)
			return
		}
		acc, splits, err := s.accrual.Status(user.ID, time.Now())
		if err != nil {
			s.serverError(w, err)
			return
		}
		resp["user"] = viewOf(user)
		resp["availableBalance"] = available
		resp["holdings"] = holdings
		resp["accrual"] = map[string]any{
			"sharesAccumulated": acc.SharesAccumulated,
			"splits":            splits,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/players
func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.PlayerFilter{
		Search:             q.Get("search"),
		Team:               q.Get("team"),
		Position:           q.Get("position"),
		HasBuyOrders:       q.Get("hasBuyOrders") == "true",
		HasSellOrders:      q.Get("hasSellOrders") == "true",
		TeamsPlayingOnDate: q.Get("teamsPlayingOnDate"),
		SortBy:             q.Get("sortBy"),
		SortDesc:           q.Get("sortOrder") != "asc",
		Limit:              queryInt(q.Get("limit"), 50),
		Offset:             queryInt(q.Get("offset"), 0),
	}

	players, err := s.store.ListPlayers(f)
	if err != nil {
		s.serverError(w, err)
		return
	}

	ids := make([]int64, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	books, err := s.store.GetBatchOrderBooks(ids, 1)
	if err != nil {
		s.serverError(w, err)
		return
	}

	type playerRow struct {
		*store.Player
		BestBid *store.BookLevel `json:"bestBid,omitempty"`
		BestAsk *store.BookLevel `json:"bestAsk,omitempty"`
	}
	rows := make([]playerRow, len(players))
	for i, p := range players {
		rows[i] = playerRow{Player: p}
		if b := books[p.ID]; b != nil {
			if len(b.Bids) > 0 {
				rows[i].BestBid = &b.Bids[0]
			}
			if len(b.Asks) > 0 {
				rows[i].BestAsk = &b.Asks[0]
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": rows})
}

// GET /api/player/{id}
func (s *Server) handlePlayerDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid player id", http.StatusBadRequest)
		return
	}

	player, err := s.store.GetPlayer(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	book, err := s.store.GetOrderBook(id, 10)
	if err != nil {
		s.serverError(w, err)
		return
	}
	trades, err := s.store.RecentTradesForPlayer(id, 20)
	if err != nil {
		s.serverError(w, err)
		return
	}
	recentFP, err := s.store.RecentFantasyPoints(id, 10)
	if err != nil {
		s.serverError(w, err)
		return
	}

	resp := map[string]any{
		"player":        player,
		"orderBook":     book,
		"recentTrades":  trades,
		"fantasyPoints": recentFP,
	}
	if user := s.currentUser(r); user != nil {
		holding, err := s.store.GetHolding(user.ID, id)
		if err != nil {
			s.serverError(w, err)
			return
		}
		available, err := s.store.AvailableBalance(user.ID)
		if err != nil {
			s.serverError(w, err)
			return
		}
		availableShares, err := s.store.AvailableShares(user.ID, id)
		if err != nil {
			s.serverError(w, err)
			return
		}
		resp["holding"] = holding
		resp["availableBalance"] = available
		resp["availableShares"] = availableShares
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/trades
func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.RecentTrades(queryInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

type orderRequest struct {
	OrderType  string `json:"orderType"` // "limit" or "market"
	Side       string `json:"side"`      // "buy" or "sell"
	Quantity   int64  `json:"quantity"`
	LimitPrice int64  `json:"limitPrice"` // cents, limit orders only
}

// POST /api/orders/{playerId}
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	playerID, err := strconv.ParseInt(chi.URLParam(r, "playerId"), 10, 64)
	if err != nil {
		http.Error(w, "invalid player id", http.StatusBadRequest)
		return
	}
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch req.OrderType {
	case store.TypeLimit:
		order, trades, err := s.exchange.PlaceLimitOrder(user.ID, playerID, req.Side, req.Quantity, req.LimitPrice)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order, "trades": trades})
	case store.TypeMarket:
		result, err := s.exchange.PlaceMarketOrder(user.ID, playerID, req.Side, req.Quantity)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		http.Error(w, "orderType must be 'limit' or 'market'", http.StatusBadRequest)
	}
}

// POST /api/orders/{orderId}/cancel
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	order, err := s.exchange.CancelOrder(user.ID, chi.URLParam(r, "orderId"))
	if err != nil {
		if errors.Is(err, store.ErrOrderNotOpen) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// GET /api/orders
func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	orders, err := s.store.ListUserOpenOrders(user.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// GET /api/account
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	available, err := s.store.AvailableBalance(user.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":             viewOf(user),
		"availableBalance": available,
	})
}

// GET /api/portfolio
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	holdings, err := s.store.GetUserHoldingsWithPlayers(user.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	history, err := s.store.GetUserSnapshots(user.ID, 30)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"holdings": holdings,
		"history":  history,
	})
}

// GET /api/vesting
func (s *Server) handleVestingStatus(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	acc, splits, err := s.accrual.Status(user.ID, time.Now())
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accrual": acc, "splits": splits})
}

// POST /api/vesting/start
func (s *Server) handleVestingStart(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	var req struct {
		PlayerIDs []int64 `json:"playerIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	splits, err := s.accrual.SetSplits(user.ID, req.PlayerIDs, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrPlayerNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"splits": splits})
}

// POST /api/vesting/claim
func (s *Server) handleVestingClaim(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	dist, err := s.accrual.Claim(user.ID, time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.hub.PortfolioChanged(user.ID, user.Balance)
	writeJSON(w, http.StatusOK, map[string]any{"claimed": dist})
}

type lineupRequest struct {
	Lineup []contest.LineupPick `json:"lineup"`
}

// POST /api/contest/{id}/enter
func (s *Server) handleContestEnter(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	contestID := chi.URLParam(r, "id")
	var req lineupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := s.contests.Enter(contestID, user.ID, req.Lineup)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.hub.ContestUpdated(contestID)
	writeJSON(w, http.StatusOK, map[string]any{"entry": entry})
}

// PUT /api/contest/{contestId}/entry/{entryId}
func (s *Server) handleContestEdit(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	contestID := chi.URLParam(r, "contestId")
	entryID := chi.URLParam(r, "entryId")
	var req lineupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := s.contests.EditLineup(contestID, entryID, user.ID, req.Lineup)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.hub.ContestUpdated(contestID)
	writeJSON(w, http.StatusOK, map[string]any{"entry": entry})
}

// GET /api/contest/{id}/leaderboard
func (s *Server) handleContestLeaderboard(w http.ResponseWriter, r *http.Request) {
	contestID := chi.URLParam(r, "id")
	c, err := s.store.GetContest(contestID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	entries, err := s.store.ListContestEntries(contestID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contest": c, "entries": entries})
}

// GET /api/leaderboards?category=netWorth
func (s *Server) handleLeaderboards(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		category = "netWorth"
	}
	rows, err := s.store.Leaderboard(category, queryInt(r.URL.Query().Get("limit"), 25))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"entries":  rows,
		"asOf":     gameday.Today(),
	})
}

func queryInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
