package exchange

import (
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

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(st, log, nil), st
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
		ID: id, FirstName: "Test", LastName: "Player", Team: "BOS", Position: "PG",
		IsActive: true, IsEligibleForAccrual: true,
	}))
}

func grantShares(t *testing.T, st *store.Store, userID string, playerID, qty int64) {
	t.Helper()
	_, err := st.GetOrCreateAccrual(userID, time.Now())
	require.NoError(t, err)
	require.NoError(t, st.ClaimAccrual(userID, map[int64]int64{playerID: qty}, time.Now()))
}

func available(t *testing.T, st *store.Store, userID string) int64 {
	t.Helper()
	v, err := st.AvailableBalance(userID)
	require.NoError(t, err)
	return v
}

func balance(t *testing.T, st *store.Store, userID string) int64 {
	t.Helper()
	u, err := st.GetUserByID(userID)
	require.NoError(t, err)
	return u.Balance
}

func holding(t *testing.T, st *store.Store, userID string, playerID int64) *store.Holding {
	t.Helper()
	h, err := st.GetHolding(userID, playerID)
	require.NoError(t, err)
	return h
}

// Two limit orders crossing exactly: 10 shares at $5.00. Buyer pays $50,
// seller receives $50, cost basis lands at $5.0000 per share, the book is
// empty and every lock is released.
func TestLimitOrdersCrossExactly(t *testing.T) {
	e, st := newTestEngine(t)
	buyer := seedUser(t, st, "buyer")
	seller := seedUser(t, st, "seller")
	seedPlayer(t, st, 1)
	grantShares(t, st, seller.ID, 1, 10)

	buyOrder, trades, err := e.PlaceLimitOrder(buyer.ID, 1, store.SideBuy, 10, 500)
	require.NoError(t, err)
	assert.Empty(t, trades, "no opposite liquidity yet")
	assert.Equal(t, store.StatusOpen, buyOrder.Status)

	sellOrder, trades, err := e.PlaceLimitOrder(seller.ID, 1, store.SideSell, 10, 500)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(10), trades[0].Quantity)
	assert.Equal(t, int64(500), trades[0].Price)
	assert.Equal(t, store.StatusFilled, sellOrder.Status)

	assert.Equal(t, int64(5000), balance(t, st, buyer.ID))
	assert.Equal(t, int64(15000), balance(t, st, seller.ID))

	bh := holding(t, st, buyer.ID, 1)
	assert.Equal(t, int64(10), bh.Quantity)
	assert.True(t, bh.AvgCostBasis.Equal(decimal.NewFromInt(5)), "got %s", bh.AvgCostBasis)
	assert.Equal(t, int64(0), holding(t, st, seller.ID, 1).Quantity)

	// Both reservations are gone; available equals balance.
	assert.Equal(t, int64(5000), available(t, st, buyer.ID))
	shares, err := st.AvailableShares(seller.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), shares)

	// The buy order reached filled through the resting side.
	final, err := st.GetOrder(buyOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFilled, final.Status)

	p, err := st.GetPlayer(1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.LastTradePrice.Int64)
	assert.Equal(t, int64(10), p.Volume24h)
}

// A resting buy for 10 takes a market sell of 6: the buy goes partial, its
// cash lock shrinks to the unfilled remainder, and cancelling releases it.
func TestPartialFillShrinksLockAndCancelReleases(t *testing.T) {
	e, st := newTestEngine(t)
	buyer := seedUser(t, st, "buyer")
	seller := seedUser(t, st, "seller")
	seedPlayer(t, st, 1)
	grantShares(t, st, seller.ID, 1, 6)

	buyOrder, _, err := e.PlaceLimitOrder(buyer.ID, 1, store.SideBuy, 10, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), int64(store.StartingBalance)-available(t, st, buyer.ID))

	res, err := e.PlaceMarketOrder(seller.ID, 1, store.SideSell, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.FilledQuantity)
	assert.Equal(t, int64(0), res.CancelledQuantity)

	mid, err := st.GetOrder(buyOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPartial, mid.Status)
	assert.Equal(t, int64(4), mid.Remaining())

	lock, err := st.GetCashLockByReference(store.RefOrder, buyOrder.ID)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, int64(2000), lock.Amount, "4 unfilled shares at $5.00")

	cancelled, err := e.CancelOrder(buyer.ID, buyOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, cancelled.Status)

	lock, err = st.GetCashLockByReference(store.RefOrder, buyOrder.ID)
	require.NoError(t, err)
	assert.Nil(t, lock)

	// Paid $30 for 6 shares; the rest of the balance is free again.
	assert.Equal(t, int64(7000), balance(t, st, buyer.ID))
	assert.Equal(t, int64(7000), available(t, st, buyer.ID))
	assert.Equal(t, int64(13000), balance(t, st, seller.ID))
}

// A market buy for 10 against 5 resting shares fills what exists and
// cancels the rest. VWAP over 2@$4.00 + 3@$5.00 is $4.60.
func TestMarketBuyWalksBookAndCancelsResidual(t *testing.T) {
	e, st := newTestEngine(t)
	buyer := seedUser(t, st, "buyer")
	seller := seedUser(t, st, "seller")
	seedPlayer(t, st, 1)
	grantShares(t, st, seller.ID, 1, 5)

	_, _, err := e.PlaceLimitOrder(seller.ID, 1, store.SideSell, 2, 400)
	require.NoError(t, err)
	_, _, err = e.PlaceLimitOrder(seller.ID, 1, store.SideSell, 3, 500)
	require.NoError(t, err)

	res, err := e.PlaceMarketOrder(buyer.ID, 1, store.SideBuy, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(10), res.RequestedQuantity)
	assert.Equal(t, int64(5), res.FilledQuantity)
	assert.Equal(t, int64(5), res.CancelledQuantity)
	assert.Equal(t, int64(2300), res.TotalCost)
	assert.True(t, res.AvgFillPrice.Equal(decimal.NewFromInt(460)), "got %s", res.AvgFillPrice)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, int64(400), res.Trades[0].Price, "cheapest ask fills first")
	assert.Equal(t, int64(500), res.Trades[1].Price)

	assert.Equal(t, store.StatusCancelled, mustOrder(t, st, res.Order.ID).Status)
	assert.Equal(t, int64(5), holding(t, st, buyer.ID, 1).Quantity)
	assert.Equal(t, int64(7700), balance(t, st, buyer.ID))
	assert.Equal(t, int64(7700), available(t, st, buyer.ID), "no lock residue")
	assert.Equal(t, int64(12300), balance(t, st, seller.ID))
}

func TestMarketOrderNoLiquidity(t *testing.T) {
	e, st := newTestEngine(t)
	buyer := seedUser(t, st, "buyer")
	seedPlayer(t, st, 1)

	_, err := e.PlaceMarketOrder(buyer.ID, 1, store.SideBuy, 5)
	assert.ErrorIs(t, err, ErrNoLiquidity)
}

func TestLimitBuyFillsBestPriceFirst(t *testing.T) {
	e, st := newTestEngine(t)
	buyer := seedUser(t, st, "buyer")
	seller := seedUser(t, st, "seller")
	seedPlayer(t, st, 1)
	grantShares(t, st, seller.ID, 1, 10)

	_, _, err := e.PlaceLimitOrder(seller.ID, 1, store.SideSell, 5, 500)
	require.NoError(t, err)
	_, _, err = e.PlaceLimitOrder(seller.ID, 1, store.SideSell, 5, 400)
	require.NoError(t, err)

	_, trades, err := e.PlaceLimitOrder(buyer.ID, 1, store.SideBuy, 10, 500)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(400), trades[0].Price)
	assert.Equal(t, int64(500), trades[1].Price)
}

// A non-crossing sell rests instead of trading at a worse price.
func TestSellAboveBestBidRests(t *testing.T) {
	e, st := newTestEngine(t)
	buyer := seedUser(t, st, "buyer")
	seller := seedUser(t, st, "seller")
	seedPlayer(t, st, 1)
	grantShares(t, st, seller.ID, 1, 10)

	_, _, err := e.PlaceLimitOrder(buyer.ID, 1, store.SideBuy, 10, 400)
	require.NoError(t, err)

	sellOrder, trades, err := e.PlaceLimitOrder(seller.ID, 1, store.SideSell, 10, 500)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, store.StatusOpen, sellOrder.Status)
}

// Buying and selling the same quantity at the same price returns both
// parties to their starting cash and share positions.
func TestRoundTripRestoresPositions(t *testing.T) {
	e, st := newTestEngine(t)
	a := seedUser(t, st, "a")
	b := seedUser(t, st, "b")
	seedPlayer(t, st, 1)
	grantShares(t, st, b.ID, 1, 10)

	_, _, err := e.PlaceLimitOrder(a.ID, 1, store.SideBuy, 10, 500)
	require.NoError(t, err)
	_, trades, err := e.PlaceLimitOrder(b.ID, 1, store.SideSell, 10, 500)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	_, _, err = e.PlaceLimitOrder(b.ID, 1, store.SideBuy, 10, 500)
	require.NoError(t, err)
	_, trades, err = e.PlaceLimitOrder(a.ID, 1, store.SideSell, 10, 500)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.Equal(t, int64(store.StartingBalance), balance(t, st, a.ID))
	assert.Equal(t, int64(store.StartingBalance), balance(t, st, b.ID))
	assert.Equal(t, int64(0), holding(t, st, a.ID, 1).Quantity)
	assert.Equal(t, int64(10), holding(t, st, b.ID, 1).Quantity)
	assert.Equal(t, int64(store.StartingBalance), available(t, st, a.ID))
	assert.Equal(t, int64(store.StartingBalance), available(t, st, b.ID))
}

func TestOrderValidation(t *testing.T) {
	e, st := newTestEngine(t)
	u := seedUser(t, st, "u")
	seedPlayer(t, st, 1)
	require.NoError(t, st.UpsertPlayer(&store.Player{
		ID: 2, FirstName: "Benched", LastName: "Guy", Team: "NYK", Position: "C", IsActive: false,
	}))

	_, _, err := e.PlaceLimitOrder(u.ID, 1, "short", 10, 500)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, _, err = e.PlaceLimitOrder(u.ID, 1, store.SideBuy, 0, 500)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, _, err = e.PlaceLimitOrder(u.ID, 1, store.SideBuy, 10, 0)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, _, err = e.PlaceLimitOrder(u.ID, 2, store.SideBuy, 10, 500)
	assert.ErrorIs(t, err, ErrPlayerInactive)

	// Buying beyond available cash fails closed before the book is touched.
	_, _, err = e.PlaceLimitOrder(u.ID, 1, store.SideBuy, 100, 500)
	assert.ErrorIs(t, err, store.ErrInsufficientFunds)

	// Selling shares you do not have is rejected the same way.
	_, _, err = e.PlaceLimitOrder(u.ID, 1, store.SideSell, 1, 500)
	assert.ErrorIs(t, err, store.ErrInsufficientShares)
}

func TestCancelOrderOwnership(t *testing.T) {
	e, st := newTestEngine(t)
	owner := seedUser(t, st, "owner")
	other := seedUser(t, st, "other")
	seedPlayer(t, st, 1)

	order, _, err := e.PlaceLimitOrder(owner.ID, 1, store.SideBuy, 5, 100)
	require.NoError(t, err)

	_, err = e.CancelOrder(other.ID, order.ID)
	assert.ErrorIs(t, err, ErrNotYourOrder)

	_, err = e.CancelOrder(owner.ID, order.ID)
	require.NoError(t, err)

	// A second cancel finds the order already terminal.
	_, err = e.CancelOrder(owner.ID, order.ID)
	assert.ErrorIs(t, err, store.ErrOrderNotOpen)
}

func mustOrder(t *testing.T, st *store.Store, id string) *store.Order {
	t.Helper()
	o, err := st.GetOrder(id)
	require.NoError(t, err)
	return o
}
