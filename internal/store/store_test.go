package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedUser(t *testing.T, st *Store, username string) *User {
	t.Helper()
	u, err := st.CreateUser(username, "password123")
	require.NoError(t, err)
	return u
}

func seedPlayer(t *testing.T, st *Store, id int64, name string) {
	t.Helper()
	require.NoError(t, st.UpsertPlayer(&Player{
		ID:                   id,
		FirstName:            name,
		LastName:             "Test",
		Team:                 "BOS",
		Position:             "PG",
		IsActive:             true,
		IsEligibleForAccrual: true,
	}))
}

// grantShares gives a user shares at zero cost via the accrual claim path.
func grantShares(t *testing.T, st *Store, userID string, playerID, qty int64) {
	t.Helper()
	_, err := st.GetOrCreateAccrual(userID, time.Now())
	require.NoError(t, err)
	require.NoError(t, st.ClaimAccrual(userID, map[int64]int64{playerID: qty}, time.Now()))
}

func TestCreateUserStartingBalance(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st, "alice")

	assert.Equal(t, int64(StartingBalance), u.Balance)
	assert.False(t, u.IsBot)

	_, err := st.CreateUser("alice", "password123")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestAuthenticateUser(t *testing.T) {
	st := newTestStore(t)
	seedUser(t, st, "alice")

	u, err := st.AuthenticateUser("alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = st.AuthenticateUser("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	_, err = st.AuthenticateUser("nobody", "password123")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestReserveCashFailsClosed(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st, "alice")

	require.NoError(t, st.ReserveCash(u.ID, RefOrder, "o1", 6000))

	available, err := st.AvailableBalance(u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), available)

	// Second reservation beyond the free balance must be rejected.
	err = st.ReserveCash(u.ID, RefOrder, "o2", 5000)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Releasing frees the full amount; a second release is a no-op.
	require.NoError(t, st.ReleaseCashByReference(RefOrder, "o1"))
	require.NoError(t, st.ReleaseCashByReference(RefOrder, "o1"))
	available, err = st.AvailableBalance(u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(StartingBalance), available)
}

func TestReserveSharesFailsClosed(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st, "alice")
	seedPlayer(t, st, 1, "Jay")
	grantShares(t, st, u.ID, 1, 10)

	require.NoError(t, st.ReserveShares(u.ID, 1, RefOrder, "o1", 7))

	available, err := st.AvailableShares(u.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), available)

	err = st.ReserveShares(u.ID, 1, RefOrder, "o2", 4)
	assert.ErrorIs(t, err, ErrInsufficientShares)

	require.NoError(t, st.ReleaseSharesByReference(RefOrder, "o1"))
	available, err = st.AvailableShares(u.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), available)
}

func TestAdjustLockAmountDeletesAtZero(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st, "alice")

	require.NoError(t, st.ReserveCash(u.ID, RefOrder, "o1", 5000))
	require.NoError(t, st.AdjustLockAmount(RefOrder, "o1", 2000))

	lock, err := st.GetCashLockByReference(RefOrder, "o1")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, int64(2000), lock.Amount)

	require.NoError(t, st.AdjustLockAmount(RefOrder, "o1", 0))
	lock, err = st.GetCashLockByReference(RefOrder, "o1")
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestClaimedSharesHaveZeroCostBasis(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st, "alice")
	seedPlayer(t, st, 1, "Jay")

	grantShares(t, st, u.ID, 1, 10)

	h, err := st.GetHolding(u.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), h.Quantity)
	assert.True(t, h.AvgCostBasis.IsZero())
	assert.Equal(t, int64(0), h.TotalCostBasis)
}

func TestAvgCostBasis(t *testing.T) {
	// 10 shares for $50.00 total is $5.0000 per share.
	assert.Equal(t, "5", avgCostBasis(5000, 10))
	// 3 shares for $10.00 rounds to 4dp.
	assert.Equal(t, "3.3333", avgCostBasis(1000, 3))
	assert.Equal(t, "0", avgCostBasis(1000, 0))
}

func TestGetBatchOrderBooks(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st, "alice")
	seedPlayer(t, st, 1, "Jay")
	grantShares(t, st, u.ID, 1, 20)

	sell := func(id string, qty, price int64) {
		require.NoError(t, st.InsertOrder(&Order{
			ID: id, UserID: u.ID, PlayerID: 1, Side: SideSell,
			OrderType: TypeLimit, Quantity: qty, LimitPrice: nullPrice(price),
		}, price))
	}
	sell("s1", 2, 400)
	sell("s2", 3, 500)
	sell("s3", 1, 400)

	books, err := st.GetBatchOrderBooks([]int64{1, 2}, 10)
	require.NoError(t, err)

	book := books[1]
	require.Len(t, book.Asks, 2)
	assert.Equal(t, BookLevel{Price: 400, Quantity: 3}, book.Asks[0])
	assert.Equal(t, BookLevel{Price: 500, Quantity: 3}, book.Asks[1])
	assert.Empty(t, books[2].Asks)
}

func TestBestRestingOrderPriceTimePriority(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st, "alice")
	seedPlayer(t, st, 1, "Jay")
	grantShares(t, st, u.ID, 1, 30)

	require.NoError(t, st.InsertOrder(&Order{
		ID: "late-cheap", UserID: u.ID, PlayerID: 1, Side: SideSell,
		OrderType: TypeLimit, Quantity: 5, LimitPrice: nullPrice(400),
	}, 400))
	require.NoError(t, st.InsertOrder(&Order{
		ID: "early-expensive", UserID: u.ID, PlayerID: 1, Side: SideSell,
		OrderType: TypeLimit, Quantity: 5, LimitPrice: nullPrice(500),
	}, 500))

	best, err := st.BestRestingOrder(1, SideSell)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "late-cheap", best.ID, "lowest ask wins regardless of age")
}

func nullPrice(p int64) sql.NullInt64 {
	return sql.NullInt64{Int64: p, Valid: true}
}
