package store

import (
	"database/sql"
	"errors"
	"time"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderNotOpen  = errors.New("order is not open")
)

// Order sides, types, and statuses. Terminal statuses are monotonic: an
// order never leaves filled or cancelled.
const (
	SideBuy  = "buy"
	SideSell = "sell"

	TypeLimit  = "limit"
	TypeMarket = "market"

	StatusOpen      = "open"
	StatusPartial   = "partial"
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
)

// Order is a persisted order-book entry.
type Order struct {
	ID             string
	UserID         string
	PlayerID       int64
	Side           string
	OrderType      string
	Quantity       int64
	FilledQuantity int64
	LimitPrice     sql.NullInt64 // cents; set for limit orders
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (o *Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

func (o *Order) IsTerminal() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled
}

const orderColumns = `id, user_id, player_id, side, order_type, quantity, filled_quantity, limit_price, status, created_at, updated_at`

func scanOrder(scan func(dest ...any) error) (*Order, error) {
	o := &Order{}
	err := scan(&o.ID, &o.UserID, &o.PlayerID, &o.Side, &o.OrderType, &o.Quantity,
		&o.FilledQuantity, &o.LimitPrice, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// InsertOrder persists a new order and its reservation in one transaction:
// cash at qty x lockPrice for buys, shares for sells. lockPrice for market
// buys is the worst-ask upper bound.
func (s *Store) InsertOrder(o *Order, lockPrice int64) error {
	now := time.Now().UTC()
	o.Status = StatusOpen
	o.CreatedAt = now
	o.UpdatedAt = now

	return s.withTx(func(tx *sql.Tx) error {
		if o.Side == SideBuy {
			if err := reserveCashTx(tx, o.UserID, RefOrder, o.ID, o.Quantity*lockPrice); err != nil {
				return err
			}
		} else {
			if err := reserveSharesTx(tx, o.UserID, o.PlayerID, RefOrder, o.ID, o.Quantity); err != nil {
				return err
			}
		}
		_, err := tx.Exec(
			"INSERT INTO orders ("+orderColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			o.ID, o.UserID, o.PlayerID, o.Side, o.OrderType, o.Quantity,
			o.FilledQuantity, o.LimitPrice, o.Status, o.CreatedAt, o.UpdatedAt,
		)
		return err
	})
}

// GetOrder retrieves an order by ID.
func (s *Store) GetOrder(id string) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow("SELECT "+orderColumns+" FROM orders WHERE id = ?", id).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// bookOrder returns the priority ordering clause for one side of a book.
// Price-time priority; exact timestamp ties break on order ID.
func bookOrder(side string) string {
	if side == SideBuy {
		return "ORDER BY limit_price DESC, created_at ASC, id ASC"
	}
	return "ORDER BY limit_price ASC, created_at ASC, id ASC"
}

// BestRestingOrder returns the top-priority open limit order on a side, or
// nil when the side is empty.
func (s *Store) BestRestingOrder(playerID int64, side string) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow(
		"SELECT "+orderColumns+" FROM orders WHERE player_id = ? AND side = ? AND order_type = 'limit' AND status IN ('open','partial') AND limit_price > 0 "+bookOrder(side)+" LIMIT 1",
		playerID, side,
	).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// RestingDepth sums unfilled quantity on one side and reports the worst
// resting price (highest ask / lowest bid). Used by market-order pre-checks.
func (s *Store) RestingDepth(playerID int64, side string) (depth int64, worstPrice int64, err error) {
	worst := "MAX(limit_price)"
	if side == SideBuy {
		worst = "MIN(limit_price)"
	}
	err = s.db.QueryRow(
		"SELECT COALESCE(SUM(quantity - filled_quantity), 0), COALESCE("+worst+", 0) FROM orders WHERE player_id = ? AND side = ? AND order_type = 'limit' AND status IN ('open','partial') AND limit_price > 0",
		playerID, side,
	).Scan(&depth, &worstPrice)
	return depth, worstPrice, err
}

// ListUserOpenOrders returns a user's open and partial orders, newest first.
func (s *Store) ListUserOpenOrders(userID string) ([]*Order, error) {
	return s.queryOrders(
		"SELECT "+orderColumns+" FROM orders WHERE user_id = ? AND status IN ('open','partial') ORDER BY created_at DESC",
		userID,
	)
}

// ListUserOpenOrdersOlderThan returns a user's resting orders created before
// the cutoff. Market-making bots use this to refresh stale quotes.
func (s *Store) ListUserOpenOrdersOlderThan(userID string, cutoff time.Time) ([]*Order, error) {
	return s.queryOrders(
		"SELECT "+orderColumns+" FROM orders WHERE user_id = ? AND status IN ('open','partial') AND created_at < ?",
		userID, cutoff.UTC(),
	)
}

// PlayersWithOpenOrders returns the distinct set of player IDs that have at
// least one resting order. Its complement is the cold-player set.
func (s *Store) PlayersWithOpenOrders() (map[int64]bool, error) {
	rows, err := s.db.Query("SELECT DISTINCT player_id FROM orders WHERE status IN ('open','partial')")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result[id] = true
	}
	return result, rows.Err()
}

func (s *Store) queryOrders(query string, args ...any) ([]*Order, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CancelOrder moves an open or partial order to cancelled and releases its
// remaining reservation, all in one transaction.
func (s *Store) CancelOrder(orderID string) (*Order, error) {
	var cancelled *Order
	err := s.withTx(func(tx *sql.Tx) error {
		o, err := scanOrder(tx.QueryRow("SELECT "+orderColumns+" FROM orders WHERE id = ?", orderID).Scan)
		if err == sql.ErrNoRows {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if o.IsTerminal() {
			return ErrOrderNotOpen
		}

		if _, err := tx.Exec(
			"UPDATE orders SET status = ?, updated_at = ? WHERE id = ?",
			StatusCancelled, time.Now().UTC(), orderID,
		); err != nil {
			return err
		}
		if o.Side == SideBuy {
			if err := adjustLockAmountTx(tx, RefOrder, orderID, 0); err != nil {
				return err
			}
		} else {
			if err := adjustLockQuantityTx(tx, RefOrder, orderID, 0); err != nil {
				return err
			}
		}
		o.Status = StatusCancelled
		cancelled = o
		return nil
	})
	return cancelled, err
}

// CancelResidual finalizes a market order whose book ran out: the filled
// portion stays settled, the rest is cancelled and the reservation released.
// Status always reflects "no more work".
func (s *Store) CancelResidual(orderID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		o, err := scanOrder(tx.QueryRow("SELECT "+orderColumns+" FROM orders WHERE id = ?", orderID).Scan)
		if err != nil {
			return err
		}
		if o.IsTerminal() {
			return nil
		}
		if _, err := tx.Exec(
			"UPDATE orders SET status = ?, updated_at = ? WHERE id = ?",
			StatusCancelled, time.Now().UTC(), orderID,
		); err != nil {
			return err
		}
		if o.Side == SideBuy {
			return adjustLockAmountTx(tx, RefOrder, orderID, 0)
		}
		return adjustLockQuantityTx(tx, RefOrder, orderID, 0)
	})
}

// BookLevel is one aggregated price level of an order book.
type BookLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// BookSnapshot is the display view of a single player's book.
type BookSnapshot struct {
	PlayerID int64       `json:"playerId"`
	Bids     []BookLevel `json:"bids"`
	Asks     []BookLevel `json:"asks"`
}

// GetOrderBook aggregates the resting book for one player, best levels
// first, at most depth levels per side.
func (s *Store) GetOrderBook(playerID int64, depth int) (*BookSnapshot, error) {
	books, err := s.GetBatchOrderBooks([]int64{playerID}, depth)
	if err != nil {
		return nil, err
	}
	if b, ok := books[playerID]; ok {
		return b, nil
	}
	return &BookSnapshot{PlayerID: playerID}, nil
}

// GetBatchOrderBooks fetches books for many players in one query.
func (s *Store) GetBatchOrderBooks(playerIDs []int64, depth int) (map[int64]*BookSnapshot, error) {
	result := make(map[int64]*BookSnapshot, len(playerIDs))
	if len(playerIDs) == 0 {
		return result, nil
	}
	for _, id := range playerIDs {
		result[id] = &BookSnapshot{PlayerID: id}
	}
	if depth <= 0 {
		depth = 10
	}

	rows, err := s.db.Query(
		`SELECT player_id, side, limit_price, SUM(quantity - filled_quantity)
		 FROM orders
		 WHERE player_id IN (`+placeholders(len(playerIDs))+`)
		   AND order_type = 'limit' AND status IN ('open','partial') AND limit_price > 0
		 GROUP BY player_id, side, limit_price
		 ORDER BY player_id, side, limit_price`,
		int64Args(playerIDs)...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var playerID, price, qty int64
		var side string
		if err := rows.Scan(&playerID, &side, &price, &qty); err != nil {
			return nil, err
		}
		book := result[playerID]
		if side == SideBuy {
			book.Bids = append(book.Bids, BookLevel{Price: price, Quantity: qty})
		} else {
			book.Asks = append(book.Asks, BookLevel{Price: price, Quantity: qty})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Bids come back ascending; best bid is the highest price.
	for _, book := range result {
		reverseLevels(book.Bids)
		if len(book.Bids) > depth {
			book.Bids = book.Bids[:depth]
		}
		if len(book.Asks) > depth {
			book.Asks = book.Asks[:depth]
		}
	}
	return result, nil
}

func reverseLevels(levels []BookLevel) {
	for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
		levels[i], levels[j] = levels[j], levels[i]
	}
}
