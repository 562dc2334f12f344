package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trade is an executed fill, append-only.
type Trade struct {
	ID          string    `json:"id"`
	BuyerID     string    `json:"buyerId"`
	SellerID    string    `json:"sellerId"`
	PlayerID    int64     `json:"playerId"`
	BuyOrderID  string    `json:"buyOrderId"`
	SellOrderID string    `json:"sellOrderId"`
	Quantity    int64     `json:"quantity"`
	Price       int64     `json:"price"` // cents
	ExecutedAt  time.Time `json:"executedAt"`
}

// Fill describes one match between a buy and a sell order.
type Fill struct {
	BuyOrder  *Order
	SellOrder *Order
	Quantity  int64
	Price     int64 // cents, the resting order's limit price
	// BuyLockPrice is the per-share price backing the buyer's cash lock
	// (the buy order's limit price, or the worst-ask bound for market buys).
	BuyLockPrice int64
}

// ExecuteFill settles a single fill atomically: order quantities and
// statuses, cash and share movement, buyer cost basis, residual locks, and
// the player's last trade price and rolling volume all commit together or
// not at all.
func (s *Store) ExecuteFill(f Fill) (*Trade, error) {
	if f.Quantity <= 0 || f.Price <= 0 {
		return nil, fmt.Errorf("invalid fill: qty=%d price=%d", f.Quantity, f.Price)
	}

	trade := &Trade{
		ID:          uuid.New().String(),
		BuyerID:     f.BuyOrder.UserID,
		SellerID:    f.SellOrder.UserID,
		PlayerID:    f.BuyOrder.PlayerID,
		BuyOrderID:  f.BuyOrder.ID,
		SellOrderID: f.SellOrder.ID,
		Quantity:    f.Quantity,
		Price:       f.Price,
		ExecutedAt:  time.Now().UTC(),
	}
	cost := f.Quantity * f.Price

	err := s.withTx(func(tx *sql.Tx) error {
		// Advance both orders.
		if err := advanceOrderTx(tx, f.BuyOrder, f.Quantity); err != nil {
			return err
		}
		if err := advanceOrderTx(tx, f.SellOrder, f.Quantity); err != nil {
			return err
		}

		// Move cash: buyer pays, seller receives.
		if _, err := tx.Exec("UPDATE users SET balance = balance - ? WHERE id = ?", cost, trade.BuyerID); err != nil {
			return fmt.Errorf("debit buyer: %w", err)
		}
		if _, err := tx.Exec("UPDATE users SET balance = balance + ? WHERE id = ?", cost, trade.SellerID); err != nil {
			return fmt.Errorf("credit seller: %w", err)
		}

		// Move shares: seller's cost basis per share is untouched; the
		// buyer's average recomputes against the new total cost.
		if err := debitSharesTx(tx, trade.SellerID, trade.PlayerID, f.Quantity); err != nil {
			return fmt.Errorf("debit seller shares: %w", err)
		}
		if err := creditSharesTx(tx, trade.BuyerID, trade.PlayerID, f.Quantity, cost); err != nil {
			return fmt.Errorf("credit buyer shares: %w", err)
		}

		// Decrement residual reservations on both orders.
		if err := adjustLockAmountTx(tx, RefOrder, f.BuyOrder.ID, f.BuyOrder.Remaining()*f.BuyLockPrice); err != nil {
			return err
		}
		if err := adjustLockQuantityTx(tx, RefOrder, f.SellOrder.ID, f.SellOrder.Remaining()); err != nil {
			return err
		}

		// Mark the asset.
		if _, err := tx.Exec(
			"UPDATE players SET last_trade_price = ?, volume_24h = volume_24h + ?, updated_at = ? WHERE id = ?",
			f.Price, f.Quantity, trade.ExecutedAt, trade.PlayerID,
		); err != nil {
			return err
		}

		_, err := tx.Exec(
			"INSERT INTO trades (id, buyer_id, seller_id, player_id, buy_order_id, sell_order_id, quantity, price, executed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			trade.ID, trade.BuyerID, trade.SellerID, trade.PlayerID,
			trade.BuyOrderID, trade.SellOrderID, trade.Quantity, trade.Price, trade.ExecutedAt,
		)
		return err
	})
	if err != nil {
		// Roll back the in-memory order mutations too; the caller's loop
		// re-reads or stops on error.
		f.BuyOrder.FilledQuantity -= f.Quantity
		f.SellOrder.FilledQuantity -= f.Quantity
		return nil, err
	}
	return trade, nil
}

// advanceOrderTx applies fill quantity to an order and derives its status.
// Mutates the in-memory order to keep the caller's matching loop current.
func advanceOrderTx(tx *sql.Tx, o *Order, qty int64) error {
	o.FilledQuantity += qty
	if o.FilledQuantity > o.Quantity {
		return fmt.Errorf("overfill on order %s", o.ID)
	}
	status := StatusPartial
	if o.FilledQuantity == o.Quantity {
		status = StatusFilled
	}
	o.Status = status
	_, err := tx.Exec(
		"UPDATE orders SET filled_quantity = ?, status = ?, updated_at = ? WHERE id = ?",
		o.FilledQuantity, status, time.Now().UTC(), o.ID,
	)
	return err
}

// RecentTradesForPlayer returns the latest trades for a player page.
func (s *Store) RecentTradesForPlayer(playerID int64, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryTrades(
		"SELECT id, buyer_id, seller_id, player_id, buy_order_id, sell_order_id, quantity, price, executed_at FROM trades WHERE player_id = ? ORDER BY executed_at DESC, id DESC LIMIT ?",
		playerID, limit,
	)
}

// RecentTrades returns the latest trades market-wide.
func (s *Store) RecentTrades(limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryTrades(
		"SELECT id, buyer_id, seller_id, player_id, buy_order_id, sell_order_id, quantity, price, executed_at FROM trades ORDER BY executed_at DESC, id DESC LIMIT ?",
		limit,
	)
}

// CountUserTrades counts a user's executed trades on either side, used by
// the leaderboard's marketOrders category.
func (s *Store) CountUserTrades(userID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM trades WHERE buyer_id = ? OR seller_id = ?", userID, userID,
	).Scan(&n)
	return n, err
}

func (s *Store) queryTrades(query string, args ...any) ([]*Trade, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t := &Trade{}
		if err := rows.Scan(&t.ID, &t.BuyerID, &t.SellerID, &t.PlayerID,
			&t.BuyOrderID, &t.SellOrderID, &t.Quantity, &t.Price, &t.ExecutedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
