package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInsufficientShares = errors.New("insufficient shares")

// Holding is a user's position in a player asset. Quantity never goes
// negative; a zero-quantity row is kept so cost history survives.
type Holding struct {
	ID             int64
	UserID         string
	PlayerID       int64
	Quantity       int64
	AvgCostBasis   decimal.Decimal // dollars, 4dp
	TotalCostBasis int64           // cents
	UpdatedAt      time.Time
}

// HoldingWithPlayer joins a holding with its player row for portfolio views.
type HoldingWithPlayer struct {
	Holding
	Player Player
}

func scanHolding(scan func(dest ...any) error) (*Holding, error) {
	h := &Holding{}
	var avg string
	err := scan(&h.ID, &h.UserID, &h.PlayerID, &h.Quantity, &avg, &h.TotalCostBasis, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	h.AvgCostBasis, err = decimal.NewFromString(avg)
	if err != nil {
		return nil, err
	}
	return h, nil
}

const holdingColumns = `id, user_id, player_id, quantity, avg_cost_basis, total_cost_basis, updated_at`

// GetHolding returns the holding for (user, player); a zero-value holding if
// none exists yet.
func (s *Store) GetHolding(userID string, playerID int64) (*Holding, error) {
	h, err := scanHolding(s.db.QueryRow(
		"SELECT "+holdingColumns+" FROM holdings WHERE user_id = ? AND player_id = ?",
		userID, playerID,
	).Scan)
	if err == sql.ErrNoRows {
		return &Holding{UserID: userID, PlayerID: playerID, AvgCostBasis: decimal.Zero}, nil
	}
	return h, err
}

// GetUserHoldings returns every holding for a user.
func (s *Store) GetUserHoldings(userID string) ([]*Holding, error) {
	rows, err := s.db.Query(
		"SELECT "+holdingColumns+" FROM holdings WHERE user_id = ? AND quantity > 0", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []*Holding
	for rows.Next() {
		h, err := scanHolding(rows.Scan)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// GetBatchHoldings fetches holdings for a user across many players at once.
func (s *Store) GetBatchHoldings(userID string, playerIDs []int64) (map[int64]*Holding, error) {
	result := make(map[int64]*Holding, len(playerIDs))
	if len(playerIDs) == 0 {
		return result, nil
	}

	args := append([]any{userID}, int64Args(playerIDs)...)
	rows, err := s.db.Query(
		"SELECT "+holdingColumns+" FROM holdings WHERE user_id = ? AND player_id IN ("+placeholders(len(playerIDs))+")",
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		h, err := scanHolding(rows.Scan)
		if err != nil {
			return nil, err
		}
		result[h.PlayerID] = h
	}
	return result, rows.Err()
}

// GetUserHoldingsWithPlayers is the portfolio read path: one join, no N+1.
func (s *Store) GetUserHoldingsWithPlayers(userID string) ([]*HoldingWithPlayer, error) {
	rows, err := s.db.Query(`
		SELECT h.id, h.user_id, h.player_id, h.quantity, h.avg_cost_basis, h.total_cost_basis, h.updated_at,
		       `+prefixColumns("p", playerColumns)+`
		FROM holdings h
		JOIN players p ON p.id = h.player_id
		WHERE h.user_id = ? AND h.quantity > 0
		ORDER BY h.quantity * COALESCE(p.last_trade_price, 0) DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*HoldingWithPlayer
	for rows.Next() {
		hp := &HoldingWithPlayer{}
		var avg string
		err := rows.Scan(
			&hp.ID, &hp.UserID, &hp.PlayerID, &hp.Quantity, &avg, &hp.TotalCostBasis, &hp.UpdatedAt,
			&hp.Player.ID, &hp.Player.FirstName, &hp.Player.LastName, &hp.Player.Team, &hp.Player.Position,
			&hp.Player.IsActive, &hp.Player.IsEligibleForAccrual, &hp.Player.LastTradePrice,
			&hp.Player.Volume24h, &hp.Player.PriceChange24h, &hp.Player.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if hp.AvgCostBasis, err = decimal.NewFromString(avg); err != nil {
			return nil, err
		}
		result = append(result, hp)
	}
	return result, rows.Err()
}

// creditSharesTx adds qty shares at the given total cost (cents) to a
// holding, creating the row on first acquisition and recomputing the average
// cost basis. Zero-cost grants (accrual claims, contest refunds) dilute the
// average against the pre-existing total cost.
func creditSharesTx(tx *sql.Tx, userID string, playerID, qty, costCents int64) error {
	var id, quantity, totalCost int64
	err := tx.QueryRow(
		"SELECT id, quantity, total_cost_basis FROM holdings WHERE user_id = ? AND player_id = ?",
		userID, playerID,
	).Scan(&id, &quantity, &totalCost)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	newQty := quantity + qty
	newTotal := totalCost + costCents
	avg := avgCostBasis(newTotal, newQty)

	if err == sql.ErrNoRows {
		_, err = tx.Exec(
			"INSERT INTO holdings (user_id, player_id, quantity, avg_cost_basis, total_cost_basis, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			userID, playerID, newQty, avg, newTotal, time.Now().UTC(),
		)
		return err
	}
	_, err = tx.Exec(
		"UPDATE holdings SET quantity = ?, avg_cost_basis = ?, total_cost_basis = ?, updated_at = ? WHERE id = ?",
		newQty, avg, newTotal, time.Now().UTC(), id,
	)
	return err
}

// debitSharesTx removes qty shares from a holding. The seller's cost basis
// per share is untouched; total cost shrinks proportionally to zero when the
// position closes.
func debitSharesTx(tx *sql.Tx, userID string, playerID, qty int64) error {
	var id, quantity, totalCost int64
	var avg string
	err := tx.QueryRow(
		"SELECT id, quantity, avg_cost_basis, total_cost_basis FROM holdings WHERE user_id = ? AND player_id = ?",
		userID, playerID,
	).Scan(&id, &quantity, &avg, &totalCost)
	if err == sql.ErrNoRows {
		return ErrInsufficientShares
	}
	if err != nil {
		return err
	}
	if quantity < qty {
		return ErrInsufficientShares
	}

	newQty := quantity - qty
	avgDec, err := decimal.NewFromString(avg)
	if err != nil {
		return err
	}
	// Keep per-share basis; total follows the remaining quantity.
	newTotal := avgDec.Mul(decimal.NewFromInt(newQty)).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if newQty == 0 {
		newTotal = 0
		avg = "0"
	}

	_, err = tx.Exec(
		"UPDATE holdings SET quantity = ?, avg_cost_basis = ?, total_cost_basis = ?, updated_at = ? WHERE id = ?",
		newQty, avg, newTotal, time.Now().UTC(), id,
	)
	return err
}

// avgCostBasis renders total cents / qty as a 4dp dollar string.
func avgCostBasis(totalCents, qty int64) string {
	if qty <= 0 {
		return "0"
	}
	return decimal.NewFromInt(totalCents).
		Div(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(qty)).
		Round(4).String()
}
