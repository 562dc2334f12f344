package store

import (
	"database/sql"
	"errors"
)

var (
	ErrInsufficientFunds = errors.New("insufficient available balance")
	ErrLockNotFound      = errors.New("lock not found")
)

// Reference types for locks. Locks are always keyed by (refType, refID) so
// cancels and settlements release exactly the reservation they created.
const (
	RefOrder   = "order"
	RefContest = "contest"
)

// BalanceLock reserves cash against a pending order or contest entry.
type BalanceLock struct {
	ID            int64
	UserID        string
	Amount        int64 // cents
	ReferenceType string
	ReferenceID   string
}

// HoldingsLock reserves shares against a pending sell order.
type HoldingsLock struct {
	ID            int64
	UserID        string
	PlayerID      int64
	Quantity      int64
	ReferenceType string
	ReferenceID   string
}

// ReserveCash creates a cash lock, failing closed when the user's available
// balance (balance minus existing locks) cannot cover the amount. The check
// and insert share one transaction.
func (s *Store) ReserveCash(userID, refType, refID string, amount int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		return reserveCashTx(tx, userID, refType, refID, amount)
	})
}

func reserveCashTx(tx *sql.Tx, userID, refType, refID string, amount int64) error {
	available, err := availableBalanceTx(tx, userID)
	if err != nil {
		return err
	}
	if available < amount {
		return ErrInsufficientFunds
	}
	_, err = tx.Exec(
		"INSERT INTO balance_locks (user_id, amount, reference_type, reference_id) VALUES (?, ?, ?, ?)",
		userID, amount, refType, refID,
	)
	return err
}

// ReserveShares creates a share lock against a holding, same fail-closed rule.
func (s *Store) ReserveShares(userID string, playerID int64, refType, refID string, qty int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		return reserveSharesTx(tx, userID, playerID, refType, refID, qty)
	})
}

func reserveSharesTx(tx *sql.Tx, userID string, playerID int64, refType, refID string, qty int64) error {
	available, err := availableSharesTx(tx, userID, playerID)
	if err != nil {
		return err
	}
	if available < qty {
		return ErrInsufficientShares
	}
	_, err = tx.Exec(
		"INSERT INTO holdings_locks (user_id, player_id, quantity, reference_type, reference_id) VALUES (?, ?, ?, ?, ?)",
		userID, playerID, qty, refType, refID,
	)
	return err
}

// AdjustLockAmount sets a cash lock to newAmount, dropping the lock when the
// residual reaches zero. Used after partial fills.
func (s *Store) AdjustLockAmount(refType, refID string, newAmount int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		return adjustLockAmountTx(tx, refType, refID, newAmount)
	})
}

func adjustLockAmountTx(tx *sql.Tx, refType, refID string, newAmount int64) error {
	if newAmount <= 0 {
		_, err := tx.Exec("DELETE FROM balance_locks WHERE reference_type = ? AND reference_id = ?", refType, refID)
		return err
	}
	res, err := tx.Exec(
		"UPDATE balance_locks SET amount = ? WHERE reference_type = ? AND reference_id = ?",
		newAmount, refType, refID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, ErrLockNotFound)
}

// AdjustLockQuantity sets a share lock to newQty, dropping it at zero.
func (s *Store) AdjustLockQuantity(refType, refID string, newQty int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		return adjustLockQuantityTx(tx, refType, refID, newQty)
	})
}

func adjustLockQuantityTx(tx *sql.Tx, refType, refID string, newQty int64) error {
	if newQty <= 0 {
		_, err := tx.Exec("DELETE FROM holdings_locks WHERE reference_type = ? AND reference_id = ?", refType, refID)
		return err
	}
	res, err := tx.Exec(
		"UPDATE holdings_locks SET quantity = ? WHERE reference_type = ? AND reference_id = ?",
		newQty, refType, refID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, ErrLockNotFound)
}

// ReleaseCashByReference drops a cash lock; releasing an absent lock is a
// no-op so cancellation paths stay idempotent.
func (s *Store) ReleaseCashByReference(refType, refID string) error {
	_, err := s.db.Exec("DELETE FROM balance_locks WHERE reference_type = ? AND reference_id = ?", refType, refID)
	return err
}

// ReleaseSharesByReference drops a share lock, idempotently.
func (s *Store) ReleaseSharesByReference(refType, refID string) error {
	_, err := s.db.Exec("DELETE FROM holdings_locks WHERE reference_type = ? AND reference_id = ?", refType, refID)
	return err
}

// AvailableBalance returns balance minus the sum of cash locks.
func (s *Store) AvailableBalance(userID string) (int64, error) {
	var available int64
	err := s.db.QueryRow(`
		SELECT u.balance - COALESCE((SELECT SUM(l.amount) FROM balance_locks l WHERE l.user_id = u.id), 0)
		FROM users u WHERE u.id = ?`, userID,
	).Scan(&available)
	if err == sql.ErrNoRows {
		return 0, ErrUserNotFound
	}
	return available, err
}

func availableBalanceTx(tx *sql.Tx, userID string) (int64, error) {
	var available int64
	err := tx.QueryRow(`
		SELECT u.balance - COALESCE((SELECT SUM(l.amount) FROM balance_locks l WHERE l.user_id = u.id), 0)
		FROM users u WHERE u.id = ?`, userID,
	).Scan(&available)
	if err == sql.ErrNoRows {
		return 0, ErrUserNotFound
	}
	return available, err
}

// AvailableShares returns holding quantity minus the sum of share locks.
func (s *Store) AvailableShares(userID string, playerID int64) (int64, error) {
	var available int64
	err := s.db.QueryRow(`
		SELECT COALESCE((SELECT h.quantity FROM holdings h WHERE h.user_id = ? AND h.player_id = ?), 0)
		     - COALESCE((SELECT SUM(l.quantity) FROM holdings_locks l WHERE l.user_id = ? AND l.player_id = ?), 0)`,
		userID, playerID, userID, playerID,
	).Scan(&available)
	return available, err
}

func availableSharesTx(tx *sql.Tx, userID string, playerID int64) (int64, error) {
	var available int64
	err := tx.QueryRow(`
		SELECT COALESCE((SELECT h.quantity FROM holdings h WHERE h.user_id = ? AND h.player_id = ?), 0)
		     - COALESCE((SELECT SUM(l.quantity) FROM holdings_locks l WHERE l.user_id = ? AND l.player_id = ?), 0)`,
		userID, playerID, userID, playerID,
	).Scan(&available)
	return available, err
}

// GetCashLockByReference fetches a cash lock row, or nil if released.
func (s *Store) GetCashLockByReference(refType, refID string) (*BalanceLock, error) {
	l := &BalanceLock{}
	err := s.db.QueryRow(
		"SELECT id, user_id, amount, reference_type, reference_id FROM balance_locks WHERE reference_type = ? AND reference_id = ?",
		refType, refID,
	).Scan(&l.ID, &l.UserID, &l.Amount, &l.ReferenceType, &l.ReferenceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// GetShareLockByReference fetches a share lock row, or nil if released.
func (s *Store) GetShareLockByReference(refType, refID string) (*HoldingsLock, error) {
	l := &HoldingsLock{}
	err := s.db.QueryRow(
		"SELECT id, user_id, player_id, quantity, reference_type, reference_id FROM holdings_locks WHERE reference_type = ? AND reference_id = ?",
		refType, refID,
	).Scan(&l.ID, &l.UserID, &l.PlayerID, &l.Quantity, &l.ReferenceType, &l.ReferenceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}
