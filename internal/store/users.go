package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("username already exists")
	ErrInvalidPassword = errors.New("invalid password")
)

// StartingBalance is credited to every new user, in cents.
const StartingBalance int64 = 10000 // $100.00

// User represents a registered user. Bots are users with IsBot set.
type User struct {
	ID               string
	Username         string
	PasswordHash     string
	Balance          int64 // cents
	IsPremium        bool
	PremiumExpiresAt sql.NullTime
	IsAdmin          bool
	IsBot            bool
	CreatedAt        time.Time
}

const userColumns = `id, username, password_hash, balance, is_premium, premium_expires_at, is_admin, is_bot, created_at`

func scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Balance, &u.IsPremium,
		&u.PremiumExpiresAt, &u.IsAdmin, &u.IsBot, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser registers a new user with the starting balance.
func (s *Store) CreateUser(username, password string) (*User, error) {
	var exists bool
	if err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)", username).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	_, err = s.db.Exec(
		"INSERT INTO users (id, username, password_hash, balance) VALUES (?, ?, ?, ?)",
		id, username, string(hash), StartingBalance,
	)
	if err != nil {
		return nil, err
	}

	return s.GetUserByID(id)
}

// CreateBotUser registers a bot user. Bots carry the same ledger rows as
// humans; only the profile differs.
func (s *Store) CreateBotUser(username string, balance int64) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.New().String()), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	_, err = s.db.Exec(
		"INSERT INTO users (id, username, password_hash, balance, is_bot) VALUES (?, ?, ?, ?, TRUE)",
		id, username, string(hash), balance,
	)
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(id)
}

// AuthenticateUser checks username/password and returns the user if valid.
func (s *Store) AuthenticateUser(username, password string) (*User, error) {
	user, err := s.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidPassword
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(id string) (*User, error) {
	return scanUser(s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(username string) (*User, error) {
	return scanUser(s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

// SetPremium grants or extends premium status.
func (s *Store) SetPremium(userID string, expiresAt time.Time) error {
	res, err := s.db.Exec(
		"UPDATE users SET is_premium = TRUE, premium_expires_at = ? WHERE id = ?",
		expiresAt.UTC(), userID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, ErrUserNotFound)
}

// ExpirePremium clears premium status for users whose subscription lapsed.
func (s *Store) ExpirePremium(now time.Time) (int64, error) {
	res, err := s.db.Exec(
		"UPDATE users SET is_premium = FALSE WHERE is_premium = TRUE AND premium_expires_at IS NOT NULL AND premium_expires_at < ?",
		now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreditBalance adds amount (cents) to a user's balance. Negative amounts
// are rejected by the balance check constraint when they would overdraw.
func (s *Store) CreditBalance(userID string, amount int64) error {
	res, err := s.db.Exec("UPDATE users SET balance = balance + ? WHERE id = ?", amount, userID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrUserNotFound)
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
