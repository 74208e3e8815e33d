package catalog

import (
	"database/sql"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// User mirrors the `users` table (§3): Argon2-hashed password, unique name.
type User struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUser inserts a new user row. PasswordHash is expected to already
// be the Argon2 encoded hash (internal/session owns hashing); this layer
// only persists it.
func (s *Store) CreateUser(username, passwordHash string, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, createdAt)
	if err != nil {
		if isUniqueConstraint(err) {
			return ErrConflict
		}
		return errors.Wrap(err, "create user")
	}
	return nil
}

// GetUser returns the row for username, or ErrNotFound.
func (s *Store) GetUser(username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var u User
	err := s.db.QueryRow(`SELECT username, password_hash, created_at FROM users WHERE username = ?`,
		username).Scan(&u.Username, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, errors.Wrap(err, "get user")
	}
	return u, nil
}

func isUniqueConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}
