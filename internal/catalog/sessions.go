package catalog

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// Session mirrors the `sessions` table (§3): token_hash is
// SHA-256(random 32B token); the plaintext token is never persisted.
type Session struct {
	TokenHash string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CreateSession inserts a session row. Callers hash the token themselves
// (internal/session) before calling.
func (s *Store) CreateSession(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO sessions (token_hash, username, issued_at, expires_at)
		VALUES (?, ?, ?, ?)`,
		sess.TokenHash, sess.Username, sess.IssuedAt, sess.ExpiresAt)
	if err != nil {
		return errors.Wrap(err, "create session")
	}
	return nil
}

// LookupSession returns the session for tokenHash if it exists and has
// not expired as of now; expired rows are pruned as a side effect (§3:
// "pruned when expires_at <= now on lookup").
func (s *Store) LookupSession(tokenHash string, now time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sess Session
	err := s.db.QueryRow(`
		SELECT token_hash, username, issued_at, expires_at
		FROM sessions WHERE token_hash = ?`, tokenHash).Scan(
		&sess.TokenHash, &sess.Username, &sess.IssuedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, errors.Wrap(err, "lookup session")
	}
	if !sess.ExpiresAt.After(now) {
		if _, err := s.db.Exec(`DELETE FROM sessions WHERE token_hash = ?`, tokenHash); err != nil {
			return Session{}, errors.Wrap(err, "prune expired session")
		}
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// DeleteSession removes a session row on logout.
func (s *Store) DeleteSession(tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return errors.Wrap(err, "delete session")
	}
	return nil
}
