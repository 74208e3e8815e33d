// Package session implements password hashing and session-token issuance
// (§3, §4.2): Argon2-hashed passwords, SHA-256 token-hash persistence,
// and JWTs used only to carry the token back to the client conveniently
// — the catalog's sessions table, not the JWT's own expiry, is
// authoritative for validity.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
	tokenLen     = 32

	// DefaultTTL matches no spec-mandated value; a day is a reasonable
	// default for an operator-run mesh agent.
	DefaultTTL = 24 * time.Hour
)

// HashPassword returns an encoded Argon2id hash of password, in the
// conventional "$argon2id$v=19$m=...,t=...,p=...$salt$hash" form.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generate salt")
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
	return encoded, nil
}

// VerifyPassword checks password against an encoded hash produced by
// HashPassword, in constant time.
func VerifyPassword(encoded, password string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("unrecognized password hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, errors.Wrap(err, "parse argon2 version")
	}
	var mem uint32
	var time_ uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &time_, &threads); err != nil {
		return false, errors.Wrap(err, "parse argon2 params")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errors.Wrap(err, "decode salt")
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errors.Wrap(err, "decode hash")
	}
	got := argon2.IDKey([]byte(password), salt, time_, mem, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// NewToken generates a random session token and its SHA-256 hash. The
// plaintext token is returned to the caller once and never persisted
// (§3: "plaintext token is never persisted").
func NewToken() (token, tokenHash string, err error) {
	raw := make([]byte, tokenLen)
	if _, err := rand.Read(raw); err != nil {
		return "", "", errors.Wrap(err, "generate token")
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	return token, HashToken(token), nil
}

// HashToken returns the hex-encoded SHA-256 hash of a plaintext token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SignJWT wraps tokenHash in a JWT signed with secret, purely as a
// transport convenience for HTTP clients (golang-jwt/jwt); the signature
// and exp claim here are not the source of truth for session validity —
// internal/catalog's sessions table is.
func SignJWT(secret []byte, username, tokenHash string, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": username,
		"th":  tokenHash,
		"iat": issuedAt.Unix(),
		"exp": expiresAt.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "sign session jwt")
	}
	return signed, nil
}

// ParseJWT recovers the token hash carried in a JWT produced by SignJWT,
// verifying its signature against secret.
func ParseJWT(secret []byte, signed string) (tokenHash string, err error) {
	token, err := jwt.Parse(signed, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", errors.Wrap(err, "parse session jwt")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid session jwt")
	}
	th, ok := claims["th"].(string)
	if !ok {
		return "", errors.New("session jwt missing token hash claim")
	}
	return th, nil
}
