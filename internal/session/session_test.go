package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := VerifyPassword(hash, "correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, ok, "expected the correct password to verify")

	ok, err = VerifyPassword(hash, "wrong password")
	require.NoError(t, err)
	assert.False(t, ok, "expected the wrong password to be rejected")
}

func TestNewTokenHashIsDeterministicFromToken(t *testing.T) {
	token, hash, err := NewToken()
	require.NoError(t, err)
	assert.Equal(t, hash, HashToken(token))
}

func TestSignAndParseJWTRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()
	signed, err := SignJWT(secret, "alice", "deadbeef", now, now.Add(time.Hour))
	require.NoError(t, err)

	th, err := ParseJWT(secret, signed)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", th)
}

func TestParseJWTRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	signed, err := SignJWT([]byte("secret-a"), "alice", "deadbeef", now, now.Add(time.Hour))
	require.NoError(t, err)

	_, err = ParseJWT([]byte("secret-b"), signed)
	assert.Error(t, err, "expected parsing with the wrong secret to fail")
}
