// ABOUTME: Tests for key service token minting and verification
// ABOUTME: Covers round-trip, expiry, wrong secret, and missing sub

package keyservice

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	secret := []byte("secret")
	token, err := MintToken(secret, "wallet-1", time.Now())
	require.NoError(t, err)

	sub, err := VerifyToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "wallet-1", sub)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	token, err := MintToken([]byte("secret-a"), "wallet-1", time.Now())
	require.NoError(t, err)

	_, err = VerifyToken([]byte("secret-b"), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_Expired(t *testing.T) {
	token, err := MintToken([]byte("secret"), "wallet-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = VerifyToken([]byte("secret"), token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyToken_MissingSub(t *testing.T) {
	claims := jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = VerifyToken([]byte("secret"), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_Garbage(t *testing.T) {
	_, err := VerifyToken([]byte("secret"), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
