// ABOUTME: Tests for the curve registry
// ABOUTME: Verifies code round-trips, unknown-code failures, and projections

package curve

import (
	"testing"

	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromCOSE_RoundTrip(t *testing.T) {
	for _, c := range All() {
		got, err := FromCOSE(c.COSE())
		require.NoError(t, err, "curve %s", c)
		assert.Equal(t, c, got)
	}
}

func TestFromCOSE_Unknown(t *testing.T) {
	for _, code := range []int{0, 8, 42, -1, -65541, 1000000} {
		_, err := FromCOSE(code)
		assert.ErrorIs(t, err, ErrUnknownCurve, "code %d", code)
	}
}

func TestBitSizeAndName(t *testing.T) {
	tests := []struct {
		curve Curve
		bits  int
		name  string
	}{
		{P256, 256, "secp256r1"},
		{P384, 384, "secp384r1"},
		{P521, 521, "secp521r1"},
		{X25519, 256, "x25519"},
		{X448, 448, "x448"},
		{Ed25519, 256, "ed25519"},
		{Ed448, 448, "ed448"},
		{BrainpoolP256R1, 256, "brainpoolP256r1"},
		{BrainpoolP320R1, 320, "brainpoolP320r1"},
		{BrainpoolP384R1, 384, "brainpoolP384r1"},
		{BrainpoolP512R1, 512, "brainpoolP512r1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.bits, tt.curve.BitSize(), tt.name)
		assert.Equal(t, tt.name, tt.curve.Name())
	}
}

func TestSignatureAlgorithm(t *testing.T) {
	alg, ok := P256.SignatureAlgorithm()
	require.True(t, ok)
	assert.Equal(t, webauthncose.AlgES256, alg)

	alg, ok = Ed25519.SignatureAlgorithm()
	require.True(t, ok)
	assert.Equal(t, webauthncose.AlgEdDSA, alg)

	_, ok = X25519.SignatureAlgorithm()
	assert.False(t, ok)
	_, ok = X448.SignatureAlgorithm()
	assert.False(t, ok)
}

func TestString_UnknownCode(t *testing.T) {
	assert.Equal(t, "curve(99)", Curve(99).String())
}
