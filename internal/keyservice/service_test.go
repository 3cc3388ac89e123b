// ABOUTME: End-to-end tests for the key service server and remote client
// ABOUTME: Runs the handler under httptest and drives it through the SecureArea interface

package keyservice

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/identity-vault/internal/curve"
	"github.com/2389/identity-vault/internal/securearea"
)

var testSecret = []byte("test-keyservice-secret")

func newTestClient(t *testing.T) (*Client, *securearea.SoftwareSecureArea) {
	t.Helper()
	area, err := securearea.NewSoftwareSecureArea(nil)
	require.NoError(t, err)
	svc := New(area, testSecret)
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-client", testSecret), area
}

func TestRemoteCreateSignDelete(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	info, err := client.CreateKey(ctx, securearea.SignSettings(curve.P256, nil))
	require.NoError(t, err)
	require.NotEmpty(t, info.Handle)
	require.NotEmpty(t, info.PublicKey)
	assert.Equal(t, curve.P256, info.Curve)

	msg := []byte("remote signing")
	sig, err := client.Sign(ctx, info.Handle, msg)
	require.NoError(t, err)

	parsed, err := x509.ParsePKIXPublicKey(info.PublicKey)
	require.NoError(t, err)
	digest := sha256.Sum256(msg)
	assert.True(t, ecdsa.VerifyASN1(parsed.(*ecdsa.PublicKey), digest[:], sig))

	require.NoError(t, client.DeleteKey(ctx, info.Handle))
	// Idempotent second delete
	require.NoError(t, client.DeleteKey(ctx, info.Handle))

	_, err = client.Sign(ctx, info.Handle, msg)
	assert.ErrorIs(t, err, securearea.ErrKeyNotFound)
}

func TestRemoteKeyAgreement(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	settings := &securearea.CreateKeySettings{
		Curve:    curve.P256,
		Purposes: []securearea.KeyPurpose{securearea.PurposeAgreement},
	}
	a, err := client.CreateKey(ctx, settings)
	require.NoError(t, err)
	b, err := client.CreateKey(ctx, settings)
	require.NoError(t, err)

	secretA, err := client.KeyAgreement(ctx, a.Handle, b.PublicKey)
	require.NoError(t, err)
	secretB, err := client.KeyAgreement(ctx, b.Handle, a.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, secretA, secretB)
}

func TestRemoteAttest(t *testing.T) {
	client, area := newTestClient(t)
	ctx := context.Background()

	challenge := []byte("bind-me")
	info, err := client.CreateKey(ctx, securearea.SignSettings(curve.P256, challenge))
	require.NoError(t, err)

	att, err := client.Attest(ctx, info.Handle, challenge)
	require.NoError(t, err)

	stmt, err := securearea.DecodeAttestationStatement(att.Statement)
	require.NoError(t, err)
	assert.Equal(t, "software", stmt.Backend)
	assert.Equal(t, challenge, stmt.Challenge)
	_ = area // attestation key stays server-side; statement decode is the contract here
}

func TestRemoteUnsupportedCurve(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.CreateKey(context.Background(), securearea.SignSettings(curve.BrainpoolP256R1, nil))
	assert.ErrorIs(t, err, securearea.ErrUnsupportedCurve)
}

func TestRemoteUnavailable(t *testing.T) {
	// Nothing listening on this port.
	client := NewClient("http://127.0.0.1:1", "test-client", testSecret)
	_, err := client.CreateKey(context.Background(), securearea.SignSettings(curve.P256, nil))
	assert.ErrorIs(t, err, securearea.ErrUnavailable)
}

func TestServiceRejectsUnauthenticated(t *testing.T) {
	area, err := securearea.NewSoftwareSecureArea(nil)
	require.NoError(t, err)
	srv := httptest.NewServer(New(area, testSecret).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/keys", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServiceRejectsWrongSecret(t *testing.T) {
	area, err := securearea.NewSoftwareSecureArea(nil)
	require.NoError(t, err)
	srv := httptest.NewServer(New(area, testSecret).Handler())
	defer srv.Close()

	client := NewClient(srv.URL, "test-client", []byte("wrong-secret"))
	_, err = client.CreateKey(context.Background(), securearea.SignSettings(curve.P256, nil))
	assert.Error(t, err)
}

func TestServiceHealth(t *testing.T) {
	area, err := securearea.NewSoftwareSecureArea(nil)
	require.NoError(t, err)
	srv := httptest.NewServer(New(area, testSecret).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
