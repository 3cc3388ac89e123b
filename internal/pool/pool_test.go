// ABOUTME: Tests for pool reconciliation
// ABOUTME: Covers planning idempotence, replacement dedup, additive-only growth, and dry-run parity

package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/identity-vault/internal/credential"
	"github.com/2389/identity-vault/internal/curve"
	"github.com/2389/identity-vault/internal/securearea"
)

const testDomain = "mdl"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSettings() *securearea.CreateKeySettings {
	return securearea.SignSettings(curve.P256, nil)
}

func defaultOptions() Options {
	return Options{
		Domain:         testDomain,
		Now:            testNow,
		TargetPoolSize: 3,
		MaxUsesPerKey:  5,
		MinValidWindow: 24 * time.Hour,
	}
}

// addCertifiedKey creates and certifies a key with the given usage count and
// expiry, bypassing an issuer round-trip.
func addCertifiedKey(t *testing.T, cred *credential.Credential, area securearea.SecureArea, usage int, validUntil time.Time) *credential.AuthenticationKey {
	t.Helper()
	ctx := context.Background()
	pending, err := cred.CreatePendingAuthenticationKey(ctx, testDomain, area, testSettings(), nil)
	require.NoError(t, err)
	key, err := cred.Certify(ctx, area, pending, nil, validUntil.Add(-90*24*time.Hour), validUntil)
	require.NoError(t, err)
	for i := 0; i < usage; i++ {
		require.NoError(t, cred.RecordUsage(key.ID))
	}
	return key
}

func healthyExpiry() time.Time {
	return testNow.Add(60 * 24 * time.Hour)
}

func TestReconcile_FillsEmptyPool(t *testing.T) {
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)

	created, err := Reconcile(context.Background(), cred, area, testSettings(), defaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, created)
	assert.Len(t, cred.PendingAuthenticationKeys(testDomain), 3)
}

func TestReconcile_AdditiveOnly(t *testing.T) {
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)
	for i := 0; i < 5; i++ {
		addCertifiedKey(t, cred, area, 0, healthyExpiry())
	}

	opts := defaultOptions()
	opts.TargetPoolSize = 3 // below current healthy count
	created, err := Reconcile(context.Background(), cred, area, testSettings(), opts)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Len(t, cred.AuthenticationKeys(testDomain), 5, "surplus keys are never trimmed")
	assert.Empty(t, cred.PendingAuthenticationKeys(testDomain))
}

func TestReconcile_FreshGrowthScenario(t *testing.T) {
	// 7 certified healthy keys, 1 existing pending, target 10 => create 2.
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)
	for i := 0; i < 7; i++ {
		addCertifiedKey(t, cred, area, 0, healthyExpiry())
	}
	_, err := cred.CreatePendingAuthenticationKey(context.Background(), testDomain, area, testSettings(), nil)
	require.NoError(t, err)

	opts := defaultOptions()
	opts.TargetPoolSize = 10
	created, err := Reconcile(context.Background(), cred, area, testSettings(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Len(t, cred.PendingAuthenticationKeys(testDomain), 3)
}

func TestReconcile_ReplacementScenario(t *testing.T) {
	// One key at its use limit, target 1 => one replacement, then nothing.
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)
	key := addCertifiedKey(t, cred, area, 5, healthyExpiry())

	opts := defaultOptions()
	opts.TargetPoolSize = 1
	created, err := Reconcile(context.Background(), cred, area, testSettings(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	pending := cred.PendingAuthenticationKeys(testDomain)
	require.Len(t, pending, 1)
	assert.Equal(t, key.ID, pending[0].ReplacementForID)
	assert.Equal(t, pending[0].ID, cred.AuthenticationKeys(testDomain)[0].ReplacementID)

	// Second pass before certification: the queued replacement covers it.
	created, err = Reconcile(context.Background(), cred, area, testSettings(), opts)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Len(t, cred.PendingAuthenticationKeys(testDomain), 1)
}

func TestReconcile_NearExpiry(t *testing.T) {
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)
	// Expires 12h from now, window is 24h.
	addCertifiedKey(t, cred, area, 0, testNow.Add(12*time.Hour))

	opts := defaultOptions()
	opts.TargetPoolSize = 1
	created, err := Reconcile(context.Background(), cred, area, testSettings(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Len(t, cred.PendingAuthenticationKeys(testDomain), 1)
}

func TestReconcile_OverusedAndExpiring_HandledOnce(t *testing.T) {
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)
	addCertifiedKey(t, cred, area, 9, testNow.Add(time.Hour))

	opts := defaultOptions()
	opts.TargetPoolSize = 1
	created, err := Reconcile(context.Background(), cred, area, testSettings(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, created, "a key failing both checks gets one replacement, not two")
}

func TestReconcile_DryRunIdempotentAndSideEffectFree(t *testing.T) {
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)
	addCertifiedKey(t, cred, area, 5, healthyExpiry())
	preCreates := area.CreateCount()

	opts := defaultOptions()
	opts.DryRun = true
	first, err := Reconcile(context.Background(), cred, area, nil, opts)
	require.NoError(t, err)
	second, err := Reconcile(context.Background(), cred, area, nil, opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, preCreates, area.CreateCount(), "dry run must not call the secure area")
	assert.Empty(t, cred.PendingAuthenticationKeys(testDomain))
}

func TestReconcile_DryRunMatchesRealRun(t *testing.T) {
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)
	addCertifiedKey(t, cred, area, 5, healthyExpiry())   // needs replacement
	addCertifiedKey(t, cred, area, 0, healthyExpiry())   // healthy
	_, err := cred.CreatePendingAuthenticationKey(context.Background(), testDomain, area, testSettings(), nil)
	require.NoError(t, err)

	opts := defaultOptions()
	opts.TargetPoolSize = 5

	dry := opts
	dry.DryRun = true
	plannedCount, err := Reconcile(context.Background(), cred, area, nil, dry)
	require.NoError(t, err)

	created, err := Reconcile(context.Background(), cred, area, testSettings(), opts)
	require.NoError(t, err)
	assert.Equal(t, plannedCount, created)
}

func TestReconcile_MissingSettings(t *testing.T) {
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)

	_, err := Reconcile(context.Background(), cred, area, nil, defaultOptions())
	assert.ErrorIs(t, err, credential.ErrMissingKeySettings)
	assert.Zero(t, area.CreateCount(), "fail fast, no partial creation")
	assert.Empty(t, cred.PendingAuthenticationKeys(testDomain))
}

func TestReconcile_NoCreationNeeded_NilSettingsOK(t *testing.T) {
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)
	for i := 0; i < 3; i++ {
		addCertifiedKey(t, cred, area, 0, healthyExpiry())
	}

	created, err := Reconcile(context.Background(), cred, area, nil, defaultOptions())
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestReconcile_BackendErrorPropagates(t *testing.T) {
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)

	area.CreateErr = securearea.ErrUnavailable
	created, err := Reconcile(context.Background(), cred, area, testSettings(), defaultOptions())
	assert.ErrorIs(t, err, securearea.ErrUnavailable)
	assert.Zero(t, created, "failed creations are not counted")
}

func TestReconcile_PartialProgressRetained(t *testing.T) {
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)

	// Let two creations through, then fail.
	calls := 0
	area.CreateHook = func() {
		calls++
		if calls > 2 {
			area.CreateErr = errors.New("secure element session dropped")
		}
	}
	created, err := Reconcile(context.Background(), cred, area, testSettings(), defaultOptions())
	require.Error(t, err)
	assert.Equal(t, 2, created)
	assert.Len(t, cred.PendingAuthenticationKeys(testDomain), 2)

	// A later pass picks up where the failed one stopped.
	area.CreateErr = nil
	created, err = Reconcile(context.Background(), cred, area, testSettings(), defaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Len(t, cred.PendingAuthenticationKeys(testDomain), 3)
}

func TestReconcile_InvalidOptions(t *testing.T) {
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)

	opts := defaultOptions()
	opts.Domain = ""
	_, err := Reconcile(context.Background(), cred, area, testSettings(), opts)
	assert.Error(t, err)

	opts = defaultOptions()
	opts.MaxUsesPerKey = 0
	_, err = Reconcile(context.Background(), cred, area, testSettings(), opts)
	assert.Error(t, err)

	opts = defaultOptions()
	opts.TargetPoolSize = -1
	_, err = Reconcile(context.Background(), cred, area, testSettings(), opts)
	assert.Error(t, err)
}

func TestReconcile_DomainsIndependent(t *testing.T) {
	area := securearea.NewFake()
	cred := credential.New("cred-1", area.Identifier(), nil)

	created, err := Reconcile(context.Background(), cred, area, testSettings(), defaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	opts := defaultOptions()
	opts.Domain = "age-verification"
	opts.TargetPoolSize = 2
	created, err = Reconcile(context.Background(), cred, area, testSettings(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	assert.Len(t, cred.PendingAuthenticationKeys(testDomain), 3)
	assert.Len(t, cred.PendingAuthenticationKeys("age-verification"), 2)
}
