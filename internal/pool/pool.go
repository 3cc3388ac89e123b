// ABOUTME: Authentication key pool reconciliation against a replenishment policy
// ABOUTME: Plans replacements and fresh growth, additive-only, with dry-run parity

package pool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/identity-vault/internal/credential"
	"github.com/2389/identity-vault/internal/securearea"
)

// Options is the replenishment policy for one reconciliation pass.
type Options struct {
	// Domain selects which of the credential's key pools to reconcile.
	Domain string

	// Now is the reference time for expiry checks.
	Now time.Time

	// TargetPoolSize is the steady-state number of usable keys:
	// healthy certified keys plus pending keys.
	TargetPoolSize int

	// MaxUsesPerKey marks a key as due for replacement once its usage
	// count reaches this value. Must be positive.
	MaxUsesPerKey int

	// MinValidWindow marks a key as near expiry once less than this much
	// validity remains.
	MinValidWindow time.Duration

	// DryRun reports what a real pass would create without calling the
	// secure area or mutating the credential.
	DryRun bool
}

func (o *Options) validate() error {
	if o.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if o.TargetPoolSize < 0 {
		return fmt.Errorf("target pool size must be >= 0, got %d", o.TargetPoolSize)
	}
	if o.MaxUsesPerKey <= 0 {
		return fmt.Errorf("max uses per key must be > 0, got %d", o.MaxUsesPerKey)
	}
	return nil
}

// Reconcile inspects the credential's key pool for one domain and creates
// the pending keys needed to keep it at the target size. Returns how many
// keys were created, or would be created in dry-run mode.
//
// Never removes keys: a pool above target is left alone. A key that is both
// over its use limit and near expiry gets exactly one replacement, and a key
// with a replacement already outstanding gets no second one, so repeated
// calls before certification create nothing new.
//
// Not safe to run concurrently for the same (credential, domain) pair;
// callers serialize per pair. Partial progress on error or cancellation is
// retained and accounted for by the next pass.
func Reconcile(ctx context.Context, cred *credential.Credential, area securearea.SecureArea, settings *securearea.CreateKeySettings, opts Options) (int, error) {
	if err := opts.validate(); err != nil {
		return 0, err
	}

	var needReplacement []*credential.AuthenticationKey
	healthy := 0
	for _, key := range cred.AuthenticationKeys(opts.Domain) {
		exceededUse := key.UsageCount >= opts.MaxUsesPerKey
		nearExpiry := opts.Now.After(key.ValidUntil.Add(-opts.MinValidWindow))
		switch {
		case (exceededUse || nearExpiry) && !key.HasReplacement():
			needReplacement = append(needReplacement, key)
		default:
			// Healthy, or due but with a successor already among the
			// pending keys.
			healthy++
		}
	}

	existingPending := len(cred.PendingAuthenticationKeys(opts.Domain))
	toCreateFresh := opts.TargetPoolSize - healthy - existingPending
	if toCreateFresh < 0 {
		toCreateFresh = 0
	}
	planned := len(needReplacement) + toCreateFresh

	if opts.DryRun {
		return planned, nil
	}
	if planned > 0 && settings == nil {
		return 0, fmt.Errorf("reconciling domain %q: %w", opts.Domain, credential.ErrMissingKeySettings)
	}

	created := 0
	for _, key := range needReplacement {
		if _, err := cred.CreatePendingAuthenticationKey(ctx, opts.Domain, area, settings, key); err != nil {
			return created, fmt.Errorf("replacing key %s: %w", key.ID, err)
		}
		created++
	}
	for i := 0; i < toCreateFresh; i++ {
		if _, err := cred.CreatePendingAuthenticationKey(ctx, opts.Domain, area, settings, nil); err != nil {
			return created, fmt.Errorf("growing pool: %w", err)
		}
		created++
	}

	if created > 0 {
		slog.Default().Info("key pool reconciled",
			"component", "pool",
			"credential_id", cred.ID,
			"domain", opts.Domain,
			"replacements", len(needReplacement),
			"fresh", toCreateFresh)
	}
	return created, nil
}
