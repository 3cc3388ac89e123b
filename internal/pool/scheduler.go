// ABOUTME: Background scheduler that reconciles registered credential/domain targets
// ABOUTME: Serializes passes per credential while independent credentials run concurrently

package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/identity-vault/internal/credential"
	"github.com/2389/identity-vault/internal/securearea"
)

// Policy is a standing replenishment policy for a domain.
type Policy struct {
	TargetPoolSize int
	MaxUsesPerKey  int
	MinValidWindow time.Duration
}

// Target registers one (credential, domain) pair for periodic reconciliation.
type Target struct {
	CredentialID string
	Domain       string
	Settings     *securearea.CreateKeySettings
	Policy       Policy
}

// Scheduler periodically reconciles registered targets. At most one pass is
// in flight per credential; different credentials run concurrently. A pass
// covers all of the credential's registered domains against one loaded
// aggregate, since saving rewrites the credential's full key set — two
// concurrent passes on the same credential would each persist a copy that
// lacks the other's new keys, stranding their backend handles.
type Scheduler struct {
	store    credential.Store
	area     securearea.SecureArea
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	targets  []Target
	inflight map[string]bool
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler over the given store and secure area.
func NewScheduler(store credential.Store, area securearea.SecureArea, interval time.Duration) *Scheduler {
	return &Scheduler{
		store:    store,
		area:     area,
		interval: interval,
		logger:   slog.Default().With("component", "scheduler"),
		inflight: make(map[string]bool),
	}
}

// Add registers a target for periodic reconciliation.
func (s *Scheduler) Add(target Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, target)
}

// Run reconciles all targets on the configured interval until ctx is
// cancelled, then waits for in-flight passes to finish.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce starts one reconciliation pass for every credential that has
// registered targets and is not already in flight. Passes run in the
// background; use Wait to block until they finish.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.mu.Lock()
	var order []string
	byCredential := make(map[string][]Target)
	for _, t := range s.targets {
		if _, ok := byCredential[t.CredentialID]; !ok {
			order = append(order, t.CredentialID)
		}
		byCredential[t.CredentialID] = append(byCredential[t.CredentialID], t)
	}
	s.mu.Unlock()

	for _, id := range order {
		if !s.acquire(id) {
			s.logger.Debug("pass already in flight, skipping", "credential_id", id)
			continue
		}
		s.wg.Add(1)
		go func(id string, targets []Target) {
			defer s.wg.Done()
			defer s.release(id)
			s.reconcileCredential(ctx, id, targets)
		}(id, byCredential[id])
	}
}

// Wait blocks until all in-flight passes complete.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// reconcileCredential reconciles every registered domain of one credential
// sequentially over the same aggregate, then persists the result once.
func (s *Scheduler) reconcileCredential(ctx context.Context, id string, targets []Target) {
	cred, err := s.store.GetCredential(ctx, id)
	if err != nil {
		s.logger.Error("loading credential failed",
			"credential_id", id, "error", err)
		return
	}

	total := 0
	for _, t := range targets {
		created, rerr := Reconcile(ctx, cred, s.area, t.Settings, Options{
			Domain:         t.Domain,
			Now:            time.Now(),
			TargetPoolSize: t.Policy.TargetPoolSize,
			MaxUsesPerKey:  t.Policy.MaxUsesPerKey,
			MinValidWindow: t.Policy.MinValidWindow,
		})
		total += created
		if rerr != nil {
			s.logger.Error("reconciliation failed",
				"credential_id", id,
				"domain", t.Domain,
				"created", created,
				"error", rerr)
			continue
		}
		if created > 0 {
			s.logger.Info("reconciliation complete",
				"credential_id", id,
				"domain", t.Domain,
				"created", created)
		}
	}

	// Partial progress is kept even when a domain's pass failed; the next
	// pass accounts for it through the existing pending keys.
	if total > 0 {
		if err := s.store.SaveCredential(ctx, cred); err != nil {
			s.logger.Error("saving credential failed",
				"credential_id", id, "error", err)
		}
	}
}

func (s *Scheduler) acquire(credentialID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[credentialID] {
		return false
	}
	s.inflight[credentialID] = true
	return true
}

func (s *Scheduler) release(credentialID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, credentialID)
}
