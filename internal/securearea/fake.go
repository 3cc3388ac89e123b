// ABOUTME: Fake in-memory SecureArea for tests
// ABOUTME: Counts operations and supports injected failures per call

package securearea

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Fake is a SecureArea test double. It tracks created and deleted handles
// and can be primed to fail. No real key material is involved.
type Fake struct {
	mu sync.Mutex

	// CreateErr, when set, is returned by every CreateKey call.
	CreateErr error
	// DeleteErr, when set, is returned by DeleteKey for live handles.
	DeleteErr error
	// CreateHook, when set, runs at the start of every CreateKey call,
	// outside the lock. Lets tests gate or observe creations.
	CreateHook func()

	created map[KeyHandle]*CreateKeySettings
	deleted int
	signs   int
}

// NewFake creates an empty fake secure area.
func NewFake() *Fake {
	return &Fake{created: make(map[KeyHandle]*CreateKeySettings)}
}

// Identifier implements SecureArea.
func (f *Fake) Identifier() string { return "fake" }

// CreateKey implements SecureArea.
func (f *Fake) CreateKey(ctx context.Context, settings *CreateKeySettings) (*KeyInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.CreateHook != nil {
		f.CreateHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	handle := KeyHandle(uuid.New().String())
	f.created[handle] = settings
	return &KeyInfo{
		Handle:    handle,
		Curve:     settings.Curve,
		PublicKey: []byte("fake-public-" + string(handle)),
	}, nil
}

// Sign implements SecureArea.
func (f *Fake) Sign(ctx context.Context, handle KeyHandle, message []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.created[handle]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, handle)
	}
	f.signs++
	return append([]byte("fake-sig:"), message...), nil
}

// KeyAgreement implements SecureArea.
func (f *Fake) KeyAgreement(ctx context.Context, handle KeyHandle, peerPublicKey []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.created[handle]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, handle)
	}
	return []byte("fake-shared-secret"), nil
}

// Attest implements SecureArea. The fake has no attestation capability.
func (f *Fake) Attest(ctx context.Context, handle KeyHandle, challenge []byte) (*Attestation, error) {
	return nil, ErrAttestationUnsupported
}

// DeleteKey implements SecureArea. Idempotent.
func (f *Fake) DeleteKey(ctx context.Context, handle KeyHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.created[handle]; !ok {
		return nil
	}
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.created, handle)
	f.deleted++
	return nil
}

// CreateCount returns how many keys have been created and not failed.
func (f *Fake) CreateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created) + f.deleted
}

// LiveCount returns how many created keys have not been deleted.
func (f *Fake) LiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// Has reports whether the handle is live.
func (f *Fake) Has(handle KeyHandle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.created[handle]
	return ok
}

// SettingsFor returns the settings a live handle was created with.
func (f *Fake) SettingsFor(handle KeyHandle) *CreateKeySettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[handle]
}
