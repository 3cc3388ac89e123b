// ABOUTME: Credential aggregate and its authentication key records
// ABOUTME: Key creation goes through a SecureArea; certification promotes pending keys and retires superseded ones

package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/identity-vault/internal/securearea"
)

var (
	// ErrMissingKeySettings is returned when a key creation is required but
	// no settings were supplied. Caller-contract violation; checked before
	// any secure area call.
	ErrMissingKeySettings = errors.New("key creation settings required")

	// ErrUnknownPendingKey is returned when a certification target no
	// longer exists, e.g. the credential was mutated concurrently.
	ErrUnknownPendingKey = errors.New("pending authentication key not found")
)

// appDataDomain tags every pending key with the domain it was created for.
const appDataDomain = "domain"

// AuthenticationKey is an issuer-certified key usable for presentations.
// UsageCount increases each time the key authenticates; the pool manager
// reads it to decide when the key is due for replacement.
type AuthenticationKey struct {
	ID              string
	Domain          string
	Handle          securearea.KeyHandle
	PublicKey       []byte
	UsageCount      int
	ValidFrom       time.Time
	ValidUntil      time.Time
	ReplacementID   string // ID of the pending key queued to replace this one, "" if none
	IssuerData      []byte
	ApplicationData map[string]string
}

// HasReplacement reports whether a replacement pending key is outstanding.
func (k *AuthenticationKey) HasReplacement() bool {
	return k.ReplacementID != ""
}

// PendingAuthenticationKey is a created-but-not-yet-certified key. It exists
// between creation and certification; Certify consumes it.
type PendingAuthenticationKey struct {
	ID               string
	Domain           string
	Handle           securearea.KeyHandle
	PublicKey        []byte
	ReplacementForID string // ID of the certified key this will supersede, "" for fresh growth
	ApplicationData  map[string]string
}

// Credential aggregates a holder's identity attributes with the
// domain-partitioned authentication key collections. Not safe for
// concurrent mutation; callers serialize per credential.
type Credential struct {
	ID         string
	SecureArea string // backend variant bound at enrollment, never switched
	Attributes map[string]string
	CreatedAt  time.Time

	authKeys    []*AuthenticationKey
	pendingKeys []*PendingAuthenticationKey
}

// New creates an empty credential bound to the named secure area backend.
func New(id, secureArea string, attributes map[string]string) *Credential {
	if id == "" {
		id = uuid.New().String()
	}
	if attributes == nil {
		attributes = make(map[string]string)
	}
	return &Credential{
		ID:         id,
		SecureArea: secureArea,
		Attributes: attributes,
		CreatedAt:  time.Now().UTC(),
	}
}

// AuthenticationKeys returns the certified keys for domain.
func (c *Credential) AuthenticationKeys(domain string) []*AuthenticationKey {
	var out []*AuthenticationKey
	for _, k := range c.authKeys {
		if k.Domain == domain {
			out = append(out, k)
		}
	}
	return out
}

// PendingAuthenticationKeys returns the not-yet-certified keys for domain.
func (c *Credential) PendingAuthenticationKeys(domain string) []*PendingAuthenticationKey {
	var out []*PendingAuthenticationKey
	for _, k := range c.pendingKeys {
		if k.Domain == domain {
			out = append(out, k)
		}
	}
	return out
}

// CreatePendingAuthenticationKey creates a key in the secure area and
// records it as pending for domain. If replacementFor is non-nil the new
// pending key is linked as that key's replacement; at most one replacement
// may be outstanding per certified key.
func (c *Credential) CreatePendingAuthenticationKey(ctx context.Context, domain string, area securearea.SecureArea, settings *securearea.CreateKeySettings, replacementFor *AuthenticationKey) (*PendingAuthenticationKey, error) {
	if settings == nil {
		return nil, fmt.Errorf("%w: domain %q", ErrMissingKeySettings, domain)
	}
	if replacementFor != nil {
		if c.findAuthKey(replacementFor.ID) == nil {
			return nil, fmt.Errorf("credential %s has no certified key %s to replace", c.ID, replacementFor.ID)
		}
		if replacementFor.HasReplacement() {
			return nil, fmt.Errorf("key %s already has replacement %s outstanding", replacementFor.ID, replacementFor.ReplacementID)
		}
	}

	info, err := area.CreateKey(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("creating key for domain %q: %w", domain, err)
	}

	pending := &PendingAuthenticationKey{
		ID:              uuid.New().String(),
		Domain:          domain,
		Handle:          info.Handle,
		PublicKey:       info.PublicKey,
		ApplicationData: map[string]string{appDataDomain: domain},
	}
	if replacementFor != nil {
		pending.ReplacementForID = replacementFor.ID
		replacementFor.ReplacementID = pending.ID
	}
	c.pendingKeys = append(c.pendingKeys, pending)
	return pending, nil
}

// Certify promotes a pending key to a certified authentication key. The
// pending record is removed; if it was queued as a replacement, the
// superseded key is retired and its secure area key deleted.
func (c *Credential) Certify(ctx context.Context, area securearea.SecureArea, pending *PendingAuthenticationKey, issuerData []byte, validFrom, validUntil time.Time) (*AuthenticationKey, error) {
	if pending == nil || c.findPending(pending.ID) == nil {
		return nil, ErrUnknownPendingKey
	}
	if !validUntil.After(validFrom) {
		return nil, fmt.Errorf("validity window is empty: %s .. %s", validFrom, validUntil)
	}

	var superseded *AuthenticationKey
	if pending.ReplacementForID != "" {
		superseded = c.findAuthKey(pending.ReplacementForID)
	}

	// Release the superseded backend key before touching aggregate state so
	// a delete failure leaves the credential unchanged.
	if superseded != nil {
		if err := area.DeleteKey(ctx, superseded.Handle); err != nil {
			return nil, fmt.Errorf("deleting superseded key %s: %w", superseded.ID, err)
		}
	}

	key := &AuthenticationKey{
		ID:              uuid.New().String(),
		Domain:          pending.Domain,
		Handle:          pending.Handle,
		PublicKey:       pending.PublicKey,
		ValidFrom:       validFrom,
		ValidUntil:      validUntil,
		IssuerData:      issuerData,
		ApplicationData: pending.ApplicationData,
	}

	c.removePending(pending.ID)
	if superseded != nil {
		c.removeAuthKey(superseded.ID)
	}
	c.authKeys = append(c.authKeys, key)
	return key, nil
}

// RecordUsage increments a certified key's usage counter. Called by the
// presentation layer after each authentication.
func (c *Credential) RecordUsage(keyID string) error {
	key := c.findAuthKey(keyID)
	if key == nil {
		return fmt.Errorf("no certified key %s on credential %s", keyID, c.ID)
	}
	key.UsageCount++
	return nil
}

func (c *Credential) findAuthKey(id string) *AuthenticationKey {
	for _, k := range c.authKeys {
		if k.ID == id {
			return k
		}
	}
	return nil
}

func (c *Credential) findPending(id string) *PendingAuthenticationKey {
	for _, k := range c.pendingKeys {
		if k.ID == id {
			return k
		}
	}
	return nil
}

func (c *Credential) removeAuthKey(id string) {
	for i, k := range c.authKeys {
		if k.ID == id {
			c.authKeys = append(c.authKeys[:i], c.authKeys[i+1:]...)
			return
		}
	}
}

func (c *Credential) removePending(id string) {
	for i, k := range c.pendingKeys {
		if k.ID == id {
			c.pendingKeys = append(c.pendingKeys[:i], c.pendingKeys[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy of the credential.
func (c *Credential) Clone() *Credential {
	out := &Credential{
		ID:         c.ID,
		SecureArea: c.SecureArea,
		Attributes: make(map[string]string, len(c.Attributes)),
		CreatedAt:  c.CreatedAt,
	}
	for k, v := range c.Attributes {
		out.Attributes[k] = v
	}
	for _, k := range c.authKeys {
		kc := *k
		kc.ApplicationData = cloneStringMap(k.ApplicationData)
		kc.PublicKey = append([]byte(nil), k.PublicKey...)
		kc.IssuerData = append([]byte(nil), k.IssuerData...)
		out.authKeys = append(out.authKeys, &kc)
	}
	for _, k := range c.pendingKeys {
		kc := *k
		kc.ApplicationData = cloneStringMap(k.ApplicationData)
		kc.PublicKey = append([]byte(nil), k.PublicKey...)
		out.pendingKeys = append(out.pendingKeys, &kc)
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
