// ABOUTME: SecureArea interface and data types for key-management backends
// ABOUTME: Defines CreateKeySettings, KeyHandle, KeyInfo and the shared error sentinels

package securearea

import (
	"context"
	"errors"

	"github.com/2389/identity-vault/internal/curve"
)

// Errors shared by all secure area implementations.
var (
	// ErrUnsupportedCurve is returned when the backend cannot realize the
	// requested curve. Retrying with the same settings will not succeed.
	ErrUnsupportedCurve = errors.New("curve not supported by secure area")

	// ErrUnavailable is returned when the backend cannot be reached right
	// now (secure hardware session, network). Safe to retry.
	ErrUnavailable = errors.New("secure area unavailable")

	// ErrKeyNotFound is returned when a handle refers to a deleted or
	// never-created key.
	ErrKeyNotFound = errors.New("key not found in secure area")

	// ErrAttestationUnsupported is returned by backends that cannot produce
	// attestation evidence.
	ErrAttestationUnsupported = errors.New("secure area does not support attestation")
)

// KeyPurpose restricts what a key may be used for.
type KeyPurpose string

const (
	PurposeSign      KeyPurpose = "sign"
	PurposeAgreement KeyPurpose = "agreement"
)

// CreateKeySettings describes the key to create. Immutable once constructed;
// the pool manager passes it through to the backend unchanged.
type CreateKeySettings struct {
	Curve curve.Curve

	// Purposes the key may be used for. Defaults to sign-only when empty.
	Purposes []KeyPurpose

	// Challenge is embedded in attestation evidence so a verifier can bind
	// the evidence to its request. Optional.
	Challenge []byte
}

// SignSettings returns settings for a signing key on the given curve.
func SignSettings(c curve.Curve, challenge []byte) *CreateKeySettings {
	return &CreateKeySettings{
		Curve:     c,
		Purposes:  []KeyPurpose{PurposeSign},
		Challenge: challenge,
	}
}

// ForSigning reports whether the settings permit signing.
func (s *CreateKeySettings) ForSigning() bool {
	if len(s.Purposes) == 0 {
		return true
	}
	for _, p := range s.Purposes {
		if p == PurposeSign {
			return true
		}
	}
	return false
}

// KeyHandle is an opaque reference to a key held by a secure area. A handle
// is exclusively owned by whichever authentication key record holds it;
// deleting the owner must delete the backend key through DeleteKey.
type KeyHandle string

// KeyInfo describes a created key.
type KeyInfo struct {
	Handle    KeyHandle
	Curve     curve.Curve
	PublicKey []byte // SubjectPublicKeyInfo, DER
}

// SecureArea is the capability contract every key-management backend
// satisfies. Implementations: software keystore, remote key service, and
// platform bindings (hardware keystore, discrete secure element) supplied
// by the embedding application. The backend bound to a credential is chosen
// at enrollment and never switched for an existing key.
type SecureArea interface {
	// Identifier names the backend variant, e.g. "software" or "remote".
	Identifier() string

	// CreateKey generates a fresh key per settings. May be slow on
	// hardware-backed variants; callers invoke it from a background
	// context. Returns ErrUnsupportedCurve or ErrUnavailable.
	CreateKey(ctx context.Context, settings *CreateKeySettings) (*KeyInfo, error)

	// Sign signs message with the key's curve-default algorithm.
	// Returns ErrKeyNotFound if the handle was deleted.
	Sign(ctx context.Context, handle KeyHandle, message []byte) ([]byte, error)

	// KeyAgreement performs ECDH against peerPublicKey (SubjectPublicKeyInfo,
	// DER) and returns the shared secret.
	KeyAgreement(ctx context.Context, handle KeyHandle, peerPublicKey []byte) ([]byte, error)

	// Attest produces attestation evidence for the key, binding challenge.
	// Backends without attestation return ErrAttestationUnsupported.
	Attest(ctx context.Context, handle KeyHandle, challenge []byte) (*Attestation, error)

	// DeleteKey removes the key. Deleting an already-deleted handle is not
	// an error.
	DeleteKey(ctx context.Context, handle KeyHandle) error
}
