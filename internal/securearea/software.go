// ABOUTME: Software secure area backed by stdlib crypto with wrapped key storage
// ABOUTME: Key material is AES-GCM encrypted at rest under HKDF-derived per-key wrapping keys

package securearea

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/2389/identity-vault/internal/curve"
)

const wrapInfo = "identity-vault software key wrap v1"

// softwareKey holds one key at rest. The private key (PKCS#8 DER) is
// AES-GCM encrypted under a wrapping key derived from the area's master
// secret and the key's handle.
type softwareKey struct {
	curve      curve.Curve
	wrapped    []byte // nonce || ciphertext
	publicKey  []byte // SubjectPublicKeyInfo, DER
	forSigning bool
}

// SoftwareSecureArea implements SecureArea with keys held in process memory,
// wrapped at rest. Suitable for tests and for platforms without hardware
// key storage.
type SoftwareSecureArea struct {
	mu     sync.Mutex
	keys   map[KeyHandle]*softwareKey
	master []byte
	attest ed25519.PrivateKey
	logger *slog.Logger
}

// NewSoftwareSecureArea creates a software area. masterSecret wraps key
// material at rest; pass nil to generate an ephemeral one.
func NewSoftwareSecureArea(masterSecret []byte) (*SoftwareSecureArea, error) {
	if masterSecret == nil {
		masterSecret = make([]byte, 32)
		if _, err := rand.Read(masterSecret); err != nil {
			return nil, fmt.Errorf("generating master secret: %w", err)
		}
	}
	_, attestPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating attestation key: %w", err)
	}
	return &SoftwareSecureArea{
		keys:   make(map[KeyHandle]*softwareKey),
		master: masterSecret,
		attest: attestPriv,
		logger: slog.Default().With("component", "securearea", "backend", "software"),
	}, nil
}

// Identifier implements SecureArea.
func (s *SoftwareSecureArea) Identifier() string { return "software" }

// AttestationPublicKey returns the Ed25519 key that signs attestation
// statements, for verifiers.
func (s *SoftwareSecureArea) AttestationPublicKey() ed25519.PublicKey {
	return s.attest.Public().(ed25519.PublicKey)
}

// CreateKey implements SecureArea. Supported curves: P-256, P-384, P-521,
// Ed25519, X25519. Brainpool and the 448-bit curves have no stdlib
// implementation and return ErrUnsupportedCurve.
func (s *SoftwareSecureArea) CreateKey(ctx context.Context, settings *CreateKeySettings) (*KeyInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	priv, err := generateKey(settings.Curve)
	if err != nil {
		return nil, err
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("encoding private key: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(publicOf(priv))
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}

	handle := KeyHandle(uuid.New().String())
	wrapped, err := s.wrap(handle, der)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.keys[handle] = &softwareKey{
		curve:      settings.Curve,
		wrapped:    wrapped,
		publicKey:  pub,
		forSigning: settings.ForSigning(),
	}
	s.mu.Unlock()

	s.logger.Debug("key created", "handle", string(handle), "curve", settings.Curve.Name())
	return &KeyInfo{Handle: handle, Curve: settings.Curve, PublicKey: pub}, nil
}

// Sign implements SecureArea.
func (s *SoftwareSecureArea) Sign(ctx context.Context, handle KeyHandle, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, priv, err := s.unwrap(handle)
	if err != nil {
		return nil, err
	}

	switch k := priv.(type) {
	case *ecdsa.PrivateKey:
		digest := digestFor(key.curve, message)
		sig, err := ecdsa.SignASN1(rand.Reader, k, digest)
		if err != nil {
			return nil, fmt.Errorf("signing with %s: %w", key.curve.Name(), err)
		}
		return sig, nil
	case ed25519.PrivateKey:
		return ed25519.Sign(k, message), nil
	default:
		return nil, fmt.Errorf("%w: %s key cannot sign", ErrUnsupportedCurve, key.curve.Name())
	}
}

// KeyAgreement implements SecureArea.
func (s *SoftwareSecureArea) KeyAgreement(ctx context.Context, handle KeyHandle, peerPublicKey []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, priv, err := s.unwrap(handle)
	if err != nil {
		return nil, err
	}

	var ecdhPriv *ecdh.PrivateKey
	switch k := priv.(type) {
	case *ecdsa.PrivateKey:
		ecdhPriv, err = k.ECDH()
		if err != nil {
			return nil, fmt.Errorf("converting key for agreement: %w", err)
		}
	case *ecdh.PrivateKey:
		ecdhPriv = k
	default:
		return nil, fmt.Errorf("%w: key cannot perform agreement", ErrUnsupportedCurve)
	}

	parsed, err := x509.ParsePKIXPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("parsing peer public key: %w", err)
	}
	var peer *ecdh.PublicKey
	switch p := parsed.(type) {
	case *ecdsa.PublicKey:
		peer, err = p.ECDH()
		if err != nil {
			return nil, fmt.Errorf("converting peer key for agreement: %w", err)
		}
	case *ecdh.PublicKey:
		peer = p
	default:
		return nil, fmt.Errorf("peer public key type %T not usable for agreement", parsed)
	}

	secret, err := ecdhPriv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}
	return secret, nil
}

// Attest implements SecureArea. Evidence is signed by the area's Ed25519
// attestation key.
func (s *SoftwareSecureArea) Attest(ctx context.Context, handle KeyHandle, challenge []byte) (*Attestation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	key, ok := s.keys[handle]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, handle)
	}

	stmt, err := NewAttestationStatement(s.Identifier(), &KeyInfo{
		Handle:    handle,
		Curve:     key.curve,
		PublicKey: key.publicKey,
	}, challenge, time.Now())
	if err != nil {
		return nil, err
	}
	return &Attestation{
		Statement: stmt,
		Signature: ed25519.Sign(s.attest, stmt),
	}, nil
}

// DeleteKey implements SecureArea. Idempotent.
func (s *SoftwareSecureArea) DeleteKey(ctx context.Context, handle KeyHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.keys, handle)
	s.mu.Unlock()
	return nil
}

// wrap encrypts a PKCS#8 blob under a per-handle wrapping key.
func (s *SoftwareSecureArea) wrap(handle KeyHandle, der []byte) ([]byte, error) {
	gcm, err := s.wrappingCipher(handle)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return append(nonce, gcm.Seal(nil, nonce, der, nil)...), nil
}

// unwrap decrypts and parses a stored key.
func (s *SoftwareSecureArea) unwrap(handle KeyHandle) (*softwareKey, any, error) {
	s.mu.Lock()
	key, ok := s.keys[handle]
	s.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrKeyNotFound, handle)
	}

	gcm, err := s.wrappingCipher(handle)
	if err != nil {
		return nil, nil, err
	}
	ns := gcm.NonceSize()
	if len(key.wrapped) < ns {
		return nil, nil, fmt.Errorf("wrapped key for %s is truncated", handle)
	}
	der, err := gcm.Open(nil, key.wrapped[:ns], key.wrapped[ns:], nil)
	if err != nil {
		return nil, nil, fmt.Errorf("unwrapping key %s: %w", handle, err)
	}
	priv, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing key %s: %w", handle, err)
	}
	return key, priv, nil
}

func (s *SoftwareSecureArea) wrappingCipher(handle KeyHandle) (cipher.AEAD, error) {
	kdf := hkdf.New(sha256.New, s.master, []byte(handle), []byte(wrapInfo))
	wk := make([]byte, 32)
	if _, err := io.ReadFull(kdf, wk); err != nil {
		return nil, fmt.Errorf("deriving wrapping key: %w", err)
	}
	block, err := aes.NewCipher(wk)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

func generateKey(c curve.Curve) (any, error) {
	switch c {
	case curve.P256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case curve.P384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case curve.P521:
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case curve.Ed25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	case curve.X25519:
		return ecdh.X25519().GenerateKey(rand.Reader)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurve, c)
	}
}

func publicOf(priv any) any {
	switch k := priv.(type) {
	case *ecdsa.PrivateKey:
		return &k.PublicKey
	case ed25519.PrivateKey:
		return k.Public()
	case *ecdh.PrivateKey:
		return k.PublicKey()
	default:
		return nil
	}
}

func digestFor(c curve.Curve, message []byte) []byte {
	switch c {
	case curve.P384:
		d := sha512.Sum384(message)
		return d[:]
	case curve.P521:
		d := sha512.Sum512(message)
		return d[:]
	default:
		d := sha256.Sum256(message)
		return d[:]
	}
}
