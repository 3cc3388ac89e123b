// ABOUTME: Attestation evidence structure shared by secure area backends
// ABOUTME: CBOR-encoded statement binding a key, its curve/algorithm, and a challenge

package securearea

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"

	"github.com/2389/identity-vault/internal/curve"
)

// AttestationStatement is the signed portion of attestation evidence.
type AttestationStatement struct {
	Backend   string                               `cbor:"1,keyasint"`
	Curve     int                                  `cbor:"2,keyasint"`
	Algorithm webauthncose.COSEAlgorithmIdentifier `cbor:"3,keyasint,omitempty"`
	PublicKey []byte                               `cbor:"4,keyasint"`
	Challenge []byte                               `cbor:"5,keyasint,omitempty"`
	CreatedAt int64                                `cbor:"6,keyasint"` // unix seconds
}

// Attestation is evidence that a key lives in a particular backend.
// Statement is the CBOR encoding of an AttestationStatement; Signature is
// over Statement by the backend's attestation key.
type Attestation struct {
	Statement []byte `cbor:"statement"`
	Signature []byte `cbor:"signature"`
}

// NewAttestationStatement builds and CBOR-encodes a statement for a key.
func NewAttestationStatement(backend string, info *KeyInfo, challenge []byte, now time.Time) ([]byte, error) {
	stmt := AttestationStatement{
		Backend:   backend,
		Curve:     info.Curve.COSE(),
		PublicKey: info.PublicKey,
		Challenge: challenge,
		CreatedAt: now.Unix(),
	}
	if alg, ok := info.Curve.SignatureAlgorithm(); ok {
		stmt.Algorithm = alg
	}
	data, err := cbor.Marshal(&stmt)
	if err != nil {
		return nil, fmt.Errorf("encoding attestation statement: %w", err)
	}
	return data, nil
}

// DecodeAttestationStatement parses a CBOR attestation statement and checks
// that its curve is in the registry.
func DecodeAttestationStatement(data []byte) (*AttestationStatement, error) {
	var stmt AttestationStatement
	if err := cbor.Unmarshal(data, &stmt); err != nil {
		return nil, fmt.Errorf("decoding attestation statement: %w", err)
	}
	if _, err := curve.FromCOSE(stmt.Curve); err != nil {
		return nil, err
	}
	return &stmt, nil
}
