// ABOUTME: Closed table of elliptic curve identifiers with COSE registry codes
// ABOUTME: Lookup by code, bit size and canonical name projections, COSE signature algorithm mapping

package curve

import (
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// ErrUnknownCurve is returned when a COSE registry code is not in the table
var ErrUnknownCurve = errors.New("unknown curve identifier")

// Curve identifies an elliptic curve. The numeric value is the curve's
// COSE registry code, so values round-trip through wire encodings unchanged.
type Curve int

// Known curves. Codes follow the COSE elliptic curve registry; the Brainpool
// codes are the private-range assignments used by mdoc implementations.
// Codes and names must never be renumbered or renamed: already-issued keys
// reference them.
const (
	P256            Curve = 1
	P384            Curve = 2
	P521            Curve = 3
	X25519          Curve = 4
	X448            Curve = 5
	Ed25519         Curve = 6
	Ed448           Curve = 7
	BrainpoolP256R1 Curve = -65537
	BrainpoolP320R1 Curve = -65538
	BrainpoolP384R1 Curve = -65539
	BrainpoolP512R1 Curve = -65540
)

type curveInfo struct {
	bitSize int
	name    string
	sigAlg  webauthncose.COSEAlgorithmIdentifier // 0 = agreement-only curve
}

var curves = map[Curve]curveInfo{
	P256:            {256, "secp256r1", webauthncose.AlgES256},
	P384:            {384, "secp384r1", webauthncose.AlgES384},
	P521:            {521, "secp521r1", webauthncose.AlgES512},
	X25519:          {256, "x25519", 0},
	X448:            {448, "x448", 0},
	Ed25519:         {256, "ed25519", webauthncose.AlgEdDSA},
	Ed448:           {448, "ed448", webauthncose.AlgEdDSA},
	BrainpoolP256R1: {256, "brainpoolP256r1", webauthncose.AlgES256},
	BrainpoolP320R1: {320, "brainpoolP320r1", webauthncose.AlgES256},
	BrainpoolP384R1: {384, "brainpoolP384r1", webauthncose.AlgES384},
	BrainpoolP512R1: {512, "brainpoolP512r1", webauthncose.AlgES512},
}

// FromCOSE returns the curve for a COSE registry code.
// Returns ErrUnknownCurve for any code outside the table.
func FromCOSE(code int) (Curve, error) {
	c := Curve(code)
	if _, ok := curves[c]; !ok {
		return 0, fmt.Errorf("%w: COSE code %d", ErrUnknownCurve, code)
	}
	return c, nil
}

// COSE returns the curve's COSE registry code.
func (c Curve) COSE() int {
	return int(c)
}

// Known reports whether the curve is in the registry.
func (c Curve) Known() bool {
	_, ok := curves[c]
	return ok
}

// BitSize returns the curve's key size in bits.
func (c Curve) BitSize() int {
	return curves[c].bitSize
}

// Name returns the curve's canonical (SEC/RFC) name, or "" if unknown.
func (c Curve) Name() string {
	return curves[c].name
}

func (c Curve) String() string {
	if info, ok := curves[c]; ok {
		return info.name
	}
	return fmt.Sprintf("curve(%d)", int(c))
}

// SignatureAlgorithm returns the COSE algorithm identifier used when signing
// with this curve. The second result is false for agreement-only curves
// (X25519, X448).
func (c Curve) SignatureAlgorithm() (webauthncose.COSEAlgorithmIdentifier, bool) {
	info := curves[c]
	return info.sigAlg, info.sigAlg != 0
}

// All returns every curve in the registry. Order is unspecified.
func All() []Curve {
	out := make([]Curve, 0, len(curves))
	for c := range curves {
		out = append(out, c)
	}
	return out
}
