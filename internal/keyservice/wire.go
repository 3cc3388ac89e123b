// ABOUTME: Wire types for the key service HTTP/JSON protocol
// ABOUTME: Shared between the server handlers and the remote secure area client

package keyservice

// Error codes carried in errorResponse.Code.
const (
	codeUnknownCurve           = "unknown_curve"
	codeUnsupportedCurve       = "unsupported_curve"
	codeKeyNotFound            = "key_not_found"
	codeAttestationUnsupported = "attestation_unsupported"
	codeUnavailable            = "unavailable"
	codeBadRequest             = "bad_request"
	codeInternal               = "internal"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createKeyRequest struct {
	Curve     int      `json:"curve"` // COSE registry code
	Purposes  []string `json:"purposes,omitempty"`
	Challenge []byte   `json:"challenge,omitempty"`
}

type createKeyResponse struct {
	Handle    string `json:"handle"`
	Curve     int    `json:"curve"`
	PublicKey []byte `json:"public_key"`
}

type signRequest struct {
	Message []byte `json:"message"`
}

type signResponse struct {
	Signature []byte `json:"signature"`
}

type agreeRequest struct {
	PeerPublicKey []byte `json:"peer_public_key"`
}

type agreeResponse struct {
	SharedSecret []byte `json:"shared_secret"`
}

type attestRequest struct {
	Challenge []byte `json:"challenge,omitempty"`
}

type attestResponse struct {
	Statement []byte `json:"statement"`
	Signature []byte `json:"signature"`
}
