// ABOUTME: HTTP/JSON server exposing a secure area over the key service protocol
// ABOUTME: Routes create/sign/agree/attest/delete to the backing SecureArea with typed error mapping

package keyservice

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/identity-vault/internal/curve"
	"github.com/2389/identity-vault/internal/securearea"
)

// Service serves the key service protocol over a backing secure area.
type Service struct {
	area   securearea.SecureArea
	secret []byte
	logger *slog.Logger
}

// New creates a key service over area, authenticating clients with secret.
func New(area securearea.SecureArea, secret []byte) *Service {
	return &Service{
		area:   area,
		secret: secret,
		logger: slog.Default().With("component", "keyservice"),
	}
}

// Handler returns the HTTP handler for the service.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/keys", s.requireAuth(s.handleCreateKey))
	mux.HandleFunc("POST /v1/keys/{handle}/sign", s.requireAuth(s.handleSign))
	mux.HandleFunc("POST /v1/keys/{handle}/agree", s.requireAuth(s.handleAgree))
	mux.HandleFunc("POST /v1/keys/{handle}/attest", s.requireAuth(s.handleAttest))
	mux.HandleFunc("DELETE /v1/keys/{handle}", s.requireAuth(s.handleDeleteKey))
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": s.area.Identifier()})
}

func (s *Service) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	c, err := curve.FromCOSE(req.Curve)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeUnknownCurve, err.Error())
		return
	}

	settings := &securearea.CreateKeySettings{
		Curve:     c,
		Challenge: req.Challenge,
	}
	for _, p := range req.Purposes {
		settings.Purposes = append(settings.Purposes, securearea.KeyPurpose(p))
	}

	info, err := s.area.CreateKey(r.Context(), settings)
	if err != nil {
		s.writeAreaError(w, err)
		return
	}

	s.logger.Info("key created",
		"handle", string(info.Handle),
		"curve", c.Name(),
		"client", r.Header.Get("X-Client-ID"))
	writeJSON(w, http.StatusCreated, createKeyResponse{
		Handle:    string(info.Handle),
		Curve:     info.Curve.COSE(),
		PublicKey: info.PublicKey,
	})
}

func (s *Service) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	sig, err := s.area.Sign(r.Context(), securearea.KeyHandle(r.PathValue("handle")), req.Message)
	if err != nil {
		s.writeAreaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signResponse{Signature: sig})
}

func (s *Service) handleAgree(w http.ResponseWriter, r *http.Request) {
	var req agreeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	secret, err := s.area.KeyAgreement(r.Context(), securearea.KeyHandle(r.PathValue("handle")), req.PeerPublicKey)
	if err != nil {
		s.writeAreaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agreeResponse{SharedSecret: secret})
}

func (s *Service) handleAttest(w http.ResponseWriter, r *http.Request) {
	var req attestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	att, err := s.area.Attest(r.Context(), securearea.KeyHandle(r.PathValue("handle")), req.Challenge)
	if err != nil {
		s.writeAreaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attestResponse{Statement: att.Statement, Signature: att.Signature})
}

func (s *Service) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := s.area.DeleteKey(r.Context(), securearea.KeyHandle(r.PathValue("handle"))); err != nil {
		s.writeAreaError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeAreaError maps secure area errors to protocol error codes.
func (s *Service) writeAreaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, securearea.ErrUnsupportedCurve):
		writeError(w, http.StatusBadRequest, codeUnsupportedCurve, err.Error())
	case errors.Is(err, securearea.ErrKeyNotFound):
		writeError(w, http.StatusNotFound, codeKeyNotFound, err.Error())
	case errors.Is(err, securearea.ErrAttestationUnsupported):
		writeError(w, http.StatusNotImplemented, codeAttestationUnsupported, err.Error())
	case errors.Is(err, securearea.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, err.Error())
	default:
		s.logger.Error("backend operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "backend operation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
