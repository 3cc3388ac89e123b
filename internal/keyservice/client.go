// ABOUTME: Remote secure area client speaking the key service HTTP/JSON protocol
// ABOUTME: Implements securearea.SecureArea; network failures surface as ErrUnavailable

package keyservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/identity-vault/internal/securearea"
)

// Client is the remote secure area variant: keys live in a key service
// reached over HTTP, authenticated with short-lived HS256 bearer tokens.
type Client struct {
	baseURL  string
	clientID string
	secret   []byte
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a remote secure area for the key service at baseURL.
func NewClient(baseURL, clientID string, secret []byte) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		secret:   secret,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default().With("component", "securearea", "backend", "remote"),
	}
}

// Identifier implements securearea.SecureArea.
func (c *Client) Identifier() string { return "remote" }

// CreateKey implements securearea.SecureArea.
func (c *Client) CreateKey(ctx context.Context, settings *securearea.CreateKeySettings) (*securearea.KeyInfo, error) {
	req := createKeyRequest{
		Curve:     settings.Curve.COSE(),
		Challenge: settings.Challenge,
	}
	for _, p := range settings.Purposes {
		req.Purposes = append(req.Purposes, string(p))
	}

	var resp createKeyResponse
	if err := c.do(ctx, http.MethodPost, "/v1/keys", req, &resp); err != nil {
		return nil, err
	}
	return &securearea.KeyInfo{
		Handle:    securearea.KeyHandle(resp.Handle),
		Curve:     settings.Curve,
		PublicKey: resp.PublicKey,
	}, nil
}

// Sign implements securearea.SecureArea.
func (c *Client) Sign(ctx context.Context, handle securearea.KeyHandle, message []byte) ([]byte, error) {
	var resp signResponse
	if err := c.do(ctx, http.MethodPost, c.keyPath(handle, "sign"), signRequest{Message: message}, &resp); err != nil {
		return nil, err
	}
	return resp.Signature, nil
}

// KeyAgreement implements securearea.SecureArea.
func (c *Client) KeyAgreement(ctx context.Context, handle securearea.KeyHandle, peerPublicKey []byte) ([]byte, error) {
	var resp agreeResponse
	if err := c.do(ctx, http.MethodPost, c.keyPath(handle, "agree"), agreeRequest{PeerPublicKey: peerPublicKey}, &resp); err != nil {
		return nil, err
	}
	return resp.SharedSecret, nil
}

// Attest implements securearea.SecureArea.
func (c *Client) Attest(ctx context.Context, handle securearea.KeyHandle, challenge []byte) (*securearea.Attestation, error) {
	var resp attestResponse
	if err := c.do(ctx, http.MethodPost, c.keyPath(handle, "attest"), attestRequest{Challenge: challenge}, &resp); err != nil {
		return nil, err
	}
	return &securearea.Attestation{Statement: resp.Statement, Signature: resp.Signature}, nil
}

// DeleteKey implements securearea.SecureArea. Idempotent: the service
// treats deleting an unknown handle as success.
func (c *Client) DeleteKey(ctx context.Context, handle securearea.KeyHandle) error {
	return c.do(ctx, http.MethodDelete, "/v1/keys/"+url.PathEscape(string(handle)), nil, nil)
}

func (c *Client) keyPath(handle securearea.KeyHandle, op string) string {
	return "/v1/keys/" + url.PathEscape(string(handle)) + "/" + op
}

// do performs one authenticated request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	token, err := MintToken(c.secret, c.clientID, time.Now())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", securearea.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.errorFrom(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// errorFrom maps a protocol error response back to the securearea sentinels.
func (c *Client) errorFrom(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch body.Code {
	case codeUnsupportedCurve, codeUnknownCurve:
		return fmt.Errorf("%w: %s", securearea.ErrUnsupportedCurve, body.Message)
	case codeKeyNotFound:
		return fmt.Errorf("%w: %s", securearea.ErrKeyNotFound, body.Message)
	case codeAttestationUnsupported:
		return securearea.ErrAttestationUnsupported
	case codeUnavailable:
		return fmt.Errorf("%w: %s", securearea.ErrUnavailable, body.Message)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: key service returned %d", securearea.ErrUnavailable, resp.StatusCode)
	}
	c.logger.Debug("unexpected key service error", "status", resp.StatusCode, "code", body.Code)
	return fmt.Errorf("key service error %d: %s", resp.StatusCode, body.Message)
}
