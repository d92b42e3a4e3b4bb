// Package transport is the authenticated REST transport the session
// factory uses to request and report on data keys. It signs every request
// with the caller's secret signing key: canonicalize the request, sign the
// canonical bytes, attach the signature as a header triple. The canonical
// form is HMAC-SHA256 over method, path, timestamp, and body digest, since
// the service dictates a fixed auth scheme rather than negotiating one.
package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sage-x-project/ubiq/internal/errs"
	"github.com/sage-x-project/ubiq/internal/metrics"
)

// Client is a small REST client bound to one access key / secret signing
// key pair, wrapping a base URL and a configurable *http.Client.
type Client struct {
	baseURL          string
	accessKeyID      string
	secretSigningKey string
	bearerToken      string
	httpClient       *http.Client
}

// New builds a Client targeting host, authenticating with accessKeyID and
// secretSigningKey.
func New(host, accessKeyID, secretSigningKey string) *Client {
	return &Client{
		baseURL:          host,
		accessKeyID:      accessKeyID,
		secretSigningKey: secretSigningKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient overrides the underlying *http.Client, e.g. for tests that
// point at an httptest.Server or for callers wanting custom TLS/proxy
// settings.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithBearerToken attaches an optional JWT bearer token on top of the
// HTTP-signature auth, for deployments that front the API with an
// additional OIDC layer.
func (c *Client) WithBearerToken(token string) *Client {
	c.bearerToken = token
	return c
}

// ParseBearerClaims validates and decodes a JWT bearer token's claims,
// exposed so CLI/config layers can sanity-check a configured token before
// handing it to WithBearerToken.
func ParseBearerClaims(token, hmacSecret string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(hmacSecret), nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.TransportFailure, "invalid bearer token", err)
	}
	return claims, nil
}

// do signs and issues an HTTP request, returning the raw response body when
// the status equals expectStatus. Any other status, including a different
// 2xx, is reported as TransportFailure with the body included for
// diagnostics.
func (c *Client) do(ctx context.Context, method, path string, body []byte, expectStatus int) ([]byte, error) {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.RESTLatency.WithLabelValues(path, status).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.TransportFailure, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ubiq-Request-Id", uuid.NewString())

	if err := c.sign(req, body); err != nil {
		return nil, err
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.TransportFailure, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.TransportFailure, "reading response body", err)
	}

	if resp.StatusCode != expectStatus {
		return nil, errs.New(errs.TransportFailure,
			fmt.Sprintf("unexpected status %d (want %d): %s", resp.StatusCode, expectStatus, string(respBody)))
	}
	status = "ok"
	return respBody, nil
}

// sign attaches an Ubiq-Access-Key / Ubiq-Signature / Ubiq-Timestamp header
// triple, HMAC-SHA256 over "{method}\n{path}\n{timestamp}\n{sha256(body)}".
func (c *Client) sign(req *http.Request, body []byte) error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	bodyDigest := sha256.Sum256(body)

	canonical := req.Method + "\n" + req.URL.Path + "\n" + ts + "\n" + hex.EncodeToString(bodyDigest[:])

	mac := hmac.New(sha256.New, []byte(c.secretSigningKey))
	if _, err := mac.Write([]byte(canonical)); err != nil {
		return errs.Wrap(errs.TransportFailure, "signing request", err)
	}

	req.Header.Set("Ubiq-Access-Key", c.accessKeyID)
	req.Header.Set("Ubiq-Timestamp", ts)
	req.Header.Set("Ubiq-Signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return nil
}

// CreateKeyRequest is the body of POST /api/v0/encryption/key.
type CreateKeyRequest struct {
	Uses int `json:"uses"`
}

// SecurityModel mirrors the server's security_model response object.
type SecurityModel struct {
	Algorithm               string `json:"algorithm"`
	EnableDataFragmentation bool   `json:"enable_data_fragmentation"`
}

// CreateKeyResponse is the decoded body of a successful key-create call.
type CreateKeyResponse struct {
	EncryptedPrivateKey string        `json:"encrypted_private_key"`
	EncryptionSession   string        `json:"encryption_session"`
	KeyFingerprint      string        `json:"key_fingerprint"`
	WrappedDataKey      string        `json:"wrapped_data_key"`
	EncryptedDataKey    string        `json:"encrypted_data_key"`
	MaxUses             int           `json:"max_uses"`
	SecurityModel       SecurityModel `json:"security_model"`
}

// CreateKey requests a data key good for uses encryptions.
func (c *Client) CreateKey(ctx context.Context, uses int) (CreateKeyResponse, error) {
	body, err := json.Marshal(CreateKeyRequest{Uses: uses})
	if err != nil {
		return CreateKeyResponse{}, errs.Wrap(errs.InvalidArgument, "marshaling create-key request", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/api/v0/encryption/key", body, http.StatusCreated)
	if err != nil {
		return CreateKeyResponse{}, err
	}

	var resp CreateKeyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return CreateKeyResponse{}, errs.Wrap(errs.ProtocolViolation, "decoding create-key response", err)
	}
	return resp, nil
}

// FetchDecryptionKeyRequest is the body of POST /api/v0/decryption/key: the
// wrapped data key exactly as embedded in a ciphertext frame's header,
// base64-encoded, so the server can look up (or re-derive) the matching
// encrypted private key material.
type FetchDecryptionKeyRequest struct {
	EncryptedDataKey string `json:"encrypted_data_key"`
}

// FetchDecryptionKey mirrors CreateKey for the decrypt path: given the
// wrapped data key from a ciphertext header, it returns the passphrase
// -encrypted RSA private key needed to unwrap it.
func (c *Client) FetchDecryptionKey(ctx context.Context, wrappedKey []byte) (CreateKeyResponse, error) {
	body, err := json.Marshal(FetchDecryptionKeyRequest{
		EncryptedDataKey: base64.StdEncoding.EncodeToString(wrappedKey),
	})
	if err != nil {
		return CreateKeyResponse{}, errs.Wrap(errs.InvalidArgument, "marshaling decryption-key request", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/api/v0/decryption/key", body, http.StatusOK)
	if err != nil {
		return CreateKeyResponse{}, err
	}

	var resp CreateKeyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return CreateKeyResponse{}, errs.Wrap(errs.ProtocolViolation, "decoding decryption-key response", err)
	}
	return resp, nil
}

// ReportUsageRequest is the body of the usage-report PATCH.
type ReportUsageRequest struct {
	Requested int `json:"requested"`
	Actual    int `json:"actual"`
}

// ReportUsage tells the server how many of the allotted uses were actually
// consumed for the key identified by fingerprint/session.
func (c *Client) ReportUsage(ctx context.Context, fingerprint, session string, requested, actual int) error {
	body, err := json.Marshal(ReportUsageRequest{Requested: requested, Actual: actual})
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "marshaling usage report", err)
	}

	path := fmt.Sprintf("/api/v0/encryption/key/%s/%s", fingerprint, session)
	_, err = c.do(ctx, http.MethodPatch, path, body, http.StatusNoContent)
	return err
}
