// Package decrypt is the symmetric decryption core: it mirrors session in
// reverse (header parse, key unwrap with cache, AEAD decrypt/verify).
// Repeated decryptions under the same wrapped data key skip the RSA unwrap
// and REST round trip entirely by hitting the shared unwrap-result cache.
package decrypt

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/sage-x-project/ubiq/cache"
	"github.com/sage-x-project/ubiq/credentials"
	"github.com/sage-x-project/ubiq/header"
	"github.com/sage-x-project/ubiq/internal/errs"
	"github.com/sage-x-project/ubiq/internal/gcmstream"
	"github.com/sage-x-project/ubiq/internal/metrics"
	"github.com/sage-x-project/ubiq/internal/pemkey"
	"github.com/sage-x-project/ubiq/transport"
)

// unwrapCacheTTLSeconds bounds how long an unwrapped data key stays
// memoized before the next decryption re-fetches and re-unwraps it.
const unwrapCacheTTLSeconds = 3600

// cachedKey is the cache value for a memoized unwrap: the raw AEAD key
// only. It implements cache.Closer so eviction zeroizes the key material.
type cachedKey struct {
	raw []byte
}

func (c cachedKey) Close() error {
	for i := range c.raw {
		c.raw[i] = 0
	}
	return nil
}

// cacheFingerprint derives the unwrap cache's lookup key from wrappedKey via
// HKDF-SHA256, binding it to a fixed context string rather than using the
// wrapped key's bytes directly as a map key.
func cacheFingerprint(wrappedKey []byte) (string, error) {
	r := hkdf.New(sha256.New, wrappedKey, nil, []byte("ubiq-decrypt-unwrap-cache"))
	out := make([]byte, 16)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", errs.Wrap(errs.CryptoFailure, "deriving cache fingerprint", err)
	}
	return hex.EncodeToString(out), nil
}

// Decryptor holds the shared cache and REST client used to unwrap data
// keys referenced by ciphertext headers. One Decryptor may safely back
// many concurrent decrypt Sessions; the underlying cache is safe for
// concurrent readers.
type Decryptor struct {
	client *transport.Client
	creds  credentials.Credentials
	cache  *cache.Cache
}

// New builds a Decryptor bound to client and creds, with its own
// unwrap-result cache.
func New(client *transport.Client, creds credentials.Credentials) (*Decryptor, error) {
	if client == nil {
		return nil, errs.New(errs.InvalidArgument, "decrypt: transport client is required")
	}
	return &Decryptor{
		client: client,
		creds:  creds,
		cache:  cache.New(),
	}, nil
}

// Close releases the Decryptor's cache, zeroizing every memoized key.
func (d *Decryptor) Close() error {
	return d.cache.Close()
}

// StartSweeper launches a background goroutine that sweeps expired cache
// entries every interval until ctx is done, zeroizing unwrap keys promptly
// instead of waiting for the next Find/Insert to notice the expiry. It
// returns immediately; the sweeper stops itself when ctx is canceled.
func (d *Decryptor) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = d.cache.Sweep(ctx)
			}
		}
	}()
}

// unwrap resolves wrappedKey to its plaintext AEAD key, first checking the
// cache and falling back to a decryption-key REST call plus RSA-OAEP
// unwrap on miss.
func (d *Decryptor) unwrap(ctx context.Context, wrappedKey []byte) ([]byte, error) {
	cacheKey, err := cacheFingerprint(wrappedKey)
	if err != nil {
		return nil, err
	}

	if v, ok := d.cache.Find(cacheKey); ok {
		metrics.CacheHits.Inc()
		ck := v.(cachedKey)
		raw := make([]byte, len(ck.raw))
		copy(raw, ck.raw)
		return raw, nil
	}
	metrics.CacheMisses.Inc()

	resp, err := d.client.FetchDecryptionKey(ctx, wrappedKey)
	if err != nil {
		return nil, err
	}

	privKey, err := pemkey.DecryptRSAPrivateKey(resp.EncryptedPrivateKey, d.creds.SRSA)
	if err != nil {
		return nil, err
	}

	raw, err := rsa.DecryptOAEP(sha256.New(), nil, privKey, wrappedKey, nil)
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, "rsa-oaep unwrap of data key", err)
	}

	cached := make([]byte, len(raw))
	copy(cached, raw)
	if err := d.cache.Insert(cacheKey, unwrapCacheTTLSeconds, cachedKey{raw: cached}); err != nil {
		return nil, err
	}

	return raw, nil
}

// Session is the decrypt-side mirror of session.Session: Begin parses the
// frame header and resolves the data key, Update decrypts ciphertext
// fragments as they arrive, and End verifies the authentication tag.
type Session struct {
	mu sync.Mutex

	d *Decryptor

	rawKey []byte
	iv     []byte
	tagLen int

	block      cipher.Block
	aead       cipher.AEAD
	ctrStream  cipher.Stream
	ciphertext []byte // accumulated so End can verify the real GCM tag
	active     bool
}

// NewSession creates a decrypt session bound to d's cache and client.
func (d *Decryptor) NewSession() *Session {
	return &Session{d: d}
}

// Begin parses frameHeader and resolves the data key (via cache or REST +
// RSA-OAEP unwrap), arming the session to decrypt a matching ciphertext
// body.
func (s *Session) Begin(ctx context.Context, frameHeader []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return errs.New(errs.StateError, "session already active")
	}

	h, _, err := header.Decode(frameHeader)
	if err != nil {
		return err
	}

	rawKey, err := s.d.unwrap(ctx, h.WrappedKey)
	if err != nil {
		return err
	}
	if len(rawKey) != h.Algorithm.KeyLen {
		return errs.New(errs.CryptoFailure, "unwrapped key length does not match header algorithm")
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return errs.Wrap(errs.CryptoFailure, "initializing aes block cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return errs.Wrap(errs.CryptoFailure, "initializing gcm", err)
	}
	ctrStream, err := gcmstream.New(block, h.IV)
	if err != nil {
		return err
	}

	s.rawKey = rawKey
	s.iv = h.IV
	s.tagLen = h.Algorithm.TagLen
	s.block = block
	s.aead = aead
	s.ctrStream = ctrStream
	s.ciphertext = nil
	s.active = true
	return nil
}

// Update decrypts one ciphertext fragment and returns the matching
// plaintext fragment. The plaintext is not authenticated until End
// succeeds — exactly the streaming guarantee OpenSSL's EVP_DecryptUpdate
// gives, which this mirrors.
func (s *Session) Update(ct []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil, errs.New(errs.StateError, "update called without an active begin")
	}

	pt := make([]byte, len(ct))
	s.ctrStream.XORKeyStream(pt, ct)
	s.ciphertext = append(s.ciphertext, ct...)
	metrics.DecryptBytes.Add(float64(len(ct)))
	return pt, nil
}

// End verifies tag against the accumulated ciphertext. A mismatched tag —
// from tampering with either the body or the tag itself — reports
// CryptoFailure and the session returns to idle either way.
func (s *Session) End(tag []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return errs.New(errs.StateError, "end called without an active begin")
	}

	sealed := make([]byte, 0, len(s.ciphertext)+len(tag))
	sealed = append(sealed, s.ciphertext...)
	sealed = append(sealed, tag...)

	_, err := s.aead.Open(nil, s.iv, sealed, nil)

	for i := range s.rawKey {
		s.rawKey[i] = 0
	}
	s.rawKey = nil
	s.block = nil
	s.aead = nil
	s.ctrStream = nil
	s.ciphertext = nil
	s.active = false

	if err != nil {
		metrics.AEADFailures.Inc()
		return errs.Wrap(errs.CryptoFailure, "authentication tag verification failed", err)
	}
	return nil
}

// DecryptFrame is the one-shot convenience used by the package-level
// Decrypt helper: parse header, decrypt body, verify tag, all in one call.
func (d *Decryptor) DecryptFrame(ctx context.Context, frame []byte) ([]byte, error) {
	h, n, err := header.Decode(frame)
	if err != nil {
		return nil, err
	}
	if len(frame) < n+h.Algorithm.TagLen {
		return nil, errs.New(errs.ProtocolViolation, "frame shorter than body plus tag")
	}

	body := frame[n : len(frame)-h.Algorithm.TagLen]
	tag := frame[len(frame)-h.Algorithm.TagLen:]

	s := d.NewSession()
	if err := s.Begin(ctx, frame[:n]); err != nil {
		return nil, err
	}

	pt, err := s.Update(body)
	if err != nil {
		return nil, err
	}
	if err := s.End(tag); err != nil {
		return nil, err
	}
	return pt, nil
}
