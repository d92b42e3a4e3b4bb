package decrypt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/ubiq/cache"
	"github.com/sage-x-project/ubiq/credentials"
	"github.com/sage-x-project/ubiq/session"
	"github.com/sage-x-project/ubiq/transport"
)

type fakeServerKey struct {
	privPEM        []byte
	wrappedDataKey []byte
}

func newFakeServerKey(t *testing.T, srsa string) fakeServerKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der := x509.MarshalPKCS1PrivateKey(priv)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	encBlock, err := x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, []byte(srsa), x509.PEMCipherAES256) //nolint:staticcheck
	require.NoError(t, err)

	rawKey := make([]byte, 32)
	_, err = rand.Read(rawKey)
	require.NoError(t, err)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &priv.PublicKey, rawKey, nil)
	require.NoError(t, err)

	return fakeServerKey{
		privPEM:        pem.EncodeToMemory(encBlock),
		wrappedDataKey: wrapped,
	}
}

// newFakeServer serves both the encryption-key and decryption-key endpoints
// off the same fakeServerKey, so an encrypt session and a decrypt session can
// round-trip against it like two ends of the real service would.
func newFakeServer(t *testing.T, key fakeServerKey, fetchCount *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v0/encryption/key":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(transport.CreateKeyResponse{
				EncryptedPrivateKey: string(key.privPEM),
				EncryptionSession:   "sess-1",
				KeyFingerprint:      "fp-1",
				WrappedDataKey:      base64.StdEncoding.EncodeToString(key.wrappedDataKey),
				EncryptedDataKey:    base64.StdEncoding.EncodeToString(key.wrappedDataKey),
				MaxUses:             1,
				SecurityModel:       transport.SecurityModel{Algorithm: "AES-256-GCM"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v0/decryption/key":
			if fetchCount != nil {
				*fetchCount++
			}
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(transport.CreateKeyResponse{
				EncryptedPrivateKey: string(key.privPEM),
				EncryptionSession:   "sess-1",
				KeyFingerprint:      "fp-1",
				WrappedDataKey:      base64.StdEncoding.EncodeToString(key.wrappedDataKey),
				EncryptedDataKey:    base64.StdEncoding.EncodeToString(key.wrappedDataKey),
				MaxUses:             1,
				SecurityModel:       transport.SecurityModel{Algorithm: "AES-256-GCM"},
			})
		case r.Method == http.MethodPatch:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
}

func encryptFrame(t *testing.T, client *transport.Client, creds credentials.Credentials, plaintext []byte) []byte {
	t.Helper()
	s, err := session.Create(context.Background(), client, creds, 1)
	require.NoError(t, err)
	defer s.Close(context.Background(), nil)

	hdr, err := s.Begin()
	require.NoError(t, err)
	ct, err := s.Update(plaintext)
	require.NoError(t, err)
	tag, err := s.End()
	require.NoError(t, err)

	frame := append(append(append([]byte{}, hdr...), ct...), tag...)
	return frame
}

func TestDecryptFrameRoundTrip(t *testing.T) {
	key := newFakeServerKey(t, "correct-horse")
	server := newFakeServer(t, key, nil)
	defer server.Close()

	client := transport.New(server.URL, "ak", "sk")
	creds, err := credentials.New(
		credentials.WithHost(server.URL),
		credentials.WithAccessKeyID("ak"),
		credentials.WithSecretSigningKey("sk"),
		credentials.WithSRSA("correct-horse"),
	)
	require.NoError(t, err)

	frame := encryptFrame(t, client, creds, []byte("the quick brown fox"))

	d, err := New(client, creds)
	require.NoError(t, err)
	defer d.Close()

	pt, err := d.DecryptFrame(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, "the quick brown fox", string(pt))
}

func TestDecryptFrameBeginUpdateEndExplicit(t *testing.T) {
	key := newFakeServerKey(t, "correct-horse")
	server := newFakeServer(t, key, nil)
	defer server.Close()

	client := transport.New(server.URL, "ak", "sk")
	creds, err := credentials.New(
		credentials.WithHost(server.URL),
		credentials.WithAccessKeyID("ak"),
		credentials.WithSecretSigningKey("sk"),
		credentials.WithSRSA("correct-horse"),
	)
	require.NoError(t, err)

	frame := encryptFrame(t, client, creds, []byte("hello, streaming world"))

	d, err := New(client, creds)
	require.NoError(t, err)
	defer d.Close()

	hdrLen := 6 + 12 + len(key.wrappedDataKey)
	body := frame[hdrLen : len(frame)-16]
	tag := frame[len(frame)-16:]

	sess := d.NewSession()
	require.NoError(t, sess.Begin(context.Background(), frame[:hdrLen]))

	pt1, err := sess.Update(body[:5])
	require.NoError(t, err)
	pt2, err := sess.Update(body[5:])
	require.NoError(t, err)
	require.NoError(t, sess.End(tag))

	assert.Equal(t, "hello, streaming world", string(pt1)+string(pt2))
}

func TestDecryptFrameTamperedCiphertextFailsVerification(t *testing.T) {
	key := newFakeServerKey(t, "correct-horse")
	server := newFakeServer(t, key, nil)
	defer server.Close()

	client := transport.New(server.URL, "ak", "sk")
	creds, err := credentials.New(
		credentials.WithHost(server.URL),
		credentials.WithAccessKeyID("ak"),
		credentials.WithSecretSigningKey("sk"),
		credentials.WithSRSA("correct-horse"),
	)
	require.NoError(t, err)

	frame := encryptFrame(t, client, creds, []byte("do not modify me"))
	frame[len(frame)-20] ^= 0xFF // flip a body byte, well before the trailing tag

	d, err := New(client, creds)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.DecryptFrame(context.Background(), frame)
	require.Error(t, err)
}

func TestDecryptFrameTamperedTagFailsVerification(t *testing.T) {
	key := newFakeServerKey(t, "correct-horse")
	server := newFakeServer(t, key, nil)
	defer server.Close()

	client := transport.New(server.URL, "ak", "sk")
	creds, err := credentials.New(
		credentials.WithHost(server.URL),
		credentials.WithAccessKeyID("ak"),
		credentials.WithSecretSigningKey("sk"),
		credentials.WithSRSA("correct-horse"),
	)
	require.NoError(t, err)

	frame := encryptFrame(t, client, creds, []byte("do not modify my tag"))
	frame[len(frame)-1] ^= 0xFF // flip the final tag byte

	d, err := New(client, creds)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.DecryptFrame(context.Background(), frame)
	require.Error(t, err)
}

func TestUnwrapCacheHitSkipsSecondFetch(t *testing.T) {
	key := newFakeServerKey(t, "correct-horse")
	fetches := 0
	server := newFakeServer(t, key, &fetches)
	defer server.Close()

	client := transport.New(server.URL, "ak", "sk")
	creds, err := credentials.New(
		credentials.WithHost(server.URL),
		credentials.WithAccessKeyID("ak"),
		credentials.WithSecretSigningKey("sk"),
		credentials.WithSRSA("correct-horse"),
	)
	require.NoError(t, err)

	frame1 := encryptFrame(t, client, creds, []byte("first message"))
	frame2 := encryptFrame(t, client, creds, []byte("second message"))

	d, err := New(client, creds)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.DecryptFrame(context.Background(), frame1)
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)

	_, err = d.DecryptFrame(context.Background(), frame2)
	require.NoError(t, err)
	assert.Equal(t, 1, fetches, "wrapped key matches frame1's, so unwrap should be memoized")
}

func TestStartSweeperEvictsExpiredUnwrapCacheEntry(t *testing.T) {
	key := newFakeServerKey(t, "correct-horse")
	fetches := 0
	server := newFakeServer(t, key, &fetches)
	defer server.Close()

	client := transport.New(server.URL, "ak", "sk")
	creds, err := credentials.New(
		credentials.WithHost(server.URL),
		credentials.WithAccessKeyID("ak"),
		credentials.WithSecretSigningKey("sk"),
		credentials.WithSRSA("correct-horse"),
	)
	require.NoError(t, err)

	frame := encryptFrame(t, client, creds, []byte("swept message"))

	d, err := New(client, creds)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.DecryptFrame(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)
	assert.Equal(t, 1, d.cache.Len())

	future := time.Now().Add(2 * time.Hour)
	cache.WithClock(d.cache, func() time.Time { return future })

	ctx, cancel := context.WithCancel(context.Background())
	d.StartSweeper(ctx, time.Millisecond)
	defer cancel()

	require.Eventually(t, func() bool {
		return d.cache.Len() == 0
	}, time.Second, time.Millisecond, "sweeper should evict the expired unwrap-cache entry")
}

func TestDecryptFrameRejectsShortFrame(t *testing.T) {
	d := &Decryptor{}
	_, err := d.DecryptFrame(context.Background(), []byte{0, 0, 0})
	require.Error(t, err)
}

func TestBeginFailsWhenAlreadyActive(t *testing.T) {
	key := newFakeServerKey(t, "correct-horse")
	server := newFakeServer(t, key, nil)
	defer server.Close()

	client := transport.New(server.URL, "ak", "sk")
	creds, err := credentials.New(
		credentials.WithHost(server.URL),
		credentials.WithAccessKeyID("ak"),
		credentials.WithSecretSigningKey("sk"),
		credentials.WithSRSA("correct-horse"),
	)
	require.NoError(t, err)

	frame := encryptFrame(t, client, creds, []byte("x"))
	hdrLen := 6 + 12 + len(key.wrappedDataKey)

	d, err := New(client, creds)
	require.NoError(t, err)
	defer d.Close()

	sess := d.NewSession()
	require.NoError(t, sess.Begin(context.Background(), frame[:hdrLen]))
	err = sess.Begin(context.Background(), frame[:hdrLen])
	require.Error(t, err)
}

func TestNewRejectsNilClient(t *testing.T) {
	_, err := New(nil, credentials.Credentials{})
	require.Error(t, err)
}
