// Package session implements the stateful encryption session: the
// fresh/active state machine that owns an unwrapped data key, a usage
// budget, and an AEAD context for exactly the span between Begin and End.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"sync"

	"github.com/sage-x-project/ubiq/algorithm"
	"github.com/sage-x-project/ubiq/header"
	"github.com/sage-x-project/ubiq/internal/errs"
	"github.com/sage-x-project/ubiq/internal/gcmstream"
	"github.com/sage-x-project/ubiq/internal/metrics"
	"github.com/sage-x-project/ubiq/transport"
)

// state is the session's position in the fresh/active state machine.
type state int

const (
	stateFresh state = iota
	stateActive
)

// Session is the stateful encryption object. It is not safe for concurrent
// use by multiple goroutines — the state machine assumes serialized access;
// distinct sessions are fully independent and may be used in parallel.
type Session struct {
	mu sync.Mutex

	sessionID      string
	keyFingerprint string

	rawKey     []byte
	wrappedKey []byte
	spec       algorithm.Spec

	usesMax     int
	usesCurrent int

	fragmentationEnabled bool
	transportClient      *transport.Client

	state state

	// Per-encryption state, present only between Begin and End.
	block     cipher.Block
	aead      cipher.AEAD
	ctrStream cipher.Stream
	iv        []byte
	plaintext []byte // accumulated so End can compute the real GCM tag
}

// Begin starts a new encryption. It fails with QuotaExhausted once
// uses.current == uses.max, and StateError if a prior Begin is still
// active. On success it returns the header bytes the caller must
// concatenate before any Update output.
//
// Confidentiality is produced incrementally: GCM's keystream is plain
// AES-CTR starting at counter block IV‖00000002 (NIST SP 800-38D, §7.1,
// for a 96-bit IV), so Update can XOR each fragment through a
// cipher.Stream as it arrives. The authentication tag, which depends on
// the complete ciphertext, is only knowable once End is called; it is
// produced there by replaying a single stdlib AEAD.Seal over the buffered
// plaintext and keeping just the trailing tag bytes — the ciphertext that
// call recomputes is byte-identical to what Update already emitted, so
// nothing already streamed out needs to change.
func (s *Session) Begin() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateActive {
		return nil, errs.New(errs.StateError, "session already active")
	}
	if s.usesCurrent >= s.usesMax {
		return nil, errs.New(errs.QuotaExhausted, "uses.current == uses.max")
	}

	iv := make([]byte, s.spec.IVLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, "generating iv", err)
	}

	block, err := aes.NewCipher(s.rawKey)
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, "initializing aes block cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, "initializing gcm", err)
	}
	ctrStream, err := gcmstream.New(block, iv)
	if err != nil {
		return nil, err
	}

	s.block = block
	s.aead = aead
	s.ctrStream = ctrStream
	s.iv = iv
	s.plaintext = s.plaintext[:0]
	s.usesCurrent++
	s.state = stateActive

	return header.Encode(s.spec, iv, s.wrappedKey), nil
}

// Update encrypts one plaintext fragment and returns the matching
// ciphertext fragment. Fragments may be any size; the allocation for each
// call is bounded by len(pt).
func (s *Session) Update(pt []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return nil, errs.New(errs.StateError, "update called without an active begin")
	}

	ct := make([]byte, len(pt))
	s.ctrStream.XORKeyStream(ct, pt)
	s.plaintext = append(s.plaintext, pt...)
	metrics.EncryptBytes.Add(float64(len(pt)))
	return ct, nil
}

// End finalizes the current encryption and returns the authentication tag.
// The session returns to Fresh afterward; a subsequent Begin may be called
// if uses remain.
func (s *Session) End() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return nil, errs.New(errs.StateError, "end called without an active begin")
	}

	sealed := s.aead.Seal(nil, s.iv, s.plaintext, nil)
	tag := make([]byte, s.spec.TagLen)
	copy(tag, sealed[len(sealed)-s.spec.TagLen:])

	zeroize(s.plaintext)
	s.plaintext = nil
	s.block = nil
	s.aead = nil
	s.ctrStream = nil
	s.iv = nil
	s.state = stateFresh

	return tag, nil
}

// UsesRemaining reports uses.max - uses.current.
func (s *Session) UsesRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usesMax - s.usesCurrent
}

// UsesCurrent reports the number of successful Begins so far.
func (s *Session) UsesCurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usesCurrent
}

// Algorithm returns the session's registered AEAD algorithm.
func (s *Session) Algorithm() algorithm.Spec {
	return s.spec
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
