// Factory and lifetime management for Session: the REST round trip that
// negotiates a data key, and the best-effort usage report issued on
// destruction.
package session

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"

	"github.com/sage-x-project/ubiq/algorithm"
	"github.com/sage-x-project/ubiq/credentials"
	"github.com/sage-x-project/ubiq/internal/errs"
	"github.com/sage-x-project/ubiq/internal/logging"
	"github.com/sage-x-project/ubiq/internal/metrics"
	"github.com/sage-x-project/ubiq/internal/pemkey"
	"github.com/sage-x-project/ubiq/transport"
)

// Create negotiates a new data key good for uses encryptions and returns
// the Session wrapping it. Every step's failure tears down whatever
// partial state had been built and reports the most specific error.
func Create(ctx context.Context, client *transport.Client, creds credentials.Credentials, uses int) (*Session, error) {
	if uses <= 0 {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, errs.New(errs.InvalidArgument, "uses must be positive")
	}
	metrics.SessionUsesRequested.Observe(float64(uses))

	resp, err := client.CreateKey(ctx, uses)
	if err != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, err
	}

	privKey, err := pemkey.DecryptRSAPrivateKey(resp.EncryptedPrivateKey, creds.SRSA)
	if err != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, err
	}

	wrappedForUnwrap, err := base64.StdEncoding.DecodeString(resp.WrappedDataKey)
	if err != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, errs.Wrap(errs.ProtocolViolation, "decoding wrapped_data_key", err)
	}

	rawKey, err := rsa.DecryptOAEP(sha256.New(), nil, privKey, wrappedForUnwrap, nil)
	if err != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, errs.Wrap(errs.CryptoFailure, "rsa-oaep unwrap of data key", err)
	}

	// The header embeds encrypted_data_key verbatim; its relationship to
	// wrapped_data_key is not guaranteed by the server contract, so the
	// two are kept distinct rather than assumed identical.
	headerWrappedKey, err := base64.StdEncoding.DecodeString(resp.EncryptedDataKey)
	if err != nil {
		zeroize(rawKey)
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, errs.Wrap(errs.ProtocolViolation, "decoding encrypted_data_key", err)
	}

	spec, err := algorithm.ByName(resp.SecurityModel.Algorithm)
	if err != nil {
		zeroize(rawKey)
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, err
	}
	if len(rawKey) != spec.KeyLen {
		zeroize(rawKey)
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, errs.New(errs.CryptoFailure, "unwrapped key length does not match algorithm")
	}

	metrics.SessionsCreated.WithLabelValues("success").Inc()
	return &Session{
		sessionID:            resp.EncryptionSession,
		keyFingerprint:       resp.KeyFingerprint,
		rawKey:               rawKey,
		wrappedKey:           headerWrappedKey,
		spec:                 spec,
		usesMax:              resp.MaxUses,
		usesCurrent:          0,
		fragmentationEnabled: resp.SecurityModel.EnableDataFragmentation,
		transportClient:      client,
	}, nil
}

// Close reports actual usage back to the server when fewer than max uses
// were consumed, then zeroizes and releases the session's key material.
// The usage-report PATCH is best-effort: its failure is logged, never
// returned, because Close has no channel through which a caller could act
// on it.
func (s *Session) Close(ctx context.Context, log logging.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log == nil {
		log = logging.Default()
	}

	if s.sessionID != "" && s.keyFingerprint != "" && s.usesCurrent < s.usesMax && s.transportClient != nil {
		if err := s.transportClient.ReportUsage(ctx, s.keyFingerprint, s.sessionID, s.usesMax, s.usesCurrent); err != nil {
			log.Warn("usage report failed",
				logging.String("fingerprint", s.keyFingerprint),
				logging.String("session", s.sessionID),
				logging.Err(err))
		}
	}

	zeroize(s.rawKey)
	zeroize(s.wrappedKey)
	zeroize(s.plaintext)
	s.rawKey = nil
	s.wrappedKey = nil
	s.sessionID = ""
	s.keyFingerprint = ""
	s.block = nil
	s.aead = nil
	s.ctrStream = nil
}
