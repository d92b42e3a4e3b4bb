// Package ubiq is the one-shot convenience layer over session: it composes
// factory + Begin + Update + End for callers who just want to hand over a
// buffer and get a self-describing ciphertext back.
package ubiq

import (
	"context"

	"github.com/sage-x-project/ubiq/credentials"
	"github.com/sage-x-project/ubiq/decrypt"
	"github.com/sage-x-project/ubiq/session"
	"github.com/sage-x-project/ubiq/transport"
)

// Encrypt performs a complete single-use encryption: it creates a session
// with uses=1, drives Begin/Update/End, concatenates
// header‖update_out‖end_out, and destroys the session. Every intermediate
// buffer is released regardless of where a failure occurs.
func Encrypt(ctx context.Context, creds credentials.Credentials, plaintext []byte) ([]byte, error) {
	client := transport.New(creds.Host, creds.AccessKeyID, creds.SecretSigningKey)

	s, err := session.Create(ctx, client, creds, 1)
	if err != nil {
		return nil, err
	}
	defer s.Close(ctx, nil)

	hdr, err := s.Begin()
	if err != nil {
		return nil, err
	}

	ct, err := s.Update(plaintext)
	if err != nil {
		return nil, err
	}

	tag, err := s.End()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(hdr)+len(ct)+len(tag))
	out = append(out, hdr...)
	out = append(out, ct...)
	out = append(out, tag...)
	return out, nil
}

// Decrypt is the mirror one-shot helper: it parses the frame's header,
// unwraps the data key (through decrypt's cache), and verifies/decrypts
// the body in one call.
func Decrypt(ctx context.Context, creds credentials.Credentials, ciphertext []byte) ([]byte, error) {
	client := transport.New(creds.Host, creds.AccessKeyID, creds.SecretSigningKey)

	d, err := decrypt.New(client, creds)
	if err != nil {
		return nil, err
	}

	return d.DecryptFrame(ctx, ciphertext)
}
