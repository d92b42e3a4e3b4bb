// Package pemkey decrypts the passphrase-protected PEM-encoded RSA private
// key the server returns alongside every wrapped data key. Shared by the
// encrypt-side session factory and the decrypt core so both unwrap paths
// agree on exactly one parsing routine.
package pemkey

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/sage-x-project/ubiq/internal/errs"
)

// DecryptRSAPrivateKey parses pemText, decrypting it with passphrase first
// if the block carries the legacy "Proc-Type: 4,ENCRYPTED" / "DEK-Info"
// headers the server emits. It does not handle a passphrase-protected
// PKCS#8 "ENCRYPTED PRIVATE KEY" block (RFC 5958); only the legacy
// header-based encryption is supported.
func DecryptRSAPrivateKey(pemText, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errs.New(errs.ProtocolViolation, "encrypted_private_key is not valid PEM")
	}

	der := block.Bytes
	//lint:ignore SA1019 legacy PEM passphrase encryption is exactly what the server emits.
	if x509.IsEncryptedPEMBlock(block) {
		decrypted, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, errs.Wrap(errs.CryptoFailure, "decrypting pem private key with srsa passphrase", err)
		}
		der = decrypted
	}

	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}

	generic, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, "parsing decrypted rsa private key", err)
	}
	rsaKey, ok := generic.(*rsa.PrivateKey)
	if !ok {
		return nil, errs.New(errs.CryptoFailure, "decrypted private key is not RSA")
	}
	return rsaKey, nil
}
