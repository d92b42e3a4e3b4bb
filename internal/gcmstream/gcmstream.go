// Package gcmstream builds the AES-CTR keystream that underlies GCM
// confidentiality for a 96-bit IV, so session and decrypt can both XOR
// plaintext/ciphertext fragments incrementally while leaving the
// authentication tag itself to a single stdlib AEAD call. See
// session.Session.Begin's doc comment for why this split is safe.
package gcmstream

import (
	"crypto/cipher"
	"encoding/binary"

	"github.com/sage-x-project/ubiq/internal/errs"
)

// New returns the AES-CTR stream GCM would use to encrypt/decrypt data for
// a 96-bit IV: counter block = IV‖00000002 (NIST SP 800-38D §7.1), the
// block immediately following the one reserved for the tag's mask.
func New(block cipher.Block, iv []byte) (cipher.Stream, error) {
	if len(iv) != 12 {
		return nil, errs.New(errs.CryptoFailure, "streaming gcm requires a 96-bit iv")
	}
	counterBlock := make([]byte, 16)
	copy(counterBlock, iv)
	binary.BigEndian.PutUint32(counterBlock[12:], 2)
	return cipher.NewCTR(block, counterBlock), nil
}
