package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/sage-x-project/ubiq/internal/errs"
)

// ErrInvalidPassphrase and ErrKeyNotFound are the sentinel errors
// FileVault reports for a wrong passphrase or a missing key id, for a
// local, file-backed cache of the SRSA passphrase so a CLI user isn't
// forced to retype it on every invocation.
var (
	ErrInvalidPassphrase = errors.New("credentials: invalid passphrase")
	ErrKeyNotFound       = errors.New("credentials: key not found")
)

const (
	vaultSaltLen  = 16
	vaultNonceLen = 12
	vaultPBKDF2   = 100_000
)

type vaultRecord struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// FileVault stores PBKDF2-wrapped secrets under dir, one JSON file per key
// id.
type FileVault struct {
	dir string
}

// NewFileVault creates the vault directory (if needed) and returns a
// FileVault rooted there.
func NewFileVault(dir string) (*FileVault, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "credentials: creating vault directory", err)
	}
	return &FileVault{dir: dir}, nil
}

func (v *FileVault) pathFor(keyID string) (string, error) {
	if keyID == "" || filepath.Base(keyID) != keyID {
		return "", errs.New(errs.InvalidArgument, "credentials: invalid key id")
	}
	return filepath.Join(v.dir, keyID+".json"), nil
}

func deriveVaultKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, vaultPBKDF2, 32, sha256.New)
}

// StoreEncrypted wraps secret with an AES-GCM key derived from passphrase
// via PBKDF2-HMAC-SHA256, and writes it to <dir>/<keyID>.json with 0600
// permissions.
func (v *FileVault) StoreEncrypted(keyID string, secret []byte, passphrase string) error {
	path, err := v.pathFor(keyID)
	if err != nil {
		return err
	}

	salt := make([]byte, vaultSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return errs.Wrap(errs.CryptoFailure, "credentials: generating vault salt", err)
	}
	nonce := make([]byte, vaultNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return errs.Wrap(errs.CryptoFailure, "credentials: generating vault nonce", err)
	}

	block, err := aes.NewCipher(deriveVaultKey(passphrase, salt))
	if err != nil {
		return errs.Wrap(errs.CryptoFailure, "credentials: initializing vault cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return errs.Wrap(errs.CryptoFailure, "credentials: initializing vault aead", err)
	}

	rec := vaultRecord{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, secret, nil),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "credentials: marshaling vault record", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errs.Wrap(errs.InvalidArgument, "credentials: writing vault file", err)
	}
	return nil
}

// LoadDecrypted reads and decrypts the secret stored under keyID, returning
// ErrKeyNotFound if no such file exists and ErrInvalidPassphrase if the
// passphrase doesn't authenticate the stored ciphertext.
func (v *FileVault) LoadDecrypted(keyID, passphrase string) ([]byte, error) {
	path, err := v.pathFor(keyID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, errs.Wrap(errs.InvalidArgument, "credentials: reading vault file", err)
	}

	var rec vaultRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "credentials: parsing vault file", err)
	}

	block, err := aes.NewCipher(deriveVaultKey(passphrase, rec.Salt))
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, "credentials: initializing vault cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, "credentials: initializing vault aead", err)
	}

	secret, err := aead.Open(nil, rec.Nonce, rec.Ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return secret, nil
}
