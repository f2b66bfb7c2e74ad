package cmn

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

// KDFIterations and KDFKeyLen implement the Config password KDF policy:
// PBKDF2-HMAC-SHA3-512 with 390000+ iterations and a per-install 32-byte
// salt kept in Config.
const (
	KDFIterations = 390_000
	KDFKeyLen     = 32
	SaltLen       = 32
)

// NewSalt generates a fresh per-install salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveKey runs PBKDF2-HMAC-SHA3-512 over passphrase and salt. The same
// call path derives the key whether passphrase is user-supplied or the
// compiled-in master password; the caller decides which string to pass.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, KDFIterations, KDFKeyLen, sha3.New512)
}

// EncryptPassword seals plaintext under key with AES-256-GCM, returning
// nonce||ciphertext.
func EncryptPassword(plaintext string, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// DecryptPassword reverses EncryptPassword.
func DecryptPassword(sealed []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize() {
		return "", errors.New("sealed password too short")
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
