package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4
)

// ErrDecrypt is returned when a snapshot cannot be opened with the passphrase.
var ErrDecrypt = errors.New("decrypt snapshot: wrong passphrase or corrupt data")

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMem, argonPar, keySize)
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// seal encrypts plaintext under a fresh salt and nonce.
// Layout: [16-byte salt][12-byte nonce][AES-256-GCM ciphertext]
func seal(plaintext []byte, passphrase string) ([]byte, error) {
	head := make([]byte, saltSize+nonceSize)
	if _, err := io.ReadFull(rand.Reader, head); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := newGCM(passphrase, head[:saltSize])
	if err != nil {
		return nil, err
	}
	return gcm.Seal(head, head[saltSize:], plaintext, nil), nil
}

func open(data []byte, passphrase string) ([]byte, error) {
	if len(data) < saltSize+nonceSize {
		return nil, ErrDecrypt
	}
	gcm, err := newGCM(passphrase, data[:saltSize])
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, data[saltSize:saltSize+nonceSize], data[saltSize+nonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
