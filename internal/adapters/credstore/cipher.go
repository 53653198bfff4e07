package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	keySize   = 32
	saltSize  = 16
	nonceSize = 12

	// scrypt cost parameters
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	versionPrefix = "ENC[v%d]:"
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed (wrong passphrase?)")
)

// encryptor seals strings with AES-256-GCM as ENC[vN]:base64(nonce|ciphertext).
type encryptor struct {
	aead    cipher.AEAD
	version int
}

// deriveKey stretches passphrase into an AES-256 key.
func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

func newEncryptor(key []byte, version int) (*encryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &encryptor{aead: gcm, version: version}, nil
}

func (e *encryptor) encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf(versionPrefix, e.version) + base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *encryptor) decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "ENC[v") {
		return "", ErrInvalidCiphertext
	}
	idx := strings.Index(ciphertext, "]:")
	if idx == -1 {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext[idx+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	plain, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}
