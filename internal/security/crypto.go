// Package security seals tenant secrets stored at rest.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the size of the salt in bytes.
	SaltSize = 16
	// NonceSize is the size of the GCM nonce in bytes.
	NonceSize = 12
	// KeySizeAES is the AES-256 key size in bytes.
	KeySizeAES = 32
	// PBKDF2Iterations is the number of PBKDF2 iterations.
	PBKDF2Iterations = 100000
	// SealedPrefix marks a sealed string value.
	SealedPrefix = "enc:v1:"
)

// ErrNoMasterKey is returned when a sealed value is read without a key.
var ErrNoMasterKey = errors.New("master key required for sealed value")

// EncryptedData holds the components needed to decrypt data.
type EncryptedData struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// GenerateSalt generates a cryptographically secure random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives an AES-256 key from a password and salt using PBKDF2.
func DeriveKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, PBKDF2Iterations, KeySizeAES, sha256.New)
}

func newGCM(password, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext using AES-256-GCM with a key derived from password.
// Every call uses a fresh salt and nonce.
func Encrypt(plaintext, password []byte) (*EncryptedData, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return &EncryptedData{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Decrypt decrypts data using AES-256-GCM with a key derived from password.
func Decrypt(data *EncryptedData, password []byte) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("encrypted data is nil")
	}
	if len(data.Salt) != SaltSize {
		return nil, fmt.Errorf("invalid salt size: got %d, want %d", len(data.Salt), SaltSize)
	}
	if len(data.Nonce) != NonceSize {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(data.Nonce), NonceSize)
	}
	gcm, err := newGCM(password, data.Salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, data.Nonce, data.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// IsSealed reports whether value was produced by Seal.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// Seal encrypts a string into a printable value safe for a TEXT column.
func Seal(plaintext string, password []byte) (string, error) {
	if len(password) == 0 {
		return "", ErrNoMasterKey
	}
	data, err := Encrypt([]byte(plaintext), password)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal encrypted data: %w", err)
	}
	return SealedPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// Unseal reverses Seal. Values without the sealed prefix are returned as
// they are, so rows written before a master key was configured stay readable.
func Unseal(value string, password []byte) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if len(password) == 0 {
		return "", ErrNoMasterKey
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	var data EncryptedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("parse sealed value: %w", err)
	}
	plaintext, err := Decrypt(&data, password)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
