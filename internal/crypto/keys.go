package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Параметры Argon2id для пароля сессии
const (
	// Argon2Time - количество итераций (time cost)
	Argon2Time = 2
	// Argon2Memory - объем памяти в KB (19MB)
	Argon2Memory = 19 * 1024
	// Argon2Threads - количество параллельных потоков
	Argon2Threads = 2
	// Argon2KeyLen - длина выходного ключа в байтах
	Argon2KeyLen = 32
	// SaltSize - размер соли в байтах
	SaltSize = 16
)

// GenerateSalt генерирует криптографически случайную соль
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveSessionKey derives the session key from a password and salt with Argon2id.
// The key never leaves the peer that derived it; only proofs are exchanged.
func DeriveSessionKey(password string, salt []byte) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}

	return argon2.IDKey([]byte(password), salt, Argon2Time, Argon2Memory, Argon2Threads, Argon2KeyLen), nil
}

// NewSessionSecret creates a fresh salt for password and derives its key.
// The salt is returned base64url encoded, ready for the session descriptor.
func NewSessionSecret(password string) (string, []byte, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return "", nil, err
	}

	key, err := DeriveSessionKey(password, salt)
	if err != nil {
		return "", nil, err
	}

	return base64.RawURLEncoding.EncodeToString(salt), key, nil
}

// DeriveSessionKeyFromSalt derives the key from a base64url salt taken from a descriptor.
func DeriveSessionKeyFromSalt(password, saltB64 string) ([]byte, error) {
	salt, err := base64.RawURLEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	return DeriveSessionKey(password, salt)
}
