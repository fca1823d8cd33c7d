package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidProof возвращается, если доказательство знания пароля не совпало
var ErrInvalidProof = errors.New("invalid session password proof")

// SessionProof доказывает знание пароля сессии без передачи ключа.
// Доказательство привязано к сессии и к id клиента, поэтому его нельзя
// переиспользовать с другого подключения.
func SessionProof(key []byte, sessionID, clientID string) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("session key cannot be empty")
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(sessionID))
	mac.Write([]byte{0})
	mac.Write([]byte(clientID))

	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySessionProof проверяет доказательство гостя ключом хоста
func VerifySessionProof(key []byte, sessionID, clientID, proof string) error {
	if proof == "" {
		return ErrInvalidProof
	}

	expected, err := SessionProof(key, sessionID, clientID)
	if err != nil {
		return fmt.Errorf("failed to compute proof: %w", err)
	}

	if !hmac.Equal([]byte(expected), []byte(proof)) {
		return ErrInvalidProof
	}
	return nil
}
