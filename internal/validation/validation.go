package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// OwnerIDPattern определяет допустимый формат id владельца библиотеки
// Только латинские буквы, цифры, '_' и '-'
// Длина: 3-64 символа
var OwnerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,64}$`)

// KeyPattern тональность: нота, знак альтерации, минор (G, F#, Bbm)
var KeyPattern = regexp.MustCompile(`^[A-G][#b]?m?$`)

const (
	MaxDisplayNameLen = 40
	// MinSessionPasswordLen пароль сессии произносят вслух, поэтому он короткий
	MinSessionPasswordLen = 4
	MaxTempo              = 400
)

// ValidateOwnerID проверяет id владельца, на который выпускается токен
func ValidateOwnerID(ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("owner id cannot be empty")
	}
	if !OwnerIDPattern.MatchString(ownerID) {
		return fmt.Errorf("owner id must be 3-64 characters of letters, numbers, '_' or '-'")
	}
	return nil
}

// ValidateDisplayName checks the name shown to other session participants.
func ValidateDisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("display name cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return fmt.Errorf("display name must not exceed %d characters", MaxDisplayNameLen)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("display name cannot contain control characters")
		}
	}
	return nil
}

// ValidateSessionPassword проверяет пароль сессии; пустой пароль = открытая сессия
func ValidateSessionPassword(password string) error {
	if password == "" {
		return nil
	}
	if utf8.RuneCountInString(password) < MinSessionPasswordLen {
		return fmt.Errorf("session password must be at least %d characters long", MinSessionPasswordLen)
	}
	return nil
}

// ValidateKey проверяет тональность песни; пустая тональность допустима
func ValidateKey(key string) error {
	if key == "" || KeyPattern.MatchString(key) {
		return nil
	}
	return fmt.Errorf("key %q is not a valid key (examples: G, F#, Bbm)", key)
}

// ValidateTempo checks a tempo in BPM; 0 means unset.
func ValidateTempo(bpm int) error {
	if bpm < 0 || bpm > MaxTempo {
		return fmt.Errorf("tempo must be between 0 and %d", MaxTempo)
	}
	return nil
}
