package handlers

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "chordkeeper"

// OwnerClaims представляет JWT claims токена владельца библиотеки
type OwnerClaims struct {
	OwnerID string `json:"owner_id"`
	jwt.RegisteredClaims
}

// JWTConfig содержит конфигурацию для JWT
type JWTConfig struct {
	Secret   []byte
	TokenTTL time.Duration // 0 = без срока действия
}

// IssueOwnerToken создает подписанный токен для ownerID.
// Returns the token and its expiry (zero time when TokenTTL is 0).
func IssueOwnerToken(cfg JWTConfig, ownerID string) (string, time.Time, error) {
	if ownerID == "" {
		return "", time.Time{}, errors.New("owner id is required")
	}

	now := time.Now()
	claims := OwnerClaims{
		OwnerID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	var expiresAt time.Time
	if cfg.TokenTTL > 0 {
		expiresAt = now.Add(cfg.TokenTTL)
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateOwnerToken валидирует и парсит токен владельца
func ValidateOwnerToken(cfg JWTConfig, tokenString string) (*OwnerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OwnerClaims{}, func(token *jwt.Token) (any, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*OwnerClaims)
	if !ok || !token.Valid || claims.OwnerID == "" {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
