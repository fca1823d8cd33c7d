package handlers

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateOwnerToken(t *testing.T) {
	cfg := JWTConfig{Secret: []byte("secret"), TokenTTL: time.Hour}

	token, expiresAt, err := IssueOwnerToken(cfg, "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := ValidateOwnerToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.OwnerID)
	assert.Equal(t, "alice", claims.Subject)
}

func TestIssueOwnerToken_NoExpiry(t *testing.T) {
	cfg := JWTConfig{Secret: []byte("secret")}

	token, expiresAt, err := IssueOwnerToken(cfg, "alice")
	require.NoError(t, err)
	assert.True(t, expiresAt.IsZero())

	claims, err := ValidateOwnerToken(cfg, token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestIssueOwnerToken_EmptyOwner(t *testing.T) {
	_, _, err := IssueOwnerToken(JWTConfig{Secret: []byte("secret")}, "")
	assert.Error(t, err)
}

func TestValidateOwnerToken_Rejects(t *testing.T) {
	cfg := JWTConfig{Secret: []byte("secret")}

	// Токен другого издателя
	foreignIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, OwnerClaims{
		OwnerID:          "alice",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	}).SignedString(cfg.Secret)
	require.NoError(t, err)

	// Токен без owner_id
	noOwner, err := jwt.NewWithClaims(jwt.SigningMethodHS256, OwnerClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer},
	}).SignedString(cfg.Secret)
	require.NoError(t, err)

	// Неподписанный токен
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, OwnerClaims{
		OwnerID:          "alice",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"foreign issuer": foreignIssuer,
		"no owner":       noOwner,
		"alg none":       unsigned,
		"garbage":        "abc",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateOwnerToken(cfg, token)
			assert.Error(t, err)
		})
	}
}
