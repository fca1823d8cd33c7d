package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/chordkeeper/internal/client/api"
	"github.com/iudanet/chordkeeper/internal/client/storage"
	"github.com/iudanet/chordkeeper/internal/validation"
)

// tokenClaims поля токена, которые нужны клиенту; подпись проверяет сервер
type tokenClaims struct {
	OwnerID string `json:"owner_id"`
	jwt.RegisteredClaims
}

func (c *Cli) runLogin(ctx context.Context, args []string) error {
	c.io.Println("=== Login ===")
	c.io.Println()

	var token string
	if len(args) > 0 {
		token = args[0]
	} else {
		t, err := c.io.ReadPassword("Owner token: ")
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		token = t
	}
	token = strings.TrimSpace(token)

	claims, err := parseToken(token)
	if err != nil {
		return err
	}

	displayName := c.cfg.DisplayName
	if displayName == "" {
		name, err := c.io.ReadInput(fmt.Sprintf("Display name [%s]: ", claims.OwnerID))
		if err != nil {
			return fmt.Errorf("failed to read display name: %w", err)
		}
		displayName = strings.TrimSpace(name)
		if displayName == "" {
			displayName = claims.OwnerID
		}
	}
	if err := validation.ValidateDisplayName(displayName); err != nil {
		return err
	}

	c.io.Println()
	c.io.Println("Checking token with server...")

	// 4xx означает, что токен не принят; сетевую ошибку терпим, работаем офлайн
	remote := c.newRemote(c.cfg.ServerURL, token)
	if _, err := remote.ListByOwner(ctx, claims.OwnerID); err != nil {
		var statusErr *api.StatusError
		if errors.As(err, &statusErr) {
			return fmt.Errorf("server rejected token: %w", err)
		}
		c.io.Printf("⚠️  Server unreachable, token saved unverified: %v\n", err)
	}

	profile := &storage.Profile{
		OwnerID:     claims.OwnerID,
		DisplayName: displayName,
		AccessToken: token,
		ServerURL:   c.cfg.ServerURL,
	}
	if err := c.store.SaveProfile(ctx, profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	c.io.Println()
	c.io.Println("✓ Login successful!")
	c.io.Printf("Owner: %s\n", profile.OwnerID)
	c.io.Printf("Display name: %s\n", profile.DisplayName)
	c.io.Printf("Server: %s\n", profile.ServerURL)
	if claims.ExpiresAt != nil {
		c.io.Printf("Token expires: %s\n", claims.ExpiresAt.Format(time.RFC3339))
	}
	c.io.Println()
	c.io.Println("Run 'chordkeeper sync' to fetch your library.")

	return nil
}

// parseToken читает claims без проверки подписи: секрет есть только у сервера
func parseToken(token string) (*tokenClaims, error) {
	if token == "" {
		return nil, errors.New("token is required")
	}

	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	if err := validation.ValidateOwnerID(claims.OwnerID); err != nil {
		return nil, fmt.Errorf("token has no valid owner: %w", err)
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(time.Now()) {
		return nil, errors.New("token has expired, ask the server operator for a new one")
	}
	return claims, nil
}

func (c *Cli) runLogout(ctx context.Context) error {
	c.io.Println("=== Logout ===")

	if _, err := c.profile(ctx); err != nil {
		return err
	}
	if err := c.store.DeleteProfile(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	c.io.Println("✓ Logout successful!")
	c.io.Println("Your songs stay in the local database.")

	return nil
}
