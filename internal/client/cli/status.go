package cli

import (
	"context"
	"errors"
	"fmt"
	"time"
)

func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Status ===")
	c.io.Println()

	p, err := c.profile(ctx)
	if errors.Is(err, ErrNotLoggedIn) {
		c.io.Println("Status: Not logged in")
		c.io.Println()
		c.io.Println("Run 'chordkeeper login' with the token issued by the server operator.")
		return nil
	}
	if err != nil {
		return err
	}

	c.io.Println("Status: Logged in")
	c.io.Printf("Owner: %s\n", p.OwnerID)
	c.io.Printf("Display name: %s\n", p.DisplayName)
	c.io.Printf("Server: %s\n", p.ServerURL)

	if claims, err := parseToken(p.AccessToken); err != nil {
		c.io.Printf("⚠️  %v\n", err)
	} else if claims.ExpiresAt != nil {
		c.io.Printf("Token expires: %s\n", claims.ExpiresAt.Format(time.RFC3339))
	}

	lastSync, err := c.store.GetLastSyncAt(ctx)
	if err != nil || lastSync.IsZero() {
		c.io.Println("Last sync: never")
	} else {
		c.io.Printf("Last sync: %s\n", lastSync.Local().Format(time.RFC3339))
	}

	pending, err := c.engine(p).PendingChanges(ctx, p.OwnerID)
	if err != nil {
		// не прерываем вывод статуса
		c.io.Printf("\nWarning: Failed to count pending changes: %v\n", err)
		return nil
	}

	c.io.Println()
	if pending > 0 {
		c.io.Printf("⚠️  Pending sync: %s waiting to be synchronized\n", plural(pending, "song"))
		c.io.Println("Run 'chordkeeper sync' to synchronize with server.")
	} else {
		c.io.Println("✓ All songs synchronized with server")
	}

	return nil
}

// plural форматирует "1 song" / "3 songs"
func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
