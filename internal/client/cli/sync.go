package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/chordkeeper/internal/client/sync"
)

func (c *Cli) runSync(ctx context.Context) error {
	c.io.Println("=== Synchronization ===")

	p, err := c.profile(ctx)
	if err != nil {
		return err
	}

	c.io.Println()
	c.io.Println("Starting synchronization with server...")

	result, err := c.engine(p).RunInitialSync(ctx, p.OwnerID)
	if err != nil {
		return fmt.Errorf("synchronization failed: %w", err)
	}

	c.io.Println()
	c.io.Println("✓ Synchronization completed!")
	c.io.Println()
	c.io.Printf("Pulled from server: %d songs\n", result.Pulled)
	c.io.Printf("Pushed to server:   %d songs\n", result.Pushed)
	c.io.Printf("Refreshed locally:  %d songs\n", result.Refreshed)
	c.io.Printf("Uploaded newer:     %d songs\n", result.Uploaded)
	c.io.Printf("Unchanged:          %d songs\n", result.Unchanged)
	if result.Failed > 0 {
		c.io.Printf("⚠️  Failed: %s, they will be retried on the next sync\n", plural(result.Failed, "song"))
	}

	return nil
}

// runWatch синхронизирует и следит за лентой изменений до отмены ctx или quit
func (c *Cli) runWatch(ctx context.Context) error {
	c.io.Println("=== Watch ===")

	p, err := c.profile(ctx)
	if err != nil {
		return err
	}

	engine := c.engine(p)
	if err := engine.Start(ctx, p.OwnerID); err != nil {
		// проход или подписка не удались; статус покажет подробности
		c.io.Printf("⚠️  %v\n", err)
	}
	defer engine.Teardown()

	c.printSyncStatus(engine.Status())
	c.io.Println("Following server changes. Commands: sync, status, quit")

	cmdCtx, stop := context.WithCancel(ctx)
	defer stop()
	commands := c.readCommands(cmdCtx)

	for {
		select {
		case <-ctx.Done():
			c.io.Println()
			c.io.Println("✓ Stopped watching")
			return nil
		case line, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			switch strings.TrimSpace(line) {
			case "":
			case "sync":
				if err := engine.ForceSync(ctx); err != nil {
					c.io.Printf("⚠️  %v\n", err)
					continue
				}
				c.io.Println("✓ Synchronized")
			case "status":
				c.printSyncStatus(engine.Status())
			case "quit", "exit":
				c.io.Println("✓ Stopped watching")
				return nil
			default:
				c.io.Printf("unknown command: %s\n", line)
			}
		}
	}
}

func (c *Cli) printSyncStatus(status sync.SyncStatus) {
	c.io.Printf("State: %s\n", status.State)
	if !status.LastSyncAt.IsZero() {
		c.io.Printf("Last sync: %s\n", status.LastSyncAt.Local().Format(time.RFC3339))
	}
	if status.PendingChanges > 0 {
		c.io.Printf("Pending: %s\n", plural(status.PendingChanges, "song"))
	}
	if status.Error != nil {
		c.io.Printf("Error: %v\n", status.Error)
	}
}
