package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iudanet/chordkeeper/internal/client/storage"
	"github.com/iudanet/chordkeeper/internal/codec"
	"github.com/iudanet/chordkeeper/internal/models"
	"github.com/iudanet/chordkeeper/internal/qr"
	"github.com/iudanet/chordkeeper/internal/session"
	"github.com/iudanet/chordkeeper/internal/transport"
	"github.com/iudanet/chordkeeper/internal/validation"
)

// manifestWait сколько гость ждет манифест после подключения
const manifestWait = 15 * time.Second

func (c *Cli) newManager(p *storage.Profile) *session.Manager {
	name := c.cfg.DisplayName
	if name == "" && p != nil {
		name = p.DisplayName
	}
	serverURL := c.cfg.ServerURL
	if p != nil && p.ServerURL != "" {
		serverURL = p.ServerURL
	}

	factory := func() (transport.Transport, error) {
		return c.newTransport(serverURL)
	}
	return session.NewManager(factory, session.Config{
		DisplayName:    name,
		Instruments:    c.cfg.Instruments,
		ContentTimeout: c.cfg.ContentTimeout,
	}, c.logger)
}

func (c *Cli) runHost(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("host", flag.ContinueOnError)
	flags.SetOutput(c.io)
	password := flags.String("password", "", "session password, empty for an open session")
	scope := flags.String("scope", "", "label of what is shared, for example a set list name")
	ttl := flags.Duration("ttl", 0, "how long the join code stays valid, 0 = forever")
	pngPath := flags.String("png", "", "also write the join code as a PNG image")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := validation.ValidateSessionPassword(*password); err != nil {
		return err
	}

	p, err := c.profile(ctx)
	if err != nil {
		return err
	}
	lib := c.library(p)

	manifest, err := lib.Manifest(ctx, p.OwnerID, flags.Args()...)
	if err != nil {
		return fmt.Errorf("failed to build song list: %w", err)
	}

	m := c.newManager(p)
	defer m.Destroy()
	m.SetContentProvider(lib.ContentProvider())

	if _, err := m.CreateSession(ctx, manifest, session.Options{
		Scope:    *scope,
		Password: *password,
		TTL:      *ttl,
	}); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	status := m.Status()

	c.io.Println("=== Hosting Session ===")
	c.io.Println()
	if status.Scope != "" {
		c.io.Printf("Scope: %s\n", status.Scope)
	}
	c.io.Printf("Sharing: %s\n", plural(len(status.Manifest), "song"))
	if *password != "" {
		c.io.Println("Password: required")
	}
	c.io.Println()

	code, err := qr.Terminal(status.QRPayload)
	if err != nil {
		c.io.Printf("⚠️  Cannot render QR code: %v\n", err)
	} else {
		c.io.Println(code)
	}
	c.io.Printf("Join code: %s\n", status.QRPayload)
	if *pngPath != "" {
		if err := qr.WritePNG(status.QRPayload, *pngPath, qr.DefaultPNGSize); err != nil {
			c.io.Printf("⚠️  %v\n", err)
		} else {
			c.io.Printf("✓ QR image saved to %s\n", *pngPath)
		}
	}
	c.io.Println()
	c.io.Println("Commands: who, share <ids...>, transpose <id> <semitones>, kick <client-id>, quit")

	cmdCtx, stop := context.WithCancel(ctx)
	defer stop()
	commands := c.readCommands(cmdCtx)

	for {
		select {
		case <-ctx.Done():
			c.io.Println()
			c.io.Println("✓ Session closed")
			return nil
		case e, ok := <-m.Events():
			if !ok {
				return nil
			}
			if done := c.printEvent(e); done {
				return e.Err
			}
		case line, ok := <-commands:
			if !ok {
				// ввод закончился, сессия живет до Ctrl+C
				commands = nil
				continue
			}
			if quit := c.hostCommand(ctx, m, lib.Manifest, p.OwnerID, line); quit {
				c.io.Println("✓ Session closed")
				return nil
			}
		}
	}
}

// hostCommand выполняет одну команду хоста; true = завершить сессию
func (c *Cli) hostCommand(
	ctx context.Context,
	m *session.Manager,
	buildManifest func(ctx context.Context, ownerID string, ids ...string) (models.Manifest, error),
	ownerID, line string,
) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "quit", "exit":
		return true
	case "who":
		status := m.Status()
		c.printParticipants(status.Participants)
		if status.TransposedSongs > 0 {
			c.io.Printf("Transposed: %s\n", plural(status.TransposedSongs, "song"))
		}
	case "share":
		manifest, err := buildManifest(ctx, ownerID, fields[1:]...)
		if err != nil {
			c.io.Printf("⚠️  %v\n", err)
			return false
		}
		if err := m.UpdateManifest(ctx, manifest); err != nil {
			c.io.Printf("⚠️  %v\n", err)
			return false
		}
		c.io.Printf("✓ Sharing %s\n", plural(len(manifest), "song"))
	case "transpose":
		if len(fields) != 3 {
			c.io.Println("usage: transpose <id> <semitones>")
			return false
		}
		semitones, err := strconv.Atoi(fields[2])
		if err != nil {
			c.io.Printf("⚠️  invalid semitones: %s\n", fields[2])
			return false
		}
		m.SetTranspose(ctx, fields[1], semitones)
		c.io.Printf("✓ %s transposed by %+d\n", fields[1], semitones)
	case "kick":
		if len(fields) != 2 {
			c.io.Println("usage: kick <client-id>")
			return false
		}
		if err := m.EjectParticipant(ctx, fields[1]); err != nil {
			c.io.Printf("⚠️  %v\n", err)
			return false
		}
		c.io.Printf("✓ %s removed\n", fields[1])
	default:
		c.io.Printf("unknown command: %s\n", fields[0])
	}
	return false
}

// readCommands читает строки ввода, пока ввод не кончится или ctx не отменен
func (c *Cli) readCommands(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			line, err := c.io.ReadInput("")
			if err != nil {
				return
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (c *Cli) runJoin(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("join", flag.ContinueOnError)
	flags.SetOutput(c.io)
	password := flags.String("password", "", "session password")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return errors.New("usage: chordkeeper join [-password P] <code> [ids...]")
	}
	code, ids := flags.Arg(0), flags.Args()[1:]

	d, err := codec.DecodeDescriptor(code)
	if err != nil {
		return err
	}
	if d.RequiresPassword() && *password == "" {
		pw, err := c.io.ReadPassword("Session password: ")
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		*password = pw
	}

	// гостю профиль не обязателен
	p, err := c.profile(ctx)
	if err != nil && !errors.Is(err, ErrNotLoggedIn) {
		return err
	}

	m := c.newManager(p)
	defer m.Destroy()

	c.io.Println("=== Joining Session ===")
	c.io.Printf("Host: %s\n", d.HostDisplayName)
	c.io.Println()

	if err := m.JoinSession(ctx, d, *password); err != nil {
		return fmt.Errorf("failed to join session: %w", err)
	}

	manifest, err := c.awaitManifest(ctx, m)
	if err != nil {
		return err
	}

	if len(ids) > 0 {
		c.printManifest(m, manifest)
		return c.fetchSongs(ctx, m, ids)
	}

	changes := make(chan transposeChange, 16)
	done := make(chan struct{})
	unsubscribe := c.observeTranspose(m, manifest, changes, done)
	// колбэк не должен держать цикл сессии, пока мы выходим из нее
	stopped := false
	stopObserving := func() {
		if !stopped {
			stopped = true
			close(done)
			unsubscribe()
		}
	}
	defer stopObserving()
	c.printManifest(m, manifest)

	c.io.Println()
	c.io.Println("Following the session. Press Ctrl+C to leave.")
	for {
		select {
		case <-ctx.Done():
			stopObserving()
			m.LeaveSession()
			c.io.Println()
			c.io.Println("✓ Left the session")
			return nil
		case ch := <-changes:
			c.io.Printf("Transpose: %s %+d\n", ch.title, ch.semitones)
		case e, ok := <-m.Events():
			if !ok {
				return nil
			}
			if e.Type == session.EventManifestReceived {
				unsubscribe()
				unsubscribe = c.observeTranspose(m, e.Manifest, changes, done)
				c.printManifest(m, e.Manifest)
				continue
			}
			if ended := c.printEvent(e); ended {
				return e.Err
			}
		}
	}
}

type transposeChange struct {
	title     string
	semitones int
}

// observeTranspose подписывается на транспонирование каждой песни манифеста.
// Колбэки вызываются из цикла сессии, поэтому только передают значение в changes.
func (c *Cli) observeTranspose(m *session.Manager, manifest models.Manifest, changes chan<- transposeChange, done <-chan struct{}) (unsubscribe func()) {
	unsubs := make([]func(), 0, len(manifest))
	for _, entry := range manifest {
		title := entry.Title
		unsubs = append(unsubs, m.ObserveTranspose(entry.ID, func(semitones int) {
			select {
			case changes <- transposeChange{title: title, semitones: semitones}:
			case <-done:
			}
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// awaitManifest ждет первый манифест от хоста
func (c *Cli) awaitManifest(ctx context.Context, m *session.Manager) (models.Manifest, error) {
	timer := time.NewTimer(manifestWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, errors.New("host did not share a song list in time")
		case e, ok := <-m.Events():
			if !ok {
				return nil, session.ErrTransportUnavailable
			}
			switch e.Type {
			case session.EventManifestReceived:
				return e.Manifest, nil
			case session.EventEjected, session.EventSessionEnded:
				if e.Err != nil {
					return nil, e.Err
				}
				return nil, session.ErrConnectionLost
			}
		}
	}
}

func (c *Cli) fetchSongs(ctx context.Context, m *session.Manager, ids []string) error {
	missing := 0
	for _, id := range ids {
		content, ok := m.RequestContent(ctx, id)
		c.io.Println()
		if !ok {
			missing++
			c.io.Printf("=== %s ===\n(not available)\n", id)
			continue
		}
		c.io.Printf("=== %s ===\n", id)
		if t := m.Transpose(id); t != 0 {
			c.io.Printf("Transpose: %+d\n", t)
		}
		c.io.Println(content)
	}

	m.LeaveSession()
	if missing > 0 {
		return fmt.Errorf("%s not available from the host", plural(missing, "song"))
	}
	return nil
}

// printEvent печатает событие сессии; true = сессия для нас закончилась
func (c *Cli) printEvent(e session.Event) bool {
	switch e.Type {
	case session.EventParticipantJoined:
		if e.Participant != nil {
			c.io.Printf("+ %s joined (%s)\n", e.Participant.DisplayName, e.Participant.ClientID)
		}
	case session.EventParticipantLeft:
		if e.Participant != nil {
			c.io.Printf("- %s left\n", e.Participant.DisplayName)
		}
	case session.EventEjected:
		c.io.Println("⚠️  You were removed from the session by the host")
		return true
	case session.EventSessionEnded:
		if e.Err != nil {
			c.io.Printf("⚠️  Session ended: %v\n", e.Err)
		} else {
			c.io.Println("Session ended")
		}
		return true
	}
	return false
}

func (c *Cli) printManifest(m *session.Manager, manifest models.Manifest) {
	c.io.Printf("Songs shared by host (%d):\n", len(manifest))
	for _, e := range manifest {
		line := fmt.Sprintf("  %s  %s", e.ID, e.Title)
		if e.Artist != "" {
			line += " - " + e.Artist
		}
		if e.Key != "" {
			line += fmt.Sprintf(" [%s]", e.Key)
		}
		if t := m.Transpose(e.ID); t != 0 {
			line += fmt.Sprintf(" (%+d)", t)
		}
		c.io.Println(line)
	}
}

func (c *Cli) printParticipants(participants []models.Participant) {
	c.io.Printf("Participants (%d):\n", len(participants))
	for _, p := range participants {
		role := ""
		if p.IsHost {
			role = " [host]"
		}
		line := fmt.Sprintf("  %s  %s%s", p.ClientID, p.DisplayName, role)
		if len(p.Instruments) > 0 {
			line += " - " + strings.Join(p.Instruments, ", ")
		}
		c.io.Println(line)
	}
}
