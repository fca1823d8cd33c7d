// Package cli implements the chordkeeper client commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/iudanet/chordkeeper/internal/client/api"
	"github.com/iudanet/chordkeeper/internal/client/iocli"
	"github.com/iudanet/chordkeeper/internal/client/library"
	"github.com/iudanet/chordkeeper/internal/client/storage"
	"github.com/iudanet/chordkeeper/internal/client/sync"
	"github.com/iudanet/chordkeeper/internal/config"
	"github.com/iudanet/chordkeeper/internal/crdt"
	"github.com/iudanet/chordkeeper/internal/transport"
	"github.com/iudanet/chordkeeper/internal/transport/relay"
)

// ErrNotLoggedIn возвращается командам, которым нужен профиль владельца
var ErrNotLoggedIn = errors.New("not logged in. Please run 'chordkeeper login' first")

// Store is the local database the CLI works with. boltdb.Storage implements it.
type Store interface {
	storage.SongStorage
	storage.ArrangementStorage
	storage.MetadataStorage
	storage.ProfileStorage
}

type Cli struct {
	io     iocli.IO
	cfg    *config.Client
	store  Store
	clock  *crdt.Clock
	logger *slog.Logger
	stdin  io.Reader

	// фабрики подменяются в тестах
	newRemote    func(serverURL, token string) api.ClientAPI
	newTransport func(serverURL string) (transport.Transport, error)
}

func New(cfg *config.Client, store Store, io iocli.IO, logger *slog.Logger) *Cli {
	return &Cli{
		io:     io,
		cfg:    cfg,
		store:  store,
		clock:  crdt.NewClock(),
		logger: logger,
		stdin:  os.Stdin,
		newRemote: func(serverURL, token string) api.ClientAPI {
			return api.NewClient(serverURL, token, logger)
		},
		newTransport: func(serverURL string) (transport.Transport, error) {
			return relay.New(serverURL, logger), nil
		},
	}
}

// Run executes one command. args[0] is the command name.
func (c *Cli) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		c.PrintUsage()
		return fmt.Errorf("missing command")
	}

	command, rest := args[0], args[1:]
	switch command {
	case "login":
		return c.runLogin(ctx, rest)
	case "logout":
		return c.runLogout(ctx)
	case "status":
		return c.runStatus(ctx)
	case "add":
		return c.runAdd(ctx, rest)
	case "list":
		return c.runList(ctx, rest)
	case "edit":
		return c.runEdit(ctx, rest)
	case "get":
		return c.runGet(ctx, rest)
	case "delete":
		return c.runDelete(ctx, rest)
	case "arrange":
		return c.runArrange(ctx, rest)
	case "sync":
		return c.runSync(ctx)
	case "watch":
		return c.runWatch(ctx)
	case "host":
		return c.runHost(ctx, rest)
	case "join":
		return c.runJoin(ctx, rest)
	case "help":
		c.PrintUsage()
		return nil
	default:
		c.PrintUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

// profile возвращает сохраненный профиль или ErrNotLoggedIn
func (c *Cli) profile(ctx context.Context) (*storage.Profile, error) {
	p, err := c.store.GetProfile(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

func (c *Cli) engine(p *storage.Profile) *sync.Engine {
	remote := c.newRemote(p.ServerURL, p.AccessToken)
	return sync.NewEngine(remote, c.store, c.store, c.clock, c.logger)
}

// library строит сервис библиотеки; записи сразу уходят на сервер,
// при недоступном сервере остаются локально до следующего sync
func (c *Cli) library(p *storage.Profile) library.Service {
	return library.NewService(c.store, c.clock, c.engine(p), c.logger)
}

func (c *Cli) PrintUsage() {
	c.io.Println("chordkeeper - offline-first chord charts with live sessions")
	c.io.Println()
	c.io.Println("Usage:")
	c.io.Println("  chordkeeper [OPTIONS] COMMAND [ARGS]")
	c.io.Println()
	c.io.Println("Options:")
	c.io.Println("  -version                 Show version information")
	c.io.Println("  -server URL              Server URL (default: http://localhost:8080)")
	c.io.Println("  -db PATH                 Path to local database (default: chordkeeper.db)")
	c.io.Println("  -name NAME               Display name shown in sessions")
	c.io.Println("  -instruments LIST        Comma separated instruments you play")
	c.io.Println("  -log-level LEVEL         debug, info, warn, error")
	c.io.Println("  -log-file PATH           Write logs to a rotated file")
	c.io.Println()
	c.io.Println("Every option can also be set as CHORDKEEPER_<OPTION> in the environment or in .env")
	c.io.Println()
	c.io.Println("Commands:")
	c.io.Println("  login [token]            Save the owner token issued by the server operator")
	c.io.Println("  logout                   Forget the saved token")
	c.io.Println("  status                   Show login and sync status")
	c.io.Println("  add [flags]              Add a song (-title, -artist, -key, -tempo, -tags, -instruments)")
	c.io.Println("  edit <id> [flags]        Change fields of a song (same flags as add)")
	c.io.Println("  list [-tag TAG]          List songs")
	c.io.Println("  get <id>                 Show a song with its chord chart")
	c.io.Println("  delete <id>              Delete a song")
	c.io.Println("  arrange <id> <file>      Store the chord chart of a song ('-' reads stdin)")
	c.io.Println("  sync                     Reconcile the local library with the server")
	c.io.Println("  watch                    Sync and keep following server changes")
	c.io.Println("  host [flags] [ids...]    Share songs in a live session (-password, -scope, -ttl, -png)")
	c.io.Println("  join [flags] <code> [ids...]  Join a session and fetch songs (-password)")
	c.io.Println()
	c.io.Println("Examples:")
	c.io.Println("  chordkeeper-server -issue-token anna")
	c.io.Println("  chordkeeper login eyJhbGciOi...")
	c.io.Println("  chordkeeper add -title 'Amazing Grace' -key G -tags hymn")
	c.io.Println("  chordkeeper arrange 3f1c... grace.chordpro")
	c.io.Println("  chordkeeper -name Anna host -password amen")
	c.io.Println("  chordkeeper -name Boris join ck1.eyJz...")
}
