package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	httpClient "github.com/iudanet/chordkeeper/internal/client/api"
	"github.com/iudanet/chordkeeper/internal/client/storage"
	"github.com/iudanet/chordkeeper/internal/crdt"
	"github.com/iudanet/chordkeeper/internal/models"
)

// State состояние синхронизации для UI
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateError   State = "error"
)

// SyncStatus is a snapshot of the engine state.
type SyncStatus struct {
	LastSyncAt     time.Time
	Error          error
	State          State
	PendingChanges int
}

// SyncResult contains sync pass results
type SyncResult struct {
	Pulled    int // записи, которые были только на сервере
	Pushed    int // записи, которые были только локально
	Refreshed int // обе копии, серверная новее
	Uploaded  int // обе копии, локальная новее
	Unchanged int // одинаковые версии
	Failed    int // записи с TransientIOError, повторятся на следующем проходе
}

// LocalStore is the local document store the engine reconciles.
type LocalStore interface {
	storage.SongStorage
	storage.ArrangementStorage
}

// Engine reconciles the local store with the remote store for one owner
// and applies the remote change feed.
type Engine struct {
	remote   httpClient.ClientAPI
	local    LocalStore
	metadata storage.MetadataStorage
	clock    *crdt.Clock
	logger   *slog.Logger
	now      func() time.Time

	// passMu сериализует изменения локального хранилища: проход и живые события
	passMu sync.Mutex

	mu      sync.RWMutex
	status  SyncStatus
	ownerID string
	pending map[string]struct{} // записи, которые не удалось согласовать с сервером
	sub     httpClient.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// задержки переподписки после обрыва ленты
	resubscribeBase time.Duration
	resubscribeMax  time.Duration
}

// NewEngine creates a new sync engine. clock may be nil; when set, pulled
// timestamps are observed so later local edits stamp strictly newer versions.
func NewEngine(remote httpClient.ClientAPI, local LocalStore, metadata storage.MetadataStorage, clock *crdt.Clock, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		remote:   remote,
		local:    local,
		metadata: metadata,
		clock:    clock,
		logger:   logger,
		now:      time.Now,
		status:   SyncStatus{State: StateIdle},
		pending:  make(map[string]struct{}),

		resubscribeBase: 500 * time.Millisecond,
		resubscribeMax:  30 * time.Second,
	}
}

// Status returns the current sync status.
func (e *Engine) Status() SyncStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// RunInitialSync performs a full reconciliation pass:
// 1. Fetches remote and local sets for the owner
// 2. Pulls remote-only records, then pushes local-only records
// 3. For records on both sides the strictly newer UpdatedAt wins, equal is a no-op
func (e *Engine) RunInitialSync(ctx context.Context, ownerID string) (*SyncResult, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	e.setState(StateSyncing, nil)
	e.logger.Info("Starting synchronization", slog.String("owner_id", ownerID))

	remoteSongs, err := e.remote.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, e.fail(&SystemicSyncError{Op: "list remote songs", Err: err})
	}

	localSongs, err := e.local.ListSongsByOwner(ctx, ownerID)
	if err != nil {
		return nil, e.fail(&SystemicSyncError{Op: "list local songs", Err: err})
	}

	remoteByID := indexByID(remoteSongs)
	localByID := indexByID(localSongs)

	result := &SyncResult{}
	pending := make(map[string]struct{})

	// Сначала тянем с сервера, потом отправляем
	for id, remoteSong := range remoteByID {
		localSong, ok := localByID[id]
		switch {
		case !ok:
			if err := e.pull(ctx, remoteSong); err != nil {
				e.logTransient(err)
				result.Failed++
				pending[id] = struct{}{}
				continue
			}
			result.Pulled++
		case remoteSong.IsNewerThan(localSong):
			if err := e.pull(ctx, remoteSong); err != nil {
				e.logTransient(err)
				result.Failed++
				pending[id] = struct{}{}
				continue
			}
			result.Refreshed++
		case remoteSong.SameVersion(localSong):
			result.Unchanged++
		}
	}

	for id, localSong := range localByID {
		remoteSong, ok := remoteByID[id]
		if ok && !localSong.IsNewerThan(remoteSong) {
			continue
		}
		if err := e.push(ctx, localSong); err != nil {
			e.logTransient(err)
			result.Failed++
			pending[id] = struct{}{}
			continue
		}
		if ok {
			result.Uploaded++
		} else {
			result.Pushed++
		}
	}

	syncedAt := e.now()
	if err := e.metadata.SaveLastSyncAt(ctx, syncedAt); err != nil {
		// Не прерываем синхронизацию из-за ошибки сохранения времени
		e.logger.Warn("Failed to save last sync time", slog.Any("error", err))
	}

	e.mu.Lock()
	e.pending = pending
	e.status = SyncStatus{
		State:          StateIdle,
		LastSyncAt:     syncedAt,
		PendingChanges: len(pending),
	}
	e.mu.Unlock()

	e.logger.Info("Synchronization completed",
		slog.Int("pulled", result.Pulled),
		slog.Int("pushed", result.Pushed),
		slog.Int("refreshed", result.Refreshed),
		slog.Int("uploaded", result.Uploaded),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("failed", result.Failed))

	return result, nil
}

// PushOne uploads a single local song with its arrangement attached.
func (e *Engine) PushOne(ctx context.Context, song *models.Song) error {
	if song == nil {
		return errors.New("song is nil")
	}

	err := e.push(ctx, song)
	if err != nil {
		e.markPending(song.ID)
		return err
	}
	e.clearPending(song.ID)
	return nil
}

// PushDelete propagates a local delete. A song already gone remotely is not an error.
func (e *Engine) PushDelete(ctx context.Context, songID string) error {
	if err := e.remote.Delete(ctx, songID); err != nil && !errors.Is(err, httpClient.ErrNotFound) {
		return &TransientIOError{Op: "delete", SongID: songID, Err: err}
	}

	e.clearPending(songID)
	return nil
}

// ApplyRemoteChange applies one live change event to the local store.
// Insert and update overwrite the local copy unconditionally; delete removes
// the local copy whenever one exists.
func (e *Engine) ApplyRemoteChange(ctx context.Context, event models.ChangeEvent) error {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	return e.applyRemoteChange(ctx, event)
}

func (e *Engine) applyRemoteChange(ctx context.Context, event models.ChangeEvent) error {
	id := event.SongID()
	if id == "" {
		return fmt.Errorf("change event %q without song", event.Type)
	}

	switch event.Type {
	case models.ChangeInsert, models.ChangeUpdate:
		if event.New == nil {
			return fmt.Errorf("%s event for %s without new record", event.Type, id)
		}
		if err := e.pull(ctx, event.New); err != nil {
			return err
		}
		e.clearPending(id)

	case models.ChangeDelete:
		if _, err := e.local.GetSong(ctx, id); err != nil {
			if errors.Is(err, storage.ErrSongNotFound) {
				return nil
			}
			return &TransientIOError{Op: "delete", SongID: id, Err: err}
		}
		if err := e.local.DeleteSong(ctx, id); err != nil {
			return &TransientIOError{Op: "delete", SongID: id, Err: err}
		}
		if err := e.local.DeleteArrangement(ctx, id); err != nil {
			e.logger.Warn("Failed to delete local arrangement", slog.String("song_id", id), slog.Any("error", err))
		}
		e.clearPending(id)

	default:
		return fmt.Errorf("unknown change type %q", event.Type)
	}

	e.logger.Debug("Applied remote change", slog.String("type", string(event.Type)), slog.String("song_id", id))
	return nil
}

// Start runs the initial pass and then follows the change feed of ownerID.
// A failed pass does not prevent the subscription; the error is returned and
// also visible through Status.
func (e *Engine) Start(ctx context.Context, ownerID string) error {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.ownerID = ownerID
	e.mu.Unlock()

	_, passErr := e.RunInitialSync(ctx, ownerID)

	sub, err := e.remote.Subscribe(ctx, ownerID)
	if err != nil {
		subErr := &SystemicSyncError{Op: "subscribe to changes", Err: err}
		e.logger.Error("Failed to subscribe to change feed", slog.Any("error", err))
		e.setState(StateError, subErr)
		return errors.Join(passErr, subErr)
	}

	e.mu.Lock()
	e.sub = sub
	e.mu.Unlock()

	e.wg.Add(1)
	go e.follow(runCtx, sub)

	return passErr
}

// follow применяет события строго в порядке поступления. Если лента
// оборвалась не из-за Teardown, статус переходит в error, движок
// переподписывается и догоняет пропущенное полным проходом.
func (e *Engine) follow(ctx context.Context, sub httpClient.Subscription) {
	defer e.wg.Done()

	for {
		e.consume(ctx, sub)
		if ctx.Err() != nil {
			return
		}

		_ = sub.Close()
		e.logger.Warn("Change feed lost, resubscribing")
		e.setState(StateError, &SystemicSyncError{Op: "change feed", Err: ErrFeedLost})

		next, err := e.resubscribe(ctx)
		if err != nil {
			return
		}
		sub = next

		if _, err := e.RunInitialSync(ctx, e.owner()); err != nil {
			e.logger.Warn("Catch-up pass after resubscribe failed", slog.Any("error", err))
		}
	}
}

// consume возвращается, когда лента закрыта или ctx отменен
func (e *Engine) consume(ctx context.Context, sub httpClient.Subscription) {
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := e.ApplyRemoteChange(ctx, event); err != nil {
				e.logTransient(err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) resubscribe(ctx context.Context) (httpClient.Subscription, error) {
	backoff := retry.WithCappedDuration(e.resubscribeMax, retry.NewExponential(e.resubscribeBase))

	var sub httpClient.Subscription
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		s, err := e.remote.Subscribe(ctx, e.owner())
		if err != nil {
			e.logger.Debug("Resubscribe failed", slog.Any("error", err))
			e.setState(StateError, &SystemicSyncError{Op: "change feed", Err: fmt.Errorf("%w: %w", ErrFeedLost, err)})
			return retry.RetryableError(err)
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.cancel == nil || ctx.Err() != nil {
		// Teardown уже забрал старую подписку
		e.mu.Unlock()
		_ = sub.Close()
		return nil, context.Canceled
	}
	e.sub = sub
	e.mu.Unlock()

	e.logger.Info("Change feed resubscribed")
	return sub, nil
}

func (e *Engine) owner() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ownerID
}

// ForceSync re-runs the whole pass for the started owner.
func (e *Engine) ForceSync(ctx context.Context) error {
	e.mu.RLock()
	ownerID := e.ownerID
	started := e.cancel != nil
	e.mu.RUnlock()

	if !started {
		return ErrNotStarted
	}

	_, err := e.RunInitialSync(ctx, ownerID)
	return err
}

// Teardown closes the subscription and waits for the event goroutine.
func (e *Engine) Teardown() {
	e.mu.Lock()
	cancel := e.cancel
	sub := e.sub
	e.cancel = nil
	e.sub = nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	if sub != nil {
		if err := sub.Close(); err != nil {
			e.logger.Debug("Failed to close change feed", slog.Any("error", err))
		}
	}
	e.wg.Wait()

	e.logger.Info("Sync engine stopped")
}

// PendingChanges counts local songs changed after the last successful pass.
// Unlike Status it reads the stores, so it works in a fresh process.
func (e *Engine) PendingChanges(ctx context.Context, ownerID string) (int, error) {
	lastSyncAt, err := e.metadata.GetLastSyncAt(ctx)
	if err != nil {
		e.logger.Debug("No last sync time found, using zero", slog.Any("error", err))
		lastSyncAt = time.Time{}
	}

	songs, err := e.local.ListSongsByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending songs: %w", err)
	}

	count := 0
	for _, s := range songs {
		if s.UpdatedAt.After(lastSyncAt) {
			count++
		}
	}
	return count, nil
}

// pull перезаписывает локальную копию и подтягивает аранжировку
func (e *Engine) pull(ctx context.Context, song *models.Song) error {
	if err := e.local.UpsertSong(ctx, song); err != nil {
		return &TransientIOError{Op: "pull", SongID: song.ID, Err: err}
	}
	if e.clock != nil {
		e.clock.Observe(song.UpdatedAt.UnixMilli())
	}

	arrangement, err := e.remote.GetArrangement(ctx, song.ID)
	switch {
	case errors.Is(err, httpClient.ErrNotFound):
		return nil
	case err != nil:
		// Аранжировка вторична, песня уже сохранена
		e.logger.Warn("Failed to fetch arrangement", slog.String("song_id", song.ID), slog.Any("error", err))
		return nil
	}

	if err := e.local.SaveArrangement(ctx, arrangement); err != nil {
		e.logger.Warn("Failed to save arrangement", slog.String("song_id", song.ID), slog.Any("error", err))
	}
	return nil
}

// push отправляет песню, аранжировка берется из локального хранилища в момент отправки
func (e *Engine) push(ctx context.Context, song *models.Song) error {
	arrangement, err := e.local.GetArrangement(ctx, song.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrArrangementNotFound) {
			e.logger.Warn("Failed to load arrangement for push", slog.String("song_id", song.ID), slog.Any("error", err))
		}
		arrangement = nil
	}

	if _, err := e.remote.Upsert(ctx, song, arrangement); err != nil {
		return &TransientIOError{Op: "push", SongID: song.ID, Err: err}
	}
	return nil
}

func (e *Engine) setState(state State, err error) {
	e.mu.Lock()
	e.status.State = state
	e.status.Error = err
	e.mu.Unlock()
}

func (e *Engine) markPending(id string) {
	e.mu.Lock()
	e.pending[id] = struct{}{}
	e.status.PendingChanges = len(e.pending)
	e.mu.Unlock()
}

func (e *Engine) clearPending(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	e.status.PendingChanges = len(e.pending)
	e.mu.Unlock()
}

func (e *Engine) fail(err error) error {
	e.logger.Error("Synchronization failed", slog.Any("error", err))
	e.setState(StateError, err)
	return err
}

func (e *Engine) logTransient(err error) {
	var transient *TransientIOError
	if errors.As(err, &transient) {
		e.logger.Warn("Record skipped",
			slog.String("op", transient.Op),
			slog.String("song_id", transient.SongID),
			slog.Any("error", transient.Err))
		return
	}
	e.logger.Warn("Failed to apply change", slog.Any("error", err))
}

func indexByID(songs []*models.Song) map[string]*models.Song {
	out := make(map[string]*models.Song, len(songs))
	for _, s := range songs {
		out[s.ID] = s
	}
	return out
}
