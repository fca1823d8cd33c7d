package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/chordkeeper/internal/client/storage"
	"github.com/iudanet/chordkeeper/internal/client/storage/boltdb"
	"github.com/iudanet/chordkeeper/internal/crdt"
	"github.com/iudanet/chordkeeper/internal/models"
)

const owner = "owner-1"

func song(id string, updatedMs int64) *models.Song {
	return &models.Song{
		ID:        id,
		OwnerID:   owner,
		Title:     "Song " + id,
		CreatedAt: time.UnixMilli(1).UTC(),
		UpdatedAt: time.UnixMilli(updatedMs).UTC(),
	}
}

// fullSong заполняет все поля, чтобы сравнивать локальную копию с событием целиком
func fullSong(id string, updatedMs int64) *models.Song {
	s := song(id, updatedMs)
	s.Artist = "Artist " + id
	s.Key = "Am"
	s.Tempo = 96
	s.Tags = []string{"hymn", "v" + id}
	s.Instruments = []string{"guitar", "piano"}
	return s
}

func setupEngine(t *testing.T) (*Engine, *fakeRemote, *boltdb.Storage) {
	t.Helper()

	local, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	remote := newFakeRemote()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(remote, local, local, nil, logger)
	engine.now = func() time.Time { return time.UnixMilli(10_000).UTC() }
	t.Cleanup(engine.Teardown)

	return engine, remote, local
}

func TestNewEngine(t *testing.T) {
	engine, _, _ := setupEngine(t)

	status := engine.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.True(t, status.LastSyncAt.IsZero())
	assert.NoError(t, status.Error)
}

func TestRunInitialSync_EmptyBothSides(t *testing.T) {
	engine, _, _ := setupEngine(t)

	result, err := engine.RunInitialSync(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, *result)

	status := engine.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, int64(10_000), status.LastSyncAt.UnixMilli())
}

func TestRunInitialSync_Reconciles(t *testing.T) {
	ctx := context.Background()
	engine, remote, local := setupEngine(t)

	// только на сервере
	remote.put(song("remote-only", 100), "[Am]remote")
	// только локально
	require.NoError(t, local.UpsertSong(ctx, song("local-only", 200)))
	require.NoError(t, local.SaveArrangement(ctx, &models.Arrangement{SongID: "local-only", OwnerID: owner, Content: "[C]local"}))
	// сервер новее
	remote.put(song("remote-newer", 500), "")
	require.NoError(t, local.UpsertSong(ctx, song("remote-newer", 300)))
	// локальная новее
	remote.put(song("local-newer", 300), "")
	require.NoError(t, local.UpsertSong(ctx, song("local-newer", 500)))
	// одинаковые
	remote.put(song("same", 400), "")
	require.NoError(t, local.UpsertSong(ctx, song("same", 400)))

	result, err := engine.RunInitialSync(ctx, owner)
	require.NoError(t, err)

	assert.Equal(t, SyncResult{Pulled: 1, Pushed: 1, Refreshed: 1, Uploaded: 1, Unchanged: 1}, *result)

	got, err := local.GetSong(ctx, "remote-only")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.UpdatedAt.UnixMilli())

	arr, err := local.GetArrangement(ctx, "remote-only")
	require.NoError(t, err)
	assert.Equal(t, "[Am]remote", arr.Content)

	got, err = local.GetSong(ctx, "remote-newer")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.UpdatedAt.UnixMilli())

	assert.Equal(t, int64(200), remote.get("local-only").UpdatedAt.UnixMilli())
	assert.Equal(t, int64(500), remote.get("local-newer").UpdatedAt.UnixMilli())

	remoteArr, err := remote.GetArrangement(ctx, "local-only")
	require.NoError(t, err)
	assert.Equal(t, "[C]local", remoteArr.Content)

	// Only the two winning local copies were uploaded
	assert.Equal(t, 2, remote.upsertCount())
}

func TestRunInitialSync_Idempotent(t *testing.T) {
	ctx := context.Background()
	engine, remote, local := setupEngine(t)

	remote.put(song("a", 100), "")
	require.NoError(t, local.UpsertSong(ctx, song("b", 200)))

	_, err := engine.RunInitialSync(ctx, owner)
	require.NoError(t, err)
	uploads := remote.upsertCount()

	result, err := engine.RunInitialSync(ctx, owner)
	require.NoError(t, err)

	assert.Equal(t, SyncResult{Unchanged: 2}, *result)
	assert.Equal(t, uploads, remote.upsertCount())
}

func TestRunInitialSync_SystemicFailure(t *testing.T) {
	ctx := context.Background()
	engine, remote, _ := setupEngine(t)
	remote.listErr = errors.New("connection refused")

	result, err := engine.RunInitialSync(ctx, owner)
	require.Error(t, err)
	assert.Nil(t, result)

	var systemic *SystemicSyncError
	require.ErrorAs(t, err, &systemic)
	assert.Equal(t, "list remote songs", systemic.Op)

	status := engine.Status()
	assert.Equal(t, StateError, status.State)
	assert.ErrorIs(t, status.Error, remote.listErr)

	// повторная попытка после восстановления связи
	remote.listErr = nil
	_, err = engine.RunInitialSync(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, engine.Status().State)
	assert.NoError(t, engine.Status().Error)
}

func TestRunInitialSync_LocalListFailure(t *testing.T) {
	engine, _, local := setupEngine(t)
	require.NoError(t, local.Close())

	_, err := engine.RunInitialSync(context.Background(), owner)

	var systemic *SystemicSyncError
	require.ErrorAs(t, err, &systemic)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.Equal(t, StateError, engine.Status().State)
}

func TestRunInitialSync_TransientFailureDoesNotAbort(t *testing.T) {
	ctx := context.Background()
	engine, remote, local := setupEngine(t)

	require.NoError(t, local.UpsertSong(ctx, song("bad", 100)))
	require.NoError(t, local.UpsertSong(ctx, song("good", 100)))
	remote.upsertErr["bad"] = errors.New("timeout")

	result, err := engine.RunInitialSync(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Pushed)
	assert.Equal(t, 1, engine.Status().PendingChanges)
	assert.NotNil(t, remote.get("good"))

	// следующий проход повторяет запись
	delete(remote.upsertErr, "bad")
	result, err = engine.RunInitialSync(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, result.Pushed)
	assert.Equal(t, 0, engine.Status().PendingChanges)
}

func TestRunInitialSync_ArrangementFailureKeepsSong(t *testing.T) {
	ctx := context.Background()
	engine, remote, local := setupEngine(t)

	remote.put(song("a", 100), "[G]x")
	remote.arrangeErr = errors.New("boom")

	result, err := engine.RunInitialSync(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pulled)

	_, err = local.GetSong(ctx, "a")
	require.NoError(t, err)
	_, err = local.GetArrangement(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrArrangementNotFound)
}

func TestRunInitialSync_ObservesClock(t *testing.T) {
	ctx := context.Background()
	engine, remote, _ := setupEngine(t)
	clock := crdt.NewClockWithSource(func() time.Time { return time.UnixMilli(50) })
	engine.clock = clock

	remote.put(song("future", 90_000), "")

	_, err := engine.RunInitialSync(ctx, owner)
	require.NoError(t, err)

	assert.Greater(t, clock.Tick(), int64(90_000))
}

func TestApplyRemoteChange(t *testing.T) {
	tests := []struct {
		name        string
		localBefore *models.Song
		event       models.ChangeEvent
		wantLocal   *int64 // nil = песни нет
		wantErr     bool
	}{
		{
			name:      "insert creates local copy",
			event:     models.ChangeEvent{Type: models.ChangeInsert, New: fullSong("s", 100)},
			wantLocal: ptr(100),
		},
		{
			name:        "update overwrites even an older version",
			localBefore: song("s", 900),
			event:       models.ChangeEvent{Type: models.ChangeUpdate, New: fullSong("s", 500), Old: song("s", 400)},
			wantLocal:   ptr(500),
		},
		{
			name:        "delete removes existing copy",
			localBefore: song("s", 100),
			event:       models.ChangeEvent{Type: models.ChangeDelete, Old: song("s", 100)},
		},
		{
			name:        "delete removes a newer local edit",
			localBefore: song("s", 900),
			event:       models.ChangeEvent{Type: models.ChangeDelete, Old: song("s", 100)},
		},
		{
			name:  "delete of unknown song is a no-op",
			event: models.ChangeEvent{Type: models.ChangeDelete, Old: song("s", 100)},
		},
		{
			name:    "update without new record",
			event:   models.ChangeEvent{Type: models.ChangeUpdate, Old: song("s", 100)},
			wantErr: true,
		},
		{
			name:    "unknown type",
			event:   models.ChangeEvent{Type: "rename", New: song("s", 100)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			engine, _, local := setupEngine(t)

			if tt.localBefore != nil {
				require.NoError(t, local.UpsertSong(ctx, tt.localBefore))
				require.NoError(t, local.SaveArrangement(ctx, &models.Arrangement{SongID: "s", OwnerID: owner, Content: "x"}))
			}

			err := engine.ApplyRemoteChange(ctx, tt.event)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			got, err := local.GetSong(ctx, "s")
			if tt.wantLocal == nil {
				assert.ErrorIs(t, err, storage.ErrSongNotFound)
				_, err = local.GetArrangement(ctx, "s")
				assert.ErrorIs(t, err, storage.ErrArrangementNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, *tt.wantLocal, got.UpdatedAt.UnixMilli())
			assertSamePayload(t, tt.event.New, got)
		})
	}
}

// локальная копия после события равна его payload
func assertSamePayload(t *testing.T, want, got *models.Song) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.OwnerID, got.OwnerID)
	assert.Equal(t, want.Title, got.Title)
	assert.Equal(t, want.Artist, got.Artist)
	assert.Equal(t, want.Key, got.Key)
	assert.Equal(t, want.Tempo, got.Tempo)
	assert.Equal(t, want.Tags, got.Tags)
	assert.Equal(t, want.Instruments, got.Instruments)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
}

func ptr(v int64) *int64 { return &v }

func TestPushOne(t *testing.T) {
	ctx := context.Background()
	engine, remote, local := setupEngine(t)

	s := song("a", 100)
	require.NoError(t, local.UpsertSong(ctx, s))
	require.NoError(t, local.SaveArrangement(ctx, &models.Arrangement{SongID: "a", OwnerID: owner, Content: "[D]late"}))

	require.NoError(t, engine.PushOne(ctx, s))

	arr, err := remote.GetArrangement(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "[D]late", arr.Content)

	remote.upsertErr["b"] = errors.New("offline")
	err = engine.PushOne(ctx, song("b", 100))

	var transient *TransientIOError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, "b", transient.SongID)
	assert.Equal(t, 1, engine.Status().PendingChanges)

	delete(remote.upsertErr, "b")
	require.NoError(t, engine.PushOne(ctx, song("b", 101)))
	assert.Equal(t, 0, engine.Status().PendingChanges)

	assert.Error(t, engine.PushOne(ctx, nil))
}

func TestPushDelete(t *testing.T) {
	ctx := context.Background()
	engine, remote, _ := setupEngine(t)
	remote.put(song("a", 100), "")

	require.NoError(t, engine.PushDelete(ctx, "a"))
	assert.Nil(t, remote.get("a"))

	// повторное удаление не ошибка
	require.NoError(t, engine.PushDelete(ctx, "a"))
}

func TestPendingChanges(t *testing.T) {
	ctx := context.Background()
	engine, _, local := setupEngine(t)

	require.NoError(t, local.SaveLastSyncAt(ctx, time.UnixMilli(1_000)))
	require.NoError(t, local.UpsertSong(ctx, song("old", 500)))
	require.NoError(t, local.UpsertSong(ctx, song("new", 2_000)))

	count, err := engine.PendingChanges(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStart_AppliesLiveEventsInOrder(t *testing.T) {
	ctx := context.Background()
	engine, remote, local := setupEngine(t)
	remote.put(song("a", 100), "")

	require.NoError(t, engine.Start(ctx, owner))
	assert.ErrorIs(t, engine.Start(ctx, owner), ErrAlreadyStarted)

	sub := remote.subscription()
	require.NotNil(t, sub)

	require.NoError(t, sub.emit(models.ChangeEvent{Type: models.ChangeUpdate, New: song("a", 200)}))
	latest := fullSong("a", 150)
	require.NoError(t, sub.emit(models.ChangeEvent{Type: models.ChangeUpdate, New: latest}))
	require.NoError(t, sub.emit(models.ChangeEvent{Type: models.ChangeInsert, New: song("b", 300)}))

	require.Eventually(t, func() bool {
		got, err := local.GetSong(ctx, "b")
		return err == nil && got != nil
	}, 2*time.Second, 10*time.Millisecond)

	// события применяются в порядке поступления, последнее побеждает
	got, err := local.GetSong(ctx, "a")
	require.NoError(t, err)
	assertSamePayload(t, latest, got)

	engine.Teardown()
	engine.Teardown()
	assert.True(t, sub.isClosed())
}

func TestStart_ResubscribesAfterFeedLoss(t *testing.T) {
	ctx := context.Background()
	engine, remote, local := setupEngine(t)
	engine.resubscribeBase = 5 * time.Millisecond
	engine.resubscribeMax = 20 * time.Millisecond

	require.NoError(t, engine.Start(ctx, owner))
	first := remote.subscription()
	require.NotNil(t, first)

	// сервер пропал: лента закрылась, переподписка пока не удается
	remote.setSubscribeErr(errors.New("connection refused"))
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool {
		return engine.Status().State == StateError
	}, 2*time.Second, 5*time.Millisecond)

	status := engine.Status()
	var systemic *SystemicSyncError
	require.ErrorAs(t, status.Error, &systemic)
	assert.Equal(t, "change feed", systemic.Op)
	assert.ErrorIs(t, status.Error, ErrFeedLost)

	// изменение, сделанное пока ленты не было
	remote.put(song("missed", 100), "")
	remote.setSubscribeErr(nil)

	require.Eventually(t, func() bool {
		return remote.subscriptionCount() > 1 && engine.Status().State == StateIdle
	}, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, engine.Status().Error)

	_, err := local.GetSong(ctx, "missed")
	require.NoError(t, err)

	second := remote.subscription()
	live := fullSong("live", 200)
	require.NoError(t, second.emit(models.ChangeEvent{Type: models.ChangeInsert, New: live}))
	require.Eventually(t, func() bool {
		got, err := local.GetSong(ctx, "live")
		return err == nil && got != nil
	}, 2*time.Second, 10*time.Millisecond)

	engine.Teardown()
	assert.True(t, second.isClosed())
}

func TestStart_SubscribeFailure(t *testing.T) {
	engine, remote, _ := setupEngine(t)
	remote.subscribeErr = errors.New("upgrade refused")

	err := engine.Start(context.Background(), owner)

	var systemic *SystemicSyncError
	require.ErrorAs(t, err, &systemic)
	assert.Equal(t, StateError, engine.Status().State)
}

func TestForceSync(t *testing.T) {
	ctx := context.Background()
	engine, remote, local := setupEngine(t)

	assert.ErrorIs(t, engine.ForceSync(ctx), ErrNotStarted)

	remote.listErr = errors.New("down")
	err := engine.Start(ctx, owner)
	require.Error(t, err)
	assert.Equal(t, StateError, engine.Status().State)

	remote.listErr = nil
	remote.put(song("late", 100), "")
	require.NoError(t, engine.ForceSync(ctx))

	assert.Equal(t, StateIdle, engine.Status().State)
	_, err = local.GetSong(ctx, "late")
	require.NoError(t, err)
}

// Два устройства одного владельца сходятся к одной версии
func TestTwoDevicesConverge(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	newDevice := func() (*Engine, *boltdb.Storage) {
		local, err := boltdb.New(ctx, filepath.Join(t.TempDir(), "device.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = local.Close() })
		return NewEngine(remote, local, local, nil, logger), local
	}

	phone, phoneStore := newDevice()
	laptop, laptopStore := newDevice()

	require.NoError(t, phoneStore.UpsertSong(ctx, song("x", 100)))
	require.NoError(t, laptopStore.UpsertSong(ctx, song("x", 200)))

	for range 2 {
		_, err := phone.RunInitialSync(ctx, owner)
		require.NoError(t, err)
		_, err = laptop.RunInitialSync(ctx, owner)
		require.NoError(t, err)
	}

	p, err := phoneStore.GetSong(ctx, "x")
	require.NoError(t, err)
	l, err := laptopStore.GetSong(ctx, "x")
	require.NoError(t, err)

	assert.Equal(t, int64(200), p.UpdatedAt.UnixMilli())
	assert.Equal(t, int64(200), l.UpdatedAt.UnixMilli())
	assert.Equal(t, int64(200), remote.get("x").UpdatedAt.UnixMilli())
}
