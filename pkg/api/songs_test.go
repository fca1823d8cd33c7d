package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/chordkeeper/internal/models"
)

func TestSongFromModel_MillisecondPrecision(t *testing.T) {
	updated := time.UnixMilli(1_700_000_000_123).UTC()
	m := &models.Song{
		ID:        "s1",
		OwnerID:   "alice",
		Title:     "Wonderwall",
		Key:       "F#m",
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated.Add(456 * time.Microsecond),
	}

	wire := SongFromModel(m)
	assert.Equal(t, int64(1_700_000_000_123), wire.UpdatedAt)

	back := wire.ToModel()
	assert.True(t, back.UpdatedAt.Equal(updated), "sub-millisecond part is dropped on the wire")
	assert.Equal(t, "F#m", back.Key)
}

func TestChangeEventConversion(t *testing.T) {
	s := &models.Song{ID: "s1", OwnerID: "alice", UpdatedAt: time.UnixMilli(200).UTC()}

	tests := []struct {
		name  string
		event models.ChangeEvent
	}{
		{name: "insert", event: models.ChangeEvent{Type: models.ChangeInsert, New: s}},
		{name: "delete", event: models.ChangeEvent{Type: models.ChangeDelete, Old: s}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChangeEventFromModel(tt.event).ToModel()
			assert.Equal(t, tt.event.Type, got.Type)
			assert.Equal(t, "s1", got.SongID())
			require.Equal(t, tt.event.New == nil, got.New == nil)
			require.Equal(t, tt.event.Old == nil, got.Old == nil)
		})
	}
}

func TestArrangementConversion_Nil(t *testing.T) {
	assert.Nil(t, ArrangementFromModel(nil))
	var a *Arrangement
	assert.Nil(t, a.ToModel())
}
