package crdt

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLWWMap(t *testing.T) {
	m := NewLWWMap[string, int]()

	require.NotNil(t, m)
	assert.Equal(t, 0, m.Len())
}

func TestLWWMap_Set(t *testing.T) {
	tests := []struct {
		name      string
		writes    []Entry[string, int]
		wantValue int
		wantVer   int64
	}{
		{
			name:      "single write",
			writes:    []Entry[string, int]{{Key: "song-1", Value: 2, Version: 10}},
			wantValue: 2,
			wantVer:   10,
		},
		{
			name: "newer version wins",
			writes: []Entry[string, int]{
				{Key: "song-1", Value: 2, Version: 10},
				{Key: "song-1", Value: -3, Version: 11},
			},
			wantValue: -3,
			wantVer:   11,
		},
		{
			name: "stale version ignored",
			writes: []Entry[string, int]{
				{Key: "song-1", Value: 5, Version: 20},
				{Key: "song-1", Value: 1, Version: 15},
			},
			wantValue: 5,
			wantVer:   20,
		},
		{
			name: "equal version ignored",
			writes: []Entry[string, int]{
				{Key: "song-1", Value: 5, Version: 20},
				{Key: "song-1", Value: 7, Version: 20},
			},
			wantValue: 5,
			wantVer:   20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewLWWMap[string, int]()
			for _, w := range tt.writes {
				m.Set(w.Key, w.Value, w.Version)
			}

			got, ok := m.Get("song-1")
			require.True(t, ok)
			assert.Equal(t, tt.wantValue, got)

			snapshot := m.Snapshot()
			require.Len(t, snapshot, 1)
			assert.Equal(t, tt.wantVer, snapshot[0].Version)
		})
	}
}

func TestLWWMap_SetReportsChange(t *testing.T) {
	m := NewLWWMap[string, int]()

	assert.True(t, m.Set("a", 1, 1))
	assert.False(t, m.Set("a", 1, 1))
	assert.True(t, m.Set("a", 2, 2))
}

func TestLWWMap_GetMissing(t *testing.T) {
	m := NewLWWMap[string, int]()

	_, ok := m.Get("missing")
	assert.False(t, ok)
}

func TestLWWMap_ApplyOrderIndependent(t *testing.T) {
	writes := []Entry[string, int]{
		{Key: "x", Value: 1, Version: 1},
		{Key: "y", Value: 5, Version: 9},
		{Key: "x", Value: 3, Version: 4},
		{Key: "z", Value: 7, Version: 2},
	}

	forward := NewLWWMap[string, int]()
	for _, w := range writes {
		forward.Set(w.Key, w.Value, w.Version)
	}
	backward := NewLWWMap[string, int]()
	for i := len(writes) - 1; i >= 0; i-- {
		backward.Set(writes[i].Key, writes[i].Value, writes[i].Version)
	}

	snapshot := func(m *LWWMap[string, int]) []Entry[string, int] {
		s := m.Snapshot()
		sort.Slice(s, func(i, j int) bool { return s[i].Key < s[j].Key })
		return s
	}

	assert.Equal(t, snapshot(forward), snapshot(backward))
	assert.Equal(t, 3, forward.Len())

	// повторное применение ничего не меняет
	for _, w := range writes {
		assert.False(t, forward.Set(w.Key, w.Value, w.Version))
	}
}

func TestLWWMap_Clear(t *testing.T) {
	m := NewLWWMap[string, int]()
	m.Set("a", 1, 1)
	m.Set("b", 2, 1)

	m.Clear()

	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Snapshot())
}
