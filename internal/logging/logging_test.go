package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: " warn ", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_JSONToOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)
	defer logger.Close()

	logger.Debug("hidden")
	logger.Info("song synced", slog.String("song_id", "s-1"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "song synced", entry["msg"])
	assert.Equal(t, "s-1", entry["song_id"])
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chordkeeper.log")

	var buf bytes.Buffer
	logger, err := New(Config{File: path, MaxBackups: 2}, &buf)
	require.NoError(t, err)

	logger.Warn("relay peer dropped")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "relay peer dropped")
	assert.Contains(t, buf.String(), "relay peer dropped")
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(Config{Level: "loud"}, nil)
	assert.Error(t, err)

	_, err = New(Config{Format: "xml"}, nil)
	assert.Error(t, err)

	logger, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() { logger.Info("discarded") })
	assert.NoError(t, logger.Close())
}
