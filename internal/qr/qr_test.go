package qr

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = "ck1.eyJzIjoic2Vzc2lvbi0xIiwiaCI6Imhvc3QtMSJ9"

func TestTerminal(t *testing.T) {
	out, err := Terminal(payload)
	require.NoError(t, err)
	assert.Greater(t, strings.Count(out, "\n"), 10)

	_, err = Terminal("")
	assert.Error(t, err)

	_, err = Terminal(strings.Repeat("x", 8000))
	assert.Error(t, err)
}

func TestPNG(t *testing.T) {
	data, err := PNG(payload, 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	path := filepath.Join(t.TempDir(), "session.png")
	require.NoError(t, WritePNG(payload, path, 128))

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(written, []byte("\x89PNG")))
}
