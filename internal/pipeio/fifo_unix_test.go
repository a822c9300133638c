//go:build darwin || linux

package pipeio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFO_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control")
	require.NoError(t, MakeFIFO(path))
	require.NoError(t, MakeFIFO(path), "existing fifo is reused")

	f, err := OpenFIFO(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	require.NoError(t, WriteLine(w, "status"))
	require.NoError(t, w.Close())

	reader := NewPipeReader("control", f)
	reader.Timeout = time.Second
	reader.PollInterval = 10 * time.Millisecond

	line, err := reader.ReadLine(nil)
	require.NoError(t, err)
	assert.Equal(t, "status", line)

	_, err = reader.ReadLine(nil)
	assert.ErrorIs(t, err, ErrTimeout, "closed writers must not read as EOF")
}

func TestMakeFIFO_RejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
	assert.Error(t, MakeFIFO(path))
}
