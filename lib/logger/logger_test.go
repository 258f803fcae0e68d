package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	l, err := New("debug", "")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1)) // debug

	_, err = New("verbose", "")
	assert.Error(t, err)
}

func TestNewFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rpcb.log")

	l, err := New("warn", file)
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("kept")
	require.NoError(t, l.Sync())

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(b), "kept")
	assert.NotContains(t, string(b), "dropped")
}
