package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killer-ai/killer/pkg/config"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "killer.log")
	log, err := New(config.LogConfig{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)

	log.Debug("cache hit")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"cache hit"`)
	assert.Contains(t, string(data), `"level":"debug"`)
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNewRejectsBadFormat(t *testing.T) {
	_, err := New(config.LogConfig{Format: "xml"})
	assert.Error(t, err)
}
