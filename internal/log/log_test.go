package log

import (
	"os"
	"path/filepath"
	"testing"

	"go-canal/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canal.log")
	require.NoError(t, Init(config.LogConfig{Level: "debug", File: path, MaxSize: 1}))
	defer func() { require.NoError(t, Init(config.LogConfig{Level: "info"})) }()

	Log.Debug("fetched event")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"fetched event"`)
	require.Contains(t, string(data), `"level":"DEBUG"`)
}

func TestInitBadLevel(t *testing.T) {
	before := Log
	require.Error(t, Init(config.LogConfig{Level: "loud"}))
	require.Same(t, before, Log)
}
