package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")

	closer, err := Init(Config{Level: "debug", Format: "json", File: logFile})
	require.NoError(t, err)

	Info().Str("file_name", "cv.pdf").Msg("处理完成")
	StdLogger("[Relay] ").Printf("relay tick %d", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"file_name":"cv.pdf"`)
	assert.Contains(t, string(data), "[Relay] relay tick 3")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	closer, err := Init(Config{Level: "loud"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestInit_UnwritableFile(t *testing.T) {
	_, err := Init(Config{File: filepath.Join(t.TempDir(), "missing", "app.log")})
	require.Error(t, err)
}
