package logging

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, NewLogger(Config{Level: "DEBUG", Output: "discard"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLogger(Config{Level: "bogus", Output: "discard"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLogger(Config{Output: "discard"}).GetLevel())
}

func TestOpenOutput(t *testing.T) {
	assert.Equal(t, os.Stdout, openOutput(""))
	assert.Equal(t, os.Stderr, openOutput("stderr"))
	assert.Equal(t, io.Discard, openOutput("discard"))
	assert.Equal(t, os.Stderr, openOutput(filepath.Join(t.TempDir(), "missing", "dir", "x.log")))
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitalwatch.log")
	logger := NewLogger(Config{Level: "info", Format: "json", Output: path})
	logger.Info().Str("component", "test").Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, string(data), `"component":"test"`)
}
