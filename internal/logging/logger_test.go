package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := Setup(Options{Level: "debug", Out: &buf})
	require.NoError(t, err)
	defer closer.Close()

	l := Component(logger, "content")
	l.Debug().Str("collection", "messages").Msg("refreshed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "content", line["component"])
	assert.Equal(t, "messages", line["collection"])
	assert.Equal(t, "debug", line["level"])
}

func TestSetupFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := Setup(Options{Level: "chatty", Out: &buf})
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())

	logger.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}

func TestSetupSessionFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger, closer, err := Setup(Options{Level: "info", Out: &buf, LogDir: dir})
	require.NoError(t, err)

	logger.Info().Msg("hello")
	require.NoError(t, closer.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "session_")
}
