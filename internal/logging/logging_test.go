package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"matchbook/internal/config"
	"matchbook/internal/logging"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })
	var buf bytes.Buffer

	require.NoError(t, logging.SetupWriter(config.LogConfig{Level: "warn"}, &buf))
	log.Info().Msg("hidden")
	log.Warn().Uint64("id", 7).Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "shown", entry["message"])
	assert.EqualValues(t, 7, entry["id"])
	assert.Contains(t, entry, "time")
}

func TestSetupWriter_BadLevel(t *testing.T) {
	assert.Error(t, logging.SetupWriter(config.LogConfig{Level: "loud"}, &bytes.Buffer{}))
}
