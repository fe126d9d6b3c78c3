package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewWithWriter(buf, "info", FormatJSON)
	require.NoError(t, err)

	log.Info().Str("client_id", "cli-1").Msg("payment applied")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "payment applied", line["message"])
	assert.Equal(t, "cli-1", line["client_id"])
	assert.Equal(t, "billing-engine", line["service"])
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewWithWriter(buf, "warn", FormatJSON)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewWithWriter_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewWithWriter(buf, "debug", FormatText)
	require.NoError(t, err)

	log.Debug().Msg("console line")
	assert.Contains(t, buf.String(), "console line")
}

func TestNewWithWriter_Errors(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, "loud", FormatJSON)
	assert.Error(t, err)

	_, err = NewWithWriter(&bytes.Buffer{}, "info", Format("xml"))
	assert.Error(t, err)
}

func TestParseLevel_DefaultsToInfo(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)

	lvl, err = ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewWithWriter(buf, "info", FormatJSON)
	require.NoError(t, err)

	ctx := WithContext(context.Background(), log)
	l := FromContext(ctx)
	l.Info().Msg("from context")
	assert.Contains(t, buf.String(), "from context")
}

func TestFromContext_ZerologContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := zerolog.New(buf)
	ctx := log.WithContext(context.Background())

	l := FromContext(ctx)
	l.Info().Msg("hlog style")
	assert.Contains(t, buf.String(), "hlog style")
}

func TestFromContext_Empty(t *testing.T) {
	log := FromContext(context.Background())
	assert.Equal(t, zerolog.Disabled, log.GetLevel())
}
