package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"Warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestSetup_WritesConsoleAndFile(t *testing.T) {
	var console, file bytes.Buffer

	logger, closer := Setup(Options{
		Level:   "debug",
		Service: "warhead",
		Console: &console,
		File:    &file,
	})
	defer closer.Close()

	logger.Debug().Str("player", "p1").Msg("location reported")

	assert.Contains(t, console.String(), "location reported")
	assert.Contains(t, file.String(), "location reported")
	assert.Contains(t, file.String(), "player=p1")
	// file output is never coloured
	assert.NotContains(t, file.String(), "\x1b[")
}

func TestSetup_RespectsLevel(t *testing.T) {
	var file bytes.Buffer

	logger, closer := Setup(Options{Level: "warn", Console: &bytes.Buffer{}, File: &file})
	defer closer.Close()

	logger.Info().Msg("quiet")
	logger.Warn().Msg("loud")

	assert.NotContains(t, file.String(), "quiet")
	assert.Contains(t, file.String(), "loud")
}

func TestSetup_BadGraylogAddressFallsBack(t *testing.T) {
	var file bytes.Buffer

	logger, closer := Setup(Options{
		Console:        &bytes.Buffer{},
		File:           &file,
		GraylogAddress: "not a valid address",
	})
	require.NotNil(t, closer)
	defer closer.Close()

	logger.Info().Msg("still logging")
	assert.Contains(t, file.String(), "still logging")
}
