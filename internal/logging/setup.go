package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
)

// Options controls where log output goes.
type Options struct {
	Level   string
	Service string

	// File receives uncoloured console output. Optional.
	File io.Writer

	// GraylogAddress enables GELF shipping over UDP when set.
	GraylogAddress string

	// Console overrides stdout, mainly for tests.
	Console io.Writer
}

// ParseLevel converts a string log level to a zerolog.Level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Setup builds the process logger: coloured console output, plain output to
// the log file and optionally GELF to Graylog. The returned closer releases
// the Graylog connection.
func Setup(opts Options) (zerolog.Logger, io.Closer) {
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: time.RFC3339,
		},
	}
	if opts.File != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        opts.File,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}

	var closer io.Closer = nopCloser{}
	var gelfErr error
	if opts.GraylogAddress != "" {
		gw, err := gelf.NewWriter(opts.GraylogAddress)
		if err != nil {
			gelfErr = err
		} else {
			writers = append(writers, gw)
			closer = gw
		}
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level)).
		With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	logger := ctx.Logger()

	if gelfErr != nil {
		logger.Warn().Err(gelfErr).Str("address", opts.GraylogAddress).Msg("Graylog writer unavailable, continuing without it")
	}
	logger.Info().Str("loglevel", logger.GetLevel().String()).Msg("Logging set up")

	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
