// Package log configures the process-wide zerolog logger.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sawpanic/perpboard/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger from cfg. The returned closer releases a file output
// and is a no-op otherwise.
func New(cfg config.LoggingConfig) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
		tty    bool
	)
	switch cfg.Output {
	case "", "stderr":
		out, tty = os.Stderr, term.IsTerminal(int(os.Stderr.Fd()))
	case "stdout":
		out, tty = os.Stdout, term.IsTerminal(int(os.Stdout.Fd()))
	default:
		// Assume it's a file path
		if cfg.MaxAge > 0 {
			lj := &lumberjack.Logger{
				Filename: cfg.Output,
				MaxAge:   cfg.MaxAge,
				MaxSize:  100,
				Compress: true,
			}
			out, closer = lj, lj
		} else {
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return zerolog.Nop(), nil, fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
			}
			out, closer = f, f
		}
	}

	switch strings.ToLower(cfg.Format) {
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	case "json":
	case "", "auto":
		if tty {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		}
	default:
		closer.Close()
		return zerolog.Nop(), nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), closer, nil
}

// Setup installs the logger built from cfg as the global zerolog logger
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	logger, closer, err := New(cfg)
	if err != nil {
		return nil, err
	}
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = logger
	return closer, nil
}
