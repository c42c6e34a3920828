package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig controls rotation of the log file.
type RotationConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

func DefaultRotationConfig(filename string) RotationConfig {
	return RotationConfig{
		Filename:   filename,
		MaxSize:    10,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}
}

// New builds the process logger. With an empty filename it writes to stderr,
// otherwise to a rotating file. The returned closer releases the file.
func New(filename string, level slog.Level) (*slog.Logger, io.Closer) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)

	if filename != "" {
		rotation := DefaultRotationConfig(filename)
		lj := &lumberjack.Logger{
			Filename:   rotation.Filename,
			MaxSize:    rotation.MaxSize,
			MaxBackups: rotation.MaxBackups,
			MaxAge:     rotation.MaxAge,
			Compress:   rotation.Compress,
		}
		out, closer = lj, lj
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
