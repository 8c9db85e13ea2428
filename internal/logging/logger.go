package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates the application logger, writing to stderr so stdout stays
// free for tabulated command output.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
