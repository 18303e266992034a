package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// New returns the root logger for a binary. Components derive their own with Named.
func New(name, level string) hclog.Logger {
	return NewWithOutput(name, level, os.Stderr)
}

func NewWithOutput(name, level string, out io.Writer) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           lvl,
		Output:          out,
		IncludeLocation: false,
	})
}

// Discard is used by tests and by components built without a logger.
func Discard() hclog.Logger {
	return hclog.NewNullLogger()
}
