package libproxy

import (
	"io"
	"log/slog"

	"github.com/zhangyunhao116/libproxy/capi"
)

// Config configures a Resolver.
type Config struct {
	// Library is the libproxy backend. If nil, capi.System() is used.
	Library capi.Library

	// Logger is the structured logger. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// DefaultConfig returns a Config using the system libproxy and no logging.
func DefaultConfig() *Config {
	return &Config{
		Library: capi.System(),
		Logger:  discardLogger(),
	}
}

// resolved returns a copy of c with defaults filled in. A nil c yields
// DefaultConfig.
func (c *Config) resolved() Config {
	if c == nil {
		return *DefaultConfig()
	}
	out := *c
	if out.Library == nil {
		out.Library = capi.System()
	}
	if out.Logger == nil {
		out.Logger = discardLogger()
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
