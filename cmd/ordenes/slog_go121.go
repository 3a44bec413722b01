//go:build !go1.22

package main

import "log/slog"

// setLogLoggerLevel is a no-op before Go 1.22: slog.SetLogLoggerLevel
// does not exist there, so the legacy log bridge keeps its default
// level.
func setLogLoggerLevel(slog.Level) {}
