//go:build go1.22

package main

import "log/slog"

// setLogLoggerLevel sets the level used when output of the legacy log
// package is bridged to the default slog handler.
func setLogLoggerLevel(level slog.Level) {
	slog.SetLogLoggerLevel(level)
}
