// internal/logging/levels.go
package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel is a custom level below Debug for ultra-verbose logging.
// Value: -2 (Debug is -1, Info is 0)
//
// Used for per-record decisions (each drop, merge, and cap eviction).
const TraceLevel = zapcore.Level(-2)

// LevelNames lists the accepted --log-level values.
var LevelNames = []string{"trace", "debug", "info", "warn", "error"}

// LevelFromString parses a string into a zapcore.Level, supporting "trace".
// Matching is case-insensitive.
func LevelFromString(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
