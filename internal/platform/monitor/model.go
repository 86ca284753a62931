package monitor

import (
	"errors"
	"log/slog"
	"time"
)

// ErrUnknownLevel is returned for log levels outside the known set
var ErrUnknownLevel = errors.New("unknown log level")

// Level is the severity of a fetcher log entry
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// ParseLevel parses a string into a Level
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return Level(s), nil
	default:
		return "", ErrUnknownLevel
	}
}

// Valid reports whether the level is one of the known values
func (l Level) Valid() bool {
	_, err := ParseLevel(string(l))
	return err == nil
}

// Slog maps the level onto the slog scale. Critical logs at error
// level; the stored entry keeps the original severity.
func (l Level) Slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Entry is one persisted fetcher log row
type Entry struct {
	ID      int64
	Time    time.Time
	Level   Level
	Message string
	Context map[string]interface{}
}

// Snapshot is a point-in-time statistics row, persisted periodically
// so restarts do not erase operational history
type Snapshot struct {
	ID               int64
	Time             time.Time
	UptimeSeconds    int64
	TotalCycles      int64
	SuccessfulCycles int64
	FailedCycles     int64
	SuccessRate      float64 // percentage, rounded to 2 decimal places
	AvgCycleSeconds  float64 // mean over the last 100 cycles
	AssetsTracked    int
}
