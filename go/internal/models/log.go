package models

import "time"

// LogLevel classifies an admin log entry.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelSuccess LogLevel = "success"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// MaxLogEntries bounds the game:logs list.
const MaxLogEntries = 100

// LogEntry is one line of the admin log stream.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     LogLevel  `json:"level"`
}

// Valid reports whether l is a known level.
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelInfo, LogLevelSuccess, LogLevelWarning, LogLevelError:
		return true
	}
	return false
}
