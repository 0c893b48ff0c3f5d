package model

import (
	"log/slog"
	"time"
)

type AuditLevel string

const (
	AuditLevelDebug AuditLevel = "DEBUG"
	AuditLevelInfo  AuditLevel = "INFO"
	AuditLevelWarn  AuditLevel = "WARN"
	AuditLevelError AuditLevel = "ERROR"
)

func (l AuditLevel) SlogLevel() slog.Level {
	switch l {
	case AuditLevelDebug:
		return slog.LevelDebug
	case AuditLevelWarn:
		return slog.LevelWarn
	case AuditLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type AuditEntry struct {
	Timestamp time.Time  `json:"timestamp"`
	Level     AuditLevel `json:"level"`
	Message   string     `json:"message"`
	Data      any        `json:"data,omitempty"`
}
