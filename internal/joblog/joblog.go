// Package joblog is the audit-trail logger for import jobs: an append-only
// per-kind sink with bounded tail reads, backed by the database.
package joblog

import (
	"encoding/json"
	"log/slog"

	"github.com/sidepull/sidepull/internal/database"
)

// Level is the severity of a job log line
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Logger appends job progress and errors to the durable sink. Sink failures
// never abort the caller's unit of work: they are swallowed, and warning or
// worse lines are escalated to the process log instead.
type Logger struct {
	repo      *database.LogRepository
	kind      string
	sessionID string
	log       *slog.Logger
}

// New creates a job logger bound to an import kind and session.
func New(repo *database.LogRepository, kind, sessionID string) *Logger {
	return &Logger{
		repo:      repo,
		kind:      kind,
		sessionID: sessionID,
		log:       slog.Default().With("component", "joblog", "kind", kind),
	}
}

// WithSession returns a logger writing under a new session id.
func (l *Logger) WithSession(sessionID string) *Logger {
	return New(l.repo, l.kind, sessionID)
}

// Log appends one line to the sink.
func (l *Logger) Log(level Level, category, message string, fields map[string]any) {
	line := &database.JobLogLine{
		Kind:      l.kind,
		SessionID: l.sessionID,
		Level:     string(level),
		Category:  category,
		Message:   message,
	}

	if len(fields) > 0 {
		if encoded, err := json.Marshal(fields); err == nil {
			s := string(encoded)
			line.Fields = &s
		}
	}

	if err := l.repo.Append(line); err != nil {
		// The sink is best-effort; only surface the loss for lines that matter.
		switch level {
		case LevelWarning, LevelError, LevelCritical:
			l.log.Warn("Failed to append job log line", "category", category, "message", message, "error", err)
		}
		return
	}

	switch level {
	case LevelError, LevelCritical:
		l.log.Error(message, "category", category)
	case LevelWarning:
		l.log.Warn(message, "category", category)
	}
}

// Info appends an info line.
func (l *Logger) Info(category, message string, fields map[string]any) {
	l.Log(LevelInfo, category, message, fields)
}

// Warning appends a warning line.
func (l *Logger) Warning(category, message string, fields map[string]any) {
	l.Log(LevelWarning, category, message, fields)
}

// Error appends an error line.
func (l *Logger) Error(category, message string, fields map[string]any) {
	l.Log(LevelError, category, message, fields)
}

// Clear truncates the sink, called at job start.
func (l *Logger) Clear() {
	if err := l.repo.Clear(l.kind); err != nil {
		l.log.Warn("Failed to clear job log sink", "error", err)
	}
}

// Tail returns the last n lines, oldest first.
func (l *Logger) Tail(n int) []database.JobLogLine {
	lines, err := l.repo.Tail(l.kind, n)
	if err != nil {
		l.log.Warn("Failed to tail job log sink", "error", err)
		return nil
	}
	return lines
}
