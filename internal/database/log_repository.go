package database

import (
	"fmt"
)

// LogRepository persists the append-only per-kind job log sink.
type LogRepository struct {
	db dbtx
}

// NewLogRepository creates a new log repository
func NewLogRepository(db dbtx) *LogRepository {
	return &LogRepository{db: db}
}

// Append adds one line to the sink.
func (r *LogRepository) Append(line *JobLogLine) error {
	query := `
		INSERT INTO job_logs (kind, session_id, level, category, message, fields, created_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
	`
	result, err := r.db.Exec(query, line.Kind, line.SessionID, line.Level, line.Category, line.Message, line.Fields)
	if err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		line.ID = id
	}
	return nil
}

// Tail returns the last n lines for a kind, oldest first. The index on
// (kind, id) keeps this bounded regardless of sink size.
func (r *LogRepository) Tail(kind string, n int) ([]JobLogLine, error) {
	if n <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, kind, session_id, level, category, message, fields, created_at
		FROM job_logs WHERE kind = ?
		ORDER BY id DESC LIMIT ?
	`

	rows, err := r.db.Query(query, kind, n)
	if err != nil {
		return nil, fmt.Errorf("failed to tail job logs: %w", err)
	}
	defer rows.Close()

	var lines []JobLogLine
	for rows.Next() {
		var line JobLogLine
		if err := rows.Scan(&line.ID, &line.Kind, &line.SessionID, &line.Level,
			&line.Category, &line.Message, &line.Fields, &line.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job log line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job logs: %w", err)
	}

	// Reverse into chronological order
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}

	return lines, nil
}

// Clear truncates the sink for a kind.
func (r *LogRepository) Clear(kind string) error {
	if _, err := r.db.Exec(`DELETE FROM job_logs WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("failed to clear job logs for %s: %w", kind, err)
	}
	return nil
}
