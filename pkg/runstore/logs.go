package runstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendLog stores a log line unless the same (run, timestamp, message)
// triple is already present. It reports whether a row was inserted.
func (s *Store) AppendLog(ctx context.Context, runID string, ts time.Time, message string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.db.ExecContext(ctx, s.Rebind(
		`INSERT INTO pipeline_run_logs (log_id, run_id, log_timestamp, log_message, message_hash)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, log_timestamp, message_hash) DO NOTHING`),
		uuid.NewString(), runID, utcMicros(ts), message, messageHash(message))
	if err != nil {
		return false, fmt.Errorf("insert pipeline_run_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert pipeline_run_log: %w", err)
	}
	return n > 0, nil
}

// ListLogs returns a run's log lines in timestamp order.
func (s *Store) ListLogs(ctx context.Context, runID string) ([]LogEntry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, s.Rebind(
		`SELECT log_id, run_id, log_timestamp, log_message
		 FROM pipeline_run_logs WHERE run_id = ?
		 ORDER BY log_timestamp ASC, log_id`), runID)
	if err != nil {
		return nil, fmt.Errorf("query pipeline_run_logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []LogEntry
	for rows.Next() {
		var (
			entry LogEntry
			ts    sql.NullTime
		)
		if err := rows.Scan(&entry.LogID, &entry.RunID, &ts, &entry.Message); err != nil {
			return nil, fmt.Errorf("scan pipeline_run_log: %w", err)
		}
		if ts.Valid {
			entry.Timestamp = ts.Time.UTC()
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline_run_logs: %w", err)
	}
	return logs, nil
}

func messageHash(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}
