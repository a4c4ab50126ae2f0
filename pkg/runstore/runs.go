package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const runColumns = `run_id, job_id, pipeline_id, run_parameters_compressed, run_parameters_hash,
	state, queued_time, start_time, end_time, estimated_duration, modified_by`

// Newest first; rows without queued_time sort last on every backend.
const newestFirst = `ORDER BY CASE WHEN queued_time IS NULL THEN 1 ELSE 0 END, queued_time DESC, run_id`

type rowScanner interface {
	Scan(dest ...any) error
}

// InsertRun records a run. Inserting an existing run_id is a no-op.
func (s *Store) InsertRun(ctx context.Context, run Run) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(run.RunID) == "" {
		return errors.New("run_id is required")
	}
	if run.State == "" {
		run.State = StateRequested
	}

	modifiedBy, err := json.Marshal(run.ModifiedBy)
	if err != nil {
		return fmt.Errorf("marshal modified_by: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.Rebind(
		`INSERT INTO pipeline_runs
		 (run_id, job_id, pipeline_id, run_parameters_compressed, run_parameters_hash,
		  state, queued_time, start_time, end_time, estimated_duration, modified_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO NOTHING`),
		run.RunID, run.JobID, run.PipelineID, run.RunParametersCompressed, run.RunParametersHash,
		string(run.State), timePtrArg(run.QueuedTime), timePtrArg(run.StartTime), timePtrArg(run.EndTime),
		int64PtrArg(run.EstimatedDuration), string(modifiedBy))
	if err != nil {
		return fmt.Errorf("insert pipeline_run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.db.QueryRowContext(ctx, s.Rebind(
		`SELECT `+runColumns+` FROM pipeline_runs WHERE run_id = ?`), runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pipeline_run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline_run: %w", err)
	}
	return run, nil
}

// ListRunsByPipeline returns a pipeline's runs newest first.
func (s *Store) ListRunsByPipeline(ctx context.Context, pipelineID string, filter ListFilter) ([]Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE pipeline_id = ?`
	args := []any{pipelineID}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ` + newestFirst
	if filter.Take > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Take)
	}

	return s.queryRuns(ctx, query, args...)
}

// ListRunsByJobType returns every run dispatched to a job type, newest first.
func (s *Store) ListRunsByJobType(ctx context.Context, jobID string) ([]Run, error) {
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE job_id = ? `+newestFirst, jobID)
}

// ListOngoingRuns returns every run in a non-terminal state, oldest first.
func (s *Store) ListOngoingRuns(ctx context.Context) ([]Run, error) {
	placeholders, args := stateArgs(InFlightStates)
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE state IN (`+placeholders+`)
		 ORDER BY CASE WHEN queued_time IS NULL THEN 0 ELSE 1 END, queued_time ASC, run_id`, args...)
}

// LatestRunForPipeline returns the most recently queued run of a pipeline.
func (s *Store) LatestRunForPipeline(ctx context.Context, pipelineID string) (*Run, error) {
	runs, err := s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE pipeline_id = ? `+newestFirst+` LIMIT 1`, pipelineID)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("latest run for pipeline %s: %w", pipelineID, ErrNotFound)
	}
	return &runs[0], nil
}

// FindRunByHash returns the newest run of a job type with the given
// parameter hash, limited to the given states when any are passed.
func (s *Store) FindRunByHash(ctx context.Context, jobID string, hash string, states ...State) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE job_id = ? AND run_parameters_hash = ?`
	args := []any{jobID, hash}
	if len(states) > 0 {
		placeholders, stateVals := stateArgs(states)
		query += ` AND state IN (` + placeholders + `)`
		args = append(args, stateVals...)
	}
	query += ` ` + newestFirst + ` LIMIT 1`

	runs, err := s.queryRuns(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("run with hash %s: %w", hash, ErrNotFound)
	}
	return &runs[0], nil
}

// UpdateRunStatus applies an executor-reported transition. The update only
// lands when the stored state still equals from and the transition is
// forward; it reports whether a row changed.
func (s *Store) UpdateRunStatus(ctx context.Context, runID string, from State, upd StatusUpdate) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !CanTransition(from, upd.State) {
		return false, fmt.Errorf("invalid run transition %s -> %s", from, upd.State)
	}

	res, err := s.db.ExecContext(ctx, s.Rebind(
		`UPDATE pipeline_runs
		 SET state = ?,
		     start_time = COALESCE(?, start_time),
		     end_time = COALESCE(?, end_time),
		     estimated_duration = COALESCE(?, estimated_duration)
		 WHERE run_id = ? AND state = ?`),
		string(upd.State), timePtrArg(upd.StartTime), timePtrArg(upd.EndTime),
		int64PtrArg(upd.EstimatedDuration), runID, string(from))
	if err != nil {
		return false, fmt.Errorf("update pipeline_run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update pipeline_run: %w", err)
	}
	return n > 0, nil
}

// FailRun forces a non-terminal run to FAILED with the given end time.
func (s *Store) FailRun(ctx context.Context, runID string, endTime time.Time) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.db.ExecContext(ctx, s.Rebind(
		`UPDATE pipeline_runs SET state = ?, end_time = ?
		 WHERE run_id = ? AND state NOT IN (?, ?)`),
		string(StateFailed), utcMicros(endTime), runID, string(StateSuccessful), string(StateFailed))
	if err != nil {
		return false, fmt.Errorf("fail pipeline_run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail pipeline_run: %w", err)
	}
	return n > 0, nil
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, s.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query pipeline_runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline_run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline_runs: %w", err)
	}
	return runs, nil
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                    Run
		state, modifiedBy      string
		queued, started, ended sql.NullTime
		estimated              sql.NullInt64
	)
	if err := row.Scan(&run.RunID, &run.JobID, &run.PipelineID, &run.RunParametersCompressed,
		&run.RunParametersHash, &state, &queued, &started, &ended, &estimated, &modifiedBy); err != nil {
		return nil, err
	}

	run.State = State(state)
	run.QueuedTime = nullTimePtr(queued)
	run.StartTime = nullTimePtr(started)
	run.EndTime = nullTimePtr(ended)
	if estimated.Valid {
		v := estimated.Int64
		run.EstimatedDuration = &v
	}
	if modifiedBy != "" {
		if err := json.Unmarshal([]byte(modifiedBy), &run.ModifiedBy); err != nil {
			return nil, fmt.Errorf("decode modified_by: %w", err)
		}
	}
	return &run, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func stateArgs(states []State) (string, []any) {
	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, st := range states {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return strings.Join(placeholders, ", "), args
}
