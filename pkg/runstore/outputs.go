package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SaveOutput attaches an output to a SUCCESSFUL run. A run holds at most one
// output; later calls are no-ops. It reports whether a row was inserted.
func (s *Store) SaveOutput(ctx context.Context, out Output) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ParseResultType(string(out.Type)); !ok {
		return false, fmt.Errorf("invalid output type %q", out.Type)
	}
	if strings.TrimSpace(out.Location) == "" {
		return false, errors.New("output location is required")
	}
	if out.OutputID == "" {
		out.OutputID = uuid.NewString()
	}

	res, err := s.db.ExecContext(ctx, s.Rebind(
		`INSERT INTO pipeline_run_outputs (output_id, run_id, type, location, size)
		 SELECT ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM pipeline_runs WHERE run_id = ? AND state = ?)
		 ON CONFLICT(run_id) DO NOTHING`),
		out.OutputID, out.RunID, string(out.Type), out.Location, out.Size,
		out.RunID, string(StateSuccessful))
	if err != nil {
		return false, fmt.Errorf("insert pipeline_run_output: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert pipeline_run_output: %w", err)
	}
	return n > 0, nil
}

// GetOutput returns the output of a run.
func (s *Store) GetOutput(ctx context.Context, runID string) (*Output, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var out Output
	var typ string
	err := s.db.QueryRowContext(ctx, s.Rebind(
		`SELECT output_id, run_id, type, location, size
		 FROM pipeline_run_outputs WHERE run_id = ?`), runID).
		Scan(&out.OutputID, &out.RunID, &typ, &out.Location, &out.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("output for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline_run_output: %w", err)
	}
	out.Type = ResultType(typ)
	return &out, nil
}
