// Package catalog provides pipeline catalogs backed by the run database or by
// YAML definition files.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/pipeline"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
)

const pipelineColumns = `pipeline_id, name, cron, state, job_id, privacy_level, linked_service_id, parameters`

// SQLCatalog reads pipelines from the pipelines and linked_services tables
// created by runstore.Migrate.
type SQLCatalog struct {
	db      *sql.DB
	dialect runstore.Dialect
	now     func() time.Time
}

func NewSQLCatalog(db *sql.DB, dialect runstore.Dialect) *SQLCatalog {
	return &SQLCatalog{db: db, dialect: dialect, now: time.Now}
}

func (c *SQLCatalog) ListSchedulable(ctx context.Context) ([]pipeline.Pipeline, error) {
	return c.query(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines
		 WHERE state = ? AND cron IS NOT NULL AND TRIM(cron) <> ''
		 ORDER BY pipeline_id`, string(pipeline.StateEnabled))
}

func (c *SQLCatalog) ListByState(ctx context.Context, state pipeline.State) ([]pipeline.Pipeline, error) {
	return c.query(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE state = ? ORDER BY pipeline_id`, string(state))
}

func (c *SQLCatalog) GetPipeline(ctx context.Context, pipelineID string) (*pipeline.Pipeline, error) {
	pipelines, err := c.query(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE pipeline_id = ?`, pipelineID)
	if err != nil {
		return nil, err
	}
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("pipeline %s: %w", pipelineID, pipeline.ErrNotFound)
	}
	return &pipelines[0], nil
}

func (c *SQLCatalog) GetLinkedService(ctx context.Context, linkedServiceID string) (*pipeline.LinkedService, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var ls pipeline.LinkedService
	var cfg string
	err := c.db.QueryRowContext(ctx, runstore.Rebind(c.dialect,
		`SELECT linked_service_id, type, config FROM linked_services WHERE linked_service_id = ?`), linkedServiceID).
		Scan(&ls.LinkedServiceID, &ls.Type, &cfg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("linked service %s: %w", linkedServiceID, pipeline.ErrLinkedServiceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get linked service: %w", err)
	}
	ls.Config = json.RawMessage(cfg)
	return &ls, nil
}

func (c *SQLCatalog) SetPipelineState(ctx context.Context, pipelineID string, state pipeline.State) error {
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := c.db.ExecContext(ctx, runstore.Rebind(c.dialect,
		`UPDATE pipelines SET state = ?, modified_date = ? WHERE pipeline_id = ?`),
		string(state), c.now().UTC(), pipelineID)
	if err != nil {
		return fmt.Errorf("update pipeline state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pipeline state: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pipeline %s: %w", pipelineID, pipeline.ErrNotFound)
	}
	return nil
}

// UpsertPipeline writes a pipeline definition.
func (c *SQLCatalog) UpsertPipeline(ctx context.Context, p pipeline.Pipeline) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(p.PipelineID) == "" {
		return errors.New("pipeline_id is required")
	}
	params := string(p.Parameters)
	if strings.TrimSpace(params) == "" {
		params = "{}"
	}

	_, err := c.db.ExecContext(ctx, runstore.Rebind(c.dialect,
		`INSERT INTO pipelines (pipeline_id, name, cron, state, job_id, privacy_level, linked_service_id, parameters, modified_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pipeline_id) DO UPDATE SET
		   name = excluded.name,
		   cron = excluded.cron,
		   state = excluded.state,
		   job_id = excluded.job_id,
		   privacy_level = excluded.privacy_level,
		   linked_service_id = excluded.linked_service_id,
		   parameters = excluded.parameters,
		   modified_date = excluded.modified_date`),
		p.PipelineID, p.Name, nullString(p.Cron), string(p.State), p.JobID, string(p.PrivacyLevel),
		nullString(p.LinkedServiceID), params, c.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert pipeline: %w", err)
	}
	return nil
}

// UpsertLinkedService writes a linked service definition.
func (c *SQLCatalog) UpsertLinkedService(ctx context.Context, ls pipeline.LinkedService) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(ls.LinkedServiceID) == "" {
		return errors.New("linked_service_id is required")
	}
	cfg := string(ls.Config)
	if strings.TrimSpace(cfg) == "" {
		cfg = "{}"
	}

	_, err := c.db.ExecContext(ctx, runstore.Rebind(c.dialect,
		`INSERT INTO linked_services (linked_service_id, type, config) VALUES (?, ?, ?)
		 ON CONFLICT(linked_service_id) DO UPDATE SET type = excluded.type, config = excluded.config`),
		ls.LinkedServiceID, ls.Type, cfg)
	if err != nil {
		return fmt.Errorf("upsert linked service: %w", err)
	}
	return nil
}

func (c *SQLCatalog) query(ctx context.Context, query string, args ...any) ([]pipeline.Pipeline, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := c.db.QueryContext(ctx, runstore.Rebind(c.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("query pipelines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []pipeline.Pipeline
	for rows.Next() {
		var (
			p                   pipeline.Pipeline
			cron, linkedService sql.NullString
			state, privacy      string
			params              string
		)
		if err := rows.Scan(&p.PipelineID, &p.Name, &cron, &state, &p.JobID, &privacy, &linkedService, &params); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		p.Cron = cron.String
		p.State = pipeline.State(state)
		p.PrivacyLevel = pipeline.PrivacyLevel(privacy)
		p.LinkedServiceID = linkedService.String
		p.Parameters = json.RawMessage(params)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipelines: %w", err)
	}
	return out, nil
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
