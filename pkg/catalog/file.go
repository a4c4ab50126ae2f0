package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/pipeline"
)

// fileDocument is the on-disk layout of a catalog definition file.
type fileDocument struct {
	Pipelines      []filePipeline      `yaml:"pipelines"`
	LinkedServices []fileLinkedService `yaml:"linked_services"`
}

type filePipeline struct {
	PipelineID      string         `yaml:"pipeline_id"`
	Name            string         `yaml:"name"`
	Cron            string         `yaml:"cron"`
	State           string         `yaml:"state"`
	JobID           string         `yaml:"job_id"`
	PrivacyLevel    string         `yaml:"privacy_level"`
	LinkedServiceID string         `yaml:"linked_service_id"`
	Parameters      map[string]any `yaml:"parameters"`
}

type fileLinkedService struct {
	LinkedServiceID string         `yaml:"linked_service_id"`
	Type            string         `yaml:"type"`
	Config          map[string]any `yaml:"config"`
}

// FileCatalog serves pipelines loaded from YAML files matched by a
// doublestar glob. State changes are held in memory for the process lifetime.
type FileCatalog struct {
	mu             sync.RWMutex
	pipelines      map[string]pipeline.Pipeline
	linkedServices map[string]pipeline.LinkedService
	sources        []string
}

// LoadFileCatalog reads every file matching pattern, e.g. "catalog/**/*.yaml".
func LoadFileCatalog(pattern string) (*FileCatalog, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("catalog glob is required")
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid catalog glob %q", pattern)
	}

	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob catalog files: %w", err)
	}
	sort.Strings(matches)

	c := &FileCatalog{
		pipelines:      make(map[string]pipeline.Pipeline),
		linkedServices: make(map[string]pipeline.LinkedService),
		sources:        matches,
	}
	for _, path := range matches {
		// #nosec G304 -- catalog paths come from operator configuration
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog file %s: %w", path, err)
		}
		if err := c.load(path, data); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *FileCatalog) load(path string, data []byte) error {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	for _, fp := range doc.Pipelines {
		id := strings.TrimSpace(fp.PipelineID)
		if id == "" {
			return fmt.Errorf("catalog file %s: pipeline without pipeline_id", path)
		}
		if _, dup := c.pipelines[id]; dup {
			return fmt.Errorf("catalog file %s: duplicate pipeline %s", path, id)
		}

		params := fp.Parameters
		if params == nil {
			params = map[string]any{}
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("catalog file %s: pipeline %s parameters: %w", path, id, err)
		}

		state := pipeline.State(strings.ToUpper(strings.TrimSpace(fp.State)))
		if state == "" {
			state = pipeline.StateEnabled
		}

		c.pipelines[id] = pipeline.Pipeline{
			PipelineID:      id,
			Name:            fp.Name,
			Cron:            strings.TrimSpace(fp.Cron),
			State:           state,
			JobID:           fp.JobID,
			PrivacyLevel:    pipeline.PrivacyLevel(strings.ToUpper(fp.PrivacyLevel)),
			LinkedServiceID: fp.LinkedServiceID,
			Parameters:      raw,
		}
	}

	for _, fl := range doc.LinkedServices {
		id := strings.TrimSpace(fl.LinkedServiceID)
		if id == "" {
			return fmt.Errorf("catalog file %s: linked service without linked_service_id", path)
		}
		cfg := fl.Config
		if cfg == nil {
			cfg = map[string]any{}
		}
		raw, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("catalog file %s: linked service %s config: %w", path, id, err)
		}
		c.linkedServices[id] = pipeline.LinkedService{LinkedServiceID: id, Type: fl.Type, Config: raw}
	}
	return nil
}

// Sources lists the files the catalog was loaded from.
func (c *FileCatalog) Sources() []string {
	return append([]string(nil), c.sources...)
}

func (c *FileCatalog) ListSchedulable(ctx context.Context) ([]pipeline.Pipeline, error) {
	return c.filter(func(p pipeline.Pipeline) bool { return p.Schedulable() }), nil
}

func (c *FileCatalog) ListByState(ctx context.Context, state pipeline.State) ([]pipeline.Pipeline, error) {
	return c.filter(func(p pipeline.Pipeline) bool { return p.State == state }), nil
}

func (c *FileCatalog) GetPipeline(ctx context.Context, pipelineID string) (*pipeline.Pipeline, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.pipelines[pipelineID]
	if !ok {
		return nil, fmt.Errorf("pipeline %s: %w", pipelineID, pipeline.ErrNotFound)
	}
	return &p, nil
}

func (c *FileCatalog) GetLinkedService(ctx context.Context, linkedServiceID string) (*pipeline.LinkedService, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ls, ok := c.linkedServices[linkedServiceID]
	if !ok {
		return nil, fmt.Errorf("linked service %s: %w", linkedServiceID, pipeline.ErrLinkedServiceNotFound)
	}
	return &ls, nil
}

func (c *FileCatalog) SetPipelineState(ctx context.Context, pipelineID string, state pipeline.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pipelines[pipelineID]
	if !ok {
		return fmt.Errorf("pipeline %s: %w", pipelineID, pipeline.ErrNotFound)
	}
	p.State = state
	c.pipelines[pipelineID] = p
	return nil
}

func (c *FileCatalog) filter(keep func(pipeline.Pipeline) bool) []pipeline.Pipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []pipeline.Pipeline
	for _, p := range c.pipelines {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PipelineID < out[j].PipelineID })
	return out
}

// Pipelines returns every loaded pipeline ordered by id.
func (c *FileCatalog) Pipelines() []pipeline.Pipeline {
	return c.filter(func(pipeline.Pipeline) bool { return true })
}

// LinkedServices returns every loaded linked service ordered by id.
func (c *FileCatalog) LinkedServices() []pipeline.LinkedService {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]pipeline.LinkedService, 0, len(c.linkedServices))
	for _, ls := range c.linkedServices {
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LinkedServiceID < out[j].LinkedServiceID })
	return out
}

// Importer is a catalog that accepts definitions.
type Importer interface {
	UpsertPipeline(ctx context.Context, p pipeline.Pipeline) error
	UpsertLinkedService(ctx context.Context, ls pipeline.LinkedService) error
}

// ImportResult counts what Import wrote.
type ImportResult struct {
	Pipelines      int `json:"pipelines"`
	LinkedServices int `json:"linked_services"`
}

// Import writes every definition of c into dst, linked services first.
func (c *FileCatalog) Import(ctx context.Context, dst Importer) (ImportResult, error) {
	var res ImportResult
	for _, ls := range c.LinkedServices() {
		if err := dst.UpsertLinkedService(ctx, ls); err != nil {
			return res, fmt.Errorf("import linked service %s: %w", ls.LinkedServiceID, err)
		}
		res.LinkedServices++
	}
	for _, p := range c.Pipelines() {
		if err := dst.UpsertPipeline(ctx, p); err != nil {
			return res, fmt.Errorf("import pipeline %s: %w", p.PipelineID, err)
		}
		res.Pipelines++
	}
	return res, nil
}
