// Package mcp exposes pipeline runs and run history as MCP tools.
package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"impactloop/internal/components"
	"impactloop/internal/contract"
	"impactloop/internal/logging"
	"impactloop/internal/metrics"
	"impactloop/internal/orchestrate"
	"impactloop/internal/registry"
	"impactloop/internal/runner"
	"impactloop/internal/store"
)

// DefaultListRunsLimit bounds list_runs when the caller gives no limit.
const DefaultListRunsLimit = 20

// Server wraps the MCP SDK server. Store is optional; without it runs are
// not recorded and the history tools report an error.
type Server struct {
	MCPServer   *sdkmcp.Server
	ProjectRoot string
	Registry    *registry.Registry
	Store       store.Store
	Metrics     *metrics.Collector

	// Pipelines that use the SQLite-backed Measure stage share files; one
	// run at a time keeps them from interleaving.
	runMu sync.Mutex
}

// NewServer creates an MCP server over reg and st. Relative config paths
// resolve against the current working directory.
func NewServer(version string, reg *registry.Registry, st store.Store) *Server {
	if reg == nil {
		reg = components.Default()
	}
	cwd, _ := os.Getwd()
	s := &Server{ProjectRoot: cwd, Registry: reg, Store: st}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "impactloop", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_pipeline",
		Description: "Run a pipeline config once: pilot measure, evaluate, allocate, scale measure. Returns the outcome reports and summary.",
	}, s.handleRunPipeline)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_components",
		Description: "List the component names that pipeline stages may select.",
	}, s.handleListComponents)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_run",
		Description: "Get a recorded run by id.",
	}, s.handleGetRun)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_runs",
		Description: "List recorded runs, most recent first.",
	}, s.handleListRuns)
}

// --- Tool input/output types ---

type runPipelineInput struct {
	ConfigPath string `json:"config_path" jsonschema:"path to the pipeline YAML file, relative to the server's working directory"`
}

type runOutput struct {
	RunID          string                   `json:"run_id"`
	ConfigPath     string                   `json:"config_path,omitempty"`
	CreatedAt      string                   `json:"created_at,omitempty"`
	Recorded       bool                     `json:"recorded"`
	Summary        orchestrate.Summary      `json:"summary"`
	OutcomeReports []contract.OutcomeReport `json:"outcome_reports"`
}

type listComponentsInput struct{}

type listComponentsOutput struct {
	Components []string `json:"components"`
}

type getRunInput struct {
	RunID string `json:"run_id" jsonschema:"run id returned by run_pipeline"`
}

type listRunsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of runs to return (default 20)"`
}

type runEntry struct {
	RunID      string              `json:"run_id"`
	ConfigPath string              `json:"config_path"`
	CreatedAt  string              `json:"created_at"`
	Budget     float64             `json:"budget"`
	Summary    orchestrate.Summary `json:"summary"`
}

type listRunsOutput struct {
	Runs []runEntry `json:"runs"`
}

// --- Tool handlers ---

func (s *Server) handleRunPipeline(ctx context.Context, _ *sdkmcp.CallToolRequest, input runPipelineInput) (*sdkmcp.CallToolResult, runOutput, error) {
	if input.ConfigPath == "" {
		return nil, runOutput{}, fmt.Errorf("config_path is required")
	}
	path := input.ConfigPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.ProjectRoot, path)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	logger := logging.New("mcp")
	out, err := runner.RunFile(ctx, path, runner.Options{
		Registry:  s.Registry,
		Store:     s.Store,
		Metrics:   s.Metrics,
		Observers: []orchestrate.Observer{&orchestrate.LogObserver{Logger: logger}},
	})
	if err != nil {
		logger.Warn("run_pipeline failed", "config", path, "error", err)
		return nil, runOutput{}, fmt.Errorf("run_pipeline: %w", err)
	}

	res := runOutput{
		RunID:          out.Result.RunID,
		ConfigPath:     path,
		Recorded:       out.Record != nil,
		Summary:        out.Summary,
		OutcomeReports: nonNil(out.Result.OutcomeReports),
	}
	if out.Record != nil {
		res.CreatedAt = out.Record.CreatedAt
	}
	logger.Info("run_pipeline complete", "run_id", res.RunID, "selected", res.Summary.Selected)
	return nil, res, nil
}

func (s *Server) handleListComponents(_ context.Context, _ *sdkmcp.CallToolRequest, _ listComponentsInput) (*sdkmcp.CallToolResult, listComponentsOutput, error) {
	return nil, listComponentsOutput{Components: s.Registry.Names()}, nil
}

func (s *Server) handleGetRun(_ context.Context, _ *sdkmcp.CallToolRequest, input getRunInput) (*sdkmcp.CallToolResult, runOutput, error) {
	if s.Store == nil {
		return nil, runOutput{}, fmt.Errorf("no run store configured (start the server with --db)")
	}
	rec, err := s.Store.GetRun(input.RunID)
	if err != nil {
		return nil, runOutput{}, fmt.Errorf("get_run: %w", err)
	}
	if rec == nil {
		return nil, runOutput{}, fmt.Errorf("run %q not found", input.RunID)
	}
	res, err := runner.Decode(rec)
	if err != nil {
		return nil, runOutput{}, err
	}
	return nil, runOutput{
		RunID:          rec.ID,
		ConfigPath:     rec.ConfigPath,
		CreatedAt:      rec.CreatedAt,
		Recorded:       true,
		Summary:        res.Summary(),
		OutcomeReports: nonNil(res.OutcomeReports),
	}, nil
}

func (s *Server) handleListRuns(_ context.Context, _ *sdkmcp.CallToolRequest, input listRunsInput) (*sdkmcp.CallToolResult, listRunsOutput, error) {
	if s.Store == nil {
		return nil, listRunsOutput{}, fmt.Errorf("no run store configured (start the server with --db)")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListRunsLimit
	}
	recs, err := s.Store.ListRuns(limit)
	if err != nil {
		return nil, listRunsOutput{}, fmt.Errorf("list_runs: %w", err)
	}
	out := listRunsOutput{Runs: make([]runEntry, 0, len(recs))}
	for _, r := range recs {
		out.Runs = append(out.Runs, runEntry{
			RunID:      r.ID,
			ConfigPath: r.ConfigPath,
			CreatedAt:  r.CreatedAt,
			Budget:     r.Budget,
			Summary: orchestrate.Summary{
				Evaluated:    r.Evaluated,
				Selected:     r.Selected,
				BudgetUsed:   r.BudgetUsed,
				MeanAbsError: r.MeanAbsError,
			},
		})
	}
	return nil, out, nil
}

func nonNil(r []contract.OutcomeReport) []contract.OutcomeReport {
	if r == nil {
		return []contract.OutcomeReport{}
	}
	return r
}
