package mcp_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	mcpserver "impactloop/internal/mcp"
	"impactloop/internal/store"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))
	os.Exit(m.Run())
}

const scenarioYAML = `
budget: 100000
scale_sample_size: 5000
initiatives:
  - initiative_id: init-001
    cost_to_scale: 10000
  - initiative_id: init-002
    cost_to_scale: 15000
  - initiative_id: init-003
    cost_to_scale: 8000
`

func newTestServer(t *testing.T, st store.Store) *mcpserver.Server {
	t.Helper()
	srv := mcpserver.NewServer("test", nil, st)
	srv.ProjectRoot = t.TempDir()
	if err := os.WriteFile(filepath.Join(srv.ProjectRoot, "pipeline.yaml"), []byte(scenarioYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return srv
}

func connectInMemory(t *testing.T, ctx context.Context, srv *mcpserver.Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer.Connect(ctx, t1, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	t.Cleanup(func() { serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if res.IsError {
		for _, c := range res.Content {
			if tc, ok := c.(*sdkmcp.TextContent); ok {
				t.Fatalf("CallTool(%s) returned error: %s", name, tc.Text)
			}
		}
		t.Fatalf("CallTool(%s) returned error", name)
	}
	result := make(map[string]any)
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			if err := json.Unmarshal([]byte(tc.Text), &result); err != nil {
				t.Fatalf("unmarshal tool result: %v (text: %s)", err, tc.Text)
			}
			return result
		}
	}
	t.Fatalf("no text content in tool result")
	return nil
}

func callToolError(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return
	}
	if !res.IsError {
		t.Fatalf("CallTool(%s): expected IsError=true", name)
	}
}

func TestServer_ToolDiscovery(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t, nil))

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	want := map[string]bool{"run_pipeline": false, "list_components": false, "get_run": false, "list_runs": false}
	for _, tool := range tools.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("tool %q not found in ListTools", name)
		}
	}
}

func TestServer_ListComponents(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t, nil))

	got := callTool(t, ctx, session, "list_components", map[string]any{})
	want := []any{"Evaluate", "Measure", "MinimaxRegretAllocate", "MockAllocate", "MockEvaluate", "MockMeasure"}
	if diff := cmp.Diff(want, got["components"]); diff != "" {
		t.Errorf("components mismatch (-want +got):\n%s", diff)
	}
}

func TestServer_RunAndFetch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st := store.NewMemStore()
	session := connectInMemory(t, ctx, newTestServer(t, st))

	run := callTool(t, ctx, session, "run_pipeline", map[string]any{"config_path": "pipeline.yaml"})
	runID, _ := run["run_id"].(string)
	if runID == "" {
		t.Fatalf("expected run_id, got %v", run)
	}
	if run["recorded"] != true {
		t.Errorf("recorded = %v, want true", run["recorded"])
	}
	summary, _ := run["summary"].(map[string]any)
	if summary["selected"] != float64(3) || summary["budget_used"] != float64(33000) {
		t.Errorf("summary = %v", summary)
	}
	reports, _ := run["outcome_reports"].([]any)
	if len(reports) != 3 {
		t.Fatalf("outcome_reports = %d, want 3", len(reports))
	}

	fetched := callTool(t, ctx, session, "get_run", map[string]any{"run_id": runID})
	if diff := cmp.Diff(run["outcome_reports"], fetched["outcome_reports"]); diff != "" {
		t.Errorf("get_run reports mismatch (-run +get):\n%s", diff)
	}
	if diff := cmp.Diff(run["summary"], fetched["summary"]); diff != "" {
		t.Errorf("get_run summary mismatch (-run +get):\n%s", diff)
	}

	callTool(t, ctx, session, "run_pipeline", map[string]any{"config_path": "pipeline.yaml"})
	list := callTool(t, ctx, session, "list_runs", map[string]any{"limit": 5})
	runs, _ := list["runs"].([]any)
	if len(runs) != 2 {
		t.Fatalf("list_runs = %d, want 2", len(runs))
	}
	if last, _ := runs[1].(map[string]any); last["run_id"] != runID {
		t.Errorf("oldest run = %v, want %s", last["run_id"], runID)
	}
}

func TestServer_RunWithoutStore(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t, nil))

	run := callTool(t, ctx, session, "run_pipeline", map[string]any{"config_path": "pipeline.yaml"})
	if run["recorded"] != false {
		t.Errorf("recorded = %v, want false", run["recorded"])
	}
	callToolError(t, ctx, session, "get_run", map[string]any{"run_id": run["run_id"]})
	callToolError(t, ctx, session, "list_runs", map[string]any{})
}

func TestServer_Errors(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t, store.NewMemStore()))

	callToolError(t, ctx, session, "run_pipeline", map[string]any{"config_path": ""})
	callToolError(t, ctx, session, "run_pipeline", map[string]any{"config_path": "missing.yaml"})
	callToolError(t, ctx, session, "get_run", map[string]any{"run_id": "no-such-run"})
}
