package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/raido/internal/api"
	"github.com/starford/raido/internal/blockstore"
	"github.com/starford/raido/internal/executor"
	"github.com/starford/raido/internal/host"
	"github.com/starford/raido/internal/journal"
	"github.com/starford/raido/internal/registry"
	"github.com/starford/raido/internal/scheduler"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()

	textRoot := t.TempDir()
	th, err := host.NewFSHost(host.KindText, textRoot)
	if err != nil {
		t.Fatal(err)
	}
	hosts := map[host.Kind]host.Host{host.KindText: th}

	db, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	prober := host.NewProber(hosts)
	blocks := blockstore.New(db)
	reg := registry.New(nil)
	sched := scheduler.New(scheduler.Config{
		Hosts:    hosts,
		Executor: executor.New(prober, blocks, executor.Config{AttemptTimeout: 5 * time.Second}),
		Journal:  db,
		Registry: reg,
	})
	sched.Start()
	t.Cleanup(sched.Stop)

	svc := api.NewService(sched, prober, blocks, reg, db)
	return New(svc), textRoot
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go doesn't expose a direct "call tool" test helper, so we invoke
	// the handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "submit_plan":
		result, err = srv.submitPlan(ctx, req)
	case "get_plan_contract":
		result, err = srv.getPlanContract(ctx, req)
	case "job_status":
		result, err = srv.jobStatus(ctx, req)
	case "list_jobs":
		result, err = srv.listJobs(ctx, req)
	case "cancel_queued":
		result, err = srv.cancelQueued(ctx, req)
	case "rollback_block":
		result, err = srv.rollbackBlock(ctx, req)
	case "list_capabilities":
		result, err = srv.listCapabilities(ctx, req)
	case "list_documents":
		result, err = srv.listDocuments(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func waitToolJob(t *testing.T, srv *Server, id string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		r := callTool(t, srv, "job_status", map[string]interface{}{"job_id": id})
		var job scheduler.JobView
		if err := json.Unmarshal([]byte(resultText(r)), &job); err != nil {
			t.Fatal(err)
		}
		switch job.Status {
		case scheduler.StatusSuccess:
			return
		case scheduler.StatusError, scheduler.StatusCancelled:
			t.Fatalf("job %s settled at %s: %s", id, job.Status, job.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never finished", id)
}

func TestSubmitPlanTool(t *testing.T) {
	srv, textRoot := testServer(t)
	if err := os.WriteFile(filepath.Join(textRoot, "doc.md"), []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	key := host.KeyFromPath(host.KindText, "doc.md")

	r := callTool(t, srv, "submit_plan", map[string]interface{}{
		"input":     `{"schema_version":"raido/v1","host_kind":"text","actions":[{"op":"insert_text","id":"t1","text":"from mcp"}]}`,
		"doc_key":   string(key),
		"source_id": "mcp-msg-1",
	})
	if r.IsError {
		t.Fatalf("submit failed: %s", resultText(r))
	}
	var res api.SubmitResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	waitToolJob(t, srv, res.Job.JobID)

	data, err := os.ReadFile(filepath.Join(textRoot, "doc.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "from mcp") {
		t.Errorf("document missing inserted text:\n%s", data)
	}
}

func TestSubmitPlanToolRejectsGarbage(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "submit_plan", map[string]interface{}{
		"input":   "there is no json here",
		"doc_key": string(host.KeyFromPath(host.KindText, "doc.md")),
	})
	if !r.IsError {
		t.Error("expected error for payload without JSON")
	}
}

func TestPlanContractTool(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_plan_contract", nil)
	text := resultText(r)
	if !strings.Contains(text, "raido/v1") || !strings.Contains(text, "schema_version") {
		t.Errorf("contract looks wrong: %.100s", text)
	}
}

func TestListCapabilitiesTool(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_capabilities", map[string]interface{}{"host_kind": "text"})
	if r.IsError {
		t.Fatalf("capabilities failed: %s", resultText(r))
	}
	var report host.CapabilityReport
	if err := json.Unmarshal([]byte(resultText(r)), &report); err != nil {
		t.Fatal(err)
	}
	if got := report.Chain("insert_image"); len(got) != 3 {
		t.Errorf("insert_image chain = %v", got)
	}

	r = callTool(t, srv, "list_capabilities", map[string]interface{}{"host_kind": "hologram"})
	if !r.IsError {
		t.Error("expected error for unknown host kind")
	}
}

func TestJobStatusMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "job_status", map[string]interface{}{"job_id": "nope"})
	if !r.IsError {
		t.Error("expected error for unknown job id")
	}
}

func TestCancelQueuedToolRequiresFilter(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "cancel_queued", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error when neither doc_key nor source_id is given")
	}
}
