package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/raido/internal/blockstore"
	"github.com/starford/raido/internal/host"
	"github.com/starford/raido/internal/journal"
	"github.com/starford/raido/internal/plan"
)

func testExecutor(t *testing.T, kind host.Kind) (*Executor, host.ActiveDocument) {
	t.Helper()

	f, err := os.CreateTemp("", "raido-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })
	db, err := journal.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "doc"), []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := host.NewFSHost(kind, dir)
	if err != nil {
		t.Fatal(err)
	}
	active, err := h.Activate(context.Background(), host.KeyFromPath(kind, "doc"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { active.Close() })

	prober := host.NewProber(map[host.Kind]host.Host{kind: h})
	e := New(prober, blockstore.New(db), Config{AttemptTimeout: 2 * time.Second})
	return e, active
}

func TestUnsupportedOpIsErrorNotCrash(t *testing.T) {
	e, active := testExecutor(t, host.KindText)
	r := e.ExecuteAction(context.Background(), active, plan.Action{Op: "format_disk"})
	if r.Status != StatusError || !strings.Contains(r.Detail, "unsupported_op") {
		t.Errorf("result = %+v", r)
	}
}

func TestSkippedActionPassthrough(t *testing.T) {
	e, active := testExecutor(t, host.KindText)
	r := e.ExecuteAction(context.Background(), active, plan.Action{
		Op: "insert_text", Skipped: true, SkipReason: "missing text",
	})
	if r.Status != StatusSkipped || r.Detail != "missing text" {
		t.Errorf("result = %+v", r)
	}
}

func TestInsertTextIntoBlock(t *testing.T) {
	e, active := testExecutor(t, host.KindText)
	r := e.ExecuteAction(context.Background(), active, plan.Action{
		Op: "insert_text", ID: "intro",
		Params: map[string]any{"text": "Hello, doc."},
	})
	if r.Status != StatusSuccess || r.StrategyUsed != "native" {
		t.Fatalf("result = %+v", r)
	}
	got, ok, _ := active.ReadBlock("intro")
	if !ok || got != "Hello, doc." {
		t.Errorf("block = %q ok=%v", got, ok)
	}
}

func TestInsertTableRendering(t *testing.T) {
	e, active := testExecutor(t, host.KindText)
	r := e.ExecuteAction(context.Background(), active, plan.Action{
		Op: "insert_table", ID: "tbl",
		Params: map[string]any{
			"rows":   []any{[]any{"name", "qty"}, []any{"apples", float64(3)}},
			"header": true,
		},
	})
	if r.Status != StatusSuccess {
		t.Fatalf("result = %+v", r)
	}
	got, _, _ := active.ReadBlock("tbl")
	want := "| name | qty |\n| --- | --- |\n| apples | 3 |"
	if got != want {
		t.Errorf("table = %q, want %q", got, want)
	}
}

func TestImageFallsBackToDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fake png bytes"))
	}))
	defer srv.Close()

	e, active := testExecutor(t, host.KindText)
	r := e.ExecuteAction(context.Background(), active, plan.Action{
		Op: "insert_image", ID: "img",
		Params: map[string]any{"source": srv.URL + "/pic.png", "alt": "chart"},
	})
	if r.Status != StatusSuccess {
		t.Fatalf("result = %+v", r)
	}
	if r.StrategyUsed != "download" {
		t.Errorf("strategy = %q, want download (native cannot embed remote)", r.StrategyUsed)
	}
	got, _, _ := active.ReadBlock("img")
	if !strings.Contains(got, "![chart](") || !strings.Contains(got, "fetched 14 bytes") {
		t.Errorf("block = %q", got)
	}
}

func TestImageExhaustsToPlaceholderDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	e, active := testExecutor(t, host.KindText)
	r := e.ExecuteAction(context.Background(), active, plan.Action{
		Op: "insert_image", ID: "img",
		Params: map[string]any{"source": srv.URL + "/gone.png", "alt": "lost"},
	})
	if r.Status != StatusDegraded {
		t.Fatalf("status = %q, want degraded, never silent success (result %+v)", r.Status, r)
	}
	if r.StrategyUsed != "placeholder" {
		t.Errorf("strategy = %q", r.StrategyUsed)
	}
	got, _, _ := active.ReadBlock("img")
	if !strings.Contains(got, "image unavailable") {
		t.Errorf("block = %q", got)
	}
}

func TestChartPlaceholderWithoutRange(t *testing.T) {
	e, active := testExecutor(t, host.KindSheet)
	r := e.ExecuteAction(context.Background(), active, plan.Action{
		Op: "insert_chart", ID: "chart1",
		Params: map[string]any{"chart_type": "line", "title": "Revenue"},
	})
	if r.Status != StatusDegraded || r.StrategyUsed != "placeholder" {
		t.Fatalf("result = %+v", r)
	}

	// With a range the native strategy wins.
	r = e.ExecuteAction(context.Background(), active, plan.Action{
		Op: "insert_chart", ID: "chart2",
		Params: map[string]any{"range": "A1:C3", "title": "Revenue"},
	})
	if r.Status != StatusSuccess || r.StrategyUsed != "native" {
		t.Fatalf("result = %+v", r)
	}
}

func TestSetCells(t *testing.T) {
	e, active := testExecutor(t, host.KindSheet)
	r := e.ExecuteAction(context.Background(), active, plan.Action{
		Op: "set_cells", ID: "cells",
		Params: map[string]any{
			"range":  "A1:B2",
			"values": []any{[]any{float64(1), float64(2)}, []any{float64(3), float64(4)}},
		},
	})
	if r.Status != StatusSuccess {
		t.Fatalf("result = %+v", r)
	}
	got, _, _ := active.ReadBlock("cells")
	if got != "A1:B2\n1\t2\n3\t4" {
		t.Errorf("block = %q", got)
	}
}

func TestRollbackBlockOp(t *testing.T) {
	e, active := testExecutor(t, host.KindText)

	run := func(op string, params map[string]any) ActionResult {
		return e.ExecuteAction(context.Background(), active, plan.Action{Op: op, Params: params})
	}

	if r := run("replace_block", map[string]any{"block_id": "s", "content": "v1"}); r.Status != StatusSuccess {
		t.Fatalf("upsert v1: %+v", r)
	}
	if r := run("replace_block", map[string]any{"block_id": "s", "content": "v2"}); r.Status != StatusSuccess {
		t.Fatalf("upsert v2: %+v", r)
	}
	if r := run("rollback_block", map[string]any{"block_id": "s"}); r.Status != StatusSuccess {
		t.Fatalf("rollback: %+v", r)
	}
	got, _, _ := active.ReadBlock("s")
	if got != "v1" {
		t.Errorf("content = %q, want v1", got)
	}
	if r := run("rollback_block", map[string]any{"block_id": "s"}); r.Status != StatusSkipped || r.Detail != "nothing to roll back" {
		t.Errorf("second rollback: %+v", r)
	}
}

func TestRollbackBlockByActionID(t *testing.T) {
	e, active := testExecutor(t, host.KindText)

	run := func(a plan.Action) ActionResult {
		return e.ExecuteAction(context.Background(), active, a)
	}

	if r := run(plan.Action{Op: "replace_block", ID: "s", Params: map[string]any{"content": "v1"}}); r.Status != StatusSuccess {
		t.Fatalf("upsert v1: %+v", r)
	}
	if r := run(plan.Action{Op: "replace_block", ID: "s", Params: map[string]any{"content": "v2"}}); r.Status != StatusSuccess {
		t.Fatalf("upsert v2: %+v", r)
	}

	// Actions addressing a block through their own id, without a block_id
	// param, must hit the same block.
	if r := run(plan.Action{Op: "rollback_block", ID: "s"}); r.Status != StatusSuccess {
		t.Fatalf("rollback by action id: %+v", r)
	}
	got, _, _ := active.ReadBlock("s")
	if got != "v1" {
		t.Errorf("content = %q, want v1", got)
	}
	if r := run(plan.Action{Op: "delete_block", ID: "s"}); r.Status != StatusSuccess {
		t.Fatalf("delete by action id: %+v", r)
	}
	if _, ok, _ := active.ReadBlock("s"); ok {
		t.Error("block still present after delete by action id")
	}
}

// countingHost exposes a fixed capability table and counts probes.
type countingHost struct {
	host.Host
	probes int
	feats  map[string]host.Capability
}

func (h *countingHost) Capabilities() (map[string]host.Capability, error) {
	h.probes++
	return h.feats, nil
}

func TestExhaustedChainInvalidatesReport(t *testing.T) {
	f, err := os.CreateTemp("", "raido-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })
	db, err := journal.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "doc"), []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	fs, err := host.NewFSHost(host.KindText, dir)
	if err != nil {
		t.Fatal(err)
	}
	ch := &countingHost{Host: fs, feats: map[string]host.Capability{
		"insert_image": {Supported: true, FallbackChain: []host.Strategy{"native", "download"}},
	}}
	prober := host.NewProber(map[host.Kind]host.Host{host.KindText: ch})
	e := New(prober, blockstore.New(db), Config{AttemptTimeout: time.Second})

	active, err := fs.Activate(context.Background(), host.KeyFromPath(host.KindText, "doc"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { active.Close() })

	// A dead endpoint fails native (remote source) and download (refused
	// connection); the table above offers no placeholder.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	r := e.ExecuteAction(context.Background(), active, plan.Action{
		Op: "insert_image", ID: "img",
		Params: map[string]any{"source": srv.URL + "/x.png"},
	})
	if r.Status != StatusError {
		t.Fatalf("result = %+v, want error after exhausting the chain", r)
	}
	if ch.probes != 1 {
		t.Fatalf("probes before re-probe = %d, want 1", ch.probes)
	}

	if _, err := prober.Probe(host.KindText); err != nil {
		t.Fatal(err)
	}
	if ch.probes != 2 {
		t.Errorf("probes = %d, want 2: exhausted chain should discard the memoized report", ch.probes)
	}
}

func TestExecutePlanPolicies(t *testing.T) {
	p := plan.Plan{
		SchemaVersion: plan.SchemaVersion,
		HostKind:      host.KindText,
		Actions: []plan.Action{
			{Op: "insert_text", Params: map[string]any{"text": "one"}},
			{Op: "delete_block", Params: map[string]any{"block_id": "no-such-block"}},
			{Op: "insert_text", Params: map[string]any{"text": "three"}},
		},
	}

	e, active := testExecutor(t, host.KindText)
	results, failed := e.ExecutePlan(context.Background(), active, p, PolicyContinue)
	if !failed {
		t.Error("job should fail when an action fails fatally")
	}
	if len(results) != 3 {
		t.Errorf("continue policy ran %d actions, want 3", len(results))
	}
	if results[2].Status != StatusSuccess {
		t.Errorf("action after failure = %+v", results[2])
	}

	e2, active2 := testExecutor(t, host.KindText)
	results, failed = e2.ExecutePlan(context.Background(), active2, p, PolicyAbortAll)
	if !failed || len(results) != 2 {
		t.Errorf("abort_all: failed=%v results=%d, want stop after the failure", failed, len(results))
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicyContinue {
		t.Errorf("empty = (%v, %v)", p, err)
	}
	if _, err := ParsePolicy("retry_forever"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
