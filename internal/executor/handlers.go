package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/starford/raido/internal/blockstore"
	"github.com/starford/raido/internal/host"
	"github.com/starford/raido/internal/plan"
)

// errNothingToRollback is a definitive outcome, not a strategy failure;
// ExecuteAction turns it into a skipped result instead of advancing the chain.
var errNothingToRollback = errors.New("nothing to roll back")

// handlers is the static dispatch table. Block operations are shared by
// every host kind; the rest are kind-specific.
var handlers = func() map[dispatchKey]handler {
	m := map[dispatchKey]handler{
		{host.KindText, "insert_text"}:    execInsertText,
		{host.KindText, "insert_heading"}: execInsertHeading,
		{host.KindText, "insert_table"}:   execInsertTable,
		{host.KindText, "insert_image"}:   execInsertImage,

		{host.KindSheet, "set_cells"}:    execSetCells,
		{host.KindSheet, "insert_chart"}: execInsertChart,
		{host.KindSheet, "insert_image"}: execInsertImage,

		{host.KindSlide, "add_slide"}:    execAddSlide,
		{host.KindSlide, "insert_text"}:  execInsertText,
		{host.KindSlide, "insert_image"}: execInsertImage,
	}
	for _, k := range host.Kinds() {
		m[dispatchKey{k, "replace_block"}] = execReplaceBlock
		m[dispatchKey{k, "delete_block"}] = execDeleteBlock
		m[dispatchKey{k, "rollback_block"}] = execRollbackBlock
	}
	return m
}()

func strParam(a plan.Action, key string) string {
	s, _ := a.Params[key].(string)
	return s
}

// blockIDOf resolves the target block for block ops: the block_id param
// when present, else the action's own id.
func blockIDOf(a plan.Action) string {
	if id := strParam(a, "block_id"); id != "" {
		return id
	}
	return a.ID
}

func intParam(a plan.Action, key string, def int) int {
	if f, ok := a.Params[key].(float64); ok {
		return int(f)
	}
	return def
}

func boolParam(a plan.Action, key string) bool {
	b, _ := a.Params[key].(bool)
	return b
}

func rowsParam(a plan.Action, key string) [][]any {
	raw, ok := a.Params[key].([]any)
	if !ok {
		return nil
	}
	out := make([][]any, 0, len(raw))
	for _, r := range raw {
		if cells, ok := r.([]any); ok {
			out = append(out, cells)
		}
	}
	return out
}

// place writes rendered content as a named block when the action carries an
// id (stable artifact identity, backup-capable), or appends free content.
func place(e *Executor, active host.ActiveDocument, a plan.Action, content string) error {
	if a.ID != "" {
		_, err := e.blocks.Upsert(active, a.ID, content, blockstore.ModeApplyWithBackup)
		return err
	}
	return active.AppendContent(content)
}

func execInsertText(_ context.Context, e *Executor, active host.ActiveDocument, a plan.Action, _ host.Strategy) (bool, error) {
	return false, place(e, active, a, strParam(a, "text"))
}

func execInsertHeading(_ context.Context, e *Executor, active host.ActiveDocument, a plan.Action, _ host.Strategy) (bool, error) {
	level := intParam(a, "level", 1)
	if level < 1 || level > 6 {
		level = 1
	}
	return false, place(e, active, a, strings.Repeat("#", level)+" "+strParam(a, "text"))
}

func execInsertTable(_ context.Context, e *Executor, active host.ActiveDocument, a plan.Action, _ host.Strategy) (bool, error) {
	rows := rowsParam(a, "rows")
	if len(rows) == 0 {
		return false, fmt.Errorf("executor: insert_table: rows is empty")
	}
	return false, place(e, active, a, renderTable(rows, boolParam(a, "header")))
}

func renderTable(rows [][]any, header bool) string {
	lines := make([]string, 0, len(rows)+1)
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, c := range row {
			cells[j] = fmt.Sprintf("%v", c)
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
		if i == 0 && header {
			seps := make([]string, len(row))
			for j := range seps {
				seps[j] = "---"
			}
			lines = append(lines, "| "+strings.Join(seps, " | ")+" |")
		}
	}
	return strings.Join(lines, "\n")
}

// execInsertImage carries the canonical degradation chain: a native insert
// only handles local sources, the download strategy verifies and fetches a
// remote source within the attempt timeout, and the placeholder records the
// miss visibly in the document.
func execInsertImage(ctx context.Context, e *Executor, active host.ActiveDocument, a plan.Action, strategy host.Strategy) (bool, error) {
	source := strParam(a, "source")
	alt := strParam(a, "alt")
	if alt == "" {
		alt = "image"
	}
	switch strategy {
	case "native":
		if isRemote(source) {
			return false, fmt.Errorf("executor: native insert cannot embed remote source %q", source)
		}
		return false, place(e, active, a, fmt.Sprintf("![%s](%s)", alt, source))
	case "download":
		if !isRemote(source) {
			return false, fmt.Errorf("executor: download strategy needs a remote source, got %q", source)
		}
		n, err := e.fetch(ctx, source)
		if err != nil {
			return false, err
		}
		return false, place(e, active, a, fmt.Sprintf("![%s](%s) <!-- fetched %d bytes -->", alt, source, n))
	case "placeholder":
		return true, place(e, active, a, fmt.Sprintf("[image unavailable: %s (%s)]", alt, source))
	}
	return false, fmt.Errorf("executor: unknown strategy %q for insert_image", strategy)
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// fetch downloads a remote resource, bounded by the attempt context.
func (e *Executor) fetch(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("executor: build request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executor: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("executor: fetch %s: status %d", url, resp.StatusCode)
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("executor: read body: %w", err)
	}
	return n, nil
}

func execSetCells(_ context.Context, e *Executor, active host.ActiveDocument, a plan.Action, _ host.Strategy) (bool, error) {
	rng := strParam(a, "range")
	rows := rowsParam(a, "values")
	if rng == "" || len(rows) == 0 {
		return false, fmt.Errorf("executor: set_cells: range and values are required")
	}
	var b strings.Builder
	b.WriteString(rng)
	for _, row := range rows {
		cells := make([]string, len(row))
		for j, c := range row {
			cells[j] = fmt.Sprintf("%v", c)
		}
		b.WriteString("\n" + strings.Join(cells, "\t"))
	}
	return false, place(e, active, a, b.String())
}

func execInsertChart(_ context.Context, e *Executor, active host.ActiveDocument, a plan.Action, strategy host.Strategy) (bool, error) {
	chartType := strParam(a, "chart_type")
	if chartType == "" {
		chartType = "bar"
	}
	title := strParam(a, "title")
	switch strategy {
	case "native":
		rng := strParam(a, "range")
		if rng == "" {
			return false, fmt.Errorf("executor: insert_chart: no range and no selection available")
		}
		return false, place(e, active, a, fmt.Sprintf("[chart %s %s %q]", chartType, rng, title))
	case "placeholder":
		return true, place(e, active, a, fmt.Sprintf("[chart placeholder: %s %q]", chartType, title))
	}
	return false, fmt.Errorf("executor: unknown strategy %q for insert_chart", strategy)
}

func execAddSlide(_ context.Context, _ *Executor, active host.ActiveDocument, a plan.Action, _ host.Strategy) (bool, error) {
	title := strParam(a, "title")
	if title == "" {
		title = "Untitled slide"
	}
	return false, active.AppendContent("---\n# " + title)
}

func execReplaceBlock(_ context.Context, e *Executor, active host.ActiveDocument, a plan.Action, _ host.Strategy) (bool, error) {
	_, err := e.blocks.Upsert(active, blockIDOf(a), strParam(a, "content"), blockstore.ModeApplyWithBackup)
	return false, err
}

func execDeleteBlock(_ context.Context, e *Executor, active host.ActiveDocument, a plan.Action, _ host.Strategy) (bool, error) {
	return false, e.blocks.Delete(active, blockIDOf(a))
}

func execRollbackBlock(_ context.Context, e *Executor, active host.ActiveDocument, a plan.Action, _ host.Strategy) (bool, error) {
	ok, err := e.blocks.Rollback(active, blockIDOf(a))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errNothingToRollback
	}
	return false, nil
}
