package plan

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/host"
)

func TestExtractFromProse(t *testing.T) {
	text := "Sure! Here is the plan:\n```json\n" +
		`{"schema_version":"raido/v1","host_kind":"text","actions":[]}` +
		"\n```\nLet me know if you need changes."
	raw, diags, err := Extract(text)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(diags) != 0 {
		t.Errorf("diags = %v, want none", diags)
	}
	var p map[string]any
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("extracted blob not valid JSON: %v", err)
	}
	if p["host_kind"] != "text" {
		t.Errorf("host_kind = %v", p["host_kind"])
	}
}

func TestExtractMultipleCandidatesIsDiagnosed(t *testing.T) {
	text := `{"schema_version":"raido/v1","host_kind":"text","actions":[]}` +
		` and also {"schema_version":"raido/v1","host_kind":"sheet","actions":[]}`
	raw, diags, err := Extract(text)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(diags) != 1 || diags[0].Code != "multiple_candidates" {
		t.Errorf("diags = %v, want one multiple_candidates entry", diags)
	}
	var p map[string]any
	_ = json.Unmarshal(raw, &p)
	if p["host_kind"] != "text" {
		t.Errorf("expected the first candidate, got host_kind=%v", p["host_kind"])
	}
}

func TestExtractNoObject(t *testing.T) {
	_, _, err := Extract("nothing useful here { not json")
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperr.IsKind(err, apperr.KindSchema) {
		t.Errorf("kind = %q", apperr.KindOf(err))
	}
}

func TestGatingRejectsBadSchemaVersion(t *testing.T) {
	_, err := NormalizeRaw(json.RawMessage(`{"schema_version":"v99","host_kind":"text","actions":[]}`))
	if !apperr.IsKind(err, apperr.KindSchema) {
		t.Fatalf("err = %v, want schema_error", err)
	}
}

func TestGatingRejectsUnknownHostKind(t *testing.T) {
	for _, raw := range []string{
		`{"schema_version":"raido/v1","actions":[]}`,
		`{"schema_version":"raido/v1","host_kind":"pdf","actions":[]}`,
	} {
		if _, err := NormalizeRaw(json.RawMessage(raw)); !apperr.IsKind(err, apperr.KindSchema) {
			t.Errorf("payload %s: err = %v, want schema_error", raw, err)
		}
	}
}

func TestAliasRewrite(t *testing.T) {
	raw := json.RawMessage(`{
		"schema_version": "raido/v1",
		"host_kind": "sheet",
		"actions": [{"op": "add_chart", "range": "a1:c3", "chart_type": "bar"}]
	}`)
	np, err := NormalizeRaw(raw)
	if err != nil {
		t.Fatalf("NormalizeRaw: %v", err)
	}
	a := np.Plan.Actions[0]
	if a.Op != "insert_chart" {
		t.Errorf("op = %q, want insert_chart", a.Op)
	}
	if a.Params["range"] != "A1:C3" {
		t.Errorf("range = %v, want A1:C3", a.Params["range"])
	}
	aliasDiags := 0
	for _, d := range np.Diagnostics {
		if d.Code == "op_alias" {
			aliasDiags++
		}
	}
	if aliasDiags != 1 {
		t.Errorf("op_alias diagnostics = %d, want 1", aliasDiags)
	}
}

func TestUnknownOpSkipsOnlyThatAction(t *testing.T) {
	raw := json.RawMessage(`{
		"schema_version": "raido/v1",
		"host_kind": "text",
		"actions": [
			{"op": "summon_demon"},
			{"op": "insert_text", "text": "hello"}
		]
	}`)
	np, err := NormalizeRaw(raw)
	if err != nil {
		t.Fatalf("NormalizeRaw: %v", err)
	}
	if !np.Plan.Actions[0].Skipped || np.Plan.Actions[0].SkipReason == "" {
		t.Errorf("action 0 = %+v, want skipped with reason", np.Plan.Actions[0])
	}
	if np.Plan.Actions[1].Skipped {
		t.Error("action 1 should proceed")
	}
}

func TestMissingRequiredFieldSkips(t *testing.T) {
	raw := json.RawMessage(`{
		"schema_version": "raido/v1",
		"host_kind": "text",
		"actions": [{"op": "insert_image", "alt": "a chart"}]
	}`)
	np, err := NormalizeRaw(raw)
	if err != nil {
		t.Fatal(err)
	}
	a := np.Plan.Actions[0]
	if !a.Skipped {
		t.Fatal("expected skip for missing source")
	}
	if got := np.Diagnostics[0].Code; got != "missing_field" {
		t.Errorf("diag code = %q", got)
	}
}

func TestFieldCoercionAndStripping(t *testing.T) {
	raw := json.RawMessage(`{
		"schema_version": "raido/v1",
		"host_kind": "text",
		"actions": [{"op": "insert_heading", "text": "Intro", "level": "2", "color": "red"}]
	}`)
	np, err := NormalizeRaw(raw)
	if err != nil {
		t.Fatal(err)
	}
	a := np.Plan.Actions[0]
	if a.Params["level"] != float64(2) {
		t.Errorf("level = %v (%T), want 2", a.Params["level"], a.Params["level"])
	}
	if _, ok := a.Params["color"]; ok {
		t.Error("unrecognized field should be stripped, not fail the action")
	}
	codes := map[string]int{}
	for _, d := range np.Diagnostics {
		codes[d.Code]++
	}
	if codes["field_coerced"] != 1 || codes["field_stripped"] != 1 {
		t.Errorf("diagnostic codes = %v", codes)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := json.RawMessage(`{
		"schema_version": "raido/v1",
		"host_kind": "sheet",
		"meta": {"session": "s1"},
		"actions": [
			{"op": "add_chart", "range": "a1..c9", "title": "Revenue"},
			{"op": "set_cells", "range": "B2", "values": [[1, 2]], "bogus": true},
			{"op": "explode"},
			{"op": "insert_image"}
		]
	}`)
	first, err := NormalizeRaw(raw)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if first.Repairs() == 0 {
		t.Fatal("first pass should repair something")
	}

	second, err := Normalize(first.Plan)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Repairs() != 0 {
		t.Errorf("second pass repairs = %d, diags = %+v", second.Repairs(), second.Diagnostics)
	}
	if !reflect.DeepEqual(first.Plan, second.Plan) {
		t.Errorf("plan not a fixed point:\nfirst:  %+v\nsecond: %+v", first.Plan, second.Plan)
	}
}

func TestNormalizeTextEndToEnd(t *testing.T) {
	np, err := NormalizeText("plan follows {\"schema_version\":\"raido/v1\",\"host_kind\":\"slide\",\"actions\":[{\"op\":\"new_slide\",\"title\":\"Q3\"}]}")
	if err != nil {
		t.Fatalf("NormalizeText: %v", err)
	}
	if np.Plan.HostKind != host.KindSlide {
		t.Errorf("host kind = %s", np.Plan.HostKind)
	}
	if np.Plan.Actions[0].Op != "add_slide" {
		t.Errorf("op = %q", np.Plan.Actions[0].Op)
	}
}

func TestActionJSONRoundTrip(t *testing.T) {
	a := Action{Op: "insert_text", ID: "a1", Params: map[string]any{"text": "hi"}}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	var back Action
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, back) {
		t.Errorf("round trip: %+v != %+v", a, back)
	}
}

func TestFeatureLookup(t *testing.T) {
	if f := Feature(host.KindText, "insert_image"); f != "insert_image" {
		t.Errorf("feature = %q", f)
	}
	if f := Feature(host.KindText, "delete_block"); f != "" {
		t.Errorf("delete_block feature = %q, want empty", f)
	}
	if f := Feature(host.KindText, "no_such_op"); f != "" {
		t.Errorf("unknown op feature = %q, want empty", f)
	}
}
