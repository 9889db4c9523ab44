package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/host"
)

// Extract locates the first syntactically valid JSON object inside an
// arbitrary text blob, tolerating markdown fencing and surrounding prose.
// When more than one candidate object exists, the first wins and a
// diagnostic records the choice; it is never silent.
func Extract(text string) (json.RawMessage, []Diagnostic, error) {
	raw, end, ok := firstObject(text, 0)
	if !ok {
		return nil, nil, apperr.New(apperr.KindSchema, "no JSON object found in payload")
	}
	var diags []Diagnostic
	if _, _, more := firstObject(text, end); more {
		diags = append(diags, Diagnostic{
			Level:       LevelInfo,
			ActionIndex: -1,
			Code:        "multiple_candidates",
			Message:     "payload contains more than one JSON object; using the first",
		})
	}
	return raw, diags, nil
}

// firstObject scans text from offset for the first decodable JSON object.
// It returns the raw object and the offset just past it.
func firstObject(text string, from int) (json.RawMessage, int, bool) {
	for i := from; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			continue
		}
		end := i + int(dec.InputOffset())
		return json.RawMessage(text[i:end]), end, true
	}
	return nil, 0, false
}

// envelope mirrors the plan payload for gating validation.
type envelope struct {
	SchemaVersion string         `json:"schema_version"`
	HostKind      string         `json:"host_kind"`
	Meta          map[string]any `json:"meta"`
	Actions       []Action       `json:"actions"`
}

func (e *envelope) gate() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.SchemaVersion, validation.Required, validation.In(SchemaVersion)),
		validation.Field(&e.HostKind, validation.Required),
	)
}

// NormalizeText extracts a plan object from raw generated text and
// normalizes it. Extraction diagnostics are prepended to the result.
func NormalizeText(text string) (*NormalizedPlan, error) {
	raw, diags, err := Extract(text)
	if err != nil {
		return nil, err
	}
	np, err := NormalizeRaw(raw)
	if err != nil {
		return nil, err
	}
	np.Diagnostics = append(diags, np.Diagnostics...)
	return np, nil
}

// NormalizeRaw parses a raw JSON plan and normalizes it.
func NormalizeRaw(raw json.RawMessage) (*NormalizedPlan, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperr.Wrap(apperr.KindSchema, "plan is not a valid JSON object", err)
	}
	if err := env.gate(); err != nil {
		return nil, apperr.Wrap(apperr.KindSchema, "plan failed gating checks", err)
	}
	kind, err := host.ParseKind(env.HostKind)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSchema, "plan failed gating checks", err)
	}
	return Normalize(Plan{
		SchemaVersion: env.SchemaVersion,
		HostKind:      kind,
		Meta:          env.Meta,
		Actions:       env.Actions,
	})
}

// Normalize applies gating checks and per-action repair. Gating failures
// reject the whole plan; per-action problems skip only that action. The
// result is a fixed point: normalizing an already-normalized plan changes
// nothing and reports zero repairs.
func Normalize(p Plan) (*NormalizedPlan, error) {
	if p.SchemaVersion != SchemaVersion {
		return nil, apperr.Newf(apperr.KindSchema, "unrecognized schema_version %q", p.SchemaVersion)
	}
	if _, err := host.ParseKind(string(p.HostKind)); err != nil {
		return nil, apperr.Wrap(apperr.KindSchema, "plan failed gating checks", err)
	}

	out := Plan{
		SchemaVersion: p.SchemaVersion,
		HostKind:      p.HostKind,
		Meta:          p.Meta,
		Actions:       make([]Action, 0, len(p.Actions)),
	}
	var diags []Diagnostic

	for i, a := range p.Actions {
		a = a.clone()
		if a.Skipped {
			// Already marked on a previous pass; carry through untouched.
			out.Actions = append(out.Actions, a)
			continue
		}

		if a.Op == "" {
			a.Skipped = true
			a.SkipReason = "action has no op"
			diags = append(diags, Diagnostic{
				Level:       LevelSkip,
				ActionIndex: i,
				Code:        "missing_op",
				Message:     a.SkipReason,
			})
			out.Actions = append(out.Actions, a)
			continue
		}

		if canonical, ok := resolveAlias(p.HostKind, a.Op); ok {
			diags = append(diags, Diagnostic{
				Level:       LevelRepair,
				ActionIndex: i,
				Code:        "op_alias",
				Message:     fmt.Sprintf("op %q rewritten to %q", a.Op, canonical),
			})
			a.Op = canonical
		}

		spec, ok := LookupOp(p.HostKind, a.Op)
		if !ok {
			a.Skipped = true
			a.SkipReason = fmt.Sprintf("unknown op %q for host %s", a.Op, p.HostKind)
			diags = append(diags, Diagnostic{
				Level:       LevelSkip,
				ActionIndex: i,
				Code:        "unknown_op",
				Message:     a.SkipReason,
			})
			out.Actions = append(out.Actions, a)
			continue
		}

		if missing := firstMissing(spec, a.Params); missing != "" {
			a.Skipped = true
			a.SkipReason = fmt.Sprintf("op %q is missing required field %q", a.Op, missing)
			diags = append(diags, Diagnostic{
				Level:       LevelSkip,
				ActionIndex: i,
				Code:        "missing_field",
				Message:     a.SkipReason,
			})
			out.Actions = append(out.Actions, a)
			continue
		}

		diags = append(diags, repairFields(i, spec, &a)...)
		out.Actions = append(out.Actions, a)
	}

	return &NormalizedPlan{Plan: out, Diagnostics: diags}, nil
}

func (a Action) clone() Action {
	params := make(map[string]any, len(a.Params))
	for k, v := range a.Params {
		params[k] = v
	}
	a.Params = params
	return a
}

func firstMissing(spec opSpec, params map[string]any) string {
	for name, fs := range spec.fields {
		if !fs.required {
			continue
		}
		if v, ok := params[name]; !ok || v == nil {
			return name
		}
	}
	return ""
}

// repairFields coerces known parameter types and strips unrecognized
// fields, emitting one diagnostic per change.
func repairFields(idx int, spec opSpec, a *Action) []Diagnostic {
	var diags []Diagnostic
	for name, v := range a.Params {
		fs, known := spec.fields[name]
		if !known {
			delete(a.Params, name)
			diags = append(diags, Diagnostic{
				Level:       LevelRepair,
				ActionIndex: idx,
				Code:        "field_stripped",
				Message:     fmt.Sprintf("field %q is not recognized by op %q", name, a.Op),
			})
			continue
		}
		coerced, changed := coerce(fs.kind, v)
		if changed {
			a.Params[name] = coerced
			diags = append(diags, Diagnostic{
				Level:       LevelRepair,
				ActionIndex: idx,
				Code:        "field_coerced",
				Message:     fmt.Sprintf("field %q coerced to canonical form", name),
			})
		}
	}
	return diags
}

var rangeRe = regexp.MustCompile(`^\s*([A-Za-z]{1,3})\s*(\d+)\s*(?::|\.\.|-)\s*([A-Za-z]{1,3})\s*(\d+)\s*$`)
var cellRe = regexp.MustCompile(`^\s*([A-Za-z]{1,3})\s*(\d+)\s*$`)

// coerce converts v toward the canonical representation for kind. The
// canonical form is always a fixed point of coerce itself.
func coerce(kind fieldKind, v any) (any, bool) {
	switch kind {
	case fieldString:
		if f, ok := v.(float64); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
	case fieldInt, fieldNumber:
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, true
			}
		}
	case fieldBool:
		if s, ok := v.(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return b, true
			}
		}
	case fieldRange:
		if s, ok := v.(string); ok {
			if canon, ok := canonicalRange(s); ok && canon != s {
				return canon, true
			}
		}
	}
	return v, false
}

// canonicalRange normalizes loose range notations ("a1:c3", "A1..C3",
// "a1-c3", single cell "b2") to the canonical "A1:C3" form.
func canonicalRange(s string) (string, bool) {
	if m := rangeRe.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("%s%s:%s%s",
			strings.ToUpper(m[1]), m[2], strings.ToUpper(m[3]), m[4]), true
	}
	if m := cellRe.FindStringSubmatch(s); m != nil {
		return strings.ToUpper(m[1]) + m[2], true
	}
	return "", false
}
