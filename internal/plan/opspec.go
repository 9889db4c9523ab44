package plan

import "github.com/starford/raido/internal/host"

// fieldKind drives parameter coercion in the normalizer.
type fieldKind int

const (
	fieldAny fieldKind = iota
	fieldString
	fieldInt
	fieldNumber
	fieldBool
	fieldRange // spreadsheet range, canonical form "A1:C3"
	fieldRows  // array of row arrays
)

type fieldSpec struct {
	required bool
	kind     fieldKind
}

// opSpec declares an operation's recognized parameters and the capability
// feature it exercises (empty when the op has no fallback chain).
type opSpec struct {
	fields  map[string]fieldSpec
	feature string
}

// blockOps are supported by every host kind: they address named content
// regions rather than kind-specific surfaces.
var blockOps = map[string]opSpec{
	"replace_block": {
		feature: "write_block",
		fields: map[string]fieldSpec{
			"block_id": {required: true, kind: fieldString},
			"content":  {required: true, kind: fieldString},
		},
	},
	"delete_block": {
		fields: map[string]fieldSpec{
			"block_id": {required: true, kind: fieldString},
		},
	},
	"rollback_block": {
		fields: map[string]fieldSpec{
			"block_id": {required: true, kind: fieldString},
		},
	},
}

var opSpecs = map[host.Kind]map[string]opSpec{
	host.KindText: {
		"insert_text": {
			feature: "insert_text",
			fields: map[string]fieldSpec{
				"text":     {required: true, kind: fieldString},
				"position": {kind: fieldString},
			},
		},
		"insert_heading": {
			fields: map[string]fieldSpec{
				"text":  {required: true, kind: fieldString},
				"level": {kind: fieldInt},
			},
		},
		"insert_table": {
			feature: "insert_table",
			fields: map[string]fieldSpec{
				"rows":   {required: true, kind: fieldRows},
				"header": {kind: fieldBool},
			},
		},
		"insert_image": {
			feature: "insert_image",
			fields: map[string]fieldSpec{
				"source": {required: true, kind: fieldString},
				"alt":    {kind: fieldString},
			},
		},
	},
	host.KindSheet: {
		"set_cells": {
			feature: "set_cells",
			fields: map[string]fieldSpec{
				"range":  {required: true, kind: fieldRange},
				"values": {required: true, kind: fieldRows},
			},
		},
		"insert_chart": {
			feature: "insert_chart",
			fields: map[string]fieldSpec{
				"range":      {kind: fieldRange},
				"chart_type": {kind: fieldString},
				"title":      {kind: fieldString},
			},
		},
		"insert_image": {
			feature: "insert_image",
			fields: map[string]fieldSpec{
				"source": {required: true, kind: fieldString},
				"alt":    {kind: fieldString},
			},
		},
	},
	host.KindSlide: {
		"add_slide": {
			feature: "add_slide",
			fields: map[string]fieldSpec{
				"title":  {kind: fieldString},
				"layout": {kind: fieldString},
			},
		},
		"insert_text": {
			feature: "insert_text",
			fields: map[string]fieldSpec{
				"text": {required: true, kind: fieldString},
			},
		},
		"insert_image": {
			feature: "insert_image",
			fields: map[string]fieldSpec{
				"source": {required: true, kind: fieldString},
				"alt":    {kind: fieldString},
			},
		},
	},
}

// opAliases maps deprecated or commonly mis-generated op names onto the
// supported equivalent per host. Canonical names never appear as keys, which
// keeps alias rewriting a fixed point.
var opAliases = map[host.Kind]map[string]string{
	host.KindText: {
		"add_text":      "insert_text",
		"append_text":   "insert_text",
		"add_paragraph": "insert_text",
		"heading":       "insert_heading",
		"add_heading":   "insert_heading",
		"add_table":     "insert_table",
		"create_table":  "insert_table",
		"add_image":     "insert_image",
		"add_picture":   "insert_image",
	},
	host.KindSheet: {
		"add_chart":    "insert_chart",
		"create_chart": "insert_chart",
		"chart":        "insert_chart",
		"update_cells": "set_cells",
		"write_cells":  "set_cells",
		"fill_range":   "set_cells",
		"add_image":    "insert_image",
	},
	host.KindSlide: {
		"new_slide":    "add_slide",
		"append_slide": "add_slide",
		"add_text":     "insert_text",
		"add_image":    "insert_image",
	},
}

// commonAliases apply to every host kind.
var commonAliases = map[string]string{
	"upsert_block": "replace_block",
	"write_block":  "replace_block",
	"remove_block": "delete_block",
	"undo_block":   "rollback_block",
}

// LookupOp resolves an op for a host kind, returning the spec and whether
// the op exists after considering the shared block operations.
func LookupOp(kind host.Kind, op string) (opSpec, bool) {
	if s, ok := blockOps[op]; ok {
		return s, true
	}
	ops, ok := opSpecs[kind]
	if !ok {
		return opSpec{}, false
	}
	s, ok := ops[op]
	return s, ok
}

// resolveAlias returns the canonical op for a deprecated name, if any.
func resolveAlias(kind host.Kind, op string) (string, bool) {
	if c, ok := commonAliases[op]; ok {
		return c, true
	}
	if m, ok := opAliases[kind]; ok {
		if c, ok := m[op]; ok {
			return c, true
		}
	}
	return "", false
}

// Feature returns the capability feature an op exercises, or "".
func Feature(kind host.Kind, op string) string {
	s, ok := LookupOp(kind, op)
	if !ok {
		return ""
	}
	return s.feature
}
