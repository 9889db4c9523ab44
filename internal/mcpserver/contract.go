package mcpserver

// PlanFormatContract describes the canonical edit-plan format that LLM
// consumers should follow when proposing document edits.
const PlanFormatContract = `# Raido Edit Plan Contract

Every edit plan submitted to Raido MUST be a single JSON object following
this structure. Surrounding prose is tolerated (the first decodable JSON
object is extracted), but a bare object is preferred.

## Structure

` + "```" + `json
{
  "schema_version": "raido/v1",
  "host_kind": "text",
  "meta": {"title": "Optional plan title"},
  "actions": [
    {"op": "insert_text", "id": "intro", "text": "Hello world"},
    {"op": "insert_table", "id": "metrics", "rows": [["k", "v"], ["a", "1"]]},
    {"op": "replace_block", "id": "summary", "content": "Updated summary"}
  ]
}
` + "```" + `

## Rules

1. **` + "`" + `schema_version` + "`" + ` is mandatory** and must be exactly ` + "`" + `raido/v1` + "`" + `.
   Unknown versions are rejected whole; nothing is executed.
2. **` + "`" + `host_kind` + "`" + ` is mandatory**: one of ` + "`" + `text` + "`" + `, ` + "`" + `sheet` + "`" + `, ` + "`" + `slide` + "`" + `.
3. **Every action needs an ` + "`" + `op` + "`" + `.** Actions without one are skipped, never guessed.
4. **` + "`" + `id` + "`" + ` gives an action a stable artifact identity.** Re-submitting a plan
   with the same ids updates the same regions instead of duplicating content.
   Omit it only for free-form appends.
5. **Unknown ops skip only that action.** The rest of the plan still runs.
   Common near-miss names are repaired automatically (e.g. ` + "`" + `add_chart` + "`" + ` becomes
   ` + "`" + `insert_chart` + "`" + `); repairs are reported in the submission diagnostics.
6. **Field types are coerced where safe** (numeric strings to numbers, cell
   ranges normalized to ` + "`" + `A1:C3` + "`" + ` form). Unrecognized fields are dropped.

## Operations per host kind

| host_kind | ops |
|-----------|-----|
| text  | insert_text, insert_heading, insert_table, insert_image |
| sheet | set_cells, insert_chart, insert_image |
| slide | add_slide, insert_text, insert_image |

All kinds additionally support ` + "`" + `replace_block` + "`" + `, ` + "`" + `delete_block` + "`" + `, and
` + "`" + `rollback_block` + "`" + ` (these take ` + "`" + `id` + "`" + ` plus, for replace, ` + "`" + `content` + "`" + `).

## Execution model

- Plans are queued per document and executed strictly one at a time.
- Feature gaps degrade through fallback strategies (an image becomes a link
  or a placeholder) rather than failing the whole plan.
- Submit with a stable ` + "`" + `source_id` + "`" + ` so retries of the same agent message
  stay idempotent.
`
