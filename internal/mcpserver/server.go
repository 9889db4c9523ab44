// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Raido's plan pipeline for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/raido/internal/api"
	"github.com/starford/raido/internal/host"
)

// Server wraps the MCP server with Raido tools. All tools delegate to the
// same service the REST API uses.
type Server struct {
	mcp *server.MCPServer
	svc *api.Service
}

// New creates a new MCP server with all Raido tools registered.
func New(svc *api.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Raido",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("submit_plan",
		mcp.WithDescription("Submit an edit plan for a document. The plan MUST follow the "+
			"canonical Raido plan format (raido/v1 JSON with host_kind and actions). "+
			"Read the contract first via the get_plan_contract tool or the "+
			"raido://plan-format resource. Returns the queued job plus normalization diagnostics."),
		mcp.WithString("input", mcp.Required(), mcp.Description("Plan JSON, optionally surrounded by prose")),
		mcp.WithString("doc_key", mcp.Required(), mcp.Description("Target document key (e.g. text|path|notes/report.md)")),
		mcp.WithString("source_id", mcp.Description("Stable id of the agent message; keeps resubmission idempotent")),
		mcp.WithString("policy", mcp.Description("Partial-failure policy: continue (default) or abort_all")),
	), s.submitPlan)

	s.mcp.AddTool(mcp.NewTool("get_plan_contract",
		mcp.WithDescription("Returns the canonical Raido edit plan contract. "+
			"Call this before submitting plans to ensure correct structure."),
	), s.getPlanContract)

	s.mcp.AddTool(mcp.NewTool("job_status",
		mcp.WithDescription("Get the status snapshot of one writeback job, including per-action results."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id returned by submit_plan")),
	), s.jobStatus)

	s.mcp.AddTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List writeback jobs, optionally filtered by document key and status."),
		mcp.WithString("doc_key", mcp.Description("Filter by document key")),
		mcp.WithString("status", mcp.Description("Filter by status: queued, running, success, error, cancelled")),
	), s.listJobs)

	s.mcp.AddTool(mcp.NewTool("cancel_queued",
		mcp.WithDescription("Cancel queued (not yet running) jobs by document key or source id. "+
			"The running job is never preempted."),
		mcp.WithString("doc_key", mcp.Description("Cancel queued jobs for this document")),
		mcp.WithString("source_id", mcp.Description("Cancel queued jobs from this session")),
	), s.cancelQueued)

	s.mcp.AddTool(mcp.NewTool("rollback_block",
		mcp.WithDescription("Restore a block to its snapshot taken before the last modifying write. "+
			"Runs as a queued job like any other writeback."),
		mcp.WithString("doc_key", mcp.Required(), mcp.Description("Document key")),
		mcp.WithString("block_id", mcp.Required(), mcp.Description("Block to roll back")),
	), s.rollbackBlock)

	s.mcp.AddTool(mcp.NewTool("list_capabilities",
		mcp.WithDescription("Get the capability report for a host kind: supported features and their fallback chains."),
		mcp.WithString("host_kind", mcp.Required(), mcp.Description("One of text, sheet, slide")),
	), s.listCapabilities)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List known documents with their derived statuses."),
	), s.listDocuments)

	// Resource: plan format contract.
	s.mcp.AddResource(
		mcp.NewResource("raido://plan-format", "Edit Plan Contract",
			mcp.WithResourceDescription("Canonical edit plan format that all submissions must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPlanFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) submitPlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := req.RequireString("input")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	docKey, err := req.RequireString("doc_key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sourceID, _ := req.RequireString("source_id")
	policy, _ := req.RequireString("policy")

	res, err := s.svc.SubmitPlan(ctx, api.Submission{
		Input:    input,
		DocKey:   host.DocKey(docKey),
		SourceID: sourceID,
		Policy:   policy,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) getPlanContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PlanFormatContract), nil
}

func (s *Server) jobStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, ok := s.svc.Job(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return jsonResult(job), nil
}

func (s *Server) listJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docKey, _ := req.RequireString("doc_key")
	status, _ := req.RequireString("status")
	return jsonResult(s.svc.Jobs(host.DocKey(docKey), status)), nil
}

func (s *Server) cancelQueued(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docKey, _ := req.RequireString("doc_key")
	sourceID, _ := req.RequireString("source_id")
	n, err := s.svc.CancelQueued(host.DocKey(docKey), sourceID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("cancelled: %d", n)), nil
}

func (s *Server) rollbackBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docKey, err := req.RequireString("doc_key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	blockID, err := req.RequireString("block_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err := s.svc.RollbackBlock(ctx, host.DocKey(docKey), blockID, "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(job), nil
}

func (s *Server) listCapabilities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("host_kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.svc.Capabilities(kind)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report), nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Documents()), nil
}

func (s *Server) readPlanFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "raido://plan-format",
			MIMEType: "text/markdown",
			Text:     PlanFormatContract,
		},
	}, nil
}
