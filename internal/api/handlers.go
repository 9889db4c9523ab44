package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/host"
)

// Handler holds API route handlers.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// SubmitPlan handles POST /api/plans.
//
//	@Summary		Submit an agent plan for normalization and writeback
//	@Tags			plans
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SubmitPlanRequest	true	"Plan submission"
//	@Success		202		{object}	SubmitResult
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/plans [post]
func (h *Handler) SubmitPlan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
	var req SubmitPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	res, err := h.svc.SubmitPlan(r.Context(), Submission{
		Input:    req.Input,
		Plan:     req.Plan,
		DocKey:   host.DocKey(req.DocKey),
		SourceID: req.SourceID,
		Policy:   req.Policy,
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindSchema) {
			writeJSON(w, http.StatusUnprocessableEntity, errorBodyFrom(err))
		} else {
			slog.Error("submit plan failed", slog.String("doc_key", req.DocKey), slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadRequest, errorBodyFrom(err))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// GetJob handles GET /api/jobs/{id}.
//
//	@Summary		Get a single job's status snapshot
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job id"
//	@Success		200	{object}	scheduler.JobView
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.svc.Job(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs.
//
//	@Summary		List jobs with optional filtering
//	@Tags			jobs
//	@Produce		json
//	@Param			doc_key	query		string	false	"Filter by document key"
//	@Param			status	query		string	false	"Filter by status"	Enums(queued, running, success, error, cancelled)
//	@Success		200		{object}	JobListResponse
//	@Security		BearerAuth
//	@Router			/jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobs := h.svc.Jobs(host.DocKey(q.Get("doc_key")), q.Get("status"))
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Total: len(jobs)})
}

// CancelJobs handles DELETE /api/jobs.
//
//	@Summary		Cancel queued jobs by document key or source id
//	@Tags			jobs
//	@Produce		json
//	@Param			doc_key		query		string	false	"Cancel queued jobs for this document"
//	@Param			source_id	query		string	false	"Cancel queued jobs from this session"
//	@Success		200			{object}	CancelResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/jobs [delete]
func (h *Handler) CancelJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := h.svc.CancelQueued(host.DocKey(q.Get("doc_key")), q.Get("source_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBodyFrom(err))
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Cancelled: n})
}

// Capabilities handles GET /api/capabilities/{host_kind}.
//
//	@Summary		Get the capability report for a host kind
//	@Tags			capabilities
//	@Produce		json
//	@Param			host_kind	path		string	true	"Host kind"	Enums(text, sheet, slide)
//	@Success		200			{object}	host.CapabilityReport
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/capabilities/{host_kind} [get]
func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "host_kind")
	report, err := h.svc.Capabilities(kind)
	if err != nil {
		if apperr.IsKind(err, apperr.KindSchema) {
			writeJSON(w, http.StatusBadRequest, errorBodyFrom(err))
		} else {
			slog.Error("capability probe failed", slog.String("host_kind", kind), slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadGateway, errorBody("capability probe failed"))
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListBlocks handles GET /api/blocks.
//
//	@Summary		List the live blocks recorded for a document
//	@Tags			blocks
//	@Produce		json
//	@Param			doc_key	query		string	true	"Document key"
//	@Success		200		{object}	BlockListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks [get]
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	docKey := host.DocKey(r.URL.Query().Get("doc_key"))
	blocks, err := h.svc.Blocks(docKey)
	if err != nil {
		if apperr.IsKind(err, apperr.KindSchema) {
			writeJSON(w, http.StatusBadRequest, errorBodyFrom(err))
		} else {
			slog.Error("list blocks failed", slog.String("doc_key", string(docKey)), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, BlockListResponse{DocKey: string(docKey), Blocks: blocks})
}

// RollbackBlock handles POST /api/blocks/rollback.
//
//	@Summary		Enqueue a rollback job restoring a block from its snapshot
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RollbackRequest	true	"Block to roll back"
//	@Success		202		{object}	scheduler.JobView
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/rollback [post]
func (h *Handler) RollbackBlock(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	job, err := h.svc.RollbackBlock(r.Context(), host.DocKey(req.DocKey), req.BlockID, req.SourceID)
	if err != nil {
		switch {
		case apperr.IsKind(err, apperr.KindSchema):
			writeJSON(w, http.StatusBadRequest, errorBodyFrom(err))
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		default:
			slog.Error("rollback failed", slog.String("doc_key", req.DocKey), slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadRequest, errorBodyFrom(err))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// Sessions handles GET /api/sessions.
//
//	@Summary		List known agent sessions and their derived statuses
//	@Tags			registry
//	@Produce		json
//	@Success		200	{object}	SessionListResponse
//	@Security		BearerAuth
//	@Router			/sessions [get]
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: h.svc.Sessions()})
}

// MarkSession handles POST /api/sessions/status.
//
//	@Summary		Report a session status from the generation layer
//	@Tags			registry
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SessionStatusRequest	true	"Session transition"
//	@Success		200		{object}	registry.SessionState
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/status [post]
func (h *Handler) MarkSession(w http.ResponseWriter, r *http.Request) {
	var req SessionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	state, err := h.svc.MarkSession(req.SourceID, host.DocKey(req.DocKey), req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBodyFrom(err))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Documents handles GET /api/documents.
//
//	@Summary		List known documents and their derived statuses
//	@Tags			registry
//	@Produce		json
//	@Success		200	{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) Documents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: h.svc.Documents()})
}
