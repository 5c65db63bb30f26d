package workflows

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/JaimeStill/concord/pkg/handlers"
	"github.com/JaimeStill/concord/pkg/pagination"
	"github.com/JaimeStill/concord/pkg/routes"
)

// Handler provides HTTP endpoints for the review engine.
type Handler struct {
	sys        System
	logger     *slog.Logger
	pagination pagination.Config
}

// NewHandler creates a Handler with the given system, logger, and pagination config.
func NewHandler(sys System, logger *slog.Logger, pagination pagination.Config) *Handler {
	return &Handler{
		sys:        sys,
		logger:     logger.With("handler", "workflows"),
		pagination: pagination,
	}
}

// Routes returns the route groups for workflows, assignments, reviews, and reviewers.
func (h *Handler) Routes() []routes.Group {
	return []routes.Group{
		{
			Prefix: "/workflows",
			Routes: []routes.Route{
				{Method: "POST", Pattern: "", Handler: h.Create},
				{Method: "GET", Pattern: "", Handler: h.List},
				{Method: "GET", Pattern: "/{id}", Handler: h.Find},
				{Method: "GET", Pattern: "/{id}/status", Handler: h.Status},
				{Method: "POST", Pattern: "/{id}/assignments", Handler: h.Assign},
				{Method: "GET", Pattern: "/{id}/assignments", Handler: h.Assignments},
				{Method: "POST", Pattern: "/{id}/auto-assign", Handler: h.AutoAssign},
				{Method: "GET", Pattern: "/{id}/reviews", Handler: h.Reviews},
				{Method: "GET", Pattern: "/{id}/consensus", Handler: h.Consensus},
				{Method: "GET", Pattern: "/{id}/decisions", Handler: h.Decisions},
				{Method: "POST", Pattern: "/{id}/finalize", Handler: h.Finalize},
				{Method: "POST", Pattern: "/{id}/recheck", Handler: h.Recheck},
			},
		},
		{
			Prefix: "/assignments",
			Routes: []routes.Route{
				{Method: "POST", Pattern: "/{id}/accept", Handler: h.Accept},
				{Method: "POST", Pattern: "/{id}/decline", Handler: h.Decline},
				{Method: "POST", Pattern: "/{id}/review", Handler: h.Submit},
			},
		},
		{
			Prefix: "/reviews",
			Routes: []routes.Route{
				{Method: "POST", Pattern: "/{id}/votes", Handler: h.CastVote},
				{Method: "GET", Pattern: "/{id}/votes", Handler: h.Votes},
			},
		},
		{
			Prefix: "/reviewers",
			Routes: []routes.Route{
				{Method: "PUT", Pattern: "/{id}", Handler: h.SaveReviewer},
				{Method: "GET", Pattern: "/{id}", Handler: h.FindReviewer},
			},
		},
	}
}

// Create starts a new workflow, optionally auto-assigning reviewers.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var cmd CreateCommand
	if err := handlers.DecodeJSON(r, &cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	wf, err := h.sys.Create(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, wf)
}

// List returns a paginated list of workflows with optional query parameter filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.sys.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Find returns a single workflow.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	wf, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, wf)
}

// Status returns progress toward quorum and the latest decision.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	report, err := h.sys.Status(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, report)
}

// Assign invites one reviewer.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var cmd AssignCommand
	if err := handlers.DecodeJSON(r, &cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	a, err := h.sys.Assign(r.Context(), id, cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, a)
}

// AutoAssign invites the best-scoring reviewers for the required expertise.
func (h *Handler) AutoAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var cmd AutoAssignCommand
	if err := handlers.DecodeJSON(r, &cmd); err != nil && !errors.Is(err, handlers.ErrEmptyBody) {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	assigned, err := h.sys.AutoAssign(r.Context(), id, cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, assigned)
}

// Assignments lists a workflow's assignments.
func (h *Handler) Assignments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	assignments, err := h.sys.Assignments(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, assignments)
}

// Reviews lists a workflow's submitted reviews.
func (h *Handler) Reviews(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	reviews, err := h.sys.Reviews(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, reviews)
}

// Consensus returns the moderator consensus report.
func (h *Handler) Consensus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	report, err := h.sys.Consensus(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, report)
}

// Decisions lists every decision recorded for a workflow, oldest first.
func (h *Handler) Decisions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	decisions, err := h.sys.Decisions(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, decisions)
}

// Recheck re-runs the completion check of a workflow.
func (h *Handler) Recheck(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	wf, err := h.sys.Recheck(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, wf)
}

// Finalize forces a decision on a disputed or concluded workflow.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var cmd FinalizeCommand
	if err := handlers.DecodeJSON(r, &cmd); err != nil && !errors.Is(err, handlers.ErrEmptyBody) {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	d, err := h.sys.Finalize(r.Context(), id, cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, d)
}

// Accept records that a reviewer accepted an assignment.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.sys.Accept)
}

// Decline records that a reviewer declined an assignment.
func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.sys.Decline)
}

// Submit records the review for an assignment.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var cmd SubmitCommand
	if err := handlers.DecodeJSON(r, &cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	review, err := h.sys.Submit(r.Context(), id, cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, review)
}

// CastVote records or replaces a peer vote on a review.
func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var cmd VoteCommand
	if err := handlers.DecodeJSON(r, &cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	v, err := h.sys.CastVote(r.Context(), id, cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, v)
}

// Votes returns the vote summary for a review.
func (h *Handler) Votes(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	summary, err := h.sys.Votes(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, summary)
}

// SaveReviewer creates or replaces a reviewer profile.
func (h *Handler) SaveReviewer(w http.ResponseWriter, r *http.Request) {
	var cmd ReviewerCommand
	if err := handlers.DecodeJSON(r, &cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	reviewer, err := h.sys.SaveReviewer(r.Context(), r.PathValue("id"), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, reviewer)
}

// FindReviewer returns a reviewer profile.
func (h *Handler) FindReviewer(w http.ResponseWriter, r *http.Request) {
	reviewer, err := h.sys.FindReviewer(r.Context(), r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, reviewer)
}

func (h *Handler) respond(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, id uuid.UUID) (*Assignment, error),
) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	a, err := fn(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, a)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
