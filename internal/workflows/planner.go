package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JaimeStill/concord/internal/events"
	"github.com/JaimeStill/concord/internal/scoring"
)

func (e *engine) Assign(ctx context.Context, workflowID uuid.UUID, cmd AssignCommand) (*Assignment, error) {
	if cmd.ReviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer_id required", ErrInvalidConfiguration)
	}

	role := cmd.Role
	if role == "" {
		role = RoleReviewer
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, cmd.Role)
	}

	unlock := e.locks.Lock(workflowID)
	a, err := e.assignLocked(ctx, workflowID, cmd.ReviewerID, role)
	unlock()

	if err != nil {
		return nil, err
	}

	e.emitter.Emit(ctx, invitation(a))
	return a, nil
}

func (e *engine) AutoAssign(ctx context.Context, workflowID uuid.UUID, cmd AutoAssignCommand) ([]Assignment, error) {
	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.Status.Terminal() {
		return nil, fmt.Errorf("%w: workflow is %s", ErrInvalidStatus, w.Status)
	}

	reviewers, err := e.store.ListReviewers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reviewers: %w", err)
	}

	candidates := make([]scoring.Candidate, 0, len(reviewers))
	for _, r := range reviewers {
		candidates = append(candidates, scoring.Candidate{
			ReviewerID: r.ID,
			Expertise:  r.Expertise,
		})
	}

	ranked, err := e.scorer.Rank(ctx, candidates, cmd.ExpertiseRequired)
	if err != nil {
		return nil, fmt.Errorf("rank reviewers: %w", err)
	}

	top := ranked[:min(len(ranked), w.MinReviewers)]
	if len(top) < w.MinReviewers {
		e.logger.Info(
			"auto-assign under-subscribed",
			"workflow_id", workflowID,
			"eligible", len(ranked),
			"min_reviewers", w.MinReviewers,
		)
	}

	unlock := e.locks.Lock(workflowID)
	assigned, err := e.assignRanked(ctx, workflowID, top)
	unlock()

	pending := make([]events.Event, 0, len(assigned))
	for i := range assigned {
		pending = append(pending, invitation(&assigned[i]))
	}
	e.emitter.Emit(ctx, pending...)

	if err != nil {
		return nil, err
	}
	return assigned, nil
}

func (e *engine) assignRanked(ctx context.Context, workflowID uuid.UUID, top []scoring.Ranked) ([]Assignment, error) {
	existing, err := e.store.ListAssignments(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	hasLead := false
	for _, a := range existing {
		if a.Role == RoleLeadReviewer {
			hasLead = true
			break
		}
	}

	// The lead goes to the first reviewer actually assigned.
	assigned := []Assignment{}
	for _, r := range top {
		role := RoleReviewer
		if !hasLead {
			role = RoleLeadReviewer
		}

		a, err := e.assignLocked(ctx, workflowID, r.ReviewerID, role)
		if errors.Is(err, ErrDuplicateAssignment) {
			e.logger.Debug("auto-assign skipped existing reviewer", "workflow_id", workflowID, "reviewer_id", r.ReviewerID)
			continue
		}
		if err != nil {
			return assigned, err
		}
		if role == RoleLeadReviewer {
			hasLead = true
		}
		assigned = append(assigned, *a)
	}
	return assigned, nil
}

func (e *engine) assignLocked(ctx context.Context, workflowID uuid.UUID, reviewerID string, role Role) (*Assignment, error) {
	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.Status.Terminal() {
		return nil, fmt.Errorf("%w: workflow is %s", ErrInvalidStatus, w.Status)
	}

	a := &Assignment{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		ReviewerID: reviewerID,
		Role:       role,
		AssignedAt: e.now(),
	}
	if err := e.store.CreateAssignment(ctx, a); err != nil {
		return nil, err
	}

	e.logger.Info("reviewer assigned", "workflow_id", workflowID, "reviewer_id", reviewerID, "role", role)
	return a, nil
}

func (e *engine) Accept(ctx context.Context, assignmentID uuid.UUID) (*Assignment, error) {
	return e.respond(ctx, assignmentID, true)
}

func (e *engine) Decline(ctx context.Context, assignmentID uuid.UUID) (*Assignment, error) {
	return e.respond(ctx, assignmentID, false)
}

func (e *engine) respond(ctx context.Context, assignmentID uuid.UUID, accepted bool) (*Assignment, error) {
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(a.WorkflowID)
	evt, err := e.respondLocked(ctx, a, accepted)
	unlock()

	if err != nil {
		return nil, err
	}
	if evt != nil {
		e.emitter.Emit(ctx, *evt)
	}

	a.Accepted = &accepted
	return a, nil
}

func (e *engine) respondLocked(ctx context.Context, a *Assignment, accepted bool) (*events.Event, error) {
	if err := e.store.RespondAssignment(ctx, a.ID, accepted); err != nil {
		return nil, err
	}

	e.logger.Info("assignment answered", "id", a.ID, "reviewer_id", a.ReviewerID, "accepted", accepted)

	if !accepted {
		return nil, nil
	}

	w, err := e.store.GetWorkflow(ctx, a.WorkflowID)
	if err != nil {
		return nil, err
	}
	return e.startIfPending(ctx, w)
}

func (e *engine) Assignments(ctx context.Context, workflowID uuid.UUID) ([]Assignment, error) {
	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	assignments, err := e.store.ListAssignments(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if blinded(w) {
		for i := range assignments {
			assignments[i].ReviewerID = ""
		}
	}
	return assignments, nil
}

func invitation(a *Assignment) events.Event {
	return events.New(events.ReviewInvitationSent, a.WorkflowID).
		WithAssignment(a.ID, a.ReviewerID).
		With("role", string(a.Role))
}
