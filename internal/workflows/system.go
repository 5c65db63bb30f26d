package workflows

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/concord/pkg/pagination"
)

// System defines the public contract for the review engine.
type System interface {
	Handler() *Handler

	Create(ctx context.Context, cmd CreateCommand) (*Workflow, error)
	Find(ctx context.Context, id uuid.UUID) (*Workflow, error)
	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Workflow], error)
	Status(ctx context.Context, id uuid.UUID) (*StatusReport, error)

	Assign(ctx context.Context, workflowID uuid.UUID, cmd AssignCommand) (*Assignment, error)
	AutoAssign(ctx context.Context, workflowID uuid.UUID, cmd AutoAssignCommand) ([]Assignment, error)
	Accept(ctx context.Context, assignmentID uuid.UUID) (*Assignment, error)
	Decline(ctx context.Context, assignmentID uuid.UUID) (*Assignment, error)
	Assignments(ctx context.Context, workflowID uuid.UUID) ([]Assignment, error)

	Submit(ctx context.Context, assignmentID uuid.UUID, cmd SubmitCommand) (*Review, error)
	Reviews(ctx context.Context, workflowID uuid.UUID) ([]Review, error)

	// Recheck re-runs the completion check of a non-terminal workflow, for
	// use when a submission was recorded but its check failed. Terminal
	// workflows are returned unchanged.
	Recheck(ctx context.Context, workflowID uuid.UUID) (*Workflow, error)
	Finalize(ctx context.Context, workflowID uuid.UUID, cmd FinalizeCommand) (*Decision, error)
	Decisions(ctx context.Context, workflowID uuid.UUID) ([]Decision, error)
	Consensus(ctx context.Context, workflowID uuid.UUID) (*ConsensusReport, error)

	CastVote(ctx context.Context, reviewID uuid.UUID, cmd VoteCommand) (*Vote, error)
	Votes(ctx context.Context, reviewID uuid.UUID) (*VoteSummary, error)

	// SweepDeadlines flags every workflow whose deadline passed at or before
	// now and emits one DeadlinePassed event per newly flagged workflow.
	// It never changes workflow status.
	SweepDeadlines(ctx context.Context, now time.Time) (int, error)

	SaveReviewer(ctx context.Context, id string, cmd ReviewerCommand) (*Reviewer, error)
	FindReviewer(ctx context.Context, id string) (*Reviewer, error)
}
