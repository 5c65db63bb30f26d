package workflows

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/concord/pkg/pagination"
	"github.com/JaimeStill/concord/pkg/query"
)

// Store persists workflow entities. Implementations return the package's
// sentinel errors for missing rows and uniqueness conflicts and make
// SubmitReview and Conclude atomic.
type Store interface {
	CreateWorkflow(ctx context.Context, w *Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
	ListWorkflows(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Workflow], error)
	// UpdateStatus moves a workflow from one status to another, failing with
	// ErrInvalidTransition if the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error
	// DueDeadlines lists non-terminal workflows whose deadline is at or before
	// now and that have not been flagged.
	DueDeadlines(ctx context.Context, now time.Time) ([]Workflow, error)
	// MarkDeadlineNotified flags a workflow once. Reports false if already flagged.
	MarkDeadlineNotified(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// CreateAssignment fails with ErrDuplicateAssignment when the
	// (workflow, reviewer) pair already exists.
	CreateAssignment(ctx context.Context, a *Assignment) error
	GetAssignment(ctx context.Context, id uuid.UUID) (*Assignment, error)
	ListAssignments(ctx context.Context, workflowID uuid.UUID) ([]Assignment, error)
	// RespondAssignment sets the acceptance flag once, failing with
	// ErrAlreadyResponded when it is already set.
	RespondAssignment(ctx context.Context, id uuid.UUID, accepted bool) error
	CountCompleted(ctx context.Context, workflowID uuid.UUID) (int, error)

	// SubmitReview stores r and marks its assignment completed in one step,
	// failing with ErrAlreadySubmitted if the assignment was already completed.
	SubmitReview(ctx context.Context, r *Review) error
	GetReview(ctx context.Context, id uuid.UUID) (*Review, error)
	ListReviews(ctx context.Context, workflowID uuid.UUID) ([]Review, error)

	// Conclude stores d and, when from differs from to, moves the workflow
	// status in the same step.
	Conclude(ctx context.Context, d *Decision, from, to Status) error
	ListDecisions(ctx context.Context, workflowID uuid.UUID) ([]Decision, error)

	// UpsertVote inserts or overwrites the (review, voter) vote, keeping the
	// original id, and returns the stored vote.
	UpsertVote(ctx context.Context, v *Vote) (*Vote, error)
	ListVotes(ctx context.Context, reviewID uuid.UUID) ([]Vote, error)

	SaveReviewer(ctx context.Context, r *Reviewer) (*Reviewer, error)
	GetReviewer(ctx context.Context, id string) (*Reviewer, error)
	ListReviewers(ctx context.Context) ([]Reviewer, error)

	PastConfidences(ctx context.Context, reviewerID string) ([]*float64, error)
	ActiveAssignments(ctx context.Context, reviewerID string) (int, error)
}

var projection = query.
	NewProjectionMap("public", "workflows", "w").
	Project("id", "ID").
	Project("document_id", "DocumentID").
	Project("status", "Status").
	Project("consensus_threshold", "ConsensusThreshold").
	Project("min_reviewers", "MinReviewers").
	Project("require_consensus", "RequireConsensus").
	Project("allow_discussion", "AllowDiscussion").
	Project("blind_review", "BlindReview").
	Project("deadline", "Deadline").
	Project("deadline_notified_at", "DeadlineNotifiedAt").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for workflow queries.
// Empty fields are ignored. A workflow matches when its status is any of
// Statuses and its document id equals DocumentID.
type Filters struct {
	Statuses   []Status `json:"statuses,omitempty"`
	DocumentID *string  `json:"document_id,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	statuses := make([]any, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}
	return b.
		WhereIn("Status", statuses...).
		WhereEquals("DocumentID", f.DocumentID)
}

// Matches reports whether w satisfies the filters.
func (f Filters) Matches(w *Workflow) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, w.Status) {
		return false
	}
	if f.DocumentID != nil && w.DocumentID != *f.DocumentID {
		return false
	}
	return true
}

// FiltersFromQuery extracts filter values from URL query parameters.
// status accepts a comma-separated list.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	for s := range strings.SplitSeq(values.Get("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			f.Statuses = append(f.Statuses, Status(s))
		}
	}

	if d := values.Get("document_id"); d != "" {
		f.DocumentID = &d
	}

	return f
}
