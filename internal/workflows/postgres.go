package workflows

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/JaimeStill/concord/internal/decision"
	"github.com/JaimeStill/concord/pkg/pagination"
	"github.com/JaimeStill/concord/pkg/query"
	"github.com/JaimeStill/concord/pkg/repository"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	assignmentColumns = "id, workflow_id, reviewer_id, role, accepted, completed, assigned_at"
	reviewColumns     = "id, assignment_id, workflow_id, reviewer_id, risk_assessment, confidence_score, findings, recommendation, detailed_feedback, started_at, time_spent_minutes, submitted_at"
	decisionColumns   = "id, workflow_id, outcome, consensus_score, justification, conditions, decided_at, decided_by"
	voteColumns       = "id, review_id, voter_id, vote, confidence, comment, voted_at"
	reviewerColumns   = "id, name, email, institution, expertise_areas, created_at, updated_at"
)

type postgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Store backed by the PostgreSQL schema applied
// by cmd/migrate.
func NewPostgresStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) CreateWorkflow(ctx context.Context, w *Workflow) error {
	q := `
		INSERT INTO workflows(id, document_id, status, consensus_threshold, min_reviewers,
			require_consensus, allow_discussion, blind_review, deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, q,
		w.ID,
		w.DocumentID,
		w.Status,
		w.ConsensusThreshold,
		w.MinReviewers,
		w.RequireConsensus,
		w.AllowDiscussion,
		w.BlindReview,
		w.Deadline,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (s *postgresStore) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	w, err := repository.QueryOne(ctx, s.db, q, args, scanWorkflow)
	if err != nil {
		return nil, repository.MapError(err, ErrWorkflowNotFound, err)
	}
	return &w, nil
}

func (s *postgresStore) ListWorkflows(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Workflow], error) {
	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "DocumentID")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	total, err := repository.QueryScalar[int](ctx, s.db, countSQL, countArgs...)
	if err != nil {
		return nil, fmt.Errorf("count workflows: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, s.db, pageSQL, pageArgs, scanWorkflow)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (s *postgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error {
	err := repository.ExecExpectOne(ctx, s.db,
		"UPDATE workflows SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4",
		to, at, id, from,
	)
	if errors.Is(err, sql.ErrNoRows) {
		if _, ferr := s.GetWorkflow(ctx, id); ferr != nil {
			return ferr
		}
		return ErrInvalidTransition
	}
	return err
}

func (s *postgresStore) DueDeadlines(ctx context.Context, now time.Time) ([]Workflow, error) {
	q, args := query.
		NewBuilder(projection, query.SortField{Field: "Deadline"}).
		WhereNotNull("Deadline").
		WhereAtMost("Deadline", now).
		WhereNull("DeadlineNotifiedAt").
		WhereNotIn("Status", string(StatusCompleted), string(StatusConsensusReached)).
		Build()

	items, err := repository.QueryMany(ctx, s.db, q, args, scanWorkflow)
	if err != nil {
		return nil, fmt.Errorf("query due deadlines: %w", err)
	}
	return items, nil
}

func (s *postgresStore) MarkDeadlineNotified(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	err := repository.ExecExpectOne(ctx, s.db,
		"UPDATE workflows SET deadline_notified_at = $1 WHERE id = $2 AND deadline_notified_at IS NULL",
		at, id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mark deadline notified: %w", err)
	}
	return true, nil
}

func (s *postgresStore) CreateAssignment(ctx context.Context, a *Assignment) error {
	q := fmt.Sprintf("INSERT INTO assignments(%s) VALUES ($1, $2, $3, $4, $5, $6, $7)", assignmentColumns)

	_, err := s.db.ExecContext(ctx, q,
		a.ID, a.WorkflowID, a.ReviewerID, a.Role, a.Accepted, a.Completed, a.AssignedAt,
	)
	if err != nil {
		err = repository.MapReference(err, ErrWorkflowNotFound)
		return repository.MapError(err, ErrAssignmentNotFound, ErrDuplicateAssignment)
	}
	return nil
}

func (s *postgresStore) GetAssignment(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	q := fmt.Sprintf("SELECT %s FROM assignments WHERE id = $1", assignmentColumns)

	a, err := repository.QueryOne(ctx, s.db, q, []any{id}, scanAssignment)
	if err != nil {
		return nil, repository.MapError(err, ErrAssignmentNotFound, err)
	}
	return &a, nil
}

func (s *postgresStore) ListAssignments(ctx context.Context, workflowID uuid.UUID) ([]Assignment, error) {
	q := fmt.Sprintf("SELECT %s FROM assignments WHERE workflow_id = $1 ORDER BY assigned_at, id", assignmentColumns)

	items, err := repository.QueryMany(ctx, s.db, q, []any{workflowID}, scanAssignment)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	return items, nil
}

func (s *postgresStore) RespondAssignment(ctx context.Context, id uuid.UUID, accepted bool) error {
	err := repository.ExecExpectOne(ctx, s.db,
		"UPDATE assignments SET accepted = $1 WHERE id = $2 AND accepted IS NULL",
		accepted, id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		if _, ferr := s.GetAssignment(ctx, id); ferr != nil {
			return ferr
		}
		return ErrAlreadyResponded
	}
	return err
}

func (s *postgresStore) CountCompleted(ctx context.Context, workflowID uuid.UUID) (int, error) {
	n, err := repository.QueryScalar[int](ctx, s.db,
		"SELECT COUNT(*) FROM assignments WHERE workflow_id = $1 AND completed",
		workflowID,
	)
	if err != nil {
		return 0, fmt.Errorf("count completed assignments: %w", err)
	}
	return n, nil
}

func (s *postgresStore) SubmitReview(ctx context.Context, r *Review) error {
	findings, err := json.Marshal(nonNilFindings(r.Findings))
	if err != nil {
		return fmt.Errorf("encode findings: %w", err)
	}

	_, err = repository.WithTx(ctx, s.db, func(tx *sql.Tx) (struct{}, error) {
		if err := repository.ExecExpectOne(ctx, tx,
			"UPDATE assignments SET completed = TRUE WHERE id = $1 AND completed = FALSE",
			r.AssignmentID,
		); err != nil {
			return struct{}{}, err
		}

		q := fmt.Sprintf("INSERT INTO reviews(%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)", reviewColumns)
		_, err := tx.ExecContext(ctx, q,
			r.ID,
			r.AssignmentID,
			r.WorkflowID,
			r.ReviewerID,
			r.RiskAssessment,
			r.ConfidenceScore,
			string(findings),
			r.Recommendation,
			r.Feedback,
			r.StartedAt,
			r.TimeSpentMinutes,
			r.SubmittedAt,
		)
		return struct{}{}, err
	})

	if errors.Is(err, sql.ErrNoRows) {
		if _, ferr := s.GetAssignment(ctx, r.AssignmentID); ferr != nil {
			return ferr
		}
		return ErrAlreadySubmitted
	}
	if err != nil {
		return repository.MapError(err, ErrAssignmentNotFound, ErrAlreadySubmitted)
	}
	return nil
}

func (s *postgresStore) GetReview(ctx context.Context, id uuid.UUID) (*Review, error) {
	q := fmt.Sprintf("SELECT %s FROM reviews WHERE id = $1", reviewColumns)

	r, err := repository.QueryOne(ctx, s.db, q, []any{id}, scanReview)
	if err != nil {
		return nil, repository.MapError(err, ErrReviewNotFound, err)
	}
	return &r, nil
}

func (s *postgresStore) ListReviews(ctx context.Context, workflowID uuid.UUID) ([]Review, error) {
	q := fmt.Sprintf("SELECT %s FROM reviews WHERE workflow_id = $1 ORDER BY submitted_at, id", reviewColumns)

	items, err := repository.QueryMany(ctx, s.db, q, []any{workflowID}, scanReview)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	return items, nil
}

func (s *postgresStore) Conclude(ctx context.Context, d *Decision, from, to Status) error {
	conditions, err := json.Marshal(nonNilFindings(d.Conditions))
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}

	_, err = repository.WithTx(ctx, s.db, func(tx *sql.Tx) (struct{}, error) {
		if err := repository.ExecExpectOne(ctx, tx,
			"UPDATE workflows SET status = $1, updated_at = CASE WHEN $1 = $2 THEN updated_at ELSE $3 END WHERE id = $4 AND status = $2",
			to, from, d.DecidedAt, d.WorkflowID,
		); err != nil {
			return struct{}{}, err
		}

		q := fmt.Sprintf("INSERT INTO decisions(%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)", decisionColumns)
		_, err := tx.ExecContext(ctx, q,
			d.ID,
			d.WorkflowID,
			d.Outcome,
			d.ConsensusScore,
			d.Justification,
			string(conditions),
			d.DecidedAt,
			d.DecidedBy,
		)
		return struct{}{}, err
	})

	if errors.Is(err, sql.ErrNoRows) {
		if _, ferr := s.GetWorkflow(ctx, d.WorkflowID); ferr != nil {
			return ferr
		}
		return ErrInvalidTransition
	}
	if err != nil {
		return fmt.Errorf("conclude workflow: %w", err)
	}
	return nil
}

func (s *postgresStore) ListDecisions(ctx context.Context, workflowID uuid.UUID) ([]Decision, error) {
	q := fmt.Sprintf("SELECT %s FROM decisions WHERE workflow_id = $1 ORDER BY decided_at, id", decisionColumns)

	items, err := repository.QueryMany(ctx, s.db, q, []any{workflowID}, scanDecision)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	return items, nil
}

func (s *postgresStore) UpsertVote(ctx context.Context, v *Vote) (*Vote, error) {
	q := fmt.Sprintf(`
		INSERT INTO votes(%s) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (review_id, voter_id) DO UPDATE SET
			vote = EXCLUDED.vote,
			confidence = EXCLUDED.confidence,
			comment = EXCLUDED.comment,
			voted_at = EXCLUDED.voted_at
		RETURNING %s`, voteColumns, voteColumns)

	args := []any{v.ID, v.ReviewID, v.VoterID, v.Value, v.Confidence, v.Comment, v.VotedAt}

	stored, err := repository.QueryOne(ctx, s.db, q, args, scanVote)
	if err != nil {
		return nil, repository.MapReference(err, ErrReviewNotFound)
	}
	return &stored, nil
}

func (s *postgresStore) ListVotes(ctx context.Context, reviewID uuid.UUID) ([]Vote, error) {
	q := fmt.Sprintf("SELECT %s FROM votes WHERE review_id = $1 ORDER BY voted_at, id", voteColumns)

	items, err := repository.QueryMany(ctx, s.db, q, []any{reviewID}, scanVote)
	if err != nil {
		return nil, fmt.Errorf("query votes: %w", err)
	}
	return items, nil
}

func (s *postgresStore) SaveReviewer(ctx context.Context, r *Reviewer) (*Reviewer, error) {
	expertise, err := json.Marshal(nonNilStrings(r.Expertise))
	if err != nil {
		return nil, fmt.Errorf("encode expertise: %w", err)
	}

	q := fmt.Sprintf(`
		INSERT INTO reviewers(%s) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			institution = EXCLUDED.institution,
			expertise_areas = EXCLUDED.expertise_areas,
			updated_at = EXCLUDED.updated_at
		RETURNING %s`, reviewerColumns, reviewerColumns)

	args := []any{r.ID, r.Name, r.Email, r.Institution, string(expertise), r.CreatedAt, r.UpdatedAt}

	stored, err := repository.QueryOne(ctx, s.db, q, args, scanReviewer)
	if err != nil {
		return nil, fmt.Errorf("upsert reviewer: %w", err)
	}
	return &stored, nil
}

func (s *postgresStore) GetReviewer(ctx context.Context, id string) (*Reviewer, error) {
	q := fmt.Sprintf("SELECT %s FROM reviewers WHERE id = $1", reviewerColumns)

	r, err := repository.QueryOne(ctx, s.db, q, []any{id}, scanReviewer)
	if err != nil {
		return nil, repository.MapError(err, ErrReviewerNotFound, err)
	}
	return &r, nil
}

func (s *postgresStore) ListReviewers(ctx context.Context) ([]Reviewer, error) {
	q := fmt.Sprintf("SELECT %s FROM reviewers ORDER BY id", reviewerColumns)

	items, err := repository.QueryMany(ctx, s.db, q, nil, scanReviewer)
	if err != nil {
		return nil, fmt.Errorf("query reviewers: %w", err)
	}
	return items, nil
}

func (s *postgresStore) PastConfidences(ctx context.Context, reviewerID string) ([]*float64, error) {
	items, err := repository.QueryMany(ctx, s.db,
		"SELECT confidence_score FROM reviews WHERE reviewer_id = $1",
		[]any{reviewerID},
		func(sc repository.Scanner) (*float64, error) {
			var v *float64
			err := sc.Scan(&v)
			return v, err
		},
	)
	if err != nil {
		return nil, fmt.Errorf("query past confidences: %w", err)
	}
	return items, nil
}

func (s *postgresStore) ActiveAssignments(ctx context.Context, reviewerID string) (int, error) {
	n, err := repository.QueryScalar[int](ctx, s.db,
		"SELECT COUNT(*) FROM assignments WHERE reviewer_id = $1 AND NOT completed",
		reviewerID,
	)
	if err != nil {
		return 0, fmt.Errorf("count active assignments: %w", err)
	}
	return n, nil
}

func scanWorkflow(s repository.Scanner) (Workflow, error) {
	var w Workflow
	err := s.Scan(
		&w.ID,
		&w.DocumentID,
		&w.Status,
		&w.ConsensusThreshold,
		&w.MinReviewers,
		&w.RequireConsensus,
		&w.AllowDiscussion,
		&w.BlindReview,
		&w.Deadline,
		&w.DeadlineNotifiedAt,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	return w, err
}

func scanAssignment(s repository.Scanner) (Assignment, error) {
	var a Assignment
	err := s.Scan(
		&a.ID,
		&a.WorkflowID,
		&a.ReviewerID,
		&a.Role,
		&a.Accepted,
		&a.Completed,
		&a.AssignedAt,
	)
	return a, err
}

func scanReview(s repository.Scanner) (Review, error) {
	var (
		r        Review
		findings []byte
	)
	err := s.Scan(
		&r.ID,
		&r.AssignmentID,
		&r.WorkflowID,
		&r.ReviewerID,
		&r.RiskAssessment,
		&r.ConfidenceScore,
		&findings,
		&r.Recommendation,
		&r.Feedback,
		&r.StartedAt,
		&r.TimeSpentMinutes,
		&r.SubmittedAt,
	)
	if err != nil {
		return r, err
	}
	r.Findings, err = decodeFindings(findings)
	return r, err
}

func scanDecision(s repository.Scanner) (Decision, error) {
	var (
		d          Decision
		conditions []byte
	)
	err := s.Scan(
		&d.ID,
		&d.WorkflowID,
		&d.Outcome,
		&d.ConsensusScore,
		&d.Justification,
		&conditions,
		&d.DecidedAt,
		&d.DecidedBy,
	)
	if err != nil {
		return d, err
	}
	d.Conditions, err = decodeFindings(conditions)
	return d, err
}

func scanVote(s repository.Scanner) (Vote, error) {
	var v Vote
	err := s.Scan(
		&v.ID,
		&v.ReviewID,
		&v.VoterID,
		&v.Value,
		&v.Confidence,
		&v.Comment,
		&v.VotedAt,
	)
	return v, err
}

func scanReviewer(s repository.Scanner) (Reviewer, error) {
	var (
		r         Reviewer
		expertise []byte
	)
	err := s.Scan(
		&r.ID,
		&r.Name,
		&r.Email,
		&r.Institution,
		&expertise,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}
	r.Expertise = []string{}
	if len(expertise) > 0 {
		if err := json.Unmarshal(expertise, &r.Expertise); err != nil {
			return r, fmt.Errorf("decode expertise: %w", err)
		}
	}
	return r, nil
}

func decodeFindings(data []byte) ([]decision.Finding, error) {
	findings := []decision.Finding{}
	if len(data) == 0 {
		return findings, nil
	}
	if err := json.Unmarshal(data, &findings); err != nil {
		return nil, fmt.Errorf("decode findings: %w", err)
	}
	return findings, nil
}

func nonNilFindings(f []decision.Finding) []decision.Finding {
	if f == nil {
		return []decision.Finding{}
	}
	return f
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
