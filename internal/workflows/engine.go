package workflows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/concord/internal/events"
	"github.com/JaimeStill/concord/internal/metrics"
	"github.com/JaimeStill/concord/internal/scoring"
	"github.com/JaimeStill/concord/pkg/pagination"
)

type engine struct {
	store      Store
	scorer     scoring.System
	emitter    events.Emitter
	metrics    *metrics.Metrics
	locks      *keyedMutex
	logger     *slog.Logger
	pagination pagination.Config
	cfg        Config
	now        func() time.Time
}

// New creates the review engine implementing the System interface.
// A nil metrics disables instrumentation.
func New(
	store Store,
	emitter events.Emitter,
	m *metrics.Metrics,
	logger *slog.Logger,
	pagination pagination.Config,
	cfg Config,
) System {
	return &engine{
		store:      store,
		scorer:     scoring.New(store, cfg.AutoAssignConcurrency, logger),
		emitter:    emitter,
		metrics:    m,
		locks:      newKeyedMutex(),
		logger:     logger.With("system", "workflows"),
		pagination: pagination,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (e *engine) Handler() *Handler {
	return NewHandler(e, e.logger, e.pagination)
}

func (e *engine) Create(ctx context.Context, cmd CreateCommand) (*Workflow, error) {
	w, err := e.newWorkflow(cmd)
	if err != nil {
		return nil, err
	}

	if err := e.store.CreateWorkflow(ctx, w); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	e.logger.Info("workflow created", "id", w.ID, "document_id", w.DocumentID)
	e.emitter.Emit(ctx, events.New(events.WorkflowCreated, w.ID).
		With("document_id", w.DocumentID).
		With("min_reviewers", w.MinReviewers))

	if !cmd.AutoAssign {
		return w, nil
	}

	assigned, err := e.AutoAssign(ctx, w.ID, AutoAssignCommand{ExpertiseRequired: cmd.ExpertiseRequired})
	if err != nil {
		e.logger.Warn("auto-assign on create failed", "id", w.ID, "error", err)
		return w, nil
	}
	if len(assigned) == 0 {
		return w, nil
	}

	unlock := e.locks.Lock(w.ID)
	evt, err := e.startIfPending(ctx, w)
	unlock()

	if err != nil {
		e.logger.Warn("start after auto-assign failed", "id", w.ID, "error", err)
		return w, nil
	}
	if evt != nil {
		e.emitter.Emit(ctx, *evt)
	}
	return w, nil
}

func (e *engine) Find(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	return e.store.GetWorkflow(ctx, id)
}

func (e *engine) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Workflow], error) {
	page.Normalize(e.pagination)
	return e.store.ListWorkflows(ctx, page, filters)
}

func (e *engine) Status(ctx context.Context, id uuid.UUID) (*StatusReport, error) {
	w, err := e.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	assignments, err := e.store.ListAssignments(ctx, id)
	if err != nil {
		return nil, err
	}

	decisions, err := e.store.ListDecisions(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		WorkflowID:     w.ID,
		Status:         w.Status,
		Assignments:    len(assignments),
		MinReviewers:   w.MinReviewers,
		DeadlinePassed: w.Deadline != nil && !w.Deadline.After(e.now()),
	}

	for _, a := range assignments {
		if a.Accepted != nil {
			if *a.Accepted {
				report.Accepted++
			} else {
				report.Declined++
			}
		}
		if a.Completed {
			report.Completed++
		}
	}
	report.QuorumMet = report.Completed >= w.MinReviewers

	if n := len(decisions); n > 0 {
		report.LatestDecision = &decisions[n-1]
	}

	return report, nil
}

func (e *engine) Submit(ctx context.Context, assignmentID uuid.UUID, cmd SubmitCommand) (*Review, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(a.WorkflowID)
	review, pending, err := e.submitLocked(ctx, assignmentID, cmd)
	unlock()

	e.emitter.Emit(ctx, pending...)

	if err != nil {
		return nil, err
	}
	return review, nil
}

func (e *engine) submitLocked(
	ctx context.Context,
	assignmentID uuid.UUID,
	cmd SubmitCommand,
) (*Review, []events.Event, error) {
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, err
	}

	w, err := e.store.GetWorkflow(ctx, a.WorkflowID)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case w.Status.Terminal():
		return nil, nil, fmt.Errorf("%w: workflow is %s", ErrInvalidStatus, w.Status)
	case a.Accepted != nil && !*a.Accepted:
		return nil, nil, ErrAssignmentDeclined
	case a.Completed:
		return nil, nil, ErrAlreadySubmitted
	}

	r := &Review{
		ID:               uuid.New(),
		AssignmentID:     a.ID,
		WorkflowID:       a.WorkflowID,
		ReviewerID:       a.ReviewerID,
		RiskAssessment:   cmd.RiskAssessment,
		ConfidenceScore:  cmd.ConfidenceScore,
		Findings:         nonNilFindings(cmd.Findings),
		Recommendation:   cmd.Recommendation,
		Feedback:         cmd.Feedback,
		StartedAt:        cmd.StartedAt,
		TimeSpentMinutes: cmd.TimeSpentMinutes,
		SubmittedAt:      e.now(),
	}

	if err := e.store.SubmitReview(ctx, r); err != nil {
		return nil, nil, err
	}

	e.metrics.ReviewSubmitted()
	e.logger.Info("review submitted", "workflow_id", w.ID, "review_id", r.ID, "reviewer_id", r.ReviewerID)

	pending := []events.Event{
		events.New(events.ReviewSubmitted, w.ID).
			WithAssignment(a.ID, a.ReviewerID).
			WithReview(r.ID),
	}

	// The review is recorded; from here on failures are reported and left
	// for Recheck rather than returned to the reviewer.
	evt, err := e.startIfPending(ctx, w)
	if err != nil {
		e.deferCompletion(w, r, fmt.Errorf("start workflow: %w", err))
		return r, pending, nil
	}
	if evt != nil {
		pending = append(pending, *evt)
	}

	completion, err := e.checkCompletion(ctx, w)
	pending = append(pending, completion...)
	if err != nil {
		e.deferCompletion(w, r, err)
	}

	return r, pending, nil
}

func (e *engine) deferCompletion(w *Workflow, r *Review, err error) {
	e.metrics.CompletionCheckFailed()
	e.logger.Warn(
		"completion check failed, recheck required",
		"workflow_id", w.ID,
		"review_id", r.ID,
		"status", w.Status,
		"error", err,
	)
}

func (e *engine) Reviews(ctx context.Context, workflowID uuid.UUID) ([]Review, error) {
	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	reviews, err := e.store.ListReviews(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if blinded(w) {
		for i := range reviews {
			reviews[i].ReviewerID = ""
		}
	}
	return reviews, nil
}

func (e *engine) CastVote(ctx context.Context, reviewID uuid.UUID, cmd VoteCommand) (*Vote, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if _, err := e.store.GetReview(ctx, reviewID); err != nil {
		return nil, err
	}

	v, err := e.store.UpsertVote(ctx, &Vote{
		ID:         uuid.New(),
		ReviewID:   reviewID,
		VoterID:    cmd.VoterID,
		Value:      cmd.Value,
		Confidence: cmd.Confidence,
		Comment:    cmd.Comment,
		VotedAt:    e.now(),
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("vote cast", "review_id", reviewID, "voter_id", v.VoterID, "vote", v.Value)
	return v, nil
}

func (e *engine) Votes(ctx context.Context, reviewID uuid.UUID) (*VoteSummary, error) {
	if _, err := e.store.GetReview(ctx, reviewID); err != nil {
		return nil, err
	}

	votes, err := e.store.ListVotes(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	summary := &VoteSummary{
		ReviewID: reviewID,
		Total:    len(votes),
		Distribution: map[VoteValue]int{
			VoteAgree:    0,
			VoteDisagree: 0,
			VoteAbstain:  0,
		},
		Votes: votes,
	}
	for _, v := range votes {
		summary.Distribution[v.Value]++
	}
	if summary.Total > 0 {
		summary.AgreementRate = float64(summary.Distribution[VoteAgree]) / float64(summary.Total)
	}
	return summary, nil
}

func (e *engine) SweepDeadlines(ctx context.Context, now time.Time) (int, error) {
	due, err := e.store.DueDeadlines(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find due deadlines: %w", err)
	}

	var (
		pending []events.Event
		errs    []error
	)
	for _, w := range due {
		marked, err := e.store.MarkDeadlineNotified(ctx, w.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", w.ID, err))
			continue
		}
		if !marked {
			continue
		}

		e.metrics.DeadlineNotified()
		e.logger.Info("workflow deadline passed", "id", w.ID, "deadline", w.Deadline, "status", w.Status)
		pending = append(pending, events.New(events.DeadlinePassed, w.ID).
			With("deadline", w.Deadline.UTC().Format(time.RFC3339)).
			With("status", string(w.Status)))
	}

	e.emitter.Emit(ctx, pending...)
	return len(pending), errors.Join(errs...)
}

func (e *engine) SaveReviewer(ctx context.Context, id string, cmd ReviewerCommand) (*Reviewer, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: reviewer id required", ErrInvalidConfiguration)
	}

	now := e.now()
	r, err := e.store.SaveReviewer(ctx, &Reviewer{
		ID:          id,
		Name:        cmd.Name,
		Email:       cmd.Email,
		Institution: cmd.Institution,
		Expertise:   nonNilStrings(cmd.Expertise),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("reviewer saved", "id", r.ID, "expertise", r.Expertise)
	return r, nil
}

func (e *engine) FindReviewer(ctx context.Context, id string) (*Reviewer, error) {
	return e.store.GetReviewer(ctx, id)
}

func (e *engine) newWorkflow(cmd CreateCommand) (*Workflow, error) {
	if cmd.DocumentID == "" {
		return nil, fmt.Errorf("%w: document_id required", ErrInvalidConfiguration)
	}

	now := e.now()
	w := &Workflow{
		ID:                 uuid.New(),
		DocumentID:         cmd.DocumentID,
		Status:             StatusPending,
		ConsensusThreshold: e.cfg.DefaultThreshold,
		MinReviewers:       e.cfg.DefaultMinReviewers,
		RequireConsensus:   true,
		AllowDiscussion:    true,
		Deadline:           cmd.Deadline,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if cmd.ConsensusThreshold != nil {
		w.ConsensusThreshold = *cmd.ConsensusThreshold
	}
	if cmd.MinReviewers != nil {
		w.MinReviewers = *cmd.MinReviewers
	}
	if cmd.RequireConsensus != nil {
		w.RequireConsensus = *cmd.RequireConsensus
	}
	if cmd.AllowDiscussion != nil {
		w.AllowDiscussion = *cmd.AllowDiscussion
	}
	if cmd.BlindReview != nil {
		w.BlindReview = *cmd.BlindReview
	}

	if w.ConsensusThreshold < 0 || w.ConsensusThreshold > 1 {
		return nil, fmt.Errorf("%w: consensus_threshold must be within [0,1]", ErrInvalidConfiguration)
	}
	if w.MinReviewers < 1 {
		return nil, fmt.Errorf("%w: min_reviewers must be at least 1", ErrInvalidConfiguration)
	}

	return w, nil
}

// advance moves w to status to, updating w in place. The caller holds the
// workflow lock.
func (e *engine) advance(ctx context.Context, w *Workflow, to Status) (events.Event, error) {
	from := w.Status
	if err := ValidateTransition(from, to); err != nil {
		return events.Event{}, err
	}

	now := e.now()
	if err := e.store.UpdateStatus(ctx, w.ID, from, to, now); err != nil {
		return events.Event{}, err
	}
	w.Status = to
	w.UpdatedAt = now

	e.metrics.Transitioned(string(to))
	e.logger.Info("workflow status changed", "id", w.ID, "from", from, "to", to)

	return statusChanged(w.ID, from, to), nil
}

func (e *engine) startIfPending(ctx context.Context, w *Workflow) (*events.Event, error) {
	if w.Status != StatusPending {
		return nil, nil
	}
	evt, err := e.advance(ctx, w, StatusInProgress)
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

func statusChanged(id uuid.UUID, from, to Status) events.Event {
	return events.New(events.StatusChanged, id).
		With("from", string(from)).
		With("to", string(to))
}

func blinded(w *Workflow) bool {
	return w.BlindReview && !w.Status.Terminal()
}
