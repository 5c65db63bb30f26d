package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JaimeStill/concord/internal/consensus"
	"github.com/JaimeStill/concord/internal/decision"
	"github.com/JaimeStill/concord/internal/events"
)

// checkCompletion evaluates w once its quorum is met. The caller holds the
// workflow lock. Insufficient data leaves w in its current state.
func (e *engine) checkCompletion(ctx context.Context, w *Workflow) ([]events.Event, error) {
	completed, err := e.store.CountCompleted(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	if completed < w.MinReviewers {
		return nil, nil
	}

	reviews, err := e.store.ListReviews(ctx, w.ID)
	if err != nil {
		return nil, err
	}

	var pending []events.Event

	if !w.RequireConsensus {
		pending, err = e.conclude(ctx, w, reviews, StatusCompleted, nil, SystemActor)
		return e.settle(w, pending, err)
	}

	score := consensus.Score(assessments(reviews))
	e.metrics.ConsensusComputed(score)

	if score >= w.ConsensusThreshold {
		pending, err = e.conclude(ctx, w, reviews, StatusConsensusReached, &score, SystemActor)
		return e.settle(w, pending, err)
	}

	if w.Status == StatusDisputed {
		e.logger.Info("workflow remains disputed", "id", w.ID, "consensus_score", score)
		return nil, nil
	}

	evt, err := e.advance(ctx, w, StatusDisputed)
	if err != nil {
		return nil, err
	}
	pending = append(pending, evt)

	if w.AllowDiscussion {
		pending = append(pending, events.New(events.DiscussionStarted, w.ID).
			With("consensus_score", score).
			With("threshold", w.ConsensusThreshold))
	}

	e.logger.Info("consensus not reached", "id", w.ID, "consensus_score", score, "threshold", w.ConsensusThreshold)
	return pending, nil
}

func (e *engine) settle(w *Workflow, pending []events.Event, err error) ([]events.Event, error) {
	if errors.Is(err, ErrInsufficientData) {
		e.logger.Warn("finalization skipped", "id", w.ID, "status", w.Status, "error", err)
		return nil, nil
	}
	return pending, err
}

func (e *engine) Recheck(ctx context.Context, workflowID uuid.UUID) (*Workflow, error) {
	unlock := e.locks.Lock(workflowID)
	w, pending, err := e.recheckLocked(ctx, workflowID)
	unlock()

	e.emitter.Emit(ctx, pending...)

	if err != nil {
		return nil, err
	}
	return w, nil
}

func (e *engine) recheckLocked(ctx context.Context, workflowID uuid.UUID) (*Workflow, []events.Event, error) {
	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	if w.Status.Terminal() {
		return w, nil, nil
	}

	var pending []events.Event

	if w.Status == StatusPending {
		completed, err := e.store.CountCompleted(ctx, w.ID)
		if err != nil {
			return nil, nil, err
		}
		if completed == 0 {
			return w, nil, nil
		}

		evt, err := e.startIfPending(ctx, w)
		if err != nil {
			return nil, nil, fmt.Errorf("start workflow: %w", err)
		}
		pending = append(pending, *evt)
	}

	completion, err := e.checkCompletion(ctx, w)
	pending = append(pending, completion...)
	if err != nil {
		return nil, pending, fmt.Errorf("completion check: %w", err)
	}

	e.logger.Info("completion rechecked", "id", w.ID, "status", w.Status)
	return w, pending, nil
}

func (e *engine) Finalize(ctx context.Context, workflowID uuid.UUID, cmd FinalizeCommand) (*Decision, error) {
	decidedBy := cmd.ModeratorID
	if decidedBy == "" {
		decidedBy = SystemActor
	}

	unlock := e.locks.Lock(workflowID)
	d, pending, err := e.finalizeLocked(ctx, workflowID, decidedBy)
	unlock()

	if err != nil {
		return nil, err
	}

	e.emitter.Emit(ctx, pending...)
	return d, nil
}

func (e *engine) finalizeLocked(ctx context.Context, workflowID uuid.UUID, decidedBy string) (*Decision, []events.Event, error) {
	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}

	var to Status
	switch {
	case w.Status == StatusDisputed:
		to = StatusCompleted
	case w.Status.Terminal():
		to = w.Status
	default:
		return nil, nil, fmt.Errorf("%w: cannot finalize a %s workflow", ErrInvalidStatus, w.Status)
	}

	reviews, err := e.store.ListReviews(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}

	var score *float64
	if w.RequireConsensus {
		s := consensus.Score(assessments(reviews))
		score = &s
	}

	pending, err := e.conclude(ctx, w, reviews, to, score, decidedBy)
	if err != nil {
		return nil, nil, err
	}

	d := pending[len(pending)-1].Payload.(Decision)
	return &d, pending, nil
}

// conclude evaluates reviews, stores the decision, and moves w to status to.
// The last returned event is always DecisionMade carrying the Decision.
func (e *engine) conclude(
	ctx context.Context,
	w *Workflow,
	reviews []Review,
	to Status,
	score *float64,
	decidedBy string,
) ([]events.Event, error) {
	from := w.Status
	if from != to {
		if err := ValidateTransition(from, to); err != nil {
			return nil, err
		}
	}

	verdict, err := decision.Evaluate(inputs(reviews))
	if err != nil {
		if errors.Is(err, decision.ErrInsufficientData) {
			return nil, ErrInsufficientData
		}
		return nil, err
	}

	d := Decision{
		ID:             uuid.New(),
		WorkflowID:     w.ID,
		Outcome:        verdict.Outcome,
		ConsensusScore: score,
		Justification:  verdict.Justification,
		Conditions:     verdict.Conditions,
		DecidedAt:      e.now(),
		DecidedBy:      decidedBy,
	}

	if err := e.store.Conclude(ctx, &d, from, to); err != nil {
		return nil, fmt.Errorf("store decision: %w", err)
	}

	var pending []events.Event
	if from != to {
		w.Status = to
		w.UpdatedAt = d.DecidedAt
		e.metrics.Transitioned(string(to))
		e.logger.Info("workflow status changed", "id", w.ID, "from", from, "to", to)
		pending = append(pending, statusChanged(w.ID, from, to))
	}

	e.metrics.DecisionMade(string(d.Outcome))
	e.logger.Info(
		"decision made",
		"workflow_id", w.ID,
		"decision_id", d.ID,
		"outcome", d.Outcome,
		"average_risk", verdict.AverageRisk,
		"decided_by", decidedBy,
	)

	pending = append(pending, events.New(events.DecisionMade, w.ID).
		WithDecision(d.ID, d).
		With("outcome", string(d.Outcome)))

	return pending, nil
}

func (e *engine) Decisions(ctx context.Context, workflowID uuid.UUID) ([]Decision, error) {
	if _, err := e.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	return e.store.ListDecisions(ctx, workflowID)
}

func (e *engine) Consensus(ctx context.Context, workflowID uuid.UUID) (*ConsensusReport, error) {
	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	reviews, err := e.store.ListReviews(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	report := consensus.Analyze(assessments(reviews))
	return &ConsensusReport{
		WorkflowID: w.ID,
		Status:     w.Status,
		Threshold:  w.ConsensusThreshold,
		Reached:    len(reviews) > 0 && report.Score >= w.ConsensusThreshold,
		Report:     report,
	}, nil
}

func assessments(reviews []Review) []consensus.Assessment {
	out := make([]consensus.Assessment, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, consensus.Assessment{
			ReviewID:       r.ID,
			ReviewerID:     r.ReviewerID,
			Risk:           r.RiskAssessment,
			Confidence:     r.ConfidenceScore,
			Recommendation: r.Recommendation,
		})
	}
	return out
}

func inputs(reviews []Review) []decision.Input {
	out := make([]decision.Input, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, decision.Input{
			Risk:           r.RiskAssessment,
			Findings:       r.Findings,
			Recommendation: r.Recommendation,
		})
	}
	return out
}
