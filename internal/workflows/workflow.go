// Package workflows implements the multi-reviewer review engine: the
// workflow lifecycle state machine, reviewer assignment, review submission
// with quorum and consensus evaluation, decision finalization, peer votes,
// and deadline sweeps. Persistence is abstracted behind Store.
package workflows

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/concord/internal/consensus"
	"github.com/JaimeStill/concord/internal/decision"
)

// Status is a workflow lifecycle state.
type Status string

const (
	StatusPending          Status = "pending"
	StatusInProgress       Status = "in_progress"
	StatusCompleted        Status = "completed"
	StatusConsensusReached Status = "consensus_reached"
	StatusDisputed         Status = "disputed"
)

// Terminal reports whether no automatic transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusConsensusReached
}

// Role is the capacity in which a reviewer is assigned.
type Role string

const (
	RoleLeadReviewer   Role = "lead_reviewer"
	RoleReviewer       Role = "reviewer"
	RoleExpertReviewer Role = "expert_reviewer"
	RoleObserver       Role = "observer"
	RoleModerator      Role = "moderator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleLeadReviewer, RoleReviewer, RoleExpertReviewer, RoleObserver, RoleModerator:
		return true
	}
	return false
}

// VoteValue is a peer's opinion of another reviewer's assessment.
type VoteValue string

const (
	VoteAgree    VoteValue = "agree"
	VoteDisagree VoteValue = "disagree"
	VoteAbstain  VoteValue = "abstain"
)

// Valid reports whether v is a known vote value.
func (v VoteValue) Valid() bool {
	return v == VoteAgree || v == VoteDisagree || v == VoteAbstain
}

// SystemActor is recorded as decided_by for automatic finalization.
const SystemActor = "system"

// Workflow is one review process attached to a document.
type Workflow struct {
	ID                 uuid.UUID  `json:"id"`
	DocumentID         string     `json:"document_id"`
	Status             Status     `json:"status"`
	ConsensusThreshold float64    `json:"consensus_threshold"`
	MinReviewers       int        `json:"min_reviewers"`
	RequireConsensus   bool       `json:"require_consensus"`
	AllowDiscussion    bool       `json:"allow_discussion"`
	BlindReview        bool       `json:"blind_review"`
	Deadline           *time.Time `json:"deadline"`
	DeadlineNotifiedAt *time.Time `json:"deadline_notified_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Assignment binds a reviewer to a workflow. Accepted is nil until the
// reviewer responds.
type Assignment struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`
	ReviewerID string    `json:"reviewer_id"`
	Role       Role      `json:"role"`
	Accepted   *bool     `json:"accepted"`
	Completed  bool      `json:"completed"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Review is a reviewer's submitted assessment. Immutable once stored.
type Review struct {
	ID               uuid.UUID          `json:"id"`
	AssignmentID     uuid.UUID          `json:"assignment_id"`
	WorkflowID       uuid.UUID          `json:"workflow_id"`
	ReviewerID       string             `json:"reviewer_id"`
	RiskAssessment   *float64           `json:"risk_assessment"`
	ConfidenceScore  *float64           `json:"confidence_score"`
	Findings         []decision.Finding `json:"findings"`
	Recommendation   string             `json:"recommendation"`
	Feedback         string             `json:"detailed_feedback"`
	StartedAt        *time.Time         `json:"started_at"`
	TimeSpentMinutes int                `json:"time_spent_minutes"`
	SubmittedAt      time.Time          `json:"submitted_at"`
}

// Vote is one peer's opinion on a review. One per (review, voter).
type Vote struct {
	ID         uuid.UUID `json:"id"`
	ReviewID   uuid.UUID `json:"review_id"`
	VoterID    string    `json:"voter_id"`
	Value      VoteValue `json:"vote"`
	Confidence *float64  `json:"confidence"`
	Comment    *string   `json:"comment"`
	VotedAt    time.Time `json:"voted_at"`
}

// Decision is a finalized outcome. Re-finalization appends a new record.
type Decision struct {
	ID             uuid.UUID          `json:"id"`
	WorkflowID     uuid.UUID          `json:"workflow_id"`
	Outcome        decision.Outcome   `json:"outcome"`
	ConsensusScore *float64           `json:"consensus_score"`
	Justification  string             `json:"justification"`
	Conditions     []decision.Finding `json:"conditions"`
	DecidedAt      time.Time          `json:"decided_at"`
	DecidedBy      string             `json:"decided_by"`
}

// Reviewer is a reviewer profile used for automatic assignment.
type Reviewer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Institution string    `json:"institution"`
	Expertise   []string  `json:"expertise_areas"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateCommand carries the settings of a new workflow. Nil fields take
// the engine defaults.
type CreateCommand struct {
	DocumentID         string     `json:"document_id"`
	Deadline           *time.Time `json:"deadline,omitempty"`
	ConsensusThreshold *float64   `json:"consensus_threshold,omitempty"`
	MinReviewers       *int       `json:"min_reviewers,omitempty"`
	RequireConsensus   *bool      `json:"require_consensus,omitempty"`
	AllowDiscussion    *bool      `json:"allow_discussion,omitempty"`
	BlindReview        *bool      `json:"blind_review,omitempty"`
	AutoAssign         bool       `json:"auto_assign,omitempty"`
	ExpertiseRequired  []string   `json:"expertise_required,omitempty"`
}

// AssignCommand names the reviewer and role for a manual assignment.
// An empty role assigns RoleReviewer.
type AssignCommand struct {
	ReviewerID string `json:"reviewer_id"`
	Role       Role   `json:"role,omitempty"`
}

// AutoAssignCommand lists the expertise areas candidates are matched against.
type AutoAssignCommand struct {
	ExpertiseRequired []string `json:"expertise_required"`
}

// SubmitCommand carries a reviewer's assessment.
type SubmitCommand struct {
	RiskAssessment   *float64           `json:"risk_assessment"`
	ConfidenceScore  *float64           `json:"confidence_score,omitempty"`
	Findings         []decision.Finding `json:"findings,omitempty"`
	Recommendation   string             `json:"recommendation,omitempty"`
	Feedback         string             `json:"detailed_feedback,omitempty"`
	StartedAt        *time.Time         `json:"started_at,omitempty"`
	TimeSpentMinutes int                `json:"time_spent_minutes,omitempty"`
}

// Validate checks that scores lie in [0,1] and time spent is not negative.
func (c SubmitCommand) Validate() error {
	if !unitInterval(c.RiskAssessment) {
		return fmt.Errorf("%w: risk_assessment must be within [0,1]", ErrInvalidReview)
	}
	if !unitInterval(c.ConfidenceScore) {
		return fmt.Errorf("%w: confidence_score must be within [0,1]", ErrInvalidReview)
	}
	if c.TimeSpentMinutes < 0 {
		return fmt.Errorf("%w: time_spent_minutes must not be negative", ErrInvalidReview)
	}
	return nil
}

// VoteCommand carries a peer vote.
type VoteCommand struct {
	VoterID    string    `json:"voter_id"`
	Value      VoteValue `json:"vote"`
	Confidence *float64  `json:"confidence,omitempty"`
	Comment    *string   `json:"comment,omitempty"`
}

// Validate checks the voter, value, and confidence range.
func (c VoteCommand) Validate() error {
	if c.VoterID == "" {
		return fmt.Errorf("%w: voter_id required", ErrInvalidVote)
	}
	if !c.Value.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidVote, c.Value)
	}
	if !unitInterval(c.Confidence) {
		return fmt.Errorf("%w: confidence must be within [0,1]", ErrInvalidVote)
	}
	return nil
}

// FinalizeCommand identifies the moderator forcing finalization.
type FinalizeCommand struct {
	ModeratorID string `json:"moderator_id"`
}

// ReviewerCommand carries a reviewer profile.
type ReviewerCommand struct {
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Institution string   `json:"institution"`
	Expertise   []string `json:"expertise_areas"`
}

// VoteSummary aggregates the votes cast on a review.
type VoteSummary struct {
	ReviewID      uuid.UUID         `json:"review_id"`
	Total         int               `json:"total_votes"`
	Distribution  map[VoteValue]int `json:"vote_distribution"`
	AgreementRate float64           `json:"agreement_rate"`
	Votes         []Vote            `json:"votes"`
}

// StatusReport summarizes a workflow's progress toward quorum.
type StatusReport struct {
	WorkflowID     uuid.UUID `json:"workflow_id"`
	Status         Status    `json:"status"`
	Assignments    int       `json:"assignments"`
	Accepted       int       `json:"accepted"`
	Declined       int       `json:"declined"`
	Completed      int       `json:"completed"`
	MinReviewers   int       `json:"min_reviewers"`
	QuorumMet      bool      `json:"quorum_met"`
	DeadlinePassed bool      `json:"deadline_passed"`
	LatestDecision *Decision `json:"latest_decision"`
}

// ConsensusReport is the moderator view of agreement among a workflow's reviews.
type ConsensusReport struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	Status     Status    `json:"status"`
	Threshold  float64   `json:"consensus_threshold"`
	Reached    bool      `json:"reached"`
	consensus.Report
}

func unitInterval(v *float64) bool {
	return v == nil || (*v >= 0 && *v <= 1)
}
