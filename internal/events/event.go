// Package events defines the notifications the review engine emits and the
// asynchronous dispatcher that delivers them to configured sinks.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Type identifies the kind of event.
type Type string

const (
	WorkflowCreated      Type = "workflow.created"
	ReviewInvitationSent Type = "review.invitation_sent"
	ReviewSubmitted      Type = "review.submitted"
	DiscussionStarted    Type = "discussion.started"
	DecisionMade         Type = "decision.made"
	DeadlinePassed       Type = "workflow.deadline_passed"
	StatusChanged        Type = "workflow.status_changed"
)

// Event is a structured notification about a workflow.
type Event struct {
	ID           uuid.UUID      `json:"id"`
	Type         Type           `json:"type"`
	WorkflowID   uuid.UUID      `json:"workflow_id"`
	AssignmentID *uuid.UUID     `json:"assignment_id,omitempty"`
	ReviewID     *uuid.UUID     `json:"review_id,omitempty"`
	DecisionID   *uuid.UUID     `json:"decision_id,omitempty"`
	ReviewerID   string         `json:"reviewer_id,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
	Payload      any            `json:"payload,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// New creates an event of type t for a workflow, stamped with the current time.
func New(t Type, workflowID uuid.UUID) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		WorkflowID: workflowID,
		OccurredAt: time.Now().UTC(),
	}
}

// WithAssignment sets the assignment and reviewer the event concerns.
func (e Event) WithAssignment(id uuid.UUID, reviewerID string) Event {
	e.AssignmentID = &id
	e.ReviewerID = reviewerID
	return e
}

// WithReview sets the review the event concerns.
func (e Event) WithReview(id uuid.UUID) Event {
	e.ReviewID = &id
	return e
}

// WithDecision sets the decision the event concerns and attaches it as payload.
func (e Event) WithDecision(id uuid.UUID, payload any) Event {
	e.DecisionID = &id
	e.Payload = payload
	return e
}

// With adds a detail entry.
func (e Event) With(key string, value any) Event {
	detail := make(map[string]any, len(e.Detail)+1)
	for k, v := range e.Detail {
		detail[k] = v
	}
	detail[key] = value
	e.Detail = detail
	return e
}

// Encode serializes the event as JSON.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Emitter accepts events for delivery. Emit never blocks on delivery.
type Emitter interface {
	Emit(ctx context.Context, events ...Event)
}

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}
