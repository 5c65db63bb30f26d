package workflows

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/concord/pkg/pagination"
	"github.com/JaimeStill/concord/pkg/query"
)

type memoryStore struct {
	mu          sync.RWMutex
	workflows   map[uuid.UUID]*Workflow
	order       []uuid.UUID
	assignments map[uuid.UUID]*Assignment
	byWorkflow  map[uuid.UUID][]uuid.UUID
	reviews     map[uuid.UUID]*Review
	reviewOrder []uuid.UUID
	decisions   map[uuid.UUID][]Decision
	votes       map[uuid.UUID][]*Vote
	reviewers   map[string]*Reviewer
}

// NewMemoryStore creates a Store held entirely in process memory.
func NewMemoryStore() Store {
	return &memoryStore{
		workflows:   make(map[uuid.UUID]*Workflow),
		assignments: make(map[uuid.UUID]*Assignment),
		byWorkflow:  make(map[uuid.UUID][]uuid.UUID),
		reviews:     make(map[uuid.UUID]*Review),
		decisions:   make(map[uuid.UUID][]Decision),
		votes:       make(map[uuid.UUID][]*Vote),
		reviewers:   make(map[string]*Reviewer),
	}
}

func (m *memoryStore) CreateWorkflow(_ context.Context, w *Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *w
	m.workflows[w.ID] = &c
	m.order = append(m.order, w.ID)
	return nil
}

func (m *memoryStore) GetWorkflow(_ context.Context, id uuid.UUID) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	c := *w
	return &c, nil
}

func (m *memoryStore) ListWorkflows(
	_ context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Workflow], error) {
	m.mu.RLock()
	var matched []Workflow
	for _, id := range m.order {
		w := m.workflows[id]
		if !filters.Matches(w) {
			continue
		}
		if page.Search != nil && !strings.Contains(strings.ToLower(w.DocumentID), strings.ToLower(*page.Search)) {
			continue
		}
		matched = append(matched, *w)
	}
	m.mu.RUnlock()

	pagination.Sort(matched, page.Sort, []query.SortField{defaultSort}, compareWorkflows)

	result := pagination.Paginate(matched, page)
	return &result, nil
}

func compareWorkflows(a, b *Workflow, field string) int {
	switch projection.Field(field) {
	case "CreatedAt":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "UpdatedAt":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case "Status":
		return cmp.Compare(a.Status, b.Status)
	case "DocumentID":
		return cmp.Compare(a.DocumentID, b.DocumentID)
	case "MinReviewers":
		return cmp.Compare(a.MinReviewers, b.MinReviewers)
	}
	return 0
}

func (m *memoryStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workflows[id]
	if !ok {
		return ErrWorkflowNotFound
	}
	if w.Status != from {
		return ErrInvalidTransition
	}
	w.Status = to
	w.UpdatedAt = at
	return nil
}

func (m *memoryStore) DueDeadlines(_ context.Context, now time.Time) ([]Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := []Workflow{}
	for _, id := range m.order {
		w := m.workflows[id]
		if w.Deadline == nil || w.DeadlineNotifiedAt != nil || w.Status.Terminal() {
			continue
		}
		if !w.Deadline.After(now) {
			due = append(due, *w)
		}
	}
	return due, nil
}

func (m *memoryStore) MarkDeadlineNotified(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workflows[id]
	if !ok {
		return false, ErrWorkflowNotFound
	}
	if w.DeadlineNotifiedAt != nil {
		return false, nil
	}
	w.DeadlineNotifiedAt = &at
	return true, nil
}

func (m *memoryStore) CreateAssignment(_ context.Context, a *Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[a.WorkflowID]; !ok {
		return ErrWorkflowNotFound
	}
	for _, id := range m.byWorkflow[a.WorkflowID] {
		if m.assignments[id].ReviewerID == a.ReviewerID {
			return ErrDuplicateAssignment
		}
	}

	c := *a
	m.assignments[a.ID] = &c
	m.byWorkflow[a.WorkflowID] = append(m.byWorkflow[a.WorkflowID], a.ID)
	return nil
}

func (m *memoryStore) GetAssignment(_ context.Context, id uuid.UUID) (*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assignments[id]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	c := *a
	return &c, nil
}

func (m *memoryStore) ListAssignments(_ context.Context, workflowID uuid.UUID) ([]Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Assignment, 0, len(m.byWorkflow[workflowID]))
	for _, id := range m.byWorkflow[workflowID] {
		out = append(out, *m.assignments[id])
	}
	return out, nil
}

func (m *memoryStore) RespondAssignment(_ context.Context, id uuid.UUID, accepted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[id]
	if !ok {
		return ErrAssignmentNotFound
	}
	if a.Accepted != nil {
		return ErrAlreadyResponded
	}
	a.Accepted = &accepted
	return nil
}

func (m *memoryStore) CountCompleted(_ context.Context, workflowID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, id := range m.byWorkflow[workflowID] {
		if m.assignments[id].Completed {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) SubmitReview(_ context.Context, r *Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[r.AssignmentID]
	if !ok {
		return ErrAssignmentNotFound
	}
	if a.Completed {
		return ErrAlreadySubmitted
	}

	a.Completed = true
	c := cloneReview(r)
	m.reviews[r.ID] = &c
	m.reviewOrder = append(m.reviewOrder, r.ID)
	return nil
}

func (m *memoryStore) GetReview(_ context.Context, id uuid.UUID) (*Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reviews[id]
	if !ok {
		return nil, ErrReviewNotFound
	}
	c := cloneReview(r)
	return &c, nil
}

func (m *memoryStore) ListReviews(_ context.Context, workflowID uuid.UUID) ([]Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Review{}
	for _, id := range m.reviewOrder {
		if r := m.reviews[id]; r.WorkflowID == workflowID {
			out = append(out, cloneReview(r))
		}
	}
	return out, nil
}

func (m *memoryStore) Conclude(_ context.Context, d *Decision, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workflows[d.WorkflowID]
	if !ok {
		return ErrWorkflowNotFound
	}
	if w.Status != from {
		return ErrInvalidTransition
	}
	if from != to {
		w.Status = to
		w.UpdatedAt = d.DecidedAt
	}

	c := *d
	c.Conditions = slices.Clone(d.Conditions)
	m.decisions[d.WorkflowID] = append(m.decisions[d.WorkflowID], c)
	return nil
}

func (m *memoryStore) ListDecisions(_ context.Context, workflowID uuid.UUID) ([]Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Decision, 0, len(m.decisions[workflowID]))
	for _, d := range m.decisions[workflowID] {
		d.Conditions = slices.Clone(d.Conditions)
		out = append(out, d)
	}
	return out, nil
}

func (m *memoryStore) UpsertVote(_ context.Context, v *Vote) (*Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reviews[v.ReviewID]; !ok {
		return nil, ErrReviewNotFound
	}

	for _, existing := range m.votes[v.ReviewID] {
		if existing.VoterID == v.VoterID {
			existing.Value = v.Value
			existing.Confidence = v.Confidence
			existing.Comment = v.Comment
			existing.VotedAt = v.VotedAt
			c := *existing
			return &c, nil
		}
	}

	c := *v
	m.votes[v.ReviewID] = append(m.votes[v.ReviewID], &c)
	out := c
	return &out, nil
}

func (m *memoryStore) ListVotes(_ context.Context, reviewID uuid.UUID) ([]Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Vote, 0, len(m.votes[reviewID]))
	for _, v := range m.votes[reviewID] {
		out = append(out, *v)
	}
	return out, nil
}

func (m *memoryStore) SaveReviewer(_ context.Context, r *Reviewer) (*Reviewer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *r
	c.Expertise = slices.Clone(r.Expertise)
	if existing, ok := m.reviewers[r.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	m.reviewers[r.ID] = &c

	out := c
	out.Expertise = slices.Clone(c.Expertise)
	return &out, nil
}

func (m *memoryStore) GetReviewer(_ context.Context, id string) (*Reviewer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reviewers[id]
	if !ok {
		return nil, ErrReviewerNotFound
	}
	c := *r
	c.Expertise = slices.Clone(r.Expertise)
	return &c, nil
}

func (m *memoryStore) ListReviewers(_ context.Context) ([]Reviewer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Reviewer, 0, len(m.reviewers))
	for _, r := range m.reviewers {
		c := *r
		c.Expertise = slices.Clone(r.Expertise)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Reviewer) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *memoryStore) PastConfidences(_ context.Context, reviewerID string) ([]*float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*float64{}
	for _, id := range m.reviewOrder {
		if r := m.reviews[id]; r.ReviewerID == reviewerID {
			out = append(out, r.ConfidenceScore)
		}
	}
	return out, nil
}

func (m *memoryStore) ActiveAssignments(_ context.Context, reviewerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, a := range m.assignments {
		if a.ReviewerID == reviewerID && !a.Completed {
			n++
		}
	}
	return n, nil
}

func cloneReview(r *Review) Review {
	c := *r
	c.Findings = slices.Clone(r.Findings)
	return c
}
