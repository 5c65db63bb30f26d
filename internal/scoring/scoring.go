// Package scoring ranks candidate reviewers for automatic assignment using a
// fixed linear heuristic over expertise overlap, historical confidence, and
// current workload.
package scoring

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Heuristic weights.
const (
	ExpertiseWeight  = 10.0
	ConfidenceWeight = 5.0
	WorkloadPenalty  = 2.0
)

// DefaultConcurrency bounds concurrent candidate scoring when none is configured.
const DefaultConcurrency = 8

// Candidate is a reviewer considered for assignment.
type Candidate struct {
	ReviewerID string
	Expertise  []string
}

// Ranked is a scored candidate.
type Ranked struct {
	ReviewerID string  `json:"reviewer_id"`
	Score      float64 `json:"score"`
	Overlap    int     `json:"overlap"`
}

// History supplies the per-reviewer facts the heuristic depends on.
type History interface {
	// PastConfidences returns the confidence score of every review the reviewer submitted.
	PastConfidences(ctx context.Context, reviewerID string) ([]*float64, error)
	// ActiveAssignments counts the reviewer's incomplete assignments across all workflows.
	ActiveAssignments(ctx context.Context, reviewerID string) (int, error)
}

// System scores and ranks reviewer candidates.
type System interface {
	Score(ctx context.Context, c Candidate, required []string) (Ranked, error)
	Rank(ctx context.Context, candidates []Candidate, required []string) ([]Ranked, error)
}

type service struct {
	history     History
	concurrency int
	logger      *slog.Logger
}

// New creates a scoring System backed by history. A non-positive
// concurrency falls back to DefaultConcurrency.
func New(history History, concurrency int, logger *slog.Logger) System {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &service{
		history:     history,
		concurrency: concurrency,
		logger:      logger.With("system", "scoring"),
	}
}

// Compute applies the heuristic.
func Compute(overlap int, avgConfidence float64, active int) float64 {
	return ExpertiseWeight*float64(overlap) +
		ConfidenceWeight*avgConfidence -
		WorkloadPenalty*float64(active)
}

// Overlap counts the distinct required areas present in expertise.
func Overlap(expertise, required []string) int {
	have := make(map[string]struct{}, len(expertise))
	for _, e := range expertise {
		have[e] = struct{}{}
	}

	seen := make(map[string]struct{}, len(required))
	n := 0
	for _, r := range required {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		if _, ok := have[r]; ok {
			n++
		}
	}
	return n
}

// AverageConfidence averages past confidence scores, counting missing values as 0.
// No history averages to 0.
func AverageConfidence(confidences []*float64) float64 {
	if len(confidences) == 0 {
		return 0
	}
	var sum float64
	for _, c := range confidences {
		if c != nil {
			sum += *c
		}
	}
	return sum / float64(len(confidences))
}

// Eligible reports whether a candidate may be auto-assigned. With no required
// expertise every candidate is eligible.
func Eligible(c Candidate, required []string) bool {
	return len(required) == 0 || Overlap(c.Expertise, required) > 0
}

func (s *service) Score(ctx context.Context, c Candidate, required []string) (Ranked, error) {
	confidences, err := s.history.PastConfidences(ctx, c.ReviewerID)
	if err != nil {
		return Ranked{}, fmt.Errorf("load review history for %s: %w", c.ReviewerID, err)
	}

	active, err := s.history.ActiveAssignments(ctx, c.ReviewerID)
	if err != nil {
		return Ranked{}, fmt.Errorf("count active assignments for %s: %w", c.ReviewerID, err)
	}

	overlap := Overlap(c.Expertise, required)
	return Ranked{
		ReviewerID: c.ReviewerID,
		Score:      Compute(overlap, AverageConfidence(confidences), active),
		Overlap:    overlap,
	}, nil
}

// Rank scores every eligible candidate concurrently and orders them by
// descending score, breaking ties by ascending reviewer id.
func (s *service) Rank(ctx context.Context, candidates []Candidate, required []string) ([]Ranked, error) {
	eligible := slices.DeleteFunc(slices.Clone(candidates), func(c Candidate) bool {
		return !Eligible(c, required)
	})

	ranked := make([]Ranked, len(eligible))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, c := range eligible {
		g.Go(func() error {
			r, err := s.Score(gctx, c, required)
			if err != nil {
				return err
			}
			ranked[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(ranked, func(a, b Ranked) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ReviewerID, b.ReviewerID)
	})

	s.logger.Debug(
		"candidates ranked",
		"candidates", len(candidates),
		"eligible", len(eligible),
	)

	return ranked, nil
}
