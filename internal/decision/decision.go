// Package decision maps aggregated review results to a final outcome and
// composes the human-readable justification recorded with it.
package decision

import (
	"errors"
	"fmt"
	"strings"
)

// Outcome is the final disposition of a workflow.
type Outcome string

const (
	Approve         Outcome = "approve"
	RequestRevision Outcome = "request_revision"
	Reject          Outcome = "reject"
)

const (
	// RejectThreshold is the inclusive average risk at which a document is rejected.
	RejectThreshold = 0.7
	// RevisionThreshold is the inclusive average risk at which revision is requested.
	RevisionThreshold = 0.4
	// MaxListedIssues caps the common issues written into a justification.
	MaxListedIssues = 5
)

// ErrInsufficientData indicates no review carried a risk assessment.
var ErrInsufficientData = errors.New("no risk assessments available")

// Finding is one issue raised by a reviewer.
type Finding struct {
	Description string  `json:"description"`
	Severity    *string `json:"severity,omitempty"`
}

// Input is the decision-relevant projection of a submitted review.
type Input struct {
	Risk           *float64
	Findings       []Finding
	Recommendation string
}

// Findings partitions every raised finding into those shared by at least
// half of the reviews and the rest.
type Findings struct {
	Common []Finding `json:"common_issues"`
	Unique []Finding `json:"unique_issues"`
}

// Verdict is the result of evaluating a set of reviews.
type Verdict struct {
	Outcome       Outcome   `json:"outcome"`
	AverageRisk   float64   `json:"average_risk"`
	MinRisk       float64   `json:"min_risk"`
	MaxRisk       float64   `json:"max_risk"`
	Justification string    `json:"justification"`
	Conditions    []Finding `json:"conditions"`
	Findings      Findings  `json:"findings"`
}

// Classify maps an average risk onto an outcome. Lower bounds are inclusive.
func Classify(avgRisk float64) Outcome {
	switch {
	case avgRisk >= RejectThreshold:
		return Reject
	case avgRisk >= RevisionThreshold:
		return RequestRevision
	default:
		return Approve
	}
}

// Evaluate computes the outcome, justification, and conditions for a set of reviews.
// Returns ErrInsufficientData when no review has a risk assessment.
func Evaluate(inputs []Input) (*Verdict, error) {
	var (
		sum    float64
		scored int
		lo, hi float64
	)

	for _, in := range inputs {
		if in.Risk == nil {
			continue
		}
		r := *in.Risk
		if scored == 0 || r < lo {
			lo = r
		}
		if scored == 0 || r > hi {
			hi = r
		}
		sum += r
		scored++
	}

	if scored == 0 {
		return nil, ErrInsufficientData
	}

	avg := sum / float64(scored)
	findings := Aggregate(inputs)
	outcome := Classify(avg)

	conditions := []Finding{}
	if outcome == RequestRevision {
		conditions = append(conditions, findings.Common...)
	}

	return &Verdict{
		Outcome:       outcome,
		AverageRisk:   avg,
		MinRisk:       lo,
		MaxRisk:       hi,
		Justification: justify(inputs, avg, lo, hi, findings),
		Conditions:    conditions,
		Findings:      findings,
	}, nil
}

// Aggregate counts structurally equal findings across all reviews.
// A finding raised at least len(inputs)/2 times is common. Both lists keep
// first-seen order.
func Aggregate(inputs []Input) Findings {
	type key struct {
		description string
		severity    string
		hasSeverity bool
	}

	counts := make(map[key]int)
	var order []Finding
	var keys []key

	for _, in := range inputs {
		for _, f := range in.Findings {
			k := key{description: f.Description}
			if f.Severity != nil {
				k.severity = *f.Severity
				k.hasSeverity = true
			}
			if _, seen := counts[k]; !seen {
				order = append(order, f)
				keys = append(keys, k)
			}
			counts[k]++
		}
	}

	result := Findings{Common: []Finding{}, Unique: []Finding{}}
	half := float64(len(inputs)) / 2

	for i, f := range order {
		if float64(counts[keys[i]]) >= half {
			result.Common = append(result.Common, f)
		} else {
			result.Unique = append(result.Unique, f)
		}
	}

	return result
}

func justify(inputs []Input, avg, lo, hi float64, findings Findings) string {
	var b strings.Builder

	b.WriteString("Based on the review panel's assessment:\n\n")
	fmt.Fprintf(&b, "- Average risk score: %s\n", percent(avg))
	fmt.Fprintf(&b, "- Risk range: %s - %s\n\n", percent(lo), percent(hi))

	if len(findings.Common) > 0 {
		b.WriteString("Common concerns identified by multiple reviewers:\n")
		for _, f := range findings.Common[:min(len(findings.Common), MaxListedIssues)] {
			desc := f.Description
			if desc == "" {
				desc = "Issue"
			}
			fmt.Fprintf(&b, "- %s\n", desc)
		}
		b.WriteString("\n")
	}

	if n := len(findings.Unique); n > 0 {
		fmt.Fprintf(&b, "Additional concerns raised by individual reviewers: %d\n\n", n)
	}

	counts := make(map[string]int)
	var labels []string
	for _, in := range inputs {
		if in.Recommendation == "" {
			continue
		}
		if _, seen := counts[in.Recommendation]; !seen {
			labels = append(labels, in.Recommendation)
		}
		counts[in.Recommendation]++
	}

	if len(labels) > 0 {
		b.WriteString("Reviewer recommendations:\n")
		for _, label := range labels {
			fmt.Fprintf(&b, "- %s: %d/%d reviewers\n", label, counts[label], len(inputs))
		}
	}

	return b.String()
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}
