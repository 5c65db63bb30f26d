// Package consensus aggregates independent reviewer risk assessments into
// agreement measures. It computes the variance-based consensus score that gates
// workflow transitions, a confidence-weighted variant for reporting, and the
// outlier reviews surfaced to moderators.
package consensus

import (
	"math"
	"slices"

	"github.com/google/uuid"
)

const (
	// VarianceCeiling is the population variance at which consensus reaches zero.
	VarianceCeiling = 0.25
	// MaxDeviation normalizes the weighted mean absolute deviation.
	MaxDeviation = 1.0
	// OutlierThreshold is the absolute z-score above which a review is an outlier.
	OutlierThreshold = 2.0
	// MinOutlierSample is the number of scored reviews required for outlier detection.
	MinOutlierSample = 3
	// DefaultConfidence weights a review that carries no confidence score.
	DefaultConfidence = 0.5
)

// Assessment is the consensus-relevant projection of a submitted review.
type Assessment struct {
	ReviewID       uuid.UUID `json:"review_id"`
	ReviewerID     string    `json:"reviewer_id"`
	Risk           *float64  `json:"risk_assessment"`
	Confidence     *float64  `json:"confidence_score"`
	Recommendation string    `json:"recommendation"`
}

// Weighted is the confidence-weighted consensus used for reporting.
type Weighted struct {
	ConsensusRisk  float64 `json:"consensus_risk"`
	AgreementLevel float64 `json:"agreement_level"`
	Confidence     float64 `json:"confidence"`
	Reviews        int     `json:"num_reviews"`
}

// Outlier is a review whose risk deviates from the group mean by more than
// OutlierThreshold standard deviations.
type Outlier struct {
	ReviewID   uuid.UUID `json:"review_id"`
	ReviewerID string    `json:"reviewer_id"`
	Risk       float64   `json:"risk_assessment"`
	Deviation  float64   `json:"deviation"`
	ZScore     float64   `json:"z_score"`
}

// Report bundles every consensus measure for one set of reviews.
type Report struct {
	Score    float64   `json:"consensus_score"`
	Weighted Weighted  `json:"weighted"`
	Outliers []Outlier `json:"outliers"`
	Reviews  int       `json:"reviews"`
}

// Analyze computes the full consensus report.
func Analyze(assessments []Assessment) Report {
	return Report{
		Score:    Score(assessments),
		Weighted: Weigh(assessments),
		Outliers: Outliers(assessments),
		Reviews:  len(assessments),
	}
}

// Score returns the consensus score in [0,1] that gates the workflow state machine.
//
// An empty set scores 0. Fewer than two scored reviews are in full agreement.
// When any review carries a recommendation, the variance term is averaged with
// the reciprocal of the number of distinct recommendations.
func Score(assessments []Assessment) float64 {
	if len(assessments) == 0 {
		return 0
	}

	risks := Risks(assessments)
	if len(risks) < 2 {
		return 1
	}

	score := VarianceScore(risks)

	distinct := make(map[string]struct{})
	for _, a := range assessments {
		if a.Recommendation != "" {
			distinct[a.Recommendation] = struct{}{}
		}
	}
	if len(distinct) > 0 {
		score = (score + 1/float64(len(distinct))) / 2
	}

	return score
}

// VarianceScore maps the population variance of risks onto [0,1].
func VarianceScore(risks []float64) float64 {
	_, variance := moments(risks)
	return math.Max(0, 1-variance/VarianceCeiling)
}

// Weigh computes the confidence-weighted consensus over scored reviews.
// A missing confidence counts as DefaultConfidence. Returns the zero value
// when no review is scored or the total weight is zero.
func Weigh(assessments []Assessment) Weighted {
	var (
		scored      []Assessment
		totalWeight float64
		weightedSum float64
	)

	for _, a := range assessments {
		if a.Risk == nil {
			continue
		}
		w := weight(a)
		scored = append(scored, a)
		totalWeight += w
		weightedSum += *a.Risk * w
	}

	if len(scored) == 0 || totalWeight == 0 {
		return Weighted{}
	}

	avg := weightedSum / totalWeight

	var deviation float64
	for _, a := range scored {
		deviation += math.Abs(*a.Risk-avg) * weight(a)
	}

	n := float64(len(scored))
	return Weighted{
		ConsensusRisk:  avg,
		AgreementLevel: 1 - (deviation/n)/MaxDeviation,
		Confidence:     totalWeight / n,
		Reviews:        len(scored),
	}
}

// Outliers flags scored reviews with |z| > OutlierThreshold, ordered by
// descending |z|. Fewer than MinOutlierSample scored reviews yield none.
func Outliers(assessments []Assessment) []Outlier {
	risks := Risks(assessments)
	if len(risks) < MinOutlierSample {
		return []Outlier{}
	}

	mean, variance := moments(risks)
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		stdDev = 1
	}

	outliers := []Outlier{}
	for _, a := range assessments {
		if a.Risk == nil {
			continue
		}
		z := (*a.Risk - mean) / stdDev
		if math.Abs(z) > OutlierThreshold {
			outliers = append(outliers, Outlier{
				ReviewID:   a.ReviewID,
				ReviewerID: a.ReviewerID,
				Risk:       *a.Risk,
				Deviation:  *a.Risk - mean,
				ZScore:     z,
			})
		}
	}

	slices.SortStableFunc(outliers, func(a, b Outlier) int {
		za, zb := math.Abs(a.ZScore), math.Abs(b.ZScore)
		switch {
		case za > zb:
			return -1
		case za < zb:
			return 1
		}
		return 0
	})

	return outliers
}

// Risks returns the non-null risk assessments in input order.
func Risks(assessments []Assessment) []float64 {
	risks := make([]float64, 0, len(assessments))
	for _, a := range assessments {
		if a.Risk != nil {
			risks = append(risks, *a.Risk)
		}
	}
	return risks
}

func weight(a Assessment) float64 {
	if a.Confidence == nil {
		return DefaultConfidence
	}
	return *a.Confidence
}

func moments(values []float64) (mean, variance float64) {
	if len(values) == 0 {
		return 0, 0
	}

	n := float64(len(values))
	for _, v := range values {
		mean += v
	}
	mean /= n

	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return mean, variance / n
}
