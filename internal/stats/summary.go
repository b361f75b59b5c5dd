package stats

import (
	"math"
)

// Summary describes a set of comprehensive stats.
type Summary struct {
	People            int     `json:"people"`
	AverageTotal      float64 `json:"averageTotal"`
	MaxTotal          int     `json:"maxTotal"`
	MinTotal          int     `json:"minTotal"`
	AveragePatrol     float64 `json:"averagePatrol"`
	AverageEvaluation float64 `json:"averageEvaluation"`
	AverageActivity   float64 `json:"averageActivity"`
}

// Summarize computes averages rounded to two decimals.
func Summarize(stats []ComprehensiveStat) Summary {
	if len(stats) == 0 {
		return Summary{}
	}

	var patrol, evaluation, activity, total int
	s := Summary{People: len(stats), MaxTotal: stats[0].Total, MinTotal: stats[0].Total}
	for _, st := range stats {
		patrol += st.Patrol
		evaluation += st.Evaluation
		activity += st.Activity
		total += st.Total
		s.MaxTotal = max(s.MaxTotal, st.Total)
		s.MinTotal = min(s.MinTotal, st.Total)
	}

	n := float64(len(stats))
	s.AverageTotal = round2(float64(total) / n)
	s.AveragePatrol = round2(float64(patrol) / n)
	s.AverageEvaluation = round2(float64(evaluation) / n)
	s.AverageActivity = round2(float64(activity) / n)
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
