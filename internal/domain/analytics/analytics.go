// Package analytics derives dashboard aggregates from runs and step logs.
// Nothing here is persisted; summaries are recomputed on every read.
package analytics

import (
	"math"

	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
)

// Summary is the aggregate returned by the repository.
type Summary struct {
	TotalRuns         int                      `json:"totalRuns"`
	SuccessRate       float64                  `json:"successRate"`
	AverageRuntimeMs  float64                  `json:"averageRuntimeMs"`
	RunsByTone        map[run.Tone]int         `json:"runsByTone"`
	RunsByCategory    map[run.Category]int     `json:"runsByCategory"`
	StepFailureCounts map[steplog.StepName]int `json:"stepFailureCounts"`
}

// Compute scans runs and logs. Success rate is the share of runs in posted or
// review_ready, as a percentage rounded to two decimals. Average runtime is
// the mean FinishedAt-StartedAt over runs where both are set.
func Compute(runs []run.Run, logs []steplog.Log) Summary {
	s := Summary{
		TotalRuns:         len(runs),
		RunsByTone:        map[run.Tone]int{},
		RunsByCategory:    map[run.Category]int{},
		StepFailureCounts: map[steplog.StepName]int{},
	}

	var succeeded, timed int
	var totalMs float64
	for i := range runs {
		r := &runs[i]
		if run.IsSuccess(r.Status) {
			succeeded++
		}
		if d, ok := r.Runtime(); ok {
			totalMs += float64(d.Milliseconds())
			timed++
		}
		s.RunsByTone[r.Tone]++
		s.RunsByCategory[r.Category]++
	}

	for i := range logs {
		if logs[i].Status == steplog.StatusFailed {
			s.StepFailureCounts[logs[i].StepName]++
		}
	}

	if s.TotalRuns > 0 {
		s.SuccessRate = round2(float64(succeeded) / float64(s.TotalRuns) * 100)
	}
	if timed > 0 {
		s.AverageRuntimeMs = totalMs / float64(timed)
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
