package perf

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Report is a validated assessment with an overall score and actionable
// recommendations for the failed dimensions.
type Report struct {
	Assessment      Assessment
	Score           float64 // 0-100, proportion of dimensions passed
	Recommendations []string
}

// Passed reports whether every dimension met its target.
func (r *Report) Passed() bool {
	return r.Assessment.AllPassed
}

// Validate assesses a sample and turns the result into a report. Each of
// the four dimensions contributes equally to the score.
func Validate(sample Sample, table TargetTable) Report {
	a := Assess(sample, table)

	passed := 0
	for _, d := range a.Dimensions() {
		if d.Passed {
			passed++
		}
	}

	return Report{
		Assessment:      a,
		Score:           float64(passed) / 4 * 100,
		Recommendations: recommend(a),
	}
}

// recommend maps each failed dimension to a concrete remediation.
func recommend(a Assessment) []string {
	var recs []string
	if !a.Rate.Passed {
		recs = append(recs, fmt.Sprintf(
			"synthesis rate %.1f wps is below the %.1f wps floor for %s text; prefer a faster adapter or reduce concurrent load",
			a.Rate.Measured, a.Rate.Target, a.Category))
	}
	if !a.Response.Passed {
		recs = append(recs, fmt.Sprintf(
			"response time %.1fs exceeds the %.1fs ceiling for %s text; split the input into smaller segments or raise the adapter's priority in the fallback chain",
			a.Response.Measured, a.Response.Target, a.Category))
	}
	if !a.Memory.Passed {
		recs = append(recs, fmt.Sprintf(
			"memory use %s exceeds the %s ceiling for %s text; stream output to disk instead of buffering whole chapters",
			humanize.Bytes(uint64(a.Memory.Measured)), humanize.Bytes(uint64(a.Memory.Target)), a.Category))
	}
	if !a.Quality.Passed {
		recs = append(recs, fmt.Sprintf(
			"quality score %.0f is below the %.0f floor for %s text; switch to an adapter with a higher quality rating",
			a.Quality.Measured, a.Quality.Target, a.Category))
	}
	return recs
}
