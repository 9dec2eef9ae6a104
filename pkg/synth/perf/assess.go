package perf

import (
	"fmt"
	"time"
)

// Sample is one measured synthesis run fed to the assessor. Quality is a
// 0-100 judgment of the produced audio; callers without a quality signal
// pass the adapter's advertised quality score.
type Sample struct {
	Words         int
	SynthesisTime time.Duration
	Memory        int64
	Quality       float64
	Category      Category
}

// DimensionResult is the pass/fail outcome of one assessed dimension.
// Variance is the signed deviation from target in percent; positive means
// better than target for every dimension.
type DimensionResult struct {
	Name     string
	Measured float64
	Target   float64
	Passed   bool
	Variance float64
}

// Assessment is the four-dimension verdict for one sample.
type Assessment struct {
	Category   Category
	Rate       DimensionResult
	Response   DimensionResult
	Memory     DimensionResult
	Quality    DimensionResult
	AllPassed  bool
	AssessedAt time.Time
}

// Dimensions returns the four results in a fixed order for iteration.
func (a *Assessment) Dimensions() []DimensionResult {
	return []DimensionResult{a.Rate, a.Response, a.Memory, a.Quality}
}

// Assess scores one sample against the targets for its category. An
// unknown category falls back to the sample's word count.
func Assess(sample Sample, table TargetTable) Assessment {
	cat := sample.Category
	t, ok := table[cat]
	if !ok {
		cat = CategoryForWords(sample.Words)
		t = table[cat]
	}

	rate := 0.0
	if sample.SynthesisTime > 0 {
		rate = float64(sample.Words) / sample.SynthesisTime.Seconds()
	}

	a := Assessment{
		Category:   cat,
		Rate:       floorDimension("synthesis_rate", rate, t.MinRate),
		Response:   ceilingDimension("response_time", sample.SynthesisTime.Seconds(), t.MaxResponseTime.Seconds()),
		Memory:     ceilingDimension("memory", float64(sample.Memory), float64(t.MaxMemory)),
		Quality:    floorDimension("quality", sample.Quality, t.MinQuality),
		AssessedAt: time.Now(),
	}
	a.AllPassed = a.Rate.Passed && a.Response.Passed && a.Memory.Passed && a.Quality.Passed
	return a
}

// floorDimension passes when measured >= target. Positive variance means
// above the floor.
func floorDimension(name string, measured, target float64) DimensionResult {
	d := DimensionResult{
		Name:     name,
		Measured: measured,
		Target:   target,
		Passed:   measured >= target,
	}
	if target != 0 {
		d.Variance = (measured - target) / target * 100
	}
	return d
}

// ceilingDimension passes when measured <= target. Positive variance means
// under the ceiling.
func ceilingDimension(name string, measured, target float64) DimensionResult {
	d := DimensionResult{
		Name:     name,
		Measured: measured,
		Target:   target,
		Passed:   measured <= target,
	}
	if target != 0 {
		d.Variance = (target - measured) / target * 100
	}
	return d
}

// Summary renders one line per dimension, suitable for logs.
func (a *Assessment) Summary() []string {
	out := make([]string, 0, 4)
	for _, d := range a.Dimensions() {
		verdict := "pass"
		if !d.Passed {
			verdict = "fail"
		}
		out = append(out, fmt.Sprintf("%s: %s (measured %.2f, target %.2f, variance %+.1f%%)",
			d.Name, verdict, d.Measured, d.Target, d.Variance))
	}
	return out
}
