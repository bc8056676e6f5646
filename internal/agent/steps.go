package agent

import "regexp"

// StepKind says what a plan step needs from the executor.
type StepKind string

const (
	StepQuery      StepKind = "query"
	StepSynthesize StepKind = "synthesize"
	StepVisualize  StepKind = "visualize"
)

var (
	visualizeWords  = regexp.MustCompile(`(?i)\b(charts?|charting|plot(s|ting|ted)?|draw(s|n|ing)?|visuali[sz](e|es|ed|ing|ation|ations))\b`)
	synthesizeWords = regexp.MustCompile(`(?i)\bsynthesi[sz](e|es|ed|ing)\b`)
)

// ClassifyStep is the single predicate deciding whether a step runs a
// query. Matching is by case-insensitive whole word; visualization wins
// over synthesis when both appear.
func ClassifyStep(instruction string) StepKind {
	if visualizeWords.MatchString(instruction) {
		return StepVisualize
	}
	if synthesizeWords.MatchString(instruction) {
		return StepSynthesize
	}
	return StepQuery
}

// NeedsQuery reports whether the executor must run the attempt loop.
func (k StepKind) NeedsQuery() bool { return k == StepQuery }

// WantsChart reports whether a visualization step is among the plan's
// last two steps.
func WantsChart(plan []string) bool {
	start := len(plan) - 2
	if start < 0 {
		start = 0
	}
	for _, s := range plan[start:] {
		if ClassifyStep(s) == StepVisualize {
			return true
		}
	}
	return false
}
