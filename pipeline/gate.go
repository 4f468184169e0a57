package pipeline

import (
	"fmt"

	"github.com/signalpress/signalpress/config"
)

// Scores are the quality dimensions the gate evaluates
type Scores struct {
	EditorialQuality    float64 `json:"editorial_quality"`
	Uniqueness          float64 `json:"uniqueness"`
	Coherence           float64 `json:"coherence"`
	SynthesisConfidence float64 `json:"synthesis_confidence"`
}

// Verdict is the gate's decision. Failures names every dimension that fell
// below its threshold, so reviewers see exactly why a draft was held.
type Verdict struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures"`
}

// Evaluate applies the quality gate. Pure and deterministic: the same
// scores and thresholds always produce the same verdict.
func Evaluate(scores Scores, cfg config.GateConfig) Verdict {
	var failures []string

	check := func(name string, value, min float64) {
		if value < min {
			failures = append(failures, fmt.Sprintf("%s %.2f < %.2f", name, value, min))
		}
	}

	check("editorial_quality", scores.EditorialQuality, cfg.MinEditorialQuality)
	check("uniqueness", scores.Uniqueness, cfg.MinUniqueness)
	check("coherence", scores.Coherence, cfg.MinCoherence)
	check("synthesis_confidence", scores.SynthesisConfidence, cfg.MinSynthesisConfidence)

	return Verdict{Passed: len(failures) == 0, Failures: failures}
}
