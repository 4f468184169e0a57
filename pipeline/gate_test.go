package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalpress/signalpress/config"
)

func gateConfig() config.GateConfig {
	return config.GateConfig{
		MinEditorialQuality:    0.7,
		MinUniqueness:          0.8,
		MinCoherence:           0.6,
		MinSynthesisConfidence: 0.7,
	}
}

func TestEvaluatePassesAtThresholds(t *testing.T) {
	verdict := Evaluate(Scores{
		EditorialQuality:    0.7,
		Uniqueness:          0.8,
		Coherence:           0.6,
		SynthesisConfidence: 0.7,
	}, gateConfig())

	assert.True(t, verdict.Passed)
	assert.Empty(t, verdict.Failures)
}

func TestEvaluateHoldsSubthresholdEditorialQuality(t *testing.T) {
	verdict := Evaluate(Scores{
		EditorialQuality:    0.65,
		Uniqueness:          0.9,
		Coherence:           0.8,
		SynthesisConfidence: 0.9,
	}, gateConfig())

	assert.False(t, verdict.Passed)
	require.Len(t, verdict.Failures, 1)
	assert.Contains(t, verdict.Failures[0], "editorial_quality")
}

func TestEvaluateReportsEveryFailingDimension(t *testing.T) {
	verdict := Evaluate(Scores{
		EditorialQuality:    0.1,
		Uniqueness:          0.1,
		Coherence:           0.1,
		SynthesisConfidence: 0.1,
	}, gateConfig())

	assert.False(t, verdict.Passed)
	assert.Len(t, verdict.Failures, 4)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	scores := Scores{
		EditorialQuality:    0.72,
		Uniqueness:          0.79,
		Coherence:           0.61,
		SynthesisConfidence: 0.71,
	}
	first := Evaluate(scores, gateConfig())
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(scores, gateConfig()))
	}
}
