package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalpress/signalpress/articles"
)

func analyzedItem(id string, signal, uniq, conf float64, validation string) articles.Analyzed {
	return articles.Analyzed{
		Article: articles.Article{ID: id, Title: "Article " + id},
		Analysis: articles.AnalysisResult{
			ArticleID:        id,
			SignalStrength:   signal,
			Uniqueness:       uniq,
			Confidence:       conf,
			ValidationStatus: validation,
		},
	}
}

func TestFilterAndRankAppliesThresholds(t *testing.T) {
	cfg := selectionConfig()
	input := []articles.Analyzed{
		analyzedItem("pass", 0.8, 0.8, 0.8, articles.ValidationNotRequired),
		analyzedItem("weak-signal", 0.5, 0.9, 0.9, articles.ValidationNotRequired),
		analyzedItem("weak-uniq", 0.9, 0.6, 0.9, articles.ValidationNotRequired),
		analyzedItem("weak-conf", 0.9, 0.9, 0.5, articles.ValidationNotRequired),
		analyzedItem("refuted", 0.9, 0.9, 0.9, articles.ValidationFailed),
	}

	ranked := FilterAndRank(input, cfg)
	require.Len(t, ranked, 1)
	assert.Equal(t, "pass", ranked[0].ArticleID)
}

func TestFilterAndRankOrdersByCompositeScore(t *testing.T) {
	cfg := selectionConfig()
	input := []articles.Analyzed{
		analyzedItem("mid", 0.7, 0.8, 0.8, ""),
		analyzedItem("top", 0.95, 0.9, 0.9, ""),
		analyzedItem("low", 0.65, 0.75, 0.78, ""),
	}

	ranked := FilterAndRank(input, cfg)
	require.Len(t, ranked, 3)
	assert.Equal(t, "top", ranked[0].ArticleID)
	assert.Equal(t, "mid", ranked[1].ArticleID)
	assert.Equal(t, "low", ranked[2].ArticleID)

	// weights 0.4/0.35/0.25 over signal/uniqueness/confidence
	assert.InDelta(t, 0.4*0.95+0.35*0.9+0.25*0.9, ranked[0].CompositeScore, 1e-9)
}
