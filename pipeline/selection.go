package pipeline

import (
	"context"
	"sort"

	"github.com/signalpress/signalpress/ai/inference"
	"github.com/signalpress/signalpress/articles"
	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/errors"
)

// CompositeScore computes the ranking score of one analysis using the
// configured weights. Confidence stands in for relevance: it measures how
// sure the analyst was that the signal matters for the publication.
func CompositeScore(a articles.AnalysisResult, w config.SelectionWeights) float64 {
	return w.Signal*a.SignalStrength + w.Uniqueness*a.Uniqueness + w.Relevance*a.Confidence
}

// FilterAndRank applies the selection thresholds and returns surviving
// candidates ordered by composite score, strongest first. Items whose
// latest validation verdict is FAILED are excluded regardless of scores.
func FilterAndRank(analyzed []articles.Analyzed, cfg config.SelectionConfig) []inference.Candidate {
	var out []inference.Candidate
	for _, item := range analyzed {
		a := item.Analysis
		if a.ValidationStatus == articles.ValidationFailed {
			continue
		}
		if a.SignalStrength < cfg.MinSignalStrength ||
			a.Uniqueness < cfg.MinUniqueness ||
			a.Confidence < cfg.MinConfidence {
			continue
		}
		out = append(out, inference.Candidate{
			ArticleID:      item.Article.ID,
			Title:          item.Article.Title,
			Summary:        a.Summary,
			SignalStrength: a.SignalStrength,
			Uniqueness:     a.Uniqueness,
			Confidence:     a.Confidence,
			CompositeScore: CompositeScore(a, cfg.Weights),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompositeScore > out[j].CompositeScore
	})
	return out
}

// selectStories runs the selection stage: deterministic filter and ranking
// first, then the editorial model picks the final set from the shortlist.
// An unusable model answer falls back to the top of the ranking, so
// selection degrades rather than fails when the model misbehaves. Fewer
// than MinItems qualifying candidates aborts with ErrInsufficientContent
// before any model cost is incurred.
func selectStories(ctx context.Context, engine inference.Engine, analyzed []articles.Analyzed, cfg config.SelectionConfig) ([]inference.Candidate, error) {
	ranked := FilterAndRank(analyzed, cfg)
	if len(ranked) < cfg.MinItems {
		return nil, errors.Wrapf(errors.ErrInsufficientContent,
			"%d qualifying items, need at least %d", len(ranked), cfg.MinItems)
	}

	// offer the model at most twice the final size to keep prompts small
	shortlist := ranked
	if limit := cfg.MaxItems * 2; len(shortlist) > limit {
		shortlist = shortlist[:limit]
	}

	byID := make(map[string]inference.Candidate, len(shortlist))
	for _, c := range shortlist {
		byID[c.ArticleID] = c
	}

	var chosen []inference.Candidate
	selection, _, err := engine.Select(ctx, shortlist)
	if err == nil {
		for _, id := range selection.ArticleIDs {
			if c, ok := byID[id]; ok {
				chosen = append(chosen, c)
			}
		}
	}

	// fall back to the deterministic ranking when the model's pick is
	// unusable or too small
	if len(chosen) < cfg.MinItems {
		chosen = shortlist
	}

	if len(chosen) > cfg.MaxItems {
		chosen = chosen[:cfg.MaxItems]
	}
	return chosen, nil
}
