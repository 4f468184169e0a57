// Package inference provides the narrow interface to the external AI
// analysis/generation service. Each call reports token and cost usage so
// the cost governor can reconcile reservations against real spend.
package inference

import (
	"context"
	"time"
)

// Usage reports token consumption and USD cost of one inference call
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Article is the input to per-item analysis
type Article struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	SourceDomain string    `json:"source_domain"`
	PublishedAt  time.Time `json:"published_at"`
}

// Analysis is the structured result of analyzing one article
type Analysis struct {
	SignalStrength float64 `json:"signal_strength"` // 0..1
	Uniqueness     float64 `json:"uniqueness"`      // 0..1
	Confidence     float64 `json:"confidence"`      // 0..1
	Summary        string  `json:"summary"`
}

// Candidate is one analyzed article offered to the selection stage
type Candidate struct {
	ArticleID      string  `json:"article_id"`
	Title          string  `json:"title"`
	Summary        string  `json:"summary"`
	SignalStrength float64 `json:"signal_strength"`
	Uniqueness     float64 `json:"uniqueness"`
	Confidence     float64 `json:"confidence"`
	CompositeScore float64 `json:"composite_score"`
}

// Selection is the output of the selection stage
type Selection struct {
	ArticleIDs []string `json:"article_ids"`
	Rationale  string   `json:"rationale"`
}

// Synthesis is the output of the cross-item synthesis stage
type Synthesis struct {
	Themes     []string `json:"themes"`
	Insights   []string `json:"insights"`
	Narrative  string   `json:"narrative"`
	Confidence float64  `json:"confidence"` // 0..1
}

// DraftSection is one body section of a written draft
type DraftSection struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Draft is the output of the writing stage
type Draft struct {
	Title            string         `json:"title"`
	ExecutiveSummary string         `json:"executive_summary"`
	Sections         []DraftSection `json:"sections"`
	Citations        []string       `json:"citations"`
	ReadTimeMinutes  int            `json:"read_time_minutes"`
	EditorialQuality float64        `json:"editorial_quality"` // self-assessed, 0..1
	Coherence        float64        `json:"coherence"`         // 0..1
	Uniqueness       float64        `json:"uniqueness"`        // 0..1
}

// Validation is the research-validation verdict for one strong signal
type Validation struct {
	Status   string   `json:"status"` // "VALIDATED", "FAILED"
	Evidence []string `json:"evidence"`
}

// Engine is the narrow contract to the AI service. Implementations must be
// safe for concurrent use; every method honors context cancellation.
type Engine interface {
	Analyze(ctx context.Context, article Article) (*Analysis, *Usage, error)
	Select(ctx context.Context, candidates []Candidate) (*Selection, *Usage, error)
	Synthesize(ctx context.Context, selected []Candidate) (*Synthesis, *Usage, error)
	Write(ctx context.Context, synthesis Synthesis) (*Draft, *Usage, error)
	Validate(ctx context.Context, candidate Candidate) (*Validation, *Usage, error)
}

// EntityScoper is implemented by engines whose usage records can be
// attributed to a specific entity, e.g. a batch session or generation run.
type EntityScoper interface {
	ForEntity(entityType, entityID string) Engine
}

// Scoped attributes engine usage to the given entity when the engine
// supports it, and returns the engine unchanged otherwise.
func Scoped(engine Engine, entityType, entityID string) Engine {
	if scoper, ok := engine.(EntityScoper); ok {
		return scoper.ForEntity(entityType, entityID)
	}
	return engine
}
