// Package pipeline drives the three-stage generation pipeline (selection,
// synthesis, writing) and its deterministic quality gate. Stages run
// strictly in order; each stage's output is durably recorded before the
// next starts, so a crashed run resumes from its last completed stage.
package pipeline

import (
	"encoding/json"
	"time"

	"github.com/signalpress/signalpress/ai/inference"
)

// Stage values. The stage column names the stage currently in progress;
// COMPLETE and FAILED are terminal.
const (
	StageSelecting    = "SELECTING"
	StageSynthesizing = "SYNTHESIZING"
	StageWriting      = "WRITING"
	StageGate         = "GATE"
	StageComplete     = "COMPLETE"
	StageFailed       = "FAILED"
)

// Publish status values. DRAFT is also the stable terminal state when the
// quality gate fails; promotion past REVIEW is a human action.
const (
	PublishDraft     = "DRAFT"
	PublishReview    = "REVIEW"
	PublishPublished = "PUBLISHED"
	PublishArchived  = "ARCHIVED"
)

// Run is one generation attempt for a publication slot. At most one run
// exists per (publication_type, target_date).
type Run struct {
	ID                   string    `json:"id" db:"id"`
	PublicationType      string    `json:"publication_type" db:"publication_type"`
	TargetDate           string    `json:"target_date" db:"target_date"` // YYYY-MM-DD
	Stage                string    `json:"stage" db:"stage"`
	SelectedItemIDs      []string  `json:"selected_item_ids" db:"selected_item_ids"`
	SynthesisSummary     string    `json:"synthesis_summary,omitempty" db:"synthesis_summary"`
	DraftTitle           string    `json:"draft_title,omitempty" db:"draft_title"`
	DraftContent         string    `json:"draft_content,omitempty" db:"draft_content"`
	EditorialQuality     float64   `json:"editorial_quality" db:"editorial_quality"`
	Coherence            float64   `json:"coherence" db:"coherence"`
	Uniqueness           float64   `json:"uniqueness" db:"uniqueness"`
	SynthesisConfidence  float64   `json:"synthesis_confidence" db:"synthesis_confidence"`
	PublishStatus        string    `json:"publish_status" db:"publish_status"`
	RequiresManualReview bool      `json:"requires_manual_review" db:"requires_manual_review"`
	Degraded             bool      `json:"degraded" db:"degraded"`
	GateFailures         []string  `json:"gate_failures,omitempty" db:"gate_failures"`
	Error                string    `json:"error,omitempty" db:"error"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the run has finished, successfully or not
func (r *Run) Terminal() bool {
	return r.Stage == StageComplete || r.Stage == StageFailed
}

// Synthesis decodes the recorded synthesis output, if any
func (r *Run) Synthesis() (*inference.Synthesis, error) {
	if r.SynthesisSummary == "" {
		return nil, nil
	}
	var s inference.Synthesis
	if err := json.Unmarshal([]byte(r.SynthesisSummary), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Draft decodes the recorded draft, if any
func (r *Run) Draft() (*inference.Draft, error) {
	if r.DraftContent == "" {
		return nil, nil
	}
	var d inference.Draft
	if err := json.Unmarshal([]byte(r.DraftContent), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DateFormat is the canonical target_date layout
const DateFormat = "2006-01-02"
