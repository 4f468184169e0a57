package pipeline

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/signalpress/signalpress/errors"
)

// Store persists generation runs
type Store struct {
	db *sql.DB
}

// NewStore creates a generation run store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRun inserts a new run for a publication slot. The slot's uniqueness
// is enforced by the database; a second run for the same slot returns
// ErrAlreadyExists.
func (s *Store) CreateRun(run *Run) error {
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Stage == "" {
		run.Stage = StageSelecting
	}
	if run.PublishStatus == "" {
		run.PublishStatus = PublishDraft
	}

	_, err := s.db.Exec(`
		INSERT INTO generation_runs (
			id, publication_type, target_date, stage, selected_item_ids,
			synthesis_summary, draft_title, draft_content,
			editorial_quality, coherence, uniqueness, synthesis_confidence,
			publish_status, requires_manual_review, degraded, gate_failures,
			error, created_at, updated_at
		) VALUES (?, ?, ?, ?, '[]', '', '', '', 0, 0, 0, 0, ?, 0, 0, '[]', '', ?, ?)`,
		run.ID, run.PublicationType, run.TargetDate, run.Stage,
		run.PublishStatus, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.NewAlreadyExists("generation run for %s on %s",
				run.PublicationType, run.TargetDate)
		}
		return errors.Wrap(err, "failed to create generation run")
	}
	return nil
}

const runColumns = `
	id, publication_type, target_date, stage, selected_item_ids,
	synthesis_summary, draft_title, draft_content,
	editorial_quality, coherence, uniqueness, synthesis_confidence,
	publish_status, requires_manual_review, degraded, gate_failures,
	error, created_at, updated_at`

func scanRun(row interface{ Scan(...interface{}) error }) (*Run, error) {
	var run Run
	var selectedIDs, gateFailures string
	err := row.Scan(
		&run.ID, &run.PublicationType, &run.TargetDate, &run.Stage, &selectedIDs,
		&run.SynthesisSummary, &run.DraftTitle, &run.DraftContent,
		&run.EditorialQuality, &run.Coherence, &run.Uniqueness, &run.SynthesisConfidence,
		&run.PublishStatus, &run.RequiresManualReview, &run.Degraded, &gateFailures,
		&run.Error, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(selectedIDs), &run.SelectedItemIDs); err != nil {
		return nil, errors.Wrap(err, "corrupt selected item list")
	}
	if err := json.Unmarshal([]byte(gateFailures), &run.GateFailures); err != nil {
		return nil, errors.Wrap(err, "corrupt gate failure list")
	}
	return &run, nil
}

// GetRun retrieves one run by ID
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM generation_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("generation run %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get generation run")
	}
	return run, nil
}

// FindBySlot retrieves the run occupying a publication slot, if any
func (s *Store) FindBySlot(publicationType, targetDate string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT `+runColumns+` FROM generation_runs
		WHERE publication_type = ? AND target_date = ?`,
		publicationType, targetDate,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("generation run for %s on %s", publicationType, targetDate)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find run by slot")
	}
	return run, nil
}

// ResetRun clears a run back to the selection stage, discarding all stage
// output. Used by force re-generation.
func (s *Store) ResetRun(id string) error {
	res, err := s.db.Exec(`
		UPDATE generation_runs
		SET stage = ?, selected_item_ids = '[]', synthesis_summary = '',
		    draft_title = '', draft_content = '',
		    editorial_quality = 0, coherence = 0, uniqueness = 0,
		    synthesis_confidence = 0, publish_status = ?,
		    requires_manual_review = 0, degraded = 0, gate_failures = '[]',
		    error = '', updated_at = ?
		WHERE id = ?`,
		StageSelecting, PublishDraft, time.Now(), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to reset run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("generation run %s", id)
	}
	return nil
}

// RecordSelection durably records the selection output and advances to the
// synthesis stage.
func (s *Store) RecordSelection(id string, itemIDs []string) error {
	encoded, err := json.Marshal(itemIDs)
	if err != nil {
		return errors.Wrap(err, "failed to encode selection")
	}
	return s.advance(id, StageSynthesizing,
		`selected_item_ids = ?`, string(encoded))
}

// RecordSynthesis durably records the synthesis output and advances to the
// writing stage.
func (s *Store) RecordSynthesis(id string, synthesisJSON string, confidence float64, degraded bool) error {
	_, err := s.db.Exec(`
		UPDATE generation_runs
		SET synthesis_summary = ?, synthesis_confidence = ?, degraded = ?,
		    stage = ?, updated_at = ?
		WHERE id = ?`,
		synthesisJSON, confidence, degraded, StageWriting, time.Now(), id,
	)
	return errors.Wrap(err, "failed to record synthesis")
}

// RecordDraft durably records the writing output and advances to the gate
func (s *Store) RecordDraft(id, title, contentJSON string, editorial, coherence, uniqueness float64) error {
	_, err := s.db.Exec(`
		UPDATE generation_runs
		SET draft_title = ?, draft_content = ?,
		    editorial_quality = ?, coherence = ?, uniqueness = ?,
		    stage = ?, updated_at = ?
		WHERE id = ?`,
		title, contentJSON, editorial, coherence, uniqueness,
		StageGate, time.Now(), id,
	)
	return errors.Wrap(err, "failed to record draft")
}

// RecordGate records the gate verdict and completes the run. A pass
// promotes DRAFT to REVIEW; a failure leaves the draft in DRAFT and flags
// it for manual review with the failing dimensions.
func (s *Store) RecordGate(id string, verdict Verdict) error {
	failures, err := json.Marshal(verdict.Failures)
	if err != nil {
		return errors.Wrap(err, "failed to encode gate failures")
	}

	status := PublishDraft
	if verdict.Passed {
		status = PublishReview
	}

	_, err = s.db.Exec(`
		UPDATE generation_runs
		SET publish_status = ?, requires_manual_review = ?, gate_failures = ?,
		    stage = ?, updated_at = ?
		WHERE id = ?`,
		status, !verdict.Passed, string(failures), StageComplete, time.Now(), id,
	)
	return errors.Wrap(err, "failed to record gate verdict")
}

// RecoverRun moves a FAILED run back to the last stage whose output was
// durably recorded, clearing the error so Execute can resume. Completed
// stages are never repeated.
func (s *Store) RecoverRun(id string) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	if run.Stage != StageFailed {
		return errors.Newf("run %s is %s, only FAILED runs are recoverable", id, run.Stage)
	}

	stage := StageSelecting
	switch {
	case run.DraftContent != "":
		stage = StageGate
	case run.SynthesisSummary != "":
		stage = StageWriting
	case len(run.SelectedItemIDs) > 0:
		stage = StageSynthesizing
	}

	_, err = s.db.Exec(`
		UPDATE generation_runs SET stage = ?, error = '', updated_at = ? WHERE id = ?`,
		stage, time.Now(), id,
	)
	return errors.Wrap(err, "failed to recover run")
}

// FailRun marks the run failed with its reason. Only the current run is
// affected; other slots keep going.
func (s *Store) FailRun(id, reason string) error {
	_, err := s.db.Exec(`
		UPDATE generation_runs SET stage = ?, error = ?, updated_at = ? WHERE id = ?`,
		StageFailed, reason, time.Now(), id,
	)
	return errors.Wrap(err, "failed to mark run failed")
}

// SetPublishStatus moves a run along DRAFT -> REVIEW -> PUBLISHED ->
// ARCHIVED. Transitions are validated; anything else is rejected.
func (s *Store) SetPublishStatus(id, status string) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}

	valid := map[string]string{
		PublishDraft:     PublishReview,
		PublishReview:    PublishPublished,
		PublishPublished: PublishArchived,
	}
	if valid[run.PublishStatus] != status {
		return errors.Newf("invalid publish transition %s -> %s", run.PublishStatus, status)
	}

	_, err = s.db.Exec(`
		UPDATE generation_runs SET publish_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id,
	)
	return errors.Wrap(err, "failed to update publish status")
}

// SlotHasRun reports whether any run exists for the slot
func (s *Store) SlotHasRun(publicationType, targetDate string) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM generation_runs
		WHERE publication_type = ? AND target_date = ?`,
		publicationType, targetDate,
	).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "failed to check slot")
	}
	return count > 0, nil
}

func (s *Store) advance(id, nextStage, setClause string, value interface{}) error {
	res, err := s.db.Exec(`
		UPDATE generation_runs
		SET `+setClause+`, stage = ?, updated_at = ?
		WHERE id = ?`,
		value, nextStage, time.Now(), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to advance run stage")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("generation run %s", id)
	}
	return nil
}
