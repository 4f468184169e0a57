// Package schedule owns adaptive trigger timing: it aggregates when
// qualifying content lands and how long runs take, recommends trigger
// hours, and fires the triggers in serve mode.
package schedule

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/errors"
)

// Profile is the advisory schedule for one publication type
type Profile struct {
	PublicationType       string      `json:"publication_type" db:"publication_type"`
	RecommendedTriggerHour int        `json:"recommended_trigger_hour" db:"recommended_trigger_hour"`
	HourHistogram         map[int]int `json:"hour_histogram" db:"hour_histogram"`
	AvgRunDurationSeconds float64     `json:"avg_run_duration_seconds" db:"avg_run_duration_seconds"`
	SampleCount           int         `json:"sample_count" db:"sample_count"`
	UpdatedAt             time.Time   `json:"updated_at" db:"updated_at"`
}

// Execution kinds recorded in the audit trail
const (
	KindBatchAnalysis = "batch_analysis"
	KindGeneration    = "generation"
)

// Execution statuses
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// Execution is one audit row for a fired trigger
type Execution struct {
	ID          string     `json:"id" db:"id"`
	TriggerKind string     `json:"trigger_kind" db:"trigger_kind"`
	TargetID    string     `json:"target_id" db:"target_id"`
	Status      string     `json:"status" db:"status"`
	Error       string     `json:"error,omitempty" db:"error"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	DurationMS  *int64     `json:"duration_ms,omitempty" db:"duration_ms"`
}

// Store persists schedule profiles and execution audit rows
type Store struct {
	db *sql.DB
}

// NewStore creates a schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertProfile writes the advisory profile for a publication type
func (s *Store) UpsertProfile(p *Profile) error {
	histogram, err := json.Marshal(p.HourHistogram)
	if err != nil {
		return errors.Wrap(err, "failed to encode hour histogram")
	}
	p.UpdatedAt = time.Now()

	_, err = s.db.Exec(`
		INSERT INTO schedule_profiles (
			publication_type, recommended_trigger_hour, hour_histogram,
			avg_run_duration_seconds, sample_count, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(publication_type) DO UPDATE SET
			recommended_trigger_hour = excluded.recommended_trigger_hour,
			hour_histogram = excluded.hour_histogram,
			avg_run_duration_seconds = excluded.avg_run_duration_seconds,
			sample_count = excluded.sample_count,
			updated_at = excluded.updated_at`,
		p.PublicationType, p.RecommendedTriggerHour, string(histogram),
		p.AvgRunDurationSeconds, p.SampleCount, p.UpdatedAt,
	)
	return errors.Wrap(err, "failed to upsert schedule profile")
}

// GetProfile retrieves the profile for a publication type
func (s *Store) GetProfile(publicationType string) (*Profile, error) {
	var p Profile
	var histogram string
	err := s.db.QueryRow(`
		SELECT publication_type, recommended_trigger_hour, hour_histogram,
		       avg_run_duration_seconds, sample_count, updated_at
		FROM schedule_profiles WHERE publication_type = ?`,
		publicationType,
	).Scan(&p.PublicationType, &p.RecommendedTriggerHour, &histogram,
		&p.AvgRunDurationSeconds, &p.SampleCount, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("schedule profile for %s", publicationType)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get schedule profile")
	}
	if err := json.Unmarshal([]byte(histogram), &p.HourHistogram); err != nil {
		return nil, errors.Wrap(err, "corrupt hour histogram")
	}
	return &p, nil
}

// QualifyingContentHistogram counts qualifying analyses per hour of day
// since the cutoff. Qualification uses the selection thresholds so the
// histogram reflects content a run could actually use.
func (s *Store) QualifyingContentHistogram(since time.Time, sel config.SelectionConfig) (map[int]int, error) {
	rows, err := s.db.Query(`
		SELECT CAST(strftime('%H', produced_at) AS INTEGER) AS hour, COUNT(*)
		FROM analysis_results
		WHERE produced_at >= ?
		  AND signal_strength >= ? AND uniqueness >= ? AND confidence >= ?
		GROUP BY hour`,
		since, sel.MinSignalStrength, sel.MinUniqueness, sel.MinConfidence,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build content histogram")
	}
	defer rows.Close()

	histogram := make(map[int]int)
	for rows.Next() {
		var hour, count int
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan histogram row")
		}
		histogram[hour] = count
	}
	return histogram, rows.Err()
}

// AvgDuration returns the mean duration and sample count of completed
// executions of a kind since the cutoff.
func (s *Store) AvgDuration(kind string, since time.Time) (float64, int, error) {
	var avgMS sql.NullFloat64
	var count int
	err := s.db.QueryRow(`
		SELECT AVG(duration_ms), COUNT(*)
		FROM schedule_executions
		WHERE trigger_kind = ? AND status = ? AND started_at >= ? AND duration_ms IS NOT NULL`,
		kind, ExecutionCompleted, since,
	).Scan(&avgMS, &count)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to average execution durations")
	}
	if !avgMS.Valid {
		return 0, 0, nil
	}
	return avgMS.Float64 / 1000.0, count, nil
}

// StartExecution records that a trigger fired
func (s *Store) StartExecution(kind, targetID string) (*Execution, error) {
	exec := &Execution{
		ID:          uuid.New().String(),
		TriggerKind: kind,
		TargetID:    targetID,
		Status:      ExecutionRunning,
		StartedAt:   time.Now(),
	}

	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO schedule_executions (
			id, trigger_kind, target_id, status, error,
			started_at, completed_at, duration_ms, created_at, updated_at
		) VALUES (?, ?, ?, ?, '', ?, NULL, NULL, ?, ?)`,
		exec.ID, exec.TriggerKind, exec.TargetID, exec.Status,
		exec.StartedAt, now, now,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to record execution start")
	}
	return exec, nil
}

// FinishExecution closes an execution record with its outcome
func (s *Store) FinishExecution(id, status, errMsg string) error {
	now := time.Now()
	res, err := s.db.Exec(`
		UPDATE schedule_executions
		SET status = ?, error = ?, completed_at = ?,
		    duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER),
		    updated_at = ?
		WHERE id = ?`,
		status, errMsg, now, now, now, id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to finish execution")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("schedule execution %s", id)
	}
	return nil
}

// LastExecution returns the most recent execution of a kind, if any
func (s *Store) LastExecution(kind string) (*Execution, error) {
	var exec Execution
	err := s.db.QueryRow(`
		SELECT id, trigger_kind, target_id, status, error, started_at, completed_at, duration_ms
		FROM schedule_executions
		WHERE trigger_kind = ?
		ORDER BY started_at DESC LIMIT 1`,
		kind,
	).Scan(&exec.ID, &exec.TriggerKind, &exec.TargetID, &exec.Status,
		&exec.Error, &exec.StartedAt, &exec.CompletedAt, &exec.DurationMS)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("no %s executions", kind)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get last execution")
	}
	return &exec, nil
}
