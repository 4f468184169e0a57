package batch

import (
	"database/sql"
	"time"

	"github.com/signalpress/signalpress/articles"
	"github.com/signalpress/signalpress/errors"
)

// Store persists sessions and their batch records
type Store struct {
	db *sql.DB
}

// NewStore creates a new batch store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateSession inserts the session and all of its batch records in one
// transaction so a crash can never leave a session without its partition.
func (s *Store) CreateSession(session *Session, records []Record) error {
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = SessionInitiated
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin session transaction")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO batch_sessions (
			id, total_item_count, total_batch_count, estimated_cost, actual_cost,
			status, items_succeeded, items_failed, retriggered, error,
			started_at, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, 0, ?, 0, 0, 0, '', NULL, NULL, ?, ?)`,
		session.ID, session.TotalItemCount, session.TotalBatches,
		session.EstimatedCost, session.Status, now, now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert session %s", session.ID)
	}

	for i := range records {
		r := &records[i]
		r.SessionID = session.ID
		r.CreatedAt = now
		r.UpdatedAt = now
		if r.Status == "" {
			r.Status = BatchPending
		}
		_, err = tx.Exec(`
			INSERT INTO batch_records (
				session_id, batch_number, item_ids, estimated_cost, actual_cost,
				status, retry_count, error, created_at, updated_at
			) VALUES (?, ?, ?, ?, 0, ?, 0, '', ?, ?)`,
			r.SessionID, r.BatchNumber, articles.EncodeItemIDs(r.ItemIDs),
			r.EstimatedCost, r.Status, now, now,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to insert batch %d", r.BatchNumber)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit session")
}

const sessionColumns = `
	id, total_item_count, total_batch_count, estimated_cost, actual_cost,
	status, items_succeeded, items_failed, retriggered, error,
	started_at, completed_at, created_at, updated_at`

func scanSession(row interface{ Scan(...interface{}) error }) (*Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID, &sess.TotalItemCount, &sess.TotalBatches,
		&sess.EstimatedCost, &sess.ActualCost, &sess.Status,
		&sess.ItemsSucceeded, &sess.ItemsFailed, &sess.Retriggered, &sess.Error,
		&sess.StartedAt, &sess.CompletedAt, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession retrieves one session by ID
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM batch_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("batch session %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get session")
	}
	return sess, nil
}

// ListSessionsByStatus returns sessions in any of the given statuses,
// oldest update first.
func (s *Store) ListSessionsByStatus(statuses ...string) ([]Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query := `SELECT ` + sessionColumns + ` FROM batch_sessions WHERE status IN (?`
	args := []interface{}{statuses[0]}
	for _, st := range statuses[1:] {
		query += ",?"
		args = append(args, st)
	}
	query += `) ORDER BY updated_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan session")
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// MarkSessionStarted transitions INITIATED -> PROCESSING
func (s *Store) MarkSessionStarted(id string) error {
	now := time.Now()
	res, err := s.db.Exec(`
		UPDATE batch_sessions
		SET status = ?, started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		SessionProcessing, now, now, id, SessionInitiated, SessionProcessing,
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark session started")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf("session %s is not startable", id)
	}
	return nil
}

// FinishSession records the terminal status and final counters
func (s *Store) FinishSession(id, status string, succeeded, failed int, actualCost float64, errMsg string) error {
	now := time.Now()
	_, err := s.db.Exec(`
		UPDATE batch_sessions
		SET status = ?, items_succeeded = ?, items_failed = ?, actual_cost = ?,
		    error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		status, succeeded, failed, actualCost, errMsg, now, now, id,
	)
	return errors.Wrap(err, "failed to finish session")
}

// TouchSession bumps updated_at so the stall sweeper sees live progress
func (s *Store) TouchSession(id string) error {
	_, err := s.db.Exec(`UPDATE batch_sessions SET updated_at = ? WHERE id = ?`, time.Now(), id)
	return errors.Wrap(err, "failed to touch session")
}

// ClaimRetrigger flips the session's single re-trigger latch. It returns
// false when the latch was already used, so a stalled session is only ever
// restarted once no matter how many sweeps observe it.
func (s *Store) ClaimRetrigger(id string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE batch_sessions SET retriggered = 1, updated_at = ?
		WHERE id = ? AND retriggered = 0`,
		time.Now(), id,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim re-trigger")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read re-trigger result")
	}
	return n > 0, nil
}

// ListStalled returns PROCESSING sessions with no progress since the cutoff
func (s *Store) ListStalled(cutoff time.Time) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+` FROM batch_sessions
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC`,
		SessionProcessing, cutoff,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stalled sessions")
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan stalled session")
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// ListBatches returns a session's batch records in dispatch order
func (s *Store) ListBatches(sessionID string) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT session_id, batch_number, item_ids, estimated_cost, actual_cost,
		       status, retry_count, error, created_at, updated_at
		FROM batch_records
		WHERE session_id = ?
		ORDER BY batch_number ASC`,
		sessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list batches")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var encoded string
		if err := rows.Scan(&r.SessionID, &r.BatchNumber, &encoded,
			&r.EstimatedCost, &r.ActualCost, &r.Status, &r.RetryCount,
			&r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan batch record")
		}
		r.ItemIDs, err = articles.DecodeItemIDs(encoded)
		if err != nil {
			return nil, errors.Wrapf(err, "batch %d has corrupt item list", r.BatchNumber)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateBatch records the outcome of one batch attempt
func (s *Store) UpdateBatch(sessionID string, batchNumber int, status string, retryCount int, actualCost float64, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE batch_records
		SET status = ?, retry_count = ?, actual_cost = ?, error = ?, updated_at = ?
		WHERE session_id = ? AND batch_number = ?`,
		status, retryCount, actualCost, errMsg, time.Now(), sessionID, batchNumber,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update batch record")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("batch %d of session %s", batchNumber, sessionID)
	}
	return nil
}

// CancelPendingBatches marks every still-PENDING batch of a session as
// CANCELLED, returning how many were cancelled. Used when the budget
// governor denies further reservations.
func (s *Store) CancelPendingBatches(sessionID, reason string) (int, error) {
	res, err := s.db.Exec(`
		UPDATE batch_records
		SET status = ?, error = ?, updated_at = ?
		WHERE session_id = ? AND status = ?`,
		BatchCancelled, reason, time.Now(), sessionID, BatchPending,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cancel pending batches")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read cancellation result")
	}
	return int(n), nil
}
