// Package batch orchestrates cost-bounded analysis sessions: articles are
// partitioned into fixed-size batches, dispatched through a bounded worker
// pool, and every batch reserves budget before it touches the AI service.
package batch

import "time"

// Session status values. A session moves INITIATED -> PROCESSING and ends
// in exactly one of COMPLETED, FAILED, or CANCELLED. Partial completion is
// terminal COMPLETED with succeeded/failed counts; FAILED means nothing
// succeeded.
const (
	SessionInitiated  = "INITIATED"
	SessionProcessing = "PROCESSING"
	SessionCompleted  = "COMPLETED"
	SessionFailed     = "FAILED"
	SessionCancelled  = "CANCELLED"
)

// Batch status values. A batch is FAILED only when no item in it succeeded
// after retries; CANCELLED means it was never dispatched.
const (
	BatchPending    = "PENDING"
	BatchProcessing = "PROCESSING"
	BatchCompleted  = "COMPLETED"
	BatchFailed     = "FAILED"
	BatchCancelled  = "CANCELLED"
)

// Session is one cost-bounded analysis run over a set of articles
type Session struct {
	ID             string     `json:"id" db:"id"`
	TotalItemCount int        `json:"total_item_count" db:"total_item_count"`
	TotalBatches   int        `json:"total_batch_count" db:"total_batch_count"`
	EstimatedCost  float64    `json:"estimated_cost" db:"estimated_cost"`
	ActualCost     float64    `json:"actual_cost" db:"actual_cost"`
	Status         string     `json:"status" db:"status"`
	ItemsSucceeded int        `json:"items_succeeded" db:"items_succeeded"`
	ItemsFailed    int        `json:"items_failed" db:"items_failed"`
	Retriggered    bool       `json:"retriggered" db:"retriggered"`
	Error          string     `json:"error,omitempty" db:"error"`
	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the session has reached a final status
func (s *Session) Terminal() bool {
	switch s.Status {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// Record is one batch within a session, identified by (session, number).
// Records are created up front when the session is partitioned and carry
// their item IDs so a crashed session can be resumed exactly.
type Record struct {
	SessionID     string    `json:"session_id" db:"session_id"`
	BatchNumber   int       `json:"batch_number" db:"batch_number"`
	ItemIDs       []string  `json:"item_ids" db:"item_ids"`
	EstimatedCost float64   `json:"estimated_cost" db:"estimated_cost"`
	ActualCost    float64   `json:"actual_cost" db:"actual_cost"`
	Status        string    `json:"status" db:"status"`
	RetryCount    int       `json:"retry_count" db:"retry_count"`
	Error         string    `json:"error,omitempty" db:"error"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Partition splits itemIDs into contiguous batches of at most size items,
// preserving order. The last batch holds the remainder.
func Partition(itemIDs []string, size int) [][]string {
	if size <= 0 || len(itemIDs) == 0 {
		return nil
	}

	batches := make([][]string, 0, (len(itemIDs)+size-1)/size)
	for start := 0; start < len(itemIDs); start += size {
		end := start + size
		if end > len(itemIDs) {
			end = len(itemIDs)
		}
		batches = append(batches, itemIDs[start:end])
	}
	return batches
}
