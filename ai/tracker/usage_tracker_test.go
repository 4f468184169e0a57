package tracker

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/signalpress/signalpress/internal/util"
)

func TestTrackUsageInsertsRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO model_usage").
		WillReturnResult(sqlmock.NewResult(1, 1))

	tr := NewUsageTracker(db)
	usage := &ModelUsage{
		OperationType:    "analyze",
		EntityType:       "batch_session",
		EntityID:         "sess-1",
		ModelName:        "openai/gpt-4o-mini",
		ModelProvider:    "openrouter",
		RequestTimestamp: time.Now(),
		TokensUsed:       util.Ptr(850),
		Cost:             util.Ptr(0.0011),
		Success:          true,
	}

	if err := tr.TrackUsage(usage); err != nil {
		t.Fatalf("TrackUsage() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetUsageStatsComputesSuccessRate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"total_requests", "successful_requests", "total_tokens", "total_cost"}).
		AddRow(10, 9, 12000, 0.021)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	tr := NewUsageTracker(db)
	stats, err := tr.GetUsageStats(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("GetUsageStats() error = %v", err)
	}

	if stats.SuccessRate != 0.9 {
		t.Errorf("SuccessRate = %v, want 0.9", stats.SuccessRate)
	}
	if stats.TotalCost != 0.021 {
		t.Errorf("TotalCost = %v, want 0.021", stats.TotalCost)
	}
}
