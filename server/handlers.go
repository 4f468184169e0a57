package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/signalpress/signalpress/batch"
	"github.com/signalpress/signalpress/budget"
	"github.com/signalpress/signalpress/errors"
	"github.com/signalpress/signalpress/pipeline"
)

type startAnalysisResponse struct {
	SessionID     string  `json:"session_id"`
	ItemCount     int     `json:"item_count"`
	BatchCount    int     `json:"batch_count"`
	EstimatedCost float64 `json:"estimated_cost_usd"`
}

func (s *Server) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	session, err := s.scheduler.StartSession(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	s.hub.Publish("session_started", map[string]interface{}{
		"session_id":  session.ID,
		"item_count":  session.TotalItemCount,
		"batch_count": session.TotalBatches,
	})

	go func() {
		if err := s.scheduler.Run(context.Background(), session.ID); err != nil {
			s.logger.Errorw("Analysis session failed",
				"session_id", session.ID, "error", err)
			return
		}
		s.hub.Publish("session_finished", map[string]interface{}{"session_id": session.ID})
	}()

	writeJSON(w, http.StatusAccepted, startAnalysisResponse{
		SessionID:     session.ID,
		ItemCount:     session.TotalItemCount,
		BatchCount:    session.TotalBatches,
		EstimatedCost: session.EstimatedCost,
	})
}

type batchStatus struct {
	BatchNumber int     `json:"batch_number"`
	Status      string  `json:"status"`
	ItemCount   int     `json:"item_count"`
	RetryCount  int     `json:"retry_count"`
	ActualCost  float64 `json:"actual_cost_usd"`
	Error       string  `json:"error,omitempty"`
}

type sessionStatusResponse struct {
	Session         *batch.Session `json:"session"`
	ProgressPercent float64        `json:"progress_percent"`
	Budget          *budget.Ledger `json:"budget,omitempty"`
	Batches         []batchStatus  `json:"batches"`
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	session, err := s.sessions.GetSession(id)
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := s.sessions.ListBatches(id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := sessionStatusResponse{
		Session: session,
		Batches: make([]batchStatus, 0, len(records)),
	}
	done := 0
	for _, rec := range records {
		resp.Batches = append(resp.Batches, batchStatus{
			BatchNumber: rec.BatchNumber,
			Status:      rec.Status,
			ItemCount:   len(rec.ItemIDs),
			RetryCount:  rec.RetryCount,
			ActualCost:  rec.ActualCost,
			Error:       rec.Error,
		})
		switch rec.Status {
		case batch.BatchCompleted, batch.BatchFailed, batch.BatchCancelled:
			done++
		}
	}
	if len(records) > 0 {
		resp.ProgressPercent = float64(done) / float64(len(records)) * 100
	}

	// the ledger may not exist yet for very young sessions
	if ledger, err := s.governor.Status(id); err == nil {
		resp.Budget = ledger
	} else if !errors.IsNotFound(err) {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type startGenerationRequest struct {
	TargetDate string `json:"target_date,omitempty"` // defaults to today
	Force      bool   `json:"force,omitempty"`
}

type startGenerationResponse struct {
	RunID           string `json:"run_id"`
	PublicationType string `json:"publication_type"`
	TargetDate      string `json:"target_date"`
	Stage           string `json:"stage"`
}

func (s *Server) handleStartGeneration(w http.ResponseWriter, r *http.Request) {
	pubType := r.PathValue("type")

	var req startGenerationRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	if req.TargetDate == "" {
		req.TargetDate = todayDate()
	}

	run, err := s.runner.StartRun(pubType, req.TargetDate, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}

	s.hub.Publish("run_started", map[string]interface{}{
		"run_id":           run.ID,
		"publication_type": run.PublicationType,
		"target_date":      run.TargetDate,
	})

	go func() {
		if err := s.runner.Execute(context.Background(), run.ID); err != nil {
			s.logger.Errorw("Generation run failed",
				"run_id", run.ID, "error", err)
			return
		}
		s.hub.Publish("run_finished", map[string]interface{}{"run_id": run.ID})
	}()

	writeJSON(w, http.StatusAccepted, startGenerationResponse{
		RunID:           run.ID,
		PublicationType: run.PublicationType,
		TargetDate:      run.TargetDate,
		Stage:           run.Stage,
	})
}

type generationStatusResponse struct {
	Run           *pipeline.Run `json:"run"`
	SelectedCount int           `json:"selected_count"`
	GatePassed    *bool         `json:"gate_passed,omitempty"`
}

func (s *Server) handleGenerationStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := s.runs.GetRun(id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := generationStatusResponse{
		Run:           run,
		SelectedCount: len(run.SelectedItemIDs),
	}
	if run.Stage == pipeline.StageComplete {
		passed := !run.RequiresManualReview
		resp.GatePassed = &passed
	}

	writeJSON(w, http.StatusOK, resp)
}

func todayDate() string {
	return time.Now().Format(pipeline.DateFormat)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors to HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsAlreadyExists(err):
		status = http.StatusConflict
	case errors.IsInsufficientContent(err):
		status = http.StatusUnprocessableEntity
	case errors.IsBudgetExceeded(err):
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
