package taskengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fintelcore/fintel/internal/database"
	"github.com/fintelcore/fintel/internal/domain"
)

// runFreshStock computes a new stock analysis via the injected runner and
// publishes the result to the shared daily cache.
func (e *Engine) runFreshStock(d *descriptor) error {
	task, err := e.repo.Get(d.TaskID)
	if err != nil {
		return err
	}
	ticker := task.Param("ticker")
	style := task.Param("style")

	e.progress(d.TaskID, 10, fmt.Sprintf("Initializing analysis for %s...", ticker))
	e.progress(d.TaskID, 30, "Fetching market data...")

	// The runner's message is stored verbatim as the task's error_message.
	payload, err := e.stockRunner(context.Background(), ticker, style)
	if err != nil {
		return err
	}
	if msg := runnerError(payload); msg != "" {
		return errors.New(msg)
	}

	e.progress(d.TaskID, 60, "Running AI analysis...")

	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode analysis payload: %w", err)
	}

	e.progress(d.TaskID, 90, "Saving analysis results...")
	return e.saveStockResult(task, blob, true, d.TaskID)
}

// runFreshOptions computes a new options analysis. Option results are
// per-user only; no daily cache row is written.
func (e *Engine) runFreshOptions(d *descriptor) error {
	task, err := e.repo.Get(d.TaskID)
	if err != nil {
		return err
	}
	ticker := task.Param("ticker")

	mode := "chain"
	params := map[string]string{"expiry_date": task.Param("expiry_date")}
	if d.TaskType == TypeEnhancedOptionAnalysis {
		mode = "enhanced"
		params = map[string]string{"option_identifier": task.Param("option_identifier")}
	}

	e.progress(d.TaskID, 10, fmt.Sprintf("Initializing analysis for %s...", ticker))
	e.progress(d.TaskID, 40, "Fetching options chain data...")

	payload, err := e.optionsRunner(context.Background(), ticker, params)
	if err != nil {
		return err
	}
	if msg := runnerError(payload); msg != "" {
		return errors.New(msg)
	}

	e.progress(d.TaskID, 70, "Analyzing options strategies...")

	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode analysis payload: %w", err)
	}

	e.progress(d.TaskID, 90, "Saving analysis results...")
	return database.WithTransaction(e.repo.db.Conn(), func(tx *sql.Tx) error {
		historyID, err := e.historyRepo.InsertOptionsTx(tx, task.UserID, ticker, mode, payload)
		if err != nil {
			return err
		}
		return e.repo.AttachResultTx(tx, task.ID, blob, historyID, "options")
	})
}

// runnerError extracts the error message from a payload that reports failure
// as data instead of raising.
func runnerError(payload domain.Payload) string {
	if payload == nil {
		return "runner returned no payload"
	}
	if v, ok := payload["error"]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
