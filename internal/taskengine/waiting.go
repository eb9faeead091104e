package taskengine

import (
	"encoding/json"
	"fmt"
	"time"
)

// waitingSteps rotate while a task waits on its sibling's result.
var waitingSteps = []string{
	"Fetching market data...",
	"Calculating risk metrics...",
	"Running AI analysis...",
}

// runWaiting polls the daily cache until the source task populates it, then
// reuses the payload as this task's own result.
func (e *Engine) runWaiting(d *descriptor) error {
	task, err := e.repo.Get(d.TaskID)
	if err != nil {
		return err
	}
	ticker := task.Param("ticker")
	style := task.Param("style")

	maxWait := e.cfg.WaitingMaxWait
	if maxWait <= 0 {
		maxWait = 300 * time.Second
	}
	pollInterval := e.cfg.WaitingPollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	e.progress(d.TaskID, 10, "Initializing analysis...")
	e.sleep(time.Second)
	e.progress(d.TaskID, 20, "Fetching market data...")

	var payload json.RawMessage
	start := time.Now()
	for {
		waited := time.Since(start)
		if waited >= maxWait {
			return fmt.Errorf("timed out after %s waiting for analysis of %s (%s)",
				maxWait, ticker, style)
		}

		row, err := e.cacheRepo.Get(ticker, style, Today())
		if err != nil {
			return err
		}
		if row != nil {
			payload = row.Payload
			break
		}

		source, err := e.repo.Get(d.SourceTaskID)
		if err != nil && err != ErrTaskNotFound {
			return err
		}
		if source != nil && source.Status == StatusFailed {
			return fmt.Errorf("source analysis failed: %s", source.ErrorMessage)
		}

		// Smooth 20 -> 70 ramp over the wait budget, step text rotating so
		// the caller sees the same phases as a fresh run.
		percent := 20 + int(waited.Seconds()/maxWait.Seconds()*50)
		if percent > 70 {
			percent = 70
		}
		step := waitingSteps[int(waited/pollInterval)%len(waitingSteps)]
		e.progress(d.TaskID, percent, step)

		e.sleep(pollInterval)
	}

	e.progress(d.TaskID, 80, "Generating report...")
	e.sleep(1500 * time.Millisecond)
	e.progress(d.TaskID, 95, "Saving analysis results...")
	return e.saveStockResult(task, payload, false, d.TaskID)
}
