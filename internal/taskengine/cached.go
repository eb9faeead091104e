package taskengine

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fintelcore/fintel/internal/database"
	"github.com/fintelcore/fintel/internal/domain"
)

// playbackStep is one beat of the simulated progress schedule.
type playbackStep struct {
	percent int
	step    string
	weight  float64 // fraction of the total playback duration
}

// playbackSchedule pacing follows the live pipeline so a cache hit is
// indistinguishable from a fresh run.
var playbackSchedule = []playbackStep{
	{10, "Initializing analysis...", 0.158},
	{30, "Fetching market data...", 0.211},
	{55, "Calculating risk metrics...", 0.211},
	{75, "Running AI analysis...", 0.263},
	{90, "Generating report...", 0.157},
}

// runCached plays back a same-day cached payload with realistic pacing, then
// records it as this user's own history row.
func (e *Engine) runCached(d *descriptor) error {
	task, err := e.repo.Get(d.TaskID)
	if err != nil {
		return err
	}
	if len(d.CachedData) == 0 {
		return fmt.Errorf("cached dispatch carried no payload")
	}

	total := e.cfg.CachedPlayback
	if total <= 0 {
		total = 10 * time.Second
	}
	for _, s := range playbackSchedule {
		e.progress(d.TaskID, s.percent, s.step)
		e.sleep(time.Duration(s.weight * float64(total)))
	}

	e.progress(d.TaskID, 95, "Saving analysis results...")
	return e.saveStockResult(task, d.CachedData, false, d.TaskID)
}

// saveStockResult commits the history row and result linkage in one
// transaction. When writeDailyCache is set, it also attempts the shared
// daily-cache insert; losing that race is not an error.
func (e *Engine) saveStockResult(task *Task, payload json.RawMessage, writeDailyCache bool, sourceTaskID string) error {
	var parsed domain.Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return fmt.Errorf("analysis payload is not valid JSON: %w", err)
	}

	ticker := task.Param("ticker")
	style := task.Param("style")

	return database.WithTransaction(e.repo.db.Conn(), func(tx *sql.Tx) error {
		historyID, err := e.historyRepo.InsertStockTx(tx, task.UserID, ticker, style, parsed)
		if err != nil {
			return err
		}

		if writeDailyCache {
			if _, err := e.cacheRepo.InsertTx(tx, ticker, style, Today(), payload, sourceTaskID); err != nil {
				return err
			}
		}

		return e.repo.AttachResultTx(tx, task.ID, payload, historyID, "stock")
	})
}
