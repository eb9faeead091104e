package taskengine

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fintelcore/fintel/internal/database"
)

// timeLayout is how timestamps are stored; matches CURRENT_TIMESTAMP.
const timeLayout = "2006-01-02 15:04:05"

// maxUserTasks caps list queries regardless of the requested limit.
const maxUserTasks = 50

// ErrTaskNotFound is returned for lookups of unknown task IDs.
var ErrTaskNotFound = errors.New("task not found")

// Repository persists tasks in the core database.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a task repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "task_repository").Logger(),
	}
}

// Create inserts a new PENDING task row.
func (r *Repository) Create(task *Task) error {
	params, err := json.Marshal(task.InputParams)
	if err != nil {
		return fmt.Errorf("failed to encode input params: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO analysis_tasks
			(id, user_id, task_type, status, priority, input_params, progress_percent, current_step, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		task.ID, task.UserID, task.TaskType, string(StatusPending), task.Priority,
		string(params), truncate(task.CurrentStep, maxStepLen),
		task.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

const taskColumns = `id, user_id, task_type, status, priority, input_params,
	progress_percent, current_step, result_data, error_message,
	related_history_id, related_history_type, created_at, started_at, completed_at`

// Get returns one task by ID.
func (r *Repository) Get(id string) (*Task, error) {
	row := r.db.QueryRow(`SELECT `+taskColumns+` FROM analysis_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// GetUserTasks returns a user's most recent tasks, optionally filtered by
// status. The limit is capped at 50.
func (r *Repository) GetUserTasks(userID string, limit int, status Status) ([]*Task, error) {
	if limit <= 0 || limit > maxUserTasks {
		limit = maxUserTasks
	}

	query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE user_id = ?`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// MarkProcessing transitions a task into the worker-owned state.
func (r *Repository) MarkProcessing(id string) error {
	_, err := r.db.Exec(`
		UPDATE analysis_tasks
		SET status = ?, started_at = ?, progress_percent = 0, current_step = ?
		WHERE id = ?`,
		string(StatusProcessing), time.Now().UTC().Format(timeLayout),
		"Starting analysis...", id)
	if err != nil {
		return fmt.Errorf("failed to mark task processing: %w", err)
	}
	return nil
}

// UpdateProgress writes one progress step. current_step is bounded.
func (r *Repository) UpdateProgress(id string, percent int, step string) error {
	_, err := r.db.Exec(`
		UPDATE analysis_tasks SET progress_percent = ?, current_step = ? WHERE id = ?`,
		percent, truncate(step, maxStepLen), id)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// MarkFailed transitions a task to FAILED with a bounded error message.
func (r *Repository) MarkFailed(id, errMsg string) error {
	_, err := r.db.Exec(`
		UPDATE analysis_tasks
		SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ?`,
		string(StatusFailed), truncate(errMsg, maxErrorLen),
		time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return nil
}

// AttachResultTx writes the completed result and history linkage inside the
// caller's transaction.
func (r *Repository) AttachResultTx(tx *sql.Tx, id string, result json.RawMessage, historyID int64, historyType string) error {
	_, err := tx.Exec(`
		UPDATE analysis_tasks
		SET result_data = ?, related_history_id = ?, related_history_type = ?
		WHERE id = ?`,
		string(result), historyID, historyType, id)
	if err != nil {
		return fmt.Errorf("failed to attach result: %w", err)
	}
	return nil
}

// MarkCompleted finalizes a task at 100%.
func (r *Repository) MarkCompleted(id string) error {
	_, err := r.db.Exec(`
		UPDATE analysis_tasks
		SET status = ?, progress_percent = 100, current_step = ?, completed_at = ?
		WHERE id = ?`,
		string(StatusCompleted), "Analysis completed successfully",
		time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to mark task completed: %w", err)
	}
	return nil
}

// FindActiveSibling returns a PENDING or PROCESSING stock-analysis task for
// the same (ticker, style), excluding excludeID. Used by the dispatch
// decision at creation time.
func (r *Repository) FindActiveSibling(ticker, style, excludeID string) (*Task, error) {
	row := r.db.QueryRow(`
		SELECT `+taskColumns+` FROM analysis_tasks
		WHERE task_type = ?
		  AND status IN (?, ?)
		  AND json_extract(input_params, '$.ticker') = ?
		  AND json_extract(input_params, '$.style') = ?
		  AND id != ?
		ORDER BY created_at ASC LIMIT 1`,
		TypeStockAnalysis, string(StatusPending), string(StatusProcessing),
		ticker, style, excludeID)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

// ReapStale fails PROCESSING tasks whose worker died before finishing. Run
// at startup and on a periodic schedule.
func (r *Repository) ReapStale(horizon time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-horizon).Format(timeLayout)
	res, err := r.db.Exec(`
		UPDATE analysis_tasks
		SET status = ?, error_message = ?, completed_at = ?
		WHERE status = ? AND started_at < ?`,
		string(StatusFailed),
		"Task abandoned: worker did not finish before the processing horizon",
		time.Now().UTC().Format(timeLayout),
		string(StatusProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale tasks: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Warn().Int64("reaped", n).Msg("Failed abandoned tasks")
	}
	return n, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scannable) (*Task, error) {
	var (
		task        Task
		params      string
		status      string
		result      sql.NullString
		errMsg      sql.NullString
		historyID   sql.NullInt64
		historyType sql.NullString
		createdAt   string
		startedAt   sql.NullString
		completedAt sql.NullString
	)

	err := row.Scan(&task.ID, &task.UserID, &task.TaskType, &status, &task.Priority,
		&params, &task.ProgressPercent, &task.CurrentStep, &result, &errMsg,
		&historyID, &historyType, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	task.Status = Status(status)
	if err := json.Unmarshal([]byte(params), &task.InputParams); err != nil {
		return nil, fmt.Errorf("bad input_params for task %s: %w", task.ID, err)
	}
	if result.Valid {
		task.ResultData = json.RawMessage(result.String)
	}
	task.ErrorMessage = errMsg.String
	if historyID.Valid {
		task.RelatedHistoryID = &historyID.Int64
	}
	task.RelatedHistoryType = historyType.String

	task.CreatedAt = parseTime(createdAt)
	if startedAt.Valid {
		t := parseTime(startedAt.String)
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		task.CompletedAt = &t
	}
	return &task, nil
}

func parseTime(s string) time.Time {
	if t, err := time.ParseInLocation(timeLayout, s, time.UTC); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
