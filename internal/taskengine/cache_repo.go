package taskengine

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fintelcore/fintel/internal/database"
)

// DailyCacheRow is one shared analysis result for (ticker, style, date).
type DailyCacheRow struct {
	ID           int64
	Ticker       string
	Style        string
	AnalysisDate string
	Payload      json.RawMessage
	SourceTaskID string
	CreatedAt    time.Time
}

// DailyCacheRepository coordinates same-day analysis reuse across users. The
// unique (ticker, style, analysis_date) constraint is the arbitration point:
// the first completed task wins, later writers accept the conflict.
type DailyCacheRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewDailyCacheRepository creates the repository.
func NewDailyCacheRepository(db *database.DB, log zerolog.Logger) *DailyCacheRepository {
	return &DailyCacheRepository{
		db:  db,
		log: log.With().Str("component", "daily_cache").Logger(),
	}
}

// Today returns the cache date key for the current day.
func Today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// Get returns the cache row for (ticker, style, date), or nil.
func (r *DailyCacheRepository) Get(ticker, style, date string) (*DailyCacheRow, error) {
	var (
		row       DailyCacheRow
		payload   string
		createdAt string
	)
	err := r.db.QueryRow(`
		SELECT id, ticker, style, analysis_date, payload, source_task_id, created_at
		FROM daily_analysis_cache
		WHERE ticker = ? AND style = ? AND analysis_date = ?`,
		ticker, style, date).
		Scan(&row.ID, &row.Ticker, &row.Style, &row.AnalysisDate, &payload, &row.SourceTaskID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read daily cache: %w", err)
	}

	row.Payload = json.RawMessage(payload)
	row.CreatedAt = parseTime(createdAt)
	return &row, nil
}

// InsertTx writes a cache row inside the caller's transaction. won is false
// when another task already inserted the same (ticker, style, date); that is
// not an error.
func (r *DailyCacheRepository) InsertTx(tx *sql.Tx, ticker, style, date string, payload json.RawMessage, sourceTaskID string) (won bool, err error) {
	_, err = tx.Exec(`
		INSERT INTO daily_analysis_cache (ticker, style, analysis_date, payload, source_task_id)
		VALUES (?, ?, ?, ?, ?)`,
		ticker, style, date, string(payload), sourceTaskID)
	if err != nil {
		if isUniqueViolation(err) {
			r.log.Info().
				Str("ticker", ticker).
				Str("style", style).
				Str("date", date).
				Str("task_id", sourceTaskID).
				Msg("Daily cache already populated by a sibling task")
			return false, nil
		}
		return false, fmt.Errorf("failed to insert daily cache row: %w", err)
	}
	return true, nil
}

// DeleteOlderThan removes cache rows before the given date. Run by the
// nightly sweep.
func (r *DailyCacheRepository) DeleteOlderThan(date string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM daily_analysis_cache WHERE analysis_date < ?`, date)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep daily cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
