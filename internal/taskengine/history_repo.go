package taskengine

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fintelcore/fintel/internal/database"
	"github.com/fintelcore/fintel/internal/domain"
)

// HistoryRepository writes per-user analysis history rows. History inserts
// always run inside the completing task's transaction so the task row and its
// history row commit together.
type HistoryRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewHistoryRepository creates the repository.
func NewHistoryRepository(db *database.DB, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:  db,
		log: log.With().Str("component", "history_repository").Logger(),
	}
}

// InsertStockTx writes a stock history row from an analysis payload,
// returning the new row ID. Summary fields the payload does not carry are
// stored as zero values.
func (r *HistoryRepository) InsertStockTx(tx *sql.Tx, userID, ticker, style string, payload domain.Payload) (int64, error) {
	blob, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}

	res, err := tx.Exec(`
		INSERT INTO stock_analysis_history
			(user_id, ticker, style, current_price, target_price, stop_loss_price,
			 market_sentiment, risk_summary, ev_summary, ai_summary, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, ticker, style,
		payload.GetFloat("current_price"),
		payload.GetFloat("target_price"),
		payload.GetFloat("stop_loss_price"),
		payload.GetString("market_sentiment"),
		payload.GetString("risk_summary"),
		payload.GetString("ev_summary"),
		payload.GetString("ai_summary"),
		string(blob))
	if err != nil {
		return 0, fmt.Errorf("failed to insert stock history: %w", err)
	}
	return res.LastInsertId()
}

// InsertOptionsTx writes an options history row, returning the new row ID.
// mode is "chain" for basic analyses and "enhanced" for single-contract ones.
func (r *HistoryRepository) InsertOptionsTx(tx *sql.Tx, userID, ticker, mode string, payload domain.Payload) (int64, error) {
	blob, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}

	res, err := tx.Exec(`
		INSERT INTO options_analysis_history
			(user_id, ticker, analysis_mode, expiry_date, option_symbol, strategy, ai_summary, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, ticker, mode,
		payload.GetString("expiry_date"),
		payload.GetString("option_symbol"),
		payload.GetString("strategy"),
		payload.GetString("ai_summary"),
		string(blob))
	if err != nil {
		return 0, fmt.Errorf("failed to insert options history: %w", err)
	}
	return res.LastInsertId()
}
