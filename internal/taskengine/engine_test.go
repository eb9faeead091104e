package taskengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintelcore/fintel/internal/config"
	"github.com/fintelcore/fintel/internal/database"
	"github.com/fintelcore/fintel/internal/domain"
)

func okStockRunner(ctx context.Context, ticker, style string) (domain.Payload, error) {
	return domain.Payload{
		"ticker":           ticker,
		"style":            style,
		"current_price":    190.5,
		"target_price":     210.0,
		"stop_loss_price":  175.0,
		"market_sentiment": "bullish",
		"ai_summary":       "Steady uptrend with supportive fundamentals.",
	}, nil
}

func okOptionsRunner(ctx context.Context, ticker string, params map[string]string) (domain.Payload, error) {
	return domain.Payload{
		"ticker":      ticker,
		"expiry_date": params["expiry_date"],
		"strategy":    "covered call",
		"ai_summary":  "Premium-rich chain.",
	}, nil
}

type testEnv struct {
	engine    *Engine
	db        *database.DB
	repo      *Repository
	cacheRepo *DailyCacheRepository
}

func newTestEnv(t *testing.T, stock domain.StockRunner, options domain.OptionsRunner) *testEnv {
	t.Helper()
	db := testDB(t)
	log := zerolog.Nop()

	repo := NewRepository(db, log)
	cacheRepo := NewDailyCacheRepository(db, log)
	historyRepo := NewHistoryRepository(db, log)

	cfg := config.EngineConfig{
		MaxWorkers:          2,
		QueuePollTimeout:    20 * time.Millisecond,
		WaitingMaxWait:      500 * time.Millisecond,
		WaitingPollInterval: 10 * time.Millisecond,
		CachedPlayback:      30 * time.Millisecond,
		ReaperHorizon:       30 * time.Minute,
	}

	e := NewEngine(cfg, repo, cacheRepo, historyRepo, NewHub(), stock, options, domain.NopQuota{}, log)
	e.sleep = func(d time.Duration) {
		if d > 10*time.Millisecond {
			d = 10 * time.Millisecond
		}
		time.Sleep(d)
	}
	e.Init()
	t.Cleanup(e.Shutdown)

	return &testEnv{engine: e, db: db, repo: repo, cacheRepo: cacheRepo}
}

func waitForTerminal(t *testing.T, e *Engine, taskID string) *Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := e.GetTaskStatus(taskID)
		require.NoError(t, err)
		if task.Status == StatusCompleted || task.Status == StatusFailed {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task did not reach a terminal state")
	return nil
}

func TestEngine_FreshStockAnalysis(t *testing.T) {
	env := newTestEnv(t, okStockRunner, okOptionsRunner)

	id, err := env.engine.CreateTask(context.Background(), CreateRequest{
		UserID:   "user-1",
		TaskType: TypeStockAnalysis,
		InputParams: map[string]any{
			"ticker": "AAPL",
			"style":  "balanced",
		},
		Priority: 100,
	})
	require.NoError(t, err)

	task := waitForTerminal(t, env.engine, id)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, 100, task.ProgressPercent)
	require.NotNil(t, task.RelatedHistoryID)
	assert.Equal(t, "stock", task.RelatedHistoryType)
	assert.NotEmpty(t, task.ResultData)

	// The shared daily cache is populated for sibling reuse.
	row, err := env.cacheRepo.Get("AAPL", "balanced", Today())
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, id, row.SourceTaskID)

	// The history row carries the extracted summary fields.
	var price float64
	err = env.db.QueryRow(`SELECT current_price FROM stock_analysis_history WHERE id = ?`,
		*task.RelatedHistoryID).Scan(&price)
	require.NoError(t, err)
	assert.Equal(t, 190.5, price)
}

func TestEngine_CachedPlayback(t *testing.T) {
	env := newTestEnv(t, okStockRunner, okOptionsRunner)

	cached, _ := json.Marshal(map[string]any{
		"ticker":        "AAPL",
		"current_price": 188.8,
		"ai_summary":    "From the shared cache.",
	})

	id, err := env.engine.CreateTask(context.Background(), CreateRequest{
		UserID:   "user-2",
		TaskType: TypeStockAnalysis,
		InputParams: map[string]any{
			"ticker": "AAPL",
			"style":  "balanced",
		},
		CacheMode:  CacheModeCached,
		CachedData: cached,
	})
	require.NoError(t, err)

	task := waitForTerminal(t, env.engine, id)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.JSONEq(t, string(cached), string(task.ResultData))
	require.NotNil(t, task.RelatedHistoryID)

	// Playback must not write the daily cache; only fresh runs do.
	row, err := env.cacheRepo.Get("AAPL", "balanced", Today())
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestEngine_WaitingTaskReusesSiblingResult(t *testing.T) {
	env := newTestEnv(t, okStockRunner, okOptionsRunner)

	source := newTestTask("user-1", "AAPL", "balanced")
	require.NoError(t, env.repo.Create(source))
	require.NoError(t, env.repo.MarkProcessing(source.ID))

	id, err := env.engine.CreateTask(context.Background(), CreateRequest{
		UserID:   "user-2",
		TaskType: TypeStockAnalysis,
		InputParams: map[string]any{
			"ticker": "AAPL",
			"style":  "balanced",
		},
		CacheMode:    CacheModeWaiting,
		SourceTaskID: source.ID,
	})
	require.NoError(t, err)

	// Simulate the source finishing after a short delay.
	go func() {
		time.Sleep(50 * time.Millisecond)
		payload, _ := json.Marshal(map[string]any{"current_price": 191.0, "ai_summary": "fresh"})
		_ = database.WithTransaction(env.db.Conn(), func(tx *sql.Tx) error {
			_, err := env.cacheRepo.InsertTx(tx, "AAPL", "balanced", Today(), payload, source.ID)
			return err
		})
	}()

	task := waitForTerminal(t, env.engine, id)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Contains(t, string(task.ResultData), "191")
}

func TestEngine_WaitingTaskFailsWhenSourceFails(t *testing.T) {
	env := newTestEnv(t, okStockRunner, okOptionsRunner)

	source := newTestTask("user-1", "AAPL", "balanced")
	require.NoError(t, env.repo.Create(source))
	require.NoError(t, env.repo.MarkFailed(source.ID, "upstream data unavailable"))

	id, err := env.engine.CreateTask(context.Background(), CreateRequest{
		UserID:   "user-2",
		TaskType: TypeStockAnalysis,
		InputParams: map[string]any{
			"ticker": "AAPL",
			"style":  "balanced",
		},
		CacheMode:    CacheModeWaiting,
		SourceTaskID: source.ID,
	})
	require.NoError(t, err)

	task := waitForTerminal(t, env.engine, id)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, "upstream data unavailable")
}

func TestEngine_WaitingTaskTimesOut(t *testing.T) {
	env := newTestEnv(t, okStockRunner, okOptionsRunner)

	source := newTestTask("user-1", "TSLA", "balanced")
	require.NoError(t, env.repo.Create(source))
	require.NoError(t, env.repo.MarkProcessing(source.ID))

	id, err := env.engine.CreateTask(context.Background(), CreateRequest{
		UserID:   "user-2",
		TaskType: TypeStockAnalysis,
		InputParams: map[string]any{
			"ticker": "TSLA",
			"style":  "balanced",
		},
		CacheMode:    CacheModeWaiting,
		SourceTaskID: source.ID,
	})
	require.NoError(t, err)

	task := waitForTerminal(t, env.engine, id)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, "timed out")
}

func TestEngine_RunnerErrorPayloadFailsTask(t *testing.T) {
	failing := func(ctx context.Context, ticker, style string) (domain.Payload, error) {
		return domain.Payload{"error": "no market data for ticker"}, nil
	}
	env := newTestEnv(t, failing, okOptionsRunner)

	id, err := env.engine.CreateTask(context.Background(), CreateRequest{
		UserID:   "user-1",
		TaskType: TypeStockAnalysis,
		InputParams: map[string]any{
			"ticker": "NOPE",
			"style":  "balanced",
		},
	})
	require.NoError(t, err)

	task := waitForTerminal(t, env.engine, id)
	assert.Equal(t, StatusFailed, task.Status)
	// Stored verbatim so callers can match on the runner's wording.
	assert.Equal(t, "no market data for ticker", task.ErrorMessage)
}

func TestEngine_FreshOptionsAnalysis(t *testing.T) {
	env := newTestEnv(t, okStockRunner, okOptionsRunner)

	id, err := env.engine.CreateTask(context.Background(), CreateRequest{
		UserID:   "user-1",
		TaskType: TypeOptionAnalysis,
		InputParams: map[string]any{
			"ticker":      "AAPL",
			"expiry_date": "2026-09-18",
		},
	})
	require.NoError(t, err)

	task := waitForTerminal(t, env.engine, id)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, "options", task.RelatedHistoryType)

	var mode string
	err = env.db.QueryRow(`SELECT analysis_mode FROM options_analysis_history WHERE id = ?`,
		*task.RelatedHistoryID).Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "chain", mode)
}

func TestEngine_CreateTaskValidation(t *testing.T) {
	env := newTestEnv(t, okStockRunner, okOptionsRunner)
	ctx := context.Background()

	_, err := env.engine.CreateTask(ctx, CreateRequest{
		UserID:      "user-1",
		TaskType:    TypeStockAnalysis,
		InputParams: map[string]any{"ticker": "AAPL"},
	})
	assert.ErrorContains(t, err, "style")

	_, err = env.engine.CreateTask(ctx, CreateRequest{
		UserID:      "user-1",
		TaskType:    TypeOptionAnalysis,
		InputParams: map[string]any{"ticker": "AAPL"},
	})
	assert.ErrorContains(t, err, "expiry_date")

	_, err = env.engine.CreateTask(ctx, CreateRequest{
		UserID:      "user-1",
		TaskType:    TypeEnhancedOptionAnalysis,
		InputParams: map[string]any{"ticker": "AAPL"},
	})
	assert.ErrorContains(t, err, "option_identifier")

	_, err = env.engine.CreateTask(ctx, CreateRequest{
		UserID:   "user-1",
		TaskType: "mystery_analysis",
	})
	assert.ErrorContains(t, err, "unknown task type")
}

func TestEngine_QuotaDenialBlocksCreation(t *testing.T) {
	db := testDB(t)
	log := zerolog.Nop()
	repo := NewRepository(db, log)

	denied := quotaFunc(func(ctx context.Context, userID, taskType string) error {
		return errors.New("quota exhausted")
	})

	e := NewEngine(config.EngineConfig{MaxWorkers: 1, QueuePollTimeout: 20 * time.Millisecond},
		repo, NewDailyCacheRepository(db, log), NewHistoryRepository(db, log),
		NewHub(), okStockRunner, okOptionsRunner, denied, log)
	e.Init()
	t.Cleanup(e.Shutdown)

	_, err := e.CreateTask(context.Background(), CreateRequest{
		UserID:   "user-1",
		TaskType: TypeStockAnalysis,
		InputParams: map[string]any{
			"ticker": "AAPL",
			"style":  "balanced",
		},
	})
	require.ErrorContains(t, err, "quota exhausted")

	// No row may exist for a denied creation.
	tasks, err := repo.GetUserTasks("user-1", 10, "")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestEngine_InitIsIdempotent(t *testing.T) {
	env := newTestEnv(t, okStockRunner, okOptionsRunner)
	env.engine.Init()
	env.engine.Init()

	id, err := env.engine.CreateTask(context.Background(), CreateRequest{
		UserID:   "user-1",
		TaskType: TypeStockAnalysis,
		InputParams: map[string]any{
			"ticker": "AAPL",
			"style":  "balanced",
		},
	})
	require.NoError(t, err)
	waitForTerminal(t, env.engine, id)
}

func TestEngine_ShutdownRejectsNewTasks(t *testing.T) {
	env := newTestEnv(t, okStockRunner, okOptionsRunner)
	env.engine.Shutdown()

	_, err := env.engine.CreateTask(context.Background(), CreateRequest{
		UserID:   "user-1",
		TaskType: TypeStockAnalysis,
		InputParams: map[string]any{
			"ticker": "AAPL",
			"style":  "balanced",
		},
	})
	assert.ErrorContains(t, err, "not running")
}

// quotaFunc adapts a function to domain.QuotaService.
type quotaFunc func(ctx context.Context, userID, taskType string) error

func (f quotaFunc) Charge(ctx context.Context, userID, taskType string) error {
	return f(ctx, userID, taskType)
}
