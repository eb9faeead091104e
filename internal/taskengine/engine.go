package taskengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fintelcore/fintel/internal/config"
	"github.com/fintelcore/fintel/internal/domain"
)

// CreateRequest carries everything the HTTP layer decided at dispatch time.
type CreateRequest struct {
	UserID       string
	TaskType     string
	InputParams  map[string]any
	Priority     int
	CacheMode    string
	CachedData   json.RawMessage
	SourceTaskID string
}

// Engine owns the worker pool and the task lifecycle.
type Engine struct {
	cfg         config.EngineConfig
	repo        *Repository
	cacheRepo   *DailyCacheRepository
	historyRepo *HistoryRepository
	hub         *Hub
	queue       *queue

	stockRunner   domain.StockRunner
	optionsRunner domain.OptionsRunner
	quota         domain.QuotaService

	log     zerolog.Logger
	running atomic.Bool
	wg      sync.WaitGroup

	// sleep is replaced in tests to collapse playback pacing.
	sleep func(time.Duration)
}

// NewEngine assembles an engine. Pass domain.NopQuota{} when no quota
// collaborator is configured.
func NewEngine(
	cfg config.EngineConfig,
	repo *Repository,
	cacheRepo *DailyCacheRepository,
	historyRepo *HistoryRepository,
	hub *Hub,
	stockRunner domain.StockRunner,
	optionsRunner domain.OptionsRunner,
	quota domain.QuotaService,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		cfg:           cfg,
		repo:          repo,
		cacheRepo:     cacheRepo,
		historyRepo:   historyRepo,
		hub:           hub,
		queue:         newQueue(),
		stockRunner:   stockRunner,
		optionsRunner: optionsRunner,
		quota:         quota,
		log:           log.With().Str("component", "task_engine").Logger(),
		sleep:         time.Sleep,
	}
}

// Init starts the worker pool. Idempotent: a running engine ignores repeat
// calls.
func (e *Engine) Init() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}

	workers := e.cfg.MaxWorkers
	if workers <= 0 {
		workers = 3
	}

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.workerLoop(i)
	}
	e.log.Info().Int("workers", workers).Msg("Task engine started")
}

// Shutdown stops accepting tasks and waits for workers to drain. Workers
// notice within one queue-poll timeout.
func (e *Engine) Shutdown() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.queue.Close()
	e.wg.Wait()
	e.log.Info().Msg("Task engine stopped")
}

// CreateTask validates, charges quota, persists a PENDING row, and enqueues
// it. Returns the new task ID.
func (e *Engine) CreateTask(ctx context.Context, req CreateRequest) (string, error) {
	if !e.running.Load() {
		return "", fmt.Errorf("task engine is not running")
	}
	if err := validateRequest(req); err != nil {
		return "", err
	}

	if err := e.quota.Charge(ctx, req.UserID, req.TaskType); err != nil {
		return "", fmt.Errorf("quota check failed: %w", err)
	}

	task := &Task{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		TaskType:    req.TaskType,
		Status:      StatusPending,
		Priority:    req.Priority,
		InputParams: req.InputParams,
		CurrentStep: "Task created, waiting in queue...",
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.repo.Create(task); err != nil {
		return "", err
	}

	e.queue.Push(&descriptor{
		TaskID:       task.ID,
		TaskType:     task.TaskType,
		Priority:     task.Priority,
		CacheMode:    req.CacheMode,
		CachedData:   req.CachedData,
		SourceTaskID: req.SourceTaskID,
		EnqueuedAt:   time.Now(),
	})

	e.log.Info().
		Str("task_id", task.ID).
		Str("task_type", task.TaskType).
		Str("cache_mode", req.CacheMode).
		Str("user_id", task.UserID).
		Msg("Task created")
	return task.ID, nil
}

// validateRequest rejects malformed tasks before any row exists.
func validateRequest(req CreateRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	get := func(key string) string {
		if v, ok := req.InputParams[key].(string); ok {
			return v
		}
		return ""
	}

	switch req.TaskType {
	case TypeStockAnalysis:
		if get("ticker") == "" {
			return fmt.Errorf("stock analysis requires a ticker")
		}
		if get("style") == "" {
			return fmt.Errorf("stock analysis requires an analysis style")
		}
	case TypeOptionAnalysis:
		if get("ticker") == "" {
			return fmt.Errorf("option analysis requires a ticker")
		}
		if get("expiry_date") == "" {
			return fmt.Errorf("option analysis requires expiry_date")
		}
	case TypeEnhancedOptionAnalysis:
		if get("ticker") == "" {
			return fmt.Errorf("option analysis requires a ticker")
		}
		if get("option_identifier") == "" {
			return fmt.Errorf("enhanced option analysis requires option_identifier")
		}
	default:
		return fmt.Errorf("unknown task type %q", req.TaskType)
	}

	switch req.CacheMode {
	case CacheModeNone, CacheModeCached, CacheModeWaiting:
	default:
		return fmt.Errorf("unknown cache mode %q", req.CacheMode)
	}
	if req.CacheMode == CacheModeCached && len(req.CachedData) == 0 {
		return fmt.Errorf("cached dispatch requires cached data")
	}
	if req.CacheMode == CacheModeWaiting && req.SourceTaskID == "" {
		return fmt.Errorf("waiting dispatch requires a source task id")
	}
	return nil
}

// GetTaskStatus returns the current task row.
func (e *Engine) GetTaskStatus(taskID string) (*Task, error) {
	return e.repo.Get(taskID)
}

// GetUserTasks returns a user's recent tasks, capped at 50.
func (e *Engine) GetUserTasks(userID string, limit int, status Status) ([]*Task, error) {
	return e.repo.GetUserTasks(userID, limit, status)
}

// Hub exposes the progress hub for the streaming endpoint.
func (e *Engine) Hub() *Hub {
	return e.hub
}

// QueueDepth reports pending descriptors, for the status endpoint.
func (e *Engine) QueueDepth() int {
	return e.queue.Len()
}

// ReapStale delegates to the repository; wired to startup and cron.
func (e *Engine) ReapStale() (int64, error) {
	return e.repo.ReapStale(e.cfg.ReaperHorizon)
}

// workerLoop is one pool member. It owns each task end-to-end from the
// PROCESSING transition to the terminal state.
func (e *Engine) workerLoop(id int) {
	defer e.wg.Done()
	log := e.log.With().Int("worker", id).Logger()

	pollTimeout := e.cfg.QueuePollTimeout
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}

	for e.running.Load() {
		d := e.queue.Pop(pollTimeout)
		if d == nil {
			continue
		}

		log.Debug().Str("task_id", d.TaskID).Msg("Worker picked up task")
		e.runTask(log, d)
	}
}

// runTask executes one descriptor, converting panics and errors into a
// FAILED transition.
func (e *Engine) runTask(log zerolog.Logger, d *descriptor) {
	if err := e.repo.MarkProcessing(d.TaskID); err != nil {
		log.Error().Err(err).Str("task_id", d.TaskID).Msg("Failed to start task")
		return
	}
	e.publish(d.TaskID, StatusProcessing, 0, "Starting analysis...", "")

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic during task execution: %v", p)
			}
		}()
		err = e.execute(d)
	}()

	if err != nil {
		log.Warn().Err(err).Str("task_id", d.TaskID).Msg("Task failed")
		if dbErr := e.repo.MarkFailed(d.TaskID, err.Error()); dbErr != nil {
			log.Error().Err(dbErr).Str("task_id", d.TaskID).Msg("Failed to record task failure")
		}
		e.publish(d.TaskID, StatusFailed, 0, "", err.Error())
		return
	}

	if dbErr := e.repo.MarkCompleted(d.TaskID); dbErr != nil {
		log.Error().Err(dbErr).Str("task_id", d.TaskID).Msg("Failed to record task completion")
		return
	}
	e.publish(d.TaskID, StatusCompleted, 100, "Analysis completed successfully", "")
	log.Info().Str("task_id", d.TaskID).Msg("Task completed")
}

// execute dispatches on cache mode and task type.
func (e *Engine) execute(d *descriptor) error {
	switch d.CacheMode {
	case CacheModeCached:
		return e.runCached(d)
	case CacheModeWaiting:
		return e.runWaiting(d)
	}

	switch d.TaskType {
	case TypeStockAnalysis:
		return e.runFreshStock(d)
	case TypeOptionAnalysis, TypeEnhancedOptionAnalysis:
		return e.runFreshOptions(d)
	default:
		return fmt.Errorf("unknown task type %q", d.TaskType)
	}
}

// progress writes one step to the row and mirrors it to the hub.
func (e *Engine) progress(taskID string, percent int, step string) {
	if err := e.repo.UpdateProgress(taskID, percent, step); err != nil {
		e.log.Error().Err(err).Str("task_id", taskID).Msg("Failed to write progress")
	}
	e.publish(taskID, StatusProcessing, percent, step, "")
}

func (e *Engine) publish(taskID string, status Status, percent int, step, errMsg string) {
	if e.hub == nil {
		return
	}
	e.hub.Publish(ProgressEvent{
		TaskID:  taskID,
		Status:  status,
		Percent: percent,
		Step:    step,
		Error:   errMsg,
	})
}
