package taskengine

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintelcore/fintel/internal/database"
)

var testDBSeq int

func testDB(t *testing.T) *database.DB {
	t.Helper()
	testDBSeq++
	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:taskengine_test_%d?mode=memory&cache=shared", testDBSeq),
		Profile: database.ProfileStandard,
		Name:    "core",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func newTestTask(userID, ticker, style string) *Task {
	return &Task{
		ID:       uuid.New().String(),
		UserID:   userID,
		TaskType: TypeStockAnalysis,
		Priority: 100,
		InputParams: map[string]any{
			"ticker": ticker,
			"style":  style,
		},
		CurrentStep: "Task created, waiting in queue...",
		CreatedAt:   time.Now().UTC(),
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	task := newTestTask("user-1", "AAPL", "balanced")
	require.NoError(t, repo.Create(task))

	got, err := repo.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "AAPL", got.Param("ticker"))
	assert.Equal(t, "Task created, waiting in queue...", got.CurrentStep)
	assert.Nil(t, got.StartedAt)
}

func TestRepository_GetUnknownTask(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	_, err := repo.Get("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRepository_LifecycleTransitions(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	task := newTestTask("user-1", "AAPL", "balanced")
	require.NoError(t, repo.Create(task))

	require.NoError(t, repo.MarkProcessing(task.ID))
	got, err := repo.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, repo.UpdateProgress(task.ID, 55, "Calculating risk metrics..."))
	got, _ = repo.Get(task.ID)
	assert.Equal(t, 55, got.ProgressPercent)

	require.NoError(t, repo.MarkCompleted(task.ID))
	got, _ = repo.Get(task.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercent)
	assert.NotNil(t, got.CompletedAt)
}

func TestRepository_BoundedErrorMessage(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	task := newTestTask("user-1", "AAPL", "balanced")
	require.NoError(t, repo.Create(task))

	long := make([]byte, maxErrorLen+500)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, repo.MarkFailed(task.ID, string(long)))

	got, err := repo.Get(task.ID)
	require.NoError(t, err)
	assert.Len(t, got.ErrorMessage, maxErrorLen)
}

func TestRepository_UserTasksCappedAt50(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	for i := 0; i < 55; i++ {
		task := newTestTask("user-1", "AAPL", "balanced")
		task.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Create(task))
	}

	tasks, err := repo.GetUserTasks("user-1", 200, "")
	require.NoError(t, err)
	assert.Len(t, tasks, 50)
}

func TestRepository_UserTasksStatusFilter(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	done := newTestTask("user-1", "AAPL", "balanced")
	require.NoError(t, repo.Create(done))
	require.NoError(t, repo.MarkCompleted(done.ID))
	require.NoError(t, repo.Create(newTestTask("user-1", "MSFT", "balanced")))

	tasks, err := repo.GetUserTasks("user-1", 10, StatusCompleted)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, done.ID, tasks[0].ID)
}

func TestRepository_FindActiveSibling(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	sibling := newTestTask("user-1", "AAPL", "balanced")
	require.NoError(t, repo.Create(sibling))

	found, err := repo.FindActiveSibling("AAPL", "balanced", "other-id")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, sibling.ID, found.ID)

	// Completed tasks are not siblings.
	require.NoError(t, repo.MarkCompleted(sibling.ID))
	found, err = repo.FindActiveSibling("AAPL", "balanced", "other-id")
	require.NoError(t, err)
	assert.Nil(t, found)

	// Different style does not match.
	require.NoError(t, repo.Create(newTestTask("user-1", "AAPL", "aggressive")))
	found, err = repo.FindActiveSibling("AAPL", "balanced", "other-id")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRepository_ReapStale(t *testing.T) {
	db := testDB(t)
	repo := NewRepository(db, zerolog.Nop())

	task := newTestTask("user-1", "AAPL", "balanced")
	require.NoError(t, repo.Create(task))
	require.NoError(t, repo.MarkProcessing(task.ID))

	// Backdate started_at beyond the horizon.
	stale := time.Now().UTC().Add(-time.Hour).Format(timeLayout)
	_, err := db.Exec(`UPDATE analysis_tasks SET started_at = ? WHERE id = ?`, stale, task.ID)
	require.NoError(t, err)

	reaped, err := repo.ReapStale(30 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reaped)

	got, err := repo.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "abandoned")
}
