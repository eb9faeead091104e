package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConnectionString_PlainPath(t *testing.T) {
	connStr := buildConnectionString("/tmp/core.db", ProfileStandard)

	assert.True(t, strings.HasPrefix(connStr, "/tmp/core.db?_pragma=journal_mode(WAL)"))
	assert.Contains(t, connStr, "_pragma=synchronous(NORMAL)")
	assert.Contains(t, connStr, "_pragma=foreign_keys(1)")
}

func TestBuildConnectionString_URIWithQueryKeepsSingleSeparator(t *testing.T) {
	connStr := buildConnectionString("file:x?mode=memory&cache=shared", ProfileCache)

	assert.Equal(t, 1, strings.Count(connStr, "?"))
	assert.True(t, strings.HasPrefix(connStr, "file:x?mode=memory&cache=shared&_pragma=journal_mode(WAL)"))
	assert.Contains(t, connStr, "_pragma=synchronous(OFF)")
}

func TestNew_InMemorySharedCacheURI(t *testing.T) {
	db, err := New(Config{
		Path:    "file:db_test_shared?mode=memory&cache=shared",
		Profile: ProfileStandard,
		Name:    "core",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate())

	// The shared-cache URI must yield one usable database across the pool.
	_, err = db.Exec(`INSERT INTO analysis_tasks
		(id, user_id, task_type, status, priority, input_params, progress_percent, current_step, created_at)
		VALUES ('t1', 'u1', 'stock_analysis', 'PENDING', 100, '{}', 0, 'queued', '2026-01-02 03:04:05')`)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM analysis_tasks`).Scan(&count))
	assert.Equal(t, 1, count)
}
