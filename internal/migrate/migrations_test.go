package migrate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohortdash/internal/db"
	"cohortdash/internal/migrate"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	v, err := migrate.Migrate(conn)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = migrate.Migrate(conn)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	var tables []string
	require.NoError(t, conn.Select(&tables, `SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`))
	assert.Contains(t, tables, "cohort_sessions")
	assert.Contains(t, tables, "snapshots")
	assert.Contains(t, tables, "sync_events")
	assert.Contains(t, tables, "unsynced_tasks")
}
