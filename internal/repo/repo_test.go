package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohortdash/internal/db"
	"cohortdash/internal/domain"
	"cohortdash/internal/events"
	"cohortdash/internal/migrate"
	"cohortdash/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)
	r := repo.New(conn)
	fixed := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	r.Now = fixed
	r.Events.Now = fixed
	return r, context.Background()
}

func TestSessionLifecycle(t *testing.T) {
	r, ctx := newTestRepo(t)
	current := 3
	sess := domain.CohortSession{
		Cohort:              domain.Cohort{ID: 5, Slug: "web-1", CurrentModule: &current},
		SelectedProgramSlug: "/cohort/web-1/web/v2",
		CohortRole:          "STUDENT",
	}
	require.NoError(t, r.SaveSession(ctx, sess, []string{"read_assignment"}))

	got, caps, err := r.GetSession(ctx, "web-1")
	require.NoError(t, err)
	assert.Equal(t, sess, got)
	assert.Equal(t, []string{"read_assignment"}, caps)

	sess.CohortRole = "TEACHER"
	require.NoError(t, r.SaveSession(ctx, sess, nil))
	got, caps, err = r.GetSession(ctx, "web-1")
	require.NoError(t, err)
	assert.Equal(t, "TEACHER", got.CohortRole)
	assert.Empty(t, caps)

	slugs, err := r.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"web-1"}, slugs)

	require.NoError(t, r.DeleteSession(ctx, "web-1"))
	_, _, err = r.GetSession(ctx, "web-1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	require.NoError(t, r.DeleteSession(ctx, "web-1"))

	evts, err := r.EventsAfter(ctx, "web-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, events.SessionCleared, evts[0].Type)
}

func TestSaveSessionRequiresSlug(t *testing.T) {
	r, ctx := newTestRepo(t)
	assert.Error(t, r.SaveSession(ctx, domain.CohortSession{}, nil))
}

func TestSnapshotsNewestWins(t *testing.T) {
	r, ctx := newTestRepo(t)
	_, err := r.LatestSnapshot(ctx, "web-1")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	first := []domain.AssignmentRecord{{ID: 1, Label: "one", Modules: []domain.Slot{{Slug: "a"}}, FilteredModules: []domain.Slot{}}}
	second := []domain.AssignmentRecord{{ID: 2, Label: "two", Modules: []domain.Slot{{Slug: "b"}}, FilteredModules: []domain.Slot{}, FilteredModulesByPending: []domain.Slot{}}}
	_, err = r.SaveSnapshot(ctx, "web-1", "run-1", first)
	require.NoError(t, err)
	saved, err := r.SaveSnapshot(ctx, "web-1", "run-2", second)
	require.NoError(t, err)

	latest, err := r.LatestSnapshot(ctx, "web-1")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, latest.ID)
	require.Len(t, latest.Records, 1)
	assert.Equal(t, 2, latest.Records[0].ID)
	assert.NotNil(t, latest.Records[0].FilteredModulesByPending)

	evts, err := r.EventsAfter(ctx, "web-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, events.SyncPublished, evts[1].Type)
	assert.Equal(t, "run-2", evts[1].RunID)
}

func TestSnapshotsPruned(t *testing.T) {
	r, ctx := newTestRepo(t)
	for i := 0; i < 15; i++ {
		_, err := r.SaveSnapshot(ctx, "web-1", "", nil)
		require.NoError(t, err)
	}
	var count int
	require.NoError(t, r.DB.GetContext(ctx, &count, `SELECT count(*) FROM snapshots WHERE cohort_slug='web-1'`))
	assert.Equal(t, 10, count)
}

func TestUnsyncedReplace(t *testing.T) {
	r, ctx := newTestRepo(t)
	require.NoError(t, r.ReplaceUnsynced(ctx, "web-1", []domain.Task{{ID: 1, AssociatedSlug: "a"}, {ID: 1, AssociatedSlug: "a"}}))
	got, err := r.ListUnsynced(ctx, "web-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, r.ReplaceUnsynced(ctx, "web-1", nil))
	got, err = r.ListUnsynced(ctx, "web-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEventsAcrossCohorts(t *testing.T) {
	r, ctx := newTestRepo(t)
	require.NoError(t, r.AppendEvent(ctx, events.SyncStarted, "a", "r1", nil))
	require.NoError(t, r.AppendEvent(ctx, events.SyncStarted, "b", "r2", events.EventPayload{"k": "v"}))

	all, err := r.EventsAfter(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	latest, err := r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, all[1].ID, latest)

	after, err := r.EventsAfter(ctx, "", all[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.JSONEq(t, `{"k":"v"}`, after[0].Payload)
}
