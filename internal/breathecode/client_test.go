package breathecode_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohortdash/internal/breathecode"
	"cohortdash/internal/breathecode/breathecodetest"
	"cohortdash/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestTasksByStudent(t *testing.T) {
	fake := &breathecodetest.Fake{
		CohortTasks: map[string][]domain.Task{
			"5": {{ID: 1, AssociatedSlug: "a", Status: domain.TaskDone, CreatedAt: "2024-01-01T00:00:00Z"}},
		},
		LooseTasks: []domain.Task{{ID: 2, AssociatedSlug: "b", Status: domain.TaskPending, DaysDiff: 3}},
	}
	srv := fake.Start()
	defer srv.Close()

	c := breathecode.New(srv.URL, "tok")
	c.Now = func() time.Time { return time.Date(2024, 1, 21, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	tasks, err := c.TasksByStudent(ctx, breathecode.TaskQuery{Cohort: intPtr(5), Limit: 1000})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 20, tasks[0].DaysDiff)

	loose, err := c.TasksByStudent(ctx, breathecode.TaskQuery{})
	require.NoError(t, err)
	require.Len(t, loose, 1)
	assert.Equal(t, 3, loose[0].DaysDiff)

	reqs := fake.Requests()
	assert.Contains(t, reqs, "/v1/assignment/user/me/task?cohort=5&limit=1000")
	assert.Contains(t, reqs, "/v1/assignment/user/me/task?cohort=null")
}

func TestSyllabusAndRole(t *testing.T) {
	fake := &breathecodetest.Fake{
		Syllabi: map[string]string{
			"4/web/2": `{"slug":"web","version":2,"json":{"days":[{"id":1,"lessons":[],"replits":[],"assignments":[],"quizzes":[]}]}}`,
		},
		Roles: map[string]domain.RoleCapabilities{
			"student": {Slug: "student", Capabilities: []string{"read_assignment"}},
		},
	}
	srv := fake.Start()
	defer srv.Close()
	c := breathecode.New(srv.URL, "")
	ctx := context.Background()

	p, err := c.Syllabus(ctx, 4, "web", 2)
	require.NoError(t, err)
	assert.True(t, p.Loaded())
	assert.Len(t, p.Modules(), 1)

	role, err := c.Role(ctx, "student")
	require.NoError(t, err)
	assert.Equal(t, []string{"read_assignment"}, role.Capabilities)

	_, err = c.Role(ctx, "ghost")
	var apiErr *breathecode.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestAssetsListing(t *testing.T) {
	fake := &breathecodetest.Fake{
		Assets: map[string]domain.Asset{"intro": {Slug: "intro", AssetType: "LESSON"}},
		AssetLists: map[string][]domain.Asset{
			"lesson": {{Slug: "intro"}, {Slug: "loops"}},
		},
		PublicSyllabi: []map[string]string{{"slug": "web"}},
	}
	srv := fake.Start()
	defer srv.Close()
	c := breathecode.New(srv.URL, "")
	ctx := context.Background()

	asset, err := c.Asset(ctx, "intro")
	require.NoError(t, err)
	assert.Equal(t, "LESSON", asset.AssetType)

	list, err := c.Assets(ctx, "lesson", false)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	empty, err := c.Assets(ctx, "project", true)
	require.NoError(t, err)
	assert.Empty(t, empty)

	syllabi, err := c.PublicSyllabi(ctx, "web")
	require.NoError(t, err)
	require.Len(t, syllabi, 1)
	assert.Equal(t, "web", syllabi[0].Slug)
}

func TestForcedFailure(t *testing.T) {
	fake := &breathecodetest.Fake{Fail: map[string]int{"/v1/admissions/me": http.StatusUnauthorized}}
	srv := fake.Start()
	defer srv.Close()
	_, err := breathecode.New(srv.URL, "bad").Me(context.Background())
	var apiErr *breathecode.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestConcurrentCallsShareClient(t *testing.T) {
	fake := &breathecodetest.Fake{
		AssetLists: map[string][]domain.Asset{
			"lesson":   {{Slug: "intro"}},
			"exercise": {{Slug: "loops"}},
			"project":  {{Slug: "todo"}},
		},
	}
	srv := fake.Start()
	defer srv.Close()
	c := breathecode.New(srv.URL, "")

	p := pool.NewWithResults[int]().WithContext(context.Background()).WithCancelOnError()
	for i := 0; i < 8; i++ {
		kind := []string{"lesson", "exercise", "project"}[i%3]
		p.Go(func(ctx context.Context) (int, error) {
			list, err := c.Assets(ctx, kind, false)
			return len(list), err
		})
	}
	counts, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 1, 1, 1, 1, 1}, counts)
	assert.Nil(t, c.HTTPClient)
}
