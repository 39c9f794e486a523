package server

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohortdash/internal/app"
	"cohortdash/internal/breathecode/breathecodetest"
	"cohortdash/internal/config"
	"cohortdash/internal/domain"
	"cohortdash/internal/events"
	"cohortdash/internal/sitemap"
	"cohortdash/internal/syllabus"
)

type testServer struct {
	URL  string
	App  *app.App
	Fake *breathecodetest.Fake
}

func testUpstream(t *testing.T) *breathecodetest.Fake {
	t.Helper()
	b := &syllabus.Builder{}
	b.Add(syllabus.ModuleSpec{
		ID:          1,
		Label:       "Intro",
		Lessons:     syllabus.Refs("a"),
		Replits:     syllabus.Refs(),
		Assignments: syllabus.Refs("b"),
		Quizzes:     syllabus.Refs(),
	})
	doc, err := json.Marshal(b.Build())
	require.NoError(t, err)
	current := 1
	return &breathecodetest.Fake{
		Profile: domain.Profile{
			Roles: []domain.AcademyRole{{Academy: domain.Academy{ID: 4}, Role: "student"}},
			Cohorts: []domain.CohortMembership{{
				Cohort: domain.Cohort{
					ID:              7,
					Slug:            "web-1",
					CurrentModule:   &current,
					Academy:         domain.Academy{ID: 4},
					SyllabusVersion: domain.SyllabusVersion{Slug: "web", Version: 2},
				},
				Role: "STUDENT",
			}},
		},
		CohortTasks: map[string][]domain.Task{
			"7": {
				{ID: 1, AssociatedSlug: "a", Status: domain.TaskDone, Type: domain.TaskLesson},
				{ID: 2, AssociatedSlug: "b", Status: domain.TaskPending, Type: domain.TaskProject, Mandatory: true, DaysDiff: 20},
			},
		},
		LooseTasks:    []domain.Task{{ID: 40, AssociatedSlug: "a", Status: domain.TaskDone}},
		Syllabi:       map[string]string{"4/web/2": string(doc)},
		Roles:         map[string]domain.RoleCapabilities{"student": {Slug: "student", Capabilities: []string{"read_assignment"}}},
		PublicSyllabi: []map[string]string{{"slug": "web"}},
		AssetLists:    map[string][]domain.Asset{"lesson": {{Slug: "what-is-html"}}},
	}
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	fake := testUpstream(t)
	up := fake.Start()
	t.Cleanup(up.Close)

	cfg := config.Default()
	cfg.Upstream.Host = up.URL
	cfg.Upstream.Token = "tok"
	a, err := app.Open(t.TempDir(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	a.Handler.After = func(time.Duration, func()) {}

	handler, err := New(Config{
		Handler:        a.Handler,
		Repo:           a.Repo,
		Sitemap:        a.Client,
		SitemapOptions: sitemap.Options{WebsiteURL: "https://4geeks.com"},
		OverdueDays:    cfg.Dashboard.OverdueDays,
		BasePath:       "/v0",
		Auth:           AuthConfig{JWTSecret: secret},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, App: a, Fake: fake}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func TestSyncThenQueries(t *testing.T) {
	srv := newTestServer(t, "")

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/cohorts/web-1/sync", SyncRequest{Path: "/cohort/web-1/web/v2"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var synced SyncResponse
	require.NoError(t, json.Unmarshal(data, &synced))
	assert.Empty(t, synced.Error)
	assert.True(t, synced.Session.Published)
	assert.Equal(t, 1, synced.Session.Records)
	assert.Equal(t, []string{"read_assignment"}, synced.Session.Capabilities)
	require.Len(t, synced.Unsynced, 1)
	assert.Equal(t, 40, synced.Unsynced[0].ID)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/web-1/assignments", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var records RecordsResponse
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records.Items, 1)
	assert.Len(t, records.Items[0].FilteredModulesByPending, 1)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/web-1/daily", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/web-1/last-done", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/web-1/mandatory-projects", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var slots SlotsResponse
	require.NoError(t, json.Unmarshal(data, &slots))
	assert.Equal(t, 14, slots.MinDays)
	require.Len(t, slots.Items, 1)
	assert.Equal(t, "b", slots.Items[0].Slug)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/web-1/mandatory-projects?min_days=30", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &slots))
	assert.Empty(t, slots.Items)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/web-1/unsynced", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var unsynced TasksResponse
	require.NoError(t, json.Unmarshal(data, &unsynced))
	assert.Len(t, unsynced.Items, 1)
}

func TestSyncWithoutBody(t *testing.T) {
	srv := newTestServer(t, "")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v0/cohorts/web-1/sync", http.NoBody)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	var synced SyncResponse
	require.NoError(t, json.Unmarshal(data, &synced))
	assert.Empty(t, synced.Error)
	assert.True(t, synced.Session.Published)
	assert.Empty(t, synced.Unsynced)
}

func TestSyncFailureResolvesIntoRedirect(t *testing.T) {
	srv := newTestServer(t, "")
	srv.Fake.Fail = map[string]int{"/v1/admissions/academy": http.StatusInternalServerError}

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/cohorts/web-1/sync", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var synced SyncResponse
	require.NoError(t, json.Unmarshal(data, &synced))
	assert.Equal(t, "/choose-program", synced.Redirect)
	require.NotNil(t, synced.Notification)
	assert.Equal(t, "Error fetching role student", synced.Notification.Title)
	assert.NotEmpty(t, synced.Error)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/web-1/assignments", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, "not_found", envelope.Error.Code)
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t, "")
	for i := 0; i < 2; i++ {
		res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/cohorts/web-1/sync", nil, nil)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	}

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/web-1/events?limit=3", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 3)
	assert.Equal(t, events.SyncStarted, page.Items[0].Type)
	require.NotEmpty(t, page.NextCursor)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/web-1/events?limit=3&cursor="+page.NextCursor, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, events.SyncPublished, page.Items[0].Type)
	assert.Empty(t, page.NextCursor)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/web-1/events?cursor=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestJWTAuth(t *testing.T) {
	srv := newTestServer(t, "secret")

	res, _ := doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/web-1/unsynced", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	bad, err := SignToken("other", "student-9", nil)
	require.NoError(t, err)
	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/web-1/unsynced", nil, map[string]string{"Authorization": "Bearer " + bad})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	scoped, err := SignToken("secret", "student-9", []string{"web-1"})
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + scoped}
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/web-1/unsynced", nil, auth)
	assert.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/cohorts/data-2/unsynced", nil, auth)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestSitemapEndpoint(t *testing.T) {
	srv := newTestServer(t, "secret")
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/sitemap.xml", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var set sitemap.URLSet
	require.NoError(t, xml.Unmarshal(data, &set))
	require.Len(t, set.URLs, 2)
	assert.Equal(t, "https://4geeks.com/read/web", set.URLs[0].Loc)
	assert.Equal(t, "https://4geeks.com/lesson/what-is-html", set.URLs[1].Loc)
}

type sliceEvents struct {
	items []domain.SyncEvent
}

func (s sliceEvents) EventsAfter(_ context.Context, _ string, after int64, limit int) ([]domain.SyncEvent, error) {
	out := []domain.SyncEvent{}
	for _, e := range s.items {
		if e.ID > after && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s sliceEvents) LatestEventID(context.Context) (int64, error) { return 0, nil }

func TestWebhookDispatcherForwardsMatchingEvents(t *testing.T) {
	var got []webhookEvent
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		got = append(got, evt)
		assert.Equal(t, "s", r.Header.Get("X-Cohortdash-Secret"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	src := sliceEvents{items: []domain.SyncEvent{
		{ID: 1, Type: events.SyncStarted, CohortSlug: "web-1", Payload: "{}"},
		{ID: 2, Type: events.SyncFailed, CohortSlug: "web-1", Payload: `{"error":"boom"}`},
	}}
	assert.Nil(t, newWebhookDispatcher(src, []config.WebhookConfig{{URL: hook.URL}}, nil))

	d := newWebhookDispatcher(src, []config.WebhookConfig{{URL: hook.URL, Secret: "s", Events: []string{events.SyncFailed}}}, nil)
	require.NotNil(t, d)
	d.dispatchAll(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].ID)
	assert.JSONEq(t, `{"error":"boom"}`, string(got[0].Payload))

	d.dispatchAll(context.Background())
	assert.Len(t, got, 1)
}
