package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"cohortdash/internal/config"
	"cohortdash/internal/domain"
	"cohortdash/internal/notify"
)

type hookSink struct {
	mu      sync.Mutex
	bodies  []map[string]any
	secrets []string
}

func (s *hookSink) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.secrets = append(s.secrets, r.Header.Get("X-Cohortdash-Secret"))
		s.mu.Unlock()
		w.WriteHeader(status)
	}
}

func TestWebhookFiltersAndDelivers(t *testing.T) {
	sink := &hookSink{}
	srv := httptest.NewServer(sink.handler(http.StatusNoContent))
	defer srv.Close()
	disabled := false

	w := notify.NewWebhook([]config.WebhookConfig{
		{URL: srv.URL, Secret: "s3cret", Statuses: []string{"error"}},
		{URL: srv.URL, Enabled: &disabled},
		{URL: srv.URL, Statuses: []string{"info"}},
	}, nil)

	err := w.Notify(context.Background(), "web-1", domain.Notification{Title: "boom", Status: "error"})
	require.NoError(t, err)
	require.Len(t, sink.bodies, 1)
	assert.Equal(t, "web-1", sink.bodies[0]["cohort_slug"])
	assert.Equal(t, "s3cret", sink.secrets[0])
}

func TestWebhookReportsFailure(t *testing.T) {
	sink := &hookSink{}
	srv := httptest.NewServer(sink.handler(http.StatusInternalServerError))
	defer srv.Close()

	w := notify.NewWebhook([]config.WebhookConfig{{URL: srv.URL}}, nil)
	err := w.Notify(context.Background(), "web-1", domain.Notification{Title: "boom", Status: "error"})
	assert.Error(t, err)
}

func TestLogAndMulti(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rec := &notify.Recorder{}
	m := notify.Multi{notify.Log{Logger: zap.New(core)}, rec}

	require.NoError(t, m.Notify(context.Background(), "web-1", domain.Notification{Title: "invalid", Status: "error", Description: "x"}))
	require.Len(t, rec.Sent, 1)
	assert.Equal(t, "web-1", rec.Sent[0].CohortSlug)
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "notification", entries[0].Message)
	assert.Equal(t, "invalid", entries[0].ContextMap()["title"])
}
