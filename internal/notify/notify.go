// Package notify delivers user-facing notifications raised by failed dashboard
// operations.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"cohortdash/internal/config"
	"cohortdash/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// Notifier delivers a notification about a cohort.
type Notifier interface {
	Notify(ctx context.Context, cohortSlug string, n domain.Notification) error
}

// Log writes notifications to the logger.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(_ context.Context, cohortSlug string, n domain.Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{
		zap.String("cohort", cohortSlug),
		zap.String("title", n.Title),
		zap.String("status", n.Status),
	}
	if n.Description != "" {
		fields = append(fields, zap.String("description", n.Description))
	}
	if n.Status == "error" {
		logger.Warn("notification", fields...)
	} else {
		logger.Info("notification", fields...)
	}
	return nil
}

// Multi fans a notification out to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, cohortSlug string, n domain.Notification) error {
	var first error
	for _, nt := range m {
		if err := nt.Notify(ctx, cohortSlug, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps notifications in memory.
type Recorder struct {
	Sent []Sent
}

type Sent struct {
	CohortSlug   string
	Notification domain.Notification
}

func (r *Recorder) Notify(_ context.Context, cohortSlug string, n domain.Notification) error {
	r.Sent = append(r.Sent, Sent{CohortSlug: cohortSlug, Notification: n})
	return nil
}

// Webhook posts notifications as JSON to the configured hooks.
type Webhook struct {
	hooks  []config.WebhookConfig
	client *http.Client
	logger *zap.Logger
}

func NewWebhook(hooks []config.WebhookConfig, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		hooks:  hooks,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		logger: logger,
	}
}

type webhookPayload struct {
	CohortSlug   string              `json:"cohort_slug"`
	Notification domain.Notification `json:"notification"`
	TS           string              `json:"ts"`
}

func (w *Webhook) Notify(ctx context.Context, cohortSlug string, n domain.Notification) error {
	var first error
	for _, hook := range w.hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" || !matchStatus(hook.Statuses, n.Status) {
			continue
		}
		if err := w.post(ctx, hook, cohortSlug, n); err != nil {
			w.logger.Warn("webhook delivery failed", zap.String("url", hook.URL), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (w *Webhook) post(ctx context.Context, hook config.WebhookConfig, cohortSlug string, n domain.Notification) error {
	data, err := json.Marshal(webhookPayload{
		CohortSlug:   cohortSlug,
		Notification: n,
		TS:           time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	client := w.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cohortdash-Status", n.Status)
	req.Header.Set("X-Cohortdash-Cohort", cohortSlug)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Cohortdash-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func matchStatus(statuses []string, status string) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if strings.EqualFold(strings.TrimSpace(s), status) {
			return true
		}
	}
	return false
}
