package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Event types recorded for a dashboard sync.
const (
	SyncStarted      = "sync.started"
	SyncPublished    = "sync.published"
	SyncFailed       = "sync.failed"
	SyncSkipped      = "sync.skipped"
	CohortInvalid    = "cohort.invalid"
	SessionCleared   = "session.cleared"
	UnsyncedDetected = "unsynced.detected"
	NotificationSent = "notification.sent"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records one event using ex, which may be the database or an open
// transaction.
func (w Writer) Append(ctx context.Context, ex sqlx.ExecerContext, evtType, cohortSlug, runID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO sync_events(ts,type,cohort_slug,run_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullable(cohortSlug), nullable(runID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
