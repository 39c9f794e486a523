package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"cohortdash/internal/domain"
	"cohortdash/internal/events"
)

// snapshotsKept bounds the snapshot history per cohort.
const snapshotsKept = 10

type Repo struct {
	DB     *sqlx.DB
	Events events.Writer
	Now    func() time.Time
}

var ErrNotFound = errors.New("not found")

func New(db *sqlx.DB) Repo {
	return Repo{DB: db, Events: events.Writer{}, Now: time.Now}
}

func (r Repo) now() string {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

type sessionRow struct {
	CohortSlug       string `db:"cohort_slug"`
	SessionJSON      string `db:"session_json"`
	CapabilitiesJSON string `db:"capabilities_json"`
	UpdatedAt        string `db:"updated_at"`
}

// SaveSession stores the cohort session and the user's capabilities for it.
func (r Repo) SaveSession(ctx context.Context, session domain.CohortSession, capabilities []string) error {
	if session.Slug == "" {
		return fmt.Errorf("session cohort slug required")
	}
	sessJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if capabilities == nil {
		capabilities = []string{}
	}
	capsJSON, err := json.Marshal(capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO cohort_sessions(cohort_slug,session_json,capabilities_json,updated_at) VALUES (?,?,?,?)
		ON CONFLICT(cohort_slug) DO UPDATE SET session_json=excluded.session_json, capabilities_json=excluded.capabilities_json, updated_at=excluded.updated_at`,
		session.Slug, string(sessJSON), string(capsJSON), r.now())
	return err
}

// GetSession returns the stored session and capabilities for a cohort.
func (r Repo) GetSession(ctx context.Context, cohortSlug string) (domain.CohortSession, []string, error) {
	var row sessionRow
	err := r.DB.GetContext(ctx, &row, `SELECT cohort_slug,session_json,capabilities_json,updated_at FROM cohort_sessions WHERE cohort_slug=?`, cohortSlug)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CohortSession{}, nil, ErrNotFound
	}
	if err != nil {
		return domain.CohortSession{}, nil, err
	}
	var session domain.CohortSession
	if err := json.Unmarshal([]byte(row.SessionJSON), &session); err != nil {
		return domain.CohortSession{}, nil, fmt.Errorf("decode session %s: %w", cohortSlug, err)
	}
	var caps []string
	if err := json.Unmarshal([]byte(row.CapabilitiesJSON), &caps); err != nil {
		return domain.CohortSession{}, nil, fmt.Errorf("decode capabilities %s: %w", cohortSlug, err)
	}
	return session, caps, nil
}

// DeleteSession forgets a cohort session. Deleting a missing session is not an
// error.
func (r Repo) DeleteSession(ctx context.Context, cohortSlug string) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM cohort_sessions WHERE cohort_slug=?`, cohortSlug)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if err := r.Events.Append(ctx, tx, events.SessionCleared, cohortSlug, "", nil); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListSessions returns the slugs of all stored cohort sessions.
func (r Repo) ListSessions(ctx context.Context) ([]string, error) {
	slugs := []string{}
	err := r.DB.SelectContext(ctx, &slugs, `SELECT cohort_slug FROM cohort_sessions ORDER BY cohort_slug`)
	return slugs, err
}

type snapshotRow struct {
	ID          string `db:"id"`
	CohortSlug  string `db:"cohort_slug"`
	RecordsJSON string `db:"records_json"`
	CreatedAt   string `db:"created_at"`
}

// SaveSnapshot publishes a new assignment sequence for a cohort. The newest
// snapshot replaces earlier ones for readers; older ones are pruned.
func (r Repo) SaveSnapshot(ctx context.Context, cohortSlug, runID string, records []domain.AssignmentRecord) (domain.Snapshot, error) {
	if records == nil {
		records = []domain.AssignmentRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	snap := domain.Snapshot{
		ID:         uuid.NewString(),
		CohortSlug: cohortSlug,
		CreatedAt:  r.now(),
		Records:    records,
	}
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO snapshots(id,cohort_slug,records_json,created_at) VALUES (?,?,?,?)`,
		snap.ID, snap.CohortSlug, string(data), snap.CreatedAt); err != nil {
		return domain.Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE cohort_slug=? AND id NOT IN (
		SELECT id FROM snapshots WHERE cohort_slug=? ORDER BY created_at DESC, rowid DESC LIMIT ?)`,
		cohortSlug, cohortSlug, snapshotsKept); err != nil {
		return domain.Snapshot{}, fmt.Errorf("prune snapshots: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.SyncPublished, cohortSlug, runID, events.EventPayload{
		"snapshot_id": snap.ID,
		"records":     len(records),
	}); err != nil {
		return domain.Snapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// LatestSnapshot returns the most recently published snapshot of a cohort.
func (r Repo) LatestSnapshot(ctx context.Context, cohortSlug string) (domain.Snapshot, error) {
	var row snapshotRow
	err := r.DB.GetContext(ctx, &row, `SELECT id,cohort_slug,records_json,created_at FROM snapshots
		WHERE cohort_slug=? ORDER BY created_at DESC, rowid DESC LIMIT 1`, cohortSlug)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap := domain.Snapshot{ID: row.ID, CohortSlug: row.CohortSlug, CreatedAt: row.CreatedAt}
	if err := json.Unmarshal([]byte(row.RecordsJSON), &snap.Records); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", row.ID, err)
	}
	return snap, nil
}

// ReplaceUnsynced stores the latest unsynced-task detection for a cohort.
func (r Repo) ReplaceUnsynced(ctx context.Context, cohortSlug string, tasks []domain.Task) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM unsynced_tasks WHERE cohort_slug=?`, cohortSlug); err != nil {
		return err
	}
	now := r.now()
	for i, t := range tasks {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal task %d: %w", t.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO unsynced_tasks(cohort_slug,task_id,position,task_json,detected_at) VALUES (?,?,?,?,?)`,
			cohortSlug, t.ID, i, string(data), now); err != nil {
			return fmt.Errorf("insert unsynced task: %w", err)
		}
	}
	if err := r.Events.Append(ctx, tx, events.UnsyncedDetected, cohortSlug, "", events.EventPayload{"count": len(tasks)}); err != nil {
		return err
	}
	return tx.Commit()
}

// ListUnsynced returns the stored unsynced tasks of a cohort in detection order.
func (r Repo) ListUnsynced(ctx context.Context, cohortSlug string) ([]domain.Task, error) {
	var rows []string
	if err := r.DB.SelectContext(ctx, &rows, `SELECT task_json FROM unsynced_tasks WHERE cohort_slug=? ORDER BY position`, cohortSlug); err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(rows))
	for _, raw := range rows {
		var t domain.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("decode unsynced task: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// AppendEvent records a sync event outside any transaction.
func (r Repo) AppendEvent(ctx context.Context, evtType, cohortSlug, runID string, payload events.EventPayload) error {
	return r.Events.Append(ctx, r.DB, evtType, cohortSlug, runID, payload)
}

type eventRow struct {
	ID         int64          `db:"id"`
	TS         string         `db:"ts"`
	Type       string         `db:"type"`
	CohortSlug sql.NullString `db:"cohort_slug"`
	RunID      sql.NullString `db:"run_id"`
	Payload    string         `db:"payload_json"`
}

// EventsAfter lists events with id greater than after, oldest first. An empty
// cohortSlug lists events of every cohort.
func (r Repo) EventsAfter(ctx context.Context, cohortSlug string, after int64, limit int) ([]domain.SyncEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []eventRow
	var err error
	if cohortSlug == "" {
		err = r.DB.SelectContext(ctx, &rows, `SELECT id,ts,type,cohort_slug,run_id,payload_json FROM sync_events WHERE id>? ORDER BY id LIMIT ?`, after, limit)
	} else {
		err = r.DB.SelectContext(ctx, &rows, `SELECT id,ts,type,cohort_slug,run_id,payload_json FROM sync_events WHERE cohort_slug=? AND id>? ORDER BY id LIMIT ?`, cohortSlug, after, limit)
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.SyncEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.SyncEvent{
			ID:         row.ID,
			TS:         row.TS,
			Type:       row.Type,
			CohortSlug: row.CohortSlug.String,
			RunID:      row.RunID.String,
			Payload:    row.Payload,
		})
	}
	return out, nil
}

// LatestEventID returns the highest event id, or 0 when there are none.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.GetContext(ctx, &id, `SELECT MAX(id) FROM sync_events`); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
