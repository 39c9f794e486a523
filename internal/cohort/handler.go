// Package cohort resolves the student's cohort and keeps its assignment board
// in sync with the upstream task store and syllabus.
package cohort

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cohortdash/internal/assignments"
	"cohortdash/internal/breathecode"
	"cohortdash/internal/domain"
	"cohortdash/internal/events"
	"cohortdash/internal/notify"
)

const (
	DefaultFallbackRoute = "/choose-program"
	NotFoundRoute        = "/404"
	DefaultCleanupDelay  = 4 * time.Second

	notificationDuration = 7000
)

// ErrInvalidCohort is reported when the cohort slug is not among the user's
// cohorts.
var ErrInvalidCohort = errors.New("invalid cohort slug")

// Store persists what a sync produces.
type Store interface {
	SaveSession(ctx context.Context, session domain.CohortSession, capabilities []string) error
	DeleteSession(ctx context.Context, cohortSlug string) error
	SaveSnapshot(ctx context.Context, cohortSlug, runID string, records []domain.AssignmentRecord) (domain.Snapshot, error)
	ReplaceUnsynced(ctx context.Context, cohortSlug string, tasks []domain.Task) error
	AppendEvent(ctx context.Context, evtType, cohortSlug, runID string, payload events.EventPayload) error
}

type Options struct {
	TaskLimit      int
	NoInstructions string
	FallbackRoute  string
	CleanupDelay   time.Duration
	// Domain and Lang root public page redirects.
	Domain string
	Lang   string
}

// Route is the dashboard location a sync was requested for.
type Route struct {
	CohortSlug string
	AssetSlug  string
	AssetKind  domain.ContentKind
	Path       string
}

// Outcome is how a sync ends for the caller. A zero Outcome means the board
// was refreshed or left as is without anything to show.
type Outcome struct {
	Redirect     string
	Notification *domain.Notification
	Err          error
}

func (o Outcome) Failed() bool { return o.Err != nil }

type Handler struct {
	Upstream Upstream
	Store    Store
	Notifier notify.Notifier
	Logger   *zap.Logger
	Options  Options
	// After schedules f once d has elapsed. Defaults to time.AfterFunc.
	After func(d time.Duration, f func())

	mu       sync.Mutex
	cleanups map[string]*cleanup
}

// cleanup is a pending session removal for an invalid cohort.
type cleanup struct {
	timer *time.Timer
}

func (c *cleanup) stop() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// scheduleCleanup deletes the stored session of cohortSlug after d unless a
// later sync saves it again or the handler is closed first.
func (h *Handler) scheduleCleanup(cohortSlug string, d time.Duration) {
	c := &cleanup{}
	run := func() {
		h.mu.Lock()
		current := h.cleanups[cohortSlug] == c
		if current {
			delete(h.cleanups, cohortSlug)
		}
		h.mu.Unlock()
		if !current {
			return
		}
		if err := h.Store.DeleteSession(context.Background(), cohortSlug); err != nil {
			h.logger().Error("clear session", zap.String("cohort", cohortSlug), zap.Error(err))
		}
	}

	h.mu.Lock()
	if h.cleanups == nil {
		h.cleanups = map[string]*cleanup{}
	}
	if old := h.cleanups[cohortSlug]; old != nil {
		old.stop()
	}
	h.cleanups[cohortSlug] = c
	if h.After == nil {
		c.timer = time.AfterFunc(d, run)
	}
	h.mu.Unlock()

	// After may run f inline, so it is called without holding mu.
	if h.After != nil {
		h.After(d, run)
	}
}

func (h *Handler) cancelCleanup(cohortSlug string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c := h.cleanups[cohortSlug]; c != nil {
		c.stop()
		delete(h.cleanups, cohortSlug)
	}
}

// Close cancels every pending session cleanup. Call it before closing the
// store.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for slug, c := range h.cleanups {
		c.stop()
		delete(h.cleanups, slug)
	}
}

// Sync resolves the route's cohort, fetches tasks, syllabus and role together
// and publishes a new board. prev is the session from the previous cycle; its
// board survives any failure.
func (h *Handler) Sync(ctx context.Context, route Route, prev Session) (Session, Outcome) {
	runID := uuid.NewString()
	log := h.logger().With(zap.String("cohort", route.CohortSlug), zap.String("run_id", runID))
	h.event(ctx, events.SyncStarted, route.CohortSlug, runID, nil)

	cs, profile, err := h.ResolveCohort(ctx, route.CohortSlug)
	if err != nil {
		log.Warn("cohort not resolved", zap.Error(err))
		return h.invalidCohort(ctx, route, runID, prev)
	}

	next := Session{Cohort: cs}
	if prev.Cohort.Slug == next.Cohort.Slug {
		next.Board = prev.Board
		next.Capabilities = prev.Capabilities
		next.UnsyncedTasks = prev.UnsyncedTasks
	}
	if err := h.Store.SaveSession(ctx, next.Cohort, next.Capabilities); err != nil {
		log.Error("save session", zap.Error(err))
	} else {
		h.cancelCleanup(next.Cohort.Slug)
	}

	academyRole, ok := profile.RoleFor(next.Cohort.Academy.ID)
	if !ok {
		log.Info("no role in cohort academy", zap.Int("academy", next.Cohort.Academy.ID))
		h.event(ctx, events.SyncSkipped, route.CohortSlug, runID, events.EventPayload{"reason": "no academy role"})
		return next, Outcome{}
	}

	fetched, err := FetchAll(ctx, h.Upstream, FetchRequest{
		CohortID:        next.Cohort.ID,
		TaskLimit:       h.Options.TaskLimit,
		AcademyID:       next.Cohort.Academy.ID,
		SyllabusSlug:    next.Cohort.SyllabusVersion.Slug,
		SyllabusVersion: next.Cohort.SyllabusVersion.Version,
		Role:            academyRole.Role,
	})
	if err != nil {
		log.Error("fetch failed", zap.Error(err))
		n := domain.Notification{
			Title:       fmt.Sprintf("Error fetching role %s", academyRole.Role),
			Description: err.Error(),
			Status:      "error",
			Position:    "top",
			DurationMS:  notificationDuration,
			IsClosable:  true,
		}
		h.notify(ctx, route.CohortSlug, runID, n)
		h.event(ctx, events.SyncFailed, route.CohortSlug, runID, events.EventPayload{"error": err.Error()})
		return next, Outcome{Redirect: h.fallbackRoute(), Notification: &n, Err: err}
	}

	next.Capabilities = fetched.Role.Capabilities
	if next.Capabilities == nil {
		next.Capabilities = []string{}
	}
	if err := h.Store.SaveSession(ctx, next.Cohort, next.Capabilities); err != nil {
		log.Error("save session", zap.Error(err))
	}

	if !fetched.Program.Loaded() {
		log.Info("syllabus has no content")
		h.event(ctx, events.SyncSkipped, route.CohortSlug, runID, events.EventPayload{"reason": "empty syllabus"})
		return next, Outcome{}
	}
	next.Board = assignments.Prepare(next.Board, fetched.Program, fetched.Tasks, assignments.Options{NoInstructions: h.Options.NoInstructions})
	snap, err := h.Store.SaveSnapshot(ctx, route.CohortSlug, runID, next.Board.Records())
	if err != nil {
		log.Error("save snapshot", zap.Error(err))
		return next, Outcome{Err: err}
	}
	log.Info("board published", zap.String("snapshot", snap.ID), zap.Int("records", len(snap.Records)))
	return next, Outcome{}
}

// ResolveCohort looks the cohort up among the caller's memberships and builds
// its session. Any failure wraps ErrInvalidCohort.
func (h *Handler) ResolveCohort(ctx context.Context, cohortSlug string) (domain.CohortSession, domain.Profile, error) {
	profile, err := h.Upstream.Me(ctx)
	if err != nil {
		return domain.CohortSession{}, domain.Profile{}, fmt.Errorf("%w: %w", ErrInvalidCohort, err)
	}
	membership, ok := FindMembership(profile, cohortSlug)
	if !ok {
		return domain.CohortSession{}, profile, fmt.Errorf("%w: %s", ErrInvalidCohort, cohortSlug)
	}
	return NewCohortSession(membership), profile, nil
}

// invalidCohort redirects to the public page of the route's asset when there
// is one. Otherwise it raises the invalid-cohort notification and clears the
// stored session after the cleanup delay.
func (h *Handler) invalidCohort(ctx context.Context, route Route, runID string, prev Session) (Session, Outcome) {
	log := h.logger().With(zap.String("cohort", route.CohortSlug), zap.String("run_id", runID))
	if route.AssetSlug != "" {
		redirect := NotFoundRoute
		asset, err := h.Upstream.Asset(ctx, route.AssetSlug)
		if err != nil {
			log.Warn("asset lookup failed", zap.String("asset", route.AssetSlug), zap.Error(err))
		} else if url, ok := PublicPageURL(h.Options.Domain, h.Options.Lang, asset, route.AssetSlug, route.AssetKind); ok {
			redirect = url
		}
		h.event(ctx, events.CohortInvalid, route.CohortSlug, runID, events.EventPayload{"redirect": redirect})
		return prev, Outcome{Redirect: redirect, Err: ErrInvalidCohort}
	}

	n := domain.Notification{
		Title:      "Invalid cohort slug",
		Status:     "error",
		Position:   "top",
		DurationMS: notificationDuration,
		IsClosable: true,
	}
	h.notify(ctx, route.CohortSlug, runID, n)
	h.event(ctx, events.CohortInvalid, route.CohortSlug, runID, nil)

	delay := h.Options.CleanupDelay
	if delay <= 0 {
		delay = DefaultCleanupDelay
	}
	h.scheduleCleanup(route.CohortSlug, delay)
	return Session{}, Outcome{Notification: &n, Err: ErrInvalidCohort}
}

// UnsyncedTasks flags tasks recorded outside any cohort whose slug belongs to
// the session's board. It only runs on the cohort's own program page.
func (h *Handler) UnsyncedTasks(ctx context.Context, s Session, currentPath string) (Session, error) {
	if currentPath != s.Cohort.SelectedProgramSlug || !s.Board.Published() {
		return s, nil
	}
	tasks, err := h.Upstream.TasksByStudent(ctx, breathecode.TaskQuery{Limit: h.Options.TaskLimit})
	if err != nil {
		return s, fmt.Errorf("fetch tasks: %w", err)
	}
	s.UnsyncedTasks = s.Board.ReportUnsynced(tasks, func(found bool, out []domain.Task) {
		if found {
			h.logger().Info("unsynced tasks found", zap.String("cohort", s.Cohort.Slug), zap.Int("count", len(out)))
		}
	})
	if err := h.Store.ReplaceUnsynced(ctx, s.Cohort.Slug, s.UnsyncedTasks); err != nil {
		return s, err
	}
	return s, nil
}

func (h *Handler) fallbackRoute() string {
	if h.Options.FallbackRoute == "" {
		return DefaultFallbackRoute
	}
	return h.Options.FallbackRoute
}

func (h *Handler) notify(ctx context.Context, cohortSlug, runID string, n domain.Notification) {
	if h.Notifier == nil {
		return
	}
	if err := h.Notifier.Notify(ctx, cohortSlug, n); err != nil {
		h.logger().Warn("notify failed", zap.String("cohort", cohortSlug), zap.Error(err))
		return
	}
	h.event(ctx, events.NotificationSent, cohortSlug, runID, events.EventPayload{"title": n.Title, "status": n.Status})
}

func (h *Handler) event(ctx context.Context, evtType, cohortSlug, runID string, payload events.EventPayload) {
	if err := h.Store.AppendEvent(ctx, evtType, cohortSlug, runID, payload); err != nil {
		h.logger().Warn("record event", zap.String("type", evtType), zap.Error(err))
	}
}
