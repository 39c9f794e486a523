package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"cohortdash/internal/assignments"
	"cohortdash/internal/breathecode"
	"cohortdash/internal/cohort"
	"cohortdash/internal/config"
	"cohortdash/internal/db"
	"cohortdash/internal/migrate"
	"cohortdash/internal/notify"
	"cohortdash/internal/repo"
	"cohortdash/internal/sitemap"
)

// App holds everything a command or the API server needs for one workspace.
type App struct {
	Config   *config.Config
	DB       *sqlx.DB
	Repo     repo.Repo
	Client   *breathecode.Client
	Handler  *cohort.Handler
	Notifier notify.Notifier
	Logger   *zap.Logger
}

// Open migrates the workspace database and wires the upstream client, store,
// notifier and cohort handler from cfg.
func Open(workspace string, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	client := breathecode.New(cfg.Upstream.Host, cfg.Upstream.Token)
	client.Academy = cfg.Upstream.Academy
	if t := cfg.UpstreamTimeout(); t > 0 {
		client.Timeout = t
	}

	notifier := notify.Multi{notify.Log{Logger: logger}}
	if len(cfg.Notifications) > 0 {
		notifier = append(notifier, notify.NewWebhook(cfg.Notifications, logger))
	}

	r := repo.New(conn)
	return &App{
		Config:   cfg,
		DB:       conn,
		Repo:     r,
		Client:   client,
		Notifier: notifier,
		Logger:   logger,
		Handler: &cohort.Handler{
			Upstream: client,
			Store:    r,
			Notifier: notifier,
			Logger:   logger.Named("cohort"),
			Options: cohort.Options{
				TaskLimit:      cfg.Dashboard.TaskLimit,
				NoInstructions: cfg.Dashboard.NoInstructions,
				FallbackRoute:  cfg.Dashboard.FallbackRoute,
				CleanupDelay:   cfg.CleanupDelay(),
				Domain:         cfg.Site.Domain,
				Lang:           cfg.Upstream.Language,
			},
		},
	}, nil
}

// Close stops pending session cleanups before closing the database.
func (a *App) Close() error {
	if a.Handler != nil {
		a.Handler.Close()
	}
	return a.DB.Close()
}

// LoadSession rebuilds the stored session of a cohort: the cohort session,
// capabilities, latest published board and last unsynced-task detection. A
// cohort that was never synced yields an empty session.
func LoadSession(ctx context.Context, r repo.Repo, cohortSlug string) (cohort.Session, error) {
	var s cohort.Session
	sess, caps, err := r.GetSession(ctx, cohortSlug)
	switch {
	case err == nil:
		s.Cohort, s.Capabilities = sess, caps
	case errors.Is(err, repo.ErrNotFound):
	default:
		return cohort.Session{}, err
	}
	snap, err := r.LatestSnapshot(ctx, cohortSlug)
	switch {
	case err == nil:
		s.Board = assignments.NewBoard(snap.Records)
	case errors.Is(err, repo.ErrNotFound):
	default:
		return cohort.Session{}, err
	}
	unsynced, err := r.ListUnsynced(ctx, cohortSlug)
	if err != nil {
		return cohort.Session{}, err
	}
	s.UnsyncedTasks = unsynced
	return s, nil
}

// SitemapOptions maps the site section onto sitemap options.
func SitemapOptions(cfg *config.Config) sitemap.Options {
	return sitemap.Options{
		WebsiteURL:      cfg.Site.WebsiteURL,
		Syllabus:        cfg.Site.Syllabus,
		StaticPages:     cfg.Site.StaticPages,
		PrivatePrefixes: cfg.Site.PrivatePrefixes,
	}
}
